package bus

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/seangreaves-90/hydrogarden/eventstore"
	"github.com/seangreaves-90/hydrogarden/models"
	"github.com/seangreaves-90/hydrogarden/telemetry/health"
	"github.com/seangreaves-90/hydrogarden/telemetry/logging"
	"github.com/seangreaves-90/hydrogarden/telemetry/metrics"
	"github.com/seangreaves-90/hydrogarden/topology"
	"github.com/seangreaves-90/hydrogarden/store"
)

func newTestBus(t *testing.T) *Bus {
	t.Helper()
	es, err := eventstore.Open(filepath.Join(t.TempDir(), "events.jsonl"))
	require.NoError(t, err)
	b := New(Config{}, es, logging.New(nil), metrics.NewNoopProvider())
	t.Cleanup(b.Close)
	return b
}

func TestSubscribeUnsubscribe(t *testing.T) {
	b := newTestBus(t)
	id := b.Subscribe(func(ctx context.Context, ev models.Event) error { return nil }, models.SubscriptionOptions{})
	assert.True(t, b.Unsubscribe(id))
	assert.False(t, b.Unsubscribe(id), "unsubscribing twice must report the subscription no longer exists")
}

func TestPublishSynchronousHandlerCountsSuccess(t *testing.T) {
	b := newTestBus(t)
	var got models.Event
	b.Subscribe(func(ctx context.Context, ev models.Event) error {
		got = ev
		return nil
	}, models.SubscriptionOptions{Synchronous: true})

	source := models.NewComponentID()
	ev := models.NewEvent(source, source, models.KindTelemetry)
	result, err := b.Publish(context.Background(), source, ev)

	require.NoError(t, err)
	assert.Equal(t, 1, result.HandlerCount)
	assert.Equal(t, 1, result.SuccessCount)
	assert.Empty(t, result.Errors)
	assert.Equal(t, ev.EventID, got.EventID, "the dispatched event must keep the original event id")
}

func TestPublishAsyncHandlerDispatchedThroughWorkerPool(t *testing.T) {
	b := newTestBus(t)
	done := make(chan struct{})
	b.Subscribe(func(ctx context.Context, ev models.Event) error {
		close(done)
		return nil
	}, models.SubscriptionOptions{Synchronous: false})

	source := models.NewComponentID()
	ev := models.NewEvent(source, source, models.KindTelemetry)
	result, err := b.Publish(context.Background(), source, ev)
	require.NoError(t, err)
	assert.Equal(t, 1, result.HandlerCount)

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("async handler was never invoked by the worker pool")
	}
}

func TestPublishFiltersByKind(t *testing.T) {
	b := newTestBus(t)
	var invoked bool
	b.Subscribe(func(ctx context.Context, ev models.Event) error {
		invoked = true
		return nil
	}, models.SubscriptionOptions{
		EventKinds:  map[models.EventKind]struct{}{models.KindAlert: {}},
		Synchronous: true,
	})

	source := models.NewComponentID()
	ev := models.NewEvent(source, source, models.KindTelemetry)
	result, err := b.Publish(context.Background(), source, ev)

	require.NoError(t, err)
	assert.Equal(t, 0, result.HandlerCount)
	assert.False(t, invoked, "a subscription scoped to Alert must not receive a Telemetry event")
}

func TestPublishFiltersByDirectSource(t *testing.T) {
	b := newTestBus(t)
	wanted := models.NewComponentID()
	other := models.NewComponentID()
	var invoked bool
	b.Subscribe(func(ctx context.Context, ev models.Event) error {
		invoked = true
		return nil
	}, models.SubscriptionOptions{
		SourceIDs:   map[models.ComponentID]struct{}{wanted: {}},
		Synchronous: true,
	})

	ev := models.NewEvent(other, other, models.KindTelemetry)
	result, err := b.Publish(context.Background(), other, ev)

	require.NoError(t, err)
	assert.Equal(t, 0, result.HandlerCount)
	assert.False(t, invoked)
}

func TestPublishFanOutToConnectedSourceViaTopology(t *testing.T) {
	es, err := eventstore.Open(filepath.Join(t.TempDir(), "events.jsonl"))
	require.NoError(t, err)
	b := New(Config{}, es, logging.New(nil), metrics.NewNoopProvider())
	t.Cleanup(b.Close)

	st, err := store.Open(filepath.Join(t.TempDir(), "store.json"))
	require.NoError(t, err)
	topo := topology.New(st, logging.New(nil))
	require.NoError(t, topo.Initialize(context.Background()))
	b.SetTopologyService(topo)

	sensor := models.NewComponentID()
	dosingPump := models.NewComponentID()
	_, err = topo.Create(context.Background(), models.Connection{SourceID: sensor, TargetID: dosingPump, Enabled: true})
	require.NoError(t, err)

	var invoked bool
	b.Subscribe(func(ctx context.Context, ev models.Event) error {
		invoked = true
		return nil
	}, models.SubscriptionOptions{
		SourceIDs:               map[models.ComponentID]struct{}{dosingPump: {}},
		IncludeConnectedSources: true,
		Synchronous:             true,
	})

	ev := models.NewEvent(sensor, sensor, models.KindTelemetry)
	result, err := b.Publish(context.Background(), sensor, ev)

	require.NoError(t, err)
	assert.Equal(t, 1, result.HandlerCount)
	assert.True(t, invoked, "a subscription with IncludeConnectedSources must receive events from a topology-connected source")
}

func TestPublishAppliesFilterPredicate(t *testing.T) {
	b := newTestBus(t)
	b.Subscribe(func(ctx context.Context, ev models.Event) error { return nil }, models.SubscriptionOptions{
		Synchronous: true,
		Filter: func(ev models.Event) bool {
			return ev.Telemetry != nil && ev.Telemetry.Readings["PH"] < 7
		},
	})

	source := models.NewComponentID()
	acidic := models.NewEvent(source, source, models.KindTelemetry)
	acidic.Telemetry = &models.TelemetryPayload{Readings: map[string]float64{"PH": 6.0}}
	result, err := b.Publish(context.Background(), source, acidic)
	require.NoError(t, err)
	assert.Equal(t, 1, result.HandlerCount)

	alkaline := models.NewEvent(source, source, models.KindTelemetry)
	alkaline.Telemetry = &models.TelemetryPayload{Readings: map[string]float64{"PH": 8.0}}
	result, err = b.Publish(context.Background(), source, alkaline)
	require.NoError(t, err)
	assert.Equal(t, 0, result.HandlerCount, "Filter must reject the event once the predicate returns false")
}

func TestPublishPersistsWhenRoutingRequestsIt(t *testing.T) {
	es, err := eventstore.Open(filepath.Join(t.TempDir(), "events.jsonl"))
	require.NoError(t, err)
	b := New(Config{}, es, logging.New(nil), metrics.NewNoopProvider())
	t.Cleanup(b.Close)

	source := models.NewComponentID()
	ev := models.NewEvent(source, source, models.KindAlert)
	ev.Routing.Persist = true

	_, err = b.Publish(context.Background(), source, ev)
	require.NoError(t, err)
	assert.Equal(t, 1, es.Len(), "an event routed with Persist must be durably stored")
}

func TestPublishPersistsForRetryWhenHandlerFails(t *testing.T) {
	es, err := eventstore.Open(filepath.Join(t.TempDir(), "events.jsonl"))
	require.NoError(t, err)
	b := New(Config{}, es, logging.New(nil), metrics.NewNoopProvider())
	t.Cleanup(b.Close)

	boom := errors.New("handler failed")
	b.Subscribe(func(ctx context.Context, ev models.Event) error { return boom }, models.SubscriptionOptions{Synchronous: true})

	source := models.NewComponentID()
	ev := models.NewEvent(source, source, models.KindTelemetry)
	result, err := b.Publish(context.Background(), source, ev)

	require.NoError(t, err)
	assert.Equal(t, 1, len(result.Errors))
	assert.Equal(t, 0, result.SuccessCount)
	assert.Equal(t, 1, es.Len(), "a failed dispatch must persist the event for the retry loop")
}

func TestPublishHandlerPanicIsRecovered(t *testing.T) {
	b := newTestBus(t)
	b.Subscribe(func(ctx context.Context, ev models.Event) error {
		panic("handler exploded")
	}, models.SubscriptionOptions{Synchronous: true})

	source := models.NewComponentID()
	ev := models.NewEvent(source, source, models.KindTelemetry)

	assert.NotPanics(t, func() {
		_, err := b.Publish(context.Background(), source, ev)
		require.NoError(t, err)
	})
}

func TestPublishRoutingTimeoutMarksTimedOut(t *testing.T) {
	b := newTestBus(t)
	release := make(chan struct{})
	t.Cleanup(func() { close(release) })
	b.Subscribe(func(ctx context.Context, ev models.Event) error {
		<-release
		return nil
	}, models.SubscriptionOptions{Synchronous: false})

	source := models.NewComponentID()
	ev := models.NewEvent(source, source, models.KindTelemetry)
	ev.Routing.Timeout = 10 * time.Millisecond

	result, err := b.Publish(context.Background(), source, ev)
	require.NoError(t, err)
	assert.True(t, result.TimedOut, "Publish must report TimedOut once Routing.Timeout elapses before handlers finish")
}

func TestHealthProbeDegradesWithLargeBacklog(t *testing.T) {
	path := filepath.Join(t.TempDir(), "events.jsonl")
	es, err := eventstore.Open(path)
	require.NoError(t, err)
	b := New(Config{}, es, logging.New(nil), metrics.NewNoopProvider())
	t.Cleanup(b.Close)

	probe := b.HealthProbe()
	assert.Equal(t, health.StatusHealthy, probe.Check(context.Background()).Status)

	for i := 0; i < 101; i++ {
		source := models.NewComponentID()
		require.NoError(t, es.Persist(context.Background(), models.NewEvent(source, source, models.KindAlert)))
	}
	assert.Equal(t, health.StatusDegraded, probe.Check(context.Background()).Status)
}

func TestExponentialBackoffRetryPolicyGrowsAndCaps(t *testing.T) {
	p := ExponentialBackoffRetryPolicy{MaxAttempts: 3, Base: time.Second, Cap: 3 * time.Second}
	ev := models.Event{}

	ok, delay := p.ShouldRetry(ev, 1)
	assert.True(t, ok)
	assert.Equal(t, time.Second, delay)

	ok, delay = p.ShouldRetry(ev, 2)
	assert.True(t, ok)
	assert.Equal(t, 2*time.Second, delay)

	ok, delay = p.ShouldRetry(ev, 3)
	assert.True(t, ok)
	assert.Equal(t, 3*time.Second, delay, "delay must be capped at Cap even though doubling would exceed it")

	ok, _ = p.ShouldRetry(ev, 4)
	assert.False(t, ok, "attempts beyond MaxAttempts must not be retried")
}

func TestWorkerPoolRunsHigherPriorityFirst(t *testing.T) {
	p := newWorkerPool(1)
	defer p.Close()

	var mu sync.Mutex
	var order []int
	var wg sync.WaitGroup

	block := make(chan struct{})
	wg.Add(1)
	p.submit(models.PriorityNormal, func() {
		defer wg.Done()
		<-block
	})

	wg.Add(3)
	p.submit(models.PriorityLow, func() {
		defer wg.Done()
		mu.Lock()
		order = append(order, 1)
		mu.Unlock()
	})
	p.submit(models.PriorityCritical, func() {
		defer wg.Done()
		mu.Lock()
		order = append(order, 3)
		mu.Unlock()
	})
	p.submit(models.PriorityHigh, func() {
		defer wg.Done()
		mu.Lock()
		order = append(order, 2)
		mu.Unlock()
	})

	close(block)
	wg.Wait()

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, order, 3)
	assert.Equal(t, []int{3, 2, 1}, order, "the pool must dispatch strictly by descending priority once work is queued")
}

func TestWorkerPoolFIFOWithinEqualPriority(t *testing.T) {
	p := newWorkerPool(1)
	defer p.Close()

	var mu sync.Mutex
	var order []int
	var wg sync.WaitGroup

	block := make(chan struct{})
	wg.Add(1)
	p.submit(models.PriorityNormal, func() {
		defer wg.Done()
		<-block
	})

	wg.Add(3)
	for i := 1; i <= 3; i++ {
		i := i
		p.submit(models.PriorityNormal, func() {
			defer wg.Done()
			mu.Lock()
			order = append(order, i)
			mu.Unlock()
		})
	}

	close(block)
	wg.Wait()

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []int{1, 2, 3}, order, "tasks submitted at equal priority must run in submission order")
}
