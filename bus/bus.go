// Package bus implements the event bus of §4.G: filtered subscription
// matching, topology-aware fan-out, synchronous and worker-pool-async
// dispatch with priority ordering, and a failed-event retry loop. The
// subscriber map and its guarding RWMutex mirror the teacher's
// telemetry/events.eventBus; the worker pool generalizes the fixed-size
// goroutine fan-out used by engine/internal/pipeline for its extraction and
// processing stages into a priority-aware dispatch queue.
package bus

import (
	"container/heap"
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/seangreaves-90/hydrogarden/eventstore"
	"github.com/seangreaves-90/hydrogarden/models"
	"github.com/seangreaves-90/hydrogarden/telemetry/health"
	"github.com/seangreaves-90/hydrogarden/telemetry/logging"
	"github.com/seangreaves-90/hydrogarden/telemetry/metrics"
	"github.com/seangreaves-90/hydrogarden/topology"

	"github.com/google/uuid"
)

// Handler receives a dispatched event; a returned error is captured into
// PublishResult.Errors and never stops other handlers from running.
type Handler func(ctx context.Context, ev models.Event) error

// Transformer rewrites an event before dispatch. The identity transformer is
// used when none is registered.
type Transformer func(ev models.Event) models.Event

// RetryPolicy decides whether a failed event should be republished.
type RetryPolicy interface {
	ShouldRetry(ev models.Event, attempt int) (bool, time.Duration)
}

// PublishResult reports the outcome of one publish call.
type PublishResult struct {
	EventID      uuid.UUID
	HandlerCount int
	SuccessCount int
	TimedOut     bool
	Errors       []error
}

type subscription struct {
	id      models.SubscriptionID
	handler Handler
	opts    models.SubscriptionOptions
}

// Bus is the publish/subscribe collaborator described by §4.G.
type Bus struct {
	log   logging.Logger
	store *eventstore.Store
	retry RetryPolicy

	mu            sync.RWMutex
	subs          map[models.SubscriptionID]*subscription
	transformer   Transformer
	topologySvc   *topology.Service

	pool *workerPool

	publishedCount metrics.Counter
	errorCount     metrics.Counter

	stopRetryLoop context.CancelFunc
	retryLoopDone chan struct{}
}

// Config configures a Bus at construction.
type Config struct {
	WorkerConcurrency int
	RetryPolicy       RetryPolicy
	FailedEventPoll   time.Duration
}

// New constructs a Bus with a worker pool of WorkerConcurrency goroutines; a
// non-positive WorkerConcurrency defaults to 4.
func New(cfg Config, st *eventstore.Store, log logging.Logger, provider metrics.Provider) *Bus {
	if cfg.WorkerConcurrency <= 0 {
		cfg.WorkerConcurrency = 4
	}
	if provider == nil {
		provider = metrics.NewNoopProvider()
	}
	retry := cfg.RetryPolicy
	if retry == nil {
		retry = ExponentialBackoffRetryPolicy{MaxAttempts: 5, Base: 500 * time.Millisecond, Cap: 30 * time.Second}
	}
	b := &Bus{
		log:         log,
		store:       st,
		retry:       retry,
		subs:        make(map[models.SubscriptionID]*subscription),
		transformer: func(ev models.Event) models.Event { return ev },
		pool:        newWorkerPool(cfg.WorkerConcurrency),
		publishedCount: provider.NewCounter(metrics.CounterOpts{CommonOpts: metrics.CommonOpts{
			Namespace: "hydrogarden", Subsystem: "bus", Name: "published_total", Help: "events published",
		}}),
		errorCount: provider.NewCounter(metrics.CounterOpts{CommonOpts: metrics.CommonOpts{
			Namespace: "hydrogarden", Subsystem: "bus", Name: "handler_errors_total", Help: "handler errors captured during dispatch",
		}}),
	}
	poll := cfg.FailedEventPoll
	if poll <= 0 {
		poll = 2 * time.Second
	}
	ctx, cancel := context.WithCancel(context.Background())
	b.stopRetryLoop = cancel
	b.retryLoopDone = make(chan struct{})
	go b.processFailedEvents(ctx, poll)
	return b
}

// SetTransformer installs the event transformer run before dispatch.
func (b *Bus) SetTransformer(t Transformer) {
	if t == nil {
		return
	}
	b.mu.Lock()
	b.transformer = t
	b.mu.Unlock()
}

// SetTopologyService installs the collaborator used for connected-source
// fan-out (subscription matching rule (d)).
func (b *Bus) SetTopologyService(ts *topology.Service) {
	b.mu.Lock()
	b.topologySvc = ts
	b.mu.Unlock()
}

// Subscribe registers handler under opts and returns its subscription id.
func (b *Bus) Subscribe(handler Handler, opts models.SubscriptionOptions) models.SubscriptionID {
	id := uuid.New()
	b.mu.Lock()
	b.subs[id] = &subscription{id: id, handler: handler, opts: opts}
	b.mu.Unlock()
	return id
}

// Unsubscribe removes a subscription, reporting whether it existed.
func (b *Bus) Unsubscribe(id models.SubscriptionID) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.subs[id]; !ok {
		return false
	}
	delete(b.subs, id)
	return true
}

// Close stops the background failed-event retry loop and the worker pool.
func (b *Bus) Close() {
	b.stopRetryLoop()
	<-b.retryLoopDone
	b.pool.Close()
}

// HealthProbe reports degraded when the event store has a growing backlog
// of events still awaiting retry.
func (b *Bus) HealthProbe() health.Probe {
	return health.ProbeFunc(func(ctx context.Context) health.ProbeResult {
		if b.store == nil {
			return health.Healthy("bus")
		}
		if n := b.store.Len(); n > 100 {
			return health.Degraded("bus", "failed-event backlog exceeds 100 events")
		}
		return health.Healthy("bus")
	})
}

// Publish runs the §4.G publish algorithm: transform, persist-if-requested,
// select subscribers, dispatch (sync inline / async via worker pool), then
// collect results honoring routing.timeout.
func (b *Bus) Publish(ctx context.Context, sender models.ComponentID, ev models.Event) (PublishResult, error) {
	b.mu.RLock()
	transform := b.transformer
	b.mu.RUnlock()

	originalID := ev.EventID
	transformed := transform(ev.Clone())
	transformed.EventID = originalID

	if transformed.Routing.Persist && b.store != nil {
		if err := b.store.Persist(ctx, transformed); err != nil && b.log != nil {
			b.log.WarnCtx(ctx, "bus: failed to persist event", "event", transformed.EventID, "error", err)
		}
	}

	recipients := b.selectSubscribers(ctx, transformed)

	result := PublishResult{EventID: originalID, HandlerCount: len(recipients)}
	if len(recipients) == 0 {
		if b.publishedCount != nil {
			b.publishedCount.Inc(1)
		}
		return result, nil
	}

	var mu sync.Mutex
	var wg sync.WaitGroup
	done := make(chan struct{})

	dispatch := func(sub *subscription) {
		defer wg.Done()
		err := b.invoke(ctx, sub, transformed)
		mu.Lock()
		if err != nil {
			result.Errors = append(result.Errors, err)
			if b.errorCount != nil {
				b.errorCount.Inc(1)
			}
		} else {
			result.SuccessCount++
		}
		mu.Unlock()
	}

	for _, sub := range recipients {
		if sub.opts.Synchronous {
			wg.Add(1)
			dispatch(sub)
			continue
		}
		wg.Add(1)
		priority := transformed.Routing.Priority
		b.pool.submit(priority, func() { dispatch(sub) })
	}

	go func() { wg.Wait(); close(done) }()

	if transformed.Routing.Timeout > 0 {
		select {
		case <-done:
		case <-time.After(transformed.Routing.Timeout):
			result.TimedOut = true
		case <-ctx.Done():
			result.TimedOut = true
		}
	} else {
		select {
		case <-done:
		case <-ctx.Done():
		}
	}

	if b.publishedCount != nil {
		b.publishedCount.Inc(1)
	}

	if len(result.Errors) > 0 && b.store != nil {
		if err := b.store.Persist(ctx, transformed); err != nil && b.log != nil {
			b.log.WarnCtx(ctx, "bus: failed to persist event for retry", "event", transformed.EventID, "error", err)
		}
	}

	return result, nil
}

func (b *Bus) invoke(ctx context.Context, sub *subscription, ev models.Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("bus: handler panic: %v", r)
			if b.log != nil {
				b.log.Log("bus: handler panic recovered")
			}
		}
	}()
	return sub.handler(ctx, ev)
}

func (b *Bus) selectSubscribers(ctx context.Context, ev models.Event) []*subscription {
	b.mu.RLock()
	candidates := make([]*subscription, 0, len(b.subs))
	for _, s := range b.subs {
		candidates = append(candidates, s)
	}
	topologySvc := b.topologySvc
	b.mu.RUnlock()

	out := make([]*subscription, 0, len(candidates))
	for _, s := range candidates {
		if !s.opts.MatchesKind(ev.Kind) {
			continue
		}
		keep := s.opts.MatchesDirectSource(ev)
		if !keep && s.opts.IncludeConnectedSources && topologySvc != nil {
			for _, conn := range topologySvc.GetForSource(ctx, ev.SourceID) {
				if _, ok := s.opts.SourceIDs[conn.TargetID]; ok {
					keep = true
					break
				}
			}
		}
		if !keep {
			continue
		}
		if s.opts.Filter != nil && !s.opts.Filter(ev) {
			continue
		}
		out = append(out, s)
	}
	return out
}

// processFailedEvents periodically retrieves a failed event from the store
// and republishes it if the retry policy approves.
func (b *Bus) processFailedEvents(ctx context.Context, interval time.Duration) {
	defer close(b.retryLoopDone)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	attempts := make(map[uuid.UUID]int)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			ev, ok, err := b.store.RetrieveFailed(ctx)
			if err != nil || !ok {
				continue
			}
			attempt := attempts[ev.EventID] + 1
			shouldRetry, delay := b.retry.ShouldRetry(ev, attempt)
			if !shouldRetry {
				delete(attempts, ev.EventID)
				continue
			}
			attempts[ev.EventID] = attempt
			if delay > 0 {
				select {
				case <-time.After(delay):
				case <-ctx.Done():
					return
				}
			}
			if _, err := b.Publish(ctx, ev.SourceID, ev); err != nil && b.log != nil {
				b.log.WarnCtx(ctx, "bus: retry publish failed", "event", ev.EventID, "error", err)
			}
		}
	}
}

// ExponentialBackoffRetryPolicy retries up to MaxAttempts times with delay
// doubling from Base and capped at Cap.
type ExponentialBackoffRetryPolicy struct {
	MaxAttempts int
	Base        time.Duration
	Cap         time.Duration
}

func (p ExponentialBackoffRetryPolicy) ShouldRetry(_ models.Event, attempt int) (bool, time.Duration) {
	if attempt > p.MaxAttempts {
		return false, 0
	}
	delay := p.Base << uint(attempt-1)
	if p.Cap > 0 && delay > p.Cap {
		delay = p.Cap
	}
	return true, delay
}

// workerPool dispatches submitted work by priority, with equal priorities
// served FIFO, fanning out across a fixed number of goroutines the way the
// teacher's pipeline stages each run a fixed worker count over a channel.
type workerPool struct {
	mu      sync.Mutex
	cond    *sync.Cond
	queue   priorityQueue
	closed  bool
	wg      sync.WaitGroup
	nextSeq uint64
}

type queuedTask struct {
	priority models.Priority
	seq      uint64
	fn       func()
}

type priorityQueue []queuedTask

func (q priorityQueue) Len() int { return len(q) }
func (q priorityQueue) Less(i, j int) bool {
	if q[i].priority != q[j].priority {
		return q[i].priority > q[j].priority
	}
	return q[i].seq < q[j].seq
}
func (q priorityQueue) Swap(i, j int)      { q[i], q[j] = q[j], q[i] }
func (q *priorityQueue) Push(x any)        { *q = append(*q, x.(queuedTask)) }
func (q *priorityQueue) Pop() any {
	old := *q
	n := len(old)
	item := old[n-1]
	*q = old[:n-1]
	return item
}

func newWorkerPool(concurrency int) *workerPool {
	p := &workerPool{}
	p.cond = sync.NewCond(&p.mu)
	for i := 0; i < concurrency; i++ {
		p.wg.Add(1)
		go p.worker()
	}
	return p
}

func (p *workerPool) submit(priority models.Priority, fn func()) {
	p.mu.Lock()
	p.nextSeq++
	heap.Push(&p.queue, queuedTask{priority: priority, seq: p.nextSeq, fn: fn})
	p.cond.Signal()
	p.mu.Unlock()
}

func (p *workerPool) worker() {
	defer p.wg.Done()
	for {
		p.mu.Lock()
		for p.queue.Len() == 0 && !p.closed {
			p.cond.Wait()
		}
		if p.queue.Len() == 0 && p.closed {
			p.mu.Unlock()
			return
		}
		task := heap.Pop(&p.queue).(queuedTask)
		p.mu.Unlock()
		task.fn()
	}
}

func (p *workerPool) Close() {
	p.mu.Lock()
	p.closed = true
	p.cond.Broadcast()
	p.mu.Unlock()
	p.wg.Wait()
}
