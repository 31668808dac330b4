// Package persistence implements the §4.H persistence service: an internal
// PropertyChanged subscriber that batches per-device writes and flushes them
// transactionally, preserving metadata for properties untouched by a given
// batch. The per-device buffer plus single flush semaphore follows the same
// serialize-the-slow-path discipline as the teacher's resources.Manager
// checkpoint loop, adapted from an append-only log to a merge-on-flush
// property store.
package persistence

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/seangreaves-90/hydrogarden/bus"
	"github.com/seangreaves-90/hydrogarden/component"
	"github.com/seangreaves-90/hydrogarden/errormonitor"
	"github.com/seangreaves-90/hydrogarden/models"
	"github.com/seangreaves-90/hydrogarden/store"
	"github.com/seangreaves-90/hydrogarden/telemetry/logging"
)

// DefaultBatchInterval is the default flush cadence.
const DefaultBatchInterval = 1 * time.Second

// Device is the subset of the §6 device contract addOrUpdate needs: a
// stable identity, its property bag, and first-time initialization.
type Device interface {
	ID() models.ComponentID
	PropertyBag() *component.Bag
	Initialize(ctx context.Context) error
}

type pendingBuffer struct {
	mu       sync.Mutex
	props    map[string]any
	metadata map[string]models.PropertyMetadata
}

func newPendingBuffer() *pendingBuffer {
	return &pendingBuffer{props: make(map[string]any), metadata: make(map[string]models.PropertyMetadata)}
}

// Service is the persistence collaborator described in §4.H.
type Service struct {
	st      *store.Store
	bus     *bus.Bus
	monitor *errormonitor.Monitor
	log     logging.Logger

	batchInterval time.Duration
	flushSem      chan struct{}

	mu      sync.Mutex
	devices map[models.ComponentID]Device
	pending map[string]*pendingBuffer
	subID   models.SubscriptionID

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// Config configures a Service at construction.
type Config struct {
	BatchInterval time.Duration
}

// New constructs a Service subscribed to every PropertyChanged event on b,
// batching writes to st.
func New(cfg Config, st *store.Store, b *bus.Bus, monitor *errormonitor.Monitor, log logging.Logger) *Service {
	interval := cfg.BatchInterval
	if interval <= 0 {
		interval = DefaultBatchInterval
	}
	s := &Service{
		st:            st,
		bus:           b,
		monitor:       monitor,
		log:           log,
		batchInterval: interval,
		flushSem:      make(chan struct{}, 1),
		devices:       make(map[models.ComponentID]Device),
		pending:       make(map[string]*pendingBuffer),
		stopCh:        make(chan struct{}),
	}
	s.flushSem <- struct{}{}
	s.subID = b.Subscribe(s.onPropertyChanged, models.SubscriptionOptions{
		EventKinds: map[models.EventKind]struct{}{models.KindPropertyChanged: {}},
	})
	s.wg.Add(1)
	go s.flushLoop()
	return s
}

// AddOrUpdate implements step 1-4 of §4.H: load prior state, initialize a
// first-time component or load its prior properties, then bind this service
// as its change handler.
func (s *Service) AddOrUpdate(ctx context.Context, dev Device) error {
	id := dev.ID().String()
	props, existed, err := s.st.Load(ctx, id)
	if err != nil {
		return err
	}
	metadata, _, err := s.st.LoadMetadata(ctx, id)
	if err != nil {
		return err
	}

	if !existed {
		if err := dev.Initialize(ctx); err != nil {
			return err
		}
		baseline := dev.PropertyBag().GetAllProperties()
		baseMeta := dev.PropertyBag().GetAllMetadata()
		if err := s.st.SaveWithMetadata(ctx, id, baseline, baseMeta); err != nil {
			return err
		}
	} else {
		dev.PropertyBag().LoadProperties(props, metadata)
	}

	s.mu.Lock()
	s.devices[dev.ID()] = dev
	s.mu.Unlock()

	dev.PropertyBag().SetChangeHandler(func(ev models.ChangeEvent) {
		s.bufferChange(ev)
		if s.bus != nil {
			published := models.NewEvent(ev.ComponentID, ev.ComponentID, models.KindPropertyChanged)
			published.PropertyChanged = &models.PropertyChangedPayload{
				PropertyName: ev.PropertyName,
				PropertyType: ev.PropertyType,
				OldValue:     ev.OldValue,
				NewValue:     ev.NewValue,
				Metadata:     ev.Metadata,
			}
			_, _ = s.bus.Publish(context.Background(), ev.ComponentID, published)
		}
	})
	return nil
}

func (s *Service) onPropertyChanged(ctx context.Context, ev models.Event) error {
	if ev.PropertyChanged == nil {
		return nil
	}
	s.bufferChange(models.ChangeEvent{
		ComponentID:  ev.DeviceID,
		PropertyName: ev.PropertyChanged.PropertyName,
		PropertyType: ev.PropertyChanged.PropertyType,
		NewValue:     ev.PropertyChanged.NewValue,
		Metadata:     ev.PropertyChanged.Metadata,
		At:           ev.Timestamp,
	})
	return nil
}

func (s *Service) bufferChange(ev models.ChangeEvent) {
	id := ev.ComponentID.String()
	s.mu.Lock()
	buf, ok := s.pending[id]
	if !ok {
		buf = newPendingBuffer()
		s.pending[id] = buf
	}
	s.mu.Unlock()

	value := ev.NewValue
	if value == nil {
		value = canonicalZero(ev.PropertyType)
	}

	buf.mu.Lock()
	buf.props[ev.PropertyName] = value
	buf.metadata[ev.PropertyName] = ev.Metadata
	buf.mu.Unlock()
}

// canonicalZero returns the sentinel substituted for a null change value, so
// typed reads never surface null for a key known to exist.
func canonicalZero(declaredType string) any {
	switch declaredType {
	case "int", "int32", "int64":
		return 0
	case "float32", "float64":
		return 0.0
	case "bool":
		return false
	case "string":
		return ""
	default:
		return map[string]any{}
	}
}

// GetProperty reads a live property value for deviceID, consulting the
// in-memory device bag if registered, otherwise falling back to the store.
func (s *Service) GetProperty(ctx context.Context, deviceID models.ComponentID, name string) (any, bool, error) {
	s.mu.Lock()
	dev, ok := s.devices[deviceID]
	s.mu.Unlock()
	if ok {
		v, found := dev.PropertyBag().GetProperty(name)
		return v, found, nil
	}
	props, found, err := s.st.Load(ctx, deviceID.String())
	if err != nil || !found {
		return nil, false, err
	}
	v, ok := props[name]
	return v, ok, nil
}

// ProcessPendingEvents forces an immediate flush of every device's pending
// buffer, serialized by the flush semaphore.
func (s *Service) ProcessPendingEvents(ctx context.Context) error {
	select {
	case <-s.flushSem:
	case <-ctx.Done():
		return ctx.Err()
	}
	defer func() { s.flushSem <- struct{}{} }()
	return s.flushLocked(ctx)
}

func (s *Service) flushLoop() {
	defer s.wg.Done()
	ticker := time.NewTicker(s.batchInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			select {
			case <-s.flushSem:
			default:
				continue
			}
			if err := s.flushLocked(context.Background()); err != nil && s.log != nil {
				s.log.LogErr(err, "persistence: periodic flush failed")
			}
			s.flushSem <- struct{}{}
		case <-s.stopCh:
			return
		}
	}
}

func (s *Service) flushLocked(ctx context.Context) error {
	s.mu.Lock()
	ids := make([]string, 0, len(s.pending))
	for id, buf := range s.pending {
		buf.mu.Lock()
		if len(buf.props) > 0 {
			ids = append(ids, id)
		}
		buf.mu.Unlock()
	}
	s.mu.Unlock()
	if len(ids) == 0 {
		return nil
	}

	tx, err := s.st.BeginTransaction(ctx)
	if err != nil {
		return err
	}

	snapshots := make(map[string]*pendingBuffer, len(ids))
	for _, id := range ids {
		s.mu.Lock()
		buf := s.pending[id]
		s.mu.Unlock()

		buf.mu.Lock()
		propsCopy := make(map[string]any, len(buf.props))
		for k, v := range buf.props {
			propsCopy[k] = v
		}
		metaCopy := make(map[string]models.PropertyMetadata, len(buf.metadata))
		for k, v := range buf.metadata {
			metaCopy[k] = v
		}
		buf.mu.Unlock()

		if err := tx.SaveWithMetadata(id, propsCopy, metaCopy); err != nil {
			_ = tx.Rollback(ctx)
			s.reportFlushFailure(ctx, err)
			return err
		}
		snapshots[id] = &pendingBuffer{props: propsCopy, metadata: metaCopy}
	}

	if err := tx.Commit(ctx); err != nil {
		s.reportFlushFailure(ctx, err)
		return err
	}

	for id, snap := range snapshots {
		s.mu.Lock()
		buf := s.pending[id]
		s.mu.Unlock()
		buf.mu.Lock()
		for k, v := range snap.props {
			if cur, ok := buf.props[k]; ok && sameValue(cur, v) {
				delete(buf.props, k)
				delete(buf.metadata, k)
			}
		}
		buf.mu.Unlock()
	}
	return nil
}

func sameValue(a, b any) bool {
	return fmt.Sprint(a) == fmt.Sprint(b)
}

func (s *Service) reportFlushFailure(ctx context.Context, err error) {
	if s.monitor == nil {
		return
	}
	s.monitor.Report(ctx, models.Error{
		Code:        "persistence.flush-failed",
		Message:     err.Error(),
		Severity:    models.SeverityError,
		Source:      models.SourceStorage,
		Recoverable: true,
		Timestamp:   time.Now(),
	})
}

// DisposeAsync stops the background flush loop and unsubscribes from the
// bus, returning once the loop has exited.
func (s *Service) DisposeAsync(ctx context.Context) error {
	close(s.stopCh)
	done := make(chan struct{})
	go func() { s.wg.Wait(); close(done) }()
	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}
	if s.bus != nil {
		s.bus.Unsubscribe(s.subID)
	}
	return s.ProcessPendingEvents(context.Background())
}
