// Package errormonitor implements §4.C: a deduplicating fault ledger that
// the circuit breaker factory and recovery orchestrator both report into and
// consult. Its mutex-guarded map mirrors the bookkeeping style the teacher
// uses in engine/internal/ratelimit for per-shard state.
package errormonitor

import (
	"context"
	"sync"
	"time"

	"github.com/seangreaves-90/hydrogarden/models"
	"github.com/seangreaves-90/hydrogarden/telemetry/health"
	"github.com/seangreaves-90/hydrogarden/telemetry/logging"
	"github.com/seangreaves-90/hydrogarden/telemetry/metrics"
)

// DefaultWindow is the sliding deduplication window applied when a Monitor
// is constructed without an explicit one.
const DefaultWindow = 30 * time.Second

type entryKey struct {
	deviceID string
	code     string
}

type entry struct {
	err      models.Error
	resolved bool
	lastSeen time.Time
}

// Monitor deduplicates reported errors on (deviceID, code) within a sliding
// window and tracks recovery attempt bookkeeping for each.
type Monitor struct {
	window time.Duration
	log    logging.Logger
	mu     sync.Mutex
	byKey  map[entryKey]*entry

	reported metrics.Counter
}

// Option configures a Monitor at construction time.
type Option func(*Monitor)

// WithWindow overrides the default deduplication window.
func WithWindow(d time.Duration) Option {
	return func(m *Monitor) {
		if d > 0 {
			m.window = d
		}
	}
}

// New constructs a Monitor. provider may be nil, in which case metrics are
// discarded.
func New(log logging.Logger, provider metrics.Provider, opts ...Option) *Monitor {
	if provider == nil {
		provider = metrics.NewNoopProvider()
	}
	m := &Monitor{
		window: DefaultWindow,
		log:    log,
		byKey:  make(map[entryKey]*entry),
		reported: provider.NewCounter(metrics.CounterOpts{CommonOpts: metrics.CommonOpts{
			Namespace: "hydrogarden", Subsystem: "errormonitor", Name: "reported_total",
			Help: "errors reported to the monitor", Labels: []string{"code"},
		}}),
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

// Report records an error, deduplicating against any existing unresolved
// entry for the same (DeviceID, Code) seen within the window.
func (m *Monitor) Report(ctx context.Context, err models.Error) {
	if ctx.Err() != nil {
		return
	}
	if err.Timestamp.IsZero() {
		err.Timestamp = time.Now()
	}
	key := entryKey{deviceID: err.DeviceID.String(), code: err.Code}

	m.mu.Lock()
	defer m.mu.Unlock()
	existing, ok := m.byKey[key]
	if ok && !existing.resolved && time.Since(existing.lastSeen) <= m.window {
		existing.lastSeen = err.Timestamp
		existing.err.Message = err.Message
		existing.err.Context = err.Context
		return
	}
	m.byKey[key] = &entry{err: err, lastSeen: err.Timestamp}
	if m.reported != nil {
		m.reported.Inc(1, err.Category())
	}
	if m.log != nil {
		m.log.WarnCtx(ctx, "error reported", "device", err.DeviceID, "code", err.Code, "severity", err.Severity)
	}
}

// RegisterRecoveryAttempt increments the recovery-attempt counter for
// (deviceID, code) and marks the error resolved on success.
func (m *Monitor) RegisterRecoveryAttempt(ctx context.Context, deviceID models.ComponentID, code string, success bool) {
	if ctx.Err() != nil {
		return
	}
	key := entryKey{deviceID: deviceID.String(), code: code}
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.byKey[key]
	if !ok {
		return
	}
	e.err.RecoveryAttempts++
	e.err.LastRecoveryAt = time.Now()
	if success {
		e.resolved = true
	}
}

// GetActiveErrors returns unresolved errors, optionally filtered to one
// device. A nil deviceID returns every unresolved error.
func (m *Monitor) GetActiveErrors(deviceID *models.ComponentID) []models.Error {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]models.Error, 0, len(m.byKey))
	for key, e := range m.byKey {
		if e.resolved {
			continue
		}
		if deviceID != nil && key.deviceID != deviceID.String() {
			continue
		}
		out = append(out, e.err)
	}
	return out
}

// HealthProbe reports degraded when any device has three or more active
// errors, feeding the shared telemetry/health Evaluator.
func (m *Monitor) HealthProbe() health.Probe {
	return health.ProbeFunc(func(ctx context.Context) health.ProbeResult {
		active := m.GetActiveErrors(nil)
		if len(active) == 0 {
			return health.Healthy("errormonitor")
		}
		counts := make(map[string]int)
		for _, e := range active {
			counts[e.DeviceID.String()]++
		}
		for _, c := range counts {
			if c >= 3 {
				return health.Degraded("errormonitor", "a device has 3 or more active unresolved errors")
			}
		}
		return health.Healthy("errormonitor")
	})
}
