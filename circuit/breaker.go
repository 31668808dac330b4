// Package circuit implements the per-(serviceName, resultType) breaker FSM
// of §4.D, grounded on the embedded breakerState/domainState machine in the
// teacher's engine/internal/ratelimit/limiter.go — the same Closed → Open →
// HalfOpen transitions, generalized here into a standalone reusable type
// with health-probe-driven recovery and state-change notifications instead
// of rate-limiter-specific token accounting.
package circuit

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/seangreaves-90/hydrogarden/errormonitor"
	"github.com/seangreaves-90/hydrogarden/models"
	"github.com/seangreaves-90/hydrogarden/telemetry/health"
)

// ErrOpen is returned by Execute when the breaker rejects the call.
var ErrOpen = errors.New("circuit: open")

// Config tunes one breaker instance. The zero value is replaced with the
// §4.D defaults by Normalize.
type Config struct {
	MaxFailures         int
	ResetTimeout        time.Duration
	HalfOpenMaxAttempts int
	HealthCheckInterval time.Duration
}

// Normalize fills unset fields with the spec defaults
// {maxFailures=3, resetTimeout=60s, halfOpenMaxAttempts=2, healthCheckInterval=30s}.
func (c Config) Normalize() Config {
	if c.MaxFailures <= 0 {
		c.MaxFailures = 3
	}
	if c.ResetTimeout <= 0 {
		c.ResetTimeout = 60 * time.Second
	}
	if c.HalfOpenMaxAttempts <= 0 {
		c.HalfOpenMaxAttempts = 2
	}
	if c.HealthCheckInterval <= 0 {
		c.HealthCheckInterval = 30 * time.Second
	}
	return c
}

// HealthProbe is consulted, while Open, on a timer; a nil error forces a
// transition to HalfOpen ahead of ResetTimeout elapsing.
type HealthProbe func(ctx context.Context) error

// StateChangeHandler receives every FSM transition.
type StateChangeHandler func(models.CircuitStateChange)

// Breaker guards calls to one (serviceName, resultType) pair.
type Breaker struct {
	serviceName string
	resultType  string
	cfg         Config
	monitor     *errormonitor.Monitor

	mu    sync.Mutex
	state models.CircuitState

	onChange []StateChangeHandler
	probe    HealthProbe
	stopCh   chan struct{}
	stopOnce sync.Once
}

func newBreaker(serviceName, resultType string, cfg Config, monitor *errormonitor.Monitor) *Breaker {
	b := &Breaker{
		serviceName: serviceName,
		resultType:  resultType,
		cfg:         cfg.Normalize(),
		monitor:     monitor,
		state:       models.CircuitState{State: models.CircuitClosed, LastStateChange: time.Now()},
		stopCh:      make(chan struct{}),
	}
	return b
}

// OnStateChange registers a notification handler.
func (b *Breaker) OnStateChange(h StateChangeHandler) {
	if h == nil {
		return
	}
	b.mu.Lock()
	b.onChange = append(b.onChange, h)
	b.mu.Unlock()
}

// SetHealthProbe installs a probe run on HealthCheckInterval while Open;
// success forces an early transition to HalfOpen.
func (b *Breaker) SetHealthProbe(probe HealthProbe) {
	b.mu.Lock()
	b.probe = probe
	b.mu.Unlock()
	go b.healthLoop()
}

func (b *Breaker) healthLoop() {
	ticker := time.NewTicker(b.cfg.HealthCheckInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			b.mu.Lock()
			probe := b.probe
			isOpen := b.state.State == models.CircuitOpen
			b.mu.Unlock()
			if probe == nil || !isOpen {
				continue
			}
			ctx, cancel := context.WithTimeout(context.Background(), b.cfg.HealthCheckInterval)
			err := probe(ctx)
			cancel()
			if err == nil {
				b.forceHalfOpen("health probe succeeded")
			}
		case <-b.stopCh:
			return
		}
	}
}

// Close stops the breaker's health-probe loop.
func (b *Breaker) Close() { b.stopOnce.Do(func() { close(b.stopCh) }) }

// Snapshot returns the breaker's current state.
func (b *Breaker) Snapshot() models.CircuitState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Allow reports whether a call may proceed, transitioning Open→HalfOpen
// when ResetTimeout has elapsed.
func (b *Breaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.allowLocked()
}

func (b *Breaker) allowLocked() bool {
	switch b.state.State {
	case models.CircuitClosed:
		return true
	case models.CircuitOpen:
		if time.Since(b.state.LastStateChange) > b.cfg.ResetTimeout {
			b.transitionLocked(models.CircuitHalfOpen, "reset timeout elapsed")
			return true
		}
		return false
	case models.CircuitHalfOpen:
		return b.state.Successes < b.cfg.HalfOpenMaxAttempts
	default:
		return false
	}
}

// Execute runs fn if the breaker admits the call, recording the outcome.
// A rejection is reported to the error monitor as a recovery/circuit-open
// error and returns ErrOpen.
func (b *Breaker) Execute(ctx context.Context, deviceID models.ComponentID, fn func(ctx context.Context) error) error {
	if !b.Allow() {
		if b.monitor != nil {
			b.monitor.Report(ctx, models.Error{
				DeviceID:    deviceID,
				Code:        "recovery.circuit-open",
				Message:     "circuit open for " + b.serviceName + "/" + b.resultType,
				Severity:    models.SeverityWarning,
				Source:      models.SourceRecovery,
				Recoverable: true,
				Timestamp:   time.Now(),
			})
		}
		return ErrOpen
	}
	err := fn(ctx)
	if err != nil {
		b.recordFailure()
		return err
	}
	b.recordSuccess()
	return nil
}

func (b *Breaker) recordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.state.Failures++
	b.state.LastFailureTime = time.Now()
	switch b.state.State {
	case models.CircuitClosed:
		if b.state.Failures >= b.cfg.MaxFailures {
			b.transitionLocked(models.CircuitOpen, "failure threshold reached")
		}
	case models.CircuitHalfOpen:
		b.transitionLocked(models.CircuitOpen, "failure during half-open probe")
	}
}

func (b *Breaker) recordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.state.Successes++
	if b.state.State == models.CircuitHalfOpen && b.state.Successes >= b.cfg.HalfOpenMaxAttempts {
		b.transitionLocked(models.CircuitClosed, "half-open probes succeeded")
	}
}

func (b *Breaker) forceHalfOpen(reason string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state.State == models.CircuitOpen {
		b.transitionLocked(models.CircuitHalfOpen, reason)
	}
}

// Trip manually forces the breaker Open.
func (b *Breaker) Trip(reason string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.transitionLocked(models.CircuitOpen, reason)
}

// Reset manually forces the breaker Closed.
func (b *Breaker) Reset(reason string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.transitionLocked(models.CircuitClosed, reason)
}

// transitionLocked must be called with b.mu held.
func (b *Breaker) transitionLocked(next models.CircuitStateKind, reason string) {
	old := b.state.State
	b.state.State = next
	b.state.LastStateChange = time.Now()
	switch next {
	case models.CircuitClosed:
		b.state.Failures = 0
		b.state.Successes = 0
	case models.CircuitHalfOpen:
		b.state.Successes = 0
	}
	if old == next {
		return
	}
	change := models.CircuitStateChange{
		ServiceName:     b.serviceName,
		ResultType:      b.resultType,
		OldState:        old,
		NewState:        next,
		LastFailureTime: b.state.LastFailureTime,
		Reason:          reason,
	}
	handlers := append([]StateChangeHandler(nil), b.onChange...)
	for _, h := range handlers {
		h(change)
	}
}

// HealthProbe returns a health.Probe reporting this breaker's FSM state.
func (b *Breaker) HealthProbe() health.Probe {
	return health.ProbeFunc(func(ctx context.Context) health.ProbeResult {
		snap := b.Snapshot()
		name := "circuit:" + b.serviceName + "/" + b.resultType
		switch snap.State {
		case models.CircuitOpen:
			return health.Unhealthy(name, "breaker open")
		case models.CircuitHalfOpen:
			return health.Degraded(name, "breaker half-open")
		default:
			return health.Healthy(name)
		}
	})
}
