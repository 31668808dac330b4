// Package recovery implements the §4.E orchestrator: ordered recovery
// strategies tried in ascending priority against errors whose own
// CanAttemptRecovery predicate holds, with per-device in-flight tracking so two
// concurrent recoveries never race on the same device.
package recovery

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/seangreaves-90/hydrogarden/errormonitor"
	"github.com/seangreaves-90/hydrogarden/models"
	"github.com/seangreaves-90/hydrogarden/telemetry/logging"
)

// DefaultMaxAttempts is applied to the §3 recovery-eligibility predicate
// when an Orchestrator is constructed without an override.
const DefaultMaxAttempts = 3

// Strategy is a single recovery action a device or subsystem can attempt.
type Strategy interface {
	Name() string
	Priority() int
	CanRecover(err models.Error) bool
	Attempt(ctx context.Context, err models.Error) bool
}

type deviceBackoff struct {
	mu       sync.Mutex
	attempts int
	lastTry  time.Time
}

// Orchestrator sequences Strategy attempts for reported errors.
type Orchestrator struct {
	monitor     *errormonitor.Monitor
	log         logging.Logger
	maxAttempts int

	mu         sync.Mutex
	strategies []Strategy
	inFlight   map[string]struct{}
	backoffs   map[string]*deviceBackoff
}

// New constructs an Orchestrator that records attempt outcomes into monitor.
// Eligibility is decided by the error's own CanAttemptRecovery predicate.
func New(monitor *errormonitor.Monitor, log logging.Logger) *Orchestrator {
	return &Orchestrator{
		monitor:     monitor,
		log:         log,
		maxAttempts: DefaultMaxAttempts,
		inFlight:    make(map[string]struct{}),
		backoffs:    make(map[string]*deviceBackoff),
	}
}

// Register adds a built-in or custom Strategy.
func (o *Orchestrator) Register(s Strategy) {
	if s == nil {
		return
	}
	o.mu.Lock()
	o.strategies = append(o.strategies, s)
	o.mu.Unlock()
}

// Attempt tries applicable strategies, ascending by priority, stopping at
// the first to return true. Returns false without trying anything when err
// is not currently attemptable or a recovery for the same device is already
// in flight.
func (o *Orchestrator) Attempt(ctx context.Context, err models.Error) bool {
	if !err.CanAttemptRecovery(time.Now(), o.maxAttempts) {
		return false
	}
	deviceKey := err.DeviceID.String()

	o.mu.Lock()
	if _, busy := o.inFlight[deviceKey]; busy {
		o.mu.Unlock()
		return false
	}
	o.inFlight[deviceKey] = struct{}{}
	candidates := make([]Strategy, 0, len(o.strategies))
	for _, s := range o.strategies {
		if s.CanRecover(err) {
			candidates = append(candidates, s)
		}
	}
	o.mu.Unlock()

	defer func() {
		o.mu.Lock()
		delete(o.inFlight, deviceKey)
		o.mu.Unlock()
	}()

	sort.Slice(candidates, func(i, j int) bool { return candidates[i].Priority() < candidates[j].Priority() })

	// Each strategy owns its own per-device backoff and max-attempts budget
	// (§4.E): a low-priority strategy exhausting its attempts must not
	// consume the budget a higher- or lower-priority strategy still has for
	// the same device, so the backoff is keyed by (device, strategy) rather
	// than device alone.
	for _, s := range candidates {
		bo := o.backoffFor(deviceKey, s.Name())
		bo.mu.Lock()
		due := bo.attempts == 0 || time.Since(bo.lastTry) > err.Backoff()
		tooMany := bo.attempts >= o.maxAttempts
		if tooMany || !due {
			bo.mu.Unlock()
			continue
		}
		bo.attempts++
		bo.lastTry = time.Now()
		bo.mu.Unlock()

		ok := s.Attempt(ctx, err)
		if o.monitor != nil {
			o.monitor.RegisterRecoveryAttempt(ctx, err.DeviceID, err.Code, ok)
		}
		if ok {
			bo.mu.Lock()
			bo.attempts = 0
			bo.mu.Unlock()
			if o.log != nil {
				o.log.Log("recovery strategy " + s.Name() + " succeeded for device " + deviceKey)
			}
			return true
		}
	}
	return false
}

func (o *Orchestrator) backoffFor(deviceKey, strategyName string) *deviceBackoff {
	key := deviceKey + "|" + strategyName
	o.mu.Lock()
	defer o.mu.Unlock()
	bo, ok := o.backoffs[key]
	if !ok {
		bo = &deviceBackoff{}
		o.backoffs[key] = bo
	}
	return bo
}
