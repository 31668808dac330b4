// Package health rolls up per-subsystem Probe checks into one cached
// Snapshot for the backbone facade. Unlike a one-shot health check, probes
// here watch things that are expected to wobble in a hydroponic deployment —
// a reservoir sensor dropout, a momentarily-open circuit breaker, a bus
// retry backlog — so the Evaluator debounces a probe's contribution to the
// overall rollup rather than flipping the whole backbone unhealthy on one
// noisy reading, and exposes a Status→models.Severity mapping so a
// sustained-unhealthy probe can be raised as a real alert event.
package health

import (
	"context"
	"sync"
	"time"

	"github.com/seangreaves-90/hydrogarden/models"
)

// Status enumerates health states.
type Status string

const (
	StatusUnknown   Status = "unknown"
	StatusHealthy   Status = "healthy"
	StatusDegraded  Status = "degraded"
	StatusUnhealthy Status = "unhealthy"
)

// Severity maps a rolled-up Status onto the alert severity scale the event
// bus and recovery orchestrator already use, so a probe going unhealthy can
// be raised as a models.KindAlert event without re-deriving the mapping at each call
// site.
func (s Status) Severity() models.Severity {
	switch s {
	case StatusUnhealthy:
		return models.SeverityCritical
	case StatusDegraded:
		return models.SeverityWarning
	default:
		return models.SeverityInfo
	}
}

// ProbeResult represents one subsystem evaluation.
type ProbeResult struct {
	Name      string    `json:"name"`
	Status    Status    `json:"status"`
	Detail    string    `json:"detail,omitempty"`
	CheckedAt time.Time `json:"checked_at"`
}

// Snapshot aggregates probe results and the overall rollup.
type Snapshot struct {
	Overall   Status        `json:"overall"`
	Probes    []ProbeResult `json:"probes"`
	Generated time.Time     `json:"generated"`
	TTL       time.Duration `json:"ttl"`
}

// Severity reports the alert severity implied by the snapshot's Overall
// status.
func (snap Snapshot) Severity() models.Severity { return snap.Overall.Severity() }

// Probe defines a callable returning a ProbeResult.
type Probe interface {
	Check(ctx context.Context) ProbeResult
}

// ProbeFunc adapts a plain function to the Probe interface.
type ProbeFunc func(ctx context.Context) ProbeResult

func (f ProbeFunc) Check(ctx context.Context) ProbeResult { return f(ctx) }

// Evaluator caches the aggregate Snapshot for TTL before re-running probes,
// and debounces each probe's non-healthy readings before they're allowed to
// pull the overall rollup down.
type Evaluator struct {
	probes       []Probe
	ttl          time.Duration
	degradeAfter int

	mu      sync.RWMutex
	cached  Snapshot
	streaks map[string]int // consecutive non-healthy readings, keyed by probe name
}

// NewEvaluator creates an evaluator with the provided TTL for caching
// results and no flap suppression (every non-healthy reading counts
// immediately). Equivalent to NewEvaluatorWithDebounce(ttl, 1, probes...).
func NewEvaluator(ttl time.Duration, probes ...Probe) *Evaluator {
	return NewEvaluatorWithDebounce(ttl, 1, probes...)
}

// NewEvaluatorWithDebounce is like NewEvaluator but requires a probe to
// report non-healthy for degradeAfter consecutive evaluations before its
// status is allowed to drag Overall down — a single dropped reading from a
// reservoir sensor or one rejected call through an open circuit shouldn't by
// itself flip the backbone's health to degraded.
func NewEvaluatorWithDebounce(ttl time.Duration, degradeAfter int, probes ...Probe) *Evaluator {
	if ttl <= 0 {
		ttl = 2 * time.Second
	}
	if degradeAfter <= 0 {
		degradeAfter = 1
	}
	return &Evaluator{probes: probes, ttl: ttl, degradeAfter: degradeAfter, streaks: make(map[string]int)}
}

// Register adds another probe.
func (e *Evaluator) Register(p Probe) {
	if p == nil {
		return
	}
	e.mu.Lock()
	e.probes = append(e.probes, p)
	e.mu.Unlock()
}

// Evaluate returns a cached snapshot if within TTL, otherwise recomputes,
// reporting every probe's raw status while debouncing each probe's effect
// on the Overall rollup.
func (e *Evaluator) Evaluate(ctx context.Context) Snapshot {
	e.mu.RLock()
	cached := e.cached
	if cached.Generated.Add(e.ttl).After(time.Now()) {
		e.mu.RUnlock()
		return cached
	}
	e.mu.RUnlock()
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.cached.Generated.Add(e.ttl).After(time.Now()) {
		return e.cached
	}
	results := make([]ProbeResult, 0, len(e.probes))
	overall := StatusHealthy
	now := time.Now()
	for _, p := range e.probes {
		if p == nil {
			continue
		}
		pr := p.Check(ctx)
		if pr.CheckedAt.IsZero() {
			pr.CheckedAt = now
		}
		results = append(results, pr)

		effective := pr.Status
		if pr.Status == StatusHealthy {
			delete(e.streaks, pr.Name)
		} else {
			e.streaks[pr.Name]++
			if e.streaks[pr.Name] < e.degradeAfter {
				effective = StatusHealthy
			}
		}
		switch effective {
		case StatusUnhealthy:
			overall = StatusUnhealthy
		case StatusDegraded:
			if overall != StatusUnhealthy {
				overall = StatusDegraded
			}
		}
	}
	if len(results) == 0 {
		overall = StatusUnknown
	}
	snap := Snapshot{Overall: overall, Probes: results, Generated: now, TTL: e.ttl}
	e.cached = snap
	return snap
}

// ForceInvalidate clears the cached snapshot, forcing the next Evaluate to
// recompute. Intended for tests.
func (e *Evaluator) ForceInvalidate() {
	e.mu.Lock()
	e.cached.Generated = time.Time{}
	e.mu.Unlock()
}

func Healthy(name string) ProbeResult {
	return ProbeResult{Name: name, Status: StatusHealthy, CheckedAt: time.Now()}
}
func Degraded(name, detail string) ProbeResult {
	return ProbeResult{Name: name, Status: StatusDegraded, Detail: detail, CheckedAt: time.Now()}
}
func Unhealthy(name, detail string) ProbeResult {
	return ProbeResult{Name: name, Status: StatusUnhealthy, Detail: detail, CheckedAt: time.Now()}
}
func Unknown(name, detail string) ProbeResult {
	return ProbeResult{Name: name, Status: StatusUnknown, Detail: detail, CheckedAt: time.Now()}
}
