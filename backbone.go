// Package hydrogarden composes the event bus, topology service, persistence
// service, circuit breaker factory, error monitor, and recovery orchestrator
// behind a single facade, mirroring the construction and health-probe-wiring
// style of the teacher's engine.Engine facade in engine/engine.go.
package hydrogarden

import (
	"context"
	"net/http"
	"time"

	"github.com/seangreaves-90/hydrogarden/bus"
	"github.com/seangreaves-90/hydrogarden/circuit"
	"github.com/seangreaves-90/hydrogarden/config"
	"github.com/seangreaves-90/hydrogarden/errormonitor"
	"github.com/seangreaves-90/hydrogarden/eventstore"
	"github.com/seangreaves-90/hydrogarden/persistence"
	"github.com/seangreaves-90/hydrogarden/recovery"
	"github.com/seangreaves-90/hydrogarden/store"
	"github.com/seangreaves-90/hydrogarden/telemetry/health"
	"github.com/seangreaves-90/hydrogarden/telemetry/logging"
	"github.com/seangreaves-90/hydrogarden/telemetry/metrics"
	"github.com/seangreaves-90/hydrogarden/telemetry/tracing"
	"github.com/seangreaves-90/hydrogarden/topology"
)

// Snapshot is a unified, read-only view of backbone state for diagnostics
// and health endpoints, the same reduced-facade-view role Snapshot plays in
// the teacher's engine package.
type Snapshot struct {
	StartedAt    time.Time       `json:"started_at"`
	Uptime       time.Duration   `json:"uptime"`
	Health       health.Snapshot `json:"health"`
	ActiveFaults int             `json:"active_faults"`
}

// Backbone composes every subsystem behind one facade: bus, topology,
// persistence, circuit factory, error monitor, and recovery orchestrator.
type Backbone struct {
	cfg config.Config

	Store        *store.Store
	EventStore   *eventstore.Store
	Bus          *bus.Bus
	Topology     *topology.Service
	Persistence  *persistence.Service
	ErrorMonitor *errormonitor.Monitor
	Circuits     *circuit.Factory
	Recovery     *recovery.Orchestrator

	log        logging.Logger
	tracer     tracing.Tracer
	metrics    metrics.Provider
	healthEval *health.Evaluator

	startedAt time.Time
}

// New constructs a Backbone from cfg, wiring subsystems in the order
// store/event store → errormonitor → topology → bus → persistence →
// circuit factory → recovery orchestrator, then registering the error
// monitor's and the bus's health probes (plus the metrics provider's own
// probe when it exposes one).
func New(cfg config.Config, log logging.Logger, provider metrics.Provider, tracer tracing.Tracer) (*Backbone, error) {
	if log == nil {
		log = logging.New(nil)
	}
	if provider == nil {
		provider = metrics.NewNoopProvider()
	}
	if tracer == nil {
		tracer = tracing.NewNoopTracer()
	}

	st, err := store.Open(cfg.StorePath)
	if err != nil {
		return nil, err
	}
	es, err := eventstore.Open(cfg.EventStorePath)
	if err != nil {
		return nil, err
	}

	monitor := errormonitor.New(log, provider, errormonitor.WithWindow(cfg.ErrorWindow))

	topo := topology.New(st, log)
	if err := topo.Initialize(context.Background()); err != nil {
		return nil, err
	}

	b := bus.New(bus.Config{
		WorkerConcurrency: cfg.WorkerConcurrency,
		FailedEventPoll:   cfg.FailedEventPoll,
	}, es, log, provider)
	b.SetTopologyService(topo)

	persist := persistence.New(persistence.Config{BatchInterval: cfg.BatchInterval}, st, b, monitor, log)
	topo.SetPropertyReader(persist)

	circuitDefault := circuit.Config{
		MaxFailures:         cfg.DefaultCircuit.MaxFailures,
		ResetTimeout:        cfg.DefaultCircuit.ResetTimeout,
		HalfOpenMaxAttempts: cfg.DefaultCircuit.HalfOpenMaxAttempts,
		HealthCheckInterval: cfg.DefaultCircuit.HealthCheckInterval,
	}
	circuits := circuit.NewFactory(circuitDefault, monitor)
	for name, override := range cfg.PerServiceCircuit {
		circuits.WithConfig(name, "default", circuit.Config{
			MaxFailures:         override.MaxFailures,
			ResetTimeout:        override.ResetTimeout,
			HalfOpenMaxAttempts: override.HalfOpenMaxAttempts,
			HealthCheckInterval: override.HealthCheckInterval,
		})
	}

	orchestrator := recovery.New(monitor, log)
	orchestrator.Register(recovery.CommunicationBackoffStrategy{})

	bb := &Backbone{
		cfg:          cfg,
		Store:        st,
		EventStore:   es,
		Bus:          b,
		Topology:     topo,
		Persistence:  persist,
		ErrorMonitor: monitor,
		Circuits:     circuits,
		Recovery:     orchestrator,
		log:          log,
		tracer:       tracer,
		metrics:      provider,
		startedAt:    time.Now(),
	}

	// Require two consecutive unhealthy readings before a probe drags the
	// overall rollup down: sensor/bus backlogs wobble under normal load and
	// a single noisy snapshot shouldn't page anyone.
	bb.healthEval = health.NewEvaluatorWithDebounce(5*time.Second, 2,
		monitor.HealthProbe(),
		b.HealthProbe(),
	)
	if hp, ok := provider.(interface{ HealthProbe() health.Probe }); ok {
		bb.healthEval.Register(hp.HealthProbe())
	}

	return bb, nil
}

// MetricsHandler returns the HTTP handler for metrics exposition when the
// configured provider supports one (the Prometheus backend), nil otherwise.
func (b *Backbone) MetricsHandler() http.Handler {
	if hp, ok := b.metrics.(interface{ MetricsHandler() http.Handler }); ok {
		return hp.MetricsHandler()
	}
	return nil
}

// Snapshot returns a point-in-time view of backbone health and uptime.
func (b *Backbone) Snapshot(ctx context.Context) Snapshot {
	hs := b.healthEval.Evaluate(ctx)
	return Snapshot{
		StartedAt:    b.startedAt,
		Uptime:       time.Since(b.startedAt),
		Health:       hs,
		ActiveFaults: len(b.ErrorMonitor.GetActiveErrors(nil)),
	}
}

// Shutdown disposes the persistence service, stops the bus, and closes
// every circuit breaker's health-probe loop.
func (b *Backbone) Shutdown(ctx context.Context) error {
	if err := b.Persistence.DisposeAsync(ctx); err != nil {
		return err
	}
	b.Bus.Close()
	b.Circuits.Close()
	return nil
}
