package circuit

import (
	"sync"

	"github.com/seangreaves-90/hydrogarden/errormonitor"
)

type breakerKey struct {
	serviceName string
	resultType  string
}

// Factory vends one Breaker per (serviceName, resultType) pair, caching the
// first one created for that pair and honoring a per-name config override
// supplied via WithConfig before the breaker is first requested.
type Factory struct {
	defaultCfg Config
	monitor    *errormonitor.Monitor

	mu       sync.Mutex
	breakers map[breakerKey]*Breaker
	configs  map[breakerKey]Config
}

// NewFactory constructs a Factory with defaultCfg applied to any breaker
// without a per-name override.
func NewFactory(defaultCfg Config, monitor *errormonitor.Monitor) *Factory {
	return &Factory{
		defaultCfg: defaultCfg.Normalize(),
		monitor:    monitor,
		breakers:   make(map[breakerKey]*Breaker),
		configs:    make(map[breakerKey]Config),
	}
}

// WithConfig registers a per-(serviceName, resultType) config override.
// Must be called before the first Get for that pair to take effect.
func (f *Factory) WithConfig(serviceName, resultType string, cfg Config) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.configs[breakerKey{serviceName, resultType}] = cfg.Normalize()
}

// Get returns the singleton Breaker for (serviceName, resultType), creating
// it on first access.
func (f *Factory) Get(serviceName, resultType string) *Breaker {
	key := breakerKey{serviceName, resultType}
	f.mu.Lock()
	defer f.mu.Unlock()
	if b, ok := f.breakers[key]; ok {
		return b
	}
	cfg, ok := f.configs[key]
	if !ok {
		cfg = f.defaultCfg
	}
	b := newBreaker(serviceName, resultType, cfg, f.monitor)
	f.breakers[key] = b
	return b
}

// All returns every breaker created so far, for health aggregation.
func (f *Factory) All() []*Breaker {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]*Breaker, 0, len(f.breakers))
	for _, b := range f.breakers {
		out = append(out, b)
	}
	return out
}

// Close stops every breaker's health-probe loop.
func (f *Factory) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, b := range f.breakers {
		b.Close()
	}
}
