package circuit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestFactoryGetReturnsSingletonPerKey(t *testing.T) {
	f := NewFactory(Config{}, nil)

	a := f.Get("pump-control", "default")
	b := f.Get("pump-control", "default")
	assert.Same(t, a, b)

	c := f.Get("sensor-read", "default")
	assert.NotSame(t, a, c)
}

func TestFactoryWithConfigOverridesBeforeFirstGet(t *testing.T) {
	f := NewFactory(Config{MaxFailures: 10}, nil)
	f.WithConfig("pump-control", "default", Config{MaxFailures: 1})

	b := f.Get("pump-control", "default")
	assert.Equal(t, 1, b.cfg.MaxFailures)
}

func TestFactoryAllReturnsEveryCreatedBreaker(t *testing.T) {
	f := NewFactory(Config{}, nil)
	f.Get("a", "default")
	f.Get("b", "default")

	assert.Len(t, f.All(), 2)
}

func TestFactoryCloseStopsHealthLoops(t *testing.T) {
	f := NewFactory(Config{HealthCheckInterval: time.Millisecond}, nil)
	b := f.Get("a", "default")
	b.SetHealthProbe(func(ctx context.Context) error { return nil })
	f.Close()
}
