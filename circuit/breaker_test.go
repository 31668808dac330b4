package circuit

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/seangreaves-90/hydrogarden/models"
	"github.com/seangreaves-90/hydrogarden/telemetry/health"
)

func TestConfigNormalizeFillsDefaults(t *testing.T) {
	cfg := Config{}.Normalize()
	assert.Equal(t, 3, cfg.MaxFailures)
	assert.Equal(t, 60*time.Second, cfg.ResetTimeout)
	assert.Equal(t, 2, cfg.HalfOpenMaxAttempts)
	assert.Equal(t, 30*time.Second, cfg.HealthCheckInterval)
}

func TestBreakerOpensAfterMaxFailures(t *testing.T) {
	b := newBreaker("svc", "default", Config{MaxFailures: 2, ResetTimeout: time.Hour}, nil)
	deviceID := models.NewComponentID()
	ctx := context.Background()
	failing := func(ctx context.Context) error { return errors.New("boom") }

	err := b.Execute(ctx, deviceID, failing)
	require.Error(t, err)
	assert.Equal(t, models.CircuitClosed, b.Snapshot().State)

	err = b.Execute(ctx, deviceID, failing)
	require.Error(t, err)
	assert.Equal(t, models.CircuitOpen, b.Snapshot().State)

	err = b.Execute(ctx, deviceID, failing)
	assert.ErrorIs(t, err, ErrOpen, "once open, calls must be rejected without invoking fn")
}

func TestBreakerHalfOpenAfterResetTimeout(t *testing.T) {
	b := newBreaker("svc", "default", Config{MaxFailures: 1, ResetTimeout: 1 * time.Millisecond}, nil)
	ctx := context.Background()
	deviceID := models.NewComponentID()

	_ = b.Execute(ctx, deviceID, func(ctx context.Context) error { return errors.New("boom") })
	require.Equal(t, models.CircuitOpen, b.Snapshot().State)

	time.Sleep(5 * time.Millisecond)
	assert.True(t, b.Allow(), "Allow must transition to half-open once the reset timeout has elapsed")
	assert.Equal(t, models.CircuitHalfOpen, b.Snapshot().State)
}

func TestBreakerHalfOpenClosesAfterSuccessfulProbes(t *testing.T) {
	b := newBreaker("svc", "default", Config{MaxFailures: 1, ResetTimeout: time.Nanosecond, HalfOpenMaxAttempts: 2}, nil)
	ctx := context.Background()
	deviceID := models.NewComponentID()

	_ = b.Execute(ctx, deviceID, func(ctx context.Context) error { return errors.New("boom") })
	time.Sleep(time.Millisecond)

	succeed := func(ctx context.Context) error { return nil }
	require.NoError(t, b.Execute(ctx, deviceID, succeed))
	require.NoError(t, b.Execute(ctx, deviceID, succeed))

	assert.Equal(t, models.CircuitClosed, b.Snapshot().State)
}

func TestBreakerHalfOpenFailureReopens(t *testing.T) {
	b := newBreaker("svc", "default", Config{MaxFailures: 1, ResetTimeout: time.Nanosecond}, nil)
	ctx := context.Background()
	deviceID := models.NewComponentID()

	_ = b.Execute(ctx, deviceID, func(ctx context.Context) error { return errors.New("boom") })
	time.Sleep(time.Millisecond)
	b.Allow()

	err := b.Execute(ctx, deviceID, func(ctx context.Context) error { return errors.New("still failing") })
	require.Error(t, err)
	assert.Equal(t, models.CircuitOpen, b.Snapshot().State)
}

func TestBreakerTripAndReset(t *testing.T) {
	b := newBreaker("svc", "default", Config{}, nil)
	b.Trip("manual")
	assert.Equal(t, models.CircuitOpen, b.Snapshot().State)

	b.Reset("manual")
	assert.Equal(t, models.CircuitClosed, b.Snapshot().State)
}

func TestBreakerOnStateChangeNotifiesTransitions(t *testing.T) {
	b := newBreaker("svc", "default", Config{}, nil)
	var changes []models.CircuitStateChange
	b.OnStateChange(func(c models.CircuitStateChange) { changes = append(changes, c) })

	b.Trip("manual")
	b.Reset("manual")

	require.Len(t, changes, 2)
	assert.Equal(t, models.CircuitOpen, changes[0].NewState)
	assert.Equal(t, models.CircuitClosed, changes[1].NewState)
}

func TestBreakerHealthProbeReflectsState(t *testing.T) {
	b := newBreaker("svc", "default", Config{}, nil)
	ctx := context.Background()
	probe := b.HealthProbe()

	assert.Equal(t, health.StatusHealthy, probe.Check(ctx).Status)

	b.Trip("manual")
	assert.Equal(t, health.StatusUnhealthy, probe.Check(ctx).Status)
}
