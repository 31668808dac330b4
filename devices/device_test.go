package devices

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/seangreaves-90/hydrogarden/models"
	"github.com/seangreaves-90/hydrogarden/telemetry/logging"
)

func TestBaseLifecycleHappyPath(t *testing.T) {
	b := NewBase(models.NewComponentID(), "Reservoir Pump", "Pump", logging.New(nil))
	assert.Equal(t, models.StateCreated, b.State())

	require.NoError(t, b.InitializeBase(context.Background(), nil))
	assert.Equal(t, models.StateReady, b.State())

	require.NoError(t, b.StartBase(context.Background(), nil))
	assert.Equal(t, models.StateRunning, b.State())

	require.NoError(t, b.StopBase(context.Background(), nil))
	assert.Equal(t, models.StateReady, b.State())
}

func TestBaseRecordsStandardProperties(t *testing.T) {
	id := models.NewComponentID()
	b := NewBase(id, "Reservoir Pump", "Pump", logging.New(nil))
	require.NoError(t, b.InitializeBase(context.Background(), nil))

	name, ok := b.GetProperty("Name")
	assert.True(t, ok)
	assert.Equal(t, "Reservoir Pump", name)

	assemblyType, ok := b.GetProperty("AssemblyType")
	assert.True(t, ok)
	assert.Equal(t, "Pump", assemblyType)

	state, ok := b.GetProperty("State")
	assert.True(t, ok)
	assert.Equal(t, string(models.StateReady), state)
}

func TestBaseInitializeHookFailureTransitionsToError(t *testing.T) {
	b := NewBase(models.NewComponentID(), "broken", "Pump", logging.New(nil))
	hookErr := errors.New("hardware probe failed")

	err := b.InitializeBase(context.Background(), func(ctx context.Context) error { return hookErr })
	assert.ErrorIs(t, err, hookErr)
	assert.Equal(t, models.StateError, b.State())
}

func TestBaseStartRequiresReady(t *testing.T) {
	b := NewBase(models.NewComponentID(), "p", "Pump", logging.New(nil))
	err := b.StartBase(context.Background(), nil)
	assert.Error(t, err, "starting a device still in Created must fail")
}

func TestBaseStopRequiresRunning(t *testing.T) {
	b := NewBase(models.NewComponentID(), "p", "Pump", logging.New(nil))
	require.NoError(t, b.InitializeBase(context.Background(), nil))
	err := b.StopBase(context.Background(), nil)
	assert.Error(t, err, "stopping a device still in Ready must fail")
}

func TestBaseReloadDefaultsOverwritesProperties(t *testing.T) {
	b := NewBase(models.NewComponentID(), "p", "Pump", logging.New(nil))
	b.SetProperty("FlowRateMlPerMin", 12.0, nil)

	b.ReloadDefaultsBase(map[string]any{"FlowRateMlPerMin": 0.0})

	v, ok := b.GetProperty("FlowRateMlPerMin")
	assert.True(t, ok)
	assert.Equal(t, 0.0, v)
}

func TestPumpInitializeStartDose(t *testing.T) {
	p := NewPump(models.NewComponentID(), "dosing-pump", nil, logging.New(nil))
	require.NoError(t, p.Initialize(context.Background()))
	require.NoError(t, p.Start(context.Background()))

	require.NoError(t, p.Dose(context.Background(), 10, time.Minute))

	total, ok := p.GetProperty("TotalDosedMl")
	require.True(t, ok)
	assert.Equal(t, 10.0, total)

	rate, ok := p.GetProperty("FlowRateMlPerMin")
	require.True(t, ok)
	assert.Equal(t, 10.0, rate)
}

func TestPumpDoseAccumulatesAcrossCalls(t *testing.T) {
	p := NewPump(models.NewComponentID(), "dosing-pump", nil, logging.New(nil))
	require.NoError(t, p.Initialize(context.Background()))
	require.NoError(t, p.Start(context.Background()))

	require.NoError(t, p.Dose(context.Background(), 10, time.Minute))
	require.NoError(t, p.Dose(context.Background(), 5, 2*time.Minute))

	total, ok := p.GetProperty("TotalDosedMl")
	require.True(t, ok)
	assert.Equal(t, 20.0, total)
}

func TestPumpDoseFailsWhenLinkDown(t *testing.T) {
	p := NewPump(models.NewComponentID(), "dosing-pump", func() bool { return false }, logging.New(nil))
	require.NoError(t, p.Initialize(context.Background()))
	require.NoError(t, p.Start(context.Background()))

	err := p.Dose(context.Background(), 10, time.Minute)
	assert.ErrorIs(t, err, errCommunicationLost)
}

func TestPumpStopZeroesFlowRate(t *testing.T) {
	p := NewPump(models.NewComponentID(), "dosing-pump", nil, logging.New(nil))
	require.NoError(t, p.Initialize(context.Background()))
	require.NoError(t, p.Start(context.Background()))
	require.NoError(t, p.Dose(context.Background(), 10, time.Minute))

	require.NoError(t, p.Stop(context.Background()))

	rate, ok := p.GetProperty("FlowRateMlPerMin")
	require.True(t, ok)
	assert.Equal(t, 0.0, rate)
}

func TestPumpReloadDefaultsResetsFlowRate(t *testing.T) {
	p := NewPump(models.NewComponentID(), "dosing-pump", nil, logging.New(nil))
	require.NoError(t, p.Initialize(context.Background()))
	p.SetProperty("FlowRateMlPerMin", 99.0, nil)

	require.NoError(t, p.ReloadDefaults(context.Background()))

	rate, ok := p.GetProperty("FlowRateMlPerMin")
	require.True(t, ok)
	assert.Equal(t, 0.0, rate)
}

func TestSensorInitializeDefaults(t *testing.T) {
	s := NewSensor(models.NewComponentID(), "reservoir-sensor", nil, logging.New(nil))
	require.NoError(t, s.Initialize(context.Background()))

	ph, ok := s.GetProperty("PH")
	require.True(t, ok)
	assert.Equal(t, 7.0, ph)
}

func TestSensorSampleUpdatesPropertiesAndPublishes(t *testing.T) {
	s := NewSensor(models.NewComponentID(), "reservoir-sensor", func() (float64, float64) { return 6.2, 1.4 }, logging.New(nil))
	require.NoError(t, s.Initialize(context.Background()))

	var published map[string]float64
	s.SetPublisher(func(ctx context.Context, deviceID models.ComponentID, readings map[string]float64, units map[string]string) {
		published = readings
	})

	s.Sample(context.Background())

	ph, ok := s.GetProperty("PH")
	require.True(t, ok)
	assert.Equal(t, 6.2, ph)

	ec, ok := s.GetProperty("ElectricalConductivityMS")
	require.True(t, ok)
	assert.Equal(t, 1.4, ec)

	require.NotNil(t, published)
	assert.Equal(t, 6.2, published["PH"])
	assert.Equal(t, 1.4, published["EC"])
}

func TestSensorSampleWithoutPublisherDoesNotPanic(t *testing.T) {
	s := NewSensor(models.NewComponentID(), "reservoir-sensor", nil, logging.New(nil))
	require.NoError(t, s.Initialize(context.Background()))
	assert.NotPanics(t, func() { s.Sample(context.Background()) })
}
