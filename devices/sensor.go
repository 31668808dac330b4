package devices

import (
	"context"

	"github.com/seangreaves-90/hydrogarden/models"
	"github.com/seangreaves-90/hydrogarden/telemetry/logging"
)

// Sensor is a demo environmental sensor device publishing pH and
// electrical-conductivity readings as TelemetryPayload-bearing events via
// whatever bus publisher is installed with SetPublisher.
type Sensor struct {
	*Base
	read      func() (ph, ec float64)
	publisher func(ctx context.Context, deviceID models.ComponentID, readings map[string]float64, units map[string]string)
}

// NewSensor constructs a demo sensor device. read simulates a hardware
// sample; a nil read always reports zero values.
func NewSensor(id models.ComponentID, name string, read func() (ph, ec float64), log logging.Logger) *Sensor {
	if read == nil {
		read = func() (float64, float64) { return 0, 0 }
	}
	return &Sensor{Base: NewBase(id, name, "Sensor", log), read: read}
}

// SetPublisher installs the callback used by Sample to emit telemetry.
func (s *Sensor) SetPublisher(pub func(ctx context.Context, deviceID models.ComponentID, readings map[string]float64, units map[string]string)) {
	s.publisher = pub
}

// Initialize satisfies the §6 device contract.
func (s *Sensor) Initialize(ctx context.Context) error {
	return s.InitializeBase(ctx, func(ctx context.Context) error {
		s.SetProperty("PH", 7.0, nil)
		s.SetProperty("ElectricalConductivityMS", 0.0, nil)
		return nil
	})
}

// Start satisfies the §6 device contract.
func (s *Sensor) Start(ctx context.Context) error {
	return s.StartBase(ctx, nil)
}

// Stop satisfies the §6 device contract.
func (s *Sensor) Stop(ctx context.Context) error {
	return s.StopBase(ctx, nil)
}

// ReloadDefaults implements recovery.Reloadable.
func (s *Sensor) ReloadDefaults(ctx context.Context) error {
	s.ReloadDefaultsBase(map[string]any{"PH": 7.0, "ElectricalConductivityMS": 0.0})
	return nil
}

// Sample reads the simulated hardware and records both properties and a
// Telemetry event.
func (s *Sensor) Sample(ctx context.Context) {
	ph, ec := s.read()
	s.SetProperty("PH", ph, nil)
	s.SetProperty("ElectricalConductivityMS", ec, nil)
	if s.publisher != nil {
		s.publisher(ctx, s.ID(), map[string]float64{"PH": ph, "EC": ec}, map[string]string{"PH": "pH", "EC": "mS/cm"})
	}
}
