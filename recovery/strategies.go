package recovery

import (
	"context"

	"github.com/seangreaves-90/hydrogarden/models"
)

// Restartable is implemented by any device the restart and reinitialize
// strategies can act on; devices compose this over their property bag and
// lifecycle state machine (§6 device contract).
type Restartable interface {
	Stop(ctx context.Context) error
	Initialize(ctx context.Context) error
	Start(ctx context.Context) error
}

// Reloadable is implemented by devices whose configuration strategy needs
// to re-pull defaults from the persistence layer before reinitializing.
type Reloadable interface {
	Restartable
	ReloadDefaults(ctx context.Context) error
}

// CommunicationBackoffStrategy recovers Communication-source errors purely
// by honoring the caller's backoff — it performs no device action and
// signals success once invoked, letting the bus/store's own retry paths
// re-attempt the call.
type CommunicationBackoffStrategy struct{}

func (CommunicationBackoffStrategy) Name() string     { return "communication-backoff-only" }
func (CommunicationBackoffStrategy) Priority() int     { return 10 }
func (CommunicationBackoffStrategy) CanRecover(err models.Error) bool {
	return err.Source == models.SourceCommunication
}
func (CommunicationBackoffStrategy) Attempt(ctx context.Context, err models.Error) bool {
	return ctx.Err() == nil
}

// DeviceRestartStrategy stops then re-initializes and starts the failing
// device.
type DeviceRestartStrategy struct {
	Devices func(deviceID models.ComponentID) Restartable
}

func (s DeviceRestartStrategy) Name() string { return "device-restart" }
func (s DeviceRestartStrategy) Priority() int { return 20 }
func (s DeviceRestartStrategy) CanRecover(err models.Error) bool {
	return err.Source == models.SourceDevice
}
func (s DeviceRestartStrategy) Attempt(ctx context.Context, err models.Error) bool {
	if s.Devices == nil {
		return false
	}
	dev := s.Devices(err.DeviceID)
	if dev == nil {
		return false
	}
	if err := dev.Stop(ctx); err != nil {
		return false
	}
	if ctx.Err() != nil {
		return false
	}
	if err := dev.Initialize(ctx); err != nil {
		return false
	}
	if ctx.Err() != nil {
		return false
	}
	if err := dev.Start(ctx); err != nil {
		return false
	}
	return true
}

// ConfigurationReinitializeStrategy stops the device, reloads its defaults
// from persistence, then re-initializes and starts it.
type ConfigurationReinitializeStrategy struct {
	Devices func(deviceID models.ComponentID) Reloadable
}

func (s ConfigurationReinitializeStrategy) Name() string { return "configuration-reinitialize" }
func (s ConfigurationReinitializeStrategy) Priority() int { return 30 }
func (s ConfigurationReinitializeStrategy) CanRecover(err models.Error) bool {
	return err.Source == models.SourceService || err.Source == models.SourceStorage
}
func (s ConfigurationReinitializeStrategy) Attempt(ctx context.Context, err models.Error) bool {
	if s.Devices == nil {
		return false
	}
	dev := s.Devices(err.DeviceID)
	if dev == nil {
		return false
	}
	if err := dev.Stop(ctx); err != nil {
		return false
	}
	if ctx.Err() != nil {
		return false
	}
	if err := dev.ReloadDefaults(ctx); err != nil {
		return false
	}
	if ctx.Err() != nil {
		return false
	}
	if err := dev.Initialize(ctx); err != nil {
		return false
	}
	if ctx.Err() != nil {
		return false
	}
	if err := dev.Start(ctx); err != nil {
		return false
	}
	return true
}
