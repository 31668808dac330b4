// Package devices implements the §6 device contract: initialize/start/stop
// lifecycle progression layered over the property bag, plus two concrete
// demo devices (a dosing pump and an environmental sensor) exercising the
// full wiring of bus, topology, and persistence. Lifecycle progression
// mirrors the explicit-state-machine idiom the teacher applies to its
// circuit breaker embedded in ratelimit.domainState.
package devices

import (
	"context"
	"fmt"

	"github.com/seangreaves-90/hydrogarden/component"
	"github.com/seangreaves-90/hydrogarden/models"
	"github.com/seangreaves-90/hydrogarden/telemetry/logging"
)

// Base provides the lifecycle state machine and property bag shared by
// every concrete device, embedding component.Bag for the §4.A operations.
type Base struct {
	*component.Bag
	id           models.ComponentID
	name         string
	assemblyType string
	log          logging.Logger

	state models.LifecycleState
}

// NewBase constructs the shared device scaffolding. Concrete devices embed
// Base and add their own initialize/start/stop hooks.
func NewBase(id models.ComponentID, name, assemblyType string, log logging.Logger) *Base {
	return &Base{
		Bag:          component.New(id, log),
		id:           id,
		name:         name,
		assemblyType: assemblyType,
		log:          log,
		state:        models.StateCreated,
	}
}

// ID returns the device's stable identifier.
func (b *Base) ID() models.ComponentID { return b.id }

// PropertyBag exposes the underlying property bag for collaborators needing the
// raw §4.A surface (persistence.Device contract).
func (b *Base) PropertyBag() *component.Bag { return b.Bag }

// State returns the current lifecycle state.
func (b *Base) State() models.LifecycleState { return b.state }

func (b *Base) recordStandardProperties() {
	b.SetProperty("Id", b.id.String(), nil)
	b.SetProperty("Name", b.name, nil)
	b.SetProperty("AssemblyType", b.assemblyType, nil)
	b.setState(models.StateCreated)
}

func (b *Base) setState(s models.LifecycleState) {
	b.state = s
	b.SetProperty("State", string(s), nil)
}

// InitializeBase progresses Created → Initializing → Ready and records the
// standard properties named in §6. A transition to Error is a sink.
func (b *Base) InitializeBase(ctx context.Context, hook func(ctx context.Context) error) error {
	if b.state == models.StateError {
		return fmt.Errorf("device %s: initialize not allowed from %s", b.id, b.state)
	}
	b.recordStandardProperties()
	b.setState(models.StateInitializing)
	if hook != nil {
		if err := hook(ctx); err != nil {
			b.setState(models.StateError)
			return err
		}
	}
	b.setState(models.StateReady)
	return nil
}

// StartBase requires Ready and transitions to Running.
func (b *Base) StartBase(ctx context.Context, hook func(ctx context.Context) error) error {
	if b.state != models.StateReady {
		return fmt.Errorf("device %s: start requires Ready, got %s", b.id, b.state)
	}
	if hook != nil {
		if err := hook(ctx); err != nil {
			b.setState(models.StateError)
			return err
		}
	}
	b.setState(models.StateRunning)
	return nil
}

// StopBase requires Running and transitions through Stopping to Ready.
func (b *Base) StopBase(ctx context.Context, hook func(ctx context.Context) error) error {
	if b.state != models.StateRunning {
		return fmt.Errorf("device %s: stop requires Running, got %s", b.id, b.state)
	}
	b.setState(models.StateStopping)
	if hook != nil {
		if err := hook(ctx); err != nil {
			b.setState(models.StateError)
			return err
		}
	}
	b.setState(models.StateReady)
	return nil
}

// ReloadDefaultsBase resets the bag's non-standard properties to defaults,
// used by the configuration-reinitialize recovery strategy.
func (b *Base) ReloadDefaultsBase(defaults map[string]any) {
	for name, value := range defaults {
		b.SetProperty(name, value, nil)
	}
}
