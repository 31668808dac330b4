package devices

import (
	"context"
	"time"

	"github.com/seangreaves-90/hydrogarden/models"
	"github.com/seangreaves-90/hydrogarden/telemetry/logging"
)

// Pump is a demo dosing-pump device: it exposes a FlowRateMlPerMin property
// and a Dose command, and Dose returns errCommunicationLost if its simulated
// hardware link is unavailable.
type Pump struct {
	*Base
	linkUp func() bool
}

// NewPump constructs a demo pump device. linkUp simulates the hardware
// communication channel; a nil linkUp is treated as always-up.
func NewPump(id models.ComponentID, name string, linkUp func() bool, log logging.Logger) *Pump {
	if linkUp == nil {
		linkUp = func() bool { return true }
	}
	return &Pump{Base: NewBase(id, name, "Pump", log), linkUp: linkUp}
}

// Initialize satisfies the §6 device contract.
func (p *Pump) Initialize(ctx context.Context) error {
	return p.InitializeBase(ctx, func(ctx context.Context) error {
		p.SetProperty("FlowRateMlPerMin", 0.0, nil)
		p.SetProperty("TotalDosedMl", 0.0, nil)
		return nil
	})
}

// Start satisfies the §6 device contract.
func (p *Pump) Start(ctx context.Context) error {
	return p.StartBase(ctx, nil)
}

// Stop satisfies the §6 device contract.
func (p *Pump) Stop(ctx context.Context) error {
	return p.StopBase(ctx, func(ctx context.Context) error {
		p.SetProperty("FlowRateMlPerMin", 0.0, nil)
		return nil
	})
}

// ReloadDefaults implements recovery.Reloadable.
func (p *Pump) ReloadDefaults(ctx context.Context) error {
	p.ReloadDefaultsBase(map[string]any{"FlowRateMlPerMin": 0.0})
	return nil
}

// Dose runs the pump at rateMlPerMin for the given duration, updating its
// properties via the optimistic-update path so concurrent feedback from a
// controller cannot race the dose total.
func (p *Pump) Dose(ctx context.Context, rateMlPerMin float64, dur time.Duration) error {
	if !p.linkUp() {
		return errCommunicationLost
	}
	p.SetProperty("FlowRateMlPerMin", rateMlPerMin, nil)
	dosedMl := rateMlPerMin * dur.Minutes()
	ok := p.UpdateOptimistic(ctx, "TotalDosedMl", func(current any) any {
		total, _ := current.(float64)
		return total + dosedMl
	})
	if !ok {
		return errOptimisticUpdateFailed
	}
	return nil
}
