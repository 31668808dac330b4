// Package models holds the data types shared across the event bus, topology
// service, persistence service, and recovery subsystems: components,
// property metadata, events, connections, and error records.
package models

import (
	"time"

	"github.com/google/uuid"
)

// LifecycleState is the state a Component moves through during its life.
type LifecycleState string

const (
	StateCreated      LifecycleState = "Created"
	StateInitializing LifecycleState = "Initializing"
	StateReady        LifecycleState = "Ready"
	StateRunning      LifecycleState = "Running"
	StateStopping     LifecycleState = "Stopping"
	StateError        LifecycleState = "Error"
	StateDisposed     LifecycleState = "Disposed"
)

// PropertyMetadata describes how a property should be presented and whether
// it may be edited. Metadata is sticky: once recorded for a property name,
// a later setProperty call that omits metadata must not erase it.
type PropertyMetadata struct {
	IsEditable  bool   `json:"isEditable"`
	IsVisible   bool   `json:"isVisible"`
	DisplayName string `json:"displayName"`
	Description string `json:"description"`
}

// wellKnownMetadata carries per-component overrides for standard properties
// recorded during device initialization (§6 of the spec). Replaces the
// reflection-driven mirroring in the original source with an explicit table.
var wellKnownMetadata = map[string]PropertyMetadata{
	"Id":           {IsEditable: false, IsVisible: true, DisplayName: "Id", Description: "Stable component identifier"},
	"Name":         {IsEditable: false, IsVisible: true, DisplayName: "Name", Description: "Human readable component name"},
	"AssemblyType": {IsEditable: false, IsVisible: true, DisplayName: "Assembly Type", Description: "Component type tag"},
	"State":        {IsEditable: false, IsVisible: true, DisplayName: "State", Description: "Component lifecycle state"},
}

// DefaultMetadataFor returns the metadata a property should receive when
// none has ever been supplied for it, honoring well-known overrides.
func DefaultMetadataFor(name string) PropertyMetadata {
	if m, ok := wellKnownMetadata[name]; ok {
		return m
	}
	return PropertyMetadata{
		IsEditable:  true,
		IsVisible:   true,
		DisplayName: name,
		Description: "Property " + name,
	}
}

// ComponentID is a stable 128-bit identifier for a component.
type ComponentID = uuid.UUID

// NewComponentID generates a fresh component identifier.
func NewComponentID() ComponentID { return uuid.New() }

// ChangeEvent is emitted by the property bag whenever a property transitions
// to a new value; it carries enough detail for the persistence service and
// event bus to build a PropertyChanged event without re-reading the
// component.
type ChangeEvent struct {
	ComponentID  ComponentID
	PropertyName string
	PropertyType string
	OldValue     any
	NewValue     any
	Metadata     PropertyMetadata
	At           time.Time
}

// ChangeHandler receives exactly one ChangeEvent per property mutation where
// the new value differs from the prior value. A component binds exactly one
// handler at a time.
type ChangeHandler func(ev ChangeEvent)
