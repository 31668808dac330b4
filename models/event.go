package models

import (
	"time"

	"github.com/google/uuid"
)

// EventKind tags which payload an Event carries.
type EventKind string

const (
	KindPropertyChanged EventKind = "PropertyChanged"
	KindLifecycle       EventKind = "Lifecycle"
	KindCommand         EventKind = "Command"
	KindTelemetry       EventKind = "Telemetry"
	KindAlert           EventKind = "Alert"
	KindSystem          EventKind = "System"
	KindTimer           EventKind = "Timer"
	KindCustom          EventKind = "Custom"
)

// Priority orders dispatch within the async worker pool; higher values jump
// the queue ahead of lower ones, equal priorities stay FIFO.
type Priority int

const (
	PriorityLow Priority = iota
	PriorityNormal
	PriorityHigh
	PriorityCritical
)

// Severity classifies alerts and errors.
type Severity string

const (
	SeverityInfo     Severity = "Info"
	SeverityWarning  Severity = "Warning"
	SeverityError    Severity = "Error"
	SeverityCritical Severity = "Critical"
)

// Routing directs delivery of an event: which targets it is addressed to in
// addition to subscription matching, whether it should be durably persisted
// before dispatch, its priority, and an optional ack/timeout contract.
type Routing struct {
	TargetIDs    map[ComponentID]struct{}
	Persist      bool
	Priority     Priority
	RequiresAck  bool
	Timeout      time.Duration
}

// DefaultRouting returns the routing that applies when an event carries none.
func DefaultRouting() Routing {
	return Routing{Priority: PriorityNormal}
}

// PropertyChangedPayload is carried by KindPropertyChanged events.
type PropertyChangedPayload struct {
	PropertyName string
	PropertyType string
	OldValue     any
	NewValue     any
	Metadata     PropertyMetadata
}

// LifecyclePayload is carried by KindLifecycle events.
type LifecyclePayload struct {
	NewState LifecycleState
	Details  string
}

// CommandPayload is carried by KindCommand events.
type CommandPayload struct {
	Name       string
	Parameters map[string]any
}

// TelemetryPayload is carried by KindTelemetry events.
type TelemetryPayload struct {
	Readings map[string]float64
	Units    map[string]string
}

// AlertPayload is carried by KindAlert events. Acknowledged is a plain field
// set by whoever builds the payload; the error monitor keeps no record of
// alert acknowledgements.
type AlertPayload struct {
	Severity     Severity
	Message      string
	Data         map[string]any
	Acknowledged bool
}

// Event is the common envelope for everything flowing through the bus.
type Event struct {
	EventID   uuid.UUID
	SourceID  ComponentID
	DeviceID  ComponentID
	Timestamp time.Time
	Kind      EventKind
	Routing   Routing

	PropertyChanged *PropertyChangedPayload
	Lifecycle       *LifecyclePayload
	Command         *CommandPayload
	Telemetry       *TelemetryPayload
	Alert           *AlertPayload
}

// NewEvent constructs an Event with a fresh id, the current timestamp and
// Routing set to DefaultRouting().
func NewEvent(sourceID, deviceID ComponentID, kind EventKind) Event {
	return Event{
		EventID:   uuid.New(),
		SourceID:  sourceID,
		DeviceID:  deviceID,
		Timestamp: time.Now(),
		Kind:      kind,
		Routing:   DefaultRouting(),
	}
}

// Clone returns a deep-enough copy for passing through transformers without
// aliasing routing's target set.
func (e Event) Clone() Event {
	c := e
	if e.Routing.TargetIDs != nil {
		c.Routing.TargetIDs = make(map[ComponentID]struct{}, len(e.Routing.TargetIDs))
		for k := range e.Routing.TargetIDs {
			c.Routing.TargetIDs[k] = struct{}{}
		}
	}
	return c
}
