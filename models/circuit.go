package models

import "time"

// CircuitStateKind is one of the three circuit breaker FSM states.
type CircuitStateKind string

const (
	CircuitClosed   CircuitStateKind = "Closed"
	CircuitOpen     CircuitStateKind = "Open"
	CircuitHalfOpen CircuitStateKind = "HalfOpen"
)

// CircuitState is a point-in-time snapshot of one breaker's counters.
type CircuitState struct {
	State            CircuitStateKind
	Failures         int
	Successes        int
	LastStateChange  time.Time
	LastFailureTime  time.Time
}

// CircuitStateChange is emitted whenever a breaker transitions states.
type CircuitStateChange struct {
	ServiceName     string
	ResultType      string
	OldState        CircuitStateKind
	NewState        CircuitStateKind
	LastFailureTime time.Time
	Reason          string
}
