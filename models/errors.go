package models

import (
	"strings"
	"time"
)

// ErrorSource classifies where an Error originated.
type ErrorSource string

const (
	SourceDevice        ErrorSource = "Device"
	SourceService        ErrorSource = "Service"
	SourceCommunication ErrorSource = "Communication"
	SourceEventSystem    ErrorSource = "EventSystem"
	SourceStorage       ErrorSource = "Storage"
	SourceRecovery      ErrorSource = "Recovery"
	SourceSecurity      ErrorSource = "Security"
	SourceUnknown       ErrorSource = "Unknown"
)

// UnrecoverableCodes lists error codes that can never be recovered from
// regardless of the recoverable flag (§7: "errors whose code is classified
// unrecoverable").
var UnrecoverableCodes = map[string]struct{}{
	"OutOfMemory":    {},
	"StackOverflow":  {},
}

// Error is a single recorded fault, deduplicated by (DeviceID, Code) within
// the error monitor's sliding window.
type Error struct {
	DeviceID         ComponentID
	Code             string
	Message          string
	Severity         Severity
	Source           ErrorSource
	Transient        bool
	Recoverable      bool
	Context          map[string]any
	Exception        error
	CorrelationID    string
	Timestamp        time.Time
	RecoveryAttempts int
	LastRecoveryAt   time.Time
}

// Category returns the classification derived from the error code's prefix
// up to the first dot, or the whole code when no dot is present.
func (e Error) Category() string {
	if idx := strings.IndexByte(e.Code, '.'); idx >= 0 {
		return e.Code[:idx]
	}
	return e.Code
}

const (
	maxBackoff     = 600 * time.Second
	maxBackoffExp  = 9
	defaultMaxAttempts = 3
)

// Backoff returns the exponential backoff interval derived from the number
// of recovery attempts already made: 2^min(attempts, 9) seconds, so at most
// 512s, and never more than 600s.
func (e Error) Backoff() time.Duration {
	exp := e.RecoveryAttempts
	if exp > maxBackoffExp {
		exp = maxBackoffExp
	}
	d := time.Duration(1<<uint(exp)) * time.Second
	if d > maxBackoff || d <= 0 {
		return maxBackoff
	}
	return d
}

// IsUnrecoverableCode reports whether this error's code is in the
// unconditionally-unrecoverable list.
func (e Error) IsUnrecoverableCode() bool {
	_, ok := UnrecoverableCodes[e.Code]
	return ok
}

// CanAttemptRecovery implements the §3 predicate:
// recoverable AND attempts < maxAttempts AND (now - lastRecoveryAt) > backoff.
func (e Error) CanAttemptRecovery(now time.Time, maxAttempts int) bool {
	if maxAttempts <= 0 {
		maxAttempts = defaultMaxAttempts
	}
	if !e.Recoverable || e.IsUnrecoverableCode() {
		return false
	}
	if e.RecoveryAttempts >= maxAttempts {
		return false
	}
	if e.LastRecoveryAt.IsZero() {
		return true
	}
	return now.Sub(e.LastRecoveryAt) > e.Backoff()
}
