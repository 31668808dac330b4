package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestErrorCategory(t *testing.T) {
	t.Run("dotted code returns prefix", func(t *testing.T) {
		e := Error{Code: "persistence.flush-failed"}
		assert.Equal(t, "persistence", e.Category())
	})

	t.Run("bare code returns itself", func(t *testing.T) {
		e := Error{Code: "OutOfMemory"}
		assert.Equal(t, "OutOfMemory", e.Category())
	})
}

func TestErrorBackoff(t *testing.T) {
	t.Run("grows exponentially with attempts", func(t *testing.T) {
		e0 := Error{RecoveryAttempts: 0}
		e1 := Error{RecoveryAttempts: 1}
		e2 := Error{RecoveryAttempts: 2}
		assert.Equal(t, 1*time.Second, e0.Backoff())
		assert.Equal(t, 2*time.Second, e1.Backoff())
		assert.Equal(t, 4*time.Second, e2.Backoff())
	})

	t.Run("caps the exponent at 9 (512s) for large attempt counts", func(t *testing.T) {
		e := Error{RecoveryAttempts: 30}
		assert.Equal(t, 512*time.Second, e.Backoff())
	})
}

func TestErrorIsUnrecoverableCode(t *testing.T) {
	assert.True(t, Error{Code: "OutOfMemory"}.IsUnrecoverableCode())
	assert.False(t, Error{Code: "persistence.flush-failed"}.IsUnrecoverableCode())
}

func TestErrorCanAttemptRecovery(t *testing.T) {
	now := time.Now()

	t.Run("rejects non-recoverable errors", func(t *testing.T) {
		e := Error{Recoverable: false}
		assert.False(t, e.CanAttemptRecovery(now, 3))
	})

	t.Run("rejects unconditionally unrecoverable codes even if flagged recoverable", func(t *testing.T) {
		e := Error{Recoverable: true, Code: "StackOverflow"}
		assert.False(t, e.CanAttemptRecovery(now, 3))
	})

	t.Run("rejects once attempts reach the max", func(t *testing.T) {
		e := Error{Recoverable: true, RecoveryAttempts: 3}
		assert.False(t, e.CanAttemptRecovery(now, 3))
	})

	t.Run("allows the first attempt with no prior recovery time", func(t *testing.T) {
		e := Error{Recoverable: true}
		assert.True(t, e.CanAttemptRecovery(now, 3))
	})

	t.Run("rejects a retry inside the backoff window", func(t *testing.T) {
		e := Error{Recoverable: true, RecoveryAttempts: 2, LastRecoveryAt: now}
		require.False(t, e.CanAttemptRecovery(now.Add(1*time.Second), 5))
	})

	t.Run("allows a retry once the backoff window has elapsed", func(t *testing.T) {
		e := Error{Recoverable: true, RecoveryAttempts: 1, LastRecoveryAt: now}
		assert.True(t, e.CanAttemptRecovery(now.Add(5*time.Second), 5))
	})

	t.Run("defaults maxAttempts when non-positive", func(t *testing.T) {
		e := Error{Recoverable: true, RecoveryAttempts: 3}
		assert.False(t, e.CanAttemptRecovery(now, 0))
	})
}
