package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDefaultMetadataFor(t *testing.T) {
	t.Run("well-known property returns its fixed metadata", func(t *testing.T) {
		m := DefaultMetadataFor("Name")
		assert.False(t, m.IsEditable)
		assert.True(t, m.IsVisible)
		assert.Equal(t, "Name", m.DisplayName)
	})

	t.Run("unknown property gets an editable default", func(t *testing.T) {
		m := DefaultMetadataFor("FlowRateMlPerMin")
		assert.True(t, m.IsEditable)
		assert.True(t, m.IsVisible)
		assert.Equal(t, "FlowRateMlPerMin", m.DisplayName)
	})
}

func TestNewComponentIDIsUnique(t *testing.T) {
	a := NewComponentID()
	b := NewComponentID()
	assert.NotEqual(t, a, b)
}
