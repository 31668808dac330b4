// Package component implements the property bag every device and subsystem
// composes over, mirroring the mutex-guarded state pattern the teacher uses
// in engine/internal/ratelimit for its shard bookkeeping. Values are stored
// alongside a monotonically increasing version so updateOptimistic can
// detect a losing compare-and-swap without holding the lock across fn.
package component

import (
	"context"
	"fmt"
	"time"

	"github.com/seangreaves-90/hydrogarden/models"
	"github.com/seangreaves-90/hydrogarden/telemetry/logging"

	"sync"
)

var optimisticBackoffs = []time.Duration{10 * time.Millisecond, 20 * time.Millisecond, 30 * time.Millisecond}

type propertySlot struct {
	value    any
	metadata models.PropertyMetadata
	version  uint64
}

// Bag is the property bag collaborator named in §4.A: getProperty,
// setProperty, getMetadata, getAllProperties, getAllMetadata, loadProperties,
// setChangeHandler, updateOptimistic.
type Bag struct {
	id     models.ComponentID
	log    logging.Logger
	mu     sync.RWMutex
	props  map[string]propertySlot
	handle models.ChangeHandler
}

// New creates an empty property bag for a component identity.
func New(id models.ComponentID, log logging.Logger) *Bag {
	return &Bag{id: id, log: log, props: make(map[string]propertySlot)}
}

// ID returns the owning component's identifier.
func (b *Bag) ID() models.ComponentID { return b.id }

// SetChangeHandler installs the single handler invoked on each committed
// mutation. A nil handler disables notification.
func (b *Bag) SetChangeHandler(h models.ChangeHandler) {
	b.mu.Lock()
	b.handle = h
	b.mu.Unlock()
}

// GetProperty returns the current value for name and whether it is set.
func (b *Bag) GetProperty(name string) (any, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	slot, ok := b.props[name]
	if !ok {
		return nil, false
	}
	return slot.value, true
}

// GetMetadata returns the last non-nil metadata ever supplied for name,
// falling back to the derived default when none was ever supplied.
func (b *Bag) GetMetadata(name string) models.PropertyMetadata {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if slot, ok := b.props[name]; ok {
		return slot.metadata
	}
	return models.DefaultMetadataFor(name)
}

// GetAllProperties returns a snapshot copy of every property value.
func (b *Bag) GetAllProperties() map[string]any {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make(map[string]any, len(b.props))
	for k, v := range b.props {
		out[k] = v.value
	}
	return out
}

// GetAllMetadata returns a snapshot copy of every property's metadata.
func (b *Bag) GetAllMetadata() map[string]models.PropertyMetadata {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make(map[string]models.PropertyMetadata, len(b.props))
	for k, v := range b.props {
		out[k] = v.metadata
	}
	return out
}

// SetProperty writes value and, when supplied, metadata; unsupplied metadata
// falls back to the prior metadata or a derived default. No change event is
// emitted when the new value equals the prior value.
func (b *Bag) SetProperty(name string, value any, metadata *models.PropertyMetadata) {
	b.mu.Lock()
	prev, existed := b.props[name]
	meta := prev.metadata
	if metadata != nil {
		meta = *metadata
	} else if !existed {
		meta = models.DefaultMetadataFor(name)
	}
	if existed && equalValues(prev.value, value) {
		b.props[name] = propertySlot{value: value, metadata: meta, version: prev.version}
		b.mu.Unlock()
		return
	}
	next := propertySlot{value: value, metadata: meta, version: prev.version + 1}
	b.props[name] = next
	handler := b.handle
	b.mu.Unlock()

	if handler != nil {
		handler(models.ChangeEvent{
			ComponentID:  b.id,
			PropertyName: name,
			PropertyType: fmt.Sprintf("%T", value),
			OldValue:     prev.value,
			NewValue:     value,
			Metadata:     meta,
			At:           time.Now(),
		})
	}
}

// LoadProperties clears both the property and metadata maps and repopulates
// them from props/metadata atomically, without emitting change events for
// any entry.
func (b *Bag) LoadProperties(props map[string]any, metadata map[string]models.PropertyMetadata) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.props = make(map[string]propertySlot, len(props))
	for name, value := range props {
		meta, ok := metadata[name]
		if !ok {
			meta = models.DefaultMetadataFor(name)
		}
		b.props[name] = propertySlot{value: value, metadata: meta}
	}
}

// UpdateOptimistic reads the current value, computes the replacement via fn,
// and compare-and-swaps it in. It retries up to 3 times across the
// 10ms/20ms/30ms backoff schedule before giving up and logging a warning.
func (b *Bag) UpdateOptimistic(ctx context.Context, name string, fn func(current any) any) bool {
	for attempt := 0; ; attempt++ {
		b.mu.RLock()
		slot := b.props[name]
		b.mu.RUnlock()

		next := fn(slot.value)

		b.mu.Lock()
		current := b.props[name]
		if current.version != slot.version {
			b.mu.Unlock()
			if attempt >= len(optimisticBackoffs) {
				if b.log != nil {
					b.log.WarnCtx(ctx, fmt.Sprintf("updateOptimistic exhausted retries for %s on component %s", name, b.id))
				}
				return false
			}
			select {
			case <-ctx.Done():
				return false
			case <-time.After(optimisticBackoffs[attempt]):
			}
			continue
		}

		meta := current.metadata
		updated := propertySlot{value: next, metadata: meta, version: current.version + 1}
		b.props[name] = updated
		handler := b.handle
		b.mu.Unlock()

		if handler != nil {
			handler(models.ChangeEvent{
				ComponentID:  b.id,
				PropertyName: name,
				PropertyType: fmt.Sprintf("%T", next),
				OldValue:     current.value,
				NewValue:     next,
				Metadata:     meta,
				At:           time.Now(),
			})
		}
		return true
	}
}

func equalValues(a, b any) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a == b
}
