package component

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/seangreaves-90/hydrogarden/models"
	"github.com/seangreaves-90/hydrogarden/telemetry/logging"
)

func TestBagSetAndGetProperty(t *testing.T) {
	b := New(models.NewComponentID(), logging.New(nil))

	v, ok := b.GetProperty("PH")
	assert.False(t, ok)
	assert.Nil(t, v)

	b.SetProperty("PH", 7.0, nil)
	v, ok = b.GetProperty("PH")
	require.True(t, ok)
	assert.Equal(t, 7.0, v)
}

func TestBagSetPropertyMetadataStickiness(t *testing.T) {
	b := New(models.NewComponentID(), logging.New(nil))
	custom := models.PropertyMetadata{IsEditable: false, DisplayName: "pH Level"}

	b.SetProperty("PH", 7.0, &custom)
	assert.Equal(t, custom, b.GetMetadata("PH"))

	b.SetProperty("PH", 6.8, nil)
	assert.Equal(t, custom, b.GetMetadata("PH"), "metadata must survive an update that omits it")
}

func TestBagSetPropertyNoChangeEventWhenValueUnchanged(t *testing.T) {
	b := New(models.NewComponentID(), logging.New(nil))
	var events []models.ChangeEvent
	b.SetChangeHandler(func(ev models.ChangeEvent) { events = append(events, ev) })

	b.SetProperty("PH", 7.0, nil)
	b.SetProperty("PH", 7.0, nil)

	require.Len(t, events, 1)
	assert.Equal(t, 7.0, events[0].NewValue)
}

func TestBagGetAllPropertiesSnapshot(t *testing.T) {
	b := New(models.NewComponentID(), logging.New(nil))
	b.SetProperty("PH", 7.0, nil)
	b.SetProperty("ElectricalConductivityMS", 1.2, nil)

	props := b.GetAllProperties()
	assert.Equal(t, 7.0, props["PH"])
	assert.Equal(t, 1.2, props["ElectricalConductivityMS"])

	props["PH"] = 0.0
	v, _ := b.GetProperty("PH")
	assert.Equal(t, 7.0, v, "mutating the snapshot must not affect the bag")
}

func TestBagLoadPropertiesDoesNotEmitChangeEvents(t *testing.T) {
	b := New(models.NewComponentID(), logging.New(nil))
	fired := false
	b.SetChangeHandler(func(ev models.ChangeEvent) { fired = true })

	b.LoadProperties(map[string]any{"PH": 7.0}, map[string]models.PropertyMetadata{
		"PH": {DisplayName: "pH"},
	})

	assert.False(t, fired)
	v, ok := b.GetProperty("PH")
	require.True(t, ok)
	assert.Equal(t, 7.0, v)
}

func TestBagLoadPropertiesClearsEntriesAbsentFromSnapshot(t *testing.T) {
	b := New(models.NewComponentID(), logging.New(nil))
	b.SetProperty("PH", 7.0, nil)
	b.SetProperty("FlowRate", 50.0, nil)

	b.LoadProperties(map[string]any{"FlowRate": 60.0}, map[string]models.PropertyMetadata{
		"FlowRate": {DisplayName: "Flow Rate"},
	})

	_, ok := b.GetProperty("PH")
	assert.False(t, ok, "a property missing from the loaded snapshot must not survive the load")

	v, ok := b.GetProperty("FlowRate")
	require.True(t, ok)
	assert.Equal(t, 60.0, v)

	all := b.GetAllProperties()
	assert.Len(t, all, 1, "LoadProperties must clear both maps before repopulating, not upsert over stale entries")
}

func TestBagUpdateOptimisticSucceeds(t *testing.T) {
	b := New(models.NewComponentID(), logging.New(nil))
	b.SetProperty("TotalDosedMl", 10.0, nil)

	ok := b.UpdateOptimistic(context.Background(), "TotalDosedMl", func(current any) any {
		total, _ := current.(float64)
		return total + 5.0
	})

	require.True(t, ok)
	v, _ := b.GetProperty("TotalDosedMl")
	assert.Equal(t, 15.0, v)
}

func TestBagUpdateOptimisticConcurrentWriters(t *testing.T) {
	b := New(models.NewComponentID(), logging.New(nil))
	b.SetProperty("TotalDosedMl", 0.0, nil)

	const writers = 8
	results := make([]bool, writers)
	var wg sync.WaitGroup
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			results[idx] = b.UpdateOptimistic(context.Background(), "TotalDosedMl", func(current any) any {
				total, _ := current.(float64)
				return total + 1.0
			})
		}(i)
	}
	wg.Wait()

	var succeeded float64
	for _, ok := range results {
		if ok {
			succeeded++
		}
	}

	v, _ := b.GetProperty("TotalDosedMl")
	assert.Equal(t, succeeded, v, "final value must equal the count of updates that reported success")
}
