package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultsAreUsable(t *testing.T) {
	d := Defaults()
	assert.Equal(t, "noop", d.MetricsBackend)
	assert.Equal(t, 4, d.WorkerConcurrency)
	assert.Equal(t, 3, d.DefaultCircuit.MaxFailures)
}

func TestNewManagerFallsBackToDefaultsWhenFileMissing(t *testing.T) {
	path := filepath.Join(t.TempDir(), "does-not-exist.yaml")
	m, err := NewManager(path)
	require.NoError(t, err)
	assert.Equal(t, Defaults(), m.Current())
}

func TestNewManagerLoadsExistingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "hydrogarden.yaml")
	yamlBody := "storePath: custom/store.json\nworkerConcurrency: 9\n"
	require.NoError(t, os.WriteFile(path, []byte(yamlBody), 0o644))

	m, err := NewManager(path)
	require.NoError(t, err)
	cfg := m.Current()
	assert.Equal(t, "custom/store.json", cfg.StorePath)
	assert.Equal(t, 9, cfg.WorkerConcurrency)
	assert.Equal(t, "noop", cfg.MetricsBackend, "fields absent from the file must still come from Defaults()")
}

func TestSaveThenLoadRoundTrips(t *testing.T) {
	path := filepath.Join(t.TempDir(), "hydrogarden.yaml")
	m, err := NewManager(path)
	require.NoError(t, err)

	cfg := m.Current()
	cfg.MetricsBackend = "prometheus"
	cfg.ErrorWindow = 45 * time.Second
	require.NoError(t, m.Save(cfg))

	reloaded, err := NewManager(path)
	require.NoError(t, err)
	assert.Equal(t, "prometheus", reloaded.Current().MetricsBackend)
	assert.Equal(t, 45*time.Second, reloaded.Current().ErrorWindow)
}

func TestWatchPushesReloadedConfigOnWrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "hydrogarden.yaml")
	m, err := NewManager(path)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	changes := make(chan Config, 1)
	require.NoError(t, m.Watch(ctx, func(cfg Config) {
		select {
		case changes <- cfg:
		default:
		}
	}))

	cfg := m.Current()
	cfg.WorkerConcurrency = 77
	require.NoError(t, m.Save(cfg))

	select {
	case got := <-changes:
		assert.Equal(t, 77, got.WorkerConcurrency)
	case <-time.After(5 * time.Second):
		t.Fatal("Watch never observed the write to the config file")
	}
}

func TestWatchIsNoOpWhenCalledTwice(t *testing.T) {
	path := filepath.Join(t.TempDir(), "hydrogarden.yaml")
	m, err := NewManager(path)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	require.NoError(t, m.Watch(ctx, func(Config) {}))
	require.NoError(t, m.Watch(ctx, func(Config) {}), "a second Watch call must not error or start a second watcher")
}

func TestStopWatchingIsIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "hydrogarden.yaml")
	m, err := NewManager(path)
	require.NoError(t, err)

	assert.NotPanics(t, func() {
		m.StopWatching()
		m.StopWatching()
	})
}
