// Package config loads the YAML deployment configuration and, when enabled,
// watches it for changes via fsnotify, the same manager-plus-watcher split
// as the teacher's engine/internal/runtime.RuntimeConfigManager and
// HotReloadSystem, stripped of that file's config-versioning and A/B-testing
// machinery — this system has no experiment framework to drive.
package config

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"
)

// CircuitConfig mirrors circuit.Config for YAML decoding without an import
// cycle back into the circuit package.
type CircuitConfig struct {
	MaxFailures         int           `yaml:"maxFailures"`
	ResetTimeout        time.Duration `yaml:"resetTimeout"`
	HalfOpenMaxAttempts int           `yaml:"halfOpenMaxAttempts"`
	HealthCheckInterval time.Duration `yaml:"healthCheckInterval"`
}

// Config is the top-level deployment configuration for the backbone.
type Config struct {
	StorePath         string                   `yaml:"storePath"`
	EventStorePath    string                   `yaml:"eventStorePath"`
	BatchInterval     time.Duration            `yaml:"batchInterval"`
	WorkerConcurrency int                      `yaml:"workerConcurrency"`
	FailedEventPoll   time.Duration            `yaml:"failedEventPoll"`
	ErrorWindow       time.Duration            `yaml:"errorWindow"`
	RecoveryMaxAttempts int                    `yaml:"recoveryMaxAttempts"`
	DefaultCircuit    CircuitConfig            `yaml:"defaultCircuit"`
	PerServiceCircuit map[string]CircuitConfig `yaml:"perServiceCircuit"`
	MetricsBackend    string                   `yaml:"metricsBackend"` // "prometheus" | "otel" | "noop"
	HotReloadEnabled  bool                     `yaml:"hotReloadEnabled"`
}

// Defaults returns the configuration applied when no file is present.
func Defaults() Config {
	return Config{
		StorePath:         "data/store.json",
		EventStorePath:    "data/events.jsonl",
		BatchInterval:     1 * time.Second,
		WorkerConcurrency: 4,
		FailedEventPoll:   2 * time.Second,
		ErrorWindow:       30 * time.Second,
		RecoveryMaxAttempts: 3,
		DefaultCircuit: CircuitConfig{
			MaxFailures: 3, ResetTimeout: 60 * time.Second, HalfOpenMaxAttempts: 2, HealthCheckInterval: 30 * time.Second,
		},
		MetricsBackend: "noop",
	}
}

// Manager owns the current Config plus optional hot-reload wiring,
// following the RuntimeConfigManager/HotReloadSystem split in the teacher.
type Manager struct {
	path string

	mu      sync.RWMutex
	current Config

	watcher    *fsnotify.Watcher
	watchOnce  sync.Once
	stopWatch  chan struct{}
}

// NewManager loads path (or the defaults, if absent) into a Manager.
func NewManager(path string) (*Manager, error) {
	m := &Manager{path: path, stopWatch: make(chan struct{})}
	if err := m.Load(); err != nil {
		return nil, err
	}
	return m, nil
}

// Load (re)reads the config file from disk, falling back to Defaults() when
// it does not exist.
func (m *Manager) Load() error {
	if _, err := os.Stat(m.path); os.IsNotExist(err) {
		m.mu.Lock()
		m.current = Defaults()
		m.mu.Unlock()
		return nil
	}
	data, err := os.ReadFile(m.path)
	if err != nil {
		return fmt.Errorf("config: read %s: %w", m.path, err)
	}
	cfg := Defaults()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return fmt.Errorf("config: parse %s: %w", m.path, err)
	}
	m.mu.Lock()
	m.current = cfg
	m.mu.Unlock()
	return nil
}

// Current returns a copy of the currently loaded configuration.
func (m *Manager) Current() Config {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}

// Save writes cfg to the manager's backing path.
func (m *Manager) Save(cfg Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("config: marshal: %w", err)
	}
	if dir := filepath.Dir(m.path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("config: create dir: %w", err)
		}
	}
	if err := os.WriteFile(m.path, data, 0o644); err != nil {
		return err
	}
	m.mu.Lock()
	m.current = cfg
	m.mu.Unlock()
	return nil
}

// Watch starts an fsnotify watch on the config file's directory and, on
// every write to the file, reloads it and pushes the new Config to onChange.
// Watch is a no-op if the manager is already watching.
func (m *Manager) Watch(ctx context.Context, onChange func(Config)) error {
	var startErr error
	m.watchOnce.Do(func() {
		watcher, err := fsnotify.NewWatcher()
		if err != nil {
			startErr = fmt.Errorf("config: create watcher: %w", err)
			return
		}
		dir := filepath.Dir(m.path)
		if err := watcher.Add(dir); err != nil {
			startErr = fmt.Errorf("config: watch dir %s: %w", dir, err)
			_ = watcher.Close()
			return
		}
		m.watcher = watcher
		go m.watchLoop(ctx, onChange)
	})
	return startErr
}

func (m *Manager) watchLoop(ctx context.Context, onChange func(Config)) {
	defer m.watcher.Close()
	for {
		select {
		case ev, ok := <-m.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) != filepath.Clean(m.path) {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			if err := m.Load(); err != nil {
				continue
			}
			if onChange != nil {
				onChange(m.Current())
			}
		case _, ok := <-m.watcher.Errors:
			if !ok {
				return
			}
		case <-ctx.Done():
			return
		case <-m.stopWatch:
			return
		}
	}
}

// StopWatching terminates a previously started Watch loop.
func (m *Manager) StopWatching() {
	select {
	case <-m.stopWatch:
	default:
		close(m.stopWatch)
	}
}
