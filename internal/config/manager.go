package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

// Features holds the optional, hot-reloadable feature file. Everything here
// has a safe default; the file may be absent entirely.
type Features struct {
	Triggers struct {
		ConditionsFailClosed bool `yaml:"conditions_fail_closed"`
		DefaultThreshold     int  `yaml:"default_failure_threshold"`
	} `yaml:"triggers"`
	Streaming struct {
		RingCapacity  int `yaml:"ring_capacity"`
		SubscriberBuf int `yaml:"subscriber_buffer"`
	} `yaml:"streaming"`
	Approval struct {
		TimeoutSeconds int `yaml:"timeout_seconds"`
	} `yaml:"approval"`
}

// ChangeHandler is invoked after a successful reload with the new snapshot.
type ChangeHandler func(f Features)

// Manager loads a features YAML file and hot-reloads it on change.
type Manager struct {
	path     string
	logger   *zap.Logger
	watcher  *fsnotify.Watcher
	stopCh   chan struct{}
	handlers []ChangeHandler

	mu      sync.RWMutex
	current Features
}

// NewManager reads the file at path (if it exists) and prepares a watcher.
func NewManager(path string, logger *zap.Logger) (*Manager, error) {
	m := &Manager{path: path, logger: logger, stopCh: make(chan struct{})}
	m.current = defaultFeatures()
	if path != "" {
		if err := m.reload(); err != nil && !os.IsNotExist(err) {
			return nil, err
		}
	}
	return m, nil
}

func defaultFeatures() Features {
	var f Features
	f.Triggers.DefaultThreshold = 5
	f.Streaming.RingCapacity = 256
	f.Streaming.SubscriberBuf = 256
	f.Approval.TimeoutSeconds = 3600
	return f
}

// Current returns the latest snapshot.
func (m *Manager) Current() Features {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}

// OnChange registers a handler called after every successful reload.
func (m *Manager) OnChange(h ChangeHandler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers = append(m.handlers, h)
}

// Start begins watching the file directory for changes. No-op when no path
// was configured.
func (m *Manager) Start() error {
	if m.path == "" {
		return nil
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	m.watcher = w
	if err := w.Add(filepath.Dir(m.path)); err != nil {
		return fmt.Errorf("watch %s: %w", m.path, err)
	}
	go m.loop()
	return nil
}

func (m *Manager) loop() {
	// Debounce rapid write bursts from editors and config mounts.
	var pending <-chan time.Time
	for {
		select {
		case <-m.stopCh:
			return
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
			pending = time.After(200 * time.Millisecond)
		case err, ok := <-m.watcher.Errors:
			if !ok {
				return
			}
			m.logger.Warn("Config watcher error", zap.Error(err))
		case <-pending:
			pending = nil
			if err := m.reload(); err != nil {
				m.logger.Error("Failed to reload features file",
					zap.String("path", m.path), zap.Error(err))
			}
		}
	}
}

func (m *Manager) reload() error {
	raw, err := os.ReadFile(m.path)
	if err != nil {
		return err
	}
	f := defaultFeatures()
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return fmt.Errorf("parse %s: %w", m.path, err)
	}

	m.mu.Lock()
	m.current = f
	handlers := make([]ChangeHandler, len(m.handlers))
	copy(handlers, m.handlers)
	m.mu.Unlock()

	m.logger.Info("Features reloaded", zap.String("path", m.path))
	for _, h := range handlers {
		h(f)
	}
	return nil
}

// Stop shuts the watcher down.
func (m *Manager) Stop() {
	close(m.stopCh)
	if m.watcher != nil {
		_ = m.watcher.Close()
	}
}
