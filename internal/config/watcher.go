package config

import (
	"context"
	"os"
	"sync"
	"time"

	apperrors "wfo/internal/errors"
	"wfo/internal/logger"
)

// ConfigUpdateCallback receives each successfully reloaded configuration
type ConfigUpdateCallback func(*Config) error

// ConfigWatcher polls the configuration file and reloads it on change.
// Invalid files are logged and skipped; the last good config stays in effect.
type ConfigWatcher struct {
	configPath    string
	checkInterval time.Duration
	lastModTime   time.Time
	callbacks     []ConfigUpdateCallback
	log           logger.Logger
	mu            sync.RWMutex
	running       bool
}

// NewConfigWatcher creates a new configuration watcher
func NewConfigWatcher(configPath string, checkInterval time.Duration, log logger.Logger) *ConfigWatcher {
	if log == nil {
		log = logger.GetGlobalLogger()
	}
	w := &ConfigWatcher{
		configPath:    configPath,
		checkInterval: checkInterval,
		log:           log.WithField("component", "config_watcher"),
	}
	if stat, err := os.Stat(configPath); err == nil {
		w.lastModTime = stat.ModTime()
	}
	return w
}

// AddCallback adds a callback for configuration updates
func (w *ConfigWatcher) AddCallback(callback ConfigUpdateCallback) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.callbacks = append(w.callbacks, callback)
}

// Start blocks until ctx is done
func (w *ConfigWatcher) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return nil
	}
	w.running = true
	w.mu.Unlock()

	w.log.Info("Starting configuration watcher", "path", w.configPath)

	ticker := time.NewTicker(w.checkInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.mu.Lock()
			w.running = false
			w.mu.Unlock()
			w.log.Info("Configuration watcher stopped")
			return ctx.Err()

		case <-ticker.C:
			if err := w.checkAndReload(); err != nil {
				w.log.Warn("Error checking configuration", "error", err)
			}
		}
	}
}

func (w *ConfigWatcher) checkAndReload() error {
	stat, err := os.Stat(w.configPath)
	if err != nil {
		return apperrors.NewAppError(apperrors.ErrCodeInvalidConfig, "failed to stat config file", err)
	}

	modTime := stat.ModTime()
	if !modTime.After(w.lastModTime) {
		return nil
	}

	newConfig, err := Load(w.configPath)
	if err != nil {
		return err
	}
	if err := newConfig.Validate(); err != nil {
		return err
	}
	w.lastModTime = modTime

	w.mu.RLock()
	callbacks := make([]ConfigUpdateCallback, len(w.callbacks))
	copy(callbacks, w.callbacks)
	w.mu.RUnlock()

	for _, callback := range callbacks {
		if err := callback(newConfig); err != nil {
			w.log.Warn("Configuration update callback error", "error", err)
		}
	}

	w.log.Info("Configuration reloaded", "path", w.configPath)
	return nil
}

// IsRunning returns whether the watcher is currently running
func (w *ConfigWatcher) IsRunning() bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.running
}
