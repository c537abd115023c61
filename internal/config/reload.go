package config

import (
	"log/slog"
	"sync"
	"time"

	"github.com/dshills/plexus/internal/config/watcher"
)

// ReloadHandler receives the reloaded configuration, or the error that
// kept the file from loading. A failed reload leaves the caller's current
// configuration in force.
type ReloadHandler func(cfg *Config, err error)

// Watcher reloads a config file whenever it changes on disk.
type Watcher struct {
	path   string
	files  *watcher.Watcher
	logger *slog.Logger

	mu       sync.RWMutex
	handlers []ReloadHandler
}

// WatcherOption configures a Watcher.
type WatcherOption func(*watcherOptions)

type watcherOptions struct {
	debounce time.Duration
	logger   *slog.Logger
}

// WithDebounce sets how long the file must be quiet before reloading.
func WithDebounce(d time.Duration) WatcherOption {
	return func(o *watcherOptions) {
		o.debounce = d
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) WatcherOption {
	return func(o *watcherOptions) {
		if l != nil {
			o.logger = l
		}
	}
}

// NewWatcher creates a Watcher for the file at path.
func NewWatcher(path string, opts ...WatcherOption) *Watcher {
	o := watcherOptions{
		debounce: 100 * time.Millisecond,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(&o)
	}

	w := &Watcher{
		path:   path,
		logger: o.logger.With("component", "config", "path", path),
		files:  watcher.New(watcher.WithDebounce(o.debounce), watcher.WithLogger(o.logger)),
	}
	w.files.OnChange(w.handleFileChange)
	return w
}

// OnReload registers h.
func (w *Watcher) OnReload(h ReloadHandler) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.handlers = append(w.handlers, h)
}

// Start begins watching.
func (w *Watcher) Start() error {
	if err := w.files.Watch(w.path); err != nil {
		return err
	}
	return w.files.Start()
}

// Stop stops watching. Reloads in progress complete first.
func (w *Watcher) Stop() {
	w.files.Stop()
}

func (w *Watcher) handleFileChange(event watcher.Event) {
	if event.Op == watcher.OpRemove || event.Op == watcher.OpRename {
		w.logger.Warn("config file went away; keeping current configuration", "op", event.Op.String())
		return
	}

	cfg, err := Load(w.path)
	if err != nil {
		w.logger.Warn("config reload failed", "error", err)
	} else {
		w.logger.Info("config reloaded")
	}

	w.mu.RLock()
	handlers := make([]ReloadHandler, len(w.handlers))
	copy(handlers, w.handlers)
	w.mu.RUnlock()

	for _, h := range handlers {
		h(cfg, err)
	}
}
