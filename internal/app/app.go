// Package app wires the plexus components into a Runtime. It builds the
// logger, bus, capability registry, hierarchy and plugin manager from a
// Config and owns their lifecycle.
package app

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dshills/plexus/internal/bus"
	"github.com/dshills/plexus/internal/capability"
	"github.com/dshills/plexus/internal/config"
	"github.com/dshills/plexus/internal/hierarchy"
	"github.com/dshills/plexus/internal/logging"
	"github.com/dshills/plexus/internal/plugin"
)

// Runtime is the central coordinator for all plexus components.
type Runtime struct {
	mu sync.RWMutex

	// Core infrastructure
	cfg       *config.Config
	logger    *slog.Logger
	logCloser io.Closer

	bus     *bus.Manager
	caps    *capability.Registry
	tree    *hierarchy.Manager
	plugins *plugin.Manager

	// Config hot reload (nil unless a config path is set)
	watcher *config.Watcher

	// State
	running   atomic.Bool
	shutdown  atomic.Bool
	startedAt time.Time

	opts options
}

// Option configures a Runtime.
type Option func(*options)

type options struct {
	logger        *slog.Logger
	configPath    string
	watch         bool
	watchDebounce time.Duration
	discover      bool
}

// WithLogger uses l instead of building a logger from the log section.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		o.logger = l
	}
}

// WithConfigPath records the file cfg was loaded from. Combined with
// WithWatch, Start reloads the file whenever it changes.
func WithConfigPath(path string) Option {
	return func(o *options) {
		o.configPath = path
	}
}

// WithWatch enables config hot reload on Start.
func WithWatch(enabled bool) Option {
	return func(o *options) {
		o.watch = enabled
	}
}

// WithWatchDebounce sets how long the config file must be quiet before a
// reload.
func WithWatchDebounce(d time.Duration) Option {
	return func(o *options) {
		o.watchDebounce = d
	}
}

// WithDiscovery controls whether Start attaches the Lua plugins found in
// the configured plugin paths. It is on by default.
func WithDiscovery(enabled bool) Option {
	return func(o *options) {
		o.discover = enabled
	}
}

// New builds a Runtime from cfg. A nil cfg means config.Default().
// Nothing runs until Start.
func New(cfg *config.Config, opts ...Option) (*Runtime, error) {
	o := options{
		watchDebounce: 100 * time.Millisecond,
		discover:      true,
	}
	for _, opt := range opts {
		opt(&o)
	}

	if cfg == nil {
		cfg = config.Default()
	} else {
		cfg = cfg.Clone()
	}
	if err := cfg.Validate(); err != nil {
		return nil, NewComponentError("config", "validate", err)
	}

	r := &Runtime{cfg: cfg, opts: o}
	if err := r.bootstrap(); err != nil {
		if r.logCloser != nil {
			r.logCloser.Close()
		}
		return nil, err
	}
	return r, nil
}

// bootstrap creates all components in dependency order.
func (r *Runtime) bootstrap() error {
	cfg := r.cfg

	// 1. Logger
	if r.opts.logger != nil {
		r.logger = r.opts.logger
	} else {
		logger, closer, err := logging.New(cfg.Log.LoggingOptions())
		if err != nil {
			return NewComponentError("logger", "create", err)
		}
		r.logger, r.logCloser = logger, closer
	}

	// 2. Bus - messaging foundation
	busOpts, err := cfg.Bus.Options()
	if err != nil {
		return NewComponentError("bus", "configure", err)
	}
	r.bus = bus.NewManager(append(busOpts, bus.WithLogger(r.logger))...)

	// 3. Capability registry
	policy, err := cfg.Capability.ReprovidePolicy()
	if err != nil {
		return NewComponentError("capability", "configure", err)
	}
	r.caps = capability.NewRegistry(
		capability.WithPolicy(policy),
		capability.WithPublisher(r.bus),
		capability.WithLogger(r.logger),
	)

	// 4. Hierarchy
	r.tree = hierarchy.NewManager(
		hierarchy.WithMaxDepth(cfg.Hierarchy.MaxDepth),
		hierarchy.WithMaxChildren(cfg.Hierarchy.MaxChildren),
		hierarchy.WithPublisher(r.bus),
		hierarchy.WithLogger(r.logger),
	)

	// 5. Plugin manager
	batchPolicy, err := cfg.Batch.Policy()
	if err != nil {
		return NewComponentError("batch", "configure", err)
	}
	r.plugins = plugin.NewManager(r.bus, r.caps, r.tree,
		plugin.WithLogger(r.logger),
		plugin.WithBatchPolicy(batchPolicy),
	)

	// 6. Config watcher
	if r.opts.watch && r.opts.configPath != "" {
		r.watcher = config.NewWatcher(r.opts.configPath,
			config.WithDebounce(r.opts.watchDebounce),
			config.WithLogger(r.logger),
		)
		r.watcher.OnReload(r.onReload)
	}

	return nil
}

// Start initializes the bus, attaches discovered plugins and starts the
// config watcher. Plugins that fail to attach are logged and skipped;
// use LoadPlugins to see their errors.
func (r *Runtime) Start(ctx context.Context) error {
	if r.shutdown.Load() {
		return ErrShutDown
	}
	if !r.running.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}

	if err := r.bus.Init(ctx); err != nil {
		r.running.Store(false)
		return NewComponentError("bus", "init", err)
	}

	r.mu.Lock()
	r.startedAt = time.Now()
	r.mu.Unlock()

	if r.opts.discover {
		if _, err := r.LoadPlugins(ctx); err != nil {
			r.logger.Warn("some plugins were not attached", "error", err)
		}
	}

	if r.watcher != nil {
		if err := r.watcher.Start(); err != nil {
			r.running.Store(false)
			return NewComponentError("config", "watch", err)
		}
	}

	r.logger.Info("runtime started",
		"plugins", r.plugins.Count(),
		"mode", r.cfg.Bus.Mode,
	)
	return nil
}

// Shutdown stops the config watcher, detaches every plugin in reverse
// attach order, shuts the bus down and closes the log output. Only the
// first call does anything.
func (r *Runtime) Shutdown(ctx context.Context) error {
	if !r.shutdown.CompareAndSwap(false, true) {
		return nil
	}
	r.running.Store(false)

	var errs []error

	// 1. Stop reloads
	if r.watcher != nil {
		r.watcher.Stop()
	}

	// 2. Detach plugins (flushes their batchers)
	if err := r.plugins.Close(ctx); err != nil {
		errs = append(errs, NewComponentError("plugins", "close", err))
	}

	// 3. Stop the bus
	if err := r.bus.Shutdown(ctx); err != nil && !errors.Is(err, bus.ErrClosed) {
		errs = append(errs, NewComponentError("bus", "shutdown", err))
	}

	r.logger.Info("runtime stopped")

	// 4. Close log output last
	if r.logCloser != nil {
		if err := r.logCloser.Close(); err != nil {
			errs = append(errs, NewComponentError("logger", "close", err))
		}
	}

	return errors.Join(errs...)
}

// IsRunning returns true between Start and Shutdown.
func (r *Runtime) IsRunning() bool {
	return r.running.Load()
}

// Config returns a copy of the configuration in force.
func (r *Runtime) Config() *config.Config {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.cfg.Clone()
}

// Logger returns the runtime logger.
func (r *Runtime) Logger() *slog.Logger {
	return r.logger
}

// Bus returns the bus manager.
func (r *Runtime) Bus() *bus.Manager {
	return r.bus
}

// Capabilities returns the capability registry.
func (r *Runtime) Capabilities() *capability.Registry {
	return r.caps
}

// Hierarchy returns the hierarchy manager.
func (r *Runtime) Hierarchy() *hierarchy.Manager {
	return r.tree
}

// Plugins returns the plugin manager.
func (r *Runtime) Plugins() *plugin.Manager {
	return r.plugins
}
