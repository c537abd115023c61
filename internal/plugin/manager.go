package plugin

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"slices"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/dshills/plexus/internal/batch"
	"github.com/dshills/plexus/internal/bus"
	"github.com/dshills/plexus/internal/capability"
	"github.com/dshills/plexus/internal/hierarchy"
	"github.com/dshills/plexus/internal/message"
)

// Bus is the part of the message bus the plugin manager needs.
type Bus interface {
	bus.Publisher
	bus.Subscriber
}

// Manager attaches plugins to the bus, the capability registry and the
// hierarchy, and detaches them in the reverse order.
type Manager struct {
	mu sync.RWMutex

	bus    Bus
	caps   *capability.Registry
	tree   *hierarchy.Manager
	logger *slog.Logger

	// Batch policy handed to every new plugin's batcher
	policy batch.Policy

	// Attached plugins by name
	plugins map[string]*entry

	// Attach order (for deterministic iteration and reverse detach)
	order []string

	// Event handlers (protected by mu)
	eventHandlers []EventHandler

	closed bool
}

type entry struct {
	plugin  Plugin
	ctx     *Context
	batcher *batch.Batcher
	state   State
}

// Option configures a Manager.
type Option func(*Manager)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(m *Manager) {
		if l != nil {
			m.logger = l
		}
	}
}

// WithBatchPolicy sets the batching policy for plugins attached later.
func WithBatchPolicy(p batch.Policy) Option {
	return func(m *Manager) {
		m.policy = p
	}
}

// EventHandler handles plugin manager events.
// Handlers must be non-blocking and should not call back into the Manager
// to avoid deadlocks. Panics in handlers are recovered.
type EventHandler func(event ManagerEvent)

// ManagerEvent represents a plugin manager event.
type ManagerEvent struct {
	Type   ManagerEventType
	Plugin string
	Error  error
}

// ManagerEventType is the type of manager event.
type ManagerEventType int

const (
	// EventPluginAttached is emitted when a plugin started successfully.
	EventPluginAttached ManagerEventType = iota
	// EventPluginDetached is emitted when a plugin was detached.
	EventPluginDetached
	// EventPluginError is emitted when a plugin hook failed.
	EventPluginError
)

// String returns a string representation of the event type.
func (t ManagerEventType) String() string {
	switch t {
	case EventPluginAttached:
		return "attached"
	case EventPluginDetached:
		return "detached"
	case EventPluginError:
		return "error"
	default:
		return "unknown"
	}
}

// NewManager creates a plugin manager over the given bus, capability
// registry and hierarchy.
func NewManager(b Bus, caps *capability.Registry, tree *hierarchy.Manager, opts ...Option) *Manager {
	m := &Manager{
		bus:     b,
		caps:    caps,
		tree:    tree,
		logger:  slog.Default(),
		policy:  batch.DefaultPolicy(),
		plugins: make(map[string]*entry),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Attach registers p under parent (or as a root when parent is empty),
// gives it a batcher, provides its capability and calls Start. Any failure
// undoes the earlier steps and leaves the plugin detached.
func (m *Manager) Attach(ctx context.Context, p Plugin, parent string) error {
	if p == nil {
		return ErrNilPlugin
	}
	name := p.Name()
	if !message.ValidType(name) {
		return fmt.Errorf("%w: %q", ErrInvalidName, name)
	}

	e := &entry{plugin: p, state: StateStarting}

	// Reserve the name (brief lock)
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrManagerClosed
	}
	if _, exists := m.plugins[name]; exists {
		m.mu.Unlock()
		return fmt.Errorf("plugin %q: %w", name, ErrAlreadyAttached)
	}
	if parent != "" {
		if _, ok := m.plugins[parent]; !ok {
			m.mu.Unlock()
			return fmt.Errorf("parent %q: %w", parent, ErrPluginNotFound)
		}
	}
	e.batcher = batch.New(m.bus,
		batch.WithPolicy(m.policy),
		batch.WithName(name),
		batch.WithLogger(m.logger),
	)
	e.ctx = newContext(name, e.batcher, m)
	m.plugins[name] = e
	m.order = append(m.order, name)
	m.mu.Unlock()

	fail := func(err error) error {
		m.mu.Lock()
		delete(m.plugins, name)
		m.order = without(m.order, name)
		m.mu.Unlock()
		m.logger.Warn("plugin attach failed", "plugin", name, "error", err)
		m.emitEvent(ManagerEvent{Type: EventPluginError, Plugin: name, Error: err})
		return err
	}

	var err error
	if parent == "" {
		err = m.tree.Register(name)
	} else {
		err = m.tree.AddChild(ctx, parent, name)
	}
	if err != nil {
		return fail(fmt.Errorf("plugin %q: %w", name, err))
	}

	var instance any = p
	if prov, ok := p.(Provider); ok {
		instance = prov.Capability()
	}
	if err := m.caps.Provide(ctx, name, instance); err != nil {
		e.batcher.Close(ctx)
		m.untree(ctx, name, hierarchy.OrphanChildren)
		return fail(fmt.Errorf("plugin %q: %w", name, err))
	}

	if err := m.callHook(ctx, name, "start", func() error { return p.Start(ctx, e.ctx) }); err != nil {
		e.ctx.close()
		e.batcher.Close(ctx)
		m.caps.Retract(ctx, name)
		m.untree(ctx, name, hierarchy.OrphanChildren)
		return fail(err)
	}

	m.mu.Lock()
	e.state = StateActive
	m.mu.Unlock()

	m.logger.Info("plugin attached", "plugin", name, "parent", parent)
	m.emitEvent(ManagerEvent{Type: EventPluginAttached, Plugin: name})
	return nil
}

// Detach stops the named plugin, cancels its subscriptions, flushes its
// pending messages, retracts its capability and removes it from the
// hierarchy. mode decides what happens to its children: under Cascade every
// descendant plugin is detached first, deepest first; the other modes leave
// descendant plugins attached and rearrange the tree accordingly.
//
// Cleanup always runs to completion; a failing Stop hook is reported in the
// returned error.
func (m *Manager) Detach(ctx context.Context, name string, mode hierarchy.RemoveMode) error {
	m.mu.Lock()
	e, exists := m.plugins[name]
	if !exists || e.state != StateActive {
		m.mu.Unlock()
		return fmt.Errorf("plugin %q: %w", name, ErrPluginNotFound)
	}
	e.state = StateStopping
	m.mu.Unlock()

	var errs []error
	if mode == hierarchy.Cascade {
		desc := m.tree.Descendants(name, false)
		for _, d := range slices.Backward(desc) {
			m.mu.Lock()
			de, ok := m.plugins[d]
			if ok && de.state == StateActive {
				de.state = StateStopping
			} else {
				ok = false
			}
			m.mu.Unlock()
			if ok {
				errs = append(errs, m.teardown(ctx, d, de))
			}
		}
	}

	errs = append(errs, m.teardown(ctx, name, e))
	m.untree(ctx, name, mode)
	return errors.Join(errs...)
}

// teardown runs every detach step except the hierarchy removal. The entry
// must already be in StateStopping.
func (m *Manager) teardown(ctx context.Context, name string, e *entry) error {
	stopErr := m.callHook(ctx, name, "stop", func() error { return e.plugin.Stop(ctx) })

	subs := e.ctx.close()
	report := e.batcher.Close(ctx)
	m.caps.Retract(ctx, name)

	m.mu.Lock()
	delete(m.plugins, name)
	m.order = without(m.order, name)
	m.mu.Unlock()

	m.logger.Info("plugin detached",
		"plugin", name,
		"subscriptions", subs,
		"flushed", report.Delivered,
	)
	m.emitEvent(ManagerEvent{Type: EventPluginDetached, Plugin: name, Error: stopErr})
	return stopErr
}

// untree removes name from the hierarchy, logging instead of failing when
// the node is already gone.
func (m *Manager) untree(ctx context.Context, name string, mode hierarchy.RemoveMode) {
	if _, err := m.tree.Unregister(ctx, name, mode); err != nil && !errors.Is(err, hierarchy.ErrNotFound) {
		m.logger.Warn("hierarchy removal failed", "plugin", name, "mode", mode.String(), "error", err)
	}
}

// callHook runs a Start or Stop hook, converting panics into a
// *LifecycleError.
func (m *Manager) callHook(ctx context.Context, name, op string, fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error("plugin hook panicked",
				"plugin", name,
				"op", op,
				"panic", r,
				"stack", string(debug.Stack()),
			)
			err = &LifecycleError{Plugin: name, Op: op, Panic: r}
		}
	}()
	if err := fn(); err != nil {
		return &LifecycleError{Plugin: name, Op: op, Err: err}
	}
	return nil
}

// DetachAll detaches every plugin in reverse attach order, so children go
// before their parents.
func (m *Manager) DetachAll(ctx context.Context) error {
	// Get names in reverse attach order (brief lock)
	m.mu.RLock()
	names := slices.Clone(m.order)
	m.mu.RUnlock()
	slices.Reverse(names)

	var detachErrors []error
	for _, name := range names {
		if err := m.Detach(ctx, name, hierarchy.KeepSubtree); err != nil {
			// A cascade from an earlier detach may have taken it already.
			if errors.Is(err, ErrPluginNotFound) {
				continue
			}
			detachErrors = append(detachErrors, fmt.Errorf("%s: %w", name, err))
		}
	}

	if len(detachErrors) > 0 {
		return fmt.Errorf("failed to detach %d plugins: %w", len(detachErrors), errors.Join(detachErrors...))
	}
	return nil
}

// Close detaches every plugin and rejects later attaches.
func (m *Manager) Close(ctx context.Context) error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	return m.DetachAll(ctx)
}

// FlushAll flushes every plugin's batcher concurrently and merges the
// reports.
func (m *Manager) FlushAll(ctx context.Context) bus.Report {
	m.mu.RLock()
	batchers := make([]*batch.Batcher, 0, len(m.order))
	for _, name := range m.order {
		batchers = append(batchers, m.plugins[name].batcher)
	}
	m.mu.RUnlock()

	reports := make([]bus.Report, len(batchers))
	var g errgroup.Group
	for i, b := range batchers {
		g.Go(func() error {
			reports[i] = b.Flush(ctx)
			return nil
		})
	}
	_ = g.Wait()
	return bus.Merge(reports...)
}

// SetBatchPolicy replaces the batching policy of every attached plugin and
// of plugins attached later.
func (m *Manager) SetBatchPolicy(p batch.Policy) {
	m.mu.Lock()
	m.policy = p
	batchers := make([]*batch.Batcher, 0, len(m.plugins))
	for _, e := range m.plugins {
		batchers = append(batchers, e.batcher)
	}
	m.mu.Unlock()

	for _, b := range batchers {
		b.SetPolicy(p)
	}
}

// Get returns an attached plugin by name.
func (m *Manager) Get(name string) (Plugin, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	e, exists := m.plugins[name]
	if !exists {
		return nil, false
	}
	return e.plugin, true
}

// State returns the lifecycle state of the named plugin. Unknown names are
// StateDetached.
func (m *Manager) State(name string) State {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if e, exists := m.plugins[name]; exists {
		return e.state
	}
	return StateDetached
}

// Context returns the runtime handle of an attached plugin.
func (m *Manager) Context(name string) (*Context, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	e, exists := m.plugins[name]
	if !exists {
		return nil, false
	}
	return e.ctx, true
}

// Info describes an attached plugin.
type Info struct {
	Name   string
	State  State
	Parent string
	Depth  int
	Batch  batch.Stats
}

// List returns all attached plugins in attach order.
func (m *Manager) List() []Info {
	m.mu.RLock()
	names := slices.Clone(m.order)
	entries := make([]*entry, len(names))
	states := make([]State, len(names))
	for i, name := range names {
		entries[i] = m.plugins[name]
		states[i] = entries[i].state
	}
	m.mu.RUnlock()

	result := make([]Info, 0, len(names))
	for i, name := range names {
		info := Info{Name: name, State: states[i]}
		info.Parent, _ = m.tree.Parent(name)
		info.Depth, _ = m.tree.Depth(name)
		info.Batch = entries[i].batcher.Stats()
		result = append(result, info)
	}
	return result
}

// Count returns the number of attached plugins.
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.plugins)
}

// CountActive returns the number of active plugins.
func (m *Manager) CountActive() int {
	m.mu.RLock()
	defer m.mu.RUnlock()

	count := 0
	for _, e := range m.plugins {
		if e.state == StateActive {
			count++
		}
	}
	return count
}

// Watch adds an event handler.
// Returns a function that removes the handler.
func (m *Manager) Watch(handler EventHandler) func() {
	if handler == nil {
		return func() {} // No-op for nil handlers
	}

	m.mu.Lock()
	m.eventHandlers = append(m.eventHandlers, handler)
	index := len(m.eventHandlers) - 1
	m.mu.Unlock()

	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		// Set to nil instead of removing to avoid index shifting issues
		if index < len(m.eventHandlers) {
			m.eventHandlers[index] = nil
		}
	}
}

// emitEvent sends an event to all handlers.
func (m *Manager) emitEvent(event ManagerEvent) {
	m.mu.RLock()
	handlers := slices.Clone(m.eventHandlers)
	m.mu.RUnlock()

	for _, handler := range handlers {
		if handler == nil {
			continue
		}
		func() {
			defer func() {
				if r := recover(); r != nil {
					m.logger.Error("plugin event handler panicked", "event", event.Type.String(), "panic", r)
				}
			}()
			handler(event)
		}()
	}
}

func without(s []string, v string) []string {
	out := s[:0:0]
	for _, x := range s {
		if x != v {
			out = append(out, x)
		}
	}
	return out
}
