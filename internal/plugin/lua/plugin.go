package lua

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dshills/plexus/internal/bus"
	"github.com/dshills/plexus/internal/message"
	"github.com/dshills/plexus/internal/plugin"
)

// ModuleName is the name under which the runtime API is exposed to scripts.
const ModuleName = "plexus"

// Plugin runs a Lua script as a plugin.
//
// The script talks to the runtime through the plexus module. Global
// functions on_start and on_stop, when defined, are called after the script
// has run and before the state is closed.
type Plugin struct {
	name       string
	file       string
	source     string
	grants     []string
	timeout    time.Duration
	priorities map[string]message.Priority

	mu  sync.Mutex
	env *env
}

// Option configures a Lua Plugin.
type Option func(*Plugin)

// WithFile runs the script at path.
func WithFile(path string) Option {
	return func(p *Plugin) {
		p.file = path
	}
}

// WithSource runs code instead of a file.
func WithSource(code string) Option {
	return func(p *Plugin) {
		p.source = code
	}
}

// WithGrants widens the sandbox. See Grant for the known names.
func WithGrants(grants ...string) Option {
	return func(p *Plugin) {
		p.grants = append(p.grants, grants...)
	}
}

// WithTimeout bounds every call into the script.
func WithTimeout(d time.Duration) Option {
	return func(p *Plugin) {
		p.timeout = d
	}
}

// WithPriorities sets the batch priority of messages the script publishes,
// by message type. An explicit priority passed by the script wins.
func WithPriorities(priorities map[string]message.Priority) Option {
	return func(p *Plugin) {
		p.priorities = priorities
	}
}

// New creates a Lua plugin. One of WithFile or WithSource is required.
func New(name string, opts ...Option) *Plugin {
	p := &Plugin{
		name:    name,
		timeout: DefaultExecutionTimeout,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// FromManifest creates a Lua plugin running the manifest's entry point with
// its grants and priority table. Later options override the manifest.
func FromManifest(m *plugin.Manifest, opts ...Option) (*Plugin, error) {
	if m == nil {
		return nil, plugin.ErrNilManifest
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	priorities, err := m.BatchPriorities()
	if err != nil {
		return nil, err
	}
	base := []Option{
		WithFile(m.MainPath()),
		WithGrants(m.Grants...),
		WithPriorities(priorities),
	}
	return New(m.Name, append(base, opts...)...), nil
}

// Name returns the plugin name.
func (p *Plugin) Name() string {
	return p.name
}

// Start creates the Lua state, registers the plexus module, runs the script
// and calls on_start.
func (p *Plugin) Start(ctx context.Context, pctx *plugin.Context) error {
	if p.file == "" && p.source == "" {
		return ErrNoSource
	}

	state, err := NewState(WithExecutionTimeout(p.timeout))
	if err != nil {
		return err
	}
	for _, g := range p.grants {
		if err := state.Sandbox().Grant(Grant(g)); err != nil {
			state.Close()
			return err
		}
	}

	e := &env{
		plugin: p,
		state:  state,
		pctx:   pctx,
		bridge: NewBridge(state.L),
		subs:   make(map[string]*bus.Subscription),
	}

	p.mu.Lock()
	p.env = e
	p.mu.Unlock()

	if err := p.run(ctx, e); err != nil {
		p.mu.Lock()
		p.env = nil
		p.mu.Unlock()
		e.unsubscribeAll()
		state.Close()
		return err
	}
	return nil
}

func (p *Plugin) run(ctx context.Context, e *env) error {
	if err := e.state.RegisterModule(ctx, ModuleName, e.module()); err != nil {
		return err
	}

	var err error
	if p.file != "" {
		err = e.state.DoFile(ctx, p.file)
	} else {
		err = e.state.DoString(ctx, p.source)
	}
	if err != nil {
		return fmt.Errorf("running %s: %w", p.name, err)
	}

	if e.state.HasFunction(ctx, "on_start") {
		if _, err := e.state.Call(ctx, "on_start"); err != nil {
			return fmt.Errorf("on_start: %w", err)
		}
	}
	return nil
}

// Stop removes the script's subscriptions, calls on_stop and closes the
// state.
func (p *Plugin) Stop(ctx context.Context) error {
	p.mu.Lock()
	e := p.env
	p.env = nil
	p.mu.Unlock()
	if e == nil {
		return ErrNotStarted
	}

	e.unsubscribeAll()

	var errs []error
	if e.state.HasFunction(ctx, "on_stop") {
		if _, err := e.state.Call(ctx, "on_stop"); err != nil {
			errs = append(errs, fmt.Errorf("on_stop: %w", err))
		}
	}
	if err := e.state.Close(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// State returns the running Lua state, or nil before Start and after Stop.
func (p *Plugin) State() *State {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.env == nil {
		return nil
	}
	return p.env.state
}

// priorityFor returns the configured batch priority for msgType.
func (p *Plugin) priorityFor(msgType string) message.Priority {
	if prio, ok := p.priorities[msgType]; ok {
		return prio
	}
	return message.PriorityUnset
}
