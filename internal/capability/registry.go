package capability

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"github.com/dshills/plexus/internal/bus"
	"github.com/dshills/plexus/internal/message"
)

// Notice event names emitted by the registry.
const (
	EventDebut      = "plugin.debut"
	EventRetirement = "plugin.retirement"
)

// Policy decides what a second Provide under the same name does.
type Policy int

const (
	// PolicyReplace lets the last writer win.
	PolicyReplace Policy = iota

	// PolicyReject keeps the first provider and returns ErrAlreadyProvided.
	PolicyReject
)

// String returns the policy name.
func (p Policy) String() string {
	if p == PolicyReject {
		return "reject"
	}
	return "replace"
}

// ParsePolicy parses "replace" or "reject".
func ParsePolicy(s string) (Policy, bool) {
	switch strings.ToLower(s) {
	case "replace", "":
		return PolicyReplace, true
	case "reject":
		return PolicyReject, true
	default:
		return PolicyReplace, false
	}
}

// Option configures a Registry.
type Option func(*Registry)

// WithPolicy sets the re-provide policy.
func WithPolicy(p Policy) Option {
	return func(r *Registry) {
		r.policy = p
	}
}

// WithPublisher sets where debut and retirement notices go. Without one the
// registry is silent.
func WithPublisher(p bus.Publisher) Option {
	return func(r *Registry) {
		r.publisher = p
	}
}

// WithLogger sets the registry logger.
func WithLogger(l *slog.Logger) Option {
	return func(r *Registry) {
		if l != nil {
			r.logger = l
		}
	}
}

// Registry maps capability names to instances. It is safe for concurrent use.
type Registry struct {
	mu        sync.RWMutex
	entries   map[string]any
	policy    Policy
	publisher bus.Publisher
	logger    *slog.Logger
}

// NewRegistry creates an empty registry.
func NewRegistry(opts ...Option) *Registry {
	r := &Registry{
		entries: make(map[string]any),
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.logger = r.logger.With("component", "capability")
	return r
}

// Policy returns the re-provide policy.
func (r *Registry) Policy() Policy {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.policy
}

// SetPolicy changes the re-provide policy for later Provide calls.
func (r *Registry) SetPolicy(p Policy) {
	r.mu.Lock()
	r.policy = p
	r.mu.Unlock()
}

// Provide registers instance under name and announces it with a
// plugin.debut notice whose payload carries the name and whether an earlier
// provider was replaced.
func (r *Registry) Provide(ctx context.Context, name string, instance any) error {
	if !message.ValidType(name) {
		return fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	if instance == nil {
		return ErrNilInstance
	}

	r.mu.Lock()
	_, replaced := r.entries[name]
	if replaced && r.policy == PolicyReject {
		r.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrAlreadyProvided, name)
	}
	r.entries[name] = instance
	r.mu.Unlock()

	r.logger.Debug("capability provided", "name", name, "replaced", replaced)
	r.announce(ctx, EventDebut, name, map[string]any{
		"name":     name,
		"replaced": replaced,
	})
	return nil
}

// Observe returns the instance registered under name.
func (r *Registry) Observe(name string) (any, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	inst, ok := r.entries[name]
	return inst, ok
}

// Lookup returns the capability under name asserted to T. It reports false
// when the name is absent or the instance has another type.
func Lookup[T any](r *Registry, name string) (T, bool) {
	var zero T
	inst, ok := r.Observe(name)
	if !ok {
		return zero, false
	}
	v, ok := inst.(T)
	if !ok {
		return zero, false
	}
	return v, true
}

// Retract removes name. It returns false, and emits nothing, if the name was
// not registered.
func (r *Registry) Retract(ctx context.Context, name string) bool {
	r.mu.Lock()
	_, ok := r.entries[name]
	delete(r.entries, name)
	r.mu.Unlock()

	if !ok {
		return false
	}

	r.logger.Debug("capability retracted", "name", name)
	r.announce(ctx, EventRetirement, name, map[string]any{"name": name})
	return true
}

// Names returns the registered names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	names := make([]string, 0, len(r.entries))
	for n := range r.entries {
		names = append(names, n)
	}
	r.mu.RUnlock()
	sort.Strings(names)
	return names
}

// Len returns the number of registered capabilities.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

// announce publishes outside the registry lock so handlers may call back
// into the registry.
func (r *Registry) announce(ctx context.Context, event, name string, payload map[string]any) {
	if r.publisher == nil {
		return
	}
	msg := message.NewNotice(event, payload).WithSource(name)
	if report := r.publisher.Publish(ctx, msg); report.Rejected != nil {
		r.logger.Warn("capability notice not delivered", "event", event, "name", name, "error", report.Rejected)
	}
}
