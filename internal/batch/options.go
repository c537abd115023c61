package batch

import (
	"log/slog"
	"maps"
	"time"

	"github.com/dshills/plexus/internal/message"
)

// Defaults for a Batcher.
const (
	DefaultWindow  = 50 * time.Millisecond
	DefaultMaxSize = 100
)

// Policy controls how a Batcher classifies and groups messages.
type Policy struct {
	// Window is how long the first queued message waits before the batch
	// is flushed.
	Window time.Duration

	// MaxSize is the queue length that forces an immediate flush.
	MaxSize int

	// Default is the priority of messages that carry none and match no
	// table entry.
	Default message.Priority

	// Priorities maps event names or message types to priorities.
	Priorities map[string]message.Priority
}

// DefaultPolicy returns the default batching policy.
func DefaultPolicy() Policy {
	return Policy{
		Window:  DefaultWindow,
		MaxSize: DefaultMaxSize,
		Default: message.PriorityBatch,
	}
}

// normalize fills zero fields with defaults and copies the table.
func (p Policy) normalize() Policy {
	if p.Window <= 0 {
		p.Window = DefaultWindow
	}
	if p.MaxSize <= 0 {
		p.MaxSize = DefaultMaxSize
	}
	if p.Default == message.PriorityUnset {
		p.Default = message.PriorityBatch
	}
	p.Priorities = maps.Clone(p.Priorities)
	return p
}

// Option configures a Batcher.
type Option func(*Batcher)

// WithPolicy replaces the whole policy.
func WithPolicy(p Policy) Option {
	return func(b *Batcher) {
		b.policy = p
	}
}

// WithWindow sets the batch window.
func WithWindow(d time.Duration) Option {
	return func(b *Batcher) {
		b.policy.Window = d
	}
}

// WithMaxSize sets the queue length that forces a flush.
func WithMaxSize(n int) Option {
	return func(b *Batcher) {
		b.policy.MaxSize = n
	}
}

// WithDefaultPriority sets the priority of unclassified messages.
func WithDefaultPriority(p message.Priority) Option {
	return func(b *Batcher) {
		b.policy.Default = p
	}
}

// WithPriorities sets the event-name table.
func WithPriorities(table map[string]message.Priority) Option {
	return func(b *Batcher) {
		b.policy.Priorities = table
	}
}

// WithName labels the batcher in logs, typically with the owning plugin.
func WithName(name string) Option {
	return func(b *Batcher) {
		b.name = name
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(b *Batcher) {
		if l != nil {
			b.logger = l
		}
	}
}
