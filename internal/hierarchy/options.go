package hierarchy

import (
	"log/slog"
	"strings"

	"github.com/dshills/plexus/internal/bus"
)

// Default limits.
const (
	DefaultMaxDepth    = 10
	DefaultMaxChildren = 50
)

// RemoveMode decides what happens to the descendants of a removed node.
type RemoveMode int

const (
	// KeepSubtree detaches the node with its descendants still attached.
	// When a node leaves the hierarchy entirely, its children become roots.
	KeepSubtree RemoveMode = iota

	// Cascade removes the node and every descendant from the hierarchy.
	Cascade

	// PromoteChildren hands the node's children to the node's former parent
	// (or makes them roots if it had none).
	PromoteChildren

	// OrphanChildren turns the node's children into roots.
	OrphanChildren
)

// String returns the mode name.
func (m RemoveMode) String() string {
	switch m {
	case KeepSubtree:
		return "keep_subtree"
	case Cascade:
		return "cascade"
	case PromoteChildren:
		return "promote_children"
	case OrphanChildren:
		return "orphan_children"
	default:
		return "unknown"
	}
}

// ParseRemoveMode parses a mode name as returned by String. Hyphens are
// accepted in place of underscores.
func ParseRemoveMode(s string) (RemoveMode, bool) {
	switch strings.ReplaceAll(strings.ToLower(s), "-", "_") {
	case "keep_subtree", "keep", "":
		return KeepSubtree, true
	case "cascade":
		return Cascade, true
	case "promote_children", "promote":
		return PromoteChildren, true
	case "orphan_children", "orphan":
		return OrphanChildren, true
	default:
		return KeepSubtree, false
	}
}

// Option configures a Manager.
type Option func(*Manager)

// WithMaxDepth sets the depth limit. Roots have depth 0.
func WithMaxDepth(n int) Option {
	return func(m *Manager) {
		if n > 0 {
			m.maxDepth = n
		}
	}
}

// WithMaxChildren sets the per-node child limit.
func WithMaxChildren(n int) Option {
	return func(m *Manager) {
		if n > 0 {
			m.maxChildren = n
		}
	}
}

// WithPublisher sets where hierarchy notices go.
func WithPublisher(p bus.Publisher) Option {
	return func(m *Manager) {
		m.publisher = p
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(m *Manager) {
		if l != nil {
			m.logger = l
		}
	}
}
