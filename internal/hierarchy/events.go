package hierarchy

import (
	"context"

	"github.com/dshills/plexus/internal/message"
)

// Notice event names emitted after successful mutations.
const (
	EventChildAdded   = "hierarchy.child_added"
	EventChildRemoved = "hierarchy.child_removed"
	EventReparented   = "hierarchy.reparented"
	EventNodeRemoved  = "hierarchy.node_removed"
)

// emit publishes a notice. It runs after the write lock is released so
// handlers can query the hierarchy.
func (m *Manager) emit(ctx context.Context, event string, payload map[string]any) {
	if m.publisher == nil {
		return
	}
	msg := message.NewNotice(event, payload).WithSource("hierarchy")
	if report := m.publisher.Publish(ctx, msg); report.Rejected != nil {
		m.logger.Warn("hierarchy notice not delivered", "event", event, "error", report.Rejected)
	}
}
