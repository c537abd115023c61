package app

import (
	"time"

	"github.com/dshills/plexus/internal/bus"
	"github.com/dshills/plexus/internal/hierarchy"
)

// Snapshot is a point-in-time view of the runtime.
type Snapshot struct {
	Uptime time.Duration

	Bus       bus.Stats
	Hierarchy hierarchy.Stats

	Capabilities  int
	Plugins       int
	ActivePlugins int
}

// Stats returns a snapshot of every component's counters.
func (r *Runtime) Stats() Snapshot {
	r.mu.RLock()
	started := r.startedAt
	r.mu.RUnlock()

	var uptime time.Duration
	if !started.IsZero() && r.running.Load() {
		uptime = time.Since(started)
	}

	return Snapshot{
		Uptime:        uptime,
		Bus:           r.bus.Stats(),
		Hierarchy:     r.tree.Stats(),
		Capabilities:  r.caps.Len(),
		Plugins:       r.plugins.Count(),
		ActivePlugins: r.plugins.CountActive(),
	}
}

// FailureRate returns the percentage of handler deliveries that returned
// an error or panicked.
func (s Snapshot) FailureRate() float64 {
	if s.Bus.Delivered == 0 {
		return 0
	}
	return float64(s.Bus.HandlerErrors+s.Bus.HandlerPanics) / float64(s.Bus.Delivered) * 100
}
