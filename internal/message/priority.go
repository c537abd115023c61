package message

import "strings"

// Priority classifies a message for the batching layer.
// The zero value means "not classified"; the batcher then consults its
// event-name table and finally its default.
type Priority int

const (
	// PriorityUnset leaves classification to the batcher.
	PriorityUnset Priority = iota

	// PriorityImmediate bypasses batching.
	PriorityImmediate

	// PriorityUrgent bypasses batching.
	PriorityUrgent

	// PriorityRealtime bypasses batching.
	PriorityRealtime

	// PriorityBatch is queued and flushed with the next window.
	PriorityBatch

	// PriorityThrottle is queued and flushed with the next window.
	PriorityThrottle
)

// String returns the priority name.
func (p Priority) String() string {
	switch p {
	case PriorityUnset:
		return "unset"
	case PriorityImmediate:
		return "immediate"
	case PriorityUrgent:
		return "urgent"
	case PriorityRealtime:
		return "realtime"
	case PriorityBatch:
		return "batch"
	case PriorityThrottle:
		return "throttle"
	default:
		return "unknown"
	}
}

// Bypass reports whether messages of this priority skip the batch queue.
func (p Priority) Bypass() bool {
	return p == PriorityImmediate || p == PriorityUrgent || p == PriorityRealtime
}

// ParsePriority parses a priority name. Unknown names return PriorityUnset
// and false.
func ParsePriority(s string) (Priority, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "immediate":
		return PriorityImmediate, true
	case "urgent":
		return PriorityUrgent, true
	case "realtime", "real-time", "real_time":
		return PriorityRealtime, true
	case "batch":
		return PriorityBatch, true
	case "throttle":
		return PriorityThrottle, true
	case "", "unset":
		return PriorityUnset, true
	default:
		return PriorityUnset, false
	}
}

// MarshalText implements encoding.TextMarshaler.
func (p Priority) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (p *Priority) UnmarshalText(b []byte) error {
	v, ok := ParsePriority(string(b))
	if !ok {
		return &ValidationError{Field: "priority", Reason: "unknown priority " + string(b)}
	}
	*p = v
	return nil
}
