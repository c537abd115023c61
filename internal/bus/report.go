package bus

import (
	"errors"
	"time"
)

// Report summarizes one Publish call.
type Report struct {
	// MessageID and Type identify the published message.
	MessageID string
	Type      string

	// Channel is the index of the channel that delivered the message.
	Channel int

	// Delivered is the number of handlers invoked.
	Delivered int

	// Succeeded is the number of handlers that returned nil.
	Succeeded int

	// Failed is the number of handlers that returned an error.
	Failed int

	// Panicked is the number of handlers that panicked.
	Panicked int

	// Skipped is the number of snapshot handlers not invoked because they
	// were unsubscribed or paused before their turn.
	Skipped int

	// Errors holds one entry per failed or panicking handler.
	Errors []*HandlerError

	// Rejected is set when the message was not delivered at all: invalid
	// message, paused or closed bus.
	Rejected error

	// Queued is set by the batching layer when the message was deferred.
	Queued bool

	// Duration is the wall time spent delivering.
	Duration time.Duration
}

// OK reports whether the message was accepted and no handler failed.
func (r Report) OK() bool {
	return r.Rejected == nil && r.Failed == 0 && r.Panicked == 0
}

// Err returns the rejection error, or all handler errors joined, or nil.
func (r Report) Err() error {
	if r.Rejected != nil {
		return r.Rejected
	}
	if len(r.Errors) == 0 {
		return nil
	}
	errs := make([]error, len(r.Errors))
	for i, e := range r.Errors {
		errs[i] = e
	}
	return errors.Join(errs...)
}

// merge adds the counters of other into r. Used when a batch flush
// aggregates several deliveries.
func (r *Report) merge(other Report) {
	r.Delivered += other.Delivered
	r.Succeeded += other.Succeeded
	r.Failed += other.Failed
	r.Panicked += other.Panicked
	r.Skipped += other.Skipped
	r.Errors = append(r.Errors, other.Errors...)
	r.Duration += other.Duration
}

// Merge returns the sum of several reports. Identity fields are taken from
// the first report.
func Merge(reports ...Report) Report {
	var out Report
	for i, r := range reports {
		if i == 0 {
			out.MessageID = r.MessageID
			out.Type = r.Type
			out.Channel = r.Channel
		}
		out.merge(r)
	}
	return out
}
