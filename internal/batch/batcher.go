package batch

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dshills/plexus/internal/bus"
	"github.com/dshills/plexus/internal/message"
)

// Flush reasons used in logs.
const (
	reasonWindow   = "window"
	reasonOverflow = "overflow"
	reasonManual   = "manual"
	reasonClose    = "close"
)

// Batcher is a bus.Publisher decorator that queues low priority messages.
//
// Thread-safety: all methods are safe for concurrent use. At most one
// goroutine drains the queue at a time, so a later batch never overtakes an
// earlier one. No lock is held while a batch is delivered, so handlers may
// call back into the batcher that is delivering to them.
type Batcher struct {
	next   bus.Publisher
	name   string
	logger *slog.Logger

	mu      sync.Mutex
	policy  Policy
	pending []message.Message
	timer   *time.Timer
	seq     uint64 // detects stale timer callbacks
	closed  bool

	// draining is set while one goroutine delivers taken batches; idle is
	// closed when it stops. requested asks the drainer for another pass.
	draining  bool
	requested bool
	idle      chan struct{}

	bypassed        atomic.Uint64
	queued          atomic.Uint64
	flushed         atomic.Uint64
	flushes         atomic.Uint64
	overflowFlushes atomic.Uint64
}

// New creates a Batcher publishing to next.
func New(next bus.Publisher, opts ...Option) *Batcher {
	b := &Batcher{
		next:   next,
		policy: DefaultPolicy(),
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(b)
	}
	b.policy = b.policy.normalize()
	b.logger = b.logger.With("component", "batch")
	if b.name != "" {
		b.logger = b.logger.With("owner", b.name)
	}
	return b
}

// Classify returns the priority the batcher applies to msg: the message's
// own priority, else the table entry for its event name or type, else the
// policy default.
func (b *Batcher) Classify(msg message.Message) message.Priority {
	if msg.Priority != message.PriorityUnset {
		return msg.Priority
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.classifyLocked(msg)
}

func (b *Batcher) classifyLocked(msg message.Message) message.Priority {
	if msg.EventName != "" {
		if p, ok := b.policy.Priorities[msg.EventName]; ok {
			return p
		}
	}
	if p, ok := b.policy.Priorities[msg.Type]; ok {
		return p
	}
	return b.policy.Default
}

// Publish implements bus.Publisher. Bypass priorities and invalid messages
// go straight to the wrapped publisher; queued messages return a report
// with Queued set.
func (b *Batcher) Publish(ctx context.Context, msg message.Message) bus.Report {
	if !msg.IsValid() {
		return b.next.Publish(ctx, msg)
	}

	b.mu.Lock()
	priority := msg.Priority
	if priority == message.PriorityUnset {
		priority = b.classifyLocked(msg)
	}
	if b.closed || priority.Bypass() {
		b.mu.Unlock()
		b.bypassed.Add(1)
		return b.next.Publish(ctx, msg)
	}

	b.pending = append(b.pending, msg)
	overflow := len(b.pending) >= b.policy.MaxSize
	if b.timer == nil {
		b.seq++
		seq := b.seq
		b.timer = time.AfterFunc(b.policy.Window, func() {
			b.onWindow(seq)
		})
	}
	b.mu.Unlock()
	b.queued.Add(1)

	if overflow {
		b.overflow(ctx)
	}
	return bus.Report{MessageID: msg.ID, Type: msg.Type, Queued: true}
}

// onWindow flushes when the window timer fires, unless a newer flush
// already took the batch the timer belonged to. The timer goroutine never
// waits for a flush running elsewhere.
func (b *Batcher) onWindow(seq uint64) {
	b.mu.Lock()
	stale := b.seq != seq
	b.mu.Unlock()
	if stale {
		return
	}
	b.flush(context.Background(), reasonWindow, false)
}

// overflow flushes in the caller's goroutine. If a flush is already running
// (possibly further up this goroutine's stack, when a handler publishes),
// that flush takes the new messages before it finishes.
func (b *Batcher) overflow(ctx context.Context) {
	b.flush(ctx, reasonOverflow, false)
}

// Flush delivers everything queued and returns the merged report of the
// deliveries it made. If another flush is running, Flush hands the queue to
// it and waits for it to finish, unless ctx comes from NoWait (or from a
// handler the batcher is delivering to), in which case it returns at once
// with Queued set.
func (b *Batcher) Flush(ctx context.Context) bus.Report {
	return b.flush(ctx, reasonManual, true)
}

// Close flushes the queue and switches the batcher to pass-through. Later
// publishes are delivered immediately. A running flush keeps draining until
// the queue is empty; Close waits for it on the same terms as Flush.
func (b *Batcher) Close(ctx context.Context) bus.Report {
	b.mu.Lock()
	b.closed = true
	b.mu.Unlock()
	return b.flush(ctx, reasonClose, true)
}

// noWaitKey marks a context whose holder must not block on a flush running
// on another goroutine.
type noWaitKey struct{}

// NoWait returns a context under which Flush and Close hand the queue to a
// running flush instead of waiting for it. Use it when the caller holds
// something that delivery may need, such as a script interpreter that the
// receiving handlers run in. Batches are delivered under such a context.
func NoWait(ctx context.Context) context.Context {
	return context.WithValue(ctx, noWaitKey{}, true)
}

func mayWait(ctx context.Context) bool {
	noWait, _ := ctx.Value(noWaitKey{}).(bool)
	return !noWait
}

// flush drains the queue in this goroutine when nobody else is. Otherwise
// it asks the running drainer for another pass and, if wait is set and ctx
// allows it, waits for that drainer to stop before trying again.
func (b *Batcher) flush(ctx context.Context, reason string, wait bool) bus.Report {
	wait = wait && mayWait(ctx)
	for {
		b.mu.Lock()
		if !b.draining {
			b.draining = true
			b.idle = make(chan struct{})
			b.mu.Unlock()
			if reason == reasonOverflow {
				b.overflowFlushes.Add(1)
			}
			return b.drain(ctx, reason)
		}
		b.requested = true
		idle := b.idle
		b.mu.Unlock()

		if !wait {
			return bus.Report{Queued: true}
		}
		select {
		case <-idle:
		case <-ctx.Done():
			return bus.Report{Queued: true}
		}
	}
}

// drain delivers pending batches until a pass ends with no further work.
// That check and giving up the drainer role happen under one lock, so a
// message queued concurrently is either taken by this drainer or finds no
// drainer and flushes itself.
func (b *Batcher) drain(ctx context.Context, reason string) bus.Report {
	ctx = NoWait(ctx)
	defer func() {
		if r := recover(); r != nil {
			b.release()
			panic(r)
		}
	}()

	var reports []bus.Report
	for {
		if batch := b.take(); len(batch) > 0 {
			start := time.Now()
			for _, msg := range batch {
				reports = append(reports, b.next.Publish(ctx, msg))
			}
			b.flushes.Add(1)
			b.flushed.Add(uint64(len(batch)))
			b.logger.Debug("batch flushed",
				"reason", reason,
				"messages", len(batch),
				"duration", time.Since(start),
			)
		}

		// Messages queued by handlers during this pass wait for their own
		// window, unless someone asked for a flush or the queue must drain
		// now because it is full or closing.
		b.mu.Lock()
		again := b.requested ||
			len(b.pending) >= b.policy.MaxSize ||
			(b.closed && len(b.pending) > 0)
		if !again {
			b.releaseLocked()
			b.mu.Unlock()
			return bus.Merge(reports...)
		}
		b.mu.Unlock()
	}
}

func (b *Batcher) release() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.releaseLocked()
}

func (b *Batcher) releaseLocked() {
	if !b.draining {
		return
	}
	b.draining = false
	close(b.idle)
}

// take removes and returns the pending batch, cancels its timer and clears
// any request for another pass.
func (b *Batcher) take() []message.Message {
	b.mu.Lock()
	defer b.mu.Unlock()
	batch := b.pending
	b.pending = nil
	b.requested = false
	if b.timer != nil {
		b.timer.Stop()
		b.timer = nil
	}
	b.seq++
	return batch
}

// Pending returns the number of queued messages.
func (b *Batcher) Pending() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.pending)
}

// Policy returns a copy of the current policy.
func (b *Batcher) Policy() Policy {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.policy.normalize()
}

// SetPolicy replaces the policy. Queued messages keep their place; a
// shorter window applies from the next queued message.
func (b *Batcher) SetPolicy(p Policy) {
	p = p.normalize()
	b.mu.Lock()
	b.policy = p
	overflow := len(b.pending) >= p.MaxSize
	b.mu.Unlock()
	if overflow {
		b.overflow(context.Background())
	}
}

// SetPriorities replaces the event-name table.
func (b *Batcher) SetPriorities(table map[string]message.Priority) {
	b.mu.Lock()
	defer b.mu.Unlock()
	p := b.policy
	p.Priorities = table
	b.policy = p.normalize()
}

// Stats is a snapshot of batcher activity.
type Stats struct {
	Bypassed        uint64
	Queued          uint64
	Flushed         uint64
	Flushes         uint64
	OverflowFlushes uint64
	Pending         int
}

// Stats returns current counters.
func (b *Batcher) Stats() Stats {
	return Stats{
		Bypassed:        b.bypassed.Load(),
		Queued:          b.queued.Load(),
		Flushed:         b.flushed.Load(),
		Flushes:         b.flushes.Load(),
		OverflowFlushes: b.overflowFlushes.Load(),
		Pending:         b.Pending(),
	}
}
