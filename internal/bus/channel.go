package bus

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/dshills/plexus/internal/bus/dispatch"
	"github.com/dshills/plexus/internal/message"
)

// subKey identifies a (type, handler) pair for deduplication.
type subKey struct {
	msgType string
	handler any
}

// Channel is a single routing table from message type to ordered handlers.
//
// Publish delivers to a snapshot of the subscribers taken when the call
// begins: handlers added during delivery wait for the next publish, and
// handlers removed during delivery are skipped if they have not run yet.
type Channel struct {
	id     int
	config config

	mu    sync.RWMutex
	table map[string][]*Subscription
	index map[subKey]*Subscription

	strategy dispatch.Strategy
	logger   *slog.Logger
}

// NewChannel creates a standalone channel. Mode options are ignored.
func NewChannel(opts ...Option) *Channel {
	return newChannel(0, newConfig(opts))
}

func newChannel(id int, cfg config) *Channel {
	return &Channel{
		id:       id,
		config:   cfg,
		table:    make(map[string][]*Subscription),
		index:    make(map[subKey]*Subscription),
		strategy: cfg.strategy(),
		logger:   cfg.logger.With("channel", id),
	}
}

// ID returns the channel index within its manager.
func (c *Channel) ID() int {
	return c.id
}

// Subscribe registers handler for msgType. Subscribing the same comparable
// handler to the same type again returns the existing subscription.
func (c *Channel) Subscribe(msgType string, handler Handler, opts ...SubscriptionOption) (*Subscription, error) {
	if err := validateSubscribe(msgType, handler); err != nil {
		return nil, err
	}
	sub, _ := c.add(newSubscription(msgType, handler, c, opts...))
	return sub, nil
}

// Unsubscribe removes the (msgType, handler) pair. Returns false if the
// pair was not subscribed. Handlers without a stable identity (bare funcs)
// can only be removed through their Subscription.
func (c *Channel) Unsubscribe(msgType string, handler Handler) bool {
	sub := c.lookup(msgType, handler)
	if sub == nil {
		return false
	}
	return c.removeSubscription(sub)
}

// SubscriberCount returns the number of handlers for msgType.
func (c *Channel) SubscriberCount(msgType string) int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.table[msgType])
}

// Types returns the subscribed message types in sorted order.
func (c *Channel) Types() []string {
	c.mu.RLock()
	types := make([]string, 0, len(c.table))
	for t := range c.table {
		types = append(types, t)
	}
	c.mu.RUnlock()
	sort.Strings(types)
	return types
}

// Publish validates msg and delivers it to the current subscribers of its type.
func (c *Channel) Publish(ctx context.Context, msg message.Message) Report {
	if err := msg.Validate(); err != nil {
		c.logger.Warn("rejected invalid message", "type", msg.Type, "category", msg.Category.String(), "error", err)
		return Report{MessageID: msg.ID, Type: msg.Type, Channel: c.id, Rejected: err}
	}
	return c.deliver(ctx, msg)
}

func validateSubscribe(msgType string, handler Handler) error {
	if handler == nil {
		return ErrNilHandler
	}
	if !message.ValidType(msgType) {
		return ErrInvalidType
	}
	return nil
}

// add inserts sub unless an equal (type, handler) pair exists, in which case
// the existing subscription is returned with inserted=false. Cancelled
// subscriptions are never inserted.
func (c *Channel) add(sub *Subscription) (got *Subscription, inserted bool) {
	if sub.IsCancelled() {
		return sub, false
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if sub.key != nil {
		k := subKey{msgType: sub.msgType, handler: sub.key}
		if existing, ok := c.index[k]; ok {
			return existing, false
		}
		c.index[k] = sub
	}
	c.table[sub.msgType] = append(c.table[sub.msgType], sub)
	return sub, true
}

// lookup finds the subscription for a (type, handler) pair.
func (c *Channel) lookup(msgType string, handler Handler) *Subscription {
	key := handlerKey(handler)
	if key == nil {
		return nil
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.index[subKey{msgType: msgType, handler: key}]
}

// removeSubscription implements remover.
func (c *Channel) removeSubscription(sub *Subscription) bool {
	sub.cancel()

	c.mu.Lock()
	defer c.mu.Unlock()
	return c.removeLocked(sub)
}

// removeLocked drops sub from the table. Caller holds c.mu.
func (c *Channel) removeLocked(sub *Subscription) bool {
	subs := c.table[sub.msgType]
	pos := -1
	for i, s := range subs {
		if s == sub {
			pos = i
			break
		}
	}
	if pos < 0 {
		return false
	}

	// Copy on removal: in-flight snapshots keep their own slice.
	next := make([]*Subscription, 0, len(subs)-1)
	next = append(next, subs[:pos]...)
	next = append(next, subs[pos+1:]...)
	if len(next) == 0 {
		delete(c.table, sub.msgType)
	} else {
		c.table[sub.msgType] = next
	}

	if sub.key != nil {
		k := subKey{msgType: sub.msgType, handler: sub.key}
		if c.index[k] == sub {
			delete(c.index, k)
		}
	}
	return true
}

// ordered returns all live subscriptions grouped by type, each group in
// subscription order.
func (c *Channel) ordered() []*Subscription {
	c.mu.RLock()
	defer c.mu.RUnlock()

	types := make([]string, 0, len(c.table))
	for t := range c.table {
		types = append(types, t)
	}
	sort.Strings(types)

	var out []*Subscription
	for _, t := range types {
		for _, s := range c.table[t] {
			if !s.IsCancelled() {
				out = append(out, s)
			}
		}
	}
	return out
}

// clear cancels and drops every subscription.
func (c *Channel) clear() int {
	c.mu.Lock()
	table := c.table
	c.table = make(map[string][]*Subscription)
	c.index = make(map[subKey]*Subscription)
	c.mu.Unlock()

	n := 0
	for _, subs := range table {
		for _, s := range subs {
			if s.cancel() {
				n++
			}
		}
	}
	return n
}

// snapshot returns the subscriber slice for msgType. The returned slice is
// never mutated in place.
func (c *Channel) snapshot(msgType string) []*Subscription {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.table[msgType]
}

// deliver runs the handlers of a validated message.
func (c *Channel) deliver(ctx context.Context, msg message.Message) Report {
	start := time.Now()
	report := Report{MessageID: msg.ID, Type: msg.Type, Channel: c.id}

	subs := c.snapshot(msg.Type)
	if len(subs) == 0 {
		report.Duration = time.Since(start)
		return report
	}

	targets := make([]*Subscription, 0, len(subs))
	invocations := make([]dispatch.Invocation, 0, len(subs))
	for _, s := range subs {
		if !s.accepts(msg) {
			continue
		}
		targets = append(targets, s)
		invocations = append(invocations, dispatch.Invocation{Handler: s.handler, Live: s.claim})
	}

	if c.config.handlerTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.config.handlerTimeout)
		defer cancel()
	}

	results := c.strategy.Run(ctx, msg, invocations)

	for i, r := range results {
		sub := targets[i]
		if r.Skipped {
			report.Skipped++
			continue
		}
		report.Delivered++

		switch {
		case r.Panicked:
			report.Panicked++
			herr := &HandlerError{
				SubscriptionID: sub.id,
				Type:           msg.Type,
				MessageID:      msg.ID,
				Panic:          r.PanicValue,
				Stack:          r.PanicStack,
			}
			report.Errors = append(report.Errors, herr)
			c.logger.Error("handler panicked",
				"type", msg.Type,
				"message_id", msg.ID,
				"subscription", sub.id,
				"panic", r.PanicValue,
				"stack", string(r.PanicStack),
			)
		case r.Error != nil:
			report.Failed++
			report.Errors = append(report.Errors, &HandlerError{
				SubscriptionID: sub.id,
				Type:           msg.Type,
				MessageID:      msg.ID,
				Err:            r.Error,
			})
			c.logger.Warn("handler failed",
				"type", msg.Type,
				"message_id", msg.ID,
				"subscription", sub.id,
				"error", r.Error,
			)
		default:
			report.Succeeded++
		}

		if sub.config.Once {
			sub.Unsubscribe()
		}
	}

	report.Duration = time.Since(start)
	return report
}
