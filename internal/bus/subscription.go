package bus

import (
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/dshills/plexus/internal/message"
)

// SubscriptionState represents the state of a subscription.
type SubscriptionState int32

const (
	// SubscriptionStateActive means the subscription is receiving messages.
	SubscriptionStateActive SubscriptionState = iota

	// SubscriptionStatePaused means the subscription is temporarily not receiving messages.
	SubscriptionStatePaused

	// SubscriptionStateCancelled means the subscription has been permanently removed.
	SubscriptionStateCancelled
)

// String returns a human-readable state name.
func (s SubscriptionState) String() string {
	switch s {
	case SubscriptionStateActive:
		return "active"
	case SubscriptionStatePaused:
		return "paused"
	case SubscriptionStateCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// SubscriptionConfig contains configuration for a subscription.
type SubscriptionConfig struct {
	// Filter is an optional predicate. If set, messages are only delivered
	// when it returns true.
	Filter FilterFunc

	// Once removes the subscription after its first delivery.
	Once bool
}

// SubscriptionOption is a function that configures a subscription.
type SubscriptionOption func(*SubscriptionConfig)

// WithFilter sets a filter predicate.
func WithFilter(f FilterFunc) SubscriptionOption {
	return func(c *SubscriptionConfig) {
		c.Filter = f
	}
}

// WithOnce removes the subscription after the first delivery.
func WithOnce() SubscriptionOption {
	return func(c *SubscriptionConfig) {
		c.Once = true
	}
}

// remover is implemented by whoever owns a subscription's table entry.
type remover interface {
	removeSubscription(sub *Subscription) bool
}

// Subscription is the token returned by Subscribe.
// Calling Unsubscribe removes exactly this (type, handler) pair.
type Subscription struct {
	id      string
	msgType string
	handler Handler
	key     any
	config  SubscriptionConfig
	state   atomic.Int32
	owner   remover
}

func newSubscription(msgType string, h Handler, owner remover, opts ...SubscriptionOption) *Subscription {
	var config SubscriptionConfig
	for _, opt := range opts {
		opt(&config)
	}
	s := &Subscription{
		id:      uuid.NewString(),
		msgType: msgType,
		handler: h,
		key:     handlerKey(h),
		config:  config,
		owner:   owner,
	}
	s.state.Store(int32(SubscriptionStateActive))
	return s
}

// ID returns the unique subscription identifier.
func (s *Subscription) ID() string {
	return s.id
}

// Type returns the subscribed message type.
func (s *Subscription) Type() string {
	return s.msgType
}

// Handler returns the subscribed handler.
func (s *Subscription) Handler() Handler {
	return s.handler
}

// State returns the current subscription state.
func (s *Subscription) State() SubscriptionState {
	return SubscriptionState(s.state.Load())
}

// IsActive returns true if the subscription can receive messages.
func (s *Subscription) IsActive() bool {
	return s.State() == SubscriptionStateActive
}

// IsCancelled returns true once the subscription was removed.
func (s *Subscription) IsCancelled() bool {
	return s.State() == SubscriptionStateCancelled
}

// Pause temporarily stops delivery to this subscription.
func (s *Subscription) Pause() {
	s.state.CompareAndSwap(int32(SubscriptionStateActive), int32(SubscriptionStatePaused))
}

// Resume restarts delivery after a pause.
func (s *Subscription) Resume() {
	s.state.CompareAndSwap(int32(SubscriptionStatePaused), int32(SubscriptionStateActive))
}

// Unsubscribe removes the subscription. It returns true if this call
// removed it and false if it was already gone. Safe to call repeatedly and
// from inside a handler.
func (s *Subscription) Unsubscribe() bool {
	if s.owner == nil {
		return s.cancel()
	}
	return s.owner.removeSubscription(s)
}

// cancel marks the subscription cancelled. Returns true on the first call.
func (s *Subscription) cancel() bool {
	return SubscriptionState(s.state.Swap(int32(SubscriptionStateCancelled))) != SubscriptionStateCancelled
}

// accepts reports whether msg should be part of this delivery's snapshot.
func (s *Subscription) accepts(msg message.Message) (ok bool) {
	if !s.IsActive() {
		return false
	}
	if s.config.Filter == nil {
		return true
	}
	defer func() {
		if recover() != nil {
			ok = false
		}
	}()
	return s.config.Filter(msg)
}

// claim is evaluated immediately before the handler runs. One-shot
// subscriptions are consumed atomically so concurrent publishes deliver
// to them exactly once.
func (s *Subscription) claim() bool {
	if s.config.Once {
		return s.state.CompareAndSwap(int32(SubscriptionStateActive), int32(SubscriptionStateCancelled))
	}
	return s.IsActive()
}
