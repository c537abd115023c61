package bus

import (
	"context"
	"reflect"

	"github.com/dshills/plexus/internal/message"
)

// Handler is the interface for message handlers.
type Handler interface {
	// Handle processes one message. A returned error is recorded in the
	// delivery report and logged; it never stops delivery to other handlers.
	Handle(ctx context.Context, msg message.Message) error
}

// HandlerFunc is a function adapter for Handler.
//
// Func values are not comparable in Go, so two Subscribe calls with the same
// HandlerFunc create two subscriptions. Use NewHandler to obtain a handler
// value with a stable identity.
type HandlerFunc func(ctx context.Context, msg message.Message) error

// Handle implements the Handler interface.
func (f HandlerFunc) Handle(ctx context.Context, msg message.Message) error {
	return f(ctx, msg)
}

// funcHandler gives a HandlerFunc pointer identity.
type funcHandler struct {
	fn HandlerFunc
}

func (h *funcHandler) Handle(ctx context.Context, msg message.Message) error {
	return h.fn(ctx, msg)
}

// NewHandler wraps fn in a handler with a stable identity. Subscribing the
// returned value twice for the same type yields one subscription.
func NewHandler(fn HandlerFunc) Handler {
	return &funcHandler{fn: fn}
}

// Publisher is implemented by everything that accepts messages for delivery:
// Channel, Manager and the batching decorator.
type Publisher interface {
	Publish(ctx context.Context, msg message.Message) Report
}

// Subscriber is implemented by Channel and Manager.
type Subscriber interface {
	Subscribe(msgType string, handler Handler, opts ...SubscriptionOption) (*Subscription, error)
	Unsubscribe(msgType string, handler Handler) bool
	SubscriberCount(msgType string) int
}

// FilterFunc is a predicate for filtering messages.
// Return true to allow the message, false to filter it out.
type FilterFunc func(msg message.Message) bool

// handlerKey returns the identity used to deduplicate subscriptions, or nil
// if the handler's dynamic value cannot be used as a map key.
func handlerKey(h Handler) (key any) {
	t := reflect.TypeOf(h)
	if t == nil || !t.Comparable() {
		return nil
	}
	// Struct handlers holding func values in interface fields report a
	// comparable type but panic when hashed.
	defer func() {
		if recover() != nil {
			key = nil
		}
	}()
	probe := map[any]struct{}{h: {}}
	_ = probe
	return h
}
