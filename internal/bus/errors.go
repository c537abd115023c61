package bus

import (
	"errors"
	"fmt"
)

// Sentinel errors for the bus.
var (
	// ErrClosed is returned when operations are attempted after Shutdown.
	ErrClosed = errors.New("bus is shut down")

	// ErrPaused is reported in a delivery report when the bus is paused.
	ErrPaused = errors.New("bus is paused")

	// ErrNilHandler is returned when a nil handler is provided.
	ErrNilHandler = errors.New("handler cannot be nil")

	// ErrInvalidType is returned when a subscription type is empty or malformed.
	ErrInvalidType = errors.New("invalid message type")

	// ErrInvalidTopology is returned for an unusable mode/channel count.
	ErrInvalidTopology = errors.New("invalid channel topology")

	// ErrHandlerPanic is matched by HandlerErrors that carry a panic.
	ErrHandlerPanic = errors.New("handler panicked")
)

// HandlerError wraps a failure of one handler during one delivery.
type HandlerError struct {
	// SubscriptionID is the ID of the subscription whose handler failed.
	SubscriptionID string

	// Type is the message type being delivered.
	Type string

	// MessageID is the ID of the message being delivered.
	MessageID string

	// Err is the error returned by the handler. Nil for panics.
	Err error

	// Panic is the value passed to panic(), if the handler panicked.
	Panic any

	// Stack is the stack trace captured at the panic.
	Stack []byte
}

// Error implements the error interface.
func (e *HandlerError) Error() string {
	if e.Panic != nil {
		return fmt.Sprintf("handler panic for subscription %s on %s: %v", e.SubscriptionID, e.Type, e.Panic)
	}
	return "handler error for subscription " + e.SubscriptionID + " on " + e.Type + ": " + e.Err.Error()
}

// Unwrap returns the underlying error.
func (e *HandlerError) Unwrap() error {
	return e.Err
}

// Is allows errors.Is to match panicking handlers with ErrHandlerPanic.
func (e *HandlerError) Is(target error) bool {
	return target == ErrHandlerPanic && e.Panic != nil
}
