package dispatch

import (
	"context"
	"time"

	"github.com/dshills/plexus/internal/message"
)

// Handler is the interface for message handlers.
// This mirrors the bus.Handler interface to avoid circular imports.
type Handler interface {
	Handle(ctx context.Context, msg message.Message) error
}

// Invocation is one handler call scheduled by a Strategy.
type Invocation struct {
	// Handler receives the message.
	Handler Handler

	// Live is consulted immediately before the call. If it returns false the
	// handler is skipped. A nil Live always delivers.
	Live func() bool
}

// Strategy runs a set of invocations for one message.
type Strategy interface {
	// Run invokes every live handler and returns one Result per invocation,
	// in invocation order. Run returns only after every handler has returned.
	Run(ctx context.Context, msg message.Message, invocations []Invocation) []Result
}

// Result represents the outcome of a handler execution.
type Result struct {
	// Success is true if the handler completed without error or panic.
	Success bool

	// Error is the error returned by the handler, if any.
	Error error

	// Panicked is true if the handler panicked.
	Panicked bool

	// PanicValue is the value passed to panic(), if Panicked is true.
	PanicValue any

	// PanicStack is the stack trace at the point of panic.
	PanicStack []byte

	// Duration is how long the handler took to execute.
	Duration time.Duration

	// Skipped is true if the handler was not executed (unsubscribed before
	// its turn, or context cancelled).
	Skipped bool
}

// IsSuccess returns true if the result indicates successful execution.
func (r Result) IsSuccess() bool {
	return r.Success && !r.Panicked && r.Error == nil
}

// IsError returns true if the result indicates an error (not panic).
func (r Result) IsError() bool {
	return r.Error != nil && !r.Panicked && !r.Skipped
}

// IsPanic returns true if the result indicates a panic.
func (r Result) IsPanic() bool {
	return r.Panicked
}

// Invoked returns true if the handler was actually called.
func (r Result) Invoked() bool {
	return !r.Skipped
}

// PanicHandler is called when a handler panics during execution.
// It receives the message being processed, the panic value, and the stack trace.
type PanicHandler func(msg message.Message, panicValue any, stack []byte)

// defaultPanicHandler is a no-op panic handler.
func defaultPanicHandler(message.Message, any, []byte) {}

// skipped returns a Result for a handler that was not called.
func skipped(err error) Result {
	return Result{Success: false, Error: err, Skipped: true}
}
