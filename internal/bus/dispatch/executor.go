package dispatch

import (
	"context"
	"runtime/debug"
	"time"

	"github.com/dshills/plexus/internal/message"
)

// Executor handles the actual execution of handlers with
// panic recovery and timing.
type Executor struct {
	panicHandler PanicHandler
}

// NewExecutor creates a new executor with the given options.
func NewExecutor(opts ...ExecutorOption) *Executor {
	e := &Executor{
		panicHandler: defaultPanicHandler,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// ExecutorOption configures an Executor.
type ExecutorOption func(*Executor)

// WithPanicHandler sets the panic handler for the executor.
func WithPanicHandler(h PanicHandler) ExecutorOption {
	return func(e *Executor) {
		if h != nil {
			e.panicHandler = h
		}
	}
}

// Execute runs a handler with the given message and returns the result.
// It recovers from panics and captures timing information.
func (e *Executor) Execute(ctx context.Context, msg message.Message, handler Handler) (result Result) {
	select {
	case <-ctx.Done():
		return skipped(ctx.Err())
	default:
	}

	start := time.Now()

	defer func() {
		result.Duration = time.Since(start)

		if r := recover(); r != nil {
			stack := debug.Stack()

			result.Success = false
			result.Panicked = true
			result.PanicValue = r
			result.PanicStack = stack

			// A panicking panic handler must not take the publisher down.
			func() {
				defer func() { _ = recover() }()
				e.panicHandler(msg, r, stack)
			}()
		}
	}()

	if err := handler.Handle(ctx, msg); err != nil {
		result.Success = false
		result.Error = err
	} else {
		result.Success = true
	}

	return result
}

// executeInvocation checks liveness and runs one invocation.
func (e *Executor) executeInvocation(ctx context.Context, msg message.Message, inv Invocation) Result {
	if inv.Live != nil && !inv.Live() {
		return skipped(nil)
	}
	return e.Execute(ctx, msg, inv.Handler)
}
