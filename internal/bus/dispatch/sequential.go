package dispatch

import (
	"context"

	"github.com/dshills/plexus/internal/message"
)

// Sequential invokes handlers one after another in the caller's goroutine.
// A handler starts only after the previous one returned, so handler order
// equals invocation order.
type Sequential struct {
	executor *Executor
}

// NewSequential creates a sequential strategy.
func NewSequential(opts ...ExecutorOption) *Sequential {
	return &Sequential{executor: NewExecutor(opts...)}
}

// Run implements Strategy.
func (s *Sequential) Run(ctx context.Context, msg message.Message, invocations []Invocation) []Result {
	results := make([]Result, len(invocations))

	for i, inv := range invocations {
		select {
		case <-ctx.Done():
			for j := i; j < len(invocations); j++ {
				results[j] = skipped(ctx.Err())
			}
			return results
		default:
		}

		results[i] = s.executor.executeInvocation(ctx, msg, inv)
	}

	return results
}
