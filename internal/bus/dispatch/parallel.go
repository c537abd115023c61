package dispatch

import (
	"context"

	"golang.org/x/sync/errgroup"

	"github.com/dshills/plexus/internal/message"
)

// Parallel fans handlers out to goroutines and waits for all of them.
// Handler order is not meaningful in this mode.
type Parallel struct {
	executor *Executor
	limit    int
}

// NewParallel creates a parallel strategy running at most limit handlers
// at once. A limit <= 0 means unbounded.
func NewParallel(limit int, opts ...ExecutorOption) *Parallel {
	return &Parallel{
		executor: NewExecutor(opts...),
		limit:    limit,
	}
}

// Limit returns the concurrency bound (0 means unbounded).
func (p *Parallel) Limit() int {
	if p.limit < 0 {
		return 0
	}
	return p.limit
}

// Run implements Strategy.
func (p *Parallel) Run(ctx context.Context, msg message.Message, invocations []Invocation) []Result {
	results := make([]Result, len(invocations))
	if len(invocations) == 0 {
		return results
	}

	// Handler failures are reported through results, never through the
	// group, so one failing handler does not cancel its siblings.
	var g errgroup.Group
	if p.limit > 0 {
		g.SetLimit(p.limit)
	}

	for i, inv := range invocations {
		g.Go(func() error {
			results[i] = p.executor.executeInvocation(ctx, msg, inv)
			return nil
		})
	}
	_ = g.Wait()

	return results
}
