// Package dispatch provides handler invocation strategies for the bus.
//
// Both strategies recover from panics in handlers, time every call and
// return one Result per invocation so the caller can build a delivery report.
//
//   - Sequential: handlers run one after another in the publisher's
//     goroutine. Order is subscription order.
//   - Parallel: handlers run concurrently through a bounded errgroup. The
//     call still returns only after every handler finished; order is not
//     meaningful.
//
// Each Invocation carries a Live check evaluated immediately before the
// call, which is how a channel skips handlers unsubscribed after the
// delivery snapshot was taken.
//
// # Usage
//
//	strategy := dispatch.NewSequential(
//	    dispatch.WithPanicHandler(func(msg message.Message, v any, stack []byte) {
//	        logger.Error("handler panic", "type", msg.Type, "panic", v)
//	    }),
//	)
//	results := strategy.Run(ctx, msg, invocations)
package dispatch
