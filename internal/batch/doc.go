// Package batch defers low priority messages and publishes them together.
//
// A Batcher sits in front of any bus.Publisher. Messages whose priority
// bypasses batching (immediate, urgent, realtime) are published at once.
// Everything else is queued and delivered in arrival order when the batch
// window elapses, when the queue reaches its size cap, or when the owner
// calls Flush or Close.
//
// One goroutine drains the queue at a time and holds no lock while it
// delivers. A handler that flushes or closes the batcher delivering to it
// hands that work to the running drain.
package batch
