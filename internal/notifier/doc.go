// Package notifier delivers merged notification requests by email.
//
// Each request produces up to two independent deliveries: the client
// audience gets subject and text, the tech audience additionally gets every
// attachment. A failed audience never blocks or retries the other, and
// nothing is retried: a flush is delivered at most once.
//
// # Pipeline
//
// Submit validates and enqueues without blocking; a worker pool drains the
// queue through a token-bucket rate limit and a per-send timeout. Lifecycle
// events are published on the event bus and each audience attempt is
// appended to the audit store when one is configured.
package notifier
