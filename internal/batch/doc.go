// Package batch coalesces bursts of enriched events into single
// notification requests.
//
// A Queue is a trailing-edge debounce with a hard ceiling: every enqueue
// restarts the quiet period, but once MaxWait has elapsed since the first
// event of a burst, the next enqueue flushes immediately. The timing policy
// lives in the pure Transition function; Queue only executes its actions
// against an injected Clock.
//
// Queued events are held in memory only. A crash between enqueue and flush
// loses them.
package batch
