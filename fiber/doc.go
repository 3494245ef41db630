// Package fiber runs cooperatively scheduled fibers over a bounded pool of
// worker slots.
//
// Each fiber runs on its own goroutine but only executes while it holds a
// worker slot; it gives the slot back at every suspension point (Await,
// Sleep, Yield, Block, Poll, joins). Cancellation is a sticky request that
// the fiber observes as an exception.Canceled at its next interruptible
// suspension point.
//
// Fibers are created in two phases. Conceive reserves an ID and an initial
// heap; Spawn makes the fiber runnable. A conception that is abandoned
// instead becomes a zombie and is torn down in the background without ever
// running.
package fiber
