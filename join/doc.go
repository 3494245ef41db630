// Package join implements synchronous calls between fibers.
//
// A server fiber wraps its state in a Server and accepts calls to a set of
// operations. A client calls an Op against a typed Ref; it blocks until the
// server accepts, then runs the operation body on its own fiber against
// the server state, with the server's heaps linked for Import. Exclusive
// operations run one at a time; shared operations may run together but
// never alongside an exclusive one.
//
// Calling a fiber that does not exist or terminates before accepting
// raises exception.JoinRace, or exception.NoSuchFiber when the caller is
// uninterruptible.
package join
