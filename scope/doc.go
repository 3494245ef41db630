// Package scope provides structured concurrency over fibers.
// A Scope owns the sub-fibers it spawns, provides a join point (Wait), and
// propagates cancellation and errors predictably according to a policy.
package scope
