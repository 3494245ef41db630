// Package errgroup offers golang.org/x/sync/errgroup semantics for fibers.
// Group mirrors the errgroup API over a fail-fast scope so code written
// against errgroup can move onto sub-fibers, and Wait lets a fiber join a
// plain errgroup.Group without holding a worker.
package errgroup

import (
	"context"

	xerrgroup "golang.org/x/sync/errgroup"

	"github.com/NetPo4ki/go-fibers/fiber"
	"github.com/NetPo4ki/go-fibers/scope"
)

// Group is an errgroup-like wrapper over scope.Scope (FailFast).
type Group struct {
	s *scope.Scope
}

// WithFiber creates a Group owned by f. The returned context is canceled when
// any function passed to Go returns a non-nil error or f is canceled.
func WithFiber(f *fiber.Fiber) (*Group, context.Context) {
	s := scope.New(f, scope.FailFast)
	return &Group{s: s}, s.Context()
}

// Go runs fn on a new sub-fiber. fn may use ctx for blocking calls that are
// not fiber aware.
func (g *Group) Go(fn func(ctx context.Context) error) {
	if fn == nil {
		return
	}
	g.s.Go("errgroup", func(f *fiber.Fiber) error {
		return fn(f.Context())
	})
}

// SetLimit limits the number of active functions. It must be called before
// the first Go.
func (g *Group) SetLimit(n int) { g.s.SetLimit(n) }

// Wait suspends the owning fiber until all functions have returned and
// reports the first error.
func (g *Group) Wait() error { return g.s.Wait() }

// Wait joins a standard errgroup from f without holding a worker slot.
// Cancellation of f is raised after eg finishes.
func Wait(f *fiber.Fiber, eg *xerrgroup.Group) error {
	var err error
	f.Block(func() { err = eg.Wait() })
	return err
}
