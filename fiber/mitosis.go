package fiber

import (
	"sync/atomic"

	"github.com/NetPo4ki/go-fibers/exception"
	"github.com/NetPo4ki/go-fibers/heap"
)

// Conception is a fiber that has an ID and an initial heap but does not run
// yet. It must be spawned or abandoned exactly once; defer Abandon to make
// an unspawned conception a zombie on every exit path.
type Conception struct {
	f    *Fiber
	used atomic.Bool
}

// Conceive reserves an ID and an initial heap for a new fiber.
func (rt *Runtime) Conceive(name string) *Conception {
	return &Conception{f: rt.conceive(name, heap.New())}
}

func (rt *Runtime) conceive(name string, base *heap.Heap) *Fiber {
	f := rt.newFiber(name, base)
	rt.register(f)
	if rt.obs != nil {
		rt.obs.FiberConceived(f.id, f.name)
	}
	rt.log.Debug("fiber: conceived", "fiber", name, "id", f.id)
	return f
}

func (c *Conception) ID() ID { return c.f.id }

// Heap is the initial heap that becomes the new fiber's base heap.
func (c *Conception) Heap() *heap.Heap { return c.f.heaps.Base() }

func (c *Conception) claim() {
	if !c.used.CompareAndSwap(false, true) {
		exception.Throw(exception.Arg, "conception already spawned or abandoned")
	}
}

// Spawn makes the fiber runnable and returns its detached ID.
func (c *Conception) Spawn(main func(*Fiber)) ID {
	c.claim()
	c.f.rt.start(c.f, main)
	return c.f.id
}

// SpawnSub makes the fiber runnable and returns an owning handle.
func (c *Conception) SpawnSub(main func(*Fiber)) *SubFiber {
	c.claim()
	c.f.rt.start(c.f, main)
	return &SubFiber{f: c.f}
}

// Abandon turns an unspawned conception into a zombie that is torn down in
// the background. It is a no-op after Spawn.
func (c *Conception) Abandon() {
	if !c.used.CompareAndSwap(false, true) {
		return
	}
	c.f.rt.reap(c.f)
}

// SubFiber owns a fiber's requested lifetime. Releasing it requests
// cancellation unless the fiber already terminated.
type SubFiber struct {
	f        *Fiber
	released atomic.Bool
}

func (s *SubFiber) ID() ID { return s.f.id }

func (s *SubFiber) Done() <-chan struct{} { return s.f.done }

func (s *SubFiber) State() State { return s.f.State() }

// Cancel requests cancellation without giving up the handle.
func (s *SubFiber) Cancel() { s.f.requestCancel("canceled by owner") }

// Release gives up the handle. It never blocks.
func (s *SubFiber) Release() {
	if !s.released.CompareAndSwap(false, true) {
		return
	}
	if !s.f.Terminated() {
		s.f.requestCancel("sub-fiber handle released")
	}
}

// Join suspends f until the sub-fiber terminates.
func (s *SubFiber) Join(f *Fiber) { f.Await(s.f.done) }
