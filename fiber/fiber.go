package fiber

import (
	"context"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"code.hybscloud.com/iox"

	"github.com/NetPo4ki/go-fibers/exception"
	"github.com/NetPo4ki/go-fibers/heap"
)

type State int32

const (
	Conceived State = iota
	Running
	CancelPending
	Terminated
)

func (s State) String() string {
	switch s {
	case Conceived:
		return "conceived"
	case Running:
		return "running"
	case CancelPending:
		return "cancel-pending"
	case Terminated:
		return "terminated"
	}
	return "unknown"
}

// Fiber is a cooperatively scheduled unit of execution. A *Fiber is handed
// to its main function and must only be used by code running on that fiber.
type Fiber struct {
	id    ID
	name  string
	rt    *Runtime
	heaps *heap.Stack
	mbox  *Mailbox
	born  time.Time

	state      atomic.Int32
	canceled   atomic.Bool
	cancelOnce sync.Once
	reason     string
	ctx        context.Context
	cancel     context.CancelFunc
	shield     atomic.Int32
	done       chan struct{}

	report func(*exception.Exception)
}

func (f *Fiber) ID() ID { return f.id }

func (f *Fiber) Name() string { return f.name }

func (f *Fiber) Runtime() *Runtime { return f.rt }

// Heaps returns the fiber's region stack.
func (f *Fiber) Heaps() *heap.Stack { return f.heaps }

// Mailbox holds join requests addressed to this fiber.
func (f *Fiber) Mailbox() *Mailbox { return f.mbox }

// Context is canceled when cancellation of f is requested.
func (f *Fiber) Context() context.Context { return f.ctx }

// Done is closed once f has terminated.
func (f *Fiber) Done() <-chan struct{} { return f.done }

func (f *Fiber) State() State {
	s := State(f.state.Load())
	if s == Running && f.canceled.Load() {
		return CancelPending
	}
	return s
}

func (f *Fiber) Terminated() bool { return State(f.state.Load()) == Terminated }

func (f *Fiber) CancelRequested() bool { return f.canceled.Load() }

// Interruptible reports whether cancellation can currently be delivered.
func (f *Fiber) Interruptible() bool { return f.shield.Load() == 0 }

func (f *Fiber) requestCancel(reason string) {
	if f.Terminated() {
		return
	}
	f.cancelOnce.Do(func() {
		f.reason = reason
		f.canceled.Store(true)
		f.cancel()
		if f.rt.obs != nil {
			f.rt.obs.FiberCancelRequested(f.id, f.name)
		}
		f.rt.log.Debug("fiber: cancel requested", "fiber", f.name, "id", f.id, "reason", reason)
	})
}

func (f *Fiber) run(main func(*Fiber)) (uncaught *exception.Exception) {
	defer func() {
		if r := recover(); r != nil {
			uncaught = exception.FromPanic(r)
		}
	}()
	main(f)
	return nil
}

func (f *Fiber) raiseCanceled() {
	src := exception.NewCancelSource(f.reason)
	exception.ThrowFwd(exception.Canceled, "fiber canceled", src)
}

// Checkpoint raises Canceled if cancellation is pending and f is
// interruptible.
func (f *Fiber) Checkpoint() {
	if f.canceled.Load() && f.Interruptible() {
		f.raiseCanceled()
	}
}

// Uninterruptible runs fn with cancellation delivery suppressed. A request
// arriving meanwhile stays pending and is delivered at the first suspension
// point after fn returns.
func (f *Fiber) Uninterruptible(fn func()) {
	f.shield.Add(1)
	defer f.shield.Add(-1)
	fn()
}

// park gives up the worker slot while wait runs. wait receives a channel
// that fires on cancellation, or nil while f is uninterruptible.
func (f *Fiber) park(wait func(cancel <-chan struct{}) bool) bool {
	var cancel <-chan struct{}
	if f.Interruptible() {
		if f.canceled.Load() {
			return false
		}
		cancel = f.ctx.Done()
	}
	f.rt.release()
	defer f.rt.acquire()
	return wait(cancel)
}

// Wait suspends f until ch is ready and reports true, or reports false if
// cancellation became deliverable first.
func (f *Fiber) Wait(ch <-chan struct{}) bool {
	select {
	case <-ch:
		return true
	default:
	}
	return f.park(func(cancel <-chan struct{}) bool {
		select {
		case <-ch:
			return true
		case <-cancel:
			select {
			case <-ch:
				return true
			default:
				return false
			}
		}
	})
}

// Await suspends f until ch is ready, raising Canceled on cancellation.
func (f *Fiber) Await(ch <-chan struct{}) {
	if !f.Wait(ch) {
		f.raiseCanceled()
	}
}

// Recv receives from ch as a suspension point of f.
func Recv[T any](f *Fiber, ch <-chan T) (v T, ok bool) {
	got := f.park(func(cancel <-chan struct{}) bool {
		select {
		case v, ok = <-ch:
			return true
		case <-cancel:
			return false
		}
	})
	if !got {
		f.raiseCanceled()
	}
	return v, ok
}

func (f *Fiber) Sleep(d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	Recv(f, t.C)
}

// Yield lets other fibers use the worker slot.
func (f *Fiber) Yield() {
	f.Checkpoint()
	f.rt.release()
	runtime.Gosched()
	f.rt.acquire()
	f.Checkpoint()
}

// Block runs a blocking call without holding a worker slot. fn itself is
// not interrupted; pending cancellation is raised after it returns.
func (f *Fiber) Block(fn func()) {
	func() {
		f.rt.release()
		defer f.rt.acquire()
		fn()
	}()
	f.Checkpoint()
}

// Poll retries a non-blocking op while it reports iox.ErrWouldBlock,
// backing off between attempts without holding a worker slot.
func (f *Fiber) Poll(op func() error) error {
	var bo iox.Backoff
	for {
		err := op()
		if !iox.IsWouldBlock(err) {
			return err
		}
		f.Block(bo.Wait)
	}
}

// WaitFiber suspends until the fiber with the given ID has terminated.
// Unknown IDs return immediately.
func (f *Fiber) WaitFiber(id ID) {
	other, ok := f.rt.Lookup(id)
	if !ok {
		f.Checkpoint()
		return
	}
	f.Await(other.done)
}

// Conceive starts a mitosis from f.
func (f *Fiber) Conceive(name string) *Conception { return f.rt.Conceive(name) }

func (f *Fiber) Spawn(name string, main func(*Fiber)) ID { return f.rt.Spawn(name, main) }

// Go spawns a sub-fiber owned by the returned handle.
func (f *Fiber) Go(name string, main func(*Fiber)) *SubFiber { return f.rt.Go(name, main) }
