package join

import (
	"fmt"
	"time"

	"github.com/NetPo4ki/go-fibers/exception"
	"github.com/NetPo4ki/go-fibers/fiber"
)

type Mode int

const (
	// Exclusive calls never overlap any other call on the same server.
	Exclusive Mode = iota
	// Shared calls may overlap each other.
	Shared
)

func (m Mode) String() string {
	if m == Shared {
		return "shared"
	}
	return "exclusive"
}

// Ref is a server fiber ID typed by the server's state.
type Ref[S any] struct {
	ID fiber.ID
}

// RefOf types a detached fiber ID.
func RefOf[S any](id fiber.ID) Ref[S] { return Ref[S]{ID: id} }

type opInfo struct {
	name string
	mode Mode
}

// Acceptor is an operation a Server[S] can accept.
type Acceptor[S any] interface {
	info() *opInfo
	bind(S)
}

// Op is a join-callable operation on server state S taking A and
// returning R.
type Op[S, A, R any] struct {
	meta *opInfo
	fn   func(c *Call, s S, a A) R
}

func NewExclusive[S, A, R any](name string, fn func(c *Call, s S, a A) R) *Op[S, A, R] {
	return &Op[S, A, R]{meta: &opInfo{name: name, mode: Exclusive}, fn: fn}
}

func NewShared[S, A, R any](name string, fn func(c *Call, s S, a A) R) *Op[S, A, R] {
	return &Op[S, A, R]{meta: &opInfo{name: name, mode: Shared}, fn: fn}
}

func (op *Op[S, A, R]) info() *opInfo { return op.meta }

func (op *Op[S, A, R]) bind(S) {}

func (op *Op[S, A, R]) Name() string { return op.meta.name }

func (op *Op[S, A, R]) Mode() Mode { return op.meta.mode }

// Call joins server and runs the operation once the server accepts. It is
// a suspension point for client.
func (op *Op[S, A, R]) Call(client *fiber.Fiber, server Ref[S], arg A) R {
	target, ok := client.Runtime().Lookup(server.ID)
	if !ok {
		op.fail(client, server.ID, !client.Interruptible())
	}
	client.Checkpoint()
	req := &request{op: op.meta, posted: time.Now(), ready: make(chan struct{})}
	uninterruptible := !client.Interruptible()
	if !target.Mailbox().Post(req) {
		op.fail(client, server.ID, uninterruptible)
	}
	s := await(client, target, req)
	if s == nil {
		op.fail(client, server.ID, uninterruptible)
	}
	return execute(op, s, client, arg)
}

func (op *Op[S, A, R]) fail(client *fiber.Fiber, id fiber.ID, uninterruptible bool) {
	kind := exception.JoinRace | exception.InnerFail
	what := "join race"
	if uninterruptible {
		kind = exception.NoSuchFiber | exception.InnerFail
		what = "no such fiber"
	}
	if obs := client.Runtime().Observer(); obs != nil {
		obs.JoinFailed(id, kind)
	}
	exception.Throw(kind, fmt.Sprintf("%s: %s on fiber %s", what, op.meta.name, id))
}

// await blocks until req is granted or aborted. A cancellation arriving
// while req is still queued withdraws it and is raised; once the server has
// taken req the call goes ahead regardless.
func await(client, target *fiber.Fiber, req *request) *session {
	if client.Wait(req.ready) {
		return req.sess
	}
	if target.Mailbox().Withdraw(req) {
		client.Checkpoint()
		return nil
	}
	client.Uninterruptible(func() { client.Await(req.ready) })
	return req.sess
}

func execute[S, A, R any](op *Op[S, A, R], s *session, client *fiber.Fiber, arg A) R {
	defer s.finish()
	if op.meta.mode == Shared {
		s.lock.RLock()
		defer s.lock.RUnlock()
	} else {
		s.lock.Lock()
		defer s.lock.Unlock()
	}
	unlink := client.Heaps().Link(s.server.Heaps())
	defer unlink()
	c := &Call{client: client, server: s.server, mode: op.meta.mode}
	defer c.restore()
	defer func() {
		if r := recover(); r != nil {
			if e, ok := r.(*exception.Exception); ok {
				// A join failure from inside the body is not the caller's own.
				e.Kind &^= exception.InnerFail
			}
			panic(r)
		}
	}()
	state, _ := s.state.(S)
	return op.fn(c, state, arg)
}
