package join

import (
	"code.hybscloud.com/iox"

	"github.com/NetPo4ki/go-fibers/fiber"
)

// Server accepts join calls against a state value of type S.
type Server[S any] struct {
	acceptor *fiber.Fiber
	target   *fiber.Fiber
	state    S
}

// NewServer makes f serve calls addressed to itself.
func NewServer[S any](f *fiber.Fiber, state S) *Server[S] {
	return &Server[S]{acceptor: f, target: f, state: state}
}

// Forward makes the client of c accept calls addressed to c's server, on
// the server's behalf. It is only valid inside the body of c.
func Forward[S any](c *Call, state S) *Server[S] {
	return &Server[S]{acceptor: c.client, target: c.server, state: state}
}

// Ref returns a typed reference to the fiber calls are addressed to.
func (s *Server[S]) Ref() Ref[S] { return Ref[S]{ID: s.target.ID()} }

func (s *Server[S]) State() S { return s.state }

// Accept waits for a call to one of ops, serves it together with any
// shared calls admitted alongside it, and returns once no call is
// executing. Cancellation is not delivered while calls execute.
func (s *Server[S]) Accept(ops ...Acceptor[S]) {
	set := newOpSet(ops)
	mbox := s.target.Mailbox()
	for {
		notify := mbox.Notify()
		if reqs, shared := takeFirst(mbox, set); len(reqs) > 0 {
			s.serve(set, reqs, shared)
			return
		}
		s.acceptor.Await(notify)
	}
}

// AutoAccept accepts calls until the fiber is canceled. It never returns
// normally.
func (s *Server[S]) AutoAccept(ops ...Acceptor[S]) {
	for {
		s.Accept(ops...)
	}
}

// TryAccept serves a pending call if there is one and returns
// iox.ErrWouldBlock otherwise.
func (s *Server[S]) TryAccept(ops ...Acceptor[S]) error {
	set := newOpSet(ops)
	reqs, shared := takeFirst(s.target.Mailbox(), set)
	if len(reqs) == 0 {
		s.acceptor.Checkpoint()
		return iox.ErrWouldBlock
	}
	s.serve(set, reqs, shared)
	return nil
}

func (s *Server[S]) serve(set opSet, reqs []fiber.Request, shared bool) {
	sess := &session{server: s.target, state: s.state, shared: shared}
	mbox := s.target.Mailbox()
	sess.admit(reqs)
	s.acceptor.Uninterruptible(func() {
		for {
			notify := mbox.Notify()
			if shared {
				sess.admit(takeShared(mbox, set))
			}
			if sess.idle() {
				return
			}
			s.acceptor.Await(notify)
		}
	})
	s.acceptor.Checkpoint()
}

func newOpSet[S any](ops []Acceptor[S]) opSet {
	set := make(opSet, len(ops))
	for _, op := range ops {
		set[op.info()] = struct{}{}
	}
	return set
}
