package join

import (
	"sync"
	"time"

	"github.com/NetPo4ki/go-fibers/fiber"
)

// request correlates one client call with the accept that grants it.
type request struct {
	op     *opInfo
	posted time.Time
	ready  chan struct{}
	sess   *session
}

// Abort is called by the server's mailbox when the server terminates.
func (r *request) Abort() { close(r.ready) }

func (r *request) grant(s *session) {
	r.sess = s
	close(r.ready)
}

// session is one accept: a single exclusive call or a batch of shared
// calls, all executing against the same state.
type session struct {
	server *fiber.Fiber
	state  any
	shared bool
	lock   sync.RWMutex

	mu        sync.Mutex
	executing int
}

func (s *session) admit(reqs []fiber.Request) {
	if len(reqs) == 0 {
		return
	}
	s.mu.Lock()
	s.executing += len(reqs)
	s.mu.Unlock()
	obs := s.server.Runtime().Observer()
	for _, r := range reqs {
		req := r.(*request)
		if obs != nil {
			obs.JoinAccepted(s.server.ID(), s.shared, time.Since(req.posted))
		}
		req.grant(s)
	}
}

func (s *session) finish() {
	s.mu.Lock()
	s.executing--
	s.mu.Unlock()
	s.server.Mailbox().Signal()
}

func (s *session) idle() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.executing == 0
}

type opSet map[*opInfo]struct{}

func (set opSet) has(r fiber.Request) (*request, bool) {
	req, ok := r.(*request)
	if !ok {
		return nil, false
	}
	_, ok = set[req.op]
	return req, ok
}

// takeFirst removes the first request for set. A shared first request
// brings along the shared requests queued after it, up to the next
// exclusive one.
func takeFirst(mbox *fiber.Mailbox, set opSet) (reqs []fiber.Request, shared bool) {
	first := true
	reqs = mbox.Take(func(r fiber.Request) (take, stop bool) {
		req, ok := set.has(r)
		if !ok {
			return false, false
		}
		if first {
			first = false
			shared = req.op.mode == Shared
			return true, !shared
		}
		if req.op.mode != Shared {
			return false, true
		}
		return true, false
	})
	return reqs, shared
}

// takeShared removes queued shared requests for set that arrived before
// any queued exclusive request for set.
func takeShared(mbox *fiber.Mailbox, set opSet) []fiber.Request {
	return mbox.Take(func(r fiber.Request) (take, stop bool) {
		req, ok := set.has(r)
		if !ok {
			return false, false
		}
		if req.op.mode != Shared {
			return false, true
		}
		return true, false
	})
}
