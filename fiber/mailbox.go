package fiber

import "sync"

// Request is a join request queued on a fiber's mailbox.
type Request interface {
	// Abort is called once if the fiber terminates with the request still
	// queued.
	Abort()
}

// Mailbox queues join requests in arrival order until the owning fiber
// accepts them. It is closed when the fiber terminates.
type Mailbox struct {
	mu      sync.Mutex
	pending []Request
	closed  bool
	notify  chan struct{}
}

func newMailbox() *Mailbox {
	return &Mailbox{notify: make(chan struct{})}
}

// Post queues r. It returns false if the owner has terminated.
func (m *Mailbox) Post(r Request) bool {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return false
	}
	m.pending = append(m.pending, r)
	m.broadcast()
	m.mu.Unlock()
	return true
}

// Withdraw removes r if it is still queued.
func (m *Mailbox) Withdraw(r Request) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, p := range m.pending {
		if p == r {
			m.pending = append(m.pending[:i], m.pending[i+1:]...)
			return true
		}
	}
	return false
}

// Take scans queued requests in arrival order, removing those visit
// accepts, until visit asks to stop.
func (m *Mailbox) Take(visit func(r Request) (take, stop bool)) []Request {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Request
	kept := m.pending[:0]
	stopped := false
	for _, r := range m.pending {
		if stopped {
			kept = append(kept, r)
			continue
		}
		take, stop := visit(r)
		if take {
			out = append(out, r)
		} else {
			kept = append(kept, r)
		}
		stopped = stop
	}
	for i := len(kept); i < len(m.pending); i++ {
		m.pending[i] = nil
	}
	m.pending = kept
	return out
}

func (m *Mailbox) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.pending)
}

// Notify returns a channel that is closed on the next Post or Signal.
// Fetch it before inspecting the queue so no wakeup is lost.
func (m *Mailbox) Notify() <-chan struct{} {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.notify
}

// Signal wakes every fiber waiting on Notify.
func (m *Mailbox) Signal() {
	m.mu.Lock()
	m.broadcast()
	m.mu.Unlock()
}

func (m *Mailbox) broadcast() {
	close(m.notify)
	m.notify = make(chan struct{})
}

func (m *Mailbox) close() {
	m.mu.Lock()
	m.closed = true
	pending := m.pending
	m.pending = nil
	m.broadcast()
	m.mu.Unlock()
	for _, r := range pending {
		r.Abort()
	}
}
