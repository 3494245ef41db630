package heap

import (
	"errors"
	"sync"
	"sync/atomic"

	"code.hybscloud.com/atomix"
)

var (
	// ErrNotLIFO is raised when a scope or redirect is closed while a newer one is still open.
	ErrNotLIFO = errors.New("heap: scope popped out of order")
	// ErrNoParent is raised when escaping from a stack with no pushed scope.
	ErrNoParent = errors.New("heap: no enclosing scope to escape into")
	// ErrReleased is raised when allocating in or moving into a released heap.
	ErrReleased = errors.New("heap: use of released heap")
	// ErrNotJoined is raised by Import when the stack is not linked to a server.
	ErrNotJoined = errors.New("heap: import outside of a join")
	// ErrForeign is raised when an allocation is moved from a heap that does not own it.
	ErrForeign = errors.New("heap: allocation not owned by the source heap")
)

// poisonByte overwrites released buffers when debug checks are on.
const poisonByte = 0xdd

var (
	serial atomix.Uint32
	debug  atomic.Bool

	globalOnce sync.Once
	global     *Heap
)

// SetDebug toggles poisoning of released buffers.
func SetDebug(v bool) { debug.Store(v) }

// Debug reports whether debug checks are on.
func Debug() bool { return debug.Load() }

// Heap is a region owning a set of allocations.
type Heap struct {
	id       uint32
	mu       sync.Mutex
	allocs   map[*Alloc]struct{}
	bytes    int
	released bool
	global   bool
}

// Stats is a point-in-time view of a heap.
type Stats struct {
	Allocs int
	Bytes  int
}

// New returns a fresh heap that is not attached to any stack.
func New() *Heap {
	return &Heap{id: serial.Add(1), allocs: make(map[*Alloc]struct{})}
}

// Global returns the process-wide heap. It is created on first use and
// never released.
func Global() *Heap {
	globalOnce.Do(func() {
		global = New()
		global.global = true
	})
	return global
}

// AppendToGlobal irrevocably moves every allocation of h into the global heap.
func AppendToGlobal(h *Heap) { Global().Merge(h) }

func (h *Heap) ID() uint32 { return h.id }

func (h *Heap) IsGlobal() bool { return h.global }

// Alloc returns a zeroed buffer of n bytes owned by h.
func (h *Heap) Alloc(n int) *Alloc {
	a := &Alloc{size: n}
	a.data.Store(&contents{buf: make([]byte, n)})
	h.adopt(a)
	return a
}

// Store places v in h and returns its handle.
func (h *Heap) Store(v any) *Alloc {
	a := &Alloc{}
	a.data.Store(&contents{val: v})
	h.adopt(a)
	return a
}

func (h *Heap) adopt(a *Alloc) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.released {
		panic(ErrReleased)
	}
	h.allocs[a] = struct{}{}
	h.bytes += a.size
	a.owner.Store(h)
}

// Owns reports whether a is currently owned by h.
func (h *Heap) Owns(a *Alloc) bool { return a != nil && a.owner.Load() == h }

func (h *Heap) Released() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.released
}

func (h *Heap) Stats() Stats {
	h.mu.Lock()
	defer h.mu.Unlock()
	return Stats{Allocs: len(h.allocs), Bytes: h.bytes}
}

// Release invalidates every allocation h still owns. Releasing twice is a
// no-op, and the global heap ignores it.
func (h *Heap) Release() {
	if h.global {
		return
	}
	h.mu.Lock()
	if h.released {
		h.mu.Unlock()
		return
	}
	h.released = true
	allocs := h.allocs
	h.allocs = nil
	h.bytes = 0
	h.mu.Unlock()

	poison := debug.Load()
	for a := range allocs {
		a.owner.Store(nil)
		c := a.data.Swap(nil)
		if poison && c != nil {
			for i := range c.buf {
				c.buf[i] = poisonByte
			}
		}
	}
}

// Merge moves every allocation of src into h and releases the emptied src.
func (h *Heap) Merge(src *Heap) {
	if src == nil || src == h {
		return
	}
	unlock := lockPair(h, src)
	if h.released {
		unlock()
		panic(ErrReleased)
	}
	if src.released {
		unlock()
		return
	}
	for a := range src.allocs {
		h.allocs[a] = struct{}{}
		a.owner.Store(h)
	}
	h.bytes += src.bytes
	src.allocs = nil
	src.bytes = 0
	src.released = true
	unlock()
}

// transfer moves a from src to dst in a single step.
func transfer(a *Alloc, src, dst *Heap) error {
	if src == dst {
		return nil
	}
	unlock := lockPair(src, dst)
	defer unlock()
	if dst.released || src.released {
		return ErrReleased
	}
	if _, ok := src.allocs[a]; !ok {
		return ErrForeign
	}
	delete(src.allocs, a)
	src.bytes -= a.size
	dst.allocs[a] = struct{}{}
	dst.bytes += a.size
	a.owner.Store(dst)
	return nil
}

// lockPair locks two heaps in id order.
func lockPair(a, b *Heap) func() {
	if a.id > b.id {
		a, b = b, a
	}
	a.mu.Lock()
	b.mu.Lock()
	return func() {
		b.mu.Unlock()
		a.mu.Unlock()
	}
}

// Alloc is a piece of heap-resident data owned by exactly one heap.
// Handles may be read from any goroutine; the bytes of a buffer obtained
// before release must not be used after it.
type Alloc struct {
	owner atomic.Pointer[Heap]
	data  atomic.Pointer[contents]
	size  int
}

type contents struct {
	buf []byte
	val any
}

// Owner returns the owning heap, or nil once released.
func (a *Alloc) Owner() *Heap { return a.owner.Load() }

func (a *Alloc) Valid() bool { return a != nil && a.owner.Load() != nil }

// Bytes returns the buffer, or nil if a has been released.
func (a *Alloc) Bytes() []byte {
	if a == nil {
		return nil
	}
	if c := a.data.Load(); c != nil {
		return c.buf
	}
	return nil
}

// Value returns the stored value, or nil if a has been released.
func (a *Alloc) Value() any {
	if a == nil {
		return nil
	}
	if c := a.data.Load(); c != nil {
		return c.val
	}
	return nil
}

func (a *Alloc) Size() int { return a.size }

// Load returns the value stored in a as a T.
func Load[T any](a *Alloc) (T, bool) {
	v, ok := a.Value().(T)
	return v, ok
}
