package heap

import "sync"

// Stack is the per-fiber stack of open heaps. Only the owning fiber
// mutates it; joined fibers read it to resolve imports.
type Stack struct {
	mu     sync.RWMutex
	base   *Heap
	target *Heap
	frames []frame
	remote *Stack
}

type frame struct {
	heap   *Heap
	target *Heap
}

// NewStack returns a stack whose outermost region is base.
func NewStack(base *Heap) *Stack {
	return &Stack{base: base, target: base}
}

func (s *Stack) Base() *Heap { return s.base }

func (s *Stack) Depth() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.frames)
}

// Current returns the heap that new allocations go to.
func (s *Stack) Current() *Heap {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if n := len(s.frames); n > 0 {
		return s.frames[n-1].target
	}
	return s.target
}

// Top returns the innermost open heap, ignoring redirects.
func (s *Stack) Top() *Heap {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.top()
}

func (s *Stack) top() *Heap {
	if n := len(s.frames); n > 0 {
		return s.frames[n-1].heap
	}
	return s.base
}

func (s *Stack) Alloc(n int) *Alloc { return s.Current().Alloc(n) }

func (s *Stack) Store(v any) *Alloc { return s.Current().Store(v) }

// Scope is an open nested region. Pop it on every exit path, typically
// with defer.
type Scope struct {
	s      *Stack
	depth  int
	heap   *Heap
	parent *Heap
	popped bool
}

// Push opens a nested region on top of the stack.
func (s *Stack) Push() *Scope {
	h := New()
	s.mu.Lock()
	parent := s.top()
	s.frames = append(s.frames, frame{heap: h, target: h})
	depth := len(s.frames)
	s.mu.Unlock()
	return &Scope{s: s, depth: depth, heap: h, parent: parent}
}

func (sc *Scope) Heap() *Heap { return sc.heap }

// Parent returns the region that escaped allocations move to.
func (sc *Scope) Parent() *Heap { return sc.parent }

// Pop releases the region and everything it still owns. Scopes must be
// popped in reverse order of Push; popping twice is a no-op.
func (sc *Scope) Pop() {
	if sc.popped {
		return
	}
	s := sc.s
	s.mu.Lock()
	if len(s.frames) != sc.depth || s.frames[sc.depth-1].heap != sc.heap {
		s.mu.Unlock()
		panic(ErrNotLIFO)
	}
	s.frames[sc.depth-1] = frame{}
	s.frames = s.frames[:sc.depth-1]
	s.mu.Unlock()
	sc.popped = true
	sc.heap.Release()
}

// Escape moves a from the innermost region to its parent so it survives
// the innermost Pop.
func (s *Stack) Escape(a *Alloc) *Alloc {
	s.mu.RLock()
	n := len(s.frames)
	if n == 0 {
		s.mu.RUnlock()
		panic(ErrNoParent)
	}
	src := s.frames[n-1].heap
	dst := s.base
	if n > 1 {
		dst = s.frames[n-2].heap
	}
	s.mu.RUnlock()
	if a.Owner() == dst {
		return a
	}
	if err := transfer(a, src, dst); err != nil {
		panic(err)
	}
	return a
}

// EscapeAll escapes every allocation in order.
func (s *Stack) EscapeAll(allocs ...*Alloc) {
	for _, a := range allocs {
		s.Escape(a)
	}
}

// Link makes remote's heaps importable until the returned func is called.
func (s *Stack) Link(remote *Stack) (unlink func()) {
	s.mu.Lock()
	prev := s.remote
	s.remote = remote
	s.mu.Unlock()
	return func() {
		s.mu.Lock()
		s.remote = prev
		s.mu.Unlock()
	}
}

// Remote returns the linked stack, or nil outside a join.
func (s *Stack) Remote() *Stack {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.remote
}

// Import moves a from a heap of the linked stack into the current heap.
func (s *Stack) Import(a *Alloc) *Alloc {
	r := s.Remote()
	if r == nil {
		panic(ErrNotJoined)
	}
	src := a.Owner()
	if src == nil {
		panic(ErrReleased)
	}
	if !r.holds(src) {
		panic(ErrForeign)
	}
	if err := transfer(a, src, s.Current()); err != nil {
		panic(err)
	}
	return a
}

// ImportAll imports every allocation in order.
func (s *Stack) ImportAll(allocs ...*Alloc) {
	for _, a := range allocs {
		s.Import(a)
	}
}

func (s *Stack) holds(h *Heap) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if h == s.base || h == s.target {
		return true
	}
	for _, f := range s.frames {
		if h == f.heap || h == f.target {
			return true
		}
	}
	return false
}

// Redirect undoes a Switch.
type Redirect struct {
	s     *Stack
	depth int
	prev  *Heap
	done  bool
}

// Switch sends subsequent allocations of the current region to h without
// changing the stack depth.
func (s *Stack) Switch(h *Heap) *Redirect {
	if h.Released() {
		panic(ErrReleased)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	depth := len(s.frames)
	r := &Redirect{s: s, depth: depth}
	if depth > 0 {
		r.prev = s.frames[depth-1].target
		s.frames[depth-1].target = h
	} else {
		r.prev = s.target
		s.target = h
	}
	return r
}

// SwitchNew switches to a fresh heap. The caller owns the returned heap.
func (s *Stack) SwitchNew() (*Heap, *Redirect) {
	h := New()
	return h, s.Switch(h)
}

// Restore reinstates the allocation target that was active before Switch.
func (r *Redirect) Restore() {
	if r.done {
		return
	}
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.frames) != r.depth {
		panic(ErrNotLIFO)
	}
	if r.depth > 0 {
		s.frames[r.depth-1].target = r.prev
	} else {
		s.target = r.prev
	}
	r.done = true
}

// Txn runs fn in a nested region together with an alternative heap alt.
// When fn returns normally alt is merged into the enclosing region;
// otherwise alt is released with the nested region.
func (s *Stack) Txn(fn func(alt *Heap)) {
	sc := s.Push()
	defer sc.Pop()
	alt := New()
	committed := false
	defer func() {
		if committed {
			sc.parent.Merge(alt)
		} else {
			alt.Release()
		}
	}()
	fn(alt)
	committed = true
}

// SwitchTxn is Txn with allocations redirected to alt for the duration of fn.
func (s *Stack) SwitchTxn(fn func(alt *Heap)) {
	s.Txn(func(alt *Heap) {
		r := s.Switch(alt)
		defer r.Restore()
		fn(alt)
	})
}

// GlobalTxn runs fn with allocations going to a fresh heap that is appended
// to the global heap when fn returns normally.
func (s *Stack) GlobalTxn(fn func()) {
	sc := s.Push()
	defer sc.Pop()
	tail := New()
	committed := false
	defer func() {
		if committed {
			AppendToGlobal(tail)
		} else {
			tail.Release()
		}
	}()
	r := s.Switch(tail)
	defer r.Restore()
	fn()
	committed = true
}

// Close releases every open region and the base heap, outermost last.
func (s *Stack) Close() {
	s.mu.Lock()
	frames := s.frames
	s.frames = nil
	s.remote = nil
	s.target = s.base
	s.mu.Unlock()
	for i := len(frames) - 1; i >= 0; i-- {
		frames[i].heap.Release()
	}
	s.base.Release()
}
