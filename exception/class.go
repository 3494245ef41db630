package exception

import (
	"fmt"

	"github.com/NetPo4ki/go-fibers/heap"
)

// Class tags IO exceptions that carry a payload of type T.
type Class[T any] struct {
	name string
}

// NewClass declares a payload class.
func NewClass[T any](name string) *Class[T] { return &Class[T]{name: name} }

func (c *Class[T]) Name() string { return c.name }

func (c *Class[T]) describe(a *heap.Alloc) string {
	v, ok := heap.Load[T](a)
	if !ok {
		return c.name
	}
	return fmt.Sprintf("%s %+v", c.name, v)
}

func (c *Class[T]) build(msg string, fwd *Exception, h *heap.Heap, data T) *Exception {
	e := newException(IO, msg, fwd, 2)
	e.class = c
	e.heap = h
	e.payload = h.Store(data)
	return e
}

// Throw raises an IO exception of class c carrying data.
func (c *Class[T]) Throw(msg string, data T) {
	panic(c.build(msg, nil, heap.New(), data))
}

// ThrowFwd is Throw with a forwarded cause.
func (c *Class[T]) ThrowFwd(msg string, data T, fwd *Exception) {
	panic(c.build(msg, fwd, heap.New(), data))
}

// Emit builds the payload inside a fresh heap owned by the exception and
// throws it. If build panics the heap is released and the panic propagates.
func (c *Class[T]) Emit(msg string, build func(h *heap.Heap) T) {
	h := heap.New()
	data, failure := buildPayload(h, build)
	if failure != nil {
		h.Release()
		panic(failure)
	}
	panic(c.build(msg, nil, h, data))
}

func buildPayload[T any](h *heap.Heap, build func(*heap.Heap) T) (data T, failure any) {
	r, panicked := capture(func() { data = build(h) })
	if panicked {
		return data, r
	}
	return data, nil
}

// Is reports whether e belongs to class c.
func (c *Class[T]) Is(e *Exception) bool {
	return e != nil && e.class == classTag(c)
}

// Data returns the payload of e if it belongs to class c and has not been
// released.
func (c *Class[T]) Data(e *Exception) (T, bool) {
	if !c.Is(e) {
		var zero T
		return zero, false
	}
	return heap.Load[T](e.payload)
}

// CatchClass handles IO exceptions of class c and passes their payload.
func CatchClass[T any](c *Class[T], h func(e *Exception, data T)) Clause {
	return Clause{
		mask:  IO,
		match: c.Is,
		handle: func(e *Exception) {
			data, _ := c.Data(e)
			h(e, data)
		},
	}
}
