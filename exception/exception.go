package exception

import (
	"errors"
	"fmt"
	"runtime"

	"github.com/NetPo4ki/go-fibers/heap"
)

const maxBacktrace = 32

// Frame is one entry of a backtrace.
type Frame struct {
	Function string
	File     string
	Line     int
}

// Exception is a thrown error value.
type Exception struct {
	Kind      Kind
	Message   string
	File      string
	Line      int
	Backtrace []Frame
	// Fwd is the exception that caused this one, if any.
	Fwd *Exception

	class   classTag
	payload *heap.Alloc
	heap    *heap.Heap
	cause   error
}

type classTag interface {
	Name() string
	describe(*heap.Alloc) string
}

func newException(kind Kind, msg string, fwd *Exception, skip int) *Exception {
	e := &Exception{Kind: kind, Message: msg, Fwd: fwd}
	if _, file, line, ok := runtime.Caller(skip + 1); ok {
		e.File, e.Line = file, line
	}
	pcs := make([]uintptr, maxBacktrace)
	n := runtime.Callers(skip+2, pcs)
	frames := runtime.CallersFrames(pcs[:n])
	for {
		f, more := frames.Next()
		e.Backtrace = append(e.Backtrace, Frame{Function: f.Function, File: f.File, Line: f.Line})
		if !more {
			break
		}
	}
	if !kind.userThrowable() {
		e.Message = fmt.Sprintf("invalid exception kind %s: %s", kind, msg)
		e.Kind = Fatal
	}
	return e
}

// New builds an exception without throwing it. skip counts frames above
// the caller of New used as the source location.
func New(kind Kind, msg string, fwd *Exception, skip int) *Exception {
	return newException(kind, msg, fwd, skip+1)
}

// NewCancelSource builds the forwarded cause attached to Canceled.
func NewCancelSource(msg string) *Exception {
	e := newException(Arg, msg, nil, 1)
	e.Kind = CancelSource
	return e
}

// Throw raises a new exception of kind k.
func Throw(k Kind, msg string) {
	panic(newException(k, msg, nil, 1))
}

func Throwf(k Kind, format string, args ...any) {
	panic(newException(k, fmt.Sprintf(format, args...), nil, 1))
}

// ThrowFwd raises a new exception caused by fwd.
func ThrowFwd(k Kind, msg string, fwd *Exception) {
	panic(newException(k, msg, fwd, 1))
}

// ThrowFwdSame raises a new exception with the kind, class and payload of
// fwd and a new message.
func ThrowFwdSame(msg string, fwd *Exception) {
	e := newException(fwd.Kind, msg, fwd, 1)
	e.class, e.payload = fwd.class, fwd.payload
	panic(e)
}

// Rethrow raises e again unchanged.
func Rethrow(e *Exception) { panic(e) }

// Check throws an exception of kind k wrapping err if err is non-nil.
func Check(err error, k Kind, msg string) {
	if err == nil {
		return
	}
	var e *Exception
	if errors.As(err, &e) {
		panic(newException(k, msg+": "+e.Message, e, 1))
	}
	x := newException(k, msg+": "+err.Error(), nil, 1)
	x.cause = err
	panic(x)
}

// FromPanic converts a recovered value into an exception. Values that are
// not exceptions become Fatal.
func FromPanic(r any) *Exception {
	if e, ok := r.(*Exception); ok {
		return e
	}
	e := newException(Fatal, fmt.Sprintf("panic: %v", r), nil, 2)
	if err, ok := r.(error); ok {
		e.cause = err
	}
	return e
}

func (e *Exception) Error() string { return fmt.Sprintf("%s: %s", e.Kind, e.Message) }

// Unwrap exposes the forwarded exception and any wrapped Go error.
func (e *Exception) Unwrap() []error {
	var errs []error
	if e.Fwd != nil {
		errs = append(errs, e.Fwd)
	}
	if e.cause != nil {
		errs = append(errs, e.cause)
	}
	return errs
}

// Is matches a Kind target by bit intersection.
func (e *Exception) Is(target error) bool {
	k, ok := target.(Kind)
	return ok && e.Kind&k != 0
}

// Chain returns e followed by every forwarded cause.
func (e *Exception) Chain() []*Exception {
	var out []*Exception
	for x := e; x != nil; x = x.Fwd {
		out = append(out, x)
	}
	return out
}

// Root returns the innermost forwarded cause.
func (e *Exception) Root() *Exception {
	x := e
	for x.Fwd != nil {
		x = x.Fwd
	}
	return x
}

// ClassName returns the payload class name, or "" for plain exceptions.
func (e *Exception) ClassName() string {
	if e.class == nil {
		return ""
	}
	return e.class.Name()
}

// Heap returns the heap owning the payload, or nil.
func (e *Exception) Heap() *heap.Heap { return e.heap }

// Release frees the payload heaps of e and its forward chain.
func (e *Exception) Release() {
	for x := e; x != nil; x = x.Fwd {
		if x.heap != nil {
			x.heap.Release()
		}
	}
}
