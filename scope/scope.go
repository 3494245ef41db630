package scope

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/NetPo4ki/go-fibers/exception"
	"github.com/NetPo4ki/go-fibers/fiber"
)

type Policy int

const (
	FailFast Policy = iota
	Supervisor
)

// ErrOwnerCanceled is the scope error after its owner was canceled in Wait.
var ErrOwnerCanceled = errors.New("scope: owner canceled")

type Option func(*Options)

type Options struct {
	PanicAsError   bool
	Catch          exception.Kind
	Observer       Observer
	MaxConcurrency int
}

func defaultOptions() Options { return Options{PanicAsError: true, Catch: exception.Any} }

func WithPanicAsError(v bool) Option { return func(o *Options) { o.PanicAsError = v } }

// WithCatch sets the exception kinds a task may throw that become its error.
// Others propagate and end the process as uncaught. Canceled always ends the
// task quietly.
func WithCatch(mask exception.Kind) Option { return func(o *Options) { o.Catch = mask } }

func WithObserver(obs Observer) Option { return func(o *Options) { o.Observer = obs } }

func WithMaxConcurrency(n int) Option { return func(o *Options) { o.MaxConcurrency = n } }

type Observer interface {
	ScopeCreated(ctx context.Context)
	ScopeCancelled(ctx context.Context, cause error)
	ScopeJoined(ctx context.Context, wait time.Duration)
	TaskStarted(ctx context.Context)
	TaskFinished(ctx context.Context, dur time.Duration, err error, panicked bool)
}

// Task is the body of a sub-fiber owned by a scope.
type Task func(f *fiber.Fiber) error

type Scope struct {
	owner    *fiber.Fiber
	ctx      context.Context
	cancel   context.CancelFunc
	policy   Policy
	mu       sync.Mutex
	subs     []*fiber.SubFiber
	children []*Scope
	firstErr error
	canceled bool

	opts Options
	obs  Observer
	lim  Limiter
}

// New creates a scope whose tasks are sub-fibers spawned from owner.
func New(owner *fiber.Fiber, policy Policy, optFns ...Option) *Scope {
	opts := defaultOptions()
	for _, fn := range optFns {
		fn(&opts)
	}
	return newScope(owner, owner.Context(), policy, opts)
}

func newScope(owner *fiber.Fiber, parent context.Context, policy Policy, opts Options) *Scope {
	ctx, cancel := context.WithCancel(parent)
	s := &Scope{owner: owner, ctx: ctx, cancel: cancel, policy: policy, opts: opts, obs: opts.Observer}
	if opts.MaxConcurrency > 0 {
		s.lim = newSemaphoreLimiter(opts.MaxConcurrency)
	}
	if s.obs != nil {
		s.obs.ScopeCreated(ctx)
	}
	return s
}

// Context is canceled when the scope or its owner is canceled.
func (s *Scope) Context() context.Context { return s.ctx }

// SetLimit bounds how many tasks run at once. It must be called before Go.
func (s *Scope) SetLimit(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lim = newSemaphoreLimiter(n)
}

// Go spawns fn as a sub-fiber owned by the scope.
func (s *Scope) Go(name string, fn Task) {
	if fn == nil {
		return
	}
	s.mu.Lock()
	lim := s.lim
	s.mu.Unlock()
	sub := s.owner.Go(name, func(f *fiber.Fiber) {
		var (
			panicked bool
			err      error
		)
		if s.obs != nil {
			start := time.Now()
			s.obs.TaskStarted(s.ctx)
			defer func() { s.obs.TaskFinished(s.ctx, time.Since(start), err, panicked) }()
		}
		panicked, err = s.run(f, lim, fn)
		s.fail(err)
	})
	s.mu.Lock()
	s.subs = append(s.subs, sub)
	canceled := s.canceled
	s.mu.Unlock()
	if canceled {
		sub.Cancel()
	}
}

func (s *Scope) run(f *fiber.Fiber, lim Limiter, fn Task) (panicked bool, err error) {
	defer func() {
		r := recover()
		if r == nil {
			return
		}
		if e, ok := r.(*exception.Exception); ok {
			if e.Kind.Has(exception.Canceled) || !e.Kind.Matches(s.opts.Catch) {
				panic(r)
			}
			err = e
			return
		}
		if !s.opts.PanicAsError {
			panic(r)
		}
		panicked, err = true, fmt.Errorf("panic: %v", r)
	}()
	if lim != nil {
		if err := lim.Acquire(f); err != nil {
			return false, err
		}
		defer lim.Release()
	}
	return false, fn(f)
}

func (s *Scope) Cancel(err error) {
	s.mu.Lock()
	wasCanceled := s.canceled
	s.canceled = true
	if s.firstErr == nil && err != nil {
		s.firstErr = err
	}
	cause := s.firstErr
	subs := append([]*fiber.SubFiber(nil), s.subs...)
	children := append([]*Scope(nil), s.children...)
	s.mu.Unlock()

	s.cancel()
	for _, sub := range subs {
		sub.Cancel()
	}
	for _, c := range children {
		c.Cancel(cause)
	}
	if !wasCanceled && s.obs != nil {
		s.obs.ScopeCancelled(s.ctx, cause)
	}
}

// Wait suspends the owner until every task has finished and returns the
// first error. If the owner is canceled meanwhile, the tasks are canceled
// and drained before the cancellation is raised.
func (s *Scope) Wait() error {
	var start time.Time
	if s.obs != nil {
		start = time.Now()
	}
	for i := 0; ; i++ {
		s.mu.Lock()
		if i == len(s.subs) {
			err := s.firstErr
			s.mu.Unlock()
			if s.obs != nil {
				s.obs.ScopeJoined(s.ctx, time.Since(start))
			}
			return err
		}
		sub := s.subs[i]
		s.mu.Unlock()
		if !s.owner.Wait(sub.Done()) {
			s.Cancel(ErrOwnerCanceled)
			s.owner.Uninterruptible(func() { _ = s.Wait() })
			s.owner.Checkpoint()
		}
	}
}

// Close releases every task handle, requesting cancellation of tasks that
// are still running. It does not block.
func (s *Scope) Close() {
	s.mu.Lock()
	subs := append([]*fiber.SubFiber(nil), s.subs...)
	s.mu.Unlock()
	for _, sub := range subs {
		sub.Release()
	}
	s.cancel()
}

func (s *Scope) fail(err error) {
	if err == nil {
		return
	}
	s.mu.Lock()
	if s.firstErr == nil {
		s.firstErr = err
	}
	shouldCancel := s.policy == FailFast
	cause := s.firstErr
	s.mu.Unlock()
	if shouldCancel {
		s.Cancel(cause)
	}
}

// Child creates a scope with the same owner that is canceled with s.
func (s *Scope) Child(policy Policy, optFns ...Option) *Scope {
	childOpts := s.opts
	childOpts.MaxConcurrency = 0
	for _, fn := range optFns {
		fn(&childOpts)
	}
	cs := newScope(s.owner, s.ctx, policy, childOpts)
	s.mu.Lock()
	s.children = append(s.children, cs)
	canceled := s.canceled
	cause := s.firstErr
	s.mu.Unlock()
	if canceled {
		cs.Cancel(cause)
	}
	return cs
}
