package fiber

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"
	"golang.org/x/term"

	"github.com/NetPo4ki/go-fibers/config"
	"github.com/NetPo4ki/go-fibers/exception"
	"github.com/NetPo4ki/go-fibers/heap"
)

// Runtime owns the worker pool and the registry of live fibers.
type Runtime struct {
	opts     Options
	pool     *semaphore.Weighted
	log      *slog.Logger
	obs      Observer
	uncaught UncaughtHandler

	mu     sync.RWMutex
	fibers map[ID]*Fiber

	wg      sync.WaitGroup
	closing atomic.Bool
}

func New(optFns ...Option) *Runtime {
	o := defaultOptions()
	for _, fn := range optFns {
		fn(&o)
	}
	if o.Workers <= 0 {
		o.Workers = 1
	}
	if o.Logger == nil {
		o.Logger = slog.New(slog.DiscardHandler)
	}
	if o.DebugChecks {
		heap.SetDebug(true)
	}
	rt := &Runtime{
		opts:   o,
		pool:   semaphore.NewWeighted(int64(o.Workers)),
		log:    o.Logger,
		obs:    o.Observer,
		fibers: make(map[ID]*Fiber),
	}
	rt.uncaught = o.Uncaught
	if rt.uncaught == nil {
		rt.uncaught = rt.dumpAndExit
	}
	return rt
}

// NewFromConfig builds a runtime from cfg, logging to stderr at the
// configured level. Extra options are applied last.
func NewFromConfig(cfg config.Config, optFns ...Option) *Runtime {
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: cfg.SlogLevel()}))
	opts := append(FromConfig(cfg), WithLogger(logger))
	return New(append(opts, optFns...)...)
}

func (rt *Runtime) Logger() *slog.Logger { return rt.log }

// Observer returns the configured observer, or nil.
func (rt *Runtime) Observer() Observer { return rt.obs }

func (rt *Runtime) Workers() int { return rt.opts.Workers }

// Lookup returns the live fiber with the given ID.
func (rt *Runtime) Lookup(id ID) (*Fiber, bool) {
	rt.mu.RLock()
	defer rt.mu.RUnlock()
	f, ok := rt.fibers[id]
	return f, ok
}

// Fibers reports how many fibers are conceived or running.
func (rt *Runtime) Fibers() int {
	rt.mu.RLock()
	defer rt.mu.RUnlock()
	return len(rt.fibers)
}

func (rt *Runtime) snapshot() []*Fiber {
	rt.mu.RLock()
	defer rt.mu.RUnlock()
	out := make([]*Fiber, 0, len(rt.fibers))
	for _, f := range rt.fibers {
		out = append(out, f)
	}
	return out
}

func (rt *Runtime) register(f *Fiber) {
	rt.mu.Lock()
	rt.fibers[f.id] = f
	rt.mu.Unlock()
}

func (rt *Runtime) unregister(f *Fiber) {
	rt.mu.Lock()
	delete(rt.fibers, f.id)
	rt.mu.Unlock()
}

func (rt *Runtime) acquire() {
	// Background never cancels, so Acquire cannot fail.
	_ = rt.pool.Acquire(context.Background(), 1)
}

func (rt *Runtime) release() { rt.pool.Release(1) }

// Spawn conceives and immediately spawns a fiber.
func (rt *Runtime) Spawn(name string, main func(*Fiber)) ID {
	return rt.Conceive(name).Spawn(main)
}

// Go conceives and spawns a fiber owned by the returned handle.
func (rt *Runtime) Go(name string, main func(*Fiber)) *SubFiber {
	return rt.Conceive(name).SpawnSub(main)
}

// Run spawns a fiber, waits for it to terminate and returns the exception
// that escaped its main, including cancellation. The uncaught handler is
// not called.
func (rt *Runtime) Run(name string, main func(*Fiber)) *exception.Exception {
	c := rt.Conceive(name)
	var result *exception.Exception
	c.f.report = func(e *exception.Exception) { result = e }
	c.Spawn(main)
	<-c.f.done
	return result
}

// Wait blocks until every spawned fiber and pending zombie has finished.
func (rt *Runtime) Wait() { rt.wg.Wait() }

// Shutdown requests cancellation of every live fiber and waits for them to
// drain or for ctx to end.
func (rt *Runtime) Shutdown(ctx context.Context) error {
	rt.closing.Store(true)
	live := rt.snapshot()
	rt.log.Info("fiber: shutting down", "live", len(live))
	for _, f := range live {
		f.requestCancel("runtime shutdown")
	}
	done := make(chan struct{})
	go func() {
		rt.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("fiber: shutdown: %w", ctx.Err())
	}
}

func (rt *Runtime) newFiber(name string, base *heap.Heap) *Fiber {
	ctx, cancel := context.WithCancel(context.Background())
	f := &Fiber{
		id:     nextID(),
		name:   name,
		rt:     rt,
		heaps:  heap.NewStack(base),
		mbox:   newMailbox(),
		ctx:    ctx,
		cancel: cancel,
		done:   make(chan struct{}),
		born:   time.Now(),
	}
	f.state.Store(int32(Conceived))
	return f
}

func (rt *Runtime) start(f *Fiber, main func(*Fiber)) {
	f.state.Store(int32(Running))
	if rt.closing.Load() {
		f.requestCancel("runtime shutdown")
	}
	if rt.obs != nil {
		rt.obs.FiberSpawned(f.id, f.name)
	}
	rt.log.Debug("fiber: spawned", "fiber", f.name, "id", f.id)
	rt.wg.Add(1)
	go func() {
		defer rt.wg.Done()
		rt.acquire()
		uncaught := f.run(main)
		rt.release()
		rt.finish(f, uncaught)
	}()
}

func (rt *Runtime) reap(f *Fiber) {
	if rt.obs != nil {
		rt.obs.FiberZombie(f.id, f.name)
	}
	rt.log.Debug("fiber: zombie", "fiber", f.name, "id", f.id)
	rt.wg.Add(1)
	go func() {
		defer rt.wg.Done()
		rt.finish(f, nil)
	}()
}

// finish tears f down. Requests still queued on its mailbox are aborted
// before its heaps are released.
func (rt *Runtime) finish(f *Fiber, uncaught *exception.Exception) {
	f.state.Store(int32(Terminated))
	f.mbox.close()
	rt.unregister(f)
	f.cancel()
	f.heaps.Close()

	quiet := uncaught != nil && uncaught.Kind.Has(exception.Canceled) && !uncaught.Kind.Has(exception.Fatal)
	reported := uncaught
	if quiet {
		reported = nil
	}
	if rt.obs != nil {
		rt.obs.FiberTerminated(f.id, f.name, time.Since(f.born), reported)
	}
	rt.log.Debug("fiber: terminated", "fiber", f.name, "id", f.id, "canceled", quiet)

	switch {
	case f.report != nil:
		f.report(uncaught)
	case reported != nil:
		rt.log.Error("fiber: uncaught exception", "fiber", f.name, "id", f.id, "kind", reported.Kind, "msg", reported.Message)
		rt.uncaught(f, reported)
	}
	close(f.done)
}

func (rt *Runtime) dumpAndExit(_ *Fiber, e *exception.Exception) {
	exception.Fprint(os.Stderr, e, rt.colorDumps())
	os.Exit(1)
}

func (rt *Runtime) colorDumps() bool {
	switch rt.opts.DumpColor {
	case "always":
		return true
	case "never":
		return false
	default:
		return term.IsTerminal(int(os.Stderr.Fd()))
	}
}
