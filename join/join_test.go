package join

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"code.hybscloud.com/iox"
	"go.uber.org/goleak"

	"github.com/NetPo4ki/go-fibers/exception"
	"github.com/NetPo4ki/go-fibers/fiber"
	"github.com/NetPo4ki/go-fibers/heap"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func newRuntime(t *testing.T) *fiber.Runtime {
	t.Helper()
	rt := fiber.New(fiber.WithWorkers(4), fiber.WithUncaughtHandler(func(f *fiber.Fiber, e *exception.Exception) {
		t.Errorf("uncaught in %s: %s", f.Name(), e.Dump())
	}))
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := rt.Shutdown(ctx); err != nil {
			t.Errorf("shutdown: %v", err)
		}
	})
	return rt
}

type counter struct {
	n      int
	inside atomic.Int32
}

var (
	incr = NewExclusive("incr", func(_ *Call, c *counter, by int) int {
		if c.inside.Add(1) != 1 {
			panic("exclusive calls overlapped")
		}
		defer c.inside.Add(-1)
		c.n += by
		return c.n
	})
	get = NewShared("get", func(_ *Call, c *counter, _ struct{}) int { return c.n })
)

func TestExclusiveIncrementsAreSerialized(t *testing.T) {
	t.Parallel()
	rt := newRuntime(t)
	const n = 64
	var final int
	e := rt.Run("driver", func(f *fiber.Fiber) {
		srv := f.Go("counter", func(s *fiber.Fiber) {
			NewServer(s, &counter{}).AutoAccept(incr, get)
		})
		defer srv.Release()
		ref := RefOf[*counter](srv.ID())
		clients := make([]*fiber.SubFiber, 0, n)
		for range n {
			clients = append(clients, f.Go("client", func(c *fiber.Fiber) {
				incr.Call(c, ref, 1)
			}))
		}
		for _, c := range clients {
			c.Join(f)
		}
		final = get.Call(f, ref, struct{}{})
	})
	if e != nil {
		t.Fatalf("unexpected exception: %v", e)
	}
	if final != n {
		t.Fatalf("counter = %d, want %d", final, n)
	}
}

type board struct {
	readers atomic.Int32
	writing atomic.Bool
	maxSeen atomic.Int32
	bad     atomic.Bool
}

func TestSharedCallsOverlapButNotWithExclusive(t *testing.T) {
	t.Parallel()
	rt := newRuntime(t)
	const k = 4
	arrived := make(chan struct{})
	var count atomic.Int32
	read := NewShared("read", func(c *Call, b *board, _ struct{}) struct{} {
		r := b.readers.Add(1)
		defer b.readers.Add(-1)
		if b.writing.Load() {
			b.bad.Store(true)
		}
		for {
			m := b.maxSeen.Load()
			if r <= m || b.maxSeen.CompareAndSwap(m, r) {
				break
			}
		}
		if count.Add(1) == k {
			close(arrived)
		}
		c.Client().Block(func() {
			select {
			case <-arrived:
			case <-time.After(time.Second):
			}
		})
		return struct{}{}
	})
	write := NewExclusive("write", func(_ *Call, b *board, _ struct{}) struct{} {
		b.writing.Store(true)
		if b.readers.Load() != 0 {
			b.bad.Store(true)
		}
		time.Sleep(time.Millisecond)
		b.writing.Store(false)
		return struct{}{}
	})
	b := &board{}
	e := rt.Run("driver", func(f *fiber.Fiber) {
		srv := f.Go("board", func(s *fiber.Fiber) { NewServer(s, b).AutoAccept(read, write) })
		defer srv.Release()
		ref := RefOf[*board](srv.ID())
		var subs []*fiber.SubFiber
		for range k {
			subs = append(subs, f.Go("reader", func(c *fiber.Fiber) { read.Call(c, ref, struct{}{}) }))
		}
		f.Await(arrived)
		for range 3 {
			subs = append(subs, f.Go("writer", func(c *fiber.Fiber) { write.Call(c, ref, struct{}{}) }))
		}
		for _, s := range subs {
			s.Join(f)
		}
	})
	if e != nil {
		t.Fatalf("unexpected exception: %v", e)
	}
	if b.bad.Load() {
		t.Fatal("exclusive call overlapped a shared call")
	}
	if b.maxSeen.Load() < 2 {
		t.Fatalf("shared calls never overlapped (max %d)", b.maxSeen.Load())
	}
}

func TestUnknownFiberRaces(t *testing.T) {
	t.Parallel()
	rt := newRuntime(t)
	ghost := RefOf[*counter](fiber.ID{Hi: 42, Lo: 42})
	var normal, shielded *exception.Exception
	e := rt.Run("client", func(f *fiber.Fiber) {
		normal = exception.Protect(exception.Any, func() { incr.Call(f, ghost, 1) })
		f.Uninterruptible(func() {
			shielded = exception.Protect(exception.Any, func() { incr.Call(f, ghost, 1) })
		})
	})
	if e != nil {
		t.Fatalf("unexpected exception: %v", e)
	}
	if normal == nil || !normal.Kind.Has(exception.JoinRace) {
		t.Fatalf("interruptible call should race, got %v", normal)
	}
	if shielded == nil || shielded.Kind.Has(exception.JoinRace) || !shielded.Kind.Has(exception.NoSuchFiber) {
		t.Fatalf("uninterruptible call should report no such fiber, got %v", shielded)
	}
}

func TestServerGoneBeforeAccept(t *testing.T) {
	t.Parallel()
	for _, uninterruptible := range []bool{false, true} {
		rt := newRuntime(t)
		c := rt.Conceive("unborn")
		ref := RefOf[*counter](c.ID())
		target, _ := rt.Lookup(c.ID())
		var got *exception.Exception
		done := make(chan struct{})
		rt.Spawn("client", func(f *fiber.Fiber) {
			defer close(done)
			call := func() {
				got = exception.Protect(exception.InnerJoinFail, func() { incr.Call(f, ref, 1) })
			}
			if uninterruptible {
				f.Uninterruptible(call)
			} else {
				call()
			}
		})
		deadline := time.Now().Add(time.Second)
		for target.Mailbox().Len() == 0 && time.Now().Before(deadline) {
			time.Sleep(time.Millisecond)
		}
		c.Abandon()
		select {
		case <-done:
		case <-time.After(time.Second):
			t.Fatal("client blocked on a dead server")
		}
		want := exception.JoinRace
		if uninterruptible {
			want = exception.NoSuchFiber
		}
		if got == nil || !got.Kind.Has(want) || !got.Kind.Has(exception.InnerFail) {
			t.Fatalf("uninterruptible=%v: got %v", uninterruptible, got)
		}
	}
}

func TestDrainBeforeCancel(t *testing.T) {
	t.Parallel()
	rt := newRuntime(t)
	entered := make(chan struct{})
	release := make(chan struct{})
	slow := NewExclusive("slow", func(c *Call, _ *counter, _ struct{}) string {
		close(entered)
		c.Client().Block(func() { <-release })
		return "finished"
	})
	srv := rt.Go("server", func(s *fiber.Fiber) { NewServer(s, &counter{}).AutoAccept(slow) })
	ref := RefOf[*counter](srv.ID())
	result := make(chan string, 1)
	rt.Spawn("client", func(f *fiber.Fiber) { result <- slow.Call(f, ref, struct{}{}) })

	<-entered
	srv.Cancel()
	select {
	case <-srv.Done():
		t.Fatal("server terminated while a client was executing")
	case <-time.After(30 * time.Millisecond):
	}
	close(release)
	if got := <-result; got != "finished" {
		t.Fatalf("client result = %q", got)
	}
	select {
	case <-srv.Done():
	case <-time.After(time.Second):
		t.Fatal("server did not terminate after draining")
	}
}

func TestClientCancelWithdrawsPendingCall(t *testing.T) {
	t.Parallel()
	rt := newRuntime(t)
	never := make(chan struct{})
	srv := rt.Go("deaf", func(s *fiber.Fiber) { s.Await(never) })
	defer srv.Release()
	target, _ := rt.Lookup(srv.ID())
	ref := RefOf[*counter](srv.ID())

	result := make(chan *exception.Exception, 1)
	client := rt.Go("client", func(f *fiber.Fiber) {
		result <- exception.Protect(exception.Canceled, func() { incr.Call(f, ref, 1) })
	})
	deadline := time.Now().Add(time.Second)
	for target.Mailbox().Len() == 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	client.Cancel()
	e := <-result
	if e == nil || !e.Kind.Has(exception.Canceled) {
		t.Fatalf("expected cancellation, got %v", e)
	}
	if n := target.Mailbox().Len(); n != 0 {
		t.Fatalf("%d requests left queued after withdrawal", n)
	}
}

type store struct {
	item *heap.Alloc
}

func TestImportAndFlip(t *testing.T) {
	t.Parallel()
	rt := newRuntime(t)
	var serverHeap *heap.Heap
	take := NewExclusive("take", func(c *Call, s *store, _ struct{}) *heap.Alloc {
		return c.Import(s.item)
	})
	stash := NewExclusive("stash", func(c *Call, s *store, v string) *heap.Alloc {
		r := c.FlipToServer()
		defer r.Restore()
		s.item = c.Heaps().Store(v)
		return s.item
	})
	ready := make(chan fiber.ID, 1)
	rt.Spawn("server", func(s *fiber.Fiber) {
		serverHeap = s.Heaps().Current()
		st := &store{item: s.Heaps().Store("from server")}
		ready <- s.ID()
		NewServer(s, st).AutoAccept(take, stash)
	})
	ref := RefOf[*store](<-ready)
	e := rt.Run("client", func(f *fiber.Fiber) {
		sc := f.Heaps().Push()
		defer sc.Pop()
		a := take.Call(f, ref, struct{}{})
		if a.Owner() != sc.Heap() {
			t.Error("imported allocation should belong to the client's current heap")
		}
		if v, _ := heap.Load[string](a); v != "from server" {
			t.Errorf("imported value = %q", v)
		}
		b := stash.Call(f, ref, "kept by server")
		if b.Owner() != serverHeap {
			t.Error("flipped allocation should belong to the server heap")
		}
		if f.Heaps().Current() != sc.Heap() {
			t.Error("flip leaked past the call")
		}
		if f.Heaps().Remote() != nil {
			t.Error("join link leaked past the call")
		}
		sc.Pop()
		if !b.Valid() || a.Valid() {
			t.Error("ownership did not follow the transfers")
		}
	})
	if e != nil {
		t.Fatalf("unexpected exception: %v", e)
	}
}

type relay struct {
	served atomic.Int32
}

func TestForwardedAccept(t *testing.T) {
	t.Parallel()
	rt := newRuntime(t)
	work := NewExclusive("work", func(c *Call, r *relay, x int) int {
		r.served.Add(1)
		return x * 2
	})
	delegate := NewExclusive("delegate", func(c *Call, r *relay, _ struct{}) fiber.ID {
		Forward(c, r).Accept(work)
		return c.Client().ID()
	})
	st := &relay{}
	proxy := rt.Go("proxy", func(s *fiber.Fiber) { NewServer(s, st).AutoAccept(delegate) })
	defer proxy.Release()
	ref := RefOf[*relay](proxy.ID())

	worker := make(chan fiber.ID, 1)
	rt.Spawn("worker", func(f *fiber.Fiber) { worker <- delegate.Call(f, ref, struct{}{}) })
	var doubled int
	e := rt.Run("client", func(f *fiber.Fiber) { doubled = work.Call(f, ref, 21) })
	if e != nil {
		t.Fatalf("unexpected exception: %v", e)
	}
	if doubled != 42 || st.served.Load() != 1 {
		t.Fatalf("doubled=%d served=%d", doubled, st.served.Load())
	}
	select {
	case <-worker:
	case <-time.After(time.Second):
		t.Fatal("forwarding accept never returned")
	}
}

func TestTryAccept(t *testing.T) {
	t.Parallel()
	rt := newRuntime(t)
	var first, second error
	ready := make(chan fiber.ID, 1)
	polled := make(chan struct{})
	srv := rt.Go("poller", func(s *fiber.Fiber) {
		server := NewServer(s, &counter{})
		first = server.TryAccept(incr)
		ready <- s.ID()
		<-polled
		second = s.Poll(func() error { return server.TryAccept(incr) })
	})
	ref := RefOf[*counter](<-ready)
	close(polled)
	if e := rt.Run("client", func(f *fiber.Fiber) { incr.Call(f, ref, 5) }); e != nil {
		t.Fatalf("unexpected exception: %v", e)
	}
	<-srv.Done()
	if !errors.Is(first, iox.ErrWouldBlock) {
		t.Fatalf("first TryAccept = %v", first)
	}
	if second != nil {
		t.Fatalf("polled TryAccept = %v", second)
	}
}

func TestRaceInsideBodyIsNotInner(t *testing.T) {
	t.Parallel()
	rt := newRuntime(t)
	ghost := RefOf[*counter](fiber.ID{Hi: 7, Lo: 7})
	proxyOp := NewExclusive("proxy", func(c *Call, _ *counter, _ struct{}) int {
		return incr.Call(c.Client(), ghost, 1)
	})
	srv := rt.Go("server", func(s *fiber.Fiber) { NewServer(s, &counter{}).AutoAccept(proxyOp) })
	defer srv.Release()
	ref := RefOf[*counter](srv.ID())
	var got *exception.Exception
	if e := rt.Run("client", func(f *fiber.Fiber) {
		got = exception.Protect(exception.JoinRace, func() { proxyOp.Call(f, ref, struct{}{}) })
	}); e != nil {
		t.Fatalf("unexpected exception: %v", e)
	}
	if got == nil || got.Kind != exception.JoinRace {
		t.Fatalf("expected outer join race, got %v", got)
	}
}

func TestInnerJoinFailFilterLetsOuterRaceThrough(t *testing.T) {
	t.Parallel()
	rt := newRuntime(t)
	ghost := RefOf[*counter](fiber.ID{Hi: 9, Lo: 9})
	proxyOp := NewExclusive("proxy", func(c *Call, _ *counter, _ struct{}) int {
		return incr.Call(c.Client(), ghost, 1)
	})
	srv := rt.Go("server", func(s *fiber.Fiber) { NewServer(s, &counter{}).AutoAccept(proxyOp) })
	defer srv.Release()
	ref := RefOf[*counter](srv.ID())
	var inner, outer *exception.Exception
	if e := rt.Run("client", func(f *fiber.Fiber) {
		outer = exception.Protect(exception.JoinRace, func() {
			inner = exception.Protect(exception.InnerJoinFail, func() { proxyOp.Call(f, ref, struct{}{}) })
		})
	}); e != nil {
		t.Fatalf("unexpected exception: %v", e)
	}
	if inner != nil {
		t.Fatalf("inner filter caught a race from inside the body: %v", inner)
	}
	if outer == nil || outer.Kind != exception.JoinRace {
		t.Fatalf("expected outer join race, got %v", outer)
	}
}
