package errgroup

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/goleak"
	xerrgroup "golang.org/x/sync/errgroup"

	"github.com/NetPo4ki/go-fibers/fiber"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func run(t *testing.T, workers int, body func(f *fiber.Fiber)) {
	t.Helper()
	rt := fiber.New(fiber.WithWorkers(workers))
	if e := rt.Run("test", body); e != nil {
		t.Fatalf("unexpected exception: %s", e.Dump())
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := rt.Shutdown(ctx); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
}

func TestWithFiberHappy(t *testing.T) {
	t.Parallel()
	run(t, 2, func(f *fiber.Fiber) {
		g, _ := WithFiber(f)
		g.Go(func(context.Context) error { return nil })
		g.Go(func(context.Context) error { time.Sleep(10 * time.Millisecond); return nil })
		if err := g.Wait(); err != nil {
			t.Errorf("unexpected error: %v", err)
		}
	})
}

func TestWithFiberErrorCancels(t *testing.T) {
	t.Parallel()
	var observed atomic.Bool
	run(t, 2, func(f *fiber.Fiber) {
		g, gctx := WithFiber(f)
		g.Go(func(context.Context) error { return errors.New("boom") })
		g.Go(func(ctx context.Context) error {
			select {
			case <-ctx.Done():
				observed.Store(true)
			case <-time.After(time.Second):
			}
			return nil
		})
		if err := g.Wait(); err == nil || err.Error() != "boom" {
			t.Errorf("expected boom, got %v", err)
		}
		if gctx.Err() == nil {
			t.Error("group context was not canceled")
		}
	})
	if !observed.Load() {
		t.Fatal("sibling did not observe cancellation")
	}
}

func TestSetLimit(t *testing.T) {
	t.Parallel()
	var inside, peak atomic.Int32
	run(t, 4, func(f *fiber.Fiber) {
		g, _ := WithFiber(f)
		g.SetLimit(1)
		for range 4 {
			g.Go(func(context.Context) error {
				n := inside.Add(1)
				if n > peak.Load() {
					peak.Store(n)
				}
				time.Sleep(time.Millisecond)
				inside.Add(-1)
				return nil
			})
		}
		_ = g.Wait()
	})
	if peak.Load() != 1 {
		t.Fatalf("expected one function at a time, saw %d", peak.Load())
	}
}

func TestWaitStandardGroupReleasesWorker(t *testing.T) {
	t.Parallel()
	run(t, 1, func(f *fiber.Fiber) {
		release := make(chan struct{})
		var eg xerrgroup.Group
		eg.Go(func() error {
			<-release
			return errors.New("from errgroup")
		})
		// The single worker must be free for the helper while f waits.
		f.Go("helper", func(*fiber.Fiber) { close(release) })
		if err := Wait(f, &eg); err == nil || err.Error() != "from errgroup" {
			t.Errorf("unexpected error: %v", err)
		}
	})
}

func TestOwnerCancelRaisesAfterDrain(t *testing.T) {
	t.Parallel()
	rt := fiber.New(fiber.WithWorkers(2))
	started := make(chan struct{})
	var drained atomic.Bool
	owner := rt.Go("owner", func(f *fiber.Fiber) {
		g, _ := WithFiber(f)
		g.Go(func(ctx context.Context) error {
			close(started)
			<-ctx.Done()
			drained.Store(true)
			return ctx.Err()
		})
		_ = g.Wait()
	})
	<-started
	owner.Cancel()
	<-owner.Done()
	if !drained.Load() {
		t.Fatal("owner terminated before its group drained")
	}
	if owner.State() != fiber.Terminated {
		t.Fatalf("unexpected state %v", owner.State())
	}
	rt.Wait()
}
