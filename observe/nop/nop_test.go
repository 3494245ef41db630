package nop

import (
	"sync/atomic"
	"testing"

	"github.com/NetPo4ki/go-fibers/fiber"
	"github.com/NetPo4ki/go-fibers/scope"
)

var (
	_ fiber.Observer = (*Observer)(nil)
	_ scope.Observer = (*Observer)(nil)
)

type spawnCounter struct {
	Observer
	n atomic.Int32
}

func (c *spawnCounter) FiberSpawned(fiber.ID, string) { c.n.Add(1) }

func TestEmbeddedOverride(t *testing.T) {
	t.Parallel()
	c := &spawnCounter{}
	rt := fiber.New(fiber.WithWorkers(1), fiber.WithObserver(c))
	if e := rt.Run("root", func(f *fiber.Fiber) {
		f.Go("child", func(*fiber.Fiber) {}).Join(f)
	}); e != nil {
		t.Fatalf("unexpected exception: %v", e)
	}
	rt.Wait()
	if got := c.n.Load(); got != 2 {
		t.Fatalf("expected 2 spawns, got %d", got)
	}
}
