package scope

import (
	"golang.org/x/sync/semaphore"

	"github.com/NetPo4ki/go-fibers/fiber"
)

// Limiter bounds concurrent tasks within a scope.
type Limiter interface {
	Acquire(f *fiber.Fiber) error
	Release()
}

type semLimiter struct {
	sem *semaphore.Weighted
}

func newSemaphoreLimiter(n int) Limiter {
	if n <= 0 {
		return nil
	}
	return &semLimiter{sem: semaphore.NewWeighted(int64(n))}
}

// Acquire waits for a slot without holding a worker. Cancellation of f is
// raised once the wait gives up.
func (l *semLimiter) Acquire(f *fiber.Fiber) error {
	f.Checkpoint()
	if l.sem.TryAcquire(1) {
		return nil
	}
	var err error
	f.Block(func() { err = l.sem.Acquire(f.Context(), 1) })
	return err
}

func (l *semLimiter) Release() { l.sem.Release(1) }
