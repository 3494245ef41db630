package fiber

import (
	"context"
	"os"

	"github.com/NetPo4ki/go-fibers/exception"
	"github.com/NetPo4ki/go-fibers/heap"
)

// MainFunc is the body of the root fiber.
type MainFunc func(f *Fiber, args, env []string)

// Main runs main as the root fiber over the global heap with the process
// arguments and environment, then shuts the runtime down. It returns the
// process exit status.
func Main(main MainFunc, optFns ...Option) int {
	return MainArgs(os.Args, os.Environ(), main, optFns...)
}

// MainArgs is Main with explicit arguments and environment.
func MainArgs(args, env []string, main MainFunc, optFns ...Option) int {
	rt := New(optFns...)
	return rt.runMain(args, env, main)
}

func (rt *Runtime) runMain(args, env []string, main MainFunc) int {
	root := rt.conceive("main", heap.Global())
	code := 0
	root.report = func(e *exception.Exception) {
		if e == nil || (e.Kind.Has(exception.Canceled) && !e.Kind.Has(exception.Fatal)) {
			return
		}
		rt.log.Error("fiber: uncaught exception", "fiber", root.name, "id", root.id, "kind", e.Kind, "msg", e.Message)
		code = 1
		rt.uncaught(root, e)
	}
	rt.start(root, func(f *Fiber) { main(f, args, env) })
	<-root.done

	ctx, cancel := context.WithTimeout(context.Background(), rt.opts.ShutdownTimeout)
	defer cancel()
	if err := rt.Shutdown(ctx); err != nil {
		rt.log.Warn("fiber: fibers still running at exit", "error", err)
	}
	return code
}
