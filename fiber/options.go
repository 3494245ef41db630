package fiber

import (
	"log/slog"
	"runtime"
	"time"

	"github.com/NetPo4ki/go-fibers/config"
	"github.com/NetPo4ki/go-fibers/exception"
)

// UncaughtHandler is called with an exception that escaped a fiber's main.
type UncaughtHandler func(f *Fiber, e *exception.Exception)

type Option func(*Options)

type Options struct {
	Workers         int
	DebugChecks     bool
	Logger          *slog.Logger
	Observer        Observer
	Uncaught        UncaughtHandler
	DumpColor       string
	ShutdownTimeout time.Duration
}

func defaultOptions() Options {
	return Options{
		Workers:         runtime.GOMAXPROCS(0),
		DumpColor:       "auto",
		ShutdownTimeout: 5 * time.Second,
	}
}

func WithWorkers(n int) Option { return func(o *Options) { o.Workers = n } }

func WithDebugChecks(v bool) Option { return func(o *Options) { o.DebugChecks = v } }

func WithLogger(l *slog.Logger) Option { return func(o *Options) { o.Logger = l } }

func WithObserver(obs Observer) Option { return func(o *Options) { o.Observer = obs } }

// WithUncaughtHandler replaces the default handler, which dumps the
// exception to stderr and exits the process with status 1.
func WithUncaughtHandler(h UncaughtHandler) Option { return func(o *Options) { o.Uncaught = h } }

// WithDumpColor sets dump coloring to "auto", "always" or "never".
func WithDumpColor(mode string) Option { return func(o *Options) { o.DumpColor = mode } }

func WithShutdownTimeout(d time.Duration) Option {
	return func(o *Options) { o.ShutdownTimeout = d }
}

// FromConfig translates a config into options.
func FromConfig(cfg config.Config) []Option {
	return []Option{
		WithWorkers(cfg.Workers),
		WithDebugChecks(cfg.DebugChecks),
		WithDumpColor(cfg.DumpColor),
		WithShutdownTimeout(cfg.ShutdownTimeout),
	}
}
