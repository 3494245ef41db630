// Package prom exports fiber, join and scope lifecycle events as Prometheus
// metrics.
package prom

import (
	"context"
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/NetPo4ki/go-fibers/exception"
	"github.com/NetPo4ki/go-fibers/fiber"
	"github.com/NetPo4ki/go-fibers/join"
	"github.com/NetPo4ki/go-fibers/scope"
)

var (
	_ fiber.Observer = (*Metrics)(nil)
	_ scope.Observer = (*Metrics)(nil)
)

// Metrics implements fiber.Observer and scope.Observer on top of
// Prometheus collectors. Register it before use.
type Metrics struct {
	conceived      prometheus.Counter
	spawned        prometheus.Counter
	zombies        prometheus.Counter
	cancelRequests prometheus.Counter
	terminated     *prometheus.CounterVec
	live           prometheus.Gauge
	lifetime       prometheus.Histogram

	joinAccepted *prometheus.CounterVec
	joinWait     prometheus.Histogram
	joinFailed   *prometheus.CounterVec

	scopesCreated   prometheus.Counter
	scopesCancelled prometheus.Counter
	scopeJoinWait   prometheus.Histogram
	activeTasks     prometheus.Gauge
	tasksFinished   *prometheus.CounterVec
	taskDuration    prometheus.Histogram
}

// New builds the collectors under namespace.
func New(namespace string) *Metrics {
	counter := func(sub, name, help string) prometheus.Counter {
		return prometheus.NewCounter(prometheus.CounterOpts{Namespace: namespace, Subsystem: sub, Name: name, Help: help})
	}
	hist := func(sub, name, help string) prometheus.Histogram {
		return prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace, Subsystem: sub, Name: name, Help: help,
			Buckets: prometheus.ExponentialBuckets(1e-5, 4, 10),
		})
	}
	return &Metrics{
		conceived:      counter("fiber", "conceived_total", "Fibers conceived."),
		spawned:        counter("fiber", "spawned_total", "Fibers spawned."),
		zombies:        counter("fiber", "zombies_total", "Conceptions abandoned without a spawn."),
		cancelRequests: counter("fiber", "cancel_requests_total", "Cancellation requests delivered to fibers."),
		terminated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "fiber", Name: "terminated_total",
			Help: "Fibers terminated, by outcome.",
		}, []string{"outcome"}),
		live: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "fiber", Name: "live",
			Help: "Fibers conceived and not yet terminated.",
		}),
		lifetime: hist("fiber", "lifetime_seconds", "Time from conception to termination."),

		joinAccepted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "join", Name: "accepted_total",
			Help: "Join calls accepted by servers, by mode.",
		}, []string{"mode"}),
		joinWait: hist("join", "wait_seconds", "Time a join call waited to be accepted."),
		joinFailed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "join", Name: "failed_total",
			Help: "Join calls that failed at the call site, by exception kind.",
		}, []string{"kind"}),

		scopesCreated:   counter("scope", "created_total", "Scopes created."),
		scopesCancelled: counter("scope", "cancelled_total", "Scopes cancelled."),
		scopeJoinWait:   hist("scope", "wait_seconds", "Time spent in Scope.Wait."),
		activeTasks: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "scope", Name: "active_tasks",
			Help: "Scope tasks currently running.",
		}),
		tasksFinished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "scope", Name: "tasks_finished_total",
			Help: "Scope tasks finished, by result.",
		}, []string{"result"}),
		taskDuration: hist("scope", "task_duration_seconds", "Scope task run time."),
	}
}

// Collectors lists every collector owned by m.
func (m *Metrics) Collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.conceived, m.spawned, m.zombies, m.cancelRequests, m.terminated, m.live, m.lifetime,
		m.joinAccepted, m.joinWait, m.joinFailed,
		m.scopesCreated, m.scopesCancelled, m.scopeJoinWait, m.activeTasks, m.tasksFinished, m.taskDuration,
	}
}

// Register registers every collector with reg.
func (m *Metrics) Register(reg prometheus.Registerer) error {
	var errs []error
	for _, c := range m.Collectors() {
		if err := reg.Register(c); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m *Metrics) FiberConceived(fiber.ID, string) {
	m.conceived.Inc()
	m.live.Inc()
}

func (m *Metrics) FiberSpawned(fiber.ID, string) { m.spawned.Inc() }

func (m *Metrics) FiberCancelRequested(fiber.ID, string) { m.cancelRequests.Inc() }

func (m *Metrics) FiberTerminated(_ fiber.ID, _ string, lifetime time.Duration, uncaught *exception.Exception) {
	outcome := "ok"
	if uncaught != nil {
		outcome = "uncaught"
	}
	m.terminated.WithLabelValues(outcome).Inc()
	m.live.Dec()
	m.lifetime.Observe(lifetime.Seconds())
}

func (m *Metrics) FiberZombie(fiber.ID, string) { m.zombies.Inc() }

func (m *Metrics) JoinAccepted(_ fiber.ID, shared bool, wait time.Duration) {
	mode := join.Exclusive
	if shared {
		mode = join.Shared
	}
	m.joinAccepted.WithLabelValues(mode.String()).Inc()
	m.joinWait.Observe(wait.Seconds())
}

func (m *Metrics) JoinFailed(_ fiber.ID, kind exception.Kind) {
	m.joinFailed.WithLabelValues((kind &^ exception.InnerFail).String()).Inc()
}

func (m *Metrics) ScopeCreated(context.Context) { m.scopesCreated.Inc() }

func (m *Metrics) ScopeCancelled(context.Context, error) { m.scopesCancelled.Inc() }

func (m *Metrics) ScopeJoined(_ context.Context, wait time.Duration) {
	m.scopeJoinWait.Observe(wait.Seconds())
}

func (m *Metrics) TaskStarted(context.Context) { m.activeTasks.Inc() }

// TaskFinished records the task result as ok, error or panic.
func (m *Metrics) TaskFinished(_ context.Context, dur time.Duration, err error, panicked bool) {
	m.activeTasks.Dec()
	result := "ok"
	switch {
	case panicked:
		result = "panic"
	case err != nil:
		result = "error"
	}
	m.tasksFinished.WithLabelValues(result).Inc()
	m.taskDuration.Observe(dur.Seconds())
}
