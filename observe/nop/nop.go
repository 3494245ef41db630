// Package nop provides an observer that discards every event. It is the
// starting point for custom observers that only care about a few hooks.
package nop

import (
	"context"
	"time"

	"github.com/NetPo4ki/go-fibers/exception"
	"github.com/NetPo4ki/go-fibers/fiber"
)

// Observer implements fiber.Observer and scope.Observer with empty methods.
// Embed it to override selected hooks.
type Observer struct{}

func New() *Observer { return &Observer{} }

func (*Observer) FiberConceived(fiber.ID, string)                                       {}
func (*Observer) FiberSpawned(fiber.ID, string)                                         {}
func (*Observer) FiberCancelRequested(fiber.ID, string)                                 {}
func (*Observer) FiberTerminated(fiber.ID, string, time.Duration, *exception.Exception) {}
func (*Observer) FiberZombie(fiber.ID, string)                                          {}
func (*Observer) JoinAccepted(fiber.ID, bool, time.Duration)                            {}
func (*Observer) JoinFailed(fiber.ID, exception.Kind)                                   {}

func (*Observer) ScopeCreated(context.Context)                             {}
func (*Observer) ScopeCancelled(context.Context, error)                    {}
func (*Observer) ScopeJoined(context.Context, time.Duration)               {}
func (*Observer) TaskStarted(context.Context)                              {}
func (*Observer) TaskFinished(context.Context, time.Duration, error, bool) {}
