package fiber

import (
	"time"

	"github.com/NetPo4ki/go-fibers/exception"
)

// Observer receives lifecycle events. Implementations must be safe for
// concurrent use.
type Observer interface {
	FiberConceived(id ID, name string)
	FiberSpawned(id ID, name string)
	FiberCancelRequested(id ID, name string)
	FiberTerminated(id ID, name string, lifetime time.Duration, uncaught *exception.Exception)
	FiberZombie(id ID, name string)
	JoinAccepted(server ID, shared bool, wait time.Duration)
	JoinFailed(server ID, kind exception.Kind)
}
