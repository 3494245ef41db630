package fiber

import (
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"sync/atomic"
)

// ID identifies a fiber for the lifetime of the process. IDs are never
// reused.
type ID struct {
	Hi, Lo uint64
}

var (
	idHi = func() uint64 {
		var b [8]byte
		_, _ = rand.Read(b[:])
		return binary.BigEndian.Uint64(b[:])
	}()
	idLo atomic.Uint64
)

func nextID() ID { return ID{Hi: idHi, Lo: idLo.Add(1)} }

func (id ID) IsZero() bool { return id == ID{} }

func (id ID) String() string { return fmt.Sprintf("%016x%016x", id.Hi, id.Lo) }
