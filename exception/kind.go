package exception

import (
	"fmt"
	"strings"
)

// Kind classifies exceptions. Kinds are distinct bits so catch masks are
// unions of kinds.
type Kind uint32

const (
	// Arg is an invalid argument or broken precondition.
	Arg Kind = 1 << 0
	// IO is a side-effect, rpc or data format error.
	IO Kind = 1 << 1
	// JoinRace means a joined server was gone. The call may or may not
	// have had effect.
	JoinRace Kind = 1 << 2
	// NoSuchFiber replaces JoinRace for uninterruptible callers and means
	// the call definitely did not execute.
	NoSuchFiber Kind = 1 << 3
	// Canceled is raised at a suspension point of a canceled fiber.
	Canceled Kind = 1 << 4

	// Any matches every catchable kind.
	Any Kind = ^Kind(0xff << 5)

	// CancelSource is only ever a forwarded cause of Canceled.
	CancelSource Kind = 1 << 13
	// InnerFail marks a join failure raised at the caller's own join site.
	InnerFail Kind = 1 << 14
	// InnerJoinFail matches join races and missing fibers raised by the
	// caller's own join, not those escaping a join body.
	InnerJoinFail = InnerFail | JoinRace | NoSuchFiber
	// Desync matches cancellation and join failures together.
	Desync = Canceled | InnerJoinFail
	// Fatal is uncatchable and terminates the process.
	Fatal Kind = 1 << 15
)

// uncatchable bits are stripped from every catch mask.
const uncatchable = CancelSource | Fatal

var kindNames = []struct {
	k    Kind
	name string
}{
	{Arg, "arg"},
	{IO, "io"},
	{JoinRace, "join_race"},
	{NoSuchFiber, "no_such_fiber"},
	{Canceled, "canceled"},
	{CancelSource, "cancel_source"},
	{InnerFail, "inner"},
	{Fatal, "fatal"},
}

func (k Kind) String() string {
	if k == 0 {
		return "none"
	}
	var parts []string
	rest := k
	for _, kn := range kindNames {
		if k&kn.k != 0 {
			parts = append(parts, kn.name)
			rest &^= kn.k
		}
	}
	if rest != 0 {
		parts = append(parts, fmt.Sprintf("%#x", uint32(rest)))
	}
	return strings.Join(parts, "|")
}

// Error lets a Kind be used as an errors.Is target.
func (k Kind) Error() string { return k.String() }

// Has reports whether k and mask share a bit.
func (k Kind) Has(mask Kind) bool { return k&mask != 0 }

// Matches reports whether a catch mask selects k. Uncatchable bits never
// match. A mask that includes InnerFail without being Any selects join
// races and missing fibers only when they were raised at the caller's own
// join site.
func (k Kind) Matches(mask Kind) bool {
	mask &^= uncatchable
	hit := k & mask
	if mask&InnerFail != 0 && mask&Any != Any && k&InnerFail == 0 {
		hit &^= JoinRace | NoSuchFiber
	}
	return hit != 0
}

func (k Kind) userThrowable() bool { return k != 0 && k&CancelSource == 0 }
