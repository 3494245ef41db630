package exception

// Clause is a catch or finally clause of Try.
type Clause struct {
	mask    Kind
	match   func(*Exception) bool
	handle  func(*Exception)
	finally func()
}

// Catch handles exceptions whose kind matches mask (see Kind.Matches).
func Catch(mask Kind, h func(e *Exception)) Clause {
	return Clause{mask: mask &^ uncatchable, handle: h}
}

// Finally runs f exactly once when Try exits, whatever happened.
func Finally(f func()) Clause {
	return Clause{finally: f}
}

func (c Clause) matches(e *Exception) bool {
	if c.handle == nil || !e.Kind.Matches(c.mask) {
		return false
	}
	return c.match == nil || c.match(e)
}

// Try runs body. A thrown exception goes to the first matching catch
// clause; once that clause returns, the exception and its payload heaps are
// released. Finally clauses run afterwards in order. An exception no clause
// matched, a Go panic, or a panic from a catch body propagates after the
// finally clauses have run.
func Try(body func(), clauses ...Clause) {
	pending, panicked := capture(body)
	if panicked {
		if e, ok := pending.(*Exception); ok {
			for _, c := range clauses {
				if !c.matches(e) {
					continue
				}
				if r, again := capture(func() { c.handle(e) }); again {
					pending = r
				} else {
					panicked = false
					e.Release()
				}
				break
			}
		}
	}
	for _, c := range clauses {
		if c.finally != nil {
			c.finally()
		}
	}
	if panicked {
		panic(pending)
	}
}

// Protect runs body and returns the exception it threw if its kind
// matches mask. Other panics propagate. The caller owns the returned
// exception.
func Protect(mask Kind, body func()) *Exception {
	r, panicked := capture(body)
	if !panicked {
		return nil
	}
	if e, ok := r.(*Exception); ok && e.Kind.Matches(mask) {
		return e
	}
	panic(r)
}

func capture(fn func()) (r any, panicked bool) {
	panicked = true
	defer func() {
		if panicked {
			r = recover()
		}
	}()
	fn()
	panicked = false
	return nil, false
}
