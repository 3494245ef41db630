// Package exception implements typed, mask-filtered exceptions that unwind
// through panics.
//
// An Exception has a Kind bitmask; Try runs a body and dispatches a thrown
// exception to the first Catch clause whose mask intersects that kind.
// Finally clauses always run, after any matching catch body and before the
// exception continues to propagate. Fatal and CancelSource kinds can never
// be caught.
//
// Exceptions may carry a typed payload (see Class) stored in a heap that
// belongs to the exception and is released once a catch body completes.
package exception
