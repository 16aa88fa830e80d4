package index

import "errors"

// Sentinel errors for the accounts index. Per the panic/return split used
// throughout the core: a caller-visible precondition violation (rooting
// the same slot twice) is a StructuralInvariantViolation and panics; a
// not-found lookup is an ordinary return.
var (
	// ErrRootNotFound names a slot never passed to AddRoot. No Index
	// method returns or panics with it.
	ErrRootNotFound = errors.New("accountsindex: root not found")

	// ErrDuplicateRoot: AddRoot given a slot already rooted.
	ErrDuplicateRoot = errors.New("accountsindex: duplicate root")
)
