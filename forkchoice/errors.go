package forkchoice

import "errors"

// Sentinel errors used as panic payloads for the StructuralInvariantViolation
// class in spec §7 (missing parent, set_root to an unknown key, a duplicate
// vote within one batch): these are programmer errors, not recoverable
// conditions, so the tree panics rather than returning them.
var (
	// ErrParentMissing: AddLeaf given a non-nil parent key not present in
	// the tree.
	ErrParentMissing = errors.New("forkchoice: parent missing")

	// ErrRootMissing: SetRoot given a new root key not present in the tree.
	ErrRootMissing = errors.New("forkchoice: root missing")

	// ErrDuplicateNode: AddRootParent given a key that already exists, or
	// whose slot does not precede the current root.
	ErrDuplicateNode = errors.New("forkchoice: duplicate node")

	// ErrDuplicateVoteInBatch: the same validator appears twice in one
	// AddVotes batch.
	ErrDuplicateVoteInBatch = errors.New("forkchoice: duplicate vote in batch")
)

// fatal panics with a structured log line, used for the StructuralInvariant
// -Violation class of errors in §7 that are programmer errors rather than
// recoverable conditions.
func (t *Tree) fatal(err error, args ...any) {
	t.log.Error(err.Error(), args...)
	panic(err)
}
