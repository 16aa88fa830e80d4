package storage

import "errors"

// Recoverable storage errors, returned rather than panicked.
var (
	// ErrSegmentIO wraps an underlying filesystem error on a segment file.
	ErrSegmentIO = errors.New("accountsdb: segment i/o error")

	// ErrMismatchedAccountHash: an account's recomputed hash does not match
	// an expected value. Segment records store no hash, and no function in
	// this package returns this error.
	ErrMismatchedAccountHash = errors.New("accountsdb: mismatched account hash")

	// ErrMismatchedBankHash: a recomputed bank hash does not match a
	// recorded one. GenerateBankHash does not compare against a recorded
	// hash, and no function in this package returns this error.
	ErrMismatchedBankHash = errors.New("accountsdb: mismatched bank hash")

	// ErrMissingBankHash: a slot's bank hash was needed but none was
	// recorded. This package records no bank hashes, and no function in it
	// returns this error.
	ErrMissingBankHash = errors.New("accountsdb: missing bank hash")

	// ErrSegmentNotFound: a lookup referenced a StoreID with no open or
	// sealed segment.
	ErrSegmentNotFound = errors.New("accountsdb: segment not found")
)

// Programmer errors: a caller violated a structural invariant of the
// storage engine. These panic rather than return, mirroring forkchoice's
// StructuralInvariantViolation class.
var (
	// ErrDoubleRemoveFromSegment: the same (segment, offset) was reclaimed
	// twice, meaning the index's ref-counting is broken.
	ErrDoubleRemoveFromSegment = errors.New("accountsdb: double remove from segment")

	// ErrFrozenAccountViolation: a Store to a frozen pubkey would drop its
	// lamports below the floor recorded by FreezeAccount or change its
	// data, owner or executable flag. This is checked on every Store call
	// and must never happen in a correct validator.
	ErrFrozenAccountViolation = errors.New("accountsdb: write to frozen account")
)
