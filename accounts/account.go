// Package accounts defines the core value types shared by the accounts
// index and accounts storage engine: the on-chain account record itself
// and the small structs used to locate and describe its stored bytes.
package accounts

import "fmt"

// Pubkey identifies an account. It is an opaque 32-byte value; the core
// never verifies it against a signature, only uses it as a map/index key.
type Pubkey [32]byte

// String renders the first four bytes in hex for log lines.
func (p Pubkey) String() string {
	return fmt.Sprintf("%x", p[:4])
}

// Hash is a 32-byte account, delta, or bank hash.
type Hash [32]byte

func (h Hash) String() string {
	return fmt.Sprintf("%x", h[:4])
}

// AccountInfo locates one version of an account's data inside a segment:
// which segment, at what byte offset, plus the lamport balance cached here
// so zero-lamport (tombstone) checks don't require a segment read.
type AccountInfo struct {
	StoreID  uint64
	Offset   uint64
	Lamports uint64
}

// IsZeroLamport reports whether this version tombstones the account.
func (a AccountInfo) IsZeroLamport() bool {
	return a.Lamports == 0
}

// AccountMeta is the fixed-size account header stored alongside the data
// payload in a segment.
type AccountMeta struct {
	Lamports   uint64
	RentEpoch  uint64
	Owner      Pubkey
	Executable bool
}

// StoredMeta prefixes AccountMeta in the segment layout: the write-order
// version counter (used to resolve same-slot write races deterministically),
// the slot the write belongs to (segments rotate independently of slot
// boundaries, so this can't be inferred from the segment alone), and the
// identity/length needed to locate the next record without consulting the
// index.
type StoredMeta struct {
	WriteVersion uint64
	Slot         uint64
	Pubkey       Pubkey
	DataLen      uint64
}

// Account is the fully materialized account: metadata plus data, as
// returned by a read. It intentionally does not carry StoreID/Offset --
// those are storage-engine bookkeeping, not account state.
type Account struct {
	Lamports   uint64
	RentEpoch  uint64
	Owner      Pubkey
	Executable bool
	Data       []byte
}

// IsZeroLamport reports whether the account is a tombstone.
func (a Account) IsZeroLamport() bool {
	return a.Lamports == 0
}
