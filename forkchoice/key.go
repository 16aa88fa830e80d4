// Package forkchoice implements the heaviest-subtree fork-choice engine:
// a stake-weighted DAG of (slot, hash) nodes, per-validator vote
// aggregation, and heaviest-descendant queries consulted by the rest of
// the validator to pick which fork to extend.
package forkchoice

import (
	"bytes"
	"fmt"
)

// SlotHashKey identifies a single fork-tree node: a slot plus the hash of
// the block occupying it. Two distinct hashes at the same slot denote a
// duplicate slot; both may coexist in the tree until one is confirmed.
type SlotHashKey struct {
	Slot uint64
	Hash [32]byte
}

// Less orders keys first by slot, then by hash, matching the tie rule in
// §4.A of the fork-choice specification (smaller key wins ties).
func (k SlotHashKey) Less(other SlotHashKey) bool {
	if k.Slot != other.Slot {
		return k.Slot < other.Slot
	}
	return bytes.Compare(k.Hash[:], other.Hash[:]) < 0
}

// String renders the key as "slot:hash" truncated to 4 hash bytes, for logs.
func (k SlotHashKey) String() string {
	return fmt.Sprintf("%d:%x", k.Slot, k.Hash[:4])
}

// compareKeys returns -1, 0, or 1 for a<b, a==b, a>b under key ordering.
func compareKeys(a, b SlotHashKey) int {
	switch {
	case a == b:
		return 0
	case a.Less(b):
		return -1
	default:
		return 1
	}
}
