package forkchoice

import (
	"github.com/valcore/valcore/stake"
)

// Vote is a single validator's fork-choice vote: the slot-hash key it
// currently targets. The validator's effective stake for the vote is
// looked up by epoch (derived from Key.Slot) against the caller-supplied
// EpochStakeLookup, matching §3's LatestVote mapping (which stores only
// validator -> SlotHashKey, no epoch).
type Vote struct {
	Validator stake.ValidatorID
	Key       SlotHashKey
}

// AddVotes ingests a batch of votes, diffs each against the validator's
// prior latest vote, and applies the resulting Add/Subtract/Aggregate
// operations to the tree in one atomic pass (§4.B, §5 "Vote ingestion is
// batch-atomic"). Returns the new best overall slot-hash key.
//
// A validator appearing twice in one batch is a programmer error and
// panics (ErrDuplicateVoteInBatch). A vote for a slot strictly below the
// current root, or a vote that does not supersede the validator's prior
// vote, is silently dropped.
func (t *Tree) AddVotes(votes []Vote, lookup stake.EpochStakeLookup) SlotHashKey {
	t.mu.Lock()
	defer t.mu.Unlock()

	seen := make(map[stake.ValidatorID]bool, len(votes))
	batch := newUpdateBatch()
	rootSlot := t.root.Slot

	for _, v := range votes {
		if seen[v.Validator] {
			t.fatal(ErrDuplicateVoteInBatch, "validator", v.Validator)
		}
		seen[v.Validator] = true

		if v.Key.Slot < rootSlot {
			t.log.Debug("dropping stale vote below root", "validator", v.Validator, "key", v.Key, "root", t.root)
			continue
		}
		if _, ok := t.nodes[v.Key]; !ok {
			t.log.Warn("dropping vote for unregistered slot-hash", "validator", v.Validator, "key", v.Key)
			continue
		}

		oldKey, hadOld := t.latestVotes[v.Validator]
		if hadOld {
			supersedes := v.Key.Slot > oldKey.Slot ||
				(v.Key.Slot == oldKey.Slot && lessHash(v.Key.Hash, oldKey.Hash))
			if !supersedes {
				t.log.Debug("dropping outdated vote", "validator", v.Validator, "old", oldKey, "new", v.Key)
				continue
			}
			if _, ok := t.nodes[oldKey]; ok {
				oldStake := lookup.StakeOf(v.Validator, t.cfg.epochOf(oldKey.Slot))
				batch.subtractStake(oldKey, oldStake)
				batch.markAggregateChain(t, oldKey)
			}
		}

		newStake := lookup.StakeOf(v.Validator, t.cfg.epochOf(v.Key.Slot))
		batch.addStake(v.Key, newStake)
		batch.markAggregateChain(t, v.Key)

		t.latestVotes[v.Validator] = v.Key
	}

	t.processBatch(batch)

	best := t.nodes[t.root].BestDescendant
	t.metrics.bestSlot.Set(int64(best.Slot))
	return best
}

// processBatch applies an update batch in descending (key, label) order,
// per §4.B "Output" and §9's underflow-avoidance ordering.
func (t *Tree) processBatch(batch *updateBatch) {
	for _, ok := range batch.orderedKeys() {
		n, present := t.nodes[ok.key]
		if !present {
			// Concurrent SetRoot or clean may have pruned this node
			// between the batch being built and applied; the op is a
			// no-op, not an error (§7: missing-node reclaim paths log and
			// continue, the same policy applies here).
			continue
		}
		amount := batch.amounts[ok]
		switch ok.label {
		case LabelSubtract:
			if amount > n.StakeVotedAt {
				n.StakeVotedAt = 0
			} else {
				n.StakeVotedAt -= amount
			}
		case LabelMarkValid:
			n.IsCandidate = true
		case LabelAdd:
			n.StakeVotedAt += amount
		case LabelAggregate:
			t.recomputeNode(n)
			t.metrics.aggregateOp.Inc()
		}
	}
}

// lessHash reports whether a < b lexicographically, used for the
// smaller-hash duplicate-slot tiebreak in vote supersession (§4.B point 3).
func lessHash(a, b [32]byte) bool {
	for i := range a {
		if a[i] != b[i] {
			return a[i] < b[i]
		}
	}
	return false
}

// MarkForkValidCandidate is the explicit mark-valid path: key and each of
// its ancestors up to the root get both a MarkValid and an Aggregate
// operation, so an ancestor that had been marked invalid becomes a
// candidate again along with key. Unlike MarkForkInvalidCandidate (a
// direct flag flip -- the operation labels have no MarkInvalid), this goes
// through the same batch machinery AddVotes uses. Mark-valid on a subtree
// with intermediate invalid ancestors is exercised by
// TestMarkValidRemarksAncestorCandidacy.
func (t *Tree) MarkForkValidCandidate(key SlotHashKey) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, ok := t.nodes[key]; !ok {
		t.log.Warn("mark-valid on unknown key", "key", key)
		return
	}
	batch := newUpdateBatch()
	for cur := key; ; {
		batch.markValid(cur)
		n, ok := t.nodes[cur]
		if !ok || n.Parent == nil {
			break
		}
		cur = *n.Parent
	}
	batch.markAggregateChain(t, key)
	t.processBatch(batch)
	t.metrics.bestSlot.Set(int64(t.nodes[t.root].BestDescendant.Slot))
}
