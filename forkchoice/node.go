package forkchoice

// ForkNode is one node of the fork-choice tree, keyed by its SlotHashKey in
// the owning Tree's node map. Parent and Children are stored as keys, not
// owning references: children's slots are always greater than their
// parent's by construction, so the tree can never contain a cycle, and
// pruning on SetRoot is a plain map-delete sweep.
type ForkNode struct {
	Key    SlotHashKey
	Parent *SlotHashKey
	// Children is an ordered set: entries are appended once, in the order
	// first observed, and never duplicated (AddLeaf is idempotent).
	Children []SlotHashKey

	// StakeVotedAt is the stake of validators whose latest vote is exactly
	// this node.
	StakeVotedAt uint64

	// StakeVotedSubtree is StakeVotedAt plus the StakeVotedSubtree of every
	// child, candidate or not (see the non-candidate-weight rule).
	StakeVotedSubtree uint64

	// BestDescendant is the heaviest leaf reachable from this node under
	// the candidate filter. It equals Key itself for a leaf or a node with
	// no candidate children.
	BestDescendant SlotHashKey

	// IsCandidate is false for forks marked invalid (e.g. an unconfirmed
	// duplicate slot) and true otherwise. The root is always a candidate.
	IsCandidate bool
}

// isLeaf reports whether the node currently has no children.
func (n *ForkNode) isLeaf() bool {
	return len(n.Children) == 0
}

// hasChild reports whether child is already present in n.Children.
func (n *ForkNode) hasChild(child SlotHashKey) bool {
	for _, c := range n.Children {
		if c == child {
			return true
		}
	}
	return false
}
