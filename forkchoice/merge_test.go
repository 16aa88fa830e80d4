package forkchoice

import "testing"

func TestMergeGraftsUnderMergeLeaf(t *testing.T) {
	main := buildScenario1Tree()

	other := NewTree(k(6, 6), DefaultConfig())
	other.AddLeaf(k(7, 7), k(6, 6))
	other.AddLeaf(k(8, 8), k(7, 7))

	main.Merge(other, k(6, 6), flatStake{validator(1): 50})

	if !main.Contains(k(7, 7)) || !main.Contains(k(8, 8)) {
		t.Fatal("expected grafted nodes to be present after merge")
	}
	n7, ok := main.Node(k(7, 7))
	if !ok || n7.Parent == nil || *n7.Parent != k(6, 6) {
		t.Fatal("expected grafted node 7's parent to be 6")
	}
}

func TestMergeUnknownMergeLeafPanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic when merge_leaf is absent from self")
		}
	}()
	main := buildScenario1Tree()
	other := NewTree(k(9, 9), DefaultConfig())
	main.Merge(other, k(42, 42), flatStake{})
}

// TestMergeDropsUnresolvedParent resolves spec.md §9's open question: a
// grafted node whose parent is neither merge_leaf nor already present in
// self is dropped rather than misattached. Node 50 hangs off slot 100 in
// other, so it sorts ahead of its own parent and that parent is unresolved
// when 50 is grafted; other's parentless root itself goes under merge_leaf.
func TestMergeDropsUnresolvedParent(t *testing.T) {
	main := buildScenario1Tree()

	otherRoot := k(100, 100)
	other := NewTree(otherRoot, DefaultConfig())
	other.AddLeaf(k(50, 50), otherRoot)

	main.Merge(other, k(6, 6), flatStake{})

	if main.Contains(k(50, 50)) {
		t.Fatal("expected node 50 (parent unresolved when grafted) to be dropped")
	}
}

func TestMergeReplaysLatestVotes(t *testing.T) {
	main := buildScenario1Tree()

	other := NewTree(k(6, 6), DefaultConfig())
	other.AddLeaf(k(7, 7), k(6, 6))
	other.AddVotes([]Vote{{Validator: validator(3), Key: k(7, 7)}}, flatStake{validator(3): 40})

	main.Merge(other, k(6, 6), flatStake{validator(3): 40})

	n7, ok := main.Node(k(7, 7))
	if !ok || n7.StakeVotedAt != 40 {
		t.Fatalf("expected replayed vote stake 40 at node 7, got %+v (ok=%v)", n7, ok)
	}
}
