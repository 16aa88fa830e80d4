package forkchoice

import (
	"sort"

	"github.com/valcore/valcore/stake"
)

// Merge grafts other's nodes under mergeLeaf, which must already be
// present in t, then replays other's latest votes through AddVotes.
// Grafted nodes start at zero stake_voted_at; the vote replay is the sole
// source of stake weight, so a node never counts its source tree's votes
// twice. Keys of other that are already present in t (such as other's
// root when it is mergeLeaf itself) are left unchanged, as with AddLeaf.
//
// Nodes from other are added in ascending SlotHashKey order to preserve
// parent-before-child ordering (§4.A). Per spec.md §9's open question,
// source behavior is undefined when a grafted node's parent is neither
// mergeLeaf nor already present in self; this implementation resolves
// that by dropping (and logging) any such node rather than grafting it
// onto the wrong parent or panicking, since a dropped duplicate fork is
// recoverable but a misattached one would silently corrupt weights.
func (t *Tree) Merge(other *Tree, mergeLeaf SlotHashKey, lookup stake.EpochStakeLookup) SlotHashKey {
	other.mu.RLock()
	keys := make([]SlotHashKey, 0, len(other.nodes))
	for k := range other.nodes {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].Less(keys[j]) })

	type graft struct {
		parent      *SlotHashKey
		isCandidate bool
	}
	grafts := make(map[SlotHashKey]graft, len(keys))
	for _, k := range keys {
		n := other.nodes[k]
		grafts[k] = graft{parent: n.Parent, isCandidate: n.IsCandidate}
	}
	votes := make([]Vote, 0, len(other.latestVotes))
	for v, k := range other.latestVotes {
		votes = append(votes, Vote{Validator: v, Key: k})
	}
	other.mu.RUnlock()

	t.mu.Lock()
	if _, ok := t.nodes[mergeLeaf]; !ok {
		t.mu.Unlock()
		t.fatal(ErrParentMissing, "merge_leaf", mergeLeaf)
	}

	var grafted []SlotHashKey
	for _, k := range keys {
		if t.present(k) {
			continue
		}
		g := grafts[k]
		var parentKey SlotHashKey
		switch {
		case g.parent == nil:
			parentKey = mergeLeaf
		case t.present(*g.parent):
			parentKey = *g.parent
		default:
			t.log.Warn("merge: dropping grafted node with unresolved parent", "key", k, "parent", *g.parent)
			continue
		}
		node := &ForkNode{
			Key:            k,
			Parent:         &parentKey,
			IsCandidate:    g.isCandidate,
			BestDescendant: k,
		}
		t.nodes[k] = node
		parent := t.nodes[parentKey]
		if !parent.hasChild(k) {
			parent.Children = append(parent.Children, k)
		}
		grafted = append(grafted, k)
	}
	// Aggregate deepest-first so every node sees already-settled children.
	sort.Slice(grafted, func(i, j int) bool { return compareKeys(grafted[i], grafted[j]) > 0 })
	for _, k := range grafted {
		t.recomputeNode(t.nodes[k])
	}
	if len(grafted) > 0 {
		t.reaggregateFrom(mergeLeaf)
	}
	t.metrics.treeSize.Set(int64(len(t.nodes)))
	t.mu.Unlock()

	return t.AddVotes(votes, lookup)
}

func (t *Tree) present(key SlotHashKey) bool {
	_, ok := t.nodes[key]
	return ok
}
