package forkchoice

import (
	"sync"

	"github.com/valcore/valcore/log"
	"github.com/valcore/valcore/metrics"
	"github.com/valcore/valcore/stake"
)

// Tree is the heaviest-subtree fork-choice engine: a stake-weighted DAG of
// (slot, hash) nodes with a single root, plus the latest-votes map used to
// diff incoming votes. Exterior mutability: AddVotes, SetRoot, and the
// Mark* methods require exclusive access; BestOverallSlot and BestSlot are
// shared-readable.
type Tree struct {
	mu sync.RWMutex

	cfg   Config
	nodes map[SlotHashKey]*ForkNode
	root  SlotHashKey

	// latestVotes is owned by the tree; not exposed except via Merge.
	latestVotes map[stake.ValidatorID]SlotHashKey

	lastPruned []SlotHashKey

	log     *log.Logger
	metrics *treeMetrics
}

type treeMetrics struct {
	bestSlot    *metrics.Gauge
	treeSize    *metrics.Gauge
	aggregateOp *metrics.Counter
}

func newTreeMetrics() *treeMetrics {
	return &treeMetrics{
		bestSlot:    metrics.NewGauge("forkchoice_best_slot"),
		treeSize:    metrics.NewGauge("forkchoice_tree_size"),
		aggregateOp: metrics.NewCounter("forkchoice_aggregate_ops_total"),
	}
}

// NewTree creates a fork-choice tree whose single root is the given key.
// The root is always a candidate, per the invariant that mark-invalid of
// the root is a no-op.
func NewTree(root SlotHashKey, cfg Config) *Tree {
	t := &Tree{
		cfg:         cfg,
		nodes:       make(map[SlotHashKey]*ForkNode),
		latestVotes: make(map[stake.ValidatorID]SlotHashKey),
		log:         log.Default().Module("forkchoice"),
		metrics:     newTreeMetrics(),
	}
	t.root = root
	t.nodes[root] = &ForkNode{
		Key:            root,
		IsCandidate:    true,
		BestDescendant: root,
	}
	t.metrics.treeSize.Set(1)
	t.metrics.bestSlot.Set(int64(root.Slot))
	return t
}

// Root returns the tree's current root key.
func (t *Tree) Root() SlotHashKey {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.root
}

// Len returns the number of nodes currently in the tree.
func (t *Tree) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.nodes)
}

// Contains reports whether key is present in the tree.
func (t *Tree) Contains(key SlotHashKey) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	_, ok := t.nodes[key]
	return ok
}

// BestOverallSlot returns the BestDescendant of the root: the heaviest leaf
// in the whole tree under the candidate filter.
func (t *Tree) BestOverallSlot() SlotHashKey {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.nodes[t.root].BestDescendant
}

// BestSlot returns the BestDescendant of key, or (key, false) if key is not
// present.
func (t *Tree) BestSlot(key SlotHashKey) (SlotHashKey, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	n, ok := t.nodes[key]
	if !ok {
		return SlotHashKey{}, false
	}
	return n.BestDescendant, true
}

// NodeSnapshot is a read-only copy of a ForkNode's fields, returned by
// Node so callers cannot mutate tree state through the pointer.
type NodeSnapshot struct {
	Key               SlotHashKey
	Parent            *SlotHashKey
	Children          []SlotHashKey
	StakeVotedAt      uint64
	StakeVotedSubtree uint64
	BestDescendant    SlotHashKey
	IsCandidate       bool
}

// Node returns a snapshot of the node at key, or false if absent.
func (t *Tree) Node(key SlotHashKey) (NodeSnapshot, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	n, ok := t.nodes[key]
	if !ok {
		return NodeSnapshot{}, false
	}
	children := make([]SlotHashKey, len(n.Children))
	copy(children, n.Children)
	return NodeSnapshot{
		Key:               n.Key,
		Parent:            n.Parent,
		Children:          children,
		StakeVotedAt:      n.StakeVotedAt,
		StakeVotedSubtree: n.StakeVotedSubtree,
		BestDescendant:    n.BestDescendant,
		IsCandidate:       n.IsCandidate,
	}, true
}

// AddLeaf idempotently inserts key as a child of parent. If key is already
// present the call is a no-op. parent must be present (use AddRootParent
// to extend the tree upward instead).
func (t *Tree) AddLeaf(key SlotHashKey, parent SlotHashKey) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, exists := t.nodes[key]; exists {
		return
	}
	parentNode, ok := t.nodes[parent]
	if !ok {
		t.fatal(ErrParentMissing, "key", key, "parent", parent)
	}

	t.nodes[key] = &ForkNode{
		Key:            key,
		Parent:         &parent,
		IsCandidate:    true,
		BestDescendant: key,
	}
	if !parentNode.hasChild(key) {
		parentNode.Children = append(parentNode.Children, key)
	}
	t.reaggregateFrom(parent)
	t.metrics.treeSize.Set(int64(len(t.nodes)))
	t.metrics.bestSlot.Set(int64(t.nodes[t.root].BestDescendant.Slot))
}

// AddRootParent extends the tree upward for snapshot restoration: key
// becomes the new root, with the current root as its only child. key.Slot
// must be strictly less than the current root's slot, and key must be
// absent.
func (t *Tree) AddRootParent(key SlotHashKey) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, exists := t.nodes[key]; exists {
		t.fatal(ErrDuplicateNode, "key", key)
	}
	if key.Slot >= t.root.Slot {
		t.fatal(ErrDuplicateNode, "key", key, "current_root", t.root, "reason", "slot must precede current root")
	}

	oldRoot := t.root
	node := &ForkNode{
		Key:            key,
		Children:       []SlotHashKey{oldRoot},
		IsCandidate:    true,
		BestDescendant: key,
	}
	t.nodes[key] = node
	t.nodes[oldRoot].Parent = &key
	t.root = key
	t.recomputeNode(node)
	t.metrics.treeSize.Set(int64(len(t.nodes)))
}

// SetRoot prunes every node not reachable from newRoot, which becomes the
// tree's new root with its parent detached. newRoot must already be
// present. Returns the set of pruned slot-hash keys (also retrievable via
// LastPrunedSlots), a supplement over spec.md carried from the original
// Rust implementation's pruning report.
func (t *Tree) SetRoot(newRoot SlotHashKey) []SlotHashKey {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, ok := t.nodes[newRoot]; !ok {
		t.fatal(ErrRootMissing, "new_root", newRoot)
	}

	keep := make(map[SlotHashKey]bool, len(t.nodes))
	var walk func(k SlotHashKey)
	walk = func(k SlotHashKey) {
		if keep[k] {
			return
		}
		keep[k] = true
		for _, c := range t.nodes[k].Children {
			walk(c)
		}
	}
	walk(newRoot)

	var pruned []SlotHashKey
	for k := range t.nodes {
		if !keep[k] {
			pruned = append(pruned, k)
			delete(t.nodes, k)
		}
	}
	t.nodes[newRoot].Parent = nil
	t.root = newRoot
	t.lastPruned = pruned

	t.metrics.treeSize.Set(int64(len(t.nodes)))
	t.metrics.bestSlot.Set(int64(t.nodes[t.root].BestDescendant.Slot))
	t.log.Info("set_root pruned tree", "new_root", newRoot, "pruned_count", len(pruned))
	return pruned
}

// LastPrunedSlots returns the keys removed by the most recent SetRoot call.
func (t *Tree) LastPrunedSlots() []SlotHashKey {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]SlotHashKey, len(t.lastPruned))
	copy(out, t.lastPruned)
	return out
}

// MarkForkInvalidCandidate flips key's candidacy to false and
// re-aggregates key and its ancestors. The root can never be marked
// invalid; the call is a silent no-op in that case, since the root is
// always selectable by construction.
func (t *Tree) MarkForkInvalidCandidate(key SlotHashKey) {
	t.setCandidate(key, false)
}

func (t *Tree) setCandidate(key SlotHashKey, candidate bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if key == t.root {
		return
	}
	n, ok := t.nodes[key]
	if !ok {
		t.log.Warn("mark candidacy on unknown key", "key", key)
		return
	}
	n.IsCandidate = candidate
	t.reaggregateFrom(key)
	t.metrics.bestSlot.Set(int64(t.nodes[t.root].BestDescendant.Slot))
}

// HeaviestOnSameVotedFork returns the best descendant of the tower's last
// voted slot-hash, or (zero, false) when that is already the best
// descendant (i.e. there is nothing heavier on the same fork). If the
// tower reports no last vote and is not stray, a frozen bank must have
// been registered already: this is a fatal logic error.
func (t *Tree) HeaviestOnSameVotedFork(tw Tower) (SlotHashKey, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	lastVoted, ok := tw.LastVotedSlotHash()
	if !ok {
		if tw.IsStrayLastVote() {
			return SlotHashKey{}, false
		}
		t.fatal(ErrRootMissing, "reason", "no last voted slot hash and vote is not stray")
	}
	n, ok := t.nodes[lastVoted]
	if !ok {
		if tw.IsStrayLastVote() {
			return SlotHashKey{}, false
		}
		t.fatal(ErrRootMissing, "last_voted", lastVoted, "reason", "last voted slot hash not registered and vote is not stray")
	}
	if n.BestDescendant == lastVoted {
		return SlotHashKey{}, false
	}
	return n.BestDescendant, true
}

// Tower is the consensus-policy collaborator consulted by
// HeaviestOnSameVotedFork. The implementation lives outside this package
// (Tower BFT rules, §1); only the contract is specified here.
type Tower interface {
	// LastVotedSlotHash returns the slot-hash of the validator's most
	// recent vote, if any.
	LastVotedSlotHash() (SlotHashKey, bool)
	// IsStrayLastVote reports whether the last vote predates any frozen
	// block the validator currently knows about.
	IsStrayLastVote() bool
}

// recomputeNode recomputes n's StakeVotedSubtree and BestDescendant from
// its own StakeVotedAt and its children's already-aggregated values. The
// caller must ensure every child of n has already been aggregated.
func (t *Tree) recomputeNode(n *ForkNode) {
	n.StakeVotedSubtree = n.StakeVotedAt
	var bestChild *ForkNode
	for _, ck := range n.Children {
		c, ok := t.nodes[ck]
		if !ok {
			continue
		}
		// Non-candidate children still contribute weight to the parent's
		// sum so that sibling forks aren't unfairly favored, but they can
		// never themselves be selected as the best child.
		n.StakeVotedSubtree += c.StakeVotedSubtree
		if !c.IsCandidate {
			continue
		}
		if bestChild == nil ||
			c.StakeVotedSubtree > bestChild.StakeVotedSubtree ||
			(c.StakeVotedSubtree == bestChild.StakeVotedSubtree && c.Key.Less(bestChild.Key)) {
			bestChild = c
		}
	}
	if bestChild == nil {
		n.BestDescendant = n.Key
	} else {
		n.BestDescendant = bestChild.BestDescendant
	}
}

// reaggregateFrom recomputes key and every ancestor up to the root, in
// that order, so each node is aggregated strictly after its children.
func (t *Tree) reaggregateFrom(key SlotHashKey) {
	cur := key
	for {
		n, ok := t.nodes[cur]
		if !ok {
			return
		}
		t.recomputeNode(n)
		t.metrics.aggregateOp.Inc()
		if n.Parent == nil {
			return
		}
		cur = *n.Parent
	}
}
