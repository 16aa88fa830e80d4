package forkchoice

import "sort"

// UpdateLabel is the tag of a vote-aggregator update operation. The integer
// values encode the processing order required by §4.B / §9: ascending
// Aggregate < Add < MarkValid < Subtract, so that iterating a batch in
// *descending* (key, label) order runs Subtract and Add before Aggregate at
// the same key, and MarkValid before Aggregate at the same key -- avoiding
// both transient underflow and premature aggregation on stale state.
type UpdateLabel uint8

const (
	LabelAggregate UpdateLabel = iota
	LabelAdd
	LabelMarkValid
	LabelSubtract
)

func (l UpdateLabel) String() string {
	switch l {
	case LabelAggregate:
		return "Aggregate"
	case LabelAdd:
		return "Add"
	case LabelMarkValid:
		return "MarkValid"
	case LabelSubtract:
		return "Subtract"
	default:
		return "Unknown"
	}
}

// opKey is the composite key of the ordered update-operation map: a
// SlotHashKey paired with a label.
type opKey struct {
	key   SlotHashKey
	label UpdateLabel
}

// updateBatch accumulates update operations for a single AddVotes call.
// Add/Subtract amounts accumulate when multiple validators touch the same
// key in one batch; Aggregate/MarkValid are presence-only markers, and
// their amount field is unused.
type updateBatch struct {
	amounts map[opKey]uint64
}

func newUpdateBatch() *updateBatch {
	return &updateBatch{amounts: make(map[opKey]uint64)}
}

func (b *updateBatch) addStake(key SlotHashKey, amount uint64) {
	b.amounts[opKey{key, LabelAdd}] += amount
}

func (b *updateBatch) subtractStake(key SlotHashKey, amount uint64) {
	b.amounts[opKey{key, LabelSubtract}] += amount
}

func (b *updateBatch) markValid(key SlotHashKey) {
	b.amounts[opKey{key, LabelMarkValid}] = 0
}

// markAggregateChain flags key and every ancestor up to (but stopping at)
// the first ancestor already flagged Aggregate in this batch, per the
// early-stop rule in §4.B point 4/5 and the "Mark-valid path" paragraph.
func (b *updateBatch) markAggregateChain(t *Tree, start SlotHashKey) {
	cur := start
	for {
		k := opKey{cur, LabelAggregate}
		if _, seen := b.amounts[k]; seen {
			return
		}
		b.amounts[k] = 0
		n, ok := t.nodes[cur]
		if !ok || n.Parent == nil {
			return
		}
		cur = *n.Parent
	}
}

// orderedKeys returns the batch's opKeys sorted for processing: descending
// by SlotHashKey, then descending by label. Descending key order guarantees
// every node is aggregated after all its descendants (children always have
// a strictly greater key than their parent).
func (b *updateBatch) orderedKeys() []opKey {
	keys := make([]opKey, 0, len(b.amounts))
	for k := range b.amounts {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		a, c := keys[i], keys[j]
		if a.key != c.key {
			return compareKeys(a.key, c.key) > 0
		}
		return a.label > c.label
	})
	return keys
}
