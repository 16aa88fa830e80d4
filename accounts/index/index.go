// Package index implements the accounts index: for every pubkey, the
// ordered list of (slot, AccountInfo) versions known to the validator,
// plus the root bookkeeping needed to know which versions are safe to
// reclaim. It never touches the stored account bytes; accounts/storage
// owns that and calls back into this package once a reclaim is
// physically applied.
package index

import (
	"sort"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/valcore/valcore/accounts"
	"github.com/valcore/valcore/log"
	"github.com/valcore/valcore/metrics"
)

// Ancestors is the set of slots visible on the caller's fork, keyed by
// slot with depth-from-tip as the value (unused by lookups, carried for
// callers that want it for debugging/metrics). A slot not in Ancestors is
// still visible if it has been rooted.
type Ancestors map[uint64]uint64

// Reclaim describes one (pubkey, slot) version that a clean/purge pass has
// determined is no longer reachable and whose storage bytes the caller
// (accounts/storage) should now physically reclaim.
type Reclaim struct {
	Key  accounts.Pubkey
	Slot uint64
	Info accounts.AccountInfo
}

type entry struct {
	slot uint64
	info accounts.AccountInfo
}

// keyList is the per-pubkey version list, kept sorted ascending by slot.
// refCount tracks the number of live (slot, AccountInfo) entries: inserting
// a new slot adds one, and the clean passes subtract one for each entry
// they reclaim.
type keyList struct {
	mu       sync.Mutex
	refCount int64
	entries  []entry
}

func (kl *keyList) insert(slot uint64, info accounts.AccountInfo) {
	kl.mu.Lock()
	defer kl.mu.Unlock()

	i := sort.Search(len(kl.entries), func(i int) bool { return kl.entries[i].slot >= slot })
	if i < len(kl.entries) && kl.entries[i].slot == slot {
		kl.entries[i].info = info
		return
	}
	kl.entries = append(kl.entries, entry{})
	copy(kl.entries[i+1:], kl.entries[i:])
	kl.entries[i] = entry{slot: slot, info: info}
	kl.refCount++
}

// visible returns the entry with the greatest slot that is either a
// member of ancestors or has been rooted, scanning from the newest entry
// backward since ancestors lookups should favor the most recent write.
func (kl *keyList) visible(ancestors Ancestors, roots map[uint64]struct{}) (entry, bool) {
	kl.mu.Lock()
	defer kl.mu.Unlock()

	for i := len(kl.entries) - 1; i >= 0; i-- {
		e := kl.entries[i]
		if _, ok := ancestors[e.slot]; ok {
			return e, true
		}
		if _, ok := roots[e.slot]; ok {
			return e, true
		}
	}
	return entry{}, false
}

// Config configures an Index.
type Config struct {
	// CacheSize bounds the hot-path pubkey-to-keyList LRU cache. Zero
	// disables the cache (every Get takes the main map's read lock).
	CacheSize int
}

// DefaultConfig returns the default Index configuration.
func DefaultConfig() Config {
	return Config{CacheSize: 65536}
}

// Index is the accounts index: a concurrent map from pubkey to its
// ordered version list, plus the root set used to decide reclaim
// eligibility.
type Index struct {
	mu             sync.RWMutex
	byKey          map[accounts.Pubkey]*keyList
	roots          map[uint64]struct{}
	latestRoot     uint64
	uncleanedRoots map[uint64]struct{}

	cache *lru.Cache[accounts.Pubkey, *keyList]

	log     *log.Logger
	metrics *indexMetrics
}

type indexMetrics struct {
	entries  *metrics.Gauge
	rootsN   *metrics.Gauge
	reclaims *metrics.Counter
}

func newIndexMetrics() *indexMetrics {
	return &indexMetrics{
		entries:  metrics.NewGauge("accountsindex_entries"),
		rootsN:   metrics.NewGauge("accountsindex_roots"),
		reclaims: metrics.NewCounter("accountsindex_reclaims_total"),
	}
}

// New creates an empty Index.
func New(cfg Config) *Index {
	idx := &Index{
		byKey:          make(map[accounts.Pubkey]*keyList),
		roots:          make(map[uint64]struct{}),
		uncleanedRoots: make(map[uint64]struct{}),
		log:            log.Default().Module("accountsindex"),
		metrics:        newIndexMetrics(),
	}
	if cfg.CacheSize > 0 {
		c, err := lru.New[accounts.Pubkey, *keyList](cfg.CacheSize)
		if err != nil {
			// Only returns an error for a non-positive size, already guarded above.
			idx.log.Error("failed to allocate accounts index cache", "error", err)
		} else {
			idx.cache = c
		}
	}
	return idx
}

func (idx *Index) lookupList(key accounts.Pubkey, create bool) *keyList {
	if idx.cache != nil {
		if kl, ok := idx.cache.Get(key); ok {
			metrics.IndexCacheHits.Inc()
			return kl
		}
	}
	metrics.IndexCacheMisses.Inc()

	idx.mu.RLock()
	kl := idx.byKey[key]
	idx.mu.RUnlock()
	if kl == nil && create {
		idx.mu.Lock()
		kl = idx.byKey[key]
		if kl == nil {
			kl = &keyList{}
			idx.byKey[key] = kl
		}
		idx.mu.Unlock()
	}
	if kl != nil && idx.cache != nil {
		idx.cache.Add(key, kl)
	}
	return kl
}

// Get returns the AccountInfo visible to the given ancestors set, i.e. the
// newest version that is either on the caller's fork or already rooted.
func (idx *Index) Get(key accounts.Pubkey, ancestors Ancestors) (accounts.AccountInfo, bool) {
	kl := idx.lookupList(key, false)
	if kl == nil {
		return accounts.AccountInfo{}, false
	}
	idx.mu.RLock()
	roots := idx.roots
	idx.mu.RUnlock()
	e, ok := kl.visible(ancestors, roots)
	return e.info, ok
}

// Insert records a new (pubkey, slot) -> AccountInfo mapping. A second
// Insert for the same (pubkey, slot) pair overwrites the prior AccountInfo
// in place (the storage engine calls this once per unique write, so this
// path only triggers on an intra-slot rewrite of the same account).
func (idx *Index) Insert(key accounts.Pubkey, slot uint64, info accounts.AccountInfo) {
	kl := idx.lookupList(key, true)
	before := len(kl.entries)
	kl.insert(slot, info)
	if len(kl.entries) != before {
		idx.metrics.entries.Inc()
	}
}

// AddRoot marks slot as rooted: an entry at exactly this slot becomes
// visible to Get whatever ancestors the caller passes, and the slot
// becomes eligible for CleanRootedEntries. AddRoot of an already-rooted slot panics, a
// programmer error (the bank/replay layer must not root the same slot
// twice).
func (idx *Index) AddRoot(slot uint64) {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	if _, ok := idx.roots[slot]; ok {
		idx.log.Error(ErrDuplicateRoot.Error(), "slot", slot)
		panic(ErrDuplicateRoot)
	}
	idx.roots[slot] = struct{}{}
	idx.uncleanedRoots[slot] = struct{}{}
	if slot > idx.latestRoot {
		idx.latestRoot = slot
	}
	idx.metrics.rootsN.Set(int64(len(idx.roots)))
}

// LatestRoot returns the highest slot ever passed to AddRoot.
func (idx *Index) LatestRoot() uint64 {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return idx.latestRoot
}

// CleanRootedEntries does nothing unless a root was added since the last
// clean; otherwise it scans every pubkey in the index and, for each one,
// keeps its newest entry at or below the latest root plus every newer
// entry, reclaiming all older ones (Solana's "clean" pass; accounts/
// storage's Clean calls this once per background cleanup cycle). Returns
// the reclaimed entries for the storage layer to physically remove.
func (idx *Index) CleanRootedEntries() []Reclaim {
	idx.mu.Lock()
	if len(idx.uncleanedRoots) == 0 {
		idx.mu.Unlock()
		return nil
	}
	maxRoot := idx.latestRoot
	idx.uncleanedRoots = make(map[uint64]struct{})
	keys := make([]accounts.Pubkey, 0, len(idx.byKey))
	for k := range idx.byKey {
		keys = append(keys, k)
	}
	idx.mu.Unlock()

	var reclaimed []Reclaim
	for _, key := range keys {
		kl := idx.lookupList(key, false)
		if kl == nil {
			continue
		}
		kl.mu.Lock()
		keepIdx := -1
		for i := len(kl.entries) - 1; i >= 0; i-- {
			if kl.entries[i].slot <= maxRoot {
				keepIdx = i
				break
			}
		}
		if keepIdx > 0 {
			removed := kl.entries[:keepIdx]
			for _, e := range removed {
				reclaimed = append(reclaimed, Reclaim{Key: key, Slot: e.slot, Info: e.info})
			}
			kl.entries = append([]entry(nil), kl.entries[keepIdx:]...)
			kl.refCount -= int64(len(removed))
		}
		kl.mu.Unlock()
	}

	idx.metrics.reclaims.Add(int64(len(reclaimed)))
	idx.log.Debug("clean_rooted_entries", "max_root", maxRoot, "reclaimed", len(reclaimed))
	return reclaimed
}

// WouldPurge reports whether key's only remaining entry is a zero-lamport
// account at a rooted slot, meaning the whole keyList (not just older
// versions) is eligible for Purge.
func (idx *Index) WouldPurge(key accounts.Pubkey) bool {
	kl := idx.lookupList(key, false)
	if kl == nil {
		return false
	}

	kl.mu.Lock()
	defer kl.mu.Unlock()
	if len(kl.entries) != 1 {
		return false
	}
	last := kl.entries[0]
	idx.mu.RLock()
	_, rooted := idx.roots[last.slot]
	idx.mu.RUnlock()
	return rooted && last.info.IsZeroLamport()
}

// Purge removes key's entire keyList from the index, used once storage has
// confirmed a zero-lamport account's last version has been physically
// reclaimed. Returns the removed entries as Reclaims, or nil if key was
// already absent.
func (idx *Index) Purge(key accounts.Pubkey) []Reclaim {
	idx.mu.Lock()
	kl, ok := idx.byKey[key]
	if !ok {
		idx.mu.Unlock()
		return nil
	}
	delete(idx.byKey, key)
	idx.mu.Unlock()
	if idx.cache != nil {
		idx.cache.Remove(key)
	}

	kl.mu.Lock()
	defer kl.mu.Unlock()
	out := make([]Reclaim, 0, len(kl.entries))
	for _, e := range kl.entries {
		out = append(out, Reclaim{Key: key, Slot: e.slot, Info: e.info})
	}
	idx.metrics.entries.Add(-int64(len(out)))
	return out
}

// CurrentEntry is one pubkey's newest known version, as returned by
// AllCurrentEntries.
type CurrentEntry struct {
	Key  accounts.Pubkey
	Slot uint64
	Info accounts.AccountInfo
}

// AllCurrentEntries returns every pubkey's newest entry, used by the
// storage layer's shrink pass to tell which records inside a segment being
// rewritten are still the index's live version for their pubkey (an older
// entry in the same segment is dead weight and should not be carried
// forward).
func (idx *Index) AllCurrentEntries() []CurrentEntry {
	idx.mu.RLock()
	keys := make([]accounts.Pubkey, 0, len(idx.byKey))
	for k := range idx.byKey {
		keys = append(keys, k)
	}
	idx.mu.RUnlock()

	out := make([]CurrentEntry, 0, len(keys))
	for _, key := range keys {
		kl := idx.lookupList(key, false)
		if kl == nil {
			continue
		}
		kl.mu.Lock()
		if len(kl.entries) > 0 {
			last := kl.entries[len(kl.entries)-1]
			out = append(out, CurrentEntry{Key: key, Slot: last.slot, Info: last.info})
		}
		kl.mu.Unlock()
	}
	return out
}

// CleanUnrootedEntriesBySlot removes every index entry at exactly slot,
// used when a fork containing slot is pruned (SetRoot on a sibling
// branch). Unlike CleanRootedEntries this drops the entry outright rather
// than keeping the newest rooted version, since the slot itself was never
// rooted.
func (idx *Index) CleanUnrootedEntriesBySlot(slot uint64) []Reclaim {
	idx.mu.RLock()
	keys := make([]accounts.Pubkey, 0, len(idx.byKey))
	for k := range idx.byKey {
		keys = append(keys, k)
	}
	idx.mu.RUnlock()

	var reclaimed []Reclaim
	for _, key := range keys {
		kl := idx.lookupList(key, false)
		if kl == nil {
			continue
		}
		kl.mu.Lock()
		i := sort.Search(len(kl.entries), func(i int) bool { return kl.entries[i].slot >= slot })
		if i < len(kl.entries) && kl.entries[i].slot == slot {
			reclaimed = append(reclaimed, Reclaim{Key: key, Slot: slot, Info: kl.entries[i].info})
			kl.entries = append(kl.entries[:i], kl.entries[i+1:]...)
			kl.refCount--
		}
		kl.mu.Unlock()
	}
	idx.metrics.reclaims.Add(int64(len(reclaimed)))
	return reclaimed
}
