package storage

import (
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/valcore/valcore/accounts"
	"github.com/valcore/valcore/metrics"
)

// Clean runs one accounts-index clean pass and applies the resulting
// reclaims to segment dead-byte accounting. It is the background-pool
// counterpart to the bulk-scan pool used by GenerateBankHash (§5: a
// second, smaller pool for background cleanup).
func (db *DB) Clean() int {
	start := time.Now()
	reclaims := db.idx.CleanRootedEntries()
	db.ApplyReclaims(reclaims)
	metrics.StorageCleanLatency.Observe(float64(time.Since(start).Milliseconds()))
	return len(reclaims)
}

// shrinkCandidates returns every Full segment whose live fraction has
// fallen below cfg.ShrinkLiveFraction.
func (db *DB) shrinkCandidates() []*Segment {
	db.mu.RLock()
	defer db.mu.RUnlock()
	var out []*Segment
	for _, seg := range db.segments {
		if seg.Status() == StatusFull && seg.LiveFraction() < db.cfg.ShrinkLiveFraction {
			out = append(out, seg)
		}
	}
	return out
}

// LiveRecord identifies one still-referenced record: which segment it
// lives in, the slot its index entry is keyed at, and its byte offset
// within that segment.
type LiveRecord struct {
	Key     accounts.Pubkey
	Slot    uint64
	StoreID uint64
	Offset  uint64
}

// ShrinkSegment rewrites seg into a fresh segment containing only the
// records named in live, deletes the original file, and returns the
// number of records carried forward. The caller (the background cleanup
// pool) is responsible for determining which of seg's records are still
// the index's current entry for their pubkey before calling this, since
// that decision needs the index's ancestors/root view this package does
// not itself track per-slot.
func (db *DB) ShrinkSegment(seg *Segment, live []LiveRecord) (int, error) {
	start := time.Now()
	db.mu.Lock()
	fresh, err := db.newSegment()
	db.mu.Unlock()
	if err != nil {
		return 0, err
	}

	carried := 0
	for _, rec := range live {
		meta, am, data, err := seg.ReadRecord(rec.Offset)
		if err != nil {
			return carried, err
		}
		newOffset, err := fresh.Append(meta, am, data)
		if err != nil {
			return carried, err
		}
		info := accounts.AccountInfo{StoreID: fresh.id, Offset: newOffset, Lamports: am.Lamports}
		db.idx.Insert(rec.Key, rec.Slot, info)
		carried++
	}
	fresh.MarkCandidate()
	if err := fresh.Seal(); err != nil {
		return carried, err
	}

	db.mu.Lock()
	delete(db.segments, seg.id)
	db.mu.Unlock()
	if err := seg.Close(); err != nil {
		return carried, fmt.Errorf("%w: close shrunk segment %d: %v", ErrSegmentIO, seg.id, err)
	}
	if err := os.Remove(seg.path); err != nil {
		return carried, fmt.Errorf("%w: remove shrunk segment %d: %v", ErrSegmentIO, seg.id, err)
	}

	metrics.StorageShrinkLatency.Observe(float64(time.Since(start).Milliseconds()))
	db.metrics.segmentsOpen.Dec()
	return carried, nil
}

// ShrinkAll runs one shrink pass over every segment whose live fraction has
// fallen below the configured threshold, determining each segment's still-
// live records from the index's current view and rewriting it via
// ShrinkSegment. Segments are rewritten concurrently, bounded by
// cfg.CleanupPoolSize, since each targets a disjoint fresh segment and
// ShrinkSegment's only shared state (db.segments, the index) is already
// mutex-protected. Returns the total number of records carried forward.
func (db *DB) ShrinkAll() (int, error) {
	candidates := db.shrinkCandidates()
	if len(candidates) == 0 {
		return 0, nil
	}

	bySegment := make(map[uint64][]LiveRecord)
	for _, ce := range db.idx.AllCurrentEntries() {
		bySegment[ce.Info.StoreID] = append(bySegment[ce.Info.StoreID], LiveRecord{
			Key:     ce.Key,
			Slot:    ce.Slot,
			StoreID: ce.Info.StoreID,
			Offset:  ce.Info.Offset,
		})
	}

	var total atomic.Int64
	var g errgroup.Group
	g.SetLimit(db.cfg.CleanupPoolSize)
	var errMu sync.Mutex
	var firstErr error

	for _, seg := range candidates {
		seg := seg
		live := bySegment[seg.id]
		g.Go(func() error {
			carried, err := db.ShrinkSegment(seg, live)
			total.Add(int64(carried))
			if err != nil {
				errMu.Lock()
				if firstErr == nil {
					firstErr = fmt.Errorf("shrink_all: segment %d: %w", seg.id, err)
				}
				errMu.Unlock()
			}
			return nil
		})
	}
	g.Wait()

	return int(total.Load()), firstErr
}
