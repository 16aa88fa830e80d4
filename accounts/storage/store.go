// Package storage implements the persistent accounts store: append-only
// segment files holding account byte records, addressed by the accounts
// index (accounts/index) via (StoreID, Offset) pairs. Grounded on the
// teacher's freezer table (pkg/core/rawdb/freezer_table.go) for the
// append/seal/mmap lifecycle, generalized from one flat file per table to
// many rotating segment files spread across directories.
package storage

import (
	"encoding/binary"
	"fmt"
	"math/rand"
	"os"
	"sync"
	"sync/atomic"

	"golang.org/x/crypto/sha3"

	"github.com/valcore/valcore/accounts"
	accountsindex "github.com/valcore/valcore/accounts/index"
	"github.com/valcore/valcore/log"
	"github.com/valcore/valcore/metrics"
)

// DB is the accounts storage engine: a rotating set of segment files plus
// the accounts index that locates the live version of every pubkey within
// them.
type DB struct {
	cfg Config
	idx *accountsindex.Index

	mu       sync.RWMutex
	segments map[uint64]*Segment
	current  *Segment
	dirCur   int

	writeVersion atomic.Uint64

	// importing is set for the duration of a snapshot Import: segment
	// rotation during a bulk load picks a random directory instead of
	// following pickDir's round-robin, since a restore is expected to
	// create many segments back to back and round-robin would otherwise
	// pile them onto whichever directory pickDir last advanced to.
	importing atomic.Bool

	frozenMu sync.RWMutex
	frozen   map[accounts.Pubkey]frozenRule
	// frozenViolationSeen latches true the first time a Store breaks a
	// frozen-account rule (lamports below the floor or changed content),
	// mirroring the original implementation's
	// process-wide abort flag so a crash-handler can distinguish this
	// failure mode from an ordinary I/O error after the fact.
	frozenViolationSeen atomic.Bool

	log     *log.Logger
	metrics *dbMetrics
}

type dbMetrics struct {
	segmentsOpen   *metrics.Gauge
	bytesWritten   *metrics.Counter
	accountsStored *metrics.Counter
}

func newDBMetrics() *dbMetrics {
	return &dbMetrics{
		segmentsOpen:   metrics.NewGauge("accountsdb_segments_open"),
		bytesWritten:   metrics.NewCounter("accountsdb_bytes_written_total"),
		accountsStored: metrics.NewCounter("accountsdb_accounts_stored_total"),
	}
}

// Open creates (or reopens) a DB rooted at cfg.Dirs, backed by idx for
// locating live account versions.
func Open(cfg Config, idx *accountsindex.Index) (*DB, error) {
	for _, dir := range cfg.Dirs {
		if err := mkdirAll(dir); err != nil {
			return nil, err
		}
	}
	db := &DB{
		cfg:      cfg,
		idx:      idx,
		segments: make(map[uint64]*Segment),
		frozen:   make(map[accounts.Pubkey]frozenRule),
		log:      log.Default().Module("accountsdb"),
		metrics:  newDBMetrics(),
	}
	seg, err := db.newSegment()
	if err != nil {
		return nil, err
	}
	db.current = seg
	return db, nil
}

func (db *DB) pickDir() string {
	if len(db.cfg.Dirs) == 1 {
		return db.cfg.Dirs[0]
	}
	db.dirCur = (db.dirCur + 1) % len(db.cfg.Dirs)
	return db.cfg.Dirs[db.dirCur]
}

func (db *DB) newSegment() (*Segment, error) {
	return db.newSegmentInDir(db.pickDir())
}

func (db *DB) newSegmentInDir(dir string) (*Segment, error) {
	id := allocateSegmentID()
	seg, err := openSegment(dir, id)
	if err != nil {
		return nil, err
	}
	db.segments[id] = seg
	db.metrics.segmentsOpen.Inc()
	return seg, nil
}

// frozenRule is the per-pubkey invariant recorded by FreezeAccount: the
// content hash and lamport floor a subsequent Store must respect.
type frozenRule struct {
	expectedHash  accounts.Hash
	floorLamports uint64
}

// frozenContentHash hashes the fields a frozen-account rule actually
// protects: data, owner, and the executable flag. Lamports are checked
// separately against floorLamports (a frozen account's balance is allowed
// to rise, e.g. the incinerator accumulating burned lamports, so it is
// not part of the content hash), and rent_epoch/pubkey play no role in
// the rule at all.
func frozenContentHash(owner accounts.Pubkey, executable bool, data []byte) accounts.Hash {
	h := sha3.New256()
	h.Write(data)
	h.Write(owner[:])
	if executable {
		h.Write([]byte{1})
	} else {
		h.Write([]byte{0})
	}
	var out accounts.Hash
	h.Sum(out[:0])
	return out
}

// FreezeAccount registers key as frozen as of its current state under
// ancestors: the account's present content hash and lamport balance
// become the floor a subsequent Store must respect (§4.D). key must
// already exist on ancestors' fork, or FreezeAccount returns
// ErrSegmentNotFound.
func (db *DB) FreezeAccount(key accounts.Pubkey, ancestors accountsindex.Ancestors) error {
	acct, ok, err := db.Load(key, ancestors)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: freeze unknown pubkey %s", ErrSegmentNotFound, key)
	}
	rule := frozenRule{
		expectedHash:  frozenContentHash(acct.Owner, acct.Executable, acct.Data),
		floorLamports: acct.Lamports,
	}
	db.frozenMu.Lock()
	db.frozen[key] = rule
	db.frozenMu.Unlock()
	return nil
}

func (db *DB) frozenRuleFor(key accounts.Pubkey) (frozenRule, bool) {
	db.frozenMu.RLock()
	defer db.frozenMu.RUnlock()
	r, ok := db.frozen[key]
	return r, ok
}

// Store appends a new version of key's account at slot and records it in
// the index. If key is frozen, the store must leave its content hash
// unchanged and its lamports at or above the floor recorded at freeze
// time (§4.D); violating either panics (ErrFrozenAccountViolation), since
// this is a programmer/validator-logic error, never a legitimate runtime
// condition. A same-content re-store of a frozen account (the ordinary
// case for e.g. a network's incinerator) is allowed and succeeds.
func (db *DB) Store(slot uint64, key accounts.Pubkey, acct accounts.Account) (accounts.AccountInfo, error) {
	if rule, ok := db.frozenRuleFor(key); ok {
		hash := frozenContentHash(acct.Owner, acct.Executable, acct.Data)
		if acct.Lamports < rule.floorLamports || hash != rule.expectedHash {
			db.frozenViolationSeen.Store(true)
			metrics.StorageFrozenViolations.Inc()
			db.log.Error(ErrFrozenAccountViolation.Error(),
				"pubkey", key, "slot", slot,
				"lamports", acct.Lamports, "floor_lamports", rule.floorLamports,
				"hash_changed", hash != rule.expectedHash)
			panic(ErrFrozenAccountViolation)
		}
	}

	meta := accounts.StoredMeta{
		WriteVersion: db.writeVersion.Add(1),
		Slot:         slot,
		Pubkey:       key,
		DataLen:      uint64(len(acct.Data)),
	}
	am := accounts.AccountMeta{
		Lamports:   acct.Lamports,
		RentEpoch:  acct.RentEpoch,
		Owner:      acct.Owner,
		Executable: acct.Executable,
	}

	seg, err := db.segmentForWrite(uint64(len(acct.Data)))
	if err != nil {
		return accounts.AccountInfo{}, err
	}

	offset, err := seg.Append(meta, am, acct.Data)
	if err != nil {
		return accounts.AccountInfo{}, err
	}
	if uint64(len(acct.Data)) >= db.cfg.OversizedAccountThreshold {
		seg.MarkCandidate()
		if err := seg.Seal(); err != nil {
			return accounts.AccountInfo{}, err
		}
	}

	info := accounts.AccountInfo{StoreID: seg.id, Offset: offset, Lamports: acct.Lamports}
	db.idx.Insert(key, slot, info)

	recordSize := RecordSize(uint64(len(acct.Data)))
	db.metrics.bytesWritten.Add(int64(recordSize))
	db.metrics.accountsStored.Inc()
	metrics.StorageBytesWritten.Add(int64(recordSize))
	metrics.StorageAccountsStored.Inc()
	return info, nil
}

// segmentForWrite returns the segment Append should target: a dedicated
// fresh segment for an oversized account (so one huge account can't force
// an otherwise-small segment to seal early), otherwise the current
// Available segment, rotating it first if it has crossed the target size.
func (db *DB) segmentForWrite(dataLen uint64) (*Segment, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	if dataLen >= db.cfg.OversizedAccountThreshold {
		if db.importing.Load() {
			return db.newSegmentInDir(db.randomDir())
		}
		return db.newSegment()
	}

	if db.current.Size() >= db.cfg.SegmentTargetSize {
		db.current.MarkCandidate()
		if err := db.current.Seal(); err != nil {
			return nil, err
		}
		var fresh *Segment
		var err error
		if db.importing.Load() {
			fresh, err = db.newSegmentInDir(db.randomDir())
		} else {
			fresh, err = db.newSegment()
		}
		if err != nil {
			return nil, err
		}
		db.current = fresh
	}
	return db.current, nil
}

// Load returns the account visible to ancestors for key, or ok=false if
// no version is visible (the account does not exist on this fork).
func (db *DB) Load(key accounts.Pubkey, ancestors accountsindex.Ancestors) (accounts.Account, bool, error) {
	info, ok := db.idx.Get(key, ancestors)
	if !ok {
		return accounts.Account{}, false, nil
	}
	if info.IsZeroLamport() {
		return accounts.Account{}, false, nil
	}

	db.mu.RLock()
	seg, ok := db.segments[info.StoreID]
	db.mu.RUnlock()
	if !ok {
		return accounts.Account{}, false, fmt.Errorf("%w: store_id %d", ErrSegmentNotFound, info.StoreID)
	}

	_, am, data, err := seg.ReadRecord(info.Offset)
	if err != nil {
		return accounts.Account{}, false, err
	}
	return accounts.Account{
		Lamports:   am.Lamports,
		RentEpoch:  am.RentEpoch,
		Owner:      am.Owner,
		Executable: am.Executable,
		Data:       data,
	}, true, nil
}

// ApplyReclaims physically marks each reclaimed record's bytes dead in its
// segment, after the accounts index has already dropped its own reference.
// A reclaim larger than the segment's remaining alive bytes (for example
// a double reclaim of a segment's last record) panics via Segment.MarkDead.
func (db *DB) ApplyReclaims(reclaims []accountsindex.Reclaim) {
	db.mu.RLock()
	defer db.mu.RUnlock()
	for _, r := range reclaims {
		seg, ok := db.segments[r.Info.StoreID]
		if !ok {
			db.log.Warn("reclaim targets unknown segment", "store_id", r.Info.StoreID, "pubkey", r.Key)
			continue
		}
		header, err := seg.headerOnly(r.Info.Offset)
		if err != nil {
			db.log.Warn("reclaim failed to read record header", "store_id", r.Info.StoreID, "offset", r.Info.Offset, "error", err)
			continue
		}
		seg.MarkDead(RecordSize(header))
	}
}

// headerOnly returns just the data length stored at offset, used by
// ApplyReclaims to compute a record's total on-disk size without
// re-decoding the full payload.
func (s *Segment) headerOnly(offset uint64) (uint64, error) {
	header := make([]byte, recordHeaderSize)
	if err := s.readAt(header, offset); err != nil {
		return 0, fmt.Errorf("%w: read header segment %d at %d: %v", ErrSegmentIO, s.id, offset, err)
	}
	return binary.BigEndian.Uint64(header[dataLenOffset : dataLenOffset+8]), nil
}

// Close closes every segment's file handles; it does not seal them.
func (db *DB) Close() error {
	db.mu.Lock()
	defer db.mu.Unlock()
	var first error
	for _, seg := range db.segments {
		if err := seg.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// randomDir picks a uniformly random configured directory.
func (db *DB) randomDir() string {
	return db.cfg.Dirs[rand.Intn(len(db.cfg.Dirs))]
}

func mkdirAll(dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("%w: mkdir %s: %v", ErrSegmentIO, dir, err)
	}
	return nil
}
