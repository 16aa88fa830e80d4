package storage

import (
	"context"
	"encoding/binary"
	"sort"
	"time"

	"golang.org/x/crypto/sha3"
	"golang.org/x/sync/errgroup"

	"github.com/valcore/valcore/accounts"
	accountsindex "github.com/valcore/valcore/accounts/index"
	"github.com/valcore/valcore/metrics"
)

// AccountHash computes the per-account hash: sha3-256 over the lamports,
// rent epoch, owner, executable flag, pubkey, and data, in that field
// order. An account's hash changes if, and only if, one of those fields
// changes, so a delta hash over many accounts detects any mutation.
func AccountHash(key accounts.Pubkey, am accounts.AccountMeta, data []byte) accounts.Hash {
	h := sha3.New256()
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], am.Lamports)
	h.Write(buf[:])
	binary.BigEndian.PutUint64(buf[:], am.RentEpoch)
	h.Write(buf[:])
	h.Write(am.Owner[:])
	if am.Executable {
		h.Write([]byte{1})
	} else {
		h.Write([]byte{0})
	}
	h.Write(key[:])
	h.Write(data)
	var out accounts.Hash
	h.Sum(out[:0])
	return out
}

// merkleRoot folds leaves into a single root hash using a fanout-wide
// Merkle tree: each level groups up to fanout leaves under one sha3-256
// node hash, repeating until one hash remains. A single leaf is still
// hashed once into its own root node. An empty leaf set hashes to the
// zero hash.
func merkleRoot(leaves []accounts.Hash, fanout int) accounts.Hash {
	if len(leaves) == 0 {
		return accounts.Hash{}
	}
	if fanout < 2 {
		fanout = 16
	}
	level := leaves
	for first := true; first || len(level) > 1; first = false {
		var next []accounts.Hash
		for i := 0; i < len(level); i += fanout {
			end := i + fanout
			if end > len(level) {
				end = len(level)
			}
			h := sha3.New256()
			for _, leaf := range level[i:end] {
				h.Write(leaf[:])
			}
			var node accounts.Hash
			h.Sum(node[:0])
			next = append(next, node)
		}
		level = next
	}
	return level[0]
}

// DeltaHash computes the hash of every account touched in a single slot,
// in ascending pubkey order so the result is deterministic regardless of
// write order within the slot.
func (db *DB) DeltaHash(ctx context.Context, slot uint64, touched []accounts.Pubkey, ancestors accountsindex.Ancestors) (accounts.Hash, error) {
	sorted := append([]accounts.Pubkey(nil), touched...)
	sort.Slice(sorted, func(i, j int) bool {
		return string(sorted[i][:]) < string(sorted[j][:])
	})

	leaves := make([]accounts.Hash, len(sorted))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(db.cfg.ScanPoolSize)
	for i, key := range sorted {
		i, key := i, key
		g.Go(func() error {
			select {
			case <-gctx.Done():
				return gctx.Err()
			default:
			}
			acct, ok, err := db.Load(key, ancestors)
			if err != nil {
				return err
			}
			if !ok {
				return nil
			}
			leaves[i] = AccountHash(key, accounts.AccountMeta{
				Lamports:   acct.Lamports,
				RentEpoch:  acct.RentEpoch,
				Owner:      acct.Owner,
				Executable: acct.Executable,
			}, acct.Data)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return accounts.Hash{}, err
	}
	return merkleRoot(leaves, db.cfg.HashFanout), nil
}

// GenerateBankHash recomputes the full bank hash: the Merkle root over
// every key in allKeys, each read as visible through ancestors, using the scan
// worker pool sized by Config.ScanPoolSize (§5's bulk-scan pool). This is
// the expensive, whole-database operation; DeltaHash should be preferred
// for per-slot incremental hashing.
func (db *DB) GenerateBankHash(ctx context.Context, allKeys []accounts.Pubkey, ancestors accountsindex.Ancestors) (accounts.Hash, error) {
	start := time.Now()
	h, err := db.DeltaHash(ctx, 0, allKeys, ancestors)
	metrics.StorageHashLatency.Observe(float64(time.Since(start).Milliseconds()))
	return h, err
}
