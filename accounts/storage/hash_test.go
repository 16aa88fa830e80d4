package storage

import (
	"context"
	"testing"

	"github.com/valcore/valcore/accounts"
	accountsindex "github.com/valcore/valcore/accounts/index"
)

func TestAccountHashDeterministic(t *testing.T) {
	am := accounts.AccountMeta{Lamports: 10, RentEpoch: 1, Owner: pubkey(1)}
	data := []byte("payload")
	h1 := AccountHash(pubkey(2), am, data)
	h2 := AccountHash(pubkey(2), am, data)
	if h1 != h2 {
		t.Fatal("expected AccountHash to be deterministic for identical input")
	}
}

func TestAccountHashChangesWithLamports(t *testing.T) {
	am1 := accounts.AccountMeta{Lamports: 10}
	am2 := accounts.AccountMeta{Lamports: 11}
	data := []byte("payload")
	if AccountHash(pubkey(2), am1, data) == AccountHash(pubkey(2), am2, data) {
		t.Fatal("expected a lamports change to change the account hash")
	}
}

func TestMerkleRootEmptyIsZeroHash(t *testing.T) {
	got := merkleRoot(nil, 16)
	if got != (accounts.Hash{}) {
		t.Fatalf("expected zero hash for empty leaf set, got %v", got)
	}
}

func TestMerkleRootSingleLeafFoldsToDistinctNode(t *testing.T) {
	leaf := AccountHash(pubkey(1), accounts.AccountMeta{Lamports: 1}, []byte("x"))
	root := merkleRoot([]accounts.Hash{leaf}, 16)
	if root == leaf {
		t.Fatal("expected even a single-leaf root to be hashed, not returned verbatim")
	}
}

func TestDeltaHashOrderIndependent(t *testing.T) {
	cfg := DefaultConfig(t.TempDir())
	db := newTestDB(t, cfg)

	keyA, keyB := pubkey(1), pubkey(2)
	if _, err := db.Store(1, keyA, accounts.Account{Lamports: 1, Data: []byte("a")}); err != nil {
		t.Fatalf("Store: %v", err)
	}
	if _, err := db.Store(1, keyB, accounts.Account{Lamports: 2, Data: []byte("b")}); err != nil {
		t.Fatalf("Store: %v", err)
	}

	ancestors := accountsindex.Ancestors{1: 0}
	h1, err := db.DeltaHash(context.Background(), 1, []accounts.Pubkey{keyA, keyB}, ancestors)
	if err != nil {
		t.Fatalf("DeltaHash: %v", err)
	}
	h2, err := db.DeltaHash(context.Background(), 1, []accounts.Pubkey{keyB, keyA}, ancestors)
	if err != nil {
		t.Fatalf("DeltaHash: %v", err)
	}
	if h1 != h2 {
		t.Fatal("expected DeltaHash to be independent of input key order")
	}
}

func TestDeltaHashChangesWhenAccountChanges(t *testing.T) {
	cfg := DefaultConfig(t.TempDir())
	db := newTestDB(t, cfg)

	key := pubkey(3)
	if _, err := db.Store(1, key, accounts.Account{Lamports: 1, Data: []byte("a")}); err != nil {
		t.Fatalf("Store: %v", err)
	}
	ancestors := accountsindex.Ancestors{1: 0, 2: 0}
	before, err := db.DeltaHash(context.Background(), 1, []accounts.Pubkey{key}, ancestors)
	if err != nil {
		t.Fatalf("DeltaHash: %v", err)
	}

	if _, err := db.Store(2, key, accounts.Account{Lamports: 5, Data: []byte("a")}); err != nil {
		t.Fatalf("Store: %v", err)
	}
	after, err := db.DeltaHash(context.Background(), 2, []accounts.Pubkey{key}, ancestors)
	if err != nil {
		t.Fatalf("DeltaHash: %v", err)
	}

	if before == after {
		t.Fatal("expected DeltaHash to change once the account's lamports change")
	}
}
