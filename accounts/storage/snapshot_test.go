package storage

import (
	"bytes"
	"testing"

	"github.com/valcore/valcore/accounts"
	accountsindex "github.com/valcore/valcore/accounts/index"
)

func TestExportImportRoundTrip(t *testing.T) {
	cfg := DefaultConfig(t.TempDir())
	src := newTestDB(t, cfg)

	keyA, keyB := pubkey(1), pubkey(2)
	infoA, err := src.Store(1, keyA, accounts.Account{Lamports: 10, RentEpoch: 1, Owner: pubkey(9), Data: []byte("alpha")})
	if err != nil {
		t.Fatalf("Store A: %v", err)
	}
	infoB, err := src.Store(2, keyB, accounts.Account{Lamports: 20, RentEpoch: 2, Owner: pubkey(8), Data: []byte("beta")})
	if err != nil {
		t.Fatalf("Store B: %v", err)
	}

	live := []LiveRecord{
		{Key: keyA, Slot: 1, StoreID: infoA.StoreID, Offset: infoA.Offset},
		{Key: keyB, Slot: 2, StoreID: infoB.StoreID, Offset: infoB.Offset},
	}

	var buf bytes.Buffer
	if err := src.Export(&buf, live); err != nil {
		t.Fatalf("Export: %v", err)
	}

	dstCfg := DefaultConfig(t.TempDir())
	dst := newTestDB(t, dstCfg)
	n, err := dst.Import(&buf)
	if err != nil {
		t.Fatalf("Import: %v", err)
	}
	if n != 2 {
		t.Fatalf("expected 2 imported records, got %d", n)
	}

	gotA, ok, err := dst.Load(keyA, accountsindex.Ancestors{1: 0})
	if err != nil {
		t.Fatalf("Load A: %v", err)
	}
	if !ok || gotA.Lamports != 10 || string(gotA.Data) != "alpha" {
		t.Fatalf("unexpected account A after import: ok=%v %+v", ok, gotA)
	}

	gotB, ok, err := dst.Load(keyB, accountsindex.Ancestors{2: 0})
	if err != nil {
		t.Fatalf("Load B: %v", err)
	}
	if !ok || gotB.Lamports != 20 || string(gotB.Data) != "beta" {
		t.Fatalf("unexpected account B after import: ok=%v %+v", ok, gotB)
	}
}

func TestImportRejectsBadMagic(t *testing.T) {
	cfg := DefaultConfig(t.TempDir())
	db := newTestDB(t, cfg)

	buf := bytes.NewBufferString("not-a-snapshot-----")
	if _, err := db.Import(buf); err == nil {
		t.Fatal("expected Import to reject a buffer with the wrong magic")
	}
}

func TestGenerateIndexRebuildsFromSegments(t *testing.T) {
	cfg := DefaultConfig(t.TempDir())
	db := newTestDB(t, cfg)

	key := pubkey(3)
	if _, err := db.Store(1, key, accounts.Account{Lamports: 7, Data: []byte("gamma")}); err != nil {
		t.Fatalf("Store: %v", err)
	}
	if _, err := db.Store(2, key, accounts.Account{Lamports: 9, Data: []byte("delta")}); err != nil {
		t.Fatalf("Store: %v", err)
	}

	fresh := accountsindex.New(accountsindex.DefaultConfig())
	db.idx = fresh
	if err := db.GenerateIndex(); err != nil {
		t.Fatalf("GenerateIndex: %v", err)
	}

	got, ok, err := db.Load(key, accountsindex.Ancestors{2: 0})
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !ok || got.Lamports != 9 || string(got.Data) != "delta" {
		t.Fatalf("expected the newest write version after rebuild, got ok=%v %+v", ok, got)
	}
}
