package storage

import (
	"testing"

	"github.com/valcore/valcore/accounts"
)

func testMeta(slot uint64, pk byte, dataLen int) (accounts.StoredMeta, accounts.AccountMeta, []byte) {
	var key accounts.Pubkey
	key[0] = pk
	data := make([]byte, dataLen)
	for i := range data {
		data[i] = pk
	}
	meta := accounts.StoredMeta{WriteVersion: 1, Slot: slot, Pubkey: key, DataLen: uint64(dataLen)}
	am := accounts.AccountMeta{Lamports: 100, RentEpoch: 2, Owner: accounts.Pubkey{9}, Executable: false}
	return meta, am, data
}

func TestSegmentAppendAndReadRecordRoundTrip(t *testing.T) {
	dir := t.TempDir()
	seg, err := openSegment(dir, 1)
	if err != nil {
		t.Fatalf("openSegment: %v", err)
	}
	defer seg.Close()

	meta, am, data := testMeta(5, 0x11, 16)
	offset, err := seg.Append(meta, am, data)
	if err != nil {
		t.Fatalf("Append: %v", err)
	}
	if offset != 0 {
		t.Fatalf("expected first record at offset 0, got %d", offset)
	}

	gotMeta, gotAM, gotData, err := seg.ReadRecord(offset)
	if err != nil {
		t.Fatalf("ReadRecord: %v", err)
	}
	if gotMeta.Slot != 5 || gotMeta.Pubkey != meta.Pubkey || gotMeta.DataLen != 16 {
		t.Fatalf("meta mismatch: %+v", gotMeta)
	}
	if gotAM.Lamports != 100 || gotAM.RentEpoch != 2 {
		t.Fatalf("account meta mismatch: %+v", gotAM)
	}
	if len(gotData) != 16 || gotData[0] != 0x11 {
		t.Fatalf("data mismatch: %v", gotData)
	}
}

func TestSegmentAppendToSealedFails(t *testing.T) {
	dir := t.TempDir()
	seg, err := openSegment(dir, 2)
	if err != nil {
		t.Fatalf("openSegment: %v", err)
	}
	defer seg.Close()

	seg.MarkCandidate()
	if err := seg.Seal(); err != nil {
		t.Fatalf("Seal: %v", err)
	}

	meta, am, data := testMeta(1, 0x22, 4)
	if _, err := seg.Append(meta, am, data); err == nil {
		t.Fatal("expected append to sealed segment to fail")
	}
}

func TestSegmentSealReadsBackViaMmap(t *testing.T) {
	dir := t.TempDir()
	seg, err := openSegment(dir, 3)
	if err != nil {
		t.Fatalf("openSegment: %v", err)
	}
	defer seg.Close()

	meta, am, data := testMeta(7, 0x33, 32)
	offset, err := seg.Append(meta, am, data)
	if err != nil {
		t.Fatalf("Append: %v", err)
	}
	seg.MarkCandidate()
	if err := seg.Seal(); err != nil {
		t.Fatalf("Seal: %v", err)
	}

	_, _, gotData, err := seg.ReadRecord(offset)
	if err != nil {
		t.Fatalf("ReadRecord after seal: %v", err)
	}
	if len(gotData) != 32 || gotData[0] != 0x33 {
		t.Fatalf("data mismatch after seal: %v", gotData)
	}
}

func TestSegmentMarkDeadDoubleFreePanics(t *testing.T) {
	dir := t.TempDir()
	seg, err := openSegment(dir, 4)
	if err != nil {
		t.Fatalf("openSegment: %v", err)
	}
	defer seg.Close()

	meta, am, data := testMeta(1, 0x44, 8)
	if _, err := seg.Append(meta, am, data); err != nil {
		t.Fatalf("Append: %v", err)
	}
	size := RecordSize(8)
	seg.MarkDead(size)

	defer func() {
		if r := recover(); r == nil {
			t.Fatal("expected MarkDead beyond alive bytes to panic")
		}
	}()
	seg.MarkDead(size)
}

func TestSegmentScanVisitsEveryRecordInOrder(t *testing.T) {
	dir := t.TempDir()
	seg, err := openSegment(dir, 5)
	if err != nil {
		t.Fatalf("openSegment: %v", err)
	}
	defer seg.Close()

	var offsets []uint64
	for i := byte(0); i < 5; i++ {
		meta, am, data := testMeta(uint64(i), i, int(i)+1)
		off, err := seg.Append(meta, am, data)
		if err != nil {
			t.Fatalf("Append %d: %v", i, err)
		}
		offsets = append(offsets, off)
	}

	var seen []uint64
	err = seg.Scan(func(offset uint64, meta accounts.StoredMeta, am accounts.AccountMeta, data []byte) error {
		seen = append(seen, meta.Slot)
		return nil
	})
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if len(seen) != 5 {
		t.Fatalf("expected 5 records, got %d", len(seen))
	}
	for i, slot := range seen {
		if slot != uint64(i) {
			t.Fatalf("record %d: expected slot %d, got %d", i, i, slot)
		}
	}
}

func TestSegmentLiveFractionTracksDeadBytes(t *testing.T) {
	dir := t.TempDir()
	seg, err := openSegment(dir, 6)
	if err != nil {
		t.Fatalf("openSegment: %v", err)
	}
	defer seg.Close()

	meta, am, data := testMeta(1, 0x55, 8)
	if _, err := seg.Append(meta, am, data); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if frac := seg.LiveFraction(); frac != 1 {
		t.Fatalf("expected full live fraction before any reclaim, got %v", frac)
	}
	seg.MarkDead(RecordSize(8))
	if frac := seg.LiveFraction(); frac != 0 {
		t.Fatalf("expected zero live fraction after reclaiming the only record, got %v", frac)
	}
}
