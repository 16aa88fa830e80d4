package storage

import (
	"encoding/binary"
	"fmt"
	"io"
	"os"

	"github.com/valcore/valcore/accounts"
)

// snapshotMagic distinguishes a snapshot file from a stray segment file.
const snapshotMagic = "VSNP1\x00\x00\x00"

// GenerateIndex rebuilds the accounts index from the segments already on
// disk, used on startup when a process restart discarded the in-memory
// index but the segment files (and therefore the ground truth) survived.
// Scans every open segment with Segment.Scan; the last write observed per
// pubkey (by WriteVersion) wins, matching intra-slot overwrite semantics.
func (db *DB) GenerateIndex() error {
	db.mu.RLock()
	segs := make([]*Segment, 0, len(db.segments))
	for _, seg := range db.segments {
		segs = append(segs, seg)
	}
	db.mu.RUnlock()

	type best struct {
		writeVersion uint64
		slot         uint64
		info         accounts.AccountInfo
	}
	latest := make(map[accounts.Pubkey]best)

	for _, seg := range segs {
		err := seg.Scan(func(offset uint64, meta accounts.StoredMeta, am accounts.AccountMeta, data []byte) error {
			cur, ok := latest[meta.Pubkey]
			if ok && cur.writeVersion >= meta.WriteVersion {
				return nil
			}
			latest[meta.Pubkey] = best{
				writeVersion: meta.WriteVersion,
				slot:         meta.Slot,
				info:         accounts.AccountInfo{StoreID: seg.id, Offset: offset, Lamports: am.Lamports},
			}
			return nil
		})
		if err != nil {
			return fmt.Errorf("generate_index: scan segment %d: %w", seg.id, err)
		}
	}

	for key, b := range latest {
		db.idx.Insert(key, b.slot, b.info)
	}
	db.log.Info("generate_index rebuilt accounts index", "accounts", len(latest))
	return nil
}

// Export writes every record named in live to w, in a simple
// length-prefixed framed format: magic, then a uint64 count, then each
// record as [slot uint64][pubkey 32][lamports 8][rent_epoch 8][owner 32]
// [executable 1][data_len 8][data].
func (db *DB) Export(w io.Writer, live []LiveRecord) error {
	if _, err := w.Write([]byte(snapshotMagic)); err != nil {
		return fmt.Errorf("export: write magic: %w", err)
	}
	var countBuf [8]byte
	binary.BigEndian.PutUint64(countBuf[:], uint64(len(live)))
	if _, err := w.Write(countBuf[:]); err != nil {
		return fmt.Errorf("export: write count: %w", err)
	}

	db.mu.RLock()
	defer db.mu.RUnlock()
	for _, rec := range live {
		seg, ok := db.segments[rec.StoreID]
		if !ok {
			return fmt.Errorf("%w: export missing segment %d for %v", ErrSegmentNotFound, rec.StoreID, rec.Key)
		}
		_, am, data, err := seg.ReadRecord(rec.Offset)
		if err != nil {
			return fmt.Errorf("export: read record: %w", err)
		}
		if err := writeSnapshotRecord(w, rec.Slot, rec.Key, am, data); err != nil {
			return err
		}
	}
	return nil
}

func writeSnapshotRecord(w io.Writer, slot uint64, key accounts.Pubkey, am accounts.AccountMeta, data []byte) error {
	var header [8 + 32 + 8 + 8 + 32 + 1 + 8]byte
	off := 0
	binary.BigEndian.PutUint64(header[off:off+8], slot)
	off += 8
	copy(header[off:off+32], key[:])
	off += 32
	binary.BigEndian.PutUint64(header[off:off+8], am.Lamports)
	off += 8
	binary.BigEndian.PutUint64(header[off:off+8], am.RentEpoch)
	off += 8
	copy(header[off:off+32], am.Owner[:])
	off += 32
	if am.Executable {
		header[off] = 1
	}
	off++
	binary.BigEndian.PutUint64(header[off:off+8], uint64(len(data)))

	if _, err := w.Write(header[:]); err != nil {
		return fmt.Errorf("export: write record header: %w", err)
	}
	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("export: write record data: %w", err)
	}
	return nil
}

// Import reads a snapshot produced by Export and stores every record into
// db at its original slot, rebuilding both segments and the index. The
// caller is responsible for ensuring db is otherwise empty.
func (db *DB) Import(r io.Reader) (int, error) {
	magic := make([]byte, len(snapshotMagic))
	if _, err := io.ReadFull(r, magic); err != nil {
		return 0, fmt.Errorf("import: read magic: %w", err)
	}
	if string(magic) != snapshotMagic {
		return 0, fmt.Errorf("import: bad snapshot magic")
	}
	var countBuf [8]byte
	if _, err := io.ReadFull(r, countBuf[:]); err != nil {
		return 0, fmt.Errorf("import: read count: %w", err)
	}
	count := binary.BigEndian.Uint64(countBuf[:])

	db.importing.Store(true)
	defer db.importing.Store(false)

	imported := 0
	for i := uint64(0); i < count; i++ {
		slot, key, am, data, err := readSnapshotRecord(r)
		if err != nil {
			return imported, err
		}
		if _, err := db.Store(slot, key, accounts.Account{
			Lamports:   am.Lamports,
			RentEpoch:  am.RentEpoch,
			Owner:      am.Owner,
			Executable: am.Executable,
			Data:       data,
		}); err != nil {
			return imported, fmt.Errorf("import: store record %d: %w", i, err)
		}
		imported++
	}
	return imported, nil
}

func readSnapshotRecord(r io.Reader) (uint64, accounts.Pubkey, accounts.AccountMeta, []byte, error) {
	header := make([]byte, 8+32+8+8+32+1+8)
	if _, err := io.ReadFull(r, header); err != nil {
		return 0, accounts.Pubkey{}, accounts.AccountMeta{}, nil, fmt.Errorf("import: read record header: %w", err)
	}
	off := 0
	slot := binary.BigEndian.Uint64(header[off : off+8])
	off += 8
	var key accounts.Pubkey
	copy(key[:], header[off:off+32])
	off += 32
	var am accounts.AccountMeta
	am.Lamports = binary.BigEndian.Uint64(header[off : off+8])
	off += 8
	am.RentEpoch = binary.BigEndian.Uint64(header[off : off+8])
	off += 8
	copy(am.Owner[:], header[off:off+32])
	off += 32
	am.Executable = header[off] != 0
	off++
	dataLen := binary.BigEndian.Uint64(header[off : off+8])

	data := make([]byte, dataLen)
	if _, err := io.ReadFull(r, data); err != nil {
		return 0, accounts.Pubkey{}, accounts.AccountMeta{}, nil, fmt.Errorf("import: read record data: %w", err)
	}
	return slot, key, am, data, nil
}

// ExportToFile is a convenience wrapper creating path and calling Export.
func (db *DB) ExportToFile(path string, live []LiveRecord) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("%w: create snapshot %s: %v", ErrSegmentIO, path, err)
	}
	defer f.Close()
	return db.Export(f, live)
}

// ImportFromFile is a convenience wrapper opening path and calling Import.
func (db *DB) ImportFromFile(path string) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("%w: open snapshot %s: %v", ErrSegmentIO, path, err)
	}
	defer f.Close()
	return db.Import(f)
}
