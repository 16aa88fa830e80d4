package storage

import (
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"

	"golang.org/x/exp/mmap"

	"github.com/valcore/valcore/accounts"
)

// Status is a segment's position in the Available -> Candidate -> Full
// lifecycle. New appends are routed to an Available segment; Candidate
// marks one that has crossed its target size but still accepts in-flight
// appends from the slot that filled it; Full segments are sealed, reject
// appends, and switch to mmap-backed reads.
type Status int

const (
	StatusAvailable Status = iota
	StatusCandidate
	StatusFull
)

func (s Status) String() string {
	switch s {
	case StatusAvailable:
		return "available"
	case StatusCandidate:
		return "candidate"
	case StatusFull:
		return "full"
	default:
		return "unknown"
	}
}

// recordHeaderSize is the fixed-size prefix of every stored record:
// WriteVersion(8) + Slot(8) + Pubkey(32) + DataLen(8) + Lamports(8) +
// RentEpoch(8) + Owner(32) + Executable(1).
const recordHeaderSize = 8 + 8 + 32 + 8 + 8 + 8 + 32 + 1

// dataLenOffset is the byte offset of the DataLen field within a record
// header, used by callers that need just the length before deciding how
// much more to read.
const dataLenOffset = 8 + 8 + 32

// Segment is a single append-only file holding a contiguous run of account
// records, grounded on the teacher's freezer table (pkg/core/rawdb/
// freezer_table.go): an append-and-seal data file, except accounts storage
// has no separate index file since AccountInfo.Offset already locates each
// record directly.
type Segment struct {
	mu sync.RWMutex

	id     uint64
	path   string
	file   *os.File
	status Status

	writeOffset uint64
	aliveBytes  uint64
	deadBytes   uint64

	reader *mmap.ReaderAt // non-nil once sealed
}

// openSegment creates (or reopens) the segment file for id in dir.
func openSegment(dir string, id uint64) (*Segment, error) {
	path := filepath.Join(dir, fmt.Sprintf("%020d.seg", id))
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, fmt.Errorf("%w: open segment %d: %v", ErrSegmentIO, id, err)
	}
	stat, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("%w: stat segment %d: %v", ErrSegmentIO, id, err)
	}
	return &Segment{
		id:          id,
		path:        path,
		file:        f,
		status:      StatusAvailable,
		writeOffset: uint64(stat.Size()),
	}, nil
}

func encodeRecord(meta accounts.StoredMeta, am accounts.AccountMeta, data []byte) []byte {
	buf := make([]byte, recordHeaderSize+len(data))
	binary.BigEndian.PutUint64(buf[0:8], meta.WriteVersion)
	binary.BigEndian.PutUint64(buf[8:16], meta.Slot)
	copy(buf[16:48], meta.Pubkey[:])
	binary.BigEndian.PutUint64(buf[48:56], uint64(len(data)))
	binary.BigEndian.PutUint64(buf[56:64], am.Lamports)
	binary.BigEndian.PutUint64(buf[64:72], am.RentEpoch)
	copy(buf[72:104], am.Owner[:])
	if am.Executable {
		buf[104] = 1
	}
	copy(buf[recordHeaderSize:], data)
	return buf
}

func decodeRecord(buf []byte) (accounts.StoredMeta, accounts.AccountMeta, []byte, error) {
	if len(buf) < recordHeaderSize {
		return accounts.StoredMeta{}, accounts.AccountMeta{}, nil, fmt.Errorf("%w: truncated record header", ErrSegmentIO)
	}
	var meta accounts.StoredMeta
	meta.WriteVersion = binary.BigEndian.Uint64(buf[0:8])
	meta.Slot = binary.BigEndian.Uint64(buf[8:16])
	copy(meta.Pubkey[:], buf[16:48])
	meta.DataLen = binary.BigEndian.Uint64(buf[48:56])

	var am accounts.AccountMeta
	am.Lamports = binary.BigEndian.Uint64(buf[56:64])
	am.RentEpoch = binary.BigEndian.Uint64(buf[64:72])
	copy(am.Owner[:], buf[72:104])
	am.Executable = buf[104] != 0

	if uint64(len(buf)) < recordHeaderSize+meta.DataLen {
		return accounts.StoredMeta{}, accounts.AccountMeta{}, nil, fmt.Errorf("%w: truncated record data", ErrSegmentIO)
	}
	data := make([]byte, meta.DataLen)
	copy(data, buf[recordHeaderSize:recordHeaderSize+meta.DataLen])
	return meta, am, data, nil
}

// Append writes one account record and returns its byte offset. The
// caller must already hold the segment in Available status; Append on a
// sealed segment returns ErrSegmentIO.
func (s *Segment) Append(meta accounts.StoredMeta, am accounts.AccountMeta, data []byte) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.status == StatusFull {
		return 0, fmt.Errorf("%w: append to sealed segment %d", ErrSegmentIO, s.id)
	}
	buf := encodeRecord(meta, am, data)
	offset := s.writeOffset
	if _, err := s.file.WriteAt(buf, int64(offset)); err != nil {
		return 0, fmt.Errorf("%w: write segment %d: %v", ErrSegmentIO, s.id, err)
	}
	s.writeOffset += uint64(len(buf))
	s.aliveBytes += uint64(len(buf))
	return offset, nil
}

// readAt dispatches to the mmap reader once sealed, the plain file handle
// before that.
func (s *Segment) readAt(buf []byte, offset uint64) error {
	s.mu.RLock()
	reader := s.reader
	file := s.file
	s.mu.RUnlock()

	var err error
	if reader != nil {
		_, err = reader.ReadAt(buf, int64(offset))
	} else {
		_, err = file.ReadAt(buf, int64(offset))
	}
	return err
}

// ReadRecord reads the full record at offset: the header first (to learn
// the data length), then the payload. AccountInfo only needs to carry the
// record's starting offset, not its length, at the cost of this second
// read.
func (s *Segment) ReadRecord(offset uint64) (accounts.StoredMeta, accounts.AccountMeta, []byte, error) {
	header := make([]byte, recordHeaderSize)
	if err := s.readAt(header, offset); err != nil {
		return accounts.StoredMeta{}, accounts.AccountMeta{}, nil, fmt.Errorf("%w: read header segment %d at %d: %v", ErrSegmentIO, s.id, offset, err)
	}
	dataLen := binary.BigEndian.Uint64(header[dataLenOffset : dataLenOffset+8])

	buf := make([]byte, recordHeaderSize+dataLen)
	if err := s.readAt(buf, offset); err != nil {
		return accounts.StoredMeta{}, accounts.AccountMeta{}, nil, fmt.Errorf("%w: read record segment %d at %d: %v", ErrSegmentIO, s.id, offset, err)
	}
	return decodeRecord(buf)
}

// RecordSize returns the on-disk size of one record with the given data
// length.
func RecordSize(dataLen uint64) uint64 {
	return recordHeaderSize + dataLen
}

// ScanFunc is called once per record found by Scan. Returning an error
// stops the scan early and the error propagates out of Scan.
type ScanFunc func(offset uint64, meta accounts.StoredMeta, am accounts.AccountMeta, data []byte) error

// Scan walks every record in the segment from its start, in write order,
// used to rebuild the accounts index after a restart (GenerateIndex) or to
// export a segment's contents to a snapshot.
func (s *Segment) Scan(fn ScanFunc) error {
	s.mu.RLock()
	end := s.writeOffset
	s.mu.RUnlock()

	var offset uint64
	for offset < end {
		meta, am, data, err := s.ReadRecord(offset)
		if err != nil {
			return err
		}
		if err := fn(offset, meta, am, data); err != nil {
			return err
		}
		offset += RecordSize(meta.DataLen)
	}
	return nil
}

// MarkCandidate transitions Available -> Candidate: no further appends
// are routed here, but in-flight appends from the slot that filled it may
// still land.
func (s *Segment) MarkCandidate() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status == StatusAvailable {
		s.status = StatusCandidate
	}
}

// Seal transitions Candidate -> Full and opens a read-only mmap over the
// file, after which Append always fails.
func (s *Segment) Seal() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status == StatusFull {
		return nil
	}
	s.status = StatusFull
	reader, err := mmap.Open(s.path)
	if err != nil {
		return fmt.Errorf("%w: mmap segment %d: %v", ErrSegmentIO, s.id, err)
	}
	s.reader = reader
	return nil
}

// Status returns the segment's current lifecycle status.
func (s *Segment) Status() Status {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.status
}

// Size returns the segment's current total byte size (alive + dead).
func (s *Segment) Size() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.writeOffset
}

// LiveFraction returns the fraction of the segment's bytes that are still
// alive, used by the shrink pass to decide whether a Full segment is worth
// rewriting.
func (s *Segment) LiveFraction() float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	total := s.aliveBytes + s.deadBytes
	if total == 0 {
		return 1
	}
	return float64(s.aliveBytes) / float64(total)
}

// MarkDead records recordSize bytes at this segment as reclaimed. It
// panics (ErrDoubleRemoveFromSegment) when recordSize exceeds the
// segment's remaining alive bytes, which is how a double reclaim shows up
// once no alive bytes are left to cover it. It does not track which
// offsets were already reclaimed, so a repeated reclaim of one record
// while other records are still alive is not detected.
func (s *Segment) MarkDead(recordSize uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if recordSize > s.aliveBytes {
		panic(ErrDoubleRemoveFromSegment)
	}
	s.aliveBytes -= recordSize
	s.deadBytes += recordSize
}

// Close releases the segment's file handles.
func (s *Segment) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var err error
	if s.reader != nil {
		err = s.reader.Close()
	}
	if cerr := s.file.Close(); cerr != nil && err == nil {
		err = cerr
	}
	return err
}

// nextSegmentID is the process-wide monotonic counter handed to every DB
// instance in the process, mirroring the original implementation's
// requirement that segment IDs never collide even across concurrently
// open DBs sharing a machine (e.g. during snapshot verification).
var nextSegmentID atomic.Uint64

func allocateSegmentID() uint64 {
	return nextSegmentID.Add(1)
}
