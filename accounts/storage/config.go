package storage

import "runtime"

// Config configures a DB. Mirrors the teacher's plain-struct-plus-
// DefaultConfig pattern used throughout the core (see forkchoice.Config).
type Config struct {
	// Dirs lists the directories segments are written into. Multiple
	// directories let operators spread I/O across separate disks; the
	// directory for a new segment is chosen round-robin.
	Dirs []string

	// SegmentTargetSize is the size, in bytes, at which an Available
	// segment transitions to Candidate and a new Available segment is
	// opened. Defaults to 4 MiB.
	SegmentTargetSize uint64

	// OversizedAccountThreshold is the data size at or above which an account
	// gets its own dedicated segment rather than sharing one, so a single
	// huge account can't force an otherwise-small segment to seal early.
	OversizedAccountThreshold uint64

	// ScanPoolSize bounds the worker pool used for bulk full-database
	// scans (snapshot generation, full rehash). Defaults to the number of
	// CPUs.
	ScanPoolSize int

	// CleanupPoolSize bounds the background worker pool used for clean
	// and shrink passes, kept small relative to ScanPoolSize so background
	// maintenance doesn't starve foreground replay. Defaults to
	// max(1, CPUs/4).
	CleanupPoolSize int

	// ShrinkLiveFraction is the live-bytes/total-bytes threshold below
	// which a Full segment becomes a shrink candidate. Defaults to 0.80,
	// meaning a segment is rewritten once more than 20% of its bytes are
	// dead.
	ShrinkLiveFraction float64

	// HashFanout is the branching factor of the Merkle tree used for
	// per-slot delta hashes and the full bank hash. Defaults to 16.
	HashFanout int
}

// DefaultConfig returns the default DB configuration.
func DefaultConfig(dirs ...string) Config {
	if len(dirs) == 0 {
		dirs = []string{"accounts"}
	}
	cpus := runtime.NumCPU()
	cleanup := cpus / 4
	if cleanup < 1 {
		cleanup = 1
	}
	return Config{
		Dirs:                      dirs,
		SegmentTargetSize:         4 << 20,
		OversizedAccountThreshold: 1 << 20,
		ScanPoolSize:              cpus,
		CleanupPoolSize:           cleanup,
		ShrinkLiveFraction:        0.80,
		HashFanout:                16,
	}
}
