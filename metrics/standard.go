package metrics

// Pre-defined metrics for the validator core. All metrics live in
// DefaultRegistry so they are globally accessible without passing a
// registry around.
//
// accounts/storage updates StorageBytesWritten, StorageAccountsStored,
// StorageFrozenViolations and the clean, shrink and hash latency
// histograms; accounts/index updates IndexCacheHits and IndexCacheMisses.
// No package in this module updates the fork-choice metrics,
// VoteBatchLatency, IndexEntries, IndexRoots, IndexReclaims or
// StorageSegmentsOpen. Tree, Index and DB also keep their own
// per-instance, underscore-named metrics outside DefaultRegistry.

var (
	// ---- Fork-choice metrics ----

	// ForkChoiceBestSlot tracks the current best-overall-slot returned by
	// the active fork-choice tree.
	ForkChoiceBestSlot = DefaultRegistry.Gauge("forkchoice.best_slot")
	// ForkChoiceTreeSize tracks the number of live nodes in the tree.
	ForkChoiceTreeSize = DefaultRegistry.Gauge("forkchoice.tree_size")
	// ForkChoiceAggregateOps counts stake-aggregation passes across all trees.
	ForkChoiceAggregateOps = DefaultRegistry.Counter("forkchoice.aggregate_ops")
	// ForkChoicePrunedNodes counts nodes removed by SetRoot calls.
	ForkChoicePrunedNodes = DefaultRegistry.Counter("forkchoice.pruned_nodes")
	// VoteBatchLatency records AddVotes batch processing time in milliseconds.
	VoteBatchLatency = DefaultRegistry.Histogram("forkchoice.vote_batch_ms")

	// ---- Accounts index metrics ----

	// IndexEntries tracks the number of (pubkey, slot) entries tracked by
	// the accounts index.
	IndexEntries = DefaultRegistry.Gauge("accountsindex.entries")
	// IndexRoots tracks the number of rooted slots retained by the index.
	IndexRoots = DefaultRegistry.Gauge("accountsindex.roots")
	// IndexReclaims counts entries queued for physical reclamation.
	IndexReclaims = DefaultRegistry.Counter("accountsindex.reclaims")
	// IndexCacheHits counts accounts-index cache hits.
	IndexCacheHits = DefaultRegistry.Counter("accountsindex.cache_hits")
	// IndexCacheMisses counts accounts-index cache misses.
	IndexCacheMisses = DefaultRegistry.Counter("accountsindex.cache_misses")

	// ---- Accounts storage metrics ----

	// StorageSegmentsOpen tracks the number of segments currently Available
	// or Candidate (i.e. not yet sealed Full).
	StorageSegmentsOpen = DefaultRegistry.Gauge("accountsdb.segments_open")
	// StorageBytesWritten counts bytes appended across all segments.
	StorageBytesWritten = DefaultRegistry.Counter("accountsdb.bytes_written")
	// StorageAccountsStored counts account-version writes.
	StorageAccountsStored = DefaultRegistry.Counter("accountsdb.accounts_stored")
	// StorageShrinkLatency records per-segment shrink duration in milliseconds.
	StorageShrinkLatency = DefaultRegistry.Histogram("accountsdb.shrink_ms")
	// StorageCleanLatency records per-pass clean duration in milliseconds.
	StorageCleanLatency = DefaultRegistry.Histogram("accountsdb.clean_ms")
	// StorageHashLatency records full bank-hash computation time in milliseconds.
	StorageHashLatency = DefaultRegistry.Histogram("accountsdb.hash_ms")
	// StorageFrozenViolations counts detected writes to a frozen account.
	StorageFrozenViolations = DefaultRegistry.Counter("accountsdb.frozen_violations")
)
