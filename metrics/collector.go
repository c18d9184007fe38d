// Package metrics provides per-run metrics collection.
//
// The Collector accumulates counters during a single archive run. It is a
// leaf package with no internal dependencies. Persistence metrics are
// absorbed from policy.Stats at run completion rather than recorded live,
// avoiding double-counting.
package metrics

import "sync"

// Snapshot is an immutable point-in-time view of all run metrics.
// Returned by Collector.Snapshot(). Safe to read concurrently after creation.
type Snapshot struct {
	// Run lifecycle
	RunsStarted   int64 `json:"runs_started"`
	RunsCompleted int64 `json:"runs_completed"`
	RunsFailed    int64 `json:"runs_failed"`
	RunsCanceled  int64 `json:"runs_canceled"`

	// Retrieval and decoding
	ChunksFetched     int64 `json:"chunks_fetched"`
	BytesFetched      int64 `json:"bytes_fetched"`
	BytesDecompressed int64 `json:"bytes_decompressed"`
	RecordsParsed     int64 `json:"records_parsed"`

	// Filtering
	RecordsKept     int64            `json:"records_kept"`
	RecordsSkipped  int64            `json:"records_skipped"`
	SkippedByReason map[string]int64 `json:"skipped_by_reason"`
	RatingsSampled  int64            `json:"ratings_sampled"`
	Warnings        int64            `json:"warnings"`

	// Persistence (absorbed from policy.Stats at run completion)
	RowsReceived  int64 `json:"rows_received"`
	RowsPersisted int64 `json:"rows_persisted"`
	RowsDropped   int64 `json:"rows_dropped"`

	// Lode / Storage
	LodeWriteSuccess int64 `json:"lode_write_success"`
	LodeWriteFailure int64 `json:"lode_write_failure"`

	// Dimensions (informational, set at construction)
	Policy         string `json:"policy"`
	StorageBackend string `json:"storage_backend"`
	RunID          string `json:"run_id"`
	Archive        string `json:"archive"`
}

// Collector accumulates metrics during a single run.
// Thread-safe via sync.Mutex. All increment methods are nil-receiver safe.
type Collector struct {
	mu sync.Mutex

	runsStarted   int64
	runsCompleted int64
	runsFailed    int64
	runsCanceled  int64

	chunksFetched     int64
	bytesFetched      int64
	bytesDecompressed int64
	recordsParsed     int64

	recordsKept     int64
	recordsSkipped  int64
	skippedByReason map[string]int64
	ratingsSampled  int64
	warnings        int64

	rowsReceived  int64
	rowsPersisted int64
	rowsDropped   int64

	lodeWriteSuccess int64
	lodeWriteFailure int64

	policy         string
	storageBackend string
	runID          string
	archive        string
}

// NewCollector creates a Collector with dimension labels.
func NewCollector(policy, storageBackend, runID, archive string) *Collector {
	return &Collector{
		skippedByReason: make(map[string]int64),
		policy:          policy,
		storageBackend:  storageBackend,
		runID:           runID,
		archive:         archive,
	}
}

// --- Run lifecycle ---

// IncRunStarted records a run start.
func (c *Collector) IncRunStarted() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.runsStarted++
	c.mu.Unlock()
}

// IncRunCompleted records a successful run completion.
func (c *Collector) IncRunCompleted() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.runsCompleted++
	c.mu.Unlock()
}

// IncRunFailed records a run failure.
func (c *Collector) IncRunFailed() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.runsFailed++
	c.mu.Unlock()
}

// IncRunCanceled records a canceled run.
func (c *Collector) IncRunCanceled() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.runsCanceled++
	c.mu.Unlock()
}

// --- Pipeline ---

// AddChunk records one fetched chunk of n bytes.
func (c *Collector) AddChunk(n int64) {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.chunksFetched++
	c.bytesFetched += n
	c.mu.Unlock()
}

// AddDecompressed records n bytes of decoded text.
func (c *Collector) AddDecompressed(n int64) {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.bytesDecompressed += n
	c.mu.Unlock()
}

// AddRecordsParsed records n emitted records.
func (c *Collector) AddRecordsParsed(n int64) {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.recordsParsed += n
	c.mu.Unlock()
}

// --- Filtering ---

// IncKept records a kept record.
func (c *Collector) IncKept() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.recordsKept++
	c.mu.Unlock()
}

// IncSkipped records a skipped record by reason.
func (c *Collector) IncSkipped(reason string) {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.recordsSkipped++
	c.skippedByReason[reason]++
	c.mu.Unlock()
}

// IncRatingsSampled records one sampled rating pair.
func (c *Collector) IncRatingsSampled() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.ratingsSampled++
	c.mu.Unlock()
}

// IncWarning records a recoverable per-record warning.
func (c *Collector) IncWarning() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.warnings++
	c.mu.Unlock()
}

// --- Lode / Storage ---
// Lode counters are per-call, not per-record. A single WriteGames call
// with N games counts as 1 success.

// IncLodeWriteSuccess records a successful Lode write operation (per-call).
func (c *Collector) IncLodeWriteSuccess() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.lodeWriteSuccess++
	c.mu.Unlock()
}

// IncLodeWriteFailure records a failed Lode write operation (per-call).
func (c *Collector) IncLodeWriteFailure() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.lodeWriteFailure++
	c.mu.Unlock()
}

// --- Persistence (absorbed from policy.Stats) ---

// AbsorbPolicyStats copies persistence counters from policy.Stats.
// Called once after run completion with the final policy stats snapshot.
func (c *Collector) AbsorbPolicyStats(received, persisted, dropped int64) {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.rowsReceived = received
	c.rowsPersisted = persisted
	c.rowsDropped = dropped
	c.mu.Unlock()
}

// --- Snapshot ---

// Snapshot returns an immutable point-in-time view of all metrics.
func (c *Collector) Snapshot() Snapshot {
	if c == nil {
		return Snapshot{}
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	skipped := make(map[string]int64, len(c.skippedByReason))
	for k, v := range c.skippedByReason {
		skipped[k] = v
	}

	return Snapshot{
		RunsStarted:   c.runsStarted,
		RunsCompleted: c.runsCompleted,
		RunsFailed:    c.runsFailed,
		RunsCanceled:  c.runsCanceled,

		ChunksFetched:     c.chunksFetched,
		BytesFetched:      c.bytesFetched,
		BytesDecompressed: c.bytesDecompressed,
		RecordsParsed:     c.recordsParsed,

		RecordsKept:     c.recordsKept,
		RecordsSkipped:  c.recordsSkipped,
		SkippedByReason: skipped,
		RatingsSampled:  c.ratingsSampled,
		Warnings:        c.warnings,

		RowsReceived:  c.rowsReceived,
		RowsPersisted: c.rowsPersisted,
		RowsDropped:   c.rowsDropped,

		LodeWriteSuccess: c.lodeWriteSuccess,
		LodeWriteFailure: c.lodeWriteFailure,

		Policy:         c.policy,
		StorageBackend: c.storageBackend,
		RunID:          c.runID,
		Archive:        c.archive,
	}
}
