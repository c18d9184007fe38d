// Package policy controls how kept games and rating samples are persisted.
//
// Two row kinds flow through a policy:
//   - games: kept game summaries, never dropped
//   - samples: rating pairs, droppable when a bounded buffer is full
//
// A policy failure terminates the run.
package policy

import (
	"context"
	"sync"

	"github.com/justapithecus/pgnstream/types"
)

// Policy defines the persistence policy interface.
type Policy interface {
	// IngestGame handles a kept game. Games are never dropped; an error
	// terminates the run.
	IngestGame(ctx context.Context, game *types.GameSummary) error

	// IngestSample handles a sampled rating pair. Policies may drop samples.
	IngestSample(ctx context.Context, sample *types.RatingSample) error

	// Flush writes any buffered rows. Called when the archive is exhausted
	// and on run termination.
	Flush(ctx context.Context) error

	// Close releases policy resources.
	Close() error

	// Stats returns a consistent snapshot of policy counters.
	Stats() Stats
}

// Stats represents policy observability metrics.
type Stats struct {
	// TotalGames is the number of games received.
	TotalGames int64
	// GamesPersisted is the number of games written to the sink.
	GamesPersisted int64
	// TotalSamples is the number of samples received.
	TotalSamples int64
	// SamplesPersisted is the number of samples written to the sink.
	SamplesPersisted int64
	// SamplesDropped is the number of samples dropped.
	SamplesDropped int64
	// DroppedByReason maps drop reasons to counts.
	DroppedByReason map[string]int64
	// BufferSize is the current buffer size in bytes (if buffered).
	BufferSize int64
	// FlushCount is the number of flush operations.
	FlushCount int64
	// Errors is the count of sink errors encountered.
	Errors int64
}

// Received returns the total number of rows received.
func (s Stats) Received() int64 { return s.TotalGames + s.TotalSamples }

// Persisted returns the total number of rows persisted.
func (s Stats) Persisted() int64 { return s.GamesPersisted + s.SamplesPersisted }

// Drop reasons.
const (
	DropBufferFull = "buffer_full"
	DropEvicted    = "evicted_for_game"
	DropDisabled   = "persistence_disabled"
)

// statsRecorder is an internal helper for stats management.
// Policies call explicit methods to record mutations.
//
// Lock discipline:
//   - StrictPolicy uses the locking methods
//   - BufferedPolicy and StreamingPolicy use the Locked methods only while
//     holding their own mu, keeping buffer state and counters atomic
type statsRecorder struct {
	mu    sync.Mutex
	stats Stats
}

func newStatsRecorder() *statsRecorder {
	return &statsRecorder{
		stats: Stats{DroppedByReason: make(map[string]int64)},
	}
}

func (r *statsRecorder) incTotalGames() {
	r.mu.Lock()
	r.stats.TotalGames++
	r.mu.Unlock()
}

func (r *statsRecorder) incGamesPersisted(n int64) {
	r.mu.Lock()
	r.stats.GamesPersisted += n
	r.mu.Unlock()
}

func (r *statsRecorder) incTotalSamples() {
	r.mu.Lock()
	r.stats.TotalSamples++
	r.mu.Unlock()
}

func (r *statsRecorder) incSamplesPersisted(n int64) {
	r.mu.Lock()
	r.stats.SamplesPersisted += n
	r.mu.Unlock()
}

func (r *statsRecorder) incSamplesDropped(reason string) {
	r.mu.Lock()
	r.stats.SamplesDropped++
	r.stats.DroppedByReason[reason]++
	r.mu.Unlock()
}

func (r *statsRecorder) incErrors() {
	r.mu.Lock()
	r.stats.Errors++
	r.mu.Unlock()
}

func (r *statsRecorder) incFlush() {
	r.mu.Lock()
	r.stats.FlushCount++
	r.mu.Unlock()
}

func (r *statsRecorder) snapshot() Stats {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.snapshotLocked(r.stats.BufferSize)
}

// --- Locked methods ---
// Caller must hold the owning policy's mu.

func (r *statsRecorder) incTotalGamesLocked() { r.stats.TotalGames++ }

func (r *statsRecorder) incGamesPersistedLocked(n int64) { r.stats.GamesPersisted += n }

func (r *statsRecorder) incTotalSamplesLocked() { r.stats.TotalSamples++ }

func (r *statsRecorder) incSamplesPersistedLocked(n int64) { r.stats.SamplesPersisted += n }

func (r *statsRecorder) incSamplesDroppedLocked(reason string) {
	r.stats.SamplesDropped++
	r.stats.DroppedByReason[reason]++
}

func (r *statsRecorder) incErrorsLocked() { r.stats.Errors++ }

func (r *statsRecorder) incFlushLocked() { r.stats.FlushCount++ }

func (r *statsRecorder) setBufferSizeLocked(bytes int64) { r.stats.BufferSize = bytes }

// snapshotLocked returns a copy of stats with the given bufferSize.
func (r *statsRecorder) snapshotLocked(bufferSize int64) Stats {
	s := r.stats
	s.BufferSize = bufferSize
	s.DroppedByReason = make(map[string]int64, len(r.stats.DroppedByReason))
	for k, v := range r.stats.DroppedByReason {
		s.DroppedByReason[k] = v
	}
	return s
}
