package lode

import (
	"time"

	"github.com/justapithecus/pgnstream/metrics"
	"github.com/justapithecus/pgnstream/types"
)

// RecordKind discriminator values. The record_kind field doubles as the
// last Hive partition key.
const (
	RecordKindGame         = string(types.RecordKindGame)
	RecordKindRatingSample = string(types.RecordKindRatingSample)
	RecordKindMetrics      = string(types.RecordKindMetrics)
)

// partitionKeys is the Hive layout shared by the write and read paths.
var partitionKeys = []string{"source", "variant", "month", "run_id", "record_kind"}

// Lode HiveLayout requires records as map[string]any.
func partitionFields(cfg Config, kind string) map[string]any {
	return map[string]any{
		"record_kind": kind,
		"source":      cfg.Source,
		"variant":     cfg.Variant,
		"month":       cfg.Month,
		"run_id":      cfg.RunID,
		"policy":      cfg.Policy,
	}
}

// toGameRecordMap converts a GameSummary to a map for storage.
func toGameRecordMap(g *types.GameSummary, cfg Config) map[string]any {
	m := partitionFields(cfg, RecordKindGame)
	m["archive"] = g.Archive
	m["offset"] = g.Offset
	m["event"] = g.Event
	m["white_rating"] = int64(g.WhiteRating)
	m["black_rating"] = int64(g.BlackRating)
	m["result"] = string(g.Result)
	m["category"] = string(g.Category)
	m["transcript_offset"] = g.TranscriptOffset
	m["transcript_bytes"] = int64(g.TranscriptBytes)
	if g.Site != "" {
		m["site"] = g.Site
	}
	if g.White != "" {
		m["white"] = g.White
	}
	if g.Black != "" {
		m["black"] = g.Black
	}
	if g.TimeControl != "" {
		m["time_control"] = g.TimeControl
	}
	return m
}

// toSampleRecordMap converts a RatingSample to a map for storage.
func toSampleRecordMap(s *types.RatingSample, cfg Config) map[string]any {
	m := partitionFields(cfg, RecordKindRatingSample)
	m["archive"] = s.Archive
	m["offset"] = s.Offset
	m["white_rating"] = int64(s.WhiteRating)
	m["black_rating"] = int64(s.BlackRating)
	return m
}

// toMetricsRecordMap converts a metrics snapshot to a map for storage.
func toMetricsRecordMap(snap metrics.Snapshot, cfg Config, completedAt time.Time) map[string]any {
	m := partitionFields(cfg, RecordKindMetrics)
	m["ts"] = completedAt.UTC().Format(time.RFC3339)
	m["archive"] = snap.Archive
	m["storage_backend"] = snap.StorageBackend

	m["runs_started_total"] = snap.RunsStarted
	m["runs_completed_total"] = snap.RunsCompleted
	m["runs_failed_total"] = snap.RunsFailed
	m["runs_canceled_total"] = snap.RunsCanceled

	m["chunks_fetched_total"] = snap.ChunksFetched
	m["bytes_fetched_total"] = snap.BytesFetched
	m["bytes_decompressed_total"] = snap.BytesDecompressed
	m["records_parsed_total"] = snap.RecordsParsed

	m["records_kept_total"] = snap.RecordsKept
	m["records_skipped_total"] = snap.RecordsSkipped
	m["skipped_by_reason"] = snap.SkippedByReason
	m["ratings_sampled_total"] = snap.RatingsSampled
	m["warnings_total"] = snap.Warnings

	m["rows_received_total"] = snap.RowsReceived
	m["rows_persisted_total"] = snap.RowsPersisted
	m["rows_dropped_total"] = snap.RowsDropped

	m["lode_write_success_total"] = snap.LodeWriteSuccess
	m["lode_write_failure_total"] = snap.LodeWriteFailure
	return m
}
