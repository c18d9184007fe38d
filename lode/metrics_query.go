package lode

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/justapithecus/lode/lode"
)

// ErrNoMetricsFound is returned when no matching metrics record exists.
var ErrNoMetricsFound = errors.New("no metrics records found")

// MetricsFilter narrows QueryLatestMetrics. Empty fields match everything.
type MetricsFilter struct {
	RunID   string
	Variant string
	Month   string
}

// QueryLatestMetrics finds the most recent metrics record matching filter.
func QueryLatestMetrics(ctx context.Context, ds lode.Dataset, filter MetricsFilter) (map[string]any, error) {
	snapshots, err := ds.Snapshots(ctx)
	if err != nil {
		return nil, WrapReadError(err, string(ds.ID())+"/snapshots")
	}

	// Snapshots are ordered by creation time; walk latest first.
	for i := len(snapshots) - 1; i >= 0; i-- {
		snap := snapshots[i]

		if !snapshotMatches(snap, filter) {
			continue
		}

		data, err := ds.Read(ctx, snap.ID)
		if err != nil {
			return nil, WrapReadError(err, fmt.Sprintf("%s/snapshot/%s", ds.ID(), snap.ID))
		}

		// Manifest paths are a coarse pre-filter; record fields are authoritative.
		for _, item := range data {
			record, ok := item.(map[string]any)
			if !ok || record["record_kind"] != RecordKindMetrics {
				continue
			}
			if !fieldMatches(record, "run_id", filter.RunID) ||
				!fieldMatches(record, "variant", filter.Variant) ||
				!fieldMatches(record, "month", filter.Month) {
				continue
			}
			return record, nil
		}
	}

	return nil, ErrNoMetricsFound
}

// CompletedRunExists reports whether the most recent run recorded for
// variant/month completed successfully.
func CompletedRunExists(ctx context.Context, ds lode.Dataset, variant, month string) (bool, error) {
	record, err := QueryLatestMetrics(ctx, ds, MetricsFilter{Variant: variant, Month: month})
	if errors.Is(err, ErrNoMetricsFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return toInt64(record["runs_completed_total"]) > 0, nil
}

// snapshotMatches checks the manifest's Hive paths: each non-empty filter
// field must appear as a key=value segment of some file in the snapshot.
func snapshotMatches(snap *lode.DatasetSnapshot, filter MetricsFilter) bool {
	want := map[string]string{
		"record_kind": RecordKindMetrics,
		"run_id":      filter.RunID,
		"variant":     filter.Variant,
		"month":       filter.Month,
	}
	for key, value := range want {
		if value == "" {
			continue
		}
		found := false
		for _, f := range snap.Manifest.Files {
			if matchesPartitionValue(f.Path, key, value) {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

// matchesPartitionValue requires an exact segment, so run_id=run-1 does not
// match run_id=run-10.
func matchesPartitionValue(path, key, value string) bool {
	segment := key + "=" + value
	for _, part := range strings.Split(path, "/") {
		if part == segment {
			return true
		}
	}
	return false
}

func fieldMatches(record map[string]any, key, want string) bool {
	return want == "" || toString(record[key]) == want
}

func toString(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	return ""
}

// toInt64 normalizes numeric fields decoded from JSONL.
func toInt64(v any) int64 {
	switch n := v.(type) {
	case int64:
		return n
	case float64:
		return int64(n)
	case int:
		return int64(n)
	default:
		return 0
	}
}
