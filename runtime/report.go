package runtime

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/justapithecus/pgnstream/metrics"
	"github.com/justapithecus/pgnstream/types"
)

// RunReport is the structured JSON report written by --report.
type RunReport struct {
	RunID       string              `json:"run_id"`
	ParentRunID string              `json:"parent_run_id,omitempty"`
	Attempt     int                 `json:"attempt"`
	Archive     string              `json:"archive,omitempty"`
	URL         string              `json:"url,omitempty"`
	Outcome     types.OutcomeStatus `json:"outcome"`
	Stage       string              `json:"stage,omitempty"`
	Message     string              `json:"message"`
	ExitCode    int                 `json:"exit_code"`
	DurationMs  int64               `json:"duration_ms"`

	Resource *ReportResource  `json:"resource,omitempty"`
	Pipeline *ReportPipeline  `json:"pipeline"`
	Policy   *ReportPolicy    `json:"policy"`
	Metrics  *metrics.Snapshot `json:"metrics"`
}

// ReportResource holds the probed archive descriptor.
type ReportResource struct {
	Size         int64  `json:"size"`
	ContentType  string `json:"content_type,omitempty"`
	LastModified string `json:"last_modified,omitempty"`
	Ranged       bool   `json:"ranged"`
}

// ReportPipeline holds stage counters.
type ReportPipeline struct {
	Chunks            int64            `json:"chunks"`
	BytesIn           int64            `json:"bytes_in"`
	BytesDecompressed int64            `json:"bytes_decompressed"`
	Frames            int64            `json:"frames"`
	Records           int64            `json:"records"`
	MalformedTags     int64            `json:"malformed_tags"`
	Kept              int64            `json:"kept"`
	Skipped           int64            `json:"skipped"`
	Sampled           int64            `json:"sampled"`
	Warnings          int64            `json:"warnings"`
	SkippedByReason   map[string]int64 `json:"skipped_by_reason,omitempty"`
}

// ReportPolicy holds policy stats in the report.
type ReportPolicy struct {
	Name           string           `json:"name"`
	RowsReceived   int64            `json:"rows_received"`
	RowsPersisted  int64            `json:"rows_persisted"`
	SamplesDropped int64            `json:"samples_dropped"`
	DroppedBy      map[string]int64 `json:"dropped_by_reason,omitempty"`
	FlushCount     int64            `json:"flush_count"`
}

// BuildRunReport composes a RunReport from a RunResult and metrics snapshot.
// The exitCode is the process exit code that will be returned to the caller.
func BuildRunReport(result *RunResult, snap metrics.Snapshot, policyName string, exitCode int) *RunReport {
	ps := result.PolicyStats
	report := &RunReport{
		RunID:       result.RunMeta.RunID,
		ParentRunID: result.RunMeta.Parent(),
		Attempt:     result.RunMeta.Attempt,
		Archive:     snap.Archive,
		Outcome:     result.Outcome.Status,
		Stage:       result.Outcome.Stage,
		Message:     result.Outcome.Message,
		ExitCode:    exitCode,
		DurationMs:  result.Duration.Milliseconds(),
		Pipeline: &ReportPipeline{
			Chunks:            result.Chunks,
			BytesIn:           result.Decompress.BytesIn,
			BytesDecompressed: result.Decompress.BytesOut,
			Frames:            result.Decompress.Frames,
			Records:           result.Parse.Records,
			MalformedTags:     result.Parse.MalformedTags,
			Kept:              result.Filter.Kept,
			Skipped:           result.Filter.Skipped,
			Sampled:           result.Filter.Sampled,
			Warnings:          result.Filter.Warnings,
		},
		Policy: &ReportPolicy{
			Name:           policyName,
			RowsReceived:   ps.Received(),
			RowsPersisted:  ps.Persisted(),
			SamplesDropped: ps.SamplesDropped,
			DroppedBy:      ps.DroppedByReason,
			FlushCount:     ps.FlushCount,
		},
		Metrics: &snap,
	}

	if len(result.Filter.ByReason) > 0 {
		report.Pipeline.SkippedByReason = make(map[string]int64, len(result.Filter.ByReason))
		for k, v := range result.Filter.ByReason {
			report.Pipeline.SkippedByReason[string(k)] = v
		}
	}
	if res := result.Resource; res != nil {
		report.URL = res.URL
		report.Resource = &ReportResource{
			Size:         res.ExpectedSize,
			ContentType:  res.ContentType,
			LastModified: res.LastModified,
			Ranged:       result.Ranged,
		}
	}

	return report
}

// WriteRunReport writes the report as JSON to the specified path.
// If path is "-", writes to stderr.
func WriteRunReport(report *RunReport, path string) error {
	if path == "" {
		return errors.New("report path must not be empty")
	}

	if path == "-" {
		if err := writeRunReportTo(report, os.Stderr); err != nil {
			return fmt.Errorf("failed to write report to stderr: %w", err)
		}
		return nil
	}

	data, err := marshalReport(report)
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write report to %s: %w", path, err)
	}
	return nil
}

// writeRunReportTo writes report JSON to any writer.
func writeRunReportTo(report *RunReport, w io.Writer) error {
	data, err := marshalReport(report)
	if err != nil {
		return err
	}
	_, err = w.Write(data)
	return err
}

func marshalReport(report *RunReport) ([]byte, error) {
	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal report: %w", err)
	}
	return append(data, '\n'), nil
}
