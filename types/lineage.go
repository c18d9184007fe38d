// Package types defines the core domain types shared by the pgnstream
// pipeline stages, sinks and CLI.
//
//nolint:revive // types is a common Go package naming convention
package types

import (
	"errors"
	"fmt"
)

// ErrInvalidLineage wraps every RunMeta validation failure.
var ErrInvalidLineage = errors.New("invalid run lineage")

// RunMeta identifies one archive run. A retry of a failed run carries a
// new RunID, the failed run's ID as parent, and the next attempt number.
type RunMeta struct {
	RunID       string
	ParentRunID *string
	Attempt     int
}

// Parent returns the parent run ID, or "" for an initial run.
func (r *RunMeta) Parent() string {
	if r.ParentRunID == nil {
		return ""
	}
	return *r.ParentRunID
}

// Validate requires a run ID and attempt >= 1, with a parent exactly
// when attempt > 1.
func (r *RunMeta) Validate() error {
	switch {
	case r.RunID == "":
		return fmt.Errorf("%w: run_id must be non-empty", ErrInvalidLineage)
	case r.Attempt < 1:
		return fmt.Errorf("%w: attempt must be >= 1, got %d", ErrInvalidLineage, r.Attempt)
	case r.Attempt == 1 && r.ParentRunID != nil:
		return fmt.Errorf("%w: initial run (attempt=1) must not have parent_run_id", ErrInvalidLineage)
	case r.Attempt > 1 && r.ParentRunID == nil:
		return fmt.Errorf("%w: retry run (attempt=%d) must have parent_run_id", ErrInvalidLineage, r.Attempt)
	case r.ParentRunID != nil && *r.ParentRunID == r.RunID:
		return fmt.Errorf("%w: run %s cannot be its own parent", ErrInvalidLineage, r.RunID)
	}
	return nil
}

// OutcomeStatus represents the final status of an archive run.
type OutcomeStatus string

const (
	// OutcomeSuccess indicates every chunk was fetched, decoded and parsed.
	OutcomeSuccess OutcomeStatus = "success"
	// OutcomeResolveError indicates the metadata probe failed before any byte was fetched.
	OutcomeResolveError OutcomeStatus = "resolve_error"
	// OutcomeTransferError indicates a range request failed or was short.
	OutcomeTransferError OutcomeStatus = "transfer_error"
	// OutcomeDecodeError indicates decompression, text decoding or record parsing failed.
	OutcomeDecodeError OutcomeStatus = "decode_error"
	// OutcomeSinkFailure indicates an output sink or persistence policy failed.
	OutcomeSinkFailure OutcomeStatus = "sink_failure"
	// OutcomeCanceled indicates the run was canceled between chunks.
	OutcomeCanceled OutcomeStatus = "canceled"
)

// RunOutcome represents the final outcome of a run.
type RunOutcome struct {
	// Status is the outcome classification.
	Status OutcomeStatus
	// Message is a human-readable description.
	Message string
	// Stage names the pipeline stage that failed. Empty on success.
	Stage string
}
