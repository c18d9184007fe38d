package runtime

import (
	"context"
	"errors"
	"fmt"
)

// Stage identifies the pipeline stage that produced an error.
type Stage string

const (
	// StageResolve is the metadata probe.
	StageResolve Stage = "resolve"
	// StageFetch is chunk retrieval.
	StageFetch Stage = "fetch"
	// StageDecompress is zstd decoding and UTF-8 validation.
	StageDecompress Stage = "decompress"
	// StageParse is record boundary detection.
	StageParse Stage = "parse"
	// StageSink is the transcript, ratings or persistence write path.
	StageSink Stage = "sink"
	// StageCanceled marks a run stopped by its context.
	StageCanceled Stage = "canceled"
)

// PipelineError classifies a run failure by stage for outcome determination.
type PipelineError struct {
	Stage Stage
	// Offset is the compressed byte offset of the chunk being processed,
	// -1 when no chunk was involved.
	Offset int64
	Err    error
}

func (e *PipelineError) Error() string {
	if e.Offset >= 0 {
		return fmt.Sprintf("%s at offset %d: %v", e.Stage, e.Offset, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Stage, e.Err)
}

func (e *PipelineError) Unwrap() error {
	return e.Err
}

// StageOf returns the stage of a pipeline error, "" for anything else.
func StageOf(err error) Stage {
	var pe *PipelineError
	if errors.As(err, &pe) {
		return pe.Stage
	}
	return ""
}

// IsCanceledError reports whether err is a pipeline cancellation.
func IsCanceledError(err error) bool {
	return StageOf(err) == StageCanceled
}

// IsSinkError reports whether err came from an output sink or the policy.
func IsSinkError(err error) bool {
	return StageOf(err) == StageSink
}

// stageError wraps err for stage. Failures observed after ctx is done are
// reported as cancellation; per-request timeouts keep their stage.
func stageError(ctx context.Context, stage Stage, offset int64, err error) *PipelineError {
	if ctx.Err() != nil && (errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) || stage == StageFetch) {
		stage = StageCanceled
	}
	return &PipelineError{Stage: stage, Offset: offset, Err: err}
}
