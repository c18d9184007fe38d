package runtime

import (
	"github.com/justapithecus/pgnstream/types"
)

// Process exit codes.
const (
	ExitCodeSuccess   = 0
	ExitCodeResolve   = 1
	ExitCodeTransfer  = 2
	ExitCodeDecode    = 3
	ExitCodeSink      = 4
	ExitCodeUsage     = 64
	ExitCodeCancelled = 130
)

// DetermineOutcome maps a pipeline error to a run outcome. A nil error is success.
//
// Stage mapping:
//   - resolve: resolve_error
//   - fetch: transfer_error
//   - decompress, parse: decode_error
//   - sink: sink_failure
//   - canceled: canceled
func DetermineOutcome(err error) *types.RunOutcome {
	if err == nil {
		return &types.RunOutcome{
			Status:  types.OutcomeSuccess,
			Message: "run completed successfully",
		}
	}

	stage := StageOf(err)
	outcome := &types.RunOutcome{Message: err.Error(), Stage: string(stage)}
	switch stage {
	case StageResolve:
		outcome.Status = types.OutcomeResolveError
	case StageFetch:
		outcome.Status = types.OutcomeTransferError
	case StageDecompress, StageParse:
		outcome.Status = types.OutcomeDecodeError
	case StageCanceled:
		outcome.Status = types.OutcomeCanceled
	default:
		outcome.Status = types.OutcomeSinkFailure
	}
	return outcome
}

// ExitCode returns the process exit code for an outcome status.
func ExitCode(status types.OutcomeStatus) int {
	switch status {
	case types.OutcomeSuccess:
		return ExitCodeSuccess
	case types.OutcomeResolveError:
		return ExitCodeResolve
	case types.OutcomeTransferError:
		return ExitCodeTransfer
	case types.OutcomeDecodeError:
		return ExitCodeDecode
	case types.OutcomeCanceled:
		return ExitCodeCancelled
	default:
		return ExitCodeSink
	}
}
