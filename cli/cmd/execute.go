package cmd

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net/http"
	"os"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/justapithecus/pgnstream/cli/tui"
	"github.com/justapithecus/pgnstream/fetch"
	"github.com/justapithecus/pgnstream/iox"
	"github.com/justapithecus/pgnstream/lode"
	"github.com/justapithecus/pgnstream/log"
	"github.com/justapithecus/pgnstream/metrics"
	"github.com/justapithecus/pgnstream/runtime"
	"github.com/justapithecus/pgnstream/types"
)

// finalizeTimeout bounds post-run storage writes and notifications. They
// run detached from the caller's context so a canceled run still records
// its metrics.
const finalizeTimeout = 30 * time.Second

// Sidecar content types.
const (
	contentTypePGN     = "application/x-chess-pgn"
	contentTypeRatings = "text/plain; charset=utf-8"
)

// skippedRun is rendered when --skip-existing short-circuits a run.
type skippedRun struct {
	RunID   string `json:"run_id"`
	Archive string `json:"archive"`
	Skipped bool   `json:"skipped"`
	Reason  string `json:"reason"`
}

// runOutput is the result of executePlan.
type runOutput struct {
	report   *runtime.RunReport
	skipped  *skippedRun
	exitCode int
}

// executePlan performs one run. The returned error is reserved for setup
// failures; pipeline failures come back as an exit code on runOutput.
func executePlan(ctx context.Context, plan *runPlan) (*runOutput, error) {
	logger, closeLog, err := openRunLogger(plan)
	if err != nil {
		return nil, usageError("%v", err)
	}
	defer closeLog()

	if plan.outputs.skipExisting {
		reason, err := existingOutput(ctx, plan)
		if err != nil {
			logger.Warn("skip-existing check failed, running anyway", map[string]any{"error": err.Error()})
		}
		if reason != "" {
			logger.Info("skipping run", map[string]any{"reason": reason})
			return &runOutput{
				report:  &runtime.RunReport{RunID: plan.runMeta.RunID, Outcome: types.OutcomeSuccess, Message: reason},
				skipped: &skippedRun{RunID: plan.runMeta.RunID, Archive: plan.archive.label, Skipped: true, Reason: reason},
			}, nil
		}
	}

	collector := metrics.NewCollector(plan.policy.name, plan.storage.backend, plan.runMeta.RunID, plan.archive.label)

	var client *lode.LodeClient
	if plan.storage.enabled() {
		client, err = buildLodeClient(ctx, plan)
		if err != nil {
			return nil, cli.Exit(fmt.Sprintf("storage init failed: %v", err), runtime.ExitCodeSink)
		}
	}

	pol, err := buildPolicy(plan.policy, plan.storage, client, collector, logger)
	if err != nil {
		return nil, cli.Exit(fmt.Sprintf("failed to create policy: %v", err), runtime.ExitCodeSink)
	}
	defer func() {
		if err := pol.Close(); err != nil {
			logger.Warn("policy close failed", map[string]any{"error": err.Error()})
		}
	}()

	outs, err := openOutputs(plan)
	if err != nil {
		return nil, cli.Exit(err.Error(), runtime.ExitCodeSink)
	}

	rc := &runtime.RunConfig{
		RunMeta:        plan.runMeta,
		URL:            plan.archive.url,
		Archive:        plan.archive.label,
		Client:         buildDoer(plan.fetch, logger),
		ProbeTimeout:   plan.fetch.probeTimeout,
		ChunkSize:      plan.fetch.chunkSize,
		RequestTimeout: plan.fetch.requestTimeout,
		Prefetch:       plan.fetch.prefetch,
		MaxRecordBytes: plan.maxRecordBytes,
		Filter:         plan.filter,
		Transcripts:    outs.transcripts,
		Policy:         pol,
		Collector:      collector,
		Logger:         logger,
	}
	if outs.ratings != nil {
		rc.Ratings = outs.ratings
	}

	var forward types.ProgressFunc
	rc.Progress = func(p types.Progress) {
		if forward != nil {
			forward(p)
		}
	}

	orchestrator, err := runtime.NewRunOrchestrator(rc)
	if err != nil {
		outs.close()
		outs.remove()
		return nil, usageError("failed to create orchestrator: %v", err)
	}

	var result *runtime.RunResult
	execute := func(ctx context.Context, progress types.ProgressFunc) *types.RunOutcome {
		forward = progress
		result, err = orchestrator.Execute(ctx)
		if err != nil {
			return &types.RunOutcome{Status: types.OutcomeSinkFailure, Message: err.Error()}
		}
		return result.Outcome
	}
	if plan.tui {
		if tuiErr := tui.Run(ctx, plan.archive.label, execute); tuiErr != nil {
			logger.Warn("progress view failed", map[string]any{"error": tuiErr.Error()})
		}
	} else {
		execute(ctx, nil)
	}
	if err != nil {
		outs.close()
		return nil, fmt.Errorf("execution failed: %w", err)
	}

	if closeErr := outs.close(); closeErr != nil && result.Outcome.Status == types.OutcomeSuccess {
		result.Outcome = &types.RunOutcome{
			Status:  types.OutcomeSinkFailure,
			Message: closeErr.Error(),
			Stage:   string(runtime.StageSink),
		}
	}

	success := result.Outcome.Status == types.OutcomeSuccess
	if !success && plan.outputs.discardPartial {
		outs.remove()
		logger.Info("removed partial output", map[string]any{"paths": outs.paths()})
	}

	exitCode := runtime.ExitCode(result.Outcome.Status)
	snap := collector.Snapshot()
	report := runtime.BuildRunReport(result, snap, plan.policy.name, exitCode)

	finalizeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), finalizeTimeout)
	defer cancel()

	if client != nil {
		if err := client.WriteMetrics(finalizeCtx, snap, time.Now()); err != nil {
			logger.Warn("failed to persist metrics", map[string]any{"error": err.Error()})
		}
		if success {
			uploadOutputs(finalizeCtx, client, outs, logger)
		}
	}

	if plan.reportPath != "" {
		if err := runtime.WriteRunReport(report, plan.reportPath); err != nil {
			logger.Warn("failed to write report", map[string]any{"error": err.Error()})
		}
	}

	if plan.adapter != nil {
		event := buildRunCompletedEvent(result, plan, outs.outputMap(success))
		if err := publishEvent(finalizeCtx, plan.adapter, event); err != nil {
			logger.Warn("adapter publish failed", map[string]any{
				"adapter": plan.adapter.adapterType,
				"error":   err.Error(),
			})
		}
	}

	return &runOutput{report: report, exitCode: exitCode}, nil
}

// openRunLogger logs to --log-file when set. The progress view owns the
// terminal, so with --tui and no log file, logs are discarded.
func openRunLogger(plan *runPlan) (*log.Logger, func(), error) {
	if plan.logFile != "" {
		f, err := os.OpenFile(plan.logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, nil, fmt.Errorf("open log file: %w", err)
		}
		return log.New(plan.runMeta, f, plan.logLevel), iox.CloseFunc(f), nil
	}
	if plan.tui {
		return log.NewNop(), func() {}, nil
	}
	return log.New(plan.runMeta, os.Stderr, plan.logLevel), func() {}, nil
}

// existingOutput returns a reason when the run can be skipped: the
// transcript file is already non-empty, or storage records a completed run
// for the same archive.
func existingOutput(ctx context.Context, plan *runPlan) (string, error) {
	if info, err := os.Stat(plan.outputs.transcripts); err == nil && info.Size() > 0 {
		return fmt.Sprintf("output %s already exists", plan.outputs.transcripts), nil
	}
	if !plan.storage.enabled() || plan.archive.ref == nil {
		return "", nil
	}
	if plan.storage.backend == lode.BackendFS {
		if _, err := os.Stat(plan.storage.path); errors.Is(err, fs.ErrNotExist) {
			return "", nil
		}
	}
	ds, err := buildReadDataset(ctx, plan.storage)
	if err != nil {
		return "", err
	}
	ref := plan.archive.ref
	done, err := lode.CompletedRunExists(ctx, ds, ref.Variant, ref.Key())
	if err != nil {
		return "", err
	}
	if done {
		return fmt.Sprintf("storage already holds a completed run for %s", ref), nil
	}
	return "", nil
}

// buildDoer returns the HTTP client for archive requests, wrapped with
// retry when retries > 0. Per-request timeouts come from the fetcher.
func buildDoer(f fetchChoice, logger *log.Logger) fetch.Doer {
	client := &http.Client{}
	if f.retries == 0 {
		return client
	}
	return fetch.NewRetryDoer(client, f.retries,
		fetch.WithRetryInterval(f.retryInterval, 0),
		fetch.WithRetryLogger(logger),
	)
}

// runOutputs holds the open output files of a run.
type runOutputs struct {
	transcripts *iox.FileAppender
	ratings     *iox.FileAppender
	closed      bool
}

// openOutputs truncates and opens the output files. The ratings file is
// only created when sampling is enabled.
func openOutputs(plan *runPlan) (*runOutputs, error) {
	transcripts, err := iox.OpenFileAppender(plan.outputs.transcripts, true)
	if err != nil {
		return nil, fmt.Errorf("open transcript output: %w", err)
	}
	outs := &runOutputs{transcripts: transcripts}
	if plan.filter.SampleRatings {
		ratings, err := iox.OpenFileAppender(plan.outputs.ratings, true)
		if err != nil {
			iox.DiscardClose(transcripts)
			return nil, fmt.Errorf("open ratings output: %w", err)
		}
		outs.ratings = ratings
	}
	return outs, nil
}

// close flushes and closes both files. Safe to call twice.
func (o *runOutputs) close() error {
	if o.closed {
		return nil
	}
	o.closed = true
	var errs []error
	if err := o.transcripts.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close %s: %w", o.transcripts.Path(), err))
	}
	if o.ratings != nil {
		if err := o.ratings.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close %s: %w", o.ratings.Path(), err))
		}
	}
	return errors.Join(errs...)
}

func (o *runOutputs) paths() []string {
	p := []string{o.transcripts.Path()}
	if o.ratings != nil {
		p = append(p, o.ratings.Path())
	}
	return p
}

func (o *runOutputs) remove() {
	for _, p := range o.paths() {
		_ = os.Remove(p)
	}
}

// outputMap names the outputs for notifications. Empty unless the run succeeded.
func (o *runOutputs) outputMap(success bool) map[string]string {
	if !success {
		return nil
	}
	m := map[string]string{"transcripts": o.transcripts.Path()}
	if o.ratings != nil {
		m["ratings"] = o.ratings.Path()
	}
	return m
}

func uploadOutputs(ctx context.Context, w lode.FileWriter, outs *runOutputs, logger *log.Logger) {
	uploads := map[string]string{outs.transcripts.Path(): contentTypePGN}
	if outs.ratings != nil {
		uploads[outs.ratings.Path()] = contentTypeRatings
	}
	for p, contentType := range uploads {
		if err := lode.UploadFile(ctx, w, p, contentType); err != nil {
			logger.Warn("sidecar upload failed", map[string]any{"path": p, "error": err.Error()})
			continue
		}
		logger.Info("uploaded sidecar", map[string]any{"path": p})
	}
}
