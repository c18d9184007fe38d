// Package runtime drives one archive run through the pipeline:
// resolve, fetch, decompress, parse, filter.
package runtime

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/justapithecus/pgnstream/decompress"
	"github.com/justapithecus/pgnstream/fetch"
	"github.com/justapithecus/pgnstream/filter"
	"github.com/justapithecus/pgnstream/iox"
	"github.com/justapithecus/pgnstream/log"
	"github.com/justapithecus/pgnstream/metrics"
	"github.com/justapithecus/pgnstream/pgn"
	"github.com/justapithecus/pgnstream/policy"
	"github.com/justapithecus/pgnstream/types"
)

// flushTimeout bounds the best-effort policy flush at run end.
const flushTimeout = 30 * time.Second

// RunConfig configures a single archive run.
type RunConfig struct {
	// RunMeta is the run identity and lineage metadata.
	RunMeta *types.RunMeta
	// URL is the archive locator.
	URL string
	// Archive labels persisted rows and log entries, e.g. "standard/2013-01".
	Archive string
	// Client executes HTTP requests. Nil uses http.DefaultClient.
	Client fetch.Doer
	// ProbeTimeout bounds the metadata probe. Zero uses fetch.DefaultProbeTimeout.
	ProbeTimeout time.Duration
	// ChunkSize is the range window. Zero uses fetch.DefaultChunkSize.
	ChunkSize int64
	// RequestTimeout bounds each range request. Zero uses the fetch default.
	RequestTimeout time.Duration
	// Prefetch overlaps the next range request with processing.
	Prefetch bool
	// MaxRecordBytes bounds unterminated parser input. Zero uses the pgn default.
	MaxRecordBytes int
	// Filter is the inclusion policy.
	Filter types.FilterPolicy
	// Transcripts receives kept transcripts. Required.
	Transcripts iox.Appender
	// Ratings receives sampled ratings. Nil discards them.
	Ratings io.Writer
	// Policy persists kept games and rating samples. Nil uses a NoopPolicy.
	Policy policy.Policy
	// Collector is the metrics collector for this run. Nil disables metrics.
	Collector *metrics.Collector
	// Logger overrides the run logger. Nil logs JSON to stderr.
	Logger *log.Logger
	// Progress receives updates after each chunk. Optional.
	Progress types.ProgressFunc
}

// RunResult represents the result of a run.
type RunResult struct {
	// RunMeta is the run identity and lineage.
	RunMeta *types.RunMeta
	// Outcome is the run outcome.
	Outcome *types.RunOutcome
	// Err is the classified failure, nil on success.
	Err error
	// Duration is the total run duration.
	Duration time.Duration
	// Resource is the probed descriptor, nil when the probe failed.
	Resource *types.Resource
	// Ranged is false when the run fell back to a plain streaming GET.
	Ranged bool
	// PolicyStats is the persistence policy statistics.
	PolicyStats policy.Stats
	// Filter is the filter sink statistics.
	Filter filter.Stats
	// Decompress and Parse are the stage counters.
	Decompress decompress.Stats
	Parse      pgn.Stats
	// Chunks is the number of chunks processed.
	Chunks int64
}

// RunOrchestrator orchestrates a single archive run.
type RunOrchestrator struct {
	config    *RunConfig
	logger    *log.Logger
	policy    policy.Policy
	startTime time.Time

	resource *types.Resource
	ranged   bool
	chunks   int64
	bytes    int64
	stream   *decompress.Stream
	parser   *pgn.Parser
	sink     *filter.Sink
}

// NewRunOrchestrator creates a new run orchestrator.
// Returns error if run metadata or the filter configuration is invalid.
func NewRunOrchestrator(config *RunConfig) (*RunOrchestrator, error) {
	if config.RunMeta == nil {
		return nil, errors.New("run metadata is required")
	}
	if err := config.RunMeta.Validate(); err != nil {
		return nil, fmt.Errorf("invalid run metadata: %w", err)
	}
	if config.URL == "" {
		return nil, errors.New("archive url is required")
	}

	logger := config.Logger
	if logger == nil {
		logger = log.NewLogger(config.RunMeta)
	}
	if config.Archive != "" {
		logger = logger.With(map[string]any{"archive": config.Archive})
	}

	pol := config.Policy
	if pol == nil {
		pol = policy.NewNoopPolicy()
	}

	sink, err := filter.NewSink(filter.SinkConfig{
		Policy:      config.Filter,
		Transcripts: config.Transcripts,
		Ratings:     config.Ratings,
		Persist:     pol,
		RunID:       config.RunMeta.RunID,
		Archive:     config.Archive,
		Logger:      logger,
		Metrics:     config.Collector,
	})
	if err != nil {
		return nil, err
	}

	return &RunOrchestrator{
		config: config,
		logger: logger,
		policy: pol,
		sink:   sink,
		stream: decompress.New(decompress.Options{}),
		parser: pgn.NewParser(pgn.Options{MaxRecordBytes: config.MaxRecordBytes}),
	}, nil
}

// Execute runs the archive end to end. Pipeline failures are reported
// through RunResult.Outcome; the returned error is reserved for misuse.
//
// Execution flow:
//  1. Probe metadata
//  2. Open a chunk source (ranged, or streaming when the size is unknown)
//  3. Per chunk: decompress, parse, filter, write
//  4. Flush decompressor then parser
//  5. Flush policy (best effort on failure paths)
//  6. Determine outcome
func (r *RunOrchestrator) Execute(ctx context.Context) (*RunResult, error) {
	if !r.startTime.IsZero() {
		return nil, errors.New("run already executed")
	}
	r.startTime = time.Now()
	r.config.Collector.IncRunStarted()
	defer func() { _ = r.stream.Close() }()

	r.logger.Info("starting run", map[string]any{
		"url":        r.config.URL,
		"chunk_size": r.chunkSize(),
		"prefetch":   r.config.Prefetch,
	})

	runErr := r.run(ctx)

	// Always attempt policy flush; it must survive the caller's cancellation.
	flushCtx, flushCancel := context.WithTimeout(context.WithoutCancel(ctx), flushTimeout)
	flushErr := r.policy.Flush(flushCtx)
	flushCancel()
	if flushErr != nil {
		r.logger.Warn("policy flush failed", map[string]any{
			"error": flushErr.Error(),
		})
		if runErr == nil {
			runErr = &PipelineError{Stage: StageSink, Offset: -1, Err: fmt.Errorf("policy flush: %w", flushErr)}
		}
	}

	outcome := DetermineOutcome(runErr)
	fields := map[string]any{
		"outcome":  outcome.Status,
		"duration": time.Since(r.startTime).String(),
		"chunks":   r.chunks,
		"bytes":    r.bytes,
	}
	if runErr != nil {
		fields["error"] = runErr.Error()
		r.logger.Error("run failed", fields)
	} else {
		r.logger.Info("run completed", fields)
	}
	return r.buildResult(outcome, runErr), nil
}

func (r *RunOrchestrator) run(ctx context.Context) error {
	res, err := fetch.NewResolver(r.config.Client, r.config.ProbeTimeout).Resolve(ctx, r.config.URL)
	if err != nil {
		return stageError(ctx, StageResolve, -1, err)
	}
	r.resource = res
	r.logger.Info("resolved archive", map[string]any{
		"size":          res.ExpectedSize,
		"content_type":  res.ContentType,
		"accept_ranges": res.AcceptRanges,
		"last_modified": res.LastModified,
		"server":        res.Server,
	})

	src, closeSrc, err := r.openSource(res)
	if err != nil {
		return stageError(ctx, StageFetch, 0, err)
	}
	defer closeSrc()

	for {
		if err := ctx.Err(); err != nil {
			return stageError(ctx, StageCanceled, r.bytes, err)
		}
		chunk, err := src.Next(ctx)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return stageError(ctx, StageFetch, r.bytes, err)
		}
		if err := r.processChunk(ctx, chunk); err != nil {
			return err
		}
	}

	if res.ExpectedSize > 0 && r.bytes != res.ExpectedSize {
		return &PipelineError{
			Stage:  StageFetch,
			Offset: r.bytes,
			Err:    fmt.Errorf("%w: received %d of %d bytes", fetch.ErrTransfer, r.bytes, res.ExpectedSize),
		}
	}
	return r.finish(ctx)
}

// openSource picks the chunk source for res.
func (r *RunOrchestrator) openSource(res *types.Resource) (fetch.ChunkSource, func(), error) {
	if !res.RangeCapable() {
		r.logger.Warn("archive size unknown, falling back to streaming download", map[string]any{
			"url": res.URL,
		})
		s := fetch.NewStreamSource(r.config.Client, res.URL, r.chunkSize())
		return s, func() { _ = s.Close() }, nil
	}

	opts := []fetch.RangeOption{
		fetch.WithChunkSize(r.chunkSize()),
		fetch.WithLogger(r.logger),
	}
	if r.config.RequestTimeout > 0 {
		opts = append(opts, fetch.WithRequestTimeout(r.config.RequestTimeout))
	}
	f, err := fetch.NewRangeFetcher(r.config.Client, res, opts...)
	if err != nil {
		return nil, nil, err
	}
	r.ranged = true
	if r.config.Prefetch {
		p := fetch.NewPrefetcher(f)
		return p, func() { _ = p.Close() }, nil
	}
	return f, func() {}, nil
}

func (r *RunOrchestrator) processChunk(ctx context.Context, chunk *types.Chunk) error {
	r.chunks++
	r.bytes += int64(len(chunk.Payload))
	r.config.Collector.AddChunk(int64(len(chunk.Payload)))

	text, err := r.stream.Feed(chunk.Payload)
	if err != nil {
		return stageError(ctx, StageDecompress, chunk.Start, err)
	}
	if err := r.consume(ctx, chunk.Start, text, false); err != nil {
		return err
	}
	r.reportProgress()
	return nil
}

// finish flushes the decompressor, then hands its tail to the parser as
// the final text.
func (r *RunOrchestrator) finish(ctx context.Context) error {
	text, err := r.stream.Flush()
	if err != nil {
		return stageError(ctx, StageDecompress, r.bytes, err)
	}
	if err := r.consume(ctx, r.bytes, text, true); err != nil {
		return err
	}
	r.reportProgress()
	return nil
}

func (r *RunOrchestrator) consume(ctx context.Context, offset int64, text string, final bool) error {
	r.config.Collector.AddDecompressed(int64(len(text)))

	var (
		records []*types.GameRecord
		err     error
	)
	if final {
		records, err = r.parser.Flush(text)
	} else {
		records, err = r.parser.Feed(text)
	}
	if err != nil {
		return stageError(ctx, StageParse, offset, err)
	}
	r.config.Collector.AddRecordsParsed(int64(len(records)))

	for _, rec := range records {
		if _, err := r.sink.Accept(ctx, rec); err != nil {
			return stageError(ctx, StageSink, offset, err)
		}
	}
	return nil
}

func (r *RunOrchestrator) reportProgress() {
	if r.config.Progress == nil {
		return
	}
	st := r.sink.Stats()
	var expected int64
	if r.resource != nil {
		expected = r.resource.ExpectedSize
	}
	r.config.Progress(types.Progress{
		BytesProcessed: r.bytes,
		BytesExpected:  expected,
		Chunks:         r.chunks,
		Records:        st.Seen,
		Kept:           st.Kept,
	})
}

func (r *RunOrchestrator) chunkSize() int64 {
	if r.config.ChunkSize > 0 {
		return r.config.ChunkSize
	}
	return fetch.DefaultChunkSize
}

// buildResult constructs the final run result.
func (r *RunOrchestrator) buildResult(outcome *types.RunOutcome, runErr error) *RunResult {
	result := &RunResult{
		RunMeta:     r.config.RunMeta,
		Outcome:     outcome,
		Err:         runErr,
		Duration:    time.Since(r.startTime),
		Resource:    r.resource,
		Ranged:      r.ranged,
		PolicyStats: r.policy.Stats(),
		Filter:      r.sink.Stats(),
		Decompress:  r.stream.Stats(),
		Parse:       r.parser.Stats(),
		Chunks:      r.chunks,
	}

	switch outcome.Status {
	case types.OutcomeSuccess:
		r.config.Collector.IncRunCompleted()
	case types.OutcomeCanceled:
		r.config.Collector.IncRunCanceled()
	default:
		r.config.Collector.IncRunFailed()
	}

	ps := result.PolicyStats
	r.config.Collector.AbsorbPolicyStats(ps.Received(), ps.Persisted(), ps.SamplesDropped)

	return result
}
