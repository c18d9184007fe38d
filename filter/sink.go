package filter

import (
	"context"
	"fmt"
	"io"

	"github.com/justapithecus/pgnstream/iox"
	"github.com/justapithecus/pgnstream/log"
	"github.com/justapithecus/pgnstream/metrics"
	"github.com/justapithecus/pgnstream/policy"
	"github.com/justapithecus/pgnstream/types"
)

// transcriptSeparator goes between consecutive transcripts.
const transcriptSeparator = "\n\n"

// Stats reports sink counters.
type Stats struct {
	Seen     int64
	Kept     int64
	Skipped  int64
	Sampled  int64
	Warnings int64
	ByReason map[SkipReason]int64
}

// SinkConfig configures a Sink.
type SinkConfig struct {
	Policy types.FilterPolicy
	// Transcripts receives kept transcripts. Required.
	Transcripts iox.Appender
	// Ratings receives sampled ratings. Optional; nil discards them.
	Ratings io.Writer
	// Persist receives kept-game rows and rating samples. Optional.
	Persist policy.Policy
	// RunID and Archive label persisted rows.
	RunID   string
	Archive string
	Logger  *log.Logger
	Metrics *metrics.Collector
}

// Sink evaluates records and writes the results in arrival order.
// Not safe for concurrent use.
type Sink struct {
	policy      types.FilterPolicy
	transcripts iox.Appender
	ratings     io.Writer
	persist     policy.Policy
	runID       string
	archive     string
	logger      *log.Logger
	collector   *metrics.Collector
	stats       Stats
}

// NewSink validates cfg and creates a sink.
func NewSink(cfg SinkConfig) (*Sink, error) {
	if cfg.Transcripts == nil {
		return nil, fmt.Errorf("filter: transcript sink is required")
	}
	if err := cfg.Policy.Validate(); err != nil {
		return nil, fmt.Errorf("filter: %w", err)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = log.NewNop()
	}
	return &Sink{
		policy:      cfg.Policy,
		transcripts: cfg.Transcripts,
		ratings:     cfg.Ratings,
		persist:     cfg.Persist,
		runID:       cfg.RunID,
		archive:     cfg.Archive,
		logger:      logger,
		collector:   cfg.Metrics,
		stats:       Stats{ByReason: make(map[SkipReason]int64)},
	}, nil
}

// Accept evaluates rec and performs the resulting writes. The returned
// error is non-nil only when a sink write or the persistence policy fails;
// either is fatal to the run.
func (s *Sink) Accept(ctx context.Context, rec *types.GameRecord) (Decision, error) {
	d := Evaluate(rec, &s.policy)
	s.stats.Seen++

	if d.Warning != "" {
		s.stats.Warnings++
		s.collector.IncWarning()
		s.logger.Warn("skipping record", map[string]any{
			"offset":  rec.Offset,
			"event":   rec.Event,
			"site":    rec.Site,
			"reason":  string(d.Reason),
			"warning": d.Warning,
		})
	}

	if d.Sample && s.ratings != nil {
		if _, err := fmt.Fprintf(s.ratings, "%d\n%d\n", d.WhiteRating, d.BlackRating); err != nil {
			return d, fmt.Errorf("write ratings: %w", err)
		}
		s.stats.Sampled++
		s.collector.IncRatingsSampled()
	}
	if d.Sample && s.persist != nil {
		sample := &types.RatingSample{
			RunID:       s.runID,
			Archive:     s.archive,
			Offset:      rec.Offset,
			WhiteRating: d.WhiteRating,
			BlackRating: d.BlackRating,
		}
		if err := s.persist.IngestSample(ctx, sample); err != nil {
			return d, fmt.Errorf("persist rating sample: %w", err)
		}
	}

	if !d.Kept() {
		s.stats.Skipped++
		s.stats.ByReason[d.Reason]++
		s.collector.IncSkipped(string(d.Reason))
		return d, nil
	}

	entry := rec.Transcript
	at := s.transcripts.Offset()
	if at > 0 {
		entry = transcriptSeparator + entry
		at += int64(len(transcriptSeparator))
	}
	if _, err := io.WriteString(s.transcripts, entry); err != nil {
		return d, fmt.Errorf("write transcript: %w", err)
	}
	s.stats.Kept++
	s.collector.IncKept()

	if s.persist != nil {
		row := types.NewGameSummary(s.runID, s.archive, rec, d.WhiteRating, d.BlackRating)
		row.TranscriptOffset = at
		if err := s.persist.IngestGame(ctx, row); err != nil {
			return d, fmt.Errorf("persist game: %w", err)
		}
	}
	return d, nil
}

// Stats returns a copy of the sink counters.
func (s *Sink) Stats() Stats {
	st := s.stats
	st.ByReason = make(map[SkipReason]int64, len(s.stats.ByReason))
	for k, v := range s.stats.ByReason {
		st.ByReason[k] = v
	}
	return st
}
