package policy

import (
	"context"

	"github.com/justapithecus/pgnstream/types"
)

// StrictPolicy implements synchronous, unbuffered persistence.
//
//   - No buffering: each row is written immediately
//   - No drops: samples are persisted like games
//   - Backpressure: the pipeline blocks on sink latency
//   - Sink errors fail the run
type StrictPolicy struct {
	sink  Sink
	stats *statsRecorder
}

// NewStrictPolicy creates a new strict policy writing to the given sink.
func NewStrictPolicy(sink Sink) *StrictPolicy {
	return &StrictPolicy{sink: sink, stats: newStatsRecorder()}
}

// IngestGame writes the game immediately.
func (p *StrictPolicy) IngestGame(ctx context.Context, game *types.GameSummary) error {
	p.stats.incTotalGames()
	if err := p.sink.WriteGames(ctx, []*types.GameSummary{game}); err != nil {
		p.stats.incErrors()
		return err
	}
	p.stats.incGamesPersisted(1)
	return nil
}

// IngestSample writes the sample immediately.
func (p *StrictPolicy) IngestSample(ctx context.Context, sample *types.RatingSample) error {
	p.stats.incTotalSamples()
	if err := p.sink.WriteSamples(ctx, []*types.RatingSample{sample}); err != nil {
		p.stats.incErrors()
		return err
	}
	p.stats.incSamplesPersisted(1)
	return nil
}

// Flush is a no-op for strict policy.
func (p *StrictPolicy) Flush(_ context.Context) error {
	p.stats.incFlush()
	return nil
}

// Close closes the underlying sink.
func (p *StrictPolicy) Close() error {
	return p.sink.Close()
}

// Stats returns policy statistics.
func (p *StrictPolicy) Stats() Stats {
	return p.stats.snapshot()
}

var _ Policy = (*StrictPolicy)(nil)
