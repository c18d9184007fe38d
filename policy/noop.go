package policy

import (
	"context"

	"github.com/justapithecus/pgnstream/types"
)

// NoopPolicy is used when persistence is disabled. Games are counted as
// persisted so run accounting stays consistent; samples are counted as
// dropped.
type NoopPolicy struct {
	stats *statsRecorder
}

// NewNoopPolicy creates a new no-op policy.
func NewNoopPolicy() *NoopPolicy {
	return &NoopPolicy{stats: newStatsRecorder()}
}

// IngestGame accepts the game without persisting it.
func (p *NoopPolicy) IngestGame(_ context.Context, _ *types.GameSummary) error {
	p.stats.incTotalGames()
	p.stats.incGamesPersisted(1)
	return nil
}

// IngestSample accepts the sample and drops it.
func (p *NoopPolicy) IngestSample(_ context.Context, _ *types.RatingSample) error {
	p.stats.incTotalSamples()
	p.stats.incSamplesDropped(DropDisabled)
	return nil
}

// Flush is a no-op.
func (p *NoopPolicy) Flush(_ context.Context) error {
	p.stats.incFlush()
	return nil
}

// Close is a no-op.
func (p *NoopPolicy) Close() error { return nil }

// Stats returns the policy statistics.
func (p *NoopPolicy) Stats() Stats {
	return p.stats.snapshot()
}

var _ Policy = (*NoopPolicy)(nil)
