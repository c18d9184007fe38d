package lode

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/justapithecus/pgnstream/metrics"
	"github.com/justapithecus/pgnstream/policy"
	"github.com/justapithecus/pgnstream/types"
)

// DefaultWriteRetryInterval is the first pause before retrying a write.
const DefaultWriteRetryInterval = 200 * time.Millisecond

// InstrumentedSink counts every write attempt in the run's metrics as
// lode_write_success or lode_write_failure. With retries enabled it
// repeats writes that failed with a retryable StorageError; other
// failures return at once.
type InstrumentedSink struct {
	inner     policy.Sink
	collector *metrics.Collector
	retries   uint64
	interval  time.Duration
}

func NewInstrumentedSink(inner policy.Sink, collector *metrics.Collector) *InstrumentedSink {
	return &InstrumentedSink{inner: inner, collector: collector, interval: DefaultWriteRetryInterval}
}

// WithRetry allows n further attempts per write, pausing interval before
// the first and doubling after each.
func (s *InstrumentedSink) WithRetry(n int, interval time.Duration) *InstrumentedSink {
	if n > 0 {
		s.retries = uint64(n)
	}
	if interval > 0 {
		s.interval = interval
	}
	return s
}

func (s *InstrumentedSink) WriteGames(ctx context.Context, games []*types.GameSummary) error {
	return s.write(ctx, func() error { return s.inner.WriteGames(ctx, games) })
}

func (s *InstrumentedSink) WriteSamples(ctx context.Context, samples []*types.RatingSample) error {
	return s.write(ctx, func() error { return s.inner.WriteSamples(ctx, samples) })
}

func (s *InstrumentedSink) write(ctx context.Context, fn func() error) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = s.interval
	b.RandomizationFactor = 0
	b.Multiplier = 2

	return backoff.Retry(func() error {
		err := fn()
		if err == nil {
			s.collector.IncLodeWriteSuccess()
			return nil
		}
		s.collector.IncLodeWriteFailure()
		var se *StorageError
		if errors.As(err, &se) && se.Retryable() {
			return err
		}
		return backoff.Permanent(err)
	}, backoff.WithContext(backoff.WithMaxRetries(b, s.retries), ctx))
}

func (s *InstrumentedSink) Close() error {
	return s.inner.Close()
}

var _ policy.Sink = (*InstrumentedSink)(nil)
