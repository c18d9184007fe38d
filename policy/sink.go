package policy

import (
	"context"
	"sync"

	"github.com/justapithecus/pgnstream/types"
)

// Sink abstracts persistence for policies.
// Implementations may write to storage or stub for testing.
//
// Methods are batch-oriented to support both strict (batch of 1) and
// buffered policies.
type Sink interface {
	// WriteGames persists a batch of game summaries in order.
	WriteGames(ctx context.Context, games []*types.GameSummary) error

	// WriteSamples persists a batch of rating samples in order.
	WriteSamples(ctx context.Context, samples []*types.RatingSample) error

	// Close releases any resources held by the sink.
	Close() error
}

// WriteOp represents a write operation for ordering verification.
type WriteOp struct {
	Kind    types.RecordKind
	Games   []*types.GameSummary
	Samples []*types.RatingSample
}

// StubSink is a test sink that accepts writes without persisting.
type StubSink struct {
	mu sync.Mutex

	GamesWritten   int64
	SamplesWritten int64
	GameBatches    int64
	SampleBatches  int64
	Closed         bool

	WrittenGames   []*types.GameSummary
	WrittenSamples []*types.RatingSample

	// WriteOrder tracks the order of write operations.
	WriteOrder []WriteOp

	// ErrorOnWrite, if non-nil, is returned by both write methods.
	ErrorOnWrite error
	// ErrorOnSamples, if non-nil, is returned by WriteSamples only.
	ErrorOnSamples error
}

// NewStubSink creates a new stub sink for testing.
func NewStubSink() *StubSink {
	return &StubSink{}
}

// WriteGames records the games without persisting.
func (s *StubSink) WriteGames(_ context.Context, games []*types.GameSummary) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.ErrorOnWrite != nil {
		return s.ErrorOnWrite
	}

	s.GameBatches++
	s.GamesWritten += int64(len(games))
	s.WrittenGames = append(s.WrittenGames, games...)
	s.WriteOrder = append(s.WriteOrder, WriteOp{Kind: types.RecordKindGame, Games: games})
	return nil
}

// WriteSamples records the samples without persisting.
func (s *StubSink) WriteSamples(_ context.Context, samples []*types.RatingSample) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.ErrorOnWrite != nil {
		return s.ErrorOnWrite
	}
	if s.ErrorOnSamples != nil {
		return s.ErrorOnSamples
	}

	s.SampleBatches++
	s.SamplesWritten += int64(len(samples))
	s.WrittenSamples = append(s.WrittenSamples, samples...)
	s.WriteOrder = append(s.WriteOrder, WriteOp{Kind: types.RecordKindRatingSample, Samples: samples})
	return nil
}

// Close marks the sink as closed.
func (s *StubSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Closed = true
	return nil
}

// SetError sets ErrorOnWrite under the lock.
func (s *StubSink) SetError(err error) {
	s.mu.Lock()
	s.ErrorOnWrite = err
	s.mu.Unlock()
}

// Stats returns a snapshot of sink statistics.
func (s *StubSink) Stats() StubSinkStats {
	s.mu.Lock()
	defer s.mu.Unlock()

	return StubSinkStats{
		GamesWritten:   s.GamesWritten,
		SamplesWritten: s.SamplesWritten,
		GameBatches:    s.GameBatches,
		SampleBatches:  s.SampleBatches,
		Closed:         s.Closed,
	}
}

// StubSinkStats is a snapshot of StubSink statistics.
type StubSinkStats struct {
	GamesWritten   int64
	SamplesWritten int64
	GameBatches    int64
	SampleBatches  int64
	Closed         bool
}
