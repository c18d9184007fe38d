package policy

import (
	"context"

	"github.com/justapithecus/pgnstream/types"
)

// batch is a set of rows awaiting a sink write. bytes tracks the
// estimated size of both row kinds.
type batch struct {
	games   []*types.GameSummary
	samples []*types.RatingSample
	bytes   int64
}

func (b *batch) addGame(g *types.GameSummary) {
	b.games = append(b.games, g)
	b.bytes += g.EstimatedSize()
}

func (b *batch) addSample(s *types.RatingSample) {
	b.samples = append(b.samples, s)
	b.bytes += s.EstimatedSize()
}

func (b *batch) empty() bool { return len(b.games) == 0 && len(b.samples) == 0 }

// take empties b and returns its former contents.
func (b *batch) take() batch {
	out := *b
	*b = batch{}
	return out
}

// restore puts unwritten rows back ahead of anything ingested since they
// were taken, keeping offset order.
func (b *batch) restore(unwritten batch) {
	b.games = append(unwritten.games, b.games...)
	b.samples = append(unwritten.samples, b.samples...)
	b.bytes += unwritten.bytes
}

// writeBatch writes games then samples. On failure it returns the rows
// that did not reach the sink.
func writeBatch(ctx context.Context, sink Sink, b batch) (written batch, unwritten batch, err error) {
	if len(b.games) > 0 {
		if err := sink.WriteGames(ctx, b.games); err != nil {
			return batch{}, b, err
		}
		written.games = b.games
	}
	if len(b.samples) > 0 {
		if err := sink.WriteSamples(ctx, b.samples); err != nil {
			unwritten = batch{samples: b.samples}
			for _, s := range b.samples {
				unwritten.bytes += s.EstimatedSize()
			}
			return written, unwritten, err
		}
		written.samples = b.samples
	}
	return written, batch{}, nil
}
