package policy_test

import (
	"testing"

	"github.com/justapithecus/pgnstream/policy"
	"github.com/justapithecus/pgnstream/types"
)

func game(offset int64) *types.GameSummary {
	return &types.GameSummary{
		RunID:       "run-1",
		Archive:     "standard/2013-01",
		Offset:      offset,
		Event:       "Rated Blitz game",
		WhiteRating: 1100,
		BlackRating: 1150,
		Result:      types.ResultWhiteWin,
		Category:    types.CategoryBlitz,
	}
}

func sample(offset int64) *types.RatingSample {
	return &types.RatingSample{
		RunID:       "run-1",
		Archive:     "standard/2013-01",
		Offset:      offset,
		WhiteRating: 1500,
		BlackRating: 1600,
	}
}

func mustNewBufferedPolicy(t *testing.T, sink policy.Sink, config policy.BufferedConfig) *policy.BufferedPolicy {
	t.Helper()
	pol, err := policy.NewBufferedPolicy(sink, config)
	if err != nil {
		t.Fatalf("NewBufferedPolicy failed: %v", err)
	}
	return pol
}

func mustNewStreamingPolicy(t *testing.T, sink policy.Sink, config policy.StreamingConfig) *policy.StreamingPolicy {
	t.Helper()
	pol, err := policy.NewStreamingPolicy(sink, config)
	if err != nil {
		t.Fatalf("NewStreamingPolicy failed: %v", err)
	}
	t.Cleanup(func() { _ = pol.Close() })
	return pol
}
