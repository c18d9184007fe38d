package policy_test

import (
	"testing"

	"github.com/justapithecus/pgnstream/policy"
)

func TestNoopPolicy_Stats(t *testing.T) {
	pol := policy.NewNoopPolicy()

	for i := range 3 {
		if err := pol.IngestGame(t.Context(), game(int64(i))); err != nil {
			t.Fatalf("IngestGame: %v", err)
		}
	}
	if err := pol.IngestSample(t.Context(), sample(0)); err != nil {
		t.Fatalf("IngestSample: %v", err)
	}
	if err := pol.Flush(t.Context()); err != nil {
		t.Fatalf("Flush: %v", err)
	}

	stats := pol.Stats()
	if stats.TotalGames != 3 || stats.GamesPersisted != 3 {
		t.Errorf("games = %d/%d, want 3/3", stats.TotalGames, stats.GamesPersisted)
	}
	if stats.SamplesDropped != 1 || stats.DroppedByReason[policy.DropDisabled] != 1 {
		t.Errorf("samples dropped = %d (%v), want 1", stats.SamplesDropped, stats.DroppedByReason)
	}
	if stats.FlushCount != 1 {
		t.Errorf("FlushCount = %d, want 1", stats.FlushCount)
	}
	if err := pol.Close(); err != nil {
		t.Errorf("Close: %v", err)
	}
}

func TestNoopPolicy_StatsSnapshotIsolation(t *testing.T) {
	pol := policy.NewNoopPolicy()
	_ = pol.IngestSample(t.Context(), sample(0))

	s := pol.Stats()
	s.DroppedByReason[policy.DropDisabled] = 99

	if got := pol.Stats().DroppedByReason[policy.DropDisabled]; got != 1 {
		t.Errorf("policy stats mutated through snapshot: got %d, want 1", got)
	}
}
