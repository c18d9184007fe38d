// Package lode persists kept games, rating samples and run metrics to a
// Lode dataset, and uploads run outputs as sidecar files.
package lode

import (
	"context"
	"fmt"
	"strings"

	"github.com/justapithecus/pgnstream/policy"
	"github.com/justapithecus/pgnstream/types"
)

// DefaultDataset is the dataset ID used when none is configured.
const DefaultDataset = "pgnstream"

// DefaultSource is the source partition for Lichess archives.
const DefaultSource = "lichess"

// Config holds Lode sink configuration.
// All partition keys are required.
type Config struct {
	// Dataset is the Lode dataset ID.
	Dataset string
	// Source is the partition key for the archive host.
	Source string
	// Variant is the partition key for the archive variant.
	Variant string
	// Month is the archive month partition key (YYYY-MM).
	Month string
	// RunID is the partition key for the run identifier.
	RunID string
	// Policy is the persistence policy name, recorded on each row.
	Policy string
}

// ConfigFor builds a Config for a run over ref.
func ConfigFor(ref types.ArchiveRef, runID, policyName string) Config {
	return Config{
		Dataset: DefaultDataset,
		Source:  DefaultSource,
		Variant: ref.Variant,
		Month:   ref.Key(),
		RunID:   runID,
		Policy:  policyName,
	}
}

// RunPath is the dataset-relative prefix holding every record and sidecar
// of the run.
func (c Config) RunPath() string {
	return fmt.Sprintf("datasets/%s/partitions/source=%s/variant=%s/month=%s/run_id=%s",
		c.Dataset, c.Source, c.Variant, c.Month, c.RunID)
}

// Validate checks that every partition key is set.
func (c Config) Validate() error {
	var missing []string
	for name, v := range map[string]string{
		"dataset": c.Dataset,
		"source":  c.Source,
		"variant": c.Variant,
		"month":   c.Month,
		"run_id":  c.RunID,
	} {
		if v == "" {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("lode config missing %s", strings.Join(missing, ", "))
	}
	return nil
}

// Client abstracts the Lode storage client.
type Client interface {
	// WriteGames writes a batch of game summaries, preserving order.
	WriteGames(ctx context.Context, games []*types.GameSummary) error

	// WriteSamples writes a batch of rating samples, preserving order.
	WriteSamples(ctx context.Context, samples []*types.RatingSample) error

	// Close releases client resources.
	Close() error
}

// Sink is a Lode-backed implementation of policy.Sink.
type Sink struct {
	client Client
}

// NewSink creates a new Lode sink.
func NewSink(client Client) *Sink {
	return &Sink{client: client}
}

// WriteGames implements policy.Sink.
func (s *Sink) WriteGames(ctx context.Context, games []*types.GameSummary) error {
	return s.client.WriteGames(ctx, games)
}

// WriteSamples implements policy.Sink.
func (s *Sink) WriteSamples(ctx context.Context, samples []*types.RatingSample) error {
	return s.client.WriteSamples(ctx, samples)
}

// Close implements policy.Sink.
func (s *Sink) Close() error {
	return s.client.Close()
}

var _ policy.Sink = (*Sink)(nil)

// StubClient is a test client that accepts writes without persisting.
type StubClient struct {
	Games   [][]*types.GameSummary
	Samples [][]*types.RatingSample
	Closed  bool
}

// NewStubClient creates a new stub client.
func NewStubClient() *StubClient {
	return &StubClient{}
}

// WriteGames implements Client.
func (c *StubClient) WriteGames(_ context.Context, games []*types.GameSummary) error {
	c.Games = append(c.Games, games)
	return nil
}

// WriteSamples implements Client.
func (c *StubClient) WriteSamples(_ context.Context, samples []*types.RatingSample) error {
	c.Samples = append(c.Samples, samples)
	return nil
}

// Close implements Client.
func (c *StubClient) Close() error {
	c.Closed = true
	return nil
}

var _ Client = (*StubClient)(nil)
