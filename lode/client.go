package lode

import (
	"context"
	"sync"
	"time"

	"github.com/justapithecus/lode/lode"

	"github.com/justapithecus/pgnstream/metrics"
	"github.com/justapithecus/pgnstream/types"
)

// LodeClient is a Lode-backed implementation of Client.
// Uses HiveLayout with partition keys: source/variant/month/run_id/record_kind.
type LodeClient struct {
	dataset lode.Dataset
	config  Config

	mu sync.Mutex // serializes dataset writes

	storeFactory lode.StoreFactory
	storeOnce    sync.Once
	store        lode.Store
	storeErr     error
}

// NewLodeClientWithFactory creates a new Lode client with a custom store factory.
// Use lode.NewMemoryFactory() for testing.
func NewLodeClientWithFactory(cfg Config, factory lode.StoreFactory) (*LodeClient, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	ds, err := newDataset(cfg.Dataset, factory)
	if err != nil {
		return nil, WrapInitError(err, cfg.Dataset)
	}
	return newClient(ds, cfg, factory), nil
}

func newClient(ds lode.Dataset, cfg Config, factory lode.StoreFactory) *LodeClient {
	return &LodeClient{
		dataset:      ds,
		config:       cfg,
		storeFactory: factory,
	}
}

func newDataset(id string, factory lode.StoreFactory) (lode.Dataset, error) {
	return lode.NewDataset(
		lode.DatasetID(id),
		factory,
		lode.WithHiveLayout(partitionKeys...),
		lode.WithCodec(lode.NewJSONLCodec()),
	)
}

// WriteGames writes a batch of game summaries to the record_kind=game partition.
func (c *LodeClient) WriteGames(ctx context.Context, games []*types.GameSummary) error {
	if len(games) == 0 {
		return nil
	}
	records := make([]any, 0, len(games))
	for _, g := range games {
		records = append(records, toGameRecordMap(g, c.config))
	}
	return c.write(ctx, records, RecordKindGame)
}

// WriteSamples writes a batch of rating samples to the record_kind=rating_sample partition.
func (c *LodeClient) WriteSamples(ctx context.Context, samples []*types.RatingSample) error {
	if len(samples) == 0 {
		return nil
	}
	records := make([]any, 0, len(samples))
	for _, s := range samples {
		records = append(records, toSampleRecordMap(s, c.config))
	}
	return c.write(ctx, records, RecordKindRatingSample)
}

// WriteMetrics writes one run metrics record. Called once at run completion.
func (c *LodeClient) WriteMetrics(ctx context.Context, snap metrics.Snapshot, completedAt time.Time) error {
	record := toMetricsRecordMap(snap, c.config, completedAt)
	return c.write(ctx, []any{record}, RecordKindMetrics)
}

func (c *LodeClient) write(ctx context.Context, records []any, kind string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, err := c.dataset.Write(ctx, records, lode.Metadata{}); err != nil {
		return WrapWriteError(err, c.partitionPath(kind))
	}
	return nil
}

// partitionPath is the Hive partition a record kind lands in. Used for
// error context only.
func (c *LodeClient) partitionPath(kind string) string {
	return c.config.RunPath() + "/record_kind=" + kind
}

// Close releases client resources.
func (c *LodeClient) Close() error {
	// Dataset doesn't require explicit close in current Lode API
	return nil
}

var _ Client = (*LodeClient)(nil)
