package cmd

import (
	"context"
	"fmt"

	lodelibrary "github.com/justapithecus/lode/lode"

	"github.com/justapithecus/pgnstream/lode"
	"github.com/justapithecus/pgnstream/log"
	"github.com/justapithecus/pgnstream/metrics"
	"github.com/justapithecus/pgnstream/policy"
)

// buildLodeClient creates the write client for the run's partition.
func buildLodeClient(ctx context.Context, plan *runPlan) (*lode.LodeClient, error) {
	return lode.Open(ctx, runLodeConfig(plan), plan.storage.backendSpec())
}

func runLodeConfig(plan *runPlan) lode.Config {
	cfg := lode.ConfigFor(*plan.archive.ref, plan.runMeta.RunID, plan.policy.name)
	cfg.Dataset = plan.storage.dataset
	return cfg
}

// buildReadDataset opens the dataset for queries.
func buildReadDataset(ctx context.Context, s storageChoice) (lodelibrary.Dataset, error) {
	return lode.OpenReadDataset(ctx, s.dataset, s.backendSpec())
}

func (s storageChoice) backendSpec() lode.Backend {
	return lode.Backend{
		Kind:      s.backend,
		Root:      s.path,
		Region:    s.region,
		Endpoint:  s.endpoint,
		PathStyle: s.usePathStyle,
	}
}

// buildPolicy creates the persistence policy. client is nil only for noop.
func buildPolicy(choice policyChoice, storage storageChoice, client *lode.LodeClient, collector *metrics.Collector, logger *log.Logger) (policy.Policy, error) {
	if choice.name == "noop" {
		return policy.NewNoopPolicy(), nil
	}
	if client == nil {
		return nil, fmt.Errorf("policy %s requires storage", choice.name)
	}
	sink := lode.NewInstrumentedSink(lode.NewSink(client), collector).WithRetry(storage.retries, 0)

	switch choice.name {
	case "strict":
		return policy.NewStrictPolicy(sink), nil
	case "buffered":
		return policy.NewBufferedPolicy(sink, policy.BufferedConfig{
			MaxBufferGames: choice.maxGames,
			MaxBufferBytes: choice.maxBytes,
			FlushMode:      policy.FlushMode(choice.flushMode),
			Logger:         logger,
		})
	case "streaming":
		return policy.NewStreamingPolicy(sink, policy.StreamingConfig{
			FlushCount:    choice.flushCount,
			FlushBytes:    choice.flushBytes,
			FlushInterval: choice.flushInterval,
			Logger:        logger,
		})
	default:
		return nil, fmt.Errorf("unknown policy: %s", choice.name)
	}
}

// buildStoragePath renders the run's partition location for notifications.
func buildStoragePath(s storageChoice, dataset, source, variant, month, runID string) string {
	cfg := lode.Config{Dataset: dataset, Source: source, Variant: variant, Month: month, RunID: runID}
	return s.backendSpec().Locate(cfg.RunPath())
}
