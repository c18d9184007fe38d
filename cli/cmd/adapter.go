package cmd

import (
	"context"
	"fmt"
	"maps"
	"strings"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/justapithecus/pgnstream/adapter"
	redisadapter "github.com/justapithecus/pgnstream/adapter/redis"
	"github.com/justapithecus/pgnstream/adapter/webhook"
	"github.com/justapithecus/pgnstream/cli/config"
	"github.com/justapithecus/pgnstream/lode"
	"github.com/justapithecus/pgnstream/runtime"
)

// adapterChoice holds parsed adapter configuration.
type adapterChoice struct {
	adapterType string
	url         string
	channel     string
	stream      string
	headers     map[string]string
	timeout     time.Duration
	retries     int
	encoding    adapter.Encoding
}

// parseAdapterConfigWithPrecedence resolves adapter settings, flags over config.
// Config headers are merged with --adapter-header; flags win per key.
func parseAdapterConfigWithPrecedence(c *cli.Context, cfg *config.Config, adapterType string) (*adapterChoice, error) {
	switch adapterType {
	case "webhook", "redis":
	default:
		return nil, fmt.Errorf("unknown --adapter %q (must be webhook or redis)", adapterType)
	}

	ac := &adapterChoice{
		adapterType: adapterType,
		url:         resolveString(c, "adapter-url", configVal(cfg, func(c *config.Config) string { return c.Adapter.URL })),
		channel:     resolveString(c, "adapter-channel", configVal(cfg, func(c *config.Config) string { return c.Adapter.Channel })),
		stream:      resolveString(c, "adapter-stream", configVal(cfg, func(c *config.Config) string { return c.Adapter.Stream })),
		timeout:     resolveDuration(c, "adapter-timeout", configVal(cfg, func(c *config.Config) time.Duration { return c.Adapter.Timeout.Duration })),
		retries:     resolveIntPtr(c, "adapter-retries", configVal(cfg, func(c *config.Config) *int { return c.Adapter.Retries })),
	}
	if ac.url == "" {
		return nil, fmt.Errorf("--adapter-url is required when --adapter is %s", adapterType)
	}
	if ac.retries < 0 {
		return nil, fmt.Errorf("--adapter-retries must be >= 0, got %d", ac.retries)
	}

	enc, err := adapter.ParseEncoding(resolveString(c, "adapter-encoding", configVal(cfg, func(c *config.Config) string { return c.Adapter.Encoding })))
	if err != nil {
		return nil, fmt.Errorf("invalid --adapter-encoding: %w", err)
	}
	ac.encoding = enc

	ac.headers = make(map[string]string)
	maps.Copy(ac.headers, configVal(cfg, func(c *config.Config) map[string]string { return c.Adapter.Headers }))
	for _, h := range c.StringSlice("adapter-header") {
		k, v, ok := strings.Cut(h, "=")
		if !ok || strings.TrimSpace(k) == "" {
			return nil, fmt.Errorf("invalid --adapter-header %q: expected key=value", h)
		}
		ac.headers[strings.TrimSpace(k)] = v
	}
	return ac, nil
}

// newAdapter builds the configured notifier.
func newAdapter(ac *adapterChoice) (adapter.Adapter, error) {
	switch ac.adapterType {
	case "webhook":
		return webhook.New(webhook.Config{
			URL:      ac.url,
			Headers:  ac.headers,
			Timeout:  ac.timeout,
			Retries:  ac.retries,
			Encoding: ac.encoding,
		})
	case "redis":
		return redisadapter.New(redisadapter.Config{
			URL:      ac.url,
			Channel:  ac.channel,
			Stream:   ac.stream,
			Timeout:  ac.timeout,
			Retries:  ac.retries,
			Encoding: ac.encoding,
		})
	default:
		return nil, fmt.Errorf("unknown adapter type: %s", ac.adapterType)
	}
}

func publishEvent(ctx context.Context, ac *adapterChoice, event *adapter.RunCompletedEvent) error {
	a, err := newAdapter(ac)
	if err != nil {
		return err
	}
	defer func() { _ = a.Close() }()
	return a.Publish(ctx, event)
}

// buildRunCompletedEvent maps a run result to the notification payload.
func buildRunCompletedEvent(result *runtime.RunResult, plan *runPlan, outputs map[string]string) *adapter.RunCompletedEvent {
	event := &adapter.RunCompletedEvent{
		Version:     adapter.EventVersion,
		EventType:   adapter.EventTypeRunCompleted,
		RunID:       result.RunMeta.RunID,
		ParentRunID: result.RunMeta.Parent(),
		Attempt:     result.RunMeta.Attempt,
		URL:         plan.archive.url,
		Outcome:     string(result.Outcome.Status),
		Stage:       result.Outcome.Stage,
		Outputs:     outputs,
		Timestamp:   time.Now().UTC().Format(time.RFC3339),
		BytesIn:     result.Decompress.BytesIn,
		Records:     result.Parse.Records,
		Kept:        result.Filter.Kept,
		Sampled:     result.Filter.Sampled,
		DurationMs:  result.Duration.Milliseconds(),
	}
	if ref := plan.archive.ref; ref != nil {
		event.Variant = ref.Variant
		event.Month = ref.Key()
		if plan.storage.enabled() {
			event.StoragePath = buildStoragePath(plan.storage, plan.storage.dataset, lode.DefaultSource,
				ref.Variant, ref.Key(), result.RunMeta.RunID)
		}
	}
	return event
}
