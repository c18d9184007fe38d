// Package redis announces finished archive runs on Redis pub/sub, and
// optionally appends them to a stream for consumers that were offline.
package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	goredis "github.com/redis/go-redis/v9"

	"github.com/justapithecus/pgnstream/adapter"
)

// Defaults applied by New.
const (
	DefaultChannel = "pgnstream:run_completed"
	DefaultTimeout = 5 * time.Second
	DefaultBackoff = 500 * time.Millisecond
	// DefaultStreamMaxLen approximately caps the stream when Stream is set.
	DefaultStreamMaxLen = 10000
)

// Config configures the Redis adapter.
type Config struct {
	// URL is redis://[:password@]host:port[/db]. Required.
	URL     string
	Channel string
	// Stream, when set, also XADDs each event under this key with fields
	// run_id, outcome and payload.
	Stream       string
	StreamMaxLen int64
	// Timeout bounds each attempt.
	Timeout  time.Duration
	Retries  int
	Backoff  time.Duration
	Encoding adapter.Encoding
}

// Adapter publishes run events through one Redis client.
type Adapter struct {
	config Config
	client *goredis.Client
}

// New parses the URL and fills defaults. No connection is made until Publish.
func New(cfg Config) (*Adapter, error) {
	if cfg.URL == "" {
		return nil, errors.New("redis adapter requires a URL")
	}
	opts, err := goredis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("redis adapter: invalid URL: %w", err)
	}
	if cfg.Retries < 0 {
		return nil, fmt.Errorf("retries must be >= 0, got %d", cfg.Retries)
	}
	enc, err := adapter.ParseEncoding(string(cfg.Encoding))
	if err != nil {
		return nil, fmt.Errorf("redis adapter: %w", err)
	}
	cfg.Encoding = enc
	if cfg.Channel == "" {
		cfg.Channel = DefaultChannel
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.Backoff <= 0 {
		cfg.Backoff = DefaultBackoff
	}
	if cfg.StreamMaxLen <= 0 {
		cfg.StreamMaxLen = DefaultStreamMaxLen
	}

	return &Adapter{config: cfg, client: goredis.NewClient(opts)}, nil
}

// Publish sends the event, retrying failed attempts with exponential backoff.
// With a stream configured, PUBLISH and XADD go out in one MULTI.
func (a *Adapter) Publish(ctx context.Context, event *adapter.RunCompletedEvent) error {
	body, err := adapter.Encode(event, a.config.Encoding)
	if err != nil {
		return fmt.Errorf("redis: encode event: %w", err)
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = a.config.Backoff
	b.RandomizationFactor = 0
	b.Multiplier = 2
	b.MaxElapsedTime = 0
	policy := backoff.WithContext(backoff.WithMaxRetries(b, uint64(a.config.Retries)), ctx)

	attempts := 0
	err = backoff.Retry(func() error {
		attempts++
		attemptCtx, cancel := context.WithTimeout(ctx, a.config.Timeout)
		defer cancel()
		return a.send(attemptCtx, event, body)
	}, policy)
	if err != nil {
		return fmt.Errorf("redis: %d attempt(s): %w", attempts, err)
	}
	return nil
}

func (a *Adapter) send(ctx context.Context, event *adapter.RunCompletedEvent, body []byte) error {
	if a.config.Stream == "" {
		return a.client.Publish(ctx, a.config.Channel, body).Err()
	}
	_, err := a.client.TxPipelined(ctx, func(p goredis.Pipeliner) error {
		p.Publish(ctx, a.config.Channel, body)
		p.XAdd(ctx, &goredis.XAddArgs{
			Stream: a.config.Stream,
			MaxLen: a.config.StreamMaxLen,
			Approx: true,
			Values: map[string]any{
				"run_id":  event.RunID,
				"outcome": event.Outcome,
				"payload": body,
			},
		})
		return nil
	})
	return err
}

// Close releases adapter resources.
func (a *Adapter) Close() error {
	return a.client.Close()
}

var _ adapter.Adapter = (*Adapter)(nil)
