package policy

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/justapithecus/pgnstream/log"
	"github.com/justapithecus/pgnstream/types"
)

// StreamingConfig configures a StreamingPolicy. At least one trigger
// must be set; zero disables a trigger.
type StreamingConfig struct {
	FlushCount    int           // games pending
	FlushBytes    int64         // estimated bytes pending, both row kinds
	FlushInterval time.Duration // wall clock
	Logger        *log.Logger
}

// FlushTrigger names what caused a streaming flush.
type FlushTrigger string

const (
	FlushTriggerCount       FlushTrigger = "count"
	FlushTriggerBytes       FlushTrigger = "bytes"
	FlushTriggerInterval    FlushTrigger = "interval"
	FlushTriggerTermination FlushTrigger = "termination"
)

// ErrStreamingInvalidConfig is returned when no flush trigger is set.
var ErrStreamingInvalidConfig = errors.New("invalid streaming config: set FlushCount, FlushBytes or FlushInterval")

// StreamingPolicy persists every row in periodic batches. Nothing is
// dropped. A failed write leaves the unwritten rows pending for the next
// trigger, so a transient sink outage delays rows instead of losing them.
type StreamingPolicy struct {
	sink   Sink
	cfg    StreamingConfig
	logger *log.Logger

	// writing serializes flushes from the ticker and from ingest.
	writing sync.Mutex

	mu       sync.Mutex
	pending  batch
	stats    *statsRecorder
	triggers map[FlushTrigger]int64

	done      chan struct{}
	closeOnce sync.Once
}

// NewStreamingPolicy starts a streaming policy. With FlushInterval set a
// ticker goroutine runs until Close.
func NewStreamingPolicy(sink Sink, cfg StreamingConfig) (*StreamingPolicy, error) {
	if cfg.FlushCount <= 0 && cfg.FlushBytes <= 0 && cfg.FlushInterval <= 0 {
		return nil, ErrStreamingInvalidConfig
	}
	p := &StreamingPolicy{
		sink:     sink,
		cfg:      cfg,
		logger:   cfg.Logger,
		stats:    newStatsRecorder(),
		triggers: make(map[FlushTrigger]int64),
		done:     make(chan struct{}),
	}
	if p.logger == nil {
		p.logger = log.NewNop()
	}
	if cfg.FlushInterval > 0 {
		go p.tick()
	}
	return p, nil
}

func (p *StreamingPolicy) IngestGame(ctx context.Context, game *types.GameSummary) error {
	p.mu.Lock()
	p.stats.incTotalGamesLocked()
	p.pending.addGame(game)
	trigger := p.dueLocked()
	p.mu.Unlock()

	if trigger != "" {
		return p.flush(ctx, trigger)
	}
	return nil
}

func (p *StreamingPolicy) IngestSample(ctx context.Context, sample *types.RatingSample) error {
	p.mu.Lock()
	p.stats.incTotalSamplesLocked()
	p.pending.addSample(sample)
	trigger := FlushTrigger("")
	if p.cfg.FlushBytes > 0 && p.pending.bytes >= p.cfg.FlushBytes {
		trigger = FlushTriggerBytes
	}
	p.mu.Unlock()

	if trigger != "" {
		return p.flush(ctx, trigger)
	}
	return nil
}

// dueLocked reports which size trigger, if any, has fired.
func (p *StreamingPolicy) dueLocked() FlushTrigger {
	switch {
	case p.cfg.FlushCount > 0 && len(p.pending.games) >= p.cfg.FlushCount:
		return FlushTriggerCount
	case p.cfg.FlushBytes > 0 && p.pending.bytes >= p.cfg.FlushBytes:
		return FlushTriggerBytes
	}
	return ""
}

// Flush writes everything pending.
func (p *StreamingPolicy) Flush(ctx context.Context) error {
	return p.flush(ctx, FlushTriggerTermination)
}

// flush takes the pending rows under mu and writes them without it, so
// ingest is not blocked by a slow sink.
func (p *StreamingPolicy) flush(ctx context.Context, trigger FlushTrigger) error {
	p.writing.Lock()
	defer p.writing.Unlock()

	p.mu.Lock()
	p.triggers[trigger]++
	p.stats.incFlushLocked()
	if p.pending.empty() {
		p.mu.Unlock()
		return nil
	}
	b := p.pending.take()
	p.stats.setBufferSizeLocked(p.pending.bytes)
	p.mu.Unlock()

	written, unwritten, err := writeBatch(ctx, p.sink, b)

	p.mu.Lock()
	p.stats.incGamesPersistedLocked(int64(len(written.games)))
	p.stats.incSamplesPersistedLocked(int64(len(written.samples)))
	if err != nil {
		p.stats.incErrorsLocked()
		p.pending.restore(unwritten)
	}
	p.stats.setBufferSizeLocked(p.pending.bytes)
	p.mu.Unlock()

	if err != nil {
		p.logger.Error("streaming flush failed", map[string]any{
			"trigger":         string(trigger),
			"pending_games":   len(unwritten.games),
			"pending_samples": len(unwritten.samples),
			"error":           err.Error(),
		})
		return err
	}
	p.logger.Info("streaming flush", map[string]any{
		"trigger": string(trigger),
		"games":   len(written.games),
		"samples": len(written.samples),
	})
	return nil
}

func (p *StreamingPolicy) tick() {
	t := time.NewTicker(p.cfg.FlushInterval)
	defer t.Stop()
	for {
		select {
		case <-p.done:
			return
		case <-t.C:
			p.mu.Lock()
			idle := p.pending.empty()
			p.mu.Unlock()
			if !idle {
				// A failure is logged and the rows retried on the next tick.
				_ = p.flush(context.Background(), FlushTriggerInterval)
			}
		}
	}
}

// Close stops the ticker, makes a final flush attempt and closes the
// sink. Later calls only close the sink again.
func (p *StreamingPolicy) Close() error {
	p.closeOnce.Do(func() { close(p.done) })
	_ = p.Flush(context.Background())
	return p.sink.Close()
}

func (p *StreamingPolicy) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stats.snapshotLocked(p.pending.bytes)
}

// FlushTriggerStats returns flush counts per trigger.
func (p *StreamingPolicy) FlushTriggerStats() map[FlushTrigger]int64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make(map[FlushTrigger]int64, len(p.triggers))
	for k, v := range p.triggers {
		out[k] = v
	}
	return out
}

var _ Policy = (*StreamingPolicy)(nil)
