package policy

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/justapithecus/pgnstream/log"
	"github.com/justapithecus/pgnstream/types"
)

// FlushMode controls flush semantics for BufferedPolicy.
type FlushMode string

const (
	// FlushAtLeastOnce preserves all buffers on any failure.
	// May duplicate games on retry, but never loses data. Default.
	FlushAtLeastOnce FlushMode = "at_least_once"

	// FlushGamesFirst writes games before samples.
	// If games fail, samples are not attempted.
	// If samples fail, the written games are cleared and only samples remain.
	FlushGamesFirst FlushMode = "games_first"
)

// BufferedConfig configures a BufferedPolicy.
type BufferedConfig struct {
	// MaxBufferGames is the maximum number of games to buffer.
	// Zero means no limit (use MaxBufferBytes instead).
	MaxBufferGames int

	// MaxBufferBytes is the maximum estimated buffer size in bytes.
	// Zero means no limit. At least one limit must be set.
	MaxBufferBytes int64

	// FlushMode controls flush failure semantics.
	FlushMode FlushMode

	// Logger is optional. If nil, no logging is emitted.
	Logger *log.Logger
}

// DefaultBufferedConfig returns sensible defaults for buffered policy.
func DefaultBufferedConfig() BufferedConfig {
	return BufferedConfig{
		MaxBufferGames: 1000,
		MaxBufferBytes: 10 * 1024 * 1024, // 10 MB
		FlushMode:      FlushAtLeastOnce,
	}
}

// ErrBufferFull is returned when the buffer is full and a game cannot be admitted.
var ErrBufferFull = errors.New("buffer full: cannot accept game")

// ErrInvalidConfig is returned when BufferedConfig is invalid.
var ErrInvalidConfig = errors.New("invalid config: at least one of MaxBufferGames or MaxBufferBytes must be set")

// ErrInvalidFlushMode is returned when FlushMode is unknown.
var ErrInvalidFlushMode = errors.New("invalid flush mode")

// BufferedPolicy implements buffered persistence with drop rules.
//
//   - Bounded buffer with explicit limits
//   - May drop samples; never drops games
//   - Batch writes on flush
type BufferedPolicy struct {
	sink   Sink
	config BufferedConfig
	logger *log.Logger

	mu          sync.Mutex // guards buffer state
	games       []*types.GameSummary
	samples     []*types.RatingSample
	bufferBytes int64
	stats       *statsRecorder
}

// NewBufferedPolicy creates a new buffered policy.
func NewBufferedPolicy(sink Sink, config BufferedConfig) (*BufferedPolicy, error) {
	if config.MaxBufferGames <= 0 && config.MaxBufferBytes <= 0 {
		return nil, ErrInvalidConfig
	}
	if config.FlushMode == "" {
		config.FlushMode = FlushAtLeastOnce
	}
	switch config.FlushMode {
	case FlushAtLeastOnce, FlushGamesFirst:
	default:
		return nil, fmt.Errorf("%w: %s", ErrInvalidFlushMode, config.FlushMode)
	}

	return &BufferedPolicy{
		sink:    sink,
		config:  config,
		logger:  config.Logger,
		games:   make([]*types.GameSummary, 0, max(config.MaxBufferGames, 100)),
		samples: make([]*types.RatingSample, 0),
		stats:   newStatsRecorder(),
	}, nil
}

// IngestGame buffers the game. When the buffer is full the oldest sample
// is evicted to make room; with no samples left the run fails.
func (p *BufferedPolicy) IngestGame(_ context.Context, game *types.GameSummary) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.stats.incTotalGamesLocked()
	size := game.EstimatedSize()

	for !p.hasRoomForGame(size) {
		if !p.dropOldestSample() {
			p.stats.incErrorsLocked()
			p.logBufferOverflow()
			return ErrBufferFull
		}
	}

	p.games = append(p.games, game)
	p.bufferBytes += size
	p.stats.setBufferSizeLocked(p.bufferBytes)
	return nil
}

// IngestSample buffers the sample, dropping it when the byte limit is reached.
func (p *BufferedPolicy) IngestSample(_ context.Context, sample *types.RatingSample) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.stats.incTotalSamplesLocked()
	size := sample.EstimatedSize()

	if !p.hasRoomForBytes(size) {
		p.stats.incSamplesDroppedLocked(DropBufferFull)
		p.logDrop(DropBufferFull)
		return nil
	}

	p.samples = append(p.samples, sample)
	p.bufferBytes += size
	p.stats.setBufferSizeLocked(p.bufferBytes)
	return nil
}

// Flush writes all buffered games and samples to the sink.
func (p *BufferedPolicy) Flush(ctx context.Context) error {
	p.mu.Lock()
	p.stats.incFlushLocked()
	games := p.games
	samples := p.samples
	p.mu.Unlock()

	if len(games) > 0 {
		if err := p.sink.WriteGames(ctx, games); err != nil {
			p.mu.Lock()
			p.stats.incErrorsLocked()
			p.mu.Unlock()
			p.logFlushFailure("games", err)
			return err
		}
		p.mu.Lock()
		p.stats.incGamesPersistedLocked(int64(len(games)))
		if p.config.FlushMode == FlushGamesFirst {
			p.games = p.games[len(games):]
			p.recalculateBufferBytes()
		}
		p.mu.Unlock()
	}

	if len(samples) > 0 {
		if err := p.sink.WriteSamples(ctx, samples); err != nil {
			p.mu.Lock()
			p.stats.incErrorsLocked()
			p.mu.Unlock()
			p.logFlushFailure("samples", err)
			return err
		}
		p.mu.Lock()
		p.stats.incSamplesPersistedLocked(int64(len(samples)))
		p.mu.Unlock()
	}

	p.mu.Lock()
	if p.config.FlushMode == FlushAtLeastOnce {
		p.games = p.games[len(games):]
	}
	p.samples = p.samples[len(samples):]
	p.recalculateBufferBytes()
	p.mu.Unlock()

	return nil
}

// Close flushes remaining data and closes the sink.
func (p *BufferedPolicy) Close() error {
	// Best-effort flush on close
	_ = p.Flush(context.Background())
	return p.sink.Close()
}

// Stats returns an atomic snapshot of policy statistics.
func (p *BufferedPolicy) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stats.snapshotLocked(p.bufferBytes)
}

func (p *BufferedPolicy) hasRoomForGame(size int64) bool {
	if p.config.MaxBufferGames > 0 && len(p.games) >= p.config.MaxBufferGames {
		return false
	}
	return p.hasRoomForBytes(size)
}

func (p *BufferedPolicy) hasRoomForBytes(size int64) bool {
	return p.config.MaxBufferBytes <= 0 || p.bufferBytes+size <= p.config.MaxBufferBytes
}

// dropOldestSample evicts the oldest buffered sample. Caller must hold mu.
func (p *BufferedPolicy) dropOldestSample() bool {
	if len(p.samples) == 0 {
		return false
	}
	p.bufferBytes -= p.samples[0].EstimatedSize()
	p.samples = p.samples[1:]
	p.stats.setBufferSizeLocked(p.bufferBytes)
	p.stats.incSamplesDroppedLocked(DropEvicted)
	p.logDrop(DropEvicted)
	return true
}

// recalculateBufferBytes recomputes bufferBytes. Caller must hold mu.
func (p *BufferedPolicy) recalculateBufferBytes() {
	var total int64
	for _, g := range p.games {
		total += g.EstimatedSize()
	}
	for _, s := range p.samples {
		total += s.EstimatedSize()
	}
	p.bufferBytes = total
	p.stats.setBufferSizeLocked(total)
}

// --- Logging helpers ---

func (p *BufferedPolicy) logDrop(reason string) {
	if p.logger == nil {
		return
	}
	p.logger.Warn("sample dropped", map[string]any{
		"reason": reason,
		"policy": "buffered",
	})
}

func (p *BufferedPolicy) logBufferOverflow() {
	if p.logger == nil {
		return
	}
	p.logger.Error("buffer overflow", map[string]any{
		"policy": "buffered",
	})
}

func (p *BufferedPolicy) logFlushFailure(kind string, err error) {
	if p.logger == nil {
		return
	}
	p.logger.Error("flush failed", map[string]any{
		"buffer_type": kind,
		"error":       err.Error(),
		"policy":      "buffered",
	})
}

var _ Policy = (*BufferedPolicy)(nil)
