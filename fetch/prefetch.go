package fetch

import (
	"context"

	"github.com/justapithecus/pgnstream/types"
)

type chunkResult struct {
	chunk *types.Chunk
	err   error
}

// Prefetcher overlaps the retrieval of the next chunk with processing of
// the current one. At most one request is in flight and chunks are
// returned in source order. The wrapped source is only ever called from
// one goroutine at a time.
type Prefetcher struct {
	src      ChunkSource
	inflight chan chunkResult
	err      error
}

// NewPrefetcher wraps src with depth-1 prefetch.
func NewPrefetcher(src ChunkSource) *Prefetcher {
	return &Prefetcher{src: src}
}

// Next returns the next chunk, starting the fetch of the one after it
// before returning. The first error (including io.EOF) is sticky.
func (p *Prefetcher) Next(ctx context.Context) (*types.Chunk, error) {
	if p.err != nil {
		return nil, p.err
	}
	if p.inflight == nil {
		p.inflight = p.launch(ctx)
	}

	var r chunkResult
	select {
	case r = <-p.inflight:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	p.inflight = nil

	if r.err != nil {
		p.err = r.err
		return nil, r.err
	}
	p.inflight = p.launch(ctx)
	return r.chunk, nil
}

// Close waits for any in-flight request to finish and discards its result.
func (p *Prefetcher) Close() error {
	if p.inflight != nil {
		<-p.inflight
		p.inflight = nil
	}
	return nil
}

func (p *Prefetcher) launch(ctx context.Context) chan chunkResult {
	ch := make(chan chunkResult, 1)
	go func() {
		c, err := p.src.Next(ctx)
		ch <- chunkResult{chunk: c, err: err}
	}()
	return ch
}
