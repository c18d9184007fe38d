package fetch

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/justapithecus/pgnstream/iox"
	"github.com/justapithecus/pgnstream/log"
	"github.com/justapithecus/pgnstream/types"
)

const (
	// DefaultChunkSize is the default range window (2 MiB).
	DefaultChunkSize int64 = 2 << 20
	// DefaultRequestTimeout bounds one range request.
	DefaultRequestTimeout = 60 * time.Second
)

// ChunkSource yields archive chunks in strictly increasing offset order.
// Next returns io.EOF after the last chunk.
type ChunkSource interface {
	Next(ctx context.Context) (*types.Chunk, error)
}

// RangeOption configures a RangeFetcher.
type RangeOption func(*RangeFetcher)

// WithChunkSize sets the window size. Values <= 0 are ignored.
func WithChunkSize(n int64) RangeOption {
	return func(f *RangeFetcher) {
		if n > 0 {
			f.chunkSize = n
		}
	}
}

// WithRequestTimeout sets the per-request timeout. Values <= 0 are ignored.
func WithRequestTimeout(d time.Duration) RangeOption {
	return func(f *RangeFetcher) {
		if d > 0 {
			f.timeout = d
		}
	}
}

// WithLogger sets the logger used for per-window messages.
func WithLogger(l *log.Logger) RangeOption {
	return func(f *RangeFetcher) {
		if l != nil {
			f.logger = l
		}
	}
}

// RangeFetcher covers [0, ExpectedSize) with consecutive range requests.
// It is not safe for concurrent use.
type RangeFetcher struct {
	client    Doer
	url       string
	size      int64
	chunkSize int64
	timeout   time.Duration
	logger    *log.Logger

	next int64
	err  error
}

// NewRangeFetcher creates a fetcher for res. A nil client uses http.DefaultClient.
// Returns ErrRangeUnsupported when the resource size is unknown.
func NewRangeFetcher(client Doer, res *types.Resource, opts ...RangeOption) (*RangeFetcher, error) {
	if res == nil || res.ExpectedSize <= 0 {
		url := ""
		if res != nil {
			url = res.URL
		}
		return nil, &Error{Kind: ErrRangeUnsupported, Op: "range", URL: url}
	}
	if client == nil {
		client = http.DefaultClient
	}
	f := &RangeFetcher{
		client:    client,
		url:       res.URL,
		size:      res.ExpectedSize,
		chunkSize: DefaultChunkSize,
		timeout:   DefaultRequestTimeout,
		logger:    log.NewNop(),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f, nil
}

// Next fetches the next window. Errors are sticky: once Next fails, every
// later call returns the same error.
func (f *RangeFetcher) Next(ctx context.Context) (*types.Chunk, error) {
	if f.err != nil {
		return nil, f.err
	}
	if f.next >= f.size {
		return nil, io.EOF
	}
	if err := ctx.Err(); err != nil {
		f.err = err
		return nil, err
	}

	start := f.next
	end := min(start+f.chunkSize, f.size) - 1

	chunk, err := f.fetch(ctx, start, end)
	if err != nil {
		f.err = err
		return nil, err
	}
	f.next = end + 1
	return chunk, nil
}

// Offset returns the next offset to be fetched.
func (f *RangeFetcher) Offset() int64 { return f.next }

func (f *RangeFetcher) fetch(ctx context.Context, start, end int64) (*types.Chunk, error) {
	window := fmt.Sprintf("%d-%d", start, end)
	want := end - start + 1

	reqCtx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, f.url, nil)
	if err != nil {
		return nil, &Error{Kind: ErrTransfer, Op: "range", URL: f.url, Window: window, Err: err}
	}
	req.Header.Set("Range", "bytes="+window)
	req.Header.Set("User-Agent", types.UserAgent)
	// Compressed archives must arrive byte-exact.
	req.Header.Set("Accept-Encoding", "identity")

	f.logger.Debug("requesting range", map[string]any{"url": f.url, "range": window})

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, &Error{Kind: ErrTransfer, Op: "range", URL: f.url, Window: window, Err: err}
	}
	defer iox.DiscardClose(resp.Body)

	fail := func(kind, cause error) error {
		return &Error{Kind: kind, Op: "range", URL: f.url, Window: window, StatusCode: resp.StatusCode, Err: cause}
	}

	switch resp.StatusCode {
	case http.StatusPartialContent:
		if cr := resp.Header.Get("Content-Range"); cr != "" {
			gotStart, gotEnd, perr := parseContentRange(cr)
			if perr != nil {
				return nil, fail(ErrPartialContentMismatch, perr)
			}
			if gotStart != start || gotEnd != end {
				return nil, fail(ErrPartialContentMismatch,
					fmt.Errorf("content-range %q does not match requested %s", cr, window))
			}
		}
	case http.StatusOK:
		// A full-body reply is only acceptable when the window is the whole archive.
		if start != 0 || want != f.size {
			return nil, fail(ErrTransfer, errors.New("server did not honor range request"))
		}
	default:
		return nil, fail(ErrTransfer, &StatusError{StatusCode: resp.StatusCode})
	}

	var buf bytes.Buffer
	buf.Grow(int(want))
	_, rerr := buf.ReadFrom(io.LimitReader(resp.Body, want+1))
	got := int64(buf.Len())
	if rerr != nil {
		if resp.StatusCode == http.StatusPartialContent && errors.Is(rerr, io.ErrUnexpectedEOF) {
			return nil, fail(ErrPartialContentMismatch,
				fmt.Errorf("expected %d bytes, got %d: %w", want, got, rerr))
		}
		return nil, fail(ErrTransfer, rerr)
	}
	if got != want {
		kind := ErrTransfer
		if resp.StatusCode == http.StatusPartialContent {
			kind = ErrPartialContentMismatch
		}
		return nil, fail(kind, fmt.Errorf("expected %d bytes, got %d", want, got))
	}

	f.logger.Debug("received range", map[string]any{"range": window, "bytes": got})

	return &types.Chunk{Start: start, End: end, Payload: buf.Bytes()}, nil
}

// parseContentRange parses "bytes start-end/total".
func parseContentRange(v string) (int64, int64, error) {
	unit, rest, ok := strings.Cut(strings.TrimSpace(v), " ")
	if !ok || unit != "bytes" {
		return 0, 0, fmt.Errorf("invalid content-range %q", v)
	}
	span, _, _ := strings.Cut(rest, "/")
	s, e, ok := strings.Cut(span, "-")
	if !ok {
		return 0, 0, fmt.Errorf("invalid content-range %q", v)
	}
	start, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, 0, fmt.Errorf("invalid content-range %q: %w", v, err)
	}
	end, err := strconv.ParseInt(e, 10, 64)
	if err != nil {
		return 0, 0, fmt.Errorf("invalid content-range %q: %w", v, err)
	}
	return start, end, nil
}
