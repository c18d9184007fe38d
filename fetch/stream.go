package fetch

import (
	"context"
	"errors"
	"io"
	"net/http"

	"github.com/justapithecus/pgnstream/iox"
	"github.com/justapithecus/pgnstream/types"
)

// StreamSource is the fallback for resources of unknown size: a single
// plain GET whose body is cut into sequential chunks.
type StreamSource struct {
	client    Doer
	url       string
	chunkSize int64

	body   io.ReadCloser
	offset int64
	err    error
}

// NewStreamSource creates a streaming source. chunkSize <= 0 uses DefaultChunkSize.
func NewStreamSource(client Doer, url string, chunkSize int64) *StreamSource {
	if client == nil {
		client = http.DefaultClient
	}
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	return &StreamSource{client: client, url: url, chunkSize: chunkSize}
}

// Next returns the next slice of the body. The request is issued on the
// first call and is bound to that call's context.
func (s *StreamSource) Next(ctx context.Context) (*types.Chunk, error) {
	if s.err != nil {
		return nil, s.err
	}
	if s.body == nil {
		if err := s.open(ctx); err != nil {
			s.err = err
			return nil, err
		}
	}

	buf := make([]byte, s.chunkSize)
	n, err := io.ReadFull(s.body, buf)
	switch {
	case err == nil, errors.Is(err, io.ErrUnexpectedEOF):
		if n == 0 {
			s.err = io.EOF
			return nil, io.EOF
		}
		c := &types.Chunk{Start: s.offset, End: s.offset + int64(n) - 1, Payload: buf[:n]}
		s.offset += int64(n)
		return c, nil
	case errors.Is(err, io.EOF):
		s.err = io.EOF
		return nil, io.EOF
	default:
		s.err = &Error{Kind: ErrTransfer, Op: "stream", URL: s.url, Err: err}
		return nil, s.err
	}
}

// Close releases the response body.
func (s *StreamSource) Close() error {
	if s.body != nil {
		return s.body.Close()
	}
	return nil
}

func (s *StreamSource) open(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.url, nil)
	if err != nil {
		return &Error{Kind: ErrTransfer, Op: "stream", URL: s.url, Err: err}
	}
	req.Header.Set("User-Agent", types.UserAgent)
	req.Header.Set("Accept-Encoding", "identity")

	resp, err := s.client.Do(req)
	if err != nil {
		return &Error{Kind: ErrTransfer, Op: "stream", URL: s.url, Err: err}
	}
	if resp.StatusCode != http.StatusOK {
		iox.DiscardClose(resp.Body)
		return &Error{
			Kind:       ErrTransfer,
			Op:         "stream",
			URL:        s.url,
			StatusCode: resp.StatusCode,
			Err:        &StatusError{StatusCode: resp.StatusCode},
		}
	}
	s.body = resp.Body
	return nil
}
