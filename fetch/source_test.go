package fetch

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/justapithecus/pgnstream/types"
)

// sliceSource yields pre-built chunks, then err (io.EOF when nil).
type sliceSource struct {
	chunks []*types.Chunk
	err    error
	active atomic.Int32
	maxAct atomic.Int32
}

func (s *sliceSource) Next(context.Context) (*types.Chunk, error) {
	n := s.active.Add(1)
	defer s.active.Add(-1)
	if n > s.maxAct.Load() {
		s.maxAct.Store(n)
	}
	time.Sleep(time.Millisecond)
	if len(s.chunks) == 0 {
		if s.err != nil {
			return nil, s.err
		}
		return nil, io.EOF
	}
	c := s.chunks[0]
	s.chunks = s.chunks[1:]
	return c, nil
}

func TestPrefetcher_PreservesOrder(t *testing.T) {
	src := &sliceSource{}
	for i := range int64(5) {
		src.chunks = append(src.chunks, &types.Chunk{Start: i * 2, End: i*2 + 1, Payload: []byte{byte(i), byte(i)}})
	}

	p := NewPrefetcher(src)
	defer func() { _ = p.Close() }()

	chunks, err := drain(t, p)
	if err != nil {
		t.Fatalf("drain failed: %v", err)
	}
	if len(chunks) != 5 {
		t.Fatalf("got %d chunks, want 5", len(chunks))
	}
	for i, c := range chunks {
		if c.Start != int64(i)*2 {
			t.Errorf("chunk %d starts at %d, want %d", i, c.Start, i*2)
		}
	}
	if src.maxAct.Load() > 1 {
		t.Errorf("source called concurrently (%d in flight)", src.maxAct.Load())
	}
}

func TestPrefetcher_SurfacesError(t *testing.T) {
	boom := errors.New("boom")
	src := &sliceSource{
		chunks: []*types.Chunk{{Start: 0, End: 0, Payload: []byte{1}}},
		err:    boom,
	}
	p := NewPrefetcher(src)
	defer func() { _ = p.Close() }()

	if _, err := p.Next(t.Context()); err != nil {
		t.Fatalf("first Next failed: %v", err)
	}
	if _, err := p.Next(t.Context()); !errors.Is(err, boom) {
		t.Fatalf("second Next = %v, want boom", err)
	}
	if _, err := p.Next(t.Context()); !errors.Is(err, boom) {
		t.Fatalf("error not sticky: %v", err)
	}
}

func TestPrefetcher_OverRangeFetcher(t *testing.T) {
	data := bytes.Repeat([]byte("pgn"), 100)
	srv := rangeServer(t, data)

	f, err := NewRangeFetcher(srv.Client(), &types.Resource{URL: srv.URL, ExpectedSize: int64(len(data))}, WithChunkSize(64))
	if err != nil {
		t.Fatalf("NewRangeFetcher failed: %v", err)
	}
	p := NewPrefetcher(f)
	defer func() { _ = p.Close() }()

	chunks, err := drain(t, p)
	if err != nil {
		t.Fatalf("drain failed: %v", err)
	}
	var joined []byte
	for _, c := range chunks {
		joined = append(joined, c.Payload...)
	}
	if !bytes.Equal(joined, data) {
		t.Error("prefetched content differs from source")
	}
}

func TestRetryDoer_RetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte("ok"))
	}))
	defer srv.Close()

	d := NewRetryDoer(srv.Client(), 5, WithRetryInterval(time.Millisecond, 5*time.Millisecond))
	req, _ := http.NewRequestWithContext(t.Context(), http.MethodGet, srv.URL, nil)
	resp, err := d.Do(req)
	if err != nil {
		t.Fatalf("Do failed: %v", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want 200", resp.StatusCode)
	}
	if calls.Load() != 3 {
		t.Errorf("calls = %d, want 3", calls.Load())
	}
}

func TestRetryDoer_ExhaustedReturnsLastResponse(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	d := NewRetryDoer(srv.Client(), 2, WithRetryInterval(time.Millisecond, time.Millisecond))
	req, _ := http.NewRequestWithContext(t.Context(), http.MethodGet, srv.URL, nil)
	resp, err := d.Do(req)
	if err != nil {
		t.Fatalf("Do failed: %v", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusBadGateway {
		t.Errorf("status = %d, want 502", resp.StatusCode)
	}
	if calls.Load() != 3 {
		t.Errorf("calls = %d, want 3 (1 + 2 retries)", calls.Load())
	}
}

func TestRetryDoer_DoesNotRetryClientErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	d := NewRetryDoer(srv.Client(), 3, WithRetryInterval(time.Millisecond, time.Millisecond))
	req, _ := http.NewRequestWithContext(t.Context(), http.MethodGet, srv.URL, nil)
	resp, err := d.Do(req)
	if err != nil {
		t.Fatalf("Do failed: %v", err)
	}
	_ = resp.Body.Close()
	if calls.Load() != 1 {
		t.Errorf("calls = %d, want 1", calls.Load())
	}
}

func TestStreamSource_SlicesBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("0123456789"))
	}))
	defer srv.Close()

	s := NewStreamSource(srv.Client(), srv.URL, 4)
	defer func() { _ = s.Close() }()

	chunks, err := drain(t, s)
	if err != nil {
		t.Fatalf("drain failed: %v", err)
	}
	want := []string{"0123", "4567", "89"}
	if len(chunks) != len(want) {
		t.Fatalf("got %d chunks, want %d", len(chunks), len(want))
	}
	for i, c := range chunks {
		if string(c.Payload) != want[i] {
			t.Errorf("chunk %d = %q, want %q", i, c.Payload, want[i])
		}
		if c.Start != int64(i*4) {
			t.Errorf("chunk %d start = %d, want %d", i, c.Start, i*4)
		}
	}
}

func TestStreamSource_BadStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	s := NewStreamSource(srv.Client(), srv.URL, 4)
	if _, err := s.Next(t.Context()); !errors.Is(err, ErrTransfer) {
		t.Fatalf("error = %v, want ErrTransfer", err)
	}
}
