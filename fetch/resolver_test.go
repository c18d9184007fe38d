package fetch

import (
	"bufio"
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

// doerFunc adapts a function to Doer.
type doerFunc func(*http.Request) (*http.Response, error)

func (f doerFunc) Do(req *http.Request) (*http.Response, error) { return f(req) }

func fakeResponse(status int, header http.Header) *http.Response {
	if header == nil {
		header = http.Header{}
	}
	return &http.Response{
		StatusCode:    status,
		Header:        header,
		Body:          io.NopCloser(strings.NewReader("")),
		ContentLength: -1,
	}
}

func TestResolver_Resolve(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodHead {
			t.Errorf("method = %s, want HEAD", r.Method)
		}
		w.Header().Set("Content-Type", "application/octet-stream")
		w.Header().Set("Content-Length", "1234")
		w.Header().Set("Accept-Ranges", "bytes")
		w.Header().Set("Last-Modified", "Tue, 01 Jan 2013 00:00:00 GMT")
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	res, err := NewResolver(srv.Client(), time.Second).Resolve(t.Context(), srv.URL+"/a.pgn.zst")
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if res.ExpectedSize != 1234 {
		t.Errorf("ExpectedSize = %d, want 1234", res.ExpectedSize)
	}
	if res.ContentType != "application/octet-stream" {
		t.Errorf("ContentType = %q", res.ContentType)
	}
	if !res.AcceptRanges {
		t.Error("AcceptRanges = false, want true")
	}
	if !res.RangeCapable() {
		t.Error("RangeCapable() = false, want true")
	}
	if res.LastModified == "" {
		t.Error("LastModified not captured")
	}
}

func TestResolver_ErrorKinds(t *testing.T) {
	tests := []struct {
		name string
		doer Doer
		want error
	}{
		{
			name: "not found",
			doer: doerFunc(func(*http.Request) (*http.Response, error) {
				return fakeResponse(http.StatusNotFound, nil), nil
			}),
			want: ErrResource,
		},
		{
			name: "server error",
			doer: doerFunc(func(*http.Request) (*http.Response, error) {
				return fakeResponse(http.StatusServiceUnavailable, nil), nil
			}),
			want: ErrResource,
		},
		{
			name: "transport failure",
			doer: doerFunc(func(*http.Request) (*http.Response, error) {
				return nil, errors.New("dial tcp: connection refused")
			}),
			want: ErrResource,
		},
		{
			name: "timeout",
			doer: doerFunc(func(*http.Request) (*http.Response, error) {
				return nil, context.DeadlineExceeded
			}),
			want: ErrUnreachable,
		},
		{
			name: "non-numeric length",
			doer: doerFunc(func(*http.Request) (*http.Response, error) {
				return fakeResponse(http.StatusOK, http.Header{"Content-Length": {"lots"}}), nil
			}),
			want: ErrMalformed,
		},
		{
			name: "negative length",
			doer: doerFunc(func(*http.Request) (*http.Response, error) {
				return fakeResponse(http.StatusOK, http.Header{"Content-Length": {"-5"}}), nil
			}),
			want: ErrMalformed,
		},
		{
			name: "transport rejected length",
			doer: doerFunc(func(*http.Request) (*http.Response, error) {
				return nil, errors.New(`net/http: bad Content-Length "x"`)
			}),
			want: ErrMalformed,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewResolver(tt.doer, time.Second).Resolve(t.Context(), "http://archive.test/a")
			if !errors.Is(err, tt.want) {
				t.Fatalf("error = %v, want %v", err, tt.want)
			}
			if !IsFatal(err) {
				t.Error("IsFatal() = false, want true")
			}
		})
	}
}

// rawServer answers every request with the given status line and headers,
// bypassing net/http's server-side header checks.
func rawServer(t *testing.T, head string) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	t.Cleanup(func() { _ = ln.Close() })

	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go func(conn net.Conn) {
				defer conn.Close()
				if _, err := http.ReadRequest(bufio.NewReader(conn)); err != nil {
					return
				}
				_, _ = io.WriteString(conn, head+"\r\nConnection: close\r\n\r\n")
			}(conn)
		}
	}()
	return "http://" + ln.Addr().String() + "/a.pgn.zst"
}

func TestResolver_TransportRejectsLength(t *testing.T) {
	tests := []struct {
		name string
		head string
	}{
		{"non-numeric", "HTTP/1.1 200 OK\r\nContent-Length: x"},
		{"conflicting", "HTTP/1.1 200 OK\r\nContent-Length: 10\r\nContent-Length: 20"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			url := rawServer(t, tt.head)
			client := &http.Client{Transport: &http.Transport{DisableKeepAlives: true}}

			_, err := NewResolver(client, time.Second).Resolve(t.Context(), url)
			if !errors.Is(err, ErrMalformed) {
				t.Fatalf("error = %v, want %v", err, ErrMalformed)
			}
		})
	}
}

func TestResolver_AbsentLength(t *testing.T) {
	doer := doerFunc(func(*http.Request) (*http.Response, error) {
		return fakeResponse(http.StatusOK, http.Header{"Content-Type": {"text/plain"}}), nil
	})

	res, err := NewResolver(doer, time.Second).Resolve(t.Context(), "http://archive.test/a")
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if res.ExpectedSize != 0 {
		t.Errorf("ExpectedSize = %d, want 0", res.ExpectedSize)
	}
	if res.RangeCapable() {
		t.Error("RangeCapable() = true for unknown size")
	}
}

func TestResolver_Timeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer srv.Close()

	start := time.Now()
	_, err := NewResolver(srv.Client(), 50*time.Millisecond).Resolve(t.Context(), srv.URL)
	if !errors.Is(err, ErrUnreachable) {
		t.Fatalf("error = %v, want ErrUnreachable", err)
	}
	if elapsed := time.Since(start); elapsed > 3*time.Second {
		t.Errorf("probe took %v, timeout not applied", elapsed)
	}
}

func TestNewResolver_ClampsTimeout(t *testing.T) {
	r := NewResolver(nil, time.Minute)
	if r.timeout != DefaultProbeTimeout {
		t.Errorf("timeout = %v, want %v", r.timeout, DefaultProbeTimeout)
	}
	r = NewResolver(nil, 0)
	if r.timeout != DefaultProbeTimeout {
		t.Errorf("timeout = %v, want %v", r.timeout, DefaultProbeTimeout)
	}
}
