// Package fetch retrieves remote archives: a bounded metadata probe and an
// ordered, gap-free sequence of byte windows fetched with range requests.
//
// Nothing in this package retries on its own. Callers that want resilience
// wrap the Doer with RetryDoer.
package fetch

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/justapithecus/pgnstream/iox"
	"github.com/justapithecus/pgnstream/types"
)

// DefaultProbeTimeout bounds the metadata probe.
const DefaultProbeTimeout = 5 * time.Second

// Doer executes HTTP requests. *http.Client satisfies it.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Resolver performs the one-shot metadata probe.
type Resolver struct {
	client  Doer
	timeout time.Duration
}

// NewResolver creates a resolver. A nil client uses http.DefaultClient.
// Timeouts <= 0 or above DefaultProbeTimeout are clamped to DefaultProbeTimeout.
func NewResolver(client Doer, timeout time.Duration) *Resolver {
	if client == nil {
		client = http.DefaultClient
	}
	if timeout <= 0 || timeout > DefaultProbeTimeout {
		timeout = DefaultProbeTimeout
	}
	return &Resolver{client: client, timeout: timeout}
}

// Resolve probes url with a HEAD request and returns its descriptor.
//
// An absent Content-Length yields ExpectedSize 0, meaning ranged retrieval
// is unsupported. Falling back is the caller's decision.
func (r *Resolver) Resolve(ctx context.Context, url string) (*types.Resource, error) {
	probeCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(probeCtx, http.MethodHead, url, nil)
	if err != nil {
		return nil, &Error{Kind: ErrResource, Op: "probe", URL: url, Err: err}
	}
	req.Header.Set("User-Agent", types.UserAgent)

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, classifyProbeError(ctx, url, err)
	}
	defer iox.DiscardClose(resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &Error{
			Kind:       ErrResource,
			Op:         "probe",
			URL:        url,
			StatusCode: resp.StatusCode,
			Err:        &StatusError{StatusCode: resp.StatusCode},
		}
	}

	size, err := declaredLength(resp)
	if err != nil {
		return nil, &Error{Kind: ErrMalformed, Op: "probe", URL: url, StatusCode: resp.StatusCode, Err: err}
	}

	return &types.Resource{
		URL:          url,
		ExpectedSize: size,
		ContentType:  resp.Header.Get("Content-Type"),
		AcceptRanges: strings.EqualFold(strings.TrimSpace(resp.Header.Get("Accept-Ranges")), "bytes"),
		StatusCode:   resp.StatusCode,
		LastModified: resp.Header.Get("Last-Modified"),
		ETag:         resp.Header.Get("ETag"),
		Server:       resp.Header.Get("Server"),
		ProbedAt:     time.Now().UTC(),
	}, nil
}

func classifyProbeError(parent context.Context, url string, err error) error {
	// Caller cancellation is not a probe timeout.
	if parent.Err() != nil {
		return &Error{Kind: ErrResource, Op: "probe", URL: url, Err: parent.Err()}
	}
	if isTimeout(err) {
		return &Error{Kind: ErrUnreachable, Op: "probe", URL: url, Err: err}
	}
	if isMalformedLength(err) {
		return &Error{Kind: ErrMalformed, Op: "probe", URL: url, Err: err}
	}
	return &Error{Kind: ErrResource, Op: "probe", URL: url, Err: err}
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

// declaredLength returns the Content-Length, 0 when absent.
func declaredLength(resp *http.Response) (int64, error) {
	raw := strings.TrimSpace(resp.Header.Get("Content-Length"))
	if raw == "" {
		if resp.ContentLength > 0 {
			return resp.ContentLength, nil
		}
		return 0, nil
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, err
	}
	if n < 0 {
		return 0, errors.New("negative content length " + raw)
	}
	return n, nil
}
