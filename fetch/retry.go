package fetch

import (
	"errors"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/justapithecus/pgnstream/iox"
	"github.com/justapithecus/pgnstream/log"
)

// RetryDoer wraps a Doer with exponential backoff. Whole request attempts
// are retried on transport errors and on 429/5xx; every other response is
// returned as-is. When retries are exhausted on a retryable status the last
// response is returned so the caller classifies it.
//
// The request context bounds all attempts together.
type RetryDoer struct {
	next       Doer
	maxRetries uint64
	initial    time.Duration
	maxDelay   time.Duration
	logger     *log.Logger
}

// RetryOption configures a RetryDoer.
type RetryOption func(*RetryDoer)

// WithRetryInterval sets the initial and maximum backoff delay.
func WithRetryInterval(initial, maxDelay time.Duration) RetryOption {
	return func(d *RetryDoer) {
		if initial > 0 {
			d.initial = initial
		}
		if maxDelay > 0 {
			d.maxDelay = maxDelay
		}
	}
}

// WithRetryLogger logs each retry at warn level.
func WithRetryLogger(l *log.Logger) RetryOption {
	return func(d *RetryDoer) {
		if l != nil {
			d.logger = l
		}
	}
}

// NewRetryDoer wraps next. A nil next uses http.DefaultClient.
func NewRetryDoer(next Doer, maxRetries int, opts ...RetryOption) *RetryDoer {
	if next == nil {
		next = http.DefaultClient
	}
	if maxRetries < 0 {
		maxRetries = 0
	}
	d := &RetryDoer{
		next:       next,
		maxRetries: uint64(maxRetries),
		initial:    500 * time.Millisecond,
		maxDelay:   10 * time.Second,
		logger:     log.NewNop(),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Do executes req, retrying per the policy.
func (d *RetryDoer) Do(req *http.Request) (*http.Response, error) {
	ctx := req.Context()

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = d.initial
	b.MaxInterval = d.maxDelay
	b.MaxElapsedTime = 0
	policy := backoff.WithContext(backoff.WithMaxRetries(b, d.maxRetries), ctx)

	var resp, last *http.Response
	attempt := 0
	op := func() error {
		if last != nil {
			iox.DiscardClose(last.Body)
			last = nil
		}
		attempt++
		r, err := d.next.Do(req.Clone(ctx))
		if err != nil {
			if ctx.Err() != nil {
				return backoff.Permanent(err)
			}
			return err
		}
		if retryableStatus(r.StatusCode) {
			last = r
			return &StatusError{StatusCode: r.StatusCode}
		}
		resp = r
		return nil
	}
	notify := func(err error, wait time.Duration) {
		d.logger.Warn("retrying request", map[string]any{
			"url":     req.URL.String(),
			"range":   req.Header.Get("Range"),
			"attempt": attempt,
			"wait":    wait.String(),
			"error":   err.Error(),
		})
	}

	err := backoff.RetryNotify(op, policy, notify)
	if err == nil {
		return resp, nil
	}
	var se *StatusError
	if errors.As(err, &se) && last != nil {
		return last, nil
	}
	if last != nil {
		iox.DiscardClose(last.Body)
	}
	return nil, err
}

func retryableStatus(code int) bool {
	switch code {
	case http.StatusTooManyRequests,
		http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	default:
		return false
	}
}
