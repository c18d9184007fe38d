package fetch

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors for retrieval failure classification.
// Use errors.Is(err, ErrXxx) for typed assertions.
var (
	// ErrUnreachable indicates the metadata probe timed out.
	ErrUnreachable = errors.New("unreachable")

	// ErrResource indicates the metadata probe got a non-2xx status or a transport failure.
	ErrResource = errors.New("resource error")

	// ErrMalformed indicates a declared length is not a non-negative integer.
	ErrMalformed = errors.New("malformed metadata")

	// ErrTransfer indicates a range request failed, returned a non-2xx
	// status, or the server did not honor the range.
	ErrTransfer = errors.New("transfer error")

	// ErrPartialContentMismatch indicates a 206 body whose length or
	// Content-Range differs from the requested window.
	ErrPartialContentMismatch = errors.New("partial content mismatch")

	// ErrRangeUnsupported indicates ranged retrieval was requested for a
	// resource of unknown size.
	ErrRangeUnsupported = errors.New("range retrieval unsupported")
)

// Error wraps an underlying error with retrieval classification.
type Error struct {
	// Kind is the sentinel error for classification.
	Kind error
	// Op is the operation that failed ("probe", "range", "stream").
	Op string
	// URL is the resource involved.
	URL string
	// Window is the requested byte range, "" for probes.
	Window string
	// StatusCode is the HTTP status, 0 if no response was received.
	StatusCode int
	// Err is the underlying error, possibly nil.
	Err error
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(e.Op)
	if e.Window != "" {
		b.WriteString(" bytes=")
		b.WriteString(e.Window)
	}
	b.WriteString(" ")
	b.WriteString(e.URL)
	fmt.Fprintf(&b, ": %v", e.Kind)
	if e.StatusCode != 0 {
		fmt.Fprintf(&b, " (status %d)", e.StatusCode)
	}
	if e.Err != nil {
		fmt.Fprintf(&b, ": %v", e.Err)
	}
	return b.String()
}

// Unwrap returns the underlying error for errors.Is/As chain traversal.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports whether the error matches the target sentinel.
func (e *Error) Is(target error) bool {
	return errors.Is(e.Kind, target)
}

// StatusError reports a non-2xx HTTP status.
type StatusError struct {
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status %d", e.StatusCode)
}

// IsFatal reports whether err is a retrieval failure that must abort the run.
// Every classified retrieval error is fatal; the core never retries.
func IsFatal(err error) bool {
	var fe *Error
	return errors.As(err, &fe)
}

// isMalformedLength reports whether a transport error came from an
// unparseable Content-Length header. net/http does not export these errors,
// so this matches their text:
//
//	bad Content-Length "x"
//	http: message cannot contain multiple Content-Length headers; got [...]
//	net/http: invalid Content-Length header: "x"
func isMalformedLength(err error) bool {
	s := strings.ToLower(err.Error())
	return strings.Contains(s, "bad content-length") ||
		strings.Contains(s, "multiple content-length") ||
		strings.Contains(s, "invalid content-length")
}
