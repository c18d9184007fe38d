package lode

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"syscall"
)

// Storage failure kinds. Match with errors.Is.
var (
	ErrPermissionDenied = errors.New("permission denied")
	ErrNotFound         = errors.New("not found")
	ErrDiskFull         = errors.New("no space left on device")
	ErrTimeout          = errors.New("operation timed out")
	ErrThrottled        = errors.New("rate limited")
	ErrAuth             = errors.New("authentication failed")
	ErrAccessDenied     = errors.New("access denied")
	ErrNetwork          = errors.New("network error")

	errUnclassified = errors.New("storage error")
)

// StorageError is a dataset failure tagged with its kind and operation.
type StorageError struct {
	Kind error
	// Op is init, write or read.
	Op   string
	Path string
	Err  error
}

func (e *StorageError) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("lode %s: %v: %v", e.Op, e.Kind, e.Err)
	}
	return fmt.Sprintf("lode %s %s: %v: %v", e.Op, e.Path, e.Kind, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

// Is matches the kind as well as the wrapped chain.
func (e *StorageError) Is(target error) bool {
	return errors.Is(e.Kind, target)
}

// Retryable reports whether the failure is transient.
func (e *StorageError) Retryable() bool {
	return errors.Is(e.Kind, ErrTimeout) || errors.Is(e.Kind, ErrThrottled) || errors.Is(e.Kind, ErrNetwork)
}

// WrapInitError classifies a client or dataset construction failure.
func WrapInitError(err error, dataset string) error { return wrap("init", dataset, err) }

// WrapWriteError classifies a partition or sidecar write failure.
func WrapWriteError(err error, path string) error { return wrap("write", path, err) }

// WrapReadError classifies a snapshot read failure.
func WrapReadError(err error, path string) error { return wrap("read", path, err) }

func wrap(op, path string, err error) error {
	if err == nil {
		return nil
	}
	return &StorageError{Kind: classifyError(err), Op: op, Path: path, Err: err}
}

// rule maps an error to a kind by errno or by message fragments.
// S3 failures only surface as API error codes in the message.
type rule struct {
	kind      error
	errnos    []error
	fragments []string
}

// Order matters: access denied wins over the broader permission match,
// and timeouts win over network fragments such as "i/o timeout".
var rules = []rule{
	{kind: ErrAccessDenied, fragments: []string{"accessdenied", "forbidden", "403"}},
	{kind: ErrPermissionDenied, errnos: []error{fs.ErrPermission, syscall.EACCES, syscall.EPERM}, fragments: []string{"permission denied", "eacces"}},
	{kind: ErrNotFound, errnos: []error{fs.ErrNotExist, syscall.ENOENT}, fragments: []string{"no such file", "does not exist", "not found", "nosuchkey", "nosuchbucket", "404"}},
	{kind: ErrDiskFull, errnos: []error{syscall.ENOSPC, syscall.EDQUOT}, fragments: []string{"no space left", "disk full", "quota exceeded"}},
	{kind: ErrTimeout, fragments: []string{"timeout", "timed out", "deadline exceeded"}},
	{kind: ErrThrottled, fragments: []string{"slowdown", "rate exceeded", "throttl", "429", "toomanyrequests"}},
	{kind: ErrAuth, fragments: []string{"nocredentialproviders", "credentials", "invalidaccesskeyid", "signaturedoesnotmatch", "expiredtoken", "401", "unauthorized"}},
	{kind: ErrNetwork, errnos: []error{syscall.ECONNREFUSED, syscall.EHOSTUNREACH, syscall.ENETUNREACH}, fragments: []string{"connection refused", "no route to host", "network unreachable", "dns", "dial tcp"}},
}

func classifyError(err error) error {
	if err == nil {
		return nil
	}
	var timeout interface{ Timeout() bool }
	if errors.As(err, &timeout) && timeout.Timeout() {
		return ErrTimeout
	}

	msg := strings.ToLower(err.Error())
	for _, r := range rules {
		for _, errno := range r.errnos {
			if errors.Is(err, errno) {
				return r.kind
			}
		}
		for _, f := range r.fragments {
			if strings.Contains(msg, f) {
				return r.kind
			}
		}
	}
	return errUnclassified
}
