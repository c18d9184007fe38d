package pgn

import (
	"errors"
	"fmt"
)

// ErrAlreadyFlushed is returned by Feed or Flush after the parser was flushed.
var ErrAlreadyFlushed = errors.New("pgn: parser already flushed")

// ErrorKind classifies parse errors.
type ErrorKind int

const (
	// KindOversizedRecord indicates buffered unterminated text beyond the limit.
	KindOversizedRecord ErrorKind = iota
)

func (k ErrorKind) String() string {
	switch k {
	case KindOversizedRecord:
		return "oversized record"
	default:
		return fmt.Sprintf("ErrorKind(%d)", int(k))
	}
}

// ParseError is a fatal parse failure.
type ParseError struct {
	Kind ErrorKind
	// Offset is the decoded-stream position of the offending record.
	Offset int64
	// Size is the buffered size that triggered the error.
	Size  int
	Limit int
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("%s: %d bytes buffered at offset %d without a terminator (limit %d)",
		e.Kind, e.Size, e.Offset, e.Limit)
}

// IsFatal reports whether err is a fatal parse error.
func IsFatal(err error) bool {
	var pe *ParseError
	return errors.As(err, &pe)
}
