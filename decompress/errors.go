package decompress

import (
	"errors"
	"fmt"
)

// ErrAlreadyFlushed is returned by Feed or Flush after the stream was flushed.
var ErrAlreadyFlushed = errors.New("decompress: stream already flushed")

// ErrorKind classifies decompression errors.
type ErrorKind int

const (
	// KindTruncatedArchive indicates input ended inside a compressed frame.
	KindTruncatedArchive ErrorKind = iota
	// KindTruncatedEncoding indicates input ended inside a multi-byte character.
	KindTruncatedEncoding
	// KindCorruptArchive indicates the engine rejected the compressed data.
	KindCorruptArchive
	// KindInvalidEncoding indicates decompressed bytes that are not UTF-8.
	KindInvalidEncoding
)

func (k ErrorKind) String() string {
	switch k {
	case KindTruncatedArchive:
		return "truncated archive"
	case KindTruncatedEncoding:
		return "truncated encoding"
	case KindCorruptArchive:
		return "corrupt archive"
	case KindInvalidEncoding:
		return "invalid encoding"
	default:
		return fmt.Sprintf("ErrorKind(%d)", int(k))
	}
}

// Error represents a decompression failure. All kinds are fatal to the run.
type Error struct {
	Kind ErrorKind
	Msg  string
	// Offset is the count of compressed bytes fed before the failure.
	Offset int64
	Err    error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s at input offset %d: %v", e.Kind, e.Msg, e.Offset, e.Err)
	}
	return fmt.Sprintf("%s: %s at input offset %d", e.Kind, e.Msg, e.Offset)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// IsKind reports whether err is a decompression error of kind k.
func IsKind(err error, k ErrorKind) bool {
	var de *Error
	if errors.As(err, &de) {
		return de.Kind == k
	}
	return false
}
