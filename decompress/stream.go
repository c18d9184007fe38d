// Package decompress turns pushed chunks of a zstd archive into UTF-8 text.
//
// A Stream owns one continuous decompression session for the whole archive.
// Feed accepts compressed bytes in any split and returns whatever text they
// complete; a multi-byte character cut at a chunk edge is held back and
// emitted with the next call. Flush finalizes the session exactly once.
package decompress

import (
	"bytes"
	"errors"
	"io"

	"github.com/klauspost/compress/zstd"
	"golang.org/x/text/encoding"
	"golang.org/x/text/transform"
)

// DefaultMaxWindow caps the decoder window. Lichess archives use the
// zstd default levels, well under this.
const DefaultMaxWindow = 1 << 30

const pumpBufferSize = 64 << 10

// Options configures a Stream.
type Options struct {
	// MaxWindow caps the decoder window size in bytes. Zero uses DefaultMaxWindow.
	MaxWindow uint64
}

// Stats reports stream counters.
type Stats struct {
	BytesIn  int64
	BytesOut int64
	Frames   int64
}

type pumpEvent struct {
	data    []byte
	waiting bool
	err     error
}

// feedSource is the decoder's input. Each Read either serves pending
// bytes or announces that the decoder is idle and blocks for the next Feed.
type feedSource struct {
	in      <-chan []byte
	events  chan<- pumpEvent
	pending []byte
}

func (s *feedSource) Read(p []byte) (int, error) {
	for len(s.pending) == 0 {
		s.events <- pumpEvent{waiting: true}
		b, ok := <-s.in
		if !ok {
			return 0, io.EOF
		}
		s.pending = b
	}
	n := copy(p, s.pending)
	s.pending = s.pending[n:]
	return n, nil
}

// Stream is a push-based zstd to UTF-8 decoder.
//
// The zstd engine runs on a helper goroutine in strict lock-step with the
// caller: Feed hands over one chunk and waits until the engine asks for
// more input, so the engine and the caller are never active at once.
// A Stream is not safe for concurrent use.
type Stream struct {
	opts Options

	in     chan []byte
	events chan pumpEvent

	tracker   *frameTracker
	validator transform.Transformer
	carry     []byte

	started    bool
	inClosed   bool
	terminated bool
	flushed    bool
	err        error
	stats      Stats
}

// New creates a stream.
func New(opts Options) *Stream {
	if opts.MaxWindow == 0 {
		opts.MaxWindow = DefaultMaxWindow
	}
	return &Stream{
		opts:      opts,
		tracker:   newFrameTracker(),
		validator: encoding.UTF8Validator,
	}
}

// Feed pushes compressed bytes and returns the text they complete.
// Empty text is not an error: the engine may need more input.
func (s *Stream) Feed(p []byte) (string, error) {
	if s.flushed {
		return "", ErrAlreadyFlushed
	}
	if s.err != nil {
		return "", s.err
	}
	if len(p) == 0 {
		return "", nil
	}

	if err := s.tracker.write(p); err != nil {
		return "", s.fail(&Error{Kind: KindCorruptArchive, Msg: "invalid frame structure", Offset: s.stats.BytesIn, Err: err})
	}
	s.stats.BytesIn += int64(len(p))

	var out bytes.Buffer
	if !s.started {
		s.start()
		if err := s.collect(&out); err != nil {
			return "", s.fail(s.engineError(err))
		}
	}
	if s.terminated {
		return "", s.fail(&Error{Kind: KindCorruptArchive, Msg: "decoder stopped early", Offset: s.stats.BytesIn})
	}

	// The decoder keeps reading from this slice after Feed returns.
	s.in <- bytes.Clone(p)
	if err := s.collect(&out); err != nil {
		return "", s.fail(s.engineError(err))
	}
	return s.decodeText(out.Bytes())
}

// Flush ends the input and returns the remaining text.
// It may be called exactly once; later calls return ErrAlreadyFlushed.
func (s *Stream) Flush() (string, error) {
	if s.flushed {
		return "", ErrAlreadyFlushed
	}
	s.flushed = true
	if s.err != nil {
		return "", s.err
	}

	var out bytes.Buffer
	var engineErr error
	if s.started && !s.terminated {
		s.closeInput()
		engineErr = s.collect(&out)
	}

	if !s.tracker.atEdge() {
		return "", s.fail(&Error{Kind: KindTruncatedArchive, Msg: "input ended inside a frame", Offset: s.stats.BytesIn, Err: engineErr})
	}
	if engineErr != nil {
		return "", s.fail(s.engineError(engineErr))
	}

	text, err := s.decodeText(out.Bytes())
	if err != nil {
		return "", err
	}
	if len(s.carry) > 0 {
		return "", s.fail(&Error{Kind: KindTruncatedEncoding, Msg: "unterminated multi-byte sequence", Offset: s.stats.BytesIn})
	}
	return text, nil
}

// Close releases the decoder goroutine. Safe to call more than once.
func (s *Stream) Close() error {
	if s.started && !s.terminated {
		s.closeInput()
		for range s.events {
		}
		s.terminated = true
	}
	s.flushed = true
	return nil
}

// Stats returns stream counters.
func (s *Stream) Stats() Stats {
	st := s.stats
	st.Frames = s.tracker.frames
	return st
}

func (s *Stream) start() {
	s.started = true
	s.in = make(chan []byte)
	s.events = make(chan pumpEvent)
	go s.pump(&feedSource{in: s.in, events: s.events})
}

func (s *Stream) closeInput() {
	if !s.inClosed {
		s.inClosed = true
		close(s.in)
	}
}

func (s *Stream) pump(src *feedSource) {
	defer close(s.events)

	dec, err := zstd.NewReader(src,
		zstd.WithDecoderConcurrency(1),
		zstd.WithDecoderMaxWindow(s.opts.MaxWindow),
		zstd.WithDecoderLowmem(true),
	)
	if err != nil {
		s.events <- pumpEvent{err: err}
		return
	}
	defer dec.Close()

	buf := make([]byte, pumpBufferSize)
	for {
		n, err := dec.Read(buf)
		if n > 0 {
			s.events <- pumpEvent{data: bytes.Clone(buf[:n])}
		}
		if err != nil {
			s.events <- pumpEvent{err: err}
			return
		}
	}
}

// collect drains engine output until the engine waits for input or stops.
// It returns nil on a clean io.EOF stop.
func (s *Stream) collect(out *bytes.Buffer) error {
	for ev := range s.events {
		switch {
		case ev.waiting:
			return nil
		case ev.err != nil:
			s.terminated = true
			// Drain the close.
			for range s.events {
			}
			if errors.Is(ev.err, io.EOF) {
				return nil
			}
			return ev.err
		default:
			out.Write(ev.data)
			s.stats.BytesOut += int64(len(ev.data))
		}
	}
	s.terminated = true
	return nil
}

func (s *Stream) engineError(err error) *Error {
	kind := KindCorruptArchive
	if errors.Is(err, io.ErrUnexpectedEOF) {
		kind = KindTruncatedArchive
	}
	return &Error{Kind: kind, Msg: "zstd decode failed", Offset: s.stats.BytesIn, Err: err}
}

// decodeText validates b as UTF-8, prepending the carried remainder and
// holding back a trailing incomplete sequence.
func (s *Stream) decodeText(b []byte) (string, error) {
	if len(b) == 0 && len(s.carry) == 0 {
		return "", nil
	}
	src := b
	if len(s.carry) > 0 {
		src = append(s.carry, b...)
	}
	dst := make([]byte, len(src))
	nDst, nSrc, err := s.validator.Transform(dst, src, false)
	switch {
	case err == nil:
		s.carry = nil
	case errors.Is(err, transform.ErrShortSrc):
		s.carry = bytes.Clone(src[nSrc:])
	default:
		return "", s.fail(&Error{Kind: KindInvalidEncoding, Msg: "decompressed bytes are not UTF-8", Offset: s.stats.BytesIn, Err: err})
	}
	return string(dst[:nDst]), nil
}

func (s *Stream) fail(err *Error) error {
	s.err = err
	return err
}
