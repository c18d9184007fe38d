// Package pgn splits decoded PGN text into game records.
//
// Text arrives in arbitrary pieces. A record is emitted only once the blank
// line that ends it has been seen, or at the final Flush, where end of input
// terminates the last record. Everything after the last emitted record is
// carried into the next call.
package pgn

import (
	"bytes"

	"github.com/justapithecus/pgnstream/types"
)

// DefaultMaxRecordBytes bounds the unterminated text a parser will hold.
const DefaultMaxRecordBytes = 1 << 20

// Options configures a Parser.
type Options struct {
	// MaxRecordBytes bounds buffered unterminated text. Zero uses DefaultMaxRecordBytes.
	MaxRecordBytes int
}

// Stats reports parser counters.
type Stats struct {
	Records       int64
	BytesConsumed int64
	MalformedTags int64
	PeakBuffered  int
}

// ParseBuffer accumulates text between calls. Text before cursor has been
// emitted; text from cursor on is unparsed and survives into the next call.
// It is owned by exactly one Parser.
type ParseBuffer struct {
	data   []byte
	cursor int
	// base is the decoded-stream offset of data[0].
	base int64
}

func (b *ParseBuffer) append(text string) {
	b.data = append(b.data, text...)
}

// compact drops the emitted prefix.
func (b *ParseBuffer) compact() {
	if b.cursor == 0 {
		return
	}
	n := copy(b.data, b.data[b.cursor:])
	b.data = b.data[:n]
	b.base += int64(b.cursor)
	b.cursor = 0
}

// Pending returns the number of buffered unparsed bytes.
func (b *ParseBuffer) Pending() int {
	return len(b.data) - b.cursor
}

// Parser is the incremental record splitter. Not safe for concurrent use.
type Parser struct {
	buf     ParseBuffer
	max     int
	flushed bool
	err     error
	stats   Stats
}

// NewParser creates a parser.
func NewParser(opts Options) *Parser {
	if opts.MaxRecordBytes <= 0 {
		opts.MaxRecordBytes = DefaultMaxRecordBytes
	}
	return &Parser{max: opts.MaxRecordBytes}
}

// Feed appends text and returns every record completed by it, in stream order.
func (p *Parser) Feed(text string) ([]*types.GameRecord, error) {
	if p.flushed {
		return nil, ErrAlreadyFlushed
	}
	if p.err != nil {
		return nil, p.err
	}

	p.buf.append(text)
	recs := p.drain(false)
	p.buf.compact()
	p.stats.PeakBuffered = max(p.stats.PeakBuffered, len(p.buf.data))

	if pending := p.buf.Pending(); pending > p.max {
		p.err = &ParseError{Kind: KindOversizedRecord, Offset: p.buf.base, Size: pending, Limit: p.max}
		return recs, p.err
	}
	return recs, nil
}

// Flush appends the final text and treats end of input as a terminator.
// It may be called exactly once; later calls return ErrAlreadyFlushed.
func (p *Parser) Flush(text string) ([]*types.GameRecord, error) {
	if p.flushed {
		return nil, ErrAlreadyFlushed
	}
	p.flushed = true
	if p.err != nil {
		return nil, p.err
	}

	p.buf.append(text)
	recs := p.drain(true)
	p.buf.compact()
	return recs, nil
}

// Stats returns parser counters.
func (p *Parser) Stats() Stats {
	return p.stats
}

// Buffered returns the number of carried-over bytes.
func (p *Parser) Buffered() int {
	return p.buf.Pending()
}

func (p *Parser) drain(atEOF bool) []*types.GameRecord {
	var out []*types.GameRecord
	for {
		data := p.buf.data
		start := skipBlankLines(data, p.buf.cursor, atEOF)
		p.stats.BytesConsumed += int64(start - p.buf.cursor)
		p.buf.cursor = start
		if start >= len(data) {
			return out
		}

		rec, next, malformed, ok := parseRecord(data, start, p.buf.base, atEOF)
		if !ok {
			// Roll back to the last confirmed boundary.
			return out
		}
		p.stats.Records++
		p.stats.MalformedTags += int64(malformed)
		p.stats.BytesConsumed += int64(next - start)
		p.buf.cursor = next
		out = append(out, rec)
	}
}

// skipBlankLines advances over complete whitespace-only lines.
func skipBlankLines(data []byte, pos int, atEOF bool) int {
	for pos < len(data) {
		line, next, complete := nextLine(data, pos)
		if !isBlank(line) {
			return pos
		}
		if !complete && !atEOF {
			return pos
		}
		pos = next
	}
	return pos
}

// parseRecord parses one record beginning at the non-blank line at start.
// ok is false when the buffer ends before the record's terminator.
func parseRecord(data []byte, start int, base int64, atEOF bool) (rec *types.GameRecord, next, malformed int, ok bool) {
	pos := start
	var tags []types.Tag

	// Tag-pair section.
	for pos < len(data) {
		line, nl, complete := nextLine(data, pos)
		if !complete && !atEOF {
			return nil, 0, 0, false
		}
		trimmed := bytes.TrimSpace(line)
		if len(trimmed) == 0 || trimmed[0] != '[' {
			break
		}
		if tag, valid := parseTag(trimmed); valid {
			tags = append(tags, tag)
		} else {
			malformed++
		}
		pos = nl
	}
	headerEnd := pos

	if pos >= len(data) {
		if !atEOF {
			return nil, 0, 0, false
		}
		return buildRecord(base+int64(start), tags, nil, data[start:pos]), pos, malformed, true
	}

	// Blank separator between tags and movetext.
	if pos > start {
		for pos < len(data) {
			line, nl, complete := nextLine(data, pos)
			if !complete && !atEOF {
				return nil, 0, 0, false
			}
			if !isBlank(line) {
				break
			}
			pos = nl
		}
		if pos >= len(data) {
			if !atEOF {
				return nil, 0, 0, false
			}
			return buildRecord(base+int64(start), tags, nil, data[start:headerEnd]), pos, malformed, true
		}
		if pos > headerEnd {
			// A tag line right after the separator opens the next record.
			line, _, _ := nextLine(data, pos)
			if t := bytes.TrimSpace(line); len(t) > 0 && t[0] == '[' {
				return buildRecord(base+int64(start), tags, nil, data[start:headerEnd]), pos, malformed, true
			}
		}
	}

	// Movetext runs until a blank line outside a brace comment.
	mtStart := pos
	inComment := false
	for pos < len(data) {
		line, nl, complete := nextLine(data, pos)
		if !complete && !atEOF {
			return nil, 0, 0, false
		}
		if !inComment && isBlank(line) {
			if !complete {
				break
			}
			return buildRecord(base+int64(start), tags, data[mtStart:pos], data[start:pos]), nl, malformed, true
		}
		inComment = scanComment(line, inComment)
		pos = nl
	}
	if !atEOF {
		return nil, 0, 0, false
	}
	return buildRecord(base+int64(start), tags, data[mtStart:], data[start:]), len(data), malformed, true
}

// nextLine returns the line at pos without its line ending, the position
// after it, and whether a newline terminated it.
func nextLine(data []byte, pos int) (line []byte, next int, complete bool) {
	i := bytes.IndexByte(data[pos:], '\n')
	if i < 0 {
		return data[pos:], len(data), false
	}
	line = data[pos : pos+i]
	line = bytes.TrimSuffix(line, []byte{'\r'})
	return line, pos + i + 1, true
}

func isBlank(line []byte) bool {
	return len(bytes.TrimSpace(line)) == 0
}

// scanComment tracks whether a {...} comment is open at the end of line.
// A ';' outside braces comments out the rest of the line.
func scanComment(line []byte, open bool) bool {
	for _, c := range line {
		switch {
		case open:
			if c == '}' {
				open = false
			}
		case c == '{':
			open = true
		case c == ';':
			return false
		}
	}
	return open
}
