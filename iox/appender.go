package iox

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
)

// Appender is an append-only text sink that exposes its current write offset.
type Appender interface {
	io.Writer
	// Offset returns the number of bytes written so far, including any
	// content present when the sink was opened.
	Offset() int64
}

// FileAppender is a buffered, append-only file sink.
type FileAppender struct {
	f      *os.File
	w      *bufio.Writer
	offset int64
	path   string
}

// OpenFileAppender opens path for appending. When truncate is true an
// existing file is emptied first; otherwise the offset starts at its size.
// Parent directories are created as needed.
func OpenFileAppender(path string, truncate bool) (*FileAppender, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create directory for %s: %w", path, err)
		}
	}
	flags := os.O_CREATE | os.O_WRONLY | os.O_APPEND
	if truncate {
		flags |= os.O_TRUNC
	}
	f, err := os.OpenFile(path, flags, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	info, err := f.Stat()
	if err != nil {
		DiscardClose(f)
		return nil, fmt.Errorf("stat %s: %w", path, err)
	}
	return &FileAppender{
		f:      f,
		w:      bufio.NewWriterSize(f, 256*1024),
		offset: info.Size(),
		path:   path,
	}, nil
}

// Write appends p.
func (a *FileAppender) Write(p []byte) (int, error) {
	n, err := a.w.Write(p)
	a.offset += int64(n)
	return n, err
}

// Offset returns the current write offset.
func (a *FileAppender) Offset() int64 { return a.offset }

// Path returns the backing file path.
func (a *FileAppender) Path() string { return a.path }

// Flush writes buffered data to the file.
func (a *FileAppender) Flush() error { return a.w.Flush() }

// Close flushes and closes the file.
func (a *FileAppender) Close() error {
	ferr := a.w.Flush()
	cerr := a.f.Close()
	if ferr != nil {
		return ferr
	}
	return cerr
}

// BufferAppender is an in-memory Appender. Safe for concurrent use.
type BufferAppender struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

// Write appends p.
func (b *BufferAppender) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

// Offset returns the number of bytes written.
func (b *BufferAppender) Offset() int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return int64(b.buf.Len())
}

// String returns the accumulated content.
func (b *BufferAppender) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

// Bytes returns a copy of the accumulated content.
func (b *BufferAppender) Bytes() []byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	return bytes.Clone(b.buf.Bytes())
}
