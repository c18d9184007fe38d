package iox

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

type spyCloser struct{ closed bool }

func (s *spyCloser) Close() error { s.closed = true; return errors.New("ignored") }

func TestDiscardClose(t *testing.T) {
	s := &spyCloser{}
	DiscardClose(s)
	if !s.closed {
		t.Fatal("Close was not called")
	}
}

func TestCloseFunc(t *testing.T) {
	s := &spyCloser{}
	fn := CloseFunc(s)
	if s.closed {
		t.Fatal("Close called before invoking returned func")
	}
	fn()
	if !s.closed {
		t.Fatal("Close was not called")
	}
}

func TestFileAppender_Offset(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "out.txt")

	a, err := OpenFileAppender(path, true)
	if err != nil {
		t.Fatalf("OpenFileAppender failed: %v", err)
	}
	if a.Offset() != 0 {
		t.Fatalf("fresh offset = %d, want 0", a.Offset())
	}
	if _, err := a.Write([]byte("hello")); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	if a.Offset() != 5 {
		t.Errorf("offset = %d, want 5", a.Offset())
	}
	if err := a.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	// Reopen without truncation: offset resumes at file size.
	a, err = OpenFileAppender(path, false)
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	t.Cleanup(CloseFunc(a))
	if a.Offset() != 5 {
		t.Errorf("reopened offset = %d, want 5", a.Offset())
	}
	if _, err := a.Write([]byte(" world")); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	if err := a.Flush(); err != nil {
		t.Fatalf("Flush failed: %v", err)
	}

	got, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile failed: %v", err)
	}
	if string(got) != "hello world" {
		t.Errorf("content = %q, want %q", got, "hello world")
	}
}

func TestBufferAppender(t *testing.T) {
	var b BufferAppender
	_, _ = b.Write([]byte("abc"))
	if b.Offset() != 3 || b.String() != "abc" {
		t.Errorf("got offset=%d content=%q", b.Offset(), b.String())
	}
}
