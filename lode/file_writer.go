package lode

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/justapithecus/lode/lode"
)

// FileWriter writes sidecar files next to the run's partitions.
// Files land under files/, bypassing Dataset segment/manifest machinery.
type FileWriter interface {
	// PutFile writes a file to the run's files/ prefix.
	// The filename must not contain path separators or "..".
	PutFile(ctx context.Context, filename, contentType string, data io.Reader) error
}

// ErrInvalidFilename is returned for filenames that would escape files/.
var ErrInvalidFilename = errors.New("invalid sidecar filename")

var _ FileWriter = (*LodeClient)(nil)

// PutFile writes a sidecar file to the store at the computed Hive path.
func (c *LodeClient) PutFile(ctx context.Context, filename, _ string, data io.Reader) error {
	if err := validateFilename(filename); err != nil {
		return err
	}
	store, err := c.getOrCreateStore()
	if err != nil {
		return WrapInitError(err, c.config.Dataset)
	}

	path := c.buildFilePath(filename)
	if err := store.Put(ctx, path, data); err != nil {
		return WrapWriteError(err, path)
	}
	return nil
}

// UploadFile streams a local file into the run's files/ prefix under its base name.
func UploadFile(ctx context.Context, w FileWriter, localPath, contentType string) error {
	f, err := os.Open(localPath)
	if err != nil {
		return fmt.Errorf("open %s: %w", localPath, err)
	}
	defer func() { _ = f.Close() }()
	return w.PutFile(ctx, filepath.Base(localPath), contentType, f)
}

func validateFilename(name string) error {
	if name == "" || strings.ContainsAny(name, `/\`) || strings.Contains(name, "..") {
		return fmt.Errorf("%w: %q", ErrInvalidFilename, name)
	}
	return nil
}

// getOrCreateStore lazily initializes the Store from the factory.
func (c *LodeClient) getOrCreateStore() (lode.Store, error) {
	c.storeOnce.Do(func() {
		c.store, c.storeErr = c.storeFactory()
	})
	return c.store, c.storeErr
}

// buildFilePath places a sidecar under <run path>/files/.
func (c *LodeClient) buildFilePath(filename string) string {
	return c.config.RunPath() + "/files/" + filename
}

// StubFileWriter records PutFile calls for testing.
type StubFileWriter struct {
	mu    sync.Mutex
	Files []StubFileRecord
}

// StubFileRecord is a recorded file write.
type StubFileRecord struct {
	Filename    string
	ContentType string
	Data        []byte
}

// NewStubFileWriter creates a new stub file writer.
func NewStubFileWriter() *StubFileWriter {
	return &StubFileWriter{}
}

// PutFile implements FileWriter by recording the call.
func (w *StubFileWriter) PutFile(_ context.Context, filename, contentType string, data io.Reader) error {
	var buf bytes.Buffer
	if _, err := buf.ReadFrom(data); err != nil {
		return err
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	w.Files = append(w.Files, StubFileRecord{
		Filename:    filename,
		ContentType: contentType,
		Data:        buf.Bytes(),
	})
	return nil
}

var _ FileWriter = (*StubFileWriter)(nil)
