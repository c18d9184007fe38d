package types //nolint:revive // types is a valid package name

import "time"

// Resource describes a remote archive as reported by the metadata probe.
type Resource struct {
	// URL is the resolved locator.
	URL string
	// ExpectedSize is the authoritative byte count. Zero means unknown,
	// in which case range retrieval is unsupported.
	ExpectedSize int64
	// ContentType as declared by the server, "" if absent.
	ContentType string
	// AcceptRanges is true when the server advertises "Accept-Ranges: bytes".
	AcceptRanges bool

	// Observability only.
	StatusCode   int
	LastModified string
	ETag         string
	Server       string
	ProbedAt     time.Time
}

// RangeCapable reports whether the resource can be retrieved in byte windows.
func (r *Resource) RangeCapable() bool {
	return r.ExpectedSize > 0
}

// Chunk is one retrieved byte window of an archive.
// Start and End are absolute offsets; End is inclusive.
type Chunk struct {
	Start   int64
	End     int64
	Payload []byte
}

// Len returns the window length.
func (c *Chunk) Len() int64 {
	return c.End - c.Start + 1
}

// Progress reports bytes processed against the expected total.
type Progress struct {
	BytesProcessed int64
	BytesExpected  int64
	Chunks         int64
	Records        int64
	Kept           int64
}

// ProgressFunc receives progress updates. Observability only; it must not block.
type ProgressFunc func(Progress)
