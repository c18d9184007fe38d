package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/justapithecus/pgnstream/types"
)

// Config represents a pgnstream.yaml configuration file.
// All values are optional and act as defaults for pgnstream run flags.
// CLI flags always override config values.
type Config struct {
	Source  SourceConfig  `yaml:"source"`
	Fetch   FetchConfig   `yaml:"fetch"`
	Parse   ParseConfig   `yaml:"parse"`
	Filter  FilterConfig  `yaml:"filter"`
	Output  OutputConfig  `yaml:"output"`
	Storage StorageConfig `yaml:"storage"`
	Policy  PolicyConfig  `yaml:"policy"`
	Adapter AdapterConfig `yaml:"adapter"`
}

// SourceConfig selects the archive.
type SourceConfig struct {
	// BaseURL is the database host (default https://database.lichess.org).
	BaseURL string `yaml:"base_url"`
	Variant string `yaml:"variant"`
	// Archive is the YYYY-MM key.
	Archive string `yaml:"archive"`
	// URL overrides BaseURL/Variant/Archive with an explicit locator.
	URL string `yaml:"url"`
}

// FetchConfig holds retrieval defaults.
type FetchConfig struct {
	ChunkSize      int64    `yaml:"chunk_size"`
	RequestTimeout Duration `yaml:"request_timeout"`
	ProbeTimeout   Duration `yaml:"probe_timeout"`
	Retries        *int     `yaml:"retries,omitempty"`
	RetryInterval  Duration `yaml:"retry_interval"`
	Prefetch       bool     `yaml:"prefetch"`
}

// ParseConfig holds parser limits.
type ParseConfig struct {
	MaxRecordBytes int `yaml:"max_record_bytes"`
}

// FilterConfig holds inclusion policy defaults.
type FilterConfig struct {
	MaxRating      int      `yaml:"max_rating"`
	EventSubstring *string  `yaml:"event_substring,omitempty"`
	Results        []string `yaml:"results,omitempty"`
	Categories     []string `yaml:"categories,omitempty"`
	SampleRatings  *bool    `yaml:"sample_ratings,omitempty"`
}

// OutputConfig holds output file defaults. Empty names derive from the archive.
type OutputConfig struct {
	Dir          string `yaml:"dir"`
	Transcripts  string `yaml:"transcripts"`
	Ratings      string `yaml:"ratings"`
	SkipExisting bool   `yaml:"skip_existing"`
}

// StorageConfig holds storage defaults from the config file.
type StorageConfig struct {
	Dataset     string `yaml:"dataset"`
	Backend     string `yaml:"backend"`
	Path        string `yaml:"path"`
	Region      string `yaml:"region"`
	Endpoint    string `yaml:"endpoint"`
	S3PathStyle bool   `yaml:"s3_path_style"`
	Retries     *int   `yaml:"retries,omitempty"`
}

// PolicyConfig holds policy defaults from the config file.
type PolicyConfig struct {
	Name          string   `yaml:"name"`
	FlushMode     string   `yaml:"flush_mode"`
	BufferGames   int      `yaml:"buffer_games"`
	BufferBytes   int64    `yaml:"buffer_bytes"`
	FlushCount    int      `yaml:"flush_count"`
	FlushBytes    int64    `yaml:"flush_bytes"`
	FlushInterval Duration `yaml:"flush_interval"`
}

// AdapterConfig holds adapter defaults from the config file.
type AdapterConfig struct {
	Type     string            `yaml:"type"`
	URL      string            `yaml:"url"`
	Channel  string            `yaml:"channel,omitempty"`
	Stream   string            `yaml:"stream,omitempty"`
	Headers  map[string]string `yaml:"headers,omitempty"`
	Timeout  Duration          `yaml:"timeout,omitempty"`
	Retries  *int              `yaml:"retries,omitempty"`
	Encoding string            `yaml:"encoding,omitempty"`
}

// Duration wraps time.Duration for YAML string parsing (e.g. "10s", "5m").
type Duration struct {
	time.Duration
}

// UnmarshalYAML parses a duration string like "10s" or "5m30s".
func (d *Duration) UnmarshalYAML(unmarshal func(any) error) error {
	var s string
	if err := unmarshal(&s); err != nil {
		return err
	}
	if s == "" {
		return nil
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	d.Duration = parsed
	return nil
}

// ApplyFilter overlays the configured filter values onto p.
func (c *FilterConfig) ApplyFilter(p *types.FilterPolicy) error {
	if c.MaxRating != 0 {
		p.MaxRating = c.MaxRating
	}
	if c.EventSubstring != nil {
		p.EventSubstring = *c.EventSubstring
	}
	if c.SampleRatings != nil {
		p.SampleRatings = *c.SampleRatings
	}
	if len(c.Results) > 0 {
		results, err := ParseResults(c.Results)
		if err != nil {
			return err
		}
		p.AllowedResults = results
	}
	if len(c.Categories) > 0 {
		cats, err := ParseCategories(c.Categories)
		if err != nil {
			return err
		}
		p.AllowedCategories = cats
	}
	return p.Validate()
}

// ParseResults parses result names such as "1-0" or "1/2-1/2".
func ParseResults(names []string) ([]types.Result, error) {
	out := make([]types.Result, 0, len(names))
	for _, n := range names {
		r := types.ParseResult(n)
		if r == types.ResultUnknown {
			return nil, fmt.Errorf("invalid result %q (want 1-0, 0-1 or 1/2-1/2)", n)
		}
		out = append(out, r)
	}
	return out, nil
}

// ParseCategories parses time-control category names.
func ParseCategories(names []string) ([]types.Category, error) {
	out := make([]types.Category, 0, len(names))
	for _, n := range names {
		c, ok := types.ParseCategory(n)
		if !ok {
			return nil, fmt.Errorf("invalid category %q", n)
		}
		out = append(out, c)
	}
	return out, nil
}

// Validate checks enumerated values. Cross-field checks happen when the
// run is assembled.
func (c *Config) Validate() error {
	var errs []error
	switch c.Storage.Backend {
	case "", "fs", "s3":
	default:
		errs = append(errs, fmt.Errorf("storage.backend %q: want fs or s3", c.Storage.Backend))
	}
	switch c.Policy.Name {
	case "", "noop", "strict", "buffered", "streaming":
	default:
		errs = append(errs, fmt.Errorf("policy.name %q: want noop, strict, buffered or streaming", c.Policy.Name))
	}
	switch c.Adapter.Type {
	case "", "webhook", "redis":
	default:
		errs = append(errs, fmt.Errorf("adapter.type %q: want webhook or redis", c.Adapter.Type))
	}
	if c.Fetch.ChunkSize < 0 {
		errs = append(errs, fmt.Errorf("fetch.chunk_size must be positive, got %d", c.Fetch.ChunkSize))
	}
	if c.Fetch.Retries != nil && *c.Fetch.Retries < 0 {
		errs = append(errs, fmt.Errorf("fetch.retries must be >= 0, got %d", *c.Fetch.Retries))
	}
	if c.Storage.Retries != nil && *c.Storage.Retries < 0 {
		errs = append(errs, fmt.Errorf("storage.retries must be >= 0, got %d", *c.Storage.Retries))
	}
	return errors.Join(errs...)
}
