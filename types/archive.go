package types //nolint:revive // types is a valid package name

import (
	"fmt"
	"strconv"
	"strings"
)

// DefaultArchiveBaseURL is the public Lichess database host.
const DefaultArchiveBaseURL = "https://database.lichess.org"

// DefaultVariant is the variant used when none is given.
const DefaultVariant = "standard"

// ArchiveRef selects one monthly archive.
type ArchiveRef struct {
	Variant string
	Year    int
	Month   int
}

// ParseArchiveRef parses a "YYYY-MM" selector key.
// An empty variant defaults to DefaultVariant.
func ParseArchiveRef(key, variant string) (ArchiveRef, error) {
	year, month, ok := strings.Cut(strings.TrimSpace(key), "-")
	if !ok {
		return ArchiveRef{}, fmt.Errorf("archive key %q: expected YYYY-MM", key)
	}
	y, err := strconv.Atoi(year)
	if err != nil || len(year) != 4 {
		return ArchiveRef{}, fmt.Errorf("archive key %q: invalid year", key)
	}
	m, err := strconv.Atoi(month)
	if err != nil {
		return ArchiveRef{}, fmt.Errorf("archive key %q: invalid month", key)
	}
	if variant == "" {
		variant = DefaultVariant
	}
	ref := ArchiveRef{Variant: variant, Year: y, Month: m}
	if err := ref.Validate(); err != nil {
		return ArchiveRef{}, err
	}
	return ref, nil
}

// Validate checks the month range and variant.
func (a ArchiveRef) Validate() error {
	if a.Variant == "" {
		return fmt.Errorf("archive variant must be non-empty")
	}
	if strings.ContainsAny(a.Variant, "/ ") {
		return fmt.Errorf("archive variant %q contains invalid characters", a.Variant)
	}
	if a.Month < 1 || a.Month > 12 {
		return fmt.Errorf("archive month must be 1-12, got %d", a.Month)
	}
	if a.Year < 1 {
		return fmt.Errorf("archive year must be positive, got %d", a.Year)
	}
	return nil
}

// Key returns the "YYYY-MM" selector.
func (a ArchiveRef) Key() string {
	return fmt.Sprintf("%04d-%02d", a.Year, a.Month)
}

// FileName returns the archive file name on the database host.
func (a ArchiveRef) FileName() string {
	return fmt.Sprintf("lichess_db_%s_rated_%s.pgn.zst", a.Variant, a.Key())
}

// URL returns the archive locator under baseURL.
// An empty baseURL uses DefaultArchiveBaseURL.
func (a ArchiveRef) URL(baseURL string) string {
	if baseURL == "" {
		baseURL = DefaultArchiveBaseURL
	}
	return strings.TrimRight(baseURL, "/") + "/" + a.Variant + "/" + a.FileName()
}

func (a ArchiveRef) String() string {
	return a.Variant + "/" + a.Key()
}
