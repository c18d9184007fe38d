package types //nolint:revive // types is a valid package name

import (
	"errors"
	"strings"
)

// FilterPolicy is the inclusion policy for one run. Read-only once the run starts.
type FilterPolicy struct {
	// MaxRating is the ceiling applied to both players.
	MaxRating int
	// EventSubstring must occur in the Event tag, case-insensitive.
	// Empty matches every event.
	EventSubstring string
	// AllowedResults is the accepted result set. Empty allows every
	// decisive or drawn result.
	AllowedResults []Result
	// SampleRatings appends both ratings to the ratings sink whenever the
	// event and result criteria pass, independent of MaxRating.
	SampleRatings bool
	// AllowedCategories restricts time-control categories. Empty allows all.
	AllowedCategories []Category
}

// DefaultFilterPolicy mirrors the blitz sub-1200 extraction.
func DefaultFilterPolicy() FilterPolicy {
	return FilterPolicy{
		MaxRating:      1200,
		EventSubstring: "Blitz",
		AllowedResults: AllResults(),
		SampleRatings:  true,
	}
}

// Validate checks the policy for obvious misconfiguration.
func (p *FilterPolicy) Validate() error {
	if p.MaxRating <= 0 {
		return errors.New("max rating must be positive")
	}
	for _, r := range p.AllowedResults {
		if ParseResult(string(r)) == ResultUnknown {
			return errors.New("allowed results may only contain 1-0, 0-1 or 1/2-1/2")
		}
	}
	return nil
}

// AllowsResult reports whether r is in the allowed set.
func (p *FilterPolicy) AllowsResult(r Result) bool {
	if len(p.AllowedResults) == 0 {
		return r != ResultUnknown
	}
	for _, a := range p.AllowedResults {
		if a == r {
			return true
		}
	}
	return false
}

// AllowsCategory reports whether c passes the category restriction.
func (p *FilterPolicy) AllowsCategory(c Category) bool {
	if len(p.AllowedCategories) == 0 {
		return true
	}
	for _, a := range p.AllowedCategories {
		if a == c {
			return true
		}
	}
	return false
}

// MatchesEvent reports whether event contains the substring, case-insensitive.
func (p *FilterPolicy) MatchesEvent(event string) bool {
	return strings.Contains(strings.ToLower(event), strings.ToLower(p.EventSubstring))
}
