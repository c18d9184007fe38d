package types //nolint:revive // types is a valid package name

import (
	"strconv"
	"strings"
)

// Result is the outcome of one game.
type Result string

const (
	ResultWhiteWin Result = "1-0"
	ResultBlackWin Result = "0-1"
	ResultDraw     Result = "1/2-1/2"
	ResultUnknown  Result = "*"
)

// ParseResult maps a Result tag value to a Result.
// Anything unrecognized is ResultUnknown.
func ParseResult(s string) Result {
	switch r := Result(strings.TrimSpace(s)); r {
	case ResultWhiteWin, ResultBlackWin, ResultDraw:
		return r
	default:
		return ResultUnknown
	}
}

// AllResults is the set of decisive and drawn results.
func AllResults() []Result {
	return []Result{ResultWhiteWin, ResultBlackWin, ResultDraw}
}

// Rating is a player rating as found in the header.
// Raw keeps the header text so non-numeric values can be reported.
type Rating struct {
	Raw string
}

// Present reports whether the rating tag carried a value.
// Lichess writes "?" for unknown ratings, which counts as absent.
func (r Rating) Present() bool {
	v := strings.TrimSpace(r.Raw)
	return v != "" && v != "?"
}

// Int returns the numeric rating. ok is false when absent or not an integer.
func (r Rating) Int() (int, bool) {
	if !r.Present() {
		return 0, false
	}
	n, err := strconv.Atoi(strings.TrimSpace(r.Raw))
	if err != nil {
		return 0, false
	}
	return n, true
}

// Category is a time-control bucket.
type Category string

const (
	CategoryUltraBullet    Category = "ultrabullet"
	CategoryBullet         Category = "bullet"
	CategoryBlitz          Category = "blitz"
	CategoryRapid          Category = "rapid"
	CategoryClassical      Category = "classical"
	CategoryCorrespondence Category = "correspondence"
	CategoryUnknown        Category = "unknown"
)

// ParseCategory parses a category name, case-insensitive.
func ParseCategory(s string) (Category, bool) {
	switch c := Category(strings.ToLower(strings.TrimSpace(s))); c {
	case CategoryUltraBullet, CategoryBullet, CategoryBlitz, CategoryRapid,
		CategoryClassical, CategoryCorrespondence, CategoryUnknown:
		return c, true
	default:
		return "", false
	}
}

// CategorizeTimeControl buckets a TimeControl tag ("base+increment" in
// seconds) using the estimated duration base + 40*increment.
func CategorizeTimeControl(tc string) Category {
	tc = strings.TrimSpace(tc)
	switch tc {
	case "":
		return CategoryUnknown
	case "-":
		return CategoryCorrespondence
	}
	baseStr, incStr, _ := strings.Cut(tc, "+")
	base, err := strconv.Atoi(baseStr)
	if err != nil || base < 0 {
		return CategoryUnknown
	}
	inc := 0
	if incStr != "" {
		inc, err = strconv.Atoi(incStr)
		if err != nil || inc < 0 {
			return CategoryUnknown
		}
	}
	switch est := base + 40*inc; {
	case est < 30:
		return CategoryUltraBullet
	case est < 180:
		return CategoryBullet
	case est < 480:
		return CategoryBlitz
	case est < 1500:
		return CategoryRapid
	default:
		return CategoryClassical
	}
}

// GameRecord is one parsed game. Immutable once emitted by the parser.
type GameRecord struct {
	// Offset is the position of the record's first byte in the decoded stream.
	Offset int64

	Event       string
	Site        string
	White       string
	Black       string
	WhiteRating Rating
	BlackRating Rating
	Result      Result
	TimeControl string
	Category    Category

	// Tags holds every tag pair in header order.
	Tags []Tag
	// Movetext is the move section, possibly empty.
	Movetext string
	// Transcript is the raw record text without trailing blank lines.
	Transcript string
}

// Tag is one header tag pair.
type Tag struct {
	Name  string
	Value string
}

// Tag returns the first value for name and whether it was present.
func (g *GameRecord) Tag(name string) (string, bool) {
	for _, t := range g.Tags {
		if t.Name == name {
			return t.Value, true
		}
	}
	return "", false
}
