package pgn

import (
	"bytes"
	"regexp"
	"strings"

	"github.com/justapithecus/pgnstream/types"
)

var tagPattern = regexp.MustCompile(`^\[\s*([A-Za-z0-9_]+)\s+"((?:[^"\\]|\\.)*)"\s*\]`)

// parseTag parses one tag-pair line. ok is false for malformed lines.
func parseTag(line []byte) (types.Tag, bool) {
	m := tagPattern.FindSubmatch(line)
	if m == nil {
		return types.Tag{}, false
	}
	value := string(m[2])
	if strings.ContainsRune(value, '\\') {
		value = strings.NewReplacer(`\"`, `"`, `\\`, `\`).Replace(value)
	}
	return types.Tag{Name: string(m[1]), Value: value}, true
}

// buildRecord assembles a GameRecord from its tag pairs and text spans.
func buildRecord(offset int64, tags []types.Tag, movetext, transcript []byte) *types.GameRecord {
	rec := &types.GameRecord{
		Offset:     offset,
		Tags:       tags,
		Movetext:   string(bytes.TrimSpace(movetext)),
		Transcript: string(bytes.TrimRight(transcript, " \t\r\n")),
		Result:     types.ResultUnknown,
		Category:   types.CategoryUnknown,
	}
	for _, t := range tags {
		switch t.Name {
		case "Event":
			rec.Event = t.Value
		case "Site":
			rec.Site = t.Value
		case "White":
			rec.White = t.Value
		case "Black":
			rec.Black = t.Value
		case "WhiteElo":
			rec.WhiteRating = types.Rating{Raw: t.Value}
		case "BlackElo":
			rec.BlackRating = types.Rating{Raw: t.Value}
		case "Result":
			rec.Result = types.ParseResult(t.Value)
		case "TimeControl":
			rec.TimeControl = t.Value
			rec.Category = types.CategorizeTimeControl(t.Value)
		}
	}
	return rec
}
