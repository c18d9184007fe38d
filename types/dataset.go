package types //nolint:revive // types is a valid package name

// RecordKind identifies a persisted row type.
type RecordKind string

const (
	// RecordKindGame is a kept game summary.
	RecordKindGame RecordKind = "game"
	// RecordKindRatingSample is a sampled rating pair.
	RecordKindRatingSample RecordKind = "rating_sample"
	// RecordKindMetrics is a run metrics snapshot.
	RecordKindMetrics RecordKind = "metrics"
)

// GameSummary is the persisted row for one kept game.
// The transcript itself lives in the transcript sink; the row carries
// its position there so the two can be joined.
type GameSummary struct {
	RunID            string   `json:"run_id" msgpack:"run_id"`
	Archive          string   `json:"archive" msgpack:"archive"`
	Offset           int64    `json:"offset" msgpack:"offset"`
	Event            string   `json:"event" msgpack:"event"`
	Site             string   `json:"site,omitempty" msgpack:"site,omitempty"`
	White            string   `json:"white,omitempty" msgpack:"white,omitempty"`
	Black            string   `json:"black,omitempty" msgpack:"black,omitempty"`
	WhiteRating      int      `json:"white_rating" msgpack:"white_rating"`
	BlackRating      int      `json:"black_rating" msgpack:"black_rating"`
	Result           Result   `json:"result" msgpack:"result"`
	TimeControl      string   `json:"time_control,omitempty" msgpack:"time_control,omitempty"`
	Category         Category `json:"category" msgpack:"category"`
	TranscriptOffset int64    `json:"transcript_offset" msgpack:"transcript_offset"`
	TranscriptBytes  int      `json:"transcript_bytes" msgpack:"transcript_bytes"`
}

// NewGameSummary builds the row for rec. Ratings are passed already parsed.
func NewGameSummary(runID, archive string, rec *GameRecord, white, black int) *GameSummary {
	return &GameSummary{
		RunID:           runID,
		Archive:         archive,
		Offset:          rec.Offset,
		Event:           rec.Event,
		Site:            rec.Site,
		White:           rec.White,
		Black:           rec.Black,
		WhiteRating:     white,
		BlackRating:     black,
		Result:          rec.Result,
		TimeControl:     rec.TimeControl,
		Category:        rec.Category,
		TranscriptBytes: len(rec.Transcript),
	}
}

// EstimatedSize is a rough in-memory size used for buffer accounting.
func (g *GameSummary) EstimatedSize() int64 {
	return int64(160 + len(g.RunID) + len(g.Archive) + len(g.Event) + len(g.Site) +
		len(g.White) + len(g.Black) + len(g.TimeControl))
}

// RatingSample is one sampled rating pair.
type RatingSample struct {
	RunID       string `json:"run_id" msgpack:"run_id"`
	Archive     string `json:"archive" msgpack:"archive"`
	Offset      int64  `json:"offset" msgpack:"offset"`
	WhiteRating int    `json:"white_rating" msgpack:"white_rating"`
	BlackRating int    `json:"black_rating" msgpack:"black_rating"`
}

// EstimatedSize is a rough in-memory size used for buffer accounting.
func (s *RatingSample) EstimatedSize() int64 {
	return int64(64 + len(s.RunID) + len(s.Archive))
}
