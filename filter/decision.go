// Package filter applies the inclusion policy to parsed games and writes
// accepted transcripts and sampled ratings to their sinks.
package filter

import (
	"fmt"

	"github.com/justapithecus/pgnstream/types"
)

// Verdict is the outcome for one record.
type Verdict int

const (
	// Skip drops the record.
	Skip Verdict = iota
	// Keep writes the record's transcript.
	Keep
)

func (v Verdict) String() string {
	if v == Keep {
		return "keep"
	}
	return "skip"
}

// SkipReason says why a record was skipped.
type SkipReason string

const (
	ReasonNone               SkipReason = ""
	ReasonEventMismatch      SkipReason = "event_mismatch"
	ReasonResultNotAllowed   SkipReason = "result_not_allowed"
	ReasonRatingMissing      SkipReason = "rating_missing"
	ReasonRatingNotNumeric   SkipReason = "rating_not_numeric"
	ReasonCategoryNotAllowed SkipReason = "category_not_allowed"
	ReasonRatingAboveCeiling SkipReason = "rating_above_ceiling"
)

// Decision is the typed result of evaluating one record.
type Decision struct {
	Verdict Verdict
	Reason  SkipReason
	// Sample is true when both ratings go to the ratings sink.
	Sample bool
	// WhiteRating and BlackRating are valid when both ratings are numeric.
	WhiteRating int
	BlackRating int
	// Warning describes a recoverable malformed field, "" if none.
	Warning string
}

// Kept reports whether the verdict is Keep.
func (d Decision) Kept() bool { return d.Verdict == Keep }

func skip(reason SkipReason) Decision {
	return Decision{Verdict: Skip, Reason: reason}
}

// Evaluate applies policy to rec. It never fails: malformed fields yield
// a Skip carrying a warning.
//
// Sampling depends only on the event and result criteria and on both
// ratings being numeric. The rating ceiling and category restriction
// affect the verdict alone.
func Evaluate(rec *types.GameRecord, policy *types.FilterPolicy) Decision {
	if !policy.MatchesEvent(rec.Event) {
		return skip(ReasonEventMismatch)
	}
	if !policy.AllowsResult(rec.Result) {
		return skip(ReasonResultNotAllowed)
	}

	if !rec.WhiteRating.Present() || !rec.BlackRating.Present() {
		return skip(ReasonRatingMissing)
	}
	white, wok := rec.WhiteRating.Int()
	black, bok := rec.BlackRating.Int()
	if !wok || !bok {
		d := skip(ReasonRatingNotNumeric)
		d.Warning = fmt.Sprintf("non-numeric rating (white=%q, black=%q)", rec.WhiteRating.Raw, rec.BlackRating.Raw)
		return d
	}

	d := Decision{
		Verdict:     Keep,
		Sample:      policy.SampleRatings,
		WhiteRating: white,
		BlackRating: black,
	}
	switch {
	case !policy.AllowsCategory(rec.Category):
		d.Verdict, d.Reason = Skip, ReasonCategoryNotAllowed
	case white > policy.MaxRating || black > policy.MaxRating:
		d.Verdict, d.Reason = Skip, ReasonRatingAboveCeiling
	}
	return d
}
