// Package pipeline implements the seven-phase ingestion pipeline (C4-C9) of
// spec.md §4.4-§4.8: classification, extraction, tagging, scoring and the
// orchestrator that sequences them with per-phase failure isolation.
package pipeline

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// beijing is the fixed UTC+8 offset the original system stores every
// timestamp under. Loading "Asia/Shanghai" would pull in the system tzdata,
// which the teacher's deployments cannot rely on having; a fixed offset is
// what the source system itself used (spec.md §9).
var beijing = time.FixedZone("Asia/Shanghai", 8*60*60)

// ToNaiveBeijing converts t to Beijing local time and strips the zone,
// returning a time.Time whose wall clock fields are the naive local reading
// the SQL store persists (spec.md §9: centralize this conversion in one
// function rather than scattering time.Now() calls through the pipeline).
func ToNaiveBeijing(t time.Time) time.Time {
	local := t.In(beijing)
	return time.Date(local.Year(), local.Month(), local.Day(),
		local.Hour(), local.Minute(), local.Second(), local.Nanosecond(), time.UTC)
}

// ParseClientTime parses a client-supplied ISO-8601 timestamp and converts it
// to naive Beijing local time. An empty string resolves to the anchor,
// matching the "client-supplied anchor" design note: the pipeline never
// calls time.Now() on its own to stamp a record.
func ParseClientTime(raw string, anchor time.Time) time.Time {
	if strings.TrimSpace(raw) == "" {
		return ToNaiveBeijing(anchor)
	}
	for _, layout := range []string{time.RFC3339, time.RFC3339Nano, "2006-01-02T15:04:05", "2006-01-02 15:04:05"} {
		if t, err := time.Parse(layout, raw); err == nil {
			return ToNaiveBeijing(t)
		}
	}
	return ToNaiveBeijing(anchor)
}

var (
	daysAgoRe  = regexp.MustCompile(`^(\d+)\s*days?\s*ago$`)
	lastNightR = regexp.MustCompile(`^last\s*night\s*(\d{1,2}):(\d{2})$`)
)

// ParseRecordTime resolves the extractor's record_time field (spec.md §4.5),
// which may be an ISO-8601 timestamp or one of a small set of relative
// phrases: "today", "yesterday", "N days ago", "last night HH:MM". anchor is
// the request's client-supplied time, never time.Now(). ok is false when raw
// cannot be resolved at all, in which case the caller falls back to
// submitted_at.
func ParseRecordTime(raw string, anchor time.Time) (t time.Time, ok bool) {
	s := strings.ToLower(strings.TrimSpace(raw))
	if s == "" {
		return time.Time{}, false
	}
	naiveAnchor := ToNaiveBeijing(anchor)
	switch {
	case s == "today":
		return naiveAnchor, true
	case s == "yesterday":
		return naiveAnchor.AddDate(0, 0, -1), true
	case daysAgoRe.MatchString(s):
		m := daysAgoRe.FindStringSubmatch(s)
		n, err := strconv.Atoi(m[1])
		if err != nil {
			return time.Time{}, false
		}
		return naiveAnchor.AddDate(0, 0, -n), true
	case lastNightR.MatchString(s):
		m := lastNightR.FindStringSubmatch(s)
		hour, herr := strconv.Atoi(m[1])
		min, merr := strconv.Atoi(m[2])
		if herr != nil || merr != nil {
			return time.Time{}, false
		}
		prevDay := naiveAnchor.AddDate(0, 0, -1)
		return time.Date(prevDay.Year(), prevDay.Month(), prevDay.Day(), hour, min, 0, 0, time.UTC), true
	}
	for _, layout := range []string{time.RFC3339, time.RFC3339Nano, "2006-01-02T15:04:05", "2006-01-02 15:04:05", "2006-01-02"} {
		if parsed, err := time.Parse(layout, raw); err == nil {
			return ToNaiveBeijing(parsed), true
		}
	}
	return time.Time{}, false
}

// TimePeriod is a slot in the Tagger's eight-way time-of-day table.
type TimePeriod string

const (
	PeriodPredawn  TimePeriod = "predawn"
	PeriodMorning  TimePeriod = "morning"
	PeriodForenoon TimePeriod = "forenoon"
	PeriodNoon     TimePeriod = "noon"
	PeriodAfternoon TimePeriod = "afternoon"
	PeriodDusk     TimePeriod = "dusk"
	PeriodEvening  TimePeriod = "evening"
	PeriodLate     TimePeriod = "late"
)

// TaggerTimePeriod classifies an hour into the Tagger's (C6) slot table,
// spec.md §4.6: [5,9)=morning, [9,12)=forenoon, [12,14)=noon, [14,17)=afternoon,
// [17,19)=dusk, [19,22)=evening, [22,24)=late, [0,5)=predawn. This table is
// distinct from mealTimePeriod below and must not be merged with it: the two
// serve different callers (the #time tag vs. meal-type prompt narration).
func TaggerTimePeriod(t time.Time) TimePeriod {
	h := t.Hour()
	switch {
	case h >= 5 && h < 9:
		return PeriodMorning
	case h >= 9 && h < 12:
		return PeriodForenoon
	case h >= 12 && h < 14:
		return PeriodNoon
	case h >= 14 && h < 17:
		return PeriodAfternoon
	case h >= 17 && h < 19:
		return PeriodDusk
	case h >= 19 && h < 22:
		return PeriodEvening
	case h >= 22 && h < 24:
		return PeriodLate
	default:
		return PeriodPredawn
	}
}

// mealTimePeriod classifies an hour into the extractor's eight-slot table,
// used only for meal-type inference and prompt narration in the food
// extraction persona (spec.md §4.5). Its boundaries are the same as
// TaggerTimePeriod's, with Chinese labels; it is kept as a separate function
// because it serves a different caller.
func mealTimePeriod(hour int) string {
	switch {
	case hour >= 5 && hour < 9:
		return "早晨"
	case hour >= 9 && hour < 12:
		return "上午"
	case hour >= 12 && hour < 14:
		return "中午"
	case hour >= 14 && hour < 17:
		return "下午"
	case hour >= 17 && hour < 19:
		return "傍晚"
	case hour >= 19 && hour < 22:
		return "晚间"
	case hour >= 22 && hour < 24:
		return "深夜"
	default:
		return "凌晨"
	}
}

// anchorLine renders the "today is ..., now is ..." prompt preamble the
// extractor and tagger prompts both need (spec.md §4.5).
func anchorLine(anchor time.Time) string {
	naive := ToNaiveBeijing(anchor)
	return fmt.Sprintf("today is %s, now is %s Asia/Shanghai", naive.Format("2006-01-02"), naive.Format("15:04"))
}
