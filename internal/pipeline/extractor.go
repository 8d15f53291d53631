package pipeline

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/color2333/vibingu/internal/gateway"
	"github.com/color2333/vibingu/internal/jsonrepair"
	"github.com/color2333/vibingu/internal/types"
)

// ExtractInput bundles the C5 data extractor's inputs (spec.md §4.5).
type ExtractInput struct {
	ImageType    types.ImageType // "" or ImageTypeOther when there is no image
	ImageBase64  string          // empty when there is no image
	Text         string
	Anchor       time.Time // client-supplied timestamp, never time.Now()
	Nickname     string
	CategoryHint types.Category
	RecordID     string

	// OnRetry, if set, is called once with the attempt number (2) right
	// before the second invocation attempt begins, so a streaming caller
	// can surface a "retry" phase event (spec.md §4.8).
	OnRetry func(attempt int)
}

// ExtractResult is the C5 data extractor's output. Category is left empty
// when the extractor itself did not resolve one (mock mode, or the
// degraded phase-2 fallback); the orchestrator then applies the full
// category-resolution priority chain of spec.md §4.8.
type ExtractResult struct {
	Category        types.Category
	SubCategories   []string
	MetaData        map[string]interface{}
	ReplyText       string
	RecordTime      *time.Time
	DimensionScores types.DimensionScores // nil if fewer than 4 valid dims were returned
	Degraded        bool                  // true if this is the phase-2 synthesized fallback
}

type extractPayload struct {
	Category        string             `json:"category"`
	SubCategories   []string           `json:"sub_categories"`
	MetaData        map[string]interface{} `json:"meta_data"`
	ReplyText       string             `json:"reply_text"`
	RecordTime      string             `json:"record_time"`
	DimensionScores map[string]float64 `json:"dimension_scores"`
}

// Extract runs the C5 extraction step with its one-retry invocation policy:
// on any failure a second attempt is tried with identical inputs; on second
// failure the orchestrator's caller should treat the degraded result as
// phase-2 failing the ai_insight phase (spec.md §4.5, §4.8 phase 2).
func Extract(ctx context.Context, gw Caller, in ExtractInput) ExtractResult {
	if gw == nil || !gw.HasUpstreamCredentials() {
		return mockExtract(in)
	}

	prompt := buildExtractPrompt(in)
	var lastErr error
	for attempt := 1; attempt <= 2; attempt++ {
		if attempt == 2 && in.OnRetry != nil {
			in.OnRetry(attempt)
		}
		result, err := invokeExtract(ctx, gw, in, prompt)
		if err == nil {
			return result
		}
		lastErr = err
		pipelineWarn(ctx, "extract", "attempt failed", map[string]interface{}{"attempt": attempt, "err": err.Error()})
	}
	pipelineError(ctx, "extract", "both attempts failed, synthesizing degraded result", map[string]interface{}{"err": lastErr.Error()})
	return degradedExtract(in, lastErr)
}

func invokeExtract(ctx context.Context, gw Caller, in ExtractInput, prompt string) (ExtractResult, error) {
	messages := []gateway.Message{
		{Role: "system", Content: prompt},
		{Role: "user", Content: in.Text},
	}

	var (
		content string
		err     error
	)
	if in.ImageBase64 != "" {
		res, visionErr := gw.VisionComplete(ctx, prompt+"\n\n"+in.Text, in.ImageBase64, true, "extract_data", in.RecordID)
		content, err = res.Content, visionErr
	} else {
		res, chatErr := gw.ChatComplete(ctx, messages, gateway.ModelText, true, "extract_data", in.RecordID)
		content, err = res.Content, chatErr
	}
	if err != nil {
		return ExtractResult{}, err
	}

	var payload extractPayload
	if parseErr := jsonrepair.Parse(content, &payload); parseErr != nil {
		return ExtractResult{}, parseErr
	}
	return finishExtract(in, payload), nil
}

// finishExtract applies the validation rules shared by every persona:
// category resolution, dimension-score clamping and the <4-valid discard
// rule, record_time resolution, and reply_text fallback (spec.md §4.5).
func finishExtract(in ExtractInput, payload extractPayload) ExtractResult {
	category := types.Category(strings.ToUpper(strings.TrimSpace(payload.Category)))
	if !category.IsValid() {
		category = ""
	}

	var recordTime *time.Time
	if t, ok := ParseRecordTime(payload.RecordTime, in.Anchor); ok {
		recordTime = &t
	}

	scores := clampDimensionScores(payload.DimensionScores)

	reply := strings.TrimSpace(payload.ReplyText)
	if reply == "" {
		reply = strings.TrimSpace(in.Text)
	}
	if reply == "" {
		reply = "recorded"
	}

	meta := payload.MetaData
	if meta == nil {
		meta = map[string]interface{}{}
	}

	return ExtractResult{
		Category:        category,
		SubCategories:   payload.SubCategories,
		MetaData:        meta,
		ReplyText:       reply,
		RecordTime:      recordTime,
		DimensionScores: scores,
	}
}

// clampDimensionScores keeps only values for recognized dimensions, clamps
// them to [0,100], and discards the whole block if fewer than four are
// valid (spec.md §4.5).
func clampDimensionScores(raw map[string]float64) types.DimensionScores {
	if len(raw) == 0 {
		return nil
	}
	out := types.DimensionScores{}
	for _, dim := range types.AllDimensions {
		v, ok := raw[string(dim)]
		if !ok {
			continue
		}
		if v < 0 {
			v = 0
		} else if v > 100 {
			v = 100
		}
		out[dim] = int(v)
	}
	if len(out) < 4 {
		return nil
	}
	return out
}

// degradedExtract synthesizes the phase-2 fallback result after both
// extraction attempts fail (spec.md §4.5, §4.8 phase 2). Category is left
// empty here deliberately: the orchestrator's priority chain (extractor >
// category_hint > classifier_suggestion > MOOD) resolves it.
func degradedExtract(in ExtractInput, cause error) ExtractResult {
	reply := strings.TrimSpace(in.Text)
	if reply == "" {
		reply = "recorded"
	}
	errText := ""
	if cause != nil {
		errText = cause.Error()
	}
	return ExtractResult{
		MetaData:  map[string]interface{}{"_ai_error": errText},
		ReplyText: reply,
		Degraded:  true,
	}
}

// mockExtract reproduces the no-API-key fallback of the original extractor:
// a canned reply with no dimension scores, so the rules scorer (C7) always
// takes over when there is no upstream configured. Category is left empty
// for the same reason as degradedExtract.
func mockExtract(in ExtractInput) ExtractResult {
	reply := strings.TrimSpace(in.Text)
	if reply == "" {
		reply = "Recorded."
	}
	return ExtractResult{
		MetaData:  map[string]interface{}{},
		ReplyText: reply,
	}
}

// buildExtractPrompt dispatches on (image_type, presence-of-image) to pick
// the persona the original system used per input shape (spec.md §4.5).
func buildExtractPrompt(in ExtractInput) string {
	nicknamePreamble := ""
	if strings.TrimSpace(in.Nickname) != "" {
		nicknamePreamble = fmt.Sprintf("Address the user as %q, never as \"user\" or \"you\".\n", in.Nickname)
	}
	anchor := anchorLine(in.Anchor)

	var persona string
	switch {
	case in.ImageBase64 == "":
		persona = "You are a life-log analyst reading a short text note. Never mention an image; there isn't one."
	case in.ImageType == types.ImageTypeSleepScreenshot:
		persona = "You are a sleep-data expert reading a sleep-tracker screenshot. Extract bedtime, wake time, and sleep quality if visible."
	case in.ImageType == types.ImageTypeScreenshot:
		persona = "You are a digital-wellness analyst reading a screen-time screenshot. Extract a per-app time breakdown if visible."
	case in.ImageType == types.ImageTypeActivityScreenshot:
		persona = "You are a fitness-data extractor reading a workout-app screenshot. Extract duration, distance, and calories if visible."
	case in.ImageType == types.ImageTypeFood:
		meal := mealTimePeriod(ToNaiveBeijing(in.Anchor).Hour())
		persona = fmt.Sprintf("You are a nutrition analyst reading a food photo taken around %s (%s). Infer the meal type from the time of day.", meal, in.Anchor.Format("15:04"))
	default:
		persona = "You are a general life-log analyst reading a photo of a moment from the user's day."
	}

	return fmt.Sprintf(`%s

%s%s

Respond as JSON: {"category": "SLEEP|DIET|ACTIVITY|MOOD|SOCIAL|WORK|GROWTH|LEISURE|SCREEN",
"sub_categories": ["..."], "meta_data": {...}, "reply_text": "...",
"record_time": "ISO-8601 or a relative phrase such as today/yesterday/N days ago/last night HH:MM",
"dimension_scores": {"body":0-100,"mood":0-100,"social":0-100,"work":0-100,"growth":0-100,"meaning":0-100,"digital":0-100,"leisure":0-100}}`,
		persona, nicknamePreamble, anchor)
}
