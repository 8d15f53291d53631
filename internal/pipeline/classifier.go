package pipeline

import (
	"context"
	"strings"

	"github.com/color2333/vibingu/internal/gateway"
	"github.com/color2333/vibingu/internal/jsonrepair"
	"github.com/color2333/vibingu/internal/types"
)

// ClassifyResult is the C4 image classifier's output (spec.md §4.4).
type ClassifyResult struct {
	ImageType          types.ImageType
	ShouldSaveImage    bool
	SaveReason         string
	ContentHint        string
	Confidence         float64
	CategorySuggestion types.Category
}

// screenshotish image kinds are never worth keeping on disk: they're cheap
// to regenerate from the source app and expensive to store at volume.
var screenshotish = map[types.ImageType]bool{
	types.ImageTypeScreenshot:         true,
	types.ImageTypeSleepScreenshot:    true,
	types.ImageTypeActivityScreenshot: true,
}

const classifierSystemPrompt = `You are an image classifier for a personal life-logging app. Given a single
photo, classify it into exactly one of: screenshot, sleep_screenshot, food,
activity_screenshot, activity_photo, scenery, selfie, other.

Respond as JSON: {"image_type": "...", "should_save_image": true|false,
"save_reason": "...", "content_hint": "...", "confidence": 0.0-1.0,
"category_suggestion": "SLEEP|DIET|ACTIVITY|MOOD|SOCIAL|WORK|GROWTH|LEISURE|SCREEN"}`

type classifyPayload struct {
	ImageType          string  `json:"image_type"`
	ShouldSaveImage    bool    `json:"should_save_image"`
	SaveReason         string  `json:"save_reason"`
	ContentHint        string  `json:"content_hint"`
	Confidence         float64 `json:"confidence"`
	CategorySuggestion string  `json:"category_suggestion"`
}

// Classify runs the C4 vision call. With no configured upstream credentials
// it falls back to a keyword-matched guess against textHint, grounded on
// image_classifier.py's _mock_classify; any other failure is absorbed into
// the "other, should_save=true" default so phase 1 of the orchestrator never
// itself fails (spec.md §4.4, §4.8 phase 1).
func Classify(ctx context.Context, gw Caller, imageBase64, textHint, recordID string) ClassifyResult {
	if gw == nil || !gw.HasUpstreamCredentials() {
		return mockClassify(textHint)
	}

	fallback := ClassifyResult{ImageType: types.ImageTypeOther, ShouldSaveImage: true}

	result, err := gw.VisionComplete(ctx, classifierSystemPrompt, imageBase64, true, "classify_image", recordID)
	if err != nil {
		pipelineWarn(ctx, "classify", "falling back to other/save", map[string]interface{}{"err": err.Error()})
		return fallback
	}

	var payload classifyPayload
	if parseErr := jsonrepair.Parse(result.Content, &payload); parseErr != nil {
		pipelineWarn(ctx, "classify", "unparseable response, falling back", map[string]interface{}{"err": parseErr.Error()})
		return fallback
	}

	imageType := types.ImageType(strings.ToLower(strings.TrimSpace(payload.ImageType)))
	if imageType == "" {
		imageType = types.ImageTypeOther
	}
	shouldSave := payload.ShouldSaveImage
	if screenshotish[imageType] {
		shouldSave = false
	}

	category := types.Category(strings.ToUpper(strings.TrimSpace(payload.CategorySuggestion)))
	if !category.IsValid() {
		category = ""
	}

	return ClassifyResult{
		ImageType:          imageType,
		ShouldSaveImage:    shouldSave,
		SaveReason:         payload.SaveReason,
		ContentHint:        payload.ContentHint,
		Confidence:         payload.Confidence,
		CategorySuggestion: category,
	}
}

// mockHints maps a set of keywords to the image type and category they
// imply, grounded on image_classifier.py's _mock_classify keyword table.
var mockHints = []struct {
	keywords []string
	result   ClassifyResult
}{
	{
		keywords: []string{"sleep", "wake", "bedtime", "insomnia"},
		result:   ClassifyResult{ImageType: types.ImageTypeSleepScreenshot, CategorySuggestion: types.CategorySleep},
	},
	{
		keywords: []string{"screen", "screen time", "app usage"},
		result:   ClassifyResult{ImageType: types.ImageTypeScreenshot, CategorySuggestion: types.CategoryScreen},
	},
	{
		keywords: []string{"food", "eat", "drink", "coffee", "meal"},
		result:   ClassifyResult{ImageType: types.ImageTypeFood, CategorySuggestion: types.CategoryDiet, ShouldSaveImage: true},
	},
	{
		keywords: []string{"run", "workout", "gym", "exercise"},
		result:   ClassifyResult{ImageType: types.ImageTypeActivityScreenshot, CategorySuggestion: types.CategoryActivity},
	},
}

// mockClassify is the no-credentials fallback: a keyword guess against the
// caller's text hint, defaulting to other/MOOD/unsaved when nothing matches
// (spec.md §4.4, grounded on image_classifier.py's _mock_classify).
func mockClassify(textHint string) ClassifyResult {
	lower := strings.ToLower(textHint)
	for _, h := range mockHints {
		for _, kw := range h.keywords {
			if strings.Contains(lower, kw) {
				return h.result
			}
		}
	}
	return ClassifyResult{ImageType: types.ImageTypeOther, CategorySuggestion: types.CategoryMood}
}
