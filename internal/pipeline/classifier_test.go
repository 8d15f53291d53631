package pipeline

import (
	"context"
	"errors"
	"testing"

	"github.com/color2333/vibingu/internal/gateway"
	"github.com/color2333/vibingu/internal/types"
	"github.com/stretchr/testify/assert"
)

// fakeCaller is a hand-written stand-in for Caller, scripted per test.
type fakeCaller struct {
	hasCreds   bool
	visionFn   func(prompt, imageBase64 string, jsonMode bool) (gateway.Result, error)
	chatFn     func(messages []gateway.Message, modelKey gateway.ModelKey, jsonMode bool) (gateway.Result, error)
	chatCalls  int
	visionCalls int
}

func (f *fakeCaller) HasUpstreamCredentials() bool { return f.hasCreds }

func (f *fakeCaller) VisionComplete(ctx context.Context, prompt, imageBase64 string, jsonMode bool, taskTag, recordID string) (gateway.Result, error) {
	f.visionCalls++
	return f.visionFn(prompt, imageBase64, jsonMode)
}

func (f *fakeCaller) ChatComplete(ctx context.Context, messages []gateway.Message, modelKey gateway.ModelKey, jsonMode bool, taskTag, recordID string) (gateway.Result, error) {
	f.chatCalls++
	return f.chatFn(messages, modelKey, jsonMode)
}

func TestClassify_NoCredentialsUsesMockKeywordGuess(t *testing.T) {
	caller := &fakeCaller{hasCreds: false}
	result := Classify(context.Background(), caller, "", "had a coffee and a quick run this morning", "rec-1")
	assert.Equal(t, types.ImageTypeFood, result.ImageType)
	assert.Equal(t, types.CategoryDiet, result.CategorySuggestion)
	assert.Equal(t, 0, caller.visionCalls)
}

func TestClassify_NoCredentialsNoHintDefaultsToOther(t *testing.T) {
	result := Classify(context.Background(), &fakeCaller{hasCreds: false}, "", "", "rec-1")
	assert.Equal(t, types.ImageTypeOther, result.ImageType)
	assert.Equal(t, types.CategoryMood, result.CategorySuggestion)
}

func TestClassify_SuccessfulCallParsesPayload(t *testing.T) {
	caller := &fakeCaller{
		hasCreds: true,
		visionFn: func(prompt, imageBase64 string, jsonMode bool) (gateway.Result, error) {
			return gateway.Result{Content: `{"image_type":"food","should_save_image":true,"content_hint":"lunch","confidence":0.9,"category_suggestion":"DIET"}`}, nil
		},
	}
	result := Classify(context.Background(), caller, "base64data", "", "rec-1")
	assert.Equal(t, types.ImageTypeFood, result.ImageType)
	assert.True(t, result.ShouldSaveImage)
	assert.Equal(t, types.CategoryDiet, result.CategorySuggestion)
}

func TestClassify_ScreenshotKindsAreNeverSaved(t *testing.T) {
	caller := &fakeCaller{
		hasCreds: true,
		visionFn: func(prompt, imageBase64 string, jsonMode bool) (gateway.Result, error) {
			return gateway.Result{Content: `{"image_type":"sleep_screenshot","should_save_image":true}`}, nil
		},
	}
	result := Classify(context.Background(), caller, "base64data", "", "rec-1")
	assert.False(t, result.ShouldSaveImage)
}

func TestClassify_UpstreamErrorFallsBackToOtherSave(t *testing.T) {
	caller := &fakeCaller{
		hasCreds: true,
		visionFn: func(prompt, imageBase64 string, jsonMode bool) (gateway.Result, error) {
			return gateway.Result{}, errors.New("upstream unavailable")
		},
	}
	result := Classify(context.Background(), caller, "base64data", "", "rec-1")
	assert.Equal(t, types.ImageTypeOther, result.ImageType)
	assert.True(t, result.ShouldSaveImage)
}

func TestClassify_UnparseableResponseFallsBackToOtherSave(t *testing.T) {
	caller := &fakeCaller{
		hasCreds: true,
		visionFn: func(prompt, imageBase64 string, jsonMode bool) (gateway.Result, error) {
			return gateway.Result{Content: "not json"}, nil
		},
	}
	result := Classify(context.Background(), caller, "base64data", "", "rec-1")
	assert.Equal(t, types.ImageTypeOther, result.ImageType)
	assert.True(t, result.ShouldSaveImage)
}
