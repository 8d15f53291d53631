package pipeline

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/color2333/vibingu/internal/gateway"
	"github.com/color2333/vibingu/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtract_NoCredentialsUsesMock(t *testing.T) {
	result := Extract(context.Background(), &fakeCaller{hasCreds: false}, ExtractInput{Text: "had lunch"})
	assert.Equal(t, "had lunch", result.ReplyText)
	assert.Empty(t, result.Category) // orchestrator resolves category, not the extractor in mock mode
	assert.Nil(t, result.DimensionScores)
	assert.False(t, result.Degraded)
}

func TestExtract_NoCredentialsNoTextUsesDefaultReply(t *testing.T) {
	result := Extract(context.Background(), &fakeCaller{hasCreds: false}, ExtractInput{})
	assert.Equal(t, "Recorded.", result.ReplyText)
}

func TestExtract_SuccessfulFirstAttempt(t *testing.T) {
	caller := &fakeCaller{
		hasCreds: true,
		chatFn: func(messages []gateway.Message, modelKey gateway.ModelKey, jsonMode bool) (gateway.Result, error) {
			return gateway.Result{Content: `{"category":"DIET","sub_categories":["SOCIAL"],"meta_data":{"is_healthy":true},"reply_text":"Lunch with friends","record_time":"today","dimension_scores":{"body":70,"mood":60,"social":80,"work":10}}`}, nil
		},
	}
	result := Extract(context.Background(), caller, ExtractInput{Text: "lunch with friends", Anchor: time.Date(2026, 7, 30, 4, 0, 0, 0, time.UTC)})
	require.NotNil(t, result.DimensionScores)
	assert.Equal(t, types.CategoryDiet, result.Category)
	assert.Equal(t, []string{"SOCIAL"}, result.SubCategories)
	assert.Equal(t, "Lunch with friends", result.ReplyText)
	assert.Equal(t, 70, result.DimensionScores.Get(types.DimBody))
	require.NotNil(t, result.RecordTime)
	assert.Equal(t, 1, caller.chatCalls)
}

func TestExtract_FewerThanFourDimsDiscardsScoreBlock(t *testing.T) {
	caller := &fakeCaller{
		hasCreds: true,
		chatFn: func(messages []gateway.Message, modelKey gateway.ModelKey, jsonMode bool) (gateway.Result, error) {
			return gateway.Result{Content: `{"category":"MOOD","dimension_scores":{"body":70,"mood":60}}`}, nil
		},
	}
	result := Extract(context.Background(), caller, ExtractInput{Text: "ok"})
	assert.Nil(t, result.DimensionScores)
}

func TestExtract_OutOfRangeScoresAreClamped(t *testing.T) {
	caller := &fakeCaller{
		hasCreds: true,
		chatFn: func(messages []gateway.Message, modelKey gateway.ModelKey, jsonMode bool) (gateway.Result, error) {
			return gateway.Result{Content: `{"category":"MOOD","dimension_scores":{"body":150,"mood":-20,"social":50,"work":50}}`}, nil
		},
	}
	result := Extract(context.Background(), caller, ExtractInput{Text: "ok"})
	require.NotNil(t, result.DimensionScores)
	assert.Equal(t, 100, result.DimensionScores.Get(types.DimBody))
	assert.Equal(t, 0, result.DimensionScores.Get(types.DimMood))
}

func TestExtract_RetriesOnceThenSucceeds(t *testing.T) {
	attempt := 0
	caller := &fakeCaller{
		hasCreds: true,
		chatFn: func(messages []gateway.Message, modelKey gateway.ModelKey, jsonMode bool) (gateway.Result, error) {
			attempt++
			if attempt == 1 {
				return gateway.Result{}, errors.New("transient upstream error")
			}
			return gateway.Result{Content: `{"category":"MOOD","reply_text":"fine"}`}, nil
		},
	}
	result := Extract(context.Background(), caller, ExtractInput{Text: "ok"})
	assert.Equal(t, 2, attempt)
	assert.False(t, result.Degraded)
	assert.Equal(t, types.CategoryMood, result.Category)
}

func TestExtract_RetryCallbackFiresOnlyBeforeSecondAttempt(t *testing.T) {
	attempt := 0
	caller := &fakeCaller{
		hasCreds: true,
		chatFn: func(messages []gateway.Message, modelKey gateway.ModelKey, jsonMode bool) (gateway.Result, error) {
			attempt++
			if attempt == 1 {
				return gateway.Result{}, errors.New("transient upstream error")
			}
			return gateway.Result{Content: `{"category":"MOOD","reply_text":"fine"}`}, nil
		},
	}
	var retries []int
	result := Extract(context.Background(), caller, ExtractInput{
		Text:    "ok",
		OnRetry: func(attempt int) { retries = append(retries, attempt) },
	})
	assert.False(t, result.Degraded)
	assert.Equal(t, []int{2}, retries)
}

func TestExtract_BothAttemptsFailSynthesizesDegradedResult(t *testing.T) {
	caller := &fakeCaller{
		hasCreds: true,
		chatFn: func(messages []gateway.Message, modelKey gateway.ModelKey, jsonMode bool) (gateway.Result, error) {
			return gateway.Result{}, errors.New("upstream down")
		},
	}
	result := Extract(context.Background(), caller, ExtractInput{Text: "log this", CategoryHint: types.CategoryWork})
	assert.True(t, result.Degraded)
	assert.Empty(t, result.Category) // orchestrator applies category_hint priority, not the extractor
	assert.Equal(t, "log this", result.ReplyText)
	assert.Contains(t, result.MetaData, "_ai_error")
}

func TestExtract_InvalidCategoryIsRejected(t *testing.T) {
	caller := &fakeCaller{
		hasCreds: true,
		chatFn: func(messages []gateway.Message, modelKey gateway.ModelKey, jsonMode bool) (gateway.Result, error) {
			return gateway.Result{Content: `{"category":"NOT_A_REAL_CATEGORY","reply_text":"x"}`}, nil
		},
	}
	result := Extract(context.Background(), caller, ExtractInput{Text: "x"})
	assert.Empty(t, result.Category)
}

func TestBuildExtractPrompt_DispatchesByImageType(t *testing.T) {
	anchor := time.Date(2026, 7, 30, 4, 0, 0, 0, time.UTC)

	textOnly := buildExtractPrompt(ExtractInput{Anchor: anchor})
	assert.Contains(t, textOnly, "Never mention an image")

	sleep := buildExtractPrompt(ExtractInput{Anchor: anchor, ImageBase64: "x", ImageType: types.ImageTypeSleepScreenshot})
	assert.Contains(t, sleep, "sleep-data expert")

	food := buildExtractPrompt(ExtractInput{Anchor: anchor, ImageBase64: "x", ImageType: types.ImageTypeFood})
	assert.Contains(t, food, "nutrition analyst")
}

func TestBuildExtractPrompt_InjectsNickname(t *testing.T) {
	prompt := buildExtractPrompt(ExtractInput{Nickname: "Robin"})
	assert.Contains(t, prompt, `"Robin"`)
}
