package pipeline

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/color2333/vibingu/internal/gateway"
	"github.com/color2333/vibingu/internal/types"
	"github.com/stretchr/testify/assert"
)

func TestRulesTags_IncludesTimeAndCategoryAndKeywords(t *testing.T) {
	anchor := time.Date(2026, 7, 30, 1, 0, 0, 0, time.UTC) // 09:00 Beijing -> forenoon
	tags := rulesTags(TagInput{
		Text:     "grabbed a coffee before the morning run",
		Category: types.CategoryActivity,
		Anchor:   anchor,
	})
	assert.Contains(t, tags, "#time/forenoon")
	assert.Contains(t, tags, "#body/exercise")
	assert.Contains(t, tags, "#diet/coffee")
	assert.Contains(t, tags, "#body/running")
	assert.LessOrEqual(t, len(tags), 6)
}

func TestRulesTags_CapsAtSix(t *testing.T) {
	tags := rulesTags(TagInput{
		Text:     "coffee run gym book movie game happy tired meeting study",
		Category: types.CategoryMood,
		Anchor:   time.Now(),
	})
	assert.Len(t, tags, 6)
}

func TestRulesTags_NoKeywordsStillHasTimeAndCategory(t *testing.T) {
	tags := rulesTags(TagInput{Text: "quiet afternoon", Category: types.CategorySleep, Anchor: time.Now()})
	assert.GreaterOrEqual(t, len(tags), 1)
	assert.True(t, tags[0] == "#time/"+string(TaggerTimePeriod(ToNaiveBeijing(time.Now()))))
}

func TestGenerate_NoCredentialsUsesRulesFallback(t *testing.T) {
	tags := Generate(nil, nil, TagInput{Text: "a coffee and a book", Category: types.CategoryLeisure, Anchor: time.Now()})
	assert.Contains(t, tags, "#diet/coffee")
	assert.Contains(t, tags, "#leisure/entertainment")
}

func TestEnsureTimeTag_AddsWhenMissing(t *testing.T) {
	anchor := time.Date(2026, 7, 30, 5, 0, 0, 0, time.UTC) // 13:00 Beijing -> noon
	tags := ensureTimeTag([]string{"#mood/happy"}, anchor)
	assert.Equal(t, "#time/noon", tags[0])
	assert.Contains(t, tags, "#mood/happy")
}

func TestEnsureTimeTag_KeepsExisting(t *testing.T) {
	tags := ensureTimeTag([]string{"#time/dusk", "#mood/happy"}, time.Now())
	assert.Equal(t, []string{"#time/dusk", "#mood/happy"}, tags)
}

func TestGenerate_SuccessfulCallEnsuresTimeTag(t *testing.T) {
	caller := &fakeCaller{
		hasCreds: true,
		chatFn: func(messages []gateway.Message, modelKey gateway.ModelKey, jsonMode bool) (gateway.Result, error) {
			return gateway.Result{Content: `["#mood/happy", "#diet/coffee"]`}, nil
		},
	}
	anchor := time.Date(2026, 7, 30, 1, 0, 0, 0, time.UTC) // 09:00 Beijing -> forenoon
	tags := Generate(context.Background(), caller, TagInput{Category: types.CategoryMood, Anchor: anchor})
	assert.Equal(t, "#time/forenoon", tags[0])
	assert.Contains(t, tags, "#diet/coffee")
	assert.Equal(t, 1, caller.chatCalls)
}

func TestGenerate_RetriesOnEmptyThenFallsBackToRules(t *testing.T) {
	caller := &fakeCaller{
		hasCreds: true,
		chatFn: func(messages []gateway.Message, modelKey gateway.ModelKey, jsonMode bool) (gateway.Result, error) {
			return gateway.Result{Content: "[]"}, nil
		},
	}
	tags := Generate(context.Background(), caller, TagInput{Text: "coffee", Category: types.CategoryDiet, Anchor: time.Now()})
	assert.Equal(t, 2, caller.chatCalls)
	assert.Contains(t, tags, "#diet/coffee")
}

func TestGenerate_RetryCallbackFiresOnceBeforeSecondAttempt(t *testing.T) {
	caller := &fakeCaller{
		hasCreds: true,
		chatFn: func(messages []gateway.Message, modelKey gateway.ModelKey, jsonMode bool) (gateway.Result, error) {
			return gateway.Result{Content: "[]"}, nil
		},
	}
	var retries []int
	tags := Generate(context.Background(), caller, TagInput{
		Text: "coffee", Category: types.CategoryDiet, Anchor: time.Now(),
		OnRetry: func(attempt int) { retries = append(retries, attempt) },
	})
	assert.Equal(t, []int{2}, retries)
	assert.Contains(t, tags, "#diet/coffee")
}

func TestGenerate_BothAttemptsErrorFallsBackToRules(t *testing.T) {
	caller := &fakeCaller{
		hasCreds: true,
		chatFn: func(messages []gateway.Message, modelKey gateway.ModelKey, jsonMode bool) (gateway.Result, error) {
			return gateway.Result{}, errors.New("down")
		},
	}
	tags := Generate(context.Background(), caller, TagInput{Category: types.CategoryWork, Anchor: time.Now()})
	assert.Equal(t, 2, caller.chatCalls)
	assert.Contains(t, tags, "#work/task")
}

func TestParseTagResponse_BareArrayAndWrappedObject(t *testing.T) {
	arr := parseTagResponse(`["#a/b", "#c/d"]`)
	assert.Equal(t, []string{"#a/b", "#c/d"}, arr)

	wrapped := parseTagResponse(`{"tags": ["#a/b"]}`)
	assert.Equal(t, []string{"#a/b"}, wrapped)

	assert.Nil(t, parseTagResponse("not json at all and no braces"))
}
