package jsonrepair_test

import (
	"testing"

	"github.com/color2333/vibingu/internal/jsonrepair"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRepair_PlainJSON(t *testing.T) {
	out, err := jsonrepair.Repair(`{"a": 1}`)
	require.NoError(t, err)
	assert.JSONEq(t, `{"a": 1}`, out)
}

func TestRepair_MarkdownFence(t *testing.T) {
	out, err := jsonrepair.Repair("```json\n{\"a\": 1}\n```")
	require.NoError(t, err)
	assert.JSONEq(t, `{"a": 1}`, out)
}

func TestRepair_PlainFence(t *testing.T) {
	out, err := jsonrepair.Repair("```\n{\"a\": 1}\n```")
	require.NoError(t, err)
	assert.JSONEq(t, `{"a": 1}`, out)
}

func TestRepair_ChattyPrefixObject(t *testing.T) {
	out, err := jsonrepair.Repair(`Sure, here is the JSON: {"category": "MOOD"} Hope that helps!`)
	require.NoError(t, err)
	assert.JSONEq(t, `{"category": "MOOD"}`, out)
}

func TestRepair_ChattyArray(t *testing.T) {
	out, err := jsonrepair.Repair(`Tags: ["#time/morning", "#mood/calm"] done`)
	require.NoError(t, err)
	assert.JSONEq(t, `["#time/morning", "#mood/calm"]`, out)
}

func TestRepair_TruncatedObject(t *testing.T) {
	out, err := jsonrepair.Repair(`{"category": "MOOD", "reply_text": "feeling good`)
	require.NoError(t, err)
	var v map[string]interface{}
	require.NoError(t, jsonrepair.Parse(out, &v))
	assert.Equal(t, "MOOD", v["category"])
}

func TestRepair_TruncatedTrailingComma(t *testing.T) {
	out, err := jsonrepair.Repair(`{"tags": ["#mood/calm", "#time/evening",`)
	require.NoError(t, err)
	var v map[string]interface{}
	require.NoError(t, jsonrepair.Parse(out, &v))
	tags, ok := v["tags"].([]interface{})
	require.True(t, ok)
	assert.Len(t, tags, 2)
}

func TestRepair_Unrecoverable(t *testing.T) {
	_, err := jsonrepair.Repair("not json at all and no braces")
	require.Error(t, err)
	var target *jsonrepair.Error
	assert.ErrorAs(t, err, &target)
}

func TestSafe_FallsBackOnFailure(t *testing.T) {
	var v struct {
		Category string `json:"category"`
	}
	jsonrepair.Safe("garbage", &v, map[string]string{"category": "MOOD"})
	assert.Equal(t, "MOOD", v.Category)
}

func TestParse_Empty(t *testing.T) {
	var v map[string]interface{}
	err := jsonrepair.Parse("   ", &v)
	require.Error(t, err)
}
