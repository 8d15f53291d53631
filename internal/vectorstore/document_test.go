package vectorstore

import (
	"testing"
	"time"

	"github.com/color2333/vibingu/internal/types"
	"github.com/stretchr/testify/assert"
)

func TestBuildDocument_IncludesAllPresentSections(t *testing.T) {
	rec := &types.LifeRecord{
		SubmittedAt: time.Date(2026, 7, 30, 9, 0, 0, 0, time.UTC), // Thursday
		Category:    types.CategoryDiet,
		RawContent:  "lunch with friends",
		AIInsight:   "a social lunch",
		Tags:        []string{"#diet/lunch", "#time/noon"},
		DimensionScores: types.DimensionScores{
			types.DimSocial: 80,
			types.DimBody:   0, // zero scores are omitted
		},
	}
	doc := BuildDocument(rec)
	assert.Contains(t, doc, "时间: 2026年07月30日 09:00 周四")
	assert.Contains(t, doc, "类别: 饮食")
	assert.Contains(t, doc, "内容: lunch with friends")
	assert.Contains(t, doc, "洞察: a social lunch")
	assert.Contains(t, doc, "标签: #diet/lunch, #time/noon")
	assert.Contains(t, doc, "维度得分: 社交: 80")
	assert.NotContains(t, doc, "身体")
}

func TestBuildDocument_OmitsEmptySections(t *testing.T) {
	rec := &types.LifeRecord{
		SubmittedAt: time.Now(),
		Category:    types.CategoryMood,
	}
	doc := BuildDocument(rec)
	assert.NotContains(t, doc, "内容:")
	assert.NotContains(t, doc, "洞察:")
	assert.NotContains(t, doc, "标签:")
	assert.NotContains(t, doc, "维度得分:")
}

func TestSubCategoriesOf_HandlesBothShapes(t *testing.T) {
	rec1 := &types.LifeRecord{MetaData: map[string]interface{}{"sub_categories": []string{"SOCIAL", "WORK"}}}
	assert.Equal(t, []string{"SOCIAL", "WORK"}, subCategoriesOf(rec1))

	rec2 := &types.LifeRecord{MetaData: map[string]interface{}{"sub_categories": []interface{}{"SOCIAL", "WORK"}}}
	assert.Equal(t, []string{"SOCIAL", "WORK"}, subCategoriesOf(rec2))

	rec3 := &types.LifeRecord{}
	assert.Nil(t, subCategoriesOf(rec3))
}

func TestCapTags_LimitsToN(t *testing.T) {
	tags := []string{"a", "b", "c", "d", "e"}
	assert.Len(t, capTags(tags, 3), 3)
	assert.Equal(t, tags, capTags(tags, 10))
}
