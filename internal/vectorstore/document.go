// Package vectorstore implements C10, the vector indexer: it renders a
// canonical document for a life record, embeds it, and keeps a pgvector
// collection loosely synchronized with the SQL store (spec.md §4.9).
package vectorstore

import (
	"fmt"
	"strings"

	"github.com/color2333/vibingu/internal/types"
)

var categoryNames = map[types.Category]string{
	types.CategorySleep:    "睡眠",
	types.CategoryDiet:     "饮食",
	types.CategoryActivity: "运动",
	types.CategoryScreen:   "屏幕使用",
	types.CategoryMood:     "心情",
	types.CategorySocial:   "社交",
	types.CategoryWork:     "工作",
	types.CategoryGrowth:   "学习成长",
	types.CategoryLeisure:  "休闲",
}

var dimensionNames = map[types.Dimension]string{
	types.DimBody:    "身体",
	types.DimMood:    "心情",
	types.DimSocial:  "社交",
	types.DimWork:    "工作",
	types.DimGrowth:  "成长",
	types.DimMeaning: "意义",
	types.DimDigital: "数字健康",
	types.DimLeisure: "休闲",
}

var weekdayNames = [...]string{"周一", "周二", "周三", "周四", "周五", "周六", "周日"}

// BuildDocument renders the canonical document text of spec.md §4.9: a time
// line, the Chinese category name, raw content, AI insight, a tags line, and
// a dimension-scores line — the time line is always present, and every other
// section is omitted when its source field is empty, matching the original
// _build_document_text.
func BuildDocument(rec *types.LifeRecord) string {
	var lines []string

	dateStr := rec.SubmittedAt.Format("2006年01月02日 15:04")
	weekday := weekdayNames[int(rec.SubmittedAt.Weekday()+6)%7]
	lines = append(lines, fmt.Sprintf("时间: %s %s", dateStr, weekday))

	if name, ok := categoryNames[rec.Category]; ok {
		lines = append(lines, fmt.Sprintf("类别: %s", name))
	} else if rec.Category != "" {
		lines = append(lines, fmt.Sprintf("类别: %s", rec.Category))
	}

	if rec.RawContent != "" {
		lines = append(lines, fmt.Sprintf("内容: %s", rec.RawContent))
	}
	if rec.AIInsight != "" {
		lines = append(lines, fmt.Sprintf("洞察: %s", rec.AIInsight))
	}
	if len(rec.Tags) > 0 {
		lines = append(lines, fmt.Sprintf("标签: %s", strings.Join(rec.Tags, ", ")))
	}
	if scoreLine := dimensionScoreLine(rec.DimensionScores); scoreLine != "" {
		lines = append(lines, scoreLine)
	}

	return strings.Join(lines, "\n")
}

func dimensionScoreLine(scores types.DimensionScores) string {
	if len(scores) == 0 {
		return ""
	}
	var parts []string
	for _, dim := range types.AllDimensions {
		score, ok := scores[dim]
		if !ok || score <= 0 {
			continue
		}
		name := dimensionNames[dim]
		if name == "" {
			name = string(dim)
		}
		parts = append(parts, fmt.Sprintf("%s: %d", name, score))
	}
	if len(parts) == 0 {
		return ""
	}
	return fmt.Sprintf("维度得分: %s", strings.Join(parts, ", "))
}
