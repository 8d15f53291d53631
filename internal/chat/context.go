// Package chat implements C11, the chat context assembler, and C12, the
// chat streamer: together they turn a user utterance plus the life-record
// store and vector index into a grounded, streamed LLM reply (spec.md
// §4.10, §4.11).
package chat

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/color2333/vibingu/internal/types"
	"github.com/color2333/vibingu/internal/vectorstore"
)

// Length targets of spec.md §4.10: tighter when conversation history is
// already consuming context budget.
const (
	maxDBContextWithHistory     = 800
	maxDBContextWithoutHistory  = 1500
	maxRAGContextWithHistory    = 500
	maxRAGContextWithoutHistory = 800
)

var (
	todayKeywords    = []string{"今天", "今日", "today"}
	weekKeywords     = []string{"本周", "这周", "这一周", "最近一周", "week"}
	monthKeywords    = []string{"本月", "这个月", "month"}
	sleepKeywords    = []string{"睡眠", "睡觉", "休息", "作息", "sleep"}
	moodKeywords     = []string{"心情", "情绪", "心态", "感觉", "mood"}
	activityKeywords = []string{"运动", "锻炼", "健身", "活动", "exercise"}
	trendKeywords    = []string{"趋势", "变化", "trend"}
	bestKeywords     = []string{"最好", "最佳", "最高", "best"}
	worstKeywords    = []string{"最差", "最低", "worst"}
)

// Store is the life-record query slice the context assembler needs.
type Store interface {
	CountNonDeleted(ctx context.Context) (int64, error)
	CountSince(ctx context.Context, since time.Time) (int64, error)
	CategoryCounts(ctx context.Context) (map[types.Category]int64, error)
	RecordsSince(ctx context.Context, since time.Time, category *types.Category) ([]*types.LifeRecord, error)
}

// Searcher is the vector-store slice used for semantic retrieval.
type Searcher interface {
	Search(ctx context.Context, query string, n int, category *types.Category) ([]vectorstore.Match, error)
}

// Assembled is the two context blocks the streamer splices into the
// user-turn message. Kept separate (rather than pre-joined) so length caps
// can be applied independently, matching the original's db_ctx/rag_ctx split.
type Assembled struct {
	DBContext  string
	RAGContext string
}

// Assembler builds the structured context blob of spec.md §4.10: an
// always-present overview, keyword-routed detail sections, and semantic
// retrieval hits.
type Assembler struct {
	Store  Store
	Search Searcher
}

// Assemble builds the context blocks for message as of now — the caller's
// wall clock, passed through rather than read here, matching spec.md §9's
// "avoid time.Now()-style implicit clocks" note. hasHistory tightens the
// length caps per spec.md §4.10.
func (a *Assembler) Assemble(ctx context.Context, message string, now time.Time, hasHistory bool) Assembled {
	maxDB, maxRAG := maxDBContextWithoutHistory, maxRAGContextWithoutHistory
	if hasHistory {
		maxDB, maxRAG = maxDBContextWithHistory, maxRAGContextWithHistory
	}
	return Assembled{
		DBContext:  truncateRunes(a.gatherDBContext(ctx, message, now), maxDB),
		RAGContext: truncateRunes(a.gatherRAGContext(ctx, message), maxRAG),
	}
}

func (a *Assembler) gatherDBContext(ctx context.Context, message string, now time.Time) string {
	if a.Store == nil {
		return ""
	}
	msg := strings.ToLower(message)
	var parts []string

	parts = append(parts, a.overviewSection(ctx, now))
	if containsAny(msg, todayKeywords) {
		parts = append(parts, a.todaySection(ctx, now))
	}
	if containsAny(msg, weekKeywords) {
		parts = append(parts, a.weekSection(ctx, now))
	}
	if containsAny(msg, monthKeywords) {
		parts = append(parts, a.monthSection(ctx, now))
	}
	if containsAny(msg, sleepKeywords) {
		parts = append(parts, a.categoryDetailSection(ctx, now, types.CategorySleep, "睡眠", sleepDetailLine))
	}
	if containsAny(msg, moodKeywords) {
		parts = append(parts, a.categoryDetailSection(ctx, now, types.CategoryMood, "心情", moodDetailLine))
	}
	if containsAny(msg, activityKeywords) {
		parts = append(parts, a.categoryDetailSection(ctx, now, types.CategoryActivity, "运动", activityDetailLine))
	}
	if containsAny(msg, trendKeywords) {
		parts = append(parts, a.trendSection(ctx, now))
	}
	if containsAny(msg, bestKeywords) {
		parts = append(parts, a.extremeDaySection(ctx, now, true))
	}
	if containsAny(msg, worstKeywords) {
		parts = append(parts, a.extremeDaySection(ctx, now, false))
	}

	nonEmpty := make([]string, 0, len(parts))
	for _, p := range parts {
		if p != "" {
			nonEmpty = append(nonEmpty, p)
		}
	}
	return strings.Join(nonEmpty, "\n\n")
}

func (a *Assembler) overviewSection(ctx context.Context, now time.Time) string {
	total, err := a.Store.CountNonDeleted(ctx)
	if err != nil {
		return ""
	}
	weekCount, _ := a.Store.CountSince(ctx, now.AddDate(0, 0, -7))
	cats, _ := a.Store.CategoryCounts(ctx)

	var parts []string
	for _, c := range types.ValidCategories {
		if n, ok := cats[c]; ok && n > 0 {
			parts = append(parts, fmt.Sprintf("%s: %d条", c, n))
		}
	}
	return fmt.Sprintf("[概览] 总记录 %d 条, 最近7天 %d 条。各类别: %s", total, weekCount, strings.Join(parts, ", "))
}

func (a *Assembler) todaySection(ctx context.Context, now time.Time) string {
	start := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	records, err := a.Store.RecordsSince(ctx, start, nil)
	if err != nil || len(records) == 0 {
		return "[今日] 今天还没有记录"
	}

	tally := newCategoryTally()
	var insights []string
	for _, r := range records {
		tally.add(r.Category)
		if r.AIInsight != "" {
			insights = append(insights, fmt.Sprintf("  - [%s] %s", r.Category, truncateRunes(r.AIInsight, 80)))
		}
	}

	result := fmt.Sprintf("[今日] 共 %d 条。类别: %s", len(records), tally.render())
	if len(insights) > 0 {
		if len(insights) > 5 {
			insights = insights[:5]
		}
		result += "\nAI 洞察:\n" + strings.Join(insights, "\n")
	}
	return result
}

func (a *Assembler) weekSection(ctx context.Context, now time.Time) string {
	records, err := a.Store.RecordsSince(ctx, now.AddDate(0, 0, -7), nil)
	if err != nil || len(records) == 0 {
		return "[本周] 无记录"
	}

	dayCount := map[string]int{}
	dayScores := map[string][]float64{}
	for _, r := range records {
		day := r.SubmittedAt.Format("01/02")
		dayCount[day]++
		if avg, ok := averageScore(r.DimensionScores); ok {
			dayScores[day] = append(dayScores[day], avg)
		}
	}
	days := sortedKeys(dayCount)

	lines := []string{fmt.Sprintf("[本周] 共 %d 条", len(records))}
	for _, day := range days {
		scoreStr := ""
		if scores := dayScores[day]; len(scores) > 0 {
			scoreStr = fmt.Sprintf(" 平均 %.0f分", mean(scores))
		}
		lines = append(lines, fmt.Sprintf("  %s: %d条%s", day, dayCount[day], scoreStr))
	}
	return strings.Join(lines, "\n")
}

func (a *Assembler) monthSection(ctx context.Context, now time.Time) string {
	records, err := a.Store.RecordsSince(ctx, now.AddDate(0, 0, -30), nil)
	if err != nil || len(records) == 0 {
		return "[本月] 无记录"
	}

	tally := newCategoryTally()
	var totalScore float64
	var scoreN int
	for _, r := range records {
		tally.add(r.Category)
		if avg, ok := averageScore(r.DimensionScores); ok {
			totalScore += avg
			scoreN++
		}
	}

	scoreStr := ""
	if scoreN > 0 {
		scoreStr = fmt.Sprintf(", 平均状态分 %.1f", totalScore/float64(scoreN))
	}

	type tallied struct {
		cat types.Category
		n   int
	}
	ranked := make([]tallied, 0, len(tally.order))
	for _, c := range tally.order {
		ranked = append(ranked, tallied{c, tally.count[c]})
	}
	sort.SliceStable(ranked, func(i, j int) bool { return ranked[i].n > ranked[j].n })

	parts := make([]string, 0, len(ranked))
	for _, t := range ranked {
		parts = append(parts, fmt.Sprintf("%s: %d", t.cat, t.n))
	}
	return fmt.Sprintf("[本月] 共 %d 条%s。类别: %s", len(records), scoreStr, strings.Join(parts, ", "))
}

type detailLineFn func(r *types.LifeRecord) string

// categoryDetailSection renders the sleep/mood/activity blocks, each a
// 14-day window filtered to one category with a per-record detail line.
func (a *Assembler) categoryDetailSection(
	ctx context.Context, now time.Time, cat types.Category, label string, lineFn detailLineFn,
) string {
	c := cat
	records, err := a.Store.RecordsSince(ctx, now.AddDate(0, 0, -14), &c)
	if err != nil || len(records) == 0 {
		return fmt.Sprintf("[%s] 最近14天无%s记录", label, label)
	}
	lines := []string{fmt.Sprintf("[%s] 最近14天共 %d 条", label, len(records))}
	for _, r := range records {
		lines = append(lines, lineFn(r))
	}
	return strings.Join(lines, "\n")
}

func sleepDetailLine(r *types.LifeRecord) string {
	duration := metaValue(r.MetaData, "duration_hours")
	if duration == "" {
		duration = metaValue(r.MetaData, "total_hours")
	}
	sleepTime := metaValue(r.MetaData, "sleep_time")
	wakeTime := metaValue(r.MetaData, "wake_time")
	insight := truncateRunes(r.AIInsight, 60)

	info := fmt.Sprintf("  %s: ", r.SubmittedAt.Format("01/02"))
	if duration != "" {
		info += duration + "h "
	}
	if sleepTime != "" {
		info += "入睡" + sleepTime + " "
	}
	if wakeTime != "" {
		info += "醒来" + wakeTime + " "
	}
	if insight != "" {
		info += "- " + insight
	}
	return info
}

func moodDetailLine(r *types.LifeRecord) string {
	tags := r.Tags
	if len(tags) > 3 {
		tags = tags[:3]
	}
	tagStr := strings.Join(tags, ", ")
	insight := truncateRunes(r.AIInsight, 60)
	if insight != "" {
		return fmt.Sprintf("  %s: %s - %s", r.SubmittedAt.Format("01/02"), tagStr, insight)
	}
	return fmt.Sprintf("  %s: %s", r.SubmittedAt.Format("01/02"), tagStr)
}

func activityDetailLine(r *types.LifeRecord) string {
	return fmt.Sprintf("  %s: %s", r.SubmittedAt.Format("01/02"), truncateRunes(r.AIInsight, 60))
}

func (a *Assembler) trendSection(ctx context.Context, now time.Time) string {
	records, err := a.Store.RecordsSince(ctx, now.AddDate(0, 0, -14), nil)
	if err != nil || len(records) < 3 {
		return "[趋势] 数据不足"
	}

	dayScores := map[string][]float64{}
	for _, r := range records {
		if avg, ok := averageScore(r.DimensionScores); ok {
			day := r.SubmittedAt.Format("01/02")
			dayScores[day] = append(dayScores[day], avg)
		}
	}
	if len(dayScores) == 0 {
		return "[趋势] 无评分数据"
	}

	lines := []string{"[趋势] 每日平均状态分:"}
	for _, day := range sortedFloatKeys(dayScores) {
		avg := mean(dayScores[day])
		filled := int(avg / 10)
		if filled > 10 {
			filled = 10
		}
		bar := strings.Repeat("█", filled) + strings.Repeat("░", 10-filled)
		lines = append(lines, fmt.Sprintf("  %s: %s %.0f", day, bar, avg))
	}
	return strings.Join(lines, "\n")
}

func (a *Assembler) extremeDaySection(ctx context.Context, now time.Time, best bool) string {
	label := "最佳"
	if !best {
		label = "最差"
	}

	records, err := a.Store.RecordsSince(ctx, now.AddDate(0, 0, -30), nil)
	if err != nil {
		return fmt.Sprintf("[%s日] 数据不足", label)
	}

	dayScores := map[string][]float64{}
	for _, r := range records {
		if avg, ok := averageScore(r.DimensionScores); ok {
			day := r.SubmittedAt.Format("2006-01-02")
			dayScores[day] = append(dayScores[day], avg)
		}
	}
	if len(dayScores) == 0 {
		return fmt.Sprintf("[%s日] 数据不足", label)
	}

	var targetDay string
	var targetAvg float64
	for i, day := range sortedFloatKeys(dayScores) {
		avg := mean(dayScores[day])
		if i == 0 || (best && avg > targetAvg) || (!best && avg < targetAvg) {
			targetDay, targetAvg = day, avg
		}
	}
	return fmt.Sprintf("[%s日] 最近30天%s日: %s 平均分 %.1f", label, label, targetDay, targetAvg)
}

func (a *Assembler) gatherRAGContext(ctx context.Context, message string) string {
	if a.Search == nil {
		return ""
	}
	matches, err := a.Search.Search(ctx, message, 5, nil)
	if err != nil || len(matches) == 0 {
		return ""
	}
	lines := make([]string, 0, len(matches))
	for i, m := range matches {
		lines = append(lines, fmt.Sprintf("[语义检索 %d] (%s %s) %s", i+1, m.Date, m.Category, m.Document))
	}
	return strings.Join(lines, "\n")
}

// categoryTally accumulates per-category counts in first-seen order,
// mirroring the original's defaultdict(int) iteration order.
type categoryTally struct {
	order []types.Category
	count map[types.Category]int
}

func newCategoryTally() *categoryTally {
	return &categoryTally{count: map[types.Category]int{}}
}

func (t *categoryTally) add(c types.Category) {
	if c == "" {
		return
	}
	if _, ok := t.count[c]; !ok {
		t.order = append(t.order, c)
	}
	t.count[c]++
}

func (t *categoryTally) render() string {
	parts := make([]string, 0, len(t.order))
	for _, c := range t.order {
		parts = append(parts, fmt.Sprintf("%s: %d", c, t.count[c]))
	}
	return strings.Join(parts, ", ")
}

func averageScore(scores types.DimensionScores) (float64, bool) {
	if len(scores) == 0 {
		return 0, false
	}
	var sum int
	for _, v := range scores {
		sum += v
	}
	return float64(sum) / float64(len(scores)), true
}

func mean(vals []float64) float64 {
	var sum float64
	for _, v := range vals {
		sum += v
	}
	return sum / float64(len(vals))
}

func sortedKeys(m map[string]int) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func sortedFloatKeys(m map[string][]float64) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func metaValue(meta map[string]interface{}, key string) string {
	v, ok := meta[key]
	if !ok || v == nil {
		return ""
	}
	switch t := v.(type) {
	case string:
		return t
	case float64:
		if t == float64(int64(t)) {
			return fmt.Sprintf("%d", int64(t))
		}
		return fmt.Sprintf("%g", t)
	default:
		return fmt.Sprintf("%v", t)
	}
}

func containsAny(msg string, keywords []string) bool {
	for _, kw := range keywords {
		if strings.Contains(msg, kw) {
			return true
		}
	}
	return false
}

func truncateRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
