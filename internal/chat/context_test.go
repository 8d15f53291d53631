package chat

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/color2333/vibingu/internal/types"
	"github.com/color2333/vibingu/internal/vectorstore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeStore struct {
	total    int64
	since    map[string]int64 // keyed by since.Format(time.RFC3339) for CountSince
	cats     map[types.Category]int64
	records  []*types.LifeRecord
	byCat    map[types.Category][]*types.LifeRecord
	countErr error
}

func (f *fakeStore) CountNonDeleted(ctx context.Context) (int64, error) {
	return f.total, f.countErr
}

func (f *fakeStore) CountSince(ctx context.Context, since time.Time) (int64, error) {
	return f.since[since.Format(time.RFC3339)], nil
}

func (f *fakeStore) CategoryCounts(ctx context.Context) (map[types.Category]int64, error) {
	return f.cats, nil
}

func (f *fakeStore) RecordsSince(ctx context.Context, since time.Time, category *types.Category) ([]*types.LifeRecord, error) {
	if category != nil {
		return f.byCat[*category], nil
	}
	return f.records, nil
}

var fixedNow = time.Date(2026, 7, 30, 18, 0, 0, 0, time.UTC) // Thursday

func rec(day string, hour int, cat types.Category, insight string, scores types.DimensionScores) *types.LifeRecord {
	t, _ := time.Parse("2006-01-02 15:04", fmt.Sprintf("%s %02d:00", day, hour))
	return &types.LifeRecord{
		SubmittedAt:     t,
		Category:        cat,
		AIInsight:       insight,
		DimensionScores: scores,
	}
}

func TestAssemble_OverviewAlwaysPresent(t *testing.T) {
	store := &fakeStore{
		total: 42,
		since: map[string]int64{fixedNow.AddDate(0, 0, -7).Format(time.RFC3339): 9},
		cats:  map[types.Category]int64{types.CategorySleep: 3, types.CategoryMood: 6},
	}
	a := &Assembler{Store: store}
	out := a.Assemble(context.Background(), "随便聊聊", fixedNow, false)
	assert.Contains(t, out.DBContext, "[概览] 总记录 42 条, 最近7天 9 条")
	assert.Contains(t, out.DBContext, "SLEEP: 3")
	assert.Contains(t, out.DBContext, "MOOD: 6")
}

func TestAssemble_TodayKeywordAddsSection(t *testing.T) {
	store := &fakeStore{
		records: []*types.LifeRecord{
			rec("2026-07-30", 8, types.CategoryDiet, "breakfast was good", nil),
		},
	}
	a := &Assembler{Store: store}
	out := a.Assemble(context.Background(), "今天过得怎么样", fixedNow, false)
	assert.Contains(t, out.DBContext, "[今日] 共 1 条")
	assert.Contains(t, out.DBContext, "breakfast was good")
}

func TestAssemble_NoKeywordMatchOmitsSections(t *testing.T) {
	store := &fakeStore{total: 1}
	a := &Assembler{Store: store}
	out := a.Assemble(context.Background(), "hello there", fixedNow, false)
	assert.NotContains(t, out.DBContext, "[今日]")
	assert.NotContains(t, out.DBContext, "[本周]")
}

func TestWeekSection_GroupsByDayWithAverageScore(t *testing.T) {
	store := &fakeStore{
		records: []*types.LifeRecord{
			rec("2026-07-28", 9, types.CategoryWork, "", types.DimensionScores{types.DimWork: 80}),
			rec("2026-07-28", 14, types.CategoryWork, "", types.DimensionScores{types.DimWork: 60}),
			rec("2026-07-29", 9, types.CategoryMood, "", types.DimensionScores{types.DimMood: 50}),
		},
	}
	a := &Assembler{Store: store}
	section := a.weekSection(context.Background(), fixedNow)
	assert.Contains(t, section, "[本周] 共 3 条")
	assert.Contains(t, section, "07/28: 2条 平均 70分")
	assert.Contains(t, section, "07/29: 1条 平均 50分")
}

func TestTrendSection_RendersBarAndRequiresMinimumRecords(t *testing.T) {
	store := &fakeStore{records: []*types.LifeRecord{
		rec("2026-07-28", 9, types.CategoryWork, "", types.DimensionScores{types.DimWork: 100}),
	}}
	a := &Assembler{Store: store}
	assert.Equal(t, "[趋势] 数据不足", a.trendSection(context.Background(), fixedNow))

	store.records = append(store.records,
		rec("2026-07-29", 9, types.CategoryWork, "", types.DimensionScores{types.DimWork: 50}),
		rec("2026-07-30", 9, types.CategoryWork, "", types.DimensionScores{types.DimWork: 0}),
	)
	section := a.trendSection(context.Background(), fixedNow)
	assert.Contains(t, section, "██████████")
	assert.Contains(t, section, "░░░░░░░░░░")
}

func TestExtremeDaySection_PicksBestAndWorst(t *testing.T) {
	store := &fakeStore{records: []*types.LifeRecord{
		rec("2026-07-20", 9, types.CategoryWork, "", types.DimensionScores{types.DimWork: 90}),
		rec("2026-07-21", 9, types.CategoryWork, "", types.DimensionScores{types.DimWork: 10}),
	}}
	a := &Assembler{Store: store}
	best := a.extremeDaySection(context.Background(), fixedNow, true)
	worst := a.extremeDaySection(context.Background(), fixedNow, false)
	assert.Contains(t, best, "2026-07-20 平均分 90.0")
	assert.Contains(t, worst, "2026-07-21 平均分 10.0")
}

func TestCategoryDetailSection_SleepRendersDurationAndTimes(t *testing.T) {
	r := rec("2026-07-29", 23, types.CategorySleep, "slept ok", nil)
	r.MetaData = map[string]interface{}{"duration_hours": 7.5, "sleep_time": "23:00", "wake_time": "06:30"}
	store := &fakeStore{byCat: map[types.Category][]*types.LifeRecord{types.CategorySleep: {r}}}
	a := &Assembler{Store: store}
	section := a.categoryDetailSection(context.Background(), fixedNow, types.CategorySleep, "睡眠", sleepDetailLine)
	assert.Contains(t, section, "7.5h")
	assert.Contains(t, section, "入睡23:00")
	assert.Contains(t, section, "醒来06:30")
	assert.Contains(t, section, "slept ok")
}

func TestCategoryDetailSection_EmptyReportsNoRecords(t *testing.T) {
	store := &fakeStore{byCat: map[types.Category][]*types.LifeRecord{}}
	a := &Assembler{Store: store}
	section := a.categoryDetailSection(context.Background(), fixedNow, types.CategoryActivity, "运动", activityDetailLine)
	assert.Equal(t, "[运动] 最近14天无运动记录", section)
}

type fakeSearcher struct {
	matches []vectorstore.Match
	err     error
}

func (f *fakeSearcher) Search(ctx context.Context, query string, n int, category *types.Category) ([]vectorstore.Match, error) {
	return f.matches, f.err
}

func TestAssemble_SemanticRetrievalRendersMatches(t *testing.T) {
	search := &fakeSearcher{matches: []vectorstore.Match{
		{RecordID: "r1", Document: "went for a run", Category: "ACTIVITY", Date: "2026-07-29"},
	}}
	a := &Assembler{Store: &fakeStore{}, Search: search}
	out := a.Assemble(context.Background(), "anything", fixedNow, false)
	assert.Contains(t, out.RAGContext, "[语义检索 1] (2026-07-29 ACTIVITY) went for a run")
}

func TestAssemble_AppliesHistoryLengthCaps(t *testing.T) {
	search := &fakeSearcher{}
	longRec := rec("2026-07-30", 8, types.CategoryDiet, "", nil)
	store := &fakeStore{records: []*types.LifeRecord{longRec}}
	a := &Assembler{Store: store, Search: search}

	withHistory := a.Assemble(context.Background(), "今天", fixedNow, true)
	withoutHistory := a.Assemble(context.Background(), "今天", fixedNow, false)
	require.LessOrEqual(t, len([]rune(withHistory.DBContext)), maxDBContextWithHistory)
	require.LessOrEqual(t, len([]rune(withoutHistory.DBContext)), maxDBContextWithoutHistory)
}
