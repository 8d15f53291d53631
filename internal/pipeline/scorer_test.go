package pipeline

import (
	"testing"

	"github.com/color2333/vibingu/internal/types"
	"github.com/stretchr/testify/assert"
)

func TestScoreRecord_SleepPrimaryAndSecondary(t *testing.T) {
	scores := ScoreRecord(types.CategorySleep, nil, map[string]interface{}{
		"duration_hours": 8.0,
		"quality":        "good",
	})
	assert.Equal(t, 95, scores.Get(types.DimBody)) // 65 + 20 (duration) + 10 (quality)
	assert.Equal(t, 25, scores.Get(types.DimMood)) // 15 secondary + 10 (quality)
}

func TestScoreRecord_ActivitySecondaryBonuses(t *testing.T) {
	scores := ScoreRecord(types.CategoryActivity, nil, map[string]interface{}{
		"duration_minutes": 45.0,
	})
	assert.Equal(t, 80, scores.Get(types.DimBody))    // 65 + 15
	assert.Equal(t, 20, scores.Get(types.DimMood))    // 15 secondary + 5 meta
	assert.Equal(t, 10, scores.Get(types.DimLeisure)) // secondary bonus only
}

func TestScoreRecord_SubCategoriesLiftAtHalfStrength(t *testing.T) {
	scores := ScoreRecord(types.CategoryWork, []string{"SOCIAL"}, nil)
	assert.Equal(t, 65, scores.Get(types.DimWork))
	assert.Equal(t, 30, scores.Get(types.DimSocial))  // lifted to the 30 floor
	assert.Equal(t, 5, scores.Get(types.DimMood))     // half of SOCIAL's +10 mood bonus
}

func TestScoreRecord_MeaningFloorFromOtherDims(t *testing.T) {
	scores := ScoreRecord(types.CategoryGrowth, nil, nil)
	// meaning starts at 15 (growth's secondary bonus), but the floor
	// 0.30*growth(65) = 19.5 -> 19 is higher, so it wins.
	assert.Equal(t, 19, scores.Get(types.DimMeaning))
}

func TestScoreRecord_ScreenDigitalAdjustments(t *testing.T) {
	low := ScoreRecord(types.CategoryScreen, nil, map[string]interface{}{"total_minutes": 60.0})
	assert.Equal(t, 90, low.Get(types.DimDigital)) // 65 + 25

	high := ScoreRecord(types.CategoryScreen, nil, map[string]interface{}{"total_minutes": 400.0})
	assert.Equal(t, 45, high.Get(types.DimDigital)) // 65 - 20
}

func TestScoreRecord_AllDimsClampedAndPresent(t *testing.T) {
	scores := ScoreRecord(types.CategoryDiet, nil, map[string]interface{}{"is_healthy": false})
	for _, d := range types.AllDimensions {
		v := scores.Get(d)
		assert.GreaterOrEqual(t, v, 0)
		assert.LessOrEqual(t, v, 100)
	}
	assert.Equal(t, 60, scores.Get(types.DimBody)) // 65 - 5
}

func TestScoreRecord_UnknownCategoryStartsFromZero(t *testing.T) {
	scores := ScoreRecord(types.Category("NOPE"), nil, nil)
	for _, d := range types.AllDimensions {
		assert.Equal(t, 0, scores.Get(d))
	}
}
