package pipeline

import (
	"github.com/color2333/vibingu/internal/types"
)

// secondaryBonus is one category's fixed per-dimension lift, applied in full
// when that category is the record's primary category and at half strength
// when it appears in sub_categories (spec.md §4.7 step 2-3).
type secondaryBonus struct {
	dim   types.Dimension
	delta int
}

// primaryDim maps a category to the single dimension it drives to 65,
// grounded on vibe_calculator.py's category-to-axis weighting, generalized
// here from VibeCalculator's four daily-aggregate axes to the full eight-dim
// per-record model spec.md §4.7 requires.
var primaryDim = map[types.Category]types.Dimension{
	types.CategorySleep:    types.DimBody,
	types.CategoryDiet:     types.DimBody,
	types.CategoryActivity: types.DimBody,
	types.CategoryMood:     types.DimMood,
	types.CategorySocial:   types.DimSocial,
	types.CategoryWork:     types.DimWork,
	types.CategoryGrowth:   types.DimGrowth,
	types.CategoryLeisure:  types.DimLeisure,
	types.CategoryScreen:   types.DimDigital,
}

// secondaryBonuses lists each category's fixed cross-dimension lifts
// (spec.md §4.7 step 3), e.g. sleep quality carries over into mood, exercise
// lifts both mood and leisure.
var secondaryBonuses = map[types.Category][]secondaryBonus{
	types.CategorySleep:    {{types.DimMood, 15}},
	types.CategoryActivity: {{types.DimMood, 15}, {types.DimLeisure, 10}},
	types.CategorySocial:   {{types.DimMood, 10}},
	types.CategoryWork:     {{types.DimMeaning, 10}},
	types.CategoryGrowth:   {{types.DimMeaning, 15}},
}

// ScoreRecord computes the deterministic eight-dim fallback score for a
// single record (C7, spec.md §4.7), used whenever the extractor did not
// return (or the gateway could not produce) a usable dimension_scores block.
func ScoreRecord(category types.Category, subCategories []string, metaData map[string]interface{}) types.DimensionScores {
	scores := types.DimensionScores{}
	for _, d := range types.AllDimensions {
		scores[d] = 0
	}

	primary, ok := primaryDim[category]
	if ok {
		scores[primary] = 65
	}
	for _, bonus := range secondaryBonuses[category] {
		scores[bonus.dim] += bonus.delta
	}

	for _, sub := range subCategories {
		subCat := types.Category(sub)
		if subDim, ok := primaryDim[subCat]; ok {
			if scores[subDim] < 30 {
				scores[subDim] = 30
			}
			for _, bonus := range secondaryBonuses[subCat] {
				scores[bonus.dim] += bonus.delta / 2
			}
		}
	}

	applyMetaAdjustments(scores, category, metaData)

	meaningFloor := 0.30*float64(scores[types.DimGrowth]) +
		0.20*float64(scores[types.DimSocial]) +
		0.20*float64(scores[types.DimWork]) +
		0.15*float64(scores[types.DimLeisure]) +
		0.15*float64(scores[types.DimMood])
	if float64(scores[types.DimMeaning]) < meaningFloor {
		scores[types.DimMeaning] = int(meaningFloor)
	}

	scores.Clamp()
	return scores
}

// applyMetaAdjustments applies the metadata micro-adjustments of spec.md
// §4.7 step 4, reading the numeric/boolean hints the extractor places in
// meta_data for each category.
func applyMetaAdjustments(scores types.DimensionScores, category types.Category, meta map[string]interface{}) {
	switch category {
	case types.CategorySleep:
		if hours, ok := floatField(meta, "duration_hours"); ok {
			switch {
			case hours >= 7 && hours <= 9:
				scores[types.DimBody] += 20
			case hours < 6:
				scores[types.DimBody] -= 10
				scores[types.DimMood] -= 5
			}
		}
		if quality, ok := stringField(meta, "quality"); ok {
			switch quality {
			case "good":
				scores[types.DimBody] += 10
				scores[types.DimMood] += 10
			case "poor":
				scores[types.DimBody] -= 5
				scores[types.DimMood] -= 10
			}
		}
	case types.CategoryDiet:
		if healthy, ok := boolField(meta, "is_healthy"); ok {
			if healthy {
				scores[types.DimBody] += 15
			} else {
				scores[types.DimBody] -= 5
			}
		}
	case types.CategoryActivity:
		if minutes, ok := floatField(meta, "duration_minutes"); ok && minutes >= 30 {
			scores[types.DimBody] += 15
			scores[types.DimMood] += 5
		}
	case types.CategoryScreen:
		if minutes, ok := floatField(meta, "total_minutes"); ok {
			switch {
			case minutes <= 120:
				scores[types.DimDigital] += 25
			case minutes >= 360:
				scores[types.DimDigital] -= 20
			}
		}
	}
}

func floatField(meta map[string]interface{}, key string) (float64, bool) {
	v, ok := meta[key]
	if !ok {
		return 0, false
	}
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	}
	return 0, false
}

func stringField(meta map[string]interface{}, key string) (string, bool) {
	v, ok := meta[key]
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

func boolField(meta map[string]interface{}, key string) (bool, bool) {
	v, ok := meta[key]
	if !ok {
		return false, false
	}
	b, ok := v.(bool)
	return b, ok
}
