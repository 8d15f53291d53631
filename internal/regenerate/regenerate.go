// Package regenerate implements C13, the regenerator: given an existing
// life record and a requested subset of {tags, dimension_scores, ai_insight},
// it re-runs the corresponding C6/C7/C5 pipeline step against the record's
// already-stored text, category, and metadata, and commits whichever fields
// succeeded in a single transaction (spec.md §4.12).
package regenerate

import (
	"context"
	"fmt"

	"github.com/color2333/vibingu/internal/pipeline"
	"github.com/color2333/vibingu/internal/store"
	"github.com/color2333/vibingu/internal/types"
)

// Phase names accepted in a regenerate request body (spec.md §6).
const (
	PhaseTags            = "tags"
	PhaseDimensionScores = "dimension_scores"
	PhaseAIInsight       = "ai_insight"
)

// RecordStore is the narrow persistence slice the regenerator needs.
type RecordStore interface {
	GetByID(ctx context.Context, id string) (*types.LifeRecord, error)
	Save(ctx context.Context, rec *types.LifeRecord) error
}

var _ RecordStore = (*store.LifeRecordRepository)(nil)

// Regenerator runs requested pipeline phases against an already-persisted
// record, in place.
type Regenerator struct {
	Records RecordStore
	Gateway pipeline.Caller
}

// Result mirrors the shape returned alongside a FeedResponse refresh: the
// updated record plus the phases that failed to regenerate.
type Result struct {
	Record       *types.LifeRecord
	FailedPhases []string
}

// Run regenerates the requested phases for recordID and persists the result
// in a single Save call. Unknown phase names are ignored rather than
// rejected, matching the forward-compatible spirit of the original request
// body's phases list.
func (r *Regenerator) Run(ctx context.Context, recordID string, phases []string) (Result, error) {
	rec, err := r.Records.GetByID(ctx, recordID)
	if err != nil {
		return Result{}, err
	}

	wanted := make(map[string]bool, len(phases))
	for _, p := range phases {
		wanted[p] = true
	}

	failedPhases := make([]string, 0, len(rec.FailedPhases))
	for _, p := range rec.FailedPhases {
		// Drop prior failures for phases we are about to retry; keep the rest.
		if !wanted[p] {
			failedPhases = append(failedPhases, p)
		}
	}

	// ai_insight is regenerated first: it may opportunistically refresh
	// meta_data and dimension_scores, which the other two phases read.
	if wanted[PhaseAIInsight] {
		if err := r.regenerateAIInsight(ctx, rec); err != nil {
			failedPhases = append(failedPhases, PhaseAIInsight)
		}
	}

	if wanted[PhaseTags] {
		if err := r.regenerateTags(ctx, rec); err != nil {
			failedPhases = append(failedPhases, PhaseTags)
		}
	}

	if wanted[PhaseDimensionScores] {
		r.regenerateDimensionScores(rec)
	}

	rec.FailedPhases = failedPhases
	if err := r.Records.Save(ctx, rec); err != nil {
		return Result{}, fmt.Errorf("regenerate: save failed: %w", err)
	}
	return Result{Record: rec, FailedPhases: failedPhases}, nil
}

// regenerateAIInsight re-runs C5 against the record's stored text/category
// using submitted_at as the time anchor, overwriting ai_insight and
// opportunistically refreshing meta_data and (if previously absent)
// dimension_scores (spec.md §4.12).
func (r *Regenerator) regenerateAIInsight(ctx context.Context, rec *types.LifeRecord) error {
	result := pipeline.Extract(ctx, r.Gateway, pipeline.ExtractInput{
		Text:         rec.RawContent,
		Anchor:       rec.SubmittedAt,
		CategoryHint: rec.Category,
		RecordID:     rec.ID,
	})
	if result.Degraded {
		return fmt.Errorf("regenerate: ai_insight extraction degraded")
	}

	rec.AIInsight = result.ReplyText
	if len(result.MetaData) > 0 {
		rec.MetaData = result.MetaData
	}
	if len(rec.DimensionScores) == 0 && result.DimensionScores != nil {
		rec.DimensionScores = result.DimensionScores
	}
	return nil
}

// regenerateTags re-runs C6 against the record's stored text and category.
// The tagger has no upstream-failure signal of its own beyond an empty
// result, which spec.md §4.6 treats as "fell through to the rules fallback
// and still produced nothing" — treated here as a regeneration failure.
func (r *Regenerator) regenerateTags(ctx context.Context, rec *types.LifeRecord) error {
	tags := pipeline.Generate(ctx, r.Gateway, pipeline.TagInput{
		Text:     rec.RawContent,
		Category: rec.Category,
		MetaData: rec.MetaData,
		Anchor:   rec.SubmittedAt,
		RecordID: rec.ID,
	})
	if len(tags) == 0 {
		return fmt.Errorf("regenerate: tag generation produced no tags")
	}
	rec.Tags = tags
	return nil
}

// regenerateDimensionScores re-runs the deterministic C7 rules scorer; it
// never fails, so dimension_scores is never listed in failed_phases.
func (r *Regenerator) regenerateDimensionScores(rec *types.LifeRecord) {
	subCategories, _ := rec.MetaData["sub_categories"].([]string)
	if subCategories == nil {
		if raw, ok := rec.MetaData["sub_categories"].([]interface{}); ok {
			for _, v := range raw {
				if s, ok := v.(string); ok {
					subCategories = append(subCategories, s)
				}
			}
		}
	}
	rec.DimensionScores = pipeline.ScoreRecord(rec.Category, subCategories, rec.MetaData)
}
