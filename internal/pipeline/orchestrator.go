package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/color2333/vibingu/internal/types"
	"github.com/google/uuid"
)

// maxImageBytes is the input-hardening cap of spec.md §4.8: image bytes are
// rejected above 10 MiB.
const maxImageBytes = 10 << 20

// RecordStore is the narrow slice of the life-record repository the
// orchestrator needs, kept as an interface so this package does not import
// internal/store directly.
type RecordStore interface {
	Create(ctx context.Context, rec *types.LifeRecord) error
	Save(ctx context.Context, rec *types.LifeRecord) error
}

// ImageSaver persists an uploaded image to durable storage (filesystem or
// object storage) and returns the stored path plus an optional thumbnail
// path.
type ImageSaver interface {
	Save(ctx context.Context, imageBytes []byte, kind types.ImageType, anchor time.Time) (imagePath string, thumbnailPath string, err error)
}

// VectorIndexer is the C10 dependency phase 7 calls opportunistically.
type VectorIndexer interface {
	Index(ctx context.Context, rec *types.LifeRecord) error
}

// Gamification is the phase-7 side effect that reacts to a newly persisted
// record; failures here are logged only, never surfaced to the caller.
type Gamification interface {
	OnRecordCreated(ctx context.Context, rec *types.LifeRecord) error
}

// Settings is the narrow slice of settings storage the orchestrator reads
// for nickname injection and trending-tag priming.
type Settings interface {
	GetOrDefault(ctx context.Context, key, fallback string) string
}

// TrendingTagSource supplies the tagger's priming vocabulary (spec.md §4.6).
type TrendingTagSource interface {
	TopTagsSince(ctx context.Context, n int, since time.Time) ([]string, error)
}

// Orchestrator sequences C4-C10 into the seven-phase ingestion pipeline of
// spec.md §4.8, isolating each phase's failure into failed_phases rather
// than aborting the whole request.
type Orchestrator struct {
	Gateway  Caller
	Records  RecordStore
	Images   ImageSaver
	Vector   VectorIndexer
	Gamify   Gamification
	Settings Settings
	Trending TrendingTagSource
}

// IngestRequest is the orchestrator's single input shape, shared by both
// entry points (spec.md §4.8).
type IngestRequest struct {
	Text         string
	ImageBytes   []byte
	ClientTime   string // raw ISO-8601 timestamp from the caller, or empty
	CategoryHint types.Category
}

// FeedResponse is the response body of both the request/response and
// streaming entry points, matching spec.md §6's wire shape:
// `{id, category, meta_data, ai_insight, created_at, record_time, image_saved,
// image_path?, thumbnail_path?, tags[], dimension_scores{}, failed_phases[]}`.
type FeedResponse struct {
	ID              string                 `json:"id"`
	Category        types.Category         `json:"category"`
	AIInsight       string                 `json:"ai_insight"`
	Tags            []string               `json:"tags"`
	DimensionScores types.DimensionScores  `json:"dimension_scores"`
	MetaData        map[string]interface{} `json:"meta_data"`
	ImageSaved      bool                   `json:"image_saved"`
	ImagePath       *string                `json:"image_path,omitempty"`
	ThumbnailPath   *string                `json:"thumbnail_path,omitempty"`
	CreatedAt       time.Time              `json:"created_at"`
	RecordTime      *time.Time             `json:"record_time,omitempty"`
	FailedPhases    []string               `json:"failed_phases"`
}

// Validate applies the input-hardening rules of spec.md §4.8: the
// {text, image} presence set must be non-empty, and image bytes must not
// exceed 10 MiB. The streaming entry point calls this synchronously before
// yielding its event generator.
func (req IngestRequest) Validate() error {
	if len(req.Text) == 0 && len(req.ImageBytes) == 0 {
		return fmt.Errorf("pipeline: at least one of text or image must be present")
	}
	if len(req.ImageBytes) > maxImageBytes {
		return fmt.Errorf("pipeline: image exceeds the %d byte limit", maxImageBytes)
	}
	return nil
}

// resolveCategory applies the priority chain of spec.md §4.8: the
// extractor-returned category wins, then the caller's hint, then the
// classifier's suggestion, then MOOD as the ultimate default.
func resolveCategory(extracted, hint, classifierSuggestion types.Category) types.Category {
	for _, c := range []types.Category{extracted, hint, classifierSuggestion} {
		if c.IsValid() {
			return c
		}
	}
	return types.CategoryMood
}

// Ingest runs the non-streaming entry point, returning the final response
// in one call.
func (o *Orchestrator) Ingest(ctx context.Context, anchor time.Time, req IngestRequest) (FeedResponse, error) {
	resp, _, err := o.run(ctx, anchor, req, func(PhaseEvent) {})
	return resp, err
}

// IngestStream runs the streaming entry point. emit is called after every
// phase transition with a phase event; the caller (the HTTP handler) is
// responsible for formatting these as SSE frames and for emitting the
// terminal result/error event once IngestStream returns.
func (o *Orchestrator) IngestStream(ctx context.Context, anchor time.Time, req IngestRequest, emit func(PhaseEvent)) (FeedResponse, error) {
	// run() validates first, satisfying the "validate before yielding the
	// generator" requirement of spec.md §4.8 since no phase event is
	// emitted before that check runs.
	resp, _, err := o.run(ctx, anchor, req, emit)
	return resp, err
}

func (o *Orchestrator) run(ctx context.Context, anchor time.Time, req IngestRequest, emit func(PhaseEvent)) (FeedResponse, []string, error) {
	if err := req.Validate(); err != nil {
		return FeedResponse{}, nil, err
	}

	recordID := uuid.NewString()
	var failedPhases []string
	nickname := ""
	if o.Settings != nil {
		nickname = o.Settings.GetOrDefault(ctx, "nickname", "")
	}

	// Phase 1: classify.
	emit(newPhaseEvent(PhaseClassify, PhaseStart))
	var classify ClassifyResult
	imageBase64 := ""
	if len(req.ImageBytes) > 0 {
		imageBase64 = encodeImage(req.ImageBytes)
		classify = Classify(ctx, o.Gateway, imageBase64, req.Text, recordID)
	} else {
		classify = ClassifyResult{ImageType: types.ImageTypeOther, ShouldSaveImage: false}
	}
	emit(newPhaseEvent(PhaseClassify, PhaseDone))

	// Phase 2: extract.
	emit(newPhaseEvent(PhaseExtract, PhaseStart))
	trending := o.trendingTags(ctx, anchor)
	extract := Extract(ctx, o.Gateway, ExtractInput{
		ImageType:    classify.ImageType,
		ImageBase64:  imageBase64,
		Text:         req.Text,
		Anchor:       anchor,
		Nickname:     nickname,
		CategoryHint: req.CategoryHint,
		RecordID:     recordID,
		OnRetry:      func(int) { emit(newPhaseEvent(PhaseExtract, PhaseRetry)) },
	})
	if extract.Degraded {
		failedPhases = append(failedPhases, string(PhaseExtract))
	}
	emit(newPhaseEvent(PhaseExtract, PhaseDone))

	category := resolveCategory(extract.Category, req.CategoryHint, classify.CategorySuggestion)

	// Phase 3: save image.
	var imagePath, thumbnailPath *string
	imageSaved := false
	if classify.ShouldSaveImage && len(req.ImageBytes) > 0 && o.Images != nil {
		emit(newPhaseEvent(PhaseSaveImage, PhaseStart))
		path, thumb, err := o.Images.Save(ctx, req.ImageBytes, classify.ImageType, anchor)
		if err != nil {
			pipelineWarn(ctx, "orchestrator", "image save failed", map[string]interface{}{"record_id": recordID, "err": err.Error()})
			failedPhases = append(failedPhases, string(PhaseSaveImage))
		} else {
			imagePath = &path
			if thumb != "" {
				thumbnailPath = &thumb
			}
			imageSaved = true
		}
		emit(newPhaseEvent(PhaseSaveImage, PhaseDone))
	}

	// Phase 4: tag.
	emit(newPhaseEvent(PhaseTag, PhaseStart))
	tags := Generate(ctx, o.Gateway, TagInput{
		Text:         req.Text,
		Category:     category,
		MetaData:     extract.MetaData,
		Anchor:       anchor,
		TrendingTags: trending,
		RecordID:     recordID,
		OnRetry:      func(int) { emit(newPhaseEvent(PhaseTag, PhaseRetry)) },
	})
	if len(tags) == 0 {
		failedPhases = append(failedPhases, string(PhaseTag))
	}
	emit(newPhaseEvent(PhaseTag, PhaseDone))

	// Phase 5: score — prefer the extractor's own scores, else the rules
	// fallback (spec.md §4.8 phase 5).
	emit(newPhaseEvent(PhaseScore, PhaseStart))
	scores := extract.DimensionScores
	if scores == nil {
		scores = ScoreRecord(category, extract.SubCategories, extract.MetaData)
	}
	emit(newPhaseEvent(PhaseScore, PhaseDone))

	recordTime := extract.RecordTime
	submittedAt := ToNaiveBeijing(anchor)

	metaData := extract.MetaData
	if len(extract.SubCategories) > 0 {
		if metaData == nil {
			metaData = map[string]interface{}{}
		}
		metaData["sub_categories"] = extract.SubCategories
	}

	rec := &types.LifeRecord{
		ID:              recordID,
		SubmittedAt:     submittedAt,
		RecordTime:      recordTime,
		InputType:       inputTypeFor(req, classify),
		RawContent:      req.Text,
		ImagePath:       imagePath,
		ThumbnailPath:   thumbnailPath,
		ImageSaved:      imageSaved,
		Category:        category,
		ImageType:       imageTypePtr(classify, req),
		MetaData:        metaData,
		AIInsight:       extract.ReplyText,
		Tags:            tags,
		DimensionScores: scores,
		FailedPhases:    failedPhases,
	}

	// Phase 6: persist. Any failure here rolls back and the request fails
	// terminally — this is the one phase not isolated by failed_phases.
	emit(newPhaseEvent(PhasePersist, PhaseStart))
	if err := o.Records.Create(ctx, rec); err != nil {
		return FeedResponse{}, failedPhases, fmt.Errorf("pipeline: persist failed: %w", err)
	}
	pipelineInfo(ctx, "orchestrator", "record persisted", map[string]interface{}{"record_id": recordID, "category": string(category)})
	emit(newPhaseEvent(PhasePersist, PhaseDone))

	// Phase 7: post-commit side effects. Failures are logged and never fail
	// the request; a vector index failure also adds rag_index to failed_phases.
	emit(newPhaseEvent(PhasePostCommit, PhaseStart))
	if o.Gamify != nil {
		if err := o.Gamify.OnRecordCreated(ctx, rec); err != nil {
			pipelineWarn(ctx, "orchestrator", "gamification update failed", map[string]interface{}{"record_id": recordID, "err": err.Error()})
		}
	}
	if o.Vector != nil {
		if err := o.Vector.Index(ctx, rec); err != nil {
			pipelineWarn(ctx, "orchestrator", "vector index failed", map[string]interface{}{"record_id": recordID, "err": err.Error()})
			rec.FailedPhases = append(rec.FailedPhases, string(PhasePostCommit))
		}
	}
	emit(newPhaseEvent(PhasePostCommit, PhaseDone))

	return FeedResponse{
		ID:              rec.ID,
		Category:        rec.Category,
		AIInsight:       rec.AIInsight,
		Tags:            rec.Tags,
		DimensionScores: rec.DimensionScores,
		MetaData:        rec.MetaData,
		ImageSaved:      rec.ImageSaved,
		ImagePath:       rec.ImagePath,
		ThumbnailPath:   rec.ThumbnailPath,
		CreatedAt:       rec.SubmittedAt,
		RecordTime:      rec.RecordTime,
		FailedPhases:    rec.FailedPhases,
	}, rec.FailedPhases, nil
}

func (o *Orchestrator) trendingTags(ctx context.Context, anchor time.Time) []string {
	if o.Trending == nil {
		return nil
	}
	tags, err := o.Trending.TopTagsSince(ctx, 10, anchor.AddDate(0, 0, -7))
	if err != nil {
		pipelineWarn(ctx, "orchestrator", "trending tag lookup failed", map[string]interface{}{"err": err.Error()})
		return nil
	}
	return tags
}

func inputTypeFor(req IngestRequest, classify ClassifyResult) types.InputType {
	if len(req.ImageBytes) == 0 {
		return types.InputText
	}
	if classify.ImageType == types.ImageTypeScreenshot || classify.ImageType == types.ImageTypeSleepScreenshot || classify.ImageType == types.ImageTypeActivityScreenshot {
		return types.InputScreenshot
	}
	return types.InputImage
}

func imageTypePtr(classify ClassifyResult, req IngestRequest) *types.ImageType {
	if len(req.ImageBytes) == 0 {
		return nil
	}
	it := classify.ImageType
	return &it
}
