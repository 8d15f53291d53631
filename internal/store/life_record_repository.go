package store

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/color2333/vibingu/internal/types"
	"gorm.io/gorm"
)

// ErrLifeRecordNotFound is returned when a life record lookup misses.
var ErrLifeRecordNotFound = errors.New("life record not found")

// LifeRecordRepository persists types.LifeRecord, the central entity of
// spec.md §3. Grounded on the teacher's customAgentRepository pattern: a
// thin gorm.DB wrapper translating sentinel not-found errors at the boundary.
type LifeRecordRepository struct {
	db *gorm.DB
}

func NewLifeRecordRepository(db *gorm.DB) *LifeRecordRepository {
	return &LifeRecordRepository{db: db}
}

func (r *LifeRecordRepository) Create(ctx context.Context, rec *types.LifeRecord) error {
	row := toLifeRecordRow(rec)
	if err := r.db.WithContext(ctx).Create(row).Error; err != nil {
		return err
	}
	return nil
}

// Save upserts the full row, used by the regenerator (C13).
func (r *LifeRecordRepository) Save(ctx context.Context, rec *types.LifeRecord) error {
	row := toLifeRecordRow(rec)
	return r.db.WithContext(ctx).Save(row).Error
}

func (r *LifeRecordRepository) GetByID(ctx context.Context, id string) (*types.LifeRecord, error) {
	var row lifeRecordRow
	if err := r.db.WithContext(ctx).Where("id = ? AND is_deleted = ?", id, false).First(&row).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrLifeRecordNotFound
		}
		return nil, err
	}
	return fromLifeRecordRow(&row), nil
}

// ListHistory returns non-deleted records ordered newest-first, optionally
// filtered by category, for the /feed/history endpoint (spec.md §6).
func (r *LifeRecordRepository) ListHistory(
	ctx context.Context, category *types.Category, limit, offset int,
) ([]*types.LifeRecord, error) {
	q := r.db.WithContext(ctx).Where("is_deleted = ?", false)
	if category != nil {
		q = q.Where("category = ?", string(*category))
	}
	var rows []lifeRecordRow
	if err := q.Order("submitted_at DESC").Limit(limit).Offset(offset).Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]*types.LifeRecord, 0, len(rows))
	for i := range rows {
		out = append(out, fromLifeRecordRow(&rows[i]))
	}
	return out, nil
}

// SoftDelete marks a record deleted without removing its row, so its usage
// history remains intact for audit. It does not touch the vector collection;
// the delete handler removes the vector entry separately.
func (r *LifeRecordRepository) SoftDelete(ctx context.Context, id string) error {
	res := r.db.WithContext(ctx).Model(&lifeRecordRow{}).Where("id = ?", id).Update("is_deleted", true)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrLifeRecordNotFound
	}
	return nil
}

func (r *LifeRecordRepository) SetVisibility(ctx context.Context, id string, isPublic bool) error {
	res := r.db.WithContext(ctx).Model(&lifeRecordRow{}).Where("id = ? AND is_deleted = ?", id, false).Update("is_public", isPublic)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrLifeRecordNotFound
	}
	return nil
}

// CountNonDeleted supports the vector-index reconciliation check of
// spec.md §4.10 (|collection|/|non_deleted| < 0.95 triggers a rescan).
func (r *LifeRecordRepository) CountNonDeleted(ctx context.Context) (int64, error) {
	var n int64
	err := r.db.WithContext(ctx).Model(&lifeRecordRow{}).Where("is_deleted = ?", false).Count(&n).Error
	return n, err
}

// CountSince counts non-deleted records submitted at or after since, feeding
// the chat context assembler's overview section (C11).
func (r *LifeRecordRepository) CountSince(ctx context.Context, since time.Time) (int64, error) {
	var n int64
	err := r.db.WithContext(ctx).Model(&lifeRecordRow{}).
		Where("is_deleted = ? AND submitted_at >= ?", false, since).Count(&n).Error
	return n, err
}

// CategoryCounts returns the non-deleted record count per category, feeding
// the chat context assembler's overview section (C11).
func (r *LifeRecordRepository) CategoryCounts(ctx context.Context) (map[types.Category]int64, error) {
	var rows []struct {
		Category string
		N        int64
	}
	err := r.db.WithContext(ctx).Model(&lifeRecordRow{}).
		Select("category, count(*) as n").
		Where("is_deleted = ?", false).
		Group("category").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	out := make(map[types.Category]int64, len(rows))
	for _, row := range rows {
		out[types.Category(row.Category)] = row.N
	}
	return out, nil
}

// RecordsSince returns non-deleted records submitted at or after since,
// oldest-first, optionally filtered by category — feeding the chat context
// assembler's time-windowed sections (today/week/month/sleep/mood/activity/
// trend/extremes, C11).
func (r *LifeRecordRepository) RecordsSince(
	ctx context.Context, since time.Time, category *types.Category,
) ([]*types.LifeRecord, error) {
	q := r.db.WithContext(ctx).Where("is_deleted = ? AND submitted_at >= ?", false, since)
	if category != nil {
		q = q.Where("category = ?", string(*category))
	}
	var rows []lifeRecordRow
	if err := q.Order("submitted_at ASC").Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]*types.LifeRecord, 0, len(rows))
	for i := range rows {
		out = append(out, fromLifeRecordRow(&rows[i]))
	}
	return out, nil
}

// IterateNonDeleted streams every non-deleted record through fn in batches,
// used by the vector-index reconciliation rescan.
func (r *LifeRecordRepository) IterateNonDeleted(ctx context.Context, batchSize int, fn func(*types.LifeRecord) error) error {
	var rows []lifeRecordRow
	return r.db.WithContext(ctx).
		Where("is_deleted = ?", false).
		FindInBatches(&rows, batchSize, func(tx *gorm.DB, batch int) error {
			for i := range rows {
				if err := fn(fromLifeRecordRow(&rows[i])); err != nil {
					return err
				}
			}
			return nil
		}).Error
}

// TopTagsSince returns the n most frequent tags across non-deleted records
// submitted at or after since, feeding the tagger's priming vocabulary
// (spec.md §4.6). The tags column is JSON rather than a joinable table, so
// the frequency count happens in Go after a single row fetch.
func (r *LifeRecordRepository) TopTagsSince(ctx context.Context, n int, since time.Time) ([]string, error) {
	var rows []lifeRecordRow
	err := r.db.WithContext(ctx).
		Select("tags").
		Where("is_deleted = ? AND submitted_at >= ?", false, since).
		Find(&rows).Error
	if err != nil {
		return nil, err
	}

	counts := make(map[string]int)
	for i := range rows {
		for _, tag := range rows[i].Tags.unmarshalStrings() {
			counts[tag]++
		}
	}
	tags := make([]string, 0, len(counts))
	for tag := range counts {
		tags = append(tags, tag)
	}
	sort.Slice(tags, func(i, j int) bool {
		if counts[tags[i]] != counts[tags[j]] {
			return counts[tags[i]] > counts[tags[j]]
		}
		return tags[i] < tags[j]
	})
	if len(tags) > n {
		tags = tags[:n]
	}
	return tags, nil
}

func toLifeRecordRow(rec *types.LifeRecord) *lifeRecordRow {
	row := &lifeRecordRow{
		ID:            rec.ID,
		SubmittedAt:   rec.SubmittedAt,
		RecordTime:    rec.RecordTime,
		InputType:     string(rec.InputType),
		RawContent:    rec.RawContent,
		ImagePath:     rec.ImagePath,
		ThumbnailPath: rec.ThumbnailPath,
		ImageSaved:    rec.ImageSaved,
		Category:      string(rec.Category),
		AIInsight:     rec.AIInsight,
		IsDeleted:     rec.IsDeleted,
		IsPublic:      rec.IsPublic,
		IsBookmarked:  rec.IsBookmarked,
	}
	if rec.ImageType != nil {
		s := string(*rec.ImageType)
		row.ImageType = &s
	}
	row.MetaData = marshalJSONColumn(rec.MetaData)
	row.Tags = marshalJSONColumn(rec.Tags)
	row.DimensionScores = marshalJSONColumn(rec.DimensionScores)
	row.FailedPhases = marshalJSONColumn(rec.FailedPhases)
	return row
}

func fromLifeRecordRow(row *lifeRecordRow) *types.LifeRecord {
	rec := &types.LifeRecord{
		ID:            row.ID,
		SubmittedAt:   row.SubmittedAt,
		RecordTime:    row.RecordTime,
		InputType:     types.InputType(row.InputType),
		RawContent:    row.RawContent,
		ImagePath:     row.ImagePath,
		ThumbnailPath: row.ThumbnailPath,
		ImageSaved:    row.ImageSaved,
		Category:      types.Category(row.Category),
		AIInsight:     row.AIInsight,
		IsDeleted:     row.IsDeleted,
		IsPublic:      row.IsPublic,
		IsBookmarked:  row.IsBookmarked,
	}
	if row.ImageType != nil {
		it := types.ImageType(*row.ImageType)
		rec.ImageType = &it
	}
	rec.MetaData = row.MetaData.unmarshalMap()
	rec.Tags = row.Tags.unmarshalStrings()
	rec.FailedPhases = row.FailedPhases.unmarshalStrings()
	if scores := row.DimensionScores.unmarshalIntMap(); scores != nil {
		rec.DimensionScores = make(types.DimensionScores, len(scores))
		for k, v := range scores {
			rec.DimensionScores[types.Dimension(k)] = v
		}
	}
	return rec
}
