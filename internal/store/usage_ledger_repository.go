package store

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/color2333/vibingu/internal/types"
	"gorm.io/gorm"
)

// UsageLedgerRepository implements gateway.UsageLedger against Postgres.
// It is deliberately append-only: no update or delete method exists,
// matching spec.md §4.3's "append-only" requirement at the type level.
type UsageLedgerRepository struct {
	db *gorm.DB
}

func NewUsageLedgerRepository(db *gorm.DB) *UsageLedgerRepository {
	return &UsageLedgerRepository{db: db}
}

func (r *UsageLedgerRepository) Write(ctx context.Context, row *types.TokenUsageRow) error {
	if row.ID == "" {
		row.ID = uuid.NewString()
	}
	if row.CreatedAt.IsZero() {
		row.CreatedAt = time.Now()
	}
	dbRow := &tokenUsageRow{
		ID:               row.ID,
		Model:            row.Model,
		Bucket:           string(row.Bucket),
		PromptTokens:     row.PromptTokens,
		CompletionTokens: row.CompletionTokens,
		TotalTokens:      row.TotalTokens,
		EstimatedCostUSD: row.EstimatedCostUSD,
		TaskTag:          row.TaskTag,
		RecordID:         row.RecordID,
		CreatedAt:        row.CreatedAt,
	}
	return r.db.WithContext(ctx).Create(dbRow).Error
}

// SumCostSince supports a cost-to-date admin view; not exposed over HTTP in
// the current surface but kept small and direct rather than unwired.
func (r *UsageLedgerRepository) SumCostSince(ctx context.Context, since time.Time) (float64, error) {
	var total float64
	err := r.db.WithContext(ctx).Model(&tokenUsageRow{}).
		Where("created_at >= ?", since).
		Select("COALESCE(SUM(estimated_cost_usd), 0)").
		Scan(&total).Error
	return total, err
}
