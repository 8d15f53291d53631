package store

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ErrSettingNotFound is returned when a settings key has never been written.
var ErrSettingNotFound = errors.New("setting not found")

// SettingsRepository is a small key-value store for process state that must
// survive a restart, such as the user nickname injected into extraction
// prompts (spec.md §4.5) and the last vector-index reconciliation run.
type SettingsRepository struct {
	db *gorm.DB
}

func NewSettingsRepository(db *gorm.DB) *SettingsRepository {
	return &SettingsRepository{db: db}
}

func (r *SettingsRepository) Get(ctx context.Context, key string) (string, error) {
	var row appSettingRow
	if err := r.db.WithContext(ctx).Where("key = ?", key).First(&row).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return "", ErrSettingNotFound
		}
		return "", err
	}
	return row.Value, nil
}

// GetOrDefault returns fallback instead of an error when the key is unset,
// the common case for every caller of this repository.
func (r *SettingsRepository) GetOrDefault(ctx context.Context, key, fallback string) string {
	v, err := r.Get(ctx, key)
	if err != nil {
		return fallback
	}
	return v
}

func (r *SettingsRepository) Set(ctx context.Context, key, value string) error {
	row := &appSettingRow{Key: key, Value: value, UpdatedAt: time.Now()}
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{UpdateAll: true}).Create(row).Error
}
