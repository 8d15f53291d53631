package store

import (
	"fmt"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Open connects to Postgres and auto-migrates the five tables this core
// owns. gorm's AutoMigrate mirrors the teacher's startup sequence; a
// dedicated migration tool was considered and dropped (see DESIGN.md).
func Open(databaseURL string) (*gorm.DB, error) {
	db, err := gorm.Open(postgres.Open(databaseURL), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("store: connect: %w", err)
	}
	if err := db.AutoMigrate(
		&lifeRecordRow{},
		&tokenUsageRow{},
		&chatConversationRow{},
		&chatMessageRow{},
		&appSettingRow{},
	); err != nil {
		return nil, fmt.Errorf("store: automigrate: %w", err)
	}
	return db, nil
}
