// Package gamify implements the phase-7 "gamification update" side effect
// spec.md §4.8/§5 mentions alongside the vector index, scoped to the
// single-user XP/level/streak/badge mechanics of the original service's
// GamificationService (backend/app/services/gamification.py), minus its
// weekly/monthly challenge system, which spec.md never mentions and which
// has no ingestion-time trigger to hang off of.
package gamify

import (
	"context"
	"time"

	"github.com/color2333/vibingu/internal/logger"
	"github.com/color2333/vibingu/internal/pipeline"
	"github.com/color2333/vibingu/internal/types"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var _ pipeline.Gamification = (*Store)(nil)

// xpRewardDailyFirst and xpRewardPerStreakDay mirror the original's
// XP_REWARDS["daily_first"]/["streak_day"]; the streak bonus caps at a
// week, same as the original's `min(current_streak, 7)`.
const (
	xpRewardDailyFirst  = 10
	xpRewardPerStreakDay = 5
	streakBonusCapDays  = 7
)

// levelThresholds is this codebase's own total-XP-to-level table: the
// original's LEVEL_XP_REQUIREMENTS constant lives outside the indexed
// source files, so these thresholds are a fresh but same-shaped geometric
// progression rather than a port of unseen numbers.
var levelThresholds = []int{0, 100, 250, 500, 900, 1500, 2400, 3800, 6000, 9500}

// badgeType names a milestone badge, matching the subset of the original's
// BadgeType enum reachable from record-creation alone (the time-of-day and
// dimension-balance badges need a query the phase-7 hook does not have).
type badgeType string

const (
	badgeFirstRecord badgeType = "first_record"
	badgeWeekStreak  badgeType = "week_streak"
	badgeMonthStreak badgeType = "month_streak"
	badgeCentury     badgeType = "century"
)

type userLevelRow struct {
	ID              string     `gorm:"primaryKey;type:varchar(36)"`
	TotalXP         int        `gorm:"default:0"`
	CurrentLevel    int        `gorm:"default:1"`
	TotalRecords    int        `gorm:"default:0"`
	CurrentStreak   int        `gorm:"default:0"`
	LongestStreak   int        `gorm:"default:0"`
	LastRecordDate  *time.Time
	UpdatedAt       time.Time
}

func (userLevelRow) TableName() string { return "user_level" }

type userBadgeRow struct {
	ID        string `gorm:"primaryKey;type:varchar(36)"`
	BadgeType string `gorm:"type:varchar(50);uniqueIndex"`
	EarnedAt  time.Time
}

func (userBadgeRow) TableName() string { return "user_badge" }

// singleUserRowID is the primary key of the one user_level row this
// single-user deployment ever has (spec.md's Non-goals rule out
// multi-tenancy, so there is no user_id to key on).
const singleUserRowID = "singleton"

// Store persists gamification state and implements pipeline.Gamification.
type Store struct {
	db *gorm.DB
}

// New auto-migrates the gamification tables and returns a Store.
func New(db *gorm.DB) (*Store, error) {
	if err := db.AutoMigrate(&userLevelRow{}, &userBadgeRow{}); err != nil {
		return nil, err
	}
	return &Store{db: db}, nil
}

// Snapshot is the read-facing view of gamification state (for a future
// settings/status endpoint; not itself part of the phase-7 hook).
type Snapshot struct {
	TotalXP       int
	CurrentLevel  int
	TotalRecords  int
	CurrentStreak int
	LongestStreak int
	Badges        []string
}

// OnRecordCreated implements pipeline.Gamification: it advances the daily
// streak, awards XP, recomputes level, and checks milestone badges, mirroring
// the original's update_streak()/add_xp()/award_badge() sequence. Every
// failure here is returned to the caller, which (per spec.md §4.8 phase 7)
// logs it rather than failing the request.
func (s *Store) OnRecordCreated(ctx context.Context, rec *types.LifeRecord) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var row userLevelRow
		err := tx.Where("id = ?", singleUserRowID).First(&row).Error
		if err == gorm.ErrRecordNotFound {
			row = userLevelRow{ID: singleUserRowID, CurrentLevel: 1}
		} else if err != nil {
			return err
		}

		row = applyDailyRecord(row, rec.SubmittedAt)

		if err := tx.Save(&row).Error; err != nil {
			return err
		}

		return s.awardMilestoneBadges(tx, row)
	})
}

func (s *Store) awardMilestoneBadges(tx *gorm.DB, row userLevelRow) error {
	candidates := map[badgeType]bool{
		badgeFirstRecord: row.TotalRecords >= 1,
		badgeWeekStreak:  row.CurrentStreak >= 7,
		badgeMonthStreak: row.CurrentStreak >= 30,
		badgeCentury:     row.TotalRecords >= 100,
	}
	for bt, earned := range candidates {
		if !earned {
			continue
		}
		if err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&userBadgeRow{
			ID:        string(bt),
			BadgeType: string(bt),
			EarnedAt:  time.Now(),
		}).Error; err != nil {
			return err
		}
	}
	return nil
}

// applyDailyRecord advances row by one new-record event at submittedAt,
// mirroring the original's update_streak()/add_xp() sequence: a second
// record on the same calendar day is a no-op; a record the day after the
// last one extends the streak; any larger gap resets it to 1.
func applyDailyRecord(row userLevelRow, submittedAt time.Time) userLevelRow {
	today := submittedAt.Truncate(24 * time.Hour)

	isNewDay := true
	switch {
	case row.LastRecordDate == nil:
		row.CurrentStreak = 1
		if row.LongestStreak < 1 {
			row.LongestStreak = 1
		}
	default:
		daysDiff := int(today.Sub(row.LastRecordDate.Truncate(24 * time.Hour)).Hours() / 24)
		switch daysDiff {
		case 0:
			isNewDay = false
		case 1:
			row.CurrentStreak++
			if row.CurrentStreak > row.LongestStreak {
				row.LongestStreak = row.CurrentStreak
			}
		default:
			row.CurrentStreak = 1
		}
	}

	if isNewDay {
		row.LastRecordDate = &submittedAt
		row.TotalRecords++
		bonusDays := row.CurrentStreak
		if bonusDays > streakBonusCapDays {
			bonusDays = streakBonusCapDays
		}
		row.TotalXP += xpRewardDailyFirst + xpRewardPerStreakDay*bonusDays
		row.CurrentLevel = levelForXP(row.TotalXP)
	}
	row.UpdatedAt = time.Now()
	return row
}

func levelForXP(totalXP int) int {
	level := 1
	for i, threshold := range levelThresholds {
		if totalXP >= threshold {
			level = i + 1
		}
	}
	return level
}

// Snapshot reads the current single-user gamification state.
func (s *Store) Snapshot(ctx context.Context) (Snapshot, error) {
	var row userLevelRow
	if err := s.db.WithContext(ctx).Where("id = ?", singleUserRowID).First(&row).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return Snapshot{CurrentLevel: 1}, nil
		}
		return Snapshot{}, err
	}
	var badges []userBadgeRow
	if err := s.db.WithContext(ctx).Find(&badges).Error; err != nil {
		logger.Warn(ctx, "gamify: loading badges failed", "err", err.Error())
	}
	names := make([]string, 0, len(badges))
	for _, b := range badges {
		names = append(names, b.BadgeType)
	}
	return Snapshot{
		TotalXP:       row.TotalXP,
		CurrentLevel:  row.CurrentLevel,
		TotalRecords:  row.TotalRecords,
		CurrentStreak: row.CurrentStreak,
		LongestStreak: row.LongestStreak,
		Badges:        names,
	}, nil
}
