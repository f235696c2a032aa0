// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides the keyed row store for StreakRecord.
//
// Error semantics:
//   - A missing row is reported as ErrNotFound (alias of gorm.ErrRecordNotFound).
//   - A compare-and-swap write that matched no row is reported as ErrConflict.
//   - Any other failure is the raw gorm/driver error.
package repo

import (
	"context"
	"errors"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/tbourn/study-mentor-backend/internal/domain"
)

// ErrNotFound is returned when a requested record does not exist.
// It aliases gorm.ErrRecordNotFound so callers can use either.
var ErrNotFound = gorm.ErrRecordNotFound

// ErrConflict reports that a conditional write lost a race with another writer.
var ErrConflict = errors.New("conflict")

// GetStreak returns the streak row for userID or ErrNotFound.
func GetStreak(ctx context.Context, db *gorm.DB, userID string) (*domain.StreakRecord, error) {
	var rec domain.StreakRecord
	if err := db.WithContext(ctx).Where("user_id = ?", userID).First(&rec).Error; err != nil {
		return nil, err
	}
	return &rec, nil
}

// UpsertStreak inserts rec or, when a row for rec.UserID exists, overwrites its
// date and counter. Concurrent callers race; the last write wins.
func UpsertStreak(ctx context.Context, db *gorm.DB, rec *domain.StreakRecord) error {
	now := time.Now().UTC()
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = now
	}
	rec.UpdatedAt = now
	return db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"last_active_date", "streak_days", "updated_at"}),
	}).Create(rec).Error
}

// SwapStreak writes rec only if the stored row still carries prevDate.
// A nil prevDate means the caller saw no row, so the insert must not
// overwrite one created in the meantime. ErrConflict is returned when
// nothing was written.
func SwapStreak(ctx context.Context, db *gorm.DB, rec *domain.StreakRecord, prevDate *time.Time) error {
	now := time.Now().UTC()
	rec.UpdatedAt = now

	if prevDate == nil {
		rec.CreatedAt = now
		res := db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(rec)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrConflict
		}
		return nil
	}

	res := db.WithContext(ctx).
		Model(&domain.StreakRecord{}).
		Where("user_id = ? AND last_active_date = ?", rec.UserID, datatypes.Date(*prevDate)).
		Updates(map[string]any{
			"last_active_date": rec.LastActiveDate,
			"streak_days":      rec.StreakDays,
			"updated_at":       now,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrConflict
	}
	return nil
}
