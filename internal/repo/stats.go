// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides small aggregate queries used for
// conditional responses (weak ETags) in the HTTP layer.
package repo

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/tbourn/study-mentor-backend/internal/domain"
)

// MessagesStats returns the number of messages in a user's log and the
// CreatedAt of the newest one. Since the log is append-only the pair changes
// on every write. When the user has no messages, latest is nil.
func MessagesStats(ctx context.Context, db *gorm.DB, userID string) (count int64, latest *time.Time, err error) {
	q := db.WithContext(ctx).Model(&domain.Message{}).Where("user_id = ?", userID)

	if err = q.Count(&count).Error; err != nil {
		return 0, nil, err
	}
	if count == 0 {
		return 0, nil, nil
	}

	// avoid MAX() -> TEXT in SQLite
	var row struct {
		CreatedAt time.Time
	}
	err = db.WithContext(ctx).Model(&domain.Message{}).
		Where("user_id = ?", userID).
		Select("created_at").
		Order("created_at DESC").
		Limit(1).
		Scan(&row).Error
	if err != nil {
		return 0, nil, err
	}
	return count, &row.CreatedAt, nil
}
