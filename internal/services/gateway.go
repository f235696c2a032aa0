package services

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/tbourn/study-mentor-backend/internal/domain"
	"github.com/tbourn/study-mentor-backend/internal/repo"
)

// StreakRepo defines the repository contract required by StreakService.
type StreakRepo interface {
	// GetStreak returns the user's row or repo.ErrNotFound.
	GetStreak(ctx context.Context, db *gorm.DB, userID string) (*domain.StreakRecord, error)

	// UpsertStreak inserts or overwrites the user's row.
	UpsertStreak(ctx context.Context, db *gorm.DB, rec *domain.StreakRecord) error

	// SwapStreak writes only if the row still carries prevDate (nil: no row).
	SwapStreak(ctx context.Context, db *gorm.DB, rec *domain.StreakRecord, prevDate *time.Time) error
}

// MessageRepo defines the repository contract required by ConversationService.
type MessageRepo interface {
	AppendMessage(ctx context.Context, db *gorm.DB, userID string, role domain.Role, content string) (*domain.Message, error)
	ListMessages(ctx context.Context, db *gorm.DB, userID string) ([]domain.Message, error)
	CountMessages(ctx context.Context, db *gorm.DB, userID string) (int64, error)
	ListMessagesPage(ctx context.Context, db *gorm.DB, userID string, offset, limit int) ([]domain.Message, error)
	GetMessage(ctx context.Context, db *gorm.DB, id, userID string) (*domain.Message, error)
	MessagesStats(ctx context.Context, db *gorm.DB, userID string) (int64, *time.Time, error)
}

// GormRepo implements StreakRepo and MessageRepo with the repo package.
type GormRepo struct{}

var (
	_ StreakRepo  = GormRepo{}
	_ MessageRepo = GormRepo{}
)

func (GormRepo) GetStreak(ctx context.Context, db *gorm.DB, userID string) (*domain.StreakRecord, error) {
	return repo.GetStreak(ctx, db, userID)
}

func (GormRepo) UpsertStreak(ctx context.Context, db *gorm.DB, rec *domain.StreakRecord) error {
	return repo.UpsertStreak(ctx, db, rec)
}

func (GormRepo) SwapStreak(ctx context.Context, db *gorm.DB, rec *domain.StreakRecord, prevDate *time.Time) error {
	return repo.SwapStreak(ctx, db, rec, prevDate)
}

func (GormRepo) AppendMessage(ctx context.Context, db *gorm.DB, userID string, role domain.Role, content string) (*domain.Message, error) {
	return repo.AppendMessage(ctx, db, userID, role, content)
}

func (GormRepo) ListMessages(ctx context.Context, db *gorm.DB, userID string) ([]domain.Message, error) {
	return repo.ListMessages(ctx, db, userID)
}

func (GormRepo) CountMessages(ctx context.Context, db *gorm.DB, userID string) (int64, error) {
	return repo.CountMessages(ctx, db, userID)
}

func (GormRepo) ListMessagesPage(ctx context.Context, db *gorm.DB, userID string, offset, limit int) ([]domain.Message, error) {
	return repo.ListMessagesPage(ctx, db, userID, offset, limit)
}

func (GormRepo) GetMessage(ctx context.Context, db *gorm.DB, id, userID string) (*domain.Message, error) {
	return repo.GetMessage(ctx, db, id, userID)
}

func (GormRepo) MessagesStats(ctx context.Context, db *gorm.DB, userID string) (int64, *time.Time, error) {
	return repo.MessagesStats(ctx, db, userID)
}

// found maps a lookup error onto (found, err): not-found is a normal outcome,
// anything else becomes a StoreError.
func found(op string, err error) (bool, error) {
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, repo.ErrNotFound):
		return false, nil
	default:
		return false, storeErr(op, err)
	}
}
