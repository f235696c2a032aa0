// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides the append-only log for Message rows.
package repo

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/tbourn/study-mentor-backend/internal/domain"
)

// AppendMessage inserts a new message row. The ID and timestamp are assigned
// here; content is stored exactly as given.
func AppendMessage(ctx context.Context, db *gorm.DB, userID string, role domain.Role, content string) (*domain.Message, error) {
	m := &domain.Message{
		ID:        uuid.NewString(),
		UserID:    userID,
		Role:      role,
		Content:   content,
		CreatedAt: time.Now().UTC(),
	}
	if err := db.WithContext(ctx).Create(m).Error; err != nil {
		return nil, err
	}
	return m, nil
}

// ListMessages returns the user's whole log ordered (CreatedAt ASC, ID ASC).
// Stored roles are normalized on the way out.
func ListMessages(ctx context.Context, db *gorm.DB, userID string) ([]domain.Message, error) {
	out := []domain.Message{}
	err := db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at ASC, id ASC").
		Find(&out).Error
	if err != nil {
		return nil, err
	}
	normalizeRoles(out)
	return out, nil
}

// CountMessages uses a raw COUNT so a missing table surfaces as an error.
func CountMessages(ctx context.Context, db *gorm.DB, userID string) (int64, error) {
	var total int64
	err := db.WithContext(ctx).
		Raw("SELECT COUNT(*) FROM chat_history WHERE user_id = ?", userID).
		Scan(&total).Error
	return total, err
}

// ListMessagesPage returns a paginated slice ordered (CreatedAt ASC, ID ASC).
func ListMessagesPage(ctx context.Context, db *gorm.DB, userID string, offset, limit int) ([]domain.Message, error) {
	out := []domain.Message{}
	err := db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at ASC, id ASC").
		Offset(offset).
		Limit(limit).
		Find(&out).Error
	if err != nil {
		return nil, err
	}
	normalizeRoles(out)
	return out, nil
}

// GetMessage fetches a message by ID, scoped to its owner.
func GetMessage(ctx context.Context, db *gorm.DB, id, userID string) (*domain.Message, error) {
	var m domain.Message
	if err := db.WithContext(ctx).Where("id = ? AND user_id = ?", id, userID).First(&m).Error; err != nil {
		return nil, err
	}
	m.Role = domain.NormalizeRole(string(m.Role))
	return &m, nil
}

func normalizeRoles(ms []domain.Message) {
	for i := range ms {
		ms[i].Role = domain.NormalizeRole(string(ms[i].Role))
	}
}
