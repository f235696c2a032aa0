// Package domain defines the persistence models for engagement streaks and the
// per-user chat log. These types are mapped with GORM and form the core data
// layer shared by the repository and service layers.
package domain

import (
	"strings"
	"time"

	"gorm.io/datatypes"
)

// Role identifies the author of a chat message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"

	// roleModel is the literal some clients persist for assistant turns.
	roleModel = "model"
)

// NormalizeRole maps a stored role literal onto a Role. The legacy "model"
// literal is read back as RoleAssistant. Unknown values are returned as-is so
// callers can reject them with Valid.
func NormalizeRole(s string) Role {
	switch r := strings.ToLower(strings.TrimSpace(s)); r {
	case roleModel, string(RoleAssistant):
		return RoleAssistant
	case string(RoleUser):
		return RoleUser
	default:
		return Role(r)
	}
}

// Valid reports whether r is one of the roles the chat log accepts.
func (r Role) Valid() bool { return r == RoleUser || r == RoleAssistant }

// StreakRecord is the single engagement-streak row kept per user.
//
// Fields:
//   - UserID: primary key and upsert conflict target.
//   - LastActiveDate: calendar date (no time component) of the last counted visit.
//   - StreakDays: consecutive active days; always >= 1 once the row exists.
//   - CreatedAt / UpdatedAt: timestamps managed by GORM.
type StreakRecord struct {
	UserID         string         `json:"user_id"          gorm:"type:varchar(64);primaryKey"`
	LastActiveDate datatypes.Date `json:"last_active_date" gorm:"not null"`
	StreakDays     int            `json:"streak_days"      gorm:"not null;check:streak_days >= 1"`
	CreatedAt      time.Time      `json:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at"`
}

// TableName returns the database table name for StreakRecord.
func (StreakRecord) TableName() string { return "user_streaks" }

// LastActive returns LastActiveDate as a time.Time.
func (s StreakRecord) LastActive() time.Time { return time.Time(s.LastActiveDate) }

// Message is one entry of a user's append-only chat log. Rows are never
// edited or deleted by the core.
//
// Ordering key is (CreatedAt, ID) ascending; ID breaks ties between rows
// written within the same timestamp.
type Message struct {
	ID        string    `json:"id"         gorm:"type:char(36);primaryKey"`
	UserID    string    `json:"user_id"    gorm:"type:varchar(64);not null;index:idx_user_history,priority:1"`
	Role      Role      `json:"role"       gorm:"type:varchar(16);not null"`
	Content   string    `json:"content"    gorm:"column:message_content;type:text;not null"`
	CreatedAt time.Time `json:"created_at" gorm:"index:idx_user_history,priority:2"`
}

// TableName returns the database table name for Message.
func (Message) TableName() string { return "chat_history" }
