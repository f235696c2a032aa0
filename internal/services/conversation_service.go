// Package services – ConversationService
//
// ConversationService is the per-user append-only chat log. Each append is
// committed before it returns, so a crash between the user's message and the
// reply leaves a user turn without a reply rather than losing the turn.
// Content is stored exactly as given.
package services

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/tbourn/study-mentor-backend/internal/domain"
	"github.com/tbourn/study-mentor-backend/internal/utils"

	// OpenTelemetry
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// ConversationService appends to and reads the chat log.
type ConversationService struct {
	DB   *gorm.DB
	Repo MessageRepo
}

// NewConversationService constructs a ConversationService.
func NewConversationService(db *gorm.DB, r MessageRepo) *ConversationService {
	return &ConversationService{DB: db, Repo: r}
}

// Append persists one message and returns its ID. On failure the message
// must be treated as not written.
func (s *ConversationService) Append(ctx context.Context, userID string, role domain.Role, content string) (string, error) {
	tr := otel.Tracer("services/ConversationService")
	ctx, span := tr.Start(ctx, "Append",
		trace.WithAttributes(
			attribute.String("user.id", userID),
			attribute.String("message.role", string(role)),
		),
	)
	defer span.End()

	if !role.Valid() {
		return "", ErrInvalidRole
	}
	m, err := s.Repo.AppendMessage(ctx, s.DB, userID, role, content)
	if err != nil {
		err = storeErr("message.append", err)
		span.RecordError(err)
		return "", err
	}
	return m.ID, nil
}

// Load returns the user's whole log in (created_at, id) order. A user without
// history gets an empty slice.
func (s *ConversationService) Load(ctx context.Context, userID string) ([]domain.Message, error) {
	tr := otel.Tracer("services/ConversationService")
	ctx, span := tr.Start(ctx, "Load",
		trace.WithAttributes(attribute.String("user.id", userID)),
	)
	defer span.End()

	items, err := s.Repo.ListMessages(ctx, s.DB, userID)
	if err != nil {
		err = storeErr("message.list", err)
		span.RecordError(err)
		return nil, err
	}
	if items == nil {
		items = []domain.Message{}
	}
	span.SetAttributes(attribute.Int("messages.count", len(items)))
	return items, nil
}

// ListPage returns a page of the user's log and the total count.
// It applies defaults for invalid page/pageSize.
func (s *ConversationService) ListPage(ctx context.Context, userID string, page, pageSize int) ([]domain.Message, int64, error) {
	tr := otel.Tracer("services/ConversationService")
	ctx, span := tr.Start(ctx, "ListPage",
		trace.WithAttributes(
			attribute.String("user.id", userID),
			attribute.Int("page", page),
			attribute.Int("page_size", pageSize),
		),
	)
	defer span.End()

	if page < 1 {
		page = utils.DefaultPage
	}
	if pageSize <= 0 {
		pageSize = utils.DefaultPageSize
	}
	offset := utils.Offset(page, pageSize)

	total, err := s.Repo.CountMessages(ctx, s.DB, userID)
	if err != nil {
		return nil, 0, storeErr("message.count", err)
	}
	if total == 0 {
		return []domain.Message{}, 0, nil
	}
	items, err := s.Repo.ListMessagesPage(ctx, s.DB, userID, offset, pageSize)
	if err != nil {
		return nil, 0, storeErr("message.page", err)
	}
	return items, total, nil
}

// Get returns one of the user's messages; found is false when it does not exist.
func (s *ConversationService) Get(ctx context.Context, userID, id string) (msg *domain.Message, ok bool, err error) {
	m, err := s.Repo.GetMessage(ctx, s.DB, id, userID)
	if ok, err = found("message.get", err); !ok {
		return nil, false, err
	}
	return m, true, nil
}

// Stats returns the message count and newest timestamp for ETag generation.
func (s *ConversationService) Stats(ctx context.Context, userID string) (int64, *time.Time, error) {
	n, latest, err := s.Repo.MessagesStats(ctx, s.DB, userID)
	if err != nil {
		return 0, nil, storeErr("message.stats", err)
	}
	return n, latest, nil
}
