// Chat HTTP handlers.
//
// This file wires the handler set to its services and exposes the read side
// of the chat log:
//   - GET /chat/history   (full ordered log plus the session greeting)
//   - GET /chat/messages  (paginated log, weak ETag support)
//
// Handlers are transport-thin: they read the caller identity, call the
// services and translate results into HTTP responses.
package handlers

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/study-mentor-backend/internal/domain"
	"github.com/tbourn/study-mentor-backend/internal/http/middleware"
	"github.com/tbourn/study-mentor-backend/internal/services"
	"github.com/tbourn/study-mentor-backend/internal/utils"
)

//
// Service contracts (context-aware)
//

// StreakService records visits and reports engagement streaks.
type StreakService interface {
	Visit(ctx context.Context, userID string) (services.StreakResult, error)
	Current(ctx context.Context, userID string) (services.StreakResult, error)
}

// ConversationService reads the per-user chat log.
type ConversationService interface {
	Load(ctx context.Context, userID string) ([]domain.Message, error)
	ListPage(ctx context.Context, userID string, page, pageSize int) ([]domain.Message, int64, error)
	Get(ctx context.Context, userID, id string) (*domain.Message, bool, error)
	Stats(ctx context.Context, userID string) (int64, *time.Time, error)
}

// ChatService runs chat turns.
type ChatService interface {
	Send(ctx context.Context, userID, text string) (services.TurnResult, error)
}

// IdempotencyStore remembers which assistant message answered a retried
// request. Implementations must treat expired records as absent.
type IdempotencyStore interface {
	Lookup(ctx context.Context, userID, scope, key string, now time.Time) (messageID string, found bool, err error)
	Remember(ctx context.Context, userID, scope, key, messageID string, status int, ttl time.Duration) error
}

// IdempotencyScopeChat namespaces Idempotency-Key values of chat turns.
const IdempotencyScopeChat = "chat"

// Options carries handler-level settings.
type Options struct {
	Greeting       string        // opening assistant line shown at session start
	MaxPromptRunes int           // used in "too long" messages only
	IdempotencyTTL time.Duration // lifetime of replayable results
}

//
// Handler wiring
//

// Handlers groups the streak and chat endpoints.
type Handlers struct {
	streaks StreakService
	convo   ConversationService
	chat    ChatService
	idem    IdempotencyStore // nil disables replay
	opts    Options
}

// New constructs a Handlers instance bound to the given services.
func New(streaks StreakService, convo ConversationService, chat ChatService, idem IdempotencyStore, opts Options) *Handlers {
	if opts.IdempotencyTTL <= 0 {
		opts.IdempotencyTTL = 24 * time.Hour
	}
	return &Handlers{streaks: streaks, convo: convo, chat: chat, idem: idem, opts: opts}
}

//
// DTOs
//

// MessageDTO is one entry of the chat log as returned to clients.
type MessageDTO struct {
	ID        string      `json:"id" example:"0f8fad5b-d9cb-469f-a165-70867728950e"`
	Role      domain.Role `json:"role" example:"assistant"`
	Content   string      `json:"content" example:"Vamos montar seu plano de estudos!"`
	CreatedAt time.Time   `json:"created_at"`
}

// HistoryResponse is the full ordered log for session start.
type HistoryResponse struct {
	Greeting string       `json:"greeting,omitempty" example:"Olá! Sou seu Mentor de Aprovação IA."`
	Messages []MessageDTO `json:"messages"`
}

// Pagination carries pagination metadata for list responses.
type Pagination struct {
	Page       int   `json:"page"`
	PageSize   int   `json:"page_size"`
	Total      int64 `json:"total"`
	TotalPages int   `json:"total_pages"`
	HasNext    bool  `json:"has_next"`
}

// ListMessagesResponse contains a page of the chat log.
type ListMessagesResponse struct {
	Messages   []MessageDTO `json:"messages"`
	Pagination Pagination   `json:"pagination"`
}

func toDTOs(ms []domain.Message) []MessageDTO {
	out := make([]MessageDTO, 0, len(ms))
	for _, m := range ms {
		out = append(out, MessageDTO{ID: m.ID, Role: m.Role, Content: m.Content, CreatedAt: m.CreatedAt})
	}
	return out
}

//
// Handlers
//

// ChatHistory godoc
// @ID          chatHistory
// @Summary     Load the chat log
// @Description Returns the caller's full chat log in chronological order, plus the configured greeting.
// @Tags        Chat
// @Produce     json
//
// @Param       X-User-ID  header  string  false  "User ID (demo header)"  example(aluno-42)
//
// @Success     200  {object}  handlers.HistoryResponse
// @Failure     503  {object}  handlers.ErrorResponse  "Store unavailable"
// @Router      /chat/history [get]
func (h *Handlers) ChatHistory(c *gin.Context) {
	msgs, err := h.convo.Load(c.Request.Context(), middleware.UserID(c))
	if err != nil {
		failService(c, err, h.opts.MaxPromptRunes)
		return
	}
	ok(c, http.StatusOK, HistoryResponse{Greeting: h.opts.Greeting, Messages: toDTOs(msgs)})
}

// ListMessages godoc
// @ID          listMessages
// @Summary     List chat messages (paginated)
// @Description Returns a page of the caller's chat log. Supports weak ETag via If-None-Match and may return 304.
// @Tags        Chat
// @Produce     json
//
// @Param       X-User-ID      header  string  false "User ID (demo header)"       example(aluno-42)
// @Param       If-None-Match  header  string  false "Return 304 if ETag matches"  example(W/\"messages:aluno-42:4:1718000000000000000\")
// @Param       page           query   int     false "Page number"                  minimum(1) default(1)
// @Param       page_size      query   int     false "Items per page"               minimum(1) maximum(100) default(20)
//
// @Success     200  {object} handlers.ListMessagesResponse
// @Header      200  {string} ETag "Weak ETag for the current log"
// @Success     304  {string} string "Not Modified"
// @Failure     503  {object} handlers.ErrorResponse "Store unavailable"
// @Router      /chat/messages [get]
func (h *Handlers) ListMessages(c *gin.Context) {
	ctx := c.Request.Context()
	uid := middleware.UserID(c)

	// ETag pre-check (best effort).
	if count, latest, err := h.convo.Stats(ctx, uid); err == nil {
		var ts int64
		if latest != nil {
			ts = latest.UnixNano()
		}
		etag := fmt.Sprintf(`W/"messages:%s:%d:%d"`, uid, count, ts)
		c.Header("ETag", etag)
		if inm := c.GetHeader("If-None-Match"); inm != "" && inm == etag {
			c.Status(http.StatusNotModified)
			return
		}
	}

	page, pageSize := utils.ClampPage(c.Query("page"), c.Query("page_size"))
	items, total, err := h.convo.ListPage(ctx, uid, page, pageSize)
	if err != nil {
		failService(c, err, h.opts.MaxPromptRunes)
		return
	}

	totalPages := utils.TotalPages(total, pageSize)
	ok(c, http.StatusOK, ListMessagesResponse{
		Messages: toDTOs(items),
		Pagination: Pagination{
			Page:       page,
			PageSize:   pageSize,
			Total:      total,
			TotalPages: totalPages,
			HasNext:    page < totalPages,
		},
	})
}
