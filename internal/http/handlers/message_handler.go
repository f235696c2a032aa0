// Chat turn HTTP handler.
//
//   - POST /chat/messages  (send a message, receive the assistant reply)
//
// Idempotency:
// If the client supplies an Idempotency-Key and an earlier turn with the same
// key produced a persisted reply, that reply is returned again with
// `Idempotency-Replayed: true` and no new turn is started. Fallback replies
// are never recorded, so retrying after a provider failure asks again.
package handlers

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/study-mentor-backend/internal/http/middleware"
)

// PostMessageRequest is the JSON payload for a chat turn.
type PostMessageRequest struct {
	// Content is the user's message. It is stored exactly as sent.
	Content string `json:"content" binding:"required" example:"Como organizo meus estudos para o ENEM?"`
}

// PostMessageResponse describes the outcome of a chat turn.
type PostMessageResponse struct {
	// UserMessageID is the stored user turn. Empty on idempotent replays.
	UserMessageID string `json:"user_message_id,omitempty" example:"5b0c3f4e-2f1d-4a7e-9a51-0d5c8f1e2a11"`
	// Reply is the assistant's answer or, when Fallback is true, an apology.
	Reply string `json:"reply" example:"Vamos começar pelo cronograma semanal."`
	// ReplyMessageID is set only when the reply was written to the log.
	ReplyMessageID string `json:"reply_message_id,omitempty" example:"a3d1e5c2-7b4f-4c1e-8f0a-6e2b9d7c4a10"`
	Fallback       bool   `json:"fallback" example:"false"`
	ReplyPersisted bool   `json:"reply_persisted" example:"true"`
}

// PostMessage godoc
// @ID          postMessage
// @Summary     Send a chat message
// @Description Stores the user's message, asks the AI mentor for a reply and stores the reply.
// @Description When the provider fails the turn still succeeds with fallback=true and an unsaved apology.
// @Description Supports idempotency via the Idempotency-Key header (same key, same reply).
// @Tags        Chat
// @Accept      json
// @Produce     json
//
// @Param       X-User-ID        header  string  false "User ID (demo header)"  example(aluno-42)
// @Param       Idempotency-Key  header  string  false "Idempotency key for safe retries (UUID recommended)"  example(7a8d9f4c-1b2a-4c3d-8e9f-0123456789ab)
// @Param       body             body    handlers.PostMessageRequest  true  "User message payload"
//
// @Success     200  {object}  handlers.PostMessageResponse
// @Header      200  {string}  Idempotency-Replayed  "true when the response is a replay"
// @Failure     400  {object}  handlers.ErrorResponse  "Bad request"
// @Failure     409  {object}  handlers.ErrorResponse  "Another turn is in progress"
// @Failure     413  {object}  handlers.ErrorResponse  "Body too large"
// @Failure     429  {object}  handlers.ErrorResponse  "Rate limited"
// @Failure     503  {object}  handlers.ErrorResponse  "Store unavailable"
// @Router      /chat/messages [post]
func (h *Handlers) PostMessage(c *gin.Context) {
	ctx := c.Request.Context()
	lg := middleware.LoggerFrom(c)

	var req PostMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			fail(c, http.StatusRequestEntityTooLarge, ErrCodeTooLarge, "request body too large")
			return
		}
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "content required")
		return
	}

	uid := middleware.UserID(c)
	idemKey, _ := middleware.GetIdempotencyKey(c)

	// Idempotency (replay path).
	if idemKey != "" && h.idem != nil {
		if prev, found := h.replay(c, uid, idemKey); found {
			c.Header("Idempotency-Replayed", "true")
			ok(c, http.StatusOK, prev)
			return
		}
	}

	res, err := h.chat.Send(ctx, uid, req.Content)
	if err != nil {
		failService(c, err, h.opts.MaxPromptRunes)
		return
	}

	// Idempotency (store path), best effort.
	if idemKey != "" && h.idem != nil && res.ReplyPersisted {
		if err := h.idem.Remember(ctx, uid, IdempotencyScopeChat, idemKey, res.ReplyMessageID, http.StatusOK, h.opts.IdempotencyTTL); err != nil {
			lg.Warn().Err(err).Str("idempotency_key", idemKey).Msg("recording idempotency key failed")
		}
	}

	ok(c, http.StatusOK, PostMessageResponse{
		UserMessageID:  res.UserMessageID,
		Reply:          res.Reply,
		ReplyMessageID: res.ReplyMessageID,
		Fallback:       res.Fallback,
		ReplyPersisted: res.ReplyPersisted,
	})
}

// replay returns the stored reply for (uid, key) if one is still valid.
// Lookup failures are logged and treated as a first attempt.
func (h *Handlers) replay(c *gin.Context, uid, key string) (PostMessageResponse, bool) {
	ctx := c.Request.Context()
	lg := middleware.LoggerFrom(c)

	msgID, found, err := h.idem.Lookup(ctx, uid, IdempotencyScopeChat, key, time.Now().UTC())
	if err != nil {
		lg.Warn().Err(err).Msg("idempotency lookup failed")
		return PostMessageResponse{}, false
	}
	if !found {
		return PostMessageResponse{}, false
	}
	m, found, err := h.convo.Get(ctx, uid, msgID)
	if err != nil || !found {
		lg.Warn().Err(err).Str("message_id", msgID).Msg("idempotent reply missing; processing as new turn")
		return PostMessageResponse{}, false
	}
	return PostMessageResponse{
		Reply:          m.Content,
		ReplyMessageID: m.ID,
		ReplyPersisted: true,
	}, true
}
