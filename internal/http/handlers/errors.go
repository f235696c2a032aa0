// Package handlers defines the HTTP error codes used across all API endpoints
// and the mapping from service errors onto them. Clients branch on the code,
// never on the message.
package handlers

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/study-mentor-backend/internal/http/middleware"
	"github.com/tbourn/study-mentor-backend/internal/services"
)

const (
	ErrCodeBadRequest       = "bad_request"
	ErrCodeNotFound         = "not_found"
	ErrCodeMethodNotAllowed = "method_not_allowed"
	ErrCodeTooLarge         = "payload_too_large"
	ErrCodeRateLimited      = "too_many_requests"
	ErrCodeInternal         = "internal_error"

	// Domain-specific:
	ErrCodeTurnInFlight     = "turn_in_flight"
	ErrCodeStreakConflict   = "streak_conflict"
	ErrCodeStoreUnavailable = "store_unavailable"
)

// failService translates a service error into a response. maxRunes is only
// used to phrase the "too long" message.
func failService(c *gin.Context, err error, maxRunes int) {
	switch {
	case errors.Is(err, services.ErrEmptyPrompt):
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "content required")
	case errors.Is(err, services.ErrTooLong):
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, fmt.Sprintf("content too long: max %d runes", maxRunes))
	case errors.Is(err, services.ErrTurnInFlight):
		fail(c, http.StatusConflict, ErrCodeTurnInFlight, "a chat turn is already in progress")
	case errors.Is(err, services.ErrStreakConflict):
		fail(c, http.StatusConflict, ErrCodeStreakConflict, "streak changed concurrently, retry")
	case services.IsStoreError(err):
		middleware.LoggerFrom(c).Error().Err(err).Msg("store failure")
		fail(c, http.StatusServiceUnavailable, ErrCodeStoreUnavailable, "storage is temporarily unavailable")
	default:
		fail(c, http.StatusInternalServerError, ErrCodeInternal, "internal server error")
	}
}
