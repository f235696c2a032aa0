// Streak HTTP handlers.
//
//   - POST /streak/visit  (record today's visit)
//   - GET  /streak        (read the current streak without recording a visit)
package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/study-mentor-backend/internal/http/middleware"
	"github.com/tbourn/study-mentor-backend/internal/services"
)

// StreakResponse reports a user's engagement streak.
type StreakResponse struct {
	StreakDays int `json:"streak_days" example:"3"`
	// Persisted is true when this request wrote the streak row.
	Persisted bool `json:"persisted" example:"true"`
	// Kind classifies the visit: first, same_day, consecutive or broken.
	Kind string `json:"kind,omitempty" example:"consecutive"`
	// LastActiveDate is the UTC calendar date of the last counted visit.
	LastActiveDate string `json:"last_active_date,omitempty" example:"2024-01-11"`
}

func streakResponse(r services.StreakResult) StreakResponse {
	out := StreakResponse{StreakDays: r.Days, Persisted: r.Persisted, Kind: string(r.Kind)}
	if r.LastActiveDate != nil {
		out.LastActiveDate = r.LastActiveDate.Format("2006-01-02")
	}
	return out
}

// VisitStreak godoc
// @ID          visitStreak
// @Summary     Record a visit
// @Description Applies today's (UTC) visit to the caller's streak. Repeat visits on the same day are not written.
// @Tags        Streak
// @Produce     json
//
// @Param       X-User-ID  header  string  false  "User ID (demo header)"  example(aluno-42)
//
// @Success     200  {object}  handlers.StreakResponse
// @Failure     409  {object}  handlers.ErrorResponse  "Concurrent update (compare-and-swap mode)"
// @Failure     503  {object}  handlers.ErrorResponse  "Store unavailable"
// @Router      /streak/visit [post]
func (h *Handlers) VisitStreak(c *gin.Context) {
	res, err := h.streaks.Visit(c.Request.Context(), middleware.UserID(c))
	if err != nil {
		failService(c, err, h.opts.MaxPromptRunes)
		return
	}
	ok(c, http.StatusOK, streakResponse(res))
}

// GetStreak godoc
// @ID          getStreak
// @Summary     Current streak
// @Description Returns the stored streak. A user who never visited has 0 days.
// @Tags        Streak
// @Produce     json
//
// @Param       X-User-ID  header  string  false  "User ID (demo header)"  example(aluno-42)
//
// @Success     200  {object}  handlers.StreakResponse
// @Failure     503  {object}  handlers.ErrorResponse  "Store unavailable"
// @Router      /streak [get]
func (h *Handlers) GetStreak(c *gin.Context) {
	res, err := h.streaks.Current(c.Request.Context(), middleware.UserID(c))
	if err != nil {
		failService(c, err, h.opts.MaxPromptRunes)
		return
	}
	ok(c, http.StatusOK, streakResponse(res))
}
