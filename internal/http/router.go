// Package httpapi wires the HTTP transport (Gin) to the streak and chat
// services, middleware, and route handlers. It centralizes cross-cutting
// concerns such as tracing, correlation IDs, redacted access logs, panic
// recovery, compression, metrics, idempotency, rate limiting, CORS and
// security headers.
package httpapi

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"gorm.io/gorm"

	_ "github.com/tbourn/study-mentor-backend/docs" // swagger docs registration
	"github.com/tbourn/study-mentor-backend/internal/chatctx"
	"github.com/tbourn/study-mentor-backend/internal/config"
	"github.com/tbourn/study-mentor-backend/internal/http/handlers"
	"github.com/tbourn/study-mentor-backend/internal/http/middleware"
	"github.com/tbourn/study-mentor-backend/internal/llm"
	"github.com/tbourn/study-mentor-backend/internal/repo"
	"github.com/tbourn/study-mentor-backend/internal/services"
)

// maxBodyBytes caps request bodies. A chat message is at most a few thousand
// runes, so anything larger is rejected with 413.
const maxBodyBytes = 64 << 10

// idempotencyShim adapts the repository free functions to
// handlers.IdempotencyStore.
type idempotencyShim struct{ db *gorm.DB }

// Lookup proxies repo.GetIdempotency, mapping ErrNotFound to found=false.
func (s idempotencyShim) Lookup(ctx context.Context, userID, scope, key string, now time.Time) (string, bool, error) {
	rec, err := repo.GetIdempotency(ctx, s.db, userID, scope, key, now)
	if errors.Is(err, repo.ErrNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return rec.MessageID, true, nil
}

// Remember proxies repo.CreateIdempotency. A concurrent duplicate is not an
// error: the first recorded reply wins.
func (s idempotencyShim) Remember(ctx context.Context, userID, scope, key, messageID string, status int, ttl time.Duration) error {
	_, err := repo.CreateIdempotency(ctx, s.db, userID, scope, key, messageID, status, ttl)
	if errors.Is(err, repo.ErrDuplicate) {
		return nil
	}
	return err
}

// exists adapts Lookup to middleware.IdempotencyLookup.
func (s idempotencyShim) exists(ctx context.Context, userID, scope, key string, now time.Time) (bool, error) {
	_, found, err := s.Lookup(ctx, userID, scope, key, now)
	return found, err
}

// RegisterRoutes attaches all middleware and endpoints to r. The services
// are built here from db and the completion client.
//
// Middleware order matters:
//  1. OpenTelemetry: trace everything
//  2. RequestID + Identity: correlation id and acting user
//  3. RedactingLogger: access log, request-scoped logger
//  4. Recovery: capture panics after the logger
//  5. Body size limiter
//  6. gzip
//  7. Metrics
//  8. Idempotency validator (before rate limiting so replays bypass it)
//  9. Rate limiter
//  10. CORS and security headers
func RegisterRoutes(r *gin.Engine, db *gorm.DB, client llm.Client, cfg config.Config) {
	r.HandleMethodNotAllowed = true
	idem := idempotencyShim{db: db}

	r.Use(otelgin.Middleware(cfg.OTEL.ServiceName))
	r.Use(middleware.RequestID(), middleware.Identity())
	r.Use(middleware.RedactingLogger(middleware.RedactOptions{
		MaskHeaders: []string{"X-API-Key"},
	}))
	r.Use(middleware.Recovery())
	r.Use(limitBody(maxBodyBytes))
	r.Use(gzip.Gzip(gzip.DefaultCompression, gzip.WithExcludedPaths([]string{"/metrics"})))

	r.Use(middleware.Metrics())
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	r.Use(middleware.IdempotencyValidator(
		middleware.IdempotencyOptions{MaxLen: 200, Scope: handlers.IdempotencyScopeChat},
		idem.exists,
	))

	rl := middleware.NewRateLimiter(cfg.RateRPS, cfg.RateBurst, middleware.KeyByUserOrIP())
	r.Use(rl.Handler())

	r.Use(cors.New(corsConfig(cfg.CORS)))
	r.Use(middleware.SecurityHeaders(middleware.SecurityOptions{
		EnableHSTS:   cfg.Security.EnableHSTS,
		HSTSMaxAge:   cfg.Security.HSTSMaxAge,
		NoStore:      false,
		EnablePolicy: true,
	}))

	r.NoRoute(func(c *gin.Context) {
		handlers.Fail(c, http.StatusNotFound, handlers.ErrCodeNotFound, "route not found")
	})
	r.NoMethod(func(c *gin.Context) {
		handlers.Fail(c, http.StatusMethodNotAllowed, handlers.ErrCodeMethodNotAllowed, "method not allowed")
	})

	r.GET("/health", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })
	if cfg.SwaggerEnabled {
		r.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	// Dependency injection: services ← repo/db/llm
	streakSvc := services.NewStreakService(db, services.GormRepo{})
	streakSvc.CompareAndSwap = cfg.StreakCompareAndSwap

	convoSvc := services.NewConversationService(db, services.GormRepo{})

	chatSvc := services.NewChatService(convoSvc, client, llm.SystemPrompt(cfg.LLM.SystemPrompt))
	chatSvc.MaxPromptRunes = cfg.Chat.MaxPromptRunes
	chatSvc.Builder = chatctx.Builder{MaxRunes: cfg.Chat.MaxContextRunes}
	chatSvc.Fallback = services.FallbackFor(cfg.Chat.FallbackLocale)

	h := handlers.New(streakSvc, convoSvc, chatSvc, idem, handlers.Options{
		Greeting:       cfg.Chat.Greeting,
		MaxPromptRunes: cfg.Chat.MaxPromptRunes,
		IdempotencyTTL: cfg.IdempotencyTTL,
	})

	api := groupWithPrefix(r, cfg.APIBasePath)
	{
		// Streak
		api.POST("/streak/visit", h.VisitStreak)
		api.GET("/streak", h.GetStreak)

		// Chat
		api.GET("/chat/history", h.ChatHistory)
		api.GET("/chat/messages", h.ListMessages)
		api.POST("/chat/messages", h.PostMessage)
	}
}

// corsConfig allows every origin when no allowlist is configured.
// Credentials stay disabled either way; identity travels in X-User-ID.
func corsConfig(c config.CORSConfig) cors.Config {
	out := cors.Config{
		AllowMethods:     []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization", middleware.HeaderUserID, middleware.HeaderIdempotencyKey},
		ExposeHeaders:    []string{"X-Request-ID", "ETag", "Idempotency-Replayed", "Retry-After"},
		AllowCredentials: false,
		MaxAge:           12 * time.Hour,
	}
	if len(c.AllowedOrigins) == 0 {
		out.AllowAllOrigins = true
	} else {
		out.AllowOrigins = c.AllowedOrigins
	}
	return out
}

// limitBody caps request bodies at maxBytes; reads past the cap fail with
// *http.MaxBytesError.
func limitBody(maxBytes int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBytes)
		c.Next()
	}
}

// groupWithPrefix mounts a group at prefix, treating "/" (or empty) as root.
func groupWithPrefix(r *gin.Engine, prefix string) *gin.RouterGroup {
	if prefix == "" || prefix == "/" {
		return r.Group("")
	}
	return r.Group(prefix)
}
