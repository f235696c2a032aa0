// Package middleware contains shared Gin middleware used by the HTTP layer.
//
// This file provides request correlation, caller identity, panic recovery and
// access to the request-scoped logger:
//
//   - RequestID() propagates or mints the X-Request-ID correlation header.
//   - Identity() resolves the acting user from X-User-ID (the demo identity
//     convention) and stores it under the "userID" Gin key.
//   - Recovery() converts panics into the JSON error envelope.
//   - LoggerFrom() returns the logger attached by RedactingLogger.
//
// Recommended order: RequestID, Identity, RedactingLogger, Recovery, so that
// every log line and error body carries both the request and the user id.
package middleware

import (
	"net/http"
	"runtime/debug"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const (
	// requestIDKey is the Gin context key under which the request ID is stored.
	requestIDKey = "requestID"
	// requestIDHeader is the HTTP header used to propagate the correlation ID.
	requestIDHeader = "X-Request-ID"
	// userIDKey is the Gin context key holding the acting user.
	userIDKey = "userID"
	// HeaderUserID carries the caller identity until real authentication exists.
	HeaderUserID = "X-User-ID"
	// DefaultUserID is used when a request carries no identity.
	DefaultUserID = "demo-user"
	// loggerKey is the Gin context key for the request-scoped logger.
	loggerKey = "logger"
	// maxUserIDLength bounds identities accepted from the header.
	maxUserIDLength = 128
)

// RequestID attaches (or propagates) a correlation identifier per request.
// An incoming X-Request-ID is reused; otherwise a UUIDv4 is generated. The ID
// is echoed in the response header and stored under "requestID".
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		rid := c.GetHeader(requestIDHeader)
		if rid == "" {
			rid = uuid.NewString()
		}
		c.Set(requestIDKey, rid)
		c.Writer.Header().Set(requestIDHeader, rid)
		c.Next()
	}
}

// Identity resolves the acting user from the X-User-ID header. Blank or
// oversized values fall back to DefaultUserID.
func Identity() gin.HandlerFunc {
	return func(c *gin.Context) {
		uid := strings.TrimSpace(c.GetHeader(HeaderUserID))
		if uid == "" || len(uid) > maxUserIDLength {
			uid = DefaultUserID
		}
		c.Set(userIDKey, uid)
		c.Next()
	}
}

// UserID returns the identity stored by Identity, or DefaultUserID.
func UserID(c *gin.Context) string {
	if v, ok := c.Get(userIDKey); ok {
		if s, ok := v.(string); ok && s != "" {
			return s
		}
	}
	return DefaultUserID
}

// Recovery intercepts panics, logs a stack trace, and returns a JSON 500
// error carrying the request id. Place it after RedactingLogger.
func Recovery() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if rec := recover(); rec != nil {
				rid, _ := c.Get(requestIDKey)
				LoggerFrom(c).Error().
					Interface("panic", rec).
					Bytes("stack", debug.Stack()).
					Str("request_id", asString(rid)).
					Msg("panic recovered")

				if !c.Writer.Written() {
					c.Header(requestIDHeader, asString(rid))
					c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
						"request_id": asString(rid),
						"code":       "internal_error",
						"message":    "internal server error",
					})
					return
				}
				c.AbortWithStatus(http.StatusInternalServerError)
			}
		}()
		c.Next()
	}
}

// LoggerFrom returns the request-scoped zerolog.Logger. When RedactingLogger
// did not run, the global logger is returned; the result is never nil.
func LoggerFrom(c *gin.Context) *zerolog.Logger {
	if v, ok := c.Get(loggerKey); ok {
		if lg, ok := v.(*zerolog.Logger); ok {
			return lg
		}
	}
	l := log.With().Logger()
	return &l
}

func asString(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	return ""
}

// truncate caps s at max bytes, appending an ellipsis. max <= 0 disables it.
func truncate(s string, max int) string {
	if max <= 0 || len(s) <= max {
		return s
	}
	return s[:max] + "…"
}
