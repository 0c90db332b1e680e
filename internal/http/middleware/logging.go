// Package middleware contains the Gin middleware shared by the HTTP layer:
// correlation ids, caller identity, redacted access logs, panic recovery,
// Prometheus metrics, idempotency keys, rate limiting and security headers.
//
// Recommended order (see httpapi.RegisterRoutes):
//
//	RequestID → Identity → RedactingLogger → Recovery → Metrics →
//	IdempotencyValidator → CORS → SecurityHeaders
//
// so that every log line and error envelope carries the request id and the
// caller, and panics are logged with both.
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
	requestIDKey    = "requestID"
	requestIDHeader = "X-Request-ID"

	userIDKey = "userID"
	loggerKey = "logger"

	// HeaderUserID carries the operator identity set by the host platform.
	HeaderUserID = "X-User-ID"

	// AnonymousUser is used when no identity was supplied.
	AnonymousUser = "anonymous"

	maxUserIDLen = 64
)

// RequestID reuses X-Request-ID when the caller sent one and generates a
// UUIDv4 otherwise. The id is echoed on the response.
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		rid := strings.TrimSpace(c.GetHeader(requestIDHeader))
		if rid == "" || len(rid) > 128 {
			rid = uuid.NewString()
		}
		c.Set(requestIDKey, rid)
		c.Writer.Header().Set(requestIDHeader, rid)
		c.Next()
	}
}

// Identity stores the caller from X-User-ID in the context. Authentication is
// the host platform's job; this only normalizes the value. Ids longer than
// the column width are rejected with 400.
func Identity() gin.HandlerFunc {
	return func(c *gin.Context) {
		uid := strings.TrimSpace(c.GetHeader(HeaderUserID))
		if len(uid) > maxUserIDLen {
			abort(c, http.StatusBadRequest, "bad_request", "X-User-ID too long")
			return
		}
		if uid == "" {
			uid = AnonymousUser
		}
		c.Set(userIDKey, uid)
		c.Next()
	}
}

// UserID returns the caller stored by Identity, or AnonymousUser.
func UserID(c *gin.Context) string {
	if v, ok := c.Get(userIDKey); ok {
		if s, ok := v.(string); ok && s != "" {
			return s
		}
	}
	return AnonymousUser
}

// Recovery turns a panic into the standard JSON 500 envelope and logs the
// stack with the request id.
func Recovery() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if rec := recover(); rec != nil {
				rid := requestID(c)
				LoggerFrom(c).Error().
					Interface("panic", rec).
					Bytes("stack", debug.Stack()).
					Msg("panic recovered")

				if !c.Writer.Written() {
					c.Header(requestIDHeader, rid)
					abort(c, http.StatusInternalServerError, "internal_error", "internal server error")
					return
				}
				c.AbortWithStatus(http.StatusInternalServerError)
			}
		}()
		c.Next()
	}
}

// LoggerFrom returns the request-scoped logger attached by RedactingLogger,
// or the global logger tagged with the request id when there is none.
func LoggerFrom(c *gin.Context) *zerolog.Logger {
	if v, ok := c.Get(loggerKey); ok {
		if lg, ok := v.(*zerolog.Logger); ok {
			return lg
		}
	}
	l := log.With().Str("request_id", requestID(c)).Logger()
	return &l
}

func requestID(c *gin.Context) string {
	if v, ok := c.Get(requestIDKey); ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return c.Writer.Header().Get(requestIDHeader)
}

// abort writes the API error envelope. It mirrors handlers.ErrorResponse,
// which this package cannot import.
func abort(c *gin.Context, status int, code, msg string) {
	c.AbortWithStatusJSON(status, gin.H{
		"request_id": requestID(c),
		"code":       code,
		"message":    msg,
	})
}
