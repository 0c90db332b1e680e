// Package handlers provides HTTP handler implementations for the public API.
//
// Every error leaves through fail() as an ErrorResponse with a stable code;
// service and store errors are translated in one place, writeError, so that
// the same sentinel maps to the same status on every route. Successful
// responses go through ok() and noContent().
//
// Example error response:
//
//	HTTP/1.1 502 Bad Gateway
//	{
//	  "request_id": "123e4567-e89b-12d3-a456-426614174000",
//	  "code": "connect_failed",
//	  "message": "remote connect failed: sheets: googleapi: Error 401"
//	}
package handlers

import (
	"errors"
	"fmt"
	"math"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/fieldops-backend/internal/ai"
	"github.com/tbourn/fieldops-backend/internal/domain"
	"github.com/tbourn/fieldops-backend/internal/http/middleware"
	"github.com/tbourn/fieldops-backend/internal/repo"
	"github.com/tbourn/fieldops-backend/internal/services"
	"github.com/tbourn/fieldops-backend/internal/store"
	"github.com/tbourn/fieldops-backend/internal/syncer"
	"github.com/tbourn/fieldops-backend/internal/utils"
)

// ErrorResponse is the standard error envelope returned by all endpoints.
type ErrorResponse struct {
	// Correlates server logs and client errors
	RequestID string `json:"request_id,omitempty" example:"123e4567-e89b-12d3-a456-426614174000"`
	// Stable, machine-readable code (see errors.go constants)
	Code string `json:"code" example:"not_found"`
	// Human-readable message (safe to show to users)
	Message string `json:"message" example:"resource not found"`
}

// fail aborts the request with a structured error. 5xx responses are logged
// with the request-scoped logger.
func fail(c *gin.Context, status int, code, msg string) {
	resp := ErrorResponse{
		RequestID: c.Writer.Header().Get("X-Request-ID"),
		Code:      code,
		Message:   msg,
	}
	if status >= http.StatusInternalServerError {
		middleware.LoggerFrom(c).Error().
			Int("status", status).
			Str("code", code).
			Str("message", msg).
			Msg("api error")
	}
	c.AbortWithStatusJSON(status, resp)
}

// Fail is the exported variant of fail() for the router's fallbacks.
func Fail(c *gin.Context, status int, code, msg string) { fail(c, status, code, msg) }

func ok(c *gin.Context, status int, body any) {
	c.JSON(status, body)
}

func noContent(c *gin.Context) {
	c.Status(http.StatusNoContent)
}

// writeError maps service, coordinator, store and AI errors to the envelope.
// Order matters: a failed remote delete is joined with both ErrWriteFailed
// and ErrDeleteUnsupported, and the latter wins.
func writeError(c *gin.Context, err error) {
	var (
		status = http.StatusInternalServerError
		code   = ErrCodeInternal
	)
	switch {
	case errors.Is(err, domain.ErrMissingField),
		errors.Is(err, domain.ErrUnknownKind),
		errors.Is(err, services.ErrInvalidInput),
		errors.Is(err, services.ErrInvalidFeedback),
		errors.Is(err, store.ErrMissingCredentials):
		status, code = http.StatusBadRequest, ErrCodeBadRequest

	case errors.Is(err, services.ErrForbiddenFeedback):
		status, code = http.StatusForbidden, ErrCodeForbidden

	case errors.Is(err, services.ErrRecordNotFound),
		errors.Is(err, services.ErrPartnerNotFound),
		errors.Is(err, services.ErrSOPNotFound),
		errors.Is(err, services.ErrContactNotFound),
		errors.Is(err, services.ErrChatNotFound),
		errors.Is(err, services.ErrMessageNotFound),
		errors.Is(err, repo.ErrNotFound):
		status, code = http.StatusNotFound, ErrCodeNotFound

	case errors.Is(err, syncer.ErrAlreadyConnected),
		errors.Is(err, services.ErrDuplicateFeedback):
		status, code = http.StatusConflict, ErrCodeConflict

	case errors.Is(err, store.ErrDeleteUnsupported):
		status, code = http.StatusNotImplemented, ErrCodeUnsupported
	case errors.Is(err, syncer.ErrConnectFailed):
		status, code = http.StatusBadGateway, ErrCodeConnectFailed
	case errors.Is(err, syncer.ErrReloadFailed):
		status, code = http.StatusBadGateway, ErrCodeReloadFailed
	case errors.Is(err, syncer.ErrWriteFailed):
		status, code = http.StatusBadGateway, ErrCodeRemoteWriteFailed

	case errors.Is(err, ai.ErrMissingAPIKey):
		status, code = http.StatusServiceUnavailable, ErrCodeAIUnavailable
	case errors.Is(err, ai.ErrMalformedOutput):
		status, code = http.StatusUnprocessableEntity, ErrCodeAIMalformed
	case errors.Is(err, ai.ErrEmptyResponse):
		status, code = http.StatusBadGateway, ErrCodeAIFailed
	}
	fail(c, status, code, err.Error())
}

// Pagination carries pagination metadata for list responses.
type Pagination struct {
	Page       int   `json:"page"`
	PageSize   int   `json:"page_size"`
	Total      int64 `json:"total"`
	TotalPages int   `json:"total_pages"`
	HasNext    bool  `json:"has_next"`
}

func newPagination(page, pageSize int, total int64) Pagination {
	totalPages := int((total + int64(pageSize) - 1) / int64(pageSize))
	return Pagination{
		Page:       page,
		PageSize:   pageSize,
		Total:      total,
		TotalPages: totalPages,
		HasNext:    page < totalPages,
	}
}

// clampPagination parses page and page_size, defaulting to 1 and 20 and
// capping page_size at 100.
func clampPagination(c *gin.Context) (page, pageSize int) {
	const (
		defaultPage     = 1
		defaultPageSize = 20
		maxPageSize     = 100
	)
	page = utils.IntParam(c.Query("page"), defaultPage, 1, math.MaxInt32)
	pageSize = utils.IntParam(c.Query("page_size"), defaultPageSize, 1, maxPageSize)
	return
}

// notModified sets a weak ETag derived from st and reports whether the
// client already has it, in which case 304 has been written.
func notModified(c *gin.Context, scope string, st repo.Stats) bool {
	var ts int64
	if st.MaxUpdatedAt != nil {
		ts = st.MaxUpdatedAt.UnixNano()
	}
	etag := fmt.Sprintf(`W/"%s:%d:%d"`, scope, st.Count, ts)
	c.Header("ETag", etag)
	if inm := c.GetHeader("If-None-Match"); inm != "" && inm == etag {
		c.Status(http.StatusNotModified)
		return true
	}
	return false
}

// bindJSON decodes the body into dst or answers 400.
func bindJSON(c *gin.Context, dst any) bool {
	if err := c.ShouldBindJSON(dst); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid JSON body")
		return false
	}
	return true
}

func queryTrim(c *gin.Context, key string) string { return strings.TrimSpace(c.Query(key)) }
