// Message HTTP handlers.
//
// This file exposes REST endpoints for chat messages:
//   - POST /chats/{id}/messages   (append a prompt and the assistant reply)
//   - GET  /chats/{id}/messages   (list paginated messages of a chat)
//
// Idempotency: when the client sends Idempotency-Key and a reply was already
// recorded for (user, chat, key), that reply is returned with
// Idempotency-Replayed: true and no model call is made.
package handlers

import (
	"errors"
	"fmt"
	"net/http"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/tbourn/fieldops-backend/internal/domain"
	"github.com/tbourn/fieldops-backend/internal/http/middleware"
	"github.com/tbourn/fieldops-backend/internal/repo"
	"github.com/tbourn/fieldops-backend/internal/services"
)

// PostMessageRequest is the JSON payload for sending a prompt.
type PostMessageRequest struct {
	Content string `json:"content" binding:"required,min=1" example:"What do I do when a parcel arrives wet?"`
}

// PostMessageResponse wraps the assistant reply.
type PostMessageResponse struct {
	Message *domain.Message `json:"message"`
}

// ListMessagesResponse contains a page of chat messages and pagination metadata.
type ListMessagesResponse struct {
	Messages   []domain.Message `json:"messages"`
	Pagination Pagination       `json:"pagination"`
}

// nlCollapseRE collapses runs of 3+ newlines to two, preserving paragraphs.
var nlCollapseRE = regexp.MustCompile(`\n{3,}`)

// sanitizeContent converts CRLF and CR to LF, collapses blank-line runs and
// trims.
func sanitizeContent(raw string) string {
	s := strings.ReplaceAll(raw, "\r\n", "\n")
	s = strings.ReplaceAll(s, "\r", "\n")
	s = nlCollapseRE.ReplaceAllString(s, "\n\n")
	return strings.TrimSpace(s)
}

// PostMessage godoc
// @ID          postMessage
// @Summary     Ask the assistant
// @Description Appends the prompt to the chat and answers it from the AI gateway grounded on the knowledge base,
// @Description falling back to the best SOP snippet, or a fixed no-answer text. Same Idempotency-Key, same reply.
// @Tags        Messages
// @Accept      json
// @Produce     json
// @Param       X-User-ID        header  string  false "Operator id that owns the chat"  example(maria)
// @Param       Idempotency-Key  header  string  false "Idempotency key for safe retries"
// @Param       id               path    string  true  "Chat ID (UUID)"  format(uuid)
// @Param       body             body    handlers.PostMessageRequest  true  "Prompt"
// @Success     200  {object}  handlers.PostMessageResponse  "Assistant reply"
// @Failure     400  {object}  handlers.ErrorResponse        "Bad request"
// @Failure     404  {object}  handlers.ErrorResponse        "Chat not found"
// @Failure     429  {object}  handlers.ErrorResponse        "Rate limited"
// @Failure     500  {object}  handlers.ErrorResponse        "Internal error"
// @Router      /chats/{id}/messages [post]
func (h *Handlers) PostMessage(c *gin.Context) {
	ctx := c.Request.Context()
	chatID := c.Param("id")
	if _, err := uuid.Parse(chatID); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "chat id must be a UUID")
		return
	}

	var req PostMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "content required")
		return
	}
	content := sanitizeContent(req.Content)
	if content == "" {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "content required")
		return
	}
	if utf8.RuneCountInString(content) > h.maxPrompt {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, fmt.Sprintf("content too long: max %d runes", h.maxPrompt))
		return
	}

	uid := middleware.UserID(c)
	key, _ := middleware.GetIdempotencyKey(c)
	if prev := h.replayedMessage(c, uid, chatID, key); prev != nil {
		c.Header(middleware.HeaderIdempotencyReplayed, "true")
		ok(c, http.StatusOK, PostMessageResponse{Message: prev})
		return
	}

	m, err := h.msgSvc.Answer(ctx, uid, chatID, content)
	if err != nil {
		switch {
		case errors.Is(err, services.ErrChatNotFound):
			fail(c, http.StatusNotFound, ErrCodeNotFound, "chat not found")
		case errors.Is(err, services.ErrTooLong):
			fail(c, http.StatusBadRequest, ErrCodeBadRequest, "content too long")
		case errors.Is(err, services.ErrEmptyPrompt):
			fail(c, http.StatusBadRequest, ErrCodeBadRequest, "content required")
		default:
			fail(c, http.StatusInternalServerError, ErrCodeAnswerFailed, err.Error())
		}
		return
	}

	if key != "" && h.db != nil {
		_, err := repo.CreateIdempotency(ctx, h.db, uid, chatID, key, m.ID, http.StatusOK, h.idemTTL)
		if err != nil && !errors.Is(err, repo.ErrDuplicate) {
			middleware.LoggerFrom(c).Warn().Err(err).Msg("idempotency store failed")
		}
	}
	ok(c, http.StatusOK, PostMessageResponse{Message: m})
}

// replayedMessage returns the reply recorded for key, or nil. Only requests
// the validator marked as replays are looked up again.
func (h *Handlers) replayedMessage(c *gin.Context, userID, chatID, key string) *domain.Message {
	if key == "" || h.db == nil || !middleware.IsReplay(c) {
		return nil
	}
	ctx := c.Request.Context()
	rec, err := repo.GetIdempotency(ctx, h.db, userID, chatID, key, time.Now().UTC())
	if err != nil {
		return nil
	}
	m, err := repo.GetMessage(ctx, h.db, rec.ResourceID)
	if err != nil {
		return nil
	}
	return m
}

// ListMessages godoc
// @ID          listMessages
// @Summary     List messages in a chat
// @Tags        Messages
// @Produce     json
// @Param       X-User-ID      header string  false "Operator id that owns the chat"
// @Param       If-None-Match  header string  false "Return 304 if ETag matches"
// @Param       id             path   string  true  "Chat ID (UUID)"  format(uuid)
// @Param       page           query  int     false "Page number"     minimum(1) default(1)
// @Param       page_size      query  int     false "Items per page"  minimum(1) maximum(100) default(20)
// @Success     200  {object} handlers.ListMessagesResponse
// @Success     304  {string} string "Not Modified"
// @Failure     400  {object} handlers.ErrorResponse "Bad request"
// @Failure     404  {object} handlers.ErrorResponse "Chat not found"
// @Router      /chats/{id}/messages [get]
func (h *Handlers) ListMessages(c *gin.Context) {
	ctx := c.Request.Context()
	chatID := c.Param("id")
	if _, err := uuid.Parse(chatID); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "chat id must be a UUID")
		return
	}
	page, pageSize := clampPagination(c)

	if h.db != nil {
		// Ownership is checked before the ETag so a 304 never leaks another user's chat.
		if _, err := repo.GetChat(ctx, h.db, chatID, middleware.UserID(c)); err == nil {
			if st, err := repo.MessagesStats(ctx, h.db, chatID); err == nil && notModified(c, "messages:"+chatID+":"+c.Request.URL.RawQuery, st) {
				return
			}
		}
	}

	items, total, err := h.msgSvc.ListPage(ctx, middleware.UserID(c), chatID, page, pageSize)
	if err != nil {
		if errors.Is(err, services.ErrChatNotFound) {
			fail(c, http.StatusNotFound, ErrCodeNotFound, "chat not found")
			return
		}
		fail(c, http.StatusInternalServerError, ErrCodeListFailed, err.Error())
		return
	}
	ok(c, http.StatusOK, ListMessagesResponse{Messages: items, Pagination: newPagination(page, pageSize, total)})
}
