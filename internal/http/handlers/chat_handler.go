// Assistant chat endpoints. A chat belongs to the caller named by X-User-ID
// and may be opened about one task, issue or visit note.
package handlers

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/tbourn/fieldops-backend/internal/domain"
	"github.com/tbourn/fieldops-backend/internal/http/middleware"
	"github.com/tbourn/fieldops-backend/internal/repo"
	"github.com/tbourn/fieldops-backend/internal/services"
)

// CreateChatRequest is the JSON payload for creating a chat.
type CreateChatRequest struct {
	// Title optionally sets the chat title. When empty the subject, if any,
	// names the chat.
	Title string `json:"title" example:"Damaged parcels Surabaya"`
	// SubjectKind and SubjectID link the chat to a synced record.
	SubjectKind string `json:"subject_kind,omitempty" enums:"tasks,issues,visits" example:"issues"`
	SubjectID   string `json:"subject_id,omitempty" example:"6f1c2d7e-0d8a-4c1e-9d55-2b0c1f6a9e10"`
}

// UpdateChatTitleRequest is the JSON payload for updating a chat title.
type UpdateChatTitleRequest struct {
	Title string `json:"title" binding:"required,min=1,max=255" example:"Late pickups East Java"`
}

// ListChatsResponse wraps a page of chats and pagination information.
type ListChatsResponse struct {
	Chats      []domain.Chat `json:"chats"`
	Pagination Pagination    `json:"pagination"`
}

// CreateChat godoc
// @ID          createChat
// @Summary     Create a new chat
// @Description Creates an assistant chat for the caller, optionally about a task, issue or visit note.
// @Tags        Chats
// @Accept      json
// @Produce     json
// @Param       X-User-ID  header  string  false "Operator id"  example(maria)
// @Param       body       body    handlers.CreateChatRequest  true  "Create chat payload"
// @Success     201  {object}  domain.Chat
// @Failure     400  {object}  handlers.ErrorResponse  "Bad request"
// @Failure     404  {object}  handlers.ErrorResponse  "Subject record not found"
// @Failure     500  {object}  handlers.ErrorResponse  "Internal error"
// @Router      /chats [post]
func (h *Handlers) CreateChat(c *gin.Context) {
	var req CreateChatRequest
	if !bindJSON(c, &req) {
		return
	}
	ch, err := h.chatSvc.Create(c.Request.Context(), middleware.UserID(c), services.NewChat{
		Title:       req.Title,
		SubjectKind: req.SubjectKind,
		SubjectID:   req.SubjectID,
	})
	switch {
	case errors.Is(err, domain.ErrUnknownKind), errors.Is(err, domain.ErrMissingField), errors.Is(err, services.ErrRecordNotFound):
		writeError(c, err)
		return
	case err != nil:
		fail(c, http.StatusInternalServerError, ErrCodeCreateFailed, err.Error())
		return
	}
	ok(c, http.StatusCreated, ch)
}

// ListChats godoc
// @ID          listChats
// @Summary     List chats (paginated)
// @Description Returns a page of the caller's chats, most recently active first. Supports weak ETag via If-None-Match.
// @Tags        Chats
// @Produce     json
// @Param       X-User-ID      header  string  false "Operator id"                 example(maria)
// @Param       If-None-Match  header  string  false "Return 304 if ETag matches"
// @Param       page           query   int     false "Page number"                 minimum(1) default(1)
// @Param       page_size      query   int     false "Items per page"              minimum(1) maximum(100) default(20)
// @Success     200  {object} handlers.ListChatsResponse
// @Header      200  {string} ETag  "Weak ETag for current result"
// @Success     304  {string} string "Not Modified"
// @Failure     500  {object} handlers.ErrorResponse "Internal error"
// @Router      /chats [get]
func (h *Handlers) ListChats(c *gin.Context) {
	ctx := c.Request.Context()
	uid := middleware.UserID(c)
	page, pageSize := clampPagination(c)

	if h.db != nil {
		if st, err := repo.ChatsStats(ctx, h.db, uid); err == nil && notModified(c, "chats:"+uid+":"+c.Request.URL.RawQuery, st) {
			return
		}
	}

	items, total, err := h.chatSvc.ListPage(ctx, uid, page, pageSize)
	if err != nil {
		fail(c, http.StatusInternalServerError, ErrCodeListFailed, err.Error())
		return
	}
	ok(c, http.StatusOK, ListChatsResponse{Chats: items, Pagination: newPagination(page, pageSize, total)})
}

// UpdateChatTitle godoc
// @ID          updateChatTitle
// @Summary     Rename a chat
// @Tags        Chats
// @Accept      json
// @Produce     json
// @Param       X-User-ID  header  string  false "Operator id"     example(maria)
// @Param       id         path    string  true  "Chat ID (UUID)"  format(uuid)
// @Param       body       body    handlers.UpdateChatTitleRequest  true  "New title"
// @Success     204  {string} string "No Content"
// @Failure     400  {object} handlers.ErrorResponse "Bad request"
// @Failure     404  {object} handlers.ErrorResponse "Chat not found"
// @Router      /chats/{id}/title [put]
func (h *Handlers) UpdateChatTitle(c *gin.Context) {
	chatID := c.Param("id")
	if _, err := uuid.Parse(chatID); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "chat id must be a UUID")
		return
	}
	var req UpdateChatTitleRequest
	if err := c.ShouldBindJSON(&req); err != nil || strings.TrimSpace(req.Title) == "" {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "title required (1-255 chars)")
		return
	}
	err := h.chatSvc.UpdateTitle(c.Request.Context(), middleware.UserID(c), chatID, req.Title)
	switch {
	case errors.Is(err, services.ErrChatNotFound):
		fail(c, http.StatusNotFound, ErrCodeNotFound, "chat not found")
		return
	case err != nil:
		fail(c, http.StatusInternalServerError, ErrCodeInternal, err.Error())
		return
	}
	noContent(c)
}
