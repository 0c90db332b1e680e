package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/fieldops-backend/internal/http/middleware"
	"github.com/tbourn/fieldops-backend/internal/services"
)

// LeaveFeedbackRequest rates an assistant reply: 1 helpful, -1 not.
type LeaveFeedbackRequest struct {
	Value int `json:"value" binding:"required,oneof=-1 1" example:"1"`
}

// LeaveFeedback godoc
// @ID          leaveFeedback
// @Summary     Leave feedback on a message
// @Description Rates an assistant reply in one of the caller's chats. Each operator rates a reply once.
// @Tags        Feedback
// @Accept      json
// @Produce     json
// @Param       X-User-ID  header  string  false "Operator id"        example(maria)
// @Param       id         path    string  true  "Message ID (UUID)"  format(uuid)
// @Param       body       body    handlers.LeaveFeedbackRequest true "Feedback payload"
// @Success     204  {string} string "No Content"
// @Failure     400  {object} handlers.ErrorResponse "Invalid payload"
// @Failure     403  {object} handlers.ErrorResponse "Not allowed to leave feedback"
// @Failure     404  {object} handlers.ErrorResponse "Message not found"
// @Failure     409  {object} handlers.ErrorResponse "Feedback already exists"
// @Router      /messages/{id}/feedback [post]
func (h *Handlers) LeaveFeedback(c *gin.Context) {
	var req LeaveFeedbackRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, services.ErrInvalidFeedback.Error())
		return
	}
	if err := h.fbSvc.Leave(c.Request.Context(), middleware.UserID(c), c.Param("id"), req.Value); err != nil {
		writeError(c, err)
		return
	}
	noContent(c)
}
