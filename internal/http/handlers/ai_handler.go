// AI assist HTTP handlers.
//
// Each endpoint wraps one gateway skill. The router puts the group behind
// the per-caller rate limiter. Errors map as follows: no API key configured
// is 503 ai_unavailable, output that failed to parse or validate is 422
// ai_malformed_output, and a provider that kept failing after retries is
// 502 ai_failed.
package handlers

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/fieldops-backend/internal/ai"
	"github.com/tbourn/fieldops-backend/internal/domain"
)

// TextRequest carries free text for classification and extraction.
type TextRequest struct {
	Text string `json:"text" binding:"required" example:"Paket AWB 1234 rusak saat diterima agen, kardus basah"`
}

// ScorePriorityRequest carries the task to score. An id may be given instead
// of the task body to score a synced task.
type ScorePriorityRequest struct {
	TaskID string       `json:"task_id,omitempty"`
	Task   *domain.Task `json:"task,omitempty"`
}

// SummarizeVisitRequest carries the visit note to summarize, or its id.
type SummarizeVisitRequest struct {
	VisitID string            `json:"visit_id,omitempty"`
	Visit   *domain.VisitNote `json:"visit,omitempty"`
}

// DraftMessageRequest describes the message to write.
type DraftMessageRequest struct {
	Purpose string `json:"purpose" binding:"required" example:"follow up a late pickup with the partner"`
	Facts   string `json:"facts" example:"Pickup scheduled 09:00, courier arrived 13:30"`
}

// TextResponse wraps free-form model output.
type TextResponse struct {
	Text string `json:"text"`
}

func writeAIError(c *gin.Context, err error) {
	if errors.Is(err, ai.ErrMissingAPIKey) || errors.Is(err, ai.ErrMalformedOutput) {
		writeError(c, err)
		return
	}
	fail(c, http.StatusBadGateway, ErrCodeAIFailed, err.Error())
}

func bindText(c *gin.Context) (string, bool) {
	var req TextRequest
	if err := c.ShouldBindJSON(&req); err != nil || strings.TrimSpace(req.Text) == "" {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "text is required")
		return "", false
	}
	return strings.TrimSpace(req.Text), true
}

// ClassifyIssue godoc
// @ID          classifyIssue
// @Summary     Classify an issue
// @Description Suggests operational code, SOP and owning division with a confidence in [0,1].
// @Tags        AI
// @Accept      json
// @Produce     json
// @Param       body  body  handlers.TextRequest  true  "Issue description"
// @Success     200  {object}  ai.IssueClassification
// @Failure     422  {object}  handlers.ErrorResponse  "Malformed model output"
// @Failure     429  {object}  handlers.ErrorResponse  "Rate limited"
// @Failure     503  {object}  handlers.ErrorResponse  "AI not configured"
// @Router      /ai/classify-issue [post]
func (h *Handlers) ClassifyIssue(c *gin.Context) {
	text, valid := bindText(c)
	if !valid {
		return
	}
	out, err := h.ai.ClassifyIssue(c.Request.Context(), text)
	if err != nil {
		writeAIError(c, err)
		return
	}
	ok(c, http.StatusOK, out)
}

// ScorePriority godoc
// @ID          scorePriority
// @Summary     Score task priority
// @Description Rates a task 0..100 and maps it to P1, P2 or P3.
// @Tags        AI
// @Accept      json
// @Produce     json
// @Param       body  body  handlers.ScorePriorityRequest  true  "Task or task id"
// @Success     200  {object}  ai.PriorityScore
// @Failure     404  {object}  handlers.ErrorResponse  "Task not found"
// @Failure     422  {object}  handlers.ErrorResponse  "Malformed model output"
// @Failure     503  {object}  handlers.ErrorResponse  "AI not configured"
// @Router      /ai/score-priority [post]
func (h *Handlers) ScorePriority(c *gin.Context) {
	var req ScorePriorityRequest
	if !bindJSON(c, &req) {
		return
	}
	var task domain.Task
	switch {
	case req.Task != nil:
		task = *req.Task
	case req.TaskID != "":
		rec, found := h.records.Find(domain.KindTasks, req.TaskID)
		if !found {
			fail(c, http.StatusNotFound, ErrCodeNotFound, "task not found")
			return
		}
		task = rec.(domain.Task)
	}
	if strings.TrimSpace(task.Title) == "" {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "task with a title or task_id is required")
		return
	}
	out, err := h.ai.ScorePriority(c.Request.Context(), task)
	if err != nil {
		writeAIError(c, err)
		return
	}
	ok(c, http.StatusOK, out)
}

// ExtractTask godoc
// @ID          extractTask
// @Summary     Extract a task from text
// @Description Fills the task form from a chat message or e-mail. Nothing is saved.
// @Tags        AI
// @Accept      json
// @Produce     json
// @Param       body  body  handlers.TextRequest  true  "Free text"
// @Success     200  {object}  ai.TaskDraft
// @Failure     422  {object}  handlers.ErrorResponse  "Malformed model output"
// @Failure     503  {object}  handlers.ErrorResponse  "AI not configured"
// @Router      /ai/extract-task [post]
func (h *Handlers) ExtractTask(c *gin.Context) {
	text, valid := bindText(c)
	if !valid {
		return
	}
	out, err := h.ai.ExtractTask(c.Request.Context(), text)
	if err != nil {
		writeAIError(c, err)
		return
	}
	ok(c, http.StatusOK, out)
}

// ExtractIssue godoc
// @ID          extractIssue
// @Summary     Extract an issue from text
// @Description Fills the issue form from a complaint or escalation. Nothing is saved.
// @Tags        AI
// @Accept      json
// @Produce     json
// @Param       body  body  handlers.TextRequest  true  "Free text"
// @Success     200  {object}  ai.IssueDraft
// @Failure     422  {object}  handlers.ErrorResponse  "Malformed model output"
// @Failure     503  {object}  handlers.ErrorResponse  "AI not configured"
// @Router      /ai/extract-issue [post]
func (h *Handlers) ExtractIssue(c *gin.Context) {
	text, valid := bindText(c)
	if !valid {
		return
	}
	out, err := h.ai.ExtractIssue(c.Request.Context(), text)
	if err != nil {
		writeAIError(c, err)
		return
	}
	ok(c, http.StatusOK, out)
}

// SummarizeVisit godoc
// @ID          summarizeVisit
// @Summary     Summarize a visit note
// @Tags        AI
// @Accept      json
// @Produce     json
// @Param       body  body  handlers.SummarizeVisitRequest  true  "Visit note or visit id"
// @Success     200  {object}  handlers.TextResponse
// @Failure     404  {object}  handlers.ErrorResponse  "Visit not found"
// @Failure     503  {object}  handlers.ErrorResponse  "AI not configured"
// @Router      /ai/summarize-visit [post]
func (h *Handlers) SummarizeVisit(c *gin.Context) {
	var req SummarizeVisitRequest
	if !bindJSON(c, &req) {
		return
	}
	var v domain.VisitNote
	switch {
	case req.Visit != nil:
		v = *req.Visit
	case req.VisitID != "":
		rec, found := h.records.Find(domain.KindVisits, req.VisitID)
		if !found {
			fail(c, http.StatusNotFound, ErrCodeNotFound, "visit not found")
			return
		}
		v = rec.(domain.VisitNote)
	default:
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "visit or visit_id is required")
		return
	}
	text, err := h.ai.SummarizeVisit(c.Request.Context(), v)
	if err != nil {
		writeAIError(c, err)
		return
	}
	ok(c, http.StatusOK, TextResponse{Text: text})
}

// DraftMessage godoc
// @ID          draftMessage
// @Summary     Draft a chat message
// @Tags        AI
// @Accept      json
// @Produce     json
// @Param       body  body  handlers.DraftMessageRequest  true  "Purpose and facts"
// @Success     200  {object}  handlers.TextResponse
// @Failure     503  {object}  handlers.ErrorResponse  "AI not configured"
// @Router      /ai/draft-message [post]
func (h *Handlers) DraftMessage(c *gin.Context) {
	var req DraftMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil || strings.TrimSpace(req.Purpose) == "" {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "purpose is required")
		return
	}
	text, err := h.ai.DraftMessage(c.Request.Context(), strings.TrimSpace(req.Purpose), req.Facts)
	if err != nil {
		writeAIError(c, err)
		return
	}
	ok(c, http.StatusOK, TextResponse{Text: text})
}
