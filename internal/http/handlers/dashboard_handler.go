package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// Dashboard godoc
// @ID          dashboard
// @Summary     Operations overview
// @Description Open tasks per category, SLA summary and overdue issues, partner health,
// @Description visit progress, assistant feedback totals and sync state.
// @Tags        Dashboard
// @Produce     json
// @Success     200  {object}  services.Dashboard
// @Failure     500  {object}  handlers.ErrorResponse  "Internal error"
// @Router      /dashboard [get]
func (h *Handlers) Dashboard(c *gin.Context) {
	d, err := h.dashboard.Summary(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	ok(c, http.StatusOK, d)
}
