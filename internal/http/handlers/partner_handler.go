// Partner HTTP handlers.
//
// Partners live in SQLite. Status (GROWTH, STAGNANT, AT_RISK) is derived from
// the volumes on every read and write; a status sent by a client is ignored.
// The list is cacheable with a weak ETag over the whole table, because a
// filtered view changes whenever any row does.
package handlers

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/fieldops-backend/internal/classify"
	"github.com/tbourn/fieldops-backend/internal/domain"
	"github.com/tbourn/fieldops-backend/internal/repo"
)

// ListPartners godoc
// @ID          listPartners
// @Summary     List partners
// @Description Partners with their derived trend status. Supports weak ETag via If-None-Match.
// @Tags        Partners
// @Produce     json
// @Param       status         query   string  false  "GROWTH, STAGNANT or AT_RISK"
// @Param       province       query   string  false  "Exact province"
// @Param       q              query   string  false  "Matches name, NIA or city"
// @Param       If-None-Match  header  string  false  "Return 304 if ETag matches"
// @Success     200  {array}   domain.Partner
// @Header      200  {string}  ETag  "Weak ETag for the partner table"
// @Success     304  {string}  string  "Not Modified"
// @Failure     400  {object}  handlers.ErrorResponse  "Unknown status"
// @Router      /partners [get]
func (h *Handlers) ListPartners(c *gin.Context) {
	ctx := c.Request.Context()
	if h.db != nil {
		if st, err := repo.PartnersStats(ctx, h.db); err == nil && notModified(c, "partners:"+c.Request.URL.RawQuery, st) {
			return
		}
	}
	f := repo.PartnerFilter{
		Status:   classify.Health(strings.ToUpper(queryTrim(c, "status"))),
		Province: queryTrim(c, "province"),
		Query:    queryTrim(c, "q"),
	}
	items, err := h.partners.List(ctx, f)
	if err != nil {
		writeError(c, err)
		return
	}
	ok(c, http.StatusOK, items)
}

// GetPartner godoc
// @ID          getPartner
// @Summary     Get a partner
// @Tags        Partners
// @Produce     json
// @Param       id   path  string  true  "Partner ID"
// @Success     200  {object}  domain.Partner
// @Failure     404  {object}  handlers.ErrorResponse  "Partner not found"
// @Router      /partners/{id} [get]
func (h *Handlers) GetPartner(c *gin.Context) {
	p, err := h.partners.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	ok(c, http.StatusOK, p)
}

// CreatePartner godoc
// @ID          createPartner
// @Summary     Create a partner
// @Tags        Partners
// @Accept      json
// @Produce     json
// @Param       body  body  domain.Partner  true  "Partner"
// @Success     201  {object}  domain.Partner
// @Failure     400  {object}  handlers.ErrorResponse  "Invalid partner"
// @Router      /partners [post]
func (h *Handlers) CreatePartner(c *gin.Context) {
	var p domain.Partner
	if !bindJSON(c, &p) {
		return
	}
	p.ID = ""
	out, err := h.partners.Create(c.Request.Context(), p)
	if err != nil {
		writeError(c, err)
		return
	}
	ok(c, http.StatusCreated, out)
}

// UpdatePartner godoc
// @ID          updatePartner
// @Summary     Replace a partner
// @Tags        Partners
// @Accept      json
// @Produce     json
// @Param       id    path  string          true  "Partner ID"
// @Param       body  body  domain.Partner  true  "Partner"
// @Success     200  {object}  domain.Partner
// @Failure     400  {object}  handlers.ErrorResponse  "Invalid partner"
// @Failure     404  {object}  handlers.ErrorResponse  "Partner not found"
// @Router      /partners/{id} [put]
func (h *Handlers) UpdatePartner(c *gin.Context) {
	var p domain.Partner
	if !bindJSON(c, &p) {
		return
	}
	p.ID = c.Param("id")
	out, err := h.partners.Update(c.Request.Context(), p)
	if err != nil {
		writeError(c, err)
		return
	}
	ok(c, http.StatusOK, out)
}

// DeletePartner godoc
// @ID          deletePartner
// @Summary     Delete a partner
// @Tags        Partners
// @Param       id   path  string  true  "Partner ID"
// @Success     204  {string}  string  "No Content"
// @Failure     404  {object}  handlers.ErrorResponse  "Partner not found"
// @Router      /partners/{id} [delete]
func (h *Handlers) DeletePartner(c *gin.Context) {
	if err := h.partners.Delete(c.Request.Context(), c.Param("id")); err != nil {
		writeError(c, err)
		return
	}
	noContent(c)
}
