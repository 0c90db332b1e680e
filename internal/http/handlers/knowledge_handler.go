// Knowledge base HTTP handlers: SOPs, escalation contacts and search.
//
// SOP writes rebuild the search index that grounds assistant replies, so a
// successful write is visible to /kb/search and to the next chat message.
package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/fieldops-backend/internal/domain"
	"github.com/tbourn/fieldops-backend/internal/repo"
	"github.com/tbourn/fieldops-backend/internal/search"
	"github.com/tbourn/fieldops-backend/internal/utils"
)

// SearchResponse wraps knowledge-base hits, best first.
type SearchResponse struct {
	Query   string          `json:"query"`
	Results []search.Result `json:"results"`
}

// ImportResponse reports how many SOPs an import created.
type ImportResponse struct {
	Created int `json:"created"`
}

// ListSOPs godoc
// @ID          listSOPs
// @Summary     List SOPs
// @Tags        Knowledge
// @Produce     json
// @Param       category       query   string  false  "Exact category"
// @Param       If-None-Match  header  string  false  "Return 304 if ETag matches"
// @Success     200  {array}  domain.SOP
// @Success     304  {string} string  "Not Modified"
// @Router      /sops [get]
func (h *Handlers) ListSOPs(c *gin.Context) {
	ctx := c.Request.Context()
	if h.db != nil {
		if st, err := repo.SOPsStats(ctx, h.db); err == nil && notModified(c, "sops:"+c.Request.URL.RawQuery, st) {
			return
		}
	}
	items, err := h.kb.ListSOPs(ctx, queryTrim(c, "category"))
	if err != nil {
		writeError(c, err)
		return
	}
	ok(c, http.StatusOK, items)
}

// GetSOP godoc
// @ID          getSOP
// @Summary     Get an SOP
// @Tags        Knowledge
// @Produce     json
// @Param       id   path  string  true  "SOP ID"
// @Success     200  {object}  domain.SOP
// @Failure     404  {object}  handlers.ErrorResponse  "SOP not found"
// @Router      /sops/{id} [get]
func (h *Handlers) GetSOP(c *gin.Context) {
	sop, err := h.kb.GetSOP(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	ok(c, http.StatusOK, sop)
}

// CreateSOP godoc
// @ID          createSOP
// @Summary     Create an SOP
// @Tags        Knowledge
// @Accept      json
// @Produce     json
// @Param       body  body  domain.SOP  true  "SOP"
// @Success     201  {object}  domain.SOP
// @Failure     400  {object}  handlers.ErrorResponse  "Title and content are required"
// @Router      /sops [post]
func (h *Handlers) CreateSOP(c *gin.Context) {
	var sop domain.SOP
	if !bindJSON(c, &sop) {
		return
	}
	sop.ID = ""
	out, err := h.kb.CreateSOP(c.Request.Context(), sop)
	if err != nil {
		writeError(c, err)
		return
	}
	ok(c, http.StatusCreated, out)
}

// UpdateSOP godoc
// @ID          updateSOP
// @Summary     Replace an SOP
// @Tags        Knowledge
// @Accept      json
// @Produce     json
// @Param       id    path  string      true  "SOP ID"
// @Param       body  body  domain.SOP  true  "SOP"
// @Success     200  {object}  domain.SOP
// @Failure     404  {object}  handlers.ErrorResponse  "SOP not found"
// @Router      /sops/{id} [put]
func (h *Handlers) UpdateSOP(c *gin.Context) {
	var sop domain.SOP
	if !bindJSON(c, &sop) {
		return
	}
	sop.ID = c.Param("id")
	out, err := h.kb.UpdateSOP(c.Request.Context(), sop)
	if err != nil {
		writeError(c, err)
		return
	}
	ok(c, http.StatusOK, out)
}

// DeleteSOP godoc
// @ID          deleteSOP
// @Summary     Delete an SOP
// @Tags        Knowledge
// @Param       id   path  string  true  "SOP ID"
// @Success     204  {string}  string  "No Content"
// @Failure     404  {object}  handlers.ErrorResponse  "SOP not found"
// @Router      /sops/{id} [delete]
func (h *Handlers) DeleteSOP(c *gin.Context) {
	if err := h.kb.DeleteSOP(c.Request.Context(), c.Param("id")); err != nil {
		writeError(c, err)
		return
	}
	noContent(c)
}

// ImportSOPs godoc
// @ID          importSOPs
// @Summary     Import SOPs from Markdown
// @Description Creates one SOP per headed section of the Markdown body, in one transaction.
// @Description A heading like "## SOP-12 Damaged parcel" sets both code and title.
// @Tags        Knowledge
// @Accept      plain
// @Produce     json
// @Param       category  query  string  false  "Category for every imported SOP"
// @Param       body      body   string  true   "Markdown document"
// @Success     201  {object}  handlers.ImportResponse
// @Failure     400  {object}  handlers.ErrorResponse  "Unreadable document"
// @Router      /sops/import [post]
func (h *Handlers) ImportSOPs(c *gin.Context) {
	n, err := h.kb.ImportMarkdown(c.Request.Context(), c.Request.Body, queryTrim(c, "category"))
	if err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, err.Error())
		return
	}
	ok(c, http.StatusCreated, ImportResponse{Created: n})
}

// ListContacts godoc
// @ID          listContacts
// @Summary     List escalation contacts
// @Tags        Knowledge
// @Produce     json
// @Param       division  query  string  false  "Exact division"
// @Success     200  {array}  domain.Contact
// @Router      /contacts [get]
func (h *Handlers) ListContacts(c *gin.Context) {
	items, err := h.kb.ListContacts(c.Request.Context(), queryTrim(c, "division"))
	if err != nil {
		writeError(c, err)
		return
	}
	ok(c, http.StatusOK, items)
}

// GetContact godoc
// @ID          getContact
// @Summary     Get a contact
// @Tags        Knowledge
// @Produce     json
// @Param       id   path  string  true  "Contact ID"
// @Success     200  {object}  domain.Contact
// @Failure     404  {object}  handlers.ErrorResponse  "Contact not found"
// @Router      /contacts/{id} [get]
func (h *Handlers) GetContact(c *gin.Context) {
	ct, err := h.kb.GetContact(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	ok(c, http.StatusOK, ct)
}

// CreateContact godoc
// @ID          createContact
// @Summary     Create a contact
// @Tags        Knowledge
// @Accept      json
// @Produce     json
// @Param       body  body  domain.Contact  true  "Contact"
// @Success     201  {object}  domain.Contact
// @Failure     400  {object}  handlers.ErrorResponse  "Name is required"
// @Router      /contacts [post]
func (h *Handlers) CreateContact(c *gin.Context) {
	var ct domain.Contact
	if !bindJSON(c, &ct) {
		return
	}
	ct.ID = ""
	out, err := h.kb.CreateContact(c.Request.Context(), ct)
	if err != nil {
		writeError(c, err)
		return
	}
	ok(c, http.StatusCreated, out)
}

// UpdateContact godoc
// @ID          updateContact
// @Summary     Replace a contact
// @Tags        Knowledge
// @Accept      json
// @Produce     json
// @Param       id    path  string          true  "Contact ID"
// @Param       body  body  domain.Contact  true  "Contact"
// @Success     200  {object}  domain.Contact
// @Failure     404  {object}  handlers.ErrorResponse  "Contact not found"
// @Router      /contacts/{id} [put]
func (h *Handlers) UpdateContact(c *gin.Context) {
	var ct domain.Contact
	if !bindJSON(c, &ct) {
		return
	}
	ct.ID = c.Param("id")
	out, err := h.kb.UpdateContact(c.Request.Context(), ct)
	if err != nil {
		writeError(c, err)
		return
	}
	ok(c, http.StatusOK, out)
}

// DeleteContact godoc
// @ID          deleteContact
// @Summary     Delete a contact
// @Tags        Knowledge
// @Param       id   path  string  true  "Contact ID"
// @Success     204  {string}  string  "No Content"
// @Failure     404  {object}  handlers.ErrorResponse  "Contact not found"
// @Router      /contacts/{id} [delete]
func (h *Handlers) DeleteContact(c *gin.Context) {
	if err := h.kb.DeleteContact(c.Request.Context(), c.Param("id")); err != nil {
		writeError(c, err)
		return
	}
	noContent(c)
}

// SearchKnowledge godoc
// @ID          searchKnowledge
// @Summary     Search the knowledge base
// @Description Ranks SOP paragraphs by token overlap with q.
// @Tags        Knowledge
// @Produce     json
// @Param       q  query  string  true   "Query"
// @Param       k  query  int     false  "Max results"  minimum(1) maximum(20) default(5)
// @Success     200  {object}  handlers.SearchResponse
// @Failure     400  {object}  handlers.ErrorResponse  "q is required"
// @Router      /kb/search [get]
func (h *Handlers) SearchKnowledge(c *gin.Context) {
	q := queryTrim(c, "q")
	if q == "" {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "q is required")
		return
	}
	k := utils.IntParam(c.Query("k"), 5, 1, 20)
	ok(c, http.StatusOK, SearchResponse{Query: q, Results: h.kb.Search(q, k)})
}
