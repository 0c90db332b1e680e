// Record HTTP handlers.
//
// The three synced collections share one set of handlers, bound per kind by
// the router:
//   - GET    /{kind}        (list; issues carry their SLA)
//   - GET    /{kind}/{id}   (one record)
//   - POST   /{kind}        (create, id assigned)
//   - PUT    /{kind}/{id}   (upsert)
//   - DELETE /{kind}/{id}
//
// plus GET /issues/overdue. Every write goes through the sync coordinator,
// which picks the authoritative store. Saves honour Idempotency-Key.
package handlers

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/fieldops-backend/internal/domain"
	"github.com/tbourn/fieldops-backend/internal/http/middleware"
	"github.com/tbourn/fieldops-backend/internal/services"
)

// ListRecords godoc
// @ID          listRecords
// @Summary     List synced records
// @Description Returns the current tasks, issues or visit notes from the in-memory copy of the authoritative store.
// @Description Issues carry their SLA label evaluated at request time.
// @Tags        Records
// @Produce     json
// @Success     200  {array}   domain.Task
// @Success     200  {array}   services.IssueView
// @Success     200  {array}   domain.VisitNote
// @Router      /tasks [get]
// @Router      /issues [get]
// @Router      /visits [get]
func (h *Handlers) ListRecords(kind domain.Kind) gin.HandlerFunc {
	return func(c *gin.Context) {
		switch kind {
		case domain.KindTasks:
			ok(c, http.StatusOK, h.records.Tasks())
		case domain.KindIssues:
			ok(c, http.StatusOK, h.records.Issues())
		default:
			ok(c, http.StatusOK, h.records.Visits())
		}
	}
}

// ListOverdueIssues godoc
// @ID          listOverdueIssues
// @Summary     List overdue issues
// @Description Unresolved issues older than the 24h SLA window, with their "Overdue Nh" label.
// @Tags        Records
// @Produce     json
// @Success     200  {array}  services.IssueView
// @Router      /issues/overdue [get]
func (h *Handlers) ListOverdueIssues(c *gin.Context) {
	ok(c, http.StatusOK, h.records.Overdue())
}

// GetRecord godoc
// @ID          getRecord
// @Summary     Get one synced record
// @Tags        Records
// @Produce     json
// @Param       id   path  string  true  "Record ID"
// @Success     200  {object}  domain.Task
// @Failure     404  {object}  handlers.ErrorResponse  "Record not found"
// @Router      /tasks/{id} [get]
// @Router      /issues/{id} [get]
// @Router      /visits/{id} [get]
func (h *Handlers) GetRecord(kind domain.Kind) gin.HandlerFunc {
	return func(c *gin.Context) {
		rec, found := h.records.Find(kind, c.Param("id"))
		if !found {
			fail(c, http.StatusNotFound, ErrCodeNotFound, "record not found")
			return
		}
		if is, isIssue := rec.(domain.Issue); isIssue {
			ok(c, http.StatusOK, services.IssueView{Issue: is, SLA: is.SLA()})
			return
		}
		ok(c, http.StatusOK, rec)
	}
}

// CreateRecord godoc
// @ID          createRecord
// @Summary     Create a synced record
// @Description Assigns an id and creation time, then saves through the sync coordinator.
// @Description With Idempotency-Key, a retry returns the first result with Idempotency-Replayed: true.
// @Tags        Records
// @Accept      json
// @Produce     json
// @Param       X-User-ID        header  string  false  "Operator id"
// @Param       Idempotency-Key  header  string  false  "Idempotency key for safe retries"
// @Param       body             body    domain.Task  true  "Record (task, issue or visit note)"
// @Success     201  {object}  services.SaveResult
// @Failure     400  {object}  handlers.ErrorResponse  "Missing required field"
// @Failure     502  {object}  handlers.ErrorResponse  "Remote write or reload failed"
// @Router      /tasks [post]
// @Router      /issues [post]
// @Router      /visits [post]
func (h *Handlers) CreateRecord(kind domain.Kind) gin.HandlerFunc {
	return func(c *gin.Context) {
		rec, err := decodeRecord(c, kind, "")
		if err != nil {
			fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid JSON body")
			return
		}
		h.save(c, rec)
	}
}

// SaveRecord godoc
// @ID          saveRecord
// @Summary     Upsert a synced record
// @Description Replaces the record with the path id, or appends it when absent. The path id wins over the body.
// @Tags        Records
// @Accept      json
// @Produce     json
// @Param       X-User-ID        header  string  false  "Operator id"
// @Param       Idempotency-Key  header  string  false  "Idempotency key for safe retries"
// @Param       id               path    string  true   "Record ID"
// @Param       body             body    domain.Task  true  "Record (task, issue or visit note)"
// @Success     200  {object}  services.SaveResult  "Updated"
// @Success     201  {object}  services.SaveResult  "Created"
// @Failure     400  {object}  handlers.ErrorResponse  "Missing required field"
// @Failure     502  {object}  handlers.ErrorResponse  "Remote write or reload failed"
// @Router      /tasks/{id} [put]
// @Router      /issues/{id} [put]
// @Router      /visits/{id} [put]
func (h *Handlers) SaveRecord(kind domain.Kind) gin.HandlerFunc {
	return func(c *gin.Context) {
		id := strings.TrimSpace(c.Param("id"))
		rec, err := decodeRecord(c, kind, id)
		if err != nil {
			fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid JSON body")
			return
		}
		h.save(c, rec)
	}
}

func (h *Handlers) save(c *gin.Context, rec domain.Record) {
	key, _ := middleware.GetIdempotencyKey(c)
	res, err := h.records.Save(c.Request.Context(), middleware.UserID(c), key, rec)
	if err != nil {
		writeError(c, err)
		return
	}
	if res.Replayed {
		c.Header(middleware.HeaderIdempotencyReplayed, "true")
	}
	status := http.StatusOK
	if res.Created {
		status = http.StatusCreated
	}
	ok(c, status, res)
}

// DeleteRecord godoc
// @ID          deleteRecord
// @Summary     Delete a synced record
// @Description Removes the record from the authoritative store. Remote stores that cannot delete a kind answer 501.
// @Tags        Records
// @Produce     json
// @Param       id   path  string  true  "Record ID"
// @Success     204  {string}  string  "No Content"
// @Failure     404  {object}  handlers.ErrorResponse  "Record not found"
// @Failure     501  {object}  handlers.ErrorResponse  "Delete not supported by the remote store"
// @Failure     502  {object}  handlers.ErrorResponse  "Remote write or reload failed"
// @Router      /tasks/{id} [delete]
// @Router      /issues/{id} [delete]
// @Router      /visits/{id} [delete]
func (h *Handlers) DeleteRecord(kind domain.Kind) gin.HandlerFunc {
	return func(c *gin.Context) {
		if _, err := h.records.Delete(c.Request.Context(), kind, c.Param("id")); err != nil {
			writeError(c, err)
			return
		}
		noContent(c)
	}
}

// decodeRecord reads the body as the concrete type of kind. A non-empty id
// overrides the body's; create passes "" and clears it so one is assigned.
func decodeRecord(c *gin.Context, kind domain.Kind, id string) (domain.Record, error) {
	dec := json.NewDecoder(c.Request.Body)
	switch kind {
	case domain.KindTasks:
		var t domain.Task
		if err := dec.Decode(&t); err != nil {
			return nil, err
		}
		t.ID = id
		return t, nil
	case domain.KindIssues:
		var is domain.Issue
		if err := dec.Decode(&is); err != nil {
			return nil, err
		}
		is.ID = id
		return is, nil
	default:
		var v domain.VisitNote
		if err := dec.Decode(&v); err != nil {
			return nil, err
		}
		v.ID = id
		return v, nil
	}
}
