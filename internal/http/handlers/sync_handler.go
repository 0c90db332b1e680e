package handlers

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/fieldops-backend/internal/services"
	"github.com/tbourn/fieldops-backend/internal/store"
	"github.com/tbourn/fieldops-backend/internal/syncer"
)

// ConnectRequest carries the access token from the client's consent flow.
// Everything else about the remote store comes from server configuration.
type ConnectRequest struct {
	AccessToken string `json:"access_token" example:"ya29.a0Af..."`
}

// ConnectResponse reports the backend that is now authoritative.
type ConnectResponse struct {
	syncer.Result
	State services.SyncState `json:"state"`
}

// SyncState godoc
// @ID          syncState
// @Summary     Sync state
// @Description Which backend is authoritative, when it was last loaded, and collection sizes.
// @Tags        Sync
// @Produce     json
// @Success     200  {object}  services.SyncState
// @Router      /sync [get]
func (h *Handlers) SyncState(c *gin.Context) {
	ok(c, http.StatusOK, h.records.State())
}

// ConnectRemote godoc
// @ID          connectRemote
// @Summary     Connect the remote store
// @Description Opens the configured remote store with the caller's access token, loads every collection from it
// @Description and makes it authoritative for the rest of the process lifetime. On failure the local store stays authoritative.
// @Tags        Sync
// @Accept      json
// @Produce     json
// @Param       body  body  handlers.ConnectRequest  true  "Access token"
// @Success     200  {object}  handlers.ConnectResponse
// @Failure     400  {object}  handlers.ErrorResponse  "Missing credentials"
// @Failure     409  {object}  handlers.ErrorResponse  "Already connected"
// @Failure     502  {object}  handlers.ErrorResponse  "Remote connect failed"
// @Router      /sync/connect [post]
func (h *Handlers) ConnectRemote(defaults store.Credentials) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req ConnectRequest
		if !bindJSON(c, &req) {
			return
		}
		res, err := h.records.Connect(c.Request.Context(), withAccessToken(defaults, req.AccessToken))
		if err != nil {
			writeError(c, err)
			return
		}
		ok(c, http.StatusOK, ConnectResponse{Result: res, State: h.records.State()})
	}
}

// ReloadRecords godoc
// @ID          reloadRecords
// @Summary     Reload from the authoritative store
// @Description Re-reads the three collections. On failure the previous copy is kept.
// @Tags        Sync
// @Produce     json
// @Success     200  {object}  services.SyncState
// @Failure     502  {object}  handlers.ErrorResponse  "Reload failed"
// @Router      /sync/reload [post]
func (h *Handlers) ReloadRecords(c *gin.Context) {
	if err := h.records.Reload(c.Request.Context()); err != nil {
		writeError(c, err)
		return
	}
	ok(c, http.StatusOK, h.records.State())
}

// withAccessToken returns the configured credentials with the caller's token.
// Hosts and document ids are never taken from the request.
func withAccessToken(configured store.Credentials, token string) store.Credentials {
	configured.AccessToken = strings.TrimSpace(token)
	return configured
}
