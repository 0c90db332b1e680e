package handlers

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tbourn/fieldops-backend/internal/domain"
	"github.com/tbourn/fieldops-backend/internal/services"
)

func TestLeaveFeedback_Flow(t *testing.T) {
	r, _ := newAssistantAPI(t)
	ch := createChat(t, r, "op-1", "")
	w := do(r, http.MethodPost, "/chats/"+ch.ID+"/messages", map[string]any{"content": "damaged parcel"}, asUser("op-1"))
	require.Equal(t, http.StatusOK, w.Code)
	reply := decode[PostMessageResponse](t, w).Message

	w = do(r, http.MethodGet, "/chats/"+ch.ID+"/messages", nil, asUser("op-1"))
	var question domain.Message
	for _, m := range decode[ListMessagesResponse](t, w).Messages {
		if m.Role == "user" {
			question = m
		}
	}
	require.NotEmpty(t, question.ID)

	path := "/messages/" + reply.ID + "/feedback"
	assert.Equal(t, http.StatusNoContent, do(r, http.MethodPost, path, map[string]any{"value": 1}, asUser("op-1")).Code)
	assert.Equal(t, http.StatusConflict, do(r, http.MethodPost, path, map[string]any{"value": -1}, asUser("op-1")).Code)
	assert.Equal(t, http.StatusForbidden, do(r, http.MethodPost, path, map[string]any{"value": 1}, asUser("op-2")).Code)
	assert.Equal(t, http.StatusForbidden, do(r, http.MethodPost, "/messages/"+question.ID+"/feedback", map[string]any{"value": 1}, asUser("op-1")).Code)
	assert.Equal(t, http.StatusNotFound, do(r, http.MethodPost, "/messages/missing/feedback", map[string]any{"value": 1}, asUser("op-1")).Code)
	assert.Equal(t, http.StatusBadRequest, do(r, http.MethodPost, path, map[string]any{"value": 2}, asUser("op-1")).Code)
	assert.Equal(t, http.StatusBadRequest, do(r, http.MethodPost, path, map[string]any{}, asUser("op-1")).Code)
}

type stubFeedback struct{ err error }

func (s stubFeedback) Leave(context.Context, string, string, int) error { return s.err }

func TestLeaveFeedback_ErrorMapping(t *testing.T) {
	cases := []struct {
		err    error
		status int
		code   string
	}{
		{services.ErrMessageNotFound, http.StatusNotFound, ErrCodeNotFound},
		{services.ErrInvalidFeedback, http.StatusBadRequest, ErrCodeBadRequest},
		{services.ErrForbiddenFeedback, http.StatusForbidden, ErrCodeForbidden},
		{services.ErrDuplicateFeedback, http.StatusConflict, ErrCodeConflict},
		{errors.New("disk full"), http.StatusInternalServerError, ErrCodeInternal},
	}
	for _, tc := range cases {
		t.Run(tc.code, func(t *testing.T) {
			h := New(Services{Feedback: stubFeedback{err: tc.err}})
			r := newEngine()
			r.POST("/messages/:id/feedback", h.LeaveFeedback)

			w := do(r, http.MethodPost, "/messages/m-1/feedback", map[string]any{"value": -1})
			assert.Equal(t, tc.status, w.Code)
			assert.Equal(t, tc.code, errCode(t, w))
		})
	}
}
