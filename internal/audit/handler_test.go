package audit

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubLister struct {
	conversationID string
	params         ListParams
	logs           []TurnLog
	err            error
}

func (s *stubLister) ListByConversation(_ context.Context, conversationID string, params ListParams) ([]TurnLog, int64, error) {
	s.conversationID, s.params = conversationID, params
	return s.logs, int64(len(s.logs)), s.err
}

func serve(t *testing.T, lister Lister, target string) *httptest.ResponseRecorder {
	t.Helper()
	r := chi.NewRouter()
	r.Get("/conversations/{conversationID}/turns", NewHandler(lister).ListTurns)

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, target, nil))
	return rec
}

func TestHandler_ListTurns(t *testing.T) {
	lister := &stubLister{logs: []TurnLog{{ID: 1, ConversationID: "c1", Intent: "search_product"}}}

	rec := serve(t, lister, "/conversations/c1/turns?intent=search_product&success=false&page=2&page_size=5&from=2026-01-01T00:00:00Z")
	require.Equal(t, http.StatusOK, rec.Code)

	assert.Equal(t, "c1", lister.conversationID)
	assert.Equal(t, "search_product", lister.params.Intent)
	require.NotNil(t, lister.params.Success)
	assert.False(t, *lister.params.Success)
	assert.Equal(t, 2, lister.params.Page)
	assert.Equal(t, 5, lister.params.PageSize)
	require.NotNil(t, lister.params.From)
	assert.Equal(t, time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC), lister.params.From.UTC())
	assert.Nil(t, lister.params.To)

	var body struct {
		Data       []TurnLog `json:"data"`
		TotalCount int64     `json:"total_count"`
		Page       int       `json:"page"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Len(t, body.Data, 1)
	assert.Equal(t, int64(1), body.TotalCount)
	assert.Equal(t, 2, body.Page)
}

func TestHandler_ListTurnsIgnoresBadParams(t *testing.T) {
	lister := &stubLister{}
	rec := serve(t, lister, "/conversations/c1/turns?page=-1&page_size=500&success=maybe&to=yesterday")
	require.Equal(t, http.StatusOK, rec.Code)

	assert.Equal(t, DefaultListParams().Page, lister.params.Page)
	assert.Equal(t, DefaultListParams().PageSize, lister.params.PageSize)
	assert.Nil(t, lister.params.Success)
	assert.Nil(t, lister.params.To)
}

func TestHandler_ListTurnsRepositoryError(t *testing.T) {
	rec := serve(t, &stubLister{err: errors.New("db down")}, "/conversations/c1/turns")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}
