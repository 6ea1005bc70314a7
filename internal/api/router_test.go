package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-chi/chi/v5"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func named(name string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		JSON(w, http.StatusOK, map[string]string{
			"handler":         name,
			"conversation_id": chi.URLParam(r, "conversationID"),
		})
	}
}

func testHandlers() HandlerSet {
	return HandlerSet{
		SendMessage:      named("send"),
		GetSession:       named("session"),
		EndSession:       named("end"),
		GetMemory:        named("memory"),
		GetMemoryContext: named("context"),
	}
}

func decodeData(t *testing.T, rec *httptest.ResponseRecorder) map[string]string {
	t.Helper()
	var body struct {
		Data map[string]string `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body.Data
}

func TestRouter_Routes(t *testing.T) {
	r := NewRouter(nil, nil, nil, RouterConfig{}, testHandlers())

	tests := []struct {
		method  string
		path    string
		handler string
	}{
		{http.MethodPost, "/api/v1/conversations/c1/messages", "send"},
		{http.MethodGet, "/api/v1/conversations/c1/", "session"},
		{http.MethodPost, "/api/v1/conversations/c1/end", "end"},
		{http.MethodGet, "/api/v1/conversations/c1/memory", "memory"},
		{http.MethodGet, "/api/v1/conversations/c1/memory/context", "context"},
	}
	for _, tt := range tests {
		t.Run(tt.method+" "+tt.path, func(t *testing.T) {
			rec := httptest.NewRecorder()
			r.ServeHTTP(rec, httptest.NewRequest(tt.method, tt.path, nil))
			require.Equal(t, http.StatusOK, rec.Code)

			data := decodeData(t, rec)
			assert.Equal(t, tt.handler, data["handler"])
			assert.Equal(t, "c1", data["conversation_id"])
			assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))
		})
	}

	t.Run("turns route absent without postgres", func(t *testing.T) {
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/conversations/c1/turns", nil))
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})
}

func TestRouter_AuthAndRateLimit(t *testing.T) {
	h := testHandlers()
	h.AuthMiddleware = func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Header.Get("Authorization") == "" {
				HandleError(w, ErrUnauthorized)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
	limited := 0
	cfg := RouterConfig{MessageRateLimiter: func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			limited++
			next.ServeHTTP(w, r)
		})
	}}
	r := NewRouter(nil, nil, nil, cfg, h)

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/conversations/c1/", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	for _, path := range []string{"/api/v1/conversations/c1/", "/api/v1/conversations/c1/messages"} {
		method := http.MethodGet
		if path == "/api/v1/conversations/c1/messages" {
			method = http.MethodPost
		}
		req := httptest.NewRequest(method, path, nil)
		req.Header.Set("Authorization", "Bearer x")
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusOK, rec.Code)
	}
	assert.Equal(t, 1, limited, "only message posts are rate limited")

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health/live", nil))
	assert.Equal(t, http.StatusOK, rec.Code, "probes stay public")
}

func TestRouter_Readiness(t *testing.T) {
	t.Run("nothing configured", func(t *testing.T) {
		r := NewRouter(nil, nil, nil, RouterConfig{}, testHandlers())
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health/ready", nil))

		require.Equal(t, http.StatusOK, rec.Code)
		data := decodeData(t, rec)
		assert.Equal(t, "healthy", data["status"])
		assert.Equal(t, "not configured", data["redis"])
	})

	t.Run("redis down", func(t *testing.T) {
		mr := miniredis.RunT(t)
		rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
		t.Cleanup(func() { rdb.Close() })

		r := NewRouter(nil, rdb, nil, RouterConfig{}, testHandlers())

		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health/ready", nil))
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "healthy", decodeData(t, rec)["redis"])

		mr.Close()
		rec = httptest.NewRecorder()
		r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
		assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
		data := decodeData(t, rec)
		assert.Equal(t, "degraded", data["status"])
		assert.Equal(t, "unhealthy", data["redis"])
	})
}

func TestHandleError(t *testing.T) {
	rec := httptest.NewRecorder()
	HandleError(rec, NewNotFoundError("conversation not found"))
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.JSONEq(t, `{"error":"conversation not found"}`, rec.Body.String())

	rec = httptest.NewRecorder()
	HandleError(rec, assert.AnError)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}
