package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-chi/chi/v5"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupRateLimiter(t *testing.T, maxReqs, windowSec int, key KeyFunc) (*RateLimiter, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewRateLimiter(client, maxReqs, windowSec, key), mr
}

func okHandler(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
}

func send(handler http.Handler, method, path, remoteAddr string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	req.RemoteAddr = remoteAddr
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func TestRateLimiter_AllowsUnderLimit(t *testing.T) {
	rl, _ := setupRateLimiter(t, 5, 60, nil)
	handler := rl.Middleware(http.HandlerFunc(okHandler))

	for i := 0; i < 5; i++ {
		rec := send(handler, http.MethodPost, "/", "192.168.1.1:12345")
		require.Equal(t, http.StatusOK, rec.Code, "request %d", i+1)
	}
}

func TestRateLimiter_BlocksOverLimit(t *testing.T) {
	rl, _ := setupRateLimiter(t, 3, 60, nil)
	handler := rl.Middleware(http.HandlerFunc(okHandler))

	for i := 0; i < 3; i++ {
		rec := send(handler, http.MethodPost, "/", "10.0.0.1:12345")
		require.Equal(t, http.StatusOK, rec.Code, "request %d", i+1)
	}

	rec := send(handler, http.MethodPost, "/", "10.0.0.1:12345")
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "60", rec.Header().Get("Retry-After"))
	assert.JSONEq(t, `{"error":"too many requests"}`, rec.Body.String())
}

func TestRateLimiter_DifferentIPsIndependent(t *testing.T) {
	rl, _ := setupRateLimiter(t, 2, 60, nil)
	handler := rl.Middleware(http.HandlerFunc(okHandler))

	for i := 0; i < 2; i++ {
		send(handler, http.MethodPost, "/", "1.1.1.1:1")
	}

	rec := send(handler, http.MethodPost, "/", "2.2.2.2:1")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRateLimiter_ByConversation(t *testing.T) {
	rl, _ := setupRateLimiter(t, 2, 60, ByConversation)

	r := chi.NewRouter()
	r.Route("/conversations/{conversationID}", func(r chi.Router) {
		r.Use(rl.Middleware)
		r.Post("/messages", okHandler)
	})

	// Same gateway address, different threads.
	for i := 0; i < 2; i++ {
		rec := send(r, http.MethodPost, "/conversations/c1/messages", "10.0.0.9:1")
		require.Equal(t, http.StatusOK, rec.Code)
	}
	assert.Equal(t, http.StatusTooManyRequests, send(r, http.MethodPost, "/conversations/c1/messages", "10.0.0.9:1").Code)
	assert.Equal(t, http.StatusOK, send(r, http.MethodPost, "/conversations/c2/messages", "10.0.0.9:1").Code)
}

func TestRateLimiter_FailsOpenOnRedisError(t *testing.T) {
	rl, mr := setupRateLimiter(t, 1, 60, nil)
	mr.Close()

	handler := rl.Middleware(http.HandlerFunc(okHandler))
	rec := send(handler, http.MethodPost, "/", "3.3.3.3:1")
	assert.Equal(t, http.StatusOK, rec.Code, "fail-open on Redis failure")
}

func TestClientIP(t *testing.T) {
	tests := []struct {
		name   string
		header map[string]string
		remote string
		want   string
	}{
		{"forwarded chain", map[string]string{"X-Forwarded-For": "203.0.113.7, 10.0.0.1"}, "10.0.0.1:80", "203.0.113.7"},
		{"real ip", map[string]string{"X-Real-IP": "198.51.100.2"}, "10.0.0.1:80", "198.51.100.2"},
		{"remote addr", nil, "192.0.2.1:5555", "192.0.2.1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.RemoteAddr = tt.remote
			for k, v := range tt.header {
				req.Header.Set(k, v)
			}
			assert.Equal(t, tt.want, clientIP(req))
		})
	}
}
