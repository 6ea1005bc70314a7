package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSecurityHeaders(t *testing.T) {
	handler := SecurityHeaders(http.HandlerFunc(okHandler))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
	assert.Equal(t, "DENY", rec.Header().Get("X-Frame-Options"))
	assert.Equal(t, "no-store", rec.Header().Get("Cache-Control"))
}

func TestCORS(t *testing.T) {
	tests := []struct {
		name      string
		origins   []string
		wantCreds bool
		wantFirst string
	}{
		{"default", nil, true, "http://localhost:3000"},
		{"explicit", []string{"https://panel.refax.mx"}, true, "https://panel.refax.mx"},
		{"wildcard", []string{"*"}, false, "*"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opts := CORS(tt.origins)
			assert.Equal(t, tt.wantCreds, opts.AllowCredentials)
			assert.Equal(t, tt.wantFirst, opts.AllowedOrigins[0])
		})
	}
}
