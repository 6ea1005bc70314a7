package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"

	"github.com/refaxbot/refaxbot/internal/metrics"
)

func TestMetrics_UsesRoutePattern(t *testing.T) {
	r := chi.NewRouter()
	r.Use(Metrics)
	r.Get("/conversations/{conversationID}", okHandler)
	r.Get("/health/live", okHandler)

	counter := metrics.HTTPRequestsTotal.WithLabelValues(http.MethodGet, "/conversations/{conversationID}", "200")
	before := testutil.ToFloat64(counter)

	for _, id := range []string{"c1", "c2"} {
		r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/conversations/"+id, nil))
	}
	assert.Equal(t, before+2, testutil.ToFloat64(counter))

	probe := metrics.HTTPRequestsTotal.WithLabelValues(http.MethodGet, "/health/live", "200")
	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/health/live", nil))
	assert.Zero(t, testutil.ToFloat64(probe))
}
