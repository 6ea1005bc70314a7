package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/refaxbot/refaxbot/internal/database"
	mw "github.com/refaxbot/refaxbot/internal/middleware"
	inats "github.com/refaxbot/refaxbot/internal/nats"
)

// HandlerSet holds handler functions injected from main.go to avoid import cycles.
type HandlerSet struct {
	// Session handlers
	SendMessage http.HandlerFunc
	GetSession  http.HandlerFunc
	EndSession  http.HandlerFunc

	// Memory handlers
	GetMemory        http.HandlerFunc
	GetMemoryContext http.HandlerFunc

	// Turn history, only when Postgres is configured
	ListTurns http.HandlerFunc

	// Auth middleware
	AuthMiddleware func(http.Handler) http.Handler
}

// RouterConfig holds configuration for the router.
type RouterConfig struct {
	CORSAllowedOrigins []string
	MessageRateLimiter func(http.Handler) http.Handler
}

// NewRouter builds the HTTP API. pool, rdb and natsClient are optional and
// only affect the readiness report.
func NewRouter(pool *pgxpool.Pool, rdb *redis.Client, natsClient *inats.Client, cfg RouterConfig, h HandlerSet) http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(mw.RequestID)
	r.Use(mw.SecurityHeaders)
	r.Use(mw.Logging)
	r.Use(mw.Recovery)
	r.Use(mw.Metrics)
	r.Use(cors.Handler(mw.CORS(cfg.CORSAllowedOrigins)))

	// Liveness probe, always 200
	r.Get("/health/live", func(w http.ResponseWriter, r *http.Request) {
		JSON(w, http.StatusOK, map[string]string{"status": "alive"})
	})

	readinessHandler := func(w http.ResponseWriter, r *http.Request) {
		health := map[string]string{
			"status":   "healthy",
			"database": "not configured",
			"redis":    "not configured",
			"nats":     "not configured",
		}
		status := http.StatusOK

		degrade := func(component string) {
			health[component] = "unhealthy"
			health["status"] = "degraded"
			status = http.StatusServiceUnavailable
		}

		if pool != nil {
			health["database"] = "healthy"
			if err := database.HealthCheck(r.Context(), pool); err != nil {
				degrade("database")
			}
		}

		if rdb != nil {
			health["redis"] = "healthy"
			if err := rdb.Ping(r.Context()).Err(); err != nil {
				degrade("redis")
			}
		}

		if natsClient != nil {
			health["nats"] = "healthy"
			if !natsClient.Healthy() {
				degrade("nats")
			}
		}

		JSON(w, status, health)
	}

	r.Get("/health/ready", readinessHandler)
	r.Get("/health", readinessHandler)

	// Prometheus metrics
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			if h.AuthMiddleware != nil {
				r.Use(h.AuthMiddleware)
			}

			r.Route("/conversations/{conversationID}", func(r chi.Router) {
				r.Get("/", h.GetSession)
				r.With(optional(cfg.MessageRateLimiter)).Post("/messages", h.SendMessage)
				r.Post("/end", h.EndSession)

				r.Get("/memory", h.GetMemory)
				r.Get("/memory/context", h.GetMemoryContext)

				if h.ListTurns != nil {
					r.Get("/turns", h.ListTurns)
				}
			})
		})
	})

	return r
}

func optional(m func(http.Handler) http.Handler) func(http.Handler) http.Handler {
	if m == nil {
		return func(next http.Handler) http.Handler { return next }
	}
	return m
}
