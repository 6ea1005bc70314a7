package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "refax_http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "refax_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	TurnsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "refax_turns_total",
			Help: "Total number of orchestrated turns by detected intent.",
		},
		[]string{"intent"},
	)

	TurnErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "refax_turn_errors_total",
			Help: "Total number of turns that ended in the error response, by failing stage.",
		},
		[]string{"stage"},
	)

	TurnDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "refax_turn_duration_seconds",
			Help:    "End-to-end orchestration time per turn.",
			Buckets: []float64{.1, .25, .5, 1, 2, 4, 8, 16, 32},
		},
	)

	ConfidenceScore = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "refax_turn_confidence",
			Help:    "Advisory confidence score per successful turn.",
			Buckets: []float64{.5, .6, .7, .8, .9, 1},
		},
	)

	FunctionCallsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "refax_function_calls_total",
			Help: "Total number of business function calls dispatched.",
		},
		[]string{"function", "success"},
	)

	ActiveSessions = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "refax_active_sessions",
			Help: "Number of sessions currently tracked.",
		},
	)

	SweepRemovedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "refax_sweep_removed_total",
			Help: "Total number of entries removed by background sweeps.",
		},
		[]string{"sweep"},
	)

	RelayMessagesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "refax_relay_messages_total",
			Help: "Total number of inbound messages handled by the NATS relay.",
		},
		[]string{"status"},
	)
)

func init() {
	prometheus.MustRegister(
		HTTPRequestsTotal,
		HTTPRequestDuration,
		TurnsTotal,
		TurnErrorsTotal,
		TurnDuration,
		ConfidenceScore,
		FunctionCallsTotal,
		ActiveSessions,
		SweepRemovedTotal,
		RelayMessagesTotal,
	)
}
