package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// MessagesTotal counts inbound kernel messages by classified kind
	MessagesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "datascout_kernel_messages_total",
			Help: "Total number of inbound kernel messages by classified kind",
		},
		[]string{"kind"},
	)

	// ReceiveAttempts counts bounded-wait receive attempts by result
	ReceiveAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "datascout_receive_attempts_total",
			Help: "Total number of bounded-wait receive attempts",
		},
		[]string{"result"}, // message, empty, transient, stale, failed
	)

	// StepsTotal counts executed steps by status
	StepsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "datascout_steps_total",
			Help: "Total number of executed steps",
		},
		[]string{"status"}, // ok, error, interrupted, exhausted
	)

	// ExecutionDuration tracks how long one burst takes from submit to idle
	ExecutionDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "datascout_execution_duration_seconds",
			Help:    "Duration of one code execution burst in seconds",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120, 300},
		},
	)

	// OracleRequests counts planning oracle calls by prompt and status
	OracleRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "datascout_oracle_requests_total",
			Help: "Total number of planning oracle requests",
		},
		[]string{"prompt", "status"},
	)

	// OracleDuration tracks planning oracle latency
	OracleDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "datascout_oracle_request_duration_seconds",
			Help:    "Planning oracle request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"prompt"},
	)

	// SessionState tracks the orchestrator's current state (1 for the active state)
	SessionState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "datascout_session_state",
			Help: "Current orchestrator state, 1 for the active state",
		},
		[]string{"state"},
	)
)

// Handler returns the Prometheus metrics HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}
