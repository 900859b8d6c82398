package metrics

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	DefaultEndpoint   = "0.0.0.0:9090"
	ReadHeaderTimeout = 2 * time.Second

	namespace = "vbmc"
)

var (
	// BackendAttempts counts every attempt made against a backend by the executor.
	BackendAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "backend_attempts_total",
			Help:      "Backend call attempts by backend, operation and result.",
		},
		[]string{"backend", "operation", "result"},
	)

	// BackendCallDuration observes the time spent on a backend call including retries.
	BackendCallDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "backend_call_duration_seconds",
			Help:      "Backend call duration including retries and backoff.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 14),
		},
		[]string{"backend", "operation", "status"},
	)

	// Operations counts dispatched operations by outcome.
	Operations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "operations_total",
			Help:      "Dispatched operations by driver, operation, status and error kind.",
		},
		[]string{"driver", "operation", "status", "kind"},
	)

	// OverrideTransitions counts boot override state machine transitions.
	OverrideTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "boot_override_transitions_total",
			Help:      "Boot override state transitions by source state, event and target state.",
		},
		[]string{"from", "event", "to"},
	)
)

// ListenAndServe exposes the prometheus metrics endpoint in the background.
func ListenAndServe(endpoint string) {
	if endpoint == "" {
		endpoint = DefaultEndpoint
	}

	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())

		server := &http.Server{
			Addr:              endpoint,
			Handler:           mux,
			ReadHeaderTimeout: ReadHeaderTimeout,
		}

		if err := server.ListenAndServe(); err != nil {
			slog.Error("Failed to start metrics server", "error", err)
		}
	}()

	slog.Info("metrics enabled", "endpoint", endpoint+"/metrics")
}
