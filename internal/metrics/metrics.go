// Package metrics holds the Prometheus collectors exported on /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "edgegate"

var (
	// Logins counts controller login attempts.
	// Labels: result (success, bad_credentials, error)
	Logins = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "session",
		Name:      "logins_total",
		Help:      "Controller login attempts by result",
	}, []string{"result"})

	// SessionInvalidations counts sessions dropped after the controller rejected them.
	SessionInvalidations = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "session",
		Name:      "invalidations_total",
		Help:      "Sessions invalidated after rejection",
	})

	// CacheLookups counts statistics cache lookups.
	// Labels: result (hit, miss)
	CacheLookups = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "stats",
		Name:      "cache_lookups_total",
		Help:      "Statistics cache lookups by result",
	}, []string{"result"})

	// UpstreamFetches counts statistics fetches sent to the controller.
	// Labels: metric, status (ok, error)
	UpstreamFetches = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "stats",
		Name:      "upstream_fetches_total",
		Help:      "Statistics queries sent to the controller",
	}, []string{"metric", "status"})

	// FetchLatency measures controller statistics fetch duration.
	FetchLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "stats",
		Name:      "fetch_latency_seconds",
		Help:      "Controller statistics fetch latency in seconds",
		Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
	}, []string{"metric"})

	// RetryAttempts counts retries by operation.
	RetryAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "retry_attempts_total",
		Help:      "Retries performed after a transient failure",
	}, []string{"op"})

	// CommandRuns counts device command executions.
	// Labels: result (ok, or an error kind)
	CommandRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "device",
		Name:      "command_runs_total",
		Help:      "Device command executions by result",
	}, []string{"result"})

	// DiagnosticRuns counts local diagnostic tool runs.
	// Labels: tool (ping, traceroute, portscan), result
	DiagnosticRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "diag",
		Name:      "runs_total",
		Help:      "Diagnostic tool runs by tool and result",
	}, []string{"tool", "result"})
)

// Result maps an error to a metric label.
func Result(err error, kind string) string {
	if err == nil {
		return "ok"
	}
	if kind == "" {
		return "error"
	}
	return kind
}
