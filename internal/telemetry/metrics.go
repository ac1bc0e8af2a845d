// Package telemetry provides application-level observability for the ledger service.
//
// # Prometheus Metrics Endpoint
//
// All metrics are registered against the default Prometheus registry and are
// served on the side-channel HTTP server started by cmd/server:
//
//	GET http://<host>:<RISKMATE_TELEMETRY_METRICS_PROMETHEUS_PORT>/metrics
//
// Default port: 9090. The endpoint is not served by the Gin router.
//
// # Metric Groups
//
//   - HTTP request counters and latency histograms (labelled by route template, not raw URL)
//   - Ledger write counters by category and severity, write failures and role violations
//   - Readiness cache hit/miss counters
//   - Export job state transitions, build duration and manifest verification results
//   - Database connection pool gauge (polled every 30 s)
//
// # Label Cardinality
//
// HTTP metrics use c.FullPath() (route template such as /api/exports/:id) rather than
// the raw request URL. Ledger metrics are labelled by the closed category and severity
// enums, never by organization or event name.
package telemetry

import (
	"database/sql"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// HTTP metrics, labelled by method, route template, and status code.
//
// Example PromQL queries:
//   - Request rate (req/s, 5 m window):  rate(http_requests_total[5m])
//   - p99 latency per route:             histogram_quantile(0.99, sum by (path, le) (rate(http_request_duration_seconds_bucket[5m])))
var (
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests processed, by method, route template, and status code.",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Histogram of HTTP request latencies, by method and route template.",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		},
		[]string{"method", "path"},
	)
)

// Ledger metrics, recorded by the audit log writer.
//
// LedgerEventsTotal counts persisted events by derived category and severity.
// LedgerWriteFailuresTotal counts writes that returned an error result; the
// triggering business operation is unaffected, so alert on this counter rather
// than on HTTP error rates:
//
//	increase(ledger_write_failures_total[10m]) > 0
//
// LedgerRoleViolationsTotal counts auth.role_violation attempts by the caller's role.
var (
	LedgerEventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ledger_events_total",
			Help: "Total number of audit events persisted, by category and severity.",
		},
		[]string{"category", "severity"},
	)

	LedgerWriteFailuresTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "ledger_write_failures_total",
			Help: "Total number of audit events that could not be persisted.",
		},
	)

	LedgerRoleViolationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ledger_role_violations_total",
			Help: "Total number of blocked write attempts by read-only or under-privileged roles, by role.",
		},
		[]string{"role"},
	)
)

// ReadinessCacheTotal counts readiness lookups by result ("hit" or "miss").
//
//	Hit ratio: sum(rate(readiness_cache_total{result="hit"}[5m])) / sum(rate(readiness_cache_total[5m]))
var ReadinessCacheTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "readiness_cache_total",
		Help: "Total number of readiness cache lookups, by result.",
	},
	[]string{"result"},
)

// Export metrics, recorded by the proof-pack worker and the verification endpoint.
var (
	ExportJobsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "export_jobs_total",
			Help: "Total number of export job state transitions, by target state.",
		},
		[]string{"state"},
	)

	ExportBuildDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "export_build_duration_seconds",
			Help:    "Duration of a single proof-pack build from claim to terminal state.",
			Buckets: []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
		},
	)

	ManifestVerificationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "manifest_verifications_total",
			Help: "Total number of manifest verification requests, by result (verified or failed).",
		},
		[]string{"result"},
	)
)

// DBOpenConnections tracks the number of open connections held by the sql.DB pool.
// It is sampled every 30 seconds by StartDBStatsCollector.
var DBOpenConnections = promauto.NewGauge(
	prometheus.GaugeOpts{
		Name: "db_open_connections",
		Help: "Current number of open database connections in the pool.",
	},
)

// StartDBStatsCollector launches a background goroutine that samples sql.DB connection
// pool statistics every 30 seconds and updates the DBOpenConnections gauge.
// The goroutine exits once the database becomes unreachable, which happens when the
// process shuts down and closes the pool.
func StartDBStatsCollector(db *sql.DB) {
	go func() {
		ticker := time.NewTicker(30 * time.Second)
		defer ticker.Stop()
		for range ticker.C {
			if err := db.Ping(); err != nil {
				slog.Warn("db stats collector: database unreachable, stopping collector", "error", err)
				return
			}
			DBOpenConnections.Set(float64(db.Stats().OpenConnections))
		}
	}()
}
