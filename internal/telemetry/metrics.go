// Package telemetry provides application-level observability for the package
// registry.
//
// # Prometheus endpoint
//
// Every metric below registers itself with the default Prometheus registry at
// package init (promauto). They are exposed on the dedicated metrics listener
// that main.go starts next to the API server:
//
//	GET http(s)://<host>:<PYPI_TELEMETRY_METRICS_PROMETHEUS_PORT>/metrics
//
// The default port is 9090 and the payload is the Prometheus text exposition
// format. The endpoint deliberately lives outside the Gin router so that
// scrapes bypass auth, rate limiting, and request logging.
//
// # What is measured
//
//   - HTTP traffic: request counter and latency histogram per route template
//   - Distribution files: download and publish counters
//   - Upload pipeline: rejection counter per stage and error kind, run duration
//   - Simple index: project/file gauges and rebuild duration
//   - Background jobs: expired-token purge and integrity scrub counters
//   - Database: open connection gauge sampled every 30 s
//
// # Cardinality
//
// HTTP series are labelled with the Gin route template (c.FullPath(), e.g.
// /simple/:package/), never the raw URL, so user-controlled path segments
// cannot mint unbounded label values. Download counters do label by project
// name, which is bounded by what the registry actually hosts.
//
// Handlers increment metrics through the exported vars:
//
//	telemetry.PackageDownloadsTotal.WithLabelValues(name, kind).Inc()
package telemetry

import (
	"database/sql"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// HTTP traffic metrics, recorded by the metrics middleware for every request.
//
// HTTPRequestsTotal carries {method, path, status} where path is the route
// template. HTTPRequestDuration carries {method, path} with buckets spanning
// 5 ms to 30 s; the long tail exists because uploads hold the request open
// while the pipeline runs.
//
// Useful queries:
//
//	sum by (path) (rate(http_requests_total[5m]))
//	sum(rate(http_requests_total{status=~"5.."}[5m]))
//	histogram_quantile(0.99, sum by (path, le) (rate(http_request_duration_seconds_bucket[5m])))
var (
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Count of HTTP requests handled, by method, route template, and status code.",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latency distribution, by method and route template.",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		},
		[]string{"method", "path"},
	)
)

// Distribution traffic metrics — used by the download and upload handlers.
//
// PackageDownloadsTotal is a CounterVec with labels {package, kind} incremented
// whenever a client fetches a distribution file.  "package" is the canonical
// (PEP 503) project name; "kind" is "wheel" or "sdist".
//
// Example PromQL queries:
//   - Download rate by project:  sum by (package) (rate(package_downloads_total[1h]))
//   - Most popular projects:     topk(10, sum by (package) (package_downloads_total))
//   - Wheel vs sdist split:      sum by (kind) (rate(package_downloads_total[1h]))
//
// PackageUploadsTotal is a CounterVec with label {kind} incremented once per
// fully acknowledged publish (the file is durably stored AND indexed).
//
// Example PromQL queries:
//   - Publish rate:  sum(rate(package_uploads_total[1h]))
var (
	PackageDownloadsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "package_downloads_total",
			Help: "Total number of distribution file downloads, by canonical project name and distribution kind.",
		},
		[]string{"package", "kind"},
	)

	PackageUploadsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "package_uploads_total",
			Help: "Total number of successfully published distribution files, by distribution kind.",
		},
		[]string{"kind"},
	)
)

// Upload pipeline metrics — recorded by the publish pipeline.
//
// UploadPipelineFailuresTotal is a CounterVec with labels {stage, kind}: the
// pipeline stage that rejected the upload (validated, extracted, stored,
// indexed) and the classified error kind (validation, corrupt, metadata,
// duplicate, storage).  A rising "storage" rate is an operator problem; the
// rest are client problems.
//
// Example PromQL queries:
//   - Rejections by cause:     sum by (kind) (rate(upload_pipeline_failures_total[1h]))
//   - Alert on storage faults: increase(upload_pipeline_failures_total{kind="storage"}[30m]) > 0
//
// UploadDuration is a Histogram using the default Prometheus buckets
// (5 ms–10 s).  Each observation is one complete pipeline run, accepted or not.
//
// Example PromQL queries:
//   - p95 publish latency:  histogram_quantile(0.95, rate(upload_duration_seconds_bucket[1h]))
var (
	UploadPipelineFailuresTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "upload_pipeline_failures_total",
			Help: "Total number of rejected uploads, by pipeline stage and classified error kind.",
		},
		[]string{"stage", "kind"},
	)

	UploadDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "upload_duration_seconds",
			Help:    "Duration of a complete upload pipeline run.",
			Buckets: prometheus.DefBuckets,
		},
	)
)

// Simple index metrics — updated on every index mutation and rebuild.
//
// IndexProjects and IndexFiles are gauges holding the current number of
// projects and distribution files visible in the simple index.  A sudden drop
// after a restart indicates a rebuild that failed to see part of storage.
//
// IndexRebuildDuration observes each full rebuild (startup or admin-triggered).
//
// Example PromQL queries:
//   - Registry growth:      delta(index_files[1d])
//   - p95 rebuild latency:  histogram_quantile(0.95, rate(index_rebuild_duration_seconds_bucket[1d]))
var (
	IndexProjects = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "index_projects",
			Help: "Current number of projects in the simple index.",
		},
	)

	IndexFiles = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "index_files",
			Help: "Current number of distribution files in the simple index.",
		},
	)

	IndexRebuildDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "index_rebuild_duration_seconds",
			Help:    "Duration of a full simple index rebuild from storage.",
			Buckets: prometheus.DefBuckets,
		},
	)
)

// TokensPurgedTotal is a plain Counter (no labels) incremented once per expired
// API token deleted by the token sweep background job.
//
// Example PromQL queries:
//   - Purge rate:  rate(tokens_purged_total[24h])
var TokensPurgedTotal = promauto.NewCounter(
	prometheus.CounterOpts{
		Name: "tokens_purged_total",
		Help: "Total number of expired API tokens deleted by the sweep job.",
	},
)

// Integrity scrub metrics — recorded by the storage integrity scrub job, which
// re-hashes stored archives against their recorded SHA256 digests.
//
// IntegrityScrubFilesTotal counts files checked; IntegrityScrubMismatchesTotal
// counts files whose content no longer matches the recorded digest.  Any
// nonzero mismatch rate means silent storage corruption and warrants an alert.
//
// Example PromQL queries:
//   - Alert expression:  increase(integrity_scrub_mismatches_total[24h]) > 0
var (
	IntegrityScrubFilesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "integrity_scrub_files_total",
			Help: "Total number of stored distribution files verified by the integrity scrub job.",
		},
	)

	IntegrityScrubMismatchesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "integrity_scrub_mismatches_total",
			Help: "Total number of stored distribution files whose content no longer matches the recorded SHA256 digest.",
		},
	)
)

// DBOpenConnections tracks how many connections the sql.DB pool currently
// holds open. A sidecar goroutine samples it on a timer instead of reading
// db.Stats() per request. Plot it against the configured pool ceiling
// (database.max_connections) to spot exhaustion before clients start
// queueing.
var DBOpenConnections = promauto.NewGauge(
	prometheus.GaugeOpts{
		Name: "db_open_connections",
		Help: "Open connections currently held by the database pool.",
	},
)

// StartDBStatsCollector samples the connection pool into DBOpenConnections
// every 30 seconds until the database stops answering pings, which is the
// shutdown signal: main defers db.Close(), the ping fails, the goroutine
// returns. Call it once, right after the database connection is established.
func StartDBStatsCollector(db *sql.DB) {
	go func() {
		ticker := time.NewTicker(30 * time.Second)
		defer ticker.Stop()
		for range ticker.C {
			if err := db.Ping(); err != nil {
				slog.Warn("stopping db stats collector, database unreachable", "error", err)
				return
			}
			DBOpenConnections.Set(float64(db.Stats().OpenConnections))
		}
	}()
}
