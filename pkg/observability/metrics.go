package observability

import (
	"database/sql"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics
type Metrics struct {
	// HTTP metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
	HTTPResponseSize    *prometheus.HistogramVec

	// Invoice metrics
	InvoiceUpsertsTotal   *prometheus.CounterVec
	InvoiceUpsertDuration prometheus.Histogram
	InvoicesMarkedOverdue prometheus.Counter
	BatchJobsTotal        *prometheus.CounterVec

	// Document metrics
	DocumentRenderDuration prometheus.Histogram
	DocumentSizeBytes      prometheus.Histogram

	// Blob storage metrics
	BlobOperationsTotal   *prometheus.CounterVec
	BlobOperationDuration *prometheus.HistogramVec

	// Cache metrics
	CacheHitsTotal   *prometheus.CounterVec
	CacheMissesTotal *prometheus.CounterVec

	// Database metrics
	DBConnectionsActive       prometheus.Gauge
	DBConnectionsIdle         prometheus.Gauge
	DBConnectionsWaitCount    prometheus.Gauge
	DBConnectionsWaitDuration prometheus.Gauge
}

// NewMetrics creates and registers all Prometheus metrics
func NewMetrics(registry *prometheus.Registry) *Metrics {
	m := &Metrics{
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "invoicing_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "invoicing_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),
		HTTPResponseSize: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "invoicing_http_response_size_bytes",
				Help:    "HTTP response size in bytes",
				Buckets: prometheus.ExponentialBuckets(100, 10, 8),
			},
			[]string{"method", "path"},
		),

		InvoiceUpsertsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "invoicing_upserts_total",
				Help: "Total number of invoice upserts by outcome",
			},
			[]string{"outcome"},
		),
		InvoiceUpsertDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "invoicing_upsert_duration_seconds",
				Help:    "Invoice upsert duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
		),
		InvoicesMarkedOverdue: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "invoicing_marked_overdue_total",
				Help: "Total number of invoices moved to OVERDUE",
			},
		),
		BatchJobsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "invoicing_batch_jobs_total",
				Help: "Total number of batch generation jobs by outcome",
			},
			[]string{"outcome"},
		),

		DocumentRenderDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "invoicing_document_render_duration_seconds",
				Help:    "Invoice document render duration in seconds",
				Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1},
			},
		),
		DocumentSizeBytes: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "invoicing_document_size_bytes",
				Help:    "Rendered invoice document size in bytes",
				Buckets: prometheus.ExponentialBuckets(1024, 2, 10),
			},
		),

		BlobOperationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "invoicing_blob_operations_total",
				Help: "Total number of blob store operations",
			},
			[]string{"operation", "backend", "status"},
		),
		BlobOperationDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "invoicing_blob_operation_duration_seconds",
				Help:    "Blob store operation duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"operation", "backend"},
		),

		CacheHitsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "invoicing_cache_hits_total",
				Help: "Total number of blob cache hits",
			},
			[]string{"tier"},
		),
		CacheMissesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "invoicing_cache_misses_total",
				Help: "Total number of blob cache misses",
			},
			[]string{"tier"},
		),

		DBConnectionsActive: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "invoicing_db_connections_active",
				Help: "Number of active database connections",
			},
		),
		DBConnectionsIdle: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "invoicing_db_connections_idle",
				Help: "Number of idle database connections",
			},
		),
		DBConnectionsWaitCount: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "invoicing_db_connections_wait_count",
				Help: "Total number of connections waited for",
			},
		),
		DBConnectionsWaitDuration: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "invoicing_db_connections_wait_duration_seconds",
				Help: "Total time spent waiting for connections",
			},
		),
	}

	registry.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.HTTPResponseSize,
		m.InvoiceUpsertsTotal,
		m.InvoiceUpsertDuration,
		m.InvoicesMarkedOverdue,
		m.BatchJobsTotal,
		m.DocumentRenderDuration,
		m.DocumentSizeBytes,
		m.BlobOperationsTotal,
		m.BlobOperationDuration,
		m.CacheHitsTotal,
		m.CacheMissesTotal,
		m.DBConnectionsActive,
		m.DBConnectionsIdle,
		m.DBConnectionsWaitCount,
		m.DBConnectionsWaitDuration,
	)

	return m
}

// ObserveUpsert records the outcome and duration of one invoice upsert.
// A nil receiver is a no-op, as are the other Observe and Record helpers.
func (m *Metrics) ObserveUpsert(outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.InvoiceUpsertsTotal.WithLabelValues(outcome).Inc()
	m.InvoiceUpsertDuration.Observe(d.Seconds())
}

// ObserveRender records a document render
func (m *Metrics) ObserveRender(d time.Duration, size int) {
	if m == nil {
		return
	}
	m.DocumentRenderDuration.Observe(d.Seconds())
	m.DocumentSizeBytes.Observe(float64(size))
}

// ObserveBlobOperation records one blob store call
func (m *Metrics) ObserveBlobOperation(operation, backend string, d time.Duration, err error) {
	if m == nil {
		return
	}
	status := "success"
	if err != nil {
		status = "error"
	}
	m.BlobOperationsTotal.WithLabelValues(operation, backend, status).Inc()
	m.BlobOperationDuration.WithLabelValues(operation, backend).Observe(d.Seconds())
}

// ObserveCache records a cache lookup for the given tier
func (m *Metrics) ObserveCache(tier string, hit bool) {
	if m == nil {
		return
	}
	if hit {
		m.CacheHitsTotal.WithLabelValues(tier).Inc()
		return
	}
	m.CacheMissesTotal.WithLabelValues(tier).Inc()
}

// RecordOverdue adds to the overdue counter
func (m *Metrics) RecordOverdue(n int64) {
	if m == nil || n <= 0 {
		return
	}
	m.InvoicesMarkedOverdue.Add(float64(n))
}

// RecordBatchJob records the outcome of one batch job
func (m *Metrics) RecordBatchJob(outcome string) {
	if m == nil {
		return
	}
	m.BatchJobsTotal.WithLabelValues(outcome).Inc()
}

// RecordDBStats copies connection pool statistics into the database gauges
func (m *Metrics) RecordDBStats(stats sql.DBStats) {
	if m == nil {
		return
	}
	m.DBConnectionsActive.Set(float64(stats.InUse))
	m.DBConnectionsIdle.Set(float64(stats.Idle))
	m.DBConnectionsWaitCount.Set(float64(stats.WaitCount))
	m.DBConnectionsWaitDuration.Set(stats.WaitDuration.Seconds())
}

// responseWriter wraps http.ResponseWriter to capture status code and size
type responseWriter struct {
	http.ResponseWriter
	statusCode   int
	bytesWritten int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	n, err := rw.ResponseWriter.Write(b)
	rw.bytesWritten += n
	return n, err
}

// HTTPMetricsMiddleware instruments HTTP requests with Prometheus metrics.
// pathLabel maps a request to its route template so ids do not explode label
// cardinality; nil uses the raw path.
func HTTPMetricsMiddleware(metrics *Metrics, pathLabel func(*http.Request) string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			rw := &responseWriter{
				ResponseWriter: w,
				statusCode:     http.StatusOK,
			}

			next.ServeHTTP(rw, r)

			path := r.URL.Path
			if pathLabel != nil {
				path = pathLabel(r)
			}
			status := strconv.Itoa(rw.statusCode)

			metrics.HTTPRequestsTotal.WithLabelValues(r.Method, path, status).Inc()
			metrics.HTTPRequestDuration.WithLabelValues(r.Method, path).Observe(time.Since(start).Seconds())
			metrics.HTTPResponseSize.WithLabelValues(r.Method, path).Observe(float64(rw.bytesWritten))
		})
	}
}

// RegisterMetricsEndpoint registers the /metrics endpoint
func RegisterMetricsEndpoint(mux *http.ServeMux, registry *prometheus.Registry) {
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
}
