// Package metrics provides Prometheus metrics for the stowage server.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// HTTP request metrics
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stowage_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "stowage_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	// Upload lifecycle metrics
	uploadsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stowage_uploads_total",
			Help: "Total number of uploads by outcome",
		},
		[]string{"status"},
	)

	uploadBytesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "stowage_upload_bytes_total",
			Help: "Total bytes accepted for upload",
		},
	)

	compensationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stowage_compensations_total",
			Help: "Total compensating cleanups after partial upload failures",
		},
		[]string{"stage", "status"},
	)

	filenameRetriesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "stowage_filename_conflict_retries_total",
			Help: "Total reservation retries caused by filename conflicts",
		},
	)

	// Database metrics
	dbQueryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "stowage_db_query_duration_seconds",
			Help:    "Database query duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"query"},
	)

	dbConnectionsOpen = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "stowage_db_connections_open",
			Help: "Number of open database connections",
		},
	)

	// Remote object store metrics
	remoteOperationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "stowage_remote_operation_duration_seconds",
			Help:    "Remote object store operation duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation"},
	)

	remoteOperationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stowage_remote_operations_total",
			Help: "Total remote object store operations",
		},
		[]string{"operation", "status"},
	)

	// Resource-type cache metrics
	typeCacheLookupsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stowage_resource_type_cache_lookups_total",
			Help: "Resource-type cache lookups by result",
		},
		[]string{"result"},
	)

	typeCacheSize = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "stowage_resource_type_cache_entries",
			Help: "Number of entries held by the resource-type cache",
		},
	)

	// SSE metrics
	sseConnectionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "stowage_sse_connections_active",
			Help: "Number of active SSE connections",
		},
	)

	sseEventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stowage_sse_events_total",
			Help: "Total SSE events published",
		},
		[]string{"type"},
	)
)

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// RecordHTTPRequest records an HTTP request metric.
func RecordHTTPRequest(method, path string, status int, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, path, strconv.Itoa(status)).Inc()
	httpRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// RecordUpload records an upload attempt outcome.
func RecordUpload(bytes int64, success bool) {
	status := "success"
	if !success {
		status = "error"
	}
	uploadsTotal.WithLabelValues(status).Inc()
	if success {
		uploadBytesTotal.Add(float64(bytes))
	}
}

// RecordCompensation records a compensating cleanup and whether it succeeded.
func RecordCompensation(stage string, success bool) {
	status := "success"
	if !success {
		status = "error"
	}
	compensationsTotal.WithLabelValues(stage, status).Inc()
}

// RecordFilenameRetry records one reservation retry after a name conflict.
func RecordFilenameRetry() {
	filenameRetriesTotal.Inc()
}

// RecordDBQuery records a database query duration.
func RecordDBQuery(query string, duration time.Duration) {
	dbQueryDuration.WithLabelValues(query).Observe(duration.Seconds())
}

// SetDBConnectionsOpen sets the number of open database connections.
func SetDBConnectionsOpen(count int) {
	dbConnectionsOpen.Set(float64(count))
}

// RecordRemoteOperation records a remote object store operation.
func RecordRemoteOperation(operation string, duration time.Duration, success bool) {
	remoteOperationDuration.WithLabelValues(operation).Observe(duration.Seconds())
	status := "success"
	if !success {
		status = "error"
	}
	remoteOperationsTotal.WithLabelValues(operation, status).Inc()
}

// RecordTypeCacheLookup records a resource-type cache hit or miss.
func RecordTypeCacheLookup(hit bool) {
	result := "hit"
	if !hit {
		result = "miss"
	}
	typeCacheLookupsTotal.WithLabelValues(result).Inc()
}

// SetTypeCacheSize sets the resource-type cache entry count.
func SetTypeCacheSize(count int) {
	typeCacheSize.Set(float64(count))
}

// SetSSEConnectionsActive sets the number of active SSE connections.
func SetSSEConnectionsActive(count int64) {
	sseConnectionsActive.Set(float64(count))
}

// RecordSSEEvent records an SSE event publication.
func RecordSSEEvent(eventType string) {
	sseEventsTotal.WithLabelValues(eventType).Inc()
}

// responseWriter wraps http.ResponseWriter to capture status code.
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (rw *responseWriter) Unwrap() http.ResponseWriter {
	return rw.ResponseWriter
}

// Middleware returns HTTP middleware that records request metrics.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(rw, r)
		RecordHTTPRequest(r.Method, r.URL.Path, rw.statusCode, time.Since(start))
	})
}
