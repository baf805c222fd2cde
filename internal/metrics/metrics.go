// Package metrics provides Prometheus metrics for the bot daemon.
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
	// Telegram update metrics
	updatesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "yadiskbot_updates_total",
			Help: "Total number of Telegram updates handled",
		},
		[]string{"kind"},
	)

	updateDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "yadiskbot_update_duration_seconds",
			Help:    "Update handling duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"kind"},
	)

	rateLimitDropsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "yadiskbot_rate_limit_drops_total",
			Help: "Total updates dropped by the per-user rate limiter",
		},
	)

	// Browsing metrics
	rendersTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "yadiskbot_renders_total",
			Help: "Total directory page renders",
		},
		[]string{"mode", "status"},
	)

	// Upload pipeline metrics
	uploadsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "yadiskbot_uploads_total",
			Help: "Total upload jobs by terminal status",
		},
		[]string{"status"},
	)

	uploadBytesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "yadiskbot_upload_bytes_total",
			Help: "Total bytes streamed to the remote disk",
		},
	)

	uploadDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "yadiskbot_upload_duration_seconds",
			Help:    "Upload job duration in seconds",
			Buckets: []float64{.5, 1, 2.5, 5, 10, 30, 60, 120, 300, 600},
		},
	)

	tempFilesCleanedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "yadiskbot_temp_files_cleaned_total",
			Help: "Total abandoned staging files removed by the janitor",
		},
	)

	// Remote disk metrics
	remoteOpDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "yadiskbot_remote_operation_duration_seconds",
			Help:    "Remote disk operation duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation"},
	)

	remoteOpsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "yadiskbot_remote_operations_total",
			Help: "Total remote disk operations",
		},
		[]string{"operation", "status"},
	)

	// Webhook metrics
	webhookEventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "yadiskbot_webhook_events_total",
			Help: "Total GitHub webhook deliveries by outcome",
		},
		[]string{"event", "status"},
	)

	notificationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "yadiskbot_notifications_total",
			Help: "Total webhook notifications sent to subscribers",
		},
		[]string{"status"},
	)

	// Session metrics
	activeSessions = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "yadiskbot_active_sessions",
			Help: "Number of in-memory user sessions",
		},
	)

	// HTTP server metrics
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "yadiskbot_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "yadiskbot_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	// Database metrics
	dbQueryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "yadiskbot_db_query_duration_seconds",
			Help:    "Database query duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"query"},
	)

	dbConnectionsOpen = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "yadiskbot_db_connections_open",
			Help: "Number of open database connections",
		},
	)
)

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// RecordUpdate records a handled Telegram update.
func RecordUpdate(kind string, duration time.Duration) {
	updatesTotal.WithLabelValues(kind).Inc()
	updateDuration.WithLabelValues(kind).Observe(duration.Seconds())
}

// RecordRateLimitDrop records an update dropped by the rate limiter.
func RecordRateLimitDrop() {
	rateLimitDropsTotal.Inc()
}

// RecordRender records a directory page render.
func RecordRender(mode string, success bool) {
	status := "success"
	if !success {
		status = "error"
	}
	rendersTotal.WithLabelValues(mode, status).Inc()
}

// RecordUpload records a finished upload job. Status is "success" or the
// name of the step that failed.
func RecordUpload(bytes int64, duration time.Duration, status string) {
	uploadsTotal.WithLabelValues(status).Inc()
	uploadBytesTotal.Add(float64(bytes))
	uploadDuration.Observe(duration.Seconds())
}

// RecordTempFilesCleaned records staging files removed by the janitor.
func RecordTempFilesCleaned(count int) {
	tempFilesCleanedTotal.Add(float64(count))
}

// RecordRemoteOp records a remote disk operation.
func RecordRemoteOp(operation string, duration time.Duration, success bool) {
	remoteOpDuration.WithLabelValues(operation).Observe(duration.Seconds())
	status := "success"
	if !success {
		status = "error"
	}
	remoteOpsTotal.WithLabelValues(operation, status).Inc()
}

// RecordWebhookEvent records a webhook delivery outcome.
func RecordWebhookEvent(event, status string) {
	webhookEventsTotal.WithLabelValues(event, status).Inc()
}

// RecordNotification records a subscriber notification attempt.
func RecordNotification(success bool) {
	status := "success"
	if !success {
		status = "error"
	}
	notificationsTotal.WithLabelValues(status).Inc()
}

// SetActiveSessions sets the number of in-memory sessions.
func SetActiveSessions(count int) {
	activeSessions.Set(float64(count))
}

// RecordHTTPRequest records an HTTP request metric.
func RecordHTTPRequest(method, path string, status int, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, path, strconv.Itoa(status)).Inc()
	httpRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// RecordDBQuery records a database query duration.
func RecordDBQuery(query string, duration time.Duration) {
	dbQueryDuration.WithLabelValues(query).Observe(duration.Seconds())
}

// SetDBConnectionsOpen sets the number of open database connections.
func SetDBConnectionsOpen(count int) {
	dbConnectionsOpen.Set(float64(count))
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

// Middleware returns HTTP middleware that records request metrics.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(rw, r)
		RecordHTTPRequest(r.Method, r.URL.Path, rw.statusCode, time.Since(start))
	})
}
