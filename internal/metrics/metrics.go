// Package metrics provides Prometheus metrics for link encoding, decoding
// and the short-link server.
package metrics

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// HTTP request metrics
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "treeshare_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "treeshare_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	// Codec metrics
	encodeTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "treeshare_encode_total",
			Help: "Tree encodings by routing decision",
		},
		[]string{"decision"},
	)

	encodedLength = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "treeshare_encoded_length_chars",
			Help:    "Length of produced envelopes in characters",
			Buckets: prometheus.ExponentialBuckets(256, 4, 10),
		},
	)

	decodeTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "treeshare_decode_total",
			Help: "Link decodes by wire format and result",
		},
		[]string{"format", "result"},
	)

	repairsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "treeshare_link_repairs_total",
			Help: "Repair heuristics applied to incoming links",
		},
		[]string{"repair"},
	)

	compressFallbackTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "treeshare_compress_fallback_total",
			Help: "Compression strategies skipped, by strategy and reason (unavailable, failed, empty)",
		},
		[]string{"strategy", "reason"},
	)

	// Short-link metrics
	shortLinkOpsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "treeshare_shortlink_operations_total",
			Help: "Short-link operations by operation and result",
		},
		[]string{"operation", "result"},
	)

	shortLinkIDCollisions = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "treeshare_shortlink_id_collisions_total",
			Help: "Short ids that collided with an existing record",
		},
	)

	shortLinkHitFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "treeshare_shortlink_hit_failures_total",
			Help: "Hit counter increments that failed",
		},
	)

	shortLinksActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "treeshare_shortlinks_active",
			Help: "Number of unexpired short links",
		},
	)

	ephemeralSharesActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "treeshare_ephemeral_shares_active",
			Help: "Number of in-memory ephemeral shares",
		},
	)

	rateLimitedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "treeshare_rate_limited_total",
			Help: "Requests rejected by the rate limiter",
		},
		[]string{"route"},
	)

	authAttemptsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "treeshare_auth_attempts_total",
			Help: "Service token checks by result",
		},
		[]string{"result"},
	)

	// Database metrics
	dbQueryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "treeshare_db_query_duration_seconds",
			Help:    "Database query duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"query"},
	)

	dbConnectionsOpen = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "treeshare_db_connections_open",
			Help: "Number of open database connections",
		},
	)

	// S3 metrics
	s3OperationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "treeshare_s3_operation_duration_seconds",
			Help:    "S3 operation duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation"},
	)

	s3OperationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "treeshare_s3_operations_total",
			Help: "Total S3 operations",
		},
		[]string{"operation", "status"},
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

// RecordEncode records one tree encoding.
func RecordEncode(decision string, length int) {
	encodeTotal.WithLabelValues(decision).Inc()
	if length > 0 {
		encodedLength.Observe(float64(length))
	}
}

// RecordDecode records one link decode attempt.
func RecordDecode(format string, success bool) {
	decodeTotal.WithLabelValues(format, result(success)).Inc()
}

// RecordRepair records a repair heuristic that changed an incoming link.
func RecordRepair(repair string) {
	repairsTotal.WithLabelValues(repair).Inc()
}

// RecordCompressFallback records a compression strategy being skipped.
func RecordCompressFallback(strategy, reason string) {
	compressFallbackTotal.WithLabelValues(strategy, reason).Inc()
}

// RecordShortLinkOp records a short-link operation outcome.
func RecordShortLinkOp(operation, outcome string) {
	shortLinkOpsTotal.WithLabelValues(operation, outcome).Inc()
}

// RecordIDCollision records a short id that was already taken.
func RecordIDCollision() {
	shortLinkIDCollisions.Inc()
}

// RecordHitFailure records a failed hit counter increment.
func RecordHitFailure() {
	shortLinkHitFailures.Inc()
}

// SetShortLinksActive sets the number of unexpired short links.
func SetShortLinksActive(count int64) {
	shortLinksActive.Set(float64(count))
}

// SetEphemeralSharesActive sets the number of live ephemeral shares.
func SetEphemeralSharesActive(count int) {
	ephemeralSharesActive.Set(float64(count))
}

// RecordRateLimited records a rejected request.
func RecordRateLimited(route string) {
	rateLimitedTotal.WithLabelValues(route).Inc()
}

// RecordAuthAttempt records a service token check.
func RecordAuthAttempt(success bool) {
	authAttemptsTotal.WithLabelValues(result(success)).Inc()
}

// RecordDBQuery records a database query duration.
func RecordDBQuery(query string, duration time.Duration) {
	dbQueryDuration.WithLabelValues(query).Observe(duration.Seconds())
}

// SetDBConnectionsOpen sets the number of open database connections.
func SetDBConnectionsOpen(count int) {
	dbConnectionsOpen.Set(float64(count))
}

// RecordS3Operation records an S3 operation.
func RecordS3Operation(operation string, duration time.Duration, success bool) {
	s3OperationDuration.WithLabelValues(operation).Observe(duration.Seconds())
	s3OperationsTotal.WithLabelValues(operation, result(success)).Inc()
}

func result(success bool) string {
	if success {
		return "success"
	}
	return "error"
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

// Middleware records request metrics labelled by the matched route of
// routes, so unknown paths all count under "other".
func Middleware(routes *http.ServeMux, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		route := routeLabel(routes, r)
		rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(rw, r)
		RecordHTTPRequest(r.Method, route, rw.statusCode, time.Since(start))
	})
}

func routeLabel(routes *http.ServeMux, r *http.Request) string {
	_, pattern := routes.Handler(r)
	if pattern == "" {
		return "other"
	}
	// "GET /api/shorten" -> "/api/shorten"
	if _, path, ok := strings.Cut(pattern, " "); ok {
		return path
	}
	return pattern
}
