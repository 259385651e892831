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
	// HTTP metrics
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		},
		[]string{"method", "path"},
	)

	httpRequestsInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "http_requests_in_flight",
			Help: "Number of HTTP requests currently being processed",
		},
	)

	// Business metrics
	reportsGenerated = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reports_generated_total",
			Help: "Total number of reports generated",
		},
		[]string{"study_type"},
	)

	impressionsMatched = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "impressions_matched_total",
			Help: "Total number of findings matched to an impression pattern",
		},
	)

	unmatchedRecorded = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "unmatched_findings_total",
			Help: "Total number of findings recorded in the unmatched log",
		},
	)

	claudeCalls = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "claude_calls_total",
			Help: "Total number of Anthropic API calls",
		},
		[]string{"operation", "outcome"},
	)
)

func RecordReportGenerated(studyType string) {
	reportsGenerated.WithLabelValues(studyType).Inc()
}

func RecordImpressionMatched() {
	impressionsMatched.Inc()
}

func RecordUnmatchedFinding() {
	unmatchedRecorded.Inc()
}

func RecordClaudeCall(operation, outcome string) {
	claudeCalls.WithLabelValues(operation, outcome).Inc()
}

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Middleware records request count, duration, and in-flight gauge for every
// handled request.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		httpRequestsInFlight.Inc()
		defer httpRequestsInFlight.Dec()

		wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(wrapped, r)

		path := r.URL.Path
		httpRequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(wrapped.statusCode)).Inc()
		httpRequestDuration.WithLabelValues(r.Method, path).Observe(time.Since(start).Seconds())
	})
}

type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (w *responseWriter) WriteHeader(code int) {
	w.statusCode = code
	w.ResponseWriter.WriteHeader(code)
}
