package obs

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	httpInFlight = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "http_in_flight_requests",
		Help: "In-flight HTTP requests.",
	})

	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"method", "route", "status"},
	)

	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latencies in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route", "status"},
	)

	auditWriteFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "restgen_audit_write_failures_total",
			Help: "Audit entries that could not be written.",
		},
		[]string{"model"},
	)

	authorizationDenials = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "restgen_authorization_denials_total",
			Help: "Requests rejected by the authorization layer.",
		},
		[]string{"resource", "action"},
	)

	nestedBatches = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "restgen_nested_batches_total",
			Help: "Nested operation batches by outcome.",
		},
		[]string{"outcome"},
	)

	ready = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "restgen_ready",
		Help: "1 when the store answered the last readiness probe.",
	})

	initOnce sync.Once
)

// Init registers the metrics in the default registry. Safe to call repeatedly.
func Init() {
	initOnce.Do(func() {
		prometheus.MustRegister(
			httpInFlight, httpRequestsTotal, httpRequestDuration,
			auditWriteFailures, authorizationDenials, nestedBatches, ready,
		)
	})
}

// Handler exposes the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}

// AuditWriteFailed counts a degraded audit write for model.
func AuditWriteFailed(model string) { auditWriteFailures.WithLabelValues(model).Inc() }

// AuthorizationDenied counts a denial.
func AuthorizationDenied(resource, action string) {
	authorizationDenials.WithLabelValues(resource, action).Inc()
}

// SetReady publishes the outcome of the last readiness probe.
func SetReady(ok bool) {
	if ok {
		ready.Set(1)
		return
	}
	ready.Set(0)
}

// NestedBatch counts a finished batch; outcome is committed, rejected or rolled_back.
func NestedBatch(outcome string) { nestedBatches.WithLabelValues(outcome).Inc() }

// Instrument records request count, latency and in-flight requests labelled
// by the matched chi route pattern, so ids never become label values.
func Instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		httpInFlight.Inc()
		defer httpInFlight.Dec()
		start := time.Now()

		sw := &statusWriter{ResponseWriter: w, code: http.StatusOK}
		next.ServeHTTP(sw, r)

		route := RoutePattern(r)
		status := strconv.Itoa(sw.code)
		httpRequestDuration.WithLabelValues(r.Method, route, status).Observe(time.Since(start).Seconds())
		httpRequestsTotal.WithLabelValues(r.Method, route, status).Inc()
	})
}

// RoutePattern returns the chi pattern that served r, or "unmatched".
func RoutePattern(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		if p := rctx.RoutePattern(); p != "" {
			return p
		}
	}
	return "unmatched"
}

type statusWriter struct {
	http.ResponseWriter
	code int
}

func (w *statusWriter) WriteHeader(code int) {
	w.code = code
	w.ResponseWriter.WriteHeader(code)
}
