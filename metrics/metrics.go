// Package metrics defines the Prometheus metrics of the custody service and
// the HTTP server exposing them.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTP request metrics
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vetkd_custody_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "route", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "vetkd_custody_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)

	// Oracle metrics
	oracleCallsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vetkd_custody_oracle_calls_total",
			Help: "Total number of key derivation oracle calls by result",
		},
		[]string{"method", "result"},
	)

	oracleCallDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "vetkd_custody_oracle_call_duration_seconds",
			Help:    "Key derivation oracle call duration in seconds",
			Buckets: []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		},
		[]string{"method"},
	)

	// Custody metrics
	keyDerivationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vetkd_custody_private_key_derivations_total",
			Help: "Asymmetric key requests by whether the private key was derived or skipped",
		},
		[]string{"outcome"},
	)

	secretSavesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "vetkd_custody_secret_saves_total",
			Help: "Total number of encrypted secrets saved",
		},
	)

	storeOperationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vetkd_custody_store_operations_total",
			Help: "Durable map operations by backend, operation and result",
		},
		[]string{"backend", "op", "result"},
	)

	rateLimitedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vetkd_custody_rate_limited_total",
			Help: "Requests rejected by the per-identity rate limiter",
		},
		[]string{"route"},
	)
)

func result(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

// ObserveOracleCall records one oracle call started at start.
func ObserveOracleCall(method string, start time.Time, err error) {
	oracleCallsTotal.WithLabelValues(method, result(err)).Inc()
	oracleCallDuration.WithLabelValues(method).Observe(time.Since(start).Seconds())
}

// RecordDerivation records whether a request derived the private key or reused a stored secret.
func RecordDerivation(derived bool) {
	if derived {
		keyDerivationsTotal.WithLabelValues("derived").Inc()
	} else {
		keyDerivationsTotal.WithLabelValues("skipped").Inc()
	}
}

func RecordSecretSave() {
	secretSavesTotal.Inc()
}

func ObserveStoreOp(backend, op string, err error) {
	storeOperationsTotal.WithLabelValues(backend, op, result(err)).Inc()
}

func RecordRateLimited(route string) {
	rateLimitedTotal.WithLabelValues(route).Inc()
}

// HTTPMiddleware records request counts and latency labelled by chi route pattern.
func HTTPMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		// Wrap response writer to capture status code
		wrapped := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(wrapped, r)

		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			route = rctx.RoutePattern()
		}

		httpRequestsTotal.WithLabelValues(r.Method, route, strconv.Itoa(wrapped.status)).Inc()
		httpRequestDuration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status      int
	wroteHeader bool
}

func (w *statusRecorder) WriteHeader(code int) {
	if w.wroteHeader {
		return
	}
	w.status = code
	w.wroteHeader = true
	w.ResponseWriter.WriteHeader(code)
}
