package obs

import (
	"net/http"
	"strconv"
	"sync"
	"time"

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
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latencies in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)

	linkDecisions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "magiclink_decisions_total",
			Help: "Portal link decisions by operation and outcome.",
		},
		[]string{"operation", "outcome"},
	)

	linksIssued = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "magiclink_issued_total",
		Help: "Magic links issued.",
	})

	linkUses = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "magiclink_uses_total",
		Help: "Successful magic link uses recorded.",
	})

	storeRetries = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "magiclink_store_retries_total",
			Help: "Transient store failures retried, by operation.",
		},
		[]string{"operation"},
	)

	initOnce sync.Once
)

// Init registers metrics in the default registry. Safe to call more than once.
func Init() {
	initOnce.Do(func() {
		prometheus.MustRegister(
			httpInFlight, httpRequestsTotal, httpRequestDuration,
			linkDecisions, linksIssued, linkUses, storeRetries,
		)
	})
}

// Handler exposes the Prometheus registry.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveDecision counts a portal decision; outcome is "allow" or a denial reason.
func ObserveDecision(operation, outcome string) {
	linkDecisions.WithLabelValues(operation, outcome).Inc()
}

// ObserveIssued counts an issued link.
func ObserveIssued() { linksIssued.Inc() }

// ObserveUse counts a recorded link use.
func ObserveUse() { linkUses.Inc() }

// ObserveStoreRetry counts a retried store operation.
func ObserveStoreRetry(operation string) {
	storeRetries.WithLabelValues(operation).Inc()
}

// Instrument records in-flight, count and latency per canonical path.
func Instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path := CanonicalPath(r.URL.Path)
		method := r.Method

		httpInFlight.Inc()
		defer httpInFlight.Dec()
		start := time.Now()

		sw := &statusWriter{ResponseWriter: w, code: http.StatusOK}
		next.ServeHTTP(sw, r)

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(sw.code)

		httpRequestDuration.WithLabelValues(method, path, status).Observe(duration)
		httpRequestsTotal.WithLabelValues(method, path, status).Inc()
	})
}

type statusWriter struct {
	http.ResponseWriter
	code int
}

func (w *statusWriter) WriteHeader(code int) {
	w.code = code
	w.ResponseWriter.WriteHeader(code)
}
