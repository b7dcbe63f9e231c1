// Package metrics exposes Prometheus instrumentation for the HTTP API
// and the conversation pipeline.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Turn outcome label values.
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
)

// Metrics bundles all collectors on a private registry, so multiple
// instances can coexist in one process.
type Metrics struct {
	registry *prometheus.Registry

	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	TurnsTotal        *prometheus.CounterVec
	EmptyRetrievals   prometheus.Counter
	DocumentsIngested prometheus.Counter
	ChunksIngested    prometheus.Counter
}

func New() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,
		HTTPRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ragchat_http_requests_total",
			Help: "HTTP requests processed, by method, route, and status code.",
		}, []string{"method", "path", "status"}),
		HTTPRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "ragchat_http_request_duration_seconds",
			Help:    "HTTP request latency, by method and route.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "path"}),
		TurnsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ragchat_turns_total",
			Help: "Conversation turns, by outcome.",
		}, []string{"outcome"}),
		EmptyRetrievals: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ragchat_empty_retrievals_total",
			Help: "Questions answered without any retrieved context.",
		}),
		DocumentsIngested: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ragchat_documents_ingested_total",
			Help: "Documents successfully ingested.",
		}),
		ChunksIngested: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ragchat_chunks_ingested_total",
			Help: "Chunks successfully indexed.",
		}),
	}

	registry.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.TurnsTotal,
		m.EmptyRetrievals,
		m.DocumentsIngested,
		m.ChunksIngested,
	)
	return m
}

// Handler serves this registry's metrics.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Middleware records request counts and latency per matched chi route
// pattern, so label cardinality stays bounded.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()
		next.ServeHTTP(sw, r)

		path := routePattern(r)
		m.HTTPRequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(sw.status)).Inc()
		m.HTTPRequestDuration.WithLabelValues(r.Method, path).Observe(time.Since(start).Seconds())
	})
}

type statusWriter struct {
	http.ResponseWriter
	status      int
	wroteHeader bool
}

func (w *statusWriter) WriteHeader(code int) {
	if !w.wroteHeader {
		w.status = code
		w.wroteHeader = true
	}
	w.ResponseWriter.WriteHeader(code)
}

func (w *statusWriter) Write(b []byte) (int, error) {
	if !w.wroteHeader {
		w.WriteHeader(http.StatusOK)
	}
	return w.ResponseWriter.Write(b)
}

func routePattern(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		if pattern := rctx.RoutePattern(); pattern != "" {
			return pattern
		}
	}
	return "unknown"
}
