package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// unmatchedRoute labels requests no mux pattern claimed.
const unmatchedRoute = "unmatched"

// HTTPServerMetrics labels requests by their ServeMux pattern, so ids in
// the URL never become label values.
type HTTPServerMetrics struct {
	registry *prometheus.Registry
	service  string

	requests      *prometheus.CounterVec
	latency       *prometheus.HistogramVec
	inFlight      prometheus.Gauge
	rateLimited   *prometheus.CounterVec
	uploadedScans prometheus.Counter
}

func NewHTTPServerMetrics(service string) *HTTPServerMetrics {
	registry := prometheus.NewRegistry()
	factory := promauto.With(registry)
	constLabels := prometheus.Labels{"service": service}

	return &HTTPServerMetrics{
		registry: registry,
		service:  service,
		requests: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   "essay",
			Subsystem:   "http",
			Name:        "requests_total",
			Help:        "HTTP requests by route and status code.",
			ConstLabels: constLabels,
		}, []string{"route", "code"}),
		latency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace:   "essay",
			Subsystem:   "http",
			Name:        "request_duration_seconds",
			Help:        "HTTP request latency by route.",
			ConstLabels: constLabels,
			Buckets:     []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 15, 60},
		}, []string{"route"}),
		inFlight: factory.NewGauge(prometheus.GaugeOpts{
			Namespace:   "essay",
			Subsystem:   "http",
			Name:        "in_flight_requests",
			Help:        "Requests currently being served.",
			ConstLabels: constLabels,
		}),
		rateLimited: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   "essay",
			Subsystem:   "http",
			Name:        "rate_limited_total",
			Help:        "Status polls rejected by the per-user limiter.",
			ConstLabels: constLabels,
		}, []string{"route"}),
		uploadedScans: factory.NewCounter(prometheus.CounterOpts{
			Namespace:   "essay",
			Subsystem:   "submissions",
			Name:        "uploaded_files_total",
			Help:        "Scans accepted by batch uploads.",
			ConstLabels: constLabels,
		}),
	}
}

func (m *HTTPServerMetrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Middleware must wrap the ServeMux directly: the route label is read from
// r.Pattern after the mux has matched the request.
func (m *HTTPServerMetrics) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		m.inFlight.Inc()
		defer m.inFlight.Dec()

		started := time.Now()
		code := &codeWriter{ResponseWriter: w, code: http.StatusOK}
		next.ServeHTTP(code, r)

		route := routeOf(r)
		m.requests.WithLabelValues(route, strconv.Itoa(code.code)).Inc()
		m.latency.WithLabelValues(route).Observe(time.Since(started).Seconds())
	})
}

func (m *HTTPServerMetrics) RecordRateLimited(r *http.Request) {
	m.rateLimited.WithLabelValues(routeOf(r)).Inc()
}

func (m *HTTPServerMetrics) RecordUploads(files int) {
	if files > 0 {
		m.uploadedScans.Add(float64(files))
	}
}

func routeOf(r *http.Request) string {
	if r.Pattern == "" {
		return unmatchedRoute
	}
	return r.Pattern
}

type codeWriter struct {
	http.ResponseWriter
	code        int
	wroteHeader bool
}

func (w *codeWriter) WriteHeader(code int) {
	if !w.wroteHeader {
		w.code = code
		w.wroteHeader = true
	}
	w.ResponseWriter.WriteHeader(code)
}

func (w *codeWriter) Write(b []byte) (int, error) {
	w.wroteHeader = true
	return w.ResponseWriter.Write(b)
}

func (w *codeWriter) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}
