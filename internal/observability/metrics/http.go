package metrics

import (
	"bufio"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/kirillkom/neurascan/internal/core/domain"
	"github.com/kirillkom/neurascan/internal/core/ports"
)

const namespace = "neurascan"

type HTTPServerMetrics struct {
	registry *prometheus.Registry
	service  string

	requestTotal    *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	requestInFlight prometheus.Gauge

	classificationsTotal   *prometheus.CounterVec
	classificationDuration *prometheus.HistogramVec
	classificationScore    *prometheus.HistogramVec
	staleTotal             prometheus.Counter
	activeSessions         prometheus.Gauge
	breakerState           *prometheus.GaugeVec
}

var _ ports.ClassificationObserver = (*HTTPServerMetrics)(nil)

func NewHTTPServerMetrics(service string) *HTTPServerMetrics {
	registry := prometheus.NewRegistry()
	serviceLabel := prometheus.Labels{"service": service}

	requestTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total HTTP requests processed.",
		},
		[]string{"service", "method", "path", "status"},
	)
	requestDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"service", "method", "path"},
	)
	requestInFlight := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace:   namespace,
			Subsystem:   "http",
			Name:        "in_flight_requests",
			Help:        "Number of in-flight HTTP requests.",
			ConstLabels: serviceLabel,
		},
	)
	classificationsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "scan",
			Name:      "classifications_total",
			Help:      "Completed classifications by outcome type and status.",
		},
		[]string{"service", "type", "status"},
	)
	classificationDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "scan",
			Name:      "classification_duration_seconds",
			Help:      "Classification duration in seconds by status.",
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 1.5, 2, 3, 5, 10, 30},
		},
		[]string{"service", "status"},
	)
	classificationScore := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "scan",
			Name:      "classification_confidence",
			Help:      "Distribution of reported confidence by classification type.",
			Buckets:   []float64{0.1, 0.2, 0.3, 0.4, 0.5, 0.6, 0.7, 0.8, 0.9, 1},
		},
		[]string{"service", "type"},
	)
	staleTotal := prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace:   namespace,
			Subsystem:   "scan",
			Name:        "stale_completions_total",
			Help:        "Classification completions dropped because the selection had changed.",
			ConstLabels: serviceLabel,
		},
	)
	activeSessions := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace:   namespace,
			Subsystem:   "scan",
			Name:        "active_sessions",
			Help:        "Number of live scan sessions.",
			ConstLabels: serviceLabel,
		},
	)
	breakerState := prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "backend",
			Name:      "circuit_state",
			Help:      "Circuit breaker state per backend operation (0 closed, 1 half-open, 2 open).",
		},
		[]string{"service", "operation"},
	)

	registry.MustRegister(
		requestTotal,
		requestDuration,
		requestInFlight,
		classificationsTotal,
		classificationDuration,
		classificationScore,
		staleTotal,
		activeSessions,
		breakerState,
	)

	return &HTTPServerMetrics{
		registry:               registry,
		service:                service,
		requestTotal:           requestTotal,
		requestDuration:        requestDuration,
		requestInFlight:        requestInFlight,
		classificationsTotal:   classificationsTotal,
		classificationDuration: classificationDuration,
		classificationScore:    classificationScore,
		staleTotal:             staleTotal,
		activeSessions:         activeSessions,
		breakerState:           breakerState,
	}
}

func (m *HTTPServerMetrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// RegisterGaugeFunc exposes a value sampled at scrape time.
func (m *HTTPServerMetrics) RegisterGaugeFunc(subsystem, name, help string, fn func() float64) {
	m.registry.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Namespace:   namespace,
			Subsystem:   subsystem,
			Name:        name,
			Help:        help,
			ConstLabels: prometheus.Labels{"service": m.service},
		},
		fn,
	))
}

func (m *HTTPServerMetrics) Middleware(service string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		path := normalizePath(r.URL.Path)
		recorder := &statusRecorder{
			ResponseWriter: w,
			statusCode:     http.StatusOK,
		}

		m.requestInFlight.Inc()
		defer m.requestInFlight.Dec()

		next.ServeHTTP(recorder, r)

		m.requestTotal.WithLabelValues(
			service,
			r.Method,
			path,
			strconv.Itoa(recorder.statusCode),
		).Inc()
		m.requestDuration.WithLabelValues(service, r.Method, path).Observe(time.Since(start).Seconds())
	})
}

func normalizePath(path string) string {
	const sessions = "/v1/sessions/"
	if !strings.HasPrefix(path, sessions) {
		return path
	}
	rest := strings.TrimPrefix(path, sessions)
	if idx := strings.Index(rest, "/"); idx >= 0 {
		return sessions + "{session_id}" + rest[idx:]
	}
	return sessions + "{session_id}"
}

func (m *HTTPServerMetrics) ObserveClassification(result domain.ClassificationResult, err error, duration time.Duration) {
	if err != nil {
		m.classificationsTotal.WithLabelValues(m.service, "none", "error").Inc()
		m.classificationDuration.WithLabelValues(m.service, "error").Observe(duration.Seconds())
		return
	}
	kind := string(result.Type)
	m.classificationsTotal.WithLabelValues(m.service, kind, "success").Inc()
	m.classificationDuration.WithLabelValues(m.service, "success").Observe(duration.Seconds())
	m.classificationScore.WithLabelValues(m.service, kind).Observe(result.Confidence)
}

func (m *HTTPServerMetrics) ObserveStaleCompletion() {
	m.staleTotal.Inc()
}

func (m *HTTPServerMetrics) ObserveSessions(active int) {
	m.activeSessions.Set(float64(active))
}

// ObserveBreakerState records a circuit transition. state follows gobreaker's
// numbering.
func (m *HTTPServerMetrics) ObserveBreakerState(operation string, state int) {
	m.breakerState.WithLabelValues(m.service, operation).Set(float64(state))
}

type statusRecorder struct {
	http.ResponseWriter
	statusCode int
}

func (w *statusRecorder) WriteHeader(statusCode int) {
	w.statusCode = statusCode
	w.ResponseWriter.WriteHeader(statusCode)
}

func (w *statusRecorder) Flush() {
	flusher, ok := w.ResponseWriter.(http.Flusher)
	if ok {
		flusher.Flush()
	}
}

func (w *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hijacker, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, fmt.Errorf("response writer does not implement http.Hijacker")
	}
	return hijacker.Hijack()
}
