package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// WorkerMetrics covers the inference worker process.
type WorkerMetrics struct {
	registry *prometheus.Registry

	inferenceTotal    *prometheus.CounterVec
	inferenceDuration *prometheus.HistogramVec
	inferenceInFlight prometheus.Gauge
	queueLag          *prometheus.HistogramVec
}

func NewWorkerMetrics(service string) *WorkerMetrics {
	registry := prometheus.NewRegistry()

	inferenceTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "worker",
			Name:      "inference_total",
			Help:      "Total inference requests by backend and status.",
		},
		[]string{"backend", "status"},
	)
	inferenceDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "worker",
			Name:      "inference_duration_seconds",
			Help:      "Inference duration in seconds by backend and status.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"backend", "status"},
	)
	inferenceInFlight := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "worker",
			Name:      "inference_in_flight",
			Help:      "Number of in-flight inference requests.",
			ConstLabels: prometheus.Labels{
				"service": service,
			},
		},
	)
	queueLag := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "worker",
			Name:      "queue_lag_seconds",
			Help:      "Delay between the API sending a request and a worker picking it up.",
			Buckets:   []float64{0.005, 0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10},
		},
		[]string{"backend"},
	)

	registry.MustRegister(inferenceTotal, inferenceDuration, inferenceInFlight, queueLag)

	return &WorkerMetrics{
		registry:          registry,
		inferenceTotal:    inferenceTotal,
		inferenceDuration: inferenceDuration,
		inferenceInFlight: inferenceInFlight,
		queueLag:          queueLag,
	}
}

func (m *WorkerMetrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *WorkerMetrics) StartInference() {
	m.inferenceInFlight.Inc()
}

func (m *WorkerMetrics) FinishInference(backend string, duration time.Duration, err error) {
	m.inferenceInFlight.Dec()

	status := "success"
	if err != nil {
		status = "error"
	}

	m.inferenceTotal.WithLabelValues(backend, status).Inc()
	m.inferenceDuration.WithLabelValues(backend, status).Observe(duration.Seconds())
}

func (m *WorkerMetrics) ObserveQueueLag(backend string, lag time.Duration) {
	if lag < 0 {
		return
	}
	m.queueLag.WithLabelValues(backend).Observe(lag.Seconds())
}
