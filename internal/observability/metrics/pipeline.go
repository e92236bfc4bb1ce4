package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// PipelineMetrics covers the OCR, matching and essay stages.
type PipelineMetrics struct {
	registry *prometheus.Registry
	service  string

	stageTotal    *prometheus.CounterVec
	stageDuration *prometheus.HistogramVec
	stageInFlight *prometheus.GaugeVec
	llmAttempts   *prometheus.CounterVec
	ocrCalls      *prometheus.CounterVec
	taskQueue     *prometheus.GaugeVec
}

func NewPipelineMetrics(service string) *PipelineMetrics {
	registry := prometheus.NewRegistry()

	stageTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "essay",
			Subsystem: "pipeline",
			Name:      "stage_items_total",
			Help:      "Total pipeline items by stage and outcome.",
		},
		[]string{"service", "stage", "outcome"},
	)
	stageDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "essay",
			Subsystem: "pipeline",
			Name:      "stage_duration_seconds",
			Help:      "Per-item stage duration in seconds.",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120, 300},
		},
		[]string{"service", "stage"},
	)
	stageInFlight := prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "essay",
			Subsystem: "pipeline",
			Name:      "stage_in_flight",
			Help:      "Number of items currently inside a stage.",
		},
		[]string{"service", "stage"},
	)
	llmAttempts := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "essay",
			Subsystem: "llm",
			Name:      "attempts_total",
			Help:      "LLM call attempts by outcome.",
		},
		[]string{"service", "outcome"},
	)
	ocrCalls := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "essay",
			Subsystem: "ocr",
			Name:      "calls_total",
			Help:      "OCR provider calls by operation and outcome.",
		},
		[]string{"service", "operation", "outcome"},
	)
	taskQueue := prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "essay",
			Subsystem: "tasks",
			Name:      "queue_depth",
			Help:      "Background tasks waiting for a worker.",
		},
		[]string{"service"},
	)

	registry.MustRegister(stageTotal, stageDuration, stageInFlight, llmAttempts, ocrCalls, taskQueue)

	return &PipelineMetrics{
		registry:      registry,
		service:       service,
		stageTotal:    stageTotal,
		stageDuration: stageDuration,
		stageInFlight: stageInFlight,
		llmAttempts:   llmAttempts,
		ocrCalls:      ocrCalls,
		taskQueue:     taskQueue,
	}
}

func (m *PipelineMetrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *PipelineMetrics) StageStarted(stage string) {
	m.stageInFlight.WithLabelValues(m.service, stage).Inc()
}

func (m *PipelineMetrics) StageFinished(stage, outcome string, duration time.Duration) {
	m.stageInFlight.WithLabelValues(m.service, stage).Dec()
	if outcome == "" {
		outcome = "unknown"
	}
	m.stageTotal.WithLabelValues(m.service, stage, outcome).Inc()
	m.stageDuration.WithLabelValues(m.service, stage).Observe(duration.Seconds())
}

func (m *PipelineMetrics) LLMAttempt(outcome string) {
	m.llmAttempts.WithLabelValues(m.service, outcome).Inc()
}

func (m *PipelineMetrics) OCRCall(operation string, err error) {
	outcome := "success"
	if err != nil {
		outcome = "error"
	}
	m.ocrCalls.WithLabelValues(m.service, operation, outcome).Inc()
}

func (m *PipelineMetrics) SetQueueDepth(depth int) {
	m.taskQueue.WithLabelValues(m.service).Set(float64(depth))
}
