// Package metrics implements the engine's metrics collection port on top
// of Prometheus.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/scoutline/picklist/internal/ports"
)

// PrometheusMetrics implements ports.MetricsCollector with Prometheus
// collectors registered in the default registry. Known metric names map to
// dedicated vectors with stable label sets; anything else lands in the
// generic operation vectors.
type PrometheusMetrics struct {
	llmLatency      *prometheus.HistogramVec
	llmRequests     *prometheus.CounterVec
	llmTokens       *prometheus.CounterVec
	rankingLatency  *prometheus.HistogramVec
	rankingBatches  *prometheus.CounterVec
	operationCounts *prometheus.CounterVec
	systemGauges    *prometheus.GaugeVec
	histograms      *prometheus.HistogramVec
}

var _ ports.MetricsCollector = (*PrometheusMetrics)(nil)

// NewPrometheusMetrics creates the collector and registers its metrics.
// Call it once per process; promauto panics on duplicate registration.
func NewPrometheusMetrics() *PrometheusMetrics {
	return &PrometheusMetrics{
		llmLatency: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "llm_request_duration_seconds",
				Help:    "Latency of individual LLM provider requests.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"provider", "model", "status"},
		),
		llmRequests: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "llm_requests_total",
				Help: "Total LLM provider requests by outcome.",
			},
			[]string{"provider", "model", "status"},
		),
		llmTokens: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "llm_tokens_total",
				Help: "Total tokens consumed by LLM requests.",
			},
			[]string{"provider", "model", "token_type"},
		),
		rankingLatency: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "ranking_run_duration_seconds",
				Help:    "End-to-end latency of ranking runs.",
				Buckets: []float64{1, 5, 10, 30, 60, 120, 300},
			},
			[]string{"position", "status"},
		),
		rankingBatches: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ranking_batches_total",
				Help: "Total ranking batches dispatched by outcome.",
			},
			[]string{"status"},
		),
		operationCounts: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "picklist_operations_total",
				Help: "Total engine operations by name and status.",
			},
			[]string{"operation", "status"},
		),
		systemGauges: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "picklist_system_state",
				Help: "Current engine state values.",
			},
			[]string{"metric"},
		),
		histograms: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "picklist_operation_duration_seconds",
				Help:    "Latency of engine operations.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"operation"},
		),
	}
}

// RecordLatency records an operation's duration.
func (pm *PrometheusMetrics) RecordLatency(operation string, duration time.Duration, labels map[string]string) {
	switch operation {
	case "llm_request":
		pm.llmLatency.WithLabelValues(
			label(labels, "provider"),
			label(labels, "model"),
			label(labels, "status"),
		).Observe(duration.Seconds())
	case "ranking_run":
		pm.rankingLatency.WithLabelValues(
			label(labels, "position"),
			label(labels, "status"),
		).Observe(duration.Seconds())
	default:
		pm.histograms.WithLabelValues(operation).Observe(duration.Seconds())
	}
}

// RecordCounter increments a counter.
func (pm *PrometheusMetrics) RecordCounter(metric string, value float64, labels map[string]string) {
	switch metric {
	case "llm_requests_total":
		pm.llmRequests.WithLabelValues(
			label(labels, "provider"),
			label(labels, "model"),
			label(labels, "status"),
		).Add(value)
	case "llm_tokens_total":
		pm.llmTokens.WithLabelValues(
			label(labels, "provider"),
			label(labels, "model"),
			label(labels, "token_type"),
		).Add(value)
	case "ranking_batches_total":
		pm.rankingBatches.WithLabelValues(label(labels, "status")).Add(value)
	default:
		pm.operationCounts.WithLabelValues(metric, label(labels, "status")).Add(value)
	}
}

// RecordGauge sets a gauge value.
func (pm *PrometheusMetrics) RecordGauge(metric string, value float64, labels map[string]string) {
	pm.systemGauges.WithLabelValues(metric).Set(value)
}

// RecordHistogram records a value in a histogram.
func (pm *PrometheusMetrics) RecordHistogram(metric string, value float64, labels map[string]string) {
	pm.histograms.WithLabelValues(metric).Observe(value)
}

func label(labels map[string]string, key string) string {
	if v, ok := labels[key]; ok && v != "" {
		return v
	}
	return "unknown"
}
