package prometheus

import (
	"time"

	"github.com/marmos91/siafuse/pkg/metrics"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type contentMetrics struct {
	backend           string
	operationsTotal   *prometheus.CounterVec
	operationDuration *prometheus.HistogramVec
	bytesTotal        *prometheus.CounterVec
}

// NewContentMetrics creates a ContentMetrics for the named backend, or a
// no-op implementation when metrics are disabled.
func NewContentMetrics(backend string) metrics.ContentMetrics {
	if !metrics.IsEnabled() {
		return metrics.NewNoopContentMetrics()
	}
	return NewContentMetricsWith(metrics.GetRegistry(), backend)
}

// NewContentMetricsWith creates a ContentMetrics registered in reg.
func NewContentMetricsWith(reg prometheus.Registerer, backend string) metrics.ContentMetrics {
	return &contentMetrics{
		backend: backend,
		operationsTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "siafuse_content_operations_total",
				Help: "Total number of content store operations by backend, operation, and status",
			},
			[]string{"backend", "operation", "status"},
		),
		operationDuration: promauto.With(reg).NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "siafuse_content_operation_duration_seconds",
				Help:    "Duration of content store operations in seconds",
				Buckets: latencyBuckets,
			},
			[]string{"backend", "operation"},
		),
		bytesTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "siafuse_content_bytes_total",
				Help: "Total bytes moved by content store reads and writes",
			},
			[]string{"backend", "operation"},
		),
	}
}

func (m *contentMetrics) ObserveOperation(operation string, duration time.Duration, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}

	m.operationsTotal.WithLabelValues(m.backend, operation, status).Inc()
	m.operationDuration.WithLabelValues(m.backend, operation).Observe(duration.Seconds())
}

func (m *contentMetrics) RecordBytes(operation string, bytes int) {
	m.bytesTotal.WithLabelValues(m.backend, operation).Add(float64(bytes))
}
