package prometheus

import (
	"strconv"
	"time"

	"github.com/marmos91/siafuse/pkg/metrics"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type fuseMetrics struct {
	requestsTotal    *prometheus.CounterVec
	requestDuration  *prometheus.HistogramVec
	requestsInFlight *prometheus.GaugeVec
	throttledTotal   prometheus.Counter
}

// NewFUSEMetrics creates a FUSEMetrics registered in the global registry,
// or a no-op implementation when metrics are disabled.
func NewFUSEMetrics() metrics.FUSEMetrics {
	if !metrics.IsEnabled() {
		return metrics.NewNoopFUSEMetrics()
	}
	return NewFUSEMetricsWith(metrics.GetRegistry())
}

// NewFUSEMetricsWith creates a FUSEMetrics registered in reg.
func NewFUSEMetricsWith(reg prometheus.Registerer) metrics.FUSEMetrics {
	return &fuseMetrics{
		requestsTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "siafuse_fuse_requests_total",
				Help: "Total number of FUSE requests by operation and errno",
			},
			[]string{"operation", "errno"},
		),
		requestDuration: promauto.With(reg).NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "siafuse_fuse_request_duration_seconds",
				Help:    "Duration of FUSE requests in seconds",
				Buckets: latencyBuckets,
			},
			[]string{"operation"},
		),
		requestsInFlight: promauto.With(reg).NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "siafuse_fuse_requests_in_flight",
				Help: "Current number of FUSE requests being processed",
			},
			[]string{"operation"},
		),
		throttledTotal: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Name: "siafuse_fuse_requests_throttled_total",
				Help: "Total number of FUSE requests delayed by the rate limiter",
			},
		),
	}
}

func (m *fuseMetrics) RecordRequest(operation string, duration time.Duration, errno uint32) {
	m.requestsTotal.WithLabelValues(operation, strconv.FormatUint(uint64(errno), 10)).Inc()
	m.requestDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

func (m *fuseMetrics) RecordRequestStart(operation string) {
	m.requestsInFlight.WithLabelValues(operation).Inc()
}

func (m *fuseMetrics) RecordRequestEnd(operation string) {
	m.requestsInFlight.WithLabelValues(operation).Dec()
}

func (m *fuseMetrics) RecordThrottled() {
	m.throttledTotal.Inc()
}
