package config

import (
	"github.com/marmos91/siafuse/pkg/metrics"
	promMetrics "github.com/marmos91/siafuse/pkg/metrics/prometheus"
)

// MetricsResult contains all metrics-related components created from configuration.
type MetricsResult struct {
	// Server is the HTTP server exposing Prometheus metrics (nil if disabled)
	Server *metrics.Server

	// VFSMetrics is the collector for the filesystem engine (never nil)
	VFSMetrics metrics.VFSMetrics

	// FUSEMetrics is the collector for the FUSE adapter (never nil)
	FUSEMetrics metrics.FUSEMetrics

	// ContentMetrics is the collector for the configured content store (never nil)
	ContentMetrics metrics.ContentMetrics
}

// InitializeMetrics creates and initializes all metrics components based on configuration.
//
// If metrics are enabled in the configuration:
//   - Initializes the global Prometheus registry
//   - Creates the metrics HTTP server
//   - Creates Prometheus-backed metrics instances for all components
//
// If metrics are disabled:
//   - Returns nil server
//   - Returns no-op metrics implementations (zero overhead)
func InitializeMetrics(cfg *Config) *MetricsResult {
	if !cfg.Server.Metrics.Enabled {
		return &MetricsResult{
			VFSMetrics:     metrics.NewNoopVFSMetrics(),
			FUSEMetrics:    metrics.NewNoopFUSEMetrics(),
			ContentMetrics: metrics.NewNoopContentMetrics(),
		}
	}

	metrics.InitRegistry()

	server := metrics.NewServer(metrics.ServerConfig{
		Port: cfg.Server.Metrics.Port,
	})

	return &MetricsResult{
		Server:         server,
		VFSMetrics:     promMetrics.NewVFSMetrics(),
		FUSEMetrics:    promMetrics.NewFUSEMetrics(),
		ContentMetrics: promMetrics.NewContentMetrics(cfg.Content.Type),
	}
}
