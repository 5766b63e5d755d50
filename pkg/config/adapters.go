package config

import (
	"fmt"

	"github.com/marmos91/siafuse/pkg/adapter"
	"github.com/marmos91/siafuse/pkg/adapter/fuse"
	"github.com/marmos91/siafuse/pkg/metrics"
)

// CreateAdapters creates all enabled transport adapters from the configuration.
//
// Parameters:
//   - cfg: The complete configuration
//   - fuseMetrics: Optional FUSE metrics collector (nil = no metrics)
//
// Returns:
//   - []adapter.Adapter: List of enabled adapters ready to be added to the server
//   - error: Any error during adapter creation
func CreateAdapters(cfg *Config, fuseMetrics metrics.FUSEMetrics) ([]adapter.Adapter, error) {
	var adapters []adapter.Adapter

	if cfg.Adapters.FUSE.Enabled {
		adapters = append(adapters, fuse.New(cfg.Adapters.FUSE, fuseMetrics))
	}

	if len(adapters) == 0 {
		return nil, fmt.Errorf("no adapters enabled in configuration")
	}

	return adapters, nil
}
