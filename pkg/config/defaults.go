package config

import (
	"strings"
	"time"

	"github.com/marmos91/siafuse/pkg/adapter/fuse"
	"github.com/marmos91/siafuse/pkg/vfs"
)

// Default on-disk locations. Everything lives under one scratch directory so
// a default mount is easy to clean up.
const (
	defaultMountpoint     = "/tmp/siafuse/mnt"
	defaultFilesystemPath = "/tmp/siafuse/content"
	defaultBadgerPath     = "/tmp/siafuse/badger"
	defaultBoltPath       = "/tmp/siafuse/content.db"
)

// ApplyDefaults sets default values for any unspecified configuration fields.
//
// This function is called after loading configuration from file and environment
// variables to fill in any missing values with sensible defaults.
//
// Default Strategy:
//   - Zero values (0, "", nil) are replaced with defaults
//   - Explicit values are preserved
//   - Booleans are left alone (false is a valid explicit choice)
//   - Store-specific defaults are handled by store factories
func ApplyDefaults(cfg *Config) {
	applyLoggingDefaults(&cfg.Logging)
	applyServerDefaults(&cfg.Server)
	applyContentDefaults(&cfg.Content)
	applyVFSDefaults(&cfg.VFS)
	applyAdaptersDefaults(&cfg.Adapters)
	applyGCDefaults(&cfg.GC)
}

// applyLoggingDefaults sets logging defaults and normalizes values.
func applyLoggingDefaults(cfg *LoggingConfig) {
	if cfg.Level == "" {
		cfg.Level = "INFO"
	}
	// Normalize log level to uppercase for consistent internal representation
	cfg.Level = strings.ToUpper(cfg.Level)

	if cfg.Format == "" {
		cfg.Format = "text"
	}
	if cfg.Output == "" {
		cfg.Output = "stdout"
	}
}

// applyServerDefaults sets server defaults.
func applyServerDefaults(cfg *ServerConfig) {
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = 30 * time.Second
	}
	if cfg.Metrics.Port == 0 {
		cfg.Metrics.Port = 9090
	}
}

// applyContentDefaults sets content store defaults.
func applyContentDefaults(cfg *ContentConfig) {
	if cfg.Type == "" {
		cfg.Type = "memory"
	}

	if cfg.Memory == nil {
		cfg.Memory = make(map[string]any)
	}
	if cfg.Filesystem == nil {
		cfg.Filesystem = make(map[string]any)
	}
	if cfg.Badger == nil {
		cfg.Badger = make(map[string]any)
	}
	if cfg.Bolt == nil {
		cfg.Bolt = make(map[string]any)
	}
	if cfg.S3 == nil {
		cfg.S3 = make(map[string]any)
	}

	// Defaults for every store type, so a generated config documents them all
	if _, ok := cfg.Filesystem["path"]; !ok {
		cfg.Filesystem["path"] = defaultFilesystemPath
	}
	if _, ok := cfg.Badger["path"]; !ok {
		cfg.Badger["path"] = defaultBadgerPath
	}
	if _, ok := cfg.Bolt["path"]; !ok {
		cfg.Bolt["path"] = defaultBoltPath
	}
}

// applyVFSDefaults sets engine defaults.
func applyVFSDefaults(cfg *VFSConfig) {
	if cfg.Root.Mode == 0 {
		cfg.Root.Mode = 0o755
	}
	if cfg.MaxNameLength == 0 {
		cfg.MaxNameLength = vfs.DefaultMaxNameLength
	}
}

// applyAdaptersDefaults sets adapter defaults.
func applyAdaptersDefaults(cfg *AdaptersConfig) {
	if cfg.FUSE.Mountpoint == "" {
		cfg.FUSE.Mountpoint = defaultMountpoint
	}
	cfg.FUSE.ApplyDefaults()
}

// applyGCDefaults sets orphan collector defaults.
func applyGCDefaults(cfg *GCConfig) {
	if cfg.Interval == 0 {
		cfg.Interval = time.Hour
	}
}

// GetDefaultConfig returns a Config struct with all default values applied.
//
// This is useful for:
//   - Generating sample configuration files
//   - Testing
//   - Documentation
func GetDefaultConfig() *Config {
	cfg := &Config{
		Adapters: AdaptersConfig{
			FUSE: fuse.FUSEConfig{
				Enabled: true,
			},
		},
		GC: GCConfig{
			Enabled: true,
		},
	}
	ApplyDefaults(cfg)
	return cfg
}
