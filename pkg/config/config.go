package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/marmos91/siafuse/pkg/adapter/fuse"
)

// EnvPrefix is the prefix of environment variable overrides.
const EnvPrefix = "SIAFUSE"

// Config represents the complete siafuse configuration.
//
// This structure captures all configurable aspects of a mount:
//   - Logging configuration
//   - Server-wide settings (shutdown, metrics endpoint)
//   - Content store selection and configuration (store-specific)
//   - Engine settings (root ownership, name limits)
//   - Transport adapter configurations
//   - Orphan content collection
//
// Configuration sources (in order of precedence):
//  1. CLI flags (highest priority, applied by cmd/siafuse)
//  2. Environment variables (SIAFUSE_*)
//  3. Configuration file (YAML)
//  4. Default values (lowest priority)
//
// Store Configuration Pattern:
// Each content store defines its own option struct, decoded by its factory
// from the map under content.<type>. Only the section matching content.type
// is used.
type Config struct {
	// Logging controls log output behavior
	Logging LoggingConfig `mapstructure:"logging" yaml:"logging"`

	// Server contains server-wide settings
	Server ServerConfig `mapstructure:"server" yaml:"server"`

	// Content specifies the content store type and type-specific configuration
	Content ContentConfig `mapstructure:"content" yaml:"content"`

	// VFS configures the filesystem engine
	VFS VFSConfig `mapstructure:"vfs" yaml:"vfs"`

	// Adapters contains transport adapter configurations
	Adapters AdaptersConfig `mapstructure:"adapters" yaml:"adapters"`

	// GC configures the orphan content collector
	GC GCConfig `mapstructure:"gc" yaml:"gc"`
}

// LoggingConfig controls logging behavior.
type LoggingConfig struct {
	// Level is the minimum log level to output
	// Valid values: DEBUG, INFO, WARN, ERROR (case-insensitive, normalized to uppercase)
	Level string `mapstructure:"level" yaml:"level" validate:"required,oneof=DEBUG INFO WARN ERROR debug info warn error"`

	// Format specifies the log output format
	// Valid values: text, json
	Format string `mapstructure:"format" yaml:"format" validate:"required,oneof=text json"`

	// Output specifies where logs are written
	// Valid values: stdout, stderr, or a file path
	Output string `mapstructure:"output" yaml:"output" validate:"required"`
}

// ServerConfig contains server-wide settings.
type ServerConfig struct {
	// ShutdownTimeout is the maximum time to wait for graceful shutdown
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout" validate:"required,gt=0"`

	// Metrics configures the Prometheus endpoint
	Metrics MetricsConfig `mapstructure:"metrics" yaml:"metrics"`
}

// MetricsConfig configures the Prometheus metrics HTTP server.
type MetricsConfig struct {
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`

	// Port is the HTTP port serving /metrics and /healthz
	Port int `mapstructure:"port" yaml:"port" validate:"min=0,max=65535"`
}

// ContentConfig specifies content store configuration.
//
// The Type field determines which store implementation is used.
// Only the corresponding type-specific configuration section is used.
type ContentConfig struct {
	// Type specifies which content store implementation to use
	// Valid values: memory, filesystem, badger, bolt, s3
	Type string `mapstructure:"type" yaml:"type" validate:"required,oneof=memory filesystem badger bolt s3"`

	// Memory contains memory-specific configuration (max_blob_size)
	Memory map[string]any `mapstructure:"memory" yaml:"memory,omitempty"`

	// Filesystem contains filesystem-specific configuration
	// Only used when Type = "filesystem"
	Filesystem map[string]any `mapstructure:"filesystem" yaml:"filesystem,omitempty"`

	// Badger contains BadgerDB-specific configuration
	// Only used when Type = "badger"
	Badger map[string]any `mapstructure:"badger" yaml:"badger,omitempty"`

	// Bolt contains bbolt-specific configuration
	// Only used when Type = "bolt"
	Bolt map[string]any `mapstructure:"bolt" yaml:"bolt,omitempty"`

	// S3 contains S3-specific configuration
	// Only used when Type = "s3"
	S3 map[string]any `mapstructure:"s3" yaml:"s3,omitempty"`
}

// VFSConfig configures the filesystem engine.
type VFSConfig struct {
	// Root specifies attributes of the root directory
	Root RootConfig `mapstructure:"root" yaml:"root"`

	// MaxNameLength bounds the length of a single entry name in bytes
	MaxNameLength int `mapstructure:"max_name_length" yaml:"max_name_length" validate:"min=0,max=4096"`

	// MaxFileSize bounds the size of a regular file in bytes (0 = 1 TiB)
	MaxFileSize uint64 `mapstructure:"max_file_size" yaml:"max_file_size"`
}

// RootConfig specifies root directory attributes.
type RootConfig struct {
	// Mode is the Unix permission mode (e.g., 0755)
	Mode uint32 `mapstructure:"mode" yaml:"mode" validate:"lte=4095"` // 4095 = 07777

	// UID is the owner user ID. Unset means the uid of the process.
	UID *uint32 `mapstructure:"uid" yaml:"uid,omitempty"`

	// GID is the owner group ID. Unset means the gid of the process.
	GID *uint32 `mapstructure:"gid" yaml:"gid,omitempty"`
}

// AdaptersConfig contains all transport adapter configurations.
type AdaptersConfig struct {
	// FUSE contains the kernel mount configuration.
	// Uses the fuse.FUSEConfig type directly to avoid duplication.
	FUSE fuse.FUSEConfig `mapstructure:"fuse" yaml:"fuse"`
}

// GCConfig configures the orphan content collector.
type GCConfig struct {
	// Enabled runs the collector periodically
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`

	// Interval between sweeps
	Interval time.Duration `mapstructure:"interval" yaml:"interval" validate:"min=0"`

	// DryRun logs orphans without destroying them
	DryRun bool `mapstructure:"dry_run" yaml:"dry_run"`
}

// Load loads configuration from file, environment, and defaults.
//
// Configuration precedence (highest to lowest):
//  1. Environment variables (SIAFUSE_*)
//  2. Configuration file
//  3. Default values
//
// Parameters:
//   - configPath: Path to config file (empty string uses default location)
//
// Returns:
//   - *Config: Loaded and validated configuration
//   - error: Configuration loading or validation error
func Load(configPath string) (*Config, error) {
	v := viper.New()

	if err := setupViper(v, configPath); err != nil {
		return nil, err
	}

	if err := readConfigFile(v, configPath); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	ApplyDefaults(&cfg)

	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &cfg, nil
}

// setupViper configures viper with defaults, environment variables and
// config file settings.
func setupViper(v *viper.Viper, configPath string) error {
	// Every key needs a default for AutomaticEnv to see it during Unmarshal,
	// otherwise SIAFUSE_* only overrides keys present in the file.
	if err := registerDefaults(v); err != nil {
		return err
	}

	// Example: SIAFUSE_ADAPTERS_FUSE_MOUNTPOINT=/mnt/sia
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		// Default location: $XDG_CONFIG_HOME/siafuse/config.yaml
		v.AddConfigPath(getConfigDir())
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}
	return nil
}

// registerDefaults flattens the default configuration into viper defaults.
func registerDefaults(v *viper.Viper) error {
	raw, err := yaml.Marshal(GetDefaultConfig())
	if err != nil {
		return fmt.Errorf("failed to encode defaults: %w", err)
	}

	var tree map[string]any
	if err := yaml.Unmarshal(raw, &tree); err != nil {
		return fmt.Errorf("failed to decode defaults: %w", err)
	}

	defaults := make(map[string]any)
	flatten("", tree, defaults)

	keys := make([]string, 0, len(defaults))
	for k := range defaults {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		v.SetDefault(k, defaults[k])
	}
	return nil
}

// flatten turns nested maps into dotted keys. Nil leaves are skipped.
func flatten(prefix string, tree map[string]any, out map[string]any) {
	for k, val := range tree {
		key := k
		if prefix != "" {
			key = prefix + "." + k
		}
		switch typed := val.(type) {
		case map[string]any:
			flatten(key, typed, out)
		case nil:
		default:
			out[key] = typed
		}
	}
}

// readConfigFile reads the configuration file if it exists.
func readConfigFile(v *viper.Viper, configPath string) error {
	if configPath != "" {
		if _, err := os.Stat(configPath); os.IsNotExist(err) {
			return nil
		}
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			// Config file not found is acceptable - use defaults
			return nil
		}
		return fmt.Errorf("failed to read config file: %w", err)
	}

	return nil
}

// getConfigDir returns the configuration directory path.
//
// Uses XDG_CONFIG_HOME if set, otherwise ~/.config, or falls back to current
// directory (.) if home directory cannot be determined.
func getConfigDir() string {
	if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		return filepath.Join(xdgConfig, "siafuse")
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}

	return filepath.Join(home, ".config", "siafuse")
}

// GetDefaultConfigPath returns the default configuration file path.
func GetDefaultConfigPath() string {
	return filepath.Join(getConfigDir(), "config.yaml")
}

// ConfigExists checks if a config file exists at the default location.
func ConfigExists() bool {
	_, err := os.Stat(GetDefaultConfigPath())
	return err == nil
}

// GetConfigDir returns the configuration directory path (exposed for init command).
func GetConfigDir() string {
	return getConfigDir()
}
