package fuse

import (
	"fmt"
	"time"
)

// FUSEConfig holds configuration for the FUSE adapter.
//
// Default values (applied by New if zero):
//   - FSName: "siafuse"
//   - AttrTimeout: 1s
//   - EntryTimeout: 1s
//   - RateLimit.Burst: RequestsPerSecond rounded up (when enabled)
//
// The kernel caches attributes and lookups for the configured timeouts.
// Lower values make changes made through other adapters visible sooner at
// the cost of more GETATTR and LOOKUP round trips.
type FUSEConfig struct {
	// Enabled controls whether the FUSE adapter is started.
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`

	// Mountpoint is the directory the filesystem is mounted on. It is
	// created if missing.
	Mountpoint string `mapstructure:"mountpoint" yaml:"mountpoint" validate:"required_if=Enabled true"`

	// FSName is shown as the source column of mount(8) and /proc/mounts.
	FSName string `mapstructure:"fs_name" yaml:"fs_name"`

	// AllowOther lets users other than the mounting user access the mount.
	// Requires user_allow_other in /etc/fuse.conf for unprivileged mounts.
	AllowOther bool `mapstructure:"allow_other" yaml:"allow_other"`

	// Debug logs every kernel request and reply (very verbose).
	Debug bool `mapstructure:"debug" yaml:"debug"`

	// AttrTimeout is how long the kernel caches attributes.
	AttrTimeout time.Duration `mapstructure:"attr_timeout" yaml:"attr_timeout" validate:"min=0"`

	// EntryTimeout is how long the kernel caches name lookups.
	EntryTimeout time.Duration `mapstructure:"entry_timeout" yaml:"entry_timeout" validate:"min=0"`

	// RateLimit throttles kernel requests before they reach the engine.
	RateLimit RateLimitConfig `mapstructure:"rate_limit" yaml:"rate_limit"`
}

// RateLimitConfig configures request throttling.
type RateLimitConfig struct {
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`

	// RequestsPerSecond is the sustained request rate.
	RequestsPerSecond float64 `mapstructure:"requests_per_second" yaml:"requests_per_second" validate:"min=0"`

	// Burst is the number of requests admitted without waiting.
	Burst int `mapstructure:"burst" yaml:"burst" validate:"min=0"`
}

const (
	defaultFSName  = "siafuse"
	defaultTimeout = time.Second
)

// applyDefaults fills in zero values with sensible defaults.
func (c *FUSEConfig) applyDefaults() {
	if c.FSName == "" {
		c.FSName = defaultFSName
	}
	if c.AttrTimeout == 0 {
		c.AttrTimeout = defaultTimeout
	}
	if c.EntryTimeout == 0 {
		c.EntryTimeout = defaultTimeout
	}
	if c.RateLimit.Enabled && c.RateLimit.Burst == 0 {
		burst := int(c.RateLimit.RequestsPerSecond)
		if float64(burst) < c.RateLimit.RequestsPerSecond {
			burst++
		}
		c.RateLimit.Burst = burst
	}
}

// ApplyDefaults is the exported form of applyDefaults, used by pkg/config.
func (c *FUSEConfig) ApplyDefaults() {
	c.applyDefaults()
}

// validate checks the configuration after defaults are applied.
func (c *FUSEConfig) validate() error {
	if c.Mountpoint == "" {
		return fmt.Errorf("mountpoint is required")
	}
	if c.AttrTimeout < 0 {
		return fmt.Errorf("invalid attr_timeout %v: must be >= 0", c.AttrTimeout)
	}
	if c.EntryTimeout < 0 {
		return fmt.Errorf("invalid entry_timeout %v: must be >= 0", c.EntryTimeout)
	}
	if c.RateLimit.Enabled && c.RateLimit.RequestsPerSecond <= 0 {
		return fmt.Errorf("invalid rate_limit.requests_per_second %v: must be > 0 when enabled",
			c.RateLimit.RequestsPerSecond)
	}
	return nil
}
