package config

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/go-playground/validator/v10"
)

// validate is the singleton validator instance
var validate *validator.Validate

func init() {
	validate = validator.New()
}

// Validate validates the configuration using struct tags and custom rules.
//
// This function uses go-playground/validator for declarative validation
// via struct tags, with additional custom validation for complex rules
// that cannot be expressed in tags.
//
// Note: Log level normalization is handled in ApplyDefaults, not here.
// Validation accepts both uppercase and lowercase log levels.
func Validate(cfg *Config) error {
	if err := validate.Struct(cfg); err != nil {
		return formatValidationError(err)
	}

	if err := validateCustomRules(cfg); err != nil {
		return err
	}

	return nil
}

// validateCustomRules performs custom validation beyond struct tags.
func validateCustomRules(cfg *Config) error {
	if !cfg.Adapters.FUSE.Enabled {
		return fmt.Errorf("adapters: at least one adapter must be enabled")
	}

	if !filepath.IsAbs(cfg.Adapters.FUSE.Mountpoint) {
		return fmt.Errorf("adapters.fuse.mountpoint: must be an absolute path, got %q",
			cfg.Adapters.FUSE.Mountpoint)
	}

	fuseCfg := cfg.Adapters.FUSE
	if fuseCfg.RateLimit.Enabled && fuseCfg.RateLimit.RequestsPerSecond <= 0 {
		return fmt.Errorf("adapters.fuse.rate_limit: requests_per_second must be > 0 when enabled")
	}

	if cfg.Server.Metrics.Enabled && cfg.Server.Metrics.Port == 0 {
		return fmt.Errorf("server.metrics: port is required when metrics are enabled")
	}

	if cfg.GC.Enabled && cfg.GC.Interval <= 0 {
		return fmt.Errorf("gc: interval must be > 0 when enabled")
	}

	// The content directory must not live inside the mount, or writes
	// through the mount would recurse into it.
	if cfg.Content.Type == "filesystem" {
		if path, ok := cfg.Content.Filesystem["path"].(string); ok && path != "" {
			if isWithin(cfg.Adapters.FUSE.Mountpoint, path) {
				return fmt.Errorf("content.filesystem.path %q must not be inside the mountpoint %q",
					path, cfg.Adapters.FUSE.Mountpoint)
			}
		}
	}

	return nil
}

// isWithin reports whether path is dir or lies below it.
func isWithin(dir, path string) bool {
	rel, err := filepath.Rel(dir, path)
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

// formatValidationError converts validator errors into user-friendly messages.
func formatValidationError(err error) error {
	if validationErrs, ok := err.(validator.ValidationErrors); ok {
		if len(validationErrs) > 0 {
			e := validationErrs[0]
			return fmt.Errorf("%s: validation failed on '%s' tag (value: %v)",
				e.Namespace(), e.Tag(), e.Value())
		}
	}
	return err
}
