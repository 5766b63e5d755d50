package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

const configHeader = `# siafuse configuration file
#
# Every key can be overridden with an environment variable named after its
# path, e.g. SIAFUSE_ADAPTERS_FUSE_MOUNTPOINT=/mnt/sia.
`

// sectionComments documents each top-level section of a generated file.
var sectionComments = map[string]string{
	"logging":  "Logging\n  level: DEBUG, INFO, WARN, ERROR\n  format: text or json\n  output: stdout, stderr or a file path",
	"server":   "Server-wide settings\n  shutdown_timeout bounds graceful unmount\n  metrics exposes Prometheus /metrics and /healthz",
	"content":  "Content store holding file data\n  type: memory, filesystem, badger, bolt or s3\n  only the section matching type is used",
	"vfs":      "Filesystem engine\n  root: permissions and ownership of the mount root (uid/gid default to the process)\n  max_name_length: longest entry name in bytes",
	"adapters": "Transport adapters\n  fuse: kernel mount (timeouts are kernel attribute/entry caching)",
	"gc":       "Orphan content collector\n  removes blobs no inode references, after two consecutive sweeps",
}

// InitConfig writes a default configuration file to the default location.
//
// Returns the path that was written. Fails with an "already exists" error if
// a file is present and force is false.
func InitConfig(force bool) (string, error) {
	path := GetDefaultConfigPath()
	if err := InitConfigToPath(path, force); err != nil {
		return "", err
	}
	return path, nil
}

// InitConfigToPath writes a default configuration file to path, creating
// parent directories as needed.
func InitConfigToPath(path string, force bool) error {
	if !force {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("config file already exists at %s (use --force to overwrite)", path)
		}
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := generateYAMLWithComments(GetDefaultConfig())
	if err != nil {
		return err
	}

	if err := os.WriteFile(path, []byte(data), 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// generateYAMLWithComments renders cfg as YAML with a comment above every
// top-level section.
func generateYAMLWithComments(cfg *Config) (string, error) {
	var root yaml.Node
	if err := root.Encode(cfg); err != nil {
		return "", fmt.Errorf("failed to encode config: %w", err)
	}

	if root.Kind == yaml.MappingNode {
		for i := 0; i+1 < len(root.Content); i += 2 {
			key := root.Content[i]
			if comment, ok := sectionComments[key.Value]; ok {
				key.HeadComment = comment
			}
		}
	}

	var buf bytes.Buffer
	buf.WriteString(configHeader)
	buf.WriteString("\n")

	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(&root); err != nil {
		return "", fmt.Errorf("failed to render config: %w", err)
	}
	if err := enc.Close(); err != nil {
		return "", fmt.Errorf("failed to render config: %w", err)
	}

	return buf.String(), nil
}
