package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// LocalOverrides is the subset of config that needs to be read directly
// from disk rather than through a Loader: callers that haven't opened an
// engine yet (a CLI flag parser deciding whether to wait for the process
// lock, a doctor-style diagnostic) still need these few fields.
type LocalOverrides struct {
	SnapshotRetentionSeconds int64  `yaml:"snapshot_retention_seconds"`
	DefaultStorageMode       string `yaml:"default_storage_mode"`
}

// ReadLocalOverrides reads dir/config.yaml directly with yaml.v3,
// bypassing viper entirely. It returns a zero-value LocalOverrides (not
// an error) if the file is missing or malformed, since this path exists
// for best-effort pre-flight checks, not authoritative configuration.
func ReadLocalOverrides(dir string) LocalOverrides {
	data, err := os.ReadFile(filepath.Join(dir, "config.yaml"))
	if err != nil {
		return LocalOverrides{}
	}
	var lo LocalOverrides
	if err := yaml.Unmarshal(data, &lo); err != nil {
		return LocalOverrides{}
	}
	return lo
}

// WriteLocalOverrides serializes o as YAML to dir/config.yaml, creating
// the file if absent. Used by diagnostics that want to persist a single
// field without pulling in the full Loader/viper round trip.
func WriteLocalOverrides(dir string, o LocalOverrides) error {
	data, err := yaml.Marshal(o)
	if err != nil {
		return fmt.Errorf("config: marshal local overrides: %w", err)
	}
	return os.WriteFile(filepath.Join(dir, "config.yaml"), data, 0o644)
}
