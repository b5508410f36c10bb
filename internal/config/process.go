package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// LoadProcessConfig reads and validates the top-level ProcessConfig at
// path, applying HubConfig defaults for any zero-valued field.
func LoadProcessConfig(path string) (*ProcessConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading process config %s: %w", path, err)
	}

	cfg := DefaultProcessConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing process config %s: %w", path, err)
	}
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("validating process config %s: %w", path, err)
	}
	return cfg, nil
}
