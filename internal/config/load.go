package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Load assembles a configuration from defaults, the given YAML fragment
// paths (merged in order, later files winning), and "key=value" override
// pairs with dotted paths, e.g. "topdown.blocktype=basic".
func Load(paths []string, overrides []string) (*Config, error) {
	cfg := Default()
	for _, path := range paths {
		if err := cfg.MergeFile(path); err != nil {
			return nil, err
		}
	}
	for _, kv := range overrides {
		if err := cfg.Override(kv); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}

// MergeFile overlays a YAML fragment onto the config. Fields absent from
// the file keep their current values.
func (c *Config) MergeFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("config: parse %s: %w", path, err)
	}
	return nil
}

// Override applies a single "dotted.key=value" pair by synthesising a
// nested YAML fragment and merging it.
func (c *Config) Override(kv string) error {
	key, value, ok := strings.Cut(kv, "=")
	if !ok {
		return fmt.Errorf("config: override %q is not key=value", kv)
	}

	doc := any(nil)
	if err := yaml.Unmarshal([]byte(value), &doc); err != nil {
		return fmt.Errorf("config: override value %q: %w", value, err)
	}
	parts := strings.Split(key, ".")
	for i := len(parts) - 1; i >= 0; i-- {
		doc = map[string]any{parts[i]: doc}
	}
	data, err := yaml.Marshal(doc)
	if err != nil {
		return fmt.Errorf("config: override %q: %w", kv, err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("config: override %q: %w", kv, err)
	}
	return nil
}

// Dump renders the full configuration as YAML, as written into each
// experiment directory.
func (c *Config) Dump() (string, error) {
	data, err := yaml.Marshal(c)
	if err != nil {
		return "", fmt.Errorf("config: dump: %w", err)
	}
	return string(data), nil
}
