package rulespec

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Load parses a ruleset configuration. YAML is a superset of JSON, so
// both formats are accepted.
func Load(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse ruleset: %w", err)
	}
	for i := range cfg.Rules {
		if err := cfg.Rules[i].Validate(); err != nil {
			return nil, err
		}
	}
	return &cfg, nil
}

// LoadFile reads and parses a ruleset configuration file.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read ruleset: %w", err)
	}
	return Load(data)
}
