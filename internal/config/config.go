package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config is the application configuration file structure.
type Config struct {
	Version string `yaml:"version"`

	DevTools struct {
		URL string `yaml:"url"`
	} `yaml:"devtools"`

	Session struct {
		Concurrency       int   `yaml:"concurrency"`
		BodySizeThreshold int64 `yaml:"bodySizeThreshold"`
		PendingCapacity   int   `yaml:"pendingCapacity"`
		ProcessTimeoutMS  int   `yaml:"processTimeoutMS"`
	} `yaml:"session"`

	Sqlite struct {
		Dsn string `yaml:"dsn"`
	} `yaml:"sqlite"`

	Log struct {
		Level  string   `yaml:"level"`
		Writer []string `yaml:"writer"`
		File   string   `yaml:"file"`
	} `yaml:"log"`
}

// NewConfig creates the default configuration.
func NewConfig() *Config {
	c := &Config{Version: "1.0.0"}
	c.DevTools.URL = "http://127.0.0.1:9222"
	c.Session.Concurrency = 8
	c.Session.BodySizeThreshold = 2 << 20
	c.Session.PendingCapacity = 256
	c.Session.ProcessTimeoutMS = 30000
	c.Log.Level = "info"
	c.Log.Writer = []string{"console"}
	return c
}

// LoadFile reads a YAML configuration file over the defaults.
func LoadFile(path string) (*Config, error) {
	cfg := NewConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	return cfg, nil
}
