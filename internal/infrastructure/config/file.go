package config

import (
	"fmt"
	"os"

	"github.com/goccy/go-yaml"
	"github.com/kelseyhightower/envconfig"
)

// LoadFile loads the trace filter parameters from a YAML file, using the
// filter's init-parameter names as keys:
//
//	trace-dir: /var/log/tracer
//	trace-id-header: X-TraceId
//	trace-exclude:
//	  - /metrics
//	  - /static/**
//
// Environment variables are applied on top and override the file.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg.Trace); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return &cfg, nil
}
