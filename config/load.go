package config

import (
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

// Environment variables consulted by LoadWithEnvOverrides.
const (
	EnvIDFormat      = "ACTIVITYZ_ID_FORMAT"
	EnvForceIDFormat = "ACTIVITYZ_FORCE_ID_FORMAT"
	EnvBufferSize    = "ACTIVITYZ_COLLECTOR_BUFFER_SIZE"
	EnvLogLevel      = "ACTIVITYZ_LOGGING_LEVEL"
	EnvLogFormat     = "ACTIVITYZ_LOGGING_FORMAT"
)

// Load reads the YAML file at path, applies defaults and validates it.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read configuration file %q: %w", path, err)
	}
	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("configuration file %q: %w", path, err)
	}
	return cfg, nil
}

// Parse decodes YAML, applies defaults and validates the result.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse configuration: %w", err)
	}

	ApplyDefaults(&cfg)

	if err := Validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// LoadWithEnvOverrides loads path and then applies ACTIVITYZ_* environment
// variables, which take precedence over the file.
func LoadWithEnvOverrides(path string) (*Config, error) {
	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}

	applyEnvOverrides(cfg)

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed after environment overrides: %w", err)
	}
	return cfg, nil
}

// applyEnvOverrides ignores values that do not parse; Validate catches the
// ones that parse but are out of range.
func applyEnvOverrides(cfg *Config) {
	if val := os.Getenv(EnvIDFormat); val != "" {
		cfg.IDFormat = val
	}
	if val := os.Getenv(EnvForceIDFormat); val != "" {
		if b, err := strconv.ParseBool(val); err == nil {
			cfg.ForceIDFormat = b
		}
	}
	if val := os.Getenv(EnvBufferSize); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			cfg.Collector.BufferSize = i
		}
	}
	if val := os.Getenv(EnvLogLevel); val != "" {
		cfg.Logging.Level = val
	}
	if val := os.Getenv(EnvLogFormat); val != "" {
		cfg.Logging.Format = val
	}
}
