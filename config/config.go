package config

import (
	"fmt"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/zoobzio/activityz"
)

// Config is the root configuration.
type Config struct {
	// IDFormat is the default id format: "w3c" or "hierarchical".
	IDFormat string `yaml:"id_format"`

	// ForceIDFormat makes every activity use IDFormat regardless of its parent.
	ForceIDFormat bool `yaml:"force_id_format"`

	Sampling  SamplingConfig  `yaml:"sampling"`
	Collector CollectorConfig `yaml:"collector"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// SamplingConfig holds the sampling rules, evaluated as one listener each.
type SamplingConfig struct {
	Rules []Rule `yaml:"rules"`
}

// Rule votes a fixed sampling result for the activities of one source.
type Rule struct {
	// Source is an exact source name or "*" for every source.
	Source string `yaml:"source"`

	// Operations optionally restricts the rule to these operation names.
	Operations []string `yaml:"operations"`

	// Result is one of none, propagation, all, recorded.
	Result string `yaml:"result"`

	// Ratio is the fraction of traces the rule votes for, decided on the
	// trace id so every process agrees. Defaults to 1.
	Ratio float64 `yaml:"ratio"`

	// RespectParent votes recorded for children of recorded parents and
	// none for children of unrecorded remote parents, ignoring Result.
	RespectParent bool `yaml:"respect_parent"`
}

// CollectorConfig sizes the collector built by the CLI.
type CollectorConfig struct {
	BufferSize int `yaml:"buffer_size"`
}

// LoggingConfig configures the zap logger installed by Apply.
type LoggingConfig struct {
	// Level is a zap level name: debug, info, warn, error.
	Level string `yaml:"level"`

	// Format is "json" or "console".
	Format string `yaml:"format"`
}

// Format returns the parsed id format.
func (c *Config) Format() activityz.IDFormat {
	if c.IDFormat == FormatHierarchical {
		return activityz.IDFormatHierarchical
	}
	return activityz.IDFormatW3C
}

// Apply installs the id format settings and, when logging is configured, a
// package logger.
func (c *Config) Apply() error {
	activityz.SetDefaultIDFormat(c.Format())
	activityz.SetForceDefaultIDFormat(c.ForceIDFormat)

	logger, err := c.NewLogger()
	if err != nil {
		return err
	}
	activityz.SetLogger(logger)
	return nil
}

// NewLogger builds a zap logger from the logging section.
func (c *Config) NewLogger() (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(c.Logging.Level)
	if err != nil {
		return nil, fmt.Errorf("invalid logging level %q: %w", c.Logging.Level, err)
	}

	zc := zap.NewProductionConfig()
	if c.Logging.Format == LogFormatConsole {
		zc = zap.NewDevelopmentConfig()
	}
	zc.Level = zap.NewAtomicLevelAt(level)
	return zc.Build()
}

// SamplingResult returns the parsed result of the rule.
func (r Rule) SamplingResult() activityz.SamplingResult {
	res, _ := activityz.ParseSamplingResult(r.Result)
	return res
}
