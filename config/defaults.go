package config

// Accepted values.
const (
	FormatW3C          = "w3c"
	FormatHierarchical = "hierarchical"

	LogFormatJSON    = "json"
	LogFormatConsole = "console"
)

// Default values.
const (
	DefaultIDFormat   = FormatW3C
	DefaultResult     = "all"
	DefaultRatio      = 1.0
	DefaultBufferSize = 1000
	DefaultLogLevel   = "info"
	DefaultLogFormat  = LogFormatJSON
)

// ApplyDefaults fills every unset field.
func ApplyDefaults(cfg *Config) {
	if cfg.IDFormat == "" {
		cfg.IDFormat = DefaultIDFormat
	}
	for i := range cfg.Sampling.Rules {
		r := &cfg.Sampling.Rules[i]
		if r.Result == "" {
			r.Result = DefaultResult
		}
		if r.Ratio == 0 {
			r.Ratio = DefaultRatio
		}
	}
	if cfg.Collector.BufferSize == 0 {
		cfg.Collector.BufferSize = DefaultBufferSize
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = DefaultLogLevel
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = DefaultLogFormat
	}
}

// Default returns a configuration with only defaults.
func Default() *Config {
	cfg := &Config{}
	ApplyDefaults(cfg)
	return cfg
}
