package config

import (
	"strings"
	"time"

	"github.com/SokratisVidros/eurechat/pkg/directory"
)

// GetDefaultConfig returns the reference configuration: loopback directory
// on 8888, 10s checker loop, metrics disabled.
func GetDefaultConfig() *Config {
	cfg := &Config{}
	ApplyDefaults(cfg)
	return cfg
}

// ApplyDefaults fills zero-valued fields with defaults. Explicit values are
// preserved.
func ApplyDefaults(cfg *Config) {
	applyLoggingDefaults(&cfg.Logging)
	applyListenDefaults(&cfg.Listen)
	applyCheckerDefaults(&cfg.Checker)
	applyMetricsDefaults(&cfg.Metrics)

	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = 10 * time.Second
	}
}

func applyLoggingDefaults(cfg *LoggingConfig) {
	if cfg.Level == "" {
		cfg.Level = "INFO"
	}
	cfg.Level = strings.ToUpper(cfg.Level)

	if cfg.Format == "" {
		cfg.Format = "text"
	}
	if cfg.Output == "" {
		cfg.Output = "stdout"
	}
}

func applyListenDefaults(cfg *ListenConfig) {
	if cfg.Address == "" {
		cfg.Address = directory.DefaultBindAddress
	}
	if cfg.Port == 0 {
		cfg.Port = directory.DefaultPort
	}
}

func applyCheckerDefaults(cfg *CheckerConfig) {
	if cfg.Interval == 0 {
		cfg.Interval = directory.DefaultCheckInterval
	}
	if cfg.ProbeTimeout == 0 {
		cfg.ProbeTimeout = directory.DefaultProbeTimeout
	}
}

func applyMetricsDefaults(cfg *MetricsConfig) {
	if cfg.Address == "" {
		cfg.Address = "127.0.0.1"
	}
	if cfg.Port == 0 {
		cfg.Port = 9090
	}
}
