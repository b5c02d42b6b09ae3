// Package config loads and validates the directory server configuration.
//
// Configuration sources, highest precedence first:
//  1. CLI flags
//  2. Environment variables (EURECHAT_*), only for keys the configuration
//     file sets; when no file is found, environment variables are not read
//  3. Configuration file (YAML)
//  4. Defaults
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// Config is the directory server configuration.
type Config struct {
	// Logging controls log output behavior.
	Logging LoggingConfig `mapstructure:"logging" yaml:"logging"`

	// Listen is the endpoint the directory accepts client sessions on.
	Listen ListenConfig `mapstructure:"listen" yaml:"listen"`

	// Checker tunes the liveness checker that prunes unreachable clients.
	Checker CheckerConfig `mapstructure:"checker" yaml:"checker"`

	// Metrics configures the optional Prometheus endpoint.
	Metrics MetricsConfig `mapstructure:"metrics" yaml:"metrics"`

	// ShutdownTimeout bounds the wait for in-flight sessions at shutdown.
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" validate:"required,gt=0" yaml:"shutdown_timeout"`
}

// LoggingConfig controls log output.
type LoggingConfig struct {
	// Level is the minimum level emitted.
	Level string `mapstructure:"level" validate:"required,oneof=DEBUG INFO WARN ERROR debug info warn error" yaml:"level"`

	// Format selects the text or json handler.
	Format string `mapstructure:"format" validate:"required,oneof=text json" yaml:"format"`

	// Output is "stdout", "stderr", or a file path.
	Output string `mapstructure:"output" validate:"required" yaml:"output"`
}

// ListenConfig is the directory's own endpoint.
type ListenConfig struct {
	Address string `mapstructure:"address" validate:"required,ip4_addr" yaml:"address"`
	Port    int    `mapstructure:"port" validate:"required,gte=1,lte=65535" yaml:"port"`

	// MaxConnections limits concurrent sessions. 0 is unlimited.
	MaxConnections int `mapstructure:"max_connections" validate:"gte=0" yaml:"max_connections"`
}

// CheckerConfig tunes the liveness checker.
type CheckerConfig struct {
	// Interval is the pause between sweeps.
	Interval time.Duration `mapstructure:"interval" validate:"required,gt=0" yaml:"interval"`

	// ProbeTimeout bounds each probe's wait for a PONG.
	ProbeTimeout time.Duration `mapstructure:"probe_timeout" validate:"required,gt=0" yaml:"probe_timeout"`

	// Parallelism is the number of concurrent probes. Values below 2 probe
	// serially.
	Parallelism int `mapstructure:"parallelism" validate:"gte=0" yaml:"parallelism"`
}

// MetricsConfig configures the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled" yaml:"enabled"`
	Address string `mapstructure:"address" yaml:"address"`
	Port    int    `mapstructure:"port" validate:"omitempty,gte=1,lte=65535" yaml:"port"`
}

// Load loads configuration from file, environment, and defaults.
// An empty configPath uses the default location; a missing file falls back
// to pure defaults.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	setupViper(v, configPath)

	found, err := readConfigFile(v)
	if err != nil {
		return nil, err
	}
	if !found {
		cfg := GetDefaultConfig()
		return cfg, nil
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, viper.DecodeHook(durationDecodeHook())); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	ApplyDefaults(&cfg)

	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return &cfg, nil
}

// Save writes the configuration as YAML.
func Save(cfg *Config, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// setupViper configures environment overrides and the config file search.
// Environment variables use the EURECHAT_ prefix with underscores, e.g.
// EURECHAT_LOGGING_LEVEL=DEBUG.
func setupViper(v *viper.Viper, configPath string) {
	v.SetEnvPrefix("EURECHAT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.AddConfigPath(DefaultConfigDir())
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}
}

// readConfigFile reads the config file if one exists.
func readConfigFile(v *viper.Viper) (bool, error) {
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return false, nil
		}
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("failed to read config file: %w", err)
	}
	return true, nil
}

// durationDecodeHook converts config strings like "30s" or "10m" to
// time.Duration.
func durationDecodeHook() mapstructure.DecodeHookFunc {
	return func(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
		if to != reflect.TypeOf(time.Duration(0)) {
			return data, nil
		}
		switch v := data.(type) {
		case string:
			return time.ParseDuration(v)
		case int:
			return time.Duration(v), nil
		case int64:
			return time.Duration(v), nil
		case float64:
			return time.Duration(v), nil
		default:
			return data, nil
		}
	}
}

// DefaultConfigDir returns the configuration directory:
// $XDG_CONFIG_HOME/eurechat, falling back to ~/.config/eurechat.
func DefaultConfigDir() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "eurechat")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return filepath.Join(home, ".config", "eurechat")
}

// DefaultConfigPath returns the default config file location.
func DefaultConfigPath() string {
	return filepath.Join(DefaultConfigDir(), "config.yaml")
}
