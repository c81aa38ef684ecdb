// Package config loads and validates the worker daemon configuration.
//
// Configuration sources, in order of precedence:
//  1. Environment variables (WORKERKIT_*)
//  2. Configuration file (YAML)
//  3. Default values
//
// Scheme handler selection follows a factory pattern: the Scheme.Type
// field picks the implementation and only the matching type-specific
// section is decoded.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the complete worker daemon configuration.
type Config struct {
	// Logging controls log output behavior.
	Logging LoggingConfig `mapstructure:"logging"`

	// Scheme selects and configures the scheme handler this worker runs.
	Scheme SchemeConfig `mapstructure:"scheme"`

	// Engine tunes the protocol engine.
	Engine EngineConfig `mapstructure:"engine"`

	// Timeouts are the channel and transfer bounds, in seconds.
	Timeouts TimeoutConfig `mapstructure:"timeouts"`

	// Credentials configures the persistent credential cache.
	Credentials CredentialsConfig `mapstructure:"credentials"`
}

// LoggingConfig controls logging behavior.
type LoggingConfig struct {
	// Level is the minimum log level.
	// Valid values: DEBUG, INFO, WARN, ERROR (case-insensitive).
	Level string `mapstructure:"level" validate:"required,oneof=DEBUG INFO WARN ERROR debug info warn error"`

	// Format is the log output format: text, tint or json.
	Format string `mapstructure:"format" validate:"required,oneof=text tint json"`

	// Output is stdout, stderr, or a file path.
	Output string `mapstructure:"output" validate:"required"`
}

// SchemeConfig selects the scheme handler implementation. Only the
// section matching Type is used.
type SchemeConfig struct {
	// Type is the scheme this worker serves.
	// Valid values: file, s3.
	Type string `mapstructure:"type" validate:"required,oneof=file s3"`

	// File contains file-scheme settings. Only used when Type = "file".
	File map[string]any `mapstructure:"file"`

	// S3 contains s3-scheme settings. Only used when Type = "s3".
	S3 map[string]any `mapstructure:"s3"`
}

// EngineConfig tunes the protocol engine.
type EngineConfig struct {
	// BatchSize is the entry count that forces a listing flush.
	BatchSize int `mapstructure:"batch_size" validate:"gte=0"`

	// BatchMaxAge is the batch age that forces a listing flush.
	BatchMaxAge time.Duration `mapstructure:"batch_max_age" validate:"gte=0"`
}

// TimeoutConfig carries the channel and transfer bounds in seconds. Zero
// keeps the engine default.
type TimeoutConfig struct {
	Connect      int `mapstructure:"connect" validate:"gte=0"`
	ProxyConnect int `mapstructure:"proxy_connect" validate:"gte=0"`
	Response     int `mapstructure:"response" validate:"gte=0"`
	Read         int `mapstructure:"read" validate:"gte=0"`
}

// CredentialsConfig configures the credential cache.
type CredentialsConfig struct {
	// Path is the cache database directory. Empty means in-memory.
	Path string `mapstructure:"path"`
}

// Load reads, defaults and validates the configuration. An empty
// configPath uses the default search location; a missing file is fine and
// yields pure defaults.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	setupViper(v, configPath)

	if err := readConfigFile(v); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	ApplyDefaults(&cfg)

	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return &cfg, nil
}

func setupViper(v *viper.Viper, configPath string) {
	// Example: WORKERKIT_LOGGING_LEVEL=DEBUG.
	v.SetEnvPrefix("WORKERKIT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.AddConfigPath(getConfigDir())
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}
}

func readConfigFile(v *viper.Viper) error {
	if err := v.ReadInConfig(); err != nil {
		// A missing file means pure defaults, whether it was the search
		// path or an explicit --config that does not exist yet.
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return nil
		}
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("failed to read config file: %w", err)
	}
	return nil
}

func getConfigDir() string {
	if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		return filepath.Join(xdgConfig, "workerkit")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return filepath.Join(home, ".config", "workerkit")
}
