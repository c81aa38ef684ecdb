package config

import "strings"

// Default values applied to any field the sources left empty.
const (
	DefaultLogLevel  = "INFO"
	DefaultLogFormat = "tint"
	DefaultLogOutput = "stderr"

	DefaultScheme = "file"
)

// ApplyDefaults fills in defaults for missing values and normalizes the
// log level to uppercase.
func ApplyDefaults(cfg *Config) {
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = DefaultLogLevel
	}
	cfg.Logging.Level = strings.ToUpper(cfg.Logging.Level)

	if cfg.Logging.Format == "" {
		cfg.Logging.Format = DefaultLogFormat
	}
	if cfg.Logging.Output == "" {
		cfg.Logging.Output = DefaultLogOutput
	}

	if cfg.Scheme.Type == "" {
		cfg.Scheme.Type = DefaultScheme
	}
}
