package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func writeConfigFile(t *testing.T, cfg map[string]any) string {
	t.Helper()
	data, err := yaml.Marshal(cfg)
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, data, 0o644))
	return path
}

func TestLoad(t *testing.T) {
	t.Run("MissingFileYieldsDefaults", func(t *testing.T) {
		cfg, err := Load(filepath.Join(t.TempDir(), "config.yaml"))
		require.NoError(t, err)

		assert.Equal(t, "INFO", cfg.Logging.Level)
		assert.Equal(t, "tint", cfg.Logging.Format)
		assert.Equal(t, "stderr", cfg.Logging.Output)
		assert.Equal(t, "file", cfg.Scheme.Type)
	})

	t.Run("ReadsValuesFromFile", func(t *testing.T) {
		path := writeConfigFile(t, map[string]any{
			"logging": map[string]any{
				"level":  "debug",
				"format": "json",
				"output": "stdout",
			},
			"scheme": map[string]any{
				"type": "file",
			},
			"engine": map[string]any{
				"batch_size":    50,
				"batch_max_age": "200ms",
			},
			"timeouts": map[string]any{
				"response": 120,
			},
		})

		cfg, err := Load(path)
		require.NoError(t, err)

		assert.Equal(t, "DEBUG", cfg.Logging.Level, "level is normalized to uppercase")
		assert.Equal(t, "json", cfg.Logging.Format)
		assert.Equal(t, 50, cfg.Engine.BatchSize)
		assert.Equal(t, 200*time.Millisecond, cfg.Engine.BatchMaxAge)
		assert.Equal(t, 120, cfg.Timeouts.Response)
	})

	t.Run("RejectsUnknownScheme", func(t *testing.T) {
		path := writeConfigFile(t, map[string]any{
			"scheme": map[string]any{"type": "gopher"},
		})

		_, err := Load(path)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "validation")
	})

	t.Run("RejectsUnknownLogFormat", func(t *testing.T) {
		path := writeConfigFile(t, map[string]any{
			"logging": map[string]any{
				"level":  "INFO",
				"format": "xml",
				"output": "stderr",
			},
		})

		_, err := Load(path)
		require.Error(t, err)
	})

	t.Run("RejectsS3WithoutSettings", func(t *testing.T) {
		path := writeConfigFile(t, map[string]any{
			"scheme": map[string]any{"type": "s3"},
		})

		_, err := Load(path)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "scheme.s3")
	})

	t.Run("EnvironmentOverridesFile", func(t *testing.T) {
		path := writeConfigFile(t, map[string]any{
			"logging": map[string]any{
				"level":  "INFO",
				"format": "json",
				"output": "stderr",
			},
		})

		t.Setenv("WORKERKIT_LOGGING_LEVEL", "ERROR")

		cfg, err := Load(path)
		require.NoError(t, err)
		assert.Equal(t, "ERROR", cfg.Logging.Level)
	})
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		cfg := &Config{}
		ApplyDefaults(cfg)
		return cfg
	}

	t.Run("AcceptsDefaults", func(t *testing.T) {
		assert.NoError(t, Validate(valid()))
	})

	t.Run("RejectsNegativeTimeout", func(t *testing.T) {
		cfg := valid()
		cfg.Timeouts.Response = -1
		assert.Error(t, Validate(cfg))
	})

	t.Run("RejectsEmptyLogLevel", func(t *testing.T) {
		cfg := valid()
		cfg.Logging.Level = ""
		assert.Error(t, Validate(cfg))
	})
}
