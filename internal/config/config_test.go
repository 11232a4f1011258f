package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfigFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestLoadFile_Defaults(t *testing.T) {
	cfg, err := LoadFile("")
	require.NoError(t, err)

	assert.Equal(t, "mean", cfg.Quality.NullFillStrategy)
	assert.Equal(t, "zscore", cfg.Quality.OutlierMethod)
	assert.Equal(t, 3.0, cfg.Quality.OutlierThreshold)
	assert.Equal(t, 512, cfg.Model.MaxTokens)
	assert.Equal(t, 0.7, cfg.Model.Temperature)
	assert.Equal(t, 3, cfg.Model.KeepLast)
	assert.Equal(t, 0.8, cfg.Prompt.CorrelationThreshold)
	assert.Equal(t, []string{"pdf", "excel"}, cfg.Report.Formats)
	assert.Equal(t, "file", cfg.Memory.Backend)
	assert.Equal(t, 15*time.Second, cfg.Server.ReadTimeout)
}

func TestLoadFile_Layering(t *testing.T) {
	path := writeConfigFile(t, `
quality:
  null_fill_strategy: median
  outlier_method: iqr
model:
  max_tokens: 256
  epochs: 5
report:
  formats: [excel]
`)
	t.Setenv("INSIGHT_MODEL_MAX_TOKENS", "1024")
	t.Setenv("INSIGHT_LOGGING_LEVEL", "debug")

	cfg, err := LoadFile(path)
	require.NoError(t, err)

	assert.Equal(t, "median", cfg.Quality.NullFillStrategy, "file overrides default")
	assert.Equal(t, "iqr", cfg.Quality.OutlierMethod)
	assert.Equal(t, 5, cfg.Model.Epochs)
	assert.Equal(t, 1024, cfg.Model.MaxTokens, "env overrides file")
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, []string{"excel"}, cfg.Report.Formats)
	assert.Equal(t, 32, cfg.Model.BatchSize, "untouched default survives")
}

func TestLoadFile_ValidationFailures(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		env  map[string]string
	}{
		{name: "unknown outlier method", yaml: "quality:\n  outlier_method: mad\n"},
		{name: "unknown fill strategy", yaml: "quality:\n  null_fill_strategy: mode\n"},
		{name: "redis without url", env: map[string]string{"INSIGHT_MEMORY_BACKEND": "redis"}},
		{name: "cron without source", env: map[string]string{"INSIGHT_SCHEDULE_CRON": "@hourly"}},
		{name: "bad port", yaml: "server:\n  port: 70000\n"},
		{name: "empty format", yaml: "report:\n  formats: [pdf, ' ']\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := ""
			if tt.yaml != "" {
				path = writeConfigFile(t, tt.yaml)
			}
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := LoadFile(path)
			assert.Error(t, err)
		})
	}
}

func TestLoadFile_MalformedYAML(t *testing.T) {
	path := writeConfigFile(t, "quality: [unterminated")
	_, err := LoadFile(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to load config from file")
}

func TestResolvePaths(t *testing.T) {
	base := t.TempDir()
	cfg := Default().Paths
	cfg.BaseDir = base
	cfg.ReportsDir = filepath.Join(base, "abs-reports")

	paths, err := ResolvePaths(cfg)
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(base, "data", "models", "checkpoints"), paths.CheckpointsDir)
	assert.Equal(t, filepath.Join(paths.CheckpointsDir, "registry.json"), paths.RegistryFile)
	assert.Equal(t, filepath.Join(base, "abs-reports"), paths.ReportsDir)

	require.NoError(t, paths.EnsureDirectories())
	for _, dir := range []string{paths.ProcessedDir, paths.CheckpointsDir, paths.MemoryDir, paths.EvaluationDir} {
		info, err := os.Stat(dir)
		require.NoError(t, err)
		assert.True(t, info.IsDir())
	}
	assert.False(t, FileExists(paths.SchemaFile))
}
