package config_test

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ckcm0210/watchdog-monitoring/internal/config"
)

func TestLoadConfigDefaults(t *testing.T) {
	t.Parallel()

	cfg, err := config.LoadConfig("")
	require.NoError(t, err)

	assert.Equal(t, []string{".xlsx", ".xlsm"}, cfg.Watch.Extensions)
	assert.Equal(t, 2*time.Second, cfg.Watch.Debounce)
	assert.Equal(t, "gzip", cfg.Baseline.Codec)
	assert.Equal(t, 5, cfg.Baseline.MaxAttempts)
	assert.Equal(t, 200*time.Millisecond, cfg.Baseline.RetryBase)
	assert.Equal(t, 5*time.Second, cfg.Polling.DenseInterval)
	assert.Equal(t, 15*time.Second, cfg.Polling.DenseBudget)
	assert.Equal(t, 15*time.Second, cfg.Polling.SparseInterval)
	assert.Equal(t, int64(10<<20), cfg.Polling.SizeThreshold)
	assert.Equal(t, 120*time.Second, cfg.Extract.Timeout)
	assert.Equal(t, uint64(2048), cfg.Memory.LimitMB)
	assert.True(t, cfg.Batch.Resume)
	assert.False(t, cfg.Metrics.Enabled)
	assert.False(t, cfg.Cache.Enabled)
}

func TestLoadConfigFromFile(t *testing.T) {
	t.Parallel()

	configContent := `
watch:
  directories:
    - "/mnt/finance/reports"
  debounce: "5s"

baseline:
  directory: "/var/lib/watchdog/baselines"
  codec: "lz4"

polling:
  dense_interval: "2s"
  dense_budget: "10s"
  size_threshold: 1048576

metrics:
  enabled: true
  port: 9999
`

	tmpDir := t.TempDir()

	tmpFile, err := os.CreateTemp(tmpDir, "test-config-*.yaml")
	require.NoError(t, err)

	_, writeErr := tmpFile.WriteString(configContent)
	require.NoError(t, writeErr)

	tmpFile.Close()

	cfg, loadErr := config.LoadConfig(tmpFile.Name())
	require.NoError(t, loadErr)

	assert.Equal(t, []string{"/mnt/finance/reports"}, cfg.Watch.Directories)
	assert.Equal(t, 5*time.Second, cfg.Watch.Debounce)
	assert.Equal(t, "/var/lib/watchdog/baselines", cfg.Baseline.Directory)
	assert.Equal(t, "lz4", cfg.Baseline.Codec)
	assert.Equal(t, 2*time.Second, cfg.Polling.DenseInterval)
	assert.Equal(t, 10*time.Second, cfg.Polling.DenseBudget)
	assert.Equal(t, int64(1<<20), cfg.Polling.SizeThreshold)
	assert.True(t, cfg.Metrics.Enabled)
	assert.Equal(t, 9999, cfg.Metrics.Port)

	// Untouched sections keep their defaults.
	assert.Equal(t, 120*time.Second, cfg.Extract.Timeout)
}

func writeConfig(t *testing.T, content string) string {
	t.Helper()

	tmpFile, err := os.CreateTemp(t.TempDir(), "test-config-*.yaml")
	require.NoError(t, err)

	_, writeErr := tmpFile.WriteString(content)
	require.NoError(t, writeErr)
	tmpFile.Close()

	return tmpFile.Name()
}

func TestLoadConfigValidation(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		content string
		wantErr error
	}{
		{
			name:    "unknown codec",
			content: "baseline:\n  codec: \"zstd\"\n",
			wantErr: config.ErrInvalidCodec,
		},
		{
			name:    "empty baseline directory",
			content: "baseline:\n  directory: \"\"\n",
			wantErr: config.ErrNoBaselineDir,
		},
		{
			name:    "budget below interval",
			content: "polling:\n  dense_interval: \"10s\"\n  dense_budget: \"5s\"\n",
			wantErr: config.ErrInvalidBudget,
		},
		{
			name:    "negative size threshold",
			content: "polling:\n  size_threshold: -1\n",
			wantErr: config.ErrInvalidThreshold,
		},
		{
			name:    "metrics port out of range",
			content: "metrics:\n  enabled: true\n  port: 70000\n",
			wantErr: config.ErrInvalidMetricsPort,
		},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			_, err := config.LoadConfig(writeConfig(t, tc.content))

			assert.ErrorIs(t, err, tc.wantErr)
		})
	}
}

func TestValidateWatch(t *testing.T) {
	t.Parallel()

	cfg, err := config.LoadConfig("")
	require.NoError(t, err)

	assert.ErrorIs(t, config.ValidateWatch(cfg), config.ErrNoWatchDirs)

	cfg.Watch.Directories = []string{"/mnt/finance"}
	assert.NoError(t, config.ValidateWatch(cfg))
}
