package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "settings.yaml"))
	require.NoError(t, err)

	assert.True(t, cfg.Providers.Claude.Enabled)
	assert.True(t, cfg.Providers.Codex.Enabled)
	assert.Equal(t, time.Second, time.Duration(cfg.PollInterval))
	assert.Equal(t, 5*time.Minute, time.Duration(cfg.CostScanInterval))
	assert.Equal(t, 0.90, cfg.NotifyThreshold)
	assert.Equal(t, "info", cfg.LogLevel)
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
providers:
  claude:
    enabled: true
    credentials_path: /tmp/creds.json
  codex:
    enabled: false
poll_interval: 2s
cost_scan_interval: 10m
notify_threshold: 0.8
log_level: debug
metrics_addr: "localhost:9301"
`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.True(t, cfg.Providers.Claude.Enabled)
	assert.Equal(t, "/tmp/creds.json", cfg.Providers.Claude.CredentialsPath)
	assert.False(t, cfg.Providers.Codex.Enabled)
	assert.Equal(t, 2*time.Second, time.Duration(cfg.PollInterval))
	assert.Equal(t, 10*time.Minute, time.Duration(cfg.CostScanInterval))
	assert.Equal(t, 0.8, cfg.NotifyThreshold)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, "localhost:9301", cfg.MetricsAddr)
}

func TestLoadMalformedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.yaml")
	require.NoError(t, os.WriteFile(path, []byte("providers: ["), 0o644))

	_, err := Load(path)
	assert.Error(t, err)
}

func TestLoadInvalidDuration(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.yaml")
	require.NoError(t, os.WriteFile(path, []byte("poll_interval: soon"), 0o644))

	_, err := Load(path)
	assert.Error(t, err)
}

func TestLoadClampsBadThreshold(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.yaml")
	require.NoError(t, os.WriteFile(path, []byte("notify_threshold: 1.5"), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 0.90, cfg.NotifyThreshold)
}
