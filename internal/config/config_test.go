package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func chdirTemp(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	origDir, _ := os.Getwd()
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(origDir) })
	return dir
}

func TestLoadDefaults(t *testing.T) {
	chdirTemp(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "http://localhost:4000/api", cfg.API.BaseURL)
	assert.Equal(t, 3, cfg.API.Retry.MaxAttempts)
	assert.Equal(t, 5, cfg.API.Circuit.FailureThreshold)
	assert.True(t, cfg.Realtime.Enabled)
	assert.Equal(t, "ws://localhost:4000/ws", cfg.Realtime.URL)
	assert.InDelta(t, 0.7, cfg.Risk.Threshold, 0.001)
	assert.Equal(t, 300, cfg.Risk.CacheTTLSecs)
	assert.Equal(t, "high", cfg.Location.Accuracy)
	assert.Equal(t, 5000, cfg.Location.TimeIntervalMs)
	assert.InDelta(t, 10, cfg.Location.DistanceIntervalMeters, 0.001)
	assert.Equal(t, 60000, cfg.Location.BackgroundTimeIntervalMs)
	assert.Equal(t, 30, cfg.Geofence.CheckIntervalSecs)
	assert.Equal(t, 30*time.Second, cfg.Geofence.CheckInterval())
	assert.Equal(t, "@every 10m", cfg.Geofence.RefreshSchedule)
	assert.Equal(t, 50, cfg.Incidents.MaxAlerts)
	assert.Equal(t, "safewatch.db", cfg.Store.Path)
	assert.Equal(t, 0, cfg.Status.Port)
	assert.Empty(t, cfg.Status.AllowedOrigins)
	assert.Equal(t, 60, cfg.Session.RefreshSkewSecs)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)

	assert.NoError(t, cfg.Validate())
}

func TestLoadFromYAML(t *testing.T) {
	dir := chdirTemp(t)

	yaml := `
api:
  base_url: https://safety.example.com/api
log:
  level: debug
  format: console
geofence:
  check_interval_secs: 10
status:
  port: 8088
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0644))

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "https://safety.example.com/api", cfg.API.BaseURL)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "console", cfg.Log.Format)
	assert.Equal(t, 10, cfg.Geofence.CheckIntervalSecs)
	assert.Equal(t, 8088, cfg.Status.Port)
	// Defaults still apply for unset values
	assert.Equal(t, 5000, cfg.Location.TimeIntervalMs)
}

func TestLoadEnvOverridesFile(t *testing.T) {
	dir := chdirTemp(t)

	yaml := `
store:
  path: file.db
log:
  level: debug
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0644))

	t.Setenv("SAFEWATCH_STORE_PATH", "env.db")
	t.Setenv("SAFEWATCH_LOG_LEVEL", "warn")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "env.db", cfg.Store.Path)
	assert.Equal(t, "warn", cfg.Log.Level)
}

func TestLoadEnvOverridesDefaults(t *testing.T) {
	chdirTemp(t)
	t.Setenv("SAFEWATCH_RISK_THRESHOLD", "0.5")

	cfg, err := Load()
	require.NoError(t, err)
	assert.InDelta(t, 0.5, cfg.Risk.Threshold, 0.001)
}

func TestLoadMalformedFile(t *testing.T) {
	dir := chdirTemp(t)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte("api: [unclosed"), 0644))

	_, err := Load()
	assert.Error(t, err)
}

func validConfig() *Config {
	cfg := &Config{}
	cfg.API.BaseURL = "https://api.example.com"
	cfg.Realtime.Enabled = true
	cfg.Realtime.URL = "wss://api.example.com/ws"
	cfg.Risk.Enabled = true
	cfg.Risk.BaseURL = "http://risk.local:5000"
	cfg.Risk.Threshold = 0.7
	cfg.Location.TimeIntervalMs = 5000
	cfg.Location.BackgroundTimeIntervalMs = 60000
	cfg.Geofence.CheckIntervalSecs = 30
	cfg.Incidents.MaxAlerts = 50
	return cfg
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{"valid", func(c *Config) {}, ""},
		{"bad api scheme", func(c *Config) { c.API.BaseURL = "ftp://x" }, "api.base_url"},
		{"empty api", func(c *Config) { c.API.BaseURL = "" }, "api.base_url"},
		{"http realtime", func(c *Config) { c.Realtime.URL = "http://x/ws" }, "realtime.url"},
		{"realtime disabled skips url", func(c *Config) { c.Realtime.Enabled = false; c.Realtime.URL = "" }, ""},
		{"risk threshold", func(c *Config) { c.Risk.Threshold = 1.5 }, "risk.threshold"},
		{"risk disabled skips", func(c *Config) { c.Risk.Enabled = false; c.Risk.BaseURL = "" }, ""},
		{"webhook url", func(c *Config) { c.Notify.WebhookURL = "not a url" }, "notify.webhook_url"},
		{"zero interval", func(c *Config) { c.Location.TimeIntervalMs = 0 }, "time intervals"},
		{"negative distance", func(c *Config) { c.Location.DistanceIntervalMeters = -1 }, "distance intervals"},
		{"zero check", func(c *Config) { c.Geofence.CheckIntervalSecs = 0 }, "check_interval_secs"},
		{"zero max alerts", func(c *Config) { c.Incidents.MaxAlerts = 0 }, "max_alerts"},
		{"port range", func(c *Config) { c.Status.Port = 70000 }, "status.port"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestInitLoggerConsole(t *testing.T) {
	err := InitLogger(LogConfig{Level: "debug", Format: "console"})
	require.NoError(t, err)
	assert.NotNil(t, zap.L())
}

func TestInitLoggerJSON(t *testing.T) {
	err := InitLogger(LogConfig{Level: "info", Format: "json"})
	require.NoError(t, err)
	assert.NotNil(t, zap.L())
}

func TestInitLoggerInvalidLevel(t *testing.T) {
	err := InitLogger(LogConfig{Level: "invalid", Format: "json"})
	assert.Error(t, err)
}
