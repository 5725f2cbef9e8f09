package config

import (
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultValidates(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, 100, cfg.QoS.RateLimitPerSec)
	assert.Equal(t, 1024, cfg.QoS.CompressionThreshold)
	assert.Equal(t, 50, cfg.QoS.MaxLatencyMS)
	assert.Equal(t, 1000, cfg.Buffer.Capacity)
	assert.Equal(t, 1000, cfg.Buffer.MaxSessions)
	assert.Equal(t, 100, cfg.Scheduler.TickIntervalMS)
	assert.Equal(t, 50, cfg.Scheduler.BatchSize)
	assert.Equal(t, 10, cfg.Scheduler.MinEvents)
	assert.Equal(t, 500.0, cfg.Analysis.PauseThresholdMS)
	assert.Equal(t, 0.3, cfg.Emotion.SmoothingAlpha)
	assert.Equal(t, 100.0, cfg.Emotion.WPMNorm)
}

func TestValidateFillsWorkerDefault(t *testing.T) {
	cfg := Default()
	cfg.Scheduler.Workers = 0
	require.NoError(t, cfg.Validate())
	assert.Equal(t, runtime.GOMAXPROCS(0), cfg.Scheduler.Workers)
}

func TestValidateRejectsBadValues(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero rate limit", func(c *Config) { c.QoS.RateLimitPerSec = 0 }},
		{"negative compression threshold", func(c *Config) { c.QoS.CompressionThreshold = -1 }},
		{"smoothing out of range", func(c *Config) { c.Emotion.SmoothingAlpha = 1.5 }},
		{"zero buffer capacity", func(c *Config) { c.Buffer.Capacity = 0 }},
		{"zero max sessions", func(c *Config) { c.Buffer.MaxSessions = 0 }},
		{"min events below two", func(c *Config) { c.Scheduler.MinEvents = 1 }},
		{"idle below heartbeat", func(c *Config) { c.QoS.IdleTimeoutMS = 10_000 }},
		{"missing ws path", func(c *Config) { c.Server.WSPath = "" }},
		{"nats enabled without url", func(c *Config) { c.NATS.Enabled = true; c.NATS.URL = "" }},
		{"zero pause threshold", func(c *Config) { c.Analysis.PauseThresholdMS = 0 }},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			cfg := Default()
			test.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestLoadMergesFileOverDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	data := `{
		"qos": {"rate_limit_per_sec": 25},
		"scheduler": {"batch_size": 10}
	}`
	require.NoError(t, os.WriteFile(path, []byte(data), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 25, cfg.QoS.RateLimitPerSec)
	assert.Equal(t, 10, cfg.Scheduler.BatchSize)
	// Untouched values keep defaults
	assert.Equal(t, 1000, cfg.Buffer.Capacity)
	assert.Equal(t, 0.3, cfg.Emotion.SmoothingAlpha)
}

func TestLoadEmptyPathReturnsDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, Default().QoS, cfg.QoS)
}

func TestLoadRejectsBadJSON(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bad.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o600))

	_, err := Load(path)
	assert.Error(t, err)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("VIBEMUSIC_RATE_LIMIT", "7")
	t.Setenv("VIBEMUSIC_NATS_URL", "nats://example:4222")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 7, cfg.QoS.RateLimitPerSec)
	assert.Equal(t, "nats://example:4222", cfg.NATS.URL)
	assert.True(t, cfg.NATS.Enabled)
}

func TestDurationHelpers(t *testing.T) {
	cfg := Default()
	assert.Equal(t, cfg.QoS.IdleTimeout().Milliseconds(), int64(cfg.QoS.IdleTimeoutMS))
	assert.Equal(t, cfg.Scheduler.TickInterval().Milliseconds(), int64(cfg.Scheduler.TickIntervalMS))
	assert.Equal(t, cfg.Buffer.MaxEventAge().Milliseconds(), int64(cfg.Buffer.MaxEventAgeMS))
}
