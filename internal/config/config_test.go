package config

import (
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func defaultConfig(t *testing.T) *Config {
	t.Helper()

	v := viper.New()
	setDefaults(v)

	var cfg Config
	require.NoError(t, v.Unmarshal(&cfg))
	return &cfg
}

func TestDefaults(t *testing.T) {
	cfg := defaultConfig(t)

	assert.Equal(t, 8390, cfg.Server.Port)
	assert.Equal(t, "127.0.0.1", cfg.Server.Host)
	assert.Equal(t, "http://localhost:8080", cfg.Backend.BaseURL)
	assert.Equal(t, "./data/talefeed.db", cfg.Store.Path)
	assert.True(t, cfg.Store.EnableWAL)
	assert.Equal(t, 5, cfg.Player.RetryBudget)
	assert.Equal(t, 25*time.Second, cfg.Player.ManifestTimeout)
	assert.Equal(t, 30*time.Second, cfg.Player.SyncInterval)
	assert.Equal(t, 8*time.Second, cfg.Player.ResumeSeekTimeout)
	assert.Equal(t, "standard", cfg.Player.BufferProfile)
	assert.False(t, cfg.Player.StandaloneSurface)
	assert.Equal(t, "./downloads", cfg.Download.Dir)
	assert.Equal(t, "info", cfg.Logging.Level)
}

func TestDefaultsAreValid(t *testing.T) {
	cfg := defaultConfig(t)
	assert.NoError(t, cfg.Validate())
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"port too low", func(c *Config) { c.Server.Port = 0 }, "invalid server port"},
		{"port too high", func(c *Config) { c.Server.Port = 70000 }, "invalid server port"},
		{"bad backend url", func(c *Config) { c.Backend.BaseURL = "not-a-url" }, "invalid backend URL"},
		{"bad stream url", func(c *Config) { c.Backend.StreamBaseURL = "" }, "invalid backend URL"},
		{"zero retry budget", func(c *Config) { c.Player.RetryBudget = 0 }, "invalid retry budget"},
		{"zero manifest timeout", func(c *Config) { c.Player.ManifestTimeout = 0 }, "invalid manifest timeout"},
		{"zero sync interval", func(c *Config) { c.Player.SyncInterval = 0 }, "invalid sync interval"},
		{"zero resume seek timeout", func(c *Config) { c.Player.ResumeSeekTimeout = 0 }, "invalid resume seek timeout"},
		{"unknown buffer profile", func(c *Config) { c.Player.BufferProfile = "huge" }, "invalid buffer profile"},
		{"unknown log level", func(c *Config) { c.Logging.Level = "verbose" }, "invalid log level"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := defaultConfig(t)
			tt.mutate(cfg)

			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}
