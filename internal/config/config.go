// Package config provides configuration management using Viper.
// It loads configuration from environment variables, .env files, and config files.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	defaultServerPort              = 8390
	defaultServerHost              = "127.0.0.1"
	defaultReadTimeout             = 30 * time.Second
	defaultWriteTimeout            = 30 * time.Second
	defaultBackendBaseURL          = "http://localhost:8080"
	defaultBackendStreamBaseURL    = "http://localhost:8080/hls"
	defaultBackendRequestTimeout   = 15 * time.Second
	defaultStorePath               = "./data/talefeed.db"
	defaultStoreConnectionTimeout  = 5 * time.Second
	defaultStoreEnableWAL          = true
	defaultLogLevel                = "info"
	defaultLogPretty               = false
	defaultPlayerRetryBudget       = 5
	defaultPlayerManifestTimeout   = 25 * time.Second
	defaultPlayerSyncInterval      = 30 * time.Second
	defaultPlayerResumeSeekTimeout = 8 * time.Second
	defaultPlayerBufferProfile     = "standard"
	defaultPlayerStandaloneSurface = false
	defaultDownloadDir             = "./downloads"
	envPrefix                      = "TALEFEED"
)

// Config holds all application configuration
type Config struct {
	Server   ServerConfig
	Backend  BackendConfig
	Store    StoreConfig
	Player   PlayerConfig
	Download DownloadConfig
	Logging  LoggingConfig
}

// ServerConfig holds the local control API server configuration
type ServerConfig struct {
	Port         int
	Host         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// BackendConfig holds the media-subscription backend API configuration
type BackendConfig struct {
	BaseURL        string
	StreamBaseURL  string
	RequestTimeout time.Duration
}

// StoreConfig holds the local SQLite state store configuration
type StoreConfig struct {
	Path              string
	ConnectionTimeout time.Duration
	EnableWAL         bool
}

// PlayerConfig holds playback engine tuning
type PlayerConfig struct {
	RetryBudget       int
	ManifestTimeout   time.Duration
	SyncInterval      time.Duration
	ResumeSeekTimeout time.Duration
	BufferProfile     string
	// StandaloneSurface marks a dedicated player deployment where access
	// was established when the surface was opened; pre-flight access
	// re-checks are skipped.
	StandaloneSurface bool
}

// DownloadConfig holds offline download configuration
type DownloadConfig struct {
	Dir string
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string
	Pretty bool
}

// Load reads configuration from .env file, config files, environment variables, and defaults
func Load() (*Config, error) {
	// .env files are optional in production and CI where env vars are set directly
	_ = godotenv.Load() // nolint:errcheck // .env file is optional

	v := viper.New()

	setDefaults(v)

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.AddConfigPath("/etc/talefeed")

	v.SetEnvPrefix(envPrefix)
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// Config file is optional, defaults and env vars cover everything
	if err := v.ReadInConfig(); err != nil {
		var configFileNotFoundError viper.ConfigFileNotFoundError
		if !errors.As(err, &configFileNotFoundError) {
			return nil, fmt.Errorf("error reading config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// setDefaults configures default values for all configuration options
func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", defaultServerPort)
	v.SetDefault("server.host", defaultServerHost)
	v.SetDefault("server.readtimeout", defaultReadTimeout)
	v.SetDefault("server.writetimeout", defaultWriteTimeout)

	v.SetDefault("backend.baseurl", defaultBackendBaseURL)
	v.SetDefault("backend.streambaseurl", defaultBackendStreamBaseURL)
	v.SetDefault("backend.requesttimeout", defaultBackendRequestTimeout)

	v.SetDefault("store.path", defaultStorePath)
	v.SetDefault("store.connectiontimeout", defaultStoreConnectionTimeout)
	v.SetDefault("store.enablewal", defaultStoreEnableWAL)

	v.SetDefault("player.retrybudget", defaultPlayerRetryBudget)
	v.SetDefault("player.manifesttimeout", defaultPlayerManifestTimeout)
	v.SetDefault("player.syncinterval", defaultPlayerSyncInterval)
	v.SetDefault("player.resumeseektimeout", defaultPlayerResumeSeekTimeout)
	v.SetDefault("player.bufferprofile", defaultPlayerBufferProfile)
	v.SetDefault("player.standalonesurface", defaultPlayerStandaloneSurface)

	v.SetDefault("download.dir", defaultDownloadDir)

	v.SetDefault("logging.level", defaultLogLevel)
	v.SetDefault("logging.pretty", defaultLogPretty)
}

// Validate checks that configuration values are valid
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d (must be between 1 and 65535)", c.Server.Port)
	}
	if c.Server.ReadTimeout <= 0 {
		return fmt.Errorf("invalid read timeout: %v (must be > 0)", c.Server.ReadTimeout)
	}
	if c.Server.WriteTimeout <= 0 {
		return fmt.Errorf("invalid write timeout: %v (must be > 0)", c.Server.WriteTimeout)
	}

	for _, u := range []string{c.Backend.BaseURL, c.Backend.StreamBaseURL} {
		parsed, err := url.Parse(u)
		if err != nil || parsed.Scheme == "" || parsed.Host == "" {
			return fmt.Errorf("invalid backend URL: %q", u)
		}
	}
	if c.Backend.RequestTimeout <= 0 {
		return fmt.Errorf("invalid backend request timeout: %v (must be > 0)", c.Backend.RequestTimeout)
	}

	if c.Store.ConnectionTimeout <= 0 {
		return fmt.Errorf("invalid store connection timeout: %v (must be > 0)", c.Store.ConnectionTimeout)
	}

	if c.Player.RetryBudget < 1 {
		return fmt.Errorf("invalid retry budget: %d (must be >= 1)", c.Player.RetryBudget)
	}
	if c.Player.ManifestTimeout <= 0 {
		return fmt.Errorf("invalid manifest timeout: %v (must be > 0)", c.Player.ManifestTimeout)
	}
	if c.Player.SyncInterval <= 0 {
		return fmt.Errorf("invalid sync interval: %v (must be > 0)", c.Player.SyncInterval)
	}
	if c.Player.ResumeSeekTimeout <= 0 {
		return fmt.Errorf("invalid resume seek timeout: %v (must be > 0)", c.Player.ResumeSeekTimeout)
	}

	validProfiles := []string{"standard", "extended"}
	if !contains(validProfiles, c.Player.BufferProfile) {
		return fmt.Errorf("invalid buffer profile: %s (must be one of: %s)", c.Player.BufferProfile, strings.Join(validProfiles, ", "))
	}

	validLevels := []string{"debug", "info", "warn", "error"}
	if !contains(validLevels, c.Logging.Level) {
		return fmt.Errorf("invalid log level: %s (must be one of: %s)", c.Logging.Level, strings.Join(validLevels, ", "))
	}

	return nil
}

// contains checks if a string slice contains a specific value
func contains(slice []string, item string) bool {
	for _, s := range slice {
		if s == item {
			return true
		}
	}
	return false
}
