package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the application's configuration model.
// It captures the account, credentials, storage, and the rate limits the campaign honors.
type Config struct {
	Account     AccountConfig     `yaml:"account"`
	Credentials CredentialsConfig `yaml:"credentials"`
	Storage     StorageConfig     `yaml:"storage"`
	Ingest      IngestConfig      `yaml:"ingest"`
	Limits      LimitsConfig      `yaml:"limits"`
	Campaign    CampaignConfig    `yaml:"campaign"`
	Server      ServerConfig      `yaml:"server"`
	Metrics     MetricsConfig     `yaml:"metrics"`
	Logging     LoggingConfig     `yaml:"logging"`
}

type AccountConfig struct {
	// Numeric user id of the followee. Resolved from Username when empty.
	ID       string `yaml:"id"`
	Username string `yaml:"username"`
}

type CredentialsConfig struct {
	// App-only bearer token, used for reads when no user tokens are present. Env X_BEARER_TOKEN
	BearerToken string `yaml:"bearerToken"`
	// OAuth1.0a user context, required for direct messages
	ConsumerKey    string `yaml:"consumerKey"`
	ConsumerSecret string `yaml:"consumerSecret"`
	AccessToken    string `yaml:"accessToken"`
	AccessSecret   string `yaml:"accessSecret"`
}

type StorageConfig struct {
	// Driver is "sqlite" or "file".
	Driver string `yaml:"driver"`
	DBPath string `yaml:"dbPath"`
}

type IngestConfig struct {
	PageSize    int `yaml:"pageSize"`    // follower ids per page, max 5000
	LookupBatch int `yaml:"lookupBatch"` // profiles per lookup, max 100
	// RefreshHours rebuilds the cache on this interval while serving; 0 disables.
	RefreshHours int `yaml:"refreshHours"`
}

// RefreshInterval returns the periodic rebuild interval, 0 when disabled.
func (i IngestConfig) RefreshInterval() time.Duration {
	return time.Duration(i.RefreshHours) * time.Hour
}

type LimitsConfig struct {
	// Remote message ceiling per rolling window
	MessageCeiling int `yaml:"messageCeiling"`
	WindowHours    int `yaml:"windowHours"`
	// Fixed back-off after a remote failure
	BackoffSeconds int `yaml:"backoffSeconds"`
}

type CampaignConfig struct {
	PageSize int `yaml:"pageSize"` // candidates pulled per query page
}

type ServerConfig struct {
	Addr string `yaml:"addr"`
}

type MetricsConfig struct {
	Addr string `yaml:"addr"`
}

type LoggingConfig struct {
	Level string `yaml:"level"` // debug, info, warn, error
	// File enables rotation through lumberjack; stdout when empty.
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"maxSizeMB"`
	MaxBackups int    `yaml:"maxBackups"`
}

// Window returns the rolling rate-limit window.
func (l LimitsConfig) Window() time.Duration { return time.Duration(l.WindowHours) * time.Hour }

// Backoff returns the fixed retry delay.
func (l LimitsConfig) Backoff() time.Duration { return time.Duration(l.BackoffSeconds) * time.Second }

// Default returns a sensible default configuration.
func Default() Config {
	return Config{
		Account:     AccountConfig{},
		Credentials: CredentialsConfig{},
		Storage:     StorageConfig{Driver: "sqlite", DBPath: "./followcast.db"},
		Ingest:      IngestConfig{PageSize: 5000, LookupBatch: 100},
		Limits:      LimitsConfig{MessageCeiling: 1000, WindowHours: 24, BackoffSeconds: 60},
		Campaign:    CampaignConfig{PageSize: 100},
		Server:      ServerConfig{Addr: "127.0.0.1:8680"},
		Metrics:     MetricsConfig{Addr: ""},
		Logging:     LoggingConfig{Level: "info", MaxSizeMB: 50, MaxBackups: 3},
	}
}

// ResolveEnv fills in config fields from environment variables if not set.
func (c *Config) ResolveEnv() {
	if c.Credentials.BearerToken == "" {
		c.Credentials.BearerToken = os.Getenv("X_BEARER_TOKEN")
	}
	if c.Credentials.ConsumerKey == "" {
		c.Credentials.ConsumerKey = os.Getenv("X_CONSUMER_KEY")
	}
	if c.Credentials.ConsumerSecret == "" {
		c.Credentials.ConsumerSecret = os.Getenv("X_CONSUMER_SECRET")
	}
	if c.Credentials.AccessToken == "" {
		c.Credentials.AccessToken = os.Getenv("X_ACCESS_TOKEN")
	}
	if c.Credentials.AccessSecret == "" {
		c.Credentials.AccessSecret = os.Getenv("X_ACCESS_SECRET")
	}
	if v := os.Getenv("FOLLOWCAST_DB"); v != "" {
		c.Storage.DBPath = v
	}
	if c.Metrics.Addr == "" {
		c.Metrics.Addr = os.Getenv("METRICS_ADDR")
	}
	if v := os.Getenv("FOLLOWCAST_MESSAGE_CEILING"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.Limits.MessageCeiling = n
		}
	}
}

// Validate rejects limits the scheduler cannot work with.
func (c Config) Validate() error {
	if c.Limits.MessageCeiling <= 0 {
		return fmt.Errorf("limits.messageCeiling must be positive, got %d", c.Limits.MessageCeiling)
	}
	if c.Limits.WindowHours <= 0 {
		return fmt.Errorf("limits.windowHours must be positive, got %d", c.Limits.WindowHours)
	}
	if c.Limits.BackoffSeconds < 0 {
		return fmt.Errorf("limits.backoffSeconds must not be negative")
	}
	if c.Ingest.PageSize <= 0 || c.Ingest.PageSize > 5000 {
		return fmt.Errorf("ingest.pageSize must be in 1..5000, got %d", c.Ingest.PageSize)
	}
	if c.Ingest.LookupBatch <= 0 || c.Ingest.LookupBatch > 100 {
		return fmt.Errorf("ingest.lookupBatch must be in 1..100, got %d", c.Ingest.LookupBatch)
	}
	if c.Ingest.RefreshHours < 0 {
		return fmt.Errorf("ingest.refreshHours must not be negative")
	}
	if c.Campaign.PageSize <= 0 {
		return fmt.Errorf("campaign.pageSize must be positive")
	}
	switch c.Storage.Driver {
	case "sqlite", "file":
	default:
		return fmt.Errorf("storage.driver must be sqlite or file, got %q", c.Storage.Driver)
	}
	return nil
}

// Load reads YAML config from path. Missing fields keep their defaults.
func Load(path string) (Config, error) {
	cfg := Default()
	b, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return cfg, err
	}
	cfg.ResolveEnv()
	return cfg, cfg.Validate()
}

// Save writes YAML config to path, creating directories as needed.
func Save(path string, cfg Config) error {
	if path == "" {
		return errors.New("empty path")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	b, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, b, 0o600)
}
