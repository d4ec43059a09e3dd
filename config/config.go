package config

import (
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Kryptometer KryptometerConfig `yaml:"kryptometer"`
	Logging     LoggingConfig     `yaml:"logging"`
	Channels    ChannelsConfig    `yaml:"channels"`
	Watchlist   WatchlistConfig   `yaml:"watchlist"`
	Snapshot    SnapshotConfig    `yaml:"snapshot"`
	Feed        FeedConfig        `yaml:"feed"`
	Alerts      AlertsConfig      `yaml:"alerts"`
	Store       StoreConfig       `yaml:"store"`
	History     HistoryConfig     `yaml:"history"`
	Dashboard   DashboardConfig   `yaml:"dashboard"`
	Metrics     MetricsConfig     `yaml:"metrics"`
}

type KryptometerConfig struct {
	Name    string `yaml:"name"`
	Version string `yaml:"version"`
}

type LoggingConfig struct {
	Level      string           `yaml:"level"`
	Format     string           `yaml:"format"`
	Output     string           `yaml:"output"`
	MaxAge     int              `yaml:"max_age"`
	CloudWatch CloudWatchConfig `yaml:"cloudwatch"`
}

type CloudWatchConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Region    string `yaml:"region"`
	Namespace string `yaml:"namespace"`
}

type ChannelsConfig struct {
	TickBuffer     int `yaml:"tick_buffer"`
	SnapshotBuffer int `yaml:"snapshot_buffer"`
	HistoryBuffer  int `yaml:"history_buffer"`
}

type WatchlistConfig struct {
	// Symbols seeds the watchlist on first start, before anything has been
	// persisted to the store.
	Symbols []string `yaml:"symbols"`
}

type SnapshotConfig struct {
	URL     string        `yaml:"url"`
	Timeout time.Duration `yaml:"timeout"`
}

type FeedConfig struct {
	URL string `yaml:"url"`

	// RequestsPerMinute is the documented ceiling for outbound price queries
	// on a single websocket connection. Requests are throttled so that
	// consecutive sends are at least one minute divided by this value apart.
	RequestsPerMinute int `yaml:"requests_per_minute"`

	ReconnectAttempts int           `yaml:"reconnect_attempts"`
	ReconnectInterval time.Duration `yaml:"reconnect_interval"`
	HandshakeTimeout  time.Duration `yaml:"handshake_timeout"`
	WriteTimeout      time.Duration `yaml:"write_timeout"`
}

type AlertsConfig struct {
	// WebhookURL, when set, receives a JSON POST for every freshly
	// triggered alert. Delivery is best-effort.
	WebhookURL string        `yaml:"webhook_url"`
	Timeout    time.Duration `yaml:"timeout"`
}

type StoreConfig struct {
	Directory string `yaml:"directory"`
}

type HistoryConfig struct {
	Enabled       bool            `yaml:"enabled"`
	Directory     string          `yaml:"directory"`
	FlushInterval time.Duration   `yaml:"flush_interval"`
	S3            S3ArchiveConfig `yaml:"s3"`
}

type S3ArchiveConfig struct {
	Enabled         bool   `yaml:"enabled"`
	Bucket          string `yaml:"bucket"`
	Region          string `yaml:"region"`
	Endpoint        string `yaml:"endpoint"`
	PathStyle       bool   `yaml:"path_style"`
	Prefix          string `yaml:"prefix"`
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
}

type DashboardConfig struct {
	Enabled         bool          `yaml:"enabled"`
	Address         string        `yaml:"address"`
	RefreshInterval time.Duration `yaml:"refresh_interval"`
	LogHistory      int           `yaml:"log_history"`
	ResourceHistory int           `yaml:"resource_history"`
}

type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Address string `yaml:"address"`
}

// DefaultSymbols is the watchlist used when neither the store nor the config
// file provides one.
var DefaultSymbols = []string{"BTCUSDT", "ETHUSDT", "BNBUSDT", "ADAUSDT", "MBLUSDT"}

const defaultConfigPath = "config/config.yml"

// envConfigPaths maps application environments to their configuration
// files. The environment specific file is only used when it exists.
var envConfigPaths = map[string]string{
	environmentProduction: "config/config.production.yml",
	environmentStaging:    "config/config.staging.yml",
}

func LoadConfig(path string) (*Config, error) {
	if resolved := resolveEnvSpecificPath(path, defaultConfigPath, envConfigPaths); resolved != path {
		if _, err := os.Stat(resolved); err == nil {
			path = resolved
		}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := Config{}
	applyDefaults(&config)

	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	// Override S3 settings from environment variables if available
	if config.History.S3.Enabled {
		if v := os.Getenv("AWS_ACCESS_KEY_ID"); v != "" {
			config.History.S3.AccessKeyID = strings.TrimSpace(v)
		}
		if v := os.Getenv("AWS_SECRET_ACCESS_KEY"); v != "" {
			config.History.S3.SecretAccessKey = strings.TrimSpace(v)
		}
		if v := os.Getenv("AWS_REGION"); v != "" {
			config.History.S3.Region = strings.TrimSpace(v)
		}
		if v := os.Getenv("S3_BUCKET"); v != "" {
			config.History.S3.Bucket = strings.TrimSpace(v)
		}
	}
	config.History.S3.Bucket = strings.TrimSpace(config.History.S3.Bucket)

	if err := validateConfig(&config); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &config, nil
}

func applyDefaults(cfg *Config) {
	cfg.Channels = ChannelsConfig{
		TickBuffer:     256,
		SnapshotBuffer: 4,
		HistoryBuffer:  1024,
	}
	cfg.Snapshot = SnapshotConfig{
		URL:     "https://api.binance.com",
		Timeout: 10 * time.Second,
	}
	cfg.Feed = FeedConfig{
		URL:               "wss://ws-api.binance.com:443/ws-api/v3",
		RequestsPerMinute: 60,
		ReconnectAttempts: 10,
		ReconnectInterval: 3 * time.Second,
		HandshakeTimeout:  10 * time.Second,
		WriteTimeout:      5 * time.Second,
	}
	cfg.Alerts = AlertsConfig{
		Timeout: 5 * time.Second,
	}
	cfg.Store = StoreConfig{
		Directory: "data/store",
	}
	cfg.History = HistoryConfig{
		Directory:     "data/history",
		FlushInterval: time.Minute,
	}
	cfg.Dashboard = DashboardConfig{
		Address:         "0.0.0.0:8080",
		RefreshInterval: 5 * time.Second,
		LogHistory:      200,
		ResourceHistory: 200,
	}
	cfg.Metrics = MetricsConfig{
		Address: "0.0.0.0:2112",
	}
}

func validateConfig(cfg *Config) error {
	if cfg.Kryptometer.Name == "" {
		return fmt.Errorf("kryptometer.name is required")
	}

	if cfg.Kryptometer.Version == "" {
		return fmt.Errorf("kryptometer.version is required")
	}

	if cfg.Channels.TickBuffer <= 0 {
		return fmt.Errorf("channels.tick_buffer must be greater than 0")
	}
	if cfg.Channels.SnapshotBuffer <= 0 {
		return fmt.Errorf("channels.snapshot_buffer must be greater than 0")
	}
	if cfg.Channels.HistoryBuffer <= 0 {
		return fmt.Errorf("channels.history_buffer must be greater than 0")
	}

	if cfg.Snapshot.URL == "" {
		return fmt.Errorf("snapshot.url is required")
	}
	if cfg.Snapshot.Timeout <= 0 {
		return fmt.Errorf("snapshot.timeout must be greater than 0")
	}

	if cfg.Feed.URL == "" {
		return fmt.Errorf("feed.url is required")
	}
	if cfg.Feed.RequestsPerMinute <= 0 {
		return fmt.Errorf("feed.requests_per_minute must be greater than 0")
	}
	if cfg.Feed.ReconnectAttempts <= 0 {
		return fmt.Errorf("feed.reconnect_attempts must be greater than 0")
	}
	if cfg.Feed.ReconnectInterval <= 0 {
		return fmt.Errorf("feed.reconnect_interval must be greater than 0")
	}

	if cfg.Store.Directory == "" {
		return fmt.Errorf("store.directory is required")
	}

	if cfg.History.Enabled {
		if cfg.History.Directory == "" {
			return fmt.Errorf("history.directory is required when history is enabled")
		}
		if cfg.History.FlushInterval <= 0 {
			return fmt.Errorf("history.flush_interval must be greater than 0")
		}
	}

	if cfg.History.S3.Enabled {
		if cfg.History.S3.Bucket == "" {
			return fmt.Errorf("history.s3.bucket is required when S3 archival is enabled")
		}
		if cfg.History.S3.Region == "" {
			return fmt.Errorf("history.s3.region is required when S3 archival is enabled")
		}
		if cfg.History.S3.AccessKeyID == "" || cfg.History.S3.SecretAccessKey == "" {
			return fmt.Errorf("history.s3.access_key_id and history.s3.secret_access_key are required when S3 archival is enabled")
		}
		if !isValidS3Bucket(cfg.History.S3.Bucket) {
			return fmt.Errorf("history.s3.bucket '%s' is invalid", cfg.History.S3.Bucket)
		}
	}

	return nil
}

var s3BucketRegexp = regexp.MustCompile(`^[a-z0-9][a-z0-9.-]{1,61}[a-z0-9]$`)

func isValidS3Bucket(name string) bool {
	if len(name) < 3 || len(name) > 63 {
		return false
	}
	if strings.Contains(name, "..") || strings.HasPrefix(name, ".") || strings.HasSuffix(name, ".") {
		return false
	}
	return s3BucketRegexp.MatchString(name)
}
