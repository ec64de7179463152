package config

import (
	"time"
)

// Default configuration values
const (
	DefaultRPCURL         = "http://127.0.0.1:8116"
	DefaultChainTimeout   = 10 * time.Second
	DefaultCancelGrace    = 5 * time.Second
	DefaultLockStripes    = 64
	DefaultPollInterval   = 3 * time.Second
	DefaultBatchSize      = 500
	DefaultPageSize       = 100
	DefaultRetryBase      = 200 * time.Millisecond
	DefaultRetryCap       = 30 * time.Second
	DefaultWebhookTimeout = 5 * time.Second
	DefaultAPIHost        = "0.0.0.0"
	DefaultAPIPort        = 8120
	DefaultMetricsPath    = "/metrics"
	DefaultLogLevel       = "info"
	DefaultLogFormat      = "json"
	DefaultTimeFormatLogs = "iso8601"
	DefaultLogMaxSizeMB   = 100
	DefaultLogMaxBackups  = 5
	DefaultLogMaxAgeDays  = 30
	MinPollInterval       = 100 * time.Millisecond
	EnvPrefix             = "EMITTER"
)

// Config holds all configuration for the emitter
type Config struct {
	Chain   ChainConfig   `mapstructure:"chain"`
	Emitter EmitterConfig `mapstructure:"emitter"`
	Watcher WatcherConfig `mapstructure:"watcher"`
	API     APIConfig     `mapstructure:"api"`
	Metrics MetricsConfig `mapstructure:"metrics"`
	Log     LogConfig     `mapstructure:"log"`
}

// ChainConfig locates the chain-data service
type ChainConfig struct {
	RPCURL  string        `mapstructure:"rpc_url"`
	Timeout time.Duration `mapstructure:"timeout"`

	// Mock replaces the RPC client with an in-memory chain at MockTip.
	Mock    bool   `mapstructure:"mock"`
	MockTip uint64 `mapstructure:"mock_tip"`
}

// EmitterConfig tunes the registration service
type EmitterConfig struct {
	CancelGrace time.Duration `mapstructure:"cancel_grace"`
	LockStripes int           `mapstructure:"lock_stripes"`
}

// WatcherConfig tunes the per-key scanners
type WatcherConfig struct {
	PollInterval time.Duration `mapstructure:"poll_interval"`
	BatchSize    uint64        `mapstructure:"batch_size"`
	PageSize     uint64        `mapstructure:"page_size"`
	RetryBase    time.Duration `mapstructure:"retry_base"`
	RetryCap     time.Duration `mapstructure:"retry_cap"`

	// WebhookURL, when set, receives every batch of matched transactions.
	WebhookURL     string        `mapstructure:"webhook_url"`
	WebhookTimeout time.Duration `mapstructure:"webhook_timeout"`
}

// APIConfig controls the RPC/HTTP server
type APIConfig struct {
	Host        string   `mapstructure:"host"`
	Port        int      `mapstructure:"port"`
	CORSOrigins []string `mapstructure:"cors_origins"`
	JWTSecret   string   `mapstructure:"jwt_secret"`
	Debug       bool     `mapstructure:"debug"`
}

// MetricsConfig controls the Prometheus endpoint
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
}

// LogConfig controls the logger
type LogConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	Color      bool   `mapstructure:"color"`
	TimeFormat string `mapstructure:"time_format"`
	File       string `mapstructure:"file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
}

// DefaultConfig returns a Config with default values
func DefaultConfig() *Config {
	return &Config{
		Chain: ChainConfig{
			RPCURL:  DefaultRPCURL,
			Timeout: DefaultChainTimeout,
		},
		Emitter: EmitterConfig{
			CancelGrace: DefaultCancelGrace,
			LockStripes: DefaultLockStripes,
		},
		Watcher: WatcherConfig{
			PollInterval:   DefaultPollInterval,
			BatchSize:      DefaultBatchSize,
			PageSize:       DefaultPageSize,
			RetryBase:      DefaultRetryBase,
			RetryCap:       DefaultRetryCap,
			WebhookTimeout: DefaultWebhookTimeout,
		},
		API: APIConfig{
			Host:        DefaultAPIHost,
			Port:        DefaultAPIPort,
			CORSOrigins: []string{"*"},
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Path:    DefaultMetricsPath,
		},
		Log: LogConfig{
			Level:      DefaultLogLevel,
			Format:     DefaultLogFormat,
			TimeFormat: DefaultTimeFormatLogs,
			MaxSizeMB:  DefaultLogMaxSizeMB,
			MaxBackups: DefaultLogMaxBackups,
			MaxAgeDays: DefaultLogMaxAgeDays,
		},
	}
}

// Settings returns the configuration as nested sections keyed by the
// file/env names. Durations are rendered as strings ("5s").
func (c *Config) Settings() map[string]map[string]interface{} {
	origins := append([]string{}, c.API.CORSOrigins...)

	return map[string]map[string]interface{}{
		"chain": {
			"rpc_url":  c.Chain.RPCURL,
			"timeout":  c.Chain.Timeout.String(),
			"mock":     c.Chain.Mock,
			"mock_tip": c.Chain.MockTip,
		},
		"emitter": {
			"cancel_grace": c.Emitter.CancelGrace.String(),
			"lock_stripes": c.Emitter.LockStripes,
		},
		"watcher": {
			"poll_interval":   c.Watcher.PollInterval.String(),
			"batch_size":      c.Watcher.BatchSize,
			"page_size":       c.Watcher.PageSize,
			"retry_base":      c.Watcher.RetryBase.String(),
			"retry_cap":       c.Watcher.RetryCap.String(),
			"webhook_url":     c.Watcher.WebhookURL,
			"webhook_timeout": c.Watcher.WebhookTimeout.String(),
		},
		"api": {
			"host":         c.API.Host,
			"port":         c.API.Port,
			"cors_origins": origins,
			"jwt_secret":   c.API.JWTSecret,
			"debug":        c.API.Debug,
		},
		"metrics": {
			"enabled": c.Metrics.Enabled,
			"path":    c.Metrics.Path,
		},
		"log": {
			"level":        c.Log.Level,
			"format":       c.Log.Format,
			"color":        c.Log.Color,
			"time_format":  c.Log.TimeFormat,
			"file":         c.Log.File,
			"max_size_mb":  c.Log.MaxSizeMB,
			"max_backups":  c.Log.MaxBackups,
			"max_age_days": c.Log.MaxAgeDays,
		},
	}
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	return NewValidator().Validate(c)
}
