package config

import (
	"time"
)

const (
	defaultBaseURL    = "http://127.0.0.1:8088"
	defaultStreamPath = "/api/v1/stream"
)

// DefaultCategories is the set of push categories a dashboard subscribes to.
var DefaultCategories = []string{"status", "endpoint", "group", "connection", "log", "chart"}

// Config represents the main configuration structure
type Config struct {
	BaseURL        string        `json:"base_url" mapstructure:"base-url"`
	DataDir        string        `json:"data_dir" mapstructure:"data-dir"`
	RequestTimeout time.Duration `json:"request_timeout" mapstructure:"request-timeout"`

	Stream *StreamConfig `json:"stream,omitempty" mapstructure:"stream"`

	// Polling cadences
	FallbackPollInterval time.Duration `json:"fallback_poll_interval" mapstructure:"fallback-poll-interval"`
	ConfirmDelay         time.Duration `json:"confirm_delay" mapstructure:"confirm-delay"`
	RefreshInterval      time.Duration `json:"refresh_interval" mapstructure:"refresh-interval"`
	ChartRefreshInterval time.Duration `json:"chart_refresh_interval" mapstructure:"chart-refresh-interval"`

	// MetricsListen exposes Prometheus metrics when non-empty (e.g. "127.0.0.1:9108")
	MetricsListen string `json:"metrics_listen,omitempty" mapstructure:"metrics-listen"`

	// Tracing exports OpenTelemetry spans when enabled
	Tracing *TracingConfig `json:"tracing,omitempty" mapstructure:"tracing"`

	// Logging configuration
	Logging *LogConfig `json:"logging,omitempty" mapstructure:"logging"`
}

// TracingConfig configures OTLP span export.
type TracingConfig struct {
	Enabled      bool    `json:"enabled" mapstructure:"enabled"`
	OTLPEndpoint string  `json:"otlp_endpoint" mapstructure:"otlp-endpoint"`
	SampleRate   float64 `json:"sample_rate" mapstructure:"sample-rate"`
}

// StreamConfig configures the push channel.
type StreamConfig struct {
	Path                 string        `json:"path" mapstructure:"path"`
	Categories           []string      `json:"categories" mapstructure:"categories"`
	MaxReconnectAttempts int           `json:"max_reconnect_attempts" mapstructure:"max-reconnect-attempts"`
	ReconnectDelay       time.Duration `json:"reconnect_delay" mapstructure:"reconnect-delay"`
}

// LogConfig represents logging configuration
type LogConfig struct {
	Level         string `json:"level" mapstructure:"level"`
	EnableFile    bool   `json:"enable_file" mapstructure:"enable-file"`
	EnableConsole bool   `json:"enable_console" mapstructure:"enable-console"`
	Filename      string `json:"filename" mapstructure:"filename"`
	LogDir        string `json:"log_dir,omitempty" mapstructure:"log-dir"` // Custom log directory
	MaxSize       int    `json:"max_size" mapstructure:"max-size"`         // MB
	MaxBackups    int    `json:"max_backups" mapstructure:"max-backups"`   // number of backup files
	MaxAge        int    `json:"max_age" mapstructure:"max-age"`           // days
	Compress      bool   `json:"compress" mapstructure:"compress"`
	JSONFormat    bool   `json:"json_format" mapstructure:"json-format"`
}

// DefaultStreamConfig returns the push channel defaults.
func DefaultStreamConfig() *StreamConfig {
	categories := make([]string, len(DefaultCategories))
	copy(categories, DefaultCategories)
	return &StreamConfig{
		Path:                 defaultStreamPath,
		Categories:           categories,
		MaxReconnectAttempts: 5,
		ReconnectDelay:       3 * time.Second,
	}
}

// DefaultConfig returns default configuration
func DefaultConfig() *Config {
	return &Config{
		BaseURL:        defaultBaseURL,
		DataDir:        "", // Will be set to ~/.dashsync by loader
		RequestTimeout: 30 * time.Second,

		Stream: DefaultStreamConfig(),

		FallbackPollInterval: 15 * time.Second,
		ConfirmDelay:         500 * time.Millisecond,
		RefreshInterval:      0, // auto refresh off
		ChartRefreshInterval: 30 * time.Second,

		Tracing: &TracingConfig{
			Enabled:      false,
			OTLPEndpoint: "localhost:4318",
			SampleRate:   1.0,
		},

		// Default logging configuration
		Logging: &LogConfig{
			Level:         "info",
			EnableFile:    false,
			EnableConsole: true,
			Filename:      "dashsync.log",
			MaxSize:       10, // 10MB
			MaxBackups:    5,  // 5 backup files
			MaxAge:        30, // 30 days
			Compress:      true,
			JSONFormat:    false, // Use console format for readability
		},
	}
}
