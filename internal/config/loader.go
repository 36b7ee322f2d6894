package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

const (
	DefaultDataDir = ".dashsync"
	ConfigFileName = "dashsync.yaml"
	EnvPrefix      = "DASHSYNC"
)

// Load loads configuration from file, environment, and defaults.
// An empty configPath searches the working directory and ~/.dashsync.
func Load(configPath string) (*Config, error) {
	return LoadWithOverrides(configPath, nil)
}

// LoadWithOverrides is Load with explicit key values (command line flags)
// taking precedence over file and environment.
func LoadWithOverrides(configPath string, overrides map[string]interface{}) (*Config, error) {
	v := viper.New()
	setupViper(v)

	if configPath != "" {
		if err := readConfigFile(v, configPath); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", configPath, err)
		}
	} else if path, found := findConfigFile(); found {
		if err := readConfigFile(v, path); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", path, err)
		}
	}

	for key, value := range overrides {
		v.Set(key, value)
	}

	cfg := DefaultConfig()
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := ensureDataDir(cfg); err != nil {
		return nil, err
	}

	// Validate configuration
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// setupViper configures viper with environment variable handling
func setupViper(v *viper.Viper) {
	v.SetEnvPrefix(EnvPrefix)
	v.AutomaticEnv()

	// DASHSYNC_STREAM_RECONNECT_DELAY -> stream.reconnect-delay
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))

	// Defaults have to be registered for AutomaticEnv to reach them during Unmarshal
	def := DefaultConfig()
	v.SetDefault("base-url", def.BaseURL)
	v.SetDefault("data-dir", def.DataDir)
	v.SetDefault("request-timeout", def.RequestTimeout)
	v.SetDefault("fallback-poll-interval", def.FallbackPollInterval)
	v.SetDefault("confirm-delay", def.ConfirmDelay)
	v.SetDefault("refresh-interval", def.RefreshInterval)
	v.SetDefault("chart-refresh-interval", def.ChartRefreshInterval)
	v.SetDefault("metrics-listen", def.MetricsListen)

	v.SetDefault("stream.path", def.Stream.Path)
	v.SetDefault("stream.categories", def.Stream.Categories)
	v.SetDefault("stream.max-reconnect-attempts", def.Stream.MaxReconnectAttempts)
	v.SetDefault("stream.reconnect-delay", def.Stream.ReconnectDelay)

	v.SetDefault("tracing.enabled", def.Tracing.Enabled)
	v.SetDefault("tracing.otlp-endpoint", def.Tracing.OTLPEndpoint)
	v.SetDefault("tracing.sample-rate", def.Tracing.SampleRate)

	v.SetDefault("logging.level", def.Logging.Level)
	v.SetDefault("logging.enable-file", def.Logging.EnableFile)
	v.SetDefault("logging.enable-console", def.Logging.EnableConsole)
	v.SetDefault("logging.filename", def.Logging.Filename)
	v.SetDefault("logging.log-dir", def.Logging.LogDir)
	v.SetDefault("logging.max-size", def.Logging.MaxSize)
	v.SetDefault("logging.max-backups", def.Logging.MaxBackups)
	v.SetDefault("logging.max-age", def.Logging.MaxAge)
	v.SetDefault("logging.compress", def.Logging.Compress)
	v.SetDefault("logging.json-format", def.Logging.JSONFormat)
}

// findConfigFile tries to find config file in common locations
func findConfigFile() (string, bool) {
	locations := []string{
		ConfigFileName,
	}

	// Add home directory location
	if homeDir, err := os.UserHomeDir(); err == nil {
		locations = append(locations, filepath.Join(homeDir, DefaultDataDir, ConfigFileName))
	}

	for _, location := range locations {
		if _, err := os.Stat(location); err == nil {
			return location, true
		}
	}
	return "", false
}

// readConfigFile loads a yaml or json configuration file into viper
func readConfigFile(v *viper.Viper, path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	// Empty file (including /dev/null) is treated as no configuration
	if info.Size() == 0 {
		return nil
	}

	v.SetConfigFile(path)
	if ext := strings.TrimPrefix(filepath.Ext(path), "."); ext == "" {
		v.SetConfigType("yaml")
	}
	if err := v.ReadInConfig(); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}
	return nil
}

func ensureDataDir(cfg *Config) error {
	// Set data directory if not specified
	if cfg.DataDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return fmt.Errorf("failed to get user home directory: %w", err)
		}
		cfg.DataDir = filepath.Join(homeDir, DefaultDataDir)
	}

	// Create data directory if it doesn't exist
	if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
		return fmt.Errorf("failed to create data directory %s: %w", cfg.DataDir, err)
	}
	return nil
}
