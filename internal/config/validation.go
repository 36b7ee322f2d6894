package config

import (
	"fmt"
	"net/url"
	"strings"
)

// Validate checks the configuration and fills in nested defaults that were left nil.
func (c *Config) Validate() error {
	if c.BaseURL == "" {
		return fmt.Errorf("base-url is required")
	}
	u, err := url.Parse(c.BaseURL)
	if err != nil {
		return fmt.Errorf("invalid base-url %q: %w", c.BaseURL, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("base-url must use http or https, got %q", u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("base-url %q has no host", c.BaseURL)
	}

	if c.RequestTimeout <= 0 {
		return fmt.Errorf("request-timeout must be positive, got %s", c.RequestTimeout)
	}
	if c.FallbackPollInterval <= 0 {
		return fmt.Errorf("fallback-poll-interval must be positive, got %s", c.FallbackPollInterval)
	}
	if c.ConfirmDelay < 0 {
		return fmt.Errorf("confirm-delay cannot be negative, got %s", c.ConfirmDelay)
	}
	if c.RefreshInterval < 0 {
		return fmt.Errorf("refresh-interval cannot be negative, got %s", c.RefreshInterval)
	}
	if c.ChartRefreshInterval < 0 {
		return fmt.Errorf("chart-refresh-interval cannot be negative, got %s", c.ChartRefreshInterval)
	}

	if c.Stream == nil {
		c.Stream = DefaultStreamConfig()
	}
	if err := c.Stream.Validate(); err != nil {
		return fmt.Errorf("stream: %w", err)
	}

	if c.Tracing == nil {
		c.Tracing = DefaultConfig().Tracing
	}
	if c.Tracing.Enabled {
		if c.Tracing.OTLPEndpoint == "" {
			return fmt.Errorf("tracing: otlp-endpoint is required when tracing is enabled")
		}
		if c.Tracing.SampleRate < 0 || c.Tracing.SampleRate > 1 {
			return fmt.Errorf("tracing: sample-rate must be between 0 and 1, got %v", c.Tracing.SampleRate)
		}
	}

	if c.Logging == nil {
		c.Logging = DefaultConfig().Logging
	}
	return nil
}

// Validate checks the push channel settings.
func (s *StreamConfig) Validate() error {
	if !strings.HasPrefix(s.Path, "/") {
		return fmt.Errorf("path must start with '/', got %q", s.Path)
	}
	if s.MaxReconnectAttempts < 0 {
		return fmt.Errorf("max-reconnect-attempts cannot be negative, got %d", s.MaxReconnectAttempts)
	}
	if s.ReconnectDelay <= 0 {
		return fmt.Errorf("reconnect-delay must be positive, got %s", s.ReconnectDelay)
	}

	categories := make([]string, 0, len(s.Categories))
	seen := make(map[string]bool, len(s.Categories))
	for _, raw := range s.Categories {
		category := strings.TrimSpace(raw)
		if category == "" || seen[category] {
			continue
		}
		if strings.ContainsAny(category, ", ") {
			return fmt.Errorf("invalid category %q", raw)
		}
		seen[category] = true
		categories = append(categories, category)
	}
	if len(categories) == 0 {
		return fmt.Errorf("at least one category is required")
	}
	s.Categories = categories
	return nil
}
