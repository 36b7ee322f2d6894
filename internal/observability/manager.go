package observability

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"go.uber.org/zap"
)

// Load result labels
const (
	StatusSuccess = "success"
	StatusError   = "error"
)

// Config holds configuration for observability features
type Config struct {
	Health  HealthConfig  `json:"health"`
	Metrics MetricsConfig `json:"metrics"`
	Tracing TracingConfig `json:"tracing"`
}

// HealthConfig holds configuration for health checks
type HealthConfig struct {
	Enabled bool          `json:"enabled"`
	Timeout time.Duration `json:"timeout"`
}

// MetricsConfig holds configuration for metrics
type MetricsConfig struct {
	Enabled bool `json:"enabled"`
}

// DefaultConfig returns a default observability configuration
func DefaultConfig() Config {
	return Config{
		Health: HealthConfig{
			Enabled: true,
			Timeout: 5 * time.Second,
		},
		Metrics: MetricsConfig{
			Enabled: true,
		},
		Tracing: TracingConfig{
			Enabled:      false, // Disabled by default
			ServiceName:  "dashsync",
			OTLPEndpoint: "localhost:4318",
			SampleRate:   1.0,
		},
	}
}

// Manager coordinates health checks, metrics and tracing
type Manager struct {
	logger  *zap.SugaredLogger
	health  *HealthManager
	metrics *MetricsManager
	tracing *TracingManager

	startTime time.Time
}

// NewManager creates a new observability manager
func NewManager(logger *zap.SugaredLogger, config Config) (*Manager, error) {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	manager := &Manager{
		logger:    logger,
		startTime: time.Now(),
	}

	if config.Health.Enabled {
		manager.health = NewHealthManager(logger)
		if config.Health.Timeout > 0 {
			manager.health.SetTimeout(config.Health.Timeout)
		}
	}
	if config.Metrics.Enabled {
		manager.metrics = NewMetricsManager(logger)
	}
	if config.Tracing.Enabled {
		var err error
		manager.tracing, err = NewTracingManager(logger, config.Tracing)
		if err != nil {
			return nil, err
		}
	}
	return manager, nil
}

// Health returns the health manager
func (m *Manager) Health() *HealthManager {
	return m.health
}

// Metrics returns the metrics manager
func (m *Manager) Metrics() *MetricsManager {
	return m.metrics
}

// Tracing returns the tracing manager, nil when tracing is disabled
func (m *Manager) Tracing() *TracingManager {
	return m.tracing
}

// SetTracing installs a tracing manager built elsewhere.
func (m *Manager) SetTracing(tracing *TracingManager) {
	m.tracing = tracing
}

// Close shuts down the tracing provider
func (m *Manager) Close(ctx context.Context) error {
	if m.tracing != nil {
		if err := m.tracing.Close(ctx); err != nil {
			m.logger.Errorw("Failed to close tracing manager", "error", err)
			return err
		}
	}
	return nil
}

// RegisterHealthChecker registers a health checker
func (m *Manager) RegisterHealthChecker(checker HealthChecker) {
	if m.health != nil {
		m.health.AddHealthChecker(checker)
	}
}

// RegisterReadinessChecker registers a readiness checker
func (m *Manager) RegisterReadinessChecker(checker ReadinessChecker) {
	if m.health != nil {
		m.health.AddReadinessChecker(checker)
	}
}

// SetupHTTPHandlers sets up observability HTTP handlers
func (m *Manager) SetupHTTPHandlers(mux *http.ServeMux) {
	if m.health != nil {
		mux.HandleFunc("/healthz", m.health.HealthzHandler())
		mux.HandleFunc("/readyz", m.health.ReadyzHandler())
	}
	if m.metrics != nil {
		mux.Handle("/metrics", m.uptimeHandler(m.metrics.Handler()))
	}
}

// uptimeHandler refreshes the uptime gauge on every scrape.
func (m *Manager) uptimeHandler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		m.UpdateMetrics()
		next.ServeHTTP(w, r)
	})
}

// UpdateMetrics updates metrics derived from the manager itself
func (m *Manager) UpdateMetrics() {
	if m.metrics == nil {
		return
	}
	m.metrics.SetUptime(m.startTime)
}

// Serve exposes the observability endpoints on listener until ctx is done.
func (m *Manager) Serve(ctx context.Context, listener net.Listener) error {
	mux := http.NewServeMux()
	m.SetupHTTPHandlers(mux)

	srv := &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			m.logger.Warnw("Observability server shutdown failed", "error", err)
		}
	}()

	m.logger.Infow("Serving observability endpoints", "address", listener.Addr().String())
	if err := srv.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// IsHealthy returns true if all health checks pass
func (m *Manager) IsHealthy() bool {
	if m.health == nil {
		return true // Consider healthy if health checks are disabled
	}
	return m.health.IsHealthy()
}

// IsReady returns true if all readiness checks pass
func (m *Manager) IsReady() bool {
	if m.health == nil {
		return true
	}
	return m.health.IsReady()
}
