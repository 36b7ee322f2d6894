// Package observability provides health checks and metrics for a sync session
package observability

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"go.uber.org/zap"
)

const (
	statusHealthy   = "healthy"
	statusUnhealthy = "unhealthy"
	statusReady     = "ready"
	statusNotReady  = "not_ready"
)

// HealthChecker defines an interface for components that can report their health status
type HealthChecker interface {
	// HealthCheck returns nil if healthy, error if unhealthy
	HealthCheck(ctx context.Context) error
	Name() string
}

// ReadinessChecker defines an interface for components that can report their readiness status
type ReadinessChecker interface {
	// ReadinessCheck returns nil if ready, error if not ready
	ReadinessCheck(ctx context.Context) error
	Name() string
}

// ComponentStatus is the result of a single check.
type ComponentStatus struct {
	Name    string `json:"name"`
	Status  string `json:"status"`
	Error   string `json:"error,omitempty"`
	Latency string `json:"latency,omitempty"`
}

// Report aggregates component results for /healthz or /readyz.
type Report struct {
	Status     string            `json:"status"`
	Timestamp  time.Time         `json:"timestamp"`
	Components []ComponentStatus `json:"components"`
}

// HealthManager manages health and readiness checks
type HealthManager struct {
	logger            *zap.SugaredLogger
	healthCheckers    []HealthChecker
	readinessCheckers []ReadinessChecker
	timeout           time.Duration
}

// NewHealthManager creates a new health manager
func NewHealthManager(logger *zap.SugaredLogger) *HealthManager {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &HealthManager{
		logger:  logger,
		timeout: 5 * time.Second,
	}
}

// AddHealthChecker registers a health checker
func (hm *HealthManager) AddHealthChecker(checker HealthChecker) {
	hm.healthCheckers = append(hm.healthCheckers, checker)
}

// AddReadinessChecker registers a readiness checker
func (hm *HealthManager) AddReadinessChecker(checker ReadinessChecker) {
	hm.readinessCheckers = append(hm.readinessCheckers, checker)
}

// SetTimeout sets the timeout for health checks
func (hm *HealthManager) SetTimeout(timeout time.Duration) {
	hm.timeout = timeout
}

// HealthzHandler returns an HTTP handler for the /healthz endpoint
func (hm *HealthManager) HealthzHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), hm.timeout)
		defer cancel()
		hm.writeReport(w, hm.Health(ctx), statusHealthy)
	}
}

// ReadyzHandler returns an HTTP handler for the /readyz endpoint
func (hm *HealthManager) ReadyzHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), hm.timeout)
		defer cancel()
		hm.writeReport(w, hm.Readiness(ctx), statusReady)
	}
}

// Health runs every health checker.
func (hm *HealthManager) Health(ctx context.Context) Report {
	checks := make([]namedCheck, 0, len(hm.healthCheckers))
	for _, c := range hm.healthCheckers {
		checks = append(checks, namedCheck{name: c.Name(), fn: c.HealthCheck})
	}
	return hm.run(ctx, checks, statusHealthy, statusUnhealthy)
}

// Readiness runs every readiness checker.
func (hm *HealthManager) Readiness(ctx context.Context) Report {
	checks := make([]namedCheck, 0, len(hm.readinessCheckers))
	for _, c := range hm.readinessCheckers {
		checks = append(checks, namedCheck{name: c.Name(), fn: c.ReadinessCheck})
	}
	return hm.run(ctx, checks, statusReady, statusNotReady)
}

// IsHealthy returns true if all health checks pass
func (hm *HealthManager) IsHealthy() bool {
	ctx, cancel := context.WithTimeout(context.Background(), hm.timeout)
	defer cancel()
	return hm.Health(ctx).Status == statusHealthy
}

// IsReady returns true if all readiness checks pass
func (hm *HealthManager) IsReady() bool {
	ctx, cancel := context.WithTimeout(context.Background(), hm.timeout)
	defer cancel()
	return hm.Readiness(ctx).Status == statusReady
}

type namedCheck struct {
	name string
	fn   func(context.Context) error
}

func (hm *HealthManager) run(ctx context.Context, checks []namedCheck, pass, fail string) Report {
	report := Report{
		Status:     pass,
		Timestamp:  time.Now(),
		Components: make([]ComponentStatus, 0, len(checks)),
	}

	for _, check := range checks {
		start := time.Now()
		status := ComponentStatus{Name: check.name, Status: pass}

		if err := check.fn(ctx); err != nil {
			status.Status = fail
			status.Error = err.Error()
			report.Status = fail
			hm.logger.Debugw("Check failed",
				"component", check.name,
				"result", fail,
				"error", err)
		}

		status.Latency = time.Since(start).String()
		report.Components = append(report.Components, status)
	}
	return report
}

func (hm *HealthManager) writeReport(w http.ResponseWriter, report Report, pass string) {
	statusCode := http.StatusOK
	if report.Status != pass {
		statusCode = http.StatusServiceUnavailable
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	if err := json.NewEncoder(w).Encode(report); err != nil {
		hm.logger.Errorw("Failed to encode health response", "error", err)
	}
}
