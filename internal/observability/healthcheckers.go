package observability

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/smart-mcp-proxy/dashsync/internal/stream"
)

// Pinger is satisfied by storage.BoltDB.
type Pinger interface {
	Ping() error
}

// DatabaseHealthChecker checks that the local identity database is usable
type DatabaseHealthChecker struct {
	name string
	db   Pinger
}

// NewDatabaseHealthChecker creates a new database health checker
func NewDatabaseHealthChecker(name string, db Pinger) *DatabaseHealthChecker {
	return &DatabaseHealthChecker{name: name, db: db}
}

// Name returns the name of the health checker
func (dhc *DatabaseHealthChecker) Name() string {
	return dhc.name
}

// HealthCheck opens a read transaction
func (dhc *DatabaseHealthChecker) HealthCheck(_ context.Context) error {
	if dhc.db == nil {
		return fmt.Errorf("database is nil")
	}
	return dhc.db.Ping()
}

// ReadinessCheck performs a database readiness check
func (dhc *DatabaseHealthChecker) ReadinessCheck(ctx context.Context) error {
	return dhc.HealthCheck(ctx)
}

// StatusSource is satisfied by stream.Manager.
type StatusSource interface {
	Status() stream.Status
}

// StreamHealthChecker reports the push channel. A FAILED channel is
// unhealthy; anything other than CONNECTED is not ready.
type StreamHealthChecker struct {
	source StatusSource
}

// NewStreamHealthChecker creates a push channel checker
func NewStreamHealthChecker(source StatusSource) *StreamHealthChecker {
	return &StreamHealthChecker{source: source}
}

// Name returns the name of the health checker
func (shc *StreamHealthChecker) Name() string {
	return "stream"
}

// HealthCheck fails only once reconnects are exhausted
func (shc *StreamHealthChecker) HealthCheck(_ context.Context) error {
	st := shc.source.Status()
	if st.State == stream.StateFailed {
		if st.LastError != "" {
			return fmt.Errorf("push channel failed after %d attempts: %s", st.Attempts, st.LastError)
		}
		return fmt.Errorf("push channel failed after %d attempts", st.Attempts)
	}
	return nil
}

// ReadinessCheck requires an open channel
func (shc *StreamHealthChecker) ReadinessCheck(_ context.Context) error {
	st := shc.source.Status()
	if st.State != stream.StateConnected {
		return fmt.Errorf("push channel is %s", st.State)
	}
	return nil
}

// CollectionState is satisfied by every reconcile.Engine.
type CollectionState interface {
	Name() string
	LastUpdate() time.Time
	LastError() error
}

// CollectionHealthChecker reports whether a collection has been loaded and
// whether its last reload succeeded.
type CollectionHealthChecker struct {
	collection CollectionState
}

// NewCollectionHealthChecker creates a checker for one collection
func NewCollectionHealthChecker(collection CollectionState) *CollectionHealthChecker {
	return &CollectionHealthChecker{collection: collection}
}

// Name returns the name of the health checker
func (chc *CollectionHealthChecker) Name() string {
	return "collection:" + chc.collection.Name()
}

// HealthCheck fails when the last reload failed
func (chc *CollectionHealthChecker) HealthCheck(_ context.Context) error {
	if err := chc.collection.LastError(); err != nil {
		return fmt.Errorf("last reload failed: %w", err)
	}
	return nil
}

// ReadinessCheck additionally requires at least one successful load
func (chc *CollectionHealthChecker) ReadinessCheck(ctx context.Context) error {
	if chc.collection.LastUpdate().IsZero() {
		return errors.New("not loaded yet")
	}
	return chc.HealthCheck(ctx)
}
