package observability

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/smart-mcp-proxy/dashsync/internal/storage"
	"github.com/smart-mcp-proxy/dashsync/internal/stream"
)

type fakeStatus struct{ st stream.Status }

func (f *fakeStatus) Status() stream.Status { return f.st }

type fakeCollection struct {
	last time.Time
	err  error
}

func (f *fakeCollection) Name() string          { return "endpoints" }
func (f *fakeCollection) LastUpdate() time.Time { return f.last }
func (f *fakeCollection) LastError() error      { return f.err }

func TestStreamHealthChecker(t *testing.T) {
	src := &fakeStatus{st: stream.Status{State: stream.StateReconnecting, Attempts: 1}}
	checker := NewStreamHealthChecker(src)
	ctx := context.Background()

	assert.NoError(t, checker.HealthCheck(ctx))
	assert.ErrorContains(t, checker.ReadinessCheck(ctx), "reconnecting")

	src.st = stream.Status{State: stream.StateConnected}
	assert.NoError(t, checker.ReadinessCheck(ctx))

	src.st = stream.Status{State: stream.StateFailed, Attempts: 6, LastError: "refused"}
	err := checker.HealthCheck(ctx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "6 attempts")
	assert.Contains(t, err.Error(), "refused")
}

func TestCollectionHealthChecker(t *testing.T) {
	col := &fakeCollection{}
	checker := NewCollectionHealthChecker(col)
	ctx := context.Background()

	assert.Equal(t, "collection:endpoints", checker.Name())
	assert.NoError(t, checker.HealthCheck(ctx))
	assert.ErrorContains(t, checker.ReadinessCheck(ctx), "not loaded")

	col.last = time.Now()
	assert.NoError(t, checker.ReadinessCheck(ctx))

	col.err = errors.New("timeout")
	assert.ErrorContains(t, checker.HealthCheck(ctx), "timeout")
	assert.Error(t, checker.ReadinessCheck(ctx))
}

func TestDatabaseHealthChecker(t *testing.T) {
	db, err := storage.NewBoltDB(t.TempDir(), nil)
	require.NoError(t, err)

	checker := NewDatabaseHealthChecker("identity", db)
	assert.NoError(t, checker.HealthCheck(context.Background()))

	require.NoError(t, db.Close())
	assert.Error(t, checker.HealthCheck(context.Background()))

	assert.Error(t, NewDatabaseHealthChecker("nil", nil).HealthCheck(context.Background()))
}

func TestManagerEndpoints(t *testing.T) {
	manager, err := NewManager(zaptest.NewLogger(t).Sugar(), DefaultConfig())
	require.NoError(t, err)
	src := &fakeStatus{st: stream.Status{State: stream.StateError}}
	manager.RegisterHealthChecker(NewStreamHealthChecker(src))
	manager.RegisterReadinessChecker(NewStreamHealthChecker(src))

	mux := http.NewServeMux()
	manager.SetupHTTPHandlers(mux)
	srv := httptest.NewServer(mux)
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/healthz")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Get(srv.URL + "/readyz")
	require.NoError(t, err)
	var report Report
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&report))
	resp.Body.Close()
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	assert.Equal(t, "not_ready", report.Status)
	require.Len(t, report.Components, 1)
	assert.Equal(t, "stream", report.Components[0].Name)

	resp, err = http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	assert.True(t, manager.IsHealthy())
	assert.False(t, manager.IsReady())
}

func TestManagerDisabled(t *testing.T) {
	manager, err := NewManager(nil, Config{})
	require.NoError(t, err)
	assert.Nil(t, manager.Health())
	assert.Nil(t, manager.Metrics())
	assert.Nil(t, manager.Tracing())
	assert.NoError(t, manager.Close(context.Background()))
	assert.True(t, manager.IsHealthy())
	assert.True(t, manager.IsReady())
	manager.UpdateMetrics()
}
