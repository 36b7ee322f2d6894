package api

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"
)

func TestRequestQueryValues(t *testing.T) {
	v := RequestQuery{}.Values()
	assert.Equal(t, "50", v.Get("limit"))
	assert.Empty(t, v.Get("offset"))
	assert.Equal(t, "start_time", v.Get("sort_by"))
	assert.Equal(t, "desc", v.Get("sort_order"))

	start := time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)
	v = RequestQuery{
		Page:      3,
		Limit:     20,
		StartTime: start,
		Status:    "all",
		Model:     "claude-sonnet",
		Group:     "main",
		SortBy:    "cost",
	}.Values()
	assert.Equal(t, "40", v.Get("offset"))
	assert.Equal(t, "20", v.Get("limit"))
	assert.Equal(t, "2025-01-02T03:04:05Z", v.Get("start_date"))
	assert.False(t, v.Has("status"))
	assert.Equal(t, "claude-sonnet", v.Get("model"))
	assert.Equal(t, "main", v.Get("group"))
	assert.Equal(t, "cost", v.Get("sort_by"))
}

func TestNormalizeRequest(t *testing.T) {
	snake := NormalizeRequest(gjson.Parse(`{
		"request_id": "req-1",
		"start_time": "2025-01-01T10:00:00Z",
		"status": "success",
		"status_code": 200,
		"model_name": "claude-sonnet",
		"endpoint_name": "alpha",
		"group_name": "main",
		"duration_ms": 1250,
		"input_tokens": 100,
		"output_tokens": 20,
		"cache_creation_tokens": 5,
		"cache_read_tokens": 7,
		"total_cost_usd": 0.0449,
		"is_streaming": true
	}`))
	assert.Equal(t, "req-1", snake.ID)
	assert.Equal(t, "2025-01-01T10:00:00Z", snake.Timestamp)
	assert.Equal(t, 200, snake.StatusCode)
	assert.Equal(t, "claude-sonnet", snake.Model)
	assert.Equal(t, "alpha", snake.Endpoint)
	assert.Equal(t, "main", snake.Group)
	assert.Equal(t, 1250.0, snake.DurationMS)
	assert.EqualValues(t, 100, snake.InputTokens)
	assert.EqualValues(t, 7, snake.CacheReadTokens)
	assert.InDelta(t, 0.0449, snake.Cost, 1e-9)
	assert.True(t, snake.IsStreaming)

	camel := NormalizeRequest(gjson.Parse(`{"requestId":"req-2","model":"m","inputTokens":3,"isStreaming":false}`))
	assert.Equal(t, "req-2", camel.ID)
	assert.Equal(t, "m", camel.Model)
	assert.EqualValues(t, 3, camel.InputTokens)
	assert.Equal(t, "unknown", camel.Endpoint)
	assert.Equal(t, "default", camel.Group)

	bare := NormalizeRequest(gjson.Parse(`{"id":"req-3"}`))
	assert.Equal(t, "req-3", bare.ID)
	assert.Equal(t, "unknown", bare.Model)
}

func TestParseRequestPage(t *testing.T) {
	page := ParseRequestPage([]byte(`{"requests":[{"id":"a"},{"id":"b"}],"total":120,"limit":50}`))
	require.Len(t, page.Requests, 2)
	assert.Equal(t, 120, page.Total)
	assert.Equal(t, 1, page.Page)
	assert.Equal(t, 50, page.PageSize)
	assert.Equal(t, 3, page.TotalPages)

	page = ParseRequestPage([]byte(`{"data":[{"id":"a"}]}`))
	require.Len(t, page.Requests, 1)
	assert.Equal(t, 1, page.Total)
	assert.Equal(t, 0, page.TotalPages)

	page = ParseRequestPage([]byte(`[{"id":"x"}]`))
	require.Len(t, page.Requests, 1)
	assert.Equal(t, "x", page.Requests[0].ID)

	page = ParseRequestPage([]byte(`{"unexpected":true}`))
	assert.NotNil(t, page.Requests)
	assert.Empty(t, page.Requests)
}

func TestListRequestsAndModels(t *testing.T) {
	c, backend := newTestClient(t)
	backend.SetJSON(http.MethodGet, "/api/v1/usage/requests", map[string]interface{}{
		"requests": []map[string]interface{}{{"request_id": "r1", "model_name": "m1"}},
		"total":    1,
	})
	backend.SetJSON(http.MethodGet, "/api/v1/usage/models", map[string]interface{}{
		"success": true,
		"data":    []interface{}{"m1", map[string]string{"model_name": "m2"}},
	})

	page, err := c.ListRequests(context.Background(), RequestQuery{Page: 2, Endpoint: "alpha"})
	require.NoError(t, err)
	require.Len(t, page.Requests, 1)
	assert.Equal(t, "r1", page.Requests[0].ID)

	requests := backend.Requests()
	query := requests[len(requests)-1].Query
	assert.Equal(t, "50", query.Get("offset"))
	assert.Equal(t, "alpha", query.Get("endpoint"))

	models, err := c.ListModels(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"m1", "m2"}, models)
}

func TestGetUsageStatsKeepsRaw(t *testing.T) {
	c, backend := newTestClient(t)
	backend.SetJSON(http.MethodGet, "/api/v1/usage/stats", map[string]interface{}{
		"total_requests": 42,
		"total_cost":     1.5,
		"by_model":       map[string]int{"m1": 42},
	})

	stats, err := c.GetUsageStats(context.Background(), nil)
	require.NoError(t, err)
	assert.EqualValues(t, 42, stats.TotalRequests)
	assert.Equal(t, 1.5, stats.TotalCost)
	assert.Equal(t, int64(42), gjson.GetBytes(stats.Raw, "by_model.m1").Int())
}
