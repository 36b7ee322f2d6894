package api

import (
	"context"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConvertSeries(t *testing.T) {
	series := &LabeledSeries{
		Labels: []string{"10:00", "10:01"},
		Datasets: []Dataset{
			{Label: "Total", Data: []float64{10, 12}},
			{Label: "Success", Data: []float64{9}},
			{Label: "Fail", Data: []float64{1, 2}},
			{Label: "Extra", Data: []float64{7, 8}},
		},
	}

	points := ConvertSeries(series, RequestTrendKeys)
	require.Len(t, points, 2)
	assert.Equal(t, "10:00", points[0].Time)
	assert.Equal(t, map[string]float64{"total": 10, "success": 9, "fail": 1, "value3": 7}, points[0].Values)
	assert.Equal(t, 0.0, points[1].Values["success"])

	assert.Empty(t, ConvertSeries(nil, RequestTrendKeys))
	assert.Empty(t, ConvertSeries(&LabeledSeries{Labels: []string{"x"}}, nil))
}

func TestParsePoints(t *testing.T) {
	plain, err := ParsePoints([]byte(`[{"time":"10:00","avg":120,"note":"x"},{"label":"10:01","avg":80}]`), ResponseTimeKeys)
	require.NoError(t, err)
	require.Len(t, plain, 2)
	assert.Equal(t, map[string]float64{"avg": 120}, plain[0].Values)
	assert.Equal(t, "10:01", plain[1].Time)

	legacy, err := ParsePoints([]byte(`{"labels":["a"],"datasets":[{"label":"Avg","data":[5]},{"data":[1]},{"data":[9]}]}`), ResponseTimeKeys)
	require.NoError(t, err)
	require.Len(t, legacy, 1)
	assert.Equal(t, map[string]float64{"avg": 5, "min": 1, "max": 9}, legacy[0].Values)
	assert.Equal(t, []string{"avg", "max", "min"}, ValueKeys(legacy))

	empty, err := ParsePoints([]byte(`{"something":"else"}`), nil)
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestConvertEndpointCosts(t *testing.T) {
	tests := []struct {
		name       string
		tokenLabel string
		costLabel  string
	}{
		{"english", "Token Usage", "Cost (USD)"},
		{"usd only", "tokens", "USD"},
		{"chinese", "Token 数量", "成本"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			costs := ConvertEndpointCosts(&LabeledSeries{
				Labels: []string{"alpha", "beta"},
				Datasets: []Dataset{
					{Label: tt.costLabel, Data: []float64{0.5, 0.25}},
					{Label: tt.tokenLabel, Data: []float64{1000}},
				},
			})
			require.Len(t, costs, 2)
			assert.Equal(t, EndpointCost{Name: "alpha", Tokens: 1000, Cost: 0.5}, costs[0])
			assert.Equal(t, EndpointCost{Name: "beta", Tokens: 0, Cost: 0.25}, costs[1])
		})
	}
}

func TestChartEndpoints(t *testing.T) {
	c, backend := newTestClient(t)
	backend.SetJSON(http.MethodGet, "/api/v1/chart/request-trends", map[string]interface{}{
		"labels":   []string{"10:00"},
		"datasets": []map[string]interface{}{{"data": []int{4}}, {"data": []int{3}}, {"data": []int{1}}},
	})
	backend.SetJSON(http.MethodGet, "/api/v1/chart/connection-activity", []map[string]interface{}{
		{"time": "10:00", "connections": 6},
	})
	backend.SetJSON(http.MethodGet, "/api/v1/chart/endpoint-health", map[string]interface{}{
		"labels":   []string{"Healthy", "Unhealthy"},
		"datasets": []map[string]interface{}{{"data": []int{3, 1}}},
	})
	backend.SetJSON(http.MethodGet, "/api/v1/chart/endpoint-costs", map[string]interface{}{
		"labels":   []string{"alpha"},
		"datasets": []map[string]interface{}{{"label": "Tokens", "data": []int{10}}, {"label": "Cost", "data": []float64{0.1}}},
	})
	backend.SetJSON(http.MethodGet, "/api/v1/tokens/usage", map[string]interface{}{
		"current": map[string]int{"input_tokens": 10, "output_tokens": 5, "cache_read_tokens": 2},
	})

	trends, err := c.GetRequestTrends(context.Background(), 30)
	require.NoError(t, err)
	require.Len(t, trends, 1)
	assert.Equal(t, map[string]float64{"total": 4, "success": 3, "fail": 1}, trends[0].Values)

	requests := backend.Requests()
	assert.Equal(t, "30", requests[len(requests)-1].Query.Get("minutes"))

	activity, err := c.GetConnectionActivity(context.Background(), 0)
	require.NoError(t, err)
	require.Len(t, activity, 1)
	assert.Equal(t, 6.0, activity[0].Values["connections"])

	health, err := c.GetEndpointHealth(context.Background())
	require.NoError(t, err)
	assert.Equal(t, &HealthSplit{Healthy: 3, Unhealthy: 1}, health)

	costs, err := c.GetEndpointCosts(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []EndpointCost{{Name: "alpha", Tokens: 10, Cost: 0.1}}, costs)

	tokens, err := c.GetTokenUsage(context.Background())
	require.NoError(t, err)
	assert.Equal(t, &TokenBreakdown{Input: 10, Output: 5, CacheRead: 2}, tokens)
	assert.EqualValues(t, 17, tokens.Total())

	_, err = c.GetResponseTimes(context.Background(), 30)
	require.Error(t, err)
	assert.True(t, IsKind(err, KindServer))
}
