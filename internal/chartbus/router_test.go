package chartbus

import (
	"context"
	"io"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/smart-mcp-proxy/dashsync/internal/api"
	"github.com/smart-mcp-proxy/dashsync/internal/stream"
	"github.com/smart-mcp-proxy/dashsync/internal/testutil"
)

type collector struct {
	mu   sync.Mutex
	msgs map[Tag][]Message
}

func collect(t *testing.T, bus *Bus) *collector {
	c := &collector{msgs: map[Tag][]Message{}}
	for _, tag := range Tags() {
		_, err := bus.Subscribe(tag, func(m Message) {
			c.mu.Lock()
			defer c.mu.Unlock()
			c.msgs[m.Tag] = append(c.msgs[m.Tag], m)
		})
		require.NoError(t, err)
	}
	return c
}

func (c *collector) get(tag Tag) []Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Message(nil), c.msgs[tag]...)
}

func (c *collector) total() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, list := range c.msgs {
		n += len(list)
	}
	return n
}

func TestHandlePush(t *testing.T) {
	bus := New(nil)
	c := collect(t, bus)
	r := NewRouter(bus, nil, nil)
	defer r.Close()

	require.NoError(t, r.HandlePush([]byte(`{"chart_type":"request_trends","data":{
		"labels":["10:00","10:01"],
		"datasets":[{"label":"Total","data":[5,7]},{"label":"Success","data":[4,7]},{"label":"Fail","data":[1]}]
	}}`)))
	trends := c.get(TagRequestTrend)
	require.Len(t, trends, 1)
	assert.Equal(t, []api.Point{
		{Time: "10:00", Values: map[string]float64{"total": 5, "success": 4, "fail": 1}},
		{Time: "10:01", Values: map[string]float64{"total": 7, "success": 7, "fail": 0}},
	}, trends[0].Points)

	require.NoError(t, r.HandlePush([]byte(`{"chart_type":"endpointCosts","data":{
		"labels":["alpha"],
		"datasets":[{"label":"Token usage","data":[1200]},{"label":"成本 (USD)","data":[0.5]}]
	}}`)))
	costs := c.get(TagEndpointCosts)
	require.Len(t, costs, 1)
	assert.Equal(t, []api.EndpointCost{{Name: "alpha", Tokens: 1200, Cost: 0.5}}, costs[0].Costs)

	require.NoError(t, r.HandlePush([]byte(`{"chart_type":"token_usage","data":{"current":{"input_tokens":10,"output_tokens":5}}}`)))
	tokens := c.get(TagTokenDistribution)
	require.Len(t, tokens, 1)
	assert.Equal(t, int64(15), tokens[0].Tokens.Total())

	require.NoError(t, r.HandlePush([]byte(`{"type":"endpoint_health","data":{"healthy":3,"unhealthy":1}}`)))
	health := c.get(TagEndpointHealth)
	require.Len(t, health, 1)
	assert.Equal(t, &api.HealthSplit{Healthy: 3, Unhealthy: 1}, health[0].Health)

	require.NoError(t, r.HandlePush([]byte(`{"chart_type":"response_times","data":[{"time":"10:00","avg":120,"max":300}]}`)))
	rt := c.get(TagResponseTime)
	require.Len(t, rt, 1)
	assert.Equal(t, 120.0, rt[0].Points[0].Values["avg"])
}

func TestHandlePushRejects(t *testing.T) {
	bus := New(nil)
	c := collect(t, bus)
	r := NewRouter(bus, nil, nil)
	defer r.Close()

	assert.ErrorIs(t, r.HandlePush([]byte(`{"chart_type":"pie","data":[]}`)), ErrUnknownTag)
	assert.ErrorIs(t, r.HandlePush([]byte(`{"data":[]}`)), ErrUnknownTag)
	assert.Error(t, r.HandlePush([]byte(`{"chart_type":"endpoint_costs"}`)))
	assert.Error(t, r.HandlePush([]byte(`{"chart_type":"endpoint_costs","data":[{"name":"a","tokens":"many"}]}`)))
	assert.Zero(t, c.total())
}

func TestLoadAll(t *testing.T) {
	backend := testutil.NewBackend(t)
	backend.SetJSON(http.MethodGet, "/api/v1/chart/request-trends", []map[string]interface{}{
		{"time": "10:00", "total": 2, "success": 2, "fail": 0},
	})
	backend.SetJSON(http.MethodGet, "/api/v1/chart/response-times", map[string]interface{}{
		"labels":   []string{"10:00"},
		"datasets": []map[string]interface{}{{"label": "avg", "data": []float64{150}}},
	})
	backend.SetJSON(http.MethodGet, "/api/v1/chart/connection-activity", []map[string]interface{}{
		{"time": "10:00", "connections": 4},
	})
	backend.SetJSON(http.MethodGet, "/api/v1/chart/endpoint-costs", []map[string]interface{}{
		{"name": "alpha", "tokens": 10, "cost": 0.1},
	})
	backend.SetJSON(http.MethodGet, "/api/v1/chart/endpoint-health", map[string]interface{}{"healthy": 1, "unhealthy": 0})
	backend.SetJSON(http.MethodGet, "/api/v1/tokens/usage", map[string]interface{}{"input_tokens": 7})

	bus := New(nil)
	c := collect(t, bus)
	r := NewRouter(bus, api.NewClient(backend.URL(), 2*time.Second, nil), nil)
	defer r.Close()

	require.NoError(t, r.LoadAll(context.Background()))

	for _, tag := range Tags() {
		assert.Len(t, c.get(tag), 1, "tag %s", tag)
	}
	assert.Equal(t, 150.0, c.get(TagResponseTime)[0].Points[0].Values["avg"])
	assert.Equal(t, int64(7), c.get(TagTokenDistribution)[0].Tokens.Input)

	query := ""
	for _, req := range backend.Requests() {
		if req.Path == "/api/v1/chart/request-trends" {
			query = req.Query.Get("minutes")
		}
	}
	assert.Equal(t, "60", query)
}

func TestLoadAllPartialFailure(t *testing.T) {
	backend := testutil.NewBackend(t)
	backend.SetJSON(http.MethodGet, "/api/v1/chart/endpoint-health", map[string]interface{}{"healthy": 1})
	backend.Fail(http.MethodGet, "/api/v1/tokens/usage", http.StatusInternalServerError, `{"error":"boom"}`)

	bus := New(nil)
	c := collect(t, bus)
	r := NewRouter(bus, api.NewClient(backend.URL(), 2*time.Second, nil), nil)
	defer r.Close()

	err := r.LoadAll(context.Background())
	require.Error(t, err)
	assert.Len(t, c.get(TagEndpointHealth), 1)
	assert.Empty(t, c.get(TagTokenDistribution))
}

func TestLoadAllWithoutClient(t *testing.T) {
	r := NewRouter(New(nil), nil, nil)
	defer r.Close()
	assert.Error(t, r.LoadAll(context.Background()))
}

func TestStartPolling(t *testing.T) {
	backend := testutil.NewBackend(t)
	backend.SetJSON(http.MethodGet, "/api/v1/chart/endpoint-health", map[string]interface{}{"healthy": 1})

	bus := New(nil)
	c := collect(t, bus)
	r := NewRouter(bus, api.NewClient(backend.URL(), 2*time.Second, nil), nil)

	r.StartPolling(10 * time.Millisecond)
	require.Eventually(t, func() bool { return len(c.get(TagEndpointHealth)) >= 2 }, 2*time.Second, 5*time.Millisecond)

	r.Close()
	n := len(c.get(TagEndpointHealth))
	time.Sleep(40 * time.Millisecond)
	assert.LessOrEqual(t, len(c.get(TagEndpointHealth)), n+1)
}

type pipeSource struct {
	messages chan stream.Message
	done     chan struct{}
	once     sync.Once
}

func (s *pipeSource) Next() (stream.Message, error) {
	select {
	case m := <-s.messages:
		return m, nil
	case <-s.done:
		return stream.Message{}, io.EOF
	}
}

func (s *pipeSource) Close() error {
	s.once.Do(func() { close(s.done) })
	return nil
}

type pipeDialer struct{ source *pipeSource }

func (d *pipeDialer) Open(context.Context, string) (stream.Source, error) {
	return d.source, nil
}

func TestAttach(t *testing.T) {
	source := &pipeSource{messages: make(chan stream.Message, 4), done: make(chan struct{})}
	m := stream.NewManager(stream.Options{
		BaseURL:    "http://127.0.0.1:8088",
		Categories: []string{PushCategory},
		Dialer:     &pipeDialer{source: source},
		Logger:     zap.NewNop().Sugar(),
	})
	defer m.Disconnect()

	bus := New(nil)
	c := collect(t, bus)
	r := NewRouter(bus, nil, nil)
	r.Attach(m)

	m.Connect()
	source.messages <- stream.Message{Event: PushCategory, Data: `{"chart_type":"endpoint_health","data":{"healthy":2,"unhealthy":2}}`}
	require.Eventually(t, func() bool { return len(c.get(TagEndpointHealth)) == 1 }, 2*time.Second, 5*time.Millisecond)

	r.Close()
	source.messages <- stream.Message{Event: PushCategory, Data: `{"chart_type":"endpoint_health","data":{"healthy":0}}`}
	time.Sleep(20 * time.Millisecond)
	assert.Len(t, c.get(TagEndpointHealth), 1)
}

type countingSubscriber struct {
	mu   sync.Mutex
	subs int
}

func (c *countingSubscriber) Subscribe(string, stream.Handler) *stream.Subscription {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.subs++
	return nil
}

func TestClosedRouterIgnoresAttachAndPolling(t *testing.T) {
	backend := testutil.NewBackend(t)
	backend.SetJSON(http.MethodGet, "/api/v1/chart/endpoint-health", map[string]interface{}{"healthy": 1})

	bus := New(nil)
	c := collect(t, bus)
	r := NewRouter(bus, api.NewClient(backend.URL(), 2*time.Second, nil), nil)
	r.Close()

	src := &countingSubscriber{}
	r.Attach(src)
	r.StartPolling(10 * time.Millisecond)
	time.Sleep(50 * time.Millisecond)

	assert.Zero(t, src.subs)
	assert.Empty(t, c.get(TagEndpointHealth))
	assert.Zero(t, backend.RequestCount(http.MethodGet, "/api/v1/chart/endpoint-health"))
}
