package reconcile

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"pgregory.net/rapid"

	"github.com/smart-mcp-proxy/dashsync/internal/api"
	"github.com/smart-mcp-proxy/dashsync/internal/stream"
	"github.com/smart-mcp-proxy/dashsync/internal/testutil"
)

// fakeFetch serves a mutable endpoint list.
type fakeFetch struct {
	mu    sync.Mutex
	items []*api.Endpoint
	err   error
	calls int
}

func (f *fakeFetch) fetch(context.Context) ([]*api.Endpoint, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	out := make([]*api.Endpoint, len(f.items))
	for i, ep := range f.items {
		c := *ep
		out[i] = &c
	}
	return out, nil
}

func (f *fakeFetch) set(items []*api.Endpoint, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.items, f.err = items, err
}

func (f *fakeFetch) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func newTestEngine(f *fakeFetch, interval time.Duration) *EndpointEngine {
	spec := EndpointSpec(nil)
	spec.Fetch = f.fetch
	return New(spec, Options{FallbackInterval: interval})
}

func sampleEndpoints() []*api.Endpoint {
	return []*api.Endpoint{
		{Name: "alpha", Priority: 1, Group: "main", Healthy: true},
		{Name: "beta", Priority: 2, Group: "main", Healthy: true},
		{Name: "gamma", Priority: 3, Group: "backup", NeverChecked: true},
	}
}

func TestEngineStartsEmpty(t *testing.T) {
	e := newTestEngine(&fakeFetch{}, 0)
	defer e.Close()

	assert.Empty(t, e.Items())
	assert.Equal(t, EndpointStats{HealthPercentage: "0"}, e.Stats())
	assert.True(t, e.LastUpdate().IsZero())
	assert.Equal(t, "endpoints", e.Name())
}

func TestEngineLoad(t *testing.T) {
	f := &fakeFetch{items: sampleEndpoints()}
	e := newTestEngine(f, 0)
	defer e.Close()

	require.NoError(t, e.Load(context.Background()))

	assert.Len(t, e.Items(), 3)
	assert.Equal(t, EndpointStats{Total: 3, Healthy: 2, Unhealthy: 0, Unchecked: 1, HealthPercentage: "66.7"}, e.Stats())
	assert.False(t, e.LastUpdate().IsZero())
	assert.NoError(t, e.LastError())
	assert.Equal(t, "beta", e.Get("beta").Name)
	assert.Nil(t, e.Get("missing"))
}

func TestEngineLoadErrorKeepsState(t *testing.T) {
	f := &fakeFetch{items: sampleEndpoints()}
	e := newTestEngine(f, 0)
	defer e.Close()
	require.NoError(t, e.Load(context.Background()))
	before := e.LastUpdate()

	boom := &api.Error{Kind: api.KindNetwork, Op: "list endpoints", Message: "network error, backend unreachable"}
	f.set(nil, boom)

	err := e.Load(context.Background())
	require.Error(t, err)
	assert.True(t, api.IsKind(err, api.KindNetwork))
	assert.Equal(t, boom, e.LastError())
	assert.Len(t, e.Items(), 3)
	assert.Equal(t, before, e.LastUpdate())

	f.set(sampleEndpoints(), nil)
	require.NoError(t, e.Load(context.Background()))
	assert.NoError(t, e.LastError())
}

func TestEngineRefreshTogglesLoading(t *testing.T) {
	f := &fakeFetch{items: sampleEndpoints()}
	e := newTestEngine(f, 0)
	defer e.Close()

	var mu sync.Mutex
	var loading []bool
	e.Watch(func(v View[api.Endpoint, EndpointStats]) {
		mu.Lock()
		defer mu.Unlock()
		loading = append(loading, v.Loading)
	})

	require.NoError(t, e.Refresh(context.Background()))
	assert.False(t, e.Loading())

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []bool{true, true, false}, loading)
}

func TestEngineSilentLoadDoesNotToggleLoading(t *testing.T) {
	f := &fakeFetch{items: sampleEndpoints()}
	e := newTestEngine(f, 0)
	defer e.Close()

	var views []View[api.Endpoint, EndpointStats]
	e.Watch(func(v View[api.Endpoint, EndpointStats]) { views = append(views, v) })

	require.NoError(t, e.Load(context.Background()))
	require.Len(t, views, 1)
	assert.False(t, views[0].Loading)
}

func TestEnginePushSnapshot(t *testing.T) {
	e := newTestEngine(&fakeFetch{}, 0)
	defer e.Close()

	outcome := e.ApplyPushEvent("endpoint", []byte(`{"endpoints":[
		{"name":"a","healthy":true},
		{"name":"b","healthy":false},
		{"name":"c","never_checked":true}
	],"total":3}`))

	assert.Equal(t, OutcomeReplaced, outcome)
	assert.Equal(t, EndpointStats{Total: 3, Healthy: 1, Unhealthy: 1, Unchecked: 1, HealthPercentage: "33.3"}, e.Stats())
}

func TestEnginePushPatchTouchesOnlyNamedEntity(t *testing.T) {
	f := &fakeFetch{items: sampleEndpoints()}
	e := newTestEngine(f, 0)
	defer e.Close()
	require.NoError(t, e.Load(context.Background()))

	before := e.Items()

	outcome := e.ApplyPushEvent("endpoint", []byte(`{"name":"beta","healthy":false,"error":"timeout"}`))
	require.Equal(t, OutcomePatched, outcome)

	after := e.Items()
	require.Len(t, after, 3)
	assert.Same(t, before[0], after[0])
	assert.Same(t, before[2], after[2])
	assert.NotSame(t, before[1], after[1])

	assert.False(t, after[1].Healthy)
	assert.Equal(t, "timeout", after[1].Error)
	assert.Equal(t, 2, after[1].Priority)
	assert.True(t, before[1].Healthy, "previous entity value is not mutated")

	assert.Equal(t, EndpointStats{Total: 3, Healthy: 1, Unhealthy: 1, Unchecked: 1, HealthPercentage: "33.3"}, e.Stats())
}

func TestEnginePushIgnored(t *testing.T) {
	f := &fakeFetch{items: sampleEndpoints()}
	e := newTestEngine(f, 0)
	defer e.Close()
	require.NoError(t, e.Load(context.Background()))
	before := e.Items()
	updated := e.LastUpdate()

	tests := []struct {
		name     string
		category string
		payload  string
	}{
		{"other category", "group", `{"name":"alpha","healthy":false}`},
		{"malformed", "endpoint", `{"name":`},
		{"unknown entity", "endpoint", `{"name":"delta","healthy":false}`},
		{"unrecognized shape", "endpoint", `{"status":"ok"}`},
		{"undecodable patch", "endpoint", `{"name":"alpha","priority":"high"}`},
		{"undecodable snapshot", "endpoint", `{"endpoints":[1,2]}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, OutcomeIgnored, e.ApplyPushEvent(tt.category, []byte(tt.payload)))
		})
	}

	assert.Equal(t, before, e.Items())
	assert.Equal(t, updated, e.LastUpdate())
}

func TestEnginePatch(t *testing.T) {
	f := &fakeFetch{items: sampleEndpoints()}
	e := newTestEngine(f, 0)
	defer e.Close()
	require.NoError(t, e.Load(context.Background()))

	before := e.Items()
	ok := e.Patch("gamma", func(ep *api.Endpoint) {
		ep.Healthy = true
		ep.NeverChecked = false
	})
	require.True(t, ok)

	after := e.Items()
	assert.Same(t, before[0], after[0])
	assert.True(t, after[2].Healthy)
	assert.True(t, before[2].NeverChecked)
	assert.Equal(t, 3, e.Stats().Healthy)

	assert.False(t, e.Patch("missing", func(*api.Endpoint) {}))
}

func TestEngineWatchUnsubscribe(t *testing.T) {
	f := &fakeFetch{items: sampleEndpoints()}
	e := newTestEngine(f, 0)
	defer e.Close()

	calls := 0
	stop := e.Watch(func(View[api.Endpoint, EndpointStats]) { calls++ })
	require.NoError(t, e.Load(context.Background()))
	stop()
	require.NoError(t, e.Load(context.Background()))

	assert.Equal(t, 1, calls)
}

func TestEngineClose(t *testing.T) {
	f := &fakeFetch{items: sampleEndpoints()}
	e := newTestEngine(f, 0)
	require.NoError(t, e.Load(context.Background()))

	e.Close()
	e.Close()

	assert.ErrorIs(t, e.Load(context.Background()), ErrClosed)
	assert.Equal(t, OutcomeIgnored, e.ApplyPushEvent("endpoint", []byte(`{"endpoints":[]}`)))
	assert.False(t, e.Patch("alpha", func(*api.Endpoint) {}))
	assert.Len(t, e.Items(), 3)
}

func TestEngineLastCompletionWins(t *testing.T) {
	f := &fakeFetch{items: sampleEndpoints()}
	e := newTestEngine(f, 0)
	defer e.Close()
	require.NoError(t, e.Load(context.Background()))

	// a push patch followed by a load that completes later: the load wins
	e.ApplyPushEvent("endpoint", []byte(`{"name":"alpha","priority":9}`))
	assert.Equal(t, 9, e.Get("alpha").Priority)

	require.NoError(t, e.Load(context.Background()))
	assert.Equal(t, 1, e.Get("alpha").Priority)
}

func TestEnginePatchProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		n := rapid.IntRange(1, 20).Draw(t, "n")
		items := make([]*api.Endpoint, n)
		for i := range items {
			items[i] = &api.Endpoint{
				Name:     fmt.Sprintf("ep-%d", i),
				Priority: i + 1,
				Healthy:  rapid.Bool().Draw(t, "healthy"),
			}
		}
		e := newTestEngine(&fakeFetch{items: items}, 0)
		defer e.Close()
		if err := e.Load(context.Background()); err != nil {
			t.Fatal(err)
		}

		target := rapid.IntRange(0, n-1).Draw(t, "target")
		healthy := rapid.Bool().Draw(t, "patch_healthy")
		before := e.Items()

		payload := fmt.Sprintf(`{"name":"ep-%d","healthy":%t}`, target, healthy)
		if got := e.ApplyPushEvent("endpoint", []byte(payload)); got != OutcomePatched {
			t.Fatalf("outcome %s", got)
		}

		after := e.Items()
		for i := range after {
			if i == target {
				if after[i].Healthy != healthy || after[i].Priority != i+1 {
					t.Fatalf("patched entity %+v", after[i])
				}
				continue
			}
			if after[i] != before[i] {
				t.Fatalf("entity %d was replaced", i)
			}
		}
		if e.Stats() != SummarizeEndpoints(after) {
			t.Fatalf("stats %+v drifted from list", e.Stats())
		}
	})
}

// chanDialer feeds the stream manager from tests.
type chanDialer struct {
	mu      sync.Mutex
	err     error
	sources []*chanSource
}

type chanSource struct {
	messages chan stream.Message
	done     chan struct{}
	once     sync.Once
}

func (s *chanSource) Next() (stream.Message, error) {
	select {
	case msg := <-s.messages:
		return msg, nil
	case <-s.done:
		return stream.Message{}, io.EOF
	}
}

func (s *chanSource) Close() error {
	s.once.Do(func() { close(s.done) })
	return nil
}

func (d *chanDialer) Open(context.Context, string) (stream.Source, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.err != nil {
		return nil, d.err
	}
	s := &chanSource{messages: make(chan stream.Message, 8), done: make(chan struct{})}
	d.sources = append(d.sources, s)
	return s, nil
}

func (d *chanDialer) setErr(err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.err = err
}

func (d *chanDialer) last() *chanSource {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.sources[len(d.sources)-1]
}

func newTestManager(t *testing.T, dialer stream.Dialer) *stream.Manager {
	m := stream.NewManager(stream.Options{
		BaseURL:              "http://127.0.0.1:8088",
		Categories:           []string{"endpoint", "group"},
		MaxReconnectAttempts: 0,
		ReconnectDelay:       5 * time.Millisecond,
		Dialer:               dialer,
		Logger:               zap.NewNop().Sugar(),
	})
	t.Cleanup(m.Disconnect)
	return m
}

func TestEngineAttachReceivesPush(t *testing.T) {
	dialer := &chanDialer{}
	m := newTestManager(t, dialer)

	f := &fakeFetch{items: sampleEndpoints()}
	e := newTestEngine(f, time.Hour)
	defer e.Close()
	require.NoError(t, e.Load(context.Background()))
	e.Attach(m)

	m.Connect()
	require.Eventually(t, func() bool { return m.Status().State == stream.StateConnected }, 2*time.Second, 5*time.Millisecond)

	dialer.last().messages <- stream.Message{Event: "endpoint", Data: `{"name":"alpha","healthy":false}`}
	require.Eventually(t, func() bool { return !e.Get("alpha").Healthy }, 2*time.Second, 5*time.Millisecond)
	assert.False(t, e.FallbackActive())
}

func TestEngineFallbackPolling(t *testing.T) {
	dialer := &chanDialer{err: errors.New("refused")}
	m := newTestManager(t, dialer)

	f := &fakeFetch{items: sampleEndpoints()}
	e := newTestEngine(f, 10*time.Millisecond)
	defer e.Close()
	e.Attach(m)
	assert.False(t, e.FallbackActive())

	m.Connect()
	require.Eventually(t, func() bool { return m.Status().State == stream.StateFailed }, 2*time.Second, 5*time.Millisecond)
	assert.True(t, e.FallbackActive())
	require.Eventually(t, func() bool { return f.count() >= 2 }, 2*time.Second, 5*time.Millisecond)
	assert.Len(t, e.Items(), 3)

	dialer.setErr(nil)
	m.Reconnect()
	require.Eventually(t, func() bool { return !e.FallbackActive() }, 2*time.Second, 5*time.Millisecond)

	calls := f.count()
	time.Sleep(50 * time.Millisecond)
	assert.LessOrEqual(t, f.count(), calls+1, "polling stops once push is healthy")
}

func TestEngineAttachStartsFallbackForDegradedChannel(t *testing.T) {
	dialer := &chanDialer{err: errors.New("refused")}
	m := newTestManager(t, dialer)
	m.Connect()
	require.Eventually(t, func() bool { return m.Status().State == stream.StateFailed }, 2*time.Second, 5*time.Millisecond)

	e := newTestEngine(&fakeFetch{}, time.Hour)
	e.Attach(m)
	assert.True(t, e.FallbackActive())

	e.Close()
	assert.False(t, e.FallbackActive())
}

func TestEngineCloseDetachesFromStream(t *testing.T) {
	dialer := &chanDialer{}
	m := newTestManager(t, dialer)

	f := &fakeFetch{items: sampleEndpoints()}
	e := newTestEngine(f, time.Hour)
	require.NoError(t, e.Load(context.Background()))
	e.Attach(m)

	m.Connect()
	require.Eventually(t, func() bool { return m.Status().State == stream.StateConnected }, 2*time.Second, 5*time.Millisecond)

	e.Close()
	dialer.last().messages <- stream.Message{Event: "endpoint", Data: `{"name":"alpha","healthy":false}`}
	time.Sleep(20 * time.Millisecond)
	assert.True(t, e.Get("alpha").Healthy)
}

func TestCollectionSpecsAgainstBackend(t *testing.T) {
	backend := testutil.NewBackend(t)
	backend.SetEndpoints(
		testutil.Endpoint("alpha", "main", 1, true, false),
		testutil.Endpoint("beta", "main", 2, false, false),
	)
	backend.SetGroups(testutil.Group("main", 1, true), testutil.Group("backup", 2, false))
	backend.SetCredentials(testutil.Credentials("alpha", 2, 1, 0))

	client := api.NewClient(backend.URL(), 2*time.Second, nil)
	ctx := context.Background()

	endpoints := NewEndpointEngine(client, Options{})
	defer endpoints.Close()
	require.NoError(t, endpoints.Load(ctx))
	assert.Equal(t, EndpointStats{Total: 2, Healthy: 1, Unhealthy: 1, HealthPercentage: "50.0"}, endpoints.Stats())

	groups := NewGroupEngine(client, Options{})
	defer groups.Close()
	require.NoError(t, groups.Load(ctx))
	assert.Equal(t, "main", groups.Stats().ActiveGroup)
	assert.False(t, groups.Stats().Switching)

	credentials := NewCredentialEngine(client, Options{})
	defer credentials.Close()
	require.NoError(t, credentials.Load(ctx))
	assert.Equal(t, CredentialStats{Endpoints: 1, Tokens: 2, APIKeys: 1}, credentials.Stats())

	// credential collection has no push category
	assert.Equal(t, OutcomeIgnored, credentials.ApplyPushEvent("", []byte(`{"endpoints":[]}`)))
}

// countingSource records how often an engine subscribes.
type countingSource struct {
	*stream.Manager
	mu   sync.Mutex
	subs int
}

func (c *countingSource) Subscribe(category string, handler stream.Handler) *stream.Subscription {
	c.mu.Lock()
	c.subs++
	c.mu.Unlock()
	return c.Manager.Subscribe(category, handler)
}

func (c *countingSource) OnStatus(handler stream.StatusHandler) *stream.StatusSubscription {
	c.mu.Lock()
	c.subs++
	c.mu.Unlock()
	return c.Manager.OnStatus(handler)
}

func (c *countingSource) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.subs
}

func TestEngineAttachAfterCloseIsNoop(t *testing.T) {
	dialer := &chanDialer{err: errors.New("refused")}
	src := &countingSource{Manager: newTestManager(t, dialer)}

	e := newTestEngine(&fakeFetch{items: sampleEndpoints()}, 10*time.Millisecond)
	e.Close()

	src.Connect()
	require.Eventually(t, func() bool { return src.Status().State == stream.StateFailed }, 2*time.Second, 5*time.Millisecond)

	e.Attach(src)
	assert.Zero(t, src.count())
	assert.False(t, e.FallbackActive())
}

func TestEnginePushPatchIdentityKeys(t *testing.T) {
	tests := []struct {
		name    string
		payload string
	}{
		{name: "endpoint_name", payload: `{"endpoint_name":"alpha","healthy":false}`},
		{name: "name", payload: `{"name":"alpha","healthy":false}`},
		{name: "endpoint", payload: `{"endpoint":"alpha","healthy":false}`},
		{name: "endpoint_name wins", payload: `{"endpoint_name":"alpha","name":"beta","healthy":false}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := newTestEngine(&fakeFetch{items: sampleEndpoints()}, 0)
			defer e.Close()
			require.NoError(t, e.Load(context.Background()))

			assert.Equal(t, OutcomePatched, e.ApplyPushEvent("endpoint", []byte(tt.payload)))
			assert.False(t, e.Get("alpha").Healthy)
			assert.True(t, e.Get("beta").Healthy)
		})
	}
}
