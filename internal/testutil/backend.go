// Package testutil provides a fake dashboard backend for package tests: the
// REST surface plus an SSE push stream, both served by one chi router.
package testutil

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
)

// StreamPath is where the fake serves the push channel.
const StreamPath = "/api/v1/stream"

// Request is one recorded call.
type Request struct {
	Method string
	Path   string
	Query  url.Values
	Body   string
}

type failure struct {
	status int
	body   string
}

type sseMessage struct {
	event string
	data  string
}

type stream struct {
	messages chan sseMessage
	done     chan struct{}
	once     sync.Once
}

func (s *stream) close() {
	s.once.Do(func() { close(s.done) })
}

// Backend is a stateful in-memory dashboard backend.
type Backend struct {
	Router chi.Router
	Server *httptest.Server

	mu            sync.Mutex
	endpoints     []map[string]interface{}
	groups        []map[string]interface{}
	credentials   []map[string]interface{}
	static        map[string]interface{}
	failures      map[string]failure
	delays        map[string]time.Duration
	requests      []Request
	streams       map[*stream]struct{}
	streamQueries []url.Values
	streamStatus  int
	probeHealthy  bool
}

// NewBackend starts a fake backend; it is closed when the test ends.
func NewBackend(t interface{ Cleanup(func()) }) *Backend {
	b := &Backend{
		static:       map[string]interface{}{},
		failures:     map[string]failure{},
		delays:       map[string]time.Duration{},
		streams:      map[*stream]struct{}{},
		probeHealthy: true,
	}

	r := chi.NewRouter()
	r.Use(b.record)

	r.NotFound(b.serveStatic)
	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/stream", b.serveStream)
		r.Get("/endpoints", b.listEndpoints)
		r.Post("/endpoints/health-check-all", b.checkAll)
		r.Post("/endpoints/{name}/health-check", b.checkOne)
		r.Post("/endpoints/{name}/priority", b.updatePriority)
		r.Get("/endpoints/{name}/keys", b.endpointKeys)
		r.Post("/endpoints/{name}/keys/token", b.switchKey("tokens"))
		r.Post("/endpoints/{name}/keys/api-key", b.switchKey("api_keys"))
		r.Get("/keys/overview", b.keysOverview)
		r.Get("/groups", b.listGroups)
		r.Post("/groups/{name}/activate", b.activateGroup)
		r.Post("/groups/{name}/pause", b.pauseGroup)
	})

	b.Router = r
	b.Server = httptest.NewServer(r)

	t.Cleanup(b.Close)
	return b
}

// URL returns the base URL of the fake.
func (b *Backend) URL() string {
	return b.Server.URL
}

// Close drops every stream and shuts the server down.
func (b *Backend) Close() {
	b.DropStreams()
	b.Server.Close()
}

// State

// Endpoint builds an endpoint record.
func Endpoint(name, group string, priority int, healthy, neverChecked bool) map[string]interface{} {
	return map[string]interface{}{
		"name":               name,
		"url":                "https://" + name + ".example.com",
		"priority":           priority,
		"group":              group,
		"group_priority":     1,
		"group_is_active":    false,
		"timeout":            "30s",
		"healthy":            healthy,
		"last_check":         "2025-01-01 00:00:00",
		"response_time":      "120ms",
		"never_checked":      neverChecked,
		"error":              "",
		"active_token_index": 0,
	}
}

// Group builds a group record.
func Group(name string, priority int, active bool) map[string]interface{} {
	return map[string]interface{}{
		"name":              name,
		"is_active":         active,
		"priority":          priority,
		"total_endpoints":   0,
		"healthy_endpoints": 0,
		"in_cooldown":       false,
	}
}

// Credentials builds a credential set with tokens named after the endpoint;
// the entry at active is marked active.
func Credentials(endpoint string, tokens, apiKeys, active int) map[string]interface{} {
	build := func(prefix string, n int) []interface{} {
		list := make([]interface{}, 0, n)
		for i := 0; i < n; i++ {
			list = append(list, map[string]interface{}{
				"index":     i,
				"name":      fmt.Sprintf("%s-%s-%d", endpoint, prefix, i),
				"masked":    fmt.Sprintf("sk-****%04d", i),
				"is_active": i == active,
			})
		}
		return list
	}
	return map[string]interface{}{
		"endpoint": endpoint,
		"tokens":   build("token", tokens),
		"api_keys": build("key", apiKeys),
	}
}

// SetEndpoints replaces the endpoint collection.
func (b *Backend) SetEndpoints(endpoints ...map[string]interface{}) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.endpoints = endpoints
}

// EndpointField returns a field of a stored endpoint.
func (b *Backend) EndpointField(name, field string) interface{} {
	b.mu.Lock()
	defer b.mu.Unlock()
	if ep := find(b.endpoints, "name", name); ep != nil {
		return ep[field]
	}
	return nil
}

// SetEndpointField changes one stored endpoint field, simulating an external change.
func (b *Backend) SetEndpointField(name, field string, value interface{}) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if ep := find(b.endpoints, "name", name); ep != nil {
		ep[field] = value
	}
}

// SetGroups replaces the group collection.
func (b *Backend) SetGroups(groups ...map[string]interface{}) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.groups = groups
}

// SetCredentials replaces the credential sets.
func (b *Backend) SetCredentials(sets ...map[string]interface{}) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.credentials = sets
}

// SetProbeResult sets the healthy value reported by health probes.
func (b *Backend) SetProbeResult(healthy bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.probeHealthy = healthy
}

// SetJSON serves body with status 200 for method and path (e.g. "GET", "/api/v1/status").
func (b *Backend) SetJSON(method, path string, body interface{}) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.static[method+" "+path] = body
}

// Fail makes method and path answer status with a raw body until ClearFailures.
func (b *Backend) Fail(method, path string, status int, body string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures[method+" "+path] = failure{status: status, body: body}
}

// Delay holds responses to method and path for d.
func (b *Backend) Delay(method, path string, d time.Duration) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.delays[method+" "+path] = d
}

// ClearFailures removes every Fail and Delay.
func (b *Backend) ClearFailures() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures = map[string]failure{}
	b.delays = map[string]time.Duration{}
}

// Requests returns every recorded call.
func (b *Backend) Requests() []Request {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]Request(nil), b.requests...)
}

// RequestCount counts recorded calls for method and path.
func (b *Backend) RequestCount(method, path string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := 0
	for _, r := range b.requests {
		if r.Method == method && r.Path == path {
			n++
		}
	}
	return n
}

// Middleware

func (b *Backend) record(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body []byte
		if r.Body != nil {
			body, _ = io.ReadAll(r.Body)
			r.Body = io.NopCloser(bytes.NewReader(body))
		}

		key := r.Method + " " + r.URL.Path

		b.mu.Lock()
		b.requests = append(b.requests, Request{
			Method: r.Method,
			Path:   r.URL.Path,
			Query:  r.URL.Query(),
			Body:   string(body),
		})
		fail, failing := b.failures[key]
		delay := b.delays[key]
		b.mu.Unlock()

		if delay > 0 {
			select {
			case <-time.After(delay):
			case <-r.Context().Done():
				return
			}
		}

		if failing {
			w.WriteHeader(fail.status)
			_, _ = w.Write([]byte(fail.body))
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (b *Backend) serveStatic(w http.ResponseWriter, r *http.Request) {
	b.mu.Lock()
	body, ok := b.static[r.Method+" "+r.URL.Path]
	b.mu.Unlock()

	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]interface{}{"error": "not found: " + r.URL.Path})
		return
	}
	writeJSON(w, http.StatusOK, body)
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	data, err := json.Marshal(body)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeRaw(w, status, data)
}

func writeRaw(w http.ResponseWriter, status int, data []byte) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(data)
}

func find(list []map[string]interface{}, key, value string) map[string]interface{} {
	for _, item := range list {
		if item[key] == value {
			return item
		}
	}
	return nil
}
