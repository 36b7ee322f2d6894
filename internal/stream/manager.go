// Package stream manages the dashboard push channel: one SSE connection with
// a reconnect state machine and per-category event dispatch.
package stream

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/smart-mcp-proxy/dashsync/internal/config"
)

// CatchAll subscribes to every delivered event.
const CatchAll = "*"

// Handler receives one event. payload is valid JSON.
type Handler func(category string, payload json.RawMessage)

// StatusHandler receives connection status changes.
type StatusHandler func(Status)

// Tracer opens a span around one connection attempt.
type Tracer interface {
	TraceStreamConnect(ctx context.Context, target string, attempt int) (context.Context, trace.Span)
}

// Options configures a Manager.
type Options struct {
	BaseURL              string
	Path                 string
	Categories           []string
	MaxReconnectAttempts int
	ReconnectDelay       time.Duration

	// BackOff overrides the constant ReconnectDelay policy.
	BackOff backoff.BackOff
	Dialer  Dialer

	// ClientID is consulted on the first connection attempt.
	ClientID func() (string, error)

	Tracer Tracer
	Logger *zap.SugaredLogger
}

// OptionsFromConfig maps the stream configuration section.
func OptionsFromConfig(baseURL string, cfg *config.StreamConfig) Options {
	if cfg == nil {
		cfg = config.DefaultStreamConfig()
	}
	return Options{
		BaseURL:              baseURL,
		Path:                 cfg.Path,
		Categories:           cfg.Categories,
		MaxReconnectAttempts: cfg.MaxReconnectAttempts,
		ReconnectDelay:       cfg.ReconnectDelay,
	}
}

// Manager owns the push channel lifecycle.
type Manager struct {
	opts       Options
	categories map[string]bool
	backoff    backoff.BackOff
	logger     *zap.SugaredLogger

	mu     sync.Mutex
	status Status
	seq    uint64
	gen    uint64 // bumped whenever the current connection is superseded
	cancel context.CancelFunc
	source Source
	timer  *time.Timer
	url    string

	subs       map[string][]*Subscription
	statusSubs []*StatusSubscription

	notifyMu  sync.Mutex
	delivered uint64
}

// NewManager creates a manager in the DISCONNECTED state.
func NewManager(opts Options) *Manager {
	def := config.DefaultStreamConfig()
	if opts.Path == "" {
		opts.Path = def.Path
	}
	if len(opts.Categories) == 0 {
		opts.Categories = def.Categories
	}
	if opts.MaxReconnectAttempts < 0 {
		opts.MaxReconnectAttempts = def.MaxReconnectAttempts
	}
	if opts.ReconnectDelay <= 0 {
		opts.ReconnectDelay = def.ReconnectDelay
	}
	if opts.Dialer == nil {
		opts.Dialer = NewHTTPDialer()
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop().Sugar()
	}

	policy := opts.BackOff
	if policy == nil {
		policy = backoff.NewConstantBackOff(opts.ReconnectDelay)
	}

	categories := make(map[string]bool, len(opts.Categories))
	for _, c := range opts.Categories {
		categories[c] = true
	}

	return &Manager{
		opts:       opts,
		categories: categories,
		backoff:    policy,
		logger:     opts.Logger,
		status:     Status{State: StateDisconnected, Since: time.Now()},
		subs:       make(map[string][]*Subscription),
	}
}

// Status returns the current connection status.
func (m *Manager) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.status
}

// Categories returns the subscribed event categories.
func (m *Manager) Categories() []string {
	return append([]string(nil), m.opts.Categories...)
}

// Connect opens the channel. It is a no-op while CONNECTED or CONNECTING,
// and while FAILED (only Reconnect leaves that state). A pending reconnect
// timer is replaced by an immediate attempt.
func (m *Manager) Connect() {
	m.mu.Lock()
	current := m.status
	switch current.State {
	case StateConnected, StateConnecting:
		m.mu.Unlock()
		m.logger.Debugw("Connect ignored, channel already active", "state", current.State)
		return
	case StateFailed:
		m.mu.Unlock()
		m.logger.Warnw("Connect ignored, reconnect budget exhausted. Call Reconnect",
			"attempts", current.Attempts)
		return
	}
	m.stopTimerLocked()
	st := m.startLocked()
	m.mu.Unlock()

	m.notify(st)
}

// Disconnect closes the channel and cancels any pending reconnect. It is
// safe from every state.
func (m *Manager) Disconnect() {
	m.mu.Lock()
	m.teardownLocked()
	if m.status.State == StateDisconnected {
		m.mu.Unlock()
		return
	}
	st := m.setStateLocked(StateDisconnected, m.status.Attempts, "")
	m.mu.Unlock()

	m.logger.Infow("Push channel disconnected")
	m.notify(st)
}

// Reconnect tears down any current channel, resets the attempt counter and
// connects again. It is the only way out of FAILED.
func (m *Manager) Reconnect() {
	m.mu.Lock()
	m.teardownLocked()
	m.status.Attempts = 0
	m.backoff.Reset()
	st := m.startLocked()
	m.mu.Unlock()

	m.logger.Infow("Push channel reconnect requested")
	m.notify(st)
}

// Subscribe registers handler for category (CatchAll for every event).
// Changing the handler later through the returned Subscription never
// touches the channel.
func (m *Manager) Subscribe(category string, handler Handler) *Subscription {
	sub := &Subscription{manager: m, category: category}
	sub.handler.Store(&handler)

	m.mu.Lock()
	m.subs[category] = append(m.subs[category], sub)
	m.mu.Unlock()

	if category != CatchAll && !m.categories[category] {
		m.logger.Warnw("Subscribed to a category the channel does not request", "category", category)
	}
	return sub
}

// OnStatus registers a status listener. Listeners run synchronously and
// always observe statuses in transition order; a listener that falls behind
// skips superseded statuses.
func (m *Manager) OnStatus(handler StatusHandler) *StatusSubscription {
	sub := &StatusSubscription{manager: m}
	sub.handler.Store(&handler)

	m.mu.Lock()
	m.statusSubs = append(m.statusSubs, sub)
	m.mu.Unlock()
	return sub
}

// startLocked begins a new connection attempt.
func (m *Manager) startLocked() Status {
	m.gen++
	gen := m.gen

	ctx, cancel := context.WithCancel(context.Background())
	m.cancel = cancel

	st := m.setStateLocked(StateConnecting, m.status.Attempts, m.status.LastError)
	go m.run(ctx, gen)
	return st
}

// teardownLocked invalidates the current connection and any pending retry.
func (m *Manager) teardownLocked() {
	m.gen++
	m.stopTimerLocked()
	if m.cancel != nil {
		m.cancel()
		m.cancel = nil
	}
	if m.source != nil {
		_ = m.source.Close()
		m.source = nil
	}
}

func (m *Manager) stopTimerLocked() {
	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}
}

func (m *Manager) setStateLocked(state State, attempts int, lastError string) Status {
	m.seq++
	m.status = Status{
		State:     state,
		Attempts:  attempts,
		LastError: lastError,
		Since:     time.Now(),
		seq:       m.seq,
	}
	return m.status
}

// HasPendingReconnect reports whether a reconnect timer is armed.
func (m *Manager) HasPendingReconnect() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.timer != nil
}

func (m *Manager) streamURL() (string, error) {
	m.mu.Lock()
	cached := m.url
	m.mu.Unlock()
	if cached != "" {
		return cached, nil
	}

	u, err := url.Parse(strings.TrimSuffix(m.opts.BaseURL, "/") + m.opts.Path)
	if err != nil {
		return "", fmt.Errorf("invalid stream URL: %w", err)
	}

	q := u.Query()
	if m.opts.ClientID != nil {
		id, err := m.opts.ClientID()
		if err != nil {
			return "", err
		}
		q.Set("client_id", id)
	}
	q.Set("events", strings.Join(m.opts.Categories, ","))
	u.RawQuery = q.Encode()

	m.mu.Lock()
	m.url = u.String()
	m.mu.Unlock()
	return u.String(), nil
}

// run owns one connection attempt and, once open, its read loop.
func (m *Manager) run(ctx context.Context, gen uint64) {
	target, err := m.streamURL()
	if err != nil {
		m.fail(gen, &StreamError{Op: "prepare", Err: err})
		return
	}

	source, err := m.open(ctx, target)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		m.fail(gen, &StreamError{Op: "open", Err: err})
		return
	}

	m.mu.Lock()
	if gen != m.gen {
		m.mu.Unlock()
		_ = source.Close()
		return
	}
	m.source = source
	m.backoff.Reset()
	st := m.setStateLocked(StateConnected, 0, "")
	m.mu.Unlock()

	m.logger.Infow("Push channel connected", "categories", m.opts.Categories)
	m.notify(st)

	for {
		msg, err := source.Next()
		if err != nil {
			_ = source.Close()
			if ctx.Err() != nil {
				return
			}
			m.fail(gen, &StreamError{Op: "read", Err: err})
			return
		}
		m.dispatch(gen, msg)
	}
}

// open dials target, inside a connection span when a tracer is set.
func (m *Manager) open(ctx context.Context, target string) (Source, error) {
	if m.opts.Tracer == nil {
		return m.opts.Dialer.Open(ctx, target)
	}

	m.mu.Lock()
	attempt := m.status.Attempts
	m.mu.Unlock()

	spanCtx, span := m.opts.Tracer.TraceStreamConnect(ctx, target, attempt)
	defer span.End()

	source, err := m.opts.Dialer.Open(spanCtx, target)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return source, err
}

// fail drives ERROR -> RECONNECTING, or FAILED once attempts exceed the maximum.
func (m *Manager) fail(gen uint64, err error) {
	m.mu.Lock()
	if gen != m.gen {
		m.mu.Unlock()
		return
	}
	m.source = nil
	if m.cancel != nil {
		m.cancel()
		m.cancel = nil
	}

	errStatus := m.setStateLocked(StateError, m.status.Attempts, err.Error())

	attempts := m.status.Attempts + 1
	var next Status
	delay := m.backoff.NextBackOff()
	if attempts > m.opts.MaxReconnectAttempts || delay == backoff.Stop {
		next = m.setStateLocked(StateFailed, attempts, err.Error())
	} else {
		next = m.setStateLocked(StateReconnecting, attempts, err.Error())
		m.timer = time.AfterFunc(delay, func() { m.retry(gen) })
	}
	m.mu.Unlock()

	m.notify(errStatus)
	if next.State == StateFailed {
		m.logger.Errorw("Push channel failed, reconnect budget exhausted",
			"attempts", attempts,
			"max_attempts", m.opts.MaxReconnectAttempts,
			"error", err)
	} else {
		m.logger.Warnw("Push channel error, scheduling reconnect",
			"attempt", attempts,
			"max_attempts", m.opts.MaxReconnectAttempts,
			"delay", delay,
			"error", err)
	}
	m.notify(next)
}

func (m *Manager) retry(gen uint64) {
	m.mu.Lock()
	if gen != m.gen || m.status.State != StateReconnecting {
		m.mu.Unlock()
		return
	}
	m.timer = nil
	st := m.startLocked()
	m.mu.Unlock()

	m.notify(st)
}

func (m *Manager) dispatch(gen uint64, msg Message) {
	payload := json.RawMessage(msg.Data)
	if !json.Valid(payload) {
		m.logger.Warnw("Dropping push event with malformed payload",
			"category", msg.Event,
			"size", len(msg.Data))
		return
	}

	named := msg.Event != DefaultEventName
	if named && !m.categories[msg.Event] {
		m.logger.Debugw("Dropping push event for unsubscribed category", "category", msg.Event)
		return
	}

	m.mu.Lock()
	if gen != m.gen {
		m.mu.Unlock()
		return
	}
	var targets []*Subscription
	if named {
		targets = append(targets, m.subs[msg.Event]...)
	}
	targets = append(targets, m.subs[CatchAll]...)
	m.mu.Unlock()

	for _, sub := range targets {
		if h := sub.handler.Load(); h != nil {
			(*h)(msg.Event, payload)
		}
	}
}

// notify delivers st to status listeners unless a newer status was already delivered.
func (m *Manager) notify(st Status) {
	m.notifyMu.Lock()
	defer m.notifyMu.Unlock()

	if st.seq <= m.delivered {
		return
	}
	m.delivered = st.seq

	m.mu.Lock()
	listeners := append([]*StatusSubscription(nil), m.statusSubs...)
	m.mu.Unlock()

	for _, sub := range listeners {
		if h := sub.handler.Load(); h != nil {
			(*h)(st)
		}
	}
}

// Subscription is a mutable cell holding the current handler for a category.
type Subscription struct {
	manager  *Manager
	category string
	handler  atomic.Pointer[Handler]
}

// Update swaps the handler; the channel is left untouched.
func (s *Subscription) Update(handler Handler) {
	s.handler.Store(&handler)
}

// Category returns the subscribed category.
func (s *Subscription) Category() string {
	return s.category
}

// Close stops delivery to this subscription.
func (s *Subscription) Close() {
	s.handler.Store(nil)

	m := s.manager
	m.mu.Lock()
	defer m.mu.Unlock()
	list := m.subs[s.category]
	for i, sub := range list {
		if sub == s {
			m.subs[s.category] = append(list[:i:i], list[i+1:]...)
			break
		}
	}
	if len(m.subs[s.category]) == 0 {
		delete(m.subs, s.category)
	}
}

// StatusSubscription is a mutable cell holding a status listener.
type StatusSubscription struct {
	manager *Manager
	handler atomic.Pointer[StatusHandler]
}

// Update swaps the listener.
func (s *StatusSubscription) Update(handler StatusHandler) {
	s.handler.Store(&handler)
}

// Close stops delivery to this listener.
func (s *StatusSubscription) Close() {
	s.handler.Store(nil)

	m := s.manager
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, sub := range m.statusSubs {
		if sub == s {
			m.statusSubs = append(m.statusSubs[:i:i], m.statusSubs[i+1:]...)
			break
		}
	}
}
