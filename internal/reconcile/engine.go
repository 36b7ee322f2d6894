// Package reconcile keeps one resource collection consistent across REST
// snapshots, push events and optimistic mutations.
package reconcile

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/smart-mcp-proxy/dashsync/internal/refresh"
	"github.com/smart-mcp-proxy/dashsync/internal/reqcontext"
	"github.com/smart-mcp-proxy/dashsync/internal/stream"
)

// DefaultFallbackInterval is the REST polling cadence while the push channel
// is unhealthy.
const DefaultFallbackInterval = 15 * time.Second

// ErrClosed is returned by Load after Close.
var ErrClosed = errors.New("engine closed")

// Spec describes one collection.
type Spec[T any, S any] struct {
	// Name labels logs and metrics, e.g. "endpoints".
	Name string

	// Category is the push category feeding this collection; empty means
	// REST only.
	Category string

	ListKeys     []string
	IdentityKeys []string

	Identity  func(*T) string
	Fetch     func(ctx context.Context) ([]*T, error)
	Summarize func([]*T) S
}

// Outcome reports what ApplyPushEvent did.
type Outcome string

const (
	OutcomeReplaced Outcome = "replaced"
	OutcomePatched  Outcome = "patched"
	OutcomeIgnored  Outcome = "ignored"
)

// Observer receives engine activity, typically for metrics.
type Observer interface {
	ObserveLoad(collection string, err error, d time.Duration)
	ObservePush(collection string, outcome Outcome)
	ObserveFallback(collection string, active bool)
}

// Options tunes an Engine.
type Options struct {
	FallbackInterval time.Duration
	Observer         Observer
	Logger           *zap.SugaredLogger
}

// View is an immutable snapshot of an engine's state.
type View[T any, S any] struct {
	Items      []*T
	Stats      S
	LastUpdate time.Time
	Loading    bool
	Err        error

	version uint64
}

// StreamSource is the part of the stream manager an engine attaches to.
type StreamSource interface {
	Subscribe(category string, handler stream.Handler) *stream.Subscription
	OnStatus(handler stream.StatusHandler) *stream.StatusSubscription
	Status() stream.Status
}

// Engine is the sole writer of one collection. Updates apply in the order
// they complete; there is no request fencing.
type Engine[T any, S any] struct {
	spec     Spec[T, S]
	logger   *zap.SugaredLogger
	observer Observer
	interval time.Duration

	ctx    context.Context
	cancel context.CancelFunc

	mu         sync.RWMutex
	items      []*T
	stats      S
	lastUpdate time.Time
	lastErr    error
	loading    bool
	version    uint64
	closed     bool

	fallback  *refresh.Scheduler
	sub       *stream.Subscription
	statusSub *stream.StatusSubscription

	watchMu   sync.Mutex
	watchers  map[int]func(View[T, S])
	nextWatch int
	delivered uint64
}

// New creates an empty engine.
func New[T any, S any](spec Spec[T, S], opts Options) *Engine[T, S] {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop().Sugar()
	}
	if opts.FallbackInterval <= 0 {
		opts.FallbackInterval = DefaultFallbackInterval
	}

	ctx, cancel := context.WithCancel(context.Background())
	e := &Engine[T, S]{
		spec:     spec,
		logger:   opts.Logger.With("collection", spec.Name),
		observer: opts.Observer,
		interval: opts.FallbackInterval,
		ctx:      ctx,
		cancel:   cancel,
		items:    []*T{},
		watchers: map[int]func(View[T, S]){},
	}
	e.stats = spec.Summarize(e.items)
	return e
}

// Name returns the collection name.
func (e *Engine[T, S]) Name() string {
	return e.spec.Name
}

// Load fetches the authoritative collection and replaces local state. It
// never touches the loading indicator.
func (e *Engine[T, S]) Load(ctx context.Context) error {
	if e.isClosed() {
		return ErrClosed
	}

	start := time.Now()
	items, err := e.spec.Fetch(ctx)
	if e.observer != nil {
		e.observer.ObserveLoad(e.spec.Name, err, time.Since(start))
	}

	if err != nil {
		e.mu.Lock()
		if e.closed {
			e.mu.Unlock()
			return ErrClosed
		}
		e.lastErr = err
		e.version++
		view := e.viewLocked()
		e.mu.Unlock()

		e.logger.Warnw("Failed to load collection", "error", err)
		e.notify(view)
		return err
	}

	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return ErrClosed
	}
	e.lastErr = nil
	e.replaceLocked(items)
	view := e.viewLocked()
	e.mu.Unlock()

	e.logger.Debugw("Collection loaded", "count", len(items), "duration", time.Since(start))
	e.notify(view)
	return nil
}

// Refresh is a user-initiated Load that toggles Loading while in flight.
func (e *Engine[T, S]) Refresh(ctx context.Context) error {
	e.setLoading(true)
	defer e.setLoading(false)
	return e.Load(reqcontext.WithSource(ctx, reqcontext.SourceManual))
}

func (e *Engine[T, S]) setLoading(loading bool) {
	e.mu.Lock()
	if e.closed || e.loading == loading {
		e.mu.Unlock()
		return
	}
	e.loading = loading
	e.version++
	view := e.viewLocked()
	e.mu.Unlock()

	e.notify(view)
}

// ApplyPushEvent merges one push payload. Events for other categories are
// ignored.
func (e *Engine[T, S]) ApplyPushEvent(category string, payload []byte) Outcome {
	outcome := e.applyPushEvent(category, payload)
	if e.observer != nil {
		e.observer.ObservePush(e.spec.Name, outcome)
	}
	return outcome
}

func (e *Engine[T, S]) applyPushEvent(category string, payload []byte) Outcome {
	if category != e.spec.Category || e.spec.Category == "" {
		return OutcomeIgnored
	}

	p := Classify(payload, e.spec.ListKeys, e.spec.IdentityKeys)
	switch p.Kind {
	case FullSnapshot:
		var items []*T
		if err := json.Unmarshal(p.List, &items); err != nil {
			e.logger.Warnw("Ignoring snapshot with undecodable entities", "error", err)
			return OutcomeIgnored
		}

		e.mu.Lock()
		if e.closed {
			e.mu.Unlock()
			return OutcomeIgnored
		}
		e.replaceLocked(items)
		view := e.viewLocked()
		e.mu.Unlock()

		e.logger.Debugw("Applied push snapshot", "count", len(items))
		e.notify(view)
		return OutcomeReplaced

	case EntityPatch:
		e.mu.Lock()
		if e.closed {
			e.mu.Unlock()
			return OutcomeIgnored
		}
		idx := e.indexLocked(p.Name)
		if idx < 0 {
			e.mu.Unlock()
			e.logger.Debugw("Ignoring patch for unknown entity", "name", p.Name)
			return OutcomeIgnored
		}
		updated, err := overlay(e.items[idx], p.Fields)
		if err != nil {
			e.mu.Unlock()
			e.logger.Warnw("Ignoring undecodable patch", "name", p.Name, "error", err)
			return OutcomeIgnored
		}
		e.setItemLocked(idx, updated)
		view := e.viewLocked()
		e.mu.Unlock()

		e.notify(view)
		return OutcomePatched

	default:
		e.logger.Debugw("Ignoring unrecognized push payload", "reason", p.Reason)
		return OutcomeIgnored
	}
}

// Patch applies fn to a copy of the named entity and swaps it in. fn must
// not mutate slices or maps it shares with the original. It reports whether
// the entity exists.
func (e *Engine[T, S]) Patch(name string, fn func(*T)) bool {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return false
	}
	idx := e.indexLocked(name)
	if idx < 0 {
		e.mu.Unlock()
		return false
	}
	updated := *e.items[idx]
	fn(&updated)
	e.setItemLocked(idx, &updated)
	view := e.viewLocked()
	e.mu.Unlock()

	e.notify(view)
	return true
}

// Items returns the current collection. The slice is owned by the caller;
// the entities must be treated as read-only.
func (e *Engine[T, S]) Items() []*T {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return append([]*T(nil), e.items...)
}

// Get returns the named entity, or nil.
func (e *Engine[T, S]) Get(name string) *T {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if idx := e.indexLocked(name); idx >= 0 {
		return e.items[idx]
	}
	return nil
}

// Stats returns the derived aggregates of the current collection.
func (e *Engine[T, S]) Stats() S {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.stats
}

// LastUpdate returns when the collection last changed.
func (e *Engine[T, S]) LastUpdate() time.Time {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.lastUpdate
}

// LastError returns the error of the most recent failed Load, cleared by a
// successful one.
func (e *Engine[T, S]) LastError() error {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.lastErr
}

// Loading reports whether a manual refresh is in flight.
func (e *Engine[T, S]) Loading() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.loading
}

// View returns a consistent snapshot of the engine state.
func (e *Engine[T, S]) View() View[T, S] {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.viewLocked()
}

// Watch registers fn for every change. fn runs synchronously and must not
// call Watch. The returned func unregisters it.
func (e *Engine[T, S]) Watch(fn func(View[T, S])) func() {
	e.watchMu.Lock()
	id := e.nextWatch
	e.nextWatch++
	e.watchers[id] = fn
	e.watchMu.Unlock()

	return func() {
		e.watchMu.Lock()
		delete(e.watchers, id)
		e.watchMu.Unlock()
	}
}

// Attach subscribes to the engine's push category and follows the channel
// status: ERROR or FAILED start fallback polling, CONNECTED stops it.
// A closed engine ignores Attach.
func (e *Engine[T, S]) Attach(src StreamSource) {
	if e.isClosed() {
		return
	}

	var sub *stream.Subscription
	if e.spec.Category != "" {
		sub = src.Subscribe(e.spec.Category, func(category string, payload json.RawMessage) {
			e.ApplyPushEvent(category, payload)
		})
	}
	statusSub := src.OnStatus(e.onStatus)

	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		if sub != nil {
			sub.Close()
		}
		statusSub.Close()
		return
	}
	e.sub, e.statusSub = sub, statusSub
	e.mu.Unlock()

	e.onStatus(src.Status())
}

// FallbackActive reports whether REST polling currently replaces push.
func (e *Engine[T, S]) FallbackActive() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.fallback != nil
}

func (e *Engine[T, S]) onStatus(st stream.Status) {
	switch {
	case st.State.Degraded():
		e.startFallback(st.State)
	case st.State == stream.StateConnected:
		e.stopFallback()
	}
}

func (e *Engine[T, S]) startFallback(state stream.State) {
	e.mu.Lock()
	if e.closed || e.fallback != nil {
		e.mu.Unlock()
		return
	}
	poller := refresh.New(e.interval, e.logger)
	poller.SetCallback(func(bool) {
		ctx := reqcontext.WithSource(e.ctx, reqcontext.SourcePoll)
		_ = e.Load(ctx)
	})
	e.fallback = poller
	e.mu.Unlock()

	e.logger.Infow("Push channel unhealthy, polling collection", "state", state, "interval", e.interval)
	if e.observer != nil {
		e.observer.ObserveFallback(e.spec.Name, true)
	}
}

func (e *Engine[T, S]) stopFallback() {
	e.mu.Lock()
	poller := e.fallback
	e.fallback = nil
	e.mu.Unlock()

	if poller == nil {
		return
	}
	poller.Stop()
	e.logger.Infow("Push channel healthy, fallback polling stopped")
	if e.observer != nil {
		e.observer.ObserveFallback(e.spec.Name, false)
	}
}

// Close detaches from the stream, stops polling and drops in-flight loads.
func (e *Engine[T, S]) Close() {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	e.closed = true
	sub, statusSub := e.sub, e.statusSub
	e.sub, e.statusSub = nil, nil
	e.mu.Unlock()

	if sub != nil {
		sub.Close()
	}
	if statusSub != nil {
		statusSub.Close()
	}
	e.stopFallback()
	e.cancel()
}

func (e *Engine[T, S]) isClosed() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.closed
}

func (e *Engine[T, S]) replaceLocked(items []*T) {
	kept := make([]*T, 0, len(items))
	for _, item := range items {
		if item != nil {
			kept = append(kept, item)
		}
	}
	e.items = kept
	e.touchLocked()
}

// setItemLocked swaps one entity; the other pointers are retained.
func (e *Engine[T, S]) setItemLocked(idx int, item *T) {
	items := make([]*T, len(e.items))
	copy(items, e.items)
	items[idx] = item
	e.items = items
	e.touchLocked()
}

func (e *Engine[T, S]) touchLocked() {
	e.stats = e.spec.Summarize(e.items)
	e.lastUpdate = time.Now()
	e.version++
}

func (e *Engine[T, S]) indexLocked(name string) int {
	for i, item := range e.items {
		if e.spec.Identity(item) == name {
			return i
		}
	}
	return -1
}

func (e *Engine[T, S]) viewLocked() View[T, S] {
	return View[T, S]{
		Items:      e.items,
		Stats:      e.stats,
		LastUpdate: e.lastUpdate,
		Loading:    e.loading,
		Err:        e.lastErr,
		version:    e.version,
	}
}

// notify delivers view to watchers unless a newer one already went out.
func (e *Engine[T, S]) notify(view View[T, S]) {
	e.watchMu.Lock()
	defer e.watchMu.Unlock()
	if view.version <= e.delivered {
		return
	}
	e.delivered = view.version
	for _, fn := range e.watchers {
		fn(view)
	}
}
