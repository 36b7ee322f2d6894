// Package dashboard composes the sync components behind a single session
// that owns their lifecycle.
package dashboard

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/smart-mcp-proxy/dashsync/internal/api"
	"github.com/smart-mcp-proxy/dashsync/internal/chartbus"
	"github.com/smart-mcp-proxy/dashsync/internal/config"
	"github.com/smart-mcp-proxy/dashsync/internal/identity"
	"github.com/smart-mcp-proxy/dashsync/internal/mutation"
	"github.com/smart-mcp-proxy/dashsync/internal/observability"
	"github.com/smart-mcp-proxy/dashsync/internal/reconcile"
	"github.com/smart-mcp-proxy/dashsync/internal/refresh"
	"github.com/smart-mcp-proxy/dashsync/internal/reqcontext"
	"github.com/smart-mcp-proxy/dashsync/internal/storage"
	"github.com/smart-mcp-proxy/dashsync/internal/stream"
)

var (
	ErrClosed         = errors.New("session closed")
	ErrAlreadyStarted = errors.New("session already started")
)

// Deps carries optional collaborators. Zero values select the production ones.
type Deps struct {
	Logger *zap.SugaredLogger

	// IdentityStore replaces the bbolt store in the data directory.
	IdentityStore identity.Store
	Dialer        stream.Dialer

	// Observability is created on demand unless DisableObservability is set.
	Observability        *observability.Manager
	DisableObservability bool

	// Tracing replaces the manager built from cfg.Tracing.
	Tracing *observability.TracingManager
}

// Session is the hosting view: it wires every component and tears them all
// down on Close.
type Session struct {
	cfg    *config.Config
	logger *zap.SugaredLogger

	db       *storage.BoltDB
	identity *identity.Provider
	client   *api.Client
	stream   *stream.Manager

	endpoints   *reconcile.EndpointEngine
	groups      *reconcile.GroupEngine
	credentials *reconcile.CredentialEngine
	mutations   *mutation.Coordinator

	scheduler *refresh.Scheduler
	bus       *chartbus.Bus
	charts    *chartbus.Router
	obs       *observability.Manager
	tracing   *observability.TracingManager

	detach []func()

	appCtx    context.Context
	appCancel context.CancelFunc

	mu      sync.Mutex
	started bool
	closed  bool
}

// NewSession builds a session for cfg. Nothing touches the network until Start.
func NewSession(cfg *config.Config, deps Deps) (*Session, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}

	s := &Session{
		cfg:    cfg,
		logger: logger,
	}

	store := deps.IdentityStore
	if store == nil {
		db, err := storage.NewBoltDB(cfg.DataDir, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to open identity store: %w", err)
		}
		s.db = db
		store = db
	}
	s.identity = identity.NewProvider(store, logger)

	if err := s.buildObservability(deps); err != nil {
		if s.db != nil {
			_ = s.db.Close()
		}
		return nil, err
	}
	metrics := s.metrics()

	s.client = api.NewClient(cfg.BaseURL, cfg.RequestTimeout, logger.Named("api"))
	if metrics != nil {
		s.client.SetObserver(metrics)
	}
	if s.tracing != nil {
		s.client.SetTracer(s.tracing)
		s.identity.SetTracer(s.tracing)
	}

	streamOpts := stream.OptionsFromConfig(cfg.BaseURL, cfg.Stream)
	streamOpts.Dialer = deps.Dialer
	streamOpts.ClientID = s.identity.ClientID
	streamOpts.Logger = logger.Named("stream")
	if s.tracing != nil {
		streamOpts.Tracer = s.tracing
	}
	s.stream = stream.NewManager(streamOpts)

	engineOpts := reconcile.Options{
		FallbackInterval: cfg.FallbackPollInterval,
		Logger:           logger.Named("reconcile"),
	}
	if metrics != nil {
		engineOpts.Observer = metrics
	}
	s.endpoints = reconcile.NewEndpointEngine(s.client, engineOpts)
	s.groups = reconcile.NewGroupEngine(s.client, engineOpts)
	s.credentials = reconcile.NewCredentialEngine(s.client, engineOpts)

	s.mutations = mutation.New(s.client, mutation.Engines{
		Endpoints:   s.endpoints,
		Groups:      s.groups,
		Credentials: s.credentials,
	}, mutation.Options{
		ConfirmDelay: cfg.ConfirmDelay,
		Logger:       logger.Named("mutation"),
	})

	s.bus = chartbus.New(logger.Named("charts"))
	s.charts = chartbus.NewRouter(s.bus, s.client, logger.Named("charts"))

	s.appCtx, s.appCancel = context.WithCancel(context.Background())
	s.scheduler = refresh.New(0, logger.Named("refresh"))
	s.scheduler.SetCallback(func(silent bool) {
		if err := s.Refresh(s.appCtx, silent); err != nil {
			s.logger.Debugw("Scheduled refresh incomplete", "error", err)
		}
	})

	if err := s.wireObservability(); err != nil {
		s.teardown()
		return nil, err
	}

	return s, nil
}

// buildObservability sets up metrics and health unless disabled, and tracing
// when cfg.Tracing enables it. Tracing does not depend on the metrics switch.
func (s *Session) buildObservability(deps Deps) error {
	tracingCfg := observability.DefaultConfig().Tracing
	if t := s.cfg.Tracing; t != nil && deps.Tracing == nil {
		tracingCfg.Enabled = t.Enabled
		tracingCfg.OTLPEndpoint = t.OTLPEndpoint
		tracingCfg.SampleRate = t.SampleRate
	}

	s.obs = deps.Observability
	if s.obs == nil && !deps.DisableObservability {
		obsCfg := observability.DefaultConfig()
		obsCfg.Tracing = tracingCfg
		obs, err := observability.NewManager(s.logger.Named("observability"), obsCfg)
		if err != nil {
			return fmt.Errorf("failed to set up observability: %w", err)
		}
		s.obs = obs
	}

	switch {
	case deps.Tracing != nil:
		s.tracing = deps.Tracing
	case s.obs != nil:
		s.tracing = s.obs.Tracing()
	case tracingCfg.Enabled:
		tracing, err := observability.NewTracingManager(s.logger.Named("tracing"), tracingCfg)
		if err != nil {
			return fmt.Errorf("failed to set up tracing: %w", err)
		}
		s.tracing = tracing
	}
	if s.obs != nil && s.tracing != nil {
		s.obs.SetTracing(s.tracing)
	}
	return nil
}

func (s *Session) metrics() *observability.MetricsManager {
	if s.obs == nil {
		return nil
	}
	return s.obs.Metrics()
}

func (s *Session) wireObservability() error {
	if s.obs == nil {
		return nil
	}

	if s.db != nil {
		db := observability.NewDatabaseHealthChecker("identity-store", s.db)
		s.obs.RegisterHealthChecker(db)
		s.obs.RegisterReadinessChecker(db)
	}
	streamCheck := observability.NewStreamHealthChecker(s.stream)
	s.obs.RegisterHealthChecker(streamCheck)
	s.obs.RegisterReadinessChecker(streamCheck)
	for _, col := range []observability.CollectionState{s.endpoints, s.groups, s.credentials} {
		check := observability.NewCollectionHealthChecker(col)
		s.obs.RegisterHealthChecker(check)
		s.obs.RegisterReadinessChecker(check)
	}

	metrics := s.metrics()
	if metrics == nil {
		return nil
	}

	statusSub := s.stream.OnStatus(metrics.RecordStreamStatus)
	s.detach = append(s.detach,
		statusSub.Close,
		s.endpoints.Watch(func(v reconcile.View[api.Endpoint, reconcile.EndpointStats]) {
			metrics.SetCollectionSize(s.endpoints.Name(), len(v.Items))
		}),
		s.groups.Watch(func(v reconcile.View[api.Group, reconcile.GroupStats]) {
			metrics.SetCollectionSize(s.groups.Name(), len(v.Items))
		}),
		s.credentials.Watch(func(v reconcile.View[api.CredentialSet, reconcile.CredentialStats]) {
			metrics.SetCollectionSize(s.credentials.Name(), len(v.Items))
		}),
	)
	for _, tag := range chartbus.Tags() {
		unsubscribe, err := s.bus.Subscribe(tag, func(msg chartbus.Message) {
			metrics.RecordChartUpdate(string(msg.Tag))
		})
		if err != nil {
			return fmt.Errorf("failed to subscribe chart metrics: %w", err)
		}
		s.detach = append(s.detach, unsubscribe)
	}
	return nil
}

// Start performs the initial loads concurrently, then opens the push
// channel and starts the schedulers. Load failures are recorded on the
// collections and do not fail Start.
func (s *Session) Start(ctx context.Context) error {
	s.mu.Lock()
	switch {
	case s.closed:
		s.mu.Unlock()
		return ErrClosed
	case s.started:
		s.mu.Unlock()
		return ErrAlreadyStarted
	}
	s.started = true
	s.mu.Unlock()

	if err := s.Refresh(ctx, false); err != nil {
		s.logger.Warnw("Initial load incomplete", "error", err)
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	// Close may have run during the initial load. Holding mu keeps it
	// from interleaving with the wiring below.
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}

	// Engines attach before the channel opens so no event is missed.
	s.endpoints.Attach(s.stream)
	s.groups.Attach(s.stream)
	s.charts.Attach(s.stream)
	s.stream.Connect()

	s.scheduler.SetInterval(s.cfg.RefreshInterval)
	s.charts.StartPolling(s.cfg.ChartRefreshInterval)
	s.mu.Unlock()

	s.logger.Infow("Session started",
		"base_url", s.cfg.BaseURL,
		"refresh_interval", s.cfg.RefreshInterval,
		"chart_refresh_interval", s.cfg.ChartRefreshInterval)
	return nil
}

// Refresh reloads every collection and chart concurrently. A silent refresh
// leaves the loading flags untouched.
func (s *Session) Refresh(ctx context.Context, silent bool) error {
	if s.isClosed() {
		return ErrClosed
	}

	source := reqcontext.SourceManual
	if silent {
		source = reqcontext.SourcePoll
	}
	ctx = reqcontext.WithSource(ctx, source)

	var g errgroup.Group
	g.Go(func() error { return reload(ctx, s.endpoints, silent) })
	g.Go(func() error { return reload(ctx, s.groups, silent) })
	g.Go(func() error { return reload(ctx, s.credentials, silent) })
	g.Go(func() error { return s.charts.LoadAll(ctx) })
	return g.Wait()
}

type reloader interface {
	Load(ctx context.Context) error
	Refresh(ctx context.Context) error
}

func reload(ctx context.Context, r reloader, silent bool) error {
	if silent {
		return r.Load(ctx)
	}
	return r.Refresh(ctx)
}

// SetVisible pauses and resumes the refresh and chart schedulers.
func (s *Session) SetVisible(visible bool) {
	if s.isClosed() {
		return
	}
	s.scheduler.SetVisible(visible)
	s.charts.SetVisible(visible)
}

// SetRefreshInterval changes the auto refresh cadence. Zero disables it.
func (s *Session) SetRefreshInterval(interval time.Duration) {
	if s.isClosed() {
		return
	}
	s.scheduler.SetInterval(interval)
}

// ServeObservability exposes /healthz, /readyz and /metrics until ctx is done.
func (s *Session) ServeObservability(ctx context.Context, listener net.Listener) error {
	if s.obs == nil {
		return fmt.Errorf("observability is disabled")
	}
	return s.obs.Serve(ctx, listener)
}

// Close tears down every timer, subscription and the push channel. It is
// safe to call more than once.
func (s *Session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	return s.teardown()
}

func (s *Session) teardown() error {
	s.scheduler.Stop()
	s.charts.Close()
	s.mutations.Close()

	for _, detach := range s.detach {
		detach()
	}
	s.detach = nil

	s.endpoints.Close()
	s.groups.Close()
	s.credentials.Close()
	s.stream.Disconnect()
	s.appCancel()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if s.obs != nil {
		_ = s.obs.Close(shutdownCtx)
	} else if s.tracing != nil {
		if err := s.tracing.Close(shutdownCtx); err != nil {
			s.logger.Warnw("Failed to close tracing", "error", err)
		}
	}

	if s.db != nil {
		if err := s.db.Close(); err != nil {
			return fmt.Errorf("failed to close identity store: %w", err)
		}
	}
	s.logger.Debug("Session closed")
	return nil
}

func (s *Session) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Config returns the session configuration.
func (s *Session) Config() *config.Config { return s.cfg }

// Client returns the REST client.
func (s *Session) Client() *api.Client { return s.client }

// Stream returns the push channel manager.
func (s *Session) Stream() *stream.Manager { return s.stream }

// Endpoints returns the endpoint collection.
func (s *Session) Endpoints() *reconcile.EndpointEngine { return s.endpoints }

// Groups returns the group collection.
func (s *Session) Groups() *reconcile.GroupEngine { return s.groups }

// Credentials returns the credential collection.
func (s *Session) Credentials() *reconcile.CredentialEngine { return s.credentials }

// Mutations returns the write path.
func (s *Session) Mutations() *mutation.Coordinator { return s.mutations }

// Charts returns the chart bus.
func (s *Session) Charts() *chartbus.Bus { return s.bus }

// Scheduler returns the auto refresh scheduler.
func (s *Session) Scheduler() *refresh.Scheduler { return s.scheduler }

// Observability returns the metrics and health manager, nil when disabled.
func (s *Session) Observability() *observability.Manager { return s.obs }

// ClientID returns the persisted client identifier.
func (s *Session) ClientID() (string, error) { return s.identity.ClientID() }
