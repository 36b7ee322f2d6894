// Package mutation executes dashboard write operations with an optimistic
// local patch followed by a delayed authoritative reload.
package mutation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/smart-mcp-proxy/dashsync/internal/api"
	"github.com/smart-mcp-proxy/dashsync/internal/reconcile"
	"github.com/smart-mcp-proxy/dashsync/internal/reqcontext"
)

// DefaultConfirmDelay is how long after a write the affected collections are
// reloaded.
const DefaultConfirmDelay = 500 * time.Millisecond

// ErrInvalidArgument is wrapped by every input validation failure. No request
// is issued when it is returned.
var ErrInvalidArgument = errors.New("invalid argument")

// Engines are the collections a coordinator patches. Any may be nil.
type Engines struct {
	Endpoints   *reconcile.EndpointEngine
	Groups      *reconcile.GroupEngine
	Credentials *reconcile.CredentialEngine
}

// Options tunes a Coordinator.
type Options struct {
	ConfirmDelay time.Duration
	Logger       *zap.SugaredLogger
}

type loader interface {
	Name() string
	Load(ctx context.Context) error
}

// Coordinator is safe for concurrent use.
type Coordinator struct {
	client  *api.Client
	engines Engines
	delay   time.Duration
	logger  *zap.SugaredLogger

	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.Mutex
	timers map[*time.Timer]struct{}
	closed bool
}

// New creates a coordinator writing through client.
func New(client *api.Client, engines Engines, opts Options) *Coordinator {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop().Sugar()
	}
	if opts.ConfirmDelay < 0 {
		opts.ConfirmDelay = 0
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Coordinator{
		client:  client,
		engines: engines,
		delay:   opts.ConfirmDelay,
		logger:  opts.Logger,
		ctx:     ctx,
		cancel:  cancel,
		timers:  map[*time.Timer]struct{}{},
	}
}

// UpdatePriority changes an endpoint's priority (1 is highest).
func (c *Coordinator) UpdatePriority(ctx context.Context, endpoint string, priority int) error {
	if err := requireName("endpoint", endpoint); err != nil {
		return err
	}
	if priority < 1 {
		return fmt.Errorf("%w: priority must be at least 1, got %d", ErrInvalidArgument, priority)
	}

	if _, err := c.client.UpdatePriority(c.writeContext(ctx), endpoint, priority); err != nil {
		c.logger.Errorw("Failed to update endpoint priority",
			"endpoint", endpoint,
			"priority", priority,
			"error", err)
		return err
	}

	if e := c.engines.Endpoints; e != nil {
		e.Patch(endpoint, func(ep *api.Endpoint) { ep.Priority = priority })
	}
	c.logger.Infow("Endpoint priority updated", "endpoint", endpoint, "priority", priority)

	c.confirm(c.endpoints())
	return nil
}

// CheckHealth probes one endpoint and records the result locally.
func (c *Coordinator) CheckHealth(ctx context.Context, endpoint string) (*api.HealthCheckResult, error) {
	if err := requireName("endpoint", endpoint); err != nil {
		return nil, err
	}

	result, err := c.client.CheckEndpointHealth(c.writeContext(ctx), endpoint)
	if err != nil {
		c.logger.Errorw("Health check failed", "endpoint", endpoint, "error", err)
		return nil, err
	}

	if e := c.engines.Endpoints; e != nil {
		e.Patch(endpoint, func(ep *api.Endpoint) {
			ep.Healthy = result.Healthy
			ep.NeverChecked = false
			if result.ResponseTime != "" {
				ep.ResponseTime = result.ResponseTime
			}
			if result.LastCheck != "" {
				ep.LastCheck = result.LastCheck
			}
		})
	}
	c.logger.Infow("Endpoint health checked", "endpoint", endpoint, "healthy", result.Healthy)

	c.confirm(c.endpoints(), c.groups())
	return result, nil
}

// CheckAllHealth probes every endpoint. The bulk result carries no
// per-endpoint detail, so the collections are reloaded right away.
func (c *Coordinator) CheckAllHealth(ctx context.Context) (*api.BulkHealthCheckResult, error) {
	result, err := c.client.CheckAllEndpointsHealth(c.writeContext(ctx))
	if err != nil {
		c.logger.Errorw("Bulk health check failed", "error", err)
		return nil, err
	}

	c.logger.Infow("All endpoints health checked",
		"total", result.Total,
		"healthy", result.HealthyCount,
		"unhealthy", result.UnhealthyCount)

	for _, l := range compact(c.endpoints(), c.groups()) {
		if err := l.Load(c.writeContext(ctx)); err != nil {
			c.logger.Warnw("Reload after bulk health check failed", "collection", l.Name(), "error", err)
		}
	}
	return result, nil
}

// SwitchCredential makes the credential at index the active one of its list.
func (c *Coordinator) SwitchCredential(ctx context.Context, endpoint string, kind api.CredentialKind, index int) (*api.SwitchResult, error) {
	if err := requireName("endpoint", endpoint); err != nil {
		return nil, err
	}
	if !kind.Valid() {
		return nil, fmt.Errorf("%w: unknown credential kind %q", ErrInvalidArgument, kind)
	}
	if index < 0 {
		return nil, fmt.Errorf("%w: credential index cannot be negative, got %d", ErrInvalidArgument, index)
	}

	result, err := c.client.SwitchCredential(c.writeContext(ctx), endpoint, kind, index)
	if err != nil {
		c.logger.Errorw("Failed to switch credential",
			"endpoint", endpoint,
			"kind", kind,
			"index", index,
			"error", err)
		return nil, err
	}

	if e := c.engines.Credentials; e != nil {
		e.Patch(endpoint, func(set *api.CredentialSet) {
			switch kind {
			case api.CredentialToken:
				set.Tokens = activate(set.Tokens, index)
			case api.CredentialAPIKey:
				set.APIKeys = activate(set.APIKeys, index)
			}
		})
	}
	if e := c.engines.Endpoints; e != nil && kind == api.CredentialToken {
		e.Patch(endpoint, func(ep *api.Endpoint) { ep.ActiveTokenIndex = index })
	}
	c.logger.Infow("Credential switched", "endpoint", endpoint, "kind", kind, "index", index)

	c.confirm(c.credentials(), c.endpoints())
	return result, nil
}

// ActivateGroup makes group the active one. Only the named group is patched
// locally; the reload settles the others.
func (c *Coordinator) ActivateGroup(ctx context.Context, group string) error {
	return c.groupAction(ctx, group, true)
}

// PauseGroup deactivates group.
func (c *Coordinator) PauseGroup(ctx context.Context, group string) error {
	return c.groupAction(ctx, group, false)
}

func (c *Coordinator) groupAction(ctx context.Context, group string, active bool) error {
	if err := requireName("group", group); err != nil {
		return err
	}

	var err error
	if active {
		_, err = c.client.ActivateGroup(c.writeContext(ctx), group)
	} else {
		_, err = c.client.PauseGroup(c.writeContext(ctx), group)
	}
	if err != nil {
		c.logger.Errorw("Group action failed", "group", group, "activate", active, "error", err)
		return err
	}

	if e := c.engines.Groups; e != nil {
		e.Patch(group, func(g *api.Group) { g.IsActive = active })
	}
	c.logger.Infow("Group state changed", "group", group, "active", active)

	c.confirm(c.groups(), c.endpoints())
	return nil
}

// Pending returns the number of scheduled confirmation reloads.
func (c *Coordinator) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.timers)
}

// Close cancels pending confirmations and in-flight reloads.
func (c *Coordinator) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	for t := range c.timers {
		t.Stop()
	}
	c.timers = map[*time.Timer]struct{}{}
	c.cancel()
}

// confirm schedules an authoritative reload of loaders after the confirm delay.
func (c *Coordinator) confirm(loaders ...loader) {
	loaders = compact(loaders...)
	if len(loaders) == 0 {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}

	var timer *time.Timer
	timer = time.AfterFunc(c.delay, func() {
		c.mu.Lock()
		if _, ok := c.timers[timer]; !ok {
			c.mu.Unlock()
			return
		}
		delete(c.timers, timer)
		c.mu.Unlock()

		ctx := reqcontext.WithSource(c.ctx, reqcontext.SourceMutation)
		for _, l := range loaders {
			if err := l.Load(ctx); err != nil && c.ctx.Err() == nil {
				c.logger.Warnw("Confirmation reload failed", "collection", l.Name(), "error", err)
			}
		}
	})
	c.timers[timer] = struct{}{}
}

func (c *Coordinator) writeContext(ctx context.Context) context.Context {
	return reqcontext.WithSource(ctx, reqcontext.SourceMutation)
}

// The accessors return untyped nil for absent engines so compact can drop them.

func (c *Coordinator) endpoints() loader {
	if c.engines.Endpoints == nil {
		return nil
	}
	return c.engines.Endpoints
}

func (c *Coordinator) groups() loader {
	if c.engines.Groups == nil {
		return nil
	}
	return c.engines.Groups
}

func (c *Coordinator) credentials() loader {
	if c.engines.Credentials == nil {
		return nil
	}
	return c.engines.Credentials
}

func compact(loaders ...loader) []loader {
	out := loaders[:0:0]
	for _, l := range loaders {
		if l != nil {
			out = append(out, l)
		}
	}
	return out
}

func requireName(what, name string) error {
	if strings.TrimSpace(name) == "" {
		return fmt.Errorf("%w: %s name is required", ErrInvalidArgument, what)
	}
	return nil
}

// activate returns a copy of list with only index marked active. Nil
// entries are dropped.
func activate(list []*api.Credential, index int) []*api.Credential {
	out := make([]*api.Credential, 0, len(list))
	for _, cred := range list {
		if cred == nil {
			continue
		}
		c := *cred
		c.IsActive = cred.Index == index
		out = append(out, &c)
	}
	return out
}
