package chartbus

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/tidwall/gjson"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/smart-mcp-proxy/dashsync/internal/api"
	"github.com/smart-mcp-proxy/dashsync/internal/refresh"
	"github.com/smart-mcp-proxy/dashsync/internal/reqcontext"
	"github.com/smart-mcp-proxy/dashsync/internal/stream"
)

// PushCategory is the push category carrying chart updates.
const PushCategory = "chart"

// DefaultWindowMinutes is the time window requested for time-series charts.
const DefaultWindowMinutes = 60

// Subscriber is the part of the stream manager the router needs.
type Subscriber interface {
	Subscribe(category string, handler stream.Handler) *stream.Subscription
}

// Router feeds the bus from chart push events and periodic REST loads.
type Router struct {
	bus     *Bus
	client  *api.Client
	minutes int
	logger  *zap.SugaredLogger

	mu        sync.Mutex
	sub       *stream.Subscription
	scheduler *refresh.Scheduler
	closed    bool
	ctx       context.Context
	cancel    context.CancelFunc
}

// NewRouter creates a router publishing to bus. client may be nil when only
// push events are routed.
func NewRouter(bus *Bus, client *api.Client, logger *zap.SugaredLogger) *Router {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Router{
		bus:     bus,
		client:  client,
		minutes: DefaultWindowMinutes,
		logger:  logger,
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Attach routes "chart" push events to the bus. It is a no-op after Close.
func (r *Router) Attach(src Subscriber) {
	if r.isClosed() {
		return
	}
	sub := src.Subscribe(PushCategory, func(_ string, payload json.RawMessage) {
		if err := r.HandlePush(payload); err != nil {
			r.logger.Debugw("Dropping chart push event", "error", err)
		}
	})

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		sub.Close()
		return
	}
	r.sub = sub
	r.mu.Unlock()
}

func (r *Router) isClosed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.closed
}

// HandlePush converts one {chart_type, data} payload and publishes it.
func (r *Router) HandlePush(payload []byte) error {
	root := gjson.ParseBytes(payload)
	name := root.Get("chart_type").String()
	if name == "" {
		name = root.Get("type").String()
	}

	tag, err := ParseTag(name)
	if err != nil {
		return err
	}

	data := root.Get("data")
	if !data.Exists() {
		return fmt.Errorf("chart %s: missing data", tag)
	}

	msg, err := decode(tag, []byte(data.Raw))
	if err != nil {
		return fmt.Errorf("chart %s: %w", tag, err)
	}
	return r.bus.Publish(msg)
}

func decode(tag Tag, data []byte) (Message, error) {
	msg := Message{Tag: tag}
	switch tag {
	case TagRequestTrend:
		points, err := api.ParsePoints(data, api.RequestTrendKeys)
		msg.Points = points
		return msg, err
	case TagResponseTime:
		points, err := api.ParsePoints(data, api.ResponseTimeKeys)
		msg.Points = points
		return msg, err
	case TagConnectionActivity:
		points, err := api.ParsePoints(data, api.ConnectionActivityKeys)
		msg.Points = points
		return msg, err
	case TagEndpointCosts:
		costs, err := api.ParseEndpointCosts(data)
		msg.Costs = costs
		return msg, err
	case TagEndpointHealth:
		split := api.ParseHealthSplit(data)
		msg.Health = &split
		return msg, nil
	case TagTokenDistribution:
		breakdown := api.ParseTokenBreakdown(data)
		msg.Tokens = &breakdown
		return msg, nil
	}
	return msg, fmt.Errorf("%w: %q", ErrUnknownTag, tag)
}

// LoadAll fetches every chart over REST concurrently and publishes the
// results. Charts that fail are skipped; the first error is returned.
func (r *Router) LoadAll(ctx context.Context) error {
	if r.client == nil {
		return fmt.Errorf("chart router has no REST client")
	}
	ctx = reqcontext.WithSource(ctx, reqcontext.SourcePoll)

	loaders := map[Tag]func(context.Context) (Message, error){
		TagRequestTrend: func(ctx context.Context) (Message, error) {
			points, err := r.client.GetRequestTrends(ctx, r.minutes)
			return Message{Tag: TagRequestTrend, Points: points}, err
		},
		TagResponseTime: func(ctx context.Context) (Message, error) {
			points, err := r.client.GetResponseTimes(ctx, r.minutes)
			return Message{Tag: TagResponseTime, Points: points}, err
		},
		TagConnectionActivity: func(ctx context.Context) (Message, error) {
			points, err := r.client.GetConnectionActivity(ctx, r.minutes)
			return Message{Tag: TagConnectionActivity, Points: points}, err
		},
		TagEndpointCosts: func(ctx context.Context) (Message, error) {
			costs, err := r.client.GetEndpointCosts(ctx)
			return Message{Tag: TagEndpointCosts, Costs: costs}, err
		},
		TagEndpointHealth: func(ctx context.Context) (Message, error) {
			split, err := r.client.GetEndpointHealth(ctx)
			return Message{Tag: TagEndpointHealth, Health: split}, err
		},
		TagTokenDistribution: func(ctx context.Context) (Message, error) {
			tokens, err := r.client.GetTokenUsage(ctx)
			return Message{Tag: TagTokenDistribution, Tokens: tokens}, err
		},
	}

	// Plain Group: a failing chart does not cancel the others.
	var g errgroup.Group
	for _, tag := range allTags {
		load := loaders[tag]
		g.Go(func() error {
			msg, err := load(ctx)
			if err != nil {
				r.logger.Warnw("Failed to load chart", "tag", tag, "error", err)
				return err
			}
			return r.bus.Publish(msg)
		})
	}
	return g.Wait()
}

// StartPolling reloads every chart on interval. Zero disables polling.
func (r *Router) StartPolling(interval time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}
	if r.scheduler == nil {
		r.scheduler = refresh.New(0, r.logger)
		r.scheduler.SetCallback(func(bool) {
			_ = r.LoadAll(r.ctx)
		})
	}
	r.scheduler.SetInterval(interval)
}

// SetVisible pauses chart polling while the view is hidden.
func (r *Router) SetVisible(visible bool) {
	r.mu.Lock()
	scheduler := r.scheduler
	r.mu.Unlock()
	if scheduler != nil {
		scheduler.SetVisible(visible)
	}
}

// Close stops polling and detaches from the stream.
func (r *Router) Close() {
	r.mu.Lock()
	r.closed = true
	sub, scheduler := r.sub, r.scheduler
	r.sub, r.scheduler = nil, nil
	r.mu.Unlock()

	if sub != nil {
		sub.Close()
	}
	if scheduler != nil {
		scheduler.Stop()
	}
	r.cancel()
}
