// Package chartbus is the in-process channel delivering chart-ready data to
// renderers that do not read the reconciled collections.
package chartbus

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/smart-mcp-proxy/dashsync/internal/api"
)

// Tag identifies a chart. The set is closed.
type Tag string

const (
	TagRequestTrend       Tag = "request_trend"
	TagResponseTime       Tag = "response_time"
	TagTokenDistribution  Tag = "token_distribution"
	TagConnectionActivity Tag = "connection_activity"
	TagEndpointCosts      Tag = "endpoint_costs"
	TagEndpointHealth     Tag = "endpoint_health"
)

// ErrUnknownTag is returned for tags outside the closed set.
var ErrUnknownTag = errors.New("unknown chart tag")

var allTags = []Tag{
	TagRequestTrend,
	TagResponseTime,
	TagTokenDistribution,
	TagConnectionActivity,
	TagEndpointCosts,
	TagEndpointHealth,
}

// names the backend has used for each chart in push events
var aliases = map[string]Tag{
	"request_trend":       TagRequestTrend,
	"request_trends":      TagRequestTrend,
	"requestTrend":        TagRequestTrend,
	"requestTrends":       TagRequestTrend,
	"response_time":       TagResponseTime,
	"response_times":      TagResponseTime,
	"responseTime":        TagResponseTime,
	"responseTimes":       TagResponseTime,
	"token_distribution":  TagTokenDistribution,
	"tokenDistribution":   TagTokenDistribution,
	"token_usage":         TagTokenDistribution,
	"connection_activity": TagConnectionActivity,
	"connectionActivity":  TagConnectionActivity,
	"endpoint_costs":      TagEndpointCosts,
	"endpointCosts":       TagEndpointCosts,
	"endpoint_health":     TagEndpointHealth,
	"endpointHealth":      TagEndpointHealth,
}

// Tags returns the closed tag set.
func Tags() []Tag {
	return append([]Tag(nil), allTags...)
}

// Valid reports whether t belongs to the closed set.
func (t Tag) Valid() bool {
	for _, known := range allTags {
		if t == known {
			return true
		}
	}
	return false
}

// ParseTag resolves a chart name, including the legacy aliases.
func ParseTag(name string) (Tag, error) {
	if tag, ok := aliases[name]; ok {
		return tag, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownTag, name)
}

// Message carries one chart update. Exactly one payload field is set,
// according to Tag.
type Message struct {
	Tag Tag       `json:"tag"`
	At  time.Time `json:"at"`

	Points []api.Point         `json:"points,omitempty"`
	Tokens *api.TokenBreakdown `json:"tokens,omitempty"`
	Costs  []api.EndpointCost  `json:"costs,omitempty"`
	Health *api.HealthSplit    `json:"health,omitempty"`
}

// Handler receives chart updates.
type Handler func(Message)

// Bus delivers messages synchronously to the subscribers of their tag and
// remembers the latest message per tag.
type Bus struct {
	mu     sync.RWMutex
	subs   map[Tag]map[int]Handler
	last   map[Tag]Message
	nextID int
	logger *zap.SugaredLogger
}

// New creates an empty bus.
func New(logger *zap.SugaredLogger) *Bus {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Bus{
		subs:   map[Tag]map[int]Handler{},
		last:   map[Tag]Message{},
		logger: logger,
	}
}

// Subscribe registers h for tag. The returned func unsubscribes.
func (b *Bus) Subscribe(tag Tag, h Handler) (func(), error) {
	if !tag.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrUnknownTag, tag)
	}

	b.mu.Lock()
	id := b.nextID
	b.nextID++
	if b.subs[tag] == nil {
		b.subs[tag] = map[int]Handler{}
	}
	b.subs[tag][id] = h
	b.mu.Unlock()

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		delete(b.subs[tag], id)
	}, nil
}

// Publish delivers msg to the subscribers of msg.Tag.
func (b *Bus) Publish(msg Message) error {
	if !msg.Tag.Valid() {
		return fmt.Errorf("%w: %q", ErrUnknownTag, msg.Tag)
	}
	if msg.At.IsZero() {
		msg.At = time.Now()
	}

	b.mu.Lock()
	b.last[msg.Tag] = msg
	handlers := make([]Handler, 0, len(b.subs[msg.Tag]))
	for _, h := range b.subs[msg.Tag] {
		handlers = append(handlers, h)
	}
	b.mu.Unlock()

	for _, h := range handlers {
		h(msg)
	}
	b.logger.Debugw("Chart update published", "tag", msg.Tag, "subscribers", len(handlers))
	return nil
}

// Last returns the most recent message for tag.
func (b *Bus) Last(tag Tag) (Message, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	msg, ok := b.last[tag]
	return msg, ok
}
