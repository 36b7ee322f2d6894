// Package identity provides the process-wide client identifier used to
// correlate a dashboard session with its push subscription.
package identity

import (
	"context"
	"crypto/rand"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// Prefix is prepended to every generated identifier.
const Prefix = "client_"

// Store persists a single client identifier.
type Store interface {
	// LoadOrCreateClientID returns the stored id, persisting generate() when absent.
	LoadOrCreateClientID(generate func() string) (id string, created bool, err error)
}

// Tracer opens a span around a store operation.
type Tracer interface {
	TraceStorageOperation(ctx context.Context, operation string) (context.Context, trace.Span)
}

// Provider hands out the client identifier, touching the store at most once.
type Provider struct {
	store  Store
	logger *zap.SugaredLogger
	tracer Tracer

	once sync.Once
	id   string
	err  error
}

// NewProvider creates a provider backed by store.
func NewProvider(store Store, logger *zap.SugaredLogger) *Provider {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Provider{
		store:  store,
		logger: logger,
	}
}

// SetTracer traces the first store read. Call it before ClientID.
func (p *Provider) SetTracer(tracer Tracer) {
	p.tracer = tracer
}

// ClientID returns the persisted identifier, creating it on first use.
// A failed first read is remembered; the provider does not retry.
func (p *Provider) ClientID() (string, error) {
	p.once.Do(func() {
		id, created, err := p.load()
		if err != nil {
			p.err = fmt.Errorf("failed to load client identifier: %w", err)
			return
		}
		p.id = id
		if created {
			p.logger.Infow("Created client identifier", "client_id", id)
		} else {
			p.logger.Debugw("Loaded client identifier", "client_id", id)
		}
	})
	return p.id, p.err
}

func (p *Provider) load() (string, bool, error) {
	if p.tracer == nil {
		return p.store.LoadOrCreateClientID(Generate)
	}

	_, span := p.tracer.TraceStorageOperation(context.Background(), "identity.load_or_create")
	defer span.End()

	id, created, err := p.store.LoadOrCreateClientID(Generate)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return "", false, err
	}
	span.SetAttributes(attribute.Bool("identity.created", created))
	return id, created, nil
}

// Generate returns a fresh identifier of the form client_<lowercase ulid>.
func Generate() string {
	id := ulid.MustNew(ulid.Timestamp(time.Now()), rand.Reader)
	return Prefix + strings.ToLower(id.String())
}

// MemoryStore is a Store kept in process memory.
type MemoryStore struct {
	mu    sync.Mutex
	id    string
	loads int
}

// NewMemoryStore returns a store optionally preloaded with id.
func NewMemoryStore(id string) *MemoryStore {
	return &MemoryStore{id: id}
}

func (m *MemoryStore) LoadOrCreateClientID(generate func() string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.loads++
	if m.id != "" {
		return m.id, false, nil
	}
	m.id = generate()
	return m.id, true, nil
}

// Loads reports how many times the store was consulted.
func (m *MemoryStore) Loads() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.loads
}
