package identity

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/oklog/ulid/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/smart-mcp-proxy/dashsync/internal/observability"
	"github.com/smart-mcp-proxy/dashsync/internal/storage"
)

func TestGenerateFormat(t *testing.T) {
	id := Generate()
	require.True(t, strings.HasPrefix(id, Prefix))

	suffix := strings.TrimPrefix(id, Prefix)
	assert.Equal(t, strings.ToLower(suffix), suffix)

	_, err := ulid.ParseStrict(strings.ToUpper(suffix))
	assert.NoError(t, err)

	assert.NotEqual(t, id, Generate())
}

func TestProviderCreatesOnce(t *testing.T) {
	store := NewMemoryStore("")
	provider := NewProvider(store, nil)

	var wg sync.WaitGroup
	ids := make([]string, 16)
	for i := range ids {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id, err := provider.ClientID()
			assert.NoError(t, err)
			ids[i] = id
		}(i)
	}
	wg.Wait()

	for _, id := range ids {
		assert.Equal(t, ids[0], id)
	}
	assert.Equal(t, 1, store.Loads())
}

func TestProviderReadsExisting(t *testing.T) {
	provider := NewProvider(NewMemoryStore("client_existing"), nil)

	id, err := provider.ClientID()
	require.NoError(t, err)
	assert.Equal(t, "client_existing", id)
}

type failingStore struct{ calls int }

func (f *failingStore) LoadOrCreateClientID(func() string) (string, bool, error) {
	f.calls++
	return "", false, errors.New("disk full")
}

func TestProviderRemembersFailure(t *testing.T) {
	store := &failingStore{}
	provider := NewProvider(store, nil)

	_, err := provider.ClientID()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk full")

	_, err = provider.ClientID()
	require.Error(t, err)
	assert.Equal(t, 1, store.calls)
}

func TestProviderWithBoltStore(t *testing.T) {
	dir := t.TempDir()

	db, err := storage.NewBoltDB(dir, nil)
	require.NoError(t, err)

	first, err := NewProvider(db, nil).ClientID()
	require.NoError(t, err)
	require.NoError(t, db.Close())

	db, err = storage.NewBoltDB(dir, nil)
	require.NoError(t, err)
	defer db.Close()

	second, err := NewProvider(db, nil).ClientID()
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestProviderTracesStoreRead(t *testing.T) {
	exporter := tracetest.NewInMemoryExporter()
	tracing := observability.NewTracingManagerWithProvider(nil, "identity-test",
		sdktrace.NewTracerProvider(sdktrace.WithSyncer(exporter)))

	db, err := storage.NewBoltDB(t.TempDir(), nil)
	require.NoError(t, err)
	defer db.Close()

	created := func(span tracetest.SpanStub) bool {
		for _, kv := range span.Attributes {
			if kv.Key == "identity.created" {
				return kv.Value.AsBool()
			}
		}
		t.Fatalf("span %s has no identity.created attribute", span.Name)
		return false
	}

	for range 2 {
		provider := NewProvider(db, nil)
		provider.SetTracer(tracing)
		_, err := provider.ClientID()
		require.NoError(t, err)
		_, err = provider.ClientID()
		require.NoError(t, err)
	}

	failing := NewProvider(&failingStore{}, nil)
	failing.SetTracer(tracing)
	_, err = failing.ClientID()
	require.Error(t, err)

	spans := exporter.GetSpans()
	require.Len(t, spans, 3, "one span per provider")
	assert.Equal(t, "storage.operation", spans[0].Name)
	assert.True(t, created(spans[0]))
	assert.False(t, created(spans[1]))
	assert.Equal(t, codes.Error, spans[2].Status.Code)
	assert.Equal(t, "disk full", spans[2].Status.Description)

	require.NoError(t, tracing.Close(context.Background()))
}
