package reconcile

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/smart-mcp-proxy/dashsync/internal/api"
)

func TestClassify(t *testing.T) {
	listKeys := []string{"endpoints"}
	identityKeys := []string{"name", "endpoint"}

	tests := []struct {
		name    string
		payload string
		kind    Kind
		entity  string
	}{
		{"full list", `{"endpoints":[{"name":"a"}],"total":1}`, FullSnapshot, ""},
		{"empty list", `{"endpoints":[]}`, FullSnapshot, ""},
		{"list wins over identity", `{"name":"x","endpoints":[]}`, FullSnapshot, ""},
		{"patch by name", `{"name":"a","healthy":false}`, EntityPatch, "a"},
		{"patch by secondary key", `{"endpoint":"b","priority":3}`, EntityPatch, "b"},
		{"data envelope", `{"type":"update","data":{"name":"c","healthy":true}}`, EntityPatch, "c"},
		{"data envelope list", `{"data":{"endpoints":[]}}`, FullSnapshot, ""},
		{"list key not an array", `{"endpoints":"all"}`, Unrecognized, ""},
		{"empty identity", `{"name":""}`, Unrecognized, ""},
		{"numeric identity", `{"name":7}`, Unrecognized, ""},
		{"bare array", `[{"name":"a"}]`, Unrecognized, ""},
		{"scalar", `42`, Unrecognized, ""},
		{"malformed", `{"name":`, Unrecognized, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := Classify([]byte(tt.payload), listKeys, identityKeys)
			assert.Equal(t, tt.kind, p.Kind, p.Reason)
			if tt.kind == EntityPatch {
				assert.Equal(t, tt.entity, p.Name)
				assert.NotEmpty(t, p.Fields)
			}
			if tt.kind == Unrecognized {
				assert.NotEmpty(t, p.Reason)
			}
		})
	}
}

func TestKindString(t *testing.T) {
	assert.Equal(t, "full_snapshot", FullSnapshot.String())
	assert.Equal(t, "entity_patch", EntityPatch.String())
	assert.Equal(t, "unrecognized", Unrecognized.String())
}

func TestOverlay(t *testing.T) {
	base := &api.Endpoint{
		Name:         "alpha",
		URL:          "https://alpha.example.com",
		Priority:     1,
		Healthy:      true,
		ResponseTime: "120ms",
	}

	updated, err := overlay(base, []byte(`{"name":"alpha","healthy":false,"error":"timeout"}`))
	require.NoError(t, err)

	assert.False(t, updated.Healthy)
	assert.Equal(t, "timeout", updated.Error)
	assert.Equal(t, 1, updated.Priority)
	assert.Equal(t, "120ms", updated.ResponseTime)
	assert.Equal(t, "https://alpha.example.com", updated.URL)

	// base is untouched
	assert.True(t, base.Healthy)
	assert.Empty(t, base.Error)
}

func TestOverlayDoesNotAliasSlices(t *testing.T) {
	base := &api.CredentialSet{
		Endpoint: "alpha",
		Tokens: []*api.Credential{
			{Index: 0, Name: "t0", IsActive: true},
			{Index: 1, Name: "t1"},
		},
	}

	updated, err := overlay(base, []byte(`{"endpoint":"alpha","tokens":[{"index":0,"name":"t0"},{"index":1,"name":"t1","is_active":true}]}`))
	require.NoError(t, err)

	assert.True(t, updated.Tokens[1].IsActive)
	assert.True(t, base.Tokens[0].IsActive)
	assert.False(t, base.Tokens[1].IsActive)
}

func TestOverlayTypeMismatch(t *testing.T) {
	_, err := overlay(&api.Endpoint{Name: "a"}, []byte(`{"priority":"high"}`))
	assert.Error(t, err)
}
