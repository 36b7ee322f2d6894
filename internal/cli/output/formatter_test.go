package output

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func TestResolveFormat(t *testing.T) {
	tests := []struct {
		name       string
		outputFlag string
		jsonFlag   bool
		env        string
		want       string
	}{
		{name: "default is table", want: "table"},
		{name: "json flag wins", outputFlag: "yaml", jsonFlag: true, want: "json"},
		{name: "output flag", outputFlag: "yaml", want: "yaml"},
		{name: "env fallback", env: "json", want: "json"},
		{name: "flag beats env", outputFlag: "table", env: "yaml", want: "table"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv(EnvFormat, tt.env)
			assert.Equal(t, tt.want, ResolveFormat(tt.outputFlag, tt.jsonFlag))
		})
	}
}

func TestNewFormatter(t *testing.T) {
	for _, format := range []string{"table", "TABLE", "", "json", "Yaml"} {
		f, err := NewFormatter(format)
		require.NoError(t, err, format)
		assert.NotNil(t, f)
	}

	_, err := NewFormatter("xml")
	require.Error(t, err)
	var se StructuredError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, ErrCodeInvalidOutputFormat, se.Code)
	assert.Contains(t, se.Guidance, "table, json, yaml")
}

func TestDocumentFormatsAgree(t *testing.T) {
	type endpoint struct {
		Name     string          `json:"name"`
		Priority int             `json:"priority"`
		Raw      json.RawMessage `json:"raw,omitempty"`
	}
	data := []endpoint{{Name: "alpha", Priority: 1, Raw: json.RawMessage(`{"k":"v"}`)}}

	js, err := (&JSONFormatter{}).Format(data)
	require.NoError(t, err)
	assert.Equal(t, `[{"name":"alpha","priority":1,"raw":{"k":"v"}}]`+"\n", js)

	ys, err := (&YAMLFormatter{}).Format(data)
	require.NoError(t, err)
	var decoded []map[string]interface{}
	require.NoError(t, yaml.Unmarshal([]byte(ys), &decoded))
	require.Len(t, decoded, 1)
	assert.Equal(t, "alpha", decoded[0]["name"])
	assert.Equal(t, map[string]interface{}{"k": "v"}, decoded[0]["raw"])
}

func TestDocumentTables(t *testing.T) {
	headers := []string{"NAME", "PRIORITY"}
	rows := [][]string{{"alpha", "1"}, {"beta"}}

	js, err := (&JSONFormatter{}).FormatTable(headers, rows)
	require.NoError(t, err)
	var decoded []map[string]string
	require.NoError(t, json.Unmarshal([]byte(js), &decoded))
	assert.Equal(t, []map[string]string{
		{"NAME": "alpha", "PRIORITY": "1"},
		{"NAME": "beta", "PRIORITY": ""},
	}, decoded)

	ys, err := (&YAMLFormatter{}).FormatTable(headers, rows)
	require.NoError(t, err)
	assert.True(t, strings.Contains(ys, "NAME: alpha"))
}

func TestFormatErrorEnvelope(t *testing.T) {
	se := NewStructuredError(ErrCodeTimeout, "request timed out").
		WithGuidance("raise --timeout").
		WithContext("route", "/endpoints")

	js, err := (&JSONFormatter{}).FormatError(se)
	require.NoError(t, err)
	var decoded map[string]StructuredError
	require.NoError(t, json.Unmarshal([]byte(js), &decoded))
	assert.Equal(t, "TIMEOUT", decoded["error"].Code)
	assert.Equal(t, "/endpoints", decoded["error"].Context["route"])

	ys, err := (&YAMLFormatter{}).FormatError(se)
	require.NoError(t, err)
	assert.Contains(t, ys, "code: TIMEOUT")
}

func TestFromError(t *testing.T) {
	se := NewStructuredError(ErrCodeInvalidInput, "bad")
	assert.Equal(t, se, FromError(se, ErrCodeOperationFailed))

	plain := FromError(errors.New("boom"), ErrCodeOperationFailed)
	assert.Equal(t, ErrCodeOperationFailed, plain.Code)
	assert.Equal(t, "boom", plain.Error())
}
