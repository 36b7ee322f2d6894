package output

import (
	"encoding/json"

	"gopkg.in/yaml.v3"
)

// YAMLFormatter formats output as YAML.
type YAMLFormatter struct{}

// Format marshals data to YAML. Values are routed through JSON first so
// json tags and json.RawMessage fields render the same way in both formats.
func (f *YAMLFormatter) Format(data interface{}) (string, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return "", err
	}
	var doc interface{}
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return "", err
	}
	out, err := yaml.Marshal(doc)
	if err != nil {
		return "", err
	}
	return string(out), nil
}

// FormatError marshals a structured error to YAML.
func (f *YAMLFormatter) FormatError(err StructuredError) (string, error) {
	return f.Format(map[string]StructuredError{"error": err})
}

// FormatTable emits a list of mappings keyed by header.
func (f *YAMLFormatter) FormatTable(headers []string, rows [][]string) (string, error) {
	return f.Format(records(headers, rows))
}
