package output

import (
	"encoding/json"
)

// JSONFormatter formats output as JSON.
type JSONFormatter struct {
	Indent bool
}

// Format marshals data to JSON.
func (f *JSONFormatter) Format(data interface{}) (string, error) {
	var out []byte
	var err error
	if f.Indent {
		out, err = json.MarshalIndent(data, "", "  ")
	} else {
		out, err = json.Marshal(data)
	}
	if err != nil {
		return "", err
	}
	return string(out) + "\n", nil
}

// FormatError marshals a structured error to JSON.
func (f *JSONFormatter) FormatError(err StructuredError) (string, error) {
	return f.Format(map[string]StructuredError{"error": err})
}

// FormatTable emits an array of objects keyed by header.
func (f *JSONFormatter) FormatTable(headers []string, rows [][]string) (string, error) {
	return f.Format(records(headers, rows))
}
