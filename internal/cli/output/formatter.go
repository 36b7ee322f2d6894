// Package output renders command results as a table, JSON or YAML.
package output

import (
	"fmt"
	"os"
	"strings"
)

// EnvFormat selects the default output format.
const EnvFormat = "DASHSYNC_OUTPUT"

// Formats lists the accepted -o values.
var Formats = []string{"table", "json", "yaml"}

// OutputFormatter formats command results.
type OutputFormatter interface {
	// Format renders a document (struct, map or slice).
	Format(data interface{}) (string, error)

	// FormatError renders a structured error.
	FormatError(err StructuredError) (string, error)

	// FormatTable renders rows under headers.
	FormatTable(headers []string, rows [][]string) (string, error)
}

// NewFormatter creates a formatter for the specified format (case-insensitive).
func NewFormatter(format string) (OutputFormatter, error) {
	switch strings.ToLower(format) {
	case "json":
		return &JSONFormatter{Indent: true}, nil
	case "yaml":
		return &YAMLFormatter{}, nil
	case "table", "":
		return &TableFormatter{
			NoColor: os.Getenv("NO_COLOR") == "1",
			Rules:   isTerminal(),
		}, nil
	default:
		return nil, NewStructuredError(ErrCodeInvalidOutputFormat,
			fmt.Sprintf("unknown output format: %s", format)).
			WithGuidance("valid formats: " + strings.Join(Formats, ", "))
	}
}

// ResolveFormat picks the format: --json, then -o, then DASHSYNC_OUTPUT, then table.
func ResolveFormat(outputFlag string, jsonFlag bool) string {
	if jsonFlag {
		return "json"
	}
	if outputFlag != "" {
		return outputFlag
	}
	if envFormat := os.Getenv(EnvFormat); envFormat != "" {
		return envFormat
	}
	return "table"
}

// records turns table rows into header-keyed maps for the document formats.
func records(headers []string, rows [][]string) []map[string]string {
	result := make([]map[string]string, 0, len(rows))
	for _, row := range rows {
		obj := make(map[string]string, len(headers))
		for i, header := range headers {
			if i < len(row) {
				obj[header] = row[i]
			} else {
				obj[header] = ""
			}
		}
		result = append(result, obj)
	}
	return result
}
