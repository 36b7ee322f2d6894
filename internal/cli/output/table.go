package output

import (
	"bytes"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"golang.org/x/term"
)

// TableFormatter formats output for humans.
type TableFormatter struct {
	NoColor bool
	// Rules draws a separator under the header row.
	Rules bool
}

// Format renders documents as indented YAML, which reads well in a terminal.
func (f *TableFormatter) Format(data interface{}) (string, error) {
	return (&YAMLFormatter{}).Format(data)
}

// FormatError renders an error with its guidance.
func (f *TableFormatter) FormatError(err StructuredError) (string, error) {
	var buf bytes.Buffer

	label := "Error"
	if !f.NoColor && f.Rules {
		label = "\x1b[31mError\x1b[0m"
	}
	fmt.Fprintf(&buf, "%s [%s]: %s\n", label, err.Code, err.Message)
	if err.Guidance != "" {
		fmt.Fprintf(&buf, "  Hint: %s\n", err.Guidance)
	}
	if err.RecoveryCommand != "" {
		fmt.Fprintf(&buf, "  Try: %s\n", err.RecoveryCommand)
	}
	return buf.String(), nil
}

// FormatTable renders aligned columns.
func (f *TableFormatter) FormatTable(headers []string, rows [][]string) (string, error) {
	if len(rows) == 0 {
		return "No results found\n", nil
	}

	var buf bytes.Buffer
	w := tabwriter.NewWriter(&buf, 0, 0, 2, ' ', 0)

	fmt.Fprintln(w, strings.Join(headers, "\t"))
	if f.Rules {
		rules := make([]string, len(headers))
		for i, h := range headers {
			rules[i] = strings.Repeat("-", len(h))
		}
		fmt.Fprintln(w, strings.Join(rules, "\t"))
	}
	for _, row := range rows {
		fmt.Fprintln(w, strings.Join(row, "\t"))
	}

	if err := w.Flush(); err != nil {
		return "", err
	}
	return buf.String(), nil
}

func isTerminal() bool {
	return term.IsTerminal(int(os.Stdout.Fd()))
}
