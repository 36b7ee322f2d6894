package logs

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

const appName = "dashsync"

// DefaultLogDir is $XDG_STATE_HOME/dashsync/logs, or
// ~/.local/state/dashsync/logs when XDG_STATE_HOME is unset.
func DefaultLogDir() (string, error) {
	if stateDir := os.Getenv("XDG_STATE_HOME"); stateDir != "" {
		return filepath.Join(stateDir, appName, "logs"), nil
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("cannot resolve default log directory: %w", err)
	}
	return filepath.Join(homeDir, ".local", "state", appName, "logs"), nil
}

// LogFilePath joins filename onto logDir, creating the directory. An empty
// logDir selects DefaultLogDir and a leading "~/" is expanded.
func LogFilePath(logDir, filename string) (string, error) {
	if logDir == "" {
		var err error
		if logDir, err = DefaultLogDir(); err != nil {
			return "", err
		}
	}
	if rest, ok := strings.CutPrefix(logDir, "~/"); ok {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("cannot expand %q: %w", logDir, err)
		}
		logDir = filepath.Join(homeDir, rest)
	}

	if err := os.MkdirAll(logDir, 0755); err != nil {
		return "", fmt.Errorf("failed to create log directory %s: %w", logDir, err)
	}
	return filepath.Join(logDir, filename), nil
}
