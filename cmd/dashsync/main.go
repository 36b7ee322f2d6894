package main

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/smart-mcp-proxy/dashsync/internal/cli/output"
)

var version = "v0.1.0" // injected by -ldflags during build

// globalFlags holds the persistent flags shared by every command.
type globalFlags struct {
	configFile   string
	baseURL      string
	dataDir      string
	timeout      time.Duration
	logLevel     string
	logToFile    bool
	logDir       string
	outputFormat string
	jsonOutput   bool
}

// cli is the state of one command line invocation.
type cli struct {
	flags  globalFlags
	stdout io.Writer
	stderr io.Writer
}

func main() {
	root := newRootCmd()
	if err := root.Execute(); err != nil {
		code := exitCodeFor(err)
		if _, reported := err.(*exitError); !reported {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		}
		if code != ExitCodeGeneralError {
			fmt.Fprintf(os.Stderr, "exit %d: %s\n", code, exitCodeDescription(code))
		}
		os.Exit(code)
	}
}

func newRootCmd() *cobra.Command {
	c := &cli{}

	rootCmd := &cobra.Command{
		Use:   "dashsync",
		Short: "Live state synchronization client for the proxy dashboard",
		Long: `dashsync keeps a local copy of the proxy dashboard state (endpoints, groups,
credentials and charts) in sync through the push channel, falling back to
polling whenever the channel is degraded.

Examples:
  dashsync watch
  dashsync endpoints -o json
  dashsync activate backup`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, _ []string) {
			c.stdout = cmd.OutOrStdout()
			c.stderr = cmd.ErrOrStderr()
		},
	}

	flags := rootCmd.PersistentFlags()
	flags.StringVarP(&c.flags.configFile, "config", "c", "", "Configuration file path")
	flags.StringVar(&c.flags.baseURL, "base-url", "", "Dashboard backend URL (default: http://127.0.0.1:8088)")
	flags.StringVarP(&c.flags.dataDir, "data-dir", "d", "", "Data directory path (default: ~/.dashsync)")
	flags.DurationVar(&c.flags.timeout, "timeout", 0, "Per-request timeout (default: 30s from config)")
	flags.StringVar(&c.flags.logLevel, "log-level", "", "Log level (trace, debug, info, warn, error)")
	flags.BoolVar(&c.flags.logToFile, "log-to-file", false, "Enable logging to file in standard OS location")
	flags.StringVar(&c.flags.logDir, "log-dir", "", "Custom log directory path (overrides standard OS location)")
	flags.StringVarP(&c.flags.outputFormat, "output", "o", "", "Output format (table, json, yaml)")
	flags.BoolVar(&c.flags.jsonOutput, "json", false, "Shorthand for -o json")
	rootCmd.MarkFlagsMutuallyExclusive("output", "json")

	rootCmd.AddCommand(
		newWatchCmd(c),
		newEndpointsCmd(c),
		newGroupsCmd(c),
		newKeysCmd(c),
		newStatusCmd(c),
		newConnectionsCmd(c),
		newUsageCmd(c),
		newRequestsCmd(c),
		newModelsCmd(c),
		newConfigCmd(c),
		newPriorityCmd(c),
		newCheckCmd(c),
		newSwitchKeyCmd(c),
		newActivateCmd(c),
		newPauseCmd(c),
		newClientIDCmd(c),
	)

	output.SetupHelpJSON(rootCmd)
	return rootCmd
}
