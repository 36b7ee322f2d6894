package main

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/smart-mcp-proxy/dashsync/internal/api"
	"github.com/smart-mcp-proxy/dashsync/internal/cli/output"
	"github.com/smart-mcp-proxy/dashsync/internal/config"
	"github.com/smart-mcp-proxy/dashsync/internal/logs"
	"github.com/smart-mcp-proxy/dashsync/internal/mutation"
	"github.com/smart-mcp-proxy/dashsync/internal/reqcontext"
)

// exitError is a failure already reported to the user.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string { return e.err.Error() }

func (e *exitError) Unwrap() error { return e.err }

func exitCodeFor(err error) int {
	var ee *exitError
	if errors.As(err, &ee) {
		return ee.code
	}
	return ExitCodeGeneralError
}

// loadConfig reads file and environment, then applies the persistent flags.
func (c *cli) loadConfig() (*config.Config, error) {
	overrides := map[string]interface{}{}
	if c.flags.baseURL != "" {
		overrides["base-url"] = c.flags.baseURL
	}
	if c.flags.dataDir != "" {
		overrides["data-dir"] = c.flags.dataDir
	}
	if c.flags.timeout > 0 {
		overrides["request-timeout"] = c.flags.timeout
	}

	cfg, err := config.LoadWithOverrides(c.flags.configFile, overrides)
	if err != nil {
		return nil, &exitError{
			code: ExitCodeConfigError,
			err:  c.report(output.NewStructuredError(output.ErrCodeConfigInvalid, err.Error()).WithGuidance("Check the config file and DASHSYNC_* environment variables"), ""),
		}
	}

	if c.flags.logLevel != "" {
		cfg.Logging.Level = c.flags.logLevel
	}
	if c.flags.logToFile {
		cfg.Logging.EnableFile = true
	}
	if c.flags.logDir != "" {
		cfg.Logging.LogDir = c.flags.logDir
	}
	return cfg, nil
}

// newLogger creates the command logger. Long-running commands log at info.
func (c *cli) newLogger(longRunning bool) (*zap.SugaredLogger, error) {
	logger, err := logs.SetupCommandLogger(longRunning, c.flags.logLevel, c.flags.logToFile, c.flags.logDir)
	if err != nil {
		return nil, fmt.Errorf("failed to setup logger: %w", err)
	}
	return logger.Sugar(), nil
}

// env bundles what one-shot commands need.
type env struct {
	cfg       *config.Config
	logger    *zap.SugaredLogger
	client    *api.Client
	ctx       context.Context
	requestID string
}

func (c *cli) setup(cmd *cobra.Command) (*env, error) {
	cfg, err := c.loadConfig()
	if err != nil {
		return nil, err
	}
	logger, err := c.newLogger(false)
	if err != nil {
		return nil, err
	}

	requestID := reqcontext.GenerateRequestID()
	ctx := reqcontext.WithRequestID(cmd.Context(), requestID)
	ctx = reqcontext.WithSource(ctx, reqcontext.SourceCLI)

	return &env{
		cfg:       cfg,
		logger:    logger,
		client:    api.NewClient(cfg.BaseURL, cfg.RequestTimeout, logger.Named("api")),
		ctx:       ctx,
		requestID: requestID,
	}, nil
}

func (e *env) sync() {
	_ = e.logger.Sync()
}

// format resolves the output format: --json, -o, DASHSYNC_OUTPUT, table.
func (c *cli) format() string {
	return strings.ToLower(output.ResolveFormat(c.flags.outputFormat, c.flags.jsonOutput))
}

func (c *cli) structured() bool {
	f := c.format()
	return f == "json" || f == "yaml"
}

// render prints doc for json/yaml and the table otherwise.
func (c *cli) render(doc interface{}, headers []string, rows [][]string, footer string) error {
	formatter, err := output.NewFormatter(c.format())
	if err != nil {
		return c.fail(err, "")
	}

	var text string
	if c.structured() {
		text, err = formatter.Format(doc)
	} else {
		text, err = formatter.FormatTable(headers, rows)
	}
	if err != nil {
		return c.fail(fmt.Errorf("failed to format output: %w", err), "")
	}

	fmt.Fprint(c.stdout, text)
	if footer != "" && !c.structured() {
		fmt.Fprintln(c.stdout, footer)
	}
	return nil
}

// renderDoc prints a single document in every format.
func (c *cli) renderDoc(doc interface{}) error {
	formatter, err := output.NewFormatter(c.format())
	if err != nil {
		return c.fail(err, "")
	}
	text, err := formatter.Format(doc)
	if err != nil {
		return c.fail(fmt.Errorf("failed to format output: %w", err), "")
	}
	fmt.Fprint(c.stdout, text)
	return nil
}

// fail reports err in the selected format and returns an exitError.
func (c *cli) fail(err error, requestID string) error {
	var ee *exitError
	if errors.As(err, &ee) {
		return err
	}
	se, code := classify(err)
	return &exitError{code: code, err: c.report(se, requestID)}
}

func (c *cli) report(se output.StructuredError, requestID string) error {
	if requestID != "" {
		se = se.WithRequestID(requestID)
	}

	format := c.format()
	formatter, fmtErr := output.NewFormatter(format)
	if fmtErr != nil {
		formatter, format = &output.TableFormatter{NoColor: true}, "table"
	}
	text, _ := formatter.FormatError(se)
	if format == "json" || format == "yaml" {
		fmt.Fprint(c.stdout, text)
	} else {
		fmt.Fprint(c.stderr, text)
		if requestID != "" {
			fmt.Fprintf(c.stderr, "  Request ID: %s\n", requestID)
		}
	}
	return se
}

// classify maps an error to its structured code and exit code.
func classify(err error) (output.StructuredError, int) {
	var se output.StructuredError
	if errors.As(err, &se) {
		switch se.Code {
		case output.ErrCodeInvalidInput, output.ErrCodeInvalidOutputFormat:
			return se, ExitCodeInvalidInput
		case output.ErrCodeConfigInvalid:
			return se, ExitCodeConfigError
		}
		return se, ExitCodeGeneralError
	}

	if errors.Is(err, mutation.ErrInvalidArgument) {
		return output.NewStructuredError(output.ErrCodeInvalidInput, err.Error()), ExitCodeInvalidInput
	}

	switch api.KindOf(err) {
	case api.KindNetwork:
		return output.NewStructuredError(output.ErrCodeConnectionFailed, err.Error()).
			WithGuidance("Check that the proxy is running and --base-url points at it").
			WithRecoveryCommand("dashsync status"), ExitCodeConnectionError
	case api.KindTimeout:
		return output.NewStructuredError(output.ErrCodeTimeout, err.Error()).
			WithGuidance("The backend did not answer in time; raise --timeout or retry"), ExitCodeConnectionError
	case api.KindServer:
		se := output.NewStructuredError(output.ErrCodeServerError, err.Error())
		var apiErr *api.Error
		if errors.As(err, &apiErr) && apiErr.Status > 0 {
			se = se.WithContext("status", apiErr.Status)
		}
		return se, ExitCodeServerError
	case api.KindParse:
		return output.NewStructuredError(output.ErrCodeParseError, err.Error()).
			WithGuidance("The backend answered with an unexpected payload; check version compatibility"), ExitCodeServerError
	}

	return output.NewStructuredError(output.ErrCodeOperationFailed, err.Error()), ExitCodeGeneralError
}

func invalidInput(format string, args ...interface{}) error {
	return output.NewStructuredError(output.ErrCodeInvalidInput, fmt.Sprintf(format, args...))
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
