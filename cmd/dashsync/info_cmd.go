package main

import (
	"encoding/json"
	"fmt"
	"net/url"
	"sort"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/smart-mcp-proxy/dashsync/internal/api"
)

func newStatusCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show backend status and version",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			e, err := c.setup(cmd)
			if err != nil {
				return err
			}
			defer e.sync()

			status, err := e.client.GetStatus(e.ctx)
			if err != nil {
				return c.fail(err, e.requestID)
			}

			rows := [][]string{
				{"status", orDash(status.Status)},
				{"uptime", orDash(status.Uptime)},
				{"started", orDash(status.StartTime)},
				{"version", orDash(status.Version.Version)},
				{"strategy", orDash(status.Strategy)},
				{"auth", yesNo(status.AuthEnabled)},
				{"proxy", yesNo(status.ProxyEnabled)},
				{"backend", e.client.BaseURL()},
			}
			return c.render(status, []string{"FIELD", "VALUE"}, rows, "")
		},
	}
}

func newConnectionsCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "connections",
		Short: "Show request counters and suspended connections",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			e, err := c.setup(cmd)
			if err != nil {
				return err
			}
			defer e.sync()

			stats, err := e.client.GetConnections(e.ctx)
			if err != nil {
				return c.fail(err, e.requestID)
			}

			names := make([]string, 0, len(stats.RequestsPerEndpoint))
			for name := range stats.RequestsPerEndpoint {
				names = append(names, name)
			}
			sort.Strings(names)

			rows := make([][]string, 0, len(names))
			for _, name := range names {
				rows = append(rows, []string{
					name,
					strconv.FormatInt(stats.RequestsPerEndpoint[name], 10),
					strconv.FormatInt(stats.ErrorsPerEndpoint[name], 10),
				})
			}

			footer := fmt.Sprintf("%d requests (%d ok, %d failed), %d active, %d suspended, avg %s",
				stats.TotalRequests, stats.SuccessfulRequests, stats.FailedRequests,
				stats.ActiveConnections, len(stats.SuspendedConnections), orDash(stats.AverageResponseTime))
			return c.render(stats, []string{"ENDPOINT", "REQUESTS", "ERRORS"}, rows, footer)
		},
	}
}

func newUsageCmd(c *cli) *cobra.Command {
	var params map[string]string

	cmd := &cobra.Command{
		Use:   "usage",
		Short: "Show aggregate token and cost usage",
		Long: `Show aggregate usage. Extra query parameters are passed to the backend as is.

Examples:
  dashsync usage
  dashsync usage --param period=7d -o json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			e, err := c.setup(cmd)
			if err != nil {
				return err
			}
			defer e.sync()

			query := url.Values{}
			for k, v := range params {
				query.Set(k, v)
			}
			stats, err := e.client.GetUsageStats(e.ctx, query)
			if err != nil {
				return c.fail(err, e.requestID)
			}

			rows := [][]string{
				{"requests", strconv.FormatInt(stats.TotalRequests, 10)},
				{"tokens", strconv.FormatInt(stats.TotalTokens, 10)},
				{"cost", strconv.FormatFloat(stats.TotalCost, 'f', 4, 64)},
				{"success rate", strconv.FormatFloat(stats.SuccessRate, 'f', 1, 64) + "%"},
			}
			var doc interface{} = stats
			if len(stats.Raw) > 0 {
				doc = stats.Raw
			}
			return c.render(doc, []string{"METRIC", "VALUE"}, rows, "")
		},
	}

	cmd.Flags().StringToStringVar(&params, "param", nil, "Extra query parameter (key=value), repeatable")
	return cmd
}

func newRequestsCmd(c *cli) *cobra.Command {
	var (
		q     api.RequestQuery
		since time.Duration
	)

	cmd := &cobra.Command{
		Use:   "requests",
		Short: "List tracked proxy requests",
		Long: `List tracked proxy requests, newest first.

Examples:
  dashsync requests --limit 20
  dashsync requests --status error --since 1h
  dashsync requests --endpoint anthropic-main --page 2`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if q.Page < 0 || q.Limit < 0 {
				return c.fail(invalidInput("--page and --limit cannot be negative"), "")
			}
			e, err := c.setup(cmd)
			if err != nil {
				return err
			}
			defer e.sync()

			if since > 0 {
				q.StartTime = time.Now().Add(-since)
			}
			page, err := e.client.ListRequests(e.ctx, q)
			if err != nil {
				return c.fail(err, e.requestID)
			}

			rows := make([][]string, 0, len(page.Requests))
			for _, r := range page.Requests {
				rows = append(rows, []string{
					orDash(r.Timestamp),
					orDash(r.Status),
					orDash(r.Model),
					orDash(r.Endpoint),
					strconv.FormatFloat(r.DurationMS, 'f', 0, 64) + "ms",
					strconv.FormatInt(r.InputTokens+r.OutputTokens, 10),
					strconv.FormatFloat(r.Cost, 'f', 4, 64),
				})
			}

			footer := fmt.Sprintf("page %d of %d, %d requests", page.Page, page.TotalPages, page.Total)
			return c.render(page, []string{"TIME", "STATUS", "MODEL", "ENDPOINT", "DURATION", "TOKENS", "COST"}, rows, footer)
		},
	}

	f := cmd.Flags()
	f.IntVar(&q.Page, "page", 1, "Page number")
	f.IntVar(&q.Limit, "limit", 0, "Page size (default: 50)")
	f.StringVar(&q.Status, "status", "", "Filter by status (success, error)")
	f.StringVar(&q.Model, "model", "", "Filter by model")
	f.StringVar(&q.Endpoint, "endpoint", "", "Filter by endpoint")
	f.StringVar(&q.Group, "group", "", "Filter by group")
	f.StringVar(&q.SortBy, "sort-by", "", "Sort field (default: start_time)")
	f.StringVar(&q.SortOrder, "sort-order", "", "Sort order asc|desc (default: desc)")
	f.DurationVar(&since, "since", 0, "Only requests newer than this (e.g. 1h)")
	return cmd
}

func newModelsCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "models",
		Short: "List models seen by the backend",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			e, err := c.setup(cmd)
			if err != nil {
				return err
			}
			defer e.sync()

			models, err := e.client.ListModels(e.ctx)
			if err != nil {
				return c.fail(err, e.requestID)
			}
			rows := make([][]string, 0, len(models))
			for _, m := range models {
				rows = append(rows, []string{m})
			}
			return c.render(models, []string{"MODEL"}, rows, "")
		},
	}
}

func newConfigCmd(c *cli) *cobra.Command {
	var local bool

	cmd := &cobra.Command{
		Use:   "config",
		Short: "Show the backend configuration",
		Long: `Show the backend configuration, or with --local the effective dashsync
configuration after file, environment and flags are applied.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if local {
				cfg, err := c.loadConfig()
				if err != nil {
					return err
				}
				return c.renderDoc(cfg)
			}

			e, err := c.setup(cmd)
			if err != nil {
				return err
			}
			defer e.sync()

			raw, err := e.client.GetConfig(e.ctx)
			if err != nil {
				return c.fail(err, e.requestID)
			}
			return c.renderDoc(json.RawMessage(raw))
		},
	}

	cmd.Flags().BoolVar(&local, "local", false, "Show the local dashsync configuration instead")
	return cmd
}
