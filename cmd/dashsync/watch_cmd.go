package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/smart-mcp-proxy/dashsync/internal/api"
	"github.com/smart-mcp-proxy/dashsync/internal/chartbus"
	"github.com/smart-mcp-proxy/dashsync/internal/cli/output"
	"github.com/smart-mcp-proxy/dashsync/internal/dashboard"
	"github.com/smart-mcp-proxy/dashsync/internal/reconcile"
	"github.com/smart-mcp-proxy/dashsync/internal/stream"
)

// watchEvent is one line of watch output.
type watchEvent struct {
	Time time.Time   `json:"time"`
	Kind string      `json:"kind"`
	Name string      `json:"name"`
	Data interface{} `json:"data"`
}

type watchPrinter struct {
	mu        sync.Mutex
	c         *cli
	format    string
	formatter output.OutputFormatter
}

func (p *watchPrinter) emit(kind, name, line string, data interface{}) {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := time.Now()
	if p.formatter == nil {
		fmt.Fprintf(p.c.stdout, "%s  %-10s %-22s %s\n", now.Format("15:04:05"), kind, name, line)
		return
	}

	text, err := p.formatter.Format(watchEvent{Time: now, Kind: kind, Name: name, Data: data})
	if err != nil {
		fmt.Fprintf(p.c.stderr, "failed to format %s event: %v\n", kind, err)
		return
	}
	if p.format == "yaml" {
		fmt.Fprint(p.c.stdout, "---\n")
	}
	fmt.Fprint(p.c.stdout, text)
}

func newWatchCmd(c *cli) *cobra.Command {
	var (
		metricsListen   string
		refreshInterval time.Duration
		duration        time.Duration
	)

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Keep the dashboard state in sync and print every change",
		Long: `Load every collection, open the push channel and print connection, collection
and chart changes until interrupted. Polling takes over while the channel is
degraded.

Examples:
  dashsync watch
  dashsync watch --json --for 1m
  dashsync watch --metrics-listen 127.0.0.1:9108 --refresh-interval 30s`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := c.loadConfig()
			if err != nil {
				return err
			}
			if metricsListen != "" {
				cfg.MetricsListen = metricsListen
			}
			if cmd.Flags().Changed("refresh-interval") {
				if refreshInterval < 0 {
					return c.fail(invalidInput("--refresh-interval cannot be negative"), "")
				}
				cfg.RefreshInterval = refreshInterval
			}

			logger, err := c.newLogger(true)
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()

			printer := &watchPrinter{c: c, format: c.format()}
			if _, err := output.NewFormatter(printer.format); err != nil {
				return c.fail(err, "")
			}
			switch printer.format {
			case "json":
				printer.formatter = &output.JSONFormatter{}
			case "yaml":
				printer.formatter = &output.YAMLFormatter{}
			}

			session, err := dashboard.NewSession(cfg, dashboard.Deps{
				Logger:               logger,
				DisableObservability: cfg.MetricsListen == "",
			})
			if err != nil {
				return c.fail(err, "")
			}
			defer func() {
				if err := session.Close(); err != nil {
					logger.Warnw("Session teardown incomplete", "error", err)
				}
			}()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			if duration > 0 {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(ctx, duration)
				defer cancel()
			}

			detach, err := watchSession(session, printer)
			if err != nil {
				return c.fail(err, "")
			}
			defer detach()

			serveErr := make(chan error, 1)
			if cfg.MetricsListen != "" {
				listener, err := net.Listen("tcp", cfg.MetricsListen)
				if err != nil {
					return c.fail(invalidInput("cannot listen on %s: %v", cfg.MetricsListen, err), "")
				}
				logger.Infow("Serving health and metrics", "address", listener.Addr().String())
				go func() { serveErr <- session.ServeObservability(ctx, listener) }()
			}

			if err := session.Start(ctx); err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
				return c.fail(err, "")
			}

			select {
			case <-ctx.Done():
			case err := <-serveErr:
				if err != nil {
					return c.fail(fmt.Errorf("observability server stopped: %w", err), "")
				}
				<-ctx.Done()
			}
			logger.Info("Watch finished")
			return nil
		},
	}

	cmd.Flags().StringVar(&metricsListen, "metrics-listen", "", "Serve /healthz, /readyz and /metrics on this address")
	cmd.Flags().DurationVar(&refreshInterval, "refresh-interval", 0, "Auto refresh cadence while visible (0 disables)")
	cmd.Flags().DurationVar(&duration, "for", 0, "Stop after this long (default: until interrupted)")
	return cmd
}

// watchSession subscribes the printer to every change source of the session.
func watchSession(s *dashboard.Session, p *watchPrinter) (func(), error) {
	var detach []func()
	undo := func() {
		for i := len(detach) - 1; i >= 0; i-- {
			detach[i]()
		}
	}

	statusSub := s.Stream().OnStatus(func(st stream.Status) {
		line := string(st.State)
		if st.Attempts > 0 {
			line += fmt.Sprintf(" attempts=%d", st.Attempts)
		}
		if st.LastError != "" {
			line += " error=" + st.LastError
		}
		p.emit("stream", "status", line, st)
	})
	detach = append(detach, statusSub.Close)

	detach = append(detach, s.Endpoints().Watch(func(v reconcile.View[api.Endpoint, reconcile.EndpointStats]) {
		if v.Loading {
			return
		}
		p.emit("collection", s.Endpoints().Name(), fmt.Sprintf("total=%d healthy=%d unhealthy=%d unchecked=%d",
			v.Stats.Total, v.Stats.Healthy, v.Stats.Unhealthy, v.Stats.Unchecked), v.Stats)
	}))
	detach = append(detach, s.Groups().Watch(func(v reconcile.View[api.Group, reconcile.GroupStats]) {
		if v.Loading {
			return
		}
		p.emit("collection", s.Groups().Name(), fmt.Sprintf("total=%d active=%s switching=%s",
			v.Stats.Total, orDash(v.Stats.ActiveGroup), yesNo(v.Stats.Switching)), v.Stats)
	}))
	detach = append(detach, s.Credentials().Watch(func(v reconcile.View[api.CredentialSet, reconcile.CredentialStats]) {
		if v.Loading {
			return
		}
		p.emit("collection", s.Credentials().Name(), fmt.Sprintf("endpoints=%d tokens=%d api_keys=%d",
			v.Stats.Endpoints, v.Stats.Tokens, v.Stats.APIKeys), v.Stats)
	}))

	for _, tag := range chartbus.Tags() {
		unsubscribe, err := s.Charts().Subscribe(tag, func(msg chartbus.Message) {
			p.emit("chart", string(msg.Tag), chartSummary(msg), msg)
		})
		if err != nil {
			undo()
			return nil, err
		}
		detach = append(detach, unsubscribe)
	}
	return undo, nil
}

func chartSummary(msg chartbus.Message) string {
	switch {
	case msg.Tokens != nil:
		return fmt.Sprintf("input=%d output=%d", msg.Tokens.Input, msg.Tokens.Output)
	case msg.Health != nil:
		return fmt.Sprintf("healthy=%d unhealthy=%d", msg.Health.Healthy, msg.Health.Unhealthy)
	case msg.Costs != nil:
		return fmt.Sprintf("endpoints=%d", len(msg.Costs))
	}
	return fmt.Sprintf("points=%d", len(msg.Points))
}
