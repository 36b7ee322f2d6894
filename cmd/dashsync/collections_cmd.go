package main

import (
	"fmt"
	"sort"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/smart-mcp-proxy/dashsync/internal/api"
	"github.com/smart-mcp-proxy/dashsync/internal/reconcile"
)

func newEndpointsCmd(c *cli) *cobra.Command {
	var (
		search  string
		byGroup bool
	)

	cmd := &cobra.Command{
		Use:   "endpoints",
		Short: "List endpoints with health and priority",
		Long: `List every endpoint known to the backend with its derived health summary.

Examples:
  dashsync endpoints
  dashsync endpoints --search anthropic
  dashsync endpoints --by-group -o yaml`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			e, err := c.setup(cmd)
			if err != nil {
				return err
			}
			defer e.sync()

			engine := reconcile.NewEndpointEngine(e.client, reconcile.Options{Logger: e.logger})
			defer engine.Close()
			if err := engine.Load(e.ctx); err != nil {
				return c.fail(err, e.requestID)
			}

			items := engine.Items()
			if search != "" {
				items = reconcile.SearchEndpoints(items, search)
			}
			stats := engine.Stats()

			if byGroup {
				membership := reconcile.GroupMembership(items)
				doc := map[string]interface{}{"groups": membership, "stats": stats}
				return c.render(doc, endpointHeaders, groupedEndpointRows(membership), endpointFooter(stats))
			}

			doc := map[string]interface{}{"endpoints": items, "stats": stats}
			return c.render(doc, endpointHeaders, endpointRows(items), endpointFooter(stats))
		},
	}

	cmd.Flags().StringVar(&search, "search", "", "Filter by name, URL or group (case-insensitive)")
	cmd.Flags().BoolVar(&byGroup, "by-group", false, "Order endpoints by group priority")
	return cmd
}

var endpointHeaders = []string{"NAME", "GROUP", "PRIORITY", "HEALTH", "RESPONSE", "LAST CHECK"}

func endpointRows(items []*api.Endpoint) [][]string {
	rows := make([][]string, 0, len(items))
	for _, ep := range items {
		rows = append(rows, []string{
			ep.Name,
			orDash(ep.Group),
			strconv.Itoa(ep.Priority),
			endpointHealth(ep),
			orDash(ep.ResponseTime),
			orDash(ep.LastCheck),
		})
	}
	return rows
}

func groupedEndpointRows(membership map[string][]*api.Endpoint) [][]string {
	type entry struct {
		name     string
		priority int
	}
	groups := make([]entry, 0, len(membership))
	for name, eps := range membership {
		groups = append(groups, entry{name: name, priority: eps[0].GroupPriority})
	}
	sort.Slice(groups, func(i, j int) bool {
		if groups[i].priority != groups[j].priority {
			return groups[i].priority < groups[j].priority
		}
		return groups[i].name < groups[j].name
	})

	var rows [][]string
	for _, g := range groups {
		rows = append(rows, endpointRows(membership[g.name])...)
	}
	return rows
}

func endpointHealth(ep *api.Endpoint) string {
	switch {
	case ep.NeverChecked:
		return "unchecked"
	case ep.Healthy:
		return "healthy"
	default:
		return "unhealthy"
	}
}

func endpointFooter(s reconcile.EndpointStats) string {
	return fmt.Sprintf("%d endpoints: %d healthy, %d unhealthy, %d unchecked (%s%% healthy)",
		s.Total, s.Healthy, s.Unhealthy, s.Unchecked, s.HealthPercentage)
}

func newGroupsCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "groups",
		Short: "List endpoint groups and the active one",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			e, err := c.setup(cmd)
			if err != nil {
				return err
			}
			defer e.sync()

			engine := reconcile.NewGroupEngine(e.client, reconcile.Options{Logger: e.logger})
			defer engine.Close()
			if err := engine.Load(e.ctx); err != nil {
				return c.fail(err, e.requestID)
			}

			items, stats := engine.Items(), engine.Stats()
			rows := make([][]string, 0, len(items))
			for _, g := range items {
				cooldown := "-"
				if g.InCooldown {
					cooldown = orDash(g.CooldownRemaining)
				}
				rows = append(rows, []string{
					g.Name,
					yesNo(g.IsActive),
					strconv.Itoa(g.Priority),
					fmt.Sprintf("%d/%d", g.HealthyEndpoints, g.TotalEndpoints),
					cooldown,
				})
			}

			footer := fmt.Sprintf("%d groups, active: %s", stats.Total, orDash(stats.ActiveGroup))
			if stats.Switching {
				footer += " (switching)"
			}
			doc := map[string]interface{}{"groups": items, "stats": stats}
			return c.render(doc, []string{"NAME", "ACTIVE", "PRIORITY", "HEALTHY", "COOLDOWN"}, rows, footer)
		},
	}
}

func newKeysCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "keys [endpoint]",
		Short: "Show credential lists per endpoint",
		Long: `Without an argument, summarize the token and API key lists of every endpoint.
With an endpoint name, list its credentials.

Examples:
  dashsync keys
  dashsync keys anthropic-main`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := c.setup(cmd)
			if err != nil {
				return err
			}
			defer e.sync()

			if len(args) == 1 {
				set, err := e.client.GetEndpointCredentials(e.ctx, args[0])
				if err != nil {
					return c.fail(err, e.requestID)
				}
				return c.render(set, []string{"KIND", "INDEX", "NAME", "KEY", "ACTIVE"}, credentialRows(set), "")
			}

			engine := reconcile.NewCredentialEngine(e.client, reconcile.Options{Logger: e.logger})
			defer engine.Close()
			if err := engine.Load(e.ctx); err != nil {
				return c.fail(err, e.requestID)
			}

			items, stats := engine.Items(), engine.Stats()
			rows := make([][]string, 0, len(items))
			for _, set := range items {
				rows = append(rows, []string{
					set.Endpoint,
					strconv.Itoa(len(set.Tokens)),
					strconv.Itoa(len(set.APIKeys)),
					activeLabel(set.ActiveIndex(api.CredentialToken)),
					activeLabel(set.ActiveIndex(api.CredentialAPIKey)),
				})
			}

			footer := fmt.Sprintf("%d endpoints, %d tokens, %d API keys", stats.Endpoints, stats.Tokens, stats.APIKeys)
			if stats.Inconsistent > 0 {
				footer += fmt.Sprintf(", %d lists without exactly one active entry", stats.Inconsistent)
			}
			doc := map[string]interface{}{"endpoints": items, "stats": stats}
			return c.render(doc, []string{"ENDPOINT", "TOKENS", "API KEYS", "ACTIVE TOKEN", "ACTIVE KEY"}, rows, footer)
		},
	}
}

func credentialRows(set *api.CredentialSet) [][]string {
	var rows [][]string
	for _, list := range []struct {
		kind  api.CredentialKind
		items []*api.Credential
	}{{api.CredentialToken, set.Tokens}, {api.CredentialAPIKey, set.APIKeys}} {
		for _, cred := range list.items {
			rows = append(rows, []string{
				string(list.kind),
				strconv.Itoa(cred.Index),
				orDash(cred.Name),
				orDash(cred.Masked),
				yesNo(cred.IsActive),
			})
		}
	}
	return rows
}

func activeLabel(index int) string {
	if index < 0 {
		return "-"
	}
	return strconv.Itoa(index)
}
