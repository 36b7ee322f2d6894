package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/smart-mcp-proxy/dashsync/internal/api"
	"github.com/smart-mcp-proxy/dashsync/internal/mutation"
)

// withCoordinator runs fn against a coordinator without local collections;
// one-shot commands have nothing to patch or confirm.
func (c *cli) withCoordinator(cmd *cobra.Command, fn func(e *env, coord *mutation.Coordinator) error) error {
	e, err := c.setup(cmd)
	if err != nil {
		return err
	}
	defer e.sync()

	coord := mutation.New(e.client, mutation.Engines{}, mutation.Options{Logger: e.logger.Named("mutation")})
	defer coord.Close()

	if err := fn(e, coord); err != nil {
		return c.fail(err, e.requestID)
	}
	return nil
}

func newPriorityCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "priority <endpoint> <priority>",
		Short: "Set an endpoint's priority (1 is highest)",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			priority, err := strconv.Atoi(args[1])
			if err != nil {
				return c.fail(invalidInput("priority must be an integer, got %q", args[1]), "")
			}
			return c.withCoordinator(cmd, func(e *env, coord *mutation.Coordinator) error {
				if err := coord.UpdatePriority(e.ctx, args[0], priority); err != nil {
					return err
				}
				return c.ack(fmt.Sprintf("Priority of %s set to %d", args[0], priority), map[string]interface{}{
					"endpoint": args[0],
					"priority": priority,
				})
			})
		},
	}
}

func newCheckCmd(c *cli) *cobra.Command {
	var all bool

	cmd := &cobra.Command{
		Use:   "check [endpoint]",
		Short: "Run a health probe on one endpoint or all of them",
		Long: `Run a health probe.

Examples:
  dashsync check anthropic-main
  dashsync check --all`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if all == (len(args) == 1) {
				return c.fail(invalidInput("pass either an endpoint name or --all"), "")
			}
			return c.withCoordinator(cmd, func(e *env, coord *mutation.Coordinator) error {
				if all {
					result, err := coord.CheckAllHealth(e.ctx)
					if err != nil {
						return err
					}
					rows := [][]string{{
						strconv.Itoa(result.Total),
						strconv.Itoa(result.HealthyCount),
						strconv.Itoa(result.UnhealthyCount),
					}}
					return c.render(result, []string{"TOTAL", "HEALTHY", "UNHEALTHY"}, rows, "")
				}

				result, err := coord.CheckHealth(e.ctx, args[0])
				if err != nil {
					return err
				}
				health := "unhealthy"
				if result.Healthy {
					health = "healthy"
				}
				rows := [][]string{{args[0], health, orDash(result.ResponseTime), orDash(result.LastCheck)}}
				return c.render(result, []string{"ENDPOINT", "HEALTH", "RESPONSE", "LAST CHECK"}, rows, "")
			})
		},
	}

	cmd.Flags().BoolVar(&all, "all", false, "Probe every endpoint")
	return cmd
}

func newSwitchKeyCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "switch-key <endpoint> <token|api_key> <index>",
		Short: "Make another token or API key the active one",
		Long: `Make the credential at index the active entry of its list.

Examples:
  dashsync switch-key anthropic-main token 1
  dashsync switch-key openai-backup api_key 0`,
		Args: cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			index, err := strconv.Atoi(args[2])
			if err != nil {
				return c.fail(invalidInput("index must be an integer, got %q", args[2]), "")
			}
			kind := api.CredentialKind(args[1])
			if args[1] == "api-key" {
				kind = api.CredentialAPIKey
			}
			return c.withCoordinator(cmd, func(e *env, coord *mutation.Coordinator) error {
				result, err := coord.SwitchCredential(e.ctx, args[0], kind, index)
				if err != nil {
					return err
				}
				return c.ack(fmt.Sprintf("Active %s of %s is now #%d", kind, args[0], result.NewIndex), result)
			})
		},
	}
}

func newActivateCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "activate <group>",
		Short: "Activate an endpoint group",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withCoordinator(cmd, func(e *env, coord *mutation.Coordinator) error {
				if err := coord.ActivateGroup(e.ctx, args[0]); err != nil {
					return err
				}
				return c.ack("Group "+args[0]+" activated", map[string]interface{}{"group": args[0], "active": true})
			})
		},
	}
}

func newPauseCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "pause <group>",
		Short: "Pause an endpoint group",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withCoordinator(cmd, func(e *env, coord *mutation.Coordinator) error {
				if err := coord.PauseGroup(e.ctx, args[0]); err != nil {
					return err
				}
				return c.ack("Group "+args[0]+" paused", map[string]interface{}{"group": args[0], "active": false})
			})
		},
	}
}

// ack prints message for humans and doc for json/yaml.
func (c *cli) ack(message string, doc interface{}) error {
	if c.structured() {
		return c.renderDoc(doc)
	}
	fmt.Fprintln(c.stdout, message)
	return nil
}
