package output

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

// HelpInfo is the machine-readable help of one command.
type HelpInfo struct {
	Name        string        `json:"name"`
	Description string        `json:"description"`
	Usage       string        `json:"usage"`
	Flags       []FlagInfo    `json:"flags,omitempty"`
	Commands    []CommandInfo `json:"commands,omitempty"`
}

// CommandInfo describes a subcommand.
type CommandInfo struct {
	Name           string `json:"name"`
	Description    string `json:"description"`
	Usage          string `json:"usage"`
	HasSubcommands bool   `json:"has_subcommands,omitempty"`
}

// FlagInfo describes a flag.
type FlagInfo struct {
	Name        string `json:"name"`
	Shorthand   string `json:"shorthand,omitempty"`
	Description string `json:"description"`
	Type        string `json:"type"`
	Default     string `json:"default,omitempty"`
}

// ExtractHelpInfo builds a HelpInfo from a cobra command.
func ExtractHelpInfo(cmd *cobra.Command) HelpInfo {
	info := HelpInfo{
		Name:        cmd.Name(),
		Description: cmd.Short,
		Usage:       cmd.UseLine(),
	}

	visit := func(f *pflag.Flag) {
		if f.Hidden {
			return
		}
		info.Flags = append(info.Flags, FlagInfo{
			Name:        f.Name,
			Shorthand:   f.Shorthand,
			Description: f.Usage,
			Type:        f.Value.Type(),
			Default:     f.DefValue,
		})
	}
	cmd.LocalFlags().VisitAll(visit)
	cmd.InheritedFlags().VisitAll(visit)

	for _, sub := range cmd.Commands() {
		if sub.Hidden || !sub.IsAvailableCommand() {
			continue
		}
		info.Commands = append(info.Commands, CommandInfo{
			Name:           sub.Name(),
			Description:    sub.Short,
			Usage:          sub.UseLine(),
			HasSubcommands: len(sub.Commands()) > 0,
		})
	}
	return info
}

// SetupHelpJSON adds --help-json to the whole tree rooted at root. The flag
// prints HelpInfo and skips the command.
func SetupHelpJSON(root *cobra.Command) {
	root.PersistentFlags().Bool("help-json", false, "Output help information as JSON")

	wrap := func(cmd *cobra.Command) {
		run, runE := cmd.Run, cmd.RunE
		cmd.Run = nil
		cmd.RunE = func(c *cobra.Command, args []string) error {
			if want, _ := c.Flags().GetBool("help-json"); want {
				return writeHelpJSON(c)
			}
			switch {
			case runE != nil:
				return runE(c, args)
			case run != nil:
				run(c, args)
				return nil
			default:
				return c.Help()
			}
		}
	}

	var walk func(cmd *cobra.Command)
	walk = func(cmd *cobra.Command) {
		wrap(cmd)
		for _, sub := range cmd.Commands() {
			walk(sub)
		}
	}
	walk(root)
}

func writeHelpJSON(cmd *cobra.Command) error {
	data, err := json.MarshalIndent(ExtractHelpInfo(cmd), "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal help info: %w", err)
	}
	_, err = fmt.Fprintln(cmd.OutOrStdout(), string(data))
	return err
}
