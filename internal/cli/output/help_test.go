package output

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTree(ran *bool) *cobra.Command {
	root := &cobra.Command{Use: "dashsync", Short: "Dashboard sync client"}
	root.PersistentFlags().StringP("output", "o", "", "Output format")

	list := &cobra.Command{
		Use:   "endpoints",
		Short: "List endpoints",
		RunE: func(*cobra.Command, []string) error {
			*ran = true
			return nil
		},
	}
	list.Flags().Bool("watch", false, "Keep watching")
	root.AddCommand(list, &cobra.Command{Use: "hidden", Hidden: true, Run: func(*cobra.Command, []string) {}})
	return root
}

func TestExtractHelpInfo(t *testing.T) {
	var ran bool
	root := newTree(&ran)

	info := ExtractHelpInfo(root)
	assert.Equal(t, "dashsync", info.Name)
	require.Len(t, info.Commands, 1)
	assert.Equal(t, "endpoints", info.Commands[0].Name)

	sub := ExtractHelpInfo(root.Commands()[0])
	names := make([]string, 0, len(sub.Flags))
	for _, f := range sub.Flags {
		names = append(names, f.Name)
	}
	assert.ElementsMatch(t, []string{"watch", "output"}, names)
}

func TestSetupHelpJSON(t *testing.T) {
	var ran bool
	root := newTree(&ran)
	SetupHelpJSON(root)

	var out bytes.Buffer
	root.SetOut(&out)
	root.SetArgs([]string{"endpoints", "--help-json"})
	require.NoError(t, root.Execute())

	assert.False(t, ran)
	var info HelpInfo
	require.NoError(t, json.Unmarshal(out.Bytes(), &info))
	assert.Equal(t, "endpoints", info.Name)

	// flag values stick to a parsed tree, so run the plain case on a fresh one
	root = newTree(&ran)
	SetupHelpJSON(root)
	root.SetOut(&out)
	root.SetArgs([]string{"endpoints"})
	require.NoError(t, root.Execute())
	assert.True(t, ran)
}
