package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/haasonsaas/loom/internal/tools/builtin"
)

// =============================================================================
// Tools Commands
// =============================================================================

// buildToolsCmd creates the "tools" command group.
func buildToolsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tools",
		Short: "Inspect available tools",
	}

	cmd.AddCommand(buildToolsListCmd())
	return cmd
}

func buildToolsListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List the builtin tools",
		Long:  "Display every builtin tool. An agent may only call tools named in its allowlist.",
		RunE: func(cmd *cobra.Command, args []string) error {
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "NAME\tDESCRIPTION")
			for _, tool := range builtin.All() {
				fmt.Fprintf(w, "%s\t%s\n", tool.Name(), truncate(tool.Description(), 80))
			}
			return w.Flush()
		},
	}
	return cmd
}
