package main

import (
	"github.com/spf13/cobra"
)

// =============================================================================
// Runs Commands
// =============================================================================

// buildRunsCmd creates the "runs" command group for trace inspection.
func buildRunsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "runs",
		Short: "Inspect persisted runs",
		Long: `Query the trace store.

Every run persists its turns, tool executions and token usage as it
executes, so a crashed or still-running run is inspectable too.`,
	}

	cmd.AddCommand(buildRunsListCmd())
	cmd.AddCommand(buildRunsShowCmd())
	cmd.AddCommand(buildRunsDeleteCmd())
	cmd.AddCommand(buildRunsStatsCmd())

	return cmd
}

func buildRunsListCmd() *cobra.Command {
	var (
		configPath string
		agentID    string
		status     string
		limit      int
		offset     int
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List runs, newest first",
		Example: `  # Last 20 runs
  loom runs list

  # Failed runs for one agent
  loom runs list --agent researcher --status error`,
		RunE: func(cmd *cobra.Command, args []string) error {
			configPath = resolveConfigPath(configPath)
			return runRunsList(cmd, configPath, agentID, status, limit, offset)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigName, "Path to config file")
	cmd.Flags().StringVar(&agentID, "agent", "", "Filter by agent id")
	cmd.Flags().StringVar(&status, "status", "", "Filter by status (running, completed, error)")
	cmd.Flags().IntVar(&limit, "limit", 20, "Max runs to return")
	cmd.Flags().IntVar(&offset, "offset", 0, "Runs to skip")

	return cmd
}

func buildRunsShowCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "show [run-id]",
		Short: "Show a run's full trace",
		Long:  "Display a run with its turns, tool executions, usage and cost.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			configPath = resolveConfigPath(configPath)
			return runRunsShow(cmd, configPath, args[0])
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigName, "Path to config file")
	return cmd
}

func buildRunsDeleteCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "delete [run-id]",
		Short: "Delete a run and its trace",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			configPath = resolveConfigPath(configPath)
			return runRunsDelete(cmd, configPath, args[0])
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigName, "Path to config file")
	return cmd
}

func buildRunsStatsCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show aggregated tool statistics",
		Long:  "Aggregate tool executions across all runs: call counts, success rates and average duration.",
		RunE: func(cmd *cobra.Command, args []string) error {
			configPath = resolveConfigPath(configPath)
			return runRunsStats(cmd, configPath)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigName, "Path to config file")
	return cmd
}
