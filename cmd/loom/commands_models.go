package main

import (
	"github.com/spf13/cobra"
)

// =============================================================================
// Models Commands
// =============================================================================

// buildModelsCmd creates the "models" command group for the model catalog.
func buildModelsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "models",
		Short: "Inspect the model catalog",
		Long: `Inspect the aggregated model catalog.

The builtin catalog covers the common models and their pricing; refresh
queries each configured provider for its live listing.`,
	}

	cmd.AddCommand(buildModelsListCmd())
	cmd.AddCommand(buildModelsRefreshCmd())

	return cmd
}

func buildModelsListCmd() *cobra.Command {
	var (
		configPath string
		provider   string
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List known models",
		RunE: func(cmd *cobra.Command, args []string) error {
			configPath = resolveConfigPath(configPath)
			return runModelsList(cmd, configPath, provider)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigName, "Path to config file")
	cmd.Flags().StringVarP(&provider, "provider", "p", "", "Filter by provider")
	return cmd
}

func buildModelsRefreshCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "refresh",
		Short: "Refresh the catalog from the configured providers",
		Long: `Query every configured provider for its live model listing.

A provider that fails keeps its cached entries, so a transient outage
never empties the catalog.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			configPath = resolveConfigPath(configPath)
			return runModelsRefresh(cmd, configPath)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigName, "Path to config file")
	return cmd
}
