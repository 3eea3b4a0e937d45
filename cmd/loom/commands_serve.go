package main

import (
	"github.com/spf13/cobra"
)

// =============================================================================
// Serve Commands
// =============================================================================

// buildServeMetricsCmd creates the "serve-metrics" command.
func buildServeMetricsCmd() *cobra.Command {
	var (
		configPath string
		addr       string
	)

	cmd := &cobra.Command{
		Use:   "serve-metrics",
		Short: "Serve Prometheus metrics over HTTP",
		Long: `Expose the process's Prometheus metrics on /metrics.

Runs until interrupted. A /healthz endpoint answers liveness probes.`,
		Example: `  # Serve on the config's metrics address
  loom serve-metrics

  # Serve on an explicit address
  loom serve-metrics --addr :9400`,
		RunE: func(cmd *cobra.Command, args []string) error {
			configPath = resolveConfigPath(configPath)
			return runServeMetrics(cmd.Context(), cmd.OutOrStdout(), configPath, addr)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigName, "Path to config file")
	cmd.Flags().StringVar(&addr, "addr", "", "Listen address (defaults to metrics.addr, then :9090)")

	return cmd
}
