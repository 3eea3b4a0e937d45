package main

import (
	"fmt"
	"io"
	"log/slog"
	"text/tabwriter"

	"github.com/spf13/cobra"

	modelregistry "github.com/haasonsaas/loom/internal/models"
	"github.com/haasonsaas/loom/pkg/models"
)

// =============================================================================
// Models Command Handlers
// =============================================================================

func runModelsList(cmd *cobra.Command, configPath, provider string) error {
	catalog := modelregistry.NewRegistry(slog.Default())

	var infos []models.ModelInfo
	if provider != "" {
		infos = catalog.ListByProvider(provider)
	} else {
		infos = catalog.List()
	}
	return printModelTable(cmd.OutOrStdout(), infos)
}

func runModelsRefresh(cmd *cobra.Command, configPath string) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	provs, err := buildProviders(cfg)
	if err != nil {
		return err
	}
	if len(provs) == 0 {
		return fmt.Errorf("no providers configured, nothing to refresh")
	}

	catalog := newCatalog(provs)
	defer catalog.Close()

	out := cmd.OutOrStdout()
	if err := catalog.Refresh(cmd.Context()); err != nil {
		// Failed providers keep their cached entries; the table below is
		// still the catalog's best answer.
		fmt.Fprintf(out, "warning: %v\n\n", err)
	}
	return printModelTable(out, catalog.List())
}

// printModelTable renders catalog entries. Prices are USD per million
// tokens; zero means unknown, not free.
func printModelTable(out io.Writer, infos []models.ModelInfo) error {
	if len(infos) == 0 {
		fmt.Fprintln(out, "No models known.")
		return nil
	}

	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "PROVIDER\tID\tCONTEXT\tIN $/MTOK\tOUT $/MTOK\tTOOLS\tSTREAM")
	for _, info := range infos {
		in, outPrice := "-", "-"
		if info.HasPricing() {
			in = fmt.Sprintf("%.2f", info.InputPrice)
			outPrice = fmt.Sprintf("%.2f", info.OutputPrice)
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%t\t%t\n",
			info.Provider, info.ID, fmtTokens(info.ContextWindow), in, outPrice,
			info.SupportsTools, info.SupportsStreaming)
	}
	return w.Flush()
}

// fmtTokens renders a token count compactly (200000 -> 200k).
func fmtTokens(v int) string {
	switch {
	case v == 0:
		return "-"
	case v >= 1000000 && v%1000000 == 0:
		return fmt.Sprintf("%dm", v/1000000)
	case v >= 1000:
		return fmt.Sprintf("%dk", v/1000)
	default:
		return fmt.Sprintf("%d", v)
	}
}
