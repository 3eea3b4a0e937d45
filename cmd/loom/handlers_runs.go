package main

import (
	"errors"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/haasonsaas/loom/internal/trace"
	"github.com/haasonsaas/loom/pkg/models"
)

// =============================================================================
// Runs Command Handlers
// =============================================================================

// withStore opens the trace store for inspection commands, which need no
// providers or engine.
func withStore(configPath string, fn func(store trace.Store) error) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	store, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer store.Close()
	return fn(store)
}

func runRunsList(cmd *cobra.Command, configPath, agentID, status string, limit, offset int) error {
	query := models.RunQuery{AgentID: agentID, Limit: limit, Offset: offset}
	if status != "" {
		switch models.RunStatus(status) {
		case models.RunStatusRunning, models.RunStatusCompleted, models.RunStatusError:
			query.Status = models.RunStatus(status)
		default:
			return fmt.Errorf("invalid status %q (want running, completed or error)", status)
		}
	}

	return withStore(configPath, func(store trace.Store) error {
		runs, total, err := store.QueryRuns(cmd.Context(), query)
		if err != nil {
			return fmt.Errorf("query runs: %w", err)
		}
		out := cmd.OutOrStdout()
		if len(runs) == 0 {
			fmt.Fprintln(out, "No runs found.")
			return nil
		}

		w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tAGENT\tMODEL\tSTATUS\tTOKENS\tTOOLS\tCREATED")
		for _, run := range runs {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%d\t%s\n",
				run.ID, run.AgentID, truncate(run.ModelID, 40), run.Status,
				run.Usage.Total(), run.ToolCallCount, run.CreatedAt.Format(time.RFC3339))
		}
		if err := w.Flush(); err != nil {
			return err
		}
		fmt.Fprintf(out, "\nShowing %d of %d run(s)\n", len(runs), total)
		return nil
	})
}

func runRunsShow(cmd *cobra.Command, configPath, runID string) error {
	return withStore(configPath, func(store trace.Store) error {
		run, err := store.GetRun(cmd.Context(), runID)
		if errors.Is(err, trace.ErrNotFound) {
			return fmt.Errorf("run not found: %s", runID)
		}
		if err != nil {
			return fmt.Errorf("load run: %w", err)
		}
		cost, err := store.CalculateRunCost(cmd.Context(), runID)
		if err != nil {
			cost = nil
		}
		return printRunTrace(cmd.OutOrStdout(), run, cost)
	})
}

// printRunTrace renders one run with its turns and tool executions.
func printRunTrace(out io.Writer, run *models.Run, cost *models.RunCost) error {
	fmt.Fprintf(out, "Run: %s\n", run.ID)
	fmt.Fprintln(out, "==========")
	fmt.Fprintf(out, "Agent: %s\n", run.AgentID)
	fmt.Fprintf(out, "Model: %s\n", run.ModelID)
	fmt.Fprintf(out, "Status: %s\n", run.Status)
	if run.Error != "" {
		fmt.Fprintf(out, "Error: %s\n", run.Error)
	}
	fmt.Fprintf(out, "Created: %s\n", run.CreatedAt.Format(time.RFC3339))
	if run.CompletedAt != nil {
		fmt.Fprintf(out, "Completed: %s\n", run.CompletedAt.Format(time.RFC3339))
	}
	fmt.Fprintf(out, "Tokens: %d in / %d out\n", run.Usage.InputTokens, run.Usage.OutputTokens)
	fmt.Fprintf(out, "Tool calls: %d\n", run.ToolCallCount)
	if cost != nil {
		fmt.Fprintf(out, "Cost: $%.4f ($%.4f in / $%.4f out)\n", cost.TotalCost, cost.InputCost, cost.OutputCost)
	} else {
		fmt.Fprintln(out, "Cost: unavailable (no pricing for model)")
	}

	for _, turn := range run.Turns {
		fmt.Fprintf(out, "\nTurn %d", turn.TurnNumber)
		if turn.Provisional {
			fmt.Fprint(out, " (provisional)")
		}
		if turn.Duration > 0 {
			fmt.Fprintf(out, " [%s]", turn.Duration.Round(time.Millisecond))
		}
		fmt.Fprintln(out)
		if turn.UserInput != "" {
			fmt.Fprintf(out, "  user> %s\n", truncate(turn.UserInput, 200))
		}
		for _, exec := range turn.Executions {
			status := "ok"
			if !exec.Result.Success {
				status = "failed"
			}
			fmt.Fprintf(out, "  [tool] %s %s [%s]\n", exec.ToolName, status, exec.Duration.Round(time.Millisecond))
		}
		if turn.AssistantOutput != "" {
			fmt.Fprintf(out, "  agent> %s\n", truncate(turn.AssistantOutput, 200))
		}
	}
	return nil
}

func runRunsDelete(cmd *cobra.Command, configPath, runID string) error {
	return withStore(configPath, func(store trace.Store) error {
		if err := store.DeleteRun(cmd.Context(), runID); err != nil {
			if errors.Is(err, trace.ErrNotFound) {
				return fmt.Errorf("run not found: %s", runID)
			}
			return fmt.Errorf("delete run: %w", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Deleted run %s\n", runID)
		return nil
	})
}

func runRunsStats(cmd *cobra.Command, configPath string) error {
	return withStore(configPath, func(store trace.Store) error {
		stats, err := store.GetToolStats(cmd.Context())
		if err != nil {
			return fmt.Errorf("tool stats: %w", err)
		}
		out := cmd.OutOrStdout()
		if len(stats) == 0 {
			fmt.Fprintln(out, "No tool executions recorded.")
			return nil
		}

		w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "TOOL\tCALLS\tSUCCESS\tAVG DURATION")
		for _, s := range stats {
			fmt.Fprintf(w, "%s\t%d\t%.0f%%\t%s\n",
				s.ToolName, s.Calls, s.SuccessRate()*100, s.AvgDuration.Round(time.Millisecond))
		}
		return w.Flush()
	})
}
