package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/haasonsaas/loom/internal/agent"
	"github.com/haasonsaas/loom/internal/stream"
	"github.com/haasonsaas/loom/pkg/models"
)

// =============================================================================
// Run Command Handlers
// =============================================================================

// streamBuffer is the channel capacity for CLI-owned session sinks.
const streamBuffer = 256

// runRun executes or continues a run.
func runRun(cmd *cobra.Command, configPath, model string, maxTurns int, streamOut bool, resumeID string, args []string) error {
	var agentID, message string
	if resumeID != "" {
		message = strings.TrimSpace(strings.Join(args, " "))
	} else {
		agentID = args[0]
		message = strings.TrimSpace(strings.Join(args[1:], " "))
	}
	if message == "" {
		return fmt.Errorf("message is required")
	}

	rt, err := newRuntime(cmd.Context(), configPath)
	if err != nil {
		return err
	}
	defer rt.Close()

	out := cmd.OutOrStdout()
	opts := agent.RunOptions{Model: model, MaxTurns: maxTurns}

	if streamOut {
		return runStreamed(cmd.Context(), rt, out, resumeID, agentID, message, opts)
	}

	runID := resumeID
	if resumeID != "" {
		err = rt.engine.ContinueConversation(cmd.Context(), resumeID, message, opts)
	} else {
		runID, err = rt.engine.Execute(cmd.Context(), agentID, message, opts)
	}
	if err != nil {
		if runID != "" {
			return fmt.Errorf("run %s failed: %w", runID, err)
		}
		return err
	}

	run, err := rt.store.GetRun(cmd.Context(), runID)
	if err != nil {
		return fmt.Errorf("load run %s: %w", runID, err)
	}
	fmt.Fprintln(out, finalOutput(run))
	printRunSummary(out, run, runCost(cmd.Context(), rt, runID))
	return nil
}

// runStreamed renders a run's event stream as it happens. A new run uses the
// engine's own session; a continuation pre-registers a sink and drives the
// continuation in the background.
func runStreamed(ctx context.Context, rt *runtime, out io.Writer, resumeID, agentID, message string, opts agent.RunOptions) error {
	if resumeID == "" {
		session, err := rt.engine.ExecuteStreaming(ctx, agentID, message, opts)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "run %s\n\n", session.RunID)
		if err := renderEvents(out, session.Events, true); err != nil {
			return fmt.Errorf("run %s failed: %w", session.RunID, err)
		}
		return nil
	}

	sink := stream.NewChannelSink(streamBuffer)
	opts.SessionID = uuid.NewString()
	if err := rt.engine.Sessions().Open(opts.SessionID, sink); err != nil {
		return fmt.Errorf("open session: %w", err)
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- rt.engine.ContinueConversation(ctx, resumeID, message, opts)
	}()

	renderErr := renderEvents(out, sink.Events(), true)
	if err := <-errCh; err != nil {
		return fmt.Errorf("run %s failed: %w", resumeID, err)
	}
	return renderErr
}

// renderEvents writes a session's event stream to out. Content deltas are
// printed verbatim; tool activity gets one line each. The returned error is
// the stream's terminal error event, if any.
func renderEvents(out io.Writer, events <-chan models.Event, showUsage bool) error {
	var streamErr error
	for ev := range events {
		switch ev.Type {
		case models.EventContent:
			fmt.Fprint(out, ev.Content.Text)
		case models.EventToolCall:
			fmt.Fprintf(out, "\n[tool] %s %s\n", ev.ToolCall.Name, truncate(string(ev.ToolCall.Parameters), 80))
		case models.EventToolResult:
			if ev.ToolResult.Success {
				fmt.Fprintf(out, "[tool] %s ok: %s\n", ev.ToolResult.Name, truncate(ev.ToolResult.Output, 120))
			} else {
				fmt.Fprintf(out, "[tool] %s failed\n", ev.ToolResult.Name)
			}
		case models.EventDone:
			if showUsage {
				fmt.Fprintf(out, "\n\n[%d in / %d out tokens]\n", ev.Done.Usage.InputTokens, ev.Done.Usage.OutputTokens)
			}
		case models.EventError:
			streamErr = fmt.Errorf("%s", ev.Error.Message)
		}
	}
	return streamErr
}

// runChat drives the interactive chat loop. The first message starts a run;
// every later message continues it so the whole session shares one trace.
func runChat(cmd *cobra.Command, configPath, agentID, model string) error {
	rt, err := newRuntime(cmd.Context(), configPath)
	if err != nil {
		return err
	}
	defer rt.Close()

	out := cmd.OutOrStdout()
	interactive := term.IsTerminal(int(os.Stdin.Fd()))
	if interactive {
		fmt.Fprintf(out, "Chat session with %s. Type /quit to exit.\n\n", agentID)
	}

	var runID string
	scanner := bufio.NewScanner(cmd.InOrStdin())
	for {
		if interactive {
			fmt.Fprint(out, "you> ")
		}
		if !scanner.Scan() {
			break
		}
		message := strings.TrimSpace(scanner.Text())
		if message == "" {
			continue
		}
		if message == "/quit" || message == "/exit" {
			break
		}

		if interactive {
			fmt.Fprintf(out, "%s> ", agentID)
		}
		runID, err = chatTurn(cmd.Context(), rt, out, agentID, runID, message, model)
		if err != nil {
			fmt.Fprintf(out, "error: %v\n", err)
			continue
		}
		fmt.Fprintln(out)
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("read input: %w", err)
	}

	if runID != "" && interactive {
		fmt.Fprintf(out, "\nSession trace: loom runs show %s\n", runID)
	}
	return nil
}

// chatTurn streams one chat exchange and returns the run id carrying the
// conversation.
func chatTurn(ctx context.Context, rt *runtime, out io.Writer, agentID, runID, message, model string) (string, error) {
	opts := agent.RunOptions{Model: model}

	if runID == "" {
		session, err := rt.engine.ExecuteStreaming(ctx, agentID, message, opts)
		if err != nil {
			return "", err
		}
		return session.RunID, renderEvents(out, session.Events, false)
	}

	sink := stream.NewChannelSink(streamBuffer)
	opts.SessionID = uuid.NewString()
	if err := rt.engine.Sessions().Open(opts.SessionID, sink); err != nil {
		return runID, fmt.Errorf("open session: %w", err)
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- rt.engine.ContinueConversation(ctx, runID, message, opts)
	}()

	renderErr := renderEvents(out, sink.Events(), false)
	if err := <-errCh; err != nil {
		return runID, err
	}
	return runID, renderErr
}

// finalOutput returns the last assistant text of a run.
func finalOutput(run *models.Run) string {
	for i := len(run.Turns) - 1; i >= 0; i-- {
		if !run.Turns[i].Provisional && run.Turns[i].AssistantOutput != "" {
			return run.Turns[i].AssistantOutput
		}
	}
	return "(no output)"
}

// printRunSummary prints the run's closing stats. A nil cost means pricing
// was unavailable, not free.
func printRunSummary(out io.Writer, run *models.Run, cost *models.RunCost) {
	fmt.Fprintf(out, "\nRun %s %s in %d turn(s), %d tool call(s)\n",
		run.ID, run.Status, len(run.Turns), run.ToolCallCount)
	fmt.Fprintf(out, "Tokens: %d in / %d out\n", run.Usage.InputTokens, run.Usage.OutputTokens)
	if cost != nil {
		fmt.Fprintf(out, "Cost: $%.4f\n", cost.TotalCost)
	}
}

// runCost fetches the run's cost, treating lookup failures as unavailable.
func runCost(ctx context.Context, rt *runtime, runID string) *models.RunCost {
	cost, err := rt.store.CalculateRunCost(ctx, runID)
	if err != nil {
		return nil
	}
	return cost
}

// truncate shortens a string to maxLen with ellipsis.
func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen-3] + "..."
}
