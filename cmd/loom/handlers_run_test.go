package main

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/spf13/cobra"

	"github.com/haasonsaas/loom/pkg/models"
)

func eventChannel(events ...models.Event) <-chan models.Event {
	ch := make(chan models.Event, len(events))
	for _, ev := range events {
		ch <- ev
	}
	close(ch)
	return ch
}

func TestRenderEvents(t *testing.T) {
	events := eventChannel(
		models.NewRunCreatedEvent("run-1"),
		models.NewContentEvent("run-1", "Checking"),
		models.NewToolCallEvent("run-1", models.ToolCall{ID: "c1", Name: "echo", Params: json.RawMessage(`{"text":"hi"}`)}),
		models.NewToolResultEvent("run-1", "c1", "echo", models.ToolOutcome{Success: true, Output: "echoed: hi"}),
		models.NewContentEvent("run-1", " done."),
		models.NewDoneEvent("run-1", models.Usage{InputTokens: 12, OutputTokens: 5}),
	)

	var buf bytes.Buffer
	if err := renderEvents(&buf, events, true); err != nil {
		t.Fatalf("renderEvents: %v", err)
	}

	out := buf.String()
	for _, want := range []string{
		"Checking",
		`[tool] echo {"text":"hi"}`,
		"[tool] echo ok: echoed: hi",
		" done.",
		"[12 in / 5 out tokens]",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestRenderEventsHidesUsage(t *testing.T) {
	events := eventChannel(
		models.NewContentEvent("run-1", "hi"),
		models.NewDoneEvent("run-1", models.Usage{InputTokens: 3, OutputTokens: 1}),
	)

	var buf bytes.Buffer
	if err := renderEvents(&buf, events, false); err != nil {
		t.Fatalf("renderEvents: %v", err)
	}
	if strings.Contains(buf.String(), "tokens") {
		t.Fatalf("usage should be hidden: %s", buf.String())
	}
}

func TestRenderEventsError(t *testing.T) {
	events := eventChannel(
		models.NewContentEvent("run-1", "partial"),
		models.NewErrorEvent("run-1", "model call failed: boom"),
	)

	var buf bytes.Buffer
	err := renderEvents(&buf, events, true)
	if err == nil || !strings.Contains(err.Error(), "model call failed: boom") {
		t.Fatalf("expected stream error, got %v", err)
	}
	if !strings.Contains(buf.String(), "partial") {
		t.Fatal("content before the error should still render")
	}
}

func TestRenderEventsFailedTool(t *testing.T) {
	events := eventChannel(
		models.NewToolResultEvent("run-1", "c1", "calc", models.ToolOutcome{Success: false, Error: "division by zero"}),
	)

	var buf bytes.Buffer
	if err := renderEvents(&buf, events, false); err != nil {
		t.Fatalf("renderEvents: %v", err)
	}
	if !strings.Contains(buf.String(), "[tool] calc failed") {
		t.Fatalf("failed tool not rendered: %s", buf.String())
	}
}

func TestFinalOutput(t *testing.T) {
	run := &models.Run{Turns: []*models.Turn{
		{TurnNumber: 1, AssistantOutput: "first"},
		{TurnNumber: 2, AssistantOutput: "final answer"},
		{TurnNumber: 3, Provisional: true},
	}}
	if got := finalOutput(run); got != "final answer" {
		t.Fatalf("finalOutput: got %q", got)
	}

	if got := finalOutput(&models.Run{}); got != "(no output)" {
		t.Fatalf("empty run: got %q", got)
	}
}

func TestPrintRunSummary(t *testing.T) {
	run := &models.Run{
		ID:            "run-9",
		Status:        models.RunStatusCompleted,
		Usage:         models.Usage{InputTokens: 100, OutputTokens: 40},
		ToolCallCount: 2,
		Turns:         []*models.Turn{{TurnNumber: 1}},
	}

	var buf bytes.Buffer
	printRunSummary(&buf, run, &models.RunCost{TotalCost: 0.0123})
	out := buf.String()
	for _, want := range []string{"run-9 completed", "100 in / 40 out", "$0.0123"} {
		if !strings.Contains(out, want) {
			t.Errorf("summary missing %q:\n%s", want, out)
		}
	}

	buf.Reset()
	printRunSummary(&buf, run, nil)
	if strings.Contains(buf.String(), "Cost") {
		t.Fatal("nil cost must not print a cost line")
	}
}

func TestRunRunRequiresMessage(t *testing.T) {
	err := runRun(&cobra.Command{}, "loom.yaml", "", 0, false, "", []string{"helper"})
	if err == nil || !strings.Contains(err.Error(), "message is required") {
		t.Fatalf("expected message validation error, got %v", err)
	}

	err = runRun(&cobra.Command{}, "loom.yaml", "", 0, false, "run-1", []string{"   "})
	if err == nil || !strings.Contains(err.Error(), "message is required") {
		t.Fatalf("expected message validation error for continuation, got %v", err)
	}
}

func TestTruncate(t *testing.T) {
	if got := truncate("short", 10); got != "short" {
		t.Fatalf("got %q", got)
	}
	if got := truncate("a very long string indeed", 10); got != "a very ..." {
		t.Fatalf("got %q", got)
	}
}
