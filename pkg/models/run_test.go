package models

import (
	"encoding/json"
	"testing"
)

func TestUsageTotalAndAdd(t *testing.T) {
	u := Usage{InputTokens: 100, OutputTokens: 40}
	if u.Total() != 140 {
		t.Errorf("Total() = %d, want 140", u.Total())
	}

	u.Add(Usage{InputTokens: 10, OutputTokens: 5})
	if u.InputTokens != 110 || u.OutputTokens != 45 {
		t.Errorf("after Add: got %+v, want {110 45}", u)
	}
	if u.Total() != u.InputTokens+u.OutputTokens {
		t.Errorf("Total() = %d, want input+output = %d", u.Total(), u.InputTokens+u.OutputTokens)
	}
}

func TestRunStatusTerminal(t *testing.T) {
	tests := []struct {
		status   RunStatus
		terminal bool
	}{
		{RunStatusRunning, false},
		{RunStatusCompleted, true},
		{RunStatusError, true},
	}

	for _, tt := range tests {
		if got := tt.status.Terminal(); got != tt.terminal {
			t.Errorf("Terminal(%q) = %v, want %v", tt.status, got, tt.terminal)
		}
	}
}

func TestAgentAllowsTool(t *testing.T) {
	agent := &Agent{Tools: []string{"echo", "clock"}}

	if !agent.AllowsTool("echo") {
		t.Error("AllowsTool(echo) = false, want true")
	}
	if agent.AllowsTool("shell") {
		t.Error("AllowsTool(shell) = true, want false")
	}

	empty := &Agent{}
	if empty.AllowsTool("echo") {
		t.Error("empty allowlist should not allow any tool")
	}
}

func TestCurrentPromptVersion(t *testing.T) {
	agent := &Agent{
		PromptVersions: []PromptVersion{
			{Version: 1, Prompt: "a"},
			{Version: 3, Prompt: "c"},
			{Version: 2, Prompt: "b"},
		},
	}
	if v := agent.CurrentPromptVersion(); v != 3 {
		t.Errorf("CurrentPromptVersion() = %d, want 3", v)
	}

	if v := (&Agent{}).CurrentPromptVersion(); v != 0 {
		t.Errorf("CurrentPromptVersion() on empty history = %d, want 0", v)
	}
}

func TestToolStatsSuccessRate(t *testing.T) {
	s := ToolStats{Calls: 4, Successes: 3}
	if got := s.SuccessRate(); got != 0.75 {
		t.Errorf("SuccessRate() = %v, want 0.75", got)
	}

	if got := (ToolStats{}).SuccessRate(); got != 0 {
		t.Errorf("SuccessRate() for unused tool = %v, want 0", got)
	}
}

func TestEventWireShape(t *testing.T) {
	ev := NewToolCallEvent("run-1", ToolCall{
		ID:     "call-1",
		Name:   "echo",
		Params: json.RawMessage(`{"text":"hi"}`),
	})

	data, err := json.Marshal(ev)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	var decoded map[string]any
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}

	if decoded["type"] != string(EventToolCall) {
		t.Errorf("type = %v, want %q", decoded["type"], EventToolCall)
	}
	if decoded["run_id"] != "run-1" {
		t.Errorf("run_id = %v, want run-1", decoded["run_id"])
	}
	if _, ok := decoded["tool_call"]; !ok {
		t.Error("tool_call payload missing from wire shape")
	}
	if _, ok := decoded["done"]; ok {
		t.Error("unset payloads should be omitted from the wire shape")
	}
}
