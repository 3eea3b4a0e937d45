package main

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// seedAgent writes one agent definition into the config's agents directory.
func seedAgent(t *testing.T, cfgPath string) {
	t.Helper()
	cfg, err := loadConfig(cfgPath)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if err := os.MkdirAll(cfg.Agents.Dir, 0o755); err != nil {
		t.Fatal(err)
	}
	def := `id: helper
name: Helper
description: Answers questions using the echo tool.
model: anthropic/claude-3-5-haiku-20241022
system_prompt: You are a helpful assistant.
tools:
  - echo
`
	if err := os.WriteFile(filepath.Join(cfg.Agents.Dir, "helper.yaml"), []byte(def), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestAgentsListEmpty(t *testing.T) {
	cfgPath, _ := writeTestConfig(t)

	out, err := execRoot(t, "agents", "list", "--config", cfgPath)
	if err != nil {
		t.Fatalf("agents list: %v", err)
	}
	if !strings.Contains(out, "No agents defined.") {
		t.Fatalf("unexpected output:\n%s", out)
	}
}

func TestAgentsListShowsDefinitions(t *testing.T) {
	cfgPath, _ := writeTestConfig(t)
	seedAgent(t, cfgPath)

	out, err := execRoot(t, "agents", "list", "--config", cfgPath)
	if err != nil {
		t.Fatalf("agents list: %v", err)
	}
	for _, want := range []string{"helper", "Helper", "anthropic/claude-3-5-haiku-20241022"} {
		if !strings.Contains(out, want) {
			t.Errorf("list output missing %q:\n%s", want, out)
		}
	}
}

func TestAgentsShow(t *testing.T) {
	cfgPath, _ := writeTestConfig(t)
	seedAgent(t, cfgPath)

	out, err := execRoot(t, "agents", "show", "helper", "--config", cfgPath)
	if err != nil {
		t.Fatalf("agents show: %v", err)
	}
	for _, want := range []string{
		"Agent: helper",
		"Model: anthropic/claude-3-5-haiku-20241022",
		"Tools: echo",
		"You are a helpful assistant.",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("show output missing %q:\n%s", want, out)
		}
	}
}

func TestAgentsShowUnknown(t *testing.T) {
	cfgPath, _ := writeTestConfig(t)

	_, err := execRoot(t, "agents", "show", "missing", "--config", cfgPath)
	if err == nil || !strings.Contains(err.Error(), "agent not found") {
		t.Fatalf("expected not-found error, got %v", err)
	}
}
