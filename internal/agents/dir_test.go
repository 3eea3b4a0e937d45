package agents

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/haasonsaas/loom/pkg/models"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func writeAgentFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func TestDirRepositoryLoadsExistingFiles(t *testing.T) {
	dir := t.TempDir()
	writeAgentFile(t, dir, "helper.yaml", `
name: Helper
description: General helper
system_prompt: You are a helpful assistant.
model: anthropic/claude-sonnet-4
tools:
  - echo
  - calc
generation:
  temperature: 0.3
  max_tokens: 2048
message_window: 20
`)
	writeAgentFile(t, dir, "writer.yml", `
id: writer
system_prompt: You write prose.
model: openai/gpt-4o
`)
	// Neither of these should load.
	writeAgentFile(t, dir, "notes.txt", "not an agent")
	writeAgentFile(t, dir, ".hidden.yaml", "id: hidden")

	repo, err := NewDirRepository(dir, discardLogger())
	if err != nil {
		t.Fatalf("NewDirRepository: %v", err)
	}
	defer repo.Close()

	list := repo.List()
	if len(list) != 2 {
		t.Fatalf("List returned %d agents, want 2", len(list))
	}

	helper, err := repo.Get("helper")
	if err != nil {
		t.Fatalf("Get helper: %v", err)
	}
	if helper.Name != "Helper" || helper.Model != "anthropic/claude-sonnet-4" {
		t.Errorf("unexpected helper: %+v", helper)
	}
	if len(helper.Tools) != 2 || helper.Tools[1] != "calc" {
		t.Errorf("unexpected tools: %v", helper.Tools)
	}
	if helper.Generation.Temperature == nil || *helper.Generation.Temperature != 0.3 {
		t.Errorf("unexpected temperature: %v", helper.Generation.Temperature)
	}
	if helper.MessageWindow != 20 {
		t.Errorf("MessageWindow = %d, want 20", helper.MessageWindow)
	}
	if helper.CurrentPromptVersion() != 1 {
		t.Errorf("CurrentPromptVersion = %d, want 1", helper.CurrentPromptVersion())
	}

	writer, err := repo.Get("writer")
	if err != nil {
		t.Fatalf("Get writer: %v", err)
	}
	if writer.Name != "writer" {
		t.Errorf("Name not defaulted to id: %q", writer.Name)
	}
}

func TestDirRepositoryFilenameDiffersFromID(t *testing.T) {
	dir := t.TempDir()
	path := writeAgentFile(t, dir, "helper-agent.yaml", `
id: helper
system_prompt: You help.
model: anthropic/claude-sonnet-4
`)

	repo, err := NewDirRepository(dir, discardLogger())
	if err != nil {
		t.Fatalf("NewDirRepository: %v", err)
	}
	defer repo.Close()

	if _, err := repo.Get("helper"); err != nil {
		t.Fatalf("Get by declared id: %v", err)
	}
	if _, err := repo.Get("helper-agent"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get by filename = %v, want ErrNotFound", err)
	}

	// Delete must remove the file the agent actually came from.
	if err := repo.Delete("helper"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := os.Stat(path); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("agent file still present after delete: %v", err)
	}
}

func TestDirRepositorySavePersists(t *testing.T) {
	dir := t.TempDir()
	repo, err := NewDirRepository(dir, discardLogger())
	if err != nil {
		t.Fatalf("NewDirRepository: %v", err)
	}

	agent := &models.Agent{
		ID:           "helper",
		Name:         "Helper",
		SystemPrompt: "You are a helpful assistant.",
		Model:        "anthropic/claude-sonnet-4",
		Tools:        []string{"echo"},
		Generation:   models.GenerationSettings{Temperature: floatPtr(0.2)},
	}
	if err := repo.Save(agent); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "helper.yaml")); err != nil {
		t.Fatalf("expected helper.yaml on disk: %v", err)
	}
	if err := repo.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	reopened, err := NewDirRepository(dir, discardLogger())
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer reopened.Close()

	got, err := reopened.Get("helper")
	if err != nil {
		t.Fatalf("Get after reopen: %v", err)
	}
	if got.SystemPrompt != "You are a helpful assistant." {
		t.Errorf("prompt did not survive reopen: %q", got.SystemPrompt)
	}
	if got.Generation.Temperature == nil || *got.Generation.Temperature != 0.2 {
		t.Errorf("temperature did not survive reopen: %v", got.Generation.Temperature)
	}
	if len(got.PromptVersions) != 1 || got.PromptVersions[0].Version != 1 {
		t.Errorf("prompt versions did not survive reopen: %+v", got.PromptVersions)
	}
	if !got.CreatedAt.Equal(agent.CreatedAt) {
		t.Errorf("CreatedAt changed across reopen: %v vs %v", got.CreatedAt, agent.CreatedAt)
	}
}

func TestDirRepositoryStrictBootRejectsBadFiles(t *testing.T) {
	t.Run("unknown field", func(t *testing.T) {
		dir := t.TempDir()
		writeAgentFile(t, dir, "helper.yaml", `
system_prompt: hi
persona: pirate
`)
		_, err := NewDirRepository(dir, discardLogger())
		if err == nil {
			t.Fatal("expected error for unknown field")
		}
		if !strings.Contains(err.Error(), "load agent helper.yaml") {
			t.Errorf("error = %v, want file named", err)
		}
	})

	t.Run("duplicate id", func(t *testing.T) {
		dir := t.TempDir()
		writeAgentFile(t, dir, "a.yaml", "id: helper\nsystem_prompt: one\n")
		writeAgentFile(t, dir, "b.yaml", "id: helper\nsystem_prompt: two\n")
		_, err := NewDirRepository(dir, discardLogger())
		if err == nil {
			t.Fatal("expected error for duplicate id")
		}
		if !strings.Contains(err.Error(), "defined in both") {
			t.Errorf("error = %v, want duplicate report", err)
		}
	})
}

func TestDirRepositoryReload(t *testing.T) {
	dir := t.TempDir()
	writeAgentFile(t, dir, "helper.yaml", "system_prompt: one\n")

	repo, err := NewDirRepository(dir, discardLogger())
	if err != nil {
		t.Fatalf("NewDirRepository: %v", err)
	}
	defer repo.Close()

	// A hand-edited prompt appends a version; the prior history is carried
	// even though the file never recorded it.
	writeAgentFile(t, dir, "helper.yaml", "system_prompt: two\n")
	// A torn mid-edit file must not break the reload.
	writeAgentFile(t, dir, "broken.yaml", "system_prompt: [unclosed\n")
	writeAgentFile(t, dir, "writer.yaml", "system_prompt: You write.\n")

	if err := repo.Reload(); err != nil {
		t.Fatalf("Reload: %v", err)
	}

	list := repo.List()
	if len(list) != 2 {
		t.Fatalf("List returned %d agents, want 2 (broken skipped)", len(list))
	}

	helper, err := repo.Get("helper")
	if err != nil {
		t.Fatalf("Get helper: %v", err)
	}
	if helper.SystemPrompt != "two" {
		t.Errorf("prompt = %q, want %q", helper.SystemPrompt, "two")
	}
	if len(helper.PromptVersions) != 2 {
		t.Fatalf("versions = %d, want 2", len(helper.PromptVersions))
	}
	if helper.PromptVersions[0].Prompt != "one" || helper.PromptVersions[1].Prompt != "two" {
		t.Errorf("unexpected version history: %+v", helper.PromptVersions)
	}
	if _, err := repo.Get("broken"); !errors.Is(err, ErrNotFound) {
		t.Errorf("broken file loaded anyway: %v", err)
	}
}

func TestDirRepositoryWatchReloads(t *testing.T) {
	dir := t.TempDir()
	repo, err := NewDirRepository(dir, discardLogger())
	if err != nil {
		t.Fatalf("NewDirRepository: %v", err)
	}
	defer repo.Close()

	repo.debounce = 10 * time.Millisecond
	if err := repo.Watch(context.Background()); err != nil {
		t.Fatalf("Watch: %v", err)
	}

	path := writeAgentFile(t, dir, "late.yaml", "system_prompt: arrived\n")
	waitFor(t, 3*time.Second, func() bool {
		_, err := repo.Get("late")
		return err == nil
	})

	if err := os.Remove(path); err != nil {
		t.Fatalf("remove: %v", err)
	}
	waitFor(t, 3*time.Second, func() bool {
		_, err := repo.Get("late")
		return errors.Is(err, ErrNotFound)
	})
}

func TestIsAgentFile(t *testing.T) {
	tests := []struct {
		name string
		want bool
	}{
		{"helper.yaml", true},
		{"helper.yml", true},
		{"HELPER.YAML", true},
		{"helper.yaml.tmp", false},
		{"helper.json", false},
		{".hidden.yaml", false},
		{"README.md", false},
	}
	for _, tt := range tests {
		if got := isAgentFile(tt.name); got != tt.want {
			t.Errorf("isAgentFile(%q) = %v, want %v", tt.name, got, tt.want)
		}
	}
}
