package agents

import (
	"errors"
	"strings"
	"testing"

	"github.com/haasonsaas/loom/pkg/models"
)

func floatPtr(v float64) *float64 { return &v }

func TestMemoryRepositorySaveGet(t *testing.T) {
	repo := NewMemoryRepository()

	agent := &models.Agent{
		ID:           "helper",
		Name:         "Helper",
		Description:  "General-purpose assistant",
		SystemPrompt: "You are a helpful assistant.",
		Model:        "anthropic/claude-sonnet-4",
		Tools:        []string{"echo", "calc"},
		Tags:         []string{"general"},
		Generation: models.GenerationSettings{
			Temperature: floatPtr(0.3),
			MaxTokens:   2048,
		},
		MessageWindow:    20,
		StructuredMemory: true,
	}
	if err := repo.Save(agent); err != nil {
		t.Fatalf("Save: %v", err)
	}

	got, err := repo.Get("helper")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Name != "Helper" || got.Model != "anthropic/claude-sonnet-4" {
		t.Errorf("unexpected agent: %+v", got)
	}
	if len(got.Tools) != 2 || got.Tools[0] != "echo" {
		t.Errorf("unexpected tools: %v", got.Tools)
	}
	if got.Generation.Temperature == nil || *got.Generation.Temperature != 0.3 {
		t.Errorf("unexpected temperature: %v", got.Generation.Temperature)
	}
	if got.CreatedAt.IsZero() || got.UpdatedAt.IsZero() {
		t.Error("expected timestamps to be stamped on save")
	}

	if _, err := repo.Get("nope"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get missing = %v, want ErrNotFound", err)
	}
}

func TestMemoryRepositoryCloneInsulation(t *testing.T) {
	repo := NewMemoryRepository()
	agent := &models.Agent{
		ID:           "helper",
		SystemPrompt: "You help.",
		Tools:        []string{"echo"},
		Generation:   models.GenerationSettings{Temperature: floatPtr(0.3)},
	}
	if err := repo.Save(agent); err != nil {
		t.Fatalf("Save: %v", err)
	}

	// Mutating the caller's struct must not reach the stored copy.
	agent.Tools[0] = "changed"
	*agent.Generation.Temperature = 0.9

	got, err := repo.Get("helper")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Tools[0] != "echo" {
		t.Errorf("stored tools leaked caller mutation: %v", got.Tools)
	}
	if *got.Generation.Temperature != 0.3 {
		t.Errorf("stored temperature leaked caller mutation: %v", *got.Generation.Temperature)
	}

	// Nor must mutating a returned copy.
	got.Tools[0] = "mutated"
	*got.Generation.Temperature = 1.5

	again, err := repo.Get("helper")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if again.Tools[0] != "echo" || *again.Generation.Temperature != 0.3 {
		t.Errorf("stored agent leaked reader mutation: %+v", again)
	}
}

func TestMemoryRepositoryPromptVersions(t *testing.T) {
	repo := NewMemoryRepository()

	if err := repo.Save(&models.Agent{ID: "helper", SystemPrompt: "one"}); err != nil {
		t.Fatalf("Save: %v", err)
	}
	got, err := repo.Get("helper")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if len(got.PromptVersions) != 1 {
		t.Fatalf("versions after first save = %d, want 1", len(got.PromptVersions))
	}
	if got.PromptVersions[0].Version != 1 || got.PromptVersions[0].Prompt != "one" {
		t.Errorf("unexpected first version: %+v", got.PromptVersions[0])
	}

	// Re-saving the same prompt does not grow the history.
	if err := repo.Save(&models.Agent{ID: "helper", SystemPrompt: "one"}); err != nil {
		t.Fatalf("Save: %v", err)
	}
	got, _ = repo.Get("helper")
	if len(got.PromptVersions) != 1 {
		t.Fatalf("versions after identical save = %d, want 1", len(got.PromptVersions))
	}

	// A changed prompt appends.
	updated := &models.Agent{ID: "helper", SystemPrompt: "two"}
	if err := repo.Save(updated); err != nil {
		t.Fatalf("Save: %v", err)
	}
	got, _ = repo.Get("helper")
	if len(got.PromptVersions) != 2 {
		t.Fatalf("versions after changed save = %d, want 2", len(got.PromptVersions))
	}
	last := got.PromptVersions[1]
	if last.Version != 2 || last.Prompt != "two" {
		t.Errorf("unexpected appended version: %+v", last)
	}
	if got.CurrentPromptVersion() != 2 {
		t.Errorf("CurrentPromptVersion = %d, want 2", got.CurrentPromptVersion())
	}

	// Save writes the resulting history back to the caller's struct.
	if len(updated.PromptVersions) != 2 {
		t.Errorf("caller versions = %d, want 2", len(updated.PromptVersions))
	}
	if updated.UpdatedAt.IsZero() {
		t.Error("caller UpdatedAt not stamped")
	}
}

func TestMemoryRepositoryPreservesCreatedAt(t *testing.T) {
	repo := NewMemoryRepository()
	if err := repo.Save(&models.Agent{ID: "helper", SystemPrompt: "one"}); err != nil {
		t.Fatalf("Save: %v", err)
	}
	first, _ := repo.Get("helper")

	if err := repo.Save(&models.Agent{ID: "helper", SystemPrompt: "two"}); err != nil {
		t.Fatalf("Save: %v", err)
	}
	second, _ := repo.Get("helper")
	if !second.CreatedAt.Equal(first.CreatedAt) {
		t.Errorf("CreatedAt changed across saves: %v -> %v", first.CreatedAt, second.CreatedAt)
	}
	if second.UpdatedAt.Before(first.UpdatedAt) {
		t.Errorf("UpdatedAt went backwards: %v -> %v", first.UpdatedAt, second.UpdatedAt)
	}
}

func TestMemoryRepositoryList(t *testing.T) {
	repo := NewMemoryRepository()
	for _, id := range []string{"writer", "helper", "analyst"} {
		if err := repo.Save(&models.Agent{ID: id, SystemPrompt: "do " + id + " things"}); err != nil {
			t.Fatalf("Save %s: %v", id, err)
		}
	}

	list := repo.List()
	if len(list) != 3 {
		t.Fatalf("List returned %d agents, want 3", len(list))
	}
	for i, want := range []string{"analyst", "helper", "writer"} {
		if list[i].ID != want {
			t.Errorf("list[%d].ID = %q, want %q", i, list[i].ID, want)
		}
	}
}

func TestMemoryRepositoryDelete(t *testing.T) {
	repo := NewMemoryRepository()
	if err := repo.Save(&models.Agent{ID: "helper", SystemPrompt: "hi"}); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if err := repo.Delete("helper"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := repo.Get("helper"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get after delete = %v, want ErrNotFound", err)
	}
	if err := repo.Delete("helper"); !errors.Is(err, ErrNotFound) {
		t.Errorf("second Delete = %v, want ErrNotFound", err)
	}
}

func TestMemoryRepositoryValidation(t *testing.T) {
	repo := NewMemoryRepository()

	tests := []struct {
		name    string
		agent   *models.Agent
		wantErr string
	}{
		{"nil agent", nil, "agent is required"},
		{"empty id", &models.Agent{}, "agent id is required"},
		{"slash in id", &models.Agent{ID: "a/b"}, "invalid agent id"},
		{"backslash in id", &models.Agent{ID: `a\b`}, "invalid agent id"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := repo.Save(tt.agent)
			if err == nil {
				t.Fatal("expected error")
			}
			if got := err.Error(); !strings.Contains(got, tt.wantErr) {
				t.Errorf("error = %q, want substring %q", got, tt.wantErr)
			}
		})
	}
}
