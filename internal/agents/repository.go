// Package agents stores agent definitions: prompt, model, tool allowlist and
// generation settings, with append-only prompt version history. The directory
// repository is the production implementation; the memory repository backs
// tests and embedded use.
package agents

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/haasonsaas/loom/pkg/models"
)

// ErrNotFound indicates the requested agent does not exist.
var ErrNotFound = errors.New("agent not found")

// Repository is the agent store behind the engine and the CLI.
type Repository interface {
	// Get returns a copy of the agent with the given id.
	Get(id string) (*models.Agent, error)

	// List returns copies of all agents, sorted by id.
	List() []*models.Agent

	// Save creates or updates an agent. A changed system prompt appends a
	// PromptVersion; the history is never overwritten.
	Save(agent *models.Agent) error

	// Delete removes an agent.
	Delete(id string) error

	Close() error
}

func validateID(id string) error {
	if id == "" {
		return fmt.Errorf("agent id is required")
	}
	if strings.ContainsAny(id, `/\`) {
		return fmt.Errorf("invalid agent id %q", id)
	}
	return nil
}

// ensureVersion appends a PromptVersion when the agent's current prompt is
// not the latest recorded revision.
func ensureVersion(agent *models.Agent) {
	if agent.SystemPrompt == "" {
		return
	}
	n := len(agent.PromptVersions)
	if n > 0 && agent.PromptVersions[n-1].Prompt == agent.SystemPrompt {
		return
	}
	agent.PromptVersions = append(agent.PromptVersions, models.PromptVersion{
		Version:   agent.CurrentPromptVersion() + 1,
		Prompt:    agent.SystemPrompt,
		CreatedAt: time.Now(),
	})
}

func cloneAgent(a *models.Agent) *models.Agent {
	clone := *a
	clone.Tools = append([]string(nil), a.Tools...)
	clone.Tags = append([]string(nil), a.Tags...)
	clone.PromptVersions = clonePromptVersions(a.PromptVersions)
	if a.Generation.Temperature != nil {
		t := *a.Generation.Temperature
		clone.Generation.Temperature = &t
	}
	if a.Generation.TopP != nil {
		p := *a.Generation.TopP
		clone.Generation.TopP = &p
	}
	return &clone
}

func clonePromptVersions(versions []models.PromptVersion) []models.PromptVersion {
	return append([]models.PromptVersion(nil), versions...)
}

// MemoryRepository is an in-memory Repository.
type MemoryRepository struct {
	mu     sync.RWMutex
	agents map[string]*models.Agent
}

// NewMemoryRepository creates an empty in-memory repository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{agents: make(map[string]*models.Agent)}
}

func (r *MemoryRepository) Get(id string) (*models.Agent, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	agent, ok := r.agents[id]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneAgent(agent), nil
}

func (r *MemoryRepository) List() []*models.Agent {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*models.Agent, 0, len(r.agents))
	for _, agent := range r.agents {
		out = append(out, cloneAgent(agent))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (r *MemoryRepository) Save(agent *models.Agent) error {
	if agent == nil {
		return fmt.Errorf("agent is required")
	}
	if err := validateID(agent.ID); err != nil {
		return err
	}
	clone := cloneAgent(agent)

	r.mu.Lock()
	defer r.mu.Unlock()
	if old, ok := r.agents[clone.ID]; ok {
		if len(clone.PromptVersions) == 0 {
			clone.PromptVersions = clonePromptVersions(old.PromptVersions)
		}
		if clone.CreatedAt.IsZero() {
			clone.CreatedAt = old.CreatedAt
		}
	}
	if clone.CreatedAt.IsZero() {
		clone.CreatedAt = time.Now()
	}
	clone.UpdatedAt = time.Now()
	ensureVersion(clone)
	r.agents[clone.ID] = clone

	agent.PromptVersions = clonePromptVersions(clone.PromptVersions)
	agent.CreatedAt = clone.CreatedAt
	agent.UpdatedAt = clone.UpdatedAt
	return nil
}

func (r *MemoryRepository) Delete(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.agents[id]; !ok {
		return ErrNotFound
	}
	delete(r.agents, id)
	return nil
}

func (r *MemoryRepository) Close() error { return nil }
