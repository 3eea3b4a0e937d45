package trace

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/haasonsaas/loom/pkg/models"
)

// MemoryStore is an in-memory Store for tests and ephemeral use. Stored
// records are private copies; callers keep their own.
type MemoryStore struct {
	pricer

	mu      sync.RWMutex
	agents  map[string]*models.Agent
	runs    map[string]*models.Run
	turns   map[string][]*models.Turn          // run id → turns
	execs   map[string][]*models.ToolExecution // turn id → executions
	pricing map[pricingKey]*ModelPricing
}

type pricingKey struct {
	provider string
	model    string
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		agents:  make(map[string]*models.Agent),
		runs:    make(map[string]*models.Run),
		turns:   make(map[string][]*models.Turn),
		execs:   make(map[string][]*models.ToolExecution),
		pricing: make(map[pricingKey]*ModelPricing),
	}
}

func (s *MemoryStore) CreateRun(ctx context.Context, run *models.Run) error {
	if run == nil {
		return fmt.Errorf("run is required")
	}
	if run.ID == "" {
		run.ID = uuid.NewString()
	}
	if run.CreatedAt.IsZero() {
		run.CreatedAt = time.Now()
	}
	if run.Status == "" {
		run.Status = models.RunStatusRunning
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.runs[run.ID]; exists {
		return ErrAlreadyExists
	}
	s.runs[run.ID] = cloneRun(run)
	return nil
}

func (s *MemoryStore) AppendTurn(ctx context.Context, runID string, turn *models.Turn) error {
	if turn == nil {
		return fmt.Errorf("turn is required")
	}
	if turn.TurnNumber < 1 {
		return fmt.Errorf("turn number is required")
	}
	if turn.ID == "" {
		turn.ID = uuid.NewString()
	}
	if turn.StartedAt.IsZero() {
		turn.StartedAt = time.Now()
	}
	turn.RunID = runID

	s.mu.Lock()
	defer s.mu.Unlock()
	run, ok := s.runs[runID]
	if !ok {
		return ErrNotFound
	}

	final := cloneTurn(turn)
	final.Provisional = false

	for i, existing := range s.turns[runID] {
		if existing.TurnNumber != turn.TurnNumber {
			continue
		}
		if !existing.Provisional {
			return fmt.Errorf("turn %d: %w", turn.TurnNumber, ErrAlreadyExists)
		}
		// Reassign the placeholder's executions to the finalized turn id.
		for _, exec := range s.execs[existing.ID] {
			exec.TurnID = final.ID
		}
		s.execs[final.ID] = s.execs[existing.ID]
		delete(s.execs, existing.ID)
		s.turns[runID][i] = final
		run.Usage.Add(turn.Usage)
		return nil
	}

	s.turns[runID] = append(s.turns[runID], final)
	run.Usage.Add(turn.Usage)
	return nil
}

func (s *MemoryStore) LogToolExecution(ctx context.Context, runID string, exec *models.ToolExecution) error {
	if exec == nil {
		return fmt.Errorf("execution is required")
	}
	if exec.TurnNumber < 1 {
		return fmt.Errorf("execution turn number is required")
	}
	if exec.ID == "" {
		exec.ID = uuid.NewString()
	}
	if exec.CreatedAt.IsZero() {
		exec.CreatedAt = time.Now()
	}
	exec.RunID = runID

	s.mu.Lock()
	defer s.mu.Unlock()
	run, ok := s.runs[runID]
	if !ok {
		return ErrNotFound
	}

	var owner *models.Turn
	for _, existing := range s.turns[runID] {
		if existing.TurnNumber == exec.TurnNumber {
			owner = existing
			break
		}
	}
	if owner == nil {
		owner = &models.Turn{
			ID:          uuid.NewString(),
			RunID:       runID,
			TurnNumber:  exec.TurnNumber,
			Provisional: true,
			StartedAt:   time.Now(),
		}
		s.turns[runID] = append(s.turns[runID], owner)
	}
	exec.TurnID = owner.ID

	s.execs[owner.ID] = append(s.execs[owner.ID], cloneExec(exec))
	run.ToolCallCount++
	return nil
}

func (s *MemoryStore) UpdateRunStatus(ctx context.Context, runID string, status models.RunStatus, errMsg string) error {
	if !status.Terminal() {
		return fmt.Errorf("cannot transition run to %q", status)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	run, ok := s.runs[runID]
	if !ok {
		return ErrNotFound
	}
	if run.Status.Terminal() {
		return ErrTerminal
	}
	now := time.Now()
	run.Status = status
	run.Error = errMsg
	run.CompletedAt = &now
	return nil
}

func (s *MemoryStore) ResumeRun(ctx context.Context, runID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	run, ok := s.runs[runID]
	if !ok {
		return ErrNotFound
	}
	if !run.Status.Terminal() {
		return ErrRunActive
	}
	run.Status = models.RunStatusRunning
	run.Error = ""
	run.CompletedAt = nil
	return nil
}

func (s *MemoryStore) GetRun(ctx context.Context, runID string) (*models.Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	run, ok := s.runs[runID]
	if !ok {
		return nil, ErrNotFound
	}

	out := cloneRun(run)
	for _, turn := range s.turns[runID] {
		t := cloneTurn(turn)
		for _, exec := range s.execs[turn.ID] {
			t.Executions = append(t.Executions, cloneExec(exec))
		}
		sort.Slice(t.Executions, func(i, j int) bool {
			return t.Executions[i].CreatedAt.Before(t.Executions[j].CreatedAt)
		})
		out.Turns = append(out.Turns, t)
	}
	sort.Slice(out.Turns, func(i, j int) bool {
		return out.Turns[i].TurnNumber < out.Turns[j].TurnNumber
	})
	return out, nil
}

func (s *MemoryStore) QueryRuns(ctx context.Context, query models.RunQuery) ([]*models.Run, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	matched := make([]*models.Run, 0, len(s.runs))
	for _, run := range s.runs {
		if query.AgentID != "" && run.AgentID != query.AgentID {
			continue
		}
		if query.Status != "" && run.Status != query.Status {
			continue
		}
		if !query.CreatedAfter.IsZero() && !run.CreatedAt.After(query.CreatedAfter) {
			continue
		}
		if !query.CreatedBefore.IsZero() && !run.CreatedAt.Before(query.CreatedBefore) {
			continue
		}
		matched = append(matched, cloneRun(run))
	}
	sort.Slice(matched, func(i, j int) bool {
		return matched[i].CreatedAt.After(matched[j].CreatedAt)
	})
	return paginateRuns(matched, query.Limit, query.Offset), len(matched), nil
}

func paginateRuns(runs []*models.Run, limit, offset int) []*models.Run {
	if offset < 0 {
		offset = 0
	}
	if offset > len(runs) {
		offset = len(runs)
	}
	end := len(runs)
	if limit > 0 && offset+limit < end {
		end = offset + limit
	}
	return runs[offset:end]
}

func (s *MemoryStore) DeleteRun(ctx context.Context, runID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.deleteRunLocked(runID)
}

func (s *MemoryStore) deleteRunLocked(runID string) error {
	if _, ok := s.runs[runID]; !ok {
		return ErrNotFound
	}
	for _, turn := range s.turns[runID] {
		delete(s.execs, turn.ID)
	}
	delete(s.turns, runID)
	delete(s.runs, runID)
	return nil
}

func (s *MemoryStore) GetToolStats(ctx context.Context) ([]*models.ToolStats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	type agg struct {
		calls     int
		successes int
		total     time.Duration
	}
	byTool := make(map[string]*agg)
	for _, execs := range s.execs {
		for _, exec := range execs {
			a := byTool[exec.ToolName]
			if a == nil {
				a = &agg{}
				byTool[exec.ToolName] = a
			}
			a.calls++
			if exec.Result.Success {
				a.successes++
			}
			a.total += exec.Duration
		}
	}

	stats := make([]*models.ToolStats, 0, len(byTool))
	for name, a := range byTool {
		stats = append(stats, &models.ToolStats{
			ToolName:    name,
			Calls:       a.calls,
			Successes:   a.successes,
			AvgDuration: a.total / time.Duration(a.calls),
		})
	}
	sort.Slice(stats, func(i, j int) bool {
		return stats[i].ToolName < stats[j].ToolName
	})
	return stats, nil
}

func (s *MemoryStore) CalculateRunCost(ctx context.Context, runID string) (*models.RunCost, error) {
	s.mu.RLock()
	run, ok := s.runs[runID]
	if ok {
		run = cloneRun(run)
	}
	s.mu.RUnlock()
	if !ok {
		return nil, ErrNotFound
	}
	return s.runCost(ctx, s, run)
}

func (s *MemoryStore) SaveAgent(ctx context.Context, agent *models.Agent) error {
	if agent == nil || agent.ID == "" {
		return fmt.Errorf("agent is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.agents[agent.ID] = cloneAgent(agent)
	return nil
}

func (s *MemoryStore) GetAgent(ctx context.Context, id string) (*models.Agent, error) {
	if id == "" {
		return nil, ErrNotFound
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	agent, ok := s.agents[id]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneAgent(agent), nil
}

func (s *MemoryStore) DeleteAgent(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.agents[id]; !ok {
		return ErrNotFound
	}
	for runID, run := range s.runs {
		if run.AgentID == id {
			_ = s.deleteRunLocked(runID)
		}
	}
	delete(s.agents, id)
	return nil
}

func (s *MemoryStore) SavePricing(ctx context.Context, pricing *ModelPricing) error {
	if pricing == nil || pricing.Model == "" {
		return fmt.Errorf("pricing is required")
	}
	p := *pricing
	if p.UpdatedAt.IsZero() {
		p.UpdatedAt = time.Now()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pricing[pricingKey{p.Provider, p.Model}] = &p
	return nil
}

func (s *MemoryStore) GetPricing(ctx context.Context, provider, model string) (*ModelPricing, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if provider != "" {
		if p, ok := s.pricing[pricingKey{provider, model}]; ok {
			out := *p
			return &out, nil
		}
		return nil, ErrNotFound
	}
	// Bare model id: newest row carrying the model, any provider.
	var best *ModelPricing
	for key, p := range s.pricing {
		if key.model != model {
			continue
		}
		if best == nil || p.UpdatedAt.After(best.UpdatedAt) {
			best = p
		}
	}
	if best == nil {
		return nil, ErrNotFound
	}
	out := *best
	return &out, nil
}

func (s *MemoryStore) Close() error {
	return nil
}

func cloneRun(run *models.Run) *models.Run {
	c := *run
	c.Turns = nil
	return &c
}

func cloneTurn(turn *models.Turn) *models.Turn {
	c := *turn
	c.Executions = nil
	return &c
}

func cloneExec(exec *models.ToolExecution) *models.ToolExecution {
	c := *exec
	return &c
}

func cloneAgent(agent *models.Agent) *models.Agent {
	c := *agent
	c.Tools = append([]string(nil), agent.Tools...)
	c.Tags = append([]string(nil), agent.Tags...)
	c.PromptVersions = append([]models.PromptVersion(nil), agent.PromptVersions...)
	return &c
}
