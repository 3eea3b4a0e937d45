package models

import (
	"encoding/json"
	"time"
)

// RunStatus represents the lifecycle state of a run. Transitions are
// monotonic: running is the only initial state, completed and error are
// terminal.
type RunStatus string

const (
	RunStatusRunning   RunStatus = "running"
	RunStatusCompleted RunStatus = "completed"
	RunStatusError     RunStatus = "error"
)

// Terminal reports whether the status permits no further transitions.
func (s RunStatus) Terminal() bool {
	return s == RunStatusCompleted || s == RunStatusError
}

// Run is one top-level or continued conversation execution. A run owns an
// ordered sequence of turns and aggregates their usage.
type Run struct {
	// ID uniquely identifies the run.
	ID string `json:"id"`

	// AgentID is the agent this run executed.
	AgentID string `json:"agent_id"`

	// ModelID is the model actually used (override or agent default).
	ModelID string `json:"model_id"`

	// Status is running until the loop exits, then completed or error.
	Status RunStatus `json:"status"`

	// Usage is the cumulative token count across all appended turns.
	Usage Usage `json:"usage"`

	// ToolCallCount is the cumulative number of tool executions.
	ToolCallCount int `json:"tool_call_count"`

	// Settings is a snapshot of the generation settings in effect.
	Settings GenerationSettings `json:"settings,omitempty"`

	// Error holds the failure message for error-status runs.
	Error string `json:"error,omitempty"`

	CreatedAt   time.Time  `json:"created_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`

	// Turns is populated by trace queries, ordered by TurnNumber.
	Turns []*Turn `json:"turns,omitempty"`
}

// Turn is one user-input/assistant-output cycle within a run. A turn may be
// created provisional (placeholder) when a tool execution needs a parent
// before the assistant text is finalized, then reconciled in place.
type Turn struct {
	// ID uniquely identifies the turn.
	ID string `json:"id"`

	// RunID is the owning run.
	RunID string `json:"run_id"`

	// TurnNumber orders turns within the run. Fresh runs start at 1;
	// continuation runs start where the prior history left off.
	TurnNumber int `json:"turn_number"`

	// UserInput is the user-facing input that opened the turn. Empty for
	// follow-up turns driven purely by tool observations.
	UserInput string `json:"user_input,omitempty"`

	// AssistantOutput is the model's textual output for the turn.
	AssistantOutput string `json:"assistant_output,omitempty"`

	// Usage is the token consumption attributed to this turn.
	Usage Usage `json:"usage"`

	// Provisional marks a placeholder awaiting reconciliation.
	Provisional bool `json:"provisional,omitempty"`

	StartedAt time.Time     `json:"started_at"`
	Duration  time.Duration `json:"duration"`

	// Executions are the tool executions performed during this turn.
	Executions []*ToolExecution `json:"executions,omitempty"`
}

// ToolExecution records one dispatched tool call. Immutable once written,
// except for reassignment from a provisional turn to its finalized turn.
type ToolExecution struct {
	// ID uniquely identifies the execution.
	ID string `json:"id"`

	// TurnID is the owning turn (possibly provisional until reconciled).
	TurnID string `json:"turn_id"`

	// TurnNumber is the ordinal of the owning turn. It is the reconciliation
	// key: an execution logged before its turn is finalized attaches to a
	// placeholder with this number.
	TurnNumber int `json:"turn_number"`

	// RunID denormalizes the owning run for direct queries.
	RunID string `json:"run_id"`

	// ToolName is the dispatched tool.
	ToolName string `json:"tool_name"`

	// Params is the raw JSON input the tool received.
	Params json.RawMessage `json:"params,omitempty"`

	// Result is the structured outcome.
	Result ToolOutcome `json:"result"`

	Duration  time.Duration `json:"duration"`
	CreatedAt time.Time     `json:"created_at"`
}

// ToolOutcome is the structured result of a tool execution. A failed tool is
// an outcome with Success=false, never a Go error: failures flow back to the
// model as ordinary observations.
type ToolOutcome struct {
	Success bool            `json:"success"`
	Output  string          `json:"output,omitempty"`
	Data    json.RawMessage `json:"data,omitempty"`
	Error   string          `json:"error,omitempty"`
}

// RunQuery filters QueryRuns results. Zero values mean "no constraint".
type RunQuery struct {
	AgentID       string
	Status        RunStatus
	CreatedAfter  time.Time
	CreatedBefore time.Time
	Limit         int
	Offset        int
}

// ToolStats aggregates executions of one tool across runs.
type ToolStats struct {
	ToolName    string        `json:"tool_name"`
	Calls       int           `json:"calls"`
	Successes   int           `json:"successes"`
	AvgDuration time.Duration `json:"avg_duration"`
}

// SuccessRate returns the fraction of successful calls, zero when unused.
func (s ToolStats) SuccessRate() float64 {
	if s.Calls == 0 {
		return 0
	}
	return float64(s.Successes) / float64(s.Calls)
}

// RunCost is the computed cost of a run. A nil *RunCost from the trace store
// means pricing was unavailable: unknown, not free.
type RunCost struct {
	InputCost  float64 `json:"input_cost"`
	OutputCost float64 `json:"output_cost"`
	TotalCost  float64 `json:"total_cost"`
	Currency   string  `json:"currency"`
}
