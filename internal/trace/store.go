// Package trace persists runs, turns and tool executions and answers
// aggregate queries over them: run history, per-tool statistics and cost.
//
// The ordering contract is the subtle part: LogToolExecution may arrive
// before the owning turn's final record exists, because tool executions are
// persisted mid-turn while the assistant text is still streaming. The store
// creates a provisional turn placeholder in that case and reconciles it when
// AppendTurn arrives for the same turn number, reassigning the placeholder's
// executions to the finalized turn id.
package trace

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/haasonsaas/loom/pkg/models"
)

var (
	// ErrNotFound indicates the requested entity does not exist.
	ErrNotFound = errors.New("not found")

	// ErrAlreadyExists indicates a create conflicted with an existing entity.
	ErrAlreadyExists = errors.New("already exists")

	// ErrTerminal indicates a status update targeted a run that already
	// reached completed or error. Run status is monotonic.
	ErrTerminal = errors.New("run status is terminal")

	// ErrRunActive indicates a resume targeted a run that is still running.
	// At most one invocation may drive a run at a time.
	ErrRunActive = errors.New("run is active")
)

// DefaultPricingTTL bounds how long a pricing row fetched from a
// PricingSource stays fresh before it is fetched again.
const DefaultPricingTTL = 24 * time.Hour

// Store is the persistence boundary for runs, turns and tool executions,
// plus the agent snapshots and model pricing they reference.
//
// Run counters are owned by the store: AppendTurn adds the turn's token
// usage to the run additively and LogToolExecution increments the run's
// tool-call counter, both applied atomically per run.
type Store interface {
	// CreateRun persists a new run. An empty ID is assigned, a zero
	// CreatedAt is stamped and an empty Status defaults to running.
	CreateRun(ctx context.Context, run *models.Run) error

	// AppendTurn persists a finalized turn and folds its usage into the
	// run's counters. If a provisional placeholder exists for the same turn
	// number, its executions are reassigned to the finalized turn id and
	// the placeholder is replaced.
	AppendTurn(ctx context.Context, runID string, turn *models.Turn) error

	// LogToolExecution persists one tool execution immediately. When the
	// owning turn does not exist yet, a provisional placeholder turn is
	// created to hold it until AppendTurn reconciles.
	LogToolExecution(ctx context.Context, runID string, exec *models.ToolExecution) error

	// UpdateRunStatus transitions a run to a terminal status. Transitions
	// out of a terminal status return ErrTerminal.
	UpdateRunStatus(ctx context.Context, runID string, status models.RunStatus, errMsg string) error

	// ResumeRun reopens a terminal run for continuation, clearing its error
	// and completion time. It is the only sanctioned exception to status
	// monotonicity. Resuming a run that is still running returns
	// ErrRunActive, which serializes concurrent continuations of one run.
	ResumeRun(ctx context.Context, runID string) error

	// GetRun returns a run with its turns (ordered by turn number) and
	// their executions attached.
	GetRun(ctx context.Context, runID string) (*models.Run, error)

	// QueryRuns returns run summaries (no turns) matching the query,
	// newest first, plus the total match count before pagination.
	QueryRuns(ctx context.Context, query models.RunQuery) ([]*models.Run, int, error)

	// DeleteRun removes a run and cascades to its turns and executions.
	DeleteRun(ctx context.Context, runID string) error

	// GetToolStats aggregates executions per tool across all runs.
	GetToolStats(ctx context.Context) ([]*models.ToolStats, error)

	// CalculateRunCost computes the run's cost from its aggregated usage
	// and the pricing for its model. Returns (nil, nil) when pricing is
	// unavailable: unknown, not free.
	CalculateRunCost(ctx context.Context, runID string) (*models.RunCost, error)

	// SaveAgent upserts an agent snapshot with its prompt versions.
	SaveAgent(ctx context.Context, agent *models.Agent) error

	// GetAgent returns a stored agent snapshot.
	GetAgent(ctx context.Context, id string) (*models.Agent, error)

	// DeleteAgent removes an agent and cascades to its runs, their turns
	// and their executions.
	DeleteAgent(ctx context.Context, id string) error

	// SavePricing upserts one provider/model pricing row.
	SavePricing(ctx context.Context, pricing *ModelPricing) error

	// GetPricing returns the pricing row for a provider/model pair. An
	// empty provider matches any provider carrying the model.
	GetPricing(ctx context.Context, provider, model string) (*ModelPricing, error)

	Close() error
}

// ModelPricing is one provider/model pricing row, in USD per million tokens.
type ModelPricing struct {
	Provider    string    `json:"provider"`
	Model       string    `json:"model"`
	InputPrice  float64   `json:"input_price"`
	OutputPrice float64   `json:"output_price"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// PricingSource resolves pricing for models with no fresh stored row. The
// model registry implements this from its aggregated catalog. Implementations
// return an error when the model or its pricing is unknown.
type PricingSource interface {
	LookupPricing(ctx context.Context, provider, model string) (input, output float64, err error)
}

// Open selects a backend from the DSN:
//
//	memory://            in-memory store
//	postgres://...       postgres via lib/pq (postgresql:// and key=value
//	                     DSNs containing host= work too)
//	sqlite3:path         sqlite via the CGO driver
//	anything else        sqlite via the pure-Go driver, treated as a path
func Open(dsn string) (Store, error) {
	switch {
	case dsn == "":
		return nil, fmt.Errorf("trace: dsn is required")
	case dsn == "memory://":
		return NewMemoryStore(), nil
	case strings.HasPrefix(dsn, "postgres://"),
		strings.HasPrefix(dsn, "postgresql://"),
		strings.Contains(dsn, "host="):
		return NewPostgresStore(dsn)
	default:
		return NewSQLiteStore(dsn)
	}
}
