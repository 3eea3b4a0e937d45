package trace

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3" // CGO driver, selected by sqlite3: DSNs
	_ "modernc.org/sqlite"          // Pure-Go SQLite driver, the default

	"github.com/haasonsaas/loom/pkg/models"
)

// SQLiteStore is the default Store, backed by a single SQLite database.
type SQLiteStore struct {
	pricer
	db *sql.DB

	// Prepared statements for the hot write paths
	stmtInsertRun  *sql.Stmt
	stmtInsertTurn *sql.Stmt
	stmtInsertExec *sql.Stmt
}

// NewSQLiteStore opens (and initializes) a SQLite trace database. An empty
// path means an in-memory database. A "sqlite3:" prefix selects the CGO
// driver; everything else uses the pure-Go driver.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	driver, dsn := sqliteDriver(path)
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if strings.Contains(dsn, ":memory:") || strings.Contains(dsn, "mode=memory") {
		// An in-memory database exists per connection. Pin the pool so
		// every statement sees the same database.
		db.SetMaxOpenConns(1)
	}

	s := &SQLiteStore{db: db}
	if err := s.init(); err != nil {
		db.Close()
		return nil, err
	}
	if err := s.prepareStatements(); err != nil {
		db.Close()
		return nil, fmt.Errorf("prepare statements: %w", err)
	}
	return s, nil
}

// sqliteDriver picks the registered driver for a path. Both drivers accept
// the same file DSNs; they differ only in the registered name.
func sqliteDriver(path string) (driver, dsn string) {
	switch {
	case strings.HasPrefix(path, "sqlite3:"):
		return "sqlite3", strings.TrimPrefix(path, "sqlite3:")
	case strings.HasPrefix(path, "sqlite:"):
		return "sqlite", strings.TrimPrefix(path, "sqlite:")
	}
	if path == "" {
		path = ":memory:"
	}
	return "sqlite", path
}

func (s *SQLiteStore) init() error {
	tables := []string{
		`CREATE TABLE IF NOT EXISTS agents (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			description TEXT NOT NULL DEFAULT '',
			system_prompt TEXT NOT NULL DEFAULT '',
			model TEXT NOT NULL DEFAULT '',
			tools TEXT NOT NULL DEFAULT '[]',
			tags TEXT NOT NULL DEFAULT '[]',
			generation TEXT NOT NULL DEFAULT '{}',
			message_window INTEGER NOT NULL DEFAULT 0,
			structured_memory INTEGER NOT NULL DEFAULT 0,
			created_at DATETIME,
			updated_at DATETIME
		)`,
		`CREATE TABLE IF NOT EXISTS prompt_versions (
			agent_id TEXT NOT NULL,
			version INTEGER NOT NULL,
			prompt TEXT NOT NULL,
			created_at DATETIME,
			PRIMARY KEY (agent_id, version)
		)`,
		`CREATE TABLE IF NOT EXISTS runs (
			id TEXT PRIMARY KEY,
			agent_id TEXT NOT NULL,
			model_id TEXT NOT NULL DEFAULT '',
			status TEXT NOT NULL,
			input_tokens INTEGER NOT NULL DEFAULT 0,
			output_tokens INTEGER NOT NULL DEFAULT 0,
			tool_call_count INTEGER NOT NULL DEFAULT 0,
			settings TEXT NOT NULL DEFAULT '{}',
			error TEXT NOT NULL DEFAULT '',
			created_at DATETIME,
			completed_at DATETIME
		)`,
		`CREATE TABLE IF NOT EXISTS turns (
			id TEXT PRIMARY KEY,
			run_id TEXT NOT NULL,
			turn_number INTEGER NOT NULL,
			user_input TEXT NOT NULL DEFAULT '',
			assistant_output TEXT NOT NULL DEFAULT '',
			input_tokens INTEGER NOT NULL DEFAULT 0,
			output_tokens INTEGER NOT NULL DEFAULT 0,
			provisional INTEGER NOT NULL DEFAULT 0,
			started_at DATETIME,
			duration_ns INTEGER NOT NULL DEFAULT 0,
			UNIQUE (run_id, turn_number)
		)`,
		`CREATE TABLE IF NOT EXISTS tool_executions (
			id TEXT PRIMARY KEY,
			turn_id TEXT NOT NULL,
			turn_number INTEGER NOT NULL,
			run_id TEXT NOT NULL,
			tool_name TEXT NOT NULL,
			params TEXT NOT NULL DEFAULT '',
			success INTEGER NOT NULL DEFAULT 0,
			output TEXT NOT NULL DEFAULT '',
			data TEXT NOT NULL DEFAULT '',
			error TEXT NOT NULL DEFAULT '',
			duration_ns INTEGER NOT NULL DEFAULT 0,
			created_at DATETIME
		)`,
		`CREATE TABLE IF NOT EXISTS model_pricing (
			provider TEXT NOT NULL DEFAULT '',
			model TEXT NOT NULL,
			input_price REAL NOT NULL DEFAULT 0,
			output_price REAL NOT NULL DEFAULT 0,
			updated_at DATETIME,
			PRIMARY KEY (provider, model)
		)`,
	}
	for _, table := range tables {
		if _, err := s.db.Exec(table); err != nil {
			return fmt.Errorf("create table: %w", err)
		}
	}

	indexes := []string{
		"CREATE INDEX IF NOT EXISTS idx_runs_agent ON runs(agent_id)",
		"CREATE INDEX IF NOT EXISTS idx_runs_status ON runs(status)",
		"CREATE INDEX IF NOT EXISTS idx_runs_created ON runs(created_at)",
		"CREATE INDEX IF NOT EXISTS idx_turns_run ON turns(run_id)",
		"CREATE INDEX IF NOT EXISTS idx_execs_run ON tool_executions(run_id)",
		"CREATE INDEX IF NOT EXISTS idx_execs_turn ON tool_executions(turn_id)",
		"CREATE INDEX IF NOT EXISTS idx_execs_tool ON tool_executions(tool_name)",
	}
	for _, idx := range indexes {
		if _, err := s.db.Exec(idx); err != nil {
			return fmt.Errorf("create index: %w", err)
		}
	}
	return nil
}

func (s *SQLiteStore) prepareStatements() error {
	var err error

	s.stmtInsertRun, err = s.db.Prepare(`
		INSERT INTO runs (id, agent_id, model_id, status, input_tokens, output_tokens, tool_call_count, settings, error, created_at, completed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("insert run: %w", err)
	}

	s.stmtInsertTurn, err = s.db.Prepare(`
		INSERT INTO turns (id, run_id, turn_number, user_input, assistant_output, input_tokens, output_tokens, provisional, started_at, duration_ns)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("insert turn: %w", err)
	}

	s.stmtInsertExec, err = s.db.Prepare(`
		INSERT INTO tool_executions (id, turn_id, turn_number, run_id, tool_name, params, success, output, data, error, duration_ns, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("insert execution: %w", err)
	}
	return nil
}

func (s *SQLiteStore) CreateRun(ctx context.Context, run *models.Run) error {
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

	settings, err := json.Marshal(run.Settings)
	if err != nil {
		return fmt.Errorf("marshal settings: %w", err)
	}
	_, err = s.stmtInsertRun.ExecContext(ctx,
		run.ID, run.AgentID, run.ModelID, string(run.Status),
		run.Usage.InputTokens, run.Usage.OutputTokens, run.ToolCallCount,
		string(settings), run.Error, run.CreatedAt, nullTime(run.CompletedAt),
	)
	if err != nil {
		if isSQLiteConflict(err) {
			return ErrAlreadyExists
		}
		return fmt.Errorf("create run: %w", err)
	}
	return nil
}

func (s *SQLiteStore) AppendTurn(ctx context.Context, runID string, turn *models.Turn) error {
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

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer rollback(tx)

	// Fold the turn's usage into the run counters first; zero rows affected
	// means no such run.
	res, err := tx.ExecContext(ctx,
		`UPDATE runs SET input_tokens = input_tokens + ?, output_tokens = output_tokens + ? WHERE id = ?`,
		turn.Usage.InputTokens, turn.Usage.OutputTokens, runID,
	)
	if err != nil {
		return fmt.Errorf("update run usage: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}

	var placeholderID string
	var provisional bool
	err = tx.QueryRowContext(ctx,
		`SELECT id, provisional FROM turns WHERE run_id = ? AND turn_number = ?`,
		runID, turn.TurnNumber,
	).Scan(&placeholderID, &provisional)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		// No placeholder to reconcile.
	case err != nil:
		return fmt.Errorf("find placeholder turn: %w", err)
	case !provisional:
		return fmt.Errorf("turn %d: %w", turn.TurnNumber, ErrAlreadyExists)
	default:
		if _, err := tx.ExecContext(ctx,
			`UPDATE tool_executions SET turn_id = ? WHERE turn_id = ?`,
			turn.ID, placeholderID,
		); err != nil {
			return fmt.Errorf("reassign executions: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM turns WHERE id = ?`, placeholderID); err != nil {
			return fmt.Errorf("remove placeholder turn: %w", err)
		}
	}

	if _, err := tx.StmtContext(ctx, s.stmtInsertTurn).ExecContext(ctx,
		turn.ID, runID, turn.TurnNumber, turn.UserInput, turn.AssistantOutput,
		turn.Usage.InputTokens, turn.Usage.OutputTokens, false,
		turn.StartedAt, int64(turn.Duration),
	); err != nil {
		return fmt.Errorf("insert turn: %w", err)
	}
	return tx.Commit()
}

func (s *SQLiteStore) LogToolExecution(ctx context.Context, runID string, exec *models.ToolExecution) error {
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

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer rollback(tx)

	res, err := tx.ExecContext(ctx,
		`UPDATE runs SET tool_call_count = tool_call_count + 1 WHERE id = ?`, runID)
	if err != nil {
		return fmt.Errorf("update run tool count: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}

	var turnID string
	err = tx.QueryRowContext(ctx,
		`SELECT id FROM turns WHERE run_id = ? AND turn_number = ?`,
		runID, exec.TurnNumber,
	).Scan(&turnID)
	if errors.Is(err, sql.ErrNoRows) {
		// The owning turn is not finalized yet: park the execution on a
		// provisional placeholder.
		turnID = uuid.NewString()
		if _, err := tx.StmtContext(ctx, s.stmtInsertTurn).ExecContext(ctx,
			turnID, runID, exec.TurnNumber, "", "", 0, 0, true, time.Now(), int64(0),
		); err != nil {
			return fmt.Errorf("insert placeholder turn: %w", err)
		}
	} else if err != nil {
		return fmt.Errorf("find turn: %w", err)
	}
	exec.TurnID = turnID

	if _, err := tx.StmtContext(ctx, s.stmtInsertExec).ExecContext(ctx,
		exec.ID, turnID, exec.TurnNumber, runID, exec.ToolName,
		string(exec.Params), exec.Result.Success, exec.Result.Output,
		string(exec.Result.Data), exec.Result.Error,
		int64(exec.Duration), exec.CreatedAt,
	); err != nil {
		return fmt.Errorf("insert execution: %w", err)
	}
	return tx.Commit()
}

func (s *SQLiteStore) UpdateRunStatus(ctx context.Context, runID string, status models.RunStatus, errMsg string) error {
	if !status.Terminal() {
		return fmt.Errorf("cannot transition run to %q", status)
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE runs SET status = ?, error = ?, completed_at = ? WHERE id = ? AND status = ?`,
		string(status), errMsg, time.Now(), runID, string(models.RunStatusRunning),
	)
	if err != nil {
		return fmt.Errorf("update run status: %w", err)
	}
	if n, _ := res.RowsAffected(); n > 0 {
		return nil
	}

	var current string
	err = s.db.QueryRowContext(ctx, `SELECT status FROM runs WHERE id = ?`, runID).Scan(&current)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("get run status: %w", err)
	}
	return ErrTerminal
}

func (s *SQLiteStore) ResumeRun(ctx context.Context, runID string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE runs SET status = ?, error = '', completed_at = NULL WHERE id = ? AND status != ?`,
		string(models.RunStatusRunning), runID, string(models.RunStatusRunning),
	)
	if err != nil {
		return fmt.Errorf("resume run: %w", err)
	}
	if n, _ := res.RowsAffected(); n > 0 {
		return nil
	}

	var current string
	err = s.db.QueryRowContext(ctx, `SELECT status FROM runs WHERE id = ?`, runID).Scan(&current)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("get run status: %w", err)
	}
	return ErrRunActive
}

// runColumns is the scan order shared by scanRun across backends.
const runColumns = `id, agent_id, model_id, status, input_tokens, output_tokens, tool_call_count, settings, error, created_at, completed_at`

func (s *SQLiteStore) GetRun(ctx context.Context, runID string) (*models.Run, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+runColumns+` FROM runs WHERE id = ?`, runID)
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, run_id, turn_number, user_input, assistant_output, input_tokens, output_tokens, provisional, started_at, duration_ns
		 FROM turns WHERE run_id = ? ORDER BY turn_number`, runID)
	if err != nil {
		return nil, fmt.Errorf("query turns: %w", err)
	}
	defer rows.Close()

	byTurn := make(map[string]*models.Turn)
	for rows.Next() {
		turn, err := scanTurn(rows)
		if err != nil {
			return nil, err
		}
		run.Turns = append(run.Turns, turn)
		byTurn[turn.ID] = turn
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate turns: %w", err)
	}

	execRows, err := s.db.QueryContext(ctx,
		`SELECT id, turn_id, turn_number, run_id, tool_name, params, success, output, data, error, duration_ns, created_at
		 FROM tool_executions WHERE run_id = ? ORDER BY created_at, id`, runID)
	if err != nil {
		return nil, fmt.Errorf("query executions: %w", err)
	}
	defer execRows.Close()

	for execRows.Next() {
		exec, err := scanExec(execRows)
		if err != nil {
			return nil, err
		}
		if turn, ok := byTurn[exec.TurnID]; ok {
			turn.Executions = append(turn.Executions, exec)
		}
	}
	if err := execRows.Err(); err != nil {
		return nil, fmt.Errorf("iterate executions: %w", err)
	}
	return run, nil
}

func (s *SQLiteStore) QueryRuns(ctx context.Context, query models.RunQuery) ([]*models.Run, int, error) {
	var where []string
	var args []any
	if query.AgentID != "" {
		where = append(where, "agent_id = ?")
		args = append(args, query.AgentID)
	}
	if query.Status != "" {
		where = append(where, "status = ?")
		args = append(args, string(query.Status))
	}
	if !query.CreatedAfter.IsZero() {
		where = append(where, "created_at > ?")
		args = append(args, query.CreatedAfter)
	}
	if !query.CreatedBefore.IsZero() {
		where = append(where, "created_at < ?")
		args = append(args, query.CreatedBefore)
	}
	clause := ""
	if len(where) > 0 {
		clause = " WHERE " + strings.Join(where, " AND ")
	}

	var total int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM runs"+clause, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count runs: %w", err)
	}

	q := "SELECT " + runColumns + " FROM runs" + clause + " ORDER BY created_at DESC"
	switch {
	case query.Limit > 0:
		q += " LIMIT ?"
		args = append(args, query.Limit)
		if query.Offset > 0 {
			q += " OFFSET ?"
			args = append(args, query.Offset)
		}
	case query.Offset > 0:
		// SQLite needs a LIMIT before OFFSET; -1 means unbounded.
		q += " LIMIT -1 OFFSET ?"
		args = append(args, query.Offset)
	}

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	var runs []*models.Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, 0, err
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterate runs: %w", err)
	}
	return runs, total, nil
}

func (s *SQLiteStore) DeleteRun(ctx context.Context, runID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer rollback(tx)

	if _, err := tx.ExecContext(ctx, `DELETE FROM tool_executions WHERE run_id = ?`, runID); err != nil {
		return fmt.Errorf("delete executions: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM turns WHERE run_id = ?`, runID); err != nil {
		return fmt.Errorf("delete turns: %w", err)
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM runs WHERE id = ?`, runID)
	if err != nil {
		return fmt.Errorf("delete run: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return tx.Commit()
}

func (s *SQLiteStore) GetToolStats(ctx context.Context) ([]*models.ToolStats, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT tool_name, COUNT(*), SUM(CASE WHEN success = 1 THEN 1 ELSE 0 END), AVG(duration_ns)
		FROM tool_executions GROUP BY tool_name ORDER BY tool_name
	`)
	if err != nil {
		return nil, fmt.Errorf("query tool stats: %w", err)
	}
	defer rows.Close()

	var stats []*models.ToolStats
	for rows.Next() {
		var st models.ToolStats
		var avg float64
		if err := rows.Scan(&st.ToolName, &st.Calls, &st.Successes, &avg); err != nil {
			return nil, fmt.Errorf("scan tool stats: %w", err)
		}
		st.AvgDuration = time.Duration(avg)
		stats = append(stats, &st)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate tool stats: %w", err)
	}
	return stats, nil
}

func (s *SQLiteStore) CalculateRunCost(ctx context.Context, runID string) (*models.RunCost, error) {
	run := &models.Run{}
	err := s.db.QueryRowContext(ctx,
		`SELECT model_id, input_tokens, output_tokens FROM runs WHERE id = ?`, runID,
	).Scan(&run.ModelID, &run.Usage.InputTokens, &run.Usage.OutputTokens)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get run: %w", err)
	}
	return s.runCost(ctx, s, run)
}

func (s *SQLiteStore) SaveAgent(ctx context.Context, agent *models.Agent) error {
	if agent == nil || agent.ID == "" {
		return fmt.Errorf("agent is required")
	}
	tools, err := json.Marshal(agent.Tools)
	if err != nil {
		return fmt.Errorf("marshal tools: %w", err)
	}
	tags, err := json.Marshal(agent.Tags)
	if err != nil {
		return fmt.Errorf("marshal tags: %w", err)
	}
	generation, err := json.Marshal(agent.Generation)
	if err != nil {
		return fmt.Errorf("marshal generation: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer rollback(tx)

	if _, err := tx.ExecContext(ctx, `
		INSERT OR REPLACE INTO agents (id, name, description, system_prompt, model, tools, tags, generation, message_window, structured_memory, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		agent.ID, agent.Name, agent.Description, agent.SystemPrompt, agent.Model,
		string(tools), string(tags), string(generation),
		agent.MessageWindow, agent.StructuredMemory, agent.CreatedAt, agent.UpdatedAt,
	); err != nil {
		return fmt.Errorf("save agent: %w", err)
	}

	for _, pv := range agent.PromptVersions {
		if _, err := tx.ExecContext(ctx, `
			INSERT OR REPLACE INTO prompt_versions (agent_id, version, prompt, created_at)
			VALUES (?, ?, ?, ?)
		`, agent.ID, pv.Version, pv.Prompt, pv.CreatedAt); err != nil {
			return fmt.Errorf("save prompt version %d: %w", pv.Version, err)
		}
	}
	return tx.Commit()
}

func (s *SQLiteStore) GetAgent(ctx context.Context, id string) (*models.Agent, error) {
	var agent models.Agent
	var tools, tags, generation string
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, description, system_prompt, model, tools, tags, generation, message_window, structured_memory, created_at, updated_at
		FROM agents WHERE id = ?
	`, id).Scan(
		&agent.ID, &agent.Name, &agent.Description, &agent.SystemPrompt, &agent.Model,
		&tools, &tags, &generation,
		&agent.MessageWindow, &agent.StructuredMemory, &agent.CreatedAt, &agent.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get agent: %w", err)
	}
	if err := json.Unmarshal([]byte(tools), &agent.Tools); err != nil {
		return nil, fmt.Errorf("unmarshal tools: %w", err)
	}
	if err := json.Unmarshal([]byte(tags), &agent.Tags); err != nil {
		return nil, fmt.Errorf("unmarshal tags: %w", err)
	}
	if err := json.Unmarshal([]byte(generation), &agent.Generation); err != nil {
		return nil, fmt.Errorf("unmarshal generation: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT version, prompt, created_at FROM prompt_versions WHERE agent_id = ? ORDER BY version
	`, id)
	if err != nil {
		return nil, fmt.Errorf("query prompt versions: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var pv models.PromptVersion
		if err := rows.Scan(&pv.Version, &pv.Prompt, &pv.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan prompt version: %w", err)
		}
		agent.PromptVersions = append(agent.PromptVersions, pv)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate prompt versions: %w", err)
	}
	return &agent, nil
}

func (s *SQLiteStore) DeleteAgent(ctx context.Context, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer rollback(tx)

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM tool_executions WHERE run_id IN (SELECT id FROM runs WHERE agent_id = ?)`, id); err != nil {
		return fmt.Errorf("delete executions: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM turns WHERE run_id IN (SELECT id FROM runs WHERE agent_id = ?)`, id); err != nil {
		return fmt.Errorf("delete turns: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM runs WHERE agent_id = ?`, id); err != nil {
		return fmt.Errorf("delete runs: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM prompt_versions WHERE agent_id = ?`, id); err != nil {
		return fmt.Errorf("delete prompt versions: %w", err)
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM agents WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete agent: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return tx.Commit()
}

func (s *SQLiteStore) SavePricing(ctx context.Context, pricing *ModelPricing) error {
	if pricing == nil || pricing.Model == "" {
		return fmt.Errorf("pricing is required")
	}
	updatedAt := pricing.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO model_pricing (provider, model, input_price, output_price, updated_at)
		VALUES (?, ?, ?, ?, ?)
	`, pricing.Provider, pricing.Model, pricing.InputPrice, pricing.OutputPrice, updatedAt)
	if err != nil {
		return fmt.Errorf("save pricing: %w", err)
	}
	return nil
}

func (s *SQLiteStore) GetPricing(ctx context.Context, provider, model string) (*ModelPricing, error) {
	var row *sql.Row
	if provider != "" {
		row = s.db.QueryRowContext(ctx, `
			SELECT provider, model, input_price, output_price, updated_at
			FROM model_pricing WHERE provider = ? AND model = ?
		`, provider, model)
	} else {
		row = s.db.QueryRowContext(ctx, `
			SELECT provider, model, input_price, output_price, updated_at
			FROM model_pricing WHERE model = ? ORDER BY updated_at DESC LIMIT 1
		`, model)
	}

	var p ModelPricing
	err := row.Scan(&p.Provider, &p.Model, &p.InputPrice, &p.OutputPrice, &p.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get pricing: %w", err)
	}
	return &p, nil
}

func (s *SQLiteStore) Close() error {
	for _, stmt := range []*sql.Stmt{s.stmtInsertRun, s.stmtInsertTurn, s.stmtInsertExec} {
		if stmt != nil {
			_ = stmt.Close()
		}
	}
	return s.db.Close()
}

// scanner abstracts *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanRun(row scanner) (*models.Run, error) {
	var run models.Run
	var status, settings string
	var completedAt sql.NullTime
	err := row.Scan(
		&run.ID, &run.AgentID, &run.ModelID, &status,
		&run.Usage.InputTokens, &run.Usage.OutputTokens, &run.ToolCallCount,
		&settings, &run.Error, &run.CreatedAt, &completedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan run: %w", err)
	}
	run.Status = models.RunStatus(status)
	if settings != "" {
		if err := json.Unmarshal([]byte(settings), &run.Settings); err != nil {
			return nil, fmt.Errorf("unmarshal settings: %w", err)
		}
	}
	if completedAt.Valid {
		run.CompletedAt = &completedAt.Time
	}
	return &run, nil
}

func scanTurn(row scanner) (*models.Turn, error) {
	var turn models.Turn
	var durationNS int64
	err := row.Scan(
		&turn.ID, &turn.RunID, &turn.TurnNumber,
		&turn.UserInput, &turn.AssistantOutput,
		&turn.Usage.InputTokens, &turn.Usage.OutputTokens,
		&turn.Provisional, &turn.StartedAt, &durationNS,
	)
	if err != nil {
		return nil, fmt.Errorf("scan turn: %w", err)
	}
	turn.Duration = time.Duration(durationNS)
	return &turn, nil
}

func scanExec(row scanner) (*models.ToolExecution, error) {
	var exec models.ToolExecution
	var params, data string
	var durationNS int64
	err := row.Scan(
		&exec.ID, &exec.TurnID, &exec.TurnNumber, &exec.RunID, &exec.ToolName,
		&params, &exec.Result.Success, &exec.Result.Output, &data, &exec.Result.Error,
		&durationNS, &exec.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("scan execution: %w", err)
	}
	if params != "" {
		exec.Params = json.RawMessage(params)
	}
	if data != "" {
		exec.Result.Data = json.RawMessage(data)
	}
	exec.Duration = time.Duration(durationNS)
	return &exec, nil
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

func rollback(tx *sql.Tx) {
	if err := tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
		_ = err
	}
}

func isSQLiteConflict(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint")
}
