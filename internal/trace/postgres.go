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
	"github.com/lib/pq"

	"github.com/haasonsaas/loom/pkg/models"
)

// Connection pool tuning for the postgres backend.
const (
	pgMaxOpenConns    = 25
	pgMaxIdleConns    = 5
	pgConnMaxLifetime = 5 * time.Minute
	pgConnMaxIdleTime = 2 * time.Minute
	pgConnectTimeout  = 10 * time.Second
)

// PostgresStore is a Store backed by PostgreSQL (or any wire-compatible
// database) via lib/pq.
type PostgresStore struct {
	pricer
	db *sql.DB

	// Prepared statements for the hot write paths
	stmtInsertRun  *sql.Stmt
	stmtInsertTurn *sql.Stmt
	stmtInsertExec *sql.Stmt
}

// NewPostgresStore connects to the database, verifies the connection and
// initializes the schema.
func NewPostgresStore(dsn string) (*PostgresStore, error) {
	if dsn == "" {
		return nil, fmt.Errorf("dsn is required")
	}
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(pgMaxOpenConns)
	db.SetMaxIdleConns(pgMaxIdleConns)
	db.SetConnMaxLifetime(pgConnMaxLifetime)
	db.SetConnMaxIdleTime(pgConnMaxIdleTime)

	ctx, cancel := context.WithTimeout(context.Background(), pgConnectTimeout)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	s := &PostgresStore{db: db}
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

func (s *PostgresStore) init() error {
	tables := []string{
		`CREATE TABLE IF NOT EXISTS agents (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			description TEXT NOT NULL DEFAULT '',
			system_prompt TEXT NOT NULL DEFAULT '',
			model TEXT NOT NULL DEFAULT '',
			tools TEXT[] NOT NULL DEFAULT '{}',
			tags TEXT[] NOT NULL DEFAULT '{}',
			generation JSONB NOT NULL DEFAULT '{}',
			message_window INTEGER NOT NULL DEFAULT 0,
			structured_memory BOOLEAN NOT NULL DEFAULT FALSE,
			created_at TIMESTAMPTZ,
			updated_at TIMESTAMPTZ
		)`,
		`CREATE TABLE IF NOT EXISTS prompt_versions (
			agent_id TEXT NOT NULL,
			version INTEGER NOT NULL,
			prompt TEXT NOT NULL,
			created_at TIMESTAMPTZ,
			PRIMARY KEY (agent_id, version)
		)`,
		`CREATE TABLE IF NOT EXISTS runs (
			id TEXT PRIMARY KEY,
			agent_id TEXT NOT NULL,
			model_id TEXT NOT NULL DEFAULT '',
			status TEXT NOT NULL,
			input_tokens BIGINT NOT NULL DEFAULT 0,
			output_tokens BIGINT NOT NULL DEFAULT 0,
			tool_call_count INTEGER NOT NULL DEFAULT 0,
			settings JSONB NOT NULL DEFAULT '{}',
			error TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMPTZ,
			completed_at TIMESTAMPTZ
		)`,
		`CREATE TABLE IF NOT EXISTS turns (
			id TEXT PRIMARY KEY,
			run_id TEXT NOT NULL,
			turn_number INTEGER NOT NULL,
			user_input TEXT NOT NULL DEFAULT '',
			assistant_output TEXT NOT NULL DEFAULT '',
			input_tokens BIGINT NOT NULL DEFAULT 0,
			output_tokens BIGINT NOT NULL DEFAULT 0,
			provisional BOOLEAN NOT NULL DEFAULT FALSE,
			started_at TIMESTAMPTZ,
			duration_ns BIGINT NOT NULL DEFAULT 0,
			UNIQUE (run_id, turn_number)
		)`,
		`CREATE TABLE IF NOT EXISTS tool_executions (
			id TEXT PRIMARY KEY,
			turn_id TEXT NOT NULL,
			turn_number INTEGER NOT NULL,
			run_id TEXT NOT NULL,
			tool_name TEXT NOT NULL,
			params TEXT NOT NULL DEFAULT '',
			success BOOLEAN NOT NULL DEFAULT FALSE,
			output TEXT NOT NULL DEFAULT '',
			data TEXT NOT NULL DEFAULT '',
			error TEXT NOT NULL DEFAULT '',
			duration_ns BIGINT NOT NULL DEFAULT 0,
			created_at TIMESTAMPTZ
		)`,
		`CREATE TABLE IF NOT EXISTS model_pricing (
			provider TEXT NOT NULL DEFAULT '',
			model TEXT NOT NULL,
			input_price DOUBLE PRECISION NOT NULL DEFAULT 0,
			output_price DOUBLE PRECISION NOT NULL DEFAULT 0,
			updated_at TIMESTAMPTZ,
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

func (s *PostgresStore) prepareStatements() error {
	var err error

	s.stmtInsertRun, err = s.db.Prepare(`
		INSERT INTO runs (id, agent_id, model_id, status, input_tokens, output_tokens, tool_call_count, settings, error, created_at, completed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`)
	if err != nil {
		return fmt.Errorf("insert run: %w", err)
	}

	s.stmtInsertTurn, err = s.db.Prepare(`
		INSERT INTO turns (id, run_id, turn_number, user_input, assistant_output, input_tokens, output_tokens, provisional, started_at, duration_ns)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`)
	if err != nil {
		return fmt.Errorf("insert turn: %w", err)
	}

	s.stmtInsertExec, err = s.db.Prepare(`
		INSERT INTO tool_executions (id, turn_id, turn_number, run_id, tool_name, params, success, output, data, error, duration_ns, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`)
	if err != nil {
		return fmt.Errorf("insert execution: %w", err)
	}
	return nil
}

func (s *PostgresStore) CreateRun(ctx context.Context, run *models.Run) error {
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
		if isPostgresConflict(err) {
			return ErrAlreadyExists
		}
		return fmt.Errorf("create run: %w", err)
	}
	return nil
}

func (s *PostgresStore) AppendTurn(ctx context.Context, runID string, turn *models.Turn) error {
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

	res, err := tx.ExecContext(ctx,
		`UPDATE runs SET input_tokens = input_tokens + $1, output_tokens = output_tokens + $2 WHERE id = $3`,
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
		`SELECT id, provisional FROM turns WHERE run_id = $1 AND turn_number = $2`,
		runID, turn.TurnNumber,
	).Scan(&placeholderID, &provisional)
	switch {
	case errors.Is(err, sql.ErrNoRows):
	case err != nil:
		return fmt.Errorf("find placeholder turn: %w", err)
	case !provisional:
		return fmt.Errorf("turn %d: %w", turn.TurnNumber, ErrAlreadyExists)
	default:
		if _, err := tx.ExecContext(ctx,
			`UPDATE tool_executions SET turn_id = $1 WHERE turn_id = $2`,
			turn.ID, placeholderID,
		); err != nil {
			return fmt.Errorf("reassign executions: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM turns WHERE id = $1`, placeholderID); err != nil {
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

func (s *PostgresStore) LogToolExecution(ctx context.Context, runID string, exec *models.ToolExecution) error {
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
		`UPDATE runs SET tool_call_count = tool_call_count + 1 WHERE id = $1`, runID)
	if err != nil {
		return fmt.Errorf("update run tool count: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}

	var turnID string
	err = tx.QueryRowContext(ctx,
		`SELECT id FROM turns WHERE run_id = $1 AND turn_number = $2`,
		runID, exec.TurnNumber,
	).Scan(&turnID)
	if errors.Is(err, sql.ErrNoRows) {
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

func (s *PostgresStore) UpdateRunStatus(ctx context.Context, runID string, status models.RunStatus, errMsg string) error {
	if !status.Terminal() {
		return fmt.Errorf("cannot transition run to %q", status)
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE runs SET status = $1, error = $2, completed_at = $3 WHERE id = $4 AND status = $5`,
		string(status), errMsg, time.Now(), runID, string(models.RunStatusRunning),
	)
	if err != nil {
		return fmt.Errorf("update run status: %w", err)
	}
	if n, _ := res.RowsAffected(); n > 0 {
		return nil
	}

	var current string
	err = s.db.QueryRowContext(ctx, `SELECT status FROM runs WHERE id = $1`, runID).Scan(&current)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("get run status: %w", err)
	}
	return ErrTerminal
}

func (s *PostgresStore) ResumeRun(ctx context.Context, runID string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE runs SET status = $1, error = '', completed_at = NULL WHERE id = $2 AND status != $1`,
		string(models.RunStatusRunning), runID,
	)
	if err != nil {
		return fmt.Errorf("resume run: %w", err)
	}
	if n, _ := res.RowsAffected(); n > 0 {
		return nil
	}

	var current string
	err = s.db.QueryRowContext(ctx, `SELECT status FROM runs WHERE id = $1`, runID).Scan(&current)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("get run status: %w", err)
	}
	return ErrRunActive
}

func (s *PostgresStore) GetRun(ctx context.Context, runID string) (*models.Run, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+runColumns+` FROM runs WHERE id = $1`, runID)
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, run_id, turn_number, user_input, assistant_output, input_tokens, output_tokens, provisional, started_at, duration_ns
		 FROM turns WHERE run_id = $1 ORDER BY turn_number`, runID)
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
		 FROM tool_executions WHERE run_id = $1 ORDER BY created_at, id`, runID)
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

func (s *PostgresStore) QueryRuns(ctx context.Context, query models.RunQuery) ([]*models.Run, int, error) {
	var where []string
	var args []any
	if query.AgentID != "" {
		args = append(args, query.AgentID)
		where = append(where, fmt.Sprintf("agent_id = $%d", len(args)))
	}
	if query.Status != "" {
		args = append(args, string(query.Status))
		where = append(where, fmt.Sprintf("status = $%d", len(args)))
	}
	if !query.CreatedAfter.IsZero() {
		args = append(args, query.CreatedAfter)
		where = append(where, fmt.Sprintf("created_at > $%d", len(args)))
	}
	if !query.CreatedBefore.IsZero() {
		args = append(args, query.CreatedBefore)
		where = append(where, fmt.Sprintf("created_at < $%d", len(args)))
	}
	clause := ""
	if len(where) > 0 {
		clause = " WHERE " + strings.Join(where, " AND ")
	}

	var total int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM runs"+clause, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count runs: %w", err)
	}

	var sb strings.Builder
	sb.WriteString("SELECT " + runColumns + " FROM runs")
	sb.WriteString(clause)
	sb.WriteString(" ORDER BY created_at DESC")
	if query.Limit > 0 {
		args = append(args, query.Limit)
		fmt.Fprintf(&sb, " LIMIT $%d", len(args))
	}
	if query.Offset > 0 {
		args = append(args, query.Offset)
		fmt.Fprintf(&sb, " OFFSET $%d", len(args))
	}

	rows, err := s.db.QueryContext(ctx, sb.String(), args...)
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

func (s *PostgresStore) DeleteRun(ctx context.Context, runID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer rollback(tx)

	if _, err := tx.ExecContext(ctx, `DELETE FROM tool_executions WHERE run_id = $1`, runID); err != nil {
		return fmt.Errorf("delete executions: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM turns WHERE run_id = $1`, runID); err != nil {
		return fmt.Errorf("delete turns: %w", err)
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM runs WHERE id = $1`, runID)
	if err != nil {
		return fmt.Errorf("delete run: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return tx.Commit()
}

func (s *PostgresStore) GetToolStats(ctx context.Context) ([]*models.ToolStats, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT tool_name, COUNT(*), SUM(CASE WHEN success THEN 1 ELSE 0 END), AVG(duration_ns)
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

func (s *PostgresStore) CalculateRunCost(ctx context.Context, runID string) (*models.RunCost, error) {
	run := &models.Run{}
	err := s.db.QueryRowContext(ctx,
		`SELECT model_id, input_tokens, output_tokens FROM runs WHERE id = $1`, runID,
	).Scan(&run.ModelID, &run.Usage.InputTokens, &run.Usage.OutputTokens)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get run: %w", err)
	}
	return s.runCost(ctx, s, run)
}

func (s *PostgresStore) SaveAgent(ctx context.Context, agent *models.Agent) error {
	if agent == nil || agent.ID == "" {
		return fmt.Errorf("agent is required")
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
		INSERT INTO agents (id, name, description, system_prompt, model, tools, tags, generation, message_window, structured_memory, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			description = EXCLUDED.description,
			system_prompt = EXCLUDED.system_prompt,
			model = EXCLUDED.model,
			tools = EXCLUDED.tools,
			tags = EXCLUDED.tags,
			generation = EXCLUDED.generation,
			message_window = EXCLUDED.message_window,
			structured_memory = EXCLUDED.structured_memory,
			updated_at = EXCLUDED.updated_at
	`,
		agent.ID, agent.Name, agent.Description, agent.SystemPrompt, agent.Model,
		pq.Array(agent.Tools), pq.Array(agent.Tags), string(generation),
		agent.MessageWindow, agent.StructuredMemory, agent.CreatedAt, agent.UpdatedAt,
	); err != nil {
		return fmt.Errorf("save agent: %w", err)
	}

	for _, pv := range agent.PromptVersions {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO prompt_versions (agent_id, version, prompt, created_at)
			VALUES ($1, $2, $3, $4)
			ON CONFLICT (agent_id, version) DO UPDATE SET prompt = EXCLUDED.prompt
		`, agent.ID, pv.Version, pv.Prompt, pv.CreatedAt); err != nil {
			return fmt.Errorf("save prompt version %d: %w", pv.Version, err)
		}
	}
	return tx.Commit()
}

func (s *PostgresStore) GetAgent(ctx context.Context, id string) (*models.Agent, error) {
	var agent models.Agent
	var generation string
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, description, system_prompt, model, tools, tags, generation, message_window, structured_memory, created_at, updated_at
		FROM agents WHERE id = $1
	`, id).Scan(
		&agent.ID, &agent.Name, &agent.Description, &agent.SystemPrompt, &agent.Model,
		pq.Array(&agent.Tools), pq.Array(&agent.Tags), &generation,
		&agent.MessageWindow, &agent.StructuredMemory, &agent.CreatedAt, &agent.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get agent: %w", err)
	}
	if err := json.Unmarshal([]byte(generation), &agent.Generation); err != nil {
		return nil, fmt.Errorf("unmarshal generation: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT version, prompt, created_at FROM prompt_versions WHERE agent_id = $1 ORDER BY version
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

func (s *PostgresStore) DeleteAgent(ctx context.Context, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer rollback(tx)

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM tool_executions WHERE run_id IN (SELECT id FROM runs WHERE agent_id = $1)`, id); err != nil {
		return fmt.Errorf("delete executions: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM turns WHERE run_id IN (SELECT id FROM runs WHERE agent_id = $1)`, id); err != nil {
		return fmt.Errorf("delete turns: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM runs WHERE agent_id = $1`, id); err != nil {
		return fmt.Errorf("delete runs: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM prompt_versions WHERE agent_id = $1`, id); err != nil {
		return fmt.Errorf("delete prompt versions: %w", err)
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM agents WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete agent: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return tx.Commit()
}

func (s *PostgresStore) SavePricing(ctx context.Context, pricing *ModelPricing) error {
	if pricing == nil || pricing.Model == "" {
		return fmt.Errorf("pricing is required")
	}
	updatedAt := pricing.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO model_pricing (provider, model, input_price, output_price, updated_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (provider, model) DO UPDATE SET
			input_price = EXCLUDED.input_price,
			output_price = EXCLUDED.output_price,
			updated_at = EXCLUDED.updated_at
	`, pricing.Provider, pricing.Model, pricing.InputPrice, pricing.OutputPrice, updatedAt)
	if err != nil {
		return fmt.Errorf("save pricing: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetPricing(ctx context.Context, provider, model string) (*ModelPricing, error) {
	var row *sql.Row
	if provider != "" {
		row = s.db.QueryRowContext(ctx, `
			SELECT provider, model, input_price, output_price, updated_at
			FROM model_pricing WHERE provider = $1 AND model = $2
		`, provider, model)
	} else {
		row = s.db.QueryRowContext(ctx, `
			SELECT provider, model, input_price, output_price, updated_at
			FROM model_pricing WHERE model = $1 ORDER BY updated_at DESC LIMIT 1
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

func (s *PostgresStore) Close() error {
	for _, stmt := range []*sql.Stmt{s.stmtInsertRun, s.stmtInsertTurn, s.stmtInsertExec} {
		if stmt != nil {
			_ = stmt.Close()
		}
	}
	return s.db.Close()
}

func isPostgresConflict(err error) bool {
	if err == nil {
		return false
	}
	return strings.Contains(err.Error(), "duplicate") || strings.Contains(err.Error(), "23505")
}
