package trace

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"

	"github.com/haasonsaas/loom/pkg/models"
)

// newMockPostgresStore builds a PostgresStore over sqlmock, skipping the
// dial/init path. The three insert statements are prepared eagerly, so every
// test starts with those expectations already satisfied.
func newMockPostgresStore(t *testing.T) (*PostgresStore, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New() error = %v", err)
	}
	t.Cleanup(func() { db.Close() })

	mock.ExpectPrepare("INSERT INTO runs")
	mock.ExpectPrepare("INSERT INTO turns")
	mock.ExpectPrepare("INSERT INTO tool_executions")

	store := &PostgresStore{db: db}
	if err := store.prepareStatements(); err != nil {
		t.Fatalf("prepareStatements() error = %v", err)
	}
	return store, mock
}

func errContains(t *testing.T, err error, want string) {
	t.Helper()
	if err == nil || !strings.Contains(err.Error(), want) {
		t.Fatalf("error = %v, want substring %q", err, want)
	}
}

func expectationsMet(t *testing.T, mock sqlmock.Sqlmock) {
	t.Helper()
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestPostgresStoreCreateRunErrors(t *testing.T) {
	tests := []struct {
		name      string
		mockErr   error
		wantIs    error
		wantInErr string
	}{
		{
			name:      "insert fails",
			mockErr:   errors.New("connection reset"),
			wantInErr: "create run",
		},
		{
			name:    "duplicate key",
			mockErr: errors.New(`pq: duplicate key value violates unique constraint "runs_pkey"`),
			wantIs:  ErrAlreadyExists,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store, mock := newMockPostgresStore(t)
			mock.ExpectExec("INSERT INTO runs").WillReturnError(tt.mockErr)

			err := store.CreateRun(context.Background(), &models.Run{ID: "run-1", AgentID: "helper"})
			if tt.wantIs != nil {
				if !errors.Is(err, tt.wantIs) {
					t.Fatalf("CreateRun() error = %v, want %v", err, tt.wantIs)
				}
			} else {
				errContains(t, err, tt.wantInErr)
			}
			expectationsMet(t, mock)
		})
	}
}

func TestPostgresStoreGetRunNotFound(t *testing.T) {
	store, mock := newMockPostgresStore(t)
	mock.ExpectQuery("FROM runs WHERE id").WillReturnError(sql.ErrNoRows)

	_, err := store.GetRun(context.Background(), "missing")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("GetRun() error = %v, want ErrNotFound", err)
	}
	expectationsMet(t, mock)
}

func TestPostgresStoreUpdateRunStatusErrors(t *testing.T) {
	tests := []struct {
		name      string
		status    models.RunStatus
		setupMock func(sqlmock.Sqlmock)
		wantIs    error
		wantInErr string
	}{
		{
			name:      "non-terminal target",
			status:    models.RunStatusRunning,
			setupMock: func(sqlmock.Sqlmock) {},
			wantInErr: "cannot transition",
		},
		{
			name:   "missing run",
			status: models.RunStatusCompleted,
			setupMock: func(mock sqlmock.Sqlmock) {
				mock.ExpectExec("UPDATE runs SET status").WillReturnResult(sqlmock.NewResult(0, 0))
				mock.ExpectQuery("SELECT status FROM runs").WillReturnError(sql.ErrNoRows)
			},
			wantIs: ErrNotFound,
		},
		{
			name:   "already terminal",
			status: models.RunStatusError,
			setupMock: func(mock sqlmock.Sqlmock) {
				mock.ExpectExec("UPDATE runs SET status").WillReturnResult(sqlmock.NewResult(0, 0))
				mock.ExpectQuery("SELECT status FROM runs").
					WillReturnRows(sqlmock.NewRows([]string{"status"}).AddRow("completed"))
			},
			wantIs: ErrTerminal,
		},
		{
			name:   "update fails",
			status: models.RunStatusCompleted,
			setupMock: func(mock sqlmock.Sqlmock) {
				mock.ExpectExec("UPDATE runs SET status").WillReturnError(errors.New("connection reset"))
			},
			wantInErr: "update run status",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store, mock := newMockPostgresStore(t)
			tt.setupMock(mock)

			err := store.UpdateRunStatus(context.Background(), "run-1", tt.status, "")
			if tt.wantIs != nil {
				if !errors.Is(err, tt.wantIs) {
					t.Fatalf("UpdateRunStatus() error = %v, want %v", err, tt.wantIs)
				}
			} else {
				errContains(t, err, tt.wantInErr)
			}
			expectationsMet(t, mock)
		})
	}
}

func TestPostgresStoreResumeRunErrors(t *testing.T) {
	tests := []struct {
		name      string
		setupMock func(sqlmock.Sqlmock)
		wantIs    error
		wantErr   bool
	}{
		{
			name: "resumed",
			setupMock: func(mock sqlmock.Sqlmock) {
				mock.ExpectExec("UPDATE runs SET status").WillReturnResult(sqlmock.NewResult(0, 1))
			},
		},
		{
			name: "missing run",
			setupMock: func(mock sqlmock.Sqlmock) {
				mock.ExpectExec("UPDATE runs SET status").WillReturnResult(sqlmock.NewResult(0, 0))
				mock.ExpectQuery("SELECT status FROM runs").WillReturnError(sql.ErrNoRows)
			},
			wantIs: ErrNotFound,
		},
		{
			name: "still running",
			setupMock: func(mock sqlmock.Sqlmock) {
				mock.ExpectExec("UPDATE runs SET status").WillReturnResult(sqlmock.NewResult(0, 0))
				mock.ExpectQuery("SELECT status FROM runs").
					WillReturnRows(sqlmock.NewRows([]string{"status"}).AddRow("running"))
			},
			wantIs: ErrRunActive,
		},
		{
			name: "update fails",
			setupMock: func(mock sqlmock.Sqlmock) {
				mock.ExpectExec("UPDATE runs SET status").WillReturnError(errors.New("connection reset"))
			},
			wantErr: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store, mock := newMockPostgresStore(t)
			tt.setupMock(mock)

			err := store.ResumeRun(context.Background(), "run-1")
			switch {
			case tt.wantIs != nil:
				if !errors.Is(err, tt.wantIs) {
					t.Fatalf("ResumeRun() error = %v, want %v", err, tt.wantIs)
				}
			case tt.wantErr:
				errContains(t, err, "resume run")
			default:
				if err != nil {
					t.Fatalf("ResumeRun() error = %v", err)
				}
			}
			expectationsMet(t, mock)
		})
	}
}

func TestPostgresStoreAppendTurnMissingRun(t *testing.T) {
	store, mock := newMockPostgresStore(t)
	mock.ExpectBegin()
	mock.ExpectExec("UPDATE runs SET input_tokens").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	err := store.AppendTurn(context.Background(), "missing", &models.Turn{TurnNumber: 1})
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("AppendTurn() error = %v, want ErrNotFound", err)
	}
	expectationsMet(t, mock)
}

func TestPostgresStoreAppendTurnDuplicate(t *testing.T) {
	store, mock := newMockPostgresStore(t)
	mock.ExpectBegin()
	mock.ExpectExec("UPDATE runs SET input_tokens").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery("SELECT id, provisional FROM turns").
		WillReturnRows(sqlmock.NewRows([]string{"id", "provisional"}).AddRow("turn-1", false))
	mock.ExpectRollback()

	err := store.AppendTurn(context.Background(), "run-1", &models.Turn{TurnNumber: 1})
	if !errors.Is(err, ErrAlreadyExists) {
		t.Fatalf("AppendTurn() error = %v, want ErrAlreadyExists", err)
	}
	expectationsMet(t, mock)
}

func TestPostgresStoreLogToolExecutionMissingRun(t *testing.T) {
	store, mock := newMockPostgresStore(t)
	mock.ExpectBegin()
	mock.ExpectExec("UPDATE runs SET tool_call_count").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	err := store.LogToolExecution(context.Background(), "missing", &models.ToolExecution{TurnNumber: 1, ToolName: "echo"})
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("LogToolExecution() error = %v, want ErrNotFound", err)
	}
	expectationsMet(t, mock)
}

func TestPostgresStoreDeleteRunErrors(t *testing.T) {
	tests := []struct {
		name      string
		setupMock func(sqlmock.Sqlmock)
		wantIs    error
		wantInErr string
	}{
		{
			name: "missing run",
			setupMock: func(mock sqlmock.Sqlmock) {
				mock.ExpectBegin()
				mock.ExpectExec("DELETE FROM tool_executions").WillReturnResult(sqlmock.NewResult(0, 0))
				mock.ExpectExec("DELETE FROM turns").WillReturnResult(sqlmock.NewResult(0, 0))
				mock.ExpectExec("DELETE FROM runs").WillReturnResult(sqlmock.NewResult(0, 0))
				mock.ExpectRollback()
			},
			wantIs: ErrNotFound,
		},
		{
			name: "cascade fails",
			setupMock: func(mock sqlmock.Sqlmock) {
				mock.ExpectBegin()
				mock.ExpectExec("DELETE FROM tool_executions").WillReturnError(errors.New("connection reset"))
				mock.ExpectRollback()
			},
			wantInErr: "delete executions",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store, mock := newMockPostgresStore(t)
			tt.setupMock(mock)

			err := store.DeleteRun(context.Background(), "run-1")
			if tt.wantIs != nil {
				if !errors.Is(err, tt.wantIs) {
					t.Fatalf("DeleteRun() error = %v, want %v", err, tt.wantIs)
				}
			} else {
				errContains(t, err, tt.wantInErr)
			}
			expectationsMet(t, mock)
		})
	}
}

func TestPostgresStoreQueryRunsCountError(t *testing.T) {
	store, mock := newMockPostgresStore(t)
	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM runs`).WillReturnError(errors.New("timeout"))

	_, _, err := store.QueryRuns(context.Background(), models.RunQuery{AgentID: "helper"})
	errContains(t, err, "count runs")
	expectationsMet(t, mock)
}

func TestPostgresStoreCalculateRunCostNotFound(t *testing.T) {
	store, mock := newMockPostgresStore(t)
	mock.ExpectQuery("SELECT model_id, input_tokens, output_tokens FROM runs").WillReturnError(sql.ErrNoRows)

	_, err := store.CalculateRunCost(context.Background(), "missing")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("CalculateRunCost() error = %v, want ErrNotFound", err)
	}
	expectationsMet(t, mock)
}

func TestPostgresStoreValidation(t *testing.T) {
	store, mock := newMockPostgresStore(t)
	ctx := context.Background()

	errContains(t, store.CreateRun(ctx, nil), "run is required")
	errContains(t, store.AppendTurn(ctx, "run-1", nil), "turn is required")
	errContains(t, store.AppendTurn(ctx, "run-1", &models.Turn{}), "turn number is required")
	errContains(t, store.LogToolExecution(ctx, "run-1", nil), "execution is required")
	errContains(t, store.LogToolExecution(ctx, "run-1", &models.ToolExecution{ToolName: "echo"}), "turn number is required")
	errContains(t, store.SaveAgent(ctx, &models.Agent{}), "agent is required")
	errContains(t, store.SavePricing(ctx, &ModelPricing{Provider: "openai"}), "pricing is required")
	expectationsMet(t, mock)
}
