package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	errx "github.com/ss2dbx/server/internal/core/error"
	"github.com/ss2dbx/server/internal/migration/model"
	logx "github.com/ss2dbx/server/pkg/logger"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS sessions (
	id TEXT PRIMARY KEY,
	state_json TEXT NOT NULL,
	last_stage TEXT NOT NULL,
	created_at TEXT NOT NULL,
	updated_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS stage_runs (
	id TEXT PRIMARY KEY,
	session_id TEXT NOT NULL,
	stage TEXT NOT NULL,
	model TEXT NOT NULL,
	status TEXT NOT NULL,
	error TEXT,
	prompt_tokens INTEGER NOT NULL DEFAULT 0,
	completion_tokens INTEGER NOT NULL DEFAULT 0,
	total_tokens INTEGER NOT NULL DEFAULT 0,
	cost_usd REAL NOT NULL DEFAULT 0,
	started_at TEXT NOT NULL,
	ended_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_stage_runs_session ON stage_runs(session_id, started_at);
`

// SQLiteSessionRepository persists sessions in a local database file so
// separate CLI invocations share state.
type SQLiteSessionRepository struct {
	db *sql.DB
}

// NewSQLiteSessionRepository creates the schema if needed.
func NewSQLiteSessionRepository(ctx context.Context, db *sql.DB) (*SQLiteSessionRepository, error) {
	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		return nil, fmt.Errorf("initialize sqlite schema: %w", err)
	}
	return &SQLiteSessionRepository{db: db}, nil
}

func (r *SQLiteSessionRepository) Load(ctx context.Context, sessionID string) (*model.SessionState, error) {
	var raw string
	err := r.db.QueryRowContext(ctx, `SELECT state_json FROM sessions WHERE id = ?`, sessionID).Scan(&raw)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.NewSessionState(sessionID), nil
		}
		logx.Error().Err(err).Str("sessionID", sessionID).Msg("failed to load session state from sqlite")
		return nil, errx.WrapStorage(err)
	}

	var s model.SessionState
	if err := json.Unmarshal([]byte(raw), &s); err != nil {
		logx.Error().Err(err).Str("sessionID", sessionID).Msg("failed to unmarshal session state")
		return nil, fmt.Errorf("unmarshal session state: %w", err)
	}
	return &s, nil
}

func (r *SQLiteSessionRepository) Save(ctx context.Context, state *model.SessionState) error {
	if state == nil || state.ID == "" {
		return fmt.Errorf("session state without id")
	}
	b, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("marshal session state: %w", err)
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO sessions (id, state_json, last_stage, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			state_json = excluded.state_json,
			last_stage = excluded.last_stage,
			updated_at = excluded.updated_at`,
		state.ID, string(b), state.LastStage.Short(), formatTime(state.CreatedAt), formatTime(state.UpdatedAt),
	)
	if err != nil {
		logx.Error().Err(err).Str("sessionID", state.ID).Msg("failed to save session state to sqlite")
		return errx.WrapStorage(err)
	}
	return nil
}

func (r *SQLiteSessionRepository) Delete(ctx context.Context, sessionID string) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return errx.WrapStorage(err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM sessions WHERE id = ?`, sessionID); err != nil {
		return errx.WrapStorage(err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM stage_runs WHERE session_id = ?`, sessionID); err != nil {
		return errx.WrapStorage(err)
	}
	if err := tx.Commit(); err != nil {
		logx.Error().Err(err).Str("sessionID", sessionID).Msg("failed to delete session from sqlite")
		return errx.WrapStorage(err)
	}
	return nil
}

func (r *SQLiteSessionRepository) AppendRun(ctx context.Context, sessionID string, run model.StageRun) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO stage_runs (id, session_id, stage, model, status, error,
			prompt_tokens, completion_tokens, total_tokens, cost_usd, started_at, ended_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.ID, sessionID, run.Stage.Short(), run.Model, run.Status, run.Error,
		run.PromptTokens, run.CompletionTokens, run.TotalTokens, run.CostUSD,
		formatTime(run.StartedAt), formatTime(run.EndedAt),
	)
	if err != nil {
		logx.Error().Err(err).Str("sessionID", sessionID).Msg("failed to insert stage run into sqlite")
		return errx.WrapStorage(err)
	}
	return nil
}

func (r *SQLiteSessionRepository) ListRuns(ctx context.Context, sessionID string) ([]model.StageRun, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, stage, model, status, COALESCE(error, ''),
			prompt_tokens, completion_tokens, total_tokens, cost_usd, started_at, ended_at
		FROM stage_runs WHERE session_id = ? ORDER BY started_at, rowid`, sessionID)
	if err != nil {
		logx.Error().Err(err).Str("sessionID", sessionID).Msg("failed to query stage runs")
		return nil, errx.WrapStorage(err)
	}
	defer rows.Close()

	runs := []model.StageRun{}
	for rows.Next() {
		var (
			run               model.StageRun
			stage             string
			started, finished string
		)
		if err := rows.Scan(&run.ID, &stage, &run.Model, &run.Status, &run.Error,
			&run.PromptTokens, &run.CompletionTokens, &run.TotalTokens, &run.CostUSD,
			&started, &finished); err != nil {
			return nil, errx.WrapStorage(err)
		}
		run.SessionID = sessionID
		if err := run.Stage.UnmarshalText([]byte(stage)); err != nil {
			return nil, fmt.Errorf("stage run %s: %w", run.ID, err)
		}
		run.StartedAt = parseTime(started)
		run.EndedAt = parseTime(finished)
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, errx.WrapStorage(err)
	}
	return runs, nil
}

// fixed-width so that text ordering matches time ordering
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) time.Time {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

var _ model.SessionRepository = (*SQLiteSessionRepository)(nil)
