package knowledge

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/fabfab/iterative-rag/pipeline"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS runs (
    id          TEXT PRIMARY KEY,
    question    TEXT NOT NULL,
    document_id TEXT NOT NULL,
    model       TEXT NOT NULL,
    answer      TEXT NOT NULL,
    error       TEXT NOT NULL DEFAULT '',
    started_at  TEXT NOT NULL,
    finished_at TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS rounds (
    run_id      TEXT NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
    iteration   INTEGER NOT NULL,
    intent      TEXT NOT NULL,
    query       TEXT NOT NULL,
    sufficient  INTEGER NOT NULL,
    PRIMARY KEY (run_id, iteration)
);
CREATE TABLE IF NOT EXISTS round_passages (
    run_id      TEXT NOT NULL,
    iteration   INTEGER NOT NULL,
    rank        INTEGER NOT NULL,
    text        TEXT NOT NULL,
    PRIMARY KEY (run_id, iteration, rank)
);
CREATE INDEX IF NOT EXISTS idx_runs_document ON runs(document_id);
`

// SQLiteRecorder appends runs to a local SQLite database.
type SQLiteRecorder struct {
	db *sql.DB
}

// NewSQLiteRecorder creates the trace tables if needed.
func NewSQLiteRecorder(db *sql.DB) (*SQLiteRecorder, error) {
	if db == nil {
		return nil, fmt.Errorf("sqlite db is nil")
	}
	if _, err := db.Exec(sqliteSchema); err != nil {
		return nil, fmt.Errorf("trace schema: %w", err)
	}
	return &SQLiteRecorder{db: db}, nil
}

func (r *SQLiteRecorder) RecordRun(ctx context.Context, result pipeline.Result) (err error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if _, err = tx.ExecContext(ctx,
		`INSERT INTO runs (id, question, document_id, model, answer, error, started_at, finished_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		result.RunID, result.Question, result.DocumentID, result.Model, result.Answer,
		errorText(result.Err), formatTime(result.StartedAt), formatTime(result.FinishedAt),
	); err != nil {
		return fmt.Errorf("insert run: %w", err)
	}

	for _, round := range result.Trace {
		if _, err = tx.ExecContext(ctx,
			`INSERT INTO rounds (run_id, iteration, intent, query, sufficient) VALUES (?, ?, ?, ?, ?)`,
			result.RunID, round.Iteration, round.Intent, round.Query, round.Sufficient,
		); err != nil {
			return fmt.Errorf("insert round %d: %w", round.Iteration, err)
		}
		for rank, passage := range round.Passages {
			if _, err = tx.ExecContext(ctx,
				`INSERT INTO round_passages (run_id, iteration, rank, text) VALUES (?, ?, ?, ?)`,
				result.RunID, round.Iteration, rank, passage,
			); err != nil {
				return fmt.Errorf("insert passage: %w", err)
			}
		}
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// LoadRun reads a recorded run back with its rounds in order.
func (r *SQLiteRecorder) LoadRun(ctx context.Context, runID string) (pipeline.Result, error) {
	loaded := pipeline.Result{RunID: runID}
	var errText, startedAt, finishedAt string
	err := r.db.QueryRowContext(ctx,
		`SELECT question, document_id, model, answer, error, started_at, finished_at FROM runs WHERE id = ?`,
		runID,
	).Scan(&loaded.Question, &loaded.DocumentID, &loaded.Model, &loaded.Answer, &errText, &startedAt, &finishedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return pipeline.Result{}, fmt.Errorf("%w: %s", ErrRunNotFound, runID)
	}
	if err != nil {
		return pipeline.Result{}, fmt.Errorf("query run: %w", err)
	}
	if errText != "" {
		loaded.Err = errors.New(errText)
	}
	loaded.StartedAt, _ = time.Parse(time.RFC3339Nano, startedAt)
	loaded.FinishedAt, _ = time.Parse(time.RFC3339Nano, finishedAt)

	rows, err := r.db.QueryContext(ctx,
		`SELECT iteration, intent, query, sufficient FROM rounds WHERE run_id = ? ORDER BY iteration`,
		runID,
	)
	if err != nil {
		return pipeline.Result{}, fmt.Errorf("query rounds: %w", err)
	}
	defer rows.Close()

	index := make(map[int]int)
	for rows.Next() {
		var round pipeline.Round
		if err := rows.Scan(&round.Iteration, &round.Intent, &round.Query, &round.Sufficient); err != nil {
			return pipeline.Result{}, fmt.Errorf("scan round: %w", err)
		}
		round.Passages = []string{}
		index[round.Iteration] = len(loaded.Trace)
		loaded.Trace = append(loaded.Trace, round)
	}
	if err := rows.Err(); err != nil {
		return pipeline.Result{}, err
	}

	passages, err := r.db.QueryContext(ctx,
		`SELECT iteration, text FROM round_passages WHERE run_id = ? ORDER BY iteration, rank`,
		runID,
	)
	if err != nil {
		return pipeline.Result{}, fmt.Errorf("query passages: %w", err)
	}
	defer passages.Close()

	for passages.Next() {
		var (
			iteration int
			text      string
		)
		if err := passages.Scan(&iteration, &text); err != nil {
			return pipeline.Result{}, fmt.Errorf("scan passage: %w", err)
		}
		if pos, ok := index[iteration]; ok {
			loaded.Trace[pos].Passages = append(loaded.Trace[pos].Passages, text)
		}
	}
	if err := passages.Err(); err != nil {
		return pipeline.Result{}, err
	}

	return loaded, nil
}

// RecentRuns lists the most recent run ids, newest first.
func (r *SQLiteRecorder) RecentRuns(ctx context.Context, limit int) ([]string, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := r.db.QueryContext(ctx, `SELECT id FROM runs ORDER BY started_at DESC, id LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query recent runs: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan run id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// Clear deletes every recorded run.
func (r *SQLiteRecorder) Clear(ctx context.Context) error {
	for _, stmt := range []string{"DELETE FROM round_passages", "DELETE FROM rounds", "DELETE FROM runs"} {
		if _, err := r.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("clear traces: %w", err)
		}
	}
	return nil
}

var _ pipeline.Recorder = (*SQLiteRecorder)(nil)
