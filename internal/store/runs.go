package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

const runColumns = `id, run_id, kind, started_at, version, table_name, sample_size, include_empty, retrieved`

// CreateRun inserts r and returns its row ID. A missing RunID or StartedAt
// is filled in.
func (db *DB) CreateRun(ctx context.Context, r *Run) (int64, error) {
	if r.RunID == "" {
		r.RunID = uuid.NewString()
	}
	if r.StartedAt.IsZero() {
		r.StartedAt = time.Now().UTC()
	}
	result, err := db.conn.ExecContext(ctx,
		`INSERT INTO runs (run_id, kind, started_at, version, table_name, sample_size, include_empty, retrieved)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		r.RunID, r.Kind, r.StartedAt.UTC().Format(time.RFC3339), r.Version, r.Table,
		r.SampleSize, r.IncludeEmpty, r.Retrieved,
	)
	if err != nil {
		return 0, err
	}
	id, err := result.LastInsertId()
	if err != nil {
		return 0, err
	}
	r.ID = id
	return id, nil
}

// GetRun returns a run by row ID, or nil if it does not exist.
func (db *DB) GetRun(ctx context.Context, id int64) (*Run, error) {
	row := db.conn.QueryRowContext(ctx, "SELECT "+runColumns+" FROM runs WHERE id = ?", id)
	return scanRun(row)
}

// GetRunN returns the Nth most recent run of kind (1 = latest), or nil.
func (db *DB) GetRunN(ctx context.Context, kind string, n int) (*Run, error) {
	if n < 1 {
		return nil, fmt.Errorf("run offset must be at least 1, got %d", n)
	}
	row := db.conn.QueryRowContext(ctx,
		"SELECT "+runColumns+" FROM runs WHERE kind = ? ORDER BY id DESC LIMIT 1 OFFSET ?",
		kind, n-1,
	)
	return scanRun(row)
}

// ListRuns returns up to limit runs, newest first. An empty kind lists all
// kinds.
func (db *DB) ListRuns(ctx context.Context, kind string, limit int) ([]Run, error) {
	q := "SELECT " + runColumns + " FROM runs"
	var args []any
	if kind != "" {
		q += " WHERE kind = ?"
		args = append(args, kind)
	}
	q += " ORDER BY id DESC LIMIT ?"
	args = append(args, limit)

	rows, err := db.conn.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var runs []Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, *r)
	}
	return runs, rows.Err()
}

func scanRun(row interface{ Scan(...any) error }) (*Run, error) {
	var r Run
	var startedAt string
	err := row.Scan(&r.ID, &r.RunID, &r.Kind, &startedAt, &r.Version, &r.Table,
		&r.SampleSize, &r.IncludeEmpty, &r.Retrieved)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	r.StartedAt, _ = time.Parse(time.RFC3339, startedAt)
	return &r, nil
}

// InsertRunMetrics records every metric of a run in one transaction.
func (db *DB) InsertRunMetrics(ctx context.Context, runID int64, metrics map[string]float64) error {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	for name, value := range metrics {
		if _, err := tx.ExecContext(ctx,
			"INSERT INTO run_metrics (run_id, metric_name, metric_value) VALUES (?, ?, ?)",
			runID, name, value,
		); err != nil {
			return fmt.Errorf("inserting metric %s: %w", name, err)
		}
	}
	return tx.Commit()
}

// GetRunMetrics returns the metrics of a run ordered by name.
func (db *DB) GetRunMetrics(ctx context.Context, runID int64) ([]RunMetric, error) {
	rows, err := db.conn.QueryContext(ctx,
		"SELECT id, run_id, metric_name, metric_value FROM run_metrics WHERE run_id = ? ORDER BY metric_name",
		runID,
	)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var metrics []RunMetric
	for rows.Next() {
		var m RunMetric
		if err := rows.Scan(&m.ID, &m.RunID, &m.MetricName, &m.MetricValue); err != nil {
			return nil, err
		}
		metrics = append(metrics, m)
	}
	return metrics, rows.Err()
}

// InsertFeedback stores the per-conversation critiques of a judge run.
func (db *DB) InsertFeedback(ctx context.Context, runID int64, rows []FeedbackRow) error {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	for _, f := range rows {
		if _, err := tx.ExecContext(ctx,
			"INSERT INTO feedback (run_id, chat_id, judge_model, feedback) VALUES (?, ?, ?, ?)",
			runID, f.ChatID, f.JudgeModel, f.Feedback,
		); err != nil {
			return fmt.Errorf("inserting feedback for %s: %w", f.ChatID, err)
		}
	}
	return tx.Commit()
}

// GetFeedback returns the critiques of a run in insertion order.
func (db *DB) GetFeedback(ctx context.Context, runID int64) ([]FeedbackRow, error) {
	rows, err := db.conn.QueryContext(ctx,
		"SELECT id, run_id, chat_id, judge_model, feedback FROM feedback WHERE run_id = ? ORDER BY id",
		runID,
	)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []FeedbackRow
	for rows.Next() {
		var f FeedbackRow
		if err := rows.Scan(&f.ID, &f.RunID, &f.ChatID, &f.JudgeModel, &f.Feedback); err != nil {
			return nil, err
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

// SetConsolidated stores or replaces the consolidated summary of a run.
func (db *DB) SetConsolidated(ctx context.Context, c ConsolidatedRow) error {
	_, err := db.conn.ExecContext(ctx,
		`INSERT INTO consolidated_feedback (run_id, judge_model, conversation_count, feedback)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT(run_id) DO UPDATE SET
		   judge_model = excluded.judge_model,
		   conversation_count = excluded.conversation_count,
		   feedback = excluded.feedback`,
		c.RunID, c.JudgeModel, c.ConversationCount, c.Feedback,
	)
	return err
}

// GetConsolidated returns the consolidated summary of a run, or nil.
func (db *DB) GetConsolidated(ctx context.Context, runID int64) (*ConsolidatedRow, error) {
	var c ConsolidatedRow
	err := db.conn.QueryRowContext(ctx,
		"SELECT run_id, judge_model, conversation_count, feedback FROM consolidated_feedback WHERE run_id = ?",
		runID,
	).Scan(&c.RunID, &c.JudgeModel, &c.ConversationCount, &c.Feedback)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}
