package storage

import (
	"context"
	"database/sql"
	"errors"
)

// --- Run Operations ---

// InsertRun records the start of a run.
func (d *Database) InsertRun(ctx context.Context, run *Run) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	run.StartedAt = d.now()
	run.Status = RunRunning
	_, err := d.db.ExecContext(ctx, `
		INSERT INTO runs (run_id, kind, domain, status, total, started_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, run.RunID, run.Kind, run.Domain, run.Status, run.Total, run.StartedAt)
	return err
}

// FinishRun stores the final tally of a run.
func (d *Database) FinishRun(ctx context.Context, runID string, ok, failed int) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	_, err := d.db.ExecContext(ctx, `
		UPDATE runs SET status = ?, ok = ?, failed = ?, finished_at = ? WHERE run_id = ?
	`, RunFinished, ok, failed, d.now(), runID)
	return err
}

// UpdateRunProgress stores the running tally of a run.
func (d *Database) UpdateRunProgress(ctx context.Context, runID string, ok, failed int) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	_, err := d.db.ExecContext(ctx, `UPDATE runs SET ok = ?, failed = ? WHERE run_id = ?`, ok, failed, runID)
	return err
}

// GetRun retrieves a run; nil if absent.
func (d *Database) GetRun(ctx context.Context, runID string) (*Run, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	var (
		r        Run
		finished sql.NullTime
	)
	err := d.db.QueryRowContext(ctx, `
		SELECT run_id, kind, domain, status, total, ok, failed, started_at, finished_at
		FROM runs WHERE run_id = ?
	`, runID).Scan(&r.RunID, &r.Kind, &r.Domain, &r.Status, &r.Total, &r.OK, &r.Failed, &r.StartedAt, &finished)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	r.FinishedAt = timePtr(finished)
	return &r, nil
}

// InsertRunLog appends a log line to a run.
func (d *Database) InsertRunLog(ctx context.Context, e *RunLogEntry) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	e.TS = d.now()
	res, err := d.db.ExecContext(ctx, `
		INSERT INTO run_logs (run_id, ts, level, url, message) VALUES (?, ?, ?, ?, ?)
	`, e.RunID, e.TS, e.Level, e.URL, e.Message)
	if err != nil {
		return err
	}
	e.ID, err = res.LastInsertId()
	return err
}

// ListRunLogs returns log lines of a run in insertion order. level filters
// when non-empty; tail > 0 keeps only the last tail lines.
func (d *Database) ListRunLogs(ctx context.Context, runID, level string, tail int) ([]*RunLogEntry, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	query := `SELECT id, run_id, ts, level, url, message FROM run_logs WHERE run_id = ?`
	args := []any{runID}
	if level != "" {
		query += ` AND level = ?`
		args = append(args, level)
	}
	if tail > 0 {
		query += ` ORDER BY id DESC LIMIT ?`
		args = append(args, tail)
	} else {
		query += ` ORDER BY id ASC`
	}

	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]*RunLogEntry, 0)
	for rows.Next() {
		var e RunLogEntry
		if err := rows.Scan(&e.ID, &e.RunID, &e.TS, &e.Level, &e.URL, &e.Message); err != nil {
			return nil, err
		}
		out = append(out, &e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if tail > 0 {
		for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
			out[i], out[j] = out[j], out[i]
		}
	}
	return out, nil
}
