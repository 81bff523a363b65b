package store

import (
	"database/sql"
	"fmt"
	"time"
)

const (
	RunQueued    = "queued"
	RunRunning   = "running"
	RunCompleted = "completed"
	RunFailed    = "failed"
)

type Run struct {
	ID          string     `json:"id"`
	Niche       string     `json:"niche"`
	Origin      string     `json:"origin"`
	Status      string     `json:"status"`
	FinalReport string     `json:"final_report,omitempty"`
	Steps       int        `json:"steps"`
	Error       string     `json:"error,omitempty"`
	StartedAt   time.Time  `json:"started_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

func (r *Run) Done() bool {
	return r.Status == RunCompleted || r.Status == RunFailed
}

func scanRun(scanner interface {
	Scan(dest ...any) error
}) (*Run, error) {
	r := &Run{}
	var report, errMsg *string
	err := scanner.Scan(&r.ID, &r.Niche, &r.Origin, &r.Status, &report, &r.Steps, &errMsg, &r.StartedAt, &r.CompletedAt)
	if err != nil {
		return nil, err
	}
	if report != nil {
		r.FinalReport = *report
	}
	if errMsg != nil {
		r.Error = *errMsg
	}
	return r, nil
}

const runColumns = `id, niche, origin, status, final_report, steps, error, started_at, completed_at`

// SaveRun inserts or updates a run. A zero StartedAt is stamped by the
// database; an existing run keeps its original start time.
func (s *Store) SaveRun(r *Run) error {
	var startedAt *time.Time
	if !r.StartedAt.IsZero() {
		t := r.StartedAt.UTC()
		startedAt = &t
	}
	_, err := s.db.Exec(`
		INSERT INTO runs (id, niche, origin, status, final_report, steps, error, started_at, completed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, COALESCE(?, CURRENT_TIMESTAMP), ?)
		ON CONFLICT(id) DO UPDATE SET
			status = excluded.status,
			final_report = excluded.final_report,
			steps = excluded.steps,
			error = excluded.error,
			completed_at = CASE WHEN excluded.status IN ('completed', 'failed') THEN COALESCE(excluded.completed_at, CURRENT_TIMESTAMP) ELSE completed_at END`,
		r.ID, r.Niche, r.Origin, r.Status, nullable(r.FinalReport), r.Steps, nullable(r.Error), startedAt, utc(r.CompletedAt))
	if err != nil {
		return fmt.Errorf("save run: %w", err)
	}
	return nil
}

func (s *Store) GetRun(id string) (*Run, error) {
	row := s.db.QueryRow(`SELECT `+runColumns+` FROM runs WHERE id = ?`, id)
	r, err := scanRun(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get run: %w", err)
	}
	return r, nil
}

// ListRuns returns the newest runs first. A limit of zero means 50.
func (s *Store) ListRuns(limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.Query(`SELECT `+runColumns+` FROM runs ORDER BY started_at DESC, rowid DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		runs = append(runs, *r)
	}
	return runs, rows.Err()
}

func (s *Store) UpdateRunStatus(id, status string) error {
	_, err := s.db.Exec(`UPDATE runs SET status = ? WHERE id = ?`, status, id)
	return err
}

// FinishRun records the terminal state of a run.
func (s *Store) FinishRun(id, status, report string, steps int, errMsg string) error {
	_, err := s.db.Exec(`
		UPDATE runs
		SET status = ?, final_report = ?, steps = ?, error = ?, completed_at = CURRENT_TIMESTAMP
		WHERE id = ?`, status, nullable(report), steps, nullable(errMsg), id)
	if err != nil {
		return fmt.Errorf("finish run: %w", err)
	}
	return nil
}

// FailStaleRuns marks runs left queued or running by a previous process as
// failed and returns how many were changed.
func (s *Store) FailStaleRuns() (int64, error) {
	res, err := s.db.Exec(`
		UPDATE runs
		SET status = 'failed', error = 'interrupted by shutdown', completed_at = CURRENT_TIMESTAMP
		WHERE status IN ('queued', 'running')`)
	if err != nil {
		return 0, fmt.Errorf("fail stale runs: %w", err)
	}
	return res.RowsAffected()
}

// DeleteRun removes a run and its messages.
func (s *Store) DeleteRun(id string) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin delete run: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM run_messages WHERE run_id = ?`, id); err != nil {
		return fmt.Errorf("delete run messages: %w", err)
	}
	if _, err := tx.Exec(`DELETE FROM runs WHERE id = ?`, id); err != nil {
		return fmt.Errorf("delete run: %w", err)
	}
	return tx.Commit()
}

// CountRunsByStatus returns the number of runs per status.
func (s *Store) CountRunsByStatus() (map[string]int, error) {
	rows, err := s.db.Query(`SELECT status, COUNT(*) FROM runs GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("count runs: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("scan run count: %w", err)
		}
		counts[status] = n
	}
	return counts, rows.Err()
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
