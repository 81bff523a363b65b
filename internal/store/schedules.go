package store

import (
	"database/sql"
	"fmt"
	"time"
)

// ScheduledResearch starts a research run on a niche whenever its schedule
// comes due. Schedule holds the normalized JSON of a schedule.Schedule.
type ScheduledResearch struct {
	ID         string     `json:"id"`
	Name       string     `json:"name"`
	Schedule   string     `json:"schedule"`
	Niche      string     `json:"niche"`
	Status     string     `json:"status"`
	NextRunAt  *time.Time `json:"next_run_at,omitempty"`
	LastRunAt  *time.Time `json:"last_run_at,omitempty"`
	LastStatus string     `json:"last_status,omitempty"`
	LastError  string     `json:"last_error,omitempty"`
	LastRunID  string     `json:"last_run_id,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
}

func scanSchedule(scanner interface {
	Scan(dest ...any) error
}) (*ScheduledResearch, error) {
	t := &ScheduledResearch{}
	var lastStatus, lastError, lastRunID *string
	err := scanner.Scan(&t.ID, &t.Name, &t.Schedule, &t.Niche, &t.Status,
		&t.NextRunAt, &t.LastRunAt, &lastStatus, &lastError, &lastRunID, &t.CreatedAt)
	if err != nil {
		return nil, err
	}
	if lastStatus != nil {
		t.LastStatus = *lastStatus
	}
	if lastError != nil {
		t.LastError = *lastError
	}
	if lastRunID != nil {
		t.LastRunID = *lastRunID
	}
	return t, nil
}

const scheduleColumns = `id, name, schedule, niche, status,
	next_run_at, last_run_at, last_status, last_error, last_run_id, created_at`

func (s *Store) SaveSchedule(t *ScheduledResearch) error {
	_, err := s.db.Exec(`
		INSERT INTO scheduled_research (id, name, schedule, niche, status, next_run_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			schedule = excluded.schedule,
			niche = excluded.niche,
			status = excluded.status,
			next_run_at = excluded.next_run_at`,
		t.ID, t.Name, t.Schedule, t.Niche, t.Status, utc(t.NextRunAt))
	if err != nil {
		return fmt.Errorf("save schedule: %w", err)
	}
	return nil
}

func (s *Store) GetSchedule(id string) (*ScheduledResearch, error) {
	row := s.db.QueryRow(`SELECT `+scheduleColumns+` FROM scheduled_research WHERE id = ?`, id)
	t, err := scanSchedule(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get schedule: %w", err)
	}
	return t, nil
}

func (s *Store) ListSchedules() ([]ScheduledResearch, error) {
	rows, err := s.db.Query(`SELECT ` + scheduleColumns + ` FROM scheduled_research ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("list schedules: %w", err)
	}
	defer rows.Close()
	return collectSchedules(rows)
}

func (s *Store) GetDueSchedules(now time.Time) ([]ScheduledResearch, error) {
	rows, err := s.db.Query(`
		SELECT `+scheduleColumns+`
		FROM scheduled_research
		WHERE status = 'active' AND next_run_at <= ?
		ORDER BY next_run_at`, now.UTC())
	if err != nil {
		return nil, fmt.Errorf("get due schedules: %w", err)
	}
	defer rows.Close()
	return collectSchedules(rows)
}

func collectSchedules(rows *sql.Rows) ([]ScheduledResearch, error) {
	var out []ScheduledResearch
	for rows.Next() {
		t, err := scanSchedule(rows)
		if err != nil {
			return nil, fmt.Errorf("scan schedule: %w", err)
		}
		out = append(out, *t)
	}
	return out, rows.Err()
}

// UpdateScheduleRun records an execution. A nil nextRunAt leaves the
// schedule with nothing due, which is how one-shot schedules retire.
func (s *Store) UpdateScheduleRun(id, lastStatus, lastError, runID string, nextRunAt *time.Time) error {
	_, err := s.db.Exec(`
		UPDATE scheduled_research
		SET last_run_at = CURRENT_TIMESTAMP, last_status = ?, last_error = ?, last_run_id = ?, next_run_at = ?
		WHERE id = ?`, lastStatus, nullable(lastError), nullable(runID), utc(nextRunAt), id)
	return err
}

func (s *Store) UpdateScheduleStatus(id, status string) error {
	_, err := s.db.Exec(`UPDATE scheduled_research SET status = ? WHERE id = ?`, status, id)
	return err
}

func (s *Store) DeleteSchedule(id string) error {
	_, err := s.db.Exec(`DELETE FROM scheduled_research WHERE id = ?`, id)
	return err
}

// utc keeps stored times in one zone; SQLite compares them as text.
func utc(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}
