package store

import (
	"fmt"
	"time"
)

// RunMessage is one entry of a run's conversation. Reason carries the
// routing reason that led to a worker turn, or the finish reason for the
// final report.
type RunMessage struct {
	ID        int64     `json:"id"`
	RunID     string    `json:"run_id"`
	Seq       int       `json:"seq"`
	Role      string    `json:"role"`
	Name      string    `json:"name,omitempty"`
	Content   string    `json:"content"`
	Reason    string    `json:"reason,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

func (s *Store) SaveRunMessage(m *RunMessage) error {
	result, err := s.db.Exec(`
		INSERT INTO run_messages (run_id, seq, role, name, content, reason)
		VALUES (?, ?, ?, ?, ?, ?)`,
		m.RunID, m.Seq, m.Role, nullable(m.Name), m.Content, nullable(m.Reason))
	if err != nil {
		return fmt.Errorf("save run message: %w", err)
	}
	m.ID, _ = result.LastInsertId()
	return nil
}

// GetRunMessages returns a run's messages in sequence order.
func (s *Store) GetRunMessages(runID string) ([]RunMessage, error) {
	rows, err := s.db.Query(`
		SELECT id, run_id, seq, role, name, content, reason, created_at
		FROM run_messages
		WHERE run_id = ?
		ORDER BY seq`, runID)
	if err != nil {
		return nil, fmt.Errorf("get run messages: %w", err)
	}
	defer rows.Close()

	var messages []RunMessage
	for rows.Next() {
		var m RunMessage
		var name, reason *string
		if err := rows.Scan(&m.ID, &m.RunID, &m.Seq, &m.Role, &name, &m.Content, &reason, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan run message: %w", err)
		}
		if name != nil {
			m.Name = *name
		}
		if reason != nil {
			m.Reason = *reason
		}
		messages = append(messages, m)
	}
	return messages, rows.Err()
}

// CountRunMessages returns the number of stored messages per run.
func (s *Store) CountRunMessages() (map[string]int, error) {
	rows, err := s.db.Query(`SELECT run_id, COUNT(*) FROM run_messages GROUP BY run_id`)
	if err != nil {
		return nil, fmt.Errorf("count run messages: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var id string
		var n int
		if err := rows.Scan(&id, &n); err != nil {
			return nil, fmt.Errorf("scan message count: %w", err)
		}
		counts[id] = n
	}
	return counts, rows.Err()
}
