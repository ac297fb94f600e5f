package sqlite

import (
	"fmt"

	"github.com/nikhilranga4/online-compiler-backend/internal/terminal"
)

// SessionStore implements terminal session persistence backed by SQLite.
type SessionStore struct {
	db *DB
}

var _ terminal.Store = (*SessionStore)(nil)

// NewSessionStore creates a new SQLite-backed session store.
func NewSessionStore(db *DB) *SessionStore {
	return &SessionStore{db: db}
}

// Save persists a session record (insert or update).
func (s *SessionStore) Save(rec *terminal.Record) error {
	_, err := s.db.Exec(`
		INSERT INTO sessions (id, language, environment_id, state, last_activity_at, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			environment_id=excluded.environment_id, state=excluded.state,
			last_activity_at=excluded.last_activity_at, updated_at=excluded.updated_at`,
		rec.ID, rec.Language, rec.EnvironmentID, string(rec.State),
		rec.LastActivityAt, rec.CreatedAt, rec.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("upsert session: %w", err)
	}
	return nil
}

// ListActive returns all sessions not yet closed.
func (s *SessionStore) ListActive() ([]*terminal.Record, error) {
	rows, err := s.db.Query(`
		SELECT id, language, environment_id, state, last_activity_at, created_at, updated_at
		FROM sessions WHERE state IN ('active', 'closing')`)
	if err != nil {
		return nil, fmt.Errorf("list active sessions: %w", err)
	}
	defer rows.Close()

	var records []*terminal.Record
	for rows.Next() {
		var rec terminal.Record
		var state string
		if err := rows.Scan(&rec.ID, &rec.Language, &rec.EnvironmentID, &state,
			&rec.LastActivityAt, &rec.CreatedAt, &rec.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		rec.State = terminal.State(state)
		records = append(records, &rec)
	}
	return records, rows.Err()
}

// Delete removes a session record.
func (s *SessionStore) Delete(id string) error {
	_, err := s.db.Exec("DELETE FROM sessions WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	return nil
}
