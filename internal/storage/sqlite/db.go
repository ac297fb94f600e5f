package sqlite

import (
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
)

// DB wraps a sql.DB connection to a SQLite database.
type DB struct {
	*sql.DB
}

// Open creates a new SQLite connection with WAL mode and foreign keys
// enabled.
func Open(path string) (*DB, error) {
	dsn := fmt.Sprintf("file:%s?_journal_mode=WAL&_foreign_keys=ON&_busy_timeout=5000", path)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	// Single-writer SQLite
	db.SetMaxOpenConns(1)

	return &DB{DB: db}, nil
}

// EnsureSchema creates the schema if it does not exist yet.
func (db *DB) EnsureSchema() error {
	_, err := db.Exec(`CREATE TABLE IF NOT EXISTS sessions (
		id               TEXT PRIMARY KEY,
		language         TEXT NOT NULL,
		environment_id   TEXT NOT NULL DEFAULT '',
		state            TEXT NOT NULL,
		last_activity_at DATETIME NOT NULL,
		created_at       DATETIME NOT NULL,
		updated_at       DATETIME NOT NULL
	)`)
	if err != nil {
		return fmt.Errorf("create sessions table: %w", err)
	}
	return nil
}
