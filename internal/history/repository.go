package history

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/nikhilranga4/online-compiler-backend/internal/executor"
)

// Record is one completed batch execution, kept for auditing. Source code
// is deliberately not stored.
type Record struct {
	ExecutionID string          `json:"executionId"`
	Language    string          `json:"language"`
	Status      executor.Status `json:"status"`
	ExitCode    int32           `json:"exitCode"`
	ErrorKind   string          `json:"errorKind,omitempty"`
	Duration    time.Duration   `json:"duration"`
	CreatedAt   time.Time       `json:"createdAt"`
}

// Repository persists execution records in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository connects to the database and ensures the schema exists.
func NewRepository(ctx context.Context, databaseURL string) (*Repository, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	r := &Repository{pool: pool}
	if err := r.ensureSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return r, nil
}

func (r *Repository) ensureSchema(ctx context.Context) error {
	_, err := r.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS executions (
			execution_id TEXT PRIMARY KEY,
			language     TEXT NOT NULL,
			status       TEXT NOT NULL,
			exit_code    INTEGER NOT NULL,
			error_kind   TEXT NOT NULL DEFAULT '',
			duration_ms  BIGINT NOT NULL,
			created_at   TIMESTAMPTZ NOT NULL DEFAULT now()
		)
	`)
	if err != nil {
		return fmt.Errorf("ensure executions table: %w", err)
	}
	return nil
}

// Insert stores one execution record.
func (r *Repository) Insert(ctx context.Context, res *executor.Result, lang string) error {
	query := `
		INSERT INTO executions (execution_id, language, status, exit_code, error_kind, duration_ms)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (execution_id) DO NOTHING
	`
	_, err := r.pool.Exec(ctx, query,
		res.ExecutionID, lang, string(res.Status), res.ExitCode,
		res.ErrorKind, res.Duration.Milliseconds(),
	)
	if err != nil {
		return fmt.Errorf("insert execution: %w", err)
	}
	return nil
}

// ListRecent returns the most recent execution records.
func (r *Repository) ListRecent(ctx context.Context, limit int) ([]*Record, error) {
	query := `
		SELECT execution_id, language, status, exit_code, error_kind, duration_ms, created_at
		FROM executions ORDER BY created_at DESC LIMIT $1
	`
	rows, err := r.pool.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("list executions: %w", err)
	}
	defer rows.Close()

	var records []*Record
	for rows.Next() {
		var rec Record
		var status string
		var durationMS int64
		if err := rows.Scan(&rec.ExecutionID, &rec.Language, &status, &rec.ExitCode,
			&rec.ErrorKind, &durationMS, &rec.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan execution: %w", err)
		}
		rec.Status = executor.Status(status)
		rec.Duration = time.Duration(durationMS) * time.Millisecond
		records = append(records, &rec)
	}
	return records, rows.Err()
}

// Close releases the connection pool.
func (r *Repository) Close() {
	r.pool.Close()
}
