package storage

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	_ "github.com/lib/pq"
)

// PostgresStore implements Store interface for PostgreSQL
type PostgresStore struct {
	db *sql.DB
	tx *sql.Tx
}

// NewPostgresStore creates a new PostgreSQL store
func NewPostgresStore(dsn string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}

	s := &PostgresStore{db: db}
	if err := s.ensureSchema(); err != nil {
		return nil, fmt.Errorf("ensure schema: %w", err)
	}

	return s, nil
}

// Close closes the database connection
func (s *PostgresStore) Close() error {
	return s.db.Close()
}

// BeginTx starts a new transaction
func (s *PostgresStore) BeginTx(ctx context.Context) (Store, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	return &PostgresStore{db: s.db, tx: tx}, nil
}

// Commit commits the transaction
func (s *PostgresStore) Commit() error {
	if s.tx == nil {
		return nil
	}
	return s.tx.Commit()
}

// Rollback rolls back the transaction
func (s *PostgresStore) Rollback() error {
	if s.tx == nil {
		return nil
	}
	return s.tx.Rollback()
}

// getDB returns tx if in transaction, otherwise db
func (s *PostgresStore) getDB() interface {
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
} {
	if s.tx != nil {
		return s.tx
	}
	return s.db
}

// mapError converts driver failures on write paths to the store's typed
// sentinels so callers can branch without parsing driver messages.
func mapError(op string, err error) error {
	msg := err.Error()
	switch {
	case strings.Contains(msg, "duplicate key"):
		return fmt.Errorf("%s: %w", op, ErrDuplicateKey)
	case strings.Contains(msg, "invalid input syntax"),
		strings.Contains(msg, "null value in column"),
		strings.Contains(msg, "value too long"):
		return fmt.Errorf("%s: %w", op, ErrInvalidData)
	}
	return fmt.Errorf("%s: %w", op, err)
}

// ensureSchema creates the tables the daemon needs
func (s *PostgresStore) ensureSchema() error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS advertising_sessions (
			id UUID PRIMARY KEY,
			device_name TEXT NOT NULL,
			payload JSONB,
			state TEXT NOT NULL,
			mode TEXT NOT NULL DEFAULT 'NATIVE',
			retry_count INT NOT NULL DEFAULT 0,
			encrypted BOOLEAN NOT NULL DEFAULT FALSE,
			security_session_id UUID,
			started_at TIMESTAMPTZ NOT NULL,
			stopped_at TIMESTAMPTZ
		)`,
		`CREATE TABLE IF NOT EXISTS event_logs (
			id UUID PRIMARY KEY,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			session_id UUID,
			device_id TEXT,
			type TEXT NOT NULL,
			level TEXT NOT NULL,
			code TEXT,
			description TEXT,
			details JSONB
		)`,
		`CREATE TABLE IF NOT EXISTS health_samples (
			id UUID PRIMARY KEY,
			session_id UUID NOT NULL,
			device_name TEXT NOT NULL,
			mode TEXT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			healthy BOOLEAN NOT NULL,
			rssi SMALLINT NOT NULL DEFAULT 0,
			bytes_transmitted BIGINT NOT NULL DEFAULT 0,
			restarts INT NOT NULL DEFAULT 0,
			errors INT NOT NULL DEFAULT 0,
			duration_seconds DOUBLE PRECISION NOT NULL DEFAULT 0
		)`,
		`CREATE INDEX IF NOT EXISTS idx_event_logs_session ON event_logs (session_id)`,
		`CREATE INDEX IF NOT EXISTS idx_event_logs_created ON event_logs (created_at DESC)`,
		`CREATE INDEX IF NOT EXISTS idx_health_samples_session ON health_samples (session_id)`,
	}

	for _, stmt := range statements {
		if _, err := s.db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}
