package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/airchainpay/proximityd/internal/models"
)

// CreateAdvertisingSession inserts a new session row
func (s *PostgresStore) CreateAdvertisingSession(ctx context.Context, session *models.AdvertisingSession) error {
	payload, err := json.Marshal(session.Payload)
	if err != nil {
		return fmt.Errorf("marshal session payload: %w", err)
	}

	_, err = s.getDB().ExecContext(ctx, `
		INSERT INTO advertising_sessions
			(id, device_name, payload, state, mode, retry_count, encrypted, security_session_id, started_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		session.ID, session.DeviceName, payload, session.State, session.Mode,
		session.RetryCount, session.Encrypted, session.SecuritySessionID, session.StartedAt)
	if err != nil {
		return mapError("insert advertising session", err)
	}
	return nil
}

// UpdateAdvertisingSession updates session state after transitions
func (s *PostgresStore) UpdateAdvertisingSession(ctx context.Context, session *models.AdvertisingSession) error {
	res, err := s.getDB().ExecContext(ctx, `
		UPDATE advertising_sessions
		SET state = $2, mode = $3, retry_count = $4, stopped_at = $5
		WHERE id = $1`,
		session.ID, session.State, session.Mode, session.RetryCount, session.StoppedAt)
	if err != nil {
		return fmt.Errorf("update advertising session: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// GetAdvertisingSession fetches one session by ID
func (s *PostgresStore) GetAdvertisingSession(ctx context.Context, id uuid.UUID) (*models.AdvertisingSession, error) {
	row := s.getDB().QueryRowContext(ctx, `
		SELECT id, device_name, payload, state, mode, retry_count, encrypted, security_session_id, started_at, stopped_at
		FROM advertising_sessions WHERE id = $1`, id)

	session, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return session, err
}

// ListAdvertisingSessions lists session history, newest first
func (s *PostgresStore) ListAdvertisingSessions(ctx context.Context, limit, offset int) ([]*models.AdvertisingSession, int64, error) {
	var total int64
	if err := s.getDB().QueryRowContext(ctx,
		`SELECT COUNT(*) FROM advertising_sessions`).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count advertising sessions: %w", err)
	}

	rows, err := s.getDB().QueryContext(ctx, `
		SELECT id, device_name, payload, state, mode, retry_count, encrypted, security_session_id, started_at, stopped_at
		FROM advertising_sessions
		ORDER BY started_at DESC
		LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("list advertising sessions: %w", err)
	}
	defer rows.Close()

	var sessions []*models.AdvertisingSession
	for rows.Next() {
		session, err := scanSession(rows)
		if err != nil {
			return nil, 0, err
		}
		sessions = append(sessions, session)
	}
	return sessions, total, rows.Err()
}

// rowScanner covers both sql.Row and sql.Rows
type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanSession(row rowScanner) (*models.AdvertisingSession, error) {
	var (
		session           models.AdvertisingSession
		payload           []byte
		securitySessionID uuid.NullUUID
		stoppedAt         sql.NullTime
	)
	err := row.Scan(&session.ID, &session.DeviceName, &payload, &session.State,
		&session.Mode, &session.RetryCount, &session.Encrypted,
		&securitySessionID, &session.StartedAt, &stoppedAt)
	if err != nil {
		return nil, err
	}
	if securitySessionID.Valid {
		session.SecuritySessionID = &securitySessionID.UUID
	}
	if stoppedAt.Valid {
		session.StoppedAt = &stoppedAt.Time
	}
	if len(payload) > 0 {
		if err := json.Unmarshal(payload, &session.Payload); err != nil {
			return nil, fmt.Errorf("unmarshal session payload: %w", err)
		}
	}
	return &session, nil
}
