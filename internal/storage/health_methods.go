package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/airchainpay/proximityd/internal/models"
)

// SaveHealthSample inserts one liveness observation
func (s *PostgresStore) SaveHealthSample(ctx context.Context, sample *models.HealthSample) error {
	if sample.ID == uuid.Nil {
		sample.ID = uuid.New()
	}
	if sample.CreatedAt.IsZero() {
		sample.CreatedAt = time.Now()
	}

	_, err := s.getDB().ExecContext(ctx, `
		INSERT INTO health_samples
			(id, session_id, device_name, mode, created_at, healthy, rssi, bytes_transmitted, restarts, errors, duration_seconds)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		sample.ID, sample.SessionID, sample.DeviceName, sample.Mode, sample.CreatedAt,
		sample.Healthy, sample.RSSI, sample.BytesTransmitted, sample.Restarts,
		sample.Errors, sample.DurationSeconds)
	if err != nil {
		return mapError("insert health sample", err)
	}
	return nil
}

// ListHealthSamples lists samples for one session, newest first
func (s *PostgresStore) ListHealthSamples(ctx context.Context, sessionID uuid.UUID, limit, offset int) ([]*models.HealthSample, int64, error) {
	var total int64
	if err := s.getDB().QueryRowContext(ctx,
		`SELECT COUNT(*) FROM health_samples WHERE session_id = $1`, sessionID).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count health samples: %w", err)
	}

	rows, err := s.getDB().QueryContext(ctx, `
		SELECT id, session_id, device_name, mode, created_at, healthy, rssi, bytes_transmitted, restarts, errors, duration_seconds
		FROM health_samples
		WHERE session_id = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3`, sessionID, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("list health samples: %w", err)
	}
	defer rows.Close()

	var samples []*models.HealthSample
	for rows.Next() {
		var sample models.HealthSample
		if err := rows.Scan(&sample.ID, &sample.SessionID, &sample.DeviceName, &sample.Mode,
			&sample.CreatedAt, &sample.Healthy, &sample.RSSI, &sample.BytesTransmitted,
			&sample.Restarts, &sample.Errors, &sample.DurationSeconds); err != nil {
			return nil, 0, err
		}
		samples = append(samples, &sample)
	}
	return samples, total, rows.Err()
}
