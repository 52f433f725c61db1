package storage

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/airchainpay/proximityd/internal/models"
)

// CreateEventLog inserts an event log entry
func (s *PostgresStore) CreateEventLog(ctx context.Context, event *models.EventLog) error {
	if event.ID == uuid.Nil {
		event.ID = uuid.New()
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now()
	}

	_, err := s.getDB().ExecContext(ctx, `
		INSERT INTO event_logs (id, created_at, session_id, device_id, type, level, code, description, details)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		event.ID, event.CreatedAt, event.SessionID, event.DeviceID,
		event.Type, event.Level, event.Code, event.Description, event.Details)
	if err != nil {
		return mapError("insert event log", err)
	}
	return nil
}

// ListEventLogs lists event logs matching the filters, newest first
func (s *PostgresStore) ListEventLogs(ctx context.Context, filters EventLogFilters, limit, offset int) ([]*models.EventLog, int64, error) {
	var (
		conditions []string
		args       []interface{}
	)

	addCondition := func(clause string, value interface{}) {
		args = append(args, value)
		conditions = append(conditions, fmt.Sprintf(clause, len(args)))
	}

	if filters.SessionID != nil {
		addCondition("session_id = $%d", *filters.SessionID)
	}
	if filters.DeviceID != "" {
		addCondition("device_id = $%d", filters.DeviceID)
	}
	if filters.Type != nil {
		addCondition("type = $%d", *filters.Type)
	}
	if filters.Level != nil {
		addCondition("level = $%d", *filters.Level)
	}
	if filters.StartTime != nil {
		addCondition("created_at >= $%d", *filters.StartTime)
	}
	if filters.EndTime != nil {
		addCondition("created_at <= $%d", *filters.EndTime)
	}

	where := ""
	if len(conditions) > 0 {
		where = " WHERE " + strings.Join(conditions, " AND ")
	}

	var total int64
	if err := s.getDB().QueryRowContext(ctx,
		"SELECT COUNT(*) FROM event_logs"+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count event logs: %w", err)
	}

	query := fmt.Sprintf(`
		SELECT id, created_at, session_id, device_id, type, level, code, description, details
		FROM event_logs%s
		ORDER BY created_at DESC
		LIMIT $%d OFFSET $%d`, where, len(args)+1, len(args)+2)
	args = append(args, limit, offset)

	rows, err := s.getDB().QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list event logs: %w", err)
	}
	defer rows.Close()

	var events []*models.EventLog
	for rows.Next() {
		var (
			event     models.EventLog
			sessionID uuid.NullUUID
		)
		if err := rows.Scan(&event.ID, &event.CreatedAt, &sessionID, &event.DeviceID,
			&event.Type, &event.Level, &event.Code, &event.Description, &event.Details); err != nil {
			return nil, 0, err
		}
		if sessionID.Valid {
			event.SessionID = &sessionID.UUID
		}
		events = append(events, &event)
	}
	return events, total, rows.Err()
}
