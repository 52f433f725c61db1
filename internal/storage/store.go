package storage

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/airchainpay/proximityd/internal/models"
)

// Common errors
var (
	ErrNotFound     = errors.New("not found")
	ErrDuplicateKey = errors.New("duplicate key")
	ErrInvalidData  = errors.New("invalid data")
)

// Store defines the storage interface
type Store interface {
	// Transaction support
	BeginTx(ctx context.Context) (Store, error)
	Commit() error
	Rollback() error

	// Advertising session history
	CreateAdvertisingSession(ctx context.Context, session *models.AdvertisingSession) error
	UpdateAdvertisingSession(ctx context.Context, session *models.AdvertisingSession) error
	GetAdvertisingSession(ctx context.Context, id uuid.UUID) (*models.AdvertisingSession, error)
	ListAdvertisingSessions(ctx context.Context, limit, offset int) ([]*models.AdvertisingSession, int64, error)

	// Event log methods
	CreateEventLog(ctx context.Context, event *models.EventLog) error
	ListEventLogs(ctx context.Context, filters EventLogFilters, limit, offset int) ([]*models.EventLog, int64, error)

	// Health sample methods
	SaveHealthSample(ctx context.Context, sample *models.HealthSample) error
	ListHealthSamples(ctx context.Context, sessionID uuid.UUID, limit, offset int) ([]*models.HealthSample, int64, error)

	// Close the store
	Close() error
}

// EventLogFilters represents filters for event logs
type EventLogFilters struct {
	SessionID *uuid.UUID
	DeviceID  string
	Type      *models.EventType
	Level     *models.EventLevel
	StartTime *time.Time
	EndTime   *time.Time
}
