package models

import (
	"time"

	"github.com/google/uuid"
)

// HealthSample is one periodic liveness observation for an advertising
// session. Healthy is a local assertion (session still marked active,
// adapter powered), not a verified on-air fact.
type HealthSample struct {
	ID         uuid.UUID `json:"id" db:"id"`
	SessionID  uuid.UUID `json:"sessionId" db:"session_id"`
	DeviceName string    `json:"deviceName" db:"device_name"`
	Mode       string    `json:"mode" db:"mode"`
	CreatedAt  time.Time `json:"createdAt" db:"created_at"`

	Healthy          bool    `json:"healthy" db:"healthy"`
	RSSI             int16   `json:"rssi" db:"rssi"`
	BytesTransmitted int64   `json:"bytesTransmitted" db:"bytes_transmitted"`
	Restarts         int     `json:"restarts" db:"restarts"`
	Errors           int     `json:"errors" db:"errors"`
	DurationSeconds  float64 `json:"durationSeconds" db:"duration_seconds"`
}
