package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// EventLog represents an event log entry
type EventLog struct {
	ID        uuid.UUID `json:"id" db:"id"`
	CreatedAt time.Time `json:"createdAt" db:"created_at"`

	SessionID *uuid.UUID `json:"sessionId,omitempty" db:"session_id"`
	DeviceID  string     `json:"deviceId,omitempty" db:"device_id"`

	Type        EventType  `json:"type" db:"type"`
	Level       EventLevel `json:"level" db:"level"`
	Code        string     `json:"code" db:"code"`
	Description string     `json:"description" db:"description"`

	Details Variables `json:"details,omitempty" db:"details"`
}

// EventType represents event types
type EventType string

const (
	// Advertising events
	EventTypeAdvertisingStarted  EventType = "ADVERTISING_STARTED"
	EventTypeAdvertisingStopped  EventType = "ADVERTISING_STOPPED"
	EventTypeAdvertisingFallback EventType = "ADVERTISING_FALLBACK"
	EventTypeAdvertisingTimeout  EventType = "ADVERTISING_TIMEOUT"

	// Scan events
	EventTypeScanStarted     EventType = "SCAN_STARTED"
	EventTypeScanStopped     EventType = "SCAN_STOPPED"
	EventTypeDeviceFound     EventType = "DEVICE_FOUND"
	EventTypePayloadReceived EventType = "PAYLOAD_RECEIVED"

	// Connection events
	EventTypeConnected    EventType = "CONNECTED"
	EventTypeDisconnected EventType = "DISCONNECTED"
	EventTypeDataSent     EventType = "DATA_SENT"
	EventTypeDataReceived EventType = "DATA_RECEIVED"

	// System events
	EventTypeHealthCheck EventType = "HEALTH_CHECK"
	EventTypeError       EventType = "ERROR"
	EventTypeAPICall     EventType = "API_CALL"
)

// EventLevel represents event severity levels
type EventLevel string

const (
	EventLevelDebug   EventLevel = "DEBUG"
	EventLevelInfo    EventLevel = "INFO"
	EventLevelWarning EventLevel = "WARNING"
	EventLevelError   EventLevel = "ERROR"
)

// Variables is a free-form JSON details map stored as jsonb
type Variables map[string]interface{}

// Value implements driver.Valuer
func (v Variables) Value() (driver.Value, error) {
	if v == nil {
		return nil, nil
	}
	return json.Marshal(v)
}

// Scan implements sql.Scanner
func (v *Variables) Scan(src interface{}) error {
	if src == nil {
		*v = nil
		return nil
	}
	b, ok := src.([]byte)
	if !ok {
		return fmt.Errorf("variables: unsupported scan type %T", src)
	}
	return json.Unmarshal(b, v)
}
