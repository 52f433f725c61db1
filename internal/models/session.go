package models

import (
	"time"

	"github.com/google/uuid"
)

// AdvertisingState represents the lifecycle state of an advertising session
type AdvertisingState string

const (
	AdvertisingIdle     AdvertisingState = "IDLE"
	AdvertisingStarting AdvertisingState = "STARTING"
	AdvertisingActive   AdvertisingState = "ACTIVE"
	AdvertisingStopping AdvertisingState = "STOPPING"
	AdvertisingFailed   AdvertisingState = "FAILED"
)

// AdvertisingMode records how an active session is actually broadcasting
type AdvertisingMode string

const (
	// ModeNative means the platform broadcast primitive accepted the message.
	ModeNative AdvertisingMode = "NATIVE"
	// ModeFallback means the periodic re-broadcast loop is carrying the
	// session. Entered when the native primitive is absent or exhausted
	// its retries.
	ModeFallback AdvertisingMode = "FALLBACK"
)

// AdvertisingSession represents one advertising lifecycle, from start
// request to stop/timeout. Owned exclusively by the advertising controller.
type AdvertisingSession struct {
	ID         uuid.UUID        `json:"id" db:"id"`
	DeviceName string           `json:"deviceName" db:"device_name"`
	Payload    PaymentPayload   `json:"payload" db:"-"`
	State      AdvertisingState `json:"state" db:"state"`
	Mode       AdvertisingMode  `json:"mode" db:"mode"`
	RetryCount int              `json:"retryCount" db:"retry_count"`
	Encrypted  bool             `json:"encrypted" db:"encrypted"`
	StartedAt  time.Time        `json:"startedAt" db:"started_at"`
	StoppedAt  *time.Time       `json:"stoppedAt,omitempty" db:"stopped_at"`

	// SecuritySessionID links to the security session when secure
	// advertising was requested, nil otherwise.
	SecuritySessionID *uuid.UUID `json:"securitySessionId,omitempty" db:"security_session_id"`
}

// SecurityMetrics tracks per-session security operation counters
type SecurityMetrics struct {
	EncryptionAttempts  int64    `json:"encryptionAttempts"`
	EncryptionSuccesses int64    `json:"encryptionSuccesses"`
	EncryptionFailures  int64    `json:"encryptionFailures"`
	AuthAttempts        int64    `json:"authAttempts"`
	AuthSuccesses       int64    `json:"authSuccesses"`
	AuthFailures        int64    `json:"authFailures"`
	Errors              []string `json:"errors,omitempty"`
}

// SecuritySession holds the session-scoped authentication token and
// encryption key for one advertising device. Purged on expiry or stop.
type SecuritySession struct {
	ID            uuid.UUID       `json:"id"`
	DeviceName    string          `json:"deviceName"`
	AuthToken     string          `json:"-"`
	EncryptionKey string          `json:"-"`
	CreatedAt     time.Time       `json:"createdAt"`
	ExpiresAt     time.Time       `json:"expiresAt"`
	Metrics       SecurityMetrics `json:"metrics"`
}

// Expired reports whether the session TTL has elapsed
func (s *SecuritySession) Expired(now time.Time) bool {
	return now.After(s.ExpiresAt)
}
