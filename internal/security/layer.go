// Package security provides optional payload encryption and
// session-scoped authentication tokens for advertising sessions.
package security

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/airchainpay/proximityd/internal/config"
	"github.com/airchainpay/proximityd/internal/models"
	"github.com/airchainpay/proximityd/pkg/crypto"
)

// Layer owns all security sessions, keyed by device name
type Layer struct {
	cfg config.SecurityConfig

	mu       sync.Mutex
	sessions map[string]*models.SecuritySession
}

// NewLayer creates the security layer
func NewLayer(cfg config.SecurityConfig) *Layer {
	return &Layer{
		cfg:      cfg,
		sessions: make(map[string]*models.SecuritySession),
	}
}

// Enabled reports whether payload encryption is configured
func (l *Layer) Enabled() bool {
	return l.cfg.EncryptionEnabled && l.cfg.EncryptionKey != ""
}

// EncryptionKey exposes the configured key to the wire layer
func (l *Layer) EncryptionKey() string {
	return l.cfg.EncryptionKey
}

// CreateSecurePayload encodes each string field of the payload
// independently with the configured key. No-op when encryption is
// disabled or no key is configured; the second return value reports
// whether encryption was applied.
func (l *Layer) CreateSecurePayload(payload *models.PaymentPayload) (*models.PaymentPayload, bool) {
	if !l.Enabled() {
		return payload, false
	}

	key := l.cfg.EncryptionKey
	secured := &models.PaymentPayload{
		WalletAddress: crypto.EncodeField(key, payload.WalletAddress),
		Amount:        crypto.EncodeField(key, payload.Amount),
		Token:         models.Token(crypto.EncodeField(key, string(payload.Token))),
		ChainID:       crypto.EncodeField(key, payload.ChainID),
		Timestamp:     payload.Timestamp,
		DeviceName:    payload.DeviceName,
	}

	l.withSession(payload.DeviceName, func(s *models.SecuritySession) {
		s.Metrics.EncryptionAttempts++
		s.Metrics.EncryptionSuccesses++
	})

	return secured, true
}

// DecryptPayload is the inverse of CreateSecurePayload. Applying the
// same key recovers the original payload.
func (l *Layer) DecryptPayload(payload *models.PaymentPayload, key string) (*models.PaymentPayload, error) {
	if key == "" {
		return payload, nil
	}

	decoded := &models.PaymentPayload{
		Timestamp:  payload.Timestamp,
		DeviceName: payload.DeviceName,
	}

	fields := []struct {
		src string
		dst func(string)
	}{
		{payload.WalletAddress, func(v string) { decoded.WalletAddress = v }},
		{payload.Amount, func(v string) { decoded.Amount = v }},
		{string(payload.Token), func(v string) { decoded.Token = models.Token(v) }},
		{payload.ChainID, func(v string) { decoded.ChainID = v }},
	}
	for _, f := range fields {
		v, err := crypto.DecodeField(key, f.src)
		if err != nil {
			l.withSession(payload.DeviceName, func(s *models.SecuritySession) {
				s.Metrics.EncryptionAttempts++
				s.Metrics.EncryptionFailures++
				s.Metrics.Errors = append(s.Metrics.Errors, err.Error())
			})
			return nil, fmt.Errorf("decrypt payload field: %w", err)
		}
		f.dst(v)
	}

	return decoded, nil
}

// GenerateAuthToken mints an opaque session token for the device and
// stores it with the configured TTL.
func (l *Layer) GenerateAuthToken(deviceName string) (string, error) {
	random, err := crypto.GenerateRandomString(16)
	if err != nil {
		return "", fmt.Errorf("generate auth token: %w", err)
	}
	token := fmt.Sprintf("%s.%d.%s", deviceName, time.Now().UnixNano(), random)

	l.withSession(deviceName, func(s *models.SecuritySession) {
		s.Metrics.AuthAttempts++
		s.AuthToken = token
		s.CreatedAt = time.Now()
		s.ExpiresAt = s.CreatedAt.Add(l.cfg.TokenTTL)
		s.Metrics.AuthSuccesses++
	})

	return token, nil
}

// ValidateAuthToken compares the stored token for the device. An expired
// session fails validation and is purged from the session map.
func (l *Layer) ValidateAuthToken(deviceName, token string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	session, ok := l.sessions[deviceName]
	if !ok {
		return false
	}

	session.Metrics.AuthAttempts++
	if session.Expired(time.Now()) {
		delete(l.sessions, deviceName)
		log.Debug().Str("device", deviceName).Msg("security session expired, purged")
		return false
	}
	if token == "" || session.AuthToken != token {
		session.Metrics.AuthFailures++
		return false
	}

	session.Metrics.AuthSuccesses++
	return true
}

// Session returns a snapshot of the device's security session, creating
// it on first use.
func (l *Layer) Session(deviceName string) models.SecuritySession {
	var snapshot models.SecuritySession
	l.withSession(deviceName, func(s *models.SecuritySession) {
		snapshot = *s
	})
	return snapshot
}

// HasSession reports whether a live (unexpired) session exists
func (l *Layer) HasSession(deviceName string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	s, ok := l.sessions[deviceName]
	return ok && !s.Expired(time.Now())
}

// EndSession purges the device's security session
func (l *Layer) EndSession(deviceName string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.sessions, deviceName)
}

// AggregateMetrics is the totals-and-rates view across all sessions
type AggregateMetrics struct {
	Sessions            int     `json:"sessions"`
	EncryptionAttempts  int64   `json:"encryptionAttempts"`
	EncryptionSuccesses int64   `json:"encryptionSuccesses"`
	EncryptionFailures  int64   `json:"encryptionFailures"`
	EncryptionRate      float64 `json:"encryptionRate"`
	AuthAttempts        int64   `json:"authAttempts"`
	AuthSuccesses       int64   `json:"authSuccesses"`
	AuthFailures        int64   `json:"authFailures"`
	AuthRate            float64 `json:"authRate"`
	Errors              int     `json:"errors"`
}

// Aggregate computes totals and success rates across all sessions
func (l *Layer) Aggregate() AggregateMetrics {
	l.mu.Lock()
	defer l.mu.Unlock()

	agg := AggregateMetrics{Sessions: len(l.sessions)}
	for _, s := range l.sessions {
		agg.EncryptionAttempts += s.Metrics.EncryptionAttempts
		agg.EncryptionSuccesses += s.Metrics.EncryptionSuccesses
		agg.EncryptionFailures += s.Metrics.EncryptionFailures
		agg.AuthAttempts += s.Metrics.AuthAttempts
		agg.AuthSuccesses += s.Metrics.AuthSuccesses
		agg.AuthFailures += s.Metrics.AuthFailures
		agg.Errors += len(s.Metrics.Errors)
	}
	if agg.EncryptionAttempts > 0 {
		agg.EncryptionRate = float64(agg.EncryptionSuccesses) / float64(agg.EncryptionAttempts)
	}
	if agg.AuthAttempts > 0 {
		agg.AuthRate = float64(agg.AuthSuccesses) / float64(agg.AuthAttempts)
	}
	return agg
}

// withSession runs fn with the device's live session under the lock,
// creating the session if absent or expired.
func (l *Layer) withSession(deviceName string, fn func(*models.SecuritySession)) {
	l.mu.Lock()
	defer l.mu.Unlock()

	s, ok := l.sessions[deviceName]
	if !ok || s.Expired(time.Now()) {
		s = &models.SecuritySession{
			ID:            uuid.New(),
			DeviceName:    deviceName,
			EncryptionKey: l.cfg.EncryptionKey,
			CreatedAt:     time.Now(),
			ExpiresAt:     time.Now().Add(l.cfg.TokenTTL),
		}
		l.sessions[deviceName] = s
	}
	fn(s)
}
