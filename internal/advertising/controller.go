// Package advertising orchestrates broadcast of a payment payload:
// start/stop lifecycle, bounded native retries, and the fallback
// re-broadcast loop that keeps the feature alive on platforms whose
// native layer is absent or flaky.
package advertising

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog/log"

	"github.com/airchainpay/proximityd/internal/config"
	"github.com/airchainpay/proximityd/internal/health"
	"github.com/airchainpay/proximityd/internal/models"
	"github.com/airchainpay/proximityd/internal/permissions"
	"github.com/airchainpay/proximityd/internal/radio"
	"github.com/airchainpay/proximityd/internal/security"
	"github.com/airchainpay/proximityd/internal/storage"
	"github.com/airchainpay/proximityd/pkg/wire"
)

// NATS subjects for advertising lifecycle events
const (
	SubjectStarted  = "proximity.advertising.started"
	SubjectStopped  = "proximity.advertising.stopped"
	SubjectFallback = "proximity.advertising.fallback"
)

// Error codes surfaced in start results
const (
	CodeRadioUnavailable = "RADIO_UNAVAILABLE"
	CodePermissionDenied = "PERMISSION_DENIED"
	CodeRetryExhausted   = "RETRY_EXHAUSTED"
)

// StartResult is the outcome of a start request. Expected recoverable
// conditions land here instead of in an error.
type StartResult struct {
	Success               bool                   `json:"success"`
	SessionID             *uuid.UUID             `json:"sessionId,omitempty"`
	Mode                  models.AdvertisingMode `json:"mode,omitempty"`
	NeedsSettingsRedirect bool                   `json:"needsSettingsRedirect,omitempty"`
	Code                  string                 `json:"code,omitempty"`
	Message               string                 `json:"message,omitempty"`
}

// Controller owns every advertising and security session in the process.
// Exactly one instance exists, reached through the subsystem handle, so
// at most one broadcast is ever in flight.
type Controller struct {
	cfg        config.AdvertisingConfig
	radioCfg   config.RadioConfig
	bridge     radio.Bridge
	capability radio.Capability
	perms      *permissions.Coordinator
	power      *radio.StateMonitor
	sec        *security.Layer
	health     *health.Monitor
	store      storage.Store
	nc         *nats.Conn

	mu             sync.Mutex
	session        *models.AdvertisingSession
	starting       bool
	stopRequested  bool
	fallbackCancel context.CancelFunc
	autoStopTimer  *time.Timer
}

// NewController wires the advertising controller. store and nc may be
// nil (no persistence / no event bus).
func NewController(
	cfg config.AdvertisingConfig,
	radioCfg config.RadioConfig,
	bridge radio.Bridge,
	capability radio.Capability,
	perms *permissions.Coordinator,
	power *radio.StateMonitor,
	sec *security.Layer,
	healthMon *health.Monitor,
	store storage.Store,
	nc *nats.Conn,
) *Controller {
	c := &Controller{
		cfg:        cfg,
		radioCfg:   radioCfg,
		bridge:     bridge,
		capability: capability,
		perms:      perms,
		power:      power,
		sec:        sec,
		health:     healthMon,
		store:      store,
		nc:         nc,
	}
	if healthMon != nil {
		healthMon.SetLivenessProbe(c.IsActive)
	}
	return c
}

// Start begins advertising the payload. Idempotent while a session is
// active: the second call returns success without touching the radio.
// The busy guard is taken synchronously, before the first blocking call,
// so a concurrent second start cannot race ahead of a pending first.
func (c *Controller) Start(ctx context.Context, payload models.PaymentPayload) StartResult {
	if payload.DeviceName == "" {
		payload.DeviceName = c.cfg.DeviceName
	}
	if err := payload.Validate(); err != nil {
		return StartResult{Success: false, Message: err.Error()}
	}

	// Idempotence guard, set before any suspension point.
	c.mu.Lock()
	if c.session != nil && c.session.State == models.AdvertisingActive {
		id := c.session.ID
		mode := c.session.Mode
		c.mu.Unlock()
		return StartResult{Success: true, SessionID: &id, Mode: mode, Message: "already advertising"}
	}
	if c.starting {
		c.mu.Unlock()
		return StartResult{Success: true, Message: "start already in progress"}
	}
	c.starting = true
	c.stopRequested = false
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		c.starting = false
		c.stopRequested = false
		c.mu.Unlock()
	}()

	session := &models.AdvertisingSession{
		ID:         uuid.New(),
		DeviceName: payload.DeviceName,
		Payload:    payload,
		State:      models.AdvertisingStarting,
		StartedAt:  time.Now(),
	}

	// Platforms without a true peripheral-mode broadcast go straight to
	// the fallback loop and report success; absence of the native
	// capability is never surfaced as a failure.
	if c.capability != radio.CapabilityNative {
		msg, err := c.buildMessage(session)
		if err != nil {
			return StartResult{Success: false, Message: err.Error()}
		}
		return c.enterFallback(session, msg)
	}

	// Permission gate. Only missing critical permissions fail the start.
	check := c.perms.Check(ctx)
	if !check.Granted {
		redirect := false
		for _, kind := range check.Missing {
			if check.Details[kind] == models.PermissionDeniedForever {
				redirect = true
			}
		}
		return StartResult{
			Success:               false,
			NeedsSettingsRedirect: redirect,
			Code:                  CodePermissionDenied,
			Message:               fmt.Sprintf("missing permissions: %v", check.Missing),
		}
	}

	// Radio-on check with bounded retry.
	if err := c.power.WaitPowered(ctx, c.radioCfg.PowerOnRetries, c.radioCfg.PowerOnRetryDelay); err != nil {
		return StartResult{
			Success: false,
			Code:    CodeRadioUnavailable,
			Message: "radio is powered off",
		}
	}

	msg, err := c.buildMessage(session)
	if err != nil {
		return StartResult{Success: false, Message: err.Error()}
	}

	// Native attempts, each raced against a fixed timeout so a hung
	// fire-and-forget call cannot block the caller.
	for attempt := 1; attempt <= c.cfg.MaxRetries; attempt++ {
		session.RetryCount = attempt
		err := c.advertiseOnce(ctx, msg)
		if err == nil {
			result := c.enterActive(session, models.ModeNative, msg)
			c.recordAttemptErrors(session.ID, attempt-1)
			return result
		}

		log.Warn().Err(err).
			Int("attempt", attempt).
			Int("max_retries", c.cfg.MaxRetries).
			Msg("native advertise attempt failed")

		if attempt < c.cfg.MaxRetries {
			backoff := c.cfg.RetryBackoffBase * time.Duration(attempt)
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return StartResult{Success: false, Message: ctx.Err().Error()}
			}
		}
	}

	// Retry exhaustion degrades to the fallback loop before any failure
	// is reported.
	log.Warn().
		Str("session_id", session.ID.String()).
		Msg("native retries exhausted, entering fallback broadcast loop")
	result := c.enterFallback(session, msg)
	c.recordAttemptErrors(session.ID, c.cfg.MaxRetries)
	if result.Success && c.health != nil {
		c.health.RecordRestart(session.ID)
	}
	return result
}

// recordAttemptErrors folds failed native attempts into session health
func (c *Controller) recordAttemptErrors(sessionID uuid.UUID, failed int) {
	if c.health == nil {
		return
	}
	for i := 0; i < failed; i++ {
		c.health.RecordError(sessionID)
	}
}

// Stop halts advertising. Idempotent; native stop errors are logged,
// never surfaced, and local state is forced back to idle regardless.
func (c *Controller) Stop(ctx context.Context) {
	c.mu.Lock()
	session := c.session
	if session == nil && c.starting {
		// A start is still committing; flag it so the commit aborts.
		// Local stop is authoritative either way.
		c.stopRequested = true
	}
	if c.fallbackCancel != nil {
		c.fallbackCancel()
		c.fallbackCancel = nil
	}
	if c.autoStopTimer != nil {
		c.autoStopTimer.Stop()
		c.autoStopTimer = nil
	}
	c.session = nil
	c.mu.Unlock()

	if session == nil {
		return
	}

	session.State = models.AdvertisingStopping

	if c.bridge != nil {
		stopCtx, cancel := context.WithTimeout(ctx, c.cfg.AttemptTimeout)
		defer cancel()
		if err := c.bridge.StopAdvertising(stopCtx); err != nil {
			log.Warn().Err(err).Msg("native stop failed, local state is authoritative")
		}
	}

	now := time.Now()
	session.State = models.AdvertisingIdle
	session.StoppedAt = &now

	if c.health != nil {
		c.health.StopMonitoring(session.ID)
	}
	if c.sec != nil {
		c.sec.EndSession(session.DeviceName)
	}
	c.persist(session)
	c.publish(SubjectStopped, session)

	log.Info().Str("session_id", session.ID.String()).Msg("advertising stopped")
}

// IsActive reports whether the given session is the live active one
func (c *Controller) IsActive(sessionID uuid.UUID) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.session != nil && c.session.ID == sessionID &&
		c.session.State == models.AdvertisingActive
}

// ActiveSession returns the id of the live active session, if any
func (c *Controller) ActiveSession() (uuid.UUID, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session != nil && c.session.State == models.AdvertisingActive {
		return c.session.ID, true
	}
	return uuid.Nil, false
}

// Status returns a snapshot of the current session, nil when idle
func (c *Controller) Status() *models.AdvertisingSession {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session == nil {
		return nil
	}
	snapshot := *c.session
	return &snapshot
}

// Capability exposes the resolved platform capability
func (c *Controller) Capability() radio.Capability {
	return c.capability
}

// buildMessage assembles the wire message, applying the security layer
// when configured.
func (c *Controller) buildMessage(session *models.AdvertisingSession) (*wire.Message, error) {
	payload := &session.Payload

	if c.sec != nil && c.sec.Enabled() {
		secured, encrypted := c.sec.CreateSecurePayload(payload)
		payload = secured
		session.Encrypted = encrypted

		token, err := c.sec.GenerateAuthToken(session.DeviceName)
		if err != nil {
			return nil, fmt.Errorf("build wire message: %w", err)
		}
		secSession := c.sec.Session(session.DeviceName)
		session.SecuritySessionID = &secSession.ID

		msg := wire.NewMessage(payload, c.cfg.Capabilities)
		msg.Encrypted = encrypted
		msg.AuthToken = token
		return msg, nil
	}

	return wire.NewMessage(payload, c.cfg.Capabilities), nil
}

// advertiseOnce races one native broadcast attempt against the attempt
// timeout. The native call may be silently synchronous or hang; the
// race guarantees a bounded wait either way.
func (c *Controller) advertiseOnce(ctx context.Context, msg *wire.Message) error {
	data, err := msg.Marshal()
	if err != nil {
		return err
	}

	attemptCtx, cancel := context.WithTimeout(ctx, c.cfg.AttemptTimeout)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- c.bridge.Advertise(attemptCtx, radio.Advertisement{
			LocalName:        msg.Name,
			ServiceUUID:      wire.ServiceUUID,
			ManufacturerData: data,
		})
	}()

	select {
	case err := <-done:
		return err
	case <-attemptCtx.Done():
		return radio.ErrOperationTimeout
	}
}

// enterActive commits the session as natively advertising
func (c *Controller) enterActive(session *models.AdvertisingSession, mode models.AdvertisingMode, msg *wire.Message) StartResult {
	c.mu.Lock()
	if c.stopRequested {
		c.stopRequested = false
		c.mu.Unlock()
		return c.abortStart(session)
	}
	session.State = models.AdvertisingActive
	session.Mode = mode
	c.session = session
	c.armAutoStopLocked(session.ID)
	c.mu.Unlock()

	c.afterActive(session, msg)

	if c.health != nil {
		if data, err := msg.Marshal(); err == nil {
			c.health.RecordBytes(session.ID, len(data))
		}
	}

	id := session.ID
	return StartResult{Success: true, SessionID: &id, Mode: mode}
}

// enterFallback arms the periodic re-broadcast loop and commits the
// session as active in fallback mode. The loop never blocks the caller.
func (c *Controller) enterFallback(session *models.AdvertisingSession, msg *wire.Message) StartResult {
	loopCtx, cancel := context.WithCancel(context.Background())

	c.mu.Lock()
	if c.stopRequested {
		c.stopRequested = false
		c.mu.Unlock()
		cancel()
		return c.abortStart(session)
	}
	session.State = models.AdvertisingActive
	session.Mode = models.ModeFallback
	c.session = session
	c.fallbackCancel = cancel
	c.armAutoStopLocked(session.ID)
	c.mu.Unlock()

	go c.fallbackLoop(loopCtx, session.ID, msg)

	c.afterActive(session, msg)
	c.publish(SubjectFallback, session)

	id := session.ID
	return StartResult{Success: true, SessionID: &id, Mode: models.ModeFallback}
}

// abortStart discards a session whose stop arrived before activation
// committed. The native layer may already be broadcasting; stop it.
func (c *Controller) abortStart(session *models.AdvertisingSession) StartResult {
	if c.bridge != nil {
		stopCtx, cancel := context.WithTimeout(context.Background(), c.cfg.AttemptTimeout)
		if err := c.bridge.StopAdvertising(stopCtx); err != nil {
			log.Warn().Err(err).Msg("native stop failed, local state is authoritative")
		}
		cancel()
	}
	log.Info().Str("session_id", session.ID.String()).Msg("stop preempted a pending start")
	return StartResult{Success: false, Message: "stopped before activation"}
}

// fallbackLoop periodically re-invokes the broadcast primitive when one
// exists, or simulates successful advertising when it does not.
func (c *Controller) fallbackLoop(ctx context.Context, sessionID uuid.UUID, msg *wire.Message) {
	data, err := msg.Marshal()
	if err != nil {
		log.Error().Err(err).Msg("fallback loop: marshal wire message")
		return
	}

	ticker := time.NewTicker(c.cfg.FallbackInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if c.bridge != nil && c.capability != radio.CapabilityUnavailable {
				tickCtx, cancel := context.WithTimeout(ctx, c.cfg.FallbackInterval)
				err := c.bridge.Advertise(tickCtx, radio.Advertisement{
					LocalName:        msg.Name,
					ServiceUUID:      wire.ServiceUUID,
					ManufacturerData: data,
				})
				cancel()
				if err != nil {
					// Expected on bridges without the primitive; the
					// loop itself is the guarantee.
					log.Debug().Err(err).Msg("fallback re-broadcast attempt")
					if c.health != nil {
						c.health.RecordError(sessionID)
					}
				}
			}
			if c.health != nil {
				c.health.RecordBytes(sessionID, len(data))
			}
		}
	}
}

// afterActive starts health monitoring and records the transition
func (c *Controller) afterActive(session *models.AdvertisingSession, msg *wire.Message) {
	if c.health != nil {
		c.health.StartMonitoring(session.ID, session.DeviceName, string(session.Mode))
	}
	c.persist(session)
	c.publish(SubjectStarted, session)

	log.Info().
		Str("session_id", session.ID.String()).
		Str("mode", string(session.Mode)).
		Bool("encrypted", msg.Encrypted).
		Int("retries", session.RetryCount).
		Msg("advertising active")
}

// armAutoStopLocked schedules the session auto-timeout. Caller holds mu.
func (c *Controller) armAutoStopLocked(sessionID uuid.UUID) {
	if c.autoStopTimer != nil {
		c.autoStopTimer.Stop()
	}
	c.autoStopTimer = time.AfterFunc(c.cfg.AutoStopAfter, func() {
		c.mu.Lock()
		expired := c.session != nil && c.session.ID == sessionID
		c.mu.Unlock()
		if !expired {
			return
		}
		log.Info().Str("session_id", sessionID.String()).Msg("advertising auto-timeout reached")
		c.Stop(context.Background())
	})
}

// persist writes the session row, best effort
func (c *Controller) persist(session *models.AdvertisingSession) {
	if c.store == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err := c.store.UpdateAdvertisingSession(ctx, session)
	if errors.Is(err, storage.ErrNotFound) {
		err = c.store.CreateAdvertisingSession(ctx, session)
	}
	if err != nil {
		log.Error().Err(err).Str("session_id", session.ID.String()).Msg("persist advertising session")
	}
}

// publish emits a lifecycle event on the bus, best effort
func (c *Controller) publish(subject string, session *models.AdvertisingSession) {
	if c.nc == nil {
		return
	}
	data, err := json.Marshal(session)
	if err != nil {
		return
	}
	if err := c.nc.Publish(subject, data); err != nil {
		log.Debug().Err(err).Str("subject", subject).Msg("publish advertising event")
	}
}
