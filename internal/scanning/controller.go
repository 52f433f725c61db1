// Package scanning discovers peer advertisers, filters them by the
// shared service identifier and device-name prefix, and parses their
// payloads.
package scanning

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog/log"

	"github.com/airchainpay/proximityd/internal/config"
	"github.com/airchainpay/proximityd/internal/models"
	"github.com/airchainpay/proximityd/internal/radio"
	"github.com/airchainpay/proximityd/internal/security"
	"github.com/airchainpay/proximityd/pkg/wire"
)

// SubjectDeviceFound is published for every new device in a scan session
const SubjectDeviceFound = "proximity.scan.device_found"

// Callback receives each discovery exactly once per scan session
type Callback func(result models.ScanResult)

// Observer receives every discovery across all scan sessions
type Observer func(result models.ScanResult)

// Controller owns the single scan session. Exactly one instance exists,
// reached through the subsystem handle.
type Controller struct {
	cfg    config.ScanningConfig
	bridge radio.Bridge
	sec    *security.Layer
	nc     *nats.Conn

	mu        sync.Mutex
	scanning  bool
	cancel    context.CancelFunc
	seen      map[string]bool
	results   []models.ScanResult
	observers []Observer
}

// NewController creates the scan controller. sec and nc may be nil.
func NewController(cfg config.ScanningConfig, bridge radio.Bridge, sec *security.Layer, nc *nats.Conn) *Controller {
	return &Controller{
		cfg:    cfg,
		bridge: bridge,
		sec:    sec,
		nc:     nc,
	}
}

// AddObserver registers a discovery observer that outlives individual
// scan sessions. Health RSSI sampling hangs off this hook.
func (c *Controller) AddObserver(obs Observer) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.observers = append(c.observers, obs)
}

// Start begins a scan session that auto-stops after timeout (the
// configured default when zero). onFound may be nil; results are also
// collected for later retrieval. Returns an error when a scan is
// already running.
func (c *Controller) Start(onFound Callback, timeout time.Duration) error {
	if timeout <= 0 {
		timeout = c.cfg.DefaultTimeout
	}

	c.mu.Lock()
	if c.scanning {
		c.mu.Unlock()
		return fmt.Errorf("scan already running")
	}
	scanCtx, cancel := context.WithTimeout(context.Background(), timeout)
	c.scanning = true
	c.cancel = cancel
	c.seen = make(map[string]bool)
	c.results = nil
	c.mu.Unlock()

	log.Info().Dur("timeout", timeout).Msg("scan started")

	go func() {
		defer func() {
			cancel()
			c.mu.Lock()
			c.scanning = false
			c.cancel = nil
			c.mu.Unlock()
			log.Info().Msg("scan stopped")
		}()

		err := c.bridge.Scan(scanCtx, func(ev radio.ScanEvent) {
			c.handleEvent(ev, onFound)
		})
		if err != nil && scanCtx.Err() == nil {
			log.Error().Err(err).Msg("scan aborted")
		}
	}()

	return nil
}

// Stop ends the scan session early. Idempotent; safe when not scanning.
func (c *Controller) Stop() {
	c.mu.Lock()
	cancel := c.cancel
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if err := c.bridge.StopScan(); err != nil {
		log.Debug().Err(err).Msg("native stop scan")
	}
}

// IsScanning reports whether a scan session is live
func (c *Controller) IsScanning() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.scanning
}

// Results returns the discoveries of the current or most recent session
func (c *Controller) Results() []models.ScanResult {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]models.ScanResult, len(c.results))
	copy(out, c.results)
	return out
}

// handleEvent filters, deduplicates, and parses one raw discovery
func (c *Controller) handleEvent(ev radio.ScanEvent, onFound Callback) {
	if !c.matchesFilter(ev) {
		return
	}

	c.mu.Lock()
	if c.seen[ev.DeviceID] {
		c.mu.Unlock()
		return
	}
	c.seen[ev.DeviceID] = true
	c.mu.Unlock()

	result := models.ScanResult{
		Device: models.DiscoveredDevice{
			ID:      ev.DeviceID,
			Address: ev.Address,
			Name:    ev.LocalName,
		},
		RSSI:         ev.RSSI,
		DiscoveredAt: time.Now(),
	}

	// Parse policy: strict structured form first, then name-encoded,
	// then the legacy pipe form. Devices that match the filter but
	// carry nothing parseable are surfaced with a nil payload.
	payload, err := wire.ParseAdvertisement(ev.ManufacturerData, ev.LocalName)
	if err == nil {
		result.Payload = c.maybeDecrypt(ev, payload)
	}

	c.mu.Lock()
	c.results = append(c.results, result)
	observers := make([]Observer, len(c.observers))
	copy(observers, c.observers)
	c.mu.Unlock()

	log.Debug().
		Str("device", ev.DeviceID).
		Str("name", ev.LocalName).
		Int16("rssi", ev.RSSI).
		Bool("parsed", result.Payload != nil).
		Msg("peer discovered")

	c.publish(result)
	for _, obs := range observers {
		obs(result)
	}
	if onFound != nil {
		onFound(result)
	}
}

// matchesFilter admits a device on either signal: structured adverts
// carry the service identifier, while legacy and name-encoded peers
// surface only the device name. Both must pass so the parse stage can
// decide; requiring both would drop every legacy peer.
func (c *Controller) matchesFilter(ev radio.ScanEvent) bool {
	if ev.HasService {
		return true
	}
	return strings.HasPrefix(ev.LocalName, wire.DeviceNamePrefix) ||
		strings.Contains(ev.LocalName, "ACP:")
}

// maybeDecrypt recovers an encrypted payload when the shared key is
// configured; otherwise the encrypted form is surfaced as-is.
func (c *Controller) maybeDecrypt(ev radio.ScanEvent, payload *models.PaymentPayload) *models.PaymentPayload {
	if c.sec == nil || !c.sec.Enabled() {
		return payload
	}

	msg, err := wire.Unmarshal(ev.ManufacturerData)
	if err != nil || !msg.Encrypted {
		return payload
	}

	decrypted, err := c.sec.DecryptPayload(payload, c.sec.EncryptionKey())
	if err != nil {
		log.Warn().Err(err).Str("device", ev.DeviceID).Msg("payload decryption failed")
		return payload
	}
	return decrypted
}

// publish emits the discovery on the bus, best effort
func (c *Controller) publish(result models.ScanResult) {
	if c.nc == nil {
		return
	}
	data, err := json.Marshal(result)
	if err != nil {
		return
	}
	if err := c.nc.Publish(SubjectDeviceFound, data); err != nil {
		log.Debug().Err(err).Msg("publish scan event")
	}
}
