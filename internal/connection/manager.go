// Package connection maintains point-to-point links for payload
// exchange after discovery. Unlike advertising there is no safe
// fallback here: a silently failing send would corrupt an exchange, so
// connect/send/listen raise typed errors directly.
package connection

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog/log"

	"github.com/airchainpay/proximityd/internal/config"
	"github.com/airchainpay/proximityd/internal/models"
	"github.com/airchainpay/proximityd/internal/radio"
)

// NATS subjects for connection events
const (
	SubjectConnected    = "proximity.connection.connected"
	SubjectDisconnected = "proximity.connection.disconnected"
	SubjectDataSent     = "proximity.connection.data_sent"
	SubjectDataReceived = "proximity.connection.data_received"
)

// Typed connection errors
var (
	// ErrConnectionFailed is raised after retry exhaustion
	// (CONNECTION_ERROR on the operation surface).
	ErrConnectionFailed = errors.New("connection failed after retries")
	// ErrNotConnected is raised for operations on an absent link.
	ErrNotConnected = errors.New("device not connected")
)

// Listener observes connection state transitions
type Listener func(state models.ConnectionState)

// link pairs the public state with the live peer handle
type link struct {
	state   models.ConnectionState
	peer    radio.Peer
	dispose func()
}

// Manager exclusively owns the connection state map. Exactly one
// instance exists, reached through the subsystem handle.
type Manager struct {
	cfg    config.ConnectionConfig
	bridge radio.Bridge
	nc     *nats.Conn

	mu        sync.Mutex
	conns     map[string]*link
	listeners []Listener
}

// NewManager creates the connection manager. nc may be nil.
func NewManager(cfg config.ConnectionConfig, bridge radio.Bridge, nc *nats.Conn) *Manager {
	return &Manager{
		cfg:    cfg,
		bridge: bridge,
		nc:     nc,
		conns:  make(map[string]*link),
	}
}

// AddListener registers a state-transition observer
func (m *Manager) AddListener(l Listener) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listeners = append(m.listeners, l)
}

// Connect dials the device with bounded retries and exponential backoff
// plus random jitter. On success the discovered services are recorded
// and listeners notified; on exhaustion the device is left in Error
// state and ErrConnectionFailed is returned.
func (m *Manager) Connect(ctx context.Context, device models.DiscoveredDevice) (*models.ConnectionState, error) {
	m.setState(device, models.ConnectionConnecting, nil, "")

	var lastErr error
	for attempt := 1; attempt <= m.cfg.MaxRetries; attempt++ {
		if attempt > 1 {
			delay := m.backoff(attempt - 1)
			log.Debug().
				Str("device", device.ID).
				Int("attempt", attempt).
				Dur("delay", delay).
				Msg("connect retry")
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				m.setState(device, models.ConnectionError, nil, ctx.Err().Error())
				return nil, fmt.Errorf("connect %s: %w", device.ID, ctx.Err())
			}
		}

		attemptCtx, cancel := context.WithTimeout(ctx, m.cfg.ConnectTimeout)
		peer, err := m.bridge.Connect(attemptCtx, device.ID)
		cancel()
		if err == nil {
			state := m.recordConnected(device, peer)
			m.publish(SubjectConnected, state)
			log.Info().Str("device", device.ID).Int("attempt", attempt).Msg("device connected")
			return &state, nil
		}
		lastErr = err
		log.Warn().Err(err).Str("device", device.ID).Int("attempt", attempt).Msg("connect attempt failed")
	}

	state := m.setState(device, models.ConnectionError, nil, lastErr.Error())
	m.publish(SubjectDisconnected, state)
	return nil, fmt.Errorf("connect %s: %w: %w", device.ID, ErrConnectionFailed, lastErr)
}

// Disconnect tears a link down. Best effort and tolerant of an
// already-absent connection.
func (m *Manager) Disconnect(deviceID string) {
	m.mu.Lock()
	l, ok := m.conns[deviceID]
	delete(m.conns, deviceID)
	m.mu.Unlock()

	if !ok {
		return
	}
	if l.dispose != nil {
		l.dispose()
	}
	if l.peer != nil {
		if err := l.peer.Disconnect(); err != nil {
			log.Debug().Err(err).Str("device", deviceID).Msg("peer disconnect")
		}
	}

	l.state.Status = models.ConnectionDisconnected
	m.notify(l.state)
	m.publish(SubjectDisconnected, l.state)
	log.Info().Str("device", deviceID).Msg("device disconnected")
}

// SendData writes one payload to the device's data characteristic,
// base64-wrapped so binary survives the UTF-8 transport.
func (m *Manager) SendData(deviceID string, data []byte) error {
	peer, err := m.peerFor(deviceID)
	if err != nil {
		return err
	}

	wrapped := []byte(base64.StdEncoding.EncodeToString(data))
	if err := peer.Write(wrapped); err != nil {
		return fmt.Errorf("send to %s: %w", deviceID, err)
	}

	if m.nc != nil {
		event, _ := json.Marshal(map[string]interface{}{
			"deviceId": deviceID,
			"bytes":    len(data),
		})
		if err := m.nc.Publish(SubjectDataSent, event); err != nil {
			log.Debug().Err(err).Msg("publish data event")
		}
	}
	return nil
}

// ListenForData subscribes a caller's handler to the device's data
// characteristic. The returned disposer must be called to stop
// listening. Byte accounting and the data_received bus event come from
// the manager's own listener, armed on connect.
func (m *Manager) ListenForData(deviceID string, handler func(data []byte)) (func(), error) {
	peer, err := m.peerFor(deviceID)
	if err != nil {
		return nil, err
	}

	dispose, err := peer.Subscribe(func(raw []byte) {
		handler(decodeWrapped(raw))
	})
	if err != nil {
		return nil, fmt.Errorf("listen on %s: %w", deviceID, err)
	}
	return dispose, nil
}

// armInbound subscribes the manager's own handler so received data is
// accounted and surfaced on the bus even when no caller listens.
func (m *Manager) armInbound(deviceID string, peer radio.Peer) {
	dispose, err := peer.Subscribe(func(raw []byte) {
		decoded := decodeWrapped(raw)

		m.mu.Lock()
		if l, ok := m.conns[deviceID]; ok {
			l.state.BytesReceived += int64(len(decoded))
		}
		m.mu.Unlock()

		if m.nc != nil {
			event, _ := json.Marshal(map[string]interface{}{
				"deviceId": deviceID,
				"bytes":    len(decoded),
			})
			if err := m.nc.Publish(SubjectDataReceived, event); err != nil {
				log.Debug().Err(err).Msg("publish data event")
			}
		}
	})
	if err != nil {
		log.Debug().Err(err).Str("device", deviceID).Msg("arm inbound listener")
		return
	}

	m.mu.Lock()
	l, ok := m.conns[deviceID]
	if ok {
		l.dispose = dispose
	}
	m.mu.Unlock()
	if !ok {
		dispose()
	}
}

// decodeWrapped unwraps base64 payloads. Peers that do not wrap are
// passed through untouched.
func decodeWrapped(raw []byte) []byte {
	decoded, err := base64.StdEncoding.DecodeString(string(raw))
	if err != nil {
		return raw
	}
	return decoded
}

// States snapshots the connection map
func (m *Manager) States() []models.ConnectionState {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]models.ConnectionState, 0, len(m.conns))
	for _, l := range m.conns {
		out = append(out, l.state)
	}
	return out
}

// State returns the state for one device
func (m *Manager) State(deviceID string) (models.ConnectionState, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.conns[deviceID]
	if !ok {
		return models.ConnectionState{}, false
	}
	return l.state, true
}

// CloseAll disconnects every live link, used during shutdown
func (m *Manager) CloseAll() {
	m.mu.Lock()
	ids := make([]string, 0, len(m.conns))
	for id := range m.conns {
		ids = append(ids, id)
	}
	m.mu.Unlock()

	for _, id := range ids {
		m.Disconnect(id)
	}
}

// backoff computes the delay before retry n (1-based): exponential
// doubling from the base plus random jitter.
func (m *Manager) backoff(n int) time.Duration {
	delay := m.cfg.BackoffBase * time.Duration(1<<(n-1))
	if m.cfg.BackoffJitter > 0 {
		jitter := time.Duration(rand.Int63n(int64(2*m.cfg.BackoffJitter))) - m.cfg.BackoffJitter
		delay += jitter
	}
	if delay < 0 {
		delay = 0
	}
	return delay
}

// peerFor resolves a connected peer handle
func (m *Manager) peerFor(deviceID string) (radio.Peer, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	l, ok := m.conns[deviceID]
	if !ok || l.state.Status != models.ConnectionConnected {
		return nil, fmt.Errorf("%w: %s", ErrNotConnected, deviceID)
	}
	return l.peer, nil
}

// recordConnected commits a successful link
func (m *Manager) recordConnected(device models.DiscoveredDevice, peer radio.Peer) models.ConnectionState {
	now := time.Now()
	state := models.ConnectionState{
		DeviceID:    device.ID,
		Device:      device,
		Status:      models.ConnectionConnected,
		Services:    peer.Services(),
		ConnectedAt: &now,
	}

	m.mu.Lock()
	m.conns[device.ID] = &link{state: state, peer: peer}
	m.mu.Unlock()

	m.armInbound(device.ID, peer)
	m.notify(state)
	return state
}

// setState records a transitional or terminal state
func (m *Manager) setState(device models.DiscoveredDevice, status models.ConnectionStatus, peer radio.Peer, lastErr string) models.ConnectionState {
	state := models.ConnectionState{
		DeviceID:  device.ID,
		Device:    device,
		Status:    status,
		LastError: lastErr,
	}

	m.mu.Lock()
	if status == models.ConnectionError || status == models.ConnectionDisconnected {
		delete(m.conns, device.ID)
	} else {
		m.conns[device.ID] = &link{state: state, peer: peer}
	}
	m.mu.Unlock()

	m.notify(state)
	return state
}

// notify fans a transition out to listeners
func (m *Manager) notify(state models.ConnectionState) {
	m.mu.Lock()
	listeners := make([]Listener, len(m.listeners))
	copy(listeners, m.listeners)
	m.mu.Unlock()

	for _, l := range listeners {
		l(state)
	}
}

// publish emits a connection event on the bus, best effort
func (m *Manager) publish(subject string, state models.ConnectionState) {
	if m.nc == nil {
		return
	}
	data, err := json.Marshal(state)
	if err != nil {
		return
	}
	if err := m.nc.Publish(subject, data); err != nil {
		log.Debug().Err(err).Str("subject", subject).Msg("publish connection event")
	}
}
