// Package health samples advertising-session liveness and aggregates
// session metrics. The native layer exposes no "is still broadcasting"
// query, so the periodic check asserts only the local invariant: the
// session is still marked active and the adapter is still powered. It is
// a liveness assumption, not a verified fact.
package health

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/airchainpay/proximityd/internal/config"
	"github.com/airchainpay/proximityd/internal/models"
	"github.com/airchainpay/proximityd/internal/storage"
)

// PowerProbe answers whether the radio adapter is powered
type PowerProbe interface {
	Powered(ctx context.Context) (bool, error)
}

// SessionHealth tracks one monitored session
type SessionHealth struct {
	SessionID  uuid.UUID  `json:"sessionId"`
	DeviceName string     `json:"deviceName"`
	Mode       string     `json:"mode"`
	StartedAt  time.Time  `json:"startedAt"`
	EndedAt    *time.Time `json:"endedAt,omitempty"`

	Restarts         int   `json:"restarts"`
	Errors           int   `json:"errors"`
	BytesTransmitted int64 `json:"bytesTransmitted"`
	LastRSSI         int16 `json:"lastRssi"`
	Checks           int   `json:"checks"`
	Healthy          bool  `json:"healthy"`

	rssiSum   int64
	rssiCount int64
}

// Statistics aggregates across all sessions, active and ended
type Statistics struct {
	TotalSessions      int     `json:"totalSessions"`
	ActiveSessions     int     `json:"activeSessions"`
	SuccessfulSessions int     `json:"successfulSessions"`
	SuccessRate        float64 `json:"successRate"`
	AverageDuration    float64 `json:"averageDurationSeconds"`
	AverageRSSI        float64 `json:"averageRssi"`
	TotalBytes         int64   `json:"totalBytes"`
	TotalErrors        int     `json:"totalErrors"`
	TotalRestarts      int     `json:"totalRestarts"`
}

// Monitor owns all session health records
type Monitor struct {
	cfg   config.HealthConfig
	store storage.Store
	power PowerProbe

	mu       sync.Mutex
	active   map[uuid.UUID]*SessionHealth
	history  []*SessionHealth
	liveness func(uuid.UUID) bool
}

// NewMonitor creates a health monitor. store and power may be nil; the
// monitor then keeps in-memory records only.
func NewMonitor(cfg config.HealthConfig, store storage.Store, power PowerProbe) *Monitor {
	return &Monitor{
		cfg:    cfg,
		store:  store,
		power:  power,
		active: make(map[uuid.UUID]*SessionHealth),
	}
}

// SetLivenessProbe wires the advertising controller's is-active check in
func (m *Monitor) SetLivenessProbe(fn func(uuid.UUID) bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.liveness = fn
}

// StartMonitoring begins tracking a session
func (m *Monitor) StartMonitoring(sessionID uuid.UUID, deviceName, mode string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.active[sessionID]; ok {
		return
	}
	m.active[sessionID] = &SessionHealth{
		SessionID:  sessionID,
		DeviceName: deviceName,
		Mode:       mode,
		StartedAt:  time.Now(),
		Healthy:    true,
	}
}

// StopMonitoring ends tracking and moves the record to history
func (m *Monitor) StopMonitoring(sessionID uuid.UUID) {
	m.mu.Lock()
	defer m.mu.Unlock()

	record, ok := m.active[sessionID]
	if !ok {
		return
	}
	now := time.Now()
	record.EndedAt = &now
	delete(m.active, sessionID)
	m.history = append(m.history, record)
}

// RecordRestart bumps the restart counter for a session
func (m *Monitor) RecordRestart(sessionID uuid.UUID) {
	m.withRecord(sessionID, func(r *SessionHealth) { r.Restarts++ })
}

// RecordError bumps the error counter for a session
func (m *Monitor) RecordError(sessionID uuid.UUID) {
	m.withRecord(sessionID, func(r *SessionHealth) { r.Errors++ })
}

// RecordRSSI folds a signal strength sample in
func (m *Monitor) RecordRSSI(sessionID uuid.UUID, rssi int16) {
	m.withRecord(sessionID, func(r *SessionHealth) {
		r.LastRSSI = rssi
		r.rssiSum += int64(rssi)
		r.rssiCount++
	})
}

// RecordBytes accumulates transmitted byte counts
func (m *Monitor) RecordBytes(sessionID uuid.UUID, n int) {
	m.withRecord(sessionID, func(r *SessionHealth) { r.BytesTransmitted += int64(n) })
}

// Run drives the periodic liveness check until the context ends
func (m *Monitor) Run(ctx context.Context) {
	ticker := time.NewTicker(m.cfg.CheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.checkAll(ctx)
		}
	}
}

// checkAll runs one liveness pass over every active session
func (m *Monitor) checkAll(ctx context.Context) {
	powered := true
	if m.power != nil {
		if on, err := m.power.Powered(ctx); err == nil {
			powered = on
		}
	}

	m.mu.Lock()
	records := make([]*SessionHealth, 0, len(m.active))
	for _, r := range m.active {
		records = append(records, r)
	}
	liveness := m.liveness
	m.mu.Unlock()

	for _, record := range records {
		alive := true
		if liveness != nil {
			alive = liveness(record.SessionID)
		}
		healthy := alive && powered

		m.mu.Lock()
		record.Checks++
		record.Healthy = healthy
		sample := &models.HealthSample{
			SessionID:        record.SessionID,
			DeviceName:       record.DeviceName,
			Mode:             record.Mode,
			Healthy:          healthy,
			RSSI:             record.LastRSSI,
			BytesTransmitted: record.BytesTransmitted,
			Restarts:         record.Restarts,
			Errors:           record.Errors,
			DurationSeconds:  time.Since(record.StartedAt).Seconds(),
		}
		m.mu.Unlock()

		if !healthy {
			log.Warn().
				Str("session_id", record.SessionID.String()).
				Bool("powered", powered).
				Bool("marked_active", alive).
				Msg("advertising session liveness assumption violated")
		}

		if m.store != nil {
			if err := m.store.SaveHealthSample(ctx, sample); err != nil {
				log.Error().Err(err).Msg("persist health sample")
			}
		}
	}
}

// Session returns a snapshot for one session (active or ended)
func (m *Monitor) Session(sessionID uuid.UUID) (SessionHealth, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if r, ok := m.active[sessionID]; ok {
		return *r, true
	}
	for _, r := range m.history {
		if r.SessionID == sessionID {
			return *r, true
		}
	}
	return SessionHealth{}, false
}

// OverallStatistics aggregates across all sessions. A session counts as
// successful when it ended with zero errors.
func (m *Monitor) OverallStatistics() Statistics {
	m.mu.Lock()
	defer m.mu.Unlock()

	stats := Statistics{ActiveSessions: len(m.active)}

	var (
		durationSum float64
		rssiSum     int64
		rssiCount   int64
	)

	fold := func(r *SessionHealth, ended bool) {
		stats.TotalSessions++
		stats.TotalBytes += r.BytesTransmitted
		stats.TotalErrors += r.Errors
		stats.TotalRestarts += r.Restarts
		rssiSum += r.rssiSum
		rssiCount += r.rssiCount

		if ended {
			durationSum += r.EndedAt.Sub(r.StartedAt).Seconds()
			if r.Errors == 0 {
				stats.SuccessfulSessions++
			}
		} else {
			durationSum += time.Since(r.StartedAt).Seconds()
		}
	}

	for _, r := range m.active {
		fold(r, false)
	}
	for _, r := range m.history {
		fold(r, true)
	}

	if stats.TotalSessions > 0 {
		stats.SuccessRate = float64(stats.SuccessfulSessions) / float64(stats.TotalSessions)
		stats.AverageDuration = durationSum / float64(stats.TotalSessions)
	}
	if rssiCount > 0 {
		stats.AverageRSSI = float64(rssiSum) / float64(rssiCount)
	}
	return stats
}

func (m *Monitor) withRecord(sessionID uuid.UUID, fn func(*SessionHealth)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if r, ok := m.active[sessionID]; ok {
		fn(r)
	}
}
