// Package server hosts the background bus consumers that turn live
// proximity events into durable records.
package server

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog/log"

	"github.com/airchainpay/proximityd/internal/models"
	"github.com/airchainpay/proximityd/internal/storage"
)

// EventRecorder persists proximity bus events as event log rows
type EventRecorder struct {
	nc    *nats.Conn
	store storage.Store
	subs  []*nats.Subscription
}

// NewEventRecorder creates the recorder
func NewEventRecorder(nc *nats.Conn, store storage.Store) *EventRecorder {
	return &EventRecorder{
		nc:    nc,
		store: store,
		subs:  make([]*nats.Subscription, 0),
	}
}

// subjectEvents maps bus subjects onto event log types and levels
var subjectEvents = map[string]struct {
	Type  models.EventType
	Level models.EventLevel
}{
	"proximity.advertising.started":      {models.EventTypeAdvertisingStarted, models.EventLevelInfo},
	"proximity.advertising.stopped":      {models.EventTypeAdvertisingStopped, models.EventLevelInfo},
	"proximity.advertising.fallback":     {models.EventTypeAdvertisingFallback, models.EventLevelWarning},
	"proximity.scan.device_found":        {models.EventTypeDeviceFound, models.EventLevelInfo},
	"proximity.connection.connected":     {models.EventTypeConnected, models.EventLevelInfo},
	"proximity.connection.disconnected":  {models.EventTypeDisconnected, models.EventLevelInfo},
	"proximity.connection.data_sent":     {models.EventTypeDataSent, models.EventLevelInfo},
	"proximity.connection.data_received": {models.EventTypeDataReceived, models.EventLevelInfo},
}

// Start starts subscriptions and blocks until the context ends
func (r *EventRecorder) Start(ctx context.Context) error {
	for subject := range subjectEvents {
		sub, err := r.nc.Subscribe(subject, r.handleEvent)
		if err != nil {
			return fmt.Errorf("subscribe %s: %w", subject, err)
		}
		r.subs = append(r.subs, sub)
	}

	log.Info().
		Int("subscriptions", len(r.subs)).
		Msg("Event recorder started")

	<-ctx.Done()

	for _, sub := range r.subs {
		sub.Unsubscribe()
	}

	return ctx.Err()
}

// handleEvent turns one bus message into an event log row
func (r *EventRecorder) handleEvent(msg *nats.Msg) {
	mapping, ok := subjectEvents[msg.Subject]
	if !ok {
		return
	}

	var body map[string]interface{}
	if err := json.Unmarshal(msg.Data, &body); err != nil {
		log.Error().Err(err).Str("subject", msg.Subject).Msg("Failed to unmarshal bus event")
		return
	}

	event := &models.EventLog{
		Type:        mapping.Type,
		Level:       mapping.Level,
		Description: string(mapping.Type),
		Details:     models.Variables(body),
	}

	if sid := stringField(body, "id"); sid != "" {
		if id, err := uuid.Parse(sid); err == nil {
			event.SessionID = &id
		}
	}
	if sid := stringField(body, "sessionId"); sid != "" && event.SessionID == nil {
		if id, err := uuid.Parse(sid); err == nil {
			event.SessionID = &id
		}
	}
	event.DeviceID = stringField(body, "deviceId")
	if event.DeviceID == "" {
		if device, ok := body["device"].(map[string]interface{}); ok {
			event.DeviceID = stringField(device, "id")
		}
	}

	if err := r.store.CreateEventLog(context.Background(), event); err != nil {
		log.Error().Err(err).Str("subject", msg.Subject).Msg("Failed to create event log")
		return
	}

	log.Debug().
		Str("subject", msg.Subject).
		Str("type", string(mapping.Type)).
		Msg("Bus event recorded")
}

func stringField(m map[string]interface{}, key string) string {
	s, _ := m[key].(string)
	return s
}
