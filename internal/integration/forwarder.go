// Package integration republishes proximity bus events to external
// systems. Wallet backends that cannot speak NATS subscribe to the
// mirrored MQTT topics or receive webhook POSTs instead.
package integration

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog/log"

	"github.com/airchainpay/proximityd/internal/config"
)

// Forwarder bridges proximity.* NATS subjects onto an MQTT broker and
// configured HTTP webhook endpoints
type Forwarder struct {
	cfg     config.MQTTConfig
	webhook config.WebhookConfig
	nc      *nats.Conn
	mqtt    mqtt.Client
	client  *http.Client
	sub     *nats.Subscription
}

// NewForwarder creates the forwarder. It does not connect until Start.
func NewForwarder(cfg config.MQTTConfig, webhook config.WebhookConfig, nc *nats.Conn) *Forwarder {
	return &Forwarder{
		cfg:     cfg,
		webhook: webhook,
		nc:      nc,
		client: &http.Client{
			Timeout: webhook.Timeout,
		},
	}
}

// Start connects the sinks and mirrors events until the context ends
func (f *Forwarder) Start(ctx context.Context) error {
	if f.cfg.Enabled {
		if err := f.connectMQTT(); err != nil {
			return err
		}
	}

	sub, err := f.nc.Subscribe("proximity.>", f.handleEvent)
	if err != nil {
		return fmt.Errorf("subscribe to proximity events: %w", err)
	}
	f.sub = sub

	log.Info().
		Str("broker", f.cfg.Broker).
		Str("topic_prefix", f.cfg.TopicPrefix).
		Int("webhooks", len(f.webhook.URLs)).
		Msg("Integration forwarder started")

	<-ctx.Done()

	f.sub.Unsubscribe()
	if f.mqtt != nil && f.mqtt.IsConnected() {
		f.mqtt.Disconnect(250)
	}

	return nil
}

// handleEvent republishes one bus event on every configured sink
func (f *Forwarder) handleEvent(msg *nats.Msg) {
	f.publishMQTT(msg)
	f.postWebhooks(msg)
}

// publishMQTT mirrors the event on the MQTT topic derived from its subject
func (f *Forwarder) publishMQTT(msg *nats.Msg) {
	if f.mqtt == nil || !f.mqtt.IsConnected() {
		return
	}

	// proximity.advertising.started -> <prefix>/advertising/started
	suffix := strings.TrimPrefix(msg.Subject, "proximity.")
	topic := f.cfg.TopicPrefix + "/" + strings.ReplaceAll(suffix, ".", "/")

	token := f.mqtt.Publish(topic, f.cfg.QoS, false, msg.Data)
	if token.WaitTimeout(5 * time.Second) {
		if err := token.Error(); err != nil {
			log.Error().
				Err(err).
				Str("topic", topic).
				Msg("Failed to publish to MQTT")
			return
		}
		log.Debug().
			Str("subject", msg.Subject).
			Str("topic", topic).
			Msg("Event forwarded to MQTT")
	} else {
		log.Error().
			Str("topic", topic).
			Msg("MQTT publish timeout")
	}
}

// postWebhooks delivers the event to every configured endpoint, best effort
func (f *Forwarder) postWebhooks(msg *nats.Msg) {
	for _, url := range f.webhook.URLs {
		req, err := http.NewRequest(http.MethodPost, url, bytes.NewReader(msg.Data))
		if err != nil {
			log.Error().Err(err).Str("url", url).Msg("Failed to build webhook request")
			continue
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("X-Proximity-Subject", msg.Subject)

		resp, err := f.client.Do(req)
		if err != nil {
			log.Error().Err(err).Str("url", url).Msg("Failed to deliver webhook")
			continue
		}
		resp.Body.Close()

		if resp.StatusCode >= 300 {
			log.Warn().
				Int("status", resp.StatusCode).
				Str("url", url).
				Str("subject", msg.Subject).
				Msg("Webhook endpoint rejected event")
			continue
		}
		log.Debug().
			Str("subject", msg.Subject).
			Str("url", url).
			Msg("Event forwarded to webhook")
	}
}

// connectMQTT dials the configured broker
func (f *Forwarder) connectMQTT() error {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(f.cfg.Broker)
	opts.SetClientID(f.cfg.ClientID)

	if f.cfg.Username != "" {
		opts.SetUsername(f.cfg.Username)
		opts.SetPassword(f.cfg.Password)
	}

	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectTimeout(10 * time.Second)
	opts.SetKeepAlive(30 * time.Second)

	opts.SetOnConnectHandler(func(client mqtt.Client) {
		log.Info().
			Str("broker", f.cfg.Broker).
			Msg("MQTT client connected")
	})

	opts.SetConnectionLostHandler(func(client mqtt.Client, err error) {
		log.Error().
			Err(err).
			Str("broker", f.cfg.Broker).
			Msg("MQTT connection lost")
	})

	client := mqtt.NewClient(opts)
	token := client.Connect()

	if token.WaitTimeout(10*time.Second) && token.Error() == nil {
		f.mqtt = client
		return nil
	}

	return fmt.Errorf("connect MQTT broker %s: %w", f.cfg.Broker, token.Error())
}
