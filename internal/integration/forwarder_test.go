package integration

import (
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/airchainpay/proximityd/internal/config"
)

type webhookCapture struct {
	mu       sync.Mutex
	bodies   []string
	subjects []string
}

func (c *webhookCapture) handler(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)
	c.mu.Lock()
	c.bodies = append(c.bodies, string(body))
	c.subjects = append(c.subjects, r.Header.Get("X-Proximity-Subject"))
	c.mu.Unlock()
	w.WriteHeader(http.StatusNoContent)
}

func TestWebhookDelivery(t *testing.T) {
	capture := &webhookCapture{}
	srv := httptest.NewServer(http.HandlerFunc(capture.handler))
	defer srv.Close()

	f := NewForwarder(config.MQTTConfig{}, config.WebhookConfig{
		URLs:    []string{srv.URL},
		Timeout: time.Second,
	}, nil)

	f.postWebhooks(&nats.Msg{
		Subject: "proximity.advertising.started",
		Data:    []byte(`{"id":"abc"}`),
	})

	capture.mu.Lock()
	defer capture.mu.Unlock()
	require.Len(t, capture.bodies, 1)
	assert.Equal(t, `{"id":"abc"}`, capture.bodies[0])
	assert.Equal(t, "proximity.advertising.started", capture.subjects[0])
}

func TestWebhookDeliveryFansOut(t *testing.T) {
	first := &webhookCapture{}
	second := &webhookCapture{}
	srvA := httptest.NewServer(http.HandlerFunc(first.handler))
	defer srvA.Close()
	srvB := httptest.NewServer(http.HandlerFunc(second.handler))
	defer srvB.Close()

	f := NewForwarder(config.MQTTConfig{}, config.WebhookConfig{
		URLs:    []string{srvA.URL, srvB.URL},
		Timeout: time.Second,
	}, nil)

	f.postWebhooks(&nats.Msg{Subject: "proximity.scan.device_found", Data: []byte(`{}`)})

	first.mu.Lock()
	assert.Len(t, first.bodies, 1)
	first.mu.Unlock()
	second.mu.Lock()
	assert.Len(t, second.bodies, 1)
	second.mu.Unlock()
}

func TestWebhookUnreachableEndpointDoesNotBlockOthers(t *testing.T) {
	capture := &webhookCapture{}
	srv := httptest.NewServer(http.HandlerFunc(capture.handler))
	defer srv.Close()

	f := NewForwarder(config.MQTTConfig{}, config.WebhookConfig{
		URLs:    []string{"http://127.0.0.1:1/unreachable", srv.URL},
		Timeout: time.Second,
	}, nil)

	f.postWebhooks(&nats.Msg{Subject: "proximity.connection.connected", Data: []byte(`{}`)})

	capture.mu.Lock()
	defer capture.mu.Unlock()
	assert.Len(t, capture.bodies, 1)
}
