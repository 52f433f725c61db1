package connection

import (
	"context"
	"encoding/base64"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/airchainpay/proximityd/internal/config"
	"github.com/airchainpay/proximityd/internal/models"
	"github.com/airchainpay/proximityd/internal/radio"
)

func testManager(bridge *radio.SimulatedBridge) *Manager {
	return NewManager(config.ConnectionConfig{
		MaxRetries:     3,
		BackoffBase:    10 * time.Millisecond,
		ConnectTimeout: time.Second,
	}, bridge, nil)
}

func testDevice(id string) models.DiscoveredDevice {
	return models.DiscoveredDevice{
		ID:      id,
		Address: "AA:BB:CC:DD:EE:01",
		Name:    "AirChainPay-Alice",
	}
}

func TestConnectSuccess(t *testing.T) {
	bridge := radio.NewSimulatedBridge()
	bridge.AddPeer(radio.NewSimulatedPeer("dev-1", "0000abcd-0000-1000-8000-00805f9b34fb"))
	m := testManager(bridge)

	state, err := m.Connect(context.Background(), testDevice("dev-1"))
	require.NoError(t, err)
	assert.Equal(t, models.ConnectionConnected, state.Status)
	assert.Contains(t, state.Services, "0000abcd-0000-1000-8000-00805f9b34fb")
	require.NotNil(t, state.ConnectedAt)

	got, ok := m.State("dev-1")
	require.True(t, ok)
	assert.Equal(t, models.ConnectionConnected, got.Status)
}

func TestConnectRetriesWithBackoffThenFails(t *testing.T) {
	bridge := radio.NewSimulatedBridge()
	bridge.AddPeer(radio.NewFailingPeer("dev-bad", errors.New("gatt refused")))
	m := testManager(bridge)

	start := time.Now()
	_, err := m.Connect(context.Background(), testDevice("dev-bad"))
	elapsed := time.Since(start)

	require.Error(t, err)
	assert.ErrorIs(t, err, ErrConnectionFailed)
	// Backoff before attempts 2 and 3: 10ms + 20ms
	assert.GreaterOrEqual(t, elapsed, 30*time.Millisecond)

	// Exhaustion leaves no live entry behind
	_, ok := m.State("dev-bad")
	assert.False(t, ok)
}

func TestConnectUnknownDeviceFails(t *testing.T) {
	bridge := radio.NewSimulatedBridge()
	m := testManager(bridge)

	_, err := m.Connect(context.Background(), testDevice("ghost"))
	assert.ErrorIs(t, err, ErrConnectionFailed)
}

func TestSendDataWrapsBase64(t *testing.T) {
	bridge := radio.NewSimulatedBridge()
	peer := radio.NewSimulatedPeer("dev-1")
	bridge.AddPeer(peer)
	m := testManager(bridge)

	_, err := m.Connect(context.Background(), testDevice("dev-1"))
	require.NoError(t, err)

	require.NoError(t, m.SendData("dev-1", []byte("payment payload")))

	written := peer.Written()
	require.Len(t, written, 1)
	decoded, err := base64.StdEncoding.DecodeString(string(written[0]))
	require.NoError(t, err)
	assert.Equal(t, []byte("payment payload"), decoded)
}

func TestSendDataNotConnected(t *testing.T) {
	bridge := radio.NewSimulatedBridge()
	m := testManager(bridge)

	err := m.SendData("ghost", []byte("x"))
	assert.ErrorIs(t, err, ErrNotConnected)
}

func TestListenForDataDecodes(t *testing.T) {
	bridge := radio.NewSimulatedBridge()
	peer := radio.NewSimulatedPeer("dev-1")
	bridge.AddPeer(peer)
	m := testManager(bridge)

	_, err := m.Connect(context.Background(), testDevice("dev-1"))
	require.NoError(t, err)

	received := make(chan []byte, 2)
	dispose, err := m.ListenForData("dev-1", func(data []byte) {
		received <- data
	})
	require.NoError(t, err)
	defer dispose()

	peer.Notify([]byte(base64.StdEncoding.EncodeToString([]byte("wrapped"))))
	assert.Equal(t, []byte("wrapped"), <-received)

	// Peers that do not wrap pass through untouched
	peer.Notify([]byte("raw bytes !!!"))
	assert.Equal(t, []byte("raw bytes !!!"), <-received)
}

func TestInboundDataAccountedWithoutCallerListener(t *testing.T) {
	bridge := radio.NewSimulatedBridge()
	peer := radio.NewSimulatedPeer("dev-1")
	bridge.AddPeer(peer)
	m := testManager(bridge)

	_, err := m.Connect(context.Background(), testDevice("dev-1"))
	require.NoError(t, err)

	// The manager listens from the moment the link is up
	peer.Notify([]byte(base64.StdEncoding.EncodeToString([]byte("ping"))))
	peer.Notify([]byte("raw"))

	state, ok := m.State("dev-1")
	require.True(t, ok)
	assert.Equal(t, int64(7), state.BytesReceived)
}

func TestDisconnectIsIdempotent(t *testing.T) {
	bridge := radio.NewSimulatedBridge()
	bridge.AddPeer(radio.NewSimulatedPeer("dev-1"))
	m := testManager(bridge)

	_, err := m.Connect(context.Background(), testDevice("dev-1"))
	require.NoError(t, err)

	m.Disconnect("dev-1")
	_, ok := m.State("dev-1")
	assert.False(t, ok)

	m.Disconnect("dev-1")
	m.Disconnect("never-connected")
}

func TestListenersObserveTransitions(t *testing.T) {
	bridge := radio.NewSimulatedBridge()
	bridge.AddPeer(radio.NewSimulatedPeer("dev-1"))
	m := testManager(bridge)

	var statuses []models.ConnectionStatus
	m.AddListener(func(state models.ConnectionState) {
		statuses = append(statuses, state.Status)
	})

	_, err := m.Connect(context.Background(), testDevice("dev-1"))
	require.NoError(t, err)
	m.Disconnect("dev-1")

	assert.Equal(t, []models.ConnectionStatus{
		models.ConnectionConnecting,
		models.ConnectionConnected,
		models.ConnectionDisconnected,
	}, statuses)
}

func TestCloseAll(t *testing.T) {
	bridge := radio.NewSimulatedBridge()
	bridge.AddPeer(radio.NewSimulatedPeer("dev-1"))
	bridge.AddPeer(radio.NewSimulatedPeer("dev-2"))
	m := testManager(bridge)

	_, err := m.Connect(context.Background(), testDevice("dev-1"))
	require.NoError(t, err)
	_, err = m.Connect(context.Background(), testDevice("dev-2"))
	require.NoError(t, err)
	require.Len(t, m.States(), 2)

	m.CloseAll()
	assert.Empty(t, m.States())
}

func TestBackoffDoublesFromBase(t *testing.T) {
	m := testManager(radio.NewSimulatedBridge())

	assert.Equal(t, 10*time.Millisecond, m.backoff(1))
	assert.Equal(t, 20*time.Millisecond, m.backoff(2))
	assert.Equal(t, 40*time.Millisecond, m.backoff(3))
}
