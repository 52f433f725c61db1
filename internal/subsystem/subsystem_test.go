package subsystem

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/airchainpay/proximityd/internal/config"
	"github.com/airchainpay/proximityd/internal/models"
	"github.com/airchainpay/proximityd/internal/radio"
	"github.com/airchainpay/proximityd/pkg/wire"
)

func testConfig() *config.Config {
	return &config.Config{
		Radio: config.RadioConfig{
			Adapter:           "simulated0",
			Simulated:         true,
			PowerOnRetries:    1,
			PowerOnRetryDelay: time.Millisecond,
		},
		Advertising: config.AdvertisingConfig{
			DeviceName:       "AirChainPay-Test",
			MaxRetries:       3,
			AttemptTimeout:   200 * time.Millisecond,
			RetryBackoffBase: time.Millisecond,
			FallbackInterval: time.Hour,
			AutoStopAfter:    time.Hour,
			Capabilities:     []string{"payment"},
		},
		Scanning:   config.ScanningConfig{DefaultTimeout: time.Second},
		Connection: config.ConnectionConfig{MaxRetries: 1, BackoffBase: time.Millisecond, ConnectTimeout: time.Second},
		Security:   config.SecurityConfig{TokenTTL: time.Minute},
		Health:     config.HealthConfig{CheckInterval: time.Hour},
	}
}

func testPayload() models.PaymentPayload {
	return models.PaymentPayload{
		WalletAddress: "0x742d35Cc6634C0532925a3b844Bc9e7595f0bEb1",
		Amount:        "25.50",
		Token:         models.TokenUSDC,
		ChainID:       "8453",
		Timestamp:     time.Now(),
	}
}

func peerEvent(deviceID string, rssi int16) radio.ScanEvent {
	payload := &models.PaymentPayload{
		WalletAddress: "0x742d35Cc6634C0532925a3b844Bc9e7595f0bEb1",
		Amount:        "10.00",
		Token:         models.TokenUSDC,
		ChainID:       "8453",
		Timestamp:     time.Unix(1700000000, 0),
		DeviceName:    "AirChainPay-Peer",
	}
	data, _ := wire.NewMessage(payload, nil).Marshal()
	return radio.ScanEvent{
		DeviceID:         deviceID,
		Address:          "AA:BB:CC:DD:EE:02",
		LocalName:        "AirChainPay-Peer",
		RSSI:             rssi,
		ManufacturerData: data,
		HasService:       true,
	}
}

func TestPeerRSSISampledIntoSessionHealth(t *testing.T) {
	bridge := radio.NewSimulatedBridge()
	sub, err := New(testConfig(), Options{Bridge: bridge})
	require.NoError(t, err)
	defer sub.Shutdown(context.Background())

	result := sub.Advertising.Start(context.Background(), testPayload())
	require.True(t, result.Success)
	require.NotNil(t, result.SessionID)

	require.NoError(t, sub.Scanning.Start(nil, time.Second))
	require.Eventually(t, func() bool {
		bridge.Inject(peerEvent("peer-1", -60))
		return len(sub.Scanning.Results()) >= 1
	}, time.Second, 5*time.Millisecond)

	record, ok := sub.Health.Session(*result.SessionID)
	require.True(t, ok)
	assert.Equal(t, int16(-60), record.LastRSSI)
}

func TestPeerRSSIIgnoredWithoutActiveSession(t *testing.T) {
	bridge := radio.NewSimulatedBridge()
	sub, err := New(testConfig(), Options{Bridge: bridge})
	require.NoError(t, err)
	defer sub.Shutdown(context.Background())

	require.NoError(t, sub.Scanning.Start(nil, time.Second))
	require.Eventually(t, func() bool {
		bridge.Inject(peerEvent("peer-1", -40))
		return len(sub.Scanning.Results()) >= 1
	}, time.Second, 5*time.Millisecond)

	assert.Zero(t, sub.Health.OverallStatistics().AverageRSSI)
}
