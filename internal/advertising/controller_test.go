package advertising

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/airchainpay/proximityd/internal/config"
	"github.com/airchainpay/proximityd/internal/health"
	"github.com/airchainpay/proximityd/internal/models"
	"github.com/airchainpay/proximityd/internal/permissions"
	"github.com/airchainpay/proximityd/internal/radio"
)

// denyProvider answers a fixed status for one permission, granted for
// the rest
type denyProvider struct {
	kind   models.PermissionKind
	status models.PermissionStatus
}

func (p denyProvider) Query(ctx context.Context, kind models.PermissionKind) (models.PermissionStatus, error) {
	if kind == p.kind {
		return p.status, nil
	}
	return models.PermissionGranted, nil
}

func (p denyProvider) Request(ctx context.Context, kinds []models.PermissionKind) (map[models.PermissionKind]permissions.RequestOutcome, error) {
	out := make(map[models.PermissionKind]permissions.RequestOutcome, len(kinds))
	for _, kind := range kinds {
		status, _ := p.Query(ctx, kind)
		out[kind] = permissions.RequestOutcome{Status: status}
	}
	return out, nil
}

func testConfig() config.AdvertisingConfig {
	return config.AdvertisingConfig{
		DeviceName:       "AirChainPay-Test",
		MaxRetries:       3,
		AttemptTimeout:   200 * time.Millisecond,
		RetryBackoffBase: time.Millisecond,
		FallbackInterval: time.Hour,
		AutoStopAfter:    time.Hour,
		Capabilities:     []string{"payment"},
	}
}

func testController(bridge radio.Bridge, provider permissions.HostProvider) *Controller {
	radioCfg := config.RadioConfig{
		Adapter:           "simulated0",
		PowerOnRetries:    1,
		PowerOnRetryDelay: time.Millisecond,
	}
	capability := radio.ResolveCapability(context.Background(), bridge)
	perms := permissions.NewCoordinator(provider)
	power := radio.NewStateMonitor("simulated0", bridge)
	healthMon := health.NewMonitor(config.HealthConfig{CheckInterval: time.Hour}, nil, bridge)

	return NewController(testConfig(), radioCfg, bridge, capability, perms, power, nil, healthMon, nil, nil)
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

func TestStartFallbackWhenNativeUnsupported(t *testing.T) {
	bridge := radio.NewSimulatedBridge()
	c := testController(bridge, permissions.GrantAllProvider{})
	defer c.Stop(context.Background())

	result := c.Start(context.Background(), testPayload())

	require.True(t, result.Success)
	require.NotNil(t, result.SessionID)
	assert.Equal(t, models.ModeFallback, result.Mode)

	session := c.Status()
	require.NotNil(t, session)
	assert.Equal(t, models.AdvertisingActive, session.State)
	assert.True(t, c.IsActive(*result.SessionID))
}

func TestStartIsIdempotent(t *testing.T) {
	bridge := radio.NewSimulatedBridge()
	c := testController(bridge, permissions.GrantAllProvider{})
	defer c.Stop(context.Background())

	first := c.Start(context.Background(), testPayload())
	require.True(t, first.Success)

	second := c.Start(context.Background(), testPayload())
	require.True(t, second.Success)
	require.NotNil(t, second.SessionID)
	assert.Equal(t, *first.SessionID, *second.SessionID)
}

func TestNativeSuccess(t *testing.T) {
	bridge := radio.NewSimulatedBridge()
	bridge.AdvertiseSupported = true
	c := testController(bridge, permissions.GrantAllProvider{})
	defer c.Stop(context.Background())

	result := c.Start(context.Background(), testPayload())

	require.True(t, result.Success)
	assert.Equal(t, models.ModeNative, result.Mode)
	assert.Equal(t, 1, bridge.AdvertiseCalls)

	adv, active := bridge.Current()
	require.True(t, active)
	assert.Equal(t, "AirChainPay-Test", adv.LocalName)
	assert.NotEmpty(t, adv.ManufacturerData)
}

func TestNativeRetryBoundThenFallback(t *testing.T) {
	bridge := radio.NewSimulatedBridge()
	bridge.AdvertiseSupported = true
	c := testController(bridge, permissions.GrantAllProvider{})
	defer c.Stop(context.Background())

	bridge.FailAdvertising(errors.New("stack busy"))

	result := c.Start(context.Background(), testPayload())

	// Retry exhaustion degrades to the fallback loop, never to failure
	require.True(t, result.Success)
	assert.Equal(t, models.ModeFallback, result.Mode)
	assert.Equal(t, 3, bridge.AdvertiseCalls)

	session := c.Status()
	require.NotNil(t, session)
	assert.Equal(t, 3, session.RetryCount)
}

func TestPermissionDeniedForeverNeedsRedirect(t *testing.T) {
	bridge := radio.NewSimulatedBridge()
	bridge.AdvertiseSupported = true
	c := testController(bridge, denyProvider{
		kind:   models.PermissionScan,
		status: models.PermissionDeniedForever,
	})

	result := c.Start(context.Background(), testPayload())

	assert.False(t, result.Success)
	assert.Equal(t, CodePermissionDenied, result.Code)
	assert.True(t, result.NeedsSettingsRedirect)
	assert.Zero(t, bridge.AdvertiseCalls)
	assert.Nil(t, c.Status())
}

func TestRadioPoweredOff(t *testing.T) {
	bridge := radio.NewSimulatedBridge()
	bridge.AdvertiseSupported = true
	c := testController(bridge, permissions.GrantAllProvider{})

	bridge.SetPowered(false)
	result := c.Start(context.Background(), testPayload())

	assert.False(t, result.Success)
	assert.Equal(t, CodeRadioUnavailable, result.Code)
	assert.Zero(t, bridge.AdvertiseCalls)
}

func TestStopIsIdempotent(t *testing.T) {
	bridge := radio.NewSimulatedBridge()
	c := testController(bridge, permissions.GrantAllProvider{})

	// Stop before any start is a no-op
	c.Stop(context.Background())

	result := c.Start(context.Background(), testPayload())
	require.True(t, result.Success)

	c.Stop(context.Background())
	assert.Nil(t, c.Status())
	assert.False(t, c.IsActive(*result.SessionID))

	c.Stop(context.Background())
	assert.Nil(t, c.Status())
}

func TestNativeSuccessRecordsBytes(t *testing.T) {
	bridge := radio.NewSimulatedBridge()
	bridge.AdvertiseSupported = true
	c := testController(bridge, permissions.GrantAllProvider{})
	defer c.Stop(context.Background())

	result := c.Start(context.Background(), testPayload())
	require.True(t, result.Success)
	require.NotNil(t, result.SessionID)

	record, ok := c.health.Session(*result.SessionID)
	require.True(t, ok)
	assert.Greater(t, record.BytesTransmitted, int64(0))
}

func TestFailedSessionLowersSuccessRate(t *testing.T) {
	bridge := radio.NewSimulatedBridge()
	bridge.AdvertiseSupported = true
	c := testController(bridge, permissions.GrantAllProvider{})

	// First session exhausts native retries and degrades to fallback
	bridge.FailAdvertising(errors.New("stack busy"))
	first := c.Start(context.Background(), testPayload())
	require.True(t, first.Success)
	require.NotNil(t, first.SessionID)

	record, ok := c.health.Session(*first.SessionID)
	require.True(t, ok)
	assert.Equal(t, 3, record.Errors)
	assert.Equal(t, 1, record.Restarts)

	c.Stop(context.Background())

	// Second session succeeds natively on the first attempt
	bridge.FailAdvertising(nil)
	second := c.Start(context.Background(), testPayload())
	require.True(t, second.Success)
	c.Stop(context.Background())

	stats := c.health.OverallStatistics()
	assert.Equal(t, 2, stats.TotalSessions)
	assert.Equal(t, 1, stats.SuccessfulSessions)
	assert.InDelta(t, 0.5, stats.SuccessRate, 0.001)
	assert.Equal(t, 3, stats.TotalErrors)
	assert.Equal(t, 1, stats.TotalRestarts)
}

// gatedBridge holds every Advertise call until released, so a test can
// interleave a Stop between the start guard and the session commit.
type gatedBridge struct {
	*radio.SimulatedBridge
	entered chan struct{}
	release chan struct{}
}

func (b *gatedBridge) Advertise(ctx context.Context, adv radio.Advertisement) error {
	b.entered <- struct{}{}
	<-b.release
	return b.SimulatedBridge.Advertise(ctx, adv)
}

func TestStopDuringStartWinsOverActivation(t *testing.T) {
	bridge := &gatedBridge{
		SimulatedBridge: radio.NewSimulatedBridge(),
		entered:         make(chan struct{}, 3),
		release:         make(chan struct{}),
	}
	bridge.AdvertiseSupported = true
	c := testController(bridge, permissions.GrantAllProvider{})

	results := make(chan StartResult, 1)
	go func() {
		results <- c.Start(context.Background(), testPayload())
	}()

	// The start is now inside the radio call, past its busy guard
	<-bridge.entered
	c.Stop(context.Background())
	close(bridge.release)

	result := <-results
	assert.False(t, result.Success)
	assert.Equal(t, "stopped before activation", result.Message)
	assert.Nil(t, c.Status())
}

func TestStartRejectsInvalidPayload(t *testing.T) {
	bridge := radio.NewSimulatedBridge()
	c := testController(bridge, permissions.GrantAllProvider{})

	payload := testPayload()
	payload.WalletAddress = ""
	result := c.Start(context.Background(), payload)
	assert.False(t, result.Success)

	payload = testPayload()
	payload.Token = "DOGE"
	result = c.Start(context.Background(), payload)
	assert.False(t, result.Success)
}

func TestStartDefaultsDeviceName(t *testing.T) {
	bridge := radio.NewSimulatedBridge()
	c := testController(bridge, permissions.GrantAllProvider{})
	defer c.Stop(context.Background())

	payload := testPayload()
	payload.DeviceName = ""
	result := c.Start(context.Background(), payload)
	require.True(t, result.Success)

	session := c.Status()
	require.NotNil(t, session)
	assert.Equal(t, "AirChainPay-Test", session.DeviceName)
}
