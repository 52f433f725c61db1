package security

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/airchainpay/proximityd/internal/config"
	"github.com/airchainpay/proximityd/internal/models"
)

func testLayer(ttl time.Duration) *Layer {
	return NewLayer(config.SecurityConfig{
		EncryptionEnabled: true,
		EncryptionKey:     "shared-session-key",
		TokenTTL:          ttl,
	})
}

func testPayload() *models.PaymentPayload {
	return &models.PaymentPayload{
		WalletAddress: "0x742d35Cc6634C0532925a3b844Bc9e7595f0bEb1",
		Amount:        "25.50",
		Token:         models.TokenUSDC,
		ChainID:       "8453",
		Timestamp:     time.Unix(1700000000, 0),
		DeviceName:    "AirChainPay-Alice",
	}
}

func TestSecurePayloadRoundTrip(t *testing.T) {
	layer := testLayer(time.Minute)
	original := testPayload()

	secured, encrypted := layer.CreateSecurePayload(original)
	require.True(t, encrypted)
	assert.NotEqual(t, original.WalletAddress, secured.WalletAddress)
	assert.NotEqual(t, original.Amount, secured.Amount)
	// Device name stays in the clear for discovery filtering
	assert.Equal(t, original.DeviceName, secured.DeviceName)

	decrypted, err := layer.DecryptPayload(secured, layer.EncryptionKey())
	require.NoError(t, err)
	assert.True(t, original.Equal(decrypted))
}

func TestSecurePayloadDisabledIsNoOp(t *testing.T) {
	layer := NewLayer(config.SecurityConfig{})
	original := testPayload()

	secured, encrypted := layer.CreateSecurePayload(original)
	assert.False(t, encrypted)
	assert.Equal(t, original, secured)
}

func TestDecryptPayloadEmptyKeyPassthrough(t *testing.T) {
	layer := testLayer(time.Minute)
	original := testPayload()

	decrypted, err := layer.DecryptPayload(original, "")
	require.NoError(t, err)
	assert.Equal(t, original, decrypted)
}

func TestDecryptPayloadBadField(t *testing.T) {
	layer := testLayer(time.Minute)
	broken := testPayload()
	broken.WalletAddress = "not base64 !!!"

	_, err := layer.DecryptPayload(broken, layer.EncryptionKey())
	assert.Error(t, err)
}

func TestAuthTokenLifecycle(t *testing.T) {
	layer := testLayer(time.Minute)

	token, err := layer.GenerateAuthToken("AirChainPay-Alice")
	require.NoError(t, err)
	require.NotEmpty(t, token)

	assert.True(t, layer.ValidateAuthToken("AirChainPay-Alice", token))
	assert.False(t, layer.ValidateAuthToken("AirChainPay-Alice", "forged"))
	assert.False(t, layer.ValidateAuthToken("AirChainPay-Alice", ""))
	assert.False(t, layer.ValidateAuthToken("AirChainPay-Bob", token))
}

func TestAuthTokenExpiryPurgesSession(t *testing.T) {
	layer := testLayer(10 * time.Millisecond)

	token, err := layer.GenerateAuthToken("AirChainPay-Alice")
	require.NoError(t, err)
	require.True(t, layer.HasSession("AirChainPay-Alice"))

	time.Sleep(20 * time.Millisecond)

	assert.False(t, layer.ValidateAuthToken("AirChainPay-Alice", token))
	assert.False(t, layer.HasSession("AirChainPay-Alice"))
}

func TestEndSession(t *testing.T) {
	layer := testLayer(time.Minute)

	_, err := layer.GenerateAuthToken("AirChainPay-Alice")
	require.NoError(t, err)
	require.True(t, layer.HasSession("AirChainPay-Alice"))

	layer.EndSession("AirChainPay-Alice")
	assert.False(t, layer.HasSession("AirChainPay-Alice"))

	// Idempotent
	layer.EndSession("AirChainPay-Alice")
}

func TestAggregateMetrics(t *testing.T) {
	layer := testLayer(time.Minute)

	layer.CreateSecurePayload(testPayload())
	token, err := layer.GenerateAuthToken("AirChainPay-Alice")
	require.NoError(t, err)
	layer.ValidateAuthToken("AirChainPay-Alice", token)
	layer.ValidateAuthToken("AirChainPay-Alice", "forged")

	agg := layer.Aggregate()
	assert.Equal(t, 1, agg.Sessions)
	assert.Equal(t, int64(1), agg.EncryptionAttempts)
	assert.Equal(t, int64(1), agg.EncryptionSuccesses)
	assert.InDelta(t, 1.0, agg.EncryptionRate, 0.001)
	assert.Equal(t, int64(1), agg.AuthFailures)
	assert.Greater(t, agg.AuthAttempts, agg.AuthFailures)
}
