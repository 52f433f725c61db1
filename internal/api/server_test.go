package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/airchainpay/proximityd/internal/config"
	"github.com/airchainpay/proximityd/internal/radio"
	"github.com/airchainpay/proximityd/internal/subsystem"
	"github.com/airchainpay/proximityd/pkg/crypto"
)

func testServer(t *testing.T) *RESTServer {
	t.Helper()

	hash, err := crypto.HashPassword("hunter2x")
	require.NoError(t, err)

	cfg := &config.Config{
		Server: config.ServerConfig{Name: "proximityd", Version: "test"},
		JWT: config.JWTConfig{
			Secret:          "test-secret",
			AccessTokenTTL:  time.Minute,
			RefreshTokenTTL: time.Hour,
		},
		Operator: config.OperatorConfig{
			Email:        "operator@example.com",
			PasswordHash: hash,
		},
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

	sub, err := subsystem.New(cfg, subsystem.Options{Bridge: radio.NewSimulatedBridge()})
	require.NoError(t, err)
	t.Cleanup(func() { sub.Shutdown(context.Background()) })

	return NewRESTServer(cfg, sub)
}

func doRequest(s *RESTServer, method, path, token, body string) *httptest.ResponseRecorder {
	var reader *strings.Reader
	if body == "" {
		reader = strings.NewReader("{}")
	} else {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

func login(t *testing.T, s *RESTServer) string {
	t.Helper()
	rec := doRequest(s, http.MethodPost, "/api/v1/auth/login", "",
		`{"email":"operator@example.com","password":"hunter2x"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	token, _ := body["access_token"].(string)
	require.NotEmpty(t, token)
	return token
}

func TestHealthEndpoint(t *testing.T) {
	s := testServer(t)
	rec := doRequest(s, http.MethodGet, "/api/v1/health", "", "")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestLoginRejectsBadCredentials(t *testing.T) {
	s := testServer(t)

	rec := doRequest(s, http.MethodPost, "/api/v1/auth/login", "",
		`{"email":"operator@example.com","password":"wrong"}`)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = doRequest(s, http.MethodPost, "/api/v1/auth/login", "",
		`{"email":"someone@else.com","password":"hunter2x"}`)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestProtectedRoutesRequireToken(t *testing.T) {
	s := testServer(t)

	rec := doRequest(s, http.MethodGet, "/api/v1/advertising/status", "", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = doRequest(s, http.MethodGet, "/api/v1/advertising/status", "forged", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestAdvertisingLifecycleOverHTTP(t *testing.T) {
	s := testServer(t)
	token := login(t, s)

	rec := doRequest(s, http.MethodPost, "/api/v1/advertising/start", token,
		`{"walletAddress":"0x742d35Cc6634C0532925a3b844Bc9e7595f0bEb1","amount":"25.50","token":"USDC","chainId":"8453"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	var result map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	assert.Equal(t, true, result["success"])
	assert.NotEmpty(t, result["sessionId"])

	rec = doRequest(s, http.MethodGet, "/api/v1/advertising/status", token, "")
	require.Equal(t, http.StatusOK, rec.Code)
	var status map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	assert.Equal(t, true, status["active"])

	rec = doRequest(s, http.MethodPost, "/api/v1/advertising/stop", token, "")
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doRequest(s, http.MethodGet, "/api/v1/advertising/status", token, "")
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	assert.Equal(t, false, status["active"])
}

func TestAdvertisingStartRejectsBadRequest(t *testing.T) {
	s := testServer(t)
	token := login(t, s)

	rec := doRequest(s, http.MethodPost, "/api/v1/advertising/start", token, `{"amount":"1.00"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestScanEndpoints(t *testing.T) {
	s := testServer(t)
	token := login(t, s)

	rec := doRequest(s, http.MethodPost, "/api/v1/scan/start", token, `{"timeoutSeconds":1}`)
	require.Equal(t, http.StatusOK, rec.Code)

	// Second start while running conflicts
	rec = doRequest(s, http.MethodPost, "/api/v1/scan/start", token, "")
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = doRequest(s, http.MethodGet, "/api/v1/scan/results", token, "")
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doRequest(s, http.MethodPost, "/api/v1/scan/stop", token, "")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestSupportEndpoint(t *testing.T) {
	s := testServer(t)
	token := login(t, s)

	rec := doRequest(s, http.MethodGet, "/api/v1/support", token, "")
	require.Equal(t, http.StatusOK, rec.Code)

	var report map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &report))
	assert.Equal(t, "FALLBACK", report["capability"])
	assert.Equal(t, true, report["radioPowered"])
}

func TestPermissionsEndpoints(t *testing.T) {
	s := testServer(t)
	token := login(t, s)

	rec := doRequest(s, http.MethodGet, "/api/v1/permissions", token, "")
	require.Equal(t, http.StatusOK, rec.Code)
	var check map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &check))
	assert.Equal(t, true, check["granted"])

	rec = doRequest(s, http.MethodPost, "/api/v1/permissions/request", token, "")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestSessionsUnavailableWithoutStore(t *testing.T) {
	s := testServer(t)
	token := login(t, s)

	rec := doRequest(s, http.MethodGet, "/api/v1/sessions", token, "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	rec = doRequest(s, http.MethodGet, "/api/v1/events", token, "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestDeviceNotFound(t *testing.T) {
	s := testServer(t)
	token := login(t, s)

	rec := doRequest(s, http.MethodGet, "/api/v1/devices/ghost", token, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestConnectUnknownDeviceNotFound(t *testing.T) {
	s := testServer(t)
	token := login(t, s)

	rec := doRequest(s, http.MethodPost, "/api/v1/devices/ghost/connect", token, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestTokenRefreshFlow(t *testing.T) {
	s := testServer(t)

	rec := doRequest(s, http.MethodPost, "/api/v1/auth/login", "",
		`{"email":"operator@example.com","password":"hunter2x"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	refresh, _ := body["refresh_token"].(string)
	require.NotEmpty(t, refresh)

	rec = doRequest(s, http.MethodPost, "/api/v1/auth/refresh", "",
		`{"refresh_token":"`+refresh+`"}`)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = doRequest(s, http.MethodPost, "/api/v1/auth/refresh", "",
		`{"refresh_token":"garbage"}`)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}
