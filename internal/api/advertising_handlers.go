package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/airchainpay/proximityd/internal/advertising"
	"github.com/airchainpay/proximityd/internal/models"
)

// ========== Advertising handlers ==========

// HandleStartAdvertising starts broadcasting a payment payload
func (s *RESTServer) HandleStartAdvertising(w http.ResponseWriter, r *http.Request) {
	var req struct {
		WalletAddress string `json:"walletAddress" validate:"required"`
		Amount        string `json:"amount"`
		Token         string `json:"token"`
		ChainID       string `json:"chainId"`
		DeviceName    string `json:"deviceName"`
	}

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := s.validator.Validate(req); err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	payload := models.PaymentPayload{
		WalletAddress: req.WalletAddress,
		Amount:        req.Amount,
		Token:         models.Token(req.Token),
		ChainID:       req.ChainID,
		DeviceName:    req.DeviceName,
		Timestamp:     time.Now(),
	}

	result := s.sub.Advertising.Start(r.Context(), payload)
	s.respondJSON(w, startStatusCode(result), result)
}

// startStatusCode maps a start result onto an HTTP status
func startStatusCode(result advertising.StartResult) int {
	if result.Success {
		return http.StatusOK
	}
	switch result.Code {
	case advertising.CodePermissionDenied:
		return http.StatusForbidden
	case advertising.CodeRadioUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusBadRequest
	}
}

// HandleStopAdvertising stops the current broadcast
func (s *RESTServer) HandleStopAdvertising(w http.ResponseWriter, r *http.Request) {
	s.sub.Advertising.Stop(r.Context())
	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"stopped": true,
	})
}

// HandleAdvertisingStatus reports the current session, if any
func (s *RESTServer) HandleAdvertisingStatus(w http.ResponseWriter, r *http.Request) {
	session := s.sub.Advertising.Status()
	if session == nil {
		s.respondJSON(w, http.StatusOK, map[string]interface{}{
			"active": false,
		})
		return
	}

	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"active":  session.State == models.AdvertisingActive,
		"session": session,
	})
}

// HandleAdvertisingStatistics aggregates session health and security metrics
func (s *RESTServer) HandleAdvertisingStatistics(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"health":   s.sub.Health.OverallStatistics(),
		"security": s.sub.Security.Aggregate(),
	})
}

// HandleSupport reports what the platform can do
func (s *RESTServer) HandleSupport(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, s.sub.CheckSupport(r.Context()))
}
