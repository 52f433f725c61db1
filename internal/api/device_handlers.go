package api

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/airchainpay/proximityd/internal/connection"
	"github.com/airchainpay/proximityd/internal/models"
	"github.com/airchainpay/proximityd/internal/radio"
)

// ========== Device handlers ==========

// HandleListDevices lists connection states
func (s *RESTServer) HandleListDevices(w http.ResponseWriter, r *http.Request) {
	states := s.sub.Connections.States()
	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"devices": states,
		"total":   len(states),
	})
}

// HandleGetDevice gets one device's connection state
func (s *RESTServer) HandleGetDevice(w http.ResponseWriter, r *http.Request) {
	deviceID := chi.URLParam(r, "device_id")

	state, ok := s.sub.Connections.State(deviceID)
	if !ok {
		s.respondError(w, http.StatusNotFound, "device not connected")
		return
	}

	s.respondJSON(w, http.StatusOK, state)
}

// HandleConnectDevice dials a discovered device
func (s *RESTServer) HandleConnectDevice(w http.ResponseWriter, r *http.Request) {
	deviceID := chi.URLParam(r, "device_id")

	var req struct {
		Address string `json:"address"`
		Name    string `json:"name"`
	}
	// Body is optional; the device ID alone is enough for peers seen
	// during a scan.
	_ = json.NewDecoder(r.Body).Decode(&req)

	device := models.DiscoveredDevice{
		ID:      deviceID,
		Address: req.Address,
		Name:    req.Name,
	}

	state, err := s.sub.Connections.Connect(r.Context(), device)
	if err != nil {
		// A device the bridge has never seen is a lookup miss, not a
		// transport failure.
		if errors.Is(err, radio.ErrUnknownDevice) {
			s.respondError(w, http.StatusNotFound, "unknown device")
			return
		}
		if errors.Is(err, connection.ErrConnectionFailed) {
			s.respondJSON(w, http.StatusBadGateway, map[string]interface{}{
				"error": err.Error(),
				"code":  "CONNECTION_ERROR",
			})
			return
		}
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	s.respondJSON(w, http.StatusOK, state)
}

// HandleDisconnectDevice tears a connection down
func (s *RESTServer) HandleDisconnectDevice(w http.ResponseWriter, r *http.Request) {
	deviceID := chi.URLParam(r, "device_id")
	s.sub.Connections.Disconnect(deviceID)
	w.WriteHeader(http.StatusNoContent)
}

// HandleSendData writes a payload to a connected device. The body
// carries either a structured payment payload or raw base64 bytes.
func (s *RESTServer) HandleSendData(w http.ResponseWriter, r *http.Request) {
	deviceID := chi.URLParam(r, "device_id")

	var req struct {
		Payload *models.PaymentPayload `json:"payload,omitempty"`
		Data    string                 `json:"data,omitempty"`
	}

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	var data []byte
	switch {
	case req.Payload != nil:
		if err := req.Payload.Validate(); err != nil {
			s.respondError(w, http.StatusBadRequest, err.Error())
			return
		}
		var err error
		data, err = json.Marshal(req.Payload)
		if err != nil {
			s.respondError(w, http.StatusInternalServerError, err.Error())
			return
		}
	case req.Data != "":
		var err error
		data, err = base64.StdEncoding.DecodeString(req.Data)
		if err != nil {
			s.respondError(w, http.StatusBadRequest, "data must be base64")
			return
		}
	default:
		s.respondError(w, http.StatusBadRequest, "payload or data is required")
		return
	}

	if err := s.sub.Connections.SendData(deviceID, data); err != nil {
		if errors.Is(err, connection.ErrNotConnected) {
			s.respondError(w, http.StatusNotFound, "device not connected")
			return
		}
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"sent":  true,
		"bytes": len(data),
	})
}
