package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"
)

// ========== Scan handlers ==========

// HandleStartScan starts a scan session
func (s *RESTServer) HandleStartScan(w http.ResponseWriter, r *http.Request) {
	var req struct {
		TimeoutSeconds int `json:"timeoutSeconds"`
	}

	// Empty body means defaults
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	timeout := time.Duration(req.TimeoutSeconds) * time.Second
	if err := s.sub.Scanning.Start(nil, timeout); err != nil {
		s.respondError(w, http.StatusConflict, err.Error())
		return
	}

	if timeout <= 0 {
		timeout = s.config.Scanning.DefaultTimeout
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"scanning":       true,
		"timeoutSeconds": int(timeout.Seconds()),
	})
}

// HandleStopScan stops the scan session early
func (s *RESTServer) HandleStopScan(w http.ResponseWriter, r *http.Request) {
	s.sub.Scanning.Stop()
	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"scanning": false,
	})
}

// HandleScanResults returns the current or most recent session's discoveries
func (s *RESTServer) HandleScanResults(w http.ResponseWriter, r *http.Request) {
	results := s.sub.Scanning.Results()
	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"scanning": s.sub.Scanning.IsScanning(),
		"results":  results,
		"total":    len(results),
	})
}
