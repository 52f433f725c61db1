package api

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/airchainpay/proximityd/internal/models"
	"github.com/airchainpay/proximityd/internal/storage"
)

// ========== Permission handlers ==========

// HandleCheckPermissions re-derives the full permission state
func (s *RESTServer) HandleCheckPermissions(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, s.sub.Permissions.Check(r.Context()))
}

// HandleRequestPermissions asks the host to grant what is missing
func (s *RESTServer) HandleRequestPermissions(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, s.sub.Permissions.Request(r.Context()))
}

// ========== Session history handlers ==========

// HandleListSessions lists advertising session history
func (s *RESTServer) HandleListSessions(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		s.respondError(w, http.StatusServiceUnavailable, "persistence is disabled")
		return
	}

	limit, offset := pagination(r)
	sessions, total, err := s.store.ListAdvertisingSessions(r.Context(), limit, offset)
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"sessions": sessions,
		"total":    total,
	})
}

// HandleGetSession gets one advertising session
func (s *RESTServer) HandleGetSession(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		s.respondError(w, http.StatusServiceUnavailable, "persistence is disabled")
		return
	}

	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid session id")
		return
	}

	session, err := s.store.GetAdvertisingSession(r.Context(), id)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			s.respondError(w, http.StatusNotFound, "session not found")
			return
		}
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	s.respondJSON(w, http.StatusOK, session)
}

// HandleSessionHealth returns the live record plus persisted samples
func (s *RESTServer) HandleSessionHealth(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid session id")
		return
	}

	response := map[string]interface{}{}
	if record, ok := s.sub.Health.Session(id); ok {
		response["current"] = record
	}

	if s.store != nil {
		limit, offset := pagination(r)
		samples, total, err := s.store.ListHealthSamples(r.Context(), id, limit, offset)
		if err != nil {
			s.respondError(w, http.StatusInternalServerError, err.Error())
			return
		}
		response["samples"] = samples
		response["total"] = total
	}

	if len(response) == 0 {
		s.respondError(w, http.StatusNotFound, "session not found")
		return
	}

	s.respondJSON(w, http.StatusOK, response)
}

// ========== Event handlers ==========

// HandleListEvents lists event logs with optional filters
func (s *RESTServer) HandleListEvents(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		s.respondError(w, http.StatusServiceUnavailable, "persistence is disabled")
		return
	}

	var filters storage.EventLogFilters

	if sid := r.URL.Query().Get("session_id"); sid != "" {
		id, err := uuid.Parse(sid)
		if err != nil {
			s.respondError(w, http.StatusBadRequest, "invalid session_id")
			return
		}
		filters.SessionID = &id
	}
	filters.DeviceID = r.URL.Query().Get("device_id")
	if t := r.URL.Query().Get("type"); t != "" {
		eventType := models.EventType(t)
		filters.Type = &eventType
	}
	if l := r.URL.Query().Get("level"); l != "" {
		level := models.EventLevel(l)
		filters.Level = &level
	}
	if st := r.URL.Query().Get("start_time"); st != "" {
		ts, err := time.Parse(time.RFC3339, st)
		if err != nil {
			s.respondError(w, http.StatusBadRequest, "invalid start_time")
			return
		}
		filters.StartTime = &ts
	}
	if et := r.URL.Query().Get("end_time"); et != "" {
		ts, err := time.Parse(time.RFC3339, et)
		if err != nil {
			s.respondError(w, http.StatusBadRequest, "invalid end_time")
			return
		}
		filters.EndTime = &ts
	}

	limit, offset := pagination(r)
	events, total, err := s.store.ListEventLogs(r.Context(), filters, limit, offset)
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"events": events,
		"total":  total,
	})
}

// pagination reads limit/offset query parameters with defaults
func pagination(r *http.Request) (int, int) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	if limit == 0 {
		limit = 20
	}
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))
	return limit, offset
}
