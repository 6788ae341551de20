package monitor

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"github.com/tradervane/brokerpulse/internal/server"
)

// Handler exposes the monitoring API.
type Handler struct {
	monitor *Monitor
	store   *MonitorStore
	logger  *zap.Logger
}

// NewHandler creates the monitoring HTTP handler.
func NewHandler(monitor *Monitor, store *MonitorStore, logger *zap.Logger) *Handler {
	return &Handler{monitor: monitor, store: store, logger: logger}
}

// RegisterRoutes mounts the monitoring routes on the mux.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/v1/monitor/{user_id}/start", h.handleStart)
	mux.HandleFunc("POST /api/v1/monitor/{user_id}/stop", h.handleStop)
	mux.HandleFunc("GET /api/v1/monitor/{user_id}/status", h.handleAllStatuses)
	mux.HandleFunc("GET /api/v1/monitor/{user_id}/status/{credential_id}", h.handleStatus)
	mux.HandleFunc("GET /api/v1/monitor/{user_id}/stats", h.handleStats)
	mux.HandleFunc("GET /api/v1/monitor/{user_id}/alerts", h.handleAlerts)
	mux.HandleFunc("POST /api/v1/monitor/{user_id}/check/{credential_id}", h.handleCheck)
}

// handleStart begins monitoring a user's credentials. The optional JSON
// body overrides the default session config.
func (h *Handler) handleStart(w http.ResponseWriter, r *http.Request) {
	userID := r.PathValue("user_id")
	if userID == "" {
		monitorWriteError(w, http.StatusBadRequest, "user_id is required")
		return
	}

	var cfg *Config
	if r.ContentLength > 0 {
		body := DefaultConfig()
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			monitorWriteError(w, http.StatusBadRequest, "invalid config body: "+err.Error())
			return
		}
		cfg = &body
	}

	if err := h.monitor.StartMonitoring(r.Context(), userID, cfg); err != nil {
		h.logger.Warn("failed to start monitoring",
			zap.String("user_id", userID), zap.Error(err))
		monitorWriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	monitorWriteJSON(w, http.StatusOK, map[string]any{
		"monitoring": true,
		"user_id":    userID,
	})
}

func (h *Handler) handleStop(w http.ResponseWriter, r *http.Request) {
	userID := r.PathValue("user_id")
	if userID == "" {
		monitorWriteError(w, http.StatusBadRequest, "user_id is required")
		return
	}

	h.monitor.StopMonitoring(userID)
	monitorWriteJSON(w, http.StatusOK, map[string]any{
		"monitoring": false,
		"user_id":    userID,
	})
}

func (h *Handler) handleAllStatuses(w http.ResponseWriter, r *http.Request) {
	userID := r.PathValue("user_id")
	if userID == "" {
		monitorWriteError(w, http.StatusBadRequest, "user_id is required")
		return
	}
	if !h.monitor.IsMonitoring(userID) {
		monitorWriteError(w, http.StatusNotFound, "user is not being monitored")
		return
	}

	records := h.monitor.GetAllHealthStatuses(userID)
	if records == nil {
		records = []HealthRecord{}
	}
	monitorWriteJSON(w, http.StatusOK, records)
}

func (h *Handler) handleStatus(w http.ResponseWriter, r *http.Request) {
	userID := r.PathValue("user_id")
	credentialID := r.PathValue("credential_id")
	if userID == "" || credentialID == "" {
		monitorWriteError(w, http.StatusBadRequest, "user_id and credential_id are required")
		return
	}

	rec := h.monitor.GetHealthStatus(userID, credentialID)
	if rec == nil {
		monitorWriteError(w, http.StatusNotFound, "no health record for credential")
		return
	}
	monitorWriteJSON(w, http.StatusOK, rec)
}

func (h *Handler) handleStats(w http.ResponseWriter, r *http.Request) {
	userID := r.PathValue("user_id")
	if userID == "" {
		monitorWriteError(w, http.StatusBadRequest, "user_id is required")
		return
	}
	if !h.monitor.IsMonitoring(userID) {
		monitorWriteError(w, http.StatusNotFound, "user is not being monitored")
		return
	}
	monitorWriteJSON(w, http.StatusOK, h.monitor.GetMonitoringStats(userID))
}

func (h *Handler) handleAlerts(w http.ResponseWriter, r *http.Request) {
	userID := r.PathValue("user_id")
	if userID == "" {
		monitorWriteError(w, http.StatusBadRequest, "user_id is required")
		return
	}

	limit := monitorParseLimit(r, 100)
	entries, err := h.store.ListAlerts(r.Context(), userID, limit)
	if err != nil {
		h.logger.Warn("failed to list alerts",
			zap.String("user_id", userID), zap.Error(err))
		monitorWriteError(w, http.StatusInternalServerError, "failed to list alerts")
		return
	}
	if entries == nil {
		entries = []AlertEntry{}
	}
	monitorWriteJSON(w, http.StatusOK, entries)
}

// handleCheck forces one immediate health check outside the tick cadence.
func (h *Handler) handleCheck(w http.ResponseWriter, r *http.Request) {
	userID := r.PathValue("user_id")
	credentialID := r.PathValue("credential_id")
	if userID == "" || credentialID == "" {
		monitorWriteError(w, http.StatusBadRequest, "user_id and credential_id are required")
		return
	}

	rec, err := h.monitor.ForceHealthCheck(r.Context(), userID, credentialID)
	if err != nil {
		switch {
		case errors.Is(err, ErrNotMonitoring):
			monitorWriteError(w, http.StatusConflict, "user is not being monitored")
		case errors.Is(err, ErrRecordNotFound):
			monitorWriteError(w, http.StatusNotFound, "no health record for credential")
		default:
			h.logger.Warn("forced health check failed",
				zap.String("user_id", userID),
				zap.String("credential_id", credentialID),
				zap.Error(err))
			monitorWriteError(w, http.StatusInternalServerError, "health check failed")
		}
		return
	}
	monitorWriteJSON(w, http.StatusOK, rec)
}

func monitorWriteJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func monitorWriteError(w http.ResponseWriter, status int, detail string) {
	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"type":   server.ProblemTypeFor(status),
		"title":  http.StatusText(status),
		"status": status,
		"detail": detail,
	})
}

func monitorParseLimit(r *http.Request, defaultLimit int) int {
	if s := r.URL.Query().Get("limit"); s != "" {
		if n, err := strconv.Atoi(s); err == nil && n > 0 && n <= 1000 {
			return n
		}
	}
	return defaultLimit
}
