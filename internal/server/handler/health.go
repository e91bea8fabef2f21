package handler

import (
	"net/http"
	"time"
)

// HealthHandler serves the liveness endpoint.
type HealthHandler struct {
	mode      string
	startedAt time.Time
	clients   func() int
}

// NewHealthHandler creates a HealthHandler. clients reports connected
// WebSocket clients and may be nil.
func NewHealthHandler(mode string, clients func() int) *HealthHandler {
	return &HealthHandler{mode: mode, startedAt: time.Now(), clients: clients}
}

// HealthCheck reports that the process is up.
// GET /api/health
func (h *HealthHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	body := map[string]any{
		"status":         "ok",
		"mode":           h.mode,
		"timestamp":      time.Now().UTC().Format(time.RFC3339),
		"uptime_seconds": int64(time.Since(h.startedAt).Seconds()),
	}
	if h.clients != nil {
		body["ws_clients"] = h.clients()
	}
	writeJSON(w, http.StatusOK, body)
}
