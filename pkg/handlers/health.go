package handlers

import (
	"net/http"
)

// HealthHandler reports process liveness.
type HealthHandler struct {
	version string
}

// NewHealthHandler builds the health handler.
func NewHealthHandler(version string) *HealthHandler {
	return &HealthHandler{version: version}
}

// Health handles GET /health.
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	_ = WriteJSON(w, http.StatusOK, map[string]string{
		"status":  "ok",
		"version": h.version,
	})
}
