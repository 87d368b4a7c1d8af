package handlers

import (
	"net/http"

	"github.com/ternarybob/arbor"

	"github.com/molflow/microq/internal/common"
)

// APIHandler serves the service-level endpoints (version, health).
type APIHandler struct {
	logger arbor.ILogger
}

// NewAPIHandler creates an API handler.
func NewAPIHandler(logger arbor.ILogger) *APIHandler {
	return &APIHandler{logger: logger}
}

// VersionHandler handles GET /version.
func (h *APIHandler) VersionHandler(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, http.StatusOK, map[string]string{
		"version": common.GetVersion(),
		"build":   common.Build,
	})
}

// HealthHandler handles GET /health.
func (h *APIHandler) HealthHandler(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// NotFoundHandler is the fallback for unmatched REST paths.
func (h *APIHandler) NotFoundHandler(w http.ResponseWriter, r *http.Request) {
	WriteError(w, http.StatusNotFound, "Not found")
}
