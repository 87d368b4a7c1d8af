package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/molflow/microq/internal/common"
	"github.com/molflow/microq/internal/interfaces"
	"github.com/molflow/microq/internal/lifecycle"
	"github.com/molflow/microq/internal/models"
)

// APIVersion is the version segment all REST paths carry.
const APIVersion = "v4"

// WriteJSON writes a JSON response with the specified status code and data.
func WriteJSON(w http.ResponseWriter, statusCode int, data interface{}) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	return json.NewEncoder(w).Encode(data)
}

// WriteError writes the uniform error shape {"error": message}.
func WriteError(w http.ResponseWriter, statusCode int, message string) error {
	return WriteJSON(w, statusCode, map[string]string{"error": message})
}

// WriteStoreError maps the storage and lifecycle error kinds to status codes.
func WriteStoreError(w http.ResponseWriter, err error) {
	var validationErr *models.ValidationError
	var conflictErr *lifecycle.ConflictError

	switch {
	case errors.As(err, &validationErr):
		WriteError(w, http.StatusBadRequest, validationErr.Message)
	case errors.As(err, &conflictErr):
		WriteError(w, http.StatusConflict, conflictErr.Message)
	case errors.Is(err, interfaces.ErrNotFound):
		WriteError(w, http.StatusNotFound, "Not found")
	case errors.Is(err, interfaces.ErrAlreadyClaimed):
		WriteError(w, http.StatusConflict, "Job is already claimed")
	case errors.Is(err, interfaces.ErrConflict):
		WriteError(w, http.StatusConflict, "Conflict")
	case errors.Is(err, interfaces.ErrUnavailable):
		WriteError(w, http.StatusServiceUnavailable, "Service unavailable")
	default:
		WriteError(w, http.StatusInternalServerError, "Internal server error")
	}
}

// DecodeJSON decodes a JSON request body into dst. Responds 415 for a
// non-JSON content type and 400 for a malformed body.
func DecodeJSON(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	contentType := r.Header.Get("Content-Type")
	if contentType != "" && !strings.HasPrefix(contentType, "application/json") {
		WriteError(w, http.StatusUnsupportedMediaType, "Expected application/json")
		return false
	}
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		WriteError(w, http.StatusBadRequest, "Invalid input")
		return false
	}
	return true
}

// URLRoot reconstructs the externally visible root URL of the request,
// trailing slash included.
func URLRoot(r *http.Request) string {
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	if forwarded := r.Header.Get("X-Forwarded-Proto"); forwarded != "" {
		scheme = forwarded
	}
	return scheme + "://" + r.Host + "/"
}

// RequestTime returns the effective "now" of a request: the ?now= query
// parameter when present (used by backdated inserts and test fixtures),
// otherwise the current UTC time.
func RequestTime(r *http.Request) (time.Time, error) {
	raw := r.URL.Query().Get("now")
	if raw == "" {
		return time.Now().UTC(), nil
	}
	return common.ParseTime(raw)
}
