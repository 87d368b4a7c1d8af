package handlers

import (
	"errors"
	"net/http"

	"github.com/ternarybob/arbor"

	"github.com/molflow/microq/internal/interfaces"
	"github.com/molflow/microq/internal/models"
	"github.com/molflow/microq/internal/services/auth"
)

// AdminHandler serves the user-management endpoints and token issuance.
type AdminHandler struct {
	auth     *auth.Service
	tokenTTL int
	logger   arbor.ILogger
}

// NewAdminHandler creates an admin handler. tokenTTL is the token lifetime
// in seconds, reported back to the caller.
func NewAdminHandler(authService *auth.Service, tokenTTL int, logger arbor.ILogger) *AdminHandler {
	return &AdminHandler{
		auth:     authService,
		tokenTTL: tokenTTL,
		logger:   logger,
	}
}

// CreateUserHandler handles POST /users (admin only).
func (h *AdminHandler) CreateUserHandler(w http.ResponseWriter, r *http.Request) {
	if _, ok := RequireAdmin(w, r, h.auth); !ok {
		return
	}

	var body struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if !DecodeJSON(w, r, &body) {
		return
	}

	user, err := h.auth.CreateUser(r.Context(), body.Username, body.Password)
	if err != nil {
		var validationErr *models.ValidationError
		switch {
		case errors.As(err, &validationErr):
			WriteError(w, http.StatusBadRequest, validationErr.Message)
		case errors.Is(err, interfaces.ErrConflict):
			// Historical behavior: a taken username is a 400, not a 409.
			WriteError(w, http.StatusBadRequest, "User already exists")
		default:
			h.logger.Error().Err(err).Str("username", body.Username).Msg("Failed to create user")
			WriteStoreError(w, err)
		}
		return
	}

	WriteJSON(w, http.StatusCreated, map[string]string{
		"username": user.Username,
		"userid":   user.ID,
	})
}

// GetUserHandler handles GET /users/{id} (admin only).
func (h *AdminHandler) GetUserHandler(w http.ResponseWriter, r *http.Request, userID string) {
	if _, ok := RequireAdmin(w, r, h.auth); !ok {
		return
	}

	user, err := h.auth.GetUser(r.Context(), userID)
	if err != nil {
		WriteStoreError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]string{"username": user.Username})
}

// DeleteUserHandler handles DELETE /users/{id} (admin only).
func (h *AdminHandler) DeleteUserHandler(w http.ResponseWriter, r *http.Request, userID string) {
	if _, ok := RequireAdmin(w, r, h.auth); !ok {
		return
	}

	if err := h.auth.DeleteUser(r.Context(), userID); err != nil {
		WriteStoreError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// TokenHandler handles GET /token: trades basic-auth credentials for a
// short-lived token.
func (h *AdminHandler) TokenHandler(w http.ResponseWriter, r *http.Request) {
	username, ok := RequireUser(w, r, h.auth)
	if !ok {
		return
	}

	token, err := h.auth.IssueToken(r.Context(), username)
	if err != nil {
		h.logger.Error().Err(err).Str("username", username).Msg("Failed to issue token")
		WriteStoreError(w, err)
		return
	}

	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"token":    token,
		"duration": h.tokenTTL,
	})
}
