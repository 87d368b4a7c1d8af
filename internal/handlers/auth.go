package handlers

import (
	"context"
	"net/http"
)

// Authenticator resolves request credentials to a username.
type Authenticator interface {
	Authenticate(ctx context.Context, username, password string) (string, bool)
	IsAdmin(username string) bool
}

// RequireUser authenticates the request via basic auth (user/password or
// token-as-username). Writes a 401 and returns false when it fails.
func RequireUser(w http.ResponseWriter, r *http.Request, auth Authenticator) (string, bool) {
	username, password, ok := r.BasicAuth()
	if !ok {
		WriteError(w, http.StatusUnauthorized, "Unauthorized access")
		return "", false
	}
	resolved, ok := auth.Authenticate(r.Context(), username, password)
	if !ok {
		WriteError(w, http.StatusUnauthorized, "Unauthorized access")
		return "", false
	}
	return resolved, true
}

// RequireAdmin authenticates the request and additionally demands the admin
// user. Writes 401/403 and returns false when it fails.
func RequireAdmin(w http.ResponseWriter, r *http.Request, auth Authenticator) (string, bool) {
	username, ok := RequireUser(w, r, auth)
	if !ok {
		return "", false
	}
	if !auth.IsAdmin(username) {
		WriteError(w, http.StatusForbidden, "Admin access required")
		return "", false
	}
	return username, true
}
