package interfaces

import (
	"context"

	"github.com/molflow/microq/internal/models"
)

// UserStore persists worker accounts.
type UserStore interface {
	// Insert adds a user. ErrConflict when the username is taken.
	Insert(ctx context.Context, user *models.User) error

	// GetByID returns a user by id, ErrNotFound when absent.
	GetByID(ctx context.Context, id string) (*models.User, error)

	// GetByUsername returns a user by name, ErrNotFound when absent.
	GetByUsername(ctx context.Context, username string) (*models.User, error)

	// Delete removes a user. ErrNotFound when absent.
	Delete(ctx context.Context, id string) error
}

// TokenStore issues and validates short-lived bearer tokens.
type TokenStore interface {
	// Issue creates a token for the user, valid for the configured TTL.
	Issue(ctx context.Context, username string) (string, error)

	// Validate resolves a token back to its username. ErrNotFound when
	// the token is unknown or expired.
	Validate(ctx context.Context, token string) (string, error)

	Close() error
}
