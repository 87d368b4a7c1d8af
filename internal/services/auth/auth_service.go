// Package auth resolves the credentials a request carries: admin bootstrap
// credentials, worker accounts and short-lived tokens.
package auth

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/ternarybob/arbor"
	"golang.org/x/crypto/bcrypt"

	"github.com/molflow/microq/internal/common"
	"github.com/molflow/microq/internal/interfaces"
	"github.com/molflow/microq/internal/models"
)

// Service authenticates requests and manages worker accounts and tokens.
type Service struct {
	users  interfaces.UserStore
	tokens interfaces.TokenStore
	admin  common.AdminConfig
	logger arbor.ILogger
}

// NewService creates an auth service.
func NewService(users interfaces.UserStore, tokens interfaces.TokenStore,
	admin common.AdminConfig, logger arbor.ILogger) *Service {
	return &Service{
		users:  users,
		tokens: tokens,
		admin:  admin,
		logger: logger,
	}
}

// Authenticate resolves basic-auth credentials to a username. A token rides
// in the username field with an empty password. Returns false when nothing
// matches.
func (s *Service) Authenticate(ctx context.Context, username, password string) (string, bool) {
	if password == "" {
		resolved, err := s.tokens.Validate(ctx, username)
		if err != nil {
			return "", false
		}
		return resolved, true
	}

	if username == s.admin.Username {
		if password == s.admin.Password {
			return username, true
		}
		return "", false
	}

	user, err := s.users.GetByUsername(ctx, username)
	if err != nil {
		return "", false
	}
	if bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)) != nil {
		return "", false
	}
	return user.Username, true
}

// IsAdmin reports whether the resolved username is the bootstrap admin.
func (s *Service) IsAdmin(username string) bool {
	return username == s.admin.Username
}

// IssueToken creates a short-lived token for an already-authenticated user.
func (s *Service) IssueToken(ctx context.Context, username string) (string, error) {
	token, err := s.tokens.Issue(ctx, username)
	if err != nil {
		return "", fmt.Errorf("failed to issue token: %w", err)
	}
	s.logger.Debug().Str("username", username).Msg("Token issued")
	return token, nil
}

// CreateUser registers a worker account with a bcrypt password hash.
func (s *Service) CreateUser(ctx context.Context, username, password string) (*models.User, error) {
	if username == "" || password == "" {
		return nil, &models.ValidationError{Message: "Missing required fields: username, password"}
	}
	if username == s.admin.Username {
		return nil, interfaces.ErrConflict
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	user := &models.User{
		ID:           uuid.New().String(),
		Username:     username,
		PasswordHash: string(hash),
	}
	if err := s.users.Insert(ctx, user); err != nil {
		return nil, err
	}
	s.logger.Info().Str("username", username).Msg("User created")
	return user, nil
}

// GetUser returns a worker account by id.
func (s *Service) GetUser(ctx context.Context, id string) (*models.User, error) {
	return s.users.GetByID(ctx, id)
}

// DeleteUser removes a worker account.
func (s *Service) DeleteUser(ctx context.Context, id string) error {
	return s.users.Delete(ctx, id)
}
