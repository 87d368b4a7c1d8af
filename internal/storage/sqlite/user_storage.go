package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/ternarybob/arbor"

	"github.com/molflow/microq/internal/interfaces"
	"github.com/molflow/microq/internal/models"
)

// UserStorage implements interfaces.UserStore on the users table.
type UserStorage struct {
	db     *sql.DB
	logger arbor.ILogger
}

// NewUserStorage creates a user storage instance.
func NewUserStorage(db *DB, logger arbor.ILogger) *UserStorage {
	return &UserStorage{db: db.db, logger: logger}
}

// Insert adds a user account.
func (s *UserStorage) Insert(ctx context.Context, user *models.User) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO users (id, username, password_hash) VALUES (?, ?, ?)`,
		user.ID, user.Username, user.PasswordHash)
	if err != nil {
		if isUniqueViolation(err) {
			return interfaces.ErrConflict
		}
		return fmt.Errorf("failed to insert user: %w", err)
	}
	return nil
}

// GetByID returns a user by id.
func (s *UserStorage) GetByID(ctx context.Context, id string) (*models.User, error) {
	return s.getBy(ctx, "id", id)
}

// GetByUsername returns a user by name.
func (s *UserStorage) GetByUsername(ctx context.Context, username string) (*models.User, error) {
	return s.getBy(ctx, "username", username)
}

func (s *UserStorage) getBy(ctx context.Context, column, value string) (*models.User, error) {
	var user models.User
	query := fmt.Sprintf(`SELECT id, username, password_hash FROM users WHERE %s = ?`, column)
	err := s.db.QueryRowContext(ctx, query, value).
		Scan(&user.ID, &user.Username, &user.PasswordHash)
	if err == sql.ErrNoRows {
		return nil, interfaces.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return &user, nil
}

// Delete removes a user account.
func (s *UserStorage) Delete(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM users WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete user: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return interfaces.ErrNotFound
	}
	s.logger.Info().Str("user_id", id).Msg("User deleted")
	return nil
}
