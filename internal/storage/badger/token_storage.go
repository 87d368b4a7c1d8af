package badger

import (
	"context"
	"fmt"
	"os"
	"time"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"
	"github.com/ternarybob/arbor"

	"github.com/molflow/microq/internal/common"
	"github.com/molflow/microq/internal/interfaces"
)

// TokenStorage implements interfaces.TokenStore on an embedded badger store.
// Tokens expire through badger's native TTL support, so no sweeper is needed.
type TokenStorage struct {
	db     *badger.DB
	logger arbor.ILogger
	ttl    time.Duration
}

// NewTokenStorage opens (or creates) the token database. An empty path runs
// the store in memory, which is what the tests use.
func NewTokenStorage(logger arbor.ILogger, config *common.TokenConfig) (*TokenStorage, error) {
	var opts badger.Options
	if config.Path == "" {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(config.Path, 0755); err != nil {
			return nil, fmt.Errorf("failed to create token directory: %w", err)
		}
		opts = badger.DefaultOptions(config.Path)
	}
	opts = opts.WithLogger(nil)

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open token store: %w", err)
	}

	logger.Info().Str("path", config.Path).
		Int("ttl_seconds", config.DurationSeconds).
		Msg("Token store initialized")

	return &TokenStorage{
		db:     db,
		logger: logger,
		ttl:    time.Duration(config.DurationSeconds) * time.Second,
	}, nil
}

// Issue creates a fresh token for the user, valid for the configured TTL.
func (s *TokenStorage) Issue(ctx context.Context, username string) (string, error) {
	token := uuid.New().String()

	err := s.db.Update(func(txn *badger.Txn) error {
		entry := badger.NewEntry([]byte(token), []byte(username)).WithTTL(s.ttl)
		return txn.SetEntry(entry)
	})
	if err != nil {
		return "", fmt.Errorf("failed to store token: %w", err)
	}
	return token, nil
}

// Validate resolves a token back to its username. Expired entries surface as
// badger.ErrKeyNotFound and map to ErrNotFound.
func (s *TokenStorage) Validate(ctx context.Context, token string) (string, error) {
	var username string

	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(token))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			username = string(val)
			return nil
		})
	})
	if err == badger.ErrKeyNotFound {
		return "", interfaces.ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("failed to look up token: %w", err)
	}
	return username, nil
}

// Close closes the underlying badger database.
func (s *TokenStorage) Close() error {
	return s.db.Close()
}
