package badger

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/molflow/microq/internal/common"
	"github.com/molflow/microq/internal/interfaces"
)

func newTestStore(t *testing.T, ttlSeconds int) *TokenStorage {
	t.Helper()
	store, err := NewTokenStorage(common.GetLogger(), &common.TokenConfig{
		Path:            "",
		DurationSeconds: ttlSeconds,
	})
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestIssueAndValidate(t *testing.T) {
	store := newTestStore(t, 600)
	ctx := context.Background()

	token, err := store.Issue(ctx, "alice")
	require.NoError(t, err)
	require.NotEmpty(t, token)

	username, err := store.Validate(ctx, token)
	require.NoError(t, err)
	assert.Equal(t, "alice", username)

	// Tokens are unique per issue.
	second, err := store.Issue(ctx, "alice")
	require.NoError(t, err)
	assert.NotEqual(t, token, second)
}

func TestValidateUnknownToken(t *testing.T) {
	store := newTestStore(t, 600)

	_, err := store.Validate(context.Background(), "not-a-token")
	assert.ErrorIs(t, err, interfaces.ErrNotFound)
}

func TestTokenExpires(t *testing.T) {
	store := newTestStore(t, 1)
	ctx := context.Background()

	token, err := store.Issue(ctx, "alice")
	require.NoError(t, err)

	_, err = store.Validate(ctx, token)
	require.NoError(t, err)

	time.Sleep(1100 * time.Millisecond)
	_, err = store.Validate(ctx, token)
	assert.ErrorIs(t, err, interfaces.ErrNotFound)
}
