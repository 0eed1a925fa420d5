package storage

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/andyleap/authsessions/internal/models"
)

func withMemoryStorage(t *testing.T, fn func(context.Context, *MemoryStorage)) {
	t.Helper()
	t.Parallel()
	storage := NewMemoryStorage()
	defer storage.Close()
	fn(context.Background(), storage)
}

func TestMemoryStorage_Sessions(t *testing.T) {
	withMemoryStorage(t, func(ctx context.Context, s *MemoryStorage) {
		session := &models.Session{
			ID:        "sid-1",
			Username:  "alice",
			Roles:     []string{"USER"},
			CreatedAt: time.Now(),
			ExpiresAt: time.Now().Add(time.Hour),
		}
		require.NoError(t, s.SaveSession(ctx, session))

		got, err := s.GetSession(ctx, "sid-1")
		require.NoError(t, err)
		require.NotNil(t, got)
		assert.Equal(t, "alice", got.Username)

		sessions, err := s.GetUserSessions(ctx, "alice")
		require.NoError(t, err)
		assert.Len(t, sessions, 1)

		require.NoError(t, s.DeleteSession(ctx, "sid-1"))
		got, err = s.GetSession(ctx, "sid-1")
		require.NoError(t, err)
		assert.Nil(t, got)
	})
}

func TestMemoryStorage_ExpiredSessionIsAbsent(t *testing.T) {
	withMemoryStorage(t, func(ctx context.Context, s *MemoryStorage) {
		require.NoError(t, s.SaveSession(ctx, &models.Session{
			ID:        "sid-old",
			Username:  "alice",
			ExpiresAt: time.Now().Add(-time.Minute),
		}))

		got, err := s.GetSession(ctx, "sid-old")
		require.NoError(t, err)
		assert.Nil(t, got)

		sessions, err := s.GetUserSessions(ctx, "alice")
		require.NoError(t, err)
		assert.Empty(t, sessions)

		s.cleanup()
		s.mu.RLock()
		assert.Empty(t, s.sessions)
		s.mu.RUnlock()
	})
}

func TestMemoryStorage_AuthorizationCodeIsSingleUse(t *testing.T) {
	withMemoryStorage(t, func(ctx context.Context, s *MemoryStorage) {
		require.NoError(t, s.SaveAuthorizationCode(ctx, &models.AuthorizationCode{
			Code:      "code-1",
			ClientID:  "web",
			Username:  "alice",
			ExpiresAt: time.Now().Add(time.Minute),
		}))

		got, err := s.ConsumeAuthorizationCode(ctx, "code-1")
		require.NoError(t, err)
		assert.Equal(t, "alice", got.Username)

		_, err = s.ConsumeAuthorizationCode(ctx, "code-1")
		assert.ErrorIs(t, err, ErrCodeNotFound)
	})
}

func TestMemoryStorage_ExpiredAuthorizationCode(t *testing.T) {
	withMemoryStorage(t, func(ctx context.Context, s *MemoryStorage) {
		require.NoError(t, s.SaveAuthorizationCode(ctx, &models.AuthorizationCode{
			Code:      "code-1",
			ExpiresAt: time.Now().Add(-time.Second),
		}))

		_, err := s.ConsumeAuthorizationCode(ctx, "code-1")
		assert.ErrorIs(t, err, ErrCodeNotFound)
	})
}
