package storage

import (
	"context"
	"sync"
	"time"

	"github.com/andyleap/authsessions/internal/models"
)

const DefaultCleanupInterval = 5 * time.Minute

type MemoryStorage struct {
	sessions map[string]*models.Session
	codes    map[string]*models.AuthorizationCode
	mu       sync.RWMutex

	now         func() time.Time
	stopCleanup chan struct{}
	cleanupDone chan struct{}
}

func NewMemoryStorage() *MemoryStorage {
	return NewMemoryStorageWithInterval(DefaultCleanupInterval)
}

func NewMemoryStorageWithInterval(interval time.Duration) *MemoryStorage {
	storage := &MemoryStorage{
		sessions:    make(map[string]*models.Session),
		codes:       make(map[string]*models.AuthorizationCode),
		now:         time.Now,
		stopCleanup: make(chan struct{}),
		cleanupDone: make(chan struct{}),
	}

	// Start background cleanup routine
	go storage.cleanupRoutine(interval)

	return storage
}

// Close stops the cleanup routine and waits for it to exit
func (m *MemoryStorage) Close() error {
	close(m.stopCleanup)
	<-m.cleanupDone
	return nil
}

func (m *MemoryStorage) SaveSession(ctx context.Context, session *models.Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	stored := *session
	m.sessions[session.ID] = &stored
	return nil
}

func (m *MemoryStorage) GetSession(ctx context.Context, sessionID string) (*models.Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	session, exists := m.sessions[sessionID]
	if !exists || m.now().After(session.ExpiresAt) {
		return nil, nil
	}

	out := *session
	return &out, nil
}

func (m *MemoryStorage) DeleteSession(ctx context.Context, sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.sessions, sessionID)
	return nil
}

func (m *MemoryStorage) GetUserSessions(ctx context.Context, username string) ([]*models.Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	now := m.now()
	var userSessions []*models.Session
	for _, session := range m.sessions {
		if session.Username == username && now.Before(session.ExpiresAt) {
			out := *session
			userSessions = append(userSessions, &out)
		}
	}
	return userSessions, nil
}

func (m *MemoryStorage) SaveAuthorizationCode(ctx context.Context, code *models.AuthorizationCode) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	stored := *code
	m.codes[code.Code] = &stored
	return nil
}

func (m *MemoryStorage) ConsumeAuthorizationCode(ctx context.Context, code string) (*models.AuthorizationCode, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	stored, exists := m.codes[code]
	if !exists {
		return nil, ErrCodeNotFound
	}
	delete(m.codes, code)

	if m.now().After(stored.ExpiresAt) {
		return nil, ErrCodeNotFound
	}
	return stored, nil
}

// cleanupRoutine periodically drops expired login sessions and codes.
// Authorizations live in AuthorizationStore and are not touched here.
func (m *MemoryStorage) cleanupRoutine(interval time.Duration) {
	defer close(m.cleanupDone)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-m.stopCleanup:
			return
		case <-ticker.C:
			m.cleanup()
		}
	}
}

func (m *MemoryStorage) cleanup() {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()

	for sessionID, session := range m.sessions {
		if now.After(session.ExpiresAt) {
			delete(m.sessions, sessionID)
		}
	}

	for code, stored := range m.codes {
		if now.After(stored.ExpiresAt) {
			delete(m.codes, code)
		}
	}
}
