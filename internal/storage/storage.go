package storage

import (
	"context"
	"errors"

	"github.com/andyleap/authsessions/internal/models"
)

// ErrCodeNotFound is returned when an authorization code is unknown, expired or already used
var ErrCodeNotFound = errors.New("authorization code not found")

// SessionStorage holds login sessions and the short-lived authorization
// codes issued to them. Lookups of unknown or expired sessions return (nil, nil).
type SessionStorage interface {
	SaveSession(ctx context.Context, session *models.Session) error
	GetSession(ctx context.Context, sessionID string) (*models.Session, error)
	DeleteSession(ctx context.Context, sessionID string) error
	GetUserSessions(ctx context.Context, username string) ([]*models.Session, error)

	SaveAuthorizationCode(ctx context.Context, code *models.AuthorizationCode) error
	// ConsumeAuthorizationCode returns the code and deletes it in one step
	ConsumeAuthorizationCode(ctx context.Context, code string) (*models.AuthorizationCode, error)
}
