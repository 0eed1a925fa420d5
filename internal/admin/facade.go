// Package admin answers operational questions by joining the user
// directory with the authorization store. Nothing here mutates state
// except the revoke operations, which delegate to the store.
package admin

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/andyleap/authsessions/internal/models"
	"github.com/andyleap/authsessions/internal/storage"
	"github.com/andyleap/authsessions/internal/users"
)

// Directory is the read side of the user directory the facade needs
type Directory interface {
	Usernames() []string
	GetByUsername(name string) (*models.User, error)
}

// Store is the subset of the authorization store the facade needs
type Store interface {
	FindByID(id string) (*models.Authorization, bool)
	FindByToken(value string, kind models.TokenKind) (*models.Authorization, bool)
	FindByPrincipal(name string) []*models.Authorization
	Remove(a *models.Authorization) error
}

// RevocationObserver is told about every successful administrative revocation
type RevocationObserver interface {
	TokenRevoked(kind models.TokenKind)
}

// SessionView pairs a redacted user with the token metadata of their
// current authorizations
type SessionView struct {
	User           *models.User `json:"user"`
	Authorizations []TokenInfo  `json:"authorizations"`
}

// TokenView is token metadata as shown to an operator
type TokenView struct {
	Value     string    `json:"tokenValue,omitempty"`
	ExpiresAt time.Time `json:"expiresAt"`
	Scopes    []string  `json:"scopes,omitempty"`
	Expired   bool      `json:"expired"`
}

// TokenInfo describes one authorization of a user
type TokenInfo struct {
	ID                 string           `json:"id"`
	RegisteredClientID string           `json:"registeredClientId"`
	GrantType          models.GrantType `json:"authorizationGrantType"`
	AccessToken        *TokenView       `json:"accessToken,omitempty"`
	RefreshToken       *TokenView       `json:"refreshToken,omitempty"`
}

type Facade struct {
	directory Directory
	store     Store
	now       func() time.Time
	logger    *slog.Logger
	observers []RevocationObserver
}

type Option func(*Facade)

func WithLogger(logger *slog.Logger) Option {
	return func(f *Facade) {
		f.logger = logger
	}
}

func WithClock(now func() time.Time) Option {
	return func(f *Facade) {
		f.now = now
	}
}

func WithRevocationObserver(observer RevocationObserver) Option {
	return func(f *Facade) {
		f.observers = append(f.observers, observer)
	}
}

func NewFacade(directory Directory, store Store, opts ...Option) *Facade {
	f := &Facade{
		directory: directory,
		store:     store,
		now:       time.Now,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// ListActiveSessions returns a view for every known user holding at least
// one authorization, in directory order. Access token values are masked
// unless reveal is set.
func (f *Facade) ListActiveSessions(reveal bool) []SessionView {
	now := f.now()
	views := []SessionView{}
	for _, name := range f.directory.Usernames() {
		auths := f.store.FindByPrincipal(name)
		if len(auths) == 0 {
			continue
		}
		user, err := f.directory.GetByUsername(name)
		if err != nil {
			continue
		}
		views = append(views, SessionView{User: user, Authorizations: project(auths, reveal, now)})
	}
	return views
}

// GetSession returns the view for one user. The authorization list may be
// empty; User is nil when the directory does not know the name.
func (f *Facade) GetSession(username string, reveal bool) SessionView {
	view := SessionView{Authorizations: project(f.store.FindByPrincipal(username), reveal, f.now())}
	user, err := f.directory.GetByUsername(username)
	switch {
	case err == nil:
		view.User = user
	case !errors.Is(err, users.ErrUserNotFound):
		f.logger.Error("Failed to look up user", "username", username, "error", err)
	}
	return view
}

// RevokeByTokenValue removes the authorization holding token as an access
// token, or failing that as a refresh token.
func (f *Facade) RevokeByTokenValue(token string) (*models.Authorization, error) {
	for _, kind := range []models.TokenKind{models.TokenKindAccess, models.TokenKindRefresh} {
		a, ok := f.store.FindByToken(token, kind)
		if !ok {
			continue
		}
		if err := f.revoke(a, kind); err != nil {
			return nil, err
		}
		return a, nil
	}
	return nil, storage.ErrNotFound
}

// RevokeAccessToken removes the authorization holding token as an access token
func (f *Facade) RevokeAccessToken(token string) (*models.Authorization, error) {
	a, ok := f.store.FindByToken(token, models.TokenKindAccess)
	if !ok {
		return nil, storage.ErrNotFound
	}
	if err := f.revoke(a, models.TokenKindAccess); err != nil {
		return nil, err
	}
	return a, nil
}

// RevokeByAuthorizationID removes one authorization by its id
func (f *Facade) RevokeByAuthorizationID(id string) (*models.Authorization, error) {
	a, ok := f.store.FindByID(id)
	if !ok {
		return nil, storage.ErrNotFound
	}
	if err := f.revoke(a, models.TokenKindAccess); err != nil {
		return nil, err
	}
	return a, nil
}

// ListTokens projects the authorizations of username. Token values are
// returned as stored when reveal is set and masked otherwise.
func (f *Facade) ListTokens(username string, reveal bool) []TokenInfo {
	return project(f.store.FindByPrincipal(username), reveal, f.now())
}

// project never copies refresh or ID token values.
func project(auths []*models.Authorization, reveal bool, now time.Time) []TokenInfo {
	out := make([]TokenInfo, 0, len(auths))
	for _, a := range auths {
		info := TokenInfo{
			ID:                 a.ID,
			RegisteredClientID: a.RegisteredClientID,
			GrantType:          a.GrantType,
		}
		if a.AccessToken != nil {
			info.AccessToken = &TokenView{
				Value:     maybeMask(a.AccessToken.Value, reveal),
				ExpiresAt: a.AccessToken.ExpiresAt,
				Scopes:    a.AccessToken.Scopes,
				Expired:   a.AccessToken.Expired(now),
			}
		}
		if a.RefreshToken != nil {
			info.RefreshToken = &TokenView{
				ExpiresAt: a.RefreshToken.ExpiresAt,
				Expired:   a.RefreshToken.Expired(now),
			}
		}
		out = append(out, info)
	}
	return out
}

func (f *Facade) revoke(a *models.Authorization, kind models.TokenKind) error {
	if err := f.store.Remove(a); err != nil {
		return fmt.Errorf("failed to revoke authorization %s: %w", a.ID, err)
	}
	f.logger.Info("Token revoked", "authorization_id", a.ID, "username", a.PrincipalName, "token_type", kind)
	for _, o := range f.observers {
		o.TokenRevoked(kind)
	}
	return nil
}

// MaskToken keeps the first four characters of a token value
func MaskToken(value string) string {
	if len(value) <= 4 {
		return "..."
	}
	return value[:4] + "..."
}

func maybeMask(value string, reveal bool) string {
	if reveal {
		return value
	}
	return MaskToken(value)
}
