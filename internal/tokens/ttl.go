// Package tokens builds the tokens handed out by the authorization server
// and keeps ID-token lifetimes aligned with the client configuration.
package tokens

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/andyleap/authsessions/internal/models"
)

// ErrUnknownClient is returned when an artifact names a client the registry does not hold
var ErrUnknownClient = errors.New("unknown client")

// IDTokenParameter is the response parameter an ID token is issued under
const IDTokenParameter = "id_token"

// ClientLookup resolves a registered client by its public client id
type ClientLookup interface {
	FindByClientID(clientID string) (*models.Client, bool)
}

// Artifact is a token under construction. Claims are modified in place.
type Artifact struct {
	Type     models.TokenKind
	Name     string
	ClientID string
	Claims   *jwt.RegisteredClaims
}

// IsIDToken reports whether the artifact is an ID token, by declared type or by parameter name
func (a *Artifact) IsIDToken() bool {
	return a.Type == models.TokenKindID || a.Name == IDTokenParameter
}

// Synchronizer sets an ID token's lifetime to the access-token TTL of the client it is issued to
type Synchronizer struct {
	clients ClientLookup
	now     func() time.Time
	logger  *slog.Logger
}

type SynchronizerOption func(*Synchronizer)

func WithClock(now func() time.Time) SynchronizerOption {
	return func(s *Synchronizer) {
		s.now = now
	}
}

func WithSynchronizerLogger(logger *slog.Logger) SynchronizerOption {
	return func(s *Synchronizer) {
		s.logger = logger
	}
}

func NewSynchronizer(clients ClientLookup, opts ...SynchronizerOption) *Synchronizer {
	s := &Synchronizer{
		clients: clients,
		now:     time.Now,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Apply rewrites issued-at and expires-at on ID-token artifacts. Any other
// artifact is left untouched and Apply reports false.
func (s *Synchronizer) Apply(a *Artifact) (bool, error) {
	if a == nil || !a.IsIDToken() {
		return false, nil
	}

	client, ok := s.clients.FindByClientID(a.ClientID)
	if !ok {
		return false, fmt.Errorf("%w: %s", ErrUnknownClient, a.ClientID)
	}
	if a.Claims == nil {
		a.Claims = &jwt.RegisteredClaims{}
	}

	issuedAt := s.now().Truncate(time.Second)
	a.Claims.IssuedAt = jwt.NewNumericDate(issuedAt)
	a.Claims.ExpiresAt = jwt.NewNumericDate(issuedAt.Add(client.AccessTokenTTL))

	s.logger.Info("ID token customized",
		"client_id", client.ClientID,
		"ttl_seconds", int64(client.AccessTokenTTL.Seconds()),
		"expires_at", a.Claims.ExpiresAt.Time,
	)
	return true, nil
}
