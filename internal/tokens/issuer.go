package tokens

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/andyleap/authsessions/internal/models"
)

const (
	// ScopeOpenID triggers ID-token issuance
	ScopeOpenID = "openid"
	// AttributeScope holds the space separated granted scopes
	AttributeScope = "scope"

	defaultIDTokenTTL = 30 * time.Minute
)

// ErrInvalidIDToken is returned when an ID token fails signature or claim checks
var ErrInvalidIDToken = errors.New("invalid id token")

// Store persists issued authorizations. Replace must refuse to swap in a
// rotation when prev is no longer the stored version.
type Store interface {
	Save(a *models.Authorization) error
	Replace(prev, next *models.Authorization) error
}

// IDTokenClaims are the claims signed into an ID token
type IDTokenClaims struct {
	jwt.RegisteredClaims
	Nonce string `json:"nonce,omitempty"`
	Scope string `json:"scope,omitempty"`
}

// Request describes one issuance. Subject defaults to Principal.
type Request struct {
	Client    *models.Client
	Principal string
	Subject   string
	GrantType models.GrantType
	Scopes    []string
	Nonce     string
}

func (r Request) subject() string {
	if r.Subject != "" {
		return r.Subject
	}
	return r.Principal
}

// Issuer mints opaque access and refresh tokens, signs ID tokens and saves
// the resulting authorization.
type Issuer struct {
	store      Store
	sync       *Synchronizer
	issuerURL  string
	signingKey []byte
	idTokenTTL time.Duration
	now        func() time.Time
	logger     *slog.Logger
}

type IssuerOption func(*Issuer)

func WithIssuerURL(url string) IssuerOption {
	return func(i *Issuer) {
		i.issuerURL = url
	}
}

func WithSigningKey(key []byte) IssuerOption {
	return func(i *Issuer) {
		i.signingKey = key
	}
}

func WithIssuerClock(now func() time.Time) IssuerOption {
	return func(i *Issuer) {
		i.now = now
	}
}

func WithIssuerLogger(logger *slog.Logger) IssuerOption {
	return func(i *Issuer) {
		i.logger = logger
	}
}

func NewIssuer(store Store, sync *Synchronizer, opts ...IssuerOption) *Issuer {
	i := &Issuer{
		store:      store,
		sync:       sync,
		idTokenTTL: defaultIDTokenTTL,
		now:        time.Now,
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(i)
	}
	if len(i.signingKey) == 0 {
		i.logger.Warn("No ID token signing key configured, generating an ephemeral one")
		i.signingKey = []byte(randomToken(32))
	}
	return i
}

// Issue builds a new authorization for req and saves it
func (i *Issuer) Issue(req Request) (*models.Authorization, error) {
	if req.Client == nil {
		return nil, fmt.Errorf("%w: nil client", ErrUnknownClient)
	}

	now := i.now()
	a := &models.Authorization{
		ID:                 uuid.NewString(),
		PrincipalName:      req.Principal,
		RegisteredClientID: req.Client.ID,
		GrantType:          req.GrantType,
		Attributes: map[string]any{
			models.AttributeSubject: req.subject(),
			AttributeScope:          strings.Join(req.Scopes, " "),
		},
		CreatedAt: now,
	}
	if err := i.mint(a, req, now); err != nil {
		return nil, err
	}

	if err := i.store.Save(a); err != nil {
		return nil, fmt.Errorf("failed to save authorization: %w", err)
	}
	return a, nil
}

// Rotate reissues every token of prev under the same id and replaces prev in
// the store, so the old token values stop resolving. The store error is
// wrapped when prev was revoked or rotated in the meantime.
func (i *Issuer) Rotate(prev *models.Authorization, client *models.Client) (*models.Authorization, error) {
	if prev == nil || client == nil {
		return nil, fmt.Errorf("%w: nothing to rotate", ErrUnknownClient)
	}

	var scopes []string
	if prev.AccessToken != nil {
		scopes = slices.Clone(prev.AccessToken.Scopes)
	}
	nonce, _ := prev.Attributes["nonce"].(string)

	next := prev.Clone()
	next.AccessToken, next.RefreshToken, next.IDToken = nil, nil, nil
	req := Request{
		Client:    client,
		Principal: prev.PrincipalName,
		Subject:   prev.Subject(),
		GrantType: prev.GrantType,
		Scopes:    scopes,
		Nonce:     nonce,
	}
	if err := i.mint(next, req, i.now()); err != nil {
		return nil, err
	}

	if err := i.store.Replace(prev, next); err != nil {
		return nil, fmt.Errorf("failed to save rotated authorization: %w", err)
	}
	return next, nil
}

func (i *Issuer) mint(a *models.Authorization, req Request, now time.Time) error {
	a.AccessToken = &models.Token{
		Value:     randomToken(32),
		IssuedAt:  now,
		ExpiresAt: now.Add(req.Client.AccessTokenTTL),
		Scopes:    slices.Clone(req.Scopes),
	}

	if req.Client.HasGrantType(models.GrantRefreshToken) && req.GrantType != models.GrantClientCredentials {
		a.RefreshToken = &models.Token{
			Value:     randomToken(48),
			IssuedAt:  now,
			ExpiresAt: now.Add(req.Client.RefreshTokenTTL),
		}
	}

	if slices.Contains(req.Scopes, ScopeOpenID) && req.GrantType != models.GrantClientCredentials {
		idToken, err := i.signIDToken(req, now)
		if err != nil {
			return err
		}
		a.IDToken = idToken
		if req.Nonce != "" {
			if a.Attributes == nil {
				a.Attributes = map[string]any{}
			}
			a.Attributes["nonce"] = req.Nonce
		}
	}
	return nil
}

func (i *Issuer) signIDToken(req Request, now time.Time) (*models.Token, error) {
	claims := &IDTokenClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    i.issuerURL,
			Subject:   req.subject(),
			Audience:  jwt.ClaimStrings{req.Client.ClientID},
			ID:        uuid.NewString(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(i.idTokenTTL)),
		},
		Nonce: req.Nonce,
		Scope: strings.Join(req.Scopes, " "),
	}

	artifact := &Artifact{
		Type:     models.TokenKindID,
		Name:     IDTokenParameter,
		ClientID: req.Client.ClientID,
		Claims:   &claims.RegisteredClaims,
	}
	if _, err := i.sync.Apply(artifact); err != nil {
		return nil, fmt.Errorf("failed to customize id token: %w", err)
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.signingKey)
	if err != nil {
		return nil, fmt.Errorf("failed to sign id token: %w", err)
	}

	return &models.Token{
		Value:     signed,
		IssuedAt:  claims.IssuedAt.Time,
		ExpiresAt: claims.ExpiresAt.Time,
		Scopes:    slices.Clone(req.Scopes),
	}, nil
}

// ParseIDToken verifies an ID token signed by this issuer and returns its claims
func (i *Issuer) ParseIDToken(raw string) (*IDTokenClaims, error) {
	claims := &IDTokenClaims{}
	_, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (any, error) {
		return i.signingKey, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(i.now),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidIDToken, err)
	}
	return claims, nil
}

func randomToken(length int) string {
	bytes := make([]byte, length)
	rand.Read(bytes)
	return hex.EncodeToString(bytes)
}
