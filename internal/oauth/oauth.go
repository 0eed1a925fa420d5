package oauth

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"slices"
	"strings"
	"time"

	"github.com/andyleap/authsessions/internal/credential"
	"github.com/andyleap/authsessions/internal/models"
	"github.com/andyleap/authsessions/internal/storage"
	"github.com/andyleap/authsessions/internal/tokens"
)

const codeTTL = 10 * time.Minute

// OAuth error codes as sent on the wire
var (
	ErrInvalidRequest       = errors.New("invalid_request")
	ErrInvalidClient        = errors.New("invalid_client")
	ErrInvalidGrant         = errors.New("invalid_grant")
	ErrInvalidScope         = errors.New("invalid_scope")
	ErrUnauthorizedClient   = errors.New("unauthorized_client")
	ErrUnsupportedGrantType = errors.New("unsupported_grant_type")
)

// ErrorCode returns the OAuth error code carried by err
func ErrorCode(err error) string {
	for _, known := range []error{
		ErrInvalidRequest, ErrInvalidClient, ErrInvalidGrant,
		ErrInvalidScope, ErrUnauthorizedClient, ErrUnsupportedGrantType,
	} {
		if errors.Is(err, known) {
			return known.Error()
		}
	}
	return "server_error"
}

// ClientRegistry looks up registered clients
type ClientRegistry interface {
	FindByID(id string) (*models.Client, bool)
	FindByClientID(clientID string) (*models.Client, bool)
}

// AuthorizationStore is the subset of the session store the grants need
type AuthorizationStore interface {
	FindByToken(value string, kind models.TokenKind) (*models.Authorization, bool)
	FindByAnyToken(value string) (*models.Authorization, models.TokenKind, bool)
	Remove(a *models.Authorization) error
}

type OAuthService struct {
	clients ClientRegistry
	codes   storage.SessionStorage
	store   AuthorizationStore
	issuer  *tokens.Issuer
	now     func() time.Time
	logger  *slog.Logger
}

type Option func(*OAuthService)

func WithClock(now func() time.Time) Option {
	return func(o *OAuthService) {
		o.now = now
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(o *OAuthService) {
		o.logger = logger
	}
}

func NewOAuthService(clients ClientRegistry, codes storage.SessionStorage, store AuthorizationStore, issuer *tokens.Issuer, opts ...Option) *OAuthService {
	o := &OAuthService{
		clients: clients,
		codes:   codes,
		store:   store,
		issuer:  issuer,
		now:     time.Now,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// ValidateAuthorizationRequest checks the client id and redirect URI of an authorization request
func (o *OAuthService) ValidateAuthorizationRequest(clientID, redirectURI string) (*models.Client, error) {
	client, exists := o.clients.FindByClientID(clientID)
	if !exists {
		return nil, fmt.Errorf("%w: unknown client_id", ErrInvalidClient)
	}
	if !client.HasRedirectURI(redirectURI) {
		return nil, fmt.Errorf("%w: invalid redirect_uri", ErrInvalidRequest)
	}
	return client, nil
}

// CreateAuthorizationRequest validates a request and narrows its scopes to what the client allows
func (o *OAuthService) CreateAuthorizationRequest(clientID, redirectURI, state, scope, nonce string) (*models.AuthorizationRequest, error) {
	client, err := o.ValidateAuthorizationRequest(clientID, redirectURI)
	if err != nil {
		return nil, err
	}
	if !client.HasGrantType(models.GrantAuthorizationCode) {
		return nil, fmt.Errorf("%w: authorization_code not allowed", ErrUnauthorizedClient)
	}

	scopes, err := o.checkScopes(client, scope)
	if err != nil {
		return nil, err
	}

	now := o.now()
	return &models.AuthorizationRequest{
		ClientID:    client.ClientID,
		RedirectURI: redirectURI,
		State:       state,
		Scopes:      scopes,
		Nonce:       nonce,
		CreatedAt:   now,
		ExpiresAt:   now.Add(codeTTL),
	}, nil
}

// CreateAuthorizationCode creates a single-use code for an authenticated user
func (o *OAuthService) CreateAuthorizationCode(ctx context.Context, request *models.AuthorizationRequest, username string) (*models.AuthorizationCode, error) {
	now := o.now()
	code := &models.AuthorizationCode{
		Code:        generateRandomCode(32),
		ClientID:    request.ClientID,
		RedirectURI: request.RedirectURI,
		State:       request.State,
		Scopes:      slices.Clone(request.Scopes),
		Nonce:       request.Nonce,
		Username:    username,
		CreatedAt:   now,
		ExpiresAt:   now.Add(codeTTL),
	}

	if err := o.codes.SaveAuthorizationCode(ctx, code); err != nil {
		return nil, fmt.Errorf("failed to save authorization code: %w", err)
	}
	return code, nil
}

// AuthenticateClient verifies a client's secret. Clients registered with the
// "none" method may authenticate without one.
func (o *OAuthService) AuthenticateClient(clientID, secret string) (*models.Client, error) {
	client, ok := o.clients.FindByClientID(clientID)
	if !ok {
		return nil, fmt.Errorf("%w: unknown client", ErrInvalidClient)
	}
	if secret == "" && client.HasAuthenticationMethod(models.AuthMethodNone) {
		return client, nil
	}
	if client.Secret == "" {
		return nil, fmt.Errorf("%w: client has no secret", ErrInvalidClient)
	}
	if err := credential.Verify(client.Secret, secret); err != nil {
		return nil, fmt.Errorf("%w: bad credentials", ErrInvalidClient)
	}
	return client, nil
}

// ExchangeAuthorizationCode redeems a code and issues a new authorization
func (o *OAuthService) ExchangeAuthorizationCode(ctx context.Context, client *models.Client, code, redirectURI string) (*models.Authorization, error) {
	if !client.HasGrantType(models.GrantAuthorizationCode) {
		return nil, fmt.Errorf("%w: authorization_code not allowed", ErrUnauthorizedClient)
	}

	authCode, err := o.codes.ConsumeAuthorizationCode(ctx, code)
	if errors.Is(err, storage.ErrCodeNotFound) {
		return nil, fmt.Errorf("%w: invalid or expired authorization code", ErrInvalidGrant)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get authorization code: %w", err)
	}
	if authCode.ClientID != client.ClientID || authCode.RedirectURI != redirectURI {
		return nil, fmt.Errorf("%w: code was issued to another client or redirect_uri", ErrInvalidGrant)
	}

	a, err := o.issuer.Issue(tokens.Request{
		Client:    client,
		Principal: authCode.Username,
		GrantType: models.GrantAuthorizationCode,
		Scopes:    authCode.Scopes,
		Nonce:     authCode.Nonce,
	})
	if err != nil {
		return nil, err
	}
	o.logger.Info("Authorization code exchanged", "client_id", client.ClientID, "username", authCode.Username)
	return a, nil
}

// Refresh rotates the tokens of the authorization holding refreshToken
func (o *OAuthService) Refresh(client *models.Client, refreshToken string) (*models.Authorization, error) {
	if !client.HasGrantType(models.GrantRefreshToken) {
		return nil, fmt.Errorf("%w: refresh_token not allowed", ErrUnauthorizedClient)
	}

	prev, ok := o.store.FindByToken(refreshToken, models.TokenKindRefresh)
	if !ok || prev.RegisteredClientID != client.ID {
		return nil, fmt.Errorf("%w: unknown refresh token", ErrInvalidGrant)
	}
	if prev.RefreshToken.Expired(o.now()) {
		return nil, fmt.Errorf("%w: refresh token expired", ErrInvalidGrant)
	}

	next, err := o.issuer.Rotate(prev, client)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("%w: refresh token was revoked or already used", ErrInvalidGrant)
	}
	if err != nil {
		return nil, err
	}
	o.logger.Info("Tokens refreshed", "client_id", client.ClientID, "username", prev.PrincipalName)
	return next, nil
}

// ClientCredentials issues an authorization the client holds for itself. Its
// principal is namespaced with models.ClientPrincipalPrefix.
func (o *OAuthService) ClientCredentials(client *models.Client, scope string) (*models.Authorization, error) {
	if !client.HasGrantType(models.GrantClientCredentials) {
		return nil, fmt.Errorf("%w: client_credentials not allowed", ErrUnauthorizedClient)
	}
	scopes, err := o.checkScopes(client, scope)
	if err != nil {
		return nil, err
	}
	return o.issuer.Issue(tokens.Request{
		Client:    client,
		Principal: models.ClientPrincipal(client.ClientID),
		Subject:   client.ClientID,
		GrantType: models.GrantClientCredentials,
		Scopes:    scopes,
	})
}

// Introspection is the RFC 7662 response body
type Introspection struct {
	Active    bool   `json:"active"`
	Scope     string `json:"scope,omitempty"`
	ClientID  string `json:"client_id,omitempty"`
	Username  string `json:"username,omitempty"`
	TokenType string `json:"token_type,omitempty"`
	Exp       int64  `json:"exp,omitempty"`
	Iat       int64  `json:"iat,omitempty"`
	Sub       string `json:"sub,omitempty"`
}

// Introspect reports whether token is live. Unknown and expired tokens are inactive.
func (o *OAuthService) Introspect(token string) *Introspection {
	a, kind, ok := o.store.FindByAnyToken(token)
	if !ok {
		return &Introspection{}
	}
	t := a.Token(kind)
	if t.Expired(o.now()) {
		return &Introspection{}
	}

	result := &Introspection{
		Active:    true,
		Scope:     strings.Join(t.Scopes, " "),
		Username:  a.PrincipalName,
		TokenType: string(kind),
		Iat:       t.IssuedAt.Unix(),
		Sub:       a.Subject(),
	}
	if !t.ExpiresAt.IsZero() {
		result.Exp = t.ExpiresAt.Unix()
	}
	if result.Scope == "" && a.AccessToken != nil {
		result.Scope = strings.Join(a.AccessToken.Scopes, " ")
	}
	if a.GrantType == models.GrantClientCredentials {
		result.Username = ""
	}
	if client, ok := o.clients.FindByID(a.RegisteredClientID); ok {
		result.ClientID = client.ClientID
	}
	return result
}

// Revoke drops the authorization holding token if it belongs to client.
// Unknown tokens are ignored.
func (o *OAuthService) Revoke(client *models.Client, token string) error {
	a, kind, ok := o.store.FindByAnyToken(token)
	if !ok {
		return nil
	}
	if a.RegisteredClientID != client.ID {
		o.logger.Warn("Client tried to revoke a token it does not own", "client_id", client.ClientID)
		return nil
	}
	if err := o.store.Remove(a); err != nil {
		return fmt.Errorf("failed to revoke authorization: %w", err)
	}
	o.logger.Info("Token revoked", "client_id", client.ClientID, "token_type", kind, "username", a.PrincipalName)
	return nil
}

func (o *OAuthService) checkScopes(client *models.Client, scope string) ([]string, error) {
	requested := strings.Fields(scope)
	if len(requested) == 0 {
		return slices.Clone(client.Scopes), nil
	}
	for _, s := range requested {
		if !client.HasScope(s) {
			return nil, fmt.Errorf("%w: %s", ErrInvalidScope, s)
		}
	}
	return requested, nil
}

// BuildRedirectURL builds the callback URL with code and state
func (o *OAuthService) BuildRedirectURL(redirectURI, code, state string) string {
	u, err := url.Parse(redirectURI)
	if err != nil {
		return redirectURI // fallback
	}

	q := u.Query()
	q.Set("code", code)
	if state != "" {
		q.Set("state", state)
	}
	u.RawQuery = q.Encode()

	return u.String()
}

// BuildErrorRedirectURL builds a callback URL with error information
func (o *OAuthService) BuildErrorRedirectURL(redirectURI, errorCode, errorDescription, state string) string {
	u, err := url.Parse(redirectURI)
	if err != nil {
		return redirectURI // fallback
	}

	q := u.Query()
	q.Set("error", errorCode)
	if errorDescription != "" {
		q.Set("error_description", errorDescription)
	}
	if state != "" {
		q.Set("state", state)
	}
	u.RawQuery = q.Encode()

	return u.String()
}

func generateRandomCode(length int) string {
	bytes := make([]byte, length)
	rand.Read(bytes)
	return hex.EncodeToString(bytes)
}
