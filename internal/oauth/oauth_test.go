package oauth

import (
	"context"
	"io"
	"log/slog"
	"net/url"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/andyleap/authsessions/internal/clients"
	"github.com/andyleap/authsessions/internal/models"
	"github.com/andyleap/authsessions/internal/storage"
	"github.com/andyleap/authsessions/internal/tokens"
)

const redirect = "http://localhost:8080/callback"

type fixture struct {
	svc      *OAuthService
	store    *storage.AuthorizationStore
	registry *clients.Registry
	codes    storage.SessionStorage
	issuer   *tokens.Issuer
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	registry, err := clients.NewRegistry([]models.Client{
		{
			ID:                    "web-id",
			ClientID:              "web",
			Secret:                "{noop}secret",
			AuthenticationMethods: []models.ClientAuthenticationMethod{models.ClientSecretBasic},
			GrantTypes:            []models.GrantType{models.GrantAuthorizationCode, models.GrantRefreshToken},
			RedirectURIs:          []string{redirect},
			Scopes:                []string{"openid", "profile", "read"},
			AccessTokenTTL:        30 * time.Minute,
			RefreshTokenTTL:       time.Hour,
		},
		{
			ID:                    "spa-id",
			ClientID:              "spa",
			AuthenticationMethods: []models.ClientAuthenticationMethod{models.AuthMethodNone},
			GrantTypes:            []models.GrantType{models.GrantAuthorizationCode},
			RedirectURIs:          []string{redirect},
			Scopes:                []string{"read"},
			AccessTokenTTL:        time.Minute,
		},
		{
			ID:             "svc-id",
			ClientID:       "svc",
			Secret:         "{noop}svc-secret",
			GrantTypes:     []models.GrantType{models.GrantClientCredentials},
			Scopes:         []string{"read"},
			AccessTokenTTL: time.Minute,
		},
	})
	require.NoError(t, err)

	codes := storage.NewMemoryStorage()
	t.Cleanup(func() { codes.Close() })

	store := storage.NewAuthorizationStore(storage.WithLogger(logger))
	synchronizer := tokens.NewSynchronizer(registry, tokens.WithSynchronizerLogger(logger))
	issuer := tokens.NewIssuer(store, synchronizer, tokens.WithSigningKey([]byte("k")), tokens.WithIssuerLogger(logger))

	return &fixture{
		svc:      NewOAuthService(registry, codes, store, issuer, WithLogger(logger)),
		store:    store,
		registry: registry,
		codes:    codes,
		issuer:   issuer,
	}
}

func (f *fixture) client(t *testing.T, clientID string) *models.Client {
	t.Helper()
	c, ok := f.registry.FindByClientID(clientID)
	require.True(t, ok)
	return c
}

func (f *fixture) authorize(t *testing.T, scope string) *models.AuthorizationCode {
	t.Helper()
	req, err := f.svc.CreateAuthorizationRequest("web", redirect, "xyz", scope, "nonce-1")
	require.NoError(t, err)
	code, err := f.svc.CreateAuthorizationCode(context.Background(), req, "alice")
	require.NoError(t, err)
	return code
}

func TestCreateAuthorizationRequest(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	tests := []struct {
		name        string
		clientID    string
		redirectURI string
		scope       string
		wantErr     error
		wantScopes  []string
	}{
		{name: "defaults to client scopes", clientID: "web", redirectURI: redirect, wantScopes: []string{"openid", "profile", "read"}},
		{name: "narrowed scopes", clientID: "web", redirectURI: redirect, scope: "openid read", wantScopes: []string{"openid", "read"}},
		{name: "unknown client", clientID: "nope", redirectURI: redirect, wantErr: ErrInvalidClient},
		{name: "bad redirect", clientID: "web", redirectURI: "http://evil/cb", wantErr: ErrInvalidRequest},
		{name: "scope not allowed", clientID: "web", redirectURI: redirect, scope: "admin", wantErr: ErrInvalidScope},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			req, err := f.svc.CreateAuthorizationRequest(tt.clientID, tt.redirectURI, "s", tt.scope, "")
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantScopes, req.Scopes)
		})
	}
}

func TestAuthenticateClient(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	_, err := f.svc.AuthenticateClient("web", "secret")
	assert.NoError(t, err)
	_, err = f.svc.AuthenticateClient("web", "wrong")
	assert.ErrorIs(t, err, ErrInvalidClient)
	_, err = f.svc.AuthenticateClient("spa", "")
	assert.NoError(t, err)
	_, err = f.svc.AuthenticateClient("ghost", "x")
	assert.ErrorIs(t, err, ErrInvalidClient)
}

func TestExchangeAuthorizationCode(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	web := f.client(t, "web")
	code := f.authorize(t, "openid read")

	a, err := f.svc.ExchangeAuthorizationCode(context.Background(), web, code.Code, redirect)
	require.NoError(t, err)
	assert.Equal(t, "alice", a.PrincipalName)
	assert.Equal(t, []string{"openid", "read"}, a.AccessToken.Scopes)
	assert.NotNil(t, a.RefreshToken)
	assert.NotNil(t, a.IDToken)
	assert.Equal(t, "nonce-1", a.Attributes["nonce"])

	found, ok := f.store.FindByToken(a.AccessToken.Value, models.TokenKindAccess)
	require.True(t, ok)
	assert.Equal(t, a.ID, found.ID)

	// codes are single use
	_, err = f.svc.ExchangeAuthorizationCode(context.Background(), web, code.Code, redirect)
	assert.ErrorIs(t, err, ErrInvalidGrant)
}

func TestExchangeAuthorizationCode_Mismatch(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	code := f.authorize(t, "")

	_, err := f.svc.ExchangeAuthorizationCode(context.Background(), f.client(t, "spa"), code.Code, redirect)
	assert.ErrorIs(t, err, ErrInvalidGrant)

	code = f.authorize(t, "")
	_, err = f.svc.ExchangeAuthorizationCode(context.Background(), f.client(t, "web"), code.Code, "http://other/cb")
	assert.ErrorIs(t, err, ErrInvalidGrant)

	_, err = f.svc.ExchangeAuthorizationCode(context.Background(), f.client(t, "svc"), "whatever", redirect)
	assert.ErrorIs(t, err, ErrUnauthorizedClient)
}

func TestRefresh(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	web := f.client(t, "web")
	code := f.authorize(t, "read")

	first, err := f.svc.ExchangeAuthorizationCode(context.Background(), web, code.Code, redirect)
	require.NoError(t, err)

	second, err := f.svc.Refresh(web, first.RefreshToken.Value)
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)

	_, ok := f.store.FindByToken(first.AccessToken.Value, models.TokenKindAccess)
	assert.False(t, ok)

	// the old refresh token no longer works
	_, err = f.svc.Refresh(web, first.RefreshToken.Value)
	assert.ErrorIs(t, err, ErrInvalidGrant)

	_, err = f.svc.Refresh(f.client(t, "spa"), second.RefreshToken.Value)
	assert.ErrorIs(t, err, ErrUnauthorizedClient)
}

// revokingStore drops the authorization right after it is looked up by
// refresh token, as a concurrent revocation would.
type revokingStore struct {
	*storage.AuthorizationStore
}

func (s revokingStore) FindByToken(value string, kind models.TokenKind) (*models.Authorization, bool) {
	a, ok := s.AuthorizationStore.FindByToken(value, kind)
	if ok && kind == models.TokenKindRefresh {
		s.AuthorizationStore.RemoveByID(a.ID)
	}
	return a, ok
}

func TestRefresh_RevokedMidway(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	web := f.client(t, "web")
	code := f.authorize(t, "openid read")
	a, err := f.svc.ExchangeAuthorizationCode(context.Background(), web, code.Code, redirect)
	require.NoError(t, err)

	svc := NewOAuthService(f.registry, f.codes, revokingStore{f.store}, f.issuer,
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))

	_, err = svc.Refresh(web, a.RefreshToken.Value)
	assert.ErrorIs(t, err, ErrInvalidGrant)

	_, ok := f.store.FindByID(a.ID)
	assert.False(t, ok, "revoked authorization must stay revoked")
	assert.Empty(t, f.store.FindByPrincipal("alice"))
}

func TestRefresh_ConcurrentReuse(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	web := f.client(t, "web")
	code := f.authorize(t, "read")
	a, err := f.svc.ExchangeAuthorizationCode(context.Background(), web, code.Code, redirect)
	require.NoError(t, err)

	const attempts = 16
	var (
		wg        sync.WaitGroup
		succeeded atomic.Int32
	)
	for range attempts {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.svc.Refresh(web, a.RefreshToken.Value)
			if err == nil {
				succeeded.Add(1)
				return
			}
			assert.ErrorIs(t, err, ErrInvalidGrant)
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), succeeded.Load(), "a refresh token is good for exactly one rotation")
	assert.Len(t, f.store.FindByPrincipal("alice"), 1)
}

func TestClientCredentials(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	a, err := f.svc.ClientCredentials(f.client(t, "svc"), "read")
	require.NoError(t, err)
	assert.Equal(t, "client:svc", a.PrincipalName)
	assert.Equal(t, "svc", a.Subject())
	assert.Nil(t, a.RefreshToken)

	// a user named like the client does not see the client's authorization
	assert.Empty(t, f.store.FindByPrincipal("svc"))
	assert.Len(t, f.store.FindByPrincipal("client:svc"), 1)

	got := f.svc.Introspect(a.AccessToken.Value)
	assert.True(t, got.Active)
	assert.Equal(t, "svc", got.Sub)
	assert.Equal(t, "svc", got.ClientID)
	assert.Empty(t, got.Username)

	_, err = f.svc.ClientCredentials(f.client(t, "web"), "")
	assert.ErrorIs(t, err, ErrUnauthorizedClient)
}

func TestIntrospectAndRevoke(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	web := f.client(t, "web")
	code := f.authorize(t, "openid read")
	a, err := f.svc.ExchangeAuthorizationCode(context.Background(), web, code.Code, redirect)
	require.NoError(t, err)

	got := f.svc.Introspect(a.AccessToken.Value)
	assert.True(t, got.Active)
	assert.Equal(t, "web", got.ClientID)
	assert.Equal(t, "alice", got.Username)
	assert.Equal(t, "openid read", got.Scope)
	assert.Equal(t, string(models.TokenKindAccess), got.TokenType)

	got = f.svc.Introspect(a.RefreshToken.Value)
	assert.True(t, got.Active)
	assert.Equal(t, string(models.TokenKindRefresh), got.TokenType)

	assert.False(t, f.svc.Introspect("unknown").Active)

	// another client cannot revoke it
	require.NoError(t, f.svc.Revoke(f.client(t, "spa"), a.AccessToken.Value))
	assert.True(t, f.svc.Introspect(a.AccessToken.Value).Active)

	require.NoError(t, f.svc.Revoke(web, a.RefreshToken.Value))
	assert.False(t, f.svc.Introspect(a.AccessToken.Value).Active)
	assert.Empty(t, f.store.FindByPrincipal("alice"))

	require.NoError(t, f.svc.Revoke(web, "unknown"))
}

func TestIntrospect_Expired(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	require.NoError(t, f.store.Save(&models.Authorization{
		ID:            "old",
		PrincipalName: "alice",
		AccessToken:   &models.Token{Value: "stale", ExpiresAt: time.Now().Add(-time.Minute)},
	}))

	assert.False(t, f.svc.Introspect("stale").Active)
	// expiry is advisory, the record is still stored
	_, ok := f.store.FindByID("old")
	assert.True(t, ok)
}

func TestBuildRedirectURL(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	u, err := url.Parse(f.svc.BuildRedirectURL(redirect+"?x=1", "abc", "st"))
	require.NoError(t, err)
	assert.Equal(t, "abc", u.Query().Get("code"))
	assert.Equal(t, "st", u.Query().Get("state"))
	assert.Equal(t, "1", u.Query().Get("x"))

	u, err = url.Parse(f.svc.BuildErrorRedirectURL(redirect, "access_denied", "nope", ""))
	require.NoError(t, err)
	assert.Equal(t, "access_denied", u.Query().Get("error"))
	assert.Equal(t, "nope", u.Query().Get("error_description"))
	assert.False(t, u.Query().Has("state"))
}

func TestErrorCode(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "invalid_grant", ErrorCode(ErrInvalidGrant))
	assert.Equal(t, "invalid_scope", ErrorCode(ErrInvalidScope))
	assert.Equal(t, "server_error", ErrorCode(io.EOF))
}
