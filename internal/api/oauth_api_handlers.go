package api

import (
	"errors"
	"log/slog"
	"mime"
	"net/http"

	"github.com/andyleap/authsessions/internal/models"
	"github.com/andyleap/authsessions/internal/oauth"
	"github.com/andyleap/authsessions/internal/tokens"
)

type OAuthAPIHandlers struct {
	oauthService *oauth.OAuthService
}

func NewOAuthAPIHandlers(oauthService *oauth.OAuthService) *OAuthAPIHandlers {
	return &OAuthAPIHandlers{
		oauthService: oauthService,
	}
}

// tokenResponse is the RFC 6749 section 5.1 body
type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int64  `json:"expires_in"`
	RefreshToken string `json:"refresh_token,omitempty"`
	IDToken      string `json:"id_token,omitempty"`
	Scope        string `json:"scope,omitempty"`
}

func newTokenResponse(a *models.Authorization) tokenResponse {
	resp := tokenResponse{
		AccessToken: a.AccessToken.Value,
		TokenType:   "Bearer",
		ExpiresIn:   int64(a.AccessToken.ExpiresAt.Sub(a.AccessToken.IssuedAt).Seconds()),
	}
	if scope, ok := a.Attributes[tokens.AttributeScope].(string); ok {
		resp.Scope = scope
	}
	if a.RefreshToken != nil {
		resp.RefreshToken = a.RefreshToken.Value
	}
	if a.IDToken != nil {
		resp.IDToken = a.IDToken.Value
	}
	return resp
}

func writeOAuthError(w http.ResponseWriter, err error) {
	code := oauth.ErrorCode(err)
	status := http.StatusBadRequest
	switch code {
	case "invalid_client":
		status = http.StatusUnauthorized
		w.Header().Set("WWW-Authenticate", `Basic realm="oauth2"`)
	case "server_error":
		slog.Error("OAuth request failed", "error", err)
		status = http.StatusInternalServerError
	}
	writeJSON(w, status, map[string]string{
		"error":             code,
		"error_description": err.Error(),
	})
}

// authenticateClient accepts client_secret_basic or client_secret_post credentials
func (oh *OAuthAPIHandlers) authenticateClient(r *http.Request) (*models.Client, error) {
	clientID, secret, ok := r.BasicAuth()
	if !ok {
		clientID = r.PostForm.Get("client_id")
		secret = r.PostForm.Get("client_secret")
	}
	if clientID == "" {
		return nil, oauth.ErrInvalidClient
	}
	return oh.oauthService.AuthenticateClient(clientID, secret)
}

// AuthorizeHandler issues an authorization code to the logged-in user
// POST /oauth2/authorize
func (oh *OAuthAPIHandlers) AuthorizeHandler(w http.ResponseWriter, r *http.Request) {
	session, _ := SessionFromContext(r.Context())

	var clientID, redirectURI, state, scope, nonce string
	if err := decodeBody(r, map[string]*string{
		"client_id":    &clientID,
		"redirect_uri": &redirectURI,
		"state":        &state,
		"scope":        &scope,
		"nonce":        &nonce,
	}); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if clientID == "" || redirectURI == "" {
		writeError(w, http.StatusBadRequest, "client_id and redirect_uri are required")
		return
	}

	authRequest, err := oh.oauthService.CreateAuthorizationRequest(clientID, redirectURI, state, scope, nonce)
	if err != nil {
		// an unverified redirect_uri is never followed
		if errors.Is(err, oauth.ErrInvalidClient) || errors.Is(err, oauth.ErrInvalidRequest) {
			writeOAuthError(w, err)
			return
		}
		oh.respondRedirect(w, r, oh.oauthService.BuildErrorRedirectURL(redirectURI, oauth.ErrorCode(err), err.Error(), state))
		return
	}

	authCode, err := oh.oauthService.CreateAuthorizationCode(r.Context(), authRequest, session.Username)
	if err != nil {
		slog.Error("Failed to create authorization code", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to create authorization code")
		return
	}

	oh.respondRedirect(w, r, oh.oauthService.BuildRedirectURL(redirectURI, authCode.Code, state))
}

// respondRedirect answers JSON callers with the URL and browsers with a 302
func (oh *OAuthAPIHandlers) respondRedirect(w http.ResponseWriter, r *http.Request, redirectURL string) {
	if mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type")); mediaType == "application/json" {
		writeJSON(w, http.StatusOK, map[string]string{"redirect_url": redirectURL})
		return
	}
	http.Redirect(w, r, redirectURL, http.StatusFound)
}

// TokenHandler handles the authorization_code, refresh_token and client_credentials grants
// POST /oauth2/token
func (oh *OAuthAPIHandlers) TokenHandler(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		writeOAuthError(w, oauth.ErrInvalidRequest)
		return
	}

	client, err := oh.authenticateClient(r)
	if err != nil {
		writeOAuthError(w, err)
		return
	}

	var a *models.Authorization
	switch grant := models.GrantType(r.PostForm.Get("grant_type")); grant {
	case models.GrantAuthorizationCode:
		a, err = oh.oauthService.ExchangeAuthorizationCode(r.Context(), client, r.PostForm.Get("code"), r.PostForm.Get("redirect_uri"))
	case models.GrantRefreshToken:
		a, err = oh.oauthService.Refresh(client, r.PostForm.Get("refresh_token"))
	case models.GrantClientCredentials:
		a, err = oh.oauthService.ClientCredentials(client, r.PostForm.Get("scope"))
	default:
		err = oauth.ErrUnsupportedGrantType
	}
	if err != nil {
		writeOAuthError(w, err)
		return
	}

	w.Header().Set("Cache-Control", "no-store")
	writeJSON(w, http.StatusOK, newTokenResponse(a))
}

// IntrospectHandler reports token state to authenticated clients
// POST /oauth2/introspect
func (oh *OAuthAPIHandlers) IntrospectHandler(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		writeOAuthError(w, oauth.ErrInvalidRequest)
		return
	}
	if _, err := oh.authenticateClient(r); err != nil {
		writeOAuthError(w, err)
		return
	}

	token := r.PostForm.Get("token")
	if token == "" {
		writeOAuthError(w, oauth.ErrInvalidRequest)
		return
	}
	writeJSON(w, http.StatusOK, oh.oauthService.Introspect(token))
}

// RevokeHandler revokes a token owned by the calling client. Unknown tokens still get a 200.
// POST /oauth2/revoke
func (oh *OAuthAPIHandlers) RevokeHandler(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		writeOAuthError(w, oauth.ErrInvalidRequest)
		return
	}
	client, err := oh.authenticateClient(r)
	if err != nil {
		writeOAuthError(w, err)
		return
	}

	if err := oh.oauthService.Revoke(client, r.PostForm.Get("token")); err != nil {
		writeOAuthError(w, err)
		return
	}
	w.WriteHeader(http.StatusOK)
}
