package ui

import (
	"embed"
	"fmt"
	"html/template"
	"log/slog"
	"net/http"
	"strings"

	"github.com/andyleap/authsessions/internal/api"
	"github.com/andyleap/authsessions/internal/models"
	"github.com/andyleap/authsessions/internal/oauth"
)

//go:embed templates/*.html
var templatesFS embed.FS

type OAuthUIHandlers struct {
	oauthService *oauth.OAuthService
	templates    *template.Template
}

func NewOAuthUIHandlers(oauthService *oauth.OAuthService) (*OAuthUIHandlers, error) {
	// Parse embedded templates
	templates, err := template.ParseFS(templatesFS, "templates/*.html")
	if err != nil {
		return nil, fmt.Errorf("failed to parse embedded templates: %w", err)
	}

	return &OAuthUIHandlers{
		oauthService: oauthService,
		templates:    templates,
	}, nil
}

// AuthorizeHandler is the browser entry point of the authorization code flow.
// Anonymous callers get the login page, logged-in callers the consent page.
// GET /oauth2/authorize?client_id=web&redirect_uri=https://app/callback&state=xyz&scope=openid
func (oh *OAuthUIHandlers) AuthorizeHandler(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	clientID := q.Get("client_id")
	redirectURI := q.Get("redirect_uri")
	state := q.Get("state")

	if clientID == "" {
		oh.renderErrorPage(w, "Invalid Request", "client_id is required")
		return
	}
	if redirectURI == "" {
		oh.renderErrorPage(w, "Invalid Request", "redirect_uri is required")
		return
	}
	if rt := q.Get("response_type"); rt != "" && rt != "code" {
		oh.renderErrorPage(w, "Invalid Request", "only response_type=code is supported")
		return
	}

	// For invalid client or redirect_uri, we can't redirect back, so show error page
	client, err := oh.oauthService.ValidateAuthorizationRequest(clientID, redirectURI)
	if err != nil {
		oh.renderErrorPage(w, "Invalid Request", fmt.Sprintf("Error: %s", err.Error()))
		return
	}

	session, ok := api.SessionFromContext(r.Context())
	if !ok {
		oh.render(w, "login.html", struct {
			ClientName string
			Redirect   string
		}{
			ClientName: displayName(client),
			Redirect:   r.URL.RequestURI(),
		})
		return
	}

	authRequest, err := oh.oauthService.CreateAuthorizationRequest(clientID, redirectURI, state, q.Get("scope"), q.Get("nonce"))
	if err != nil {
		http.Redirect(w, r, oh.oauthService.BuildErrorRedirectURL(redirectURI, oauth.ErrorCode(err), err.Error(), state), http.StatusFound)
		return
	}

	oh.renderAuthorizePage(w, client, authRequest, session.Username)
}

func (oh *OAuthUIHandlers) renderAuthorizePage(w http.ResponseWriter, client *models.Client, authRequest *models.AuthorizationRequest, username string) {
	data := struct {
		ClientName  string
		ClientID    string
		RedirectURI string
		State       string
		Scope       string
		Scopes      []string
		Nonce       string
		Username    string
	}{
		ClientName:  displayName(client),
		ClientID:    authRequest.ClientID,
		RedirectURI: authRequest.RedirectURI,
		State:       authRequest.State,
		Scope:       strings.Join(authRequest.Scopes, " "),
		Scopes:      authRequest.Scopes,
		Nonce:       authRequest.Nonce,
		Username:    username,
	}
	oh.render(w, "authorize.html", data)
}

func (oh *OAuthUIHandlers) renderErrorPage(w http.ResponseWriter, title, message string) {
	data := struct {
		Title   string
		Message string
	}{
		Title:   title,
		Message: message,
	}

	w.Header().Set("Content-Type", "text/html")
	w.WriteHeader(http.StatusBadRequest)
	if err := oh.templates.ExecuteTemplate(w, "error.html", data); err != nil {
		slog.Error("Failed to render error template", "error", err)
	}
}

func (oh *OAuthUIHandlers) render(w http.ResponseWriter, name string, data any) {
	w.Header().Set("Content-Type", "text/html")
	if err := oh.templates.ExecuteTemplate(w, name, data); err != nil {
		slog.Error("Failed to render template", "template", name, "error", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
	}
}

func displayName(client *models.Client) string {
	if client.Name != "" {
		return client.Name
	}
	return client.ClientID
}
