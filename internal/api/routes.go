package api

import (
	"net/http"
)

// Routes holds everything the mux dispatches to
type Routes struct {
	Server    *Server
	OAuth     *OAuthAPIHandlers
	Auth      *Authenticator
	Authorize http.HandlerFunc
	Metrics   http.Handler
	AdminRole string
}

// Handler builds the HTTP surface
func (rt Routes) Handler() http.Handler {
	s, a := rt.Server, rt.Auth
	mux := http.NewServeMux()

	// login session
	mux.HandleFunc("POST /login", s.LoginHandler)
	mux.HandleFunc("GET /admin/logout", a.Required(s.LogoutHandler))
	mux.HandleFunc("GET /admin/current-user", a.Optional(s.CurrentUserHandler))

	// user and session queries
	mux.HandleFunc("GET /auth/list", a.Required(s.ListUsersHandler))
	mux.HandleFunc("GET /auth/users-session", a.Required(s.ActiveSessionsHandler))
	mux.HandleFunc("GET /auth/user-session/{userName}", a.Required(s.UserSessionHandler))

	// token administration
	mux.HandleFunc("POST /admin/revoke-token", a.RequireRole(rt.AdminRole, s.RevokeTokenHandler))
	mux.HandleFunc("DELETE /admin/revoke/{tokenId}", a.RequireRole(rt.AdminRole, s.RevokeAccessTokenHandler))
	mux.HandleFunc("DELETE /admin/authorizations/{id}", a.RequireRole(rt.AdminRole, s.RevokeAuthorizationHandler))
	mux.HandleFunc("GET /admin/list-tokens/{username}", a.Required(s.ListTokensHandler))

	// OAuth2
	if rt.Authorize != nil {
		mux.HandleFunc("GET /oauth2/authorize", a.Optional(rt.Authorize))
	}
	mux.HandleFunc("POST /oauth2/authorize", a.Required(rt.OAuth.AuthorizeHandler))
	mux.HandleFunc("POST /oauth2/token", rt.OAuth.TokenHandler)
	mux.HandleFunc("POST /oauth2/introspect", rt.OAuth.IntrospectHandler)
	mux.HandleFunc("POST /oauth2/revoke", rt.OAuth.RevokeHandler)

	mux.HandleFunc("GET /health", s.HealthHandler)
	if rt.Metrics != nil {
		mux.Handle("GET /metrics", rt.Metrics)
	}

	return LoggingMiddleware(mux)
}
