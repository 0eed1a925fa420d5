package api

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/andyleap/authsessions/internal/models"
	"github.com/andyleap/authsessions/internal/storage"
)

// ListUsersHandler lists every user with credentials redacted
// GET /auth/list
func (s *Server) ListUsersHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.directory.GetUsers())
}

// ActiveSessionsHandler lists users that hold at least one authorization.
// Access token values are masked for non-admins.
// GET /auth/users-session
func (s *Server) ActiveSessionsHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.facade.ListActiveSessions(s.isAdmin(r)))
}

// UserSessionHandler returns one user and their authorizations
// GET /auth/user-session/{userName}
func (s *Server) UserSessionHandler(w http.ResponseWriter, r *http.Request) {
	username := r.PathValue("userName")
	view := s.facade.GetSession(username, s.isAdmin(r))
	if view.User == nil {
		writeError(w, http.StatusNotFound, "user not found")
		return
	}
	writeJSON(w, http.StatusOK, view)
}

// RevokeTokenHandler revokes by access or refresh token value
// POST /admin/revoke-token
func (s *Server) RevokeTokenHandler(w http.ResponseWriter, r *http.Request) {
	var token string
	if err := decodeBody(r, map[string]*string{"token": &token}); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if token == "" {
		writeError(w, http.StatusBadRequest, "token is required")
		return
	}

	a, err := s.facade.RevokeByTokenValue(token)
	s.writeRevocation(w, a, err)
}

// RevokeAccessTokenHandler revokes by access token value only
// DELETE /admin/revoke/{tokenId}
func (s *Server) RevokeAccessTokenHandler(w http.ResponseWriter, r *http.Request) {
	a, err := s.facade.RevokeAccessToken(r.PathValue("tokenId"))
	s.writeRevocation(w, a, err)
}

// RevokeAuthorizationHandler revokes one authorization by its id
// DELETE /admin/authorizations/{id}
func (s *Server) RevokeAuthorizationHandler(w http.ResponseWriter, r *http.Request) {
	a, err := s.facade.RevokeByAuthorizationID(r.PathValue("id"))
	s.writeRevocation(w, a, err)
}

func (s *Server) writeRevocation(w http.ResponseWriter, a *models.Authorization, err error) {
	switch {
	case errors.Is(err, storage.ErrNotFound):
		writeError(w, http.StatusNotFound, "token not found")
	case err != nil:
		slog.Error("Revocation failed", "error", err)
		writeError(w, http.StatusInternalServerError, "revocation failed")
	default:
		writeJSON(w, http.StatusOK, map[string]string{
			"message":         "token revoked",
			"authorizationId": a.ID,
			"username":        a.PrincipalName,
		})
	}
}

// ListTokensHandler lists a user's tokens. Values are raw for admins and masked for everyone else.
// GET /admin/list-tokens/{username}
func (s *Server) ListTokensHandler(w http.ResponseWriter, r *http.Request) {
	tokens := s.facade.ListTokens(r.PathValue("username"), s.isAdmin(r))
	if len(tokens) == 0 {
		writeError(w, http.StatusNotFound, "no tokens found")
		return
	}
	writeJSON(w, http.StatusOK, tokens)
}

func (s *Server) isAdmin(r *http.Request) bool {
	session, ok := SessionFromContext(r.Context())
	return ok && session.HasRole(s.adminRole)
}
