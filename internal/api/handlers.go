package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"mime"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/andyleap/authsessions/internal/admin"
	"github.com/andyleap/authsessions/internal/models"
	"github.com/andyleap/authsessions/internal/storage"
	"github.com/andyleap/authsessions/internal/users"
)

type Server struct {
	sessions   storage.SessionStorage
	directory  *users.Directory
	facade     *admin.Facade
	adminRole  string
	sessionTTL time.Duration
	now        func() time.Time
}

func NewServer(sessions storage.SessionStorage, directory *users.Directory, facade *admin.Facade, adminRole string, sessionTTL time.Duration) *Server {
	return &Server{
		sessions:   sessions,
		directory:  directory,
		facade:     facade,
		adminRole:  adminRole,
		sessionTTL: sessionTTL,
		now:        time.Now,
	}
}

// decodeBody reads a JSON body, or form values for any other content type
func decodeBody(r *http.Request, v map[string]*string) error {
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType == "application/json" {
		var body map[string]string
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			return err
		}
		for key, dst := range v {
			*dst = body[key]
		}
		return nil
	}
	if err := r.ParseForm(); err != nil {
		return err
	}
	for key, dst := range v {
		*dst = r.PostForm.Get(key)
	}
	return nil
}

// LoginHandler authenticates against the user directory and starts a login session
// POST /login
func (s *Server) LoginHandler(w http.ResponseWriter, r *http.Request) {
	var username, password, redirect string
	if err := decodeBody(r, map[string]*string{
		"username": &username,
		"password": &password,
		"redirect": &redirect,
	}); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if username == "" || password == "" {
		writeError(w, http.StatusBadRequest, "username and password are required")
		return
	}

	creds, err := s.directory.Authenticate(username, password)
	if errors.Is(err, users.ErrInvalidCredentials) {
		slog.Warn("Login failed", "username", username)
		writeError(w, http.StatusUnauthorized, "invalid username or password")
		return
	}
	if err != nil {
		slog.Error("Login error", "username", username, "error", err)
		writeError(w, http.StatusInternalServerError, "login failed")
		return
	}

	now := s.now()
	session := &models.Session{
		ID:        uuid.NewString(),
		Username:  creds.Username,
		Roles:     creds.Roles,
		CreatedAt: now,
		ExpiresAt: now.Add(s.sessionTTL),
	}
	if err := s.sessions.SaveSession(r.Context(), session); err != nil {
		slog.Error("Failed to save session", "error", err)
		writeError(w, http.StatusInternalServerError, "login failed")
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookie,
		Value:    session.ID,
		Path:     "/",
		Expires:  session.ExpiresAt,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
	slog.Info("User logged in", "username", creds.Username)

	// local redirects only, used by the login page
	if strings.HasPrefix(redirect, "/") && !strings.HasPrefix(redirect, "//") {
		http.Redirect(w, r, redirect, http.StatusFound)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"authenticated": true,
		"username":      creds.Username,
		"sessionId":     session.ID,
		"expires":       session.ExpiresAt,
	})
}

// LogoutHandler ends the caller's login session, or every login session of
// the caller with ?all=true. Stored authorizations are not touched.
// GET /admin/logout
func (s *Server) LogoutHandler(w http.ResponseWriter, r *http.Request) {
	session, _ := SessionFromContext(r.Context())

	ids := []string{session.ID}
	if r.URL.Query().Get("all") == "true" {
		active, err := s.sessions.GetUserSessions(r.Context(), session.Username)
		if err != nil {
			slog.Error("Failed to list sessions", "username", session.Username, "error", err)
			writeError(w, http.StatusInternalServerError, "logout failed")
			return
		}
		for _, other := range active {
			if other.ID != session.ID {
				ids = append(ids, other.ID)
			}
		}
	}

	for _, id := range ids {
		if err := s.sessions.DeleteSession(r.Context(), id); err != nil {
			slog.Error("Logout failed", "username", session.Username, "error", err)
			writeError(w, http.StatusInternalServerError, "logout failed")
			return
		}
	}
	slog.Info("User logged out", "username", session.Username, "sessions", len(ids))

	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookie,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
	})
	writeJSON(w, http.StatusOK, map[string]any{"status": "logged_out", "sessions": len(ids)})
}

// CurrentUserHandler reports who the caller is
// GET /admin/current-user
func (s *Server) CurrentUserHandler(w http.ResponseWriter, r *http.Request) {
	session, ok := SessionFromContext(r.Context())
	if !ok {
		writeJSON(w, http.StatusOK, map[string]any{"authenticated": false})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"authenticated": true,
		"username":      session.Username,
		"roles":         session.Roles,
	})
}

func (s *Server) HealthHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}
