package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/andyleap/authsessions/internal/models"
	"github.com/andyleap/authsessions/internal/storage"
)

// SessionCookie carries the login session id
const SessionCookie = "session_id"

type contextKey int

const sessionKey contextKey = iota

// SessionFromContext returns the login session attached by the session middleware
func SessionFromContext(ctx context.Context) (*models.Session, bool) {
	session, ok := ctx.Value(sessionKey).(*models.Session)
	return session, ok && session != nil
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// LoggingMiddleware logs one line per request
func LoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		slog.Info("HTTP request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			"duration", time.Since(start),
		)
	})
}

// sessionID reads the session id from the cookie, then from a Bearer header
func sessionID(r *http.Request) string {
	if cookie, err := r.Cookie(SessionCookie); err == nil && cookie.Value != "" {
		return cookie.Value
	}
	if auth := r.Header.Get("Authorization"); strings.HasPrefix(auth, "Bearer ") {
		return strings.TrimPrefix(auth, "Bearer ")
	}
	return ""
}

// Authenticator resolves login sessions for incoming requests
type Authenticator struct {
	sessions storage.SessionStorage
	now      func() time.Time
}

func NewAuthenticator(sessions storage.SessionStorage) *Authenticator {
	return &Authenticator{sessions: sessions, now: time.Now}
}

// Lookup returns the live session for r, or nil
func (a *Authenticator) Lookup(r *http.Request) *models.Session {
	id := sessionID(r)
	if id == "" {
		return nil
	}
	session, err := a.sessions.GetSession(r.Context(), id)
	if err != nil {
		slog.Error("Failed to get session", "error", err)
		return nil
	}
	if session == nil || !session.ExpiresAt.After(a.now()) {
		return nil
	}
	return session
}

// Optional attaches the session when there is one
func (a *Authenticator) Optional(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if session := a.Lookup(r); session != nil {
			r = r.WithContext(context.WithValue(r.Context(), sessionKey, session))
		}
		next(w, r)
	}
}

// Required rejects requests without a live session
func (a *Authenticator) Required(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		session := a.Lookup(r)
		if session == nil {
			writeError(w, http.StatusUnauthorized, "authentication required")
			return
		}
		next(w, r.WithContext(context.WithValue(r.Context(), sessionKey, session)))
	}
}

// RequireRole rejects requests whose session lacks role
func (a *Authenticator) RequireRole(role string, next http.HandlerFunc) http.HandlerFunc {
	return a.Required(func(w http.ResponseWriter, r *http.Request) {
		session, _ := SessionFromContext(r.Context())
		if !session.HasRole(role) {
			writeError(w, http.StatusForbidden, "insufficient role")
			return
		}
		next(w, r)
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("Failed to encode response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
