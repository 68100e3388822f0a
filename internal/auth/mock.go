package auth

import (
	"net/http"
	"strings"
	"time"

	"github.com/Billy-Davies-2/ladder-bot/internal/logger"
)

// UserHeader lets development tools pick an identity per request
const UserHeader = "X-Ladder-User"

// MockAuth provides a mock authentication for local development
type MockAuth struct {
	sessions *sessionStore
	dev      Caller
}

// NewMockAuth creates a new mock authentication handler. Login signs in as
// a development admin
func NewMockAuth() *MockAuth {
	logger.Warn("Using MOCK authentication; every request may pick its identity")
	return &MockAuth{
		sessions: newSessionStore(),
		dev: Caller{
			ID:     "dev-user",
			Name:   "Dev User",
			Email:  "dev@ladder.local",
			Groups: []string{"users", "ladder-admins"},
			Admin:  true,
		},
	}
}

// LoginHandler auto-creates a session
func (m *MockAuth) LoginHandler(w http.ResponseWriter, r *http.Request) {
	caller := m.dev
	if name := strings.TrimSpace(r.URL.Query().Get("user")); name != "" {
		caller = Caller{ID: name, Name: name}
	}
	sess := m.sessions.create(&caller, nil, 24*time.Hour)
	setSessionCookie(w, sess, false)
	http.Redirect(w, r, "/", http.StatusSeeOther)
}

// CallbackHandler is not needed for mock auth
func (m *MockAuth) CallbackHandler(w http.ResponseWriter, r *http.Request) {
	http.Redirect(w, r, "/", http.StatusSeeOther)
}

// LogoutHandler for mock auth
func (m *MockAuth) LogoutHandler(w http.ResponseWriter, r *http.Request) {
	if cookie, err := r.Cookie(sessionCookie); err == nil {
		m.sessions.delete(cookie.Value)
	}
	clearCookie(w, sessionCookie)
	http.Redirect(w, r, "/", http.StatusSeeOther)
}

// Middleware accepts a session cookie or the UserHeader. Header identities
// are never admins
func (m *MockAuth) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var caller *Caller
		if sess, ok := m.sessions.fromRequest(r); ok {
			caller = sess.Caller
		} else if name := strings.TrimSpace(r.Header.Get(UserHeader)); name != "" {
			caller = &Caller{ID: name, Name: name}
		}
		if caller == nil {
			unauthorized(w)
			return
		}
		next.ServeHTTP(w, r.WithContext(WithCaller(r.Context(), caller)))
	})
}
