// Package auth resolves the caller of an HTTP request. Production uses
// Authentik over OAuth2/OIDC; development uses MockAuth
package auth

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"slices"
	"strings"
	"sync"
	"time"

	"golang.org/x/oauth2"

	"github.com/Billy-Davies-2/ladder-bot/internal/config"
	"github.com/Billy-Davies-2/ladder-bot/internal/logger"
)

const (
	sessionCookie = "session_id"
	stateCookie   = "oauth_state"
)

// Caller is the authenticated identity behind a request
type Caller struct {
	ID     string   `json:"id"`
	Name   string   `json:"name"`
	Email  string   `json:"email,omitempty"`
	Groups []string `json:"groups,omitempty"`
	// Admin is granted by the identity provider, on top of tournament admins
	Admin bool `json:"admin"`
}

type callerKey struct{}

// WithCaller returns a context carrying c
func WithCaller(ctx context.Context, c *Caller) context.Context {
	return context.WithValue(ctx, callerKey{}, c)
}

// CallerFrom returns the caller stored by the middleware, or nil
func CallerFrom(ctx context.Context) *Caller {
	c, _ := ctx.Value(callerKey{}).(*Caller)
	return c
}

// Provider is a common interface for authentication providers
type Provider interface {
	LoginHandler(w http.ResponseWriter, r *http.Request)
	CallbackHandler(w http.ResponseWriter, r *http.Request)
	LogoutHandler(w http.ResponseWriter, r *http.Request)
	Middleware(next http.Handler) http.Handler
}

// Session represents a user session
type Session struct {
	ID        string
	Caller    *Caller
	Token     *oauth2.Token
	CreatedAt time.Time
	ExpiresAt time.Time
}

type sessionStore struct {
	mu       sync.RWMutex
	sessions map[string]*Session
}

func newSessionStore() *sessionStore {
	return &sessionStore{sessions: make(map[string]*Session)}
}

func (s *sessionStore) create(c *Caller, token *oauth2.Token, ttl time.Duration) *Session {
	now := time.Now()
	sess := &Session{
		ID:        randomString(),
		Caller:    c,
		Token:     token,
		CreatedAt: now,
		ExpiresAt: now.Add(ttl),
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	// drop expired sessions while we hold the lock
	for id, old := range s.sessions {
		if now.After(old.ExpiresAt) {
			delete(s.sessions, id)
		}
	}
	s.sessions[sess.ID] = sess
	return sess
}

func (s *sessionStore) get(id string) (*Session, bool) {
	s.mu.RLock()
	sess, ok := s.sessions[id]
	s.mu.RUnlock()
	if !ok || time.Now().After(sess.ExpiresAt) {
		return nil, false
	}
	return sess, true
}

func (s *sessionStore) delete(id string) {
	s.mu.Lock()
	delete(s.sessions, id)
	s.mu.Unlock()
}

// fromRequest resolves the session cookie of r
func (s *sessionStore) fromRequest(r *http.Request) (*Session, bool) {
	cookie, err := r.Cookie(sessionCookie)
	if err != nil {
		return nil, false
	}
	return s.get(cookie.Value)
}

func setSessionCookie(w http.ResponseWriter, sess *Session, secure bool) {
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookie,
		Value:    sess.ID,
		Path:     "/",
		HttpOnly: true,
		Secure:   secure,
		SameSite: http.SameSiteLaxMode,
		Expires:  sess.ExpiresAt,
	})
}

func clearCookie(w http.ResponseWriter, name string) {
	http.SetCookie(w, &http.Cookie{
		Name:   name,
		Value:  "",
		Path:   "/",
		MaxAge: -1,
	})
}

func unauthorized(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	_ = json.NewEncoder(w).Encode(map[string]string{
		"error": "UNAUTHENTICATED",
		"login": "/auth/login",
	})
}

// AuthentikAuth manages authentication with Authentik
type AuthentikAuth struct {
	cfg          config.AuthentikConfig
	oauth2Config *oauth2.Config
	sessions     *sessionStore
	httpClient   *http.Client
}

// NewAuthentikAuth creates a new Authentik authentication handler
func NewAuthentikAuth(cfg config.AuthentikConfig) *AuthentikAuth {
	base := strings.TrimRight(cfg.URL, "/")
	cfg.URL = base

	return &AuthentikAuth{
		cfg: cfg,
		oauth2Config: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.RedirectURL,
			Scopes:       []string{"openid", "profile", "email"},
			Endpoint: oauth2.Endpoint{
				AuthURL:  base + "/application/o/authorize/",
				TokenURL: base + "/application/o/token/",
			},
		},
		sessions:   newSessionStore(),
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
}

// LoginHandler initiates the OAuth2 login flow
func (a *AuthentikAuth) LoginHandler(w http.ResponseWriter, r *http.Request) {
	state := randomString()

	http.SetCookie(w, &http.Cookie{
		Name:     stateCookie,
		Value:    state,
		Path:     "/",
		HttpOnly: true,
		Secure:   true,
		SameSite: http.SameSiteLaxMode,
		MaxAge:   300,
	})

	http.Redirect(w, r, a.oauth2Config.AuthCodeURL(state), http.StatusTemporaryRedirect)
}

// CallbackHandler handles the OAuth2 callback from Authentik
func (a *AuthentikAuth) CallbackHandler(w http.ResponseWriter, r *http.Request) {
	state, err := r.Cookie(stateCookie)
	if err != nil {
		http.Error(w, "Missing state cookie", http.StatusBadRequest)
		return
	}
	if r.URL.Query().Get("state") != state.Value {
		http.Error(w, "Invalid state parameter", http.StatusBadRequest)
		return
	}

	token, err := a.oauth2Config.Exchange(r.Context(), r.URL.Query().Get("code"))
	if err != nil {
		logger.Warn("OAuth2 token exchange failed", "error", err)
		http.Error(w, "Failed to exchange token", http.StatusBadGateway)
		return
	}

	caller, err := a.userInfo(r.Context(), token)
	if err != nil {
		logger.Warn("Failed to fetch Authentik user info", "error", err)
		http.Error(w, "Failed to get user info", http.StatusBadGateway)
		return
	}

	ttl := 24 * time.Hour
	if !token.Expiry.IsZero() {
		ttl = time.Until(token.Expiry)
	}
	sess := a.sessions.create(caller, token, ttl)
	setSessionCookie(w, sess, true)
	clearCookie(w, stateCookie)

	logger.Info("User logged in", "user", caller.ID, "admin", caller.Admin)
	http.Redirect(w, r, "/", http.StatusSeeOther)
}

// LogoutHandler handles user logout
func (a *AuthentikAuth) LogoutHandler(w http.ResponseWriter, r *http.Request) {
	if cookie, err := r.Cookie(sessionCookie); err == nil {
		a.sessions.delete(cookie.Value)
	}
	clearCookie(w, sessionCookie)

	http.Redirect(w, r, a.cfg.URL+"/application/o/ladder/end-session/", http.StatusSeeOther)
}

// Middleware rejects requests without a live session
func (a *AuthentikAuth) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sess, ok := a.sessions.fromRequest(r)
		if !ok {
			unauthorized(w)
			return
		}
		next.ServeHTTP(w, r.WithContext(WithCaller(r.Context(), sess.Caller)))
	})
}

// userInfo fetches the caller from Authentik's userinfo endpoint
func (a *AuthentikAuth) userInfo(ctx context.Context, token *oauth2.Token) (*Caller, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.cfg.URL+"/application/o/userinfo/", nil)
	if err != nil {
		return nil, err
	}
	token.SetAuthHeader(req)

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, fmt.Errorf("userinfo: %s - %s", resp.Status, string(body))
	}

	var info struct {
		Sub               string   `json:"sub"`
		Email             string   `json:"email"`
		Name              string   `json:"name"`
		PreferredUsername string   `json:"preferred_username"`
		Groups            []string `json:"groups"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		return nil, err
	}

	// ladder player ids are the chat-facing username when present
	id := info.PreferredUsername
	if id == "" {
		id = info.Sub
	}
	return &Caller{
		ID:     id,
		Name:   info.Name,
		Email:  info.Email,
		Groups: info.Groups,
		Admin:  slices.Contains(info.Groups, a.cfg.AdminGroup),
	}, nil
}

func randomString() string {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		panic(fmt.Sprintf("crypto/rand: %v", err))
	}
	return base64.RawURLEncoding.EncodeToString(b)
}
