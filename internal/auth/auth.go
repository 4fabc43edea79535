// Package auth handles the vendor OAuth code flow and the in-memory
// session handoff. Tokens live only in process memory; a uuid cookie is
// the sole thing the browser holds.
package auth

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/melodyhq/melody/internal/config"
	"github.com/zmb3/spotify/v2"
	spotifyauth "github.com/zmb3/spotify/v2/auth"
	"go.uber.org/zap"
	"golang.org/x/oauth2"
)

// SessionCookie is the browser-side handle to the server-side token
const SessionCookie = "melody_session"

// Pending login states older than this are discarded
const stateTTL = 10 * time.Minute

var (
	// ErrStateMismatch means the callback carried an unknown or expired
	// state value
	ErrStateMismatch = errors.New("auth: state mismatch")

	// ErrNoSession means the request carried no valid session
	ErrNoSession = errors.New("auth: no session")
)

// Manager drives the OAuth code flow and owns the session map
type Manager struct {
	logger        *zap.Logger
	authenticator *spotifyauth.Authenticator

	mu       sync.Mutex
	states   map[string]time.Time
	sessions map[string]*oauth2.Token

	now func() time.Time
}

// NewManager builds the OAuth manager from the application credentials
func NewManager(logger *zap.Logger, cfg *config.Config) *Manager {
	authenticator := spotifyauth.New(
		spotifyauth.WithClientID(cfg.Spotify.ClientID),
		spotifyauth.WithClientSecret(cfg.Spotify.ClientSecret),
		spotifyauth.WithRedirectURL(cfg.RedirectURL()),
		spotifyauth.WithScopes(
			spotifyauth.ScopeUserReadPrivate,
			spotifyauth.ScopeUserReadEmail,
			spotifyauth.ScopeUserTopRead,
			spotifyauth.ScopeUserReadRecentlyPlayed,
			spotifyauth.ScopeUserReadPlaybackState,
			spotifyauth.ScopeUserModifyPlaybackState,
			spotifyauth.ScopeStreaming,
		),
	)
	return &Manager{
		logger:        logger,
		authenticator: authenticator,
		states:        make(map[string]time.Time),
		sessions:      make(map[string]*oauth2.Token),
		now:           time.Now,
	}
}

// BeginLogin returns the vendor consent URL with a fresh one-time state
func (m *Manager) BeginLogin() string {
	state := uuid.NewString()

	m.mu.Lock()
	m.pruneStatesLocked()
	m.states[state] = m.now()
	m.mu.Unlock()

	return m.authenticator.AuthURL(state)
}

// CompleteLogin verifies the callback state, exchanges the code for a
// token, and opens a session. Returns the new session ID.
func (m *Manager) CompleteLogin(ctx context.Context, state string, r *http.Request) (string, error) {
	m.mu.Lock()
	added, known := m.states[state]
	delete(m.states, state)
	m.mu.Unlock()

	if !known || m.now().Sub(added) > stateTTL {
		return "", ErrStateMismatch
	}

	token, err := m.authenticator.Token(ctx, state, r)
	if err != nil {
		return "", err
	}

	id := uuid.NewString()
	m.mu.Lock()
	m.sessions[id] = token
	m.mu.Unlock()

	m.logger.Info("Session opened", zap.String("sessionID", id))
	return id, nil
}

// Token returns the credential for a session ID
func (m *Manager) Token(sessionID string) (*oauth2.Token, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	token, ok := m.sessions[sessionID]
	if !ok {
		return nil, ErrNoSession
	}
	return token, nil
}

// TokenFromRequest resolves the session cookie into a credential
func (m *Manager) TokenFromRequest(r *http.Request) (*oauth2.Token, error) {
	cookie, err := r.Cookie(SessionCookie)
	if err != nil {
		return nil, ErrNoSession
	}
	return m.Token(cookie.Value)
}

// CloseSession drops the session, if any
func (m *Manager) CloseSession(sessionID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, sessionID)
}

// Client builds an authenticated vendor client for a credential. The
// underlying transport refreshes the token transparently.
func (m *Manager) Client(ctx context.Context, token *oauth2.Token) *spotify.Client {
	return spotify.New(m.authenticator.Client(ctx, token))
}

func (m *Manager) pruneStatesLocked() {
	cutoff := m.now().Add(-stateTTL)
	for s, added := range m.states {
		if added.Before(cutoff) {
			delete(m.states, s)
		}
	}
}
