package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/oauth2"

	"github.com/hopx-ai/hopx-cli/internal/credentials"
)

// RefreshWindow is the lead time before expiry in which an OAuth access token
// is refreshed instead of used.
const RefreshWindow = 5 * time.Minute

// ErrNotAuthenticated is returned when no usable credential is available.
var ErrNotAuthenticated = errors.New("not authenticated")

// Refresher exchanges a refresh token for a new OAuth token.
type Refresher interface {
	Refresh(ctx context.Context, refreshToken string) (*oauth2.Token, error)
}

// RefreshFunc adapts a function to the Refresher interface.
type RefreshFunc func(ctx context.Context, refreshToken string) (*oauth2.Token, error)

// Refresh calls f.
func (f RefreshFunc) Refresh(ctx context.Context, refreshToken string) (*oauth2.Token, error) {
	return f(ctx, refreshToken)
}

// Option configures a Manager.
type Option func(*Manager)

// WithLookupEnv replaces the environment lookup used for APIKeyEnv.
func WithLookupEnv(lookup func(string) (string, bool)) Option {
	return func(m *Manager) {
		m.lookupEnv = lookup
	}
}

// WithClock replaces the wall clock used for expiry checks.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		m.now = now
	}
}

// Manager resolves the credential that authorizes API calls for one profile.
// Refreshed OAuth tokens are written back through the credential store.
type Manager struct {
	store     *credentials.Store
	refresher Refresher
	lookupEnv func(string) (string, bool)
	now       func() time.Time
}

// NewManager creates a Manager. refresher may be nil, in which case expiring
// OAuth tokens are never refreshed and resolve as absent.
func NewManager(store *credentials.Store, refresher Refresher, opts ...Option) (*Manager, error) {
	if store == nil {
		return nil, fmt.Errorf("missing credential store")
	}

	m := &Manager{
		store:     store,
		refresher: refresher,
		lookupEnv: LookupEnvFold,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// Profile returns the profile the manager resolves credentials for.
func (m *Manager) Profile() string {
	return m.store.Profile()
}

// ValidAPIKey returns the API key from APIKeyEnv, or else the stored API key.
// The environment is read on every call.
func (m *Manager) ValidAPIKey(ctx context.Context) (string, bool) {
	if key, ok := m.lookupEnv(APIKeyEnv); ok {
		return key, true
	}

	key, ok, err := m.store.APIKey(ctx)
	if err != nil {
		slog.DebugContext(ctx, "api key lookup failed", "profile", m.store.Profile(), "error", err)
		return "", false
	}
	return key, ok
}

// ValidOAuthToken returns a usable OAuth access token.
//
// A stored token expiring within RefreshWindow (or already expired) is
// refreshed and the result persisted. Without a refresh token, or when the
// refresh fails, no token is returned rather than the stale one.
func (m *Manager) ValidOAuthToken(ctx context.Context) (string, bool) {
	tok, err := m.store.OAuthToken(ctx)
	if err != nil {
		slog.DebugContext(ctx, "oauth token lookup failed", "profile", m.store.Profile(), "error", err)
		return "", false
	}
	if tok == nil {
		return "", false
	}

	if !m.expiring(*tok) {
		return tok.AccessToken, true
	}

	if tok.RefreshToken == "" || m.refresher == nil {
		slog.DebugContext(ctx, "oauth token expiring and cannot be refreshed", "profile", m.store.Profile())
		return "", false
	}

	fresh, err := m.refresh(ctx, tok.RefreshToken)
	if err != nil {
		slog.WarnContext(ctx, "oauth token refresh failed", "profile", m.store.Profile(), "error", err)
		return "", false
	}

	// Providers that do not rotate refresh tokens omit them from the response
	if fresh.RefreshToken == "" {
		fresh.RefreshToken = tok.RefreshToken
	}

	if err := m.store.StoreOAuthToken(ctx, fresh); err != nil {
		// The new access token is still good for this process; the next run refreshes again.
		slog.WarnContext(ctx, "failed to persist refreshed oauth token", "profile", m.store.Profile(), "error", err)
	}

	return fresh.AccessToken, true
}

// PreferredToken returns the OAuth access token when one is usable, else the API key.
func (m *Manager) PreferredToken(ctx context.Context) (string, bool) {
	if tok, ok := m.ValidOAuthToken(ctx); ok {
		return tok, true
	}
	return m.ValidAPIKey(ctx)
}

// IsAuthenticated reports whether an API key or an OAuth token is usable.
func (m *Manager) IsAuthenticated(ctx context.Context) bool {
	_, hasKey := m.ValidAPIKey(ctx)
	_, hasOAuth := m.ValidOAuthToken(ctx)
	return hasKey || hasOAuth
}

func (m *Manager) expiring(tok credentials.Token) bool {
	if tok.ExpiresAt == 0 {
		return false
	}
	return !tok.Expiry().After(m.now().Add(RefreshWindow))
}

func (m *Manager) refresh(ctx context.Context, refreshToken string) (credentials.Token, error) {
	if err := ctx.Err(); err != nil {
		return credentials.Token{}, err
	}

	tok, err := m.refresher.Refresh(ctx, refreshToken)
	if err != nil {
		return credentials.Token{}, err
	}
	if tok == nil || tok.AccessToken == "" {
		return credentials.Token{}, fmt.Errorf("refresh response missing access token")
	}

	return credentials.TokenFromOAuth2(tok), nil
}
