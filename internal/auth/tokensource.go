package auth

import (
	"context"

	"golang.org/x/oauth2"
)

// managerTokenSource exposes the preferred credential as an oauth2.TokenSource,
// so API clients can authorize requests with oauth2.Transport.
type managerTokenSource struct {
	ctx     context.Context
	manager *Manager
}

// Compile-time check to ensure managerTokenSource implements oauth2.TokenSource
var _ oauth2.TokenSource = (*managerTokenSource)(nil)

// TokenSource returns an oauth2.TokenSource yielding PreferredToken as a Bearer token.
// oauth2.TokenSource.Token() has no context parameter, so ctx is captured here.
func (m *Manager) TokenSource(ctx context.Context) oauth2.TokenSource {
	return &managerTokenSource{ctx: ctx, manager: m}
}

// Token resolves the preferred credential. Returns ErrNotAuthenticated when none is usable.
func (s *managerTokenSource) Token() (*oauth2.Token, error) {
	token, ok := s.manager.PreferredToken(s.ctx)
	if !ok {
		return nil, ErrNotAuthenticated
	}
	// No expiry: the manager itself applies the refresh window on each call.
	return &oauth2.Token{
		AccessToken: token,
		TokenType:   "Bearer",
	}, nil
}
