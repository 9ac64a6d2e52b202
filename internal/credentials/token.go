package credentials

import (
	"time"

	"golang.org/x/oauth2"
)

// Token is a stored OAuth token.
type Token struct {
	AccessToken string `json:"access_token"`
	// RefreshToken is empty when the provider issued none.
	RefreshToken string `json:"refresh_token,omitempty"`
	// ExpiresAt is a unix timestamp in seconds; zero means no known expiry.
	ExpiresAt int64 `json:"expires_at,omitempty"`
}

// Expiry returns ExpiresAt as a time, or the zero time when unknown.
func (t Token) Expiry() time.Time {
	if t.ExpiresAt == 0 {
		return time.Time{}
	}
	return time.Unix(t.ExpiresAt, 0)
}

// OAuth2 converts the token for use with golang.org/x/oauth2.
func (t Token) OAuth2() *oauth2.Token {
	return &oauth2.Token{
		AccessToken:  t.AccessToken,
		TokenType:    "Bearer",
		RefreshToken: t.RefreshToken,
		Expiry:       t.Expiry(),
	}
}

// TokenFromOAuth2 converts an oauth2.Token, truncating the expiry to seconds.
func TokenFromOAuth2(tok *oauth2.Token) Token {
	if tok == nil {
		return Token{}
	}

	t := Token{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
	}
	if !tok.Expiry.IsZero() {
		t.ExpiresAt = tok.Expiry.Unix()
	}
	return t
}
