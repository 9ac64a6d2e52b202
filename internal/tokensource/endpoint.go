package tokensource

import (
	"strings"

	"golang.org/x/oauth2"
)

const (
	// ClientID is the public OAuth2 client identifier of the hopx CLI.
	// This is a public client (no client secret) using PKCE for security.
	ClientID = "hopx-cli"

	// DefaultBaseURL is the production API the endpoints hang off.
	DefaultBaseURL = "https://api.hopx.dev"
)

// Endpoint returns the OAuth2 endpoints served by the API at baseURL.
func Endpoint(baseURL string) oauth2.Endpoint {
	base := strings.TrimRight(baseURL, "/")
	return oauth2.Endpoint{
		AuthURL:   base + "/auth/oauth/authorize",
		TokenURL:  base + "/auth/oauth/token",
		AuthStyle: oauth2.AuthStyleInParams,
	}
}
