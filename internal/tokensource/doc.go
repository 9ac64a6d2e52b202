// Package tokensource exchanges OAuth2 refresh tokens for fresh access tokens
// at the hopx token endpoint.
//
// The endpoint expects JSON-encoded token requests, while golang.org/x/oauth2
// sends form-encoded ones, so requests are rewritten by a custom transport.
//
// # Refresher
//
//	r := tokensource.NewRefresher(tokensource.Endpoint(baseURL), tokensource.ClientID)
//	tok, err := r.Refresh(ctx, refreshToken)
//
// # Custom Base Transport
//
// Configure a custom base transport for token requests (e.g., for proxies or custom timeouts):
//
//	r := tokensource.NewRefresher(
//		endpoint,
//		tokensource.ClientID,
//		tokensource.WithTransport(customTransport),
//	)
package tokensource
