// Package auth resolves the bearer credential used for API calls.
//
// Manager applies source precedence (HOPX_API_KEY, then stored API key, with a
// valid OAuth token preferred over either) and refreshes OAuth tokens that are
// within RefreshWindow of expiry. Storage and refresh failures never escape a
// Manager; they surface as "no credential" so callers can show a single
// "not authenticated" message.
package auth
