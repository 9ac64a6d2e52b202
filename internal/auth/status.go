package auth

import (
	"context"
	"strings"
)

// Method names the credential kinds available to a profile.
type Method string

const (
	MethodAPIKey Method = "api_key"
	MethodOAuth  Method = "oauth"
	MethodBoth   Method = "both"
)

// Status summarizes the credentials available for a profile.
type Status struct {
	Profile         string `json:"profile"`
	AuthMethod      Method `json:"auth_method,omitempty"`
	HasAPIKey       bool   `json:"has_api_key"`
	HasOAuth        bool   `json:"has_oauth"`
	IsAuthenticated bool   `json:"is_authenticated"`
	APIKeyPreview   string `json:"api_key_preview,omitempty"`
}

// Status resolves both credential kinds and reports what is available.
// The API key appears only in masked form.
func (m *Manager) Status(ctx context.Context) Status {
	key, hasKey := m.ValidAPIKey(ctx)
	_, hasOAuth := m.ValidOAuthToken(ctx)

	status := Status{
		Profile:         m.store.Profile(),
		HasAPIKey:       hasKey,
		HasOAuth:        hasOAuth,
		IsAuthenticated: hasKey || hasOAuth,
	}

	switch {
	case hasKey && hasOAuth:
		status.AuthMethod = MethodBoth
	case hasKey:
		status.AuthMethod = MethodAPIKey
	case hasOAuth:
		status.AuthMethod = MethodOAuth
	}

	if hasKey {
		status.APIKeyPreview = MaskAPIKey(key)
	}

	return status
}

// MaskAPIKey hides the secret part of an API key. Keys have the form
// "<public id>.<secret>"; the public id is kept and the secret replaced.
// Keys without a separator keep at most their first four characters.
func MaskAPIKey(key string) string {
	const mask = "****"

	if id, _, found := strings.Cut(key, "."); found {
		return id + "." + mask
	}
	if len(key) > 8 {
		return key[:4] + mask
	}
	return mask
}
