package secretstore

import "context"

// Kind identifies a concrete storage backend.
type Kind string

const (
	KindKeyring Kind = "keyring"
	KindFile    Kind = "file"
)

// Credential fields stored per profile.
const (
	FieldAPIKey       = "api_key"
	FieldOAuthAccess  = "oauth_access"
	FieldOAuthRefresh = "oauth_refresh"
	FieldOAuthExpires = "oauth_expires"
)

// Fields lists every field a profile may own, in storage order.
var Fields = []string{FieldAPIKey, FieldOAuthAccess, FieldOAuthRefresh, FieldOAuthExpires}

// Backend stores single named secrets scoped to a profile.
type Backend interface {
	// Get returns the stored value. A missing value is reported with ok=false, not an error.
	Get(ctx context.Context, profile, field string) (value string, ok bool, err error)

	// Set stores the value, overwriting any existing one.
	Set(ctx context.Context, profile, field, value string) error

	// Delete removes the value. Deleting a missing value is a no-op.
	Delete(ctx context.Context, profile, field string) error

	// Kind reports which storage serves the calls.
	Kind() Kind
}

// Key returns the storage key for a profile field, e.g. "default:api_key".
func Key(profile, field string) string {
	return profile + ":" + field
}
