package credentials

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/hopx-ai/hopx-cli/internal/secretstore"
)

// DefaultProfile is used when no profile is given.
const DefaultProfile = "default"

// Store reads and writes the credentials of a single profile.
type Store struct {
	profile string
	backend secretstore.Backend
	file    *secretstore.FileBackend
}

// New creates a Store for the profile. backend serves regular reads and writes;
// file receives writes that must bypass the keyring and is consulted when the
// backend has no value. file may be nil when backend is the file backend itself.
func New(profile string, backend secretstore.Backend, file *secretstore.FileBackend) (*Store, error) {
	if backend == nil {
		return nil, fmt.Errorf("missing secret backend")
	}
	if profile == "" {
		profile = DefaultProfile
	}

	return &Store{
		profile: profile,
		backend: backend,
		file:    file,
	}, nil
}

// Profile returns the profile this store is scoped to.
func (s *Store) Profile() string {
	return s.profile
}

// Backend returns the backend serving regular reads and writes.
func (s *Store) Backend() secretstore.Backend {
	return s.backend
}

// StoreAPIKey saves the API key. With useKeyring false the key is written to
// the credentials file even when the keyring is available.
func (s *Store) StoreAPIKey(ctx context.Context, key string, useKeyring bool) error {
	if key == "" {
		return &ValidationError{Field: "api_key", Message: "must not be empty"}
	}

	backend := s.backend
	if !useKeyring && s.file != nil {
		backend = s.file
	}

	if err := backend.Set(ctx, s.profile, secretstore.FieldAPIKey, key); err != nil {
		return fmt.Errorf("storing api key for profile %s: %w", s.profile, err)
	}

	slog.DebugContext(ctx, "stored api key", "profile", s.profile, "backend", backend.Kind())
	return nil
}

// APIKey returns the stored API key. Environment variables are not consulted.
func (s *Store) APIKey(ctx context.Context) (string, bool, error) {
	return s.lookup(ctx, secretstore.FieldAPIKey)
}

// StoreOAuthToken replaces the stored token. Refresh token and expiry are
// deleted when tok has none, so no field of an earlier token survives. Each field
// is written independently; a failed write does not prevent the others and
// successful writes are not rolled back.
func (s *Store) StoreOAuthToken(ctx context.Context, tok Token) error {
	if tok.AccessToken == "" {
		return &ValidationError{Field: "access_token", Message: "is required"}
	}

	var expires string
	if tok.ExpiresAt != 0 {
		expires = strconv.FormatInt(tok.ExpiresAt, 10)
	}

	fields := []struct {
		name  string
		value string
	}{
		{secretstore.FieldOAuthAccess, tok.AccessToken},
		{secretstore.FieldOAuthRefresh, tok.RefreshToken},
		{secretstore.FieldOAuthExpires, expires},
	}

	var errs []error
	for _, f := range fields {
		if f.value == "" {
			if err := s.backend.Delete(ctx, s.profile, f.name); err != nil {
				errs = append(errs, fmt.Errorf("deleting %s for profile %s: %w", f.name, s.profile, err))
			}
			continue
		}
		if err := s.backend.Set(ctx, s.profile, f.name, f.value); err != nil {
			errs = append(errs, fmt.Errorf("storing %s for profile %s: %w", f.name, s.profile, err))
		}
	}

	return errors.Join(errs...)
}

// OAuthToken returns the stored OAuth token, or nil when no access token is stored.
// All fields come from the source holding the access token. An unparsable expiry
// is treated as unknown.
func (s *Store) OAuthToken(ctx context.Context) (*Token, error) {
	source := s.backend
	access, ok, err := source.Get(ctx, s.profile, secretstore.FieldOAuthAccess)
	if err != nil {
		return nil, err
	}
	if !ok && s.fileFallback() {
		source = s.file
		access, ok, err = source.Get(ctx, s.profile, secretstore.FieldOAuthAccess)
		if err != nil {
			return nil, err
		}
	}
	if !ok {
		return nil, nil
	}

	tok := &Token{AccessToken: access}

	refresh, ok, err := source.Get(ctx, s.profile, secretstore.FieldOAuthRefresh)
	if err != nil {
		return nil, err
	}
	if ok {
		tok.RefreshToken = refresh
	}

	expires, ok, err := source.Get(ctx, s.profile, secretstore.FieldOAuthExpires)
	if err != nil {
		return nil, err
	}
	if ok {
		expiresAt, err := strconv.ParseInt(expires, 10, 64)
		if err != nil {
			slog.DebugContext(ctx, "ignoring unparsable token expiry", "profile", s.profile)
		} else {
			tok.ExpiresAt = expiresAt
		}
	}

	return tok, nil
}

// Clear removes every credential of the profile, including its record in the
// credentials file. Clearing a profile without credentials succeeds.
func (s *Store) Clear(ctx context.Context) error {
	var errs []error
	for _, field := range secretstore.Fields {
		if err := s.backend.Delete(ctx, s.profile, field); err != nil {
			errs = append(errs, fmt.Errorf("deleting %s for profile %s: %w", field, s.profile, err))
		}
	}

	if s.file != nil {
		if err := s.file.RemoveProfile(ctx, s.profile); err != nil {
			errs = append(errs, fmt.Errorf("removing profile %s from %s: %w", s.profile, s.file.Path(), err))
		}
	}

	return errors.Join(errs...)
}

// lookup reads a single field from the backend, then from the credentials file.
func (s *Store) lookup(ctx context.Context, field string) (string, bool, error) {
	value, ok, err := s.backend.Get(ctx, s.profile, field)
	if err != nil {
		return "", false, err
	}
	if ok || !s.fileFallback() {
		return value, ok, nil
	}

	return s.file.Get(ctx, s.profile, field)
}

// fileFallback reports whether the credentials file is a second read location.
func (s *Store) fileFallback() bool {
	return s.file != nil && s.backend != secretstore.Backend(s.file)
}
