package secretstore

import (
	"context"
	"errors"
	"fmt"

	"github.com/zalando/go-keyring"
)

// DefaultService is the keyring service name credentials are stored under.
const DefaultService = "hopx-cli"

// KeyringBackend provides OS-native secure credential storage.
// Uses macOS Keychain, Windows Credential Manager, or Linux Secret Service.
type KeyringBackend struct {
	service string
}

// Compile-time check to ensure KeyringBackend implements Backend
var _ Backend = (*KeyringBackend)(nil)

// NewKeyringBackend creates a KeyringBackend storing entries under the given service name.
func NewKeyringBackend(service string) (*KeyringBackend, error) {
	if service == "" {
		return nil, fmt.Errorf("service cannot be empty")
	}

	return &KeyringBackend{
		service: service,
	}, nil
}

// Get returns the secret from the system keyring.
func (k *KeyringBackend) Get(ctx context.Context, profile, field string) (string, bool, error) {
	if err := ctx.Err(); err != nil {
		return "", false, err
	}

	value, err := keyring.Get(k.service, Key(profile, field))
	if errors.Is(err, keyring.ErrNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("reading %s from keyring: %w", Key(profile, field), err)
	}

	return value, true, nil
}

// Set persists the secret to the system keyring, overwriting any existing value.
func (k *KeyringBackend) Set(ctx context.Context, profile, field, value string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	if err := keyring.Set(k.service, Key(profile, field), value); err != nil {
		return fmt.Errorf("writing %s to keyring: %w", Key(profile, field), err)
	}
	return nil
}

// Delete removes the secret from the system keyring.
func (k *KeyringBackend) Delete(ctx context.Context, profile, field string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	err := keyring.Delete(k.service, Key(profile, field))
	if err != nil && !errors.Is(err, keyring.ErrNotFound) {
		return fmt.Errorf("deleting %s from keyring: %w", Key(profile, field), err)
	}
	return nil
}

// Kind reports KindKeyring.
func (k *KeyringBackend) Kind() Kind {
	return KindKeyring
}
