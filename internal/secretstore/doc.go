// Package secretstore provides named secret storage for per-profile credentials.
//
// Supports two interchangeable backends addressed with the same "{profile}:{field}" keys:
//   - Keyring: OS-native credential storage (macOS Keychain, Windows Credential Manager, Secret Service)
//   - File: a single YAML document keyed by profile, written atomically with 0600 permissions
//
// FallbackBackend selects between them once per process: the first operation
// tries the keyring and, if it fails, every operation from then on is served
// by the file backend.
package secretstore
