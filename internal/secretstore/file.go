package secretstore

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"sync"

	"gopkg.in/yaml.v3"
)

// OAuthRecord is the on-disk form of a profile's OAuth token.
type OAuthRecord struct {
	AccessToken  string `yaml:"access_token,omitempty"`
	RefreshToken string `yaml:"refresh_token,omitempty"`
	ExpiresAt    int64  `yaml:"expires_at,omitempty"`
}

// Record holds the credentials of one profile in the credentials file.
type Record struct {
	APIKey     string       `yaml:"api_key,omitempty"`
	OAuthToken *OAuthRecord `yaml:"oauth_token,omitempty"`
}

func (r *Record) empty() bool {
	return r == nil || (r.APIKey == "" && r.OAuthToken == nil)
}

// Document is the credentials file content, keyed by profile name.
type Document map[string]*Record

// FileBackend stores credentials in a single YAML document with secure permissions.
// Every write rewrites the whole document using temp file + rename for crash safety.
type FileBackend struct {
	filePath string

	// Serializes read-modify-write cycles within this process only.
	mu sync.Mutex
}

// Compile-time check to ensure FileBackend implements Backend
var _ Backend = (*FileBackend)(nil)

// NewFileBackend creates a FileBackend for the given path. Parent directories
// are created on the first write.
func NewFileBackend(filePath string) (*FileBackend, error) {
	if filePath == "" {
		return nil, fmt.Errorf("file path cannot be empty")
	}

	return &FileBackend{
		filePath: filePath,
	}, nil
}

// Path returns the location of the credentials file.
func (f *FileBackend) Path() string {
	return f.filePath
}

// Kind reports KindFile.
func (f *FileBackend) Kind() Kind {
	return KindFile
}

// Get returns a single field of the profile's record.
func (f *FileBackend) Get(ctx context.Context, profile, field string) (string, bool, error) {
	if err := ctx.Err(); err != nil {
		return "", false, err
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	doc, err := f.read(ctx)
	if err != nil {
		return "", false, err
	}

	value := fieldValue(doc[profile], field)
	return value, value != "", nil
}

// Set stores a single field of the profile's record, creating the record and file as needed.
func (f *FileBackend) Set(ctx context.Context, profile, field, value string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	doc, err := f.read(ctx)
	if err != nil {
		return err
	}

	rec := doc[profile]
	if rec == nil {
		rec = &Record{}
		doc[profile] = rec
	}
	if err := setField(rec, field, value); err != nil {
		return err
	}

	return f.write(ctx, doc)
}

// Delete clears a single field. Records left without credentials are dropped.
func (f *FileBackend) Delete(ctx context.Context, profile, field string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	doc, err := f.read(ctx)
	if err != nil {
		return err
	}

	rec, ok := doc[profile]
	if !ok || fieldValue(rec, field) == "" {
		return nil
	}
	if err := setField(rec, field, ""); err != nil {
		return err
	}
	if rec.empty() {
		delete(doc, profile)
	}

	return f.write(ctx, doc)
}

// Profiles returns the sorted names of all profiles present in the file.
func (f *FileBackend) Profiles(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	doc, err := f.read(ctx)
	if err != nil {
		return nil, err
	}

	profiles := make([]string, 0, len(doc))
	for name := range doc {
		profiles = append(profiles, name)
	}
	sort.Strings(profiles)
	return profiles, nil
}

// RemoveProfile drops the profile's whole record. Missing file or profile is a no-op.
func (f *FileBackend) RemoveProfile(ctx context.Context, profile string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	doc, err := f.read(ctx)
	if err != nil {
		return err
	}
	if _, ok := doc[profile]; !ok {
		return nil
	}
	delete(doc, profile)

	return f.write(ctx, doc)
}

// Remove deletes the credentials file. A missing file is not an error.
func (f *FileBackend) Remove(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if err := os.Remove(f.filePath); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}

// read loads the document. A missing or empty file yields an empty document.
func (f *FileBackend) read(ctx context.Context) (Document, error) {
	data, err := os.ReadFile(f.filePath)
	if errors.Is(err, fs.ErrNotExist) {
		return Document{}, nil
	}
	if err != nil {
		return nil, err
	}

	if info, err := os.Stat(f.filePath); err == nil && info.Mode().Perm() != 0600 {
		slog.WarnContext(ctx, "insecure permissions on credentials file", "path", f.filePath, "mode", fmt.Sprintf("%04o", info.Mode().Perm()))
	}

	doc := Document{}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", f.filePath, err)
	}
	for name, rec := range doc {
		if rec == nil {
			delete(doc, name)
		}
	}
	return doc, nil
}

// write atomically saves the document using temp file + rename for crash safety.
// Sets file permissions to 0600 (owner read/write only).
func (f *FileBackend) write(ctx context.Context, doc Document) error {
	data, err := yaml.Marshal(doc)
	if err != nil {
		return fmt.Errorf("encoding credentials: %w", err)
	}

	dir := filepath.Dir(f.filePath)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return err
	}

	// Create secure temp file in same directory for atomic rename
	tempFile, err := os.CreateTemp(dir, "*.tmp")
	if err != nil {
		return err
	}
	tempName := tempFile.Name()
	// Cleanup deferred for all exit paths
	defer func() { _ = os.Remove(tempName) }()
	defer func() { _ = tempFile.Close() }()

	if _, err := tempFile.Write(data); err != nil {
		return err
	}

	if err := ctx.Err(); err != nil {
		return err
	}
	if err := tempFile.Close(); err != nil {
		return err
	}

	if err := os.Rename(tempName, f.filePath); err != nil {
		return err
	}

	// Set secure file permissions (0600 = rw-------)
	return os.Chmod(f.filePath, 0600)
}

func fieldValue(rec *Record, field string) string {
	if rec == nil {
		return ""
	}
	if field == FieldAPIKey {
		return rec.APIKey
	}

	tok := rec.OAuthToken
	if tok == nil {
		return ""
	}
	switch field {
	case FieldOAuthAccess:
		return tok.AccessToken
	case FieldOAuthRefresh:
		return tok.RefreshToken
	case FieldOAuthExpires:
		if tok.ExpiresAt != 0 {
			return strconv.FormatInt(tok.ExpiresAt, 10)
		}
	}
	return ""
}

// setField writes value into the record; an empty value clears the field.
func setField(rec *Record, field, value string) error {
	var expiresAt int64
	switch field {
	case FieldAPIKey:
		rec.APIKey = value
		return nil
	case FieldOAuthAccess, FieldOAuthRefresh:
	case FieldOAuthExpires:
		if value != "" {
			parsed, err := strconv.ParseInt(value, 10, 64)
			if err != nil {
				return fmt.Errorf("invalid %s value %q: %w", field, value, err)
			}
			expiresAt = parsed
		}
	default:
		return fmt.Errorf("unknown credential field %q", field)
	}

	if rec.OAuthToken == nil {
		rec.OAuthToken = &OAuthRecord{}
	}

	switch field {
	case FieldOAuthAccess:
		rec.OAuthToken.AccessToken = value
	case FieldOAuthRefresh:
		rec.OAuthToken.RefreshToken = value
	case FieldOAuthExpires:
		rec.OAuthToken.ExpiresAt = expiresAt
	}

	if *rec.OAuthToken == (OAuthRecord{}) {
		rec.OAuthToken = nil
	}
	return nil
}
