package app

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/go-playground/validator/v10"
	"golang.org/x/oauth2"

	"github.com/hopx-ai/hopx-cli/internal/credentials"
	"github.com/hopx-ai/hopx-cli/internal/login"
	"github.com/hopx-ai/hopx-cli/internal/secretstore"
	"github.com/hopx-ai/hopx-cli/internal/tokensource"
)

// LogFormat represents the logging output format.
type LogFormat string

const (
	LogFormatText LogFormat = "text"
	LogFormatJSON LogFormat = "json"
)

// OTLP transport protocols.
const (
	OTLPProtocolHTTP = "http"
	OTLPProtocolGRPC = "grpc"
)

// StorageType selects where credentials are kept.
type StorageType string

const (
	// StorageTypeAuto uses the platform keyring and falls back to the credentials file
	// when the keyring is unavailable.
	StorageTypeAuto    StorageType = "auto"
	StorageTypeKeyring StorageType = "keyring"
	StorageTypeFile    StorageType = "file"
)

// Default configuration values
const (
	DefaultConfigLogFormat    = LogFormatText
	DefaultConfigProfile      = credentials.DefaultProfile
	DefaultConfigBaseURL      = tokensource.DefaultBaseURL
	DefaultConfigAuthStorage  = StorageTypeAuto
	DefaultConfigCallbackPort = login.DefaultCallbackPort
	DefaultConfigLoginTimeout = login.DefaultTimeout
	DefaultConfigOTLPProtocol = OTLPProtocolHTTP

	configDirName       = ".hopx"
	configFileName      = "config.toml"
	credentialsFileName = "credentials.yaml"
)

// AuthConfig describes how credentials are stored and how OAuth tokens are obtained.
type AuthConfig struct {
	Storage StorageType `json:"storage" validate:"required,oneof=auto keyring file"`

	// File is the credentials file, used directly for file storage and as fallback otherwise.
	File string `json:"file"`
	// KeyringService is the service name keyring entries are filed under.
	KeyringService string `json:"keyring_service"`

	ClientID     string `json:"client_id" validate:"required"`
	AuthorizeURL string `json:"authorize_url,omitempty" validate:"omitempty,url"`
	TokenURL     string `json:"token_url,omitempty" validate:"omitempty,url"`

	// CallbackPort for the login redirect; 0 picks any free port. Nil until defaults are applied.
	CallbackPort *uint16       `json:"callback_port"`
	LoginTimeout time.Duration `json:"login_timeout" validate:"gte=0"`
}

// OTLPConfig enables log export to an OpenTelemetry collector.
type OTLPConfig struct {
	// Endpoint is the collector URL; export is off when empty.
	Endpoint string `json:"endpoint" validate:"omitempty,url"`
	Protocol string `json:"protocol" validate:"oneof=http grpc"`
}

// Config holds the application's configuration.
type Config struct {
	// LogLevel for logging output (defaults to Info if unset).
	LogLevel  slog.Level `json:"log_level"`
	LogFormat LogFormat  `json:"log_format" validate:"oneof=text json"`
	Profile   string     `json:"profile" validate:"required"`
	BaseURL   string     `json:"base_url" validate:"required,url"`
	Auth      AuthConfig `json:"auth"`
	OTLP      OTLPConfig `json:"otlp"`
}

// DefaultDir returns the per-user directory holding config and credentials.
func DefaultDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, configDirName), nil
}

// DefaultConfigPath returns the config file read when --config is not given.
func DefaultConfigPath() (string, error) {
	dir, err := DefaultDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, configFileName), nil
}

// Default creates a new Config with default values applied.
func Default() (*Config, error) {
	cfg := &Config{}
	if err := cfg.ApplyDefaults(); err != nil {
		return nil, fmt.Errorf("failed to apply defaults: %w", err)
	}
	return cfg, nil
}

// ApplyDefaults fills unset config fields with sensible defaults.
func (c *Config) ApplyDefaults() error {
	if c.LogFormat == "" {
		c.LogFormat = DefaultConfigLogFormat
	}
	if c.Profile == "" {
		c.Profile = DefaultConfigProfile
	}
	if c.BaseURL == "" {
		c.BaseURL = DefaultConfigBaseURL
	}
	if c.OTLP.Protocol == "" {
		c.OTLP.Protocol = DefaultConfigOTLPProtocol
	}
	if c.Auth.Storage == "" {
		c.Auth.Storage = DefaultConfigAuthStorage
	}
	if c.Auth.KeyringService == "" {
		c.Auth.KeyringService = secretstore.DefaultService
	}
	if c.Auth.ClientID == "" {
		c.Auth.ClientID = tokensource.ClientID
	}
	if c.Auth.CallbackPort == nil {
		port := uint16(DefaultConfigCallbackPort)
		c.Auth.CallbackPort = &port
	}
	if c.Auth.LoginTimeout == 0 {
		c.Auth.LoginTimeout = DefaultConfigLoginTimeout
	}

	if c.Auth.File == "" {
		dir, err := DefaultDir()
		if err != nil {
			return fmt.Errorf("auth.file required (auto-detect failed: %w)", err)
		}
		c.Auth.File = filepath.Join(dir, credentialsFileName)
	}

	return nil
}

// Validate validates the configuration using struct tags and enum values.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return err
	}

	// Every storage type needs the file: directly, as fallback, or as second read location
	if c.Auth.File == "" {
		return errors.New("auth.file required")
	}
	if c.Auth.Storage != StorageTypeFile && c.Auth.KeyringService == "" {
		return errors.New("auth.keyring_service required for keyring storage")
	}
	if c.Auth.CallbackPort == nil {
		return errors.New("auth.callback_port required")
	}

	return nil
}

// OAuthEndpoint returns the OAuth endpoints below BaseURL, overridden by
// auth.authorize_url and auth.token_url when set.
func (c *Config) OAuthEndpoint() oauth2.Endpoint {
	endpoint := tokensource.Endpoint(c.BaseURL)
	if c.Auth.AuthorizeURL != "" {
		endpoint.AuthURL = c.Auth.AuthorizeURL
	}
	if c.Auth.TokenURL != "" {
		endpoint.TokenURL = c.Auth.TokenURL
	}
	return endpoint
}
