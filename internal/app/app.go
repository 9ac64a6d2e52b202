package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/hopx-ai/hopx-cli/internal/auth"
	"github.com/hopx-ai/hopx-cli/internal/credentials"
	"github.com/hopx-ai/hopx-cli/internal/login"
	"github.com/hopx-ai/hopx-cli/internal/secretstore"
	"github.com/hopx-ai/hopx-cli/internal/tokensource"
)

// Option configures an App.
type Option func(*options)

type options struct {
	refresherOpts []tokensource.Option
	managerOpts   []auth.Option
}

// WithRefresherOptions passes options to the token refresher.
func WithRefresherOptions(opts ...tokensource.Option) Option {
	return func(o *options) {
		o.refresherOpts = append(o.refresherOpts, opts...)
	}
}

// WithManagerOptions passes options to the token manager.
func WithManagerOptions(opts ...auth.Option) Option {
	return func(o *options) {
		o.managerOpts = append(o.managerOpts, opts...)
	}
}

// App wires the credential components for the configured profile.
// One App per process: the storage backend decides keyring availability once.
type App struct {
	cfg       *Config
	file      *secretstore.FileBackend
	backend   secretstore.Backend
	store     *credentials.Store
	refresher *tokensource.Refresher
	manager   *auth.Manager
}

// New creates a new App instance. No credential I/O happens until first use.
func New(cfg *Config, opts ...Option) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	o := &options{}
	for _, opt := range opts {
		opt(o)
	}

	backend, file, err := newBackend(cfg.Auth)
	if err != nil {
		return nil, fmt.Errorf("failed to create secret backend: %w", err)
	}

	store, err := credentials.New(cfg.Profile, backend, file)
	if err != nil {
		return nil, fmt.Errorf("failed to create credential store: %w", err)
	}

	refresher := tokensource.NewRefresher(cfg.OAuthEndpoint(), cfg.Auth.ClientID, o.refresherOpts...)

	manager, err := auth.NewManager(store, refresher, o.managerOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create token manager: %w", err)
	}

	return &App{
		cfg:       cfg,
		file:      file,
		backend:   backend,
		store:     store,
		refresher: refresher,
		manager:   manager,
	}, nil
}

// Config returns the validated configuration.
func (a *App) Config() *Config {
	return a.cfg
}

// Store returns the credential store of the configured profile.
func (a *App) Store() *credentials.Store {
	return a.store
}

// Manager returns the token manager of the configured profile.
func (a *App) Manager() *auth.Manager {
	return a.manager
}

// Login runs the browser or headless OAuth login and stores the token.
func (a *App) Login(ctx context.Context, opts login.Options, flowOpts ...login.FlowOption) (credentials.Token, error) {
	flowOpts = append([]login.FlowOption{
		login.WithCallbackPort(int(*a.cfg.Auth.CallbackPort)),
		login.WithTimeout(a.cfg.Auth.LoginTimeout),
	}, flowOpts...)

	flow, err := login.NewFlow(a.refresher, a.store, flowOpts...)
	if err != nil {
		return credentials.Token{}, fmt.Errorf("failed to create login flow: %w", err)
	}
	return flow.Login(ctx, opts)
}

// SetAPIKey stores an API key for the configured profile.
func (a *App) SetAPIKey(ctx context.Context, key string, useKeyring bool) error {
	return a.store.StoreAPIKey(ctx, key, useKeyring)
}

// Token returns the preferred credential, or auth.ErrNotAuthenticated.
func (a *App) Token(ctx context.Context) (string, error) {
	token, ok := a.manager.PreferredToken(ctx)
	if !ok {
		return "", auth.ErrNotAuthenticated
	}
	return token, nil
}

// Status reports the credentials available for the configured profile.
func (a *App) Status(ctx context.Context) auth.Status {
	return a.manager.Status(ctx)
}

// Logout clears the configured profile, or every profile when all is set.
// It returns the profiles that had an API key stored.
func (a *App) Logout(ctx context.Context, all bool) ([]string, error) {
	if all {
		return credentials.ClearAllProfiles(ctx, a.backend, a.file)
	}

	var cleared []string
	if _, ok, err := a.store.APIKey(ctx); err == nil && ok {
		cleared = append(cleared, a.store.Profile())
	}
	if err := a.store.Clear(ctx); err != nil {
		return cleared, err
	}

	slog.DebugContext(ctx, "cleared credentials", "profile", a.store.Profile())
	return cleared, nil
}

// newBackend creates the secret backend for the storage type plus the credentials file backend.
func newBackend(cfg AuthConfig) (secretstore.Backend, *secretstore.FileBackend, error) {
	file, err := secretstore.NewFileBackend(cfg.File)
	if err != nil {
		return nil, nil, err
	}

	switch cfg.Storage {
	case StorageTypeFile:
		return file, file, nil
	case StorageTypeKeyring:
		kr, err := secretstore.NewKeyringBackend(cfg.KeyringService)
		if err != nil {
			return nil, nil, err
		}
		return kr, file, nil
	case StorageTypeAuto:
		kr, err := secretstore.NewKeyringBackend(cfg.KeyringService)
		if err != nil {
			return nil, nil, err
		}
		fallback, err := secretstore.NewFallbackBackend(kr, file)
		if err != nil {
			return nil, nil, err
		}
		return fallback, file, nil
	default:
		return nil, nil, fmt.Errorf("unsupported storage type: %s", cfg.Storage)
	}
}
