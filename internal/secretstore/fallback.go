package secretstore

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
)

// FallbackBackend routes calls to the platform keyring, or to the credentials
// file when the keyring turns out to be unusable.
//
// The first operation selects the backend. If it fails on the platform
// backend, the platform is marked unavailable and that operation, like every
// later one, is served by the file backend. The decision is never revisited,
// so secrets are not split across two stores within one process.
type FallbackBackend struct {
	platform Backend
	file     Backend

	mu          sync.Mutex
	selected    bool
	useFallback bool
}

// Compile-time check to ensure FallbackBackend implements Backend
var _ Backend = (*FallbackBackend)(nil)

// NewFallbackBackend creates a FallbackBackend over the given platform and file backends.
func NewFallbackBackend(platform, file Backend) (*FallbackBackend, error) {
	if platform == nil {
		return nil, fmt.Errorf("missing platform backend")
	}
	if file == nil {
		return nil, fmt.Errorf("missing file backend")
	}

	return &FallbackBackend{
		platform: platform,
		file:     file,
	}, nil
}

// Get returns the secret from the selected backend.
func (b *FallbackBackend) Get(ctx context.Context, profile, field string) (string, bool, error) {
	var (
		value string
		ok    bool
	)
	err := b.do(ctx, func(backend Backend) error {
		var err error
		value, ok, err = backend.Get(ctx, profile, field)
		return err
	})
	return value, ok, err
}

// Set stores the secret in the selected backend.
func (b *FallbackBackend) Set(ctx context.Context, profile, field, value string) error {
	return b.do(ctx, func(backend Backend) error {
		return backend.Set(ctx, profile, field, value)
	})
}

// Delete removes the secret from the selected backend.
func (b *FallbackBackend) Delete(ctx context.Context, profile, field string) error {
	return b.do(ctx, func(backend Backend) error {
		return backend.Delete(ctx, profile, field)
	})
}

// Kind reports the selected backend. Before the first operation this is the platform backend.
func (b *FallbackBackend) Kind() Kind {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.useFallback {
		return b.file.Kind()
	}
	return b.platform.Kind()
}

func (b *FallbackBackend) do(ctx context.Context, op func(Backend) error) error {
	b.mu.Lock()
	if b.selected {
		backend := b.platform
		if b.useFallback {
			backend = b.file
		}
		b.mu.Unlock()
		return op(backend)
	}
	// Hold the lock through selection so concurrent first calls observe one decision.
	defer b.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}

	b.selected = true
	if err := op(b.platform); err != nil {
		if ctx.Err() != nil {
			// Cancellation says nothing about the platform store; select again next time.
			b.selected = false
			return err
		}
		slog.DebugContext(ctx, "platform secret store unavailable, using credentials file", "error", err)
		b.useFallback = true
		return op(b.file)
	}

	return nil
}
