package credentials

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"

	"github.com/hopx-ai/hopx-cli/internal/secretstore"
)

// ClearAllProfiles clears every profile known to the credentials file plus the
// default profile, then deletes the file. It returns the sorted names of the
// profiles that had an API key before clearing.
func ClearAllProfiles(ctx context.Context, backend secretstore.Backend, file *secretstore.FileBackend) ([]string, error) {
	if file == nil {
		return nil, fmt.Errorf("missing credentials file backend")
	}

	profiles, err := file.Profiles(ctx)
	if err != nil {
		// A corrupt file still gets deleted below; only the default profile is cleared from the backend.
		slog.WarnContext(ctx, "cannot enumerate profiles in credentials file", "path", file.Path(), "error", err)
		profiles = nil
	}
	if !slices.Contains(profiles, DefaultProfile) {
		profiles = append(profiles, DefaultProfile)
	}
	slices.Sort(profiles)

	var (
		cleared []string
		errs    []error
	)
	for _, profile := range profiles {
		store, err := New(profile, backend, file)
		if err != nil {
			return nil, err
		}

		if _, ok, err := store.APIKey(ctx); err == nil && ok {
			cleared = append(cleared, profile)
		}

		if err := store.Clear(ctx); err != nil {
			errs = append(errs, err)
		}
	}

	if err := file.Remove(ctx); err != nil {
		errs = append(errs, fmt.Errorf("removing %s: %w", file.Path(), err))
	}

	return cleared, errors.Join(errs...)
}
