package devconfig

import (
	"context"
	"fmt"
	"strings"
)

// Store persists one Config per (deviceType, instance) pair.
//
// Implementations allow a single writer at a time and make no further
// concurrency guarantees.
type Store interface {
	// Exists reports whether a configuration is stored for the key.
	// It never fails; absence is the normal first-run state.
	Exists(ctx context.Context, deviceType, instance string) bool

	// Load reads the stored configuration.
	// Returns ErrNotFound, ErrCorrupt or ErrIO (wrapped) on failure.
	Load(ctx context.Context, deviceType, instance string) (*Config, error)

	// Save writes cfg as a single unit, replacing any stored copy.
	// Returns ErrIO (wrapped) on failure.
	Save(ctx context.Context, deviceType, instance string, cfg *Config) error
}

// validateKey rejects keys that cannot name a file or would escape the
// store directory.
func validateKey(deviceType, instance string) error {
	for _, part := range []string{deviceType, instance} {
		switch {
		case part == "", part == ".", part == "..":
			return fmt.Errorf("%w: %q", ErrInvalidKey, part)
		case strings.ContainsAny(part, `/\`), strings.ContainsRune(part, 0):
			return fmt.Errorf("%w: %q contains a path separator", ErrInvalidKey, part)
		}
	}
	return nil
}
