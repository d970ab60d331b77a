package devconfig

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

const (
	// dirPermissions is the permission mode for config directories.
	dirPermissions = 0750

	// filePermissions is the permission mode for config files.
	filePermissions = 0600

	fileExtension = ".json"
)

// FileStore keeps each configuration in <dir>/<deviceType>/<instance>.json.
type FileStore struct {
	dir string
}

// NewFileStore creates a FileStore rooted at dir. The directory is created
// on first Save.
func NewFileStore(dir string) *FileStore {
	return &FileStore{dir: dir}
}

// Path returns the file used for the given key.
func (s *FileStore) Path(deviceType, instance string) string {
	return filepath.Join(s.dir, deviceType, instance+fileExtension)
}

// Exists reports whether the configuration file is present.
//
// A stat failure other than "not exist" reports true so that Load surfaces
// the real error instead of a first-run initialisation overwriting the file.
func (s *FileStore) Exists(_ context.Context, deviceType, instance string) bool {
	if validateKey(deviceType, instance) != nil {
		return false
	}
	_, err := os.Stat(s.Path(deviceType, instance))
	return !errors.Is(err, fs.ErrNotExist)
}

// Load reads and decodes the configuration file.
func (s *FileStore) Load(_ context.Context, deviceType, instance string) (*Config, error) {
	if err := validateKey(deviceType, instance); err != nil {
		return nil, err
	}

	path := s.Path(deviceType, instance)
	data, err := os.ReadFile(path) //nolint:gosec // Path built from validated key
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, path)
		}
		return nil, fmt.Errorf("%w: reading %s: %w", ErrIO, path, err)
	}

	cfg, err := Decode(data)
	if err != nil {
		return nil, fmt.Errorf("loading %s: %w", path, err)
	}
	return cfg, nil
}

// Save writes the configuration atomically: the document goes to a temporary
// file in the same directory which is then renamed over the target.
func (s *FileStore) Save(_ context.Context, deviceType, instance string, cfg *Config) error {
	if err := validateKey(deviceType, instance); err != nil {
		return err
	}

	data, err := Encode(cfg)
	if err != nil {
		return err
	}

	path := s.Path(deviceType, instance)
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, dirPermissions); err != nil {
		return fmt.Errorf("%w: creating %s: %w", ErrIO, dir, err)
	}

	tmp, err := os.CreateTemp(dir, "."+instance+fileExtension+".tmp-*")
	if err != nil {
		return fmt.Errorf("%w: creating temp file: %w", ErrIO, err)
	}
	tmpPath := tmp.Name()
	committed := false
	defer func() {
		if !committed {
			os.Remove(tmpPath) //nolint:errcheck // Best effort cleanup on error path
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close() //nolint:errcheck // Already failing
		return fmt.Errorf("%w: writing %s: %w", ErrIO, tmpPath, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close() //nolint:errcheck // Already failing
		return fmt.Errorf("%w: syncing %s: %w", ErrIO, tmpPath, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("%w: closing %s: %w", ErrIO, tmpPath, err)
	}
	if err := os.Chmod(tmpPath, filePermissions); err != nil {
		return fmt.Errorf("%w: chmod %s: %w", ErrIO, tmpPath, err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("%w: replacing %s: %w", ErrIO, path, err)
	}
	committed = true
	return nil
}
