package devconfig

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/nerrad567/hnode2-datasink/internal/infrastructure/database"
	"github.com/nerrad567/hnode2-datasink/migrations"
)

// SQLiteStore keeps each configuration as one row of the device_configs table.
type SQLiteStore struct {
	db *database.DB
}

// NewSQLiteStore applies the embedded schema migrations to db and returns a
// store backed by it. The caller keeps ownership of db and closes it.
func NewSQLiteStore(ctx context.Context, db *database.DB) (*SQLiteStore, error) {
	if _, err := db.Migrate(ctx, migrations.FS); err != nil {
		return nil, fmt.Errorf("%w: migrating config database: %w", ErrIO, err)
	}
	return &SQLiteStore{db: db}, nil
}

// Exists reports whether a row is stored for the key. A query failure
// reports true so that Load surfaces the error.
func (s *SQLiteStore) Exists(ctx context.Context, deviceType, instance string) bool {
	if validateKey(deviceType, instance) != nil {
		return false
	}
	var one int
	err := s.db.QueryRowContext(ctx,
		"SELECT 1 FROM device_configs WHERE device_type = ? AND instance = ?",
		deviceType, instance,
	).Scan(&one)
	return !errors.Is(err, sql.ErrNoRows)
}

// Load reads and decodes the stored document.
func (s *SQLiteStore) Load(ctx context.Context, deviceType, instance string) (*Config, error) {
	if err := validateKey(deviceType, instance); err != nil {
		return nil, err
	}

	var data string
	err := s.db.QueryRowContext(ctx,
		"SELECT data FROM device_configs WHERE device_type = ? AND instance = ?",
		deviceType, instance,
	).Scan(&data)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s/%s", ErrNotFound, deviceType, instance)
		}
		return nil, fmt.Errorf("%w: querying config: %w", ErrIO, err)
	}

	cfg, err := Decode([]byte(data))
	if err != nil {
		return nil, fmt.Errorf("loading %s/%s: %w", deviceType, instance, err)
	}
	return cfg, nil
}

// Save upserts the document inside a transaction.
func (s *SQLiteStore) Save(ctx context.Context, deviceType, instance string, cfg *Config) error {
	if err := validateKey(deviceType, instance); err != nil {
		return err
	}

	data, err := Encode(cfg)
	if err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: starting transaction: %w", ErrIO, err)
	}
	defer tx.Rollback() //nolint:errcheck // Rollback is no-op after commit

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO device_configs (device_type, instance, data, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (device_type, instance)
		DO UPDATE SET data = excluded.data, updated_at = excluded.updated_at`,
		deviceType, instance, string(data), time.Now().UTC().Format(time.RFC3339Nano),
	); err != nil {
		return fmt.Errorf("%w: saving config: %w", ErrIO, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: committing config: %w", ErrIO, err)
	}
	return nil
}
