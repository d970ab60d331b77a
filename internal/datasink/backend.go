package datasink

import (
	"context"

	"github.com/google/uuid"
)

// LogBackend is the storage behind the logging operations.
type LogBackend interface {
	// Status describes the configured logging streams.
	Status(ctx context.Context) ([]any, error)

	// Configure applies a logging configuration document.
	Configure(ctx context.Context, cfg []byte) error

	// Entries returns the logged data.
	Entries(ctx context.Context) (map[string]any, error)

	// Append stores a batch of log entries and returns the ID of the
	// created resource.
	Append(ctx context.Context, entries []byte) (string, error)
}

// Unbacked is a LogBackend with no storage.
type Unbacked struct{}

// Status returns an empty list.
func (Unbacked) Status(context.Context) ([]any, error) {
	return []any{}, nil
}

// Configure discards cfg.
func (Unbacked) Configure(context.Context, []byte) error {
	return nil
}

// Entries returns an empty object.
func (Unbacked) Entries(context.Context) (map[string]any, error) {
	return map[string]any{}, nil
}

// Append discards entries and returns a new random ID.
func (Unbacked) Append(context.Context, []byte) (string, error) {
	return uuid.NewString(), nil
}
