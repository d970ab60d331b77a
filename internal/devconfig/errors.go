package devconfig

import "errors"

// Domain errors for the devconfig package.
//
// Store implementations wrap these with the underlying cause:
//
//	if errors.Is(err, devconfig.ErrNotFound) {
//	    // no configuration persisted yet
//	}
var (
	// ErrNotFound is returned by Load when no configuration is stored for the key.
	ErrNotFound = errors.New("devconfig: not found")

	// ErrCorrupt is returned by Load when the stored document cannot be decoded.
	ErrCorrupt = errors.New("devconfig: corrupt")

	// ErrIO is returned when the underlying storage cannot be read or written.
	ErrIO = errors.New("devconfig: i/o failure")

	// ErrInvalidConfig is returned when a configuration fails validation.
	ErrInvalidConfig = errors.New("devconfig: invalid")

	// ErrInvalidKey is returned when a device type or instance cannot be used as a store key.
	ErrInvalidKey = errors.New("devconfig: invalid key")
)
