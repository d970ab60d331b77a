package lifecycle

import "errors"

var (
	// ErrStartup wraps every failure of Ensure. The daemon must not serve
	// requests after it.
	ErrStartup = errors.New("lifecycle: startup failed")

	// ErrNotLoaded is returned by Update before a configuration is loaded.
	ErrNotLoaded = errors.New("lifecycle: configuration not loaded")

	// ErrRejected is returned by Update when the new configuration is
	// refused before anything is written.
	ErrRejected = errors.New("lifecycle: configuration rejected")
)
