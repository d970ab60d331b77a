package hnode

import "errors"

var (
	// ErrInvalidSection is returned when the device config section is missing
	// or does not belong to this device.
	ErrInvalidSection = errors.New("hnode: invalid device config section")

	// ErrInvalidEndpoint is returned by AddEndpoint for an unusable endpoint set.
	ErrInvalidEndpoint = errors.New("hnode: invalid endpoint")

	// ErrRouteConflict is returned by AddEndpoint when two endpoint sets
	// claim the same path and method.
	ErrRouteConflict = errors.New("hnode: route already registered")
)
