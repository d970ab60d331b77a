// Package lifecycle owns the persisted device configuration at runtime.
//
// At startup Ensure guarantees a configuration exists (creating the
// defaults on first run), loads it, and hands it to the device framework.
// Any failure on that path is fatal to the daemon: a corrupt or unreadable
// configuration is never replaced with defaults.
//
// # States
//
//	Unchecked --Ensure--> Initialized --load ok--> Loaded
//	     |                     |
//	     +------ failure ------+-------> Failed
//
// Once Loaded, Update replaces the configuration. Readers always see a
// complete snapshot: either the one before an Update or the one after it.
//
// # Thread Safety
//
// Snapshot and State never block. Ensure and Update are serialised.
package lifecycle
