// Package devconfig holds the persisted device configuration and the
// stores that read and write it.
//
// A Config is a named collection of sections. Each section is a flat
// string map owned by one part of the daemon (the device framework owns
// the "device" section). A Config is always persisted as a single unit:
// after a Save the stored copy is either the previous document or the new
// one, never a mixture.
//
// # Backends
//
//   - FileStore: one JSON file per instance at <dir>/<deviceType>/<instance>.json,
//     written via temp file and rename
//   - SQLiteStore: one row per instance in the device_configs table
//
// # Usage
//
//	store := devconfig.NewFileStore("/var/cache/hnode2")
//	if !store.Exists(ctx, deviceType, instance) {
//	    cfg := devconfig.New()
//	    cfg.SetSection("device", map[string]string{"name": instance})
//	    err = store.Save(ctx, deviceType, instance, cfg)
//	}
//	cfg, err := store.Load(ctx, deviceType, instance)
//	if errors.Is(err, devconfig.ErrCorrupt) {
//	    // do not overwrite, report and stop
//	}
package devconfig
