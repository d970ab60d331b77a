// Package migrations embeds the SQLite schema migrations into the binary.
//
// The SQLite configuration store applies them on open, so no SQL files need
// to be present on the device filesystem.
package migrations

import "embed"

// FS holds every *.up.sql file in this directory.
//
//go:embed *.sql
var FS embed.FS
