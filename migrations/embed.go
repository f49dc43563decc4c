// Package migrations embeds SQL migration files into the binary.
//
// This allows mqttroute to run migrations without needing the SQL files
// present on the filesystem; they're compiled into the executable.
package migrations

import "embed"

// FS holds every *.sql file in this directory, at the root of the filesystem.
//
//go:embed *.sql
var FS embed.FS
