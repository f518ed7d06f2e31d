// Package migrations embeds the SQL schema and seed files so the
// migration binary carries them instead of reading from disk.
package migrations

import "embed"

//go:embed sql seeds
var Files embed.FS

const (
	// SQLDir holds the numbered .up.sql/.down.sql migration pairs.
	SQLDir = "sql"
	// SeedsDir holds idempotent seed files applied by the seed command.
	SeedsDir = "seeds"
)
