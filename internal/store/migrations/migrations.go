// Package migrations embeds the SQL schema history of tpost.db.
package migrations

import "embed"

// FS holds the numbered *.up.sql files applied by store.Migrate.
//
//go:embed *.sql
var FS embed.FS
