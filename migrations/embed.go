// Package migrations embeds the per-tenant schema applied by db.Migrator.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
