// Package migrations embeds the journal schema migrations.
//
// Migrations are forward-only and named NNNN_description.sql, numbered from
// 0001 without gaps. A new column must be NULLable or carry a DEFAULT so
// that older rows stay valid.
package migrations

import "embed"

// FS holds every *.sql migration at its root. Pass it to
// (*database.DB).Migrate.
//
//go:embed *.sql
var FS embed.FS
