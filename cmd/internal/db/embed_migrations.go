// Package db holds gatekeeper's embedded SQL schema.
package db

import "embed"

// MigrationFS embeds SQL migration files from internal/db/migrations.
// Table names are unqualified; the runner pins search_path to the target schema.
//
//go:embed migrations/*.sql
var MigrationFS embed.FS
