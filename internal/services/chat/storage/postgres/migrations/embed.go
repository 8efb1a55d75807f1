package migrations

import "embed"

// FS contains embedded goose migrations for Postgres chat storage.
//
//go:embed *.sql
var FS embed.FS
