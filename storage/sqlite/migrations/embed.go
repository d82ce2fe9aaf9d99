package migrations

import "embed"

// FS holds the schema migrations applied by sqlite.Open.
//
//go:embed *.sql
var FS embed.FS
