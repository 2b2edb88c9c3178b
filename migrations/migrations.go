package migrations

import "embed"

// FS holds the schema migrations in golang-migrate naming
// (<version>_<name>.up.sql / .down.sql).
//
//go:embed *.sql
var FS embed.FS
