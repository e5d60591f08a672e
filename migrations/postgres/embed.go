// Package migrations embebe los archivos SQL del esquema.
package migrations

import "embed"

// FS contiene las migraciones de PostgreSQL (convención _up.sql / _down.sql,
// ejecutadas en orden lexicográfico).
//
//go:embed *.sql
var FS embed.FS
