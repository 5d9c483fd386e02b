// Package dbmigrations exposes embedded SQL migrations for arbwatch binaries.
package dbmigrations

import "embed"

// Files contains the embedded SQL migrations bundled into arbwatch binaries.
//
//go:embed *.sql
var Files embed.FS
