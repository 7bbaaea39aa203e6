// Package migrations embeds the schema and demo seed SQL applied by cmd/migrate.
package migrations

import (
	"embed"
	"io/fs"
)

//go:embed sql/*.sql seeds/*.sql
var files embed.FS

// SQL returns the schema migrations (*.up.sql / *.down.sql).
func SQL() fs.FS { return mustSub("sql") }

// Seeds returns the seed files.
func Seeds() fs.FS { return mustSub("seeds") }

func mustSub(dir string) fs.FS {
	sub, err := fs.Sub(files, dir)
	if err != nil {
		panic(err)
	}
	return sub
}
