// Package migrations embeds SQL migration files into the binary.
//
// Importing it for side effects registers the files with the database
// package, so the daemon runs migrations without the SQL on disk.
package migrations

import (
	"embed"

	"github.com/nerrad567/gray-logic-lightify/internal/infrastructure/database"
)

//go:embed *.sql
var migrationsFS embed.FS

func init() {
	database.MigrationsFS = migrationsFS
	database.MigrationsDir = "." // Files are at root of embedded FS
}
