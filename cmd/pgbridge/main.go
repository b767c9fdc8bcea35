// Command pgbridge replicates PostgreSQL, MySQL, and SQLite source
// databases into a PostgreSQL target: one-shot snapshot, continuous
// logical-replication sync, and status/verification workflows.
package main

import (
	"os"

	_ "github.com/pgbridge/pgbridge/internal/source/mysqlsrc"
	_ "github.com/pgbridge/pgbridge/internal/source/postgressrc"
	_ "github.com/pgbridge/pgbridge/internal/source/sqlitesrc"

	"github.com/pgbridge/pgbridge/cmd/pgbridge/cmd"
	"github.com/pgbridge/pgbridge/internal/errkind"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(errkind.ExitCode(err))
	}
}
