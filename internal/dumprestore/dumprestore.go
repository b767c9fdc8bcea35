// Package dumprestore wraps the pg_dumpall/pg_dump/pg_restore client tools
// as retried subprocesses, scoped to a short-lived .pgpass file so
// passwords never appear in argv or logs.
package dumprestore

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"runtime"

	"github.com/rs/zerolog/log"

	"github.com/pgbridge/pgbridge/internal/errkind"
	"github.com/pgbridge/pgbridge/internal/filter"
	"github.com/pgbridge/pgbridge/internal/pgpass"
	"github.com/pgbridge/pgbridge/internal/retry"
	"github.com/pgbridge/pgbridge/internal/tablerules"
)

const clientInstallHint = "Is the PostgreSQL client installed?\n" +
	"Install with:\n" +
	"  - Ubuntu/Debian: sudo apt-get install postgresql-client\n" +
	"  - macOS: brew install postgresql\n" +
	"  - RHEL/CentOS: sudo yum install postgresql"

// runWithAuth builds a pgpass file for parts, runs name with args, and
// cleans up the pgpass file regardless of outcome. Output is streamed to
// this process's stdout/stderr so progress is visible live, matching the
// teacher's process-management convention of inheriting standard streams
// for long-running external tools.
func runWithAuth(ctx context.Context, parts pgpass.URLParts, name string, args []string, toolLabel string) error {
	pf, err := pgpass.New(parts.Host, parts.Port, parts.Database, parts.User, parts.Password)
	if err != nil {
		return err
	}
	defer pf.Remove()

	return retry.WithBackoff(ctx, func() error {
		cmd := exec.CommandContext(ctx, name, args...)
		cmd.Env = append(os.Environ(), "PGPASSFILE="+pf.Path())
		cmd.Env = append(cmd.Env, parts.EnvVars()...)
		cmd.Stdout = os.Stdout
		cmd.Stderr = os.Stderr

		if err := cmd.Run(); err != nil {
			if _, ok := err.(*exec.Error); ok {
				return errkind.New(errkind.ExternalToolMissing, "failed to execute %s. %s: %w", name, clientInstallHint, err)
			}
			return errkind.New(errkind.ExternalToolFailed, "%s failed: %w", toolLabel, err)
		}
		return nil
	}, retry.Options{})
}

// DumpGlobals dumps roles and tablespaces (not database-scoped objects)
// via pg_dumpall --globals-only.
func DumpGlobals(ctx context.Context, sourceURL, outputPath string) error {
	parts, err := pgpass.ParseForSubprocess(sourceURL)
	if err != nil {
		return fmt.Errorf("failed to parse source URL: %w", err)
	}

	log.Info().Str("output", outputPath).Msg("dumping global objects")

	args := []string{
		"--globals-only",
		"--no-role-passwords",
		"--verbose",
		"--host", parts.Host,
		"--port", fmt.Sprintf("%d", parts.Port),
		"--database", parts.Database,
		"--file=" + outputPath,
	}
	if parts.User != "" {
		args = append(args, "--username", parts.User)
	}

	if err := runWithAuth(ctx, parts, "pg_dumpall", args, "pg_dumpall (dump globals)"); err != nil {
		return fmt.Errorf("pg_dumpall failed to dump global objects (common causes: authentication failure, "+
			"insufficient privileges — need SUPERUSER or pg_read_all_settings, network issues): %w", err)
	}
	log.Info().Msg("global objects dumped successfully")
	return nil
}

// DumpSchema dumps DDL-only for database, excluding tables the filter/rules
// say should not get their schema created.
func DumpSchema(ctx context.Context, sourceURL, database, outputPath string, f *filter.Filter, rules *tablerules.TableRules) error {
	parts, err := pgpass.ParseForSubprocess(sourceURL)
	if err != nil {
		return fmt.Errorf("failed to parse source URL: %w", err)
	}

	log.Info().Str("database", database).Str("output", outputPath).Msg("dumping schema")

	args := []string{"--schema-only", "--no-owner", "--no-privileges", "--verbose"}
	for _, table := range schemaExcludedTables(f, database) {
		args = append(args, "--exclude-table", table)
	}
	for _, table := range includedTables(f, database) {
		args = append(args, "--table", table)
	}
	args = append(args,
		"--host", parts.Host,
		"--port", fmt.Sprintf("%d", parts.Port),
		"--dbname", parts.Database,
		"--file="+outputPath,
	)
	if parts.User != "" {
		args = append(args, "--username", parts.User)
	}

	if err := runWithAuth(ctx, parts, "pg_dump", args, "pg_dump (dump schema)"); err != nil {
		return fmt.Errorf("pg_dump failed to dump schema for database %q: %w", database, err)
	}
	log.Info().Str("database", database).Msg("schema dumped successfully")
	return nil
}

// DumpData dumps data-only, in PostgreSQL directory format, for database,
// excluding explicit excludes, schema-only tables, and predicate-filtered
// tables (those are copied separately via the filtered copy engine).
// Parallelism is the number of available CPUs, capped at 8.
func DumpData(ctx context.Context, sourceURL, database, outputPath string, f *filter.Filter, rules *tablerules.TableRules) error {
	parts, err := pgpass.ParseForSubprocess(sourceURL)
	if err != nil {
		return fmt.Errorf("failed to parse source URL: %w", err)
	}

	jobs := runtime.NumCPU()
	if jobs > 8 {
		jobs = 8
	}
	if jobs < 1 {
		jobs = 1
	}

	log.Info().Str("database", database).Str("output", outputPath).
		Int("jobs", jobs).Msg("dumping data (directory format, compression=9)")

	args := []string{
		"--data-only", "--no-owner",
		"--format=directory", "--blobs", "--compress=9",
		fmt.Sprintf("--jobs=%d", jobs), "--verbose",
	}
	for _, table := range dataExcludedTables(f, database, rules) {
		args = append(args, "--exclude-table-data", table)
	}
	for _, table := range includedTables(f, database) {
		args = append(args, "--table", table)
	}
	args = append(args,
		"--host", parts.Host,
		"--port", fmt.Sprintf("%d", parts.Port),
		"--dbname", parts.Database,
		"--file="+outputPath,
	)
	if parts.User != "" {
		args = append(args, "--username", parts.User)
	}

	if err := runWithAuth(ctx, parts, "pg_dump", args, "pg_dump (dump data)"); err != nil {
		return fmt.Errorf("pg_dump failed to dump data for database %q: %w", database, err)
	}
	log.Info().Str("database", database).Int("jobs", jobs).Msg("data dumped successfully")
	return nil
}

// RestoreGlobals applies a globals SQL dump via psql, since pg_dumpall
// globals-only output is plain SQL, not a pg_restore archive.
func RestoreGlobals(ctx context.Context, targetURL, inputPath string) error {
	parts, err := pgpass.ParseForSubprocess(targetURL)
	if err != nil {
		return fmt.Errorf("failed to parse target URL: %w", err)
	}

	args := []string{
		"--host", parts.Host,
		"--port", fmt.Sprintf("%d", parts.Port),
		"--dbname", parts.Database,
		"--file", inputPath,
	}
	if parts.User != "" {
		args = append(args, "--username", parts.User)
	}

	if err := runWithAuth(ctx, parts, "psql", args, "psql (restore globals)"); err != nil {
		return fmt.Errorf("psql failed to restore global objects: %w", err)
	}
	return nil
}

// RestoreSchema applies a schema-only SQL dump via psql.
func RestoreSchema(ctx context.Context, targetURL, inputPath string) error {
	parts, err := pgpass.ParseForSubprocess(targetURL)
	if err != nil {
		return fmt.Errorf("failed to parse target URL: %w", err)
	}

	args := []string{
		"--host", parts.Host,
		"--port", fmt.Sprintf("%d", parts.Port),
		"--dbname", parts.Database,
		"--file", inputPath,
	}
	if parts.User != "" {
		args = append(args, "--username", parts.User)
	}

	if err := runWithAuth(ctx, parts, "psql", args, "psql (restore schema)"); err != nil {
		return fmt.Errorf("psql failed to restore schema: %w", err)
	}
	return nil
}

// RestoreData restores a directory-format data dump via pg_restore,
// matching the parallelism used to produce it.
func RestoreData(ctx context.Context, targetURL, inputPath string) error {
	parts, err := pgpass.ParseForSubprocess(targetURL)
	if err != nil {
		return fmt.Errorf("failed to parse target URL: %w", err)
	}

	jobs := runtime.NumCPU()
	if jobs > 8 {
		jobs = 8
	}
	if jobs < 1 {
		jobs = 1
	}

	args := []string{
		"--data-only", "--no-owner", "--no-privileges",
		fmt.Sprintf("--jobs=%d", jobs), "--verbose",
		"--host", parts.Host,
		"--port", fmt.Sprintf("%d", parts.Port),
		"--dbname", parts.Database,
		inputPath,
	}
	if parts.User != "" {
		args = append(args, "--username", parts.User)
	}

	if err := runWithAuth(ctx, parts, "pg_restore", args, "pg_restore (restore data)"); err != nil {
		return fmt.Errorf("pg_restore failed to restore data: %w", err)
	}
	return nil
}

// schemaExcludedTables returns schema-qualified names of tables excluded
// entirely by explicit --exclude-tables entries for database. schema_only
// and predicate-filtered tables still need their schema created, so they
// are not excluded here.
func schemaExcludedTables(f *filter.Filter, database string) []string {
	return qualifiedExcludes(f, database)
}

// dataExcludedTables additionally excludes schema-only and
// predicate-filtered tables from the bulk data dump, since those are
// populated separately (schema-only tables get no data; predicate tables
// are copied with their WHERE clause by the filtered copy engine).
func dataExcludedTables(f *filter.Filter, database string, rules *tablerules.TableRules) []string {
	excluded := qualifiedExcludes(f, database)
	if rules == nil {
		return excluded
	}
	excluded = append(excluded, rules.SchemaOnlyTables(database)...)
	for _, pt := range rules.PredicateTables(database) {
		excluded = append(excluded, pt.Table)
	}
	return excluded
}

func qualifiedExcludes(f *filter.Filter, database string) []string {
	if f == nil {
		return nil
	}
	var out []string
	for _, full := range f.ExcludeTables() {
		db, table, ok := splitDotted(full)
		if ok && db == database {
			out = append(out, fmt.Sprintf("%q.%q", "public", table))
		}
	}
	return out
}

func includedTables(f *filter.Filter, database string) []string {
	if f == nil {
		return nil
	}
	var out []string
	for _, full := range f.IncludeTables() {
		db, table, ok := splitDotted(full)
		if ok && db == database {
			out = append(out, fmt.Sprintf("%q.%q", "public", table))
		}
	}
	return out
}

func splitDotted(s string) (first, second string, ok bool) {
	for i := 0; i < len(s); i++ {
		if s[i] == '.' {
			return s[:i], s[i+1:], true
		}
	}
	return "", "", false
}
