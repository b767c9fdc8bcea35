// Package orchestrator drives the resumable init pipeline: LOAD, PRECHECK,
// RESUME/NEW, PER-DB, DONE. For a PostgreSQL source it sequences schema
// dump/restore, bulk data dump/restore, and filtered streaming copy; for a
// MySQL or SQLite source (which has no external dump tool to shell out to)
// it reads each table through the adapter's JSON conversion path and
// batch-inserts into the canonical JSONB table shape instead.
package orchestrator

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/url"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"

	"github.com/pgbridge/pgbridge/internal/checkpoint"
	"github.com/pgbridge/pgbridge/internal/copyengine"
	"github.com/pgbridge/pgbridge/internal/dumprestore"
	"github.com/pgbridge/pgbridge/internal/errkind"
	"github.com/pgbridge/pgbridge/internal/filter"
	"github.com/pgbridge/pgbridge/internal/idvalidate"
	"github.com/pgbridge/pgbridge/internal/jsonbwriter"
	"github.com/pgbridge/pgbridge/internal/pgpass"
	"github.com/pgbridge/pgbridge/internal/source"
	"github.com/pgbridge/pgbridge/internal/tablerules"
)

// requiredTools are the external client binaries a PostgreSQL-source run
// shells out to. Checked once up front so a missing tool fails fast with a
// clear remedy instead of partway through a long-running dump.
var requiredTools = []string{"pg_dump", "pg_dumpall", "pg_restore", "psql"}

// defaultStaleTempDirAge is how old an orphaned dump directory from a
// crashed prior run must be before a new run sweeps it away.
const defaultStaleTempDirAge = 24 * time.Hour

// Config holds everything one init run needs. Filter and Rules are
// constructed before orchestration and shared read-only across every pass.
type Config struct {
	SourceURL          string
	TargetURL          string
	SourceScheme       string // "postgres", "postgresql", "mysql", "sqlite"
	Filter             *filter.Filter
	Rules              *tablerules.TableRules
	DropExisting       bool
	EnableSync         bool
	NoResume           bool
	StaleTempDirMaxAge time.Duration // zero means defaultStaleTempDirAge
}

// databaseListerAdapter adapts a source.Adapter to filter.DatabaseLister.
type databaseListerAdapter struct{ adapter source.Adapter }

func (a databaseListerAdapter) ListDatabaseNames(ctx context.Context) ([]string, error) {
	return a.adapter.ListDatabases(ctx)
}

// Run executes the full LOAD -> PRECHECK -> RESUME/NEW -> PER-DB -> DONE
// state machine described by the init orchestrator's design. On success the
// checkpoint file no longer exists; on failure it is left in place so a
// later run resumes at the first not-completed database.
func Run(ctx context.Context, cfg Config) error {
	if cfg.StaleTempDirMaxAge == 0 {
		cfg.StaleTempDirMaxAge = defaultStaleTempDirAge
	}
	isPostgresSource := cfg.SourceScheme == "postgres" || cfg.SourceScheme == "postgresql"

	// --- LOAD ---
	if isPostgresSource {
		if err := idvalidate.ValidateConnectionString(cfg.SourceURL); err != nil {
			return err
		}
		if err := idvalidate.ValidateConnectionString(cfg.TargetURL); err != nil {
			return err
		}
		if err := idvalidate.ValidateSourceTargetDifferent(cfg.SourceURL, cfg.TargetURL); err != nil {
			return err
		}
		if err := requireExternalTools(); err != nil {
			return err
		}
	}
	dumpBase, err := dumpDirFor(cfg.SourceURL, cfg.TargetURL)
	if err != nil {
		return err
	}
	if err := sweepStaleTempDirs(filepath.Dir(dumpBase), cfg.StaleTempDirMaxAge); err != nil {
		log.Warn().Err(err).Msg("failed to sweep stale temp dump directories, continuing")
	}
	if err := os.MkdirAll(dumpBase, 0o755); err != nil {
		return errkind.New(errkind.Io, "failed to create dump directory %s: %w", dumpBase, err)
	}
	defer os.RemoveAll(dumpBase)

	// --- PRECHECK ---
	adapter, err := source.Open(ctx, cfg.SourceScheme, cfg.SourceURL)
	if err != nil {
		return errkind.New(errkind.ConnectionFailed, "failed to open source adapter: %w", err)
	}
	defer adapter.Close()

	databases, err := cfg.Filter.DatabasesToReplicate(ctx, databaseListerAdapter{adapter})
	if err != nil {
		return err
	}
	sort.Strings(databases)

	filterHash := cfg.Rules.Fingerprint()
	checkpointPath, err := checkpoint.Path(cfg.SourceURL, cfg.TargetURL)
	if err != nil {
		return err
	}
	metadata := checkpoint.NewMetadata(cfg.SourceURL, cfg.TargetURL, filterHash, cfg.DropExisting, cfg.EnableSync)

	// --- RESUME/NEW ---
	if cfg.NoResume {
		if err := checkpoint.Remove(checkpointPath); err != nil {
			return err
		}
	}
	cp, err := checkpoint.Load(checkpointPath)
	if err != nil {
		return err
	}
	if cp == nil {
		cp = checkpoint.New(metadata, databases)
	} else if err := cp.Validate(metadata, databases); err != nil {
		return err
	}

	targetAdminPool, err := pgxpool.New(ctx, cfg.TargetURL)
	if err != nil {
		return errkind.New(errkind.ConnectionFailed, "failed to connect to target: %w", err)
	}
	defer targetAdminPool.Close()

	globalsDumped := false

	// --- PER-DB ---
	for _, db := range databases {
		if cp.IsCompleted(db) {
			log.Info().Str("database", db).Msg("database already completed, skipping")
			continue
		}

		log.Info().Str("database", db).Msg("starting database pass")

		if cfg.DropExisting {
			if err := dropAndRecreateTargetDatabase(ctx, targetAdminPool, db); err != nil {
				return err
			}
		}

		var passErr error
		if isPostgresSource {
			passErr = runPostgresSourcePass(ctx, cfg, db, dumpBase, &globalsDumped)
		} else {
			passErr = runConvertedSourcePass(ctx, cfg, adapter, targetAdminPool, db)
		}
		if passErr != nil {
			return passErr
		}

		cp.MarkCompleted(db)
		if err := cp.Save(checkpointPath); err != nil {
			return err
		}
		log.Info().Str("database", db).Int("completed", cp.CompletedCount()).
			Int("total", cp.TotalDatabases()).Msg("database pass complete")
	}

	// --- DONE ---
	if err := checkpoint.Remove(checkpointPath); err != nil {
		return err
	}
	log.Info().Int("databases", len(databases)).Msg("init run complete")
	return nil
}

// Validate performs the LOAD and PRECHECK steps without touching any data:
// URL shape and same-endpoint checks (PostgreSQL sources only), required
// external tool presence, source adapter connectivity and database
// discovery through the filter, and target connectivity. It is what the
// CLI's validate subcommand runs before a caller commits to a full init.
func Validate(ctx context.Context, cfg Config) ([]string, error) {
	isPostgresSource := cfg.SourceScheme == "postgres" || cfg.SourceScheme == "postgresql"

	if isPostgresSource {
		if err := idvalidate.ValidateConnectionString(cfg.SourceURL); err != nil {
			return nil, err
		}
		if err := idvalidate.ValidateConnectionString(cfg.TargetURL); err != nil {
			return nil, err
		}
		if err := idvalidate.ValidateSourceTargetDifferent(cfg.SourceURL, cfg.TargetURL); err != nil {
			return nil, err
		}
		if err := requireExternalTools(); err != nil {
			return nil, err
		}
	}

	adapter, err := source.Open(ctx, cfg.SourceScheme, cfg.SourceURL)
	if err != nil {
		return nil, errkind.New(errkind.ConnectionFailed, "failed to open source adapter: %w", err)
	}
	defer adapter.Close()

	databases, err := cfg.Filter.DatabasesToReplicate(ctx, databaseListerAdapter{adapter})
	if err != nil {
		return nil, err
	}
	sort.Strings(databases)

	targetPool, err := pgxpool.New(ctx, cfg.TargetURL)
	if err != nil {
		return nil, errkind.New(errkind.ConnectionFailed, "failed to connect to target: %w", err)
	}
	defer targetPool.Close()
	if err := targetPool.Ping(ctx); err != nil {
		return nil, errkind.New(errkind.ConnectionFailed, "failed to ping target: %w", err)
	}

	return databases, nil
}

// runPostgresSourcePass executes one database's dump-schema / restore-schema
// / dump-data / restore-data / filtered-copy sequence.
func runPostgresSourcePass(ctx context.Context, cfg Config, db, dumpBase string, globalsDumped *bool) error {
	sourceDBURL, err := pgpass.WithDatabase(cfg.SourceURL, db)
	if err != nil {
		return err
	}
	targetDBURL, err := pgpass.WithDatabase(cfg.TargetURL, db)
	if err != nil {
		return err
	}

	if !*globalsDumped {
		globalsPath := filepath.Join(dumpBase, "globals.sql")
		if err := dumprestore.DumpGlobals(ctx, cfg.SourceURL, globalsPath); err != nil {
			return err
		}
		if err := dumprestore.RestoreGlobals(ctx, cfg.TargetURL, globalsPath); err != nil {
			return err
		}
		*globalsDumped = true
	}

	schemaPath := filepath.Join(dumpBase, db+"-schema.sql")
	if err := dumprestore.DumpSchema(ctx, sourceDBURL, db, schemaPath, cfg.Filter, cfg.Rules); err != nil {
		return err
	}
	if err := dumprestore.RestoreSchema(ctx, targetDBURL, schemaPath); err != nil {
		return err
	}

	dataPath := filepath.Join(dumpBase, db+"-data")
	if err := dumprestore.DumpData(ctx, sourceDBURL, db, dataPath, cfg.Filter, cfg.Rules); err != nil {
		return err
	}
	if err := dumprestore.RestoreData(ctx, targetDBURL, dataPath); err != nil {
		return err
	}

	predicateTables := cfg.Rules.PredicateTables(db)
	if len(predicateTables) == 0 {
		return nil
	}

	sourcePool, err := pgxpool.New(ctx, sourceDBURL)
	if err != nil {
		return errkind.New(errkind.ConnectionFailed, "failed to connect to source database %q: %w", db, err)
	}
	defer sourcePool.Close()

	targetPool, err := pgxpool.New(ctx, targetDBURL)
	if err != nil {
		return errkind.New(errkind.ConnectionFailed, "failed to connect to target database %q: %w", db, err)
	}
	defer targetPool.Close()

	filteredTables := make([]copyengine.FilteredTable, 0, len(predicateTables))
	safeSet := make(map[string]bool, len(predicateTables))
	for _, pt := range predicateTables {
		schema, table, ok := splitQuoted(pt.Table)
		if !ok {
			return errkind.New(errkind.InvalidIdentifier, "malformed predicate table spec %q", pt.Table)
		}
		filteredTables = append(filteredTables, copyengine.FilteredTable{Schema: schema, Table: table, Predicate: pt.Predicate})
		safeSet[schema+"."+table] = true
	}

	if err := copyengine.CheckCascadeSafety(ctx, targetPool, filteredTables, safeSet); err != nil {
		return err
	}
	return copyengine.CopyFiltered(ctx, sourcePool, targetPool, filteredTables)
}

// runConvertedSourcePass lists every table in a MySQL/SQLite database,
// skips schema-only tables, and batch-loads the rest into a canonical
// JSONB table per source table via the adapter's JSON conversion path.
// Predicate and time-filter rules, which assume a SQL WHERE clause
// evaluated by the source engine, do not apply to this path; a table with
// such a rule is copied in full and a warning is logged, since there is no
// general way to push an arbitrary PostgreSQL-flavored predicate down to a
// MySQL or SQLite query.
func runConvertedSourcePass(ctx context.Context, cfg Config, adapter source.Adapter, targetPool *pgxpool.Pool, db string) error {
	tables, err := adapter.ListTables(ctx, db)
	if err != nil {
		return fmt.Errorf("failed to list tables in database %q: %w", db, err)
	}

	for _, t := range tables {
		if !cfg.Filter.ShouldReplicateTable(db, t.Name) {
			continue
		}
		rule := cfg.Rules.RuleForTable(db, t.Schema, t.Name)
		if rule.Tag == tablerules.KindSchemaOnly {
			continue
		}
		if rule.Tag == tablerules.KindPredicate {
			log.Warn().Str("database", db).Str("table", t.Name).
				Msg("predicate/time-filter rules do not apply to non-PostgreSQL sources; copying full table")
		}

		jsonbTable := JsonbTableName(db, t.Name)
		if err := jsonbwriter.CreateTable(ctx, targetPool, jsonbTable, cfg.SourceScheme); err != nil {
			return err
		}

		rows, err := adapter.ReadTable(ctx, db, t.Schema, t.Name)
		if err != nil {
			return fmt.Errorf("failed to read table %q.%q: %w", t.Schema, t.Name, err)
		}

		writerRows := make([]jsonbwriter.Row, len(rows))
		for i, r := range rows {
			writerRows[i] = jsonbwriter.Row{ID: r.ID, Data: r.Data}
		}
		if err := jsonbwriter.InsertBatch(ctx, targetPool, jsonbTable, writerRows, cfg.SourceScheme); err != nil {
			return err
		}
	}
	return nil
}

// JsonbTableName derives the canonical per-source-table JSONB table name:
// the database and table joined with an underscore, since target table
// names cannot contain a database-qualifying dot. Exported so
// internal/statuscheck can compute the same target table name verify
// compares against.
func JsonbTableName(database, table string) string {
	return strings.ToLower(database) + "_" + strings.ToLower(table)
}

// splitQuoted splits a `"schema"."table"` spec (as produced by
// tablerules.QualifiedTable.SchemaQualified) back into its two parts.
func splitQuoted(spec string) (schema, table string, ok bool) {
	parts := strings.SplitN(spec, ".", 2)
	if len(parts) != 2 {
		return "", "", false
	}
	unquote := func(s string) string {
		s = strings.TrimPrefix(s, `"`)
		s = strings.TrimSuffix(s, `"`)
		return strings.ReplaceAll(s, `""`, `"`)
	}
	return unquote(parts[0]), unquote(parts[1]), true
}

// dropAndRecreateTargetDatabase drops and recreates db on the cluster
// targetAdminPool is connected to. DROP/CREATE DATABASE cannot run inside a
// transaction block and must not target the database the connection is
// currently attached to, so callers must supply a pool connected to a
// maintenance database distinct from db. Nothing checks this beforehand: if
// the admin pool is connected to db itself, the DROP fails.
func dropAndRecreateTargetDatabase(ctx context.Context, adminPool *pgxpool.Pool, db string) error {
	if err := idvalidate.Validate(db); err != nil {
		return fmt.Errorf("invalid database name for drop/recreate: %w", err)
	}

	log.Warn().Str("database", db).Msg("dropping and recreating target database (drop-existing enabled)")

	dropSQL := fmt.Sprintf("DROP DATABASE IF EXISTS %q WITH (FORCE)", db)
	if _, err := adminPool.Exec(ctx, dropSQL); err != nil {
		return errkind.New(errkind.ExternalToolFailed, "failed to drop target database %q: %w", db, err)
	}
	createSQL := fmt.Sprintf("CREATE DATABASE %q", db)
	if _, err := adminPool.Exec(ctx, createSQL); err != nil {
		return errkind.New(errkind.ExternalToolFailed, "failed to create target database %q: %w", db, err)
	}
	return nil
}

func requireExternalTools() error {
	var missing []string
	for _, tool := range requiredTools {
		if _, err := exec.LookPath(tool); err != nil {
			missing = append(missing, tool)
		}
	}
	if len(missing) > 0 {
		return errkind.New(errkind.ExternalToolMissing,
			"required PostgreSQL client tools not found on PATH: %s; install the postgresql-client package", strings.Join(missing, ", "))
	}
	return nil
}

// dumpDirFor computes a deterministic per-(source,target) dump directory,
// mirroring checkpoint.Path's hash-based naming so a crashed run's leftover
// directory is identifiable (and sweepable) on the next invocation.
func dumpDirFor(sourceURL, targetURL string) (string, error) {
	h := sha256.New()
	h.Write([]byte(sourceURL))
	h.Write([]byte("::"))
	h.Write([]byte(targetURL))
	digest := hex.EncodeToString(h.Sum(nil))
	short := digest
	if len(short) > 16 {
		short = short[:16]
	}
	return filepath.Join(os.TempDir(), "pgbridge-dumps", "init-"+short), nil
}

// sweepStaleTempDirs removes subdirectories of base older than maxAge whose
// name matches the "init-<hex>" pattern this package creates, so a crashed
// prior run doesn't leak disk indefinitely.
func sweepStaleTempDirs(base string, maxAge time.Duration) error {
	entries, err := os.ReadDir(base)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to list temp dump base %s: %w", base, err)
	}

	cutoff := time.Now().Add(-maxAge)
	for _, entry := range entries {
		if !entry.IsDir() || !strings.HasPrefix(entry.Name(), "init-") {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		if info.ModTime().Before(cutoff) {
			path := filepath.Join(base, entry.Name())
			log.Info().Str("path", path).Msg("sweeping stale dump directory from a prior run")
			if err := os.RemoveAll(path); err != nil {
				log.Warn().Err(err).Str("path", path).Msg("failed to remove stale dump directory")
			}
		}
	}
	return nil
}

// SchemeFromURL extracts the scheme a CLI caller should pass as
// Config.SourceScheme, with a file-extension fallback for SQLite paths
// that carry no explicit "sqlite://" scheme.
func SchemeFromURL(rawURL string) string {
	if parsed, err := url.Parse(rawURL); err == nil && parsed.Scheme != "" {
		return parsed.Scheme
	}
	lower := strings.ToLower(rawURL)
	if strings.HasSuffix(lower, ".db") || strings.HasSuffix(lower, ".sqlite") || strings.HasSuffix(lower, ".sqlite3") {
		return "sqlite"
	}
	return ""
}
