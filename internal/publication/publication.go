// Package publication builds and manages PostgreSQL logical replication
// publications, including per-table row filters via CREATE PUBLICATION
// ... WHERE, with actionable remediation when the server rejects the
// statement for a predictable reason (missing privilege, wal_level).
package publication

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"

	"github.com/pgbridge/pgbridge/internal/errkind"
	"github.com/pgbridge/pgbridge/internal/idvalidate"
)

// minRowFilterVersion is the first server_version_num that supports
// CREATE PUBLICATION ... FOR TABLE ... WHERE (predicate). A predicate
// table against an older server is a hard failure, not a silently
// dropped clause: the replicated data would no longer match what the
// caller asked to filter.
const minRowFilterVersion = 150000

// TableSpec is one table to include in a publication, with an optional
// row-filter predicate (which requires server_version_num >= 150000).
type TableSpec struct {
	Schema    string
	Table     string
	Predicate string
}

// GetServerVersion returns the connected server's server_version_num
// (e.g. 160002 for PostgreSQL 16.2).
func GetServerVersion(ctx context.Context, pool *pgxpool.Pool) (int, error) {
	var versionString string
	if err := pool.QueryRow(ctx, "SHOW server_version_num").Scan(&versionString); err != nil {
		return 0, fmt.Errorf("failed to query server_version_num: %w", err)
	}

	n, err := strconv.Atoi(strings.TrimSpace(versionString))
	if err != nil {
		return 0, fmt.Errorf("failed to parse server_version_num %q: %w", versionString, err)
	}
	return n, nil
}

// Create issues CREATE PUBLICATION for name covering tables, with each
// table's row filter; a row filter on a server older than
// minRowFilterVersion fails with UnsupportedServerVersion. allTables, when true,
// ignores tables entirely and emits FOR ALL TABLES — the caller's signal
// that no Filter or TableRules restrict what's replicated, so the
// publication should track every table automatically, including ones
// created later.
func Create(ctx context.Context, pool *pgxpool.Pool, name string, tables []TableSpec, allTables bool) error {
	if err := idvalidate.Validate(name); err != nil {
		return fmt.Errorf("invalid publication name: %w", err)
	}

	var query string
	if allTables {
		query = fmt.Sprintf("CREATE PUBLICATION %q FOR ALL TABLES", name)
	} else {
		if len(tables) == 0 {
			return errkind.New(errkind.NoPublishableTables, "no tables to publish under %q", name)
		}

		hasPredicates := false
		for _, t := range tables {
			if t.Predicate != "" {
				hasPredicates = true
				break
			}
		}

		if hasPredicates {
			version, err := GetServerVersion(ctx, pool)
			if err != nil {
				return err
			}
			if version < minRowFilterVersion {
				return errkind.New(errkind.UnsupportedServerVersion,
					"table-level predicates require PostgreSQL 15+ (server_version_num %d); "+
						"upgrade the source database or remove the table-filter/time-filter rules for sync", version)
			}
		}

		parts := make([]string, 0, len(tables))
		for _, t := range tables {
			if err := idvalidate.Validate(t.Schema); err != nil {
				return fmt.Errorf("invalid schema name %q: %w", t.Schema, err)
			}
			if err := idvalidate.Validate(t.Table); err != nil {
				return fmt.Errorf("invalid table name %q: %w", t.Table, err)
			}

			spec := fmt.Sprintf("%q.%q", t.Schema, t.Table)
			if t.Predicate != "" {
				spec += fmt.Sprintf(" WHERE (%s)", t.Predicate)
			}
			parts = append(parts, spec)
		}

		query = fmt.Sprintf("CREATE PUBLICATION %q FOR TABLE %s", name, strings.Join(parts, ", "))
	}

	_, err := pool.Exec(ctx, query)
	return classifyPublicationError(err, name)
}

// classifyPublicationError turns a raw Exec error into an actionable one:
// "already exists" is treated as success (idempotent create), permission
// errors get an ALTER USER ... WITH REPLICATION remedy, and wal_level errors get a postgresql.conf
// remedy. Anything else is wrapped generically.
func classifyPublicationError(err error, name string) error {
	if err == nil {
		return nil
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "already exists"):
		log.Info().Str("publication", name).Msg("publication already exists, treating as success")
		return nil
	case strings.Contains(msg, "permission denied"), strings.Contains(msg, "must be owner"):
		return errkind.New(errkind.Unauthorized,
			"insufficient privilege to create publication %q: %w\ngrant replication privileges with: ALTER USER <user> WITH REPLICATION;",
			name, err)
	case strings.Contains(msg, "wal_level"), strings.Contains(msg, "logical replication"):
		return errkind.New(errkind.UnsupportedServerVersion,
			"server is not configured for logical replication: %w\nset wal_level = logical in postgresql.conf and restart the server",
			err)
	default:
		return errkind.New(errkind.ExternalToolFailed, "failed to create publication %q: %w", name, err)
	}
}

// Drop issues DROP PUBLICATION IF EXISTS for name.
func Drop(ctx context.Context, pool *pgxpool.Pool, name string) error {
	if err := idvalidate.Validate(name); err != nil {
		return fmt.Errorf("invalid publication name: %w", err)
	}
	query := fmt.Sprintf("DROP PUBLICATION IF EXISTS %q", name)
	if _, err := pool.Exec(ctx, query); err != nil {
		return fmt.Errorf("failed to drop publication %q: %w", name, err)
	}
	return nil
}

// List returns the names of every publication currently defined.
func List(ctx context.Context, pool *pgxpool.Pool) ([]string, error) {
	rows, err := pool.Query(ctx, "SELECT pubname FROM pg_catalog.pg_publication ORDER BY pubname")
	if err != nil {
		return nil, fmt.Errorf("failed to list publications: %w", err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("failed to scan publication name: %w", err)
		}
		names = append(names, name)
	}
	return names, rows.Err()
}
