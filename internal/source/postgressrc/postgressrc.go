// Package postgressrc implements the source.Adapter contract for
// PostgreSQL. Because the target is PostgreSQL too, full-fidelity row
// transfer for this engine goes through the COPY-based filtered copy
// engine rather than per-row JSON conversion; ReadTable is provided for
// symmetry with the other adapters (e.g. small lookup tables, previews)
// and for callers that don't need the COPY fast path.
package postgressrc

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/pgbridge/pgbridge/internal/idvalidate"
	"github.com/pgbridge/pgbridge/internal/source"
)

func init() {
	source.Register("postgres", func(ctx context.Context, url string) (source.Adapter, error) {
		return Open(ctx, url)
	})
	source.Register("postgresql", func(ctx context.Context, url string) (source.Adapter, error) {
		return Open(ctx, url)
	})
}

// Adapter wraps a pgx connection pool against a single PostgreSQL database.
type Adapter struct {
	pool *pgxpool.Pool
}

// Open connects to PostgreSQL and verifies the connection with a ping.
func Open(ctx context.Context, url string) (*Adapter, error) {
	pool, err := pgxpool.New(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("error connecting to database: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("error pinging database: %w", err)
	}
	return &Adapter{pool: pool}, nil
}

// Pool exposes the underlying pool for components that need native
// PostgreSQL access beyond the Adapter interface (dumprestore, copyengine,
// publication).
func (a *Adapter) Pool() *pgxpool.Pool { return a.pool }

// ListDatabases returns every non-template, non-system database in the
// cluster, ordered by name.
func (a *Adapter) ListDatabases(ctx context.Context) ([]string, error) {
	rows, err := a.pool.Query(ctx, `
		SELECT datname
		FROM pg_catalog.pg_database
		WHERE datistemplate = false
		  AND datname NOT IN ('postgres', 'template0', 'template1')
		ORDER BY datname`)
	if err != nil {
		return nil, fmt.Errorf("failed to list databases: %w", err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("failed to scan database name: %w", err)
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

// ListTables enumerates user tables in the connected database, with an
// estimated row count from pg_stat_user_tables. database is ignored: a
// pool connects to exactly one database, selected by the connection URL.
func (a *Adapter) ListTables(ctx context.Context, database string) ([]source.TableInfo, error) {
	rows, err := a.pool.Query(ctx, `
		SELECT
			pg_tables.schemaname,
			pg_tables.tablename,
			COALESCE(n_live_tup, 0) AS row_count
		FROM pg_catalog.pg_tables
		LEFT JOIN pg_catalog.pg_stat_user_tables
			ON pg_tables.schemaname = pg_stat_user_tables.schemaname
			AND pg_tables.tablename = pg_stat_user_tables.relname
		WHERE pg_tables.schemaname NOT IN ('pg_catalog', 'information_schema')
		ORDER BY pg_tables.schemaname, pg_tables.tablename`)
	if err != nil {
		return nil, fmt.Errorf("failed to list tables: %w", err)
	}
	defer rows.Close()

	var tables []source.TableInfo
	for rows.Next() {
		var info source.TableInfo
		if err := rows.Scan(&info.Schema, &info.Name, &info.RowCountEstimate); err != nil {
			return nil, fmt.Errorf("failed to scan table row: %w", err)
		}
		tables = append(tables, info)
	}
	return tables, rows.Err()
}

// ListColumns returns the ordered columns of schema.table, flagging
// timestamp/timestamptz/date columns so time-window table rules can
// validate their configured column.
func (a *Adapter) ListColumns(ctx context.Context, database, schema, table string) ([]source.ColumnInfo, error) {
	rows, err := a.pool.Query(ctx, `
		SELECT
			a.attname AS column_name,
			t.typname AS data_type,
			CASE WHEN t.typname IN ('timestamp', 'timestamptz', 'date')
				THEN true ELSE false
			END AS is_timestamp
		FROM pg_catalog.pg_attribute a
		JOIN pg_catalog.pg_class c ON a.attrelid = c.oid
		JOIN pg_catalog.pg_namespace n ON c.relnamespace = n.oid
		JOIN pg_catalog.pg_type t ON a.atttypid = t.oid
		WHERE n.nspname = $1
		  AND c.relname = $2
		  AND a.attnum > 0
		  AND NOT a.attisdropped
		ORDER BY a.attnum`, schema, table)
	if err != nil {
		return nil, fmt.Errorf("failed to get columns for table %q.%q: %w", schema, table, err)
	}
	defer rows.Close()

	var columns []source.ColumnInfo
	for rows.Next() {
		var info source.ColumnInfo
		if err := rows.Scan(&info.Name, &info.DataType, &info.IsTimestamp); err != nil {
			return nil, fmt.Errorf("failed to scan column info for %q.%q: %w", schema, table, err)
		}
		columns = append(columns, info)
	}
	return columns, rows.Err()
}

// ReadTable reads every row of schema.table as native Go values. Unlike
// the heterogeneous adapters, values are not converted to a JSONB
// envelope: a PostgreSQL source feeds the filtered copy engine directly,
// which streams rows via COPY instead of calling ReadTable.
func (a *Adapter) ReadTable(ctx context.Context, database, schema, table string) ([]source.Row, error) {
	if err := idvalidate.Validate(schema); err != nil {
		return nil, fmt.Errorf("invalid schema name: %w", err)
	}
	if err := idvalidate.Validate(table); err != nil {
		return nil, fmt.Errorf("invalid table name: %w", err)
	}

	query := fmt.Sprintf("SELECT * FROM %s.%s", quoteIdent(schema), quoteIdent(table))
	rows, err := a.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to read data from table %q.%q: %w", schema, table, err)
	}
	defer rows.Close()

	fields := rows.FieldDescriptions()
	var result []source.Row
	rowNum := 0
	for rows.Next() {
		values, err := rows.Values()
		if err != nil {
			return nil, fmt.Errorf("failed to read row values from table %q.%q: %w", schema, table, err)
		}
		rowNum++

		obj := make(map[string]interface{}, len(fields))
		for i, field := range fields {
			obj[string(field.Name)] = values[i]
		}
		result = append(result, source.Row{ID: fmt.Sprintf("%d", rowNum), Data: obj})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows of table %q.%q: %w", schema, table, err)
	}
	return result, nil
}

func quoteIdent(name string) string {
	return `"` + name + `"`
}

// Close closes the underlying connection pool.
func (a *Adapter) Close() error {
	a.pool.Close()
	return nil
}
