// Package sqlitesrc implements the source.Adapter contract for SQLite
// database files, converting every row to a JSONB-ready value.
package sqlitesrc

import (
	"context"
	"database/sql"
	"encoding/base64"
	"fmt"
	"math"
	"strconv"
	"strings"

	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog/log"

	"github.com/pgbridge/pgbridge/internal/idvalidate"
	"github.com/pgbridge/pgbridge/internal/source"
)

func init() {
	source.Register("sqlite", func(ctx context.Context, url string) (source.Adapter, error) {
		return Open(url)
	})
}

// Adapter wraps a SQLite connection. SQLite has no multi-database concept:
// ListDatabases always returns a single synthetic name, and database/schema
// arguments elsewhere are ignored.
type Adapter struct {
	db   *sql.DB
	path string
}

// Open opens a SQLite file at path (a bare filesystem path, or a
// "sqlite://" URL, whose scheme prefix is stripped here).
func Open(path string) (*Adapter, error) {
	path = strings.TrimPrefix(path, "sqlite://")
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open SQLite database %q: %w", path, err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping SQLite database %q: %w", path, err)
	}
	return &Adapter{db: db, path: path}, nil
}

// ListDatabases returns a single synthetic database name, since a SQLite
// file is itself the database.
func (a *Adapter) ListDatabases(ctx context.Context) ([]string, error) {
	return []string{"main"}, nil
}

// ListTables enumerates user tables via sqlite_master.
func (a *Adapter) ListTables(ctx context.Context, database string) ([]source.TableInfo, error) {
	rows, err := a.db.QueryContext(ctx, `
		SELECT name FROM sqlite_master
		WHERE type = 'table' AND name NOT LIKE 'sqlite_%'
		ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("failed to list SQLite tables: %w", err)
	}
	defer rows.Close()

	var tables []source.TableInfo
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("failed to scan SQLite table name: %w", err)
		}
		count, err := a.countRows(ctx, name)
		if err != nil {
			return nil, err
		}
		tables = append(tables, source.TableInfo{Schema: "main", Name: name, RowCountEstimate: count})
	}
	return tables, rows.Err()
}

func (a *Adapter) countRows(ctx context.Context, table string) (int64, error) {
	if err := idvalidate.Validate(table); err != nil {
		return 0, fmt.Errorf("invalid table name %q: %w", table, err)
	}
	var count int64
	query := fmt.Sprintf(`SELECT COUNT(*) FROM %q`, table)
	if err := a.db.QueryRowContext(ctx, query).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count rows in table %q: %w", table, err)
	}
	return count, nil
}

// ListColumns returns column metadata via PRAGMA table_info. SQLite's
// dynamic typing means data_type is the column's declared affinity, and
// no SQLite type is treated as timestamp-like: timestamps are typically
// stored as TEXT or INTEGER with no reliable declared type.
func (a *Adapter) ListColumns(ctx context.Context, database, schema, table string) ([]source.ColumnInfo, error) {
	if err := idvalidate.Validate(table); err != nil {
		return nil, fmt.Errorf("invalid table name %q: %w", table, err)
	}

	rows, err := a.db.QueryContext(ctx, fmt.Sprintf(`PRAGMA table_info(%q)`, table))
	if err != nil {
		return nil, fmt.Errorf("failed to get table info for %q: %w", table, err)
	}
	defer rows.Close()

	var columns []source.ColumnInfo
	for rows.Next() {
		var cid int
		var name, colType string
		var notNull, pk int
		var dflt sql.NullString
		if err := rows.Scan(&cid, &name, &colType, &notNull, &dflt, &pk); err != nil {
			return nil, fmt.Errorf("failed to scan column info for %q: %w", table, err)
		}
		columns = append(columns, source.ColumnInfo{Name: name, DataType: colType})
	}
	return columns, rows.Err()
}

// ReadTable reads every row of table and converts it to a JSONB-ready Row,
// detecting an ID column the way the reference converter does: "id",
// "rowid", or "_id" (case-insensitive), falling back to the 1-indexed row
// number when none is present.
func (a *Adapter) ReadTable(ctx context.Context, database, schema, table string) ([]source.Row, error) {
	if err := idvalidate.Validate(table); err != nil {
		return nil, fmt.Errorf("invalid table name for JSONB conversion: %w", err)
	}

	log.Info().Str("table", table).Msg("converting SQLite table to JSONB")

	idColumn, err := a.detectIDColumn(ctx, table)
	if err != nil {
		return nil, err
	}

	rows, err := a.db.QueryContext(ctx, fmt.Sprintf(`SELECT * FROM %q`, table))
	if err != nil {
		return nil, fmt.Errorf("failed to read data from table %q: %w", table, err)
	}
	defer rows.Close()

	colNames, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("failed to get columns for table %q: %w", table, err)
	}

	var result []source.Row
	rowNum := 0
	for rows.Next() {
		rowNum++
		raw := make([]interface{}, len(colNames))
		ptrs := make([]interface{}, len(colNames))
		for i := range raw {
			ptrs[i] = &raw[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("failed to scan row %d in table %q: %w", rowNum, table, err)
		}

		obj := make(map[string]interface{}, len(colNames))
		var idValue interface{}
		for i, name := range colNames {
			converted, err := sqliteValueToJSON(raw[i])
			if err != nil {
				return nil, fmt.Errorf("failed to convert column %q in table %q: %w", name, table, err)
			}
			obj[name] = converted
			if idColumn != "" && strings.EqualFold(name, idColumn) {
				idValue = raw[i]
			}
		}

		id := idFromValue(idValue, rowNum)
		result = append(result, source.Row{ID: id, Data: obj})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows of table %q: %w", table, err)
	}

	log.Info().Int("rows", len(result)).Str("table", table).Msg("converted SQLite table to JSONB")
	return result, nil
}

// idFromValue extracts a string ID from the detected ID column's raw value,
// falling back to the 1-indexed row number for NULL or unsupported types.
func idFromValue(v interface{}, rowNum int) string {
	switch value := v.(type) {
	case int64:
		return strconv.FormatInt(value, 10)
	case string:
		return value
	case float64:
		return strconv.FormatFloat(value, 'g', -1, 64)
	default:
		return strconv.Itoa(rowNum)
	}
}

// detectIDColumn checks for columns named "id", "rowid", or "_id"
// (case-insensitive) and returns the first match, or "" if none exists.
func (a *Adapter) detectIDColumn(ctx context.Context, table string) (string, error) {
	rows, err := a.db.QueryContext(ctx, fmt.Sprintf(`PRAGMA table_info(%q)`, table))
	if err != nil {
		return "", fmt.Errorf("failed to get table info for %q: %w", table, err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var cid int
		var name, colType string
		var notNull, pk int
		var dflt sql.NullString
		if err := rows.Scan(&cid, &name, &colType, &notNull, &dflt, &pk); err != nil {
			return "", fmt.Errorf("failed to scan column info for %q: %w", table, err)
		}
		names = append(names, name)
	}
	if err := rows.Err(); err != nil {
		return "", err
	}

	for _, candidate := range []string{"id", "rowid", "_id"} {
		for _, name := range names {
			if strings.EqualFold(name, candidate) {
				return name, nil
			}
		}
	}
	return "", nil
}

// sqliteValueToJSON maps a value scanned from database/sql into a
// JSON-ready value: integers and strings pass through, floats are rejected
// as strings when non-finite, and byte slices are wrapped as base64 blobs
// so they can be told apart from ordinary text.
func sqliteValueToJSON(v interface{}) (interface{}, error) {
	switch value := v.(type) {
	case nil:
		return nil, nil
	case int64:
		return value, nil
	case float64:
		if math.IsInf(value, 0) || math.IsNaN(value) {
			return strconv.FormatFloat(value, 'g', -1, 64), nil
		}
		return value, nil
	case string:
		return value, nil
	case []byte:
		return map[string]interface{}{
			"_type": "blob",
			"data":  base64.StdEncoding.EncodeToString(value),
		}, nil
	default:
		return nil, fmt.Errorf("unsupported SQLite value type %T", v)
	}
}

// Close closes the underlying database handle.
func (a *Adapter) Close() error {
	if err := a.db.Close(); err != nil {
		return fmt.Errorf("failed to close SQLite database %q: %w", a.path, err)
	}
	return nil
}
