// Package source defines the adapter contract every heterogeneous source
// engine (SQLite, MySQL, PostgreSQL) implements, and a URL-scheme-keyed
// registry that lets the CLI pick an adapter without importing every
// engine package directly.
package source

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// TableInfo describes one table discovered in a source database.
type TableInfo struct {
	Schema           string
	Name             string
	RowCountEstimate int64
}

// ColumnInfo describes one column of a table, with a flag for
// timestamp-like types (used by time-window table rules).
type ColumnInfo struct {
	Name        string
	DataType    string
	IsTimestamp bool
}

// Row is one converted record: a string ID suitable as a JSONB primary key,
// and the JSON-ready value to store in the data column.
type Row struct {
	ID   string
	Data interface{}
}

// Adapter is implemented by each source engine. Non-PostgreSQL adapters
// convert rows to JSONB-shaped values; the PostgreSQL adapter additionally
// supports a native COPY passthrough path (see copyengine) and does not
// need row-by-row conversion.
type Adapter interface {
	// ListDatabases returns the replicable databases visible through this
	// connection (a single name for engines with no concept of multiple
	// databases, e.g. "main" for a SQLite file).
	ListDatabases(ctx context.Context) ([]string, error)

	// ListTables returns the tables in the given database (database is
	// ignored by engines with no multi-database concept).
	ListTables(ctx context.Context, database string) ([]TableInfo, error)

	// ListColumns returns the columns of a table, schema-qualified where
	// the engine has a schema concept.
	ListColumns(ctx context.Context, database, schema, table string) ([]ColumnInfo, error)

	// ReadTable converts every row of a table into JSONB-ready rows.
	ReadTable(ctx context.Context, database, schema, table string) ([]Row, error)

	// Close releases any connection held by the adapter.
	Close() error
}

// Factory constructs an Adapter from a connection URL.
type Factory func(ctx context.Context, url string) (Adapter, error)

var (
	mu        sync.RWMutex
	factories = map[string]Factory{}
)

// Register associates a URL scheme (e.g. "postgres", "mysql", "sqlite")
// with a Factory. Adapter packages call this from an init() function so
// that a blank import is enough to make an engine available.
func Register(scheme string, factory Factory) {
	mu.Lock()
	defer mu.Unlock()
	factories[scheme] = factory
}

// Open looks up the Factory registered for scheme and invokes it.
func Open(ctx context.Context, scheme, url string) (Adapter, error) {
	mu.RLock()
	factory, ok := factories[scheme]
	mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("no source adapter registered for scheme %q (registered: %v)", scheme, registeredSchemes())
	}
	return factory(ctx, url)
}

// Schemes returns the sorted list of currently registered URL schemes.
func Schemes() []string {
	mu.RLock()
	defer mu.RUnlock()
	return registeredSchemes()
}

func registeredSchemes() []string {
	out := make([]string, 0, len(factories))
	for scheme := range factories {
		out = append(out, scheme)
	}
	sort.Strings(out)
	return out
}
