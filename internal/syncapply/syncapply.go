// Package syncapply turns a decoded syncengine.Change into a SQL statement
// against the target, using each table's primary key (looked up once and
// cached) as the upsert conflict target and delete predicate.
package syncapply

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"

	"github.com/pgbridge/pgbridge/internal/errkind"
	"github.com/pgbridge/pgbridge/internal/idvalidate"
	"github.com/pgbridge/pgbridge/internal/syncengine"
)

// Applier applies decoded changes to a target connection pool, caching each
// table's primary key columns across calls since they never change mid-run.
type Applier struct {
	pool *pgxpool.Pool

	mu     sync.Mutex
	pkeys  map[string][]string // "schema.table" -> ordered primary key column names
	warned map[string]bool     // tables already warned about for a missing primary key
}

// New returns an Applier writing to pool.
func New(pool *pgxpool.Pool) *Applier {
	return &Applier{
		pool:   pool,
		pkeys:  make(map[string][]string),
		warned: make(map[string]bool),
	}
}

// Handler adapts the Applier to syncengine.Handler.
func (a *Applier) Handler() syncengine.Handler {
	return a.Apply
}

// Apply writes one change to the target: INSERT/UPDATE become an upsert
// keyed by primary key (or a plain insert with a one-time warning if the
// table has none); DELETE removes the row matched by the old tuple's
// columns, which under the default replica identity are exactly the
// primary key columns.
func (a *Applier) Apply(ctx context.Context, change syncengine.Change) error {
	if err := idvalidate.Validate(change.Schema); err != nil {
		return fmt.Errorf("invalid schema name in replicated change: %w", err)
	}
	if err := idvalidate.Validate(change.Table); err != nil {
		return fmt.Errorf("invalid table name in replicated change: %w", err)
	}

	switch change.Operation {
	case "INSERT", "UPDATE":
		return a.upsert(ctx, change)
	case "DELETE":
		return a.delete(ctx, change)
	default:
		return fmt.Errorf("unknown change operation %q", change.Operation)
	}
}

func (a *Applier) upsert(ctx context.Context, change syncengine.Change) error {
	if len(change.Data) == 0 {
		return fmt.Errorf("%s on %s.%s carried no column data", change.Operation, change.Schema, change.Table)
	}

	pk, err := a.primaryKey(ctx, change.Schema, change.Table)
	if err != nil {
		return err
	}

	columns := make([]string, 0, len(change.Data))
	for col := range change.Data {
		columns = append(columns, col)
	}

	placeholders := make([]string, len(columns))
	args := make([]interface{}, len(columns))
	for i, col := range columns {
		placeholders[i] = fmt.Sprintf("$%d", i+1)
		args[i] = change.Data[col]
	}

	query := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		qualifiedTable(change.Schema, change.Table), quoteIdentList(columns), strings.Join(placeholders, ", "))

	if len(pk) == 0 {
		a.warnMissingPrimaryKey(change.Schema, change.Table)
	} else {
		updates := updateClauses(columns, pk)
		if len(updates) == 0 {
			query += fmt.Sprintf(" ON CONFLICT (%s) DO NOTHING", quoteIdentList(pk))
		} else {
			query += fmt.Sprintf(" ON CONFLICT (%s) DO UPDATE SET %s", quoteIdentList(pk), strings.Join(updates, ", "))
		}
	}

	if _, err := a.pool.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("failed to apply %s on %s.%s: %w", change.Operation, change.Schema, change.Table, err)
	}
	return nil
}

func (a *Applier) delete(ctx context.Context, change syncengine.Change) error {
	if len(change.OldData) == 0 {
		return fmt.Errorf("DELETE on %s.%s carried no identifying column data", change.Schema, change.Table)
	}

	columns := make([]string, 0, len(change.OldData))
	for col := range change.OldData {
		columns = append(columns, col)
	}

	conditions := make([]string, len(columns))
	args := make([]interface{}, len(columns))
	for i, col := range columns {
		conditions[i] = fmt.Sprintf("%s = $%d", quoteIdent(col), i+1)
		args[i] = change.OldData[col]
	}

	query := fmt.Sprintf("DELETE FROM %s WHERE %s", qualifiedTable(change.Schema, change.Table), strings.Join(conditions, " AND "))
	if _, err := a.pool.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("failed to apply DELETE on %s.%s: %w", change.Schema, change.Table, err)
	}
	return nil
}

func (a *Applier) warnMissingPrimaryKey(schema, table string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	key := schema + "." + table
	if a.warned[key] {
		return
	}
	a.warned[key] = true
	log.Warn().Str("schema", schema).Str("table", table).
		Msg("table has no primary key; replicated inserts/updates cannot be deduplicated on retry")
}

// primaryKey returns the ordered primary key column names for schema.table,
// querying once and caching the result (including the no-key case, cached
// as an empty, non-nil slice so it is not re-queried).
func (a *Applier) primaryKey(ctx context.Context, schema, table string) ([]string, error) {
	key := schema + "." + table

	a.mu.Lock()
	if cached, ok := a.pkeys[key]; ok {
		a.mu.Unlock()
		return cached, nil
	}
	a.mu.Unlock()

	rows, err := a.pool.Query(ctx, `
		SELECT kcu.column_name
		FROM information_schema.table_constraints tco
		JOIN information_schema.key_column_usage kcu
		  ON tco.constraint_name = kcu.constraint_name AND tco.constraint_schema = kcu.constraint_schema
		WHERE tco.constraint_type = 'PRIMARY KEY' AND tco.table_schema = $1 AND tco.table_name = $2
		ORDER BY kcu.ordinal_position`, schema, table)
	if err != nil {
		return nil, errkind.New(errkind.ExternalToolFailed, "failed to look up primary key for %s.%s: %w", schema, table, err)
	}
	defer rows.Close()

	var cols []string
	for rows.Next() {
		var col string
		if err := rows.Scan(&col); err != nil {
			return nil, fmt.Errorf("failed to scan primary key column for %s.%s: %w", schema, table, err)
		}
		cols = append(cols, col)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if cols == nil {
		cols = []string{}
	}

	a.mu.Lock()
	a.pkeys[key] = cols
	a.mu.Unlock()
	return cols, nil
}

func updateClauses(columns, pk []string) []string {
	inPK := make(map[string]bool, len(pk))
	for _, k := range pk {
		inPK[k] = true
	}
	var updates []string
	for _, col := range columns {
		if inPK[col] {
			continue
		}
		updates = append(updates, fmt.Sprintf("%s = EXCLUDED.%s", quoteIdent(col), quoteIdent(col)))
	}
	return updates
}

func qualifiedTable(schema, table string) string {
	return fmt.Sprintf("%s.%s", quoteIdent(schema), quoteIdent(table))
}

func quoteIdent(s string) string {
	return `"` + strings.ReplaceAll(s, `"`, `""`) + `"`
}

func quoteIdentList(names []string) string {
	quoted := make([]string, len(names))
	for i, n := range names {
		quoted[i] = quoteIdent(n)
	}
	return strings.Join(quoted, ", ")
}
