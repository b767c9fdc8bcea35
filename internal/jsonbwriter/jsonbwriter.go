// Package jsonbwriter creates the canonical JSONB table shape used to hold
// rows converted from non-PostgreSQL sources, and batches parameterized
// inserts under PostgreSQL's parameter-count limit.
package jsonbwriter

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"

	"github.com/pgbridge/pgbridge/internal/idvalidate"
)

// batchSize bounds rows per multi-value INSERT so that
// batchSize * paramsPerRow stays well under PostgreSQL's 65535 parameter
// limit: 1000 * 3 = 3000.
const batchSize = 1000
const paramsPerRow = 3

// Row is one (id, data) pair awaiting insertion; SourceType is attached at
// insert time, not per-row, since a batch always belongs to one source.
type Row struct {
	ID   string
	Data interface{}
}

// CreateTable issues the three IF NOT EXISTS DDL statements for the
// canonical JSONB shape. tableName is validated against the identifier
// grammar before interpolation; it is never parameterized in DDL.
func CreateTable(ctx context.Context, pool *pgxpool.Pool, tableName, sourceType string) error {
	if err := idvalidate.Validate(tableName); err != nil {
		return fmt.Errorf("invalid table name for JSONB table creation: %w", err)
	}

	log.Info().Str("table", tableName).Str("source_type", sourceType).Msg("creating JSONB table")

	createTableSQL := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %q (
			id TEXT PRIMARY KEY,
			data JSONB NOT NULL,
			_source_type TEXT NOT NULL,
			_migrated_at TIMESTAMP NOT NULL DEFAULT NOW()
		)`, tableName)
	if _, err := pool.Exec(ctx, createTableSQL); err != nil {
		return fmt.Errorf("failed to create JSONB table %q: %w", tableName, err)
	}

	ginIndexSQL := fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %q ON %q USING GIN (data)`,
		"idx_"+tableName+"_data", tableName)
	if _, err := pool.Exec(ctx, ginIndexSQL); err != nil {
		return fmt.Errorf("failed to create GIN index on table %q: %w", tableName, err)
	}

	timeIndexSQL := fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %q ON %q (_migrated_at)`,
		"idx_"+tableName+"_migrated", tableName)
	if _, err := pool.Exec(ctx, timeIndexSQL); err != nil {
		return fmt.Errorf("failed to create _migrated_at index on table %q: %w", tableName, err)
	}

	log.Info().Str("table", tableName).Msg("created JSONB table with indexes")
	return nil
}

// InsertRow inserts a single row with metadata, using parameter binding for
// id, data, and source type. tableName must already be validated.
func InsertRow(ctx context.Context, pool *pgxpool.Pool, tableName, id string, data interface{}, sourceType string) error {
	if err := idvalidate.Validate(tableName); err != nil {
		return fmt.Errorf("invalid table name for JSONB row insert: %w", err)
	}

	insertSQL := fmt.Sprintf(`INSERT INTO %q (id, data, _source_type) VALUES ($1, $2, $3)`, tableName)
	if _, err := pool.Exec(ctx, insertSQL, id, data, sourceType); err != nil {
		return fmt.Errorf("failed to insert row with id %q into %q: %w", id, tableName, err)
	}
	return nil
}

// InsertBatch inserts rows in chunks of batchSize using a multi-value
// INSERT per chunk. Empty input is a no-op. Primary-key collisions error;
// callers that want overwrite semantics must truncate first.
func InsertBatch(ctx context.Context, pool *pgxpool.Pool, tableName string, rows []Row, sourceType string) error {
	if err := idvalidate.Validate(tableName); err != nil {
		return fmt.Errorf("invalid table name for JSONB batch insert: %w", err)
	}
	if len(rows) == 0 {
		return nil
	}

	log.Info().Int("rows", len(rows)).Str("table", tableName).Msg("inserting rows into JSONB table")

	for start := 0; start < len(rows); start += batchSize {
		end := start + batchSize
		if end > len(rows) {
			end = len(rows)
		}
		chunk := rows[start:end]

		placeholders := make([]string, 0, len(chunk))
		params := make([]interface{}, 0, len(chunk)*paramsPerRow)

		for i, row := range chunk {
			base := i*paramsPerRow + 1
			placeholders = append(placeholders, fmt.Sprintf("($%d, $%d, $%d)", base, base+1, base+2))
			params = append(params, row.ID, row.Data, sourceType)
		}

		insertSQL := fmt.Sprintf(`INSERT INTO %q (id, data, _source_type) VALUES %s`,
			tableName, joinComma(placeholders))

		if _, err := pool.Exec(ctx, insertSQL, params...); err != nil {
			return fmt.Errorf("failed to insert batch (%d rows) into %q: %w", len(chunk), tableName, err)
		}

		log.Debug().Int("rows", len(chunk)).Str("table", tableName).Msg("inserted batch")
	}

	log.Info().Int("rows", len(rows)).Str("table", tableName).Msg("finished inserting rows")
	return nil
}

// UpsertRow inserts a row or, if id already exists, replaces its data and
// source type and refreshes _migrated_at, rather than failing on the
// primary-key collision InsertRow treats as an error. No caller in this
// module uses it; sync applies changes through internal/syncapply.
func UpsertRow(ctx context.Context, pool *pgxpool.Pool, tableName, id string, data interface{}, sourceType string) error {
	if err := idvalidate.Validate(tableName); err != nil {
		return fmt.Errorf("invalid table name for JSONB row upsert: %w", err)
	}

	upsertSQL := fmt.Sprintf(`
		INSERT INTO %q (id, data, _source_type) VALUES ($1, $2, $3)
		ON CONFLICT (id) DO UPDATE SET data = EXCLUDED.data, _source_type = EXCLUDED._source_type, _migrated_at = NOW()`,
		tableName)
	if _, err := pool.Exec(ctx, upsertSQL, id, data, sourceType); err != nil {
		return fmt.Errorf("failed to upsert row with id %q into %q: %w", id, tableName, err)
	}
	return nil
}

// DeleteRow removes the row with the given id, if present. A missing row is
// not an error: a DELETE for a row that was never migrated (e.g. it existed
// before the initial snapshot's cutoff) is a no-op, not a failure.
func DeleteRow(ctx context.Context, pool *pgxpool.Pool, tableName, id string) error {
	if err := idvalidate.Validate(tableName); err != nil {
		return fmt.Errorf("invalid table name for JSONB row delete: %w", err)
	}

	deleteSQL := fmt.Sprintf(`DELETE FROM %q WHERE id = $1`, tableName)
	if _, err := pool.Exec(ctx, deleteSQL, id); err != nil {
		return fmt.Errorf("failed to delete row with id %q from %q: %w", id, tableName, err)
	}
	return nil
}

func joinComma(parts []string) string {
	out := ""
	for i, p := range parts {
		if i > 0 {
			out += ", "
		}
		out += p
	}
	return out
}
