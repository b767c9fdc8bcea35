// Package statuscheck implements the status and verify CLI workflows:
// status reports checkpoint progress and replication lag without touching
// row data, verify additionally compares row counts between source and
// target per table.
package statuscheck

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pglogrepl"

	"github.com/pgbridge/pgbridge/internal/checkpoint"
	"github.com/pgbridge/pgbridge/internal/filter"
	"github.com/pgbridge/pgbridge/internal/idvalidate"
	"github.com/pgbridge/pgbridge/internal/orchestrator"
	"github.com/pgbridge/pgbridge/internal/source"
)

// DatabaseStatus summarizes one database's replication progress.
type DatabaseStatus struct {
	Database  string
	Completed bool
}

// Report is the result of Status.
type Report struct {
	TotalDatabases     int
	CompletedDatabases int
	Databases          []DatabaseStatus
	SlotActive         bool
	SlotLagBytes       int64
	PublicationTables  []string
}

// Status reports, per database, checkpoint completion, (when a slot name
// is supplied) the replication slot's current lag, and (when a publication
// name is supplied) the publication's table membership.
func Status(ctx context.Context, sourceURL, targetURL string, f *filter.Filter, slotName, publicationName string) (*Report, error) {
	checkpointPath, err := checkpoint.Path(sourceURL, targetURL)
	if err != nil {
		return nil, err
	}
	cp, err := checkpoint.Load(checkpointPath)
	if err != nil {
		return nil, err
	}

	report := &Report{}
	if cp != nil {
		report.TotalDatabases = cp.TotalDatabases()
		report.CompletedDatabases = cp.CompletedCount()
		for _, db := range cp.Databases() {
			report.Databases = append(report.Databases, DatabaseStatus{Database: db, Completed: cp.IsCompleted(db)})
		}
	}

	sourcePool, err := pgxpool.New(ctx, sourceURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to source for status check: %w", err)
	}
	defer sourcePool.Close()

	if slotName != "" {
		active, lag, err := replicationSlotLag(ctx, sourcePool, slotName)
		if err != nil {
			return nil, err
		}
		report.SlotActive = active
		report.SlotLagBytes = lag
	}

	if publicationName != "" {
		tables, err := publicationTables(ctx, sourcePool, publicationName)
		if err != nil {
			return nil, err
		}
		report.PublicationTables = tables
	}

	return report, nil
}

// TableMismatch is one table whose source and target row counts disagree.
type TableMismatch struct {
	Database    string
	Table       string
	SourceCount int64
	TargetCount int64
}

// VerifyReport is the result of Verify.
type VerifyReport struct {
	TablesChecked int
	Mismatches    []TableMismatch
}

// Verify compares row counts between source and target for every included
// table in every database the filter selects. It does not diff row
// contents — only presence/absence via count, which is enough to catch a
// dropped or duplicated table without the cost of a full content diff.
func Verify(ctx context.Context, sourceScheme, sourceURL, targetURL string, f *filter.Filter) (*VerifyReport, error) {
	adapter, err := source.Open(ctx, sourceScheme, sourceURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open source adapter for verification: %w", err)
	}
	defer adapter.Close()

	targetPool, err := pgxpool.New(ctx, targetURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to target for verification: %w", err)
	}
	defer targetPool.Close()

	databases, err := f.DatabasesToReplicate(ctx, databaseListerAdapter{adapter})
	if err != nil {
		return nil, err
	}

	report := &VerifyReport{}
	isPostgres := sourceScheme == "postgres" || sourceScheme == "postgresql"

	for _, db := range databases {
		tables, err := adapter.ListTables(ctx, db)
		if err != nil {
			return nil, fmt.Errorf("failed to list tables in %q: %w", db, err)
		}
		for _, t := range tables {
			if !f.ShouldReplicateTable(db, t.Name) {
				continue
			}
			report.TablesChecked++

			sourceCount, err := sourceRowCount(ctx, adapter, db, t.Schema, t.Name)
			if err != nil {
				return nil, err
			}

			targetTable := t.Name
			if !isPostgres {
				targetTable = orchestrator.JsonbTableName(db, t.Name)
			}
			targetCount, err := countRows(ctx, targetPool, targetTable)
			if err != nil {
				return nil, err
			}

			if sourceCount != targetCount {
				report.Mismatches = append(report.Mismatches, TableMismatch{
					Database: db, Table: t.Name, SourceCount: sourceCount, TargetCount: targetCount,
				})
			}
		}
	}

	return report, nil
}

func sourceRowCount(ctx context.Context, adapter source.Adapter, database, schema, table string) (int64, error) {
	rows, err := adapter.ReadTable(ctx, database, schema, table)
	if err != nil {
		return 0, fmt.Errorf("failed to read table %q.%q for row count: %w", schema, table, err)
	}
	return int64(len(rows)), nil
}

func countRows(ctx context.Context, pool *pgxpool.Pool, tableName string) (int64, error) {
	if err := idvalidate.Validate(tableName); err != nil {
		return 0, fmt.Errorf("invalid table name for row count: %w", err)
	}
	var count int64
	row := pool.QueryRow(ctx, fmt.Sprintf("SELECT COUNT(*) FROM %q", tableName))
	if err := row.Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count rows in %q: %w", tableName, err)
	}
	return count, nil
}

type databaseListerAdapter struct{ adapter source.Adapter }

func (a databaseListerAdapter) ListDatabaseNames(ctx context.Context) ([]string, error) {
	return a.adapter.ListDatabases(ctx)
}

// replicationSlotLag reports whether slotName exists and, if so, its
// current replay lag in bytes (the distance between the current WAL
// position and the slot's confirmed_flush_lsn).
func replicationSlotLag(ctx context.Context, pool *pgxpool.Pool, slotName string) (active bool, lagBytes int64, err error) {
	var confirmedFlushLSN string
	row := pool.QueryRow(ctx, `
		SELECT confirmed_flush_lsn
		FROM pg_replication_slots
		WHERE slot_name = $1`, slotName)
	if err := row.Scan(&confirmedFlushLSN); err != nil {
		return false, 0, nil // slot does not exist, not an error condition worth failing status over
	}

	var currentLSN string
	if err := pool.QueryRow(ctx, "SELECT pg_current_wal_lsn()::text").Scan(&currentLSN); err != nil {
		return true, 0, fmt.Errorf("failed to read current WAL position: %w", err)
	}

	confirmed, err := pglogrepl.ParseLSN(confirmedFlushLSN)
	if err != nil {
		return true, 0, fmt.Errorf("failed to parse confirmed_flush_lsn %q: %w", confirmedFlushLSN, err)
	}
	current, err := pglogrepl.ParseLSN(currentLSN)
	if err != nil {
		return true, 0, fmt.Errorf("failed to parse current WAL LSN %q: %w", currentLSN, err)
	}

	return true, int64(current - confirmed), nil
}

func publicationTables(ctx context.Context, pool *pgxpool.Pool, publicationName string) ([]string, error) {
	rows, err := pool.Query(ctx, `
		SELECT schemaname || '.' || tablename
		FROM pg_publication_tables
		WHERE pubname = $1
		ORDER BY 1`, publicationName)
	if err != nil {
		return nil, fmt.Errorf("failed to list publication tables for %q: %w", publicationName, err)
	}
	defer rows.Close()

	var tables []string
	for rows.Next() {
		var t string
		if err := rows.Scan(&t); err != nil {
			return nil, fmt.Errorf("failed to scan publication table row: %w", err)
		}
		tables = append(tables, t)
	}
	return tables, rows.Err()
}
