// Package filter implements database/table include-exclude selection for a
// replication run. A Filter is constructed once and shared read-only across
// every per-database pass.
package filter

import (
	"context"
	"fmt"

	"github.com/pgbridge/pgbridge/internal/errkind"
)

// DatabaseLister is the minimal capability a source adapter needs to expose
// for Filter.DatabasesToReplicate to enumerate candidates.
type DatabaseLister interface {
	ListDatabaseNames(ctx context.Context) ([]string, error)
}

// Filter holds four optional inclusion/exclusion lists. A nil list means
// "no restriction on this axis".
type Filter struct {
	includeDatabases []string
	excludeDatabases []string
	includeTables    []string // "db.table"
	excludeTables    []string // "db.table"
}

// New validates and constructs a Filter. It fails if both sides of an axis
// are set, or if any table entry does not contain exactly the separator
// needed to split into database and table (at least one '.').
func New(includeDatabases, excludeDatabases, includeTables, excludeTables []string) (*Filter, error) {
	if includeDatabases != nil && excludeDatabases != nil {
		return nil, errkind.New(errkind.InvalidConfig, "cannot use both include-databases and exclude-databases")
	}
	if includeTables != nil && excludeTables != nil {
		return nil, errkind.New(errkind.InvalidConfig, "cannot use both include-tables and exclude-tables")
	}
	for _, t := range includeTables {
		if !containsDot(t) {
			return nil, errkind.New(errkind.InvalidConfig, "table must be specified as 'database.table', got %q", t)
		}
	}
	for _, t := range excludeTables {
		if !containsDot(t) {
			return nil, errkind.New(errkind.InvalidConfig, "table must be specified as 'database.table', got %q", t)
		}
	}
	return &Filter{
		includeDatabases: includeDatabases,
		excludeDatabases: excludeDatabases,
		includeTables:    includeTables,
		excludeTables:    excludeTables,
	}, nil
}

func containsDot(s string) bool {
	for _, c := range s {
		if c == '.' {
			return true
		}
	}
	return false
}

// Empty returns a Filter with no restrictions (replicates everything).
func Empty() *Filter {
	return &Filter{}
}

// IsEmpty reports whether no filter lists are present.
func (f *Filter) IsEmpty() bool {
	return f.includeDatabases == nil && f.excludeDatabases == nil &&
		f.includeTables == nil && f.excludeTables == nil
}

// ShouldReplicateDatabase applies the database include/exclude axis.
func (f *Filter) ShouldReplicateDatabase(name string) bool {
	if f.includeDatabases != nil && !contains(f.includeDatabases, name) {
		return false
	}
	if f.excludeDatabases != nil && contains(f.excludeDatabases, name) {
		return false
	}
	return true
}

// ShouldReplicateTable applies the table include/exclude axis against the
// "db.table" join of the given names.
func (f *Filter) ShouldReplicateTable(db, table string) bool {
	full := fmt.Sprintf("%s.%s", db, table)
	if f.includeTables != nil && !contains(f.includeTables, full) {
		return false
	}
	if f.excludeTables != nil && contains(f.excludeTables, full) {
		return false
	}
	return true
}

// IncludeTables returns the raw include-tables list, or nil if unset.
func (f *Filter) IncludeTables() []string { return f.includeTables }

// ExcludeTables returns the raw exclude-tables list, or nil if unset.
func (f *Filter) ExcludeTables() []string { return f.excludeTables }

func contains(list []string, target string) bool {
	for _, v := range list {
		if v == target {
			return true
		}
	}
	return false
}

// DatabasesToReplicate enumerates databases through lister and applies the
// database axis. An empty result is reported as NoDatabasesSelected rather
// than returned silently.
func (f *Filter) DatabasesToReplicate(ctx context.Context, lister DatabaseLister) ([]string, error) {
	all, err := lister.ListDatabaseNames(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list databases: %w", err)
	}

	var filtered []string
	for _, name := range all {
		if f.ShouldReplicateDatabase(name) {
			filtered = append(filtered, name)
		}
	}

	if len(filtered) == 0 {
		return nil, errkind.New(errkind.NoDatabasesSelected, "no databases selected for replication; check your filters")
	}
	return filtered, nil
}
