// Package config loads the TOML table-rules file that supplements (and can
// be combined with) the CLI's --schema-only/--table-filter/--time-filter
// flags: one [databases.<name>] section per database, naming schema-only
// tables, predicate filters, and time-window filters for that database.
package config

import (
	"fmt"
	"os"
	"sort"

	"github.com/BurntSushi/toml"

	"github.com/pgbridge/pgbridge/internal/tablerules"
)

// tableFilterEntry is one [[databases.<db>.table_filters]] entry.
type tableFilterEntry struct {
	Table string `toml:"table"`
	Where string `toml:"where"`
}

// timeFilterEntry is one [[databases.<db>.time_filters]] entry.
type timeFilterEntry struct {
	Table  string `toml:"table"`
	Column string `toml:"column"`
	Last   string `toml:"last"`
}

// databaseEntry is one [databases.<db>] section.
type databaseEntry struct {
	SchemaOnly   []string           `toml:"schema_only"`
	TableFilters []tableFilterEntry `toml:"table_filters"`
	TimeFilters  []timeFilterEntry  `toml:"time_filters"`
}

// fileShape mirrors the top-level TOML document.
type fileShape struct {
	Databases map[string]databaseEntry `toml:"databases"`
}

// LoadTableRules reads path and builds a tablerules.TableRules from its
// [databases.<name>] sections. Every table name is scoped to the database
// section it appears under, since the file format has no notion of a
// rule that applies across every database.
func LoadTableRules(path string) (*tablerules.TableRules, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file at %s: %w", path, err)
	}

	var parsed fileShape
	if _, err := toml.Decode(string(raw), &parsed); err != nil {
		return nil, fmt.Errorf("failed to parse TOML config at %s: %w", path, err)
	}

	rules := tablerules.New()

	for _, dbName := range sortedKeys(parsed.Databases) {
		db := parsed.Databases[dbName]
		database := dbName

		for _, table := range db.SchemaOnly {
			q, err := tablerules.ParseQualifiedTable(table)
			if err != nil {
				return nil, fmt.Errorf("invalid schema_only entry %q in database %q: %w", table, dbName, err)
			}
			q.Database = &database
			if err := rules.AddSchemaOnlyTable(q); err != nil {
				return nil, fmt.Errorf("failed to add schema_only table %q in database %q: %w", table, dbName, err)
			}
		}

		for _, filter := range db.TableFilters {
			q, err := tablerules.ParseQualifiedTable(filter.Table)
			if err != nil {
				return nil, fmt.Errorf("invalid table_filters entry %q in database %q: %w", filter.Table, dbName, err)
			}
			q.Database = &database
			if err := rules.AddTableFilter(q, filter.Where); err != nil {
				return nil, fmt.Errorf("failed to add table filter %q in database %q: %w", filter.Table, dbName, err)
			}
		}

		for _, filter := range db.TimeFilters {
			q, err := tablerules.ParseQualifiedTable(filter.Table)
			if err != nil {
				return nil, fmt.Errorf("invalid time_filters entry %q in database %q: %w", filter.Table, dbName, err)
			}
			q.Database = &database
			if err := rules.AddTimeFilter(q, filter.Column, filter.Last); err != nil {
				return nil, fmt.Errorf("failed to add time filter %q in database %q: %w", filter.Table, dbName, err)
			}
		}
	}

	return rules, nil
}

func sortedKeys(m map[string]databaseEntry) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
