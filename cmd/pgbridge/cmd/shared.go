package cmd

import (
	"github.com/spf13/cobra"

	"github.com/pgbridge/pgbridge/internal/config"
	"github.com/pgbridge/pgbridge/internal/filter"
	"github.com/pgbridge/pgbridge/internal/tablerules"
)

// addDatabaseFilterFlags registers the include/exclude database axis shared
// by every subcommand that selects a set of databases.
func addDatabaseFilterFlags(cmd *cobra.Command) {
	cmd.Flags().StringSlice("include-databases", nil, "only replicate these databases (comma-separated)")
	cmd.Flags().StringSlice("exclude-databases", nil, "replicate every database except these (comma-separated)")
}

// addTableFilterFlags registers the include/exclude table axis, for
// subcommands that also reason about individual tables.
func addTableFilterFlags(cmd *cobra.Command) {
	cmd.Flags().StringSlice("include-tables", nil, "only replicate these tables, as 'database.table' (comma-separated)")
	cmd.Flags().StringSlice("exclude-tables", nil, "replicate every table except these, as 'database.table' (comma-separated)")
}

// addTableRuleFlags registers the schema-only/predicate/time-window rule
// flags plus a TOML config file, for subcommands that shape what's copied
// within an included table rather than just which tables are included.
func addTableRuleFlags(cmd *cobra.Command) {
	cmd.Flags().String("config", "", "path to a TOML file of table rules (schema_only/table_filters/time_filters per database)")
	cmd.Flags().StringSlice("schema-only", nil, "copy schema but no rows for this table, as '[database.]table' (repeatable)")
	cmd.Flags().StringSlice("table-filter", nil, "row predicate for a table, as '[database.]table:predicate' (repeatable)")
	cmd.Flags().StringSlice("time-filter", nil, "time-window row filter, as '[database.]table:column:<amount> <unit>' (repeatable)")
}

// buildFilter constructs a Filter from the include/exclude database and
// table flags registered by addDatabaseFilterFlags/addTableFilterFlags.
// Flags not registered on cmd are read as their zero value (nil), which is
// the "no restriction" state Filter.New expects.
func buildFilter(cmd *cobra.Command) (*filter.Filter, error) {
	includeDatabases, _ := cmd.Flags().GetStringSlice("include-databases")
	excludeDatabases, _ := cmd.Flags().GetStringSlice("exclude-databases")
	includeTables, _ := cmd.Flags().GetStringSlice("include-tables")
	excludeTables, _ := cmd.Flags().GetStringSlice("exclude-tables")

	return filter.New(
		nilIfEmpty(includeDatabases),
		nilIfEmpty(excludeDatabases),
		nilIfEmpty(includeTables),
		nilIfEmpty(excludeTables),
	)
}

// nilIfEmpty turns a StringSlice flag's zero value (empty, non-nil slice)
// back into nil, so an unset flag reads as "no restriction" to Filter.New
// rather than as an explicit empty allow-list.
func nilIfEmpty(s []string) []string {
	if len(s) == 0 {
		return nil
	}
	return s
}

// buildTableRules constructs a TableRules from an optional --config file
// plus the --schema-only/--table-filter/--time-filter flags layered on top.
func buildTableRules(cmd *cobra.Command) (*tablerules.TableRules, error) {
	configPath, _ := cmd.Flags().GetString("config")

	var rules *tablerules.TableRules
	if configPath != "" {
		loaded, err := config.LoadTableRules(configPath)
		if err != nil {
			return nil, err
		}
		rules = loaded
	} else {
		rules = tablerules.New()
	}

	schemaOnly, _ := cmd.Flags().GetStringSlice("schema-only")
	if err := rules.ApplySchemaOnlyCLI(schemaOnly); err != nil {
		return nil, err
	}

	tableFilters, _ := cmd.Flags().GetStringSlice("table-filter")
	if err := rules.ApplyTableFilterCLI(tableFilters); err != nil {
		return nil, err
	}

	timeFilters, _ := cmd.Flags().GetStringSlice("time-filter")
	if err := rules.ApplyTimeFilterCLI(timeFilters); err != nil {
		return nil, err
	}

	return rules, nil
}
