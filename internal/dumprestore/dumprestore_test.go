package dumprestore

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pgbridge/pgbridge/internal/filter"
	"github.com/pgbridge/pgbridge/internal/tablerules"
)

func TestSplitDotted(t *testing.T) {
	db, table, ok := splitDotted("db1.table1")
	require.True(t, ok)
	assert.Equal(t, "db1", db)
	assert.Equal(t, "table1", table)

	_, _, ok = splitDotted("notdotted")
	assert.False(t, ok)
}

func TestSchemaExcludedTables_OnlyExplicitExcludes(t *testing.T) {
	f, err := filter.New(nil, nil, nil, []string{"db1.table1", "db1.table2", "db2.table3"})
	require.NoError(t, err)

	tables := schemaExcludedTables(f, "db1")
	assert.ElementsMatch(t, []string{`"public"."table1"`, `"public"."table2"`}, tables)

	tables = schemaExcludedTables(f, "db2")
	assert.Equal(t, []string{`"public"."table3"`}, tables)

	tables = schemaExcludedTables(f, "db3")
	assert.Empty(t, tables)
}

func TestDataExcludedTables_IncludesSchemaOnlyAndPredicateTables(t *testing.T) {
	f, err := filter.New(nil, nil, nil, []string{"db1.table1"})
	require.NoError(t, err)

	rules := tablerules.New()
	db := "db1"
	require.NoError(t, rules.AddSchemaOnlyTable(tablerules.QualifiedTable{Database: &db, Schema: "public", Table: "logs"}))
	require.NoError(t, rules.AddTableFilter(tablerules.QualifiedTable{Database: &db, Schema: "public", Table: "events"}, "created_at > now() - interval '1 day'"))

	tables := dataExcludedTables(f, "db1", rules)
	assert.Contains(t, tables, `"public"."table1"`)
	assert.Contains(t, tables, `"public"."logs"`)
}

func TestIncludedTables_FiltersByDatabase(t *testing.T) {
	f, err := filter.New(nil, nil, []string{"db1.users", "db1.orders", "db2.products"}, nil)
	require.NoError(t, err)

	tables := includedTables(f, "db1")
	assert.Equal(t, []string{`"public"."users"`, `"public"."orders"`}, tables)

	tables = includedTables(f, "db2")
	assert.Equal(t, []string{`"public"."products"`}, tables)

	tables = includedTables(f, "db3")
	assert.Empty(t, tables)
}

func TestSchemaExcludedTables_NilFilter(t *testing.T) {
	assert.Empty(t, schemaExcludedTables(nil, "db1"))
}
