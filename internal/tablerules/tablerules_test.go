package tablerules

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pgbridge/pgbridge/internal/errkind"
)

func TestParseQualifiedTable_SinglePart(t *testing.T) {
	q, err := ParseQualifiedTable("users")
	require.NoError(t, err)
	assert.Nil(t, q.Database)
	assert.Equal(t, "public", q.Schema)
	assert.Equal(t, "users", q.Table)
}

func TestParseQualifiedTable_TwoParts(t *testing.T) {
	q, err := ParseQualifiedTable("analytics.orders")
	require.NoError(t, err)
	assert.Nil(t, q.Database)
	assert.Equal(t, "analytics", q.Schema)
	assert.Equal(t, "orders", q.Table)
}

func TestParseQualifiedTable_ThreeParts(t *testing.T) {
	q, err := ParseQualifiedTable("db1.public.users")
	require.NoError(t, err)
	require.NotNil(t, q.Database)
	assert.Equal(t, "db1", *q.Database)
	assert.Equal(t, "public", q.Schema)
	assert.Equal(t, "users", q.Table)
}

func TestParseQualifiedTable_Empty(t *testing.T) {
	_, err := ParseQualifiedTable("")
	require.Error(t, err)
	_, err = ParseQualifiedTable("   ")
	require.Error(t, err)
}

func TestParseQualifiedTable_TooManyParts(t *testing.T) {
	_, err := ParseQualifiedTable("a.b.c.d")
	require.Error(t, err)
}

func TestRuleForTable_GlobalSchemaOnlyAppliesToAnyDatabase(t *testing.T) {
	r := New()
	require.NoError(t, r.AddSchemaOnlyTable(QualifiedTable{Schema: "public", Table: "audit"}))
	assert.Equal(t, TableRuleKind{Tag: KindSchemaOnly}, r.RuleForTable("any", "public", "audit"))
}

func TestTimeFilterNormalization_Scenario2(t *testing.T) {
	r := New()
	require.NoError(t, r.ApplyTimeFilterCLI([]string{"metrics:created_at:6 months"}))
	rule, ok := r.TimeFilter("any", "public", "metrics")
	require.True(t, ok)
	assert.Equal(t, "6 month", rule.Interval)
	kind := r.RuleForTable("any", "public", "metrics")
	assert.Equal(t, KindPredicate, kind.Tag)
	assert.Contains(t, kind.Predicate, "INTERVAL '6 month'")
}

func TestTimeFilterNormalization_ShortForms(t *testing.T) {
	cases := map[string]string{
		"sec": "second", "mins": "minute", "hrs": "hour", "days": "day",
		"weeks": "week", "mon": "month", "yrs": "year",
	}
	for short, canonical := range cases {
		got, err := normalizeTimeWindow("3 " + short)
		require.NoError(t, err)
		assert.Equal(t, "3 "+canonical, got)
	}
}

func TestRuleConflict_Scenario3(t *testing.T) {
	r := New()
	require.NoError(t, r.AddSchemaOnlyTable(QualifiedTable{Database: strPtr("db1"), Schema: "public", Table: "audit"}))
	err := r.ApplyTableFilterCLI([]string{"db1.audit:1=1"})
	require.Error(t, err)
	assert.Equal(t, errkind.RuleConflict, errkind.Of(err))
}

func TestAddTimeFilter_ConflictsWithExistingTableFilter(t *testing.T) {
	r := New()
	require.NoError(t, r.AddTableFilter(QualifiedTable{Schema: "public", Table: "t"}, "x = 1"))
	err := r.AddTimeFilter(QualifiedTable{Schema: "public", Table: "t"}, "created_at", "1 day")
	require.Error(t, err)
	assert.Equal(t, errkind.RuleConflict, errkind.Of(err))
}

func TestFingerprint_InvariantUnderInsertionOrder(t *testing.T) {
	a := New()
	require.NoError(t, a.AddSchemaOnlyTable(QualifiedTable{Schema: "public", Table: "audit"}))
	require.NoError(t, a.AddTableFilter(QualifiedTable{Schema: "public", Table: "orders"}, "status = 'done'"))

	b := New()
	require.NoError(t, b.AddTableFilter(QualifiedTable{Schema: "public", Table: "orders"}, "status = 'done'"))
	require.NoError(t, b.AddSchemaOnlyTable(QualifiedTable{Schema: "public", Table: "audit"}))

	assert.Equal(t, a.Fingerprint(), b.Fingerprint())
}

func TestFingerprint_ChangesOnEdit(t *testing.T) {
	r := New()
	fp1 := r.Fingerprint()
	require.NoError(t, r.AddSchemaOnlyTable(QualifiedTable{Schema: "public", Table: "audit"}))
	fp2 := r.Fingerprint()
	assert.NotEqual(t, fp1, fp2)
}

func TestFingerprint_RoundTripAfterRemoval(t *testing.T) {
	r := New()
	fpEmpty := r.Fingerprint()
	require.NoError(t, r.AddSchemaOnlyTable(QualifiedTable{Schema: "public", Table: "audit"}))
	delete(r.schemaOnly[globalScope], schemaTableKey{schema: "public", table: "audit"})
	assert.Equal(t, fpEmpty, r.Fingerprint())
}

func TestPredicateTables_ExplicitWinsOverTimeFilter(t *testing.T) {
	r := New()
	require.NoError(t, r.AddTimeFilter(QualifiedTable{Schema: "public", Table: "events"}, "created_at", "1 day"))
	require.NoError(t, r.AddTableFilter(QualifiedTable{Schema: "public", Table: "events"}, "kind = 'click'"))

	tables := r.PredicateTables("any")
	require.Len(t, tables, 1)
	assert.Equal(t, "kind = 'click'", tables[0].Predicate)
}

func TestPredicateTables_ExcludesSchemaOnly(t *testing.T) {
	r := New()
	require.NoError(t, r.AddSchemaOnlyTable(QualifiedTable{Schema: "public", Table: "audit"}))
	require.NoError(t, r.AddTableFilter(QualifiedTable{Schema: "public", Table: "orders"}, "1=1"))

	tables := r.PredicateTables("any")
	require.Len(t, tables, 1)
	assert.Equal(t, `"public"."orders"`, tables[0].Table)
}

func TestRuleForTable_DatabaseScopeOverridesNothingWhenGlobalSchemaOnly(t *testing.T) {
	r := New()
	require.NoError(t, r.AddSchemaOnlyTable(QualifiedTable{Schema: "public", Table: "audit"}))
	assert.Equal(t, KindSchemaOnly, r.RuleForTable("db1", "public", "audit").Tag)
	assert.Equal(t, KindSchemaOnly, r.RuleForTable("db2", "public", "audit").Tag)
}

func strPtr(s string) *string { return &s }
