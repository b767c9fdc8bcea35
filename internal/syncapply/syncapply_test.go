package syncapply

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestUpdateClauses_ExcludesPrimaryKeyColumns(t *testing.T) {
	clauses := updateClauses([]string{"id", "name", "email"}, []string{"id"})
	assert.Equal(t, []string{`"name" = EXCLUDED."name"`, `"email" = EXCLUDED."email"`}, clauses)
}

func TestUpdateClauses_CompositeKeyExcludesBoth(t *testing.T) {
	clauses := updateClauses([]string{"tenant_id", "id", "value"}, []string{"tenant_id", "id"})
	assert.Equal(t, []string{`"value" = EXCLUDED."value"`}, clauses)
}

func TestUpdateClauses_AllColumnsKeyedReturnsEmpty(t *testing.T) {
	clauses := updateClauses([]string{"id"}, []string{"id"})
	assert.Empty(t, clauses)
}

func TestQuoteIdent_EscapesDoubleQuotes(t *testing.T) {
	assert.Equal(t, `"my""table"`, quoteIdent(`my"table`))
}

func TestQuoteIdentList_JoinsQuoted(t *testing.T) {
	assert.Equal(t, `"a", "b"`, quoteIdentList([]string{"a", "b"}))
}

func TestQualifiedTable_QuotesBothParts(t *testing.T) {
	assert.Equal(t, `"public"."orders"`, qualifiedTable("public", "orders"))
}
