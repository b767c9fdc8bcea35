package postgressrc

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/pgbridge/pgbridge/internal/source"
)

func TestQuoteIdent(t *testing.T) {
	assert.Equal(t, `"users"`, quoteIdent("users"))
}

func TestRegistersPostgresAndPostgresqlSchemes(t *testing.T) {
	schemes := source.Schemes()
	assert.Contains(t, schemes, "postgres")
	assert.Contains(t, schemes, "postgresql")
}
