package statuscheck

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/pgbridge/pgbridge/internal/orchestrator"
)

func TestJsonbTableName_MatchesOrchestratorConvention(t *testing.T) {
	assert.Equal(t, "mydb_orders", orchestrator.JsonbTableName("MyDB", "Orders"))
}
