package sqlitesrc

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSqliteValueToJSON_Integer(t *testing.T) {
	v, err := sqliteValueToJSON(int64(42))
	require.NoError(t, err)
	assert.Equal(t, int64(42), v)
}

func TestSqliteValueToJSON_Real(t *testing.T) {
	v, err := sqliteValueToJSON(float64(42.75))
	require.NoError(t, err)
	assert.Equal(t, float64(42.75), v)
}

func TestSqliteValueToJSON_Text(t *testing.T) {
	v, err := sqliteValueToJSON("Hello, World!")
	require.NoError(t, err)
	assert.Equal(t, "Hello, World!", v)
}

func TestSqliteValueToJSON_Null(t *testing.T) {
	v, err := sqliteValueToJSON(nil)
	require.NoError(t, err)
	assert.Nil(t, v)
}

func TestSqliteValueToJSON_Blob(t *testing.T) {
	blob := []byte("Hello")
	v, err := sqliteValueToJSON(blob)
	require.NoError(t, err)
	obj, ok := v.(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "blob", obj["_type"])
	assert.Equal(t, "SGVsbG8=", obj["data"])
}

func TestSqliteValueToJSON_NonFiniteFloat(t *testing.T) {
	v, err := sqliteValueToJSON(math.NaN())
	require.NoError(t, err)
	_, isString := v.(string)
	assert.True(t, isString)

	v, err = sqliteValueToJSON(math.Inf(1))
	require.NoError(t, err)
	_, isString = v.(string)
	assert.True(t, isString)
}

func TestIdFromValue_IntegerID(t *testing.T) {
	assert.Equal(t, "1", idFromValue(int64(1), 0))
}

func TestIdFromValue_TextID(t *testing.T) {
	assert.Equal(t, "abc", idFromValue("abc", 0))
}

func TestIdFromValue_FallsBackToRowNumber(t *testing.T) {
	assert.Equal(t, "3", idFromValue(nil, 3))
}
