package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleConfig = `
[databases.kong]
schema_only = ["evmlog_strides", "price"]

[[databases.kong.table_filters]]
table = "output"
where = "series_time >= NOW() - INTERVAL '6 months'"

[[databases.kong.time_filters]]
table = "metrics"
column = "created_at"
last = "1 year"
`

func writeTempConfig(t *testing.T, contents string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "rules.toml")
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))
	return path
}

func TestLoadTableRules_ParsesSampleConfig(t *testing.T) {
	path := writeTempConfig(t, sampleConfig)

	rules, err := LoadTableRules(path)
	require.NoError(t, err)

	assert.Equal(t, []string{`"public"."evmlog_strides"`, `"public"."price"`}, rules.SchemaOnlyTables("kong"))

	predicate, ok := rules.TableFilter("kong", "public", "output")
	require.True(t, ok)
	assert.Contains(t, predicate, "INTERVAL")

	timeFilter, ok := rules.TimeFilter("kong", "public", "metrics")
	require.True(t, ok)
	assert.Equal(t, "created_at", timeFilter.Column)
	assert.Equal(t, "1 year", timeFilter.Interval)
}

func TestLoadTableRules_EmptyFile(t *testing.T) {
	path := writeTempConfig(t, "")
	rules, err := LoadTableRules(path)
	require.NoError(t, err)
	assert.True(t, rules.IsEmpty())
}

func TestLoadTableRules_MissingFile(t *testing.T) {
	_, err := LoadTableRules(filepath.Join(t.TempDir(), "missing.toml"))
	assert.Error(t, err)
}

func TestLoadTableRules_InvalidTOML(t *testing.T) {
	path := writeTempConfig(t, "this is not [valid toml")
	_, err := LoadTableRules(path)
	assert.Error(t, err)
}
