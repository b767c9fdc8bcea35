package orchestrator

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSplitQuoted_UnquotesSchemaAndTable(t *testing.T) {
	schema, table, ok := splitQuoted(`"public"."orders"`)
	require.True(t, ok)
	assert.Equal(t, "public", schema)
	assert.Equal(t, "orders", table)
}

func TestSplitQuoted_HandlesEscapedQuotes(t *testing.T) {
	schema, table, ok := splitQuoted(`"my""schema"."orders"`)
	require.True(t, ok)
	assert.Equal(t, `my"schema`, schema)
	assert.Equal(t, "orders", table)
}

func TestSplitQuoted_RejectsMissingDot(t *testing.T) {
	_, _, ok := splitQuoted(`"orders"`)
	assert.False(t, ok)
}

func TestJsonbTableName_JoinsAndLowercases(t *testing.T) {
	assert.Equal(t, "mydb_orders", JsonbTableName("MyDB", "Orders"))
}

func TestDumpDirFor_DeterministicForSameInputs(t *testing.T) {
	a, err := dumpDirFor("postgres://src/db", "postgres://tgt/db")
	require.NoError(t, err)
	b, err := dumpDirFor("postgres://src/db", "postgres://tgt/db")
	require.NoError(t, err)
	assert.Equal(t, a, b)

	c, err := dumpDirFor("postgres://other/db", "postgres://tgt/db")
	require.NoError(t, err)
	assert.NotEqual(t, a, c)
}

func TestSchemeFromURL_ParsesExplicitScheme(t *testing.T) {
	assert.Equal(t, "mysql", SchemeFromURL("mysql://user@host/db"))
	assert.Equal(t, "postgres", SchemeFromURL("postgres://user@host/db"))
}

func TestSchemeFromURL_SniffsSqliteExtension(t *testing.T) {
	assert.Equal(t, "sqlite", SchemeFromURL("/var/data/app.db"))
	assert.Equal(t, "sqlite", SchemeFromURL("./local.sqlite3"))
}

func TestSweepStaleTempDirs_RemovesOldMatchingDirsOnly(t *testing.T) {
	base := t.TempDir()

	stale := filepath.Join(base, "init-abc123")
	require.NoError(t, os.Mkdir(stale, 0o755))
	oldTime := time.Now().Add(-48 * time.Hour)
	require.NoError(t, os.Chtimes(stale, oldTime, oldTime))

	fresh := filepath.Join(base, "init-fresh")
	require.NoError(t, os.Mkdir(fresh, 0o755))

	unrelated := filepath.Join(base, "not-init-prefixed")
	require.NoError(t, os.Mkdir(unrelated, 0o755))
	require.NoError(t, os.Chtimes(unrelated, oldTime, oldTime))

	require.NoError(t, sweepStaleTempDirs(base, 24*time.Hour))

	_, err := os.Stat(stale)
	assert.True(t, os.IsNotExist(err), "stale init-prefixed directory should be removed")

	_, err = os.Stat(fresh)
	assert.NoError(t, err, "fresh directory should survive")

	_, err = os.Stat(unrelated)
	assert.NoError(t, err, "non-init-prefixed directory should be left alone")
}

func TestSweepStaleTempDirs_MissingBaseIsNotError(t *testing.T) {
	err := sweepStaleTempDirs(filepath.Join(os.TempDir(), "pgbridge-does-not-exist-xyz"), time.Hour)
	assert.NoError(t, err)
}
