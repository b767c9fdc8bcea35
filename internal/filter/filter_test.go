package filter

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pgbridge/pgbridge/internal/errkind"
)

func TestNew_RejectsBothIncludeAndExcludeDatabases(t *testing.T) {
	_, err := New([]string{"a"}, []string{"b"}, nil, nil)
	require.Error(t, err)
	assert.Equal(t, errkind.InvalidConfig, errkind.Of(err))
}

func TestNew_RejectsBothIncludeAndExcludeTables(t *testing.T) {
	_, err := New(nil, nil, []string{"db.t"}, []string{"db.t2"})
	require.Error(t, err)
}

func TestNew_RejectsTableWithoutDot(t *testing.T) {
	_, err := New(nil, nil, []string{"justtable"}, nil)
	require.Error(t, err)
}

func TestEmpty_ReplicatesEverything(t *testing.T) {
	f := Empty()
	assert.True(t, f.IsEmpty())
	assert.True(t, f.ShouldReplicateDatabase("anything"))
	assert.True(t, f.ShouldReplicateTable("db1", "whatever"))
}

func TestShouldReplicateTable_ExcludeList(t *testing.T) {
	f, err := New(nil, nil, nil, []string{"db1.logs", "db1.tmp"})
	require.NoError(t, err)
	assert.False(t, f.ShouldReplicateTable("db1", "logs"))
	assert.True(t, f.ShouldReplicateTable("db1", "users"))
}

func TestShouldReplicateTable_IncludeList(t *testing.T) {
	f, err := New(nil, nil, []string{"db1.users"}, nil)
	require.NoError(t, err)
	assert.True(t, f.ShouldReplicateTable("db1", "users"))
	assert.False(t, f.ShouldReplicateTable("db1", "orders"))
	assert.False(t, f.IsEmpty())
}

func TestShouldReplicateDatabase_IncludeExclude(t *testing.T) {
	inc, err := New([]string{"db1", "db2"}, nil, nil, nil)
	require.NoError(t, err)
	assert.True(t, inc.ShouldReplicateDatabase("db1"))
	assert.False(t, inc.ShouldReplicateDatabase("db3"))

	exc, err := New(nil, []string{"db3"}, nil, nil)
	require.NoError(t, err)
	assert.True(t, exc.ShouldReplicateDatabase("db1"))
	assert.False(t, exc.ShouldReplicateDatabase("db3"))
}

type fakeLister struct {
	names []string
}

func (f fakeLister) ListDatabaseNames(ctx context.Context) ([]string, error) {
	return f.names, nil
}

func TestDatabasesToReplicate_EmptyResultIsNoDatabasesSelected(t *testing.T) {
	f, err := New(nil, []string{"a", "b"}, nil, nil)
	require.NoError(t, err)
	_, err = f.DatabasesToReplicate(context.Background(), fakeLister{names: []string{"a", "b"}})
	require.Error(t, err)
	assert.Equal(t, errkind.NoDatabasesSelected, errkind.Of(err))
}

func TestDatabasesToReplicate_FiltersApplied(t *testing.T) {
	f, err := New([]string{"a"}, nil, nil, nil)
	require.NoError(t, err)
	got, err := f.DatabasesToReplicate(context.Background(), fakeLister{names: []string{"a", "b"}})
	require.NoError(t, err)
	assert.Equal(t, []string{"a"}, got)
}
