package source

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeAdapter struct{ closed bool }

func (f *fakeAdapter) ListDatabases(ctx context.Context) ([]string, error) { return nil, nil }
func (f *fakeAdapter) ListTables(ctx context.Context, database string) ([]TableInfo, error) {
	return nil, nil
}
func (f *fakeAdapter) ListColumns(ctx context.Context, database, schema, table string) ([]ColumnInfo, error) {
	return nil, nil
}
func (f *fakeAdapter) ReadTable(ctx context.Context, database, schema, table string) ([]Row, error) {
	return nil, nil
}
func (f *fakeAdapter) Close() error { f.closed = true; return nil }

func TestRegisterAndOpen(t *testing.T) {
	Register("faketest", func(ctx context.Context, url string) (Adapter, error) {
		return &fakeAdapter{}, nil
	})

	adapter, err := Open(context.Background(), "faketest", "faketest://wherever")
	require.NoError(t, err)
	require.NotNil(t, adapter)
	assert.NoError(t, adapter.Close())
}

func TestOpen_UnknownScheme(t *testing.T) {
	_, err := Open(context.Background(), "doesnotexist", "doesnotexist://x")
	assert.Error(t, err)
}

func TestSchemes_SortedAndContainsRegistered(t *testing.T) {
	Register("zzz-test-scheme", func(ctx context.Context, url string) (Adapter, error) {
		return &fakeAdapter{}, nil
	})
	schemes := Schemes()
	require.NotEmpty(t, schemes)
	for i := 1; i < len(schemes); i++ {
		assert.LessOrEqual(t, schemes[i-1], schemes[i])
	}
}
