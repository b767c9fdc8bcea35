package checkpoint

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pgbridge/pgbridge/internal/errkind"
)

func TestMetadataHash_ChangesWithInputs(t *testing.T) {
	a := NewMetadata("src_a", "tgt", "filter", true, false)
	b := NewMetadata("src_b", "tgt", "filter", true, false)
	assert.NotEqual(t, a.SourceHash, b.SourceHash)
}

func TestCheckpoint_RoundTrip_Scenario4(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "cp.json")

	metadata := NewMetadata("src", "tgt", "filter", false, true)
	databases := []string{"db1", "db2"}
	c := New(metadata, databases)
	c.MarkCompleted("db1")
	require.NoError(t, c.Save(path))

	loaded, err := Load(path)
	require.NoError(t, err)
	require.NotNil(t, loaded)
	require.NoError(t, loaded.Validate(metadata, databases))
	assert.True(t, loaded.IsCompleted("db1"))
	assert.False(t, loaded.IsCompleted("db2"))
	assert.Equal(t, 1, loaded.CompletedCount())
	assert.Equal(t, 2, loaded.TotalDatabases())
}

func TestCheckpoint_Validate_MetadataMismatch(t *testing.T) {
	metadata := NewMetadata("src", "tgt", "filter", false, true)
	c := New(metadata, []string{"db1"})

	other := NewMetadata("src2", "tgt", "filter", false, true)
	err := c.Validate(other, []string{"db1"})
	require.Error(t, err)
	assert.Equal(t, errkind.CheckpointDivergence, errkind.Of(err))
}

func TestCheckpoint_Validate_DatabaseListMismatch(t *testing.T) {
	metadata := NewMetadata("src", "tgt", "filter", false, true)
	c := New(metadata, []string{"db1"})

	err := c.Validate(metadata, []string{"db1", "db2"})
	require.Error(t, err)
	assert.Equal(t, errkind.CheckpointDivergence, errkind.Of(err))
}

func TestLoad_MissingFileReturnsNilNil(t *testing.T) {
	c, err := Load(filepath.Join(t.TempDir(), "missing.json"))
	require.NoError(t, err)
	assert.Nil(t, c)
}

func TestLoad_VersionMismatch(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "cp.json")
	c := New(NewMetadata("s", "t", "f", false, false), nil)
	require.NoError(t, c.Save(path))

	// Corrupt the version field.
	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	raw = bytes.Replace(raw, []byte(`"version": 1`), []byte(`"version": 99`), 1)
	require.NoError(t, os.WriteFile(path, raw, 0o644))

	_, err = Load(path)
	require.Error(t, err)
	assert.Equal(t, errkind.CheckpointDivergence, errkind.Of(err))
}

func TestPath_Deterministic(t *testing.T) {
	a, err := Path("postgres://src/db", "postgres://tgt/db")
	require.NoError(t, err)
	b, err := Path("postgres://src/db", "postgres://tgt/db")
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestMarkCompleted_Idempotent(t *testing.T) {
	c := New(NewMetadata("s", "t", "f", false, false), []string{"db1"})
	c.MarkCompleted("db1")
	c.MarkCompleted("db1")
	assert.Equal(t, 1, c.CompletedCount())
}
