package syncengine

import (
	"testing"

	"github.com/jackc/pglogrepl"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleRelation() *pglogrepl.RelationMessage {
	return &pglogrepl.RelationMessage{
		RelationID:   7,
		Namespace:    "public",
		RelationName: "widgets",
		Columns: []*pglogrepl.RelationMessageColumn{
			{Name: "id"},
			{Name: "name"},
			{Name: "description"},
		},
	}
}

func TestRelationCache_StoreAndGet(t *testing.T) {
	c := newRelationCache()
	rel := sampleRelation()
	c.store(rel)

	got, ok := c.get(7)
	require.True(t, ok)
	assert.Equal(t, "widgets", got.RelationName)

	_, ok = c.get(99)
	assert.False(t, ok)
}

func TestTupleToMap_DecodesTextNullAndSkipsUnchangedToast(t *testing.T) {
	rel := sampleRelation()
	tuple := &pglogrepl.TupleData{
		Columns: []*pglogrepl.TupleDataColumn{
			{DataType: 't', Data: []byte("42")},
			{DataType: 'n'},
			{DataType: 'u'},
		},
	}

	data, err := tupleToMap(tuple, rel)
	require.NoError(t, err)

	assert.Equal(t, "42", data["id"])
	assert.Nil(t, data["name"])
	_, hasDescription := data["description"]
	assert.False(t, hasDescription, "unchanged TOAST column should be omitted, not stored as zero value")
}

func TestTupleToMap_NilTupleErrors(t *testing.T) {
	_, err := tupleToMap(nil, sampleRelation())
	assert.Error(t, err)
}

func TestTupleToMap_ExtraTupleColumnsAreIgnored(t *testing.T) {
	rel := sampleRelation()
	tuple := &pglogrepl.TupleData{
		Columns: []*pglogrepl.TupleDataColumn{
			{DataType: 't', Data: []byte("42")},
			{DataType: 't', Data: []byte("widget")},
			{DataType: 't', Data: []byte("a widget")},
			{DataType: 't', Data: []byte("extra")},
		},
	}

	data, err := tupleToMap(tuple, rel)
	require.NoError(t, err)
	assert.Len(t, data, 3)
}

func TestIsSlotAlreadyExists_NonPgErrorIsFalse(t *testing.T) {
	assert.False(t, isSlotAlreadyExists(assertAsError("boom")))
}

type plainError string

func (e plainError) Error() string { return string(e) }

func assertAsError(s string) error { return plainError(s) }
