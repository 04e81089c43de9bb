package changetracker_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zerebubuth/openstreetmap-cgimap-sub000/internal/changetracker"
	"github.com/zerebubuth/openstreetmap-cgimap-sub000/internal/osm"
)

func TestRecordCreatedAndResolvePlaceholder(t *testing.T) {
	tr := changetracker.New()
	tr.RecordCreated(osm.TypeNode, -1, 501)

	id, ok := tr.ResolvePlaceholder(osm.TypeNode, -1)
	require.True(t, ok)
	assert.Equal(t, osm.ObjectID(501), id)

	_, ok = tr.ResolvePlaceholder(osm.TypeNode, -2)
	assert.False(t, ok, "unknown placeholder must not resolve")

	id, ok = tr.ResolvePlaceholder(osm.TypeNode, 42)
	require.True(t, ok, "a positive id is already resolved")
	assert.Equal(t, osm.ObjectID(42), id)
}

func TestRecordSequenceOrder(t *testing.T) {
	tr := changetracker.New()
	tr.RecordSequence(osm.OpCreate, osm.TypeNode, -1, 0, false)
	tr.RecordSequence(osm.OpModify, osm.TypeWay, 7, 3, false)
	tr.RecordSequence(osm.OpDelete, osm.TypeRelation, 9, 2, true)

	require.Len(t, tr.OrigSequence, 3)
	assert.Equal(t, osm.TypeNode, tr.OrigSequence[0].Type)
	assert.Equal(t, osm.TypeWay, tr.OrigSequence[1].Type)
	assert.True(t, tr.OrigSequence[2].IfUnused)
}

func TestNumChanges(t *testing.T) {
	tr := changetracker.New()
	tr.RecordCreated(osm.TypeNode, -1, 1)
	tr.RecordModified(osm.TypeWay, 2, 4)
	tr.RecordDeleted(osm.TypeRelation, 3)
	tr.RecordSkipDeleted(osm.TypeNode, 5, 2)

	assert.Equal(t, 3, tr.NumChanges(), "skip-deleted does not count as a change")
}

func TestCreatedModifiedDeletedAccessors(t *testing.T) {
	tr := changetracker.New()
	tr.RecordCreated(osm.TypeNode, -1, 100)
	tr.RecordModified(osm.TypeNode, 200, 2)
	tr.RecordDeleted(osm.TypeNode, 300)

	assert.Len(t, tr.CreatedIDs(osm.TypeNode), 1)
	assert.Len(t, tr.ModifiedIDs(osm.TypeNode), 1)
	assert.Len(t, tr.DeletedIDs(osm.TypeNode), 1)
	assert.Empty(t, tr.CreatedIDs(osm.TypeWay))
}
