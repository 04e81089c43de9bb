package diffresult_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zerebubuth/openstreetmap-cgimap-sub000/internal/changetracker"
	"github.com/zerebubuth/openstreetmap-cgimap-sub000/internal/diffresult"
	"github.com/zerebubuth/openstreetmap-cgimap-sub000/internal/osm"
)

func TestAssembleOrdersByOriginalSequence(t *testing.T) {
	tr := changetracker.New()

	tr.RecordSequence(osm.OpCreate, osm.TypeNode, -1, 0, false)
	tr.RecordCreated(osm.TypeNode, -1, 500)

	tr.RecordSequence(osm.OpModify, osm.TypeWay, 7, 3, false)
	tr.RecordModified(osm.TypeWay, 7, 4)

	tr.RecordSequence(osm.OpDelete, osm.TypeRelation, 9, 2, false)
	tr.RecordDeleted(osm.TypeRelation, 9)

	entries, err := diffresult.Assemble(tr)
	require.NoError(t, err)
	require.Len(t, entries, 3)

	assert.Equal(t, osm.TypeNode, entries[0].Type)
	assert.Equal(t, osm.SignedObjectID(-1), entries[0].OldID)
	assert.Equal(t, osm.ObjectID(500), entries[0].NewID)
	assert.True(t, entries[0].HasNewID)

	assert.Equal(t, osm.TypeWay, entries[1].Type)
	assert.Equal(t, osm.Version(4), entries[1].NewVersion)

	assert.Equal(t, osm.TypeRelation, entries[2].Type)
	assert.False(t, entries[2].HasNewID)
}

func TestAssembleSkipDeleted(t *testing.T) {
	tr := changetracker.New()
	tr.RecordSequence(osm.OpDelete, osm.TypeNode, 4, 1, true)
	tr.RecordSkipDeleted(osm.TypeNode, 4, 1)

	entries, err := diffresult.Assemble(tr)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.True(t, entries[0].DeletionSkipped)
	assert.True(t, entries[0].HasNewVersion)
}

func TestAssembleMissingMappingIsInternalError(t *testing.T) {
	tr := changetracker.New()
	tr.RecordSequence(osm.OpCreate, osm.TypeNode, -1, 0, false)
	// No RecordCreated call: the tracker is missing the mapping entirely.

	_, err := diffresult.Assemble(tr)
	assert.Error(t, err)
}

func TestEncodeXML(t *testing.T) {
	entries := []diffresult.Entry{
		{Op: osm.OpCreate, Type: osm.TypeNode, OldID: -1, NewID: 500, HasNewID: true, NewVersion: 1, HasNewVersion: true},
	}
	body, err := diffresult.EncodeXML(entries, "osmupload")
	require.NoError(t, err)
	s := string(body)
	assert.Contains(t, s, `<diffResult version="0.6" generator="osmupload">`)
	assert.Contains(t, s, `<node old_id="-1" new_id="500" new_version="1"/>`)
}

func TestEncodeJSON(t *testing.T) {
	entries := []diffresult.Entry{
		{Op: osm.OpDelete, Type: osm.TypeWay, OldID: 9},
	}
	body, err := diffresult.EncodeJSON(entries, "osmupload")
	require.NoError(t, err)
	s := string(body)
	assert.Contains(t, s, `"generator": "osmupload"`)
	assert.Contains(t, s, `"old_id": 9`)
	assert.NotContains(t, s, `"new_id"`)
}
