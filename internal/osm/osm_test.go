package osm_test

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zerebubuth/openstreetmap-cgimap-sub000/internal/osm"
)

func TestSignedObjectIDIsPlaceholder(t *testing.T) {
	assert.True(t, osm.SignedObjectID(-1).IsPlaceholder())
	assert.False(t, osm.SignedObjectID(1).IsPlaceholder())
	assert.False(t, osm.SignedObjectID(0).IsPlaceholder())
}

func TestParseElementType(t *testing.T) {
	for _, s := range []string{"node", "Node", "NODE"} {
		typ, err := osm.ParseElementType(s)
		require.NoError(t, err)
		assert.Equal(t, osm.TypeNode, typ)
	}
	_, err := osm.ParseElementType("bogus")
	assert.Error(t, err)
}

func TestOperationString(t *testing.T) {
	assert.Equal(t, "create", osm.OpCreate.String())
	assert.Equal(t, "modify", osm.OpModify.String())
	assert.Equal(t, "delete", osm.OpDelete.String())
}

func TestTagsValidate(t *testing.T) {
	tags := osm.Tags{"highway": "residential"}
	assert.NoError(t, tags.Validate(10, 255))

	assert.Error(t, osm.Tags{"": "x"}.Validate(10, 255))
	assert.Error(t, osm.Tags{"k": strings.Repeat("x", 300)}.Validate(10, 255))

	tooMany := osm.Tags{}
	for i := 0; i < 5; i++ {
		tooMany[string(rune('a'+i))] = "v"
	}
	assert.Error(t, tooMany.Validate(2, 255))
}

func TestElementValidateCommon(t *testing.T) {
	e := &osm.Element{ID: 1, Changeset: 1, Version: 0}
	assert.NoError(t, e.ValidateCommon(osm.OpCreate, 10, 255))

	e2 := &osm.Element{ID: 1, Changeset: 1, Version: 1}
	assert.Error(t, e2.ValidateCommon(osm.OpCreate, 10, 255), "create must not carry a version")

	e3 := &osm.Element{ID: 1, Changeset: 1, Version: 0}
	assert.Error(t, e3.ValidateCommon(osm.OpModify, 10, 255), "modify requires version >= 1")

	e4 := &osm.Element{ID: 1, Changeset: 0, Version: 1}
	assert.Error(t, e4.ValidateCommon(osm.OpModify, 10, 255), "changeset id must be positive")

	e5 := &osm.Element{ID: 1, Changeset: 1, Version: 1, VisibleSet: true, Visible: true}
	assert.Error(t, e5.ValidateCommon(osm.OpDelete, 10, 255), "delete must not assert visible=true")
}

func TestNodeValidate(t *testing.T) {
	n := &osm.Node{Element: osm.Element{ID: 1, Changeset: 1}, Lat: 51.5, Lon: -0.1, LatSet: true, LonSet: true}
	assert.NoError(t, n.Validate(osm.OpCreate, 10, 255))

	missing := &osm.Node{Element: osm.Element{ID: 1, Changeset: 1}}
	assert.Error(t, missing.Validate(osm.OpCreate, 10, 255))

	outOfRange := &osm.Node{Element: osm.Element{ID: 1, Changeset: 1}, Lat: 500, Lon: 0, LatSet: true, LonSet: true}
	assert.Error(t, outOfRange.Validate(osm.OpCreate, 10, 255))

	del := &osm.Node{Element: osm.Element{ID: 1, Changeset: 1, Version: 1}}
	assert.NoError(t, del.Validate(osm.OpDelete, 10, 255))
}

func TestTile(t *testing.T) {
	a := osm.Tile(51.5, -0.1)
	b := osm.Tile(51.50001, -0.10001)
	c := osm.Tile(-33.8, 151.2)
	assert.NotEqual(t, a, c)
	assert.InDelta(t, float64(a), float64(b), 1<<20, "nearby points should map to nearby tiles")
}

func TestWayValidate(t *testing.T) {
	w := &osm.Way{Element: osm.Element{ID: 1, Changeset: 1}, Nodes: []osm.SignedObjectID{1, 2, 3}}
	assert.NoError(t, w.Validate(osm.OpCreate, 10, 255, 2000))

	empty := &osm.Way{Element: osm.Element{ID: 1, Changeset: 1}}
	assert.Error(t, empty.Validate(osm.OpCreate, 10, 255, 2000))

	zeroRef := &osm.Way{Element: osm.Element{ID: 1, Changeset: 1}, Nodes: []osm.SignedObjectID{0}}
	assert.Error(t, zeroRef.Validate(osm.OpCreate, 10, 255, 2000))
}

func TestRelationValidate(t *testing.T) {
	r := &osm.Relation{
		Element: osm.Element{ID: 1, Changeset: 1},
		Members: []osm.Member{{MemberType: osm.TypeNode, Ref: 1, Role: "outer"}},
	}
	assert.NoError(t, r.Validate(osm.OpCreate, 10, 255, 32000))

	zeroRef := &osm.Relation{
		Element: osm.Element{ID: 1, Changeset: 1},
		Members: []osm.Member{{MemberType: osm.TypeNode, Ref: 0}},
	}
	assert.Error(t, zeroRef.Validate(osm.OpCreate, 10, 255, 32000))
}

func TestBBoxExpandAndUnion(t *testing.T) {
	var b osm.BBox
	assert.False(t, b.IsSet())
	b.Expand(10, 20)
	b.Expand(30, 5)
	assert.True(t, b.IsSet())
	assert.Equal(t, int64(10), b.MinLon)
	assert.Equal(t, int64(30), b.MaxLon)
	assert.Equal(t, int64(5), b.MinLat)
	assert.Equal(t, int64(20), b.MaxLat)
	assert.Equal(t, int64(20+15), b.LinearSize())

	var other osm.BBox
	other.Expand(100, 100)
	b.Union(other)
	assert.Equal(t, int64(100), b.MaxLon)

	var empty osm.BBox
	b.Union(empty)
	assert.Equal(t, int64(100), b.MaxLon, "union with an unset box is a no-op")
}

func TestBBoxExpandDegrees(t *testing.T) {
	var b osm.BBox
	b.ExpandDegrees(51.5, -0.1, 10000000)
	assert.True(t, b.IsSet())
}
