package osmparser_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zerebubuth/openstreetmap-cgimap-sub000/internal/osm"
	"github.com/zerebubuth/openstreetmap-cgimap-sub000/internal/osmparser"
)

type call struct {
	kind     string
	op       osm.Operation
	ifUnused bool
	node     *osm.Node
	way      *osm.Way
	rel      *osm.Relation
}

type recorder struct {
	calls []call
}

func (r *recorder) StartDocument() error { return nil }
func (r *recorder) ProcessNode(n *osm.Node, op osm.Operation, ifUnused bool) error {
	r.calls = append(r.calls, call{kind: "node", op: op, ifUnused: ifUnused, node: n})
	return nil
}
func (r *recorder) ProcessWay(w *osm.Way, op osm.Operation, ifUnused bool) error {
	r.calls = append(r.calls, call{kind: "way", op: op, ifUnused: ifUnused, way: w})
	return nil
}
func (r *recorder) ProcessRelation(rel *osm.Relation, op osm.Operation, ifUnused bool) error {
	r.calls = append(r.calls, call{kind: "relation", op: op, ifUnused: ifUnused, rel: rel})
	return nil
}
func (r *recorder) EndDocument() error { return nil }

func testLimits() osmparser.Limits {
	return osmparser.Limits{MaxTagsPerElement: 50, MaxWayNodes: 2000, MaxRelationMembers: 32000, TagCodepoints: 255}
}

const xmlDoc = `<?xml version="1.0" encoding="UTF-8"?>
<osmChange version="0.6" generator="test">
  <create>
    <node id="-1" changeset="1" lat="51.5" lon="-0.1">
      <tag k="amenity" v="cafe"/>
    </node>
  </create>
  <modify>
    <way id="7" changeset="1" version="3">
      <nd ref="-1"/>
      <nd ref="8"/>
    </way>
  </modify>
  <delete if-unused="true">
    <relation id="9" changeset="1" version="2"/>
  </delete>
</osmChange>`

func TestParseXMLStreamsEntitiesInOrder(t *testing.T) {
	r := &recorder{}
	err := osmparser.ParseXML([]byte(xmlDoc), testLimits(), r)
	require.NoError(t, err)
	require.Len(t, r.calls, 3)

	assert.Equal(t, "node", r.calls[0].kind)
	assert.Equal(t, osm.OpCreate, r.calls[0].op)
	assert.Equal(t, osm.SignedObjectID(-1), r.calls[0].node.ID)
	assert.Equal(t, "cafe", r.calls[0].node.Tags["amenity"])

	assert.Equal(t, "way", r.calls[1].kind)
	assert.Equal(t, osm.OpModify, r.calls[1].op)
	require.Len(t, r.calls[1].way.Nodes, 2)
	assert.Equal(t, osm.SignedObjectID(-1), r.calls[1].way.Nodes[0])

	assert.Equal(t, "relation", r.calls[2].kind)
	assert.Equal(t, osm.OpDelete, r.calls[2].op)
	assert.True(t, r.calls[2].ifUnused)
}

func TestParseXMLRejectsWrongRoot(t *testing.T) {
	r := &recorder{}
	err := osmparser.ParseXML([]byte(`<notOsmChange/>`), testLimits(), r)
	assert.Error(t, err)
}

func TestParseXMLRejectsBadCoordinate(t *testing.T) {
	doc := `<osmChange version="0.6" generator="t"><create>
      <node id="-1" changeset="1" lat="500" lon="0"/>
    </create></osmChange>`
	r := &recorder{}
	err := osmparser.ParseXML([]byte(doc), testLimits(), r)
	assert.Error(t, err)
}

const jsonDoc = `{
  "version": "0.6",
  "generator": "test",
  "osmChange": [
    {"type": "node", "action": "create", "id": -1, "changeset": 1, "lat": 51.5, "lon": -0.1, "tags": {"amenity": "cafe"}},
    {"type": "way", "action": "modify", "id": 7, "changeset": 1, "version": 3, "nodes": [-1, 8]},
    {"type": "relation", "action": "delete", "id": 9, "changeset": 1, "version": 2, "if-unused": true}
  ]
}`

func TestParseJSONStreamsEntitiesInOrder(t *testing.T) {
	r := &recorder{}
	err := osmparser.ParseJSON([]byte(jsonDoc), testLimits(), r)
	require.NoError(t, err)
	require.Len(t, r.calls, 3)

	assert.Equal(t, osm.OpCreate, r.calls[0].op)
	assert.Equal(t, osm.OpModify, r.calls[1].op)
	assert.Equal(t, osm.OpDelete, r.calls[2].op)
	assert.True(t, r.calls[2].ifUnused)
}

func TestParseJSONRejectsWrongVersion(t *testing.T) {
	r := &recorder{}
	err := osmparser.ParseJSON([]byte(`{"version":"0.5","osmChange":[]}`), testLimits(), r)
	assert.Error(t, err)
}

func TestParseJSONRejectsMembersOnNonRelation(t *testing.T) {
	doc := `{"version":"0.6","osmChange":[
      {"type":"node","action":"create","id":-1,"changeset":1,"lat":0,"lon":0,"members":[]}
    ]}`
	r := &recorder{}
	err := osmparser.ParseJSON([]byte(doc), testLimits(), r)
	assert.Error(t, err)
}

func TestParseJSONRequiresMembersOnRelationCreate(t *testing.T) {
	doc := `{"version":"0.6","osmChange":[
      {"type":"relation","action":"create","id":-1,"changeset":1}
    ]}`
	r := &recorder{}
	err := osmparser.ParseJSON([]byte(doc), testLimits(), r)
	assert.Error(t, err)
}
