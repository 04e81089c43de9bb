// Package osmparser converts an osmChange document (XML or JSON) into an
// ordered stream of calls against a shared Callback interface (spec.md §4.1,
// §9 "Parser callback interface"). Both front-ends target the same
// interface so handler tests can drive the engine without parsing.
package osmparser

import "github.com/zerebubuth/openstreetmap-cgimap-sub000/internal/osm"

// Callback receives the parsed, validated entity stream in document order.
// if_unused is only ever true for delete operations.
type Callback interface {
	StartDocument() error
	ProcessNode(n *osm.Node, op osm.Operation, ifUnused bool) error
	ProcessWay(w *osm.Way, op osm.Operation, ifUnused bool) error
	ProcessRelation(r *osm.Relation, op osm.Operation, ifUnused bool) error
	EndDocument() error
}

// Limits is the subset of config.Limits the parser needs to enforce
// value-range invariants as it streams entities (spec.md §3).
type Limits struct {
	MaxTagsPerElement  int
	MaxWayNodes        int
	MaxRelationMembers int
	TagCodepoints      int
}
