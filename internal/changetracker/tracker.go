// Package changetracker records everything the diffResult assembler needs
// to reconstruct the client's original entity order after commit, and
// everything the way/relation updaters need to resolve placeholders
// introduced earlier in the same document (spec.md §3.6, §3.9).
package changetracker

import "github.com/zerebubuth/openstreetmap-cgimap-sub000/internal/osm"

// SequenceEntry is one parsed entity, recorded in document order. It is
// the sole source of truth for diffResult ordering (§3.9).
type SequenceEntry struct {
	Op          osm.Operation
	Type        osm.ElementType
	OrigID      osm.SignedObjectID
	OrigVersion osm.Version
	IfUnused    bool
}

// Mapping records how one old (client-supplied) id maps onto the new
// persisted id and version after a create or modify.
type Mapping struct {
	OldID      osm.SignedObjectID
	NewID      osm.ObjectID
	NewVersion osm.Version
}

// perType holds the per-operation vectors for a single element kind.
type perType struct {
	created      []Mapping
	modified     []Mapping
	deleted      []Mapping
	skipDeleted  []Mapping
}

// Tracker is the ChangeTracker of spec.md §3.9: created, modified, deleted
// and skip-deleted vectors per element kind plus the document-order
// sequence, all single-writer within one upload.
type Tracker struct {
	nodes     perType
	ways      perType
	relations perType

	OrigSequence []SequenceEntry
}

// New returns an empty Tracker.
func New() *Tracker { return &Tracker{} }

func (t *Tracker) byType(et osm.ElementType) *perType {
	switch et {
	case osm.TypeNode:
		return &t.nodes
	case osm.TypeWay:
		return &t.ways
	default:
		return &t.relations
	}
}

// RecordSequence appends one parsed entity to orig_sequence (§3.9). Call
// this for every entity the parser hands to the handler, regardless of
// whether it is later batched, deduplicated into a package, or skipped.
func (t *Tracker) RecordSequence(op osm.Operation, et osm.ElementType, origID osm.SignedObjectID, origVersion osm.Version, ifUnused bool) {
	t.OrigSequence = append(t.OrigSequence, SequenceEntry{
		Op: op, Type: et, OrigID: origID, OrigVersion: origVersion, IfUnused: ifUnused,
	})
}

// RecordCreated records a successful create: new_version is always 1 (§3.6).
func (t *Tracker) RecordCreated(et osm.ElementType, oldID osm.SignedObjectID, newID osm.ObjectID) {
	p := t.byType(et)
	p.created = append(p.created, Mapping{OldID: oldID, NewID: newID, NewVersion: 1})
}

// RecordModified records a successful modify.
func (t *Tracker) RecordModified(et osm.ElementType, id osm.ObjectID, newVersion osm.Version) {
	p := t.byType(et)
	p.modified = append(p.modified, Mapping{OldID: osm.SignedObjectID(id), NewID: id, NewVersion: newVersion})
}

// RecordDeleted records a successful delete (old id only; no new id/version).
func (t *Tracker) RecordDeleted(et osm.ElementType, id osm.ObjectID) {
	p := t.byType(et)
	p.deleted = append(p.deleted, Mapping{OldID: osm.SignedObjectID(id), NewID: id})
}

// RecordSkipDeleted records an if-unused delete that was salvaged instead
// of performed, reporting the element's current id/version unchanged.
func (t *Tracker) RecordSkipDeleted(et osm.ElementType, id osm.ObjectID, currentVersion osm.Version) {
	p := t.byType(et)
	p.skipDeleted = append(p.skipDeleted, Mapping{OldID: osm.SignedObjectID(id), NewID: id, NewVersion: currentVersion})
}

// ResolvePlaceholder resolves a negative placeholder reference against the
// created-ids map for et, established by an earlier create flush in the
// same upload (§3.6). Returns (id, true) when ref is a non-placeholder
// (already-resolved) positive id, or the mapped id when ref is a known
// placeholder. Returns (0, false) for an unknown placeholder.
func (t *Tracker) ResolvePlaceholder(et osm.ElementType, ref osm.SignedObjectID) (osm.ObjectID, bool) {
	if !ref.IsPlaceholder() {
		return osm.ObjectID(ref), true
	}
	for _, m := range t.byType(et).created {
		if m.OldID == ref {
			return m.NewID, true
		}
	}
	return 0, false
}

// HasPlaceholder reports whether ref (a placeholder) was introduced by an
// earlier create of kind et in this document, without resolving it. Used
// by the relation updater's forward-reference check (§3.6, §4.6.1).
func (t *Tracker) HasPlaceholder(et osm.ElementType, ref osm.SignedObjectID) bool {
	_, ok := t.ResolvePlaceholder(et, ref)
	return ok
}

// CreatedIDs returns the created mappings for et, in creation order.
func (t *Tracker) CreatedIDs(et osm.ElementType) []Mapping { return t.byType(et).created }

// ModifiedIDs returns the modified mappings for et.
func (t *Tracker) ModifiedIDs(et osm.ElementType) []Mapping { return t.byType(et).modified }

// DeletedIDs returns the deleted mappings for et.
func (t *Tracker) DeletedIDs(et osm.ElementType) []Mapping { return t.byType(et).deleted }

// SkipDeletedIDs returns the skip-deleted mappings for et.
func (t *Tracker) SkipDeletedIDs(et osm.ElementType) []Mapping { return t.byType(et).skipDeleted }

// NumChanges returns the total count of created+modified+deleted elements
// across all kinds, the quantity the changeset updater checks against its
// quota (§3.7, §4.2 "get_num_changes").
func (t *Tracker) NumChanges() int {
	n := 0
	for _, p := range []perType{t.nodes, t.ways, t.relations} {
		n += len(p.created) + len(p.modified) + len(p.deleted)
	}
	return n
}
