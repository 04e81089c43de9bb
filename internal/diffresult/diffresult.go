// Package diffresult reconstructs the client's original entity order for
// the upload response, per spec.md §4.7.
package diffresult

import (
	"github.com/zerebubuth/openstreetmap-cgimap-sub000/internal/apierror"
	"github.com/zerebubuth/openstreetmap-cgimap-sub000/internal/changetracker"
	"github.com/zerebubuth/openstreetmap-cgimap-sub000/internal/osm"
)

// Entry is one line of the diffResult document, in the client's original order.
type Entry struct {
	Op              osm.Operation
	Type            osm.ElementType
	OldID           osm.SignedObjectID
	NewID           osm.ObjectID
	HasNewID        bool
	NewVersion      osm.Version
	HasNewVersion   bool
	DeletionSkipped bool
}

type modifyKey struct {
	oldID      osm.SignedObjectID
	newVersion osm.Version
}

// Assemble walks tracker.OrigSequence and emits one Entry per input
// entity, in document order. An entity missing from every tracker map is
// an internal invariant violation (§4.7 step 5), promoted to KindInternal
// here so the caller (the upload handler) surfaces it as an HTTP 500.
func Assemble(t *changetracker.Tracker) ([]Entry, error) {
	createdByOld := map[osm.ElementType]map[osm.SignedObjectID]changetracker.Mapping{}
	modifiedByKey := map[osm.ElementType]map[modifyKey]changetracker.Mapping{}
	deletedByOld := map[osm.ElementType]map[osm.SignedObjectID]changetracker.Mapping{}
	skipDeletedByOld := map[osm.ElementType]map[osm.SignedObjectID]changetracker.Mapping{}

	for _, et := range []osm.ElementType{osm.TypeNode, osm.TypeWay, osm.TypeRelation} {
		createdByOld[et] = index(t.CreatedIDs(et))
		deletedByOld[et] = index(t.DeletedIDs(et))
		skipDeletedByOld[et] = index(t.SkipDeletedIDs(et))

		mk := map[modifyKey]changetracker.Mapping{}
		for _, m := range t.ModifiedIDs(et) {
			mk[modifyKey{oldID: m.OldID, newVersion: m.NewVersion}] = m
		}
		modifiedByKey[et] = mk
	}

	out := make([]Entry, 0, len(t.OrigSequence))
	for _, seq := range t.OrigSequence {
		switch seq.Op {
		case osm.OpCreate:
			m, ok := createdByOld[seq.Type][seq.OrigID]
			if !ok {
				return nil, invariantBroken(seq)
			}
			out = append(out, Entry{Op: seq.Op, Type: seq.Type, OldID: seq.OrigID, NewID: m.NewID, HasNewID: true, NewVersion: m.NewVersion, HasNewVersion: true})

		case osm.OpModify:
			m, ok := modifiedByKey[seq.Type][modifyKey{oldID: seq.OrigID, newVersion: seq.OrigVersion + 1}]
			if !ok {
				return nil, invariantBroken(seq)
			}
			out = append(out, Entry{Op: seq.Op, Type: seq.Type, OldID: seq.OrigID, NewID: m.NewID, HasNewID: true, NewVersion: m.NewVersion, HasNewVersion: true})

		case osm.OpDelete:
			if m, ok := skipDeletedByOld[seq.Type][seq.OrigID]; ok {
				out = append(out, Entry{Op: seq.Op, Type: seq.Type, OldID: seq.OrigID, NewID: m.NewID, HasNewID: true, NewVersion: m.NewVersion, HasNewVersion: true, DeletionSkipped: true})
				continue
			}
			if _, ok := deletedByOld[seq.Type][seq.OrigID]; ok {
				out = append(out, Entry{Op: seq.Op, Type: seq.Type, OldID: seq.OrigID})
				continue
			}
			return nil, invariantBroken(seq)
		}
	}
	return out, nil
}

func index(ms []changetracker.Mapping) map[osm.SignedObjectID]changetracker.Mapping {
	out := make(map[osm.SignedObjectID]changetracker.Mapping, len(ms))
	for _, m := range ms {
		out[m.OldID] = m
	}
	return out
}

func invariantBroken(seq changetracker.SequenceEntry) error {
	return apierror.Internal(
		"entity %s %s id=%d version=%d missing from every tracker map after commit",
		seq.Op, seq.Type, seq.OrigID, seq.OrigVersion,
	)
}
