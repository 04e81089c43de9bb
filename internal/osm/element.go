package osm

import (
	"time"

	"github.com/zerebubuth/openstreetmap-cgimap-sub000/internal/apierror"
)

// Element holds the attributes common to nodes, ways, and relations (§3.2).
type Element struct {
	ID        SignedObjectID
	Changeset ChangesetID
	Version   Version
	Visible   bool
	// VisibleSet records whether the wire payload carried an explicit
	// visible attribute, needed to enforce "delete must not say visible=true".
	VisibleSet bool
	Tags       Tags
	Timestamp  time.Time
}

// ValidateCommon enforces the ingest invariants shared by every element
// kind, independent of operation-specific node/way/relation checks.
func (e *Element) ValidateCommon(op Operation, maxTags, maxCodepoints int) error {
	if e.Changeset <= 0 {
		return apierror.BadRequest("changeset id must be positive")
	}
	if e.ID == 0 {
		return apierror.BadRequest("element id must not be zero")
	}
	switch op {
	case OpCreate:
		if e.Version != 0 {
			return apierror.BadRequest("create must not supply a version (got %d)", e.Version)
		}
	case OpModify, OpDelete:
		if e.Version < 1 {
			return apierror.BadRequest("%s requires version >= 1", op)
		}
	}
	if op == OpDelete && e.VisibleSet && e.Visible {
		return apierror.BadRequest("delete must not assert visible=true")
	}
	if e.Tags == nil {
		e.Tags = Tags{}
	}
	return e.Tags.Validate(maxTags, maxCodepoints)
}
