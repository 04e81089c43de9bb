package osm

import (
	"unicode/utf8"

	"github.com/zerebubuth/openstreetmap-cgimap-sub000/internal/apierror"
)

// Member is one entry of a relation's member list (§3.5).
type Member struct {
	MemberType ElementType
	Ref        SignedObjectID
	Role       string
	Seq        SequenceID
}

// Relation is the entity model for a typed, ordered, heterogeneous member list (§3.5).
type Relation struct {
	Element
	Members []Member
}

// Validate enforces relation-specific invariants on top of ValidateCommon.
func (r *Relation) Validate(op Operation, maxTags, maxCodepoints, maxMembers int) error {
	if err := r.ValidateCommon(op, maxTags, maxCodepoints); err != nil {
		return err
	}
	if op == OpDelete {
		return nil
	}
	if len(r.Members) > maxMembers {
		return apierror.BadRequest("relation %d: member count %d exceeds limit %d", r.ID, len(r.Members), maxMembers)
	}
	for i, m := range r.Members {
		if m.Ref == 0 {
			return apierror.BadRequest("relation %d: member %d has zero ref", r.ID, i)
		}
		if utf8.RuneCountInString(m.Role) > maxCodepoints {
			return apierror.BadRequest("relation %d: member %d role exceeds %d codepoints", r.ID, i, maxCodepoints)
		}
	}
	return nil
}
