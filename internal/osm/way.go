package osm

import "github.com/zerebubuth/openstreetmap-cgimap-sub000/internal/apierror"

// Way is the entity model for an ordered sequence of node references (§3.4).
type Way struct {
	Element
	Nodes []SignedObjectID
}

// Validate enforces way-specific invariants on top of ValidateCommon.
func (w *Way) Validate(op Operation, maxTags, maxCodepoints, maxWayNodes int) error {
	if err := w.ValidateCommon(op, maxTags, maxCodepoints); err != nil {
		return err
	}
	if op == OpDelete {
		return nil
	}
	if len(w.Nodes) < 1 || len(w.Nodes) > maxWayNodes {
		return apierror.BadRequest("way %d: node count %d out of bounds [1,%d]", w.ID, len(w.Nodes), maxWayNodes)
	}
	for _, ref := range w.Nodes {
		if ref == 0 {
			return apierror.BadRequest("way %d: node reference must not be zero", w.ID)
		}
	}
	return nil
}
