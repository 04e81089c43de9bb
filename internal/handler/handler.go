// Package handler implements the operation/type state machine that
// batches a parsed osmChange document into per-(operation, type) flushes
// against the storage updaters (spec.md §4.2). It is the osmparser.Callback
// implementation the transaction boundary wires the parser into.
package handler

import (
	"context"

	"github.com/zerebubuth/openstreetmap-cgimap-sub000/internal/apierror"
	"github.com/zerebubuth/openstreetmap-cgimap-sub000/internal/osm"
	"github.com/zerebubuth/openstreetmap-cgimap-sub000/internal/storage"
)

type state int

const (
	stateInitial state = iota
	stateCreateNode
	stateCreateWay
	stateCreateRelation
	stateModify
	stateDeleteNode
	stateDeleteWay
	stateDeleteRelation
	stateFinished
)

// Handler is the osmparser.Callback driving one upload's session through
// the state machine. The parser callback interface carries no context
// parameter, so the request context is captured at construction — valid
// because one Handler ever serves exactly one upload request.
type Handler struct {
	ctx         context.Context
	sess        *storage.Session
	changesetID osm.ChangesetID
	current     state
}

// New returns a Handler bound to sess for the duration of one upload
// against changesetID.
func New(ctx context.Context, sess *storage.Session, changesetID osm.ChangesetID) *Handler {
	return &Handler{ctx: ctx, sess: sess, changesetID: changesetID, current: stateInitial}
}

// StartDocument begins the upload; the state machine starts at initial
// and the first entity determines the first transition.
func (h *Handler) StartDocument() error { return nil }

func targetState(op osm.Operation, t osm.ElementType) state {
	switch op {
	case osm.OpCreate:
		switch t {
		case osm.TypeNode:
			return stateCreateNode
		case osm.TypeWay:
			return stateCreateWay
		default:
			return stateCreateRelation
		}
	case osm.OpModify:
		return stateModify
	default: // osm.OpDelete
		switch t {
		case osm.TypeNode:
			return stateDeleteNode
		case osm.TypeWay:
			return stateDeleteWay
		default:
			return stateDeleteRelation
		}
	}
}

// transition flushes the batch belonging to h.current if next differs from
// it, then updates h.current, per spec.md §4.2's flush-on-leaving rule.
func (h *Handler) transition(next state) error {
	if next == h.current {
		return nil
	}
	if err := h.flush(h.current); err != nil {
		return err
	}
	h.current = next
	return nil
}

func (h *Handler) flush(s state) error {
	switch s {
	case stateInitial, stateFinished:
		return nil
	case stateCreateNode:
		return h.sess.ProcessNewNodes(h.ctx)
	case stateCreateWay:
		return h.sess.ProcessNewWays(h.ctx)
	case stateCreateRelation:
		return h.sess.ProcessNewRelations(h.ctx)
	case stateModify:
		// node → way → relation: member updates may reference entities
		// whose placeholder maps were only populated by the preceding
		// create flushes (spec.md §4.2).
		if err := h.sess.ProcessModifyNodes(h.ctx); err != nil {
			return err
		}
		if err := h.sess.ProcessModifyWays(h.ctx); err != nil {
			return err
		}
		return h.sess.ProcessModifyRelations(h.ctx)
	case stateDeleteNode:
		return h.sess.ProcessDeleteNodes(h.ctx)
	case stateDeleteWay:
		return h.sess.ProcessDeleteWays(h.ctx)
	case stateDeleteRelation:
		return h.sess.ProcessDeleteRelations(h.ctx)
	}
	return nil
}

func (h *Handler) checkChangeset(cs osm.ChangesetID) error {
	if cs != h.changesetID {
		return apierror.Conflict("element references changeset %d, upload is against changeset %d", cs, h.changesetID)
	}
	return nil
}

// ProcessNode handles one parsed node in document order (spec.md §4.2).
func (h *Handler) ProcessNode(n *osm.Node, op osm.Operation, ifUnused bool) error {
	if err := h.checkChangeset(n.Changeset); err != nil {
		return err
	}
	if err := h.transition(targetState(op, osm.TypeNode)); err != nil {
		return err
	}
	switch op {
	case osm.OpCreate:
		h.sess.AddNode(n.ID, n.Lat, n.Lon, n.Tags)
	case osm.OpModify:
		h.sess.ModifyNode(n.ID, n.Version, n.Lat, n.Lon, n.Tags)
	case osm.OpDelete:
		h.sess.DeleteNode(n.ID, n.Version, ifUnused)
	}
	return nil
}

// ProcessWay handles one parsed way in document order.
func (h *Handler) ProcessWay(w *osm.Way, op osm.Operation, ifUnused bool) error {
	if err := h.checkChangeset(w.Changeset); err != nil {
		return err
	}
	if err := h.transition(targetState(op, osm.TypeWay)); err != nil {
		return err
	}
	switch op {
	case osm.OpCreate:
		h.sess.AddWay(w.ID, w.Nodes, w.Tags)
	case osm.OpModify:
		h.sess.ModifyWay(w.ID, w.Version, w.Nodes, w.Tags)
	case osm.OpDelete:
		h.sess.DeleteWay(w.ID, w.Version, ifUnused)
	}
	return nil
}

// ProcessRelation handles one parsed relation in document order.
func (h *Handler) ProcessRelation(r *osm.Relation, op osm.Operation, ifUnused bool) error {
	if err := h.checkChangeset(r.Changeset); err != nil {
		return err
	}
	if err := h.transition(targetState(op, osm.TypeRelation)); err != nil {
		return err
	}
	switch op {
	case osm.OpCreate:
		h.sess.AddRelation(r.ID, r.Members, r.Tags)
	case osm.OpModify:
		h.sess.ModifyRelation(r.ID, r.Version, r.Members, r.Tags)
	case osm.OpDelete:
		h.sess.DeleteRelation(r.ID, r.Version, ifUnused)
	}
	return nil
}

// EndDocument flushes the final batch and marks the handler finished
// (spec.md §4.2).
func (h *Handler) EndDocument() error {
	if err := h.flush(h.current); err != nil {
		return err
	}
	h.current = stateFinished
	return nil
}

// GetNumChanges returns the sum of every updater's change counter,
// consulted by the changeset updater after all flushes (spec.md §4.2).
func (h *Handler) GetNumChanges() int { return h.sess.Tracker.NumChanges() }

// GetBBox returns the union of every updater's bounding box.
func (h *Handler) GetBBox() osm.BBox { return h.sess.GetBBox() }
