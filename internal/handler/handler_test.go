package handler_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zerebubuth/openstreetmap-cgimap-sub000/internal/changetracker"
	"github.com/zerebubuth/openstreetmap-cgimap-sub000/internal/handler"
	"github.com/zerebubuth/openstreetmap-cgimap-sub000/internal/osm"
	"github.com/zerebubuth/openstreetmap-cgimap-sub000/internal/storage"
)

func newTestSession() *storage.Session {
	return &storage.Session{Tracker: changetracker.New()}
}

// These tests exercise only the state machine's pure bookkeeping (queueing
// and sequence recording) by never crossing a transition that would flush
// against a real transaction — a non-initial-state flush needs a live
// *sql.Tx, which is out of scope here.

func TestProcessNodeQueuesCreate(t *testing.T) {
	sess := newTestSession()
	h := handler.New(context.Background(), sess, 1)

	n := &osm.Node{Element: osm.Element{ID: -1, Changeset: 1}, Lat: 1, Lon: 2, LatSet: true, LonSet: true}
	require.NoError(t, h.ProcessNode(n, osm.OpCreate, false))

	require.Len(t, sess.Tracker.OrigSequence, 1)
	assert.Equal(t, osm.OpCreate, sess.Tracker.OrigSequence[0].Op)
	assert.Equal(t, osm.TypeNode, sess.Tracker.OrigSequence[0].Type)
	assert.Equal(t, osm.SignedObjectID(-1), sess.Tracker.OrigSequence[0].OrigID)
}

func TestProcessNodeRejectsWrongChangeset(t *testing.T) {
	sess := newTestSession()
	h := handler.New(context.Background(), sess, 1)

	n := &osm.Node{Element: osm.Element{ID: -1, Changeset: 2}, Lat: 1, Lon: 2, LatSet: true, LonSet: true}
	err := h.ProcessNode(n, osm.OpCreate, false)
	assert.Error(t, err)
	assert.Empty(t, sess.Tracker.OrigSequence, "a rejected element must not be queued")
}

func TestProcessWayAndRelationQueueing(t *testing.T) {
	sess := newTestSession()
	h := handler.New(context.Background(), sess, 5)

	w := &osm.Way{Element: osm.Element{ID: -2, Changeset: 5}, Nodes: []osm.SignedObjectID{-1}}
	require.NoError(t, h.ProcessWay(w, osm.OpCreate, false))

	// A fresh handler starts at initial, so the relation delete does not
	// flush the queued way create.
	h2 := handler.New(context.Background(), sess, 5)
	r := &osm.Relation{Element: osm.Element{ID: -3, Changeset: 5}}
	require.NoError(t, h2.ProcessRelation(r, osm.OpDelete, true))

	require.Len(t, sess.Tracker.OrigSequence, 2)
	assert.Equal(t, osm.TypeWay, sess.Tracker.OrigSequence[0].Type)
	assert.Equal(t, osm.TypeRelation, sess.Tracker.OrigSequence[1].Type)
	assert.True(t, sess.Tracker.OrigSequence[1].IfUnused)
}

func TestGetNumChangesAndBBoxDelegateToSession(t *testing.T) {
	sess := newTestSession()
	sess.Tracker.RecordCreated(osm.TypeNode, -1, 100)
	sess.Bbox.Expand(10, 20)

	h := handler.New(context.Background(), sess, 1)
	assert.Equal(t, 1, h.GetNumChanges())
	assert.True(t, h.GetBBox().IsSet())
}
