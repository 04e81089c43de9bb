package storage

import (
	"context"
	"time"

	"github.com/zerebubuth/openstreetmap-cgimap-sub000/internal/apierror"
	"github.com/zerebubuth/openstreetmap-cgimap-sub000/internal/osm"
)

// AddWay appends a way to the create queue (spec.md §4.4.1 pattern, applied to ways).
func (sess *Session) AddWay(oldID osm.SignedObjectID, nodes []osm.SignedObjectID, tags osm.Tags) {
	sess.createWays = append(sess.createWays, pendingWay{OldID: oldID, Nodes: nodes, Tags: tags})
	sess.Tracker.RecordSequence(osm.OpCreate, osm.TypeWay, oldID, 0, false)
}

// ModifyWay appends a way to the modify queue.
func (sess *Session) ModifyWay(oldID osm.SignedObjectID, version osm.Version, nodes []osm.SignedObjectID, tags osm.Tags) {
	sess.modifyWays = append(sess.modifyWays, pendingWay{OldID: oldID, Version: version, Nodes: nodes, Tags: tags})
	sess.Tracker.RecordSequence(osm.OpModify, osm.TypeWay, oldID, version, false)
}

// DeleteWay appends a way to the delete queue.
func (sess *Session) DeleteWay(oldID osm.SignedObjectID, version osm.Version, ifUnused bool) {
	sess.deleteWays = append(sess.deleteWays, pendingDelete{OldID: oldID, Version: version, IfUnused: ifUnused})
	sess.Tracker.RecordSequence(osm.OpDelete, osm.TypeWay, oldID, version, ifUnused)
}

// ProcessNewWays flushes the create-way queue (spec.md §4.5.1).
func (sess *Session) ProcessNewWays(ctx context.Context) error {
	if len(sess.createWays) == 0 {
		return nil
	}
	defer func() { sess.createWays = nil }()

	seen := map[osm.SignedObjectID]bool{}
	for _, w := range sess.createWays {
		if seen[w.OldID] {
			return apierror.BadRequest("duplicate placeholder way id %d in create batch", w.OldID)
		}
		seen[w.OldID] = true
	}

	now := time.Now().UTC()
	for _, w := range sess.createWays {
		resolvedNodes, err := sess.resolveWayNodes(w.OldID, w.Nodes)
		if err != nil {
			return err
		}

		locked, err := sess.shareLockNodes(ctx, resolvedNodes)
		if err != nil {
			return err
		}
		if missing := missingIDs(resolvedNodes, locked); len(missing) > 0 {
			return apierror.PreconditionFailed("Way %d requires the nodes with id in %s, which either do not exist, or are not visible.", w.OldID, formatIDs(missing))
		}

		res, err := sess.tx.ExecContext(ctx, `INSERT INTO current_ways (changeset_id, visible, ts, version) VALUES (?, TRUE, ?, 1)`, sess.changesetID, now)
		if err != nil {
			return wrapDBError(err, "insert way (old id %d)", w.OldID)
		}
		newID, err := res.LastInsertId()
		if err != nil {
			return wrapDBError(err, "read new way id (old id %d)", w.OldID)
		}
		id := osm.ObjectID(newID)

		if err := sess.insertWayTags(ctx, id, w.Tags); err != nil {
			return err
		}
		if err := sess.insertWayNodes(ctx, id, resolvedNodes); err != nil {
			return err
		}
		if err := sess.copyWayToHistory(ctx, id, 1, true, now, w.Tags, resolvedNodes); err != nil {
			return err
		}

		box, err := sess.nodeBBoxes(ctx, resolvedNodes)
		if err != nil {
			return err
		}
		sess.Bbox.Union(box)
		sess.Tracker.RecordCreated(osm.TypeWay, w.OldID, id)
	}
	return nil
}

func (sess *Session) insertWayTags(ctx context.Context, id osm.ObjectID, tags osm.Tags) error {
	for k, v := range tags {
		if _, err := sess.tx.ExecContext(ctx, `INSERT INTO current_way_tags (way_id, k, v) VALUES (?, ?, ?)`, id, k, v); err != nil {
			return wrapDBError(err, "insert tag for way %d", id)
		}
	}
	return nil
}

func (sess *Session) insertWayNodes(ctx context.Context, id osm.ObjectID, nodes []osm.ObjectID) error {
	for seq, nodeID := range nodes {
		if _, err := sess.tx.ExecContext(ctx, `INSERT INTO current_way_nodes (way_id, node_id, sequence_id) VALUES (?, ?, ?)`, id, nodeID, seq); err != nil {
			return wrapDBError(err, "insert way node for way %d", id)
		}
	}
	return nil
}

func (sess *Session) copyWayToHistory(ctx context.Context, id osm.ObjectID, version osm.Version, visible bool, ts time.Time, tags osm.Tags, nodes []osm.ObjectID) error {
	_, err := sess.tx.ExecContext(ctx, `INSERT INTO way_history (id, version, changeset_id, visible, ts) VALUES (?, ?, ?, ?, ?)`,
		id, version, sess.changesetID, visible, ts)
	if err != nil {
		return wrapDBError(err, "insert way history for %d v%d", id, version)
	}
	for k, v := range tags {
		if _, err := sess.tx.ExecContext(ctx, `INSERT INTO way_tags_history (way_id, version, k, v) VALUES (?, ?, ?, ?)`, id, version, k, v); err != nil {
			return wrapDBError(err, "insert tag history for way %d v%d", id, version)
		}
	}
	for seq, nodeID := range nodes {
		if _, err := sess.tx.ExecContext(ctx, `INSERT INTO way_nodes_history (way_id, version, node_id, sequence_id) VALUES (?, ?, ?, ?)`, id, version, nodeID, seq); err != nil {
			return wrapDBError(err, "insert way node history for %d v%d", id, version)
		}
	}
	return nil
}

// ProcessModifyWays flushes the modify-way queue (spec.md §4.5.3).
func (sess *Session) ProcessModifyWays(ctx context.Context) error {
	if len(sess.modifyWays) == 0 {
		return nil
	}
	defer func() { sess.modifyWays = nil }()

	resolved := make([]pendingWay, 0, len(sess.modifyWays))
	for _, w := range sess.modifyWays {
		id, ok := sess.Tracker.ResolvePlaceholder(osm.TypeWay, w.OldID)
		if !ok {
			return apierror.BadRequest("placeholder way %d not found", w.OldID)
		}
		w.ID = id
		resolved = append(resolved, w)
	}

	ids := make([]osm.ObjectID, len(resolved))
	for i, w := range resolved {
		ids[i] = w.ID
	}
	if err := sess.lockCurrentWays(ctx, ids); err != nil {
		return err
	}

	for _, pkg := range splitIntoPackages(resolved, func(w pendingWay) osm.SignedObjectID { return osm.SignedObjectID(w.ID) }) {
		if err := sess.applyWayPackage(ctx, pkg); err != nil {
			return err
		}
	}
	return nil
}

func (sess *Session) applyWayPackage(ctx context.Context, pkg []pendingWay) error {
	now := time.Now().UTC()
	for _, w := range pkg {
		var currentVersion osm.Version
		if err := sess.tx.QueryRowContext(ctx, `SELECT version FROM current_ways WHERE id = ?`, w.ID).Scan(&currentVersion); err != nil {
			return wrapDBError(err, "read current way %d", w.ID)
		}
		if currentVersion != w.Version {
			return apierror.Conflict("Version mismatch: Provided %d, server had: %d of Way %d", w.Version, currentVersion, w.ID)
		}

		resolvedNodes, err := sess.resolveWayNodes(osm.SignedObjectID(w.ID), w.Nodes)
		if err != nil {
			return err
		}
		locked, err := sess.shareLockNodes(ctx, resolvedNodes)
		if err != nil {
			return err
		}
		if missing := missingIDs(resolvedNodes, locked); len(missing) > 0 {
			return apierror.PreconditionFailed("Way %d requires the nodes with id in %s, which either do not exist, or are not visible.", w.ID, formatIDs(missing))
		}

		oldNodeIDs, err := sess.currentWayNodeIDs(ctx, w.ID)
		if err != nil {
			return err
		}
		oldBox, err := sess.nodeBBoxes(ctx, oldNodeIDs)
		if err != nil {
			return err
		}
		sess.Bbox.Union(oldBox)

		if _, err := sess.tx.ExecContext(ctx, `DELETE FROM current_way_tags WHERE way_id = ?`, w.ID); err != nil {
			return wrapDBError(err, "clear tags for way %d", w.ID)
		}
		if _, err := sess.tx.ExecContext(ctx, `DELETE FROM current_way_nodes WHERE way_id = ?`, w.ID); err != nil {
			return wrapDBError(err, "clear way nodes for way %d", w.ID)
		}

		newVersion := currentVersion + 1
		if _, err := sess.tx.ExecContext(ctx, `UPDATE current_ways SET changeset_id = ?, visible = TRUE, ts = ?, version = ? WHERE id = ?`,
			sess.changesetID, now, newVersion, w.ID); err != nil {
			return wrapDBError(err, "update way %d", w.ID)
		}

		if err := sess.insertWayTags(ctx, w.ID, w.Tags); err != nil {
			return err
		}
		if err := sess.insertWayNodes(ctx, w.ID, resolvedNodes); err != nil {
			return err
		}
		if err := sess.copyWayToHistory(ctx, w.ID, newVersion, true, now, w.Tags, resolvedNodes); err != nil {
			return err
		}

		newBox, err := sess.nodeBBoxes(ctx, resolvedNodes)
		if err != nil {
			return err
		}
		sess.Bbox.Union(newBox)
		sess.Tracker.RecordModified(osm.TypeWay, w.ID, newVersion)
	}
	return nil
}

// ProcessDeleteWays flushes the delete-way queue (spec.md §4.5.4).
func (sess *Session) ProcessDeleteWays(ctx context.Context) error {
	if len(sess.deleteWays) == 0 {
		return nil
	}
	defer func() { sess.deleteWays = nil }()

	resolved := make([]pendingDelete, 0, len(sess.deleteWays))
	for _, d := range sess.deleteWays {
		id, ok := sess.Tracker.ResolvePlaceholder(osm.TypeWay, d.OldID)
		if !ok {
			return apierror.BadRequest("placeholder way %d not found", d.OldID)
		}
		d.ID = id
		resolved = append(resolved, d)
	}
	resolved = dedupePendingDeletes(resolved)

	ids := idsOfDeletes(resolved)
	if err := sess.lockCurrentWays(ctx, ids); err != nil {
		return err
	}

	type current struct {
		version osm.Version
		visible bool
	}
	currents := map[osm.ObjectID]current{}
	for _, id := range ids {
		var c current
		if err := sess.tx.QueryRowContext(ctx, `SELECT version, visible FROM current_ways WHERE id = ?`, id).Scan(&c.version, &c.visible); err != nil {
			return wrapDBError(err, "read current way %d", id)
		}
		currents[id] = c
	}

	var active []pendingDelete
	for _, d := range resolved {
		c := currents[d.ID]
		if !c.visible {
			if !d.IfUnused {
				return apierror.Gone("Way %d has already been deleted", d.ID)
			}
			sess.Tracker.RecordSkipDeleted(osm.TypeWay, d.ID, c.version)
			continue
		}
		if c.version != d.Version {
			return apierror.Conflict("Version mismatch: Provided %d, server had: %d of Way %d", d.Version, c.version, d.ID)
		}
		active = append(active, d)
	}
	if len(active) == 0 {
		return nil
	}

	referencedBy, err := sess.waysStillReferenced(ctx, idsOfDeletes(active))
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	for _, d := range active {
		if refs, ok := referencedBy[d.ID]; ok {
			if !d.IfUnused {
				return apierror.PreconditionFailed("Way %d is still used by relations %s", d.ID, refs)
			}
			sess.Tracker.RecordSkipDeleted(osm.TypeWay, d.ID, currents[d.ID].version)
			continue
		}

		nodeIDs, err := sess.currentWayNodeIDs(ctx, d.ID)
		if err != nil {
			return err
		}
		box, err := sess.nodeBBoxes(ctx, nodeIDs)
		if err != nil {
			return err
		}
		sess.Bbox.Union(box)

		newVersion := currents[d.ID].version + 1
		if _, err := sess.tx.ExecContext(ctx, `DELETE FROM current_way_tags WHERE way_id = ?`, d.ID); err != nil {
			return wrapDBError(err, "clear tags for way %d", d.ID)
		}
		if _, err := sess.tx.ExecContext(ctx, `DELETE FROM current_way_nodes WHERE way_id = ?`, d.ID); err != nil {
			return wrapDBError(err, "clear way nodes for way %d", d.ID)
		}
		if _, err := sess.tx.ExecContext(ctx, `UPDATE current_ways SET visible = FALSE, version = ?, ts = ? WHERE id = ?`, newVersion, now, d.ID); err != nil {
			return wrapDBError(err, "delete way %d", d.ID)
		}
		if err := sess.copyWayToHistory(ctx, d.ID, newVersion, false, now, nil, nil); err != nil {
			return err
		}
		sess.Tracker.RecordDeleted(osm.TypeWay, d.ID)
	}
	return nil
}

func (sess *Session) waysStillReferenced(ctx context.Context, ids []osm.ObjectID) (map[osm.ObjectID]string, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	rows, err := sess.tx.QueryContext(ctx, `
		SELECT rm.member_id, rm.relation_id FROM current_relation_members rm
		JOIN current_relations r ON r.id = rm.relation_id AND r.visible = TRUE
		WHERE rm.member_type = 'way' AND rm.member_id IN (`+placeholders(len(ids))+`)`, toArgs(ids)...)
	if err != nil {
		return nil, wrapDBError(err, "check relation references for ways")
	}
	defer rows.Close()
	relIDs := map[osm.ObjectID][]osm.ObjectID{}
	for rows.Next() {
		var wayID, relID osm.ObjectID
		if err := rows.Scan(&wayID, &relID); err != nil {
			return nil, wrapDBError(err, "scan relation reference")
		}
		relIDs[wayID] = append(relIDs[wayID], relID)
	}
	out := map[osm.ObjectID]string{}
	for wayID, rels := range relIDs {
		out[wayID] = formatIDs(rels)
	}
	return out, nil
}

func (sess *Session) lockCurrentWays(ctx context.Context, ids []osm.ObjectID) error {
	if len(ids) == 0 {
		return nil
	}
	rows, err := sess.tx.QueryContext(ctx, `SELECT id FROM current_ways WHERE id IN (`+placeholders(len(ids))+`) FOR UPDATE`, toArgs(ids)...)
	if err != nil {
		return wrapDBError(err, "lock current ways")
	}
	defer rows.Close()
	found := map[osm.ObjectID]bool{}
	for rows.Next() {
		var id osm.ObjectID
		if err := rows.Scan(&id); err != nil {
			return wrapDBError(err, "scan locked way id")
		}
		found[id] = true
	}
	var missing []osm.ObjectID
	for _, id := range ids {
		if !found[id] {
			missing = append(missing, id)
		}
	}
	if len(missing) > 0 {
		return apierror.NotFound("way(s) %s do not exist", formatIDs(missing))
	}
	return nil
}

func (sess *Session) currentWayNodeIDs(ctx context.Context, wayID osm.ObjectID) ([]osm.ObjectID, error) {
	rows, err := sess.tx.QueryContext(ctx, `SELECT node_id FROM current_way_nodes WHERE way_id = ? ORDER BY sequence_id`, wayID)
	if err != nil {
		return nil, wrapDBError(err, "read way nodes for way %d", wayID)
	}
	defer rows.Close()
	var ids []osm.ObjectID
	for rows.Next() {
		var id osm.ObjectID
		if err := rows.Scan(&id); err != nil {
			return nil, wrapDBError(err, "scan way node id")
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func (sess *Session) resolveWayNodes(wayRef osm.SignedObjectID, refs []osm.SignedObjectID) ([]osm.ObjectID, error) {
	out := make([]osm.ObjectID, len(refs))
	for i, ref := range refs {
		id, ok := sess.Tracker.ResolvePlaceholder(osm.TypeNode, ref)
		if !ok {
			return nil, apierror.BadRequest("Placeholder node not found for reference %d in way %d", ref, wayRef)
		}
		out[i] = id
	}
	return out, nil
}

func missingIDs(want []osm.ObjectID, have map[osm.ObjectID]bool) []osm.ObjectID {
	var missing []osm.ObjectID
	seen := map[osm.ObjectID]bool{}
	for _, id := range want {
		if seen[id] {
			continue
		}
		seen[id] = true
		if !have[id] {
			missing = append(missing, id)
		}
	}
	return missing
}
