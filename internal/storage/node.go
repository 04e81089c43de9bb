package storage

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/zerebubuth/openstreetmap-cgimap-sub000/internal/apierror"
	"github.com/zerebubuth/openstreetmap-cgimap-sub000/internal/osm"
)

// AddNode appends a node to the create queue (spec.md §4.4.1, no I/O).
func (sess *Session) AddNode(oldID osm.SignedObjectID, lat, lon float64, tags osm.Tags) {
	sess.createNodes = append(sess.createNodes, pendingNode{OldID: oldID, Lat: lat, Lon: lon, Tags: tags})
	sess.Tracker.RecordSequence(osm.OpCreate, osm.TypeNode, oldID, 0, false)
}

// ModifyNode appends a node to the modify queue.
func (sess *Session) ModifyNode(oldID osm.SignedObjectID, version osm.Version, lat, lon float64, tags osm.Tags) {
	sess.modifyNodes = append(sess.modifyNodes, pendingNode{OldID: oldID, Version: version, Lat: lat, Lon: lon, Tags: tags})
	sess.Tracker.RecordSequence(osm.OpModify, osm.TypeNode, oldID, version, false)
}

// DeleteNode appends a node to the delete queue.
func (sess *Session) DeleteNode(oldID osm.SignedObjectID, version osm.Version, ifUnused bool) {
	sess.deleteNodes = append(sess.deleteNodes, pendingDelete{OldID: oldID, Version: version, IfUnused: ifUnused})
	sess.Tracker.RecordSequence(osm.OpDelete, osm.TypeNode, oldID, version, ifUnused)
}

// ProcessNewNodes flushes the create-node queue (spec.md §4.4.2).
func (sess *Session) ProcessNewNodes(ctx context.Context) error {
	if len(sess.createNodes) == 0 {
		return nil
	}
	defer func() { sess.createNodes = nil }()

	seen := map[osm.SignedObjectID]bool{}
	for _, n := range sess.createNodes {
		if seen[n.OldID] {
			return apierror.BadRequest("duplicate placeholder node id %d in create batch", n.OldID)
		}
		seen[n.OldID] = true
	}

	now := time.Now().UTC()
	for _, n := range sess.createNodes {
		latInt := int64(n.Lat * float64(sess.limits.CoordScale))
		lonInt := int64(n.Lon * float64(sess.limits.CoordScale))
		tile := osm.Tile(n.Lat, n.Lon)

		res, err := sess.tx.ExecContext(ctx, `
			INSERT INTO current_nodes (lat_int, lon_int, changeset_id, visible, ts, tile, version)
			VALUES (?, ?, ?, TRUE, ?, ?, 1)`, latInt, lonInt, sess.changesetID, now, tile)
		if err != nil {
			return wrapDBError(err, "insert node (old id %d)", n.OldID)
		}
		newID, err := res.LastInsertId()
		if err != nil {
			return wrapDBError(err, "read new node id (old id %d)", n.OldID)
		}
		id := osm.ObjectID(newID)

		if err := sess.insertNodeTags(ctx, id, n.Tags); err != nil {
			return err
		}
		if err := sess.copyNodeToHistory(ctx, id, 1, latInt, lonInt, true, now, tile, n.Tags); err != nil {
			return err
		}

		sess.Bbox.ExpandDegrees(n.Lat, n.Lon, sess.limits.CoordScale)
		sess.Tracker.RecordCreated(osm.TypeNode, n.OldID, id)
	}
	return nil
}

func (sess *Session) insertNodeTags(ctx context.Context, id osm.ObjectID, tags osm.Tags) error {
	for k, v := range tags {
		if _, err := sess.tx.ExecContext(ctx, `INSERT INTO current_node_tags (node_id, k, v) VALUES (?, ?, ?)`, id, k, v); err != nil {
			return wrapDBError(err, "insert tag for node %d", id)
		}
	}
	return nil
}

func (sess *Session) copyNodeToHistory(ctx context.Context, id osm.ObjectID, version osm.Version, latInt, lonInt int64, visible bool, ts time.Time, tile uint32, tags osm.Tags) error {
	_, err := sess.tx.ExecContext(ctx, `
		INSERT INTO node_history (id, version, lat_int, lon_int, changeset_id, visible, ts, tile)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`, id, version, latInt, lonInt, sess.changesetID, visible, ts, tile)
	if err != nil {
		return wrapDBError(err, "insert node history for %d v%d", id, version)
	}
	for k, v := range tags {
		if _, err := sess.tx.ExecContext(ctx, `INSERT INTO node_tags_history (node_id, version, k, v) VALUES (?, ?, ?, ?)`, id, version, k, v); err != nil {
			return wrapDBError(err, "insert tag history for node %d v%d", id, version)
		}
	}
	return nil
}

// ProcessModifyNodes flushes the modify-node queue (spec.md §4.4.3).
func (sess *Session) ProcessModifyNodes(ctx context.Context) error {
	if len(sess.modifyNodes) == 0 {
		return nil
	}
	defer func() { sess.modifyNodes = nil }()

	resolved, err := sess.resolveNodeRefs(sess.modifyNodes)
	if err != nil {
		return err
	}

	if err := sess.lockCurrentNodes(ctx, dedupeIDs(idsOfNodes(resolved))); err != nil {
		return err
	}

	for _, pkg := range splitIntoPackages(resolved, func(n pendingNode) osm.SignedObjectID { return osm.SignedObjectID(n.ID) }) {
		if err := sess.applyNodePackage(ctx, pkg); err != nil {
			return err
		}
	}
	return nil
}

func (sess *Session) applyNodePackage(ctx context.Context, pkg []pendingNode) error {
	now := time.Now().UTC()
	for _, n := range pkg {
		var currentVersion osm.Version
		var oldLatInt, oldLonInt int64
		err := sess.tx.QueryRowContext(ctx, `SELECT version, lat_int, lon_int FROM current_nodes WHERE id = ?`, n.ID).
			Scan(&currentVersion, &oldLatInt, &oldLonInt)
		if err != nil {
			return wrapDBError(err, "read current node %d", n.ID)
		}
		if currentVersion != n.Version {
			return apierror.Conflict("Version mismatch: Provided %d, server had: %d of Node %d", n.Version, currentVersion, n.ID)
		}

		sess.Bbox.Expand(oldLonInt, oldLatInt)

		if _, err := sess.tx.ExecContext(ctx, `DELETE FROM current_node_tags WHERE node_id = ?`, n.ID); err != nil {
			return wrapDBError(err, "clear tags for node %d", n.ID)
		}

		newVersion := currentVersion + 1
		latInt := int64(n.Lat * float64(sess.limits.CoordScale))
		lonInt := int64(n.Lon * float64(sess.limits.CoordScale))
		tile := osm.Tile(n.Lat, n.Lon)

		_, err = sess.tx.ExecContext(ctx, `
			UPDATE current_nodes SET lat_int = ?, lon_int = ?, changeset_id = ?, visible = TRUE, ts = ?, tile = ?, version = ?
			WHERE id = ?`, latInt, lonInt, sess.changesetID, now, tile, newVersion, n.ID)
		if err != nil {
			return wrapDBError(err, "update node %d", n.ID)
		}
		if err := sess.insertNodeTags(ctx, n.ID, n.Tags); err != nil {
			return err
		}
		if err := sess.copyNodeToHistory(ctx, n.ID, newVersion, latInt, lonInt, true, now, tile, n.Tags); err != nil {
			return err
		}

		sess.Bbox.ExpandDegrees(n.Lat, n.Lon, sess.limits.CoordScale)
		sess.Tracker.RecordModified(osm.TypeNode, n.ID, newVersion)
	}
	return nil
}

// ProcessDeleteNodes flushes the delete-node queue (spec.md §4.4.4).
func (sess *Session) ProcessDeleteNodes(ctx context.Context) error {
	if len(sess.deleteNodes) == 0 {
		return nil
	}
	defer func() { sess.deleteNodes = nil }()

	resolved, err := sess.resolveDeleteRefs(sess.deleteNodes)
	if err != nil {
		return err
	}
	resolved = dedupePendingDeletes(resolved)

	ids := make([]osm.ObjectID, len(resolved))
	for i, d := range resolved {
		ids[i] = d.ID
	}
	if err := sess.lockCurrentNodes(ctx, ids); err != nil {
		return err
	}

	type current struct {
		version osm.Version
		visible bool
		latInt  int64
		lonInt  int64
	}
	currents := map[osm.ObjectID]current{}
	for _, id := range ids {
		var c current
		err := sess.tx.QueryRowContext(ctx, `SELECT version, visible, lat_int, lon_int FROM current_nodes WHERE id = ?`, id).
			Scan(&c.version, &c.visible, &c.latInt, &c.lonInt)
		if err != nil {
			return wrapDBError(err, "read current node %d", id)
		}
		currents[id] = c
	}

	var active []pendingDelete
	for _, d := range resolved {
		c := currents[d.ID]
		if !c.visible {
			if !d.IfUnused {
				return apierror.Gone("Node %d has already been deleted", d.ID)
			}
			sess.Tracker.RecordSkipDeleted(osm.TypeNode, d.ID, c.version)
			continue
		}
		if c.version != d.Version {
			return apierror.Conflict("Version mismatch: Provided %d, server had: %d of Node %d", d.Version, c.version, d.ID)
		}
		active = append(active, d)
	}

	if len(active) == 0 {
		return nil
	}

	referencedBy, err := sess.nodesStillReferenced(ctx, idsOfDeletes(active))
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	for _, d := range active {
		if refs, ok := referencedBy[d.ID]; ok {
			if !d.IfUnused {
				return apierror.PreconditionFailed("Node %d is still used by %s", d.ID, refs)
			}
			sess.Tracker.RecordSkipDeleted(osm.TypeNode, d.ID, currents[d.ID].version)
			continue
		}

		c := currents[d.ID]
		sess.Bbox.Expand(c.lonInt, c.latInt)
		newVersion := c.version + 1

		if _, err := sess.tx.ExecContext(ctx, `DELETE FROM current_node_tags WHERE node_id = ?`, d.ID); err != nil {
			return wrapDBError(err, "clear tags for node %d", d.ID)
		}
		if _, err := sess.tx.ExecContext(ctx, `UPDATE current_nodes SET visible = FALSE, version = ?, ts = ? WHERE id = ?`, newVersion, now, d.ID); err != nil {
			return wrapDBError(err, "delete node %d", d.ID)
		}
		if err := sess.copyNodeToHistory(ctx, d.ID, newVersion, c.latInt, c.lonInt, false, now, 0, nil); err != nil {
			return err
		}
		sess.Tracker.RecordDeleted(osm.TypeNode, d.ID)
	}
	return nil
}

// nodesStillReferenced reports, for every id in ids that is referenced by a
// visible current way or relation, a human-readable description of the
// referrers (spec.md §4.4.4 step 6).
func (sess *Session) nodesStillReferenced(ctx context.Context, ids []osm.ObjectID) (map[osm.ObjectID]string, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	out := map[osm.ObjectID][]string{}

	wayRows, err := sess.tx.QueryContext(ctx, `
		SELECT wn.node_id, wn.way_id FROM current_way_nodes wn
		JOIN current_ways w ON w.id = wn.way_id AND w.visible = TRUE
		WHERE wn.node_id IN (`+placeholders(len(ids))+`)`, toArgs(ids)...)
	if err != nil {
		return nil, wrapDBError(err, "check way references for nodes")
	}
	defer wayRows.Close()
	wayIDs := map[osm.ObjectID][]osm.ObjectID{}
	for wayRows.Next() {
		var nodeID, wayID osm.ObjectID
		if err := wayRows.Scan(&nodeID, &wayID); err != nil {
			return nil, wrapDBError(err, "scan way reference")
		}
		wayIDs[nodeID] = append(wayIDs[nodeID], wayID)
	}
	for nodeID, ways := range wayIDs {
		out[nodeID] = append(out[nodeID], fmt.Sprintf("ways %s", formatIDs(ways)))
	}

	relRows, err := sess.tx.QueryContext(ctx, `
		SELECT rm.member_id, rm.relation_id FROM current_relation_members rm
		JOIN current_relations r ON r.id = rm.relation_id AND r.visible = TRUE
		WHERE rm.member_type = 'node' AND rm.member_id IN (`+placeholders(len(ids))+`)`, toArgs(ids)...)
	if err != nil {
		return nil, wrapDBError(err, "check relation references for nodes")
	}
	defer relRows.Close()
	relIDs := map[osm.ObjectID][]osm.ObjectID{}
	for relRows.Next() {
		var nodeID, relID osm.ObjectID
		if err := relRows.Scan(&nodeID, &relID); err != nil {
			return nil, wrapDBError(err, "scan relation reference")
		}
		relIDs[nodeID] = append(relIDs[nodeID], relID)
	}
	for nodeID, rels := range relIDs {
		out[nodeID] = append(out[nodeID], fmt.Sprintf("relations %s", formatIDs(rels)))
	}

	formatted := map[osm.ObjectID]string{}
	for id, parts := range out {
		formatted[id] = strings.Join(parts, " / ")
	}
	return formatted, nil
}

func (sess *Session) lockCurrentNodes(ctx context.Context, ids []osm.ObjectID) error {
	if len(ids) == 0 {
		return nil
	}
	rows, err := sess.tx.QueryContext(ctx, `SELECT id FROM current_nodes WHERE id IN (`+placeholders(len(ids))+`) FOR UPDATE`, toArgs(ids)...)
	if err != nil {
		return wrapDBError(err, "lock current nodes")
	}
	defer rows.Close()
	found := map[osm.ObjectID]bool{}
	for rows.Next() {
		var id osm.ObjectID
		if err := rows.Scan(&id); err != nil {
			return wrapDBError(err, "scan locked node id")
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
		return apierror.NotFound("node(s) %s do not exist", formatIDs(missing))
	}
	return nil
}

// shareLockNodes share-locks the visible current nodes among ids and
// returns the set of ids it found; callers compare it with ids and build
// the error naming the requesting way or relation (spec.md §4.5.1 step 4,
// §4.6.1 step 5). Dolt/MySQL's SELECT ... LOCK IN
// SHARE MODE is the share-lock primitive the spec calls for; FOR SHARE is
// its modern alias.
func (sess *Session) shareLockNodes(ctx context.Context, ids []osm.ObjectID) (map[osm.ObjectID]bool, error) {
	out := map[osm.ObjectID]bool{}
	if len(ids) == 0 {
		return out, nil
	}
	rows, err := sess.tx.QueryContext(ctx, `SELECT id FROM current_nodes WHERE id IN (`+placeholders(len(ids))+`) AND visible = TRUE FOR SHARE`, toArgs(ids)...)
	if err != nil {
		return nil, wrapDBError(err, "share-lock nodes")
	}
	defer rows.Close()
	for rows.Next() {
		var id osm.ObjectID
		if err := rows.Scan(&id); err != nil {
			return nil, wrapDBError(err, "scan share-locked node id")
		}
		out[id] = true
	}
	return out, nil
}

func (sess *Session) nodeBBoxes(ctx context.Context, ids []osm.ObjectID) (osm.BBox, error) {
	var box osm.BBox
	if len(ids) == 0 {
		return box, nil
	}
	rows, err := sess.tx.QueryContext(ctx, `SELECT lat_int, lon_int FROM current_nodes WHERE id IN (`+placeholders(len(ids))+`)`, toArgs(ids)...)
	if err != nil {
		return box, wrapDBError(err, "read node coordinates for bbox")
	}
	defer rows.Close()
	for rows.Next() {
		var lat, lon int64
		if err := rows.Scan(&lat, &lon); err != nil {
			return box, wrapDBError(err, "scan node coordinate")
		}
		box.Expand(lon, lat)
	}
	return box, nil
}

func (sess *Session) resolveNodeRefs(items []pendingNode) ([]pendingNode, error) {
	out := make([]pendingNode, len(items))
	for i, n := range items {
		id, ok := sess.Tracker.ResolvePlaceholder(osm.TypeNode, n.OldID)
		if !ok {
			return nil, apierror.BadRequest("placeholder node %d not found", n.OldID)
		}
		n.ID = id
		out[i] = n
	}
	return out, nil
}

func (sess *Session) resolveDeleteRefs(items []pendingDelete) ([]pendingDelete, error) {
	out := make([]pendingDelete, len(items))
	for i, d := range items {
		id, ok := sess.Tracker.ResolvePlaceholder(osm.TypeNode, d.OldID)
		if !ok {
			return nil, apierror.BadRequest("placeholder %d not found", d.OldID)
		}
		d.ID = id
		out[i] = d
	}
	return out, nil
}

// dedupeIDs collapses repeated ids before a lock/existence query; the
// locking and existence checks only need the distinct id set, unlike
// splitIntoPackages which must preserve every repeated occurrence.
func dedupeIDs(ids []osm.ObjectID) []osm.ObjectID {
	seen := map[osm.ObjectID]bool{}
	out := ids[:0:0]
	for _, id := range ids {
		if seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}

func dedupePendingDeletes(items []pendingDelete) []pendingDelete {
	seen := map[osm.ObjectID]bool{}
	out := items[:0:0]
	for _, d := range items {
		if seen[d.ID] {
			continue
		}
		seen[d.ID] = true
		out = append(out, d)
	}
	return out
}

func idsOfNodes(items []pendingNode) []osm.ObjectID {
	ids := make([]osm.ObjectID, len(items))
	for i, n := range items {
		ids[i] = n.ID
	}
	return ids
}

func idsOfDeletes(items []pendingDelete) []osm.ObjectID {
	ids := make([]osm.ObjectID, len(items))
	for i, d := range items {
		ids[i] = d.ID
	}
	return ids
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

func toArgs(ids []osm.ObjectID) []any {
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	return args
}

func formatIDs(ids []osm.ObjectID) string {
	sorted := append([]osm.ObjectID(nil), ids...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	parts := make([]string, len(sorted))
	for i, id := range sorted {
		parts[i] = fmt.Sprintf("%d", id)
	}
	return "{" + strings.Join(parts, ",") + "}"
}
