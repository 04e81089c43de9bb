package storage

import (
	"context"
	"time"

	"github.com/zerebubuth/openstreetmap-cgimap-sub000/internal/apierror"
	"github.com/zerebubuth/openstreetmap-cgimap-sub000/internal/osm"
)

// AddRelation appends a relation to the create queue (spec.md §4.6.1).
func (sess *Session) AddRelation(oldID osm.SignedObjectID, members []osm.Member, tags osm.Tags) {
	sess.createRelations = append(sess.createRelations, pendingRelation{OldID: oldID, Members: members, Tags: tags})
	sess.Tracker.RecordSequence(osm.OpCreate, osm.TypeRelation, oldID, 0, false)
}

// ModifyRelation appends a relation to the modify queue.
func (sess *Session) ModifyRelation(oldID osm.SignedObjectID, version osm.Version, members []osm.Member, tags osm.Tags) {
	sess.modifyRelations = append(sess.modifyRelations, pendingRelation{OldID: oldID, Version: version, Members: members, Tags: tags})
	sess.Tracker.RecordSequence(osm.OpModify, osm.TypeRelation, oldID, version, false)
}

// DeleteRelation appends a relation to the delete queue.
func (sess *Session) DeleteRelation(oldID osm.SignedObjectID, version osm.Version, ifUnused bool) {
	sess.deleteRelations = append(sess.deleteRelations, pendingDelete{OldID: oldID, Version: version, IfUnused: ifUnused})
	sess.Tracker.RecordSequence(osm.OpDelete, osm.TypeRelation, oldID, version, ifUnused)
}

// ProcessNewRelations flushes the create-relation queue (spec.md §4.6.1).
func (sess *Session) ProcessNewRelations(ctx context.Context) error {
	if len(sess.createRelations) == 0 {
		return nil
	}
	defer func() { sess.createRelations = nil }()

	seen := map[osm.SignedObjectID]bool{}
	for _, r := range sess.createRelations {
		if seen[r.OldID] {
			return apierror.BadRequest("duplicate placeholder relation id %d in create batch", r.OldID)
		}
		seen[r.OldID] = true
	}

	// Forward-reference / self-reference check (§3.6, §4.6.1 step 2): a
	// relation member that is a placeholder must name an earlier entry in
	// this same batch, and never itself.
	introduced := map[osm.SignedObjectID]bool{}
	for _, r := range sess.createRelations {
		for _, m := range r.Members {
			if m.MemberType != osm.TypeRelation || !m.Ref.IsPlaceholder() {
				continue
			}
			if m.Ref == r.OldID {
				return apierror.BadRequest("relation %d: self-reference via member %d is not allowed", r.OldID, m.Ref)
			}
			if !introduced[m.Ref] {
				return apierror.BadRequest("relation %d: forward reference to relation placeholder %d is not allowed", r.OldID, m.Ref)
			}
		}
		introduced[r.OldID] = true
	}

	now := time.Now().UTC()
	for _, r := range sess.createRelations {
		resolved, err := sess.resolveRelationMembers(r.OldID, r.Members)
		if err != nil {
			return err
		}
		if err := sess.shareLockRelationMembers(ctx, r.OldID, resolved, nil); err != nil {
			return err
		}

		res, err := sess.tx.ExecContext(ctx, `INSERT INTO current_relations (changeset_id, visible, ts, version) VALUES (?, TRUE, ?, 1)`, sess.changesetID, now)
		if err != nil {
			return wrapDBError(err, "insert relation (old id %d)", r.OldID)
		}
		newID, err := res.LastInsertId()
		if err != nil {
			return wrapDBError(err, "read new relation id (old id %d)", r.OldID)
		}
		id := osm.ObjectID(newID)

		if err := sess.insertRelationTags(ctx, id, r.Tags); err != nil {
			return err
		}
		if err := sess.insertRelationMembers(ctx, id, resolved); err != nil {
			return err
		}
		if err := sess.copyRelationToHistory(ctx, id, 1, true, now, r.Tags, resolved); err != nil {
			return err
		}

		// Rule A: a newly created relation's bbox is the full transitive
		// (one level deep) bbox of its node/way members (§4.6.4).
		box, err := sess.memberBBox(ctx, resolved)
		if err != nil {
			return err
		}
		sess.Bbox.Union(box)
		sess.Tracker.RecordCreated(osm.TypeRelation, r.OldID, id)
	}
	return nil
}

type resolvedMember struct {
	Type osm.ElementType
	ID   osm.ObjectID
	Role string
	Seq  osm.SequenceID
}

func (sess *Session) resolveRelationMembers(relRef osm.SignedObjectID, members []osm.Member) ([]resolvedMember, error) {
	out := make([]resolvedMember, len(members))
	for i, m := range members {
		id, ok := sess.Tracker.ResolvePlaceholder(m.MemberType, m.Ref)
		if !ok {
			return nil, apierror.BadRequest("Placeholder %s not found for reference %d in relation %d", m.MemberType, m.Ref, relRef)
		}
		out[i] = resolvedMember{Type: m.MemberType, ID: id, Role: m.Role, Seq: m.Seq}
	}
	return out, nil
}

// shareLockRelationMembers locks a relation's members one kind at a time
// (nodes, then ways, then relations), excluding relation ids already
// exclusively locked in excludeRelations — consistent node→way→relation
// ordering across updaters keeps this deadlock-free among themselves
// (spec.md §4.6.6).
func (sess *Session) shareLockRelationMembers(ctx context.Context, relRef osm.SignedObjectID, members []resolvedMember, excludeRelations map[osm.ObjectID]bool) error {
	var nodeIDs, wayIDs, relIDs []osm.ObjectID
	for _, m := range members {
		switch m.Type {
		case osm.TypeNode:
			nodeIDs = append(nodeIDs, m.ID)
		case osm.TypeWay:
			wayIDs = append(wayIDs, m.ID)
		case osm.TypeRelation:
			if !excludeRelations[m.ID] {
				relIDs = append(relIDs, m.ID)
			}
		}
	}

	if len(nodeIDs) > 0 {
		locked, err := sess.shareLockNodes(ctx, nodeIDs)
		if err != nil {
			return err
		}
		if missing := missingIDs(nodeIDs, locked); len(missing) > 0 {
			return apierror.PreconditionFailed("Relation %d requires the nodes with id in %s, which either do not exist, or are not visible.", relRef, formatIDs(missing))
		}
	}
	if len(wayIDs) > 0 {
		locked, err := sess.shareLockWays(ctx, wayIDs)
		if err != nil {
			return err
		}
		if missing := missingIDs(wayIDs, locked); len(missing) > 0 {
			return apierror.PreconditionFailed("Relation %d requires the ways with id in %s, which either do not exist, or are not visible.", relRef, formatIDs(missing))
		}
	}
	if len(relIDs) > 0 {
		locked, err := sess.shareLockRelations(ctx, relIDs)
		if err != nil {
			return err
		}
		if missing := missingIDs(relIDs, locked); len(missing) > 0 {
			return apierror.PreconditionFailed("Relation %d requires the relations with id in %s, which either do not exist, or are not visible.", relRef, formatIDs(missing))
		}
	}
	return nil
}

func (sess *Session) shareLockWays(ctx context.Context, ids []osm.ObjectID) (map[osm.ObjectID]bool, error) {
	out := map[osm.ObjectID]bool{}
	if len(ids) == 0 {
		return out, nil
	}
	rows, err := sess.tx.QueryContext(ctx, `SELECT id FROM current_ways WHERE id IN (`+placeholders(len(ids))+`) AND visible = TRUE FOR SHARE`, toArgs(ids)...)
	if err != nil {
		return nil, wrapDBError(err, "share-lock ways")
	}
	defer rows.Close()
	for rows.Next() {
		var id osm.ObjectID
		if err := rows.Scan(&id); err != nil {
			return nil, wrapDBError(err, "scan share-locked way id")
		}
		out[id] = true
	}
	return out, nil
}

func (sess *Session) shareLockRelations(ctx context.Context, ids []osm.ObjectID) (map[osm.ObjectID]bool, error) {
	out := map[osm.ObjectID]bool{}
	if len(ids) == 0 {
		return out, nil
	}
	rows, err := sess.tx.QueryContext(ctx, `SELECT id FROM current_relations WHERE id IN (`+placeholders(len(ids))+`) AND visible = TRUE FOR SHARE`, toArgs(ids)...)
	if err != nil {
		return nil, wrapDBError(err, "share-lock relations")
	}
	defer rows.Close()
	for rows.Next() {
		var id osm.ObjectID
		if err := rows.Scan(&id); err != nil {
			return nil, wrapDBError(err, "scan share-locked relation id")
		}
		out[id] = true
	}
	return out, nil
}

func (sess *Session) insertRelationTags(ctx context.Context, id osm.ObjectID, tags osm.Tags) error {
	for k, v := range tags {
		if _, err := sess.tx.ExecContext(ctx, `INSERT INTO current_relation_tags (relation_id, k, v) VALUES (?, ?, ?)`, id, k, v); err != nil {
			return wrapDBError(err, "insert tag for relation %d", id)
		}
	}
	return nil
}

func (sess *Session) insertRelationMembers(ctx context.Context, id osm.ObjectID, members []resolvedMember) error {
	for _, m := range members {
		if _, err := sess.tx.ExecContext(ctx, `
			INSERT INTO current_relation_members (relation_id, member_type, member_id, member_role, sequence_id)
			VALUES (?, ?, ?, ?, ?)`, id, m.Type.String(), m.ID, m.Role, m.Seq); err != nil {
			return wrapDBError(err, "insert member for relation %d", id)
		}
	}
	return nil
}

func (sess *Session) copyRelationToHistory(ctx context.Context, id osm.ObjectID, version osm.Version, visible bool, ts time.Time, tags osm.Tags, members []resolvedMember) error {
	_, err := sess.tx.ExecContext(ctx, `INSERT INTO relation_history (id, version, changeset_id, visible, ts) VALUES (?, ?, ?, ?, ?)`,
		id, version, sess.changesetID, visible, ts)
	if err != nil {
		return wrapDBError(err, "insert relation history for %d v%d", id, version)
	}
	for k, v := range tags {
		if _, err := sess.tx.ExecContext(ctx, `INSERT INTO relation_tags_history (relation_id, version, k, v) VALUES (?, ?, ?, ?)`, id, version, k, v); err != nil {
			return wrapDBError(err, "insert tag history for relation %d v%d", id, version)
		}
	}
	for _, m := range members {
		if _, err := sess.tx.ExecContext(ctx, `
			INSERT INTO relation_members_history (relation_id, version, member_type, member_id, member_role, sequence_id)
			VALUES (?, ?, ?, ?, ?, ?)`, id, version, m.Type.String(), m.ID, m.Role, m.Seq); err != nil {
			return wrapDBError(err, "insert member history for relation %d v%d", id, version)
		}
	}
	return nil
}

// memberBBox computes the transitive (one level deep) bbox of a member
// list's node and way members; relation-typed members contribute nothing
// themselves (§4.6.4 Rule A).
func (sess *Session) memberBBox(ctx context.Context, members []resolvedMember) (osm.BBox, error) {
	var nodeIDs []osm.ObjectID
	var wayIDs []osm.ObjectID
	for _, m := range members {
		switch m.Type {
		case osm.TypeNode:
			nodeIDs = append(nodeIDs, m.ID)
		case osm.TypeWay:
			wayIDs = append(wayIDs, m.ID)
		}
	}
	var box osm.BBox
	nb, err := sess.nodeBBoxes(ctx, nodeIDs)
	if err != nil {
		return box, err
	}
	box.Union(nb)
	for _, wayID := range wayIDs {
		wayNodes, err := sess.currentWayNodeIDs(ctx, wayID)
		if err != nil {
			return box, err
		}
		wb, err := sess.nodeBBoxes(ctx, wayNodes)
		if err != nil {
			return box, err
		}
		box.Union(wb)
	}
	return box, nil
}

func (sess *Session) currentRelationMembers(ctx context.Context, relID osm.ObjectID) ([]resolvedMember, error) {
	rows, err := sess.tx.QueryContext(ctx, `
		SELECT member_type, member_id, member_role, sequence_id FROM current_relation_members
		WHERE relation_id = ? ORDER BY sequence_id`, relID)
	if err != nil {
		return nil, wrapDBError(err, "read members for relation %d", relID)
	}
	defer rows.Close()
	var out []resolvedMember
	for rows.Next() {
		var typeStr, role string
		var id osm.ObjectID
		var seq osm.SequenceID
		if err := rows.Scan(&typeStr, &id, &role, &seq); err != nil {
			return nil, wrapDBError(err, "scan member for relation %d", relID)
		}
		mt, _ := osm.ParseElementType(typeStr)
		out = append(out, resolvedMember{Type: mt, ID: id, Role: role, Seq: seq})
	}
	return out, nil
}

// ProcessModifyRelations flushes the modify-relation queue (spec.md §4.6.2).
func (sess *Session) ProcessModifyRelations(ctx context.Context) error {
	if len(sess.modifyRelations) == 0 {
		return nil
	}
	defer func() { sess.modifyRelations = nil }()

	resolved := make([]pendingRelation, 0, len(sess.modifyRelations))
	for _, r := range sess.modifyRelations {
		id, ok := sess.Tracker.ResolvePlaceholder(osm.TypeRelation, r.OldID)
		if !ok {
			return apierror.BadRequest("placeholder relation %d not found", r.OldID)
		}
		r.ID = id
		resolved = append(resolved, r)
	}

	ids := make([]osm.ObjectID, len(resolved))
	for i, r := range resolved {
		ids[i] = r.ID
	}
	if err := sess.lockCurrentRelations(ctx, ids); err != nil {
		return err
	}
	exclusivelyLocked := map[osm.ObjectID]bool{}
	for _, id := range ids {
		exclusivelyLocked[id] = true
	}

	for _, pkg := range splitIntoPackages(resolved, func(r pendingRelation) osm.SignedObjectID { return osm.SignedObjectID(r.ID) }) {
		if err := sess.applyRelationPackage(ctx, pkg, exclusivelyLocked); err != nil {
			return err
		}
	}
	return nil
}

func (sess *Session) applyRelationPackage(ctx context.Context, pkg []pendingRelation, exclusivelyLocked map[osm.ObjectID]bool) error {
	now := time.Now().UTC()
	for _, r := range pkg {
		var currentVersion osm.Version
		var tagsChanged bool
		if err := sess.tx.QueryRowContext(ctx, `SELECT version FROM current_relations WHERE id = ?`, r.ID).Scan(&currentVersion); err != nil {
			return wrapDBError(err, "read current relation %d", r.ID)
		}
		if currentVersion != r.Version {
			return apierror.Conflict("Version mismatch: Provided %d, server had: %d of Relation %d", r.Version, currentVersion, r.ID)
		}

		resolved, err := sess.resolveRelationMembers(osm.SignedObjectID(r.ID), r.Members)
		if err != nil {
			return err
		}
		if err := sess.shareLockRelationMembers(ctx, osm.SignedObjectID(r.ID), resolved, exclusivelyLocked); err != nil {
			return err
		}

		oldMembers, err := sess.currentRelationMembers(ctx, r.ID)
		if err != nil {
			return err
		}
		oldTags, err := sess.currentRelationTags(ctx, r.ID)
		if err != nil {
			return err
		}
		tagsChanged = !tagsEqual(oldTags, r.Tags)

		// Bbox deltas must be computed from both the pre-image and the
		// post-image (§4.6.4): Rule A applies if a new relation member
		// appears or tags change; Rule B covers added/removed node/way
		// members either way.
		if err := sess.accumulateRelationBBoxDelta(ctx, oldMembers, resolved, tagsChanged); err != nil {
			return err
		}

		if _, err := sess.tx.ExecContext(ctx, `DELETE FROM current_relation_tags WHERE relation_id = ?`, r.ID); err != nil {
			return wrapDBError(err, "clear tags for relation %d", r.ID)
		}
		if _, err := sess.tx.ExecContext(ctx, `DELETE FROM current_relation_members WHERE relation_id = ?`, r.ID); err != nil {
			return wrapDBError(err, "clear members for relation %d", r.ID)
		}

		newVersion := currentVersion + 1
		if _, err := sess.tx.ExecContext(ctx, `UPDATE current_relations SET changeset_id = ?, visible = TRUE, ts = ?, version = ? WHERE id = ?`,
			sess.changesetID, now, newVersion, r.ID); err != nil {
			return wrapDBError(err, "update relation %d", r.ID)
		}

		if err := sess.insertRelationTags(ctx, r.ID, r.Tags); err != nil {
			return err
		}
		if err := sess.insertRelationMembers(ctx, r.ID, resolved); err != nil {
			return err
		}
		if err := sess.copyRelationToHistory(ctx, r.ID, newVersion, true, now, r.Tags, resolved); err != nil {
			return err
		}

		sess.Tracker.RecordModified(osm.TypeRelation, r.ID, newVersion)
	}
	return nil
}

// accumulateRelationBBoxDelta implements §4.6.4: Rule A contributes the
// full transitive member bbox when a relation-typed member is newly added
// or tags changed; Rule B always contributes the bbox of added/removed
// node/way members, independent of Rule A.
func (sess *Session) accumulateRelationBBoxDelta(ctx context.Context, oldMembers, newMembers []resolvedMember, tagsChanged bool) error {
	oldHasNewRelMember := false
	oldRelIDs := memberIDSet(oldMembers, osm.TypeRelation)
	for _, m := range newMembers {
		if m.Type == osm.TypeRelation && !oldRelIDs[m.ID] {
			oldHasNewRelMember = true
			break
		}
	}

	if oldHasNewRelMember || tagsChanged {
		oldBox, err := sess.memberBBox(ctx, oldMembers)
		if err != nil {
			return err
		}
		newBox, err := sess.memberBBox(ctx, newMembers)
		if err != nil {
			return err
		}
		sess.Bbox.Union(oldBox)
		sess.Bbox.Union(newBox)
		return nil
	}

	added, removed := diffNodeWayMembers(oldMembers, newMembers)
	addedBox, err := sess.memberBBox(ctx, added)
	if err != nil {
		return err
	}
	removedBox, err := sess.memberBBox(ctx, removed)
	if err != nil {
		return err
	}
	sess.Bbox.Union(addedBox)
	sess.Bbox.Union(removedBox)
	return nil
}

func memberIDSet(members []resolvedMember, t osm.ElementType) map[osm.ObjectID]bool {
	out := map[osm.ObjectID]bool{}
	for _, m := range members {
		if m.Type == t {
			out[m.ID] = true
		}
	}
	return out
}

func diffNodeWayMembers(oldMembers, newMembers []resolvedMember) (added, removed []resolvedMember) {
	oldKey := map[[2]any]bool{}
	for _, m := range oldMembers {
		if m.Type == osm.TypeNode || m.Type == osm.TypeWay {
			oldKey[[2]any{m.Type, m.ID}] = true
		}
	}
	newKey := map[[2]any]bool{}
	for _, m := range newMembers {
		if m.Type == osm.TypeNode || m.Type == osm.TypeWay {
			newKey[[2]any{m.Type, m.ID}] = true
			if !oldKey[[2]any{m.Type, m.ID}] {
				added = append(added, m)
			}
		}
	}
	for _, m := range oldMembers {
		if (m.Type == osm.TypeNode || m.Type == osm.TypeWay) && !newKey[[2]any{m.Type, m.ID}] {
			removed = append(removed, m)
		}
	}
	return added, removed
}

func (sess *Session) currentRelationTags(ctx context.Context, relID osm.ObjectID) (osm.Tags, error) {
	rows, err := sess.tx.QueryContext(ctx, `SELECT k, v FROM current_relation_tags WHERE relation_id = ?`, relID)
	if err != nil {
		return nil, wrapDBError(err, "read tags for relation %d", relID)
	}
	defer rows.Close()
	tags := osm.Tags{}
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return nil, wrapDBError(err, "scan tag for relation %d", relID)
		}
		tags[k] = v
	}
	return tags, nil
}

func tagsEqual(a, b osm.Tags) bool {
	if len(a) != len(b) {
		return false
	}
	for k, v := range a {
		if b[k] != v {
			return false
		}
	}
	return true
}

func (sess *Session) lockCurrentRelations(ctx context.Context, ids []osm.ObjectID) error {
	if len(ids) == 0 {
		return nil
	}
	rows, err := sess.tx.QueryContext(ctx, `SELECT id FROM current_relations WHERE id IN (`+placeholders(len(ids))+`) FOR UPDATE`, toArgs(ids)...)
	if err != nil {
		return wrapDBError(err, "lock current relations")
	}
	defer rows.Close()
	found := map[osm.ObjectID]bool{}
	for rows.Next() {
		var id osm.ObjectID
		if err := rows.Scan(&id); err != nil {
			return wrapDBError(err, "scan locked relation id")
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
		return apierror.NotFound("relation(s) %s do not exist", formatIDs(missing))
	}
	return nil
}

// ProcessDeleteRelations flushes the delete-relation queue (spec.md §4.6.3, §4.6.5).
func (sess *Session) ProcessDeleteRelations(ctx context.Context) error {
	if len(sess.deleteRelations) == 0 {
		return nil
	}
	defer func() { sess.deleteRelations = nil }()

	resolved := make([]pendingDelete, 0, len(sess.deleteRelations))
	for _, d := range sess.deleteRelations {
		id, ok := sess.Tracker.ResolvePlaceholder(osm.TypeRelation, d.OldID)
		if !ok {
			return apierror.BadRequest("placeholder relation %d not found", d.OldID)
		}
		d.ID = id
		resolved = append(resolved, d)
	}
	resolved = dedupePendingDeletes(resolved)

	ids := idsOfDeletes(resolved)
	if err := sess.lockCurrentRelations(ctx, ids); err != nil {
		return err
	}

	type current struct {
		version osm.Version
		visible bool
	}
	currents := map[osm.ObjectID]current{}
	for _, id := range ids {
		var c current
		if err := sess.tx.QueryRowContext(ctx, `SELECT version, visible FROM current_relations WHERE id = ?`, id).Scan(&c.version, &c.visible); err != nil {
			return wrapDBError(err, "read current relation %d", id)
		}
		currents[id] = c
	}

	ifUnusedByID := map[osm.ObjectID]bool{}
	var candidates []pendingDelete
	for _, d := range resolved {
		c := currents[d.ID]
		ifUnusedByID[d.ID] = d.IfUnused
		if !c.visible {
			if !d.IfUnused {
				return apierror.Gone("Relation %d has already been deleted", d.ID)
			}
			sess.Tracker.RecordSkipDeleted(osm.TypeRelation, d.ID, c.version)
			continue
		}
		if c.version != d.Version {
			return apierror.Conflict("Version mismatch: Provided %d, server had: %d of Relation %d", d.Version, c.version, d.ID)
		}
		candidates = append(candidates, d)
	}
	if len(candidates) == 0 {
		return nil
	}

	candidateSet := map[osm.ObjectID]bool{}
	for _, d := range candidates {
		candidateSet[d.ID] = true
	}

	skip, err := sess.stillReferencedRelations(ctx, candidateSet, ifUnusedByID)
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	for _, d := range candidates {
		if skip[d.ID] {
			sess.Tracker.RecordSkipDeleted(osm.TypeRelation, d.ID, currents[d.ID].version)
			continue
		}

		members, err := sess.currentRelationMembers(ctx, d.ID)
		if err != nil {
			return err
		}
		box, err := sess.memberBBox(ctx, members)
		if err != nil {
			return err
		}
		sess.Bbox.Union(box)

		newVersion := currents[d.ID].version + 1
		if _, err := sess.tx.ExecContext(ctx, `DELETE FROM current_relation_tags WHERE relation_id = ?`, d.ID); err != nil {
			return wrapDBError(err, "clear tags for relation %d", d.ID)
		}
		if _, err := sess.tx.ExecContext(ctx, `DELETE FROM current_relation_members WHERE relation_id = ?`, d.ID); err != nil {
			return wrapDBError(err, "clear members for relation %d", d.ID)
		}
		if _, err := sess.tx.ExecContext(ctx, `UPDATE current_relations SET visible = FALSE, version = ?, ts = ? WHERE id = ?`, newVersion, now, d.ID); err != nil {
			return wrapDBError(err, "delete relation %d", d.ID)
		}
		if err := sess.copyRelationToHistory(ctx, d.ID, newVersion, false, now, nil, nil); err != nil {
			return err
		}
		sess.Tracker.RecordDeleted(osm.TypeRelation, d.ID)
	}
	return nil
}

// stillReferencedRelations implements the still-referenced analysis of
// spec.md §4.6.5: it returns the subset of candidateSet that must be
// skipped (salvaged via if-unused) rather than deleted, because an
// external (non-candidate) relation still references it, or it is only
// reachable from such a relation through other candidates.
func (sess *Session) stillReferencedRelations(ctx context.Context, candidateSet map[osm.ObjectID]bool, ifUnusedByID map[osm.ObjectID]bool) (map[osm.ObjectID]bool, error) {
	ids := make([]osm.ObjectID, 0, len(candidateSet))
	for id := range candidateSet {
		ids = append(ids, id)
	}

	// referrers[r] = visible relations outside D that reference r as a member.
	rows, err := sess.tx.QueryContext(ctx, `
		SELECT rm.member_id, rm.relation_id FROM current_relation_members rm
		JOIN current_relations r ON r.id = rm.relation_id AND r.visible = TRUE
		WHERE rm.member_type = 'relation' AND rm.member_id IN (`+placeholders(len(ids))+`)`, toArgs(ids)...)
	if err != nil {
		return nil, wrapDBError(err, "check relation references for relations")
	}
	defer rows.Close()
	externalReferrers := map[osm.ObjectID][]osm.ObjectID{}
	for rows.Next() {
		var memberID, relID osm.ObjectID
		if err := rows.Scan(&memberID, &relID); err != nil {
			return nil, wrapDBError(err, "scan relation reference")
		}
		if !candidateSet[relID] {
			externalReferrers[memberID] = append(externalReferrers[memberID], relID)
		}
	}

	direct := map[osm.ObjectID]bool{}
	for id := range externalReferrers {
		direct[id] = true
	}
	for id := range direct {
		if !ifUnusedByID[id] {
			return nil, apierror.PreconditionFailed("The relation %d is used in relations %s", id, formatIDs(externalReferrers[id]))
		}
	}

	skip := map[osm.ObjectID]bool{}
	for id := range direct {
		skip[id] = true
	}

	// Transitive closure within D: any candidate that is a relation-typed
	// member of something already in skip also gets skipped (if if_unused),
	// or rejected with PreconditionFailed otherwise.
	for {
		grown := false
		for id := range skip {
			children, err := sess.relationChildrenWithin(ctx, id, candidateSet)
			if err != nil {
				return nil, err
			}
			for _, child := range children {
				if skip[child] {
					continue
				}
				if !ifUnusedByID[child] {
					return nil, apierror.PreconditionFailed("The relation %d is used in relation %d", child, id)
				}
				skip[child] = true
				grown = true
			}
		}
		if !grown {
			break
		}
	}
	return skip, nil
}

// relationChildrenWithin returns the candidates in within that id
// references as a relation-typed member (used by the transitive closure of
// §4.6.5): when id is salvaged and stays visible, its relation-typed
// members within the candidate set must be salvaged too, or the kept
// relation would end up pointing at a deleted one.
func (sess *Session) relationChildrenWithin(ctx context.Context, id osm.ObjectID, within map[osm.ObjectID]bool) ([]osm.ObjectID, error) {
	ids := make([]osm.ObjectID, 0, len(within))
	for w := range within {
		ids = append(ids, w)
	}
	if len(ids) == 0 {
		return nil, nil
	}
	rows, err := sess.tx.QueryContext(ctx, `
		SELECT member_id FROM current_relation_members
		WHERE member_type = 'relation' AND relation_id = ? AND member_id IN (`+placeholders(len(ids))+`)`,
		append([]any{id}, toArgs(ids)...)...)
	if err != nil {
		return nil, wrapDBError(err, "find relation members of %d", id)
	}
	defer rows.Close()
	var children []osm.ObjectID
	for rows.Next() {
		var childID osm.ObjectID
		if err := rows.Scan(&childID); err != nil {
			return nil, wrapDBError(err, "scan relation member")
		}
		children = append(children, childID)
	}
	return children, nil
}
