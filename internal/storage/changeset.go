package storage

import (
	"context"
	"database/sql"
	"time"

	"github.com/zerebubuth/openstreetmap-cgimap-sub000/internal/apierror"
	"github.com/zerebubuth/openstreetmap-cgimap-sub000/internal/osm"
)

// changesetRow is the current persisted state of one changeset row (spec.md §3.7).
type changesetRow struct {
	OwnerUserID osm.UserID
	CreatedAt   time.Time
	ClosedAt    time.Time
	NumChanges  int
	Bbox        osm.BBox
}

// LockCurrentChangeset acquires an exclusive row lock (SELECT ... FOR
// UPDATE) on the changeset and validates it is open, owned by uploaderID,
// and (when enforceElementLimit) has headroom under the configured quota
// (spec.md §4.3). The row lock itself is redundant with the changeset's
// GET_LOCK advisory lock acquired in beginUpload, but it additionally
// serializes against api_update_changeset/api_close_changeset callers
// outside the upload core, which only take the row lock.
func (sess *Session) LockCurrentChangeset(ctx context.Context, enforceElementLimit bool) (changesetRow, error) {
	var row changesetRow
	var minLon, minLat, maxLon, maxLat sql.NullInt64

	err := sess.tx.QueryRowContext(ctx, `
		SELECT owner_user_id, created_at, closed_at, num_changes, min_lon, min_lat, max_lon, max_lat
		FROM changesets WHERE id = ? FOR UPDATE`, sess.changesetID).
		Scan(&row.OwnerUserID, &row.CreatedAt, &row.ClosedAt, &row.NumChanges, &minLon, &minLat, &maxLon, &maxLat)
	if err == sql.ErrNoRows {
		return changesetRow{}, apierror.NotFound("changeset %d does not exist", sess.changesetID)
	}
	if err != nil {
		return changesetRow{}, wrapDBError(err, "lock changeset %d", sess.changesetID)
	}
	if minLon.Valid {
		row.Bbox.Expand(minLon.Int64, minLat.Int64)
		row.Bbox.Expand(maxLon.Int64, maxLat.Int64)
	}

	if row.OwnerUserID != sess.uploaderID {
		return changesetRow{}, apierror.Conflict("changeset %d does not belong to user %d", sess.changesetID, sess.uploaderID)
	}
	if !enforceElementLimit {
		return row, nil
	}
	if row.ClosedAt.Before(time.Now()) {
		return changesetRow{}, apierror.Conflict("changeset %d was closed at %s", sess.changesetID, row.ClosedAt.Format(time.RFC3339))
	}
	if row.NumChanges >= sess.limits.MaxChangesetElements {
		return changesetRow{}, apierror.Conflict("changeset %d already has %d changes, at the maximum of %d",
			sess.changesetID, row.NumChanges, sess.limits.MaxChangesetElements)
	}
	return row, nil
}

// UpdateChangeset verifies num_changes+newChanges stays within quota,
// widens the stored bbox by bbox, and extends closed_at when the
// changeset was created recently and due to close soon (spec.md §4.3).
func (sess *Session) UpdateChangeset(ctx context.Context, current changesetRow, newChanges int, bbox osm.BBox) error {
	total := current.NumChanges + newChanges
	if total > sess.limits.MaxChangesetElements {
		return apierror.Conflict("changeset %d would have %d changes, exceeding the maximum of %d",
			sess.changesetID, total, sess.limits.MaxChangesetElements)
	}

	merged := current.Bbox
	merged.Union(bbox)

	closedAt := current.ClosedAt
	if time.Since(current.CreatedAt) <= sess.limits.ChangesetIdleWindow {
		extended := current.CreatedAt.Add(sess.limits.ChangesetMaxOpenDuration)
		if extended.After(closedAt) {
			closedAt = extended
		}
	}

	var minLon, minLat, maxLon, maxLat sql.NullInt64
	if merged.IsSet() {
		minLon = sql.NullInt64{Int64: merged.MinLon, Valid: true}
		minLat = sql.NullInt64{Int64: merged.MinLat, Valid: true}
		maxLon = sql.NullInt64{Int64: merged.MaxLon, Valid: true}
		maxLat = sql.NullInt64{Int64: merged.MaxLat, Valid: true}
	}

	_, err := sess.tx.ExecContext(ctx, `
		UPDATE changesets SET num_changes = ?, closed_at = ?, min_lon = ?, min_lat = ?, max_lon = ?, max_lat = ?
		WHERE id = ?`, total, closedAt, minLon, minLat, maxLon, maxLat, sess.changesetID)
	if err != nil {
		return wrapDBError(err, "update changeset %d", sess.changesetID)
	}
	return nil
}

// GetBBox returns the session's accumulated upload bbox, checked against
// sess.limits.MaxBBoxLinearSize by the transaction boundary on commit
// (spec.md §4.4.5).
func (sess *Session) GetBBox() osm.BBox { return sess.Bbox }
