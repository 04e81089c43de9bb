package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/zerebubuth/openstreetmap-cgimap-sub000/internal/apierror"
	"github.com/zerebubuth/openstreetmap-cgimap-sub000/internal/changetracker"
	"github.com/zerebubuth/openstreetmap-cgimap-sub000/internal/config"
	"github.com/zerebubuth/openstreetmap-cgimap-sub000/internal/osm"
)

// maxUploadRetries bounds how many times a whole upload attempt (lock +
// transaction + body) is redone after a transient storage-engine
// serialization conflict. Business-level version conflicts are never
// retried here — they surface to the caller as apierror.Conflict and the
// client must resubmit (spec.md §4.8).
const maxUploadRetries = 4

// Session is the scoped resource of one changeset upload: a single
// connection, a single transaction, and the changeset's advisory lock, all
// released together on Commit or Rollback. Every node/way/relation/
// changeset updater operates through a Session (spec.md §4.8).
type Session struct {
	store       *Store
	conn        *sql.Conn
	tx          *sql.Tx
	changesetID osm.ChangesetID
	lockName    string
	limits      config.Limits
	uploaderID  osm.UserID
	span        trace.Span

	// Tracker is the ChangeTracker of spec.md §3.9, shared by every
	// updater and the diffResult assembler.
	Tracker *changetracker.Tracker
	// Bbox accumulates every coordinate touched during the upload
	// (spec.md §4.4.5), checked against limits.MaxBBoxLinearSize on commit.
	Bbox osm.BBox

	createNodes []pendingNode
	modifyNodes []pendingNode
	deleteNodes []pendingDelete

	createWays []pendingWay
	modifyWays []pendingWay
	deleteWays []pendingDelete

	createRelations []pendingRelation
	modifyRelations []pendingRelation
	deleteRelations []pendingDelete
}

type pendingNode struct {
	OldID   osm.SignedObjectID
	ID      osm.ObjectID
	Version osm.Version
	Lat     float64
	Lon     float64
	Tags    osm.Tags
}

type pendingWay struct {
	OldID   osm.SignedObjectID
	ID      osm.ObjectID
	Version osm.Version
	Nodes   []osm.SignedObjectID
	Tags    osm.Tags
}

type pendingRelation struct {
	OldID   osm.SignedObjectID
	ID      osm.ObjectID
	Version osm.Version
	Members []osm.Member
	Tags    osm.Tags
}

type pendingDelete struct {
	OldID    osm.SignedObjectID
	ID       osm.ObjectID
	Version  osm.Version
	IfUnused bool
}

// RunUpload acquires changesetID's advisory lock, opens a transaction, runs
// fn, and commits — retrying the entire attempt on a transient engine
// serialization conflict, including one raised by a statement inside fn.
// Every other error from fn (including apierror.Conflict from the
// business-level checks inside the updaters) is never retried. Any error
// from fn rolls back.
func (s *Store) RunUpload(ctx context.Context, changesetID osm.ChangesetID, uploaderID osm.UserID, limits config.Limits, fn func(ctx context.Context, sess *Session) error) error {
	bo := backoff.WithMaxRetries(backoff.NewExponentialBackOff(), maxUploadRetries)

	return backoff.Retry(func() error {
		err := s.runUploadOnce(ctx, changesetID, uploaderID, limits, fn)
		if err != nil && !isSerializationError(err) {
			return backoff.Permanent(err)
		}
		return err
	}, backoff.WithContext(bo, ctx))
}

func (s *Store) runUploadOnce(ctx context.Context, changesetID osm.ChangesetID, uploaderID osm.UserID, limits config.Limits, fn func(ctx context.Context, sess *Session) error) (err error) {
	ctx, span := s.tracer.Start(ctx, "storage.RunUpload")
	defer span.End()

	sess, err := s.beginUpload(ctx, changesetID, uploaderID, limits, span)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}

	defer func() {
		if r := recover(); r != nil {
			sess.rollback(ctx)
			panic(r)
		}
	}()

	if err := fn(ctx, sess); err != nil {
		sess.rollback(ctx)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}

	if err := sess.commit(ctx); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	return nil
}

// beginUpload acquires changesetID's named advisory lock (GET_LOCK) and
// opens a transaction on the same connection, mirroring the poll-until-
// timeout discipline of internal/storage/dolt/access_lock.go, adapted from
// a filesystem flock to a database-level named lock since the resource
// being serialized is a single changeset row rather than the whole store.
func (s *Store) beginUpload(ctx context.Context, changesetID osm.ChangesetID, uploaderID osm.UserID, limits config.Limits, span trace.Span) (*Session, error) {
	conn, err := s.db.Conn(ctx)
	if err != nil {
		return nil, wrapDBError(err, "acquire connection")
	}

	lockName := fmt.Sprintf("osmupload.changeset.%d", changesetID)
	start := time.Now()

	var acquired sql.NullInt64
	row := conn.QueryRowContext(ctx, "SELECT GET_LOCK(?, ?)", lockName, int(limits.ChangesetLockTimeout.Seconds()))
	if err := row.Scan(&acquired); err != nil {
		_ = conn.Close()
		return nil, wrapDBError(err, "acquire changeset %d lock", changesetID)
	}

	waitMs := float64(time.Since(start).Milliseconds())
	s.lockWait.Record(ctx, waitMs, metric.WithAttributes(attribute.Int64("changeset_id", int64(changesetID))))

	if !acquired.Valid || acquired.Int64 != 1 {
		_ = conn.Close()
		return nil, apierror.Conflict("timed out waiting for changeset %d to become available", changesetID)
	}

	tx, err := conn.BeginTx(ctx, nil)
	if err != nil {
		_, _ = conn.ExecContext(context.Background(), "SELECT RELEASE_LOCK(?)", lockName)
		_ = conn.Close()
		return nil, wrapDBError(err, "begin transaction")
	}

	return &Session{
		store:       s,
		conn:        conn,
		tx:          tx,
		changesetID: changesetID,
		lockName:    lockName,
		limits:      limits,
		uploaderID:  uploaderID,
		span:        span,
		Tracker:     changetracker.New(),
	}, nil
}

func (sess *Session) commit(ctx context.Context) error {
	if err := sess.tx.Commit(); err != nil {
		sess.release(ctx)
		return wrapDBError(err, "commit upload for changeset %d", sess.changesetID)
	}
	sess.release(ctx)
	return nil
}

func (sess *Session) rollback(ctx context.Context) {
	_ = sess.tx.Rollback()
	sess.release(ctx)
}

func (sess *Session) release(ctx context.Context) {
	// RELEASE_LOCK and Close must not be poisoned by an already-canceled
	// upload context, mirroring store_embedded.go's use of
	// context.Background() for pool-lifecycle operations.
	_, _ = sess.conn.ExecContext(context.Background(), "SELECT RELEASE_LOCK(?)", sess.lockName)
	_ = sess.conn.Close()
}
