package storage

import (
	"database/sql"
	"errors"

	"github.com/go-sql-driver/mysql"

	"github.com/zerebubuth/openstreetmap-cgimap-sub000/internal/apierror"
)

// MySQL/Dolt error numbers that indicate a transient storage-engine
// conflict rather than a business-level version conflict. Only these are
// eligible for the backoff retry of RunUpload; spec.md §4.8
// explicitly excludes optimistic retry on a business version mismatch.
const (
	errLockDeadlock    = 1213
	errLockWaitTimeout = 1205
	errSerialization   = 1105
)

func isSerializationError(err error) bool {
	var me *mysql.MySQLError
	if !errors.As(err, &me) {
		return false
	}
	switch me.Number {
	case errLockDeadlock, errLockWaitTimeout, errSerialization:
		return true
	default:
		return false
	}
}

// wrapDBError promotes a *sql.DB/*sql.Tx error into the apierror taxonomy.
// sql.ErrNoRows means the caller's lookup predicate matched nothing, which
// every call site here treats as apierror.NotFound; anything else is an
// engine-level failure, surfaced as apierror.Internal.
func wrapDBError(err error, format string, args ...any) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return apierror.Wrap(apierror.KindNotFound, err, format, args...)
	}
	return apierror.Wrap(apierror.KindInternal, err, format, args...)
}
