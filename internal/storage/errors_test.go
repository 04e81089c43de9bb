package storage

import (
	"database/sql"
	"errors"
	"testing"

	"github.com/go-sql-driver/mysql"
	"github.com/stretchr/testify/assert"

	"github.com/zerebubuth/openstreetmap-cgimap-sub000/internal/apierror"
)

func TestIsSerializationError(t *testing.T) {
	assert.True(t, isSerializationError(&mysql.MySQLError{Number: errLockDeadlock}))
	assert.True(t, isSerializationError(&mysql.MySQLError{Number: errLockWaitTimeout}))
	assert.True(t, isSerializationError(&mysql.MySQLError{Number: errSerialization}))
	assert.False(t, isSerializationError(&mysql.MySQLError{Number: 1062}))
	assert.False(t, isSerializationError(errors.New("not a mysql error")))
}

func TestWrapDBErrorMapsNoRowsToNotFound(t *testing.T) {
	err := wrapDBError(sql.ErrNoRows, "node %d", 5)
	assert.True(t, apierror.Is(err, apierror.KindNotFound))
}

func TestWrapDBErrorMapsOtherToInternal(t *testing.T) {
	err := wrapDBError(errors.New("connection reset"), "query failed")
	assert.True(t, apierror.Is(err, apierror.KindInternal))
}

func TestWrapDBErrorNilIsNil(t *testing.T) {
	assert.NoError(t, wrapDBError(nil, "unused"))
}
