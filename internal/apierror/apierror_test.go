package apierror_test

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zerebubuth/openstreetmap-cgimap-sub000/internal/apierror"
)

func TestKindStatus(t *testing.T) {
	cases := map[apierror.Kind]int{
		apierror.KindBadRequest:         400,
		apierror.KindUnauthorized:       401,
		apierror.KindForbidden:          403,
		apierror.KindNotFound:           404,
		apierror.KindGone:               410,
		apierror.KindConflict:           409,
		apierror.KindPreconditionFailed: 412,
		apierror.KindPayloadTooLarge:    413,
		apierror.KindTooManyRequests:    429,
		apierror.KindInternal:           500,
	}
	for kind, status := range cases {
		assert.Equal(t, status, kind.Status(), kind.String())
	}
}

func TestWrapPreservesCause(t *testing.T) {
	cause := errors.New("boom")
	err := apierror.Wrap(apierror.KindConflict, cause, "changeset %d closed", 7)

	require.True(t, apierror.Is(err, apierror.KindConflict))
	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "changeset 7 closed")
}

func TestWithLocation(t *testing.T) {
	err := apierror.BadRequest("bad element").WithLocation("line 4")
	assert.Contains(t, err.Error(), "line 4")
}

func TestKindOfDefaultsToInternal(t *testing.T) {
	assert.Equal(t, apierror.KindInternal, apierror.KindOf(errors.New("unexpected")))
	assert.Equal(t, apierror.KindNotFound, apierror.KindOf(apierror.NotFound("missing")))
}
