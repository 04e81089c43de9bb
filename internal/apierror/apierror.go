// Package apierror defines the taxonomy of error kinds the upload engine
// can raise. Every error that crosses a component boundary is one of
// these kinds (or wraps one), so the (out of scope) transport layer can
// map it to an HTTP status mechanically via Status.
package apierror

import (
	"errors"
	"fmt"
)

// Kind identifies one of the design-level error categories from spec.md §7.
type Kind int

const (
	// KindBadRequest covers syntactic, schema, value-range, and placeholder errors.
	KindBadRequest Kind = iota
	// KindUnauthorized means the request carried no valid credentials. Not
	// raised by the core (authentication happens upstream) but kept in the
	// taxonomy so the boundary layer has a single enum to switch on.
	KindUnauthorized
	// KindForbidden means the user lacks api_write or is blocked. Same
	// caveat as KindUnauthorized.
	KindForbidden
	// KindNotFound means the changeset or a referenced element is missing.
	KindNotFound
	// KindGone means a delete targeted an already-deleted element without if-unused.
	KindGone
	// KindConflict covers ownership mismatches, version mismatches, and closed changesets.
	KindConflict
	// KindPreconditionFailed means a referenced element is missing/invisible,
	// or a delete target is still referenced.
	KindPreconditionFailed
	// KindPayloadTooLarge means the changeset bbox limit was exceeded.
	KindPayloadTooLarge
	// KindTooManyRequests means the caller's rate limit was exceeded. Not
	// raised by the core; accounting lives upstream.
	KindTooManyRequests
	// KindInternal means a post-commit invariant was violated.
	KindInternal
)

func (k Kind) String() string {
	switch k {
	case KindBadRequest:
		return "BadRequest"
	case KindUnauthorized:
		return "Unauthorized"
	case KindForbidden:
		return "Forbidden"
	case KindNotFound:
		return "NotFound"
	case KindGone:
		return "Gone"
	case KindConflict:
		return "Conflict"
	case KindPreconditionFailed:
		return "PreconditionFailed"
	case KindPayloadTooLarge:
		return "PayloadTooLarge"
	case KindTooManyRequests:
		return "TooManyRequests"
	case KindInternal:
		return "InternalError"
	default:
		return "Unknown"
	}
}

// Status returns the HTTP status code conventionally associated with the kind.
func (k Kind) Status() int {
	switch k {
	case KindBadRequest:
		return 400
	case KindUnauthorized:
		return 401
	case KindForbidden:
		return 403
	case KindNotFound:
		return 404
	case KindGone:
		return 410
	case KindConflict:
		return 409
	case KindPreconditionFailed:
		return 412
	case KindPayloadTooLarge:
		return 413
	case KindTooManyRequests:
		return 429
	case KindInternal:
		return 500
	default:
		return 500
	}
}

// Error is a single-sentence, kind-tagged error. Location, when known,
// carries a parser line/column hint per spec.md §4.1.3 and §7.
type Error struct {
	Kind     Kind
	Message  string
	Location string
	cause    error
}

func (e *Error) Error() string {
	if e.Location != "" {
		return fmt.Sprintf("%s: %s (%s)", e.Kind, e.Message, e.Location)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.cause }

// New builds an Error of the given kind with a formatted message.
func New(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap builds an Error of the given kind that also chains an underlying cause.
func Wrap(kind Kind, cause error, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), cause: cause}
}

// WithLocation attaches a parser line/column hint and returns the same error.
func (e *Error) WithLocation(loc string) *Error {
	e.Location = loc
	return e
}

// BadRequest constructs a KindBadRequest error.
func BadRequest(format string, args ...any) *Error { return New(KindBadRequest, format, args...) }

// NotFound constructs a KindNotFound error.
func NotFound(format string, args ...any) *Error { return New(KindNotFound, format, args...) }

// Gone constructs a KindGone error.
func Gone(format string, args ...any) *Error { return New(KindGone, format, args...) }

// Conflict constructs a KindConflict error.
func Conflict(format string, args ...any) *Error { return New(KindConflict, format, args...) }

// PreconditionFailed constructs a KindPreconditionFailed error.
func PreconditionFailed(format string, args ...any) *Error {
	return New(KindPreconditionFailed, format, args...)
}

// PayloadTooLarge constructs a KindPayloadTooLarge error.
func PayloadTooLarge(format string, args ...any) *Error {
	return New(KindPayloadTooLarge, format, args...)
}

// Internal constructs a KindInternal error.
func Internal(format string, args ...any) *Error { return New(KindInternal, format, args...) }

// Is reports whether err is (or wraps) an *Error of the given kind.
func Is(err error, kind Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}

// KindOf extracts the Kind of err, defaulting to KindInternal when err is
// not an *Error (an unexpected/unwrapped failure is always an invariant break).
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}
