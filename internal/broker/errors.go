package broker

import (
	"errors"
	"fmt"
)

// Kind is a stable, user-visible error classification, per spec §7.
type Kind string

const (
	KindValidation     Kind = "ValidationError"
	KindAuth           Kind = "AuthError"
	KindNotFound       Kind = "NotFoundError"
	KindNotOwner       Kind = "NotOwnerError"
	KindStateConflict  Kind = "StateConflictError"
	KindStorage        Kind = "StorageError"
	KindOverload       Kind = "Overload"
	KindTimeout        Kind = "Timeout"
)

// Error is the broker's typed error, carrying a stable Kind alongside a
// human-readable detail. Grounded on the sentinel-plus-wrapper pattern used
// by the teacher's internal/event-hooks/errors.go and
// internal/multi-tenant-isolation/errors.go.
type Error struct {
	Kind   Kind
	Detail string
	Err    error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Detail, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Detail)
}

func (e *Error) Unwrap() error { return e.Err }

// Is reports whether target is a *Error with the same Kind, so callers can
// use errors.Is(err, broker.NotFound("")) style checks if desired; mainly
// intended for errors.As(&*Error) usage.
func (e *Error) Is(target error) bool {
	other, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == other.Kind
}

func newErr(kind Kind, detail string, cause error) *Error {
	return &Error{Kind: kind, Detail: detail, Err: cause}
}

func Validation(detail string) *Error            { return newErr(KindValidation, detail, nil) }
func Auth(detail string) *Error                  { return newErr(KindAuth, detail, nil) }
func NotFound(detail string) *Error              { return newErr(KindNotFound, detail, nil) }
func NotOwner(detail string) *Error              { return newErr(KindNotOwner, detail, nil) }
func StateConflict(detail string) *Error         { return newErr(KindStateConflict, detail, nil) }
func Storage(detail string, cause error) *Error  { return newErr(KindStorage, detail, cause) }
func Overload(detail string) *Error              { return newErr(KindOverload, detail, nil) }
func Timeout(detail string) *Error               { return newErr(KindTimeout, detail, nil) }

// KindOf extracts the Kind from err if it is (or wraps) a *Error, otherwise
// returns KindStorage as the conservative default for opaque failures.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var be *Error
	if errors.As(err, &be) {
		return be.Kind
	}
	return KindStorage
}
