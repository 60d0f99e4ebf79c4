package service

import (
	"errors"
)

// ErrorKind classifies a failure so the HTTP layer can choose a response
// without inspecting messages.
type ErrorKind int

const (
	KindInternal ErrorKind = iota
	KindValidation
	KindConflict
	KindNotFound
	KindExpired
	KindGateway
	KindUnauthenticated
	KindUnverified
	KindForbidden
	KindDisabled
)

func (k ErrorKind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindConflict:
		return "conflict"
	case KindNotFound:
		return "not_found"
	case KindExpired:
		return "expired"
	case KindGateway:
		return "gateway"
	case KindUnauthenticated:
		return "unauthenticated"
	case KindUnverified:
		return "unverified"
	case KindForbidden:
		return "forbidden"
	case KindDisabled:
		return "disabled"
	default:
		return "internal"
	}
}

// Error is a user-facing failure. Message is safe to show; Err, when set,
// is the underlying cause and is only logged.
type Error struct {
	Kind    ErrorKind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches another *Error of the same kind and message, so sentinels
// declared below work with errors.Is even after wrapping.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind && e.Message == t.Message
}

func newError(kind ErrorKind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// wrapError attaches cause to a sentinel while keeping its kind and message.
func wrapError(sentinel *Error, cause error) *Error {
	return &Error{Kind: sentinel.Kind, Message: sentinel.Message, Err: cause}
}

// KindOf reports the kind of the first *Error in err's chain, or KindInternal.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// MessageOf returns the user-facing message for err. Unclassified errors get a generic one.
func MessageOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Message
	}
	return "something went wrong, please try again"
}

var (
	ErrInvalidCredentials = newError(KindUnauthenticated, "invalid username or password")
	ErrNotAuthenticated   = newError(KindUnauthenticated, "not signed in")
	ErrAccountSuspended   = newError(KindForbidden, "account is suspended")
	ErrNotVerified        = newError(KindUnverified, "verify your email address first")
	ErrStaffOnly          = newError(KindForbidden, "staff only")
	ErrCSRF               = newError(KindForbidden, "invalid CSRF token")

	ErrInvalidEmail    = newError(KindValidation, "invalid email address")
	ErrInvalidUsername = newError(KindValidation, "invalid username")
	ErrInvalidMonths   = newError(KindValidation, "months must be positive or -1 for forever")

	ErrUsernameTaken     = newError(KindConflict, "username is already taken")
	ErrEmailTaken        = newError(KindConflict, "email is already in use")
	ErrTokenCollision    = newError(KindConflict, "could not issue a token, please try again")
	ErrConcurrentChange  = newError(KindConflict, "account changed in the meantime, please retry")
	ErrIllegalTransition = newError(KindConflict, "action not allowed in the account's current state")
	ErrUsernameCooldown  = newError(KindConflict, "username was changed too recently")

	ErrAccountNotFound = newError(KindNotFound, "account not found")
	ErrTokenNotFound   = newError(KindNotFound, "invalid link")
	ErrTokenExpired    = newError(KindExpired, "link has expired")
	ErrUnknownCustomer = newError(KindNotFound, "unknown payment customer")

	ErrPaymentsDisabled = newError(KindDisabled, "payments are not enabled")
	ErrUploadsDisabled  = newError(KindDisabled, "uploads are not enabled")
	ErrGateway          = newError(KindGateway, "payment provider request failed")
)

// invalid reports a validation failure whose message comes from the validator.
func invalid(err error) *Error {
	return &Error{Kind: KindValidation, Message: err.Error()}
}
