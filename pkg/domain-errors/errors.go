package domainerrors

import "errors"

// Code classifies a domain failure so transports and job handlers can react
// without string matching. Stores never return these directly; services
// translate sentinel errors into coded errors at the boundary.
type Code string

const (
	CodeBadRequest         Code = "bad_request"
	CodeNotFound           Code = "not_found"
	CodeConflict           Code = "conflict"
	CodeIllegalTransition  Code = "illegal_transition"
	CodeAlreadyPurged      Code = "already_purged"
	CodeConfirmationNeeded Code = "confirmation_needed"
	CodeInternal           Code = "internal"
	CodeUnavailable        Code = "unavailable"
)

// Error is a coded domain error. Message is operator-facing; Code is the
// contract callers branch on.
type Error struct {
	Code    Code
	Message string
	cause   error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return e.Message + ": " + e.cause.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.cause }

// New builds a coded error with a fixed message.
func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Wrap attaches a code and message to an underlying error, preserving the
// chain for errors.Is/As.
func Wrap(err error, code Code, message string) *Error {
	return &Error{Code: code, Message: message, cause: err}
}

// HasCode reports whether err (or anything it wraps) carries the given code.
func HasCode(err error, code Code) bool {
	var de *Error
	if errors.As(err, &de) {
		return de.Code == code
	}
	return false
}
