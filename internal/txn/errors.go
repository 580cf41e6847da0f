package txn

import (
	"errors"
	"fmt"
)

// Code classifies transaction failures.
type Code string

const (
	// CodeValidation: malformed op, unknown type/label/attribute, bad value.
	CodeValidation Code = "VALIDATION"

	// CodePermissionDenied: a rule denied an explicit or cascaded op.
	CodePermissionDenied Code = "PERMISSION_DENIED"

	// CodeUniqueness: two live entities would share a unique value.
	CodeUniqueness Code = "UNIQUENESS_VIOLATION"

	// CodeNotFound: an op targets an entity that does not exist.
	CodeNotFound Code = "NOT_FOUND"

	// CodeConflict: an op targets an entity deleted after the client's base seq.
	CodeConflict Code = "CONFLICT"

	// CodeQuota: the transaction, with cascades, exceeds the op budget.
	CodeQuota Code = "QUOTA_EXCEEDED"
)

// Error is a rejected transaction.
//
// OpIndex is the position of the offending op in the submitted
// transaction, or -1 when the failure is not tied to one op.
type Error struct {
	Code    Code
	Message string
	OpIndex int
	Type    string
	ID      string
	Err     error
}

// Sentinels for errors.Is. They match any *Error with the same code.
var (
	ErrValidation       = &Error{Code: CodeValidation}
	ErrPermissionDenied = &Error{Code: CodePermissionDenied}
	ErrUniqueness       = &Error{Code: CodeUniqueness}
	ErrNotFound         = &Error{Code: CodeNotFound}
	ErrConflict         = &Error{Code: CodeConflict}
	ErrQuota            = &Error{Code: CodeQuota}
)

// Error implements the error interface.
func (e *Error) Error() string {
	msg := e.Message
	if msg == "" {
		msg = string(e.Code)
	}
	switch {
	case e.OpIndex >= 0 && e.ID != "":
		return fmt.Sprintf("%s: op %d %s[%s]: %s", e.Code, e.OpIndex, e.Type, e.ID, msg)
	case e.ID != "":
		return fmt.Sprintf("%s: %s[%s]: %s", e.Code, e.Type, e.ID, msg)
	}
	return fmt.Sprintf("%s: %s", e.Code, msg)
}

// Unwrap exposes the underlying cause, e.g. a rules deny decision.
func (e *Error) Unwrap() error { return e.Err }

// Is matches sentinels by code.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Message == "" && t.Code == e.Code
}

// CodeOf returns the Code of a transaction error, or "" for anything else.
func CodeOf(err error) Code {
	var te *Error
	if errors.As(err, &te) {
		return te.Code
	}
	return ""
}

// IsPermissionDenied reports whether err is a permission denial.
func IsPermissionDenied(err error) bool { return CodeOf(err) == CodePermissionDenied }

// IsUniqueness reports whether err is a uniqueness violation.
func IsUniqueness(err error) bool { return CodeOf(err) == CodeUniqueness }

// IsValidation reports whether err is a validation failure.
func IsValidation(err error) bool { return CodeOf(err) == CodeValidation }

// IsNotFound reports whether err is a missing-entity failure.
func IsNotFound(err error) bool { return CodeOf(err) == CodeNotFound }

// IsConflict reports whether err is a concurrent-delete conflict.
func IsConflict(err error) bool { return CodeOf(err) == CodeConflict }

func opError(code Code, i int, typ, id, format string, args ...any) *Error {
	return &Error{Code: code, OpIndex: i, Type: typ, ID: id, Message: fmt.Sprintf(format, args...)}
}
