package domain

import (
	"errors"
	"fmt"
	"strings"
)

// ErrorKind classifies engine failures. Handlers branch on the kind rather
// than on concrete error types.
type ErrorKind string

const (
	// KindValidation marks malformed or missing input. Never retryable.
	KindValidation ErrorKind = "VALIDATION"
	// KindNotFound marks a referenced principal or permission that does not exist.
	KindNotFound ErrorKind = "NOT_FOUND"
	// KindInvalidState marks a transition attempted from the wrong source state.
	KindInvalidState ErrorKind = "INVALID_STATE"
	// KindInvalidArgument marks a structurally valid but semantically wrong argument.
	KindInvalidArgument ErrorKind = "INVALID_ARGUMENT"
	// KindOperation marks a grant/revoke/schedule failure against the managed store.
	KindOperation ErrorKind = "OPERATION"
	// KindInternal marks anything uncharacterized. Treated as non-retryable.
	KindInternal ErrorKind = "INTERNAL"
)

// Error is the engine's typed failure value: a kind, an optional offending
// field, a retryable flag, and the underlying cause.
type Error struct {
	Kind      ErrorKind
	Field     string
	Message   string
	Retryable bool
	Cause     error
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(string(e.Kind))
	if e.Field != "" {
		b.WriteString(" [")
		b.WriteString(e.Field)
		b.WriteString("]")
	}
	b.WriteString(": ")
	b.WriteString(e.Message)
	if e.Cause != nil {
		b.WriteString(": ")
		b.WriteString(e.Cause.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error { return e.Cause }

// NewValidationError reports that field failed validation for the given reason.
func NewValidationError(field, reason string) *Error {
	return &Error{Kind: KindValidation, Field: field, Message: reason}
}

// MissingParameter reports a required field that was empty or absent.
func MissingParameter(field string) *Error {
	return &Error{Kind: KindValidation, Field: field, Message: "is required"}
}

// NewNotFoundError reports an absent principal or permission.
func NewNotFoundError(what, id string) *Error {
	return &Error{Kind: KindNotFound, Field: what, Message: fmt.Sprintf("%s %q not found", what, id)}
}

// NewInvalidStateError reports a transition attempted from a disallowed status.
func NewInvalidStateError(op string, have PermissionStatus, want ...PermissionStatus) *Error {
	wanted := make([]string, len(want))
	for i, s := range want {
		wanted[i] = string(s)
	}
	return &Error{
		Kind:    KindInvalidState,
		Message: fmt.Sprintf("%s requires status %s, have %s", op, strings.Join(wanted, " or "), have),
	}
}

// NewInvalidArgumentError reports a semantically invalid argument.
func NewInvalidArgumentError(field, reason string) *Error {
	return &Error{Kind: KindInvalidArgument, Field: field, Message: reason}
}

// NewOperationError wraps a managed-store failure with an explicit retryable flag.
func NewOperationError(message string, cause error, retryable bool) *Error {
	return &Error{Kind: KindOperation, Message: message, Retryable: retryable, Cause: cause}
}

// GrantFailed wraps a failed GRANT, deriving retryability from the cause.
func GrantFailed(principal, resource string, cause error) *Error {
	return &Error{
		Kind:      KindOperation,
		Message:   fmt.Sprintf("grant on %q to %q failed", resource, principal),
		Retryable: IsTransient(cause),
		Cause:     cause,
	}
}

// RevokeFailed wraps a failed REVOKE, deriving retryability from the cause.
func RevokeFailed(principal, resource string, cause error) *Error {
	return &Error{
		Kind:      KindOperation,
		Message:   fmt.Sprintf("revoke on %q from %q failed", resource, principal),
		Retryable: IsTransient(cause),
		Cause:     cause,
	}
}

// NewInternalError wraps an uncharacterized failure. Non-retryable.
func NewInternalError(message string, cause error) *Error {
	return &Error{Kind: KindInternal, Message: message, Cause: cause}
}

// transientSignatures are connectivity failure patterns the managed store
// surfaces in driver error text.
var transientSignatures = []string{
	"connection refused",
	"communications link failure",
	"timeout",
	"lock wait timeout",
	"deadlock",
	"invalid connection",
	"broken pipe",
}

// IsTransient reports whether the cause looks like a transient connectivity
// failure worth retrying.
func IsTransient(cause error) bool {
	if cause == nil {
		return false
	}
	msg := strings.ToLower(cause.Error())
	for _, sig := range transientSignatures {
		if strings.Contains(msg, sig) {
			return true
		}
	}
	return false
}

// KindOf extracts the kind from err, or KindInternal when err is untyped.
func KindOf(err error) ErrorKind {
	var de *Error
	if errors.As(err, &de) {
		return de.Kind
	}
	return KindInternal
}

// IsValidation reports whether err is a validation failure.
func IsValidation(err error) bool { return KindOf(err) == KindValidation }

// IsNotFound reports whether err marks an absent record or principal.
func IsNotFound(err error) bool { return KindOf(err) == KindNotFound }

// IsRetryable reports whether err is an operation failure flagged retryable.
func IsRetryable(err error) bool {
	var de *Error
	if errors.As(err, &de) {
		return de.Kind == KindOperation && de.Retryable
	}
	return false
}
