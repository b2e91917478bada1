// Package errdefs defines the error taxonomy shared by the object store and
// the task manager.
package errdefs

import (
	"errors"
	"fmt"
)

// Kind classifies an error so callers can map it to a response without
// inspecting messages.
type Kind string

const (
	// KindNotFound indicates a record or task id that does not exist.
	// Always recoverable by the caller.
	KindNotFound Kind = "not_found"

	// KindStorageUnavailable indicates the backing store could not be
	// opened or initialized. Fatal to object store construction.
	KindStorageUnavailable Kind = "storage_unavailable"

	// KindSerialization indicates a value could not be encoded in, or
	// decoded from, the backing format.
	KindSerialization Kind = "serialization"

	// KindInvalid indicates a malformed argument.
	KindInvalid Kind = "invalid"

	// KindInternal indicates an unexpected failure of the backing engine.
	KindInternal Kind = "internal"
)

// Error is a classified error with context.
type Error struct {
	// Kind is the error classification.
	Kind Kind `json:"kind"`

	// Message is the human-readable error message.
	Message string `json:"message"`

	// Resource names what the error is about, e.g. "templates/fedora" or "task 3".
	Resource string `json:"resource,omitempty"`

	// Operation is the operation being performed when the error occurred.
	Operation string `json:"operation,omitempty"`

	// Err is the underlying error.
	Err error `json:"-"`
}

// Sentinels for errors.Is checks. Only Kind is compared.
var (
	ErrNotFound           = &Error{Kind: KindNotFound}
	ErrStorageUnavailable = &Error{Kind: KindStorageUnavailable}
	ErrSerialization      = &Error{Kind: KindSerialization}
	ErrInvalid            = &Error{Kind: KindInvalid}
)

// Error implements the error interface.
func (e *Error) Error() string {
	msg := e.Message
	if msg == "" {
		msg = string(e.Kind)
	}
	if e.Resource != "" && e.Operation != "" {
		msg = fmt.Sprintf("%s (resource=%s, operation=%s)", msg, e.Resource, e.Operation)
	} else if e.Resource != "" {
		msg = fmt.Sprintf("%s (resource=%s)", msg, e.Resource)
	}
	if e.Err != nil {
		return msg + ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns the underlying error for error chain inspection.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports whether target is an *Error of the same Kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

// WithResource adds resource context to an error.
func (e *Error) WithResource(resource string) *Error {
	e.Resource = resource
	return e
}

// WithOperation adds operation context to an error.
func (e *Error) WithOperation(operation string) *Error {
	e.Operation = operation
	return e
}

// NotFound creates a KindNotFound error.
func NotFound(format string, args ...interface{}) *Error {
	return &Error{Kind: KindNotFound, Message: fmt.Sprintf(format, args...)}
}

// StorageUnavailable creates a KindStorageUnavailable error wrapping err.
func StorageUnavailable(message string, err error) *Error {
	return &Error{Kind: KindStorageUnavailable, Message: message, Err: err}
}

// Serialization creates a KindSerialization error wrapping err.
func Serialization(message string, err error) *Error {
	return &Error{Kind: KindSerialization, Message: message, Err: err}
}

// Invalid creates a KindInvalid error.
func Invalid(format string, args ...interface{}) *Error {
	return &Error{Kind: KindInvalid, Message: fmt.Sprintf(format, args...)}
}

// Internal creates a KindInternal error wrapping err.
func Internal(message string, err error) *Error {
	return &Error{Kind: KindInternal, Message: message, Err: err}
}

// KindOf returns the Kind of the first *Error in err's chain, or "" if none.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// IsNotFound returns true if the error is classified as not found.
func IsNotFound(err error) bool {
	return KindOf(err) == KindNotFound
}

// IsStorageUnavailable returns true if the error is classified as storage unavailable.
func IsStorageUnavailable(err error) bool {
	return KindOf(err) == KindStorageUnavailable
}

// IsSerialization returns true if the error is classified as a serialization failure.
func IsSerialization(err error) bool {
	return KindOf(err) == KindSerialization
}

// IsInvalid returns true if the error is classified as an invalid argument.
func IsInvalid(err error) bool {
	return KindOf(err) == KindInvalid
}
