package application

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrUnauthorized is returned when the acting principal lacks permission for an operation.
	ErrUnauthorized = errors.New("application: unauthorized")
	// ErrNotFound is returned when the requested event, slot or pending modification does not exist.
	ErrNotFound = errors.New("application: not found")
	// ErrAlreadyExists is returned when an identical pending modification is already queued.
	ErrAlreadyExists = errors.New("application: already exists")
	// ErrConcurrentModification is returned when the event changed between load and save.
	// The caller decides whether to retry.
	ErrConcurrentModification = errors.New("application: concurrent modification")
)

// ValidationError captures field level validation issues that callers can surface to users.
type ValidationError struct {
	FieldErrors map[string]string
}

// Error implements the error interface.
func (v *ValidationError) Error() string {
	if v == nil {
		return ""
	}
	return "validation failed"
}

// HasErrors reports whether any field level issues were recorded.
func (v *ValidationError) HasErrors() bool {
	return v != nil && len(v.FieldErrors) > 0
}

// add records a field level validation error.
func (v *ValidationError) add(field, message string) {
	if v.FieldErrors == nil {
		v.FieldErrors = make(map[string]string)
	}
	v.FieldErrors[field] = message
}

// merge copies entries from another validation error into the receiver.
func (v *ValidationError) merge(other *ValidationError) {
	if other == nil || len(other.FieldErrors) == 0 {
		return
	}
	for field, msg := range other.FieldErrors {
		v.add(field, msg)
	}
}

// OperationError attaches the event and modification a failure relates to, so
// callers can build a meaningful message. It unwraps to the underlying error.
type OperationError struct {
	Op             string
	EventID        string
	ModificationID string
	Err            error
}

// Error implements the error interface.
func (e *OperationError) Error() string {
	var b strings.Builder
	b.WriteString(e.Op)
	if e.EventID != "" {
		fmt.Fprintf(&b, " event %s", e.EventID)
	}
	if e.ModificationID != "" {
		fmt.Fprintf(&b, " modification %s", e.ModificationID)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

// Unwrap exposes the wrapped error to errors.Is and errors.As.
func (e *OperationError) Unwrap() error {
	return e.Err
}
