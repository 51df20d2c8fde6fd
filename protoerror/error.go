// Package protoerror carries the protocol-independent error taxonomy and the
// mapping of taxonomy codes onto each protocol's wire representation.
package protoerror

import (
	"fmt"
	"time"
)

// Error is the internal error value passed between components.  Instances
// are immutable after construction; decorating helpers return copies.
type Error struct {
	Code      Code
	Message   string
	Details   string
	Component string
	Operation string
	Metadata  map[string]string
	Timestamp time.Time
}

var _ error = (*Error)(nil)

func (e *Error) Error() string {
	if len(e.Component) > 0 || len(e.Operation) > 0 {
		return fmt.Sprintf("%s: %s [%s.%s]", e.Code, e.Message, e.Component, e.Operation)
	}

	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// New constructs an Error with the current timestamp.
func New(code Code, message string) *Error {
	return &Error{
		Code:      code,
		Message:   message,
		Timestamp: time.Now(),
	}
}

// WithDetails returns a copy of this error carrying the given details text.
func (e *Error) WithDetails(details string) *Error {
	copied := *e
	copied.Details = details
	return &copied
}

// WithContext returns a copy of this error stamped with the component and
// operation in which it arose.
func (e *Error) WithContext(component, operation string) *Error {
	copied := *e
	copied.Component = component
	copied.Operation = operation
	return &copied
}

// WithMetadata returns a copy of this error with the given metadata entry added.
func (e *Error) WithMetadata(key, value string) *Error {
	copied := *e
	copied.Metadata = make(map[string]string, len(e.Metadata)+1)
	for k, v := range e.Metadata {
		copied.Metadata[k] = v
	}

	copied.Metadata[key] = value
	return &copied
}
