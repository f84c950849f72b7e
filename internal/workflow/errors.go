package workflow

import (
	"fmt"
)

// PreconditionError is returned when an operation runs before the step it depends on
type PreconditionError struct {
	Message string
}

func (e *PreconditionError) Error() string {
	return fmt.Sprintf("precondition failed: %s", e.Message)
}

// NotFoundError is returned for an unknown session or user
type NotFoundError struct {
	Kind string
	ID   string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Kind, e.ID)
}

// ForbiddenError is returned when a session belongs to another user
type ForbiddenError struct {
	SessionID string
}

func (e *ForbiddenError) Error() string {
	return fmt.Sprintf("not authorized to access session %s", e.SessionID)
}

// ConflictError is returned when a document changed between read and write
type ConflictError struct {
	Document string
	Cause    error
}

func (e *ConflictError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s was modified concurrently: %v", e.Document, e.Cause)
	}
	return fmt.Sprintf("%s was modified concurrently", e.Document)
}

func (e *ConflictError) Unwrap() error {
	return e.Cause
}

// FetchError is returned when a company page cannot be retrieved
type FetchError struct {
	URL   string
	Cause error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("failed to fetch %s: %v", e.URL, e.Cause)
}

func (e *FetchError) Unwrap() error {
	return e.Cause
}
