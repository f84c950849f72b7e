// Package server provides the HTTP REST API for the resume builder.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/jonathan/resume-builder/internal/knowledge"
	"github.com/jonathan/resume-builder/internal/llm"
	"github.com/jonathan/resume-builder/internal/workflow"
)

// ErrEmailAlreadyExists indicates email is already registered
type ErrEmailAlreadyExists struct {
	Email string
}

func (e *ErrEmailAlreadyExists) Error() string {
	return fmt.Sprintf("email already registered: %s", e.Email)
}

// ErrInvalidCredentials indicates invalid login credentials
type ErrInvalidCredentials struct{}

func (e *ErrInvalidCredentials) Error() string {
	return "invalid email or password"
}

// ErrUnauthenticated indicates a request without a usable identity
type ErrUnauthenticated struct {
	Message string
}

func (e *ErrUnauthenticated) Error() string {
	if e.Message == "" {
		return "authentication required"
	}
	return e.Message
}

// ErrValidation indicates request validation failure
type ErrValidation struct {
	Field   string
	Message string
}

func (e *ErrValidation) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("validation error: %s", e.Message)
	}
	return fmt.Sprintf("validation error: %s - %s", e.Field, e.Message)
}

// StatusClientClosedRequest is reported when the caller went away before the work finished
const StatusClientClosedRequest = 499

// HTTPStatus returns the appropriate HTTP status code for an error
func HTTPStatus(err error) int {
	var (
		emailTaken   *ErrEmailAlreadyExists
		badCreds     *ErrInvalidCredentials
		unauth       *ErrUnauthenticated
		validation   *ErrValidation
		precondition *workflow.PreconditionError
		notFound     *workflow.NotFoundError
		forbidden    *workflow.ForbiddenError
		conflict     *workflow.ConflictError
		fetchErr     *workflow.FetchError
		schema       *knowledge.ValidationError
		conservation *knowledge.ConservationError
		timeout      *llm.TimeoutError
		transport    *llm.TransportError
	)
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, context.Canceled):
		return StatusClientClosedRequest
	case errors.As(err, &validation), errors.As(err, &precondition), errors.As(err, &schema):
		return http.StatusBadRequest
	case errors.As(err, &badCreds), errors.As(err, &unauth):
		return http.StatusUnauthorized
	case errors.As(err, &forbidden):
		return http.StatusForbidden
	case errors.As(err, &notFound):
		return http.StatusNotFound
	case errors.As(err, &emailTaken), errors.As(err, &conflict):
		return http.StatusConflict
	case errors.As(err, &timeout):
		return http.StatusGatewayTimeout
	case errors.As(err, &transport), errors.As(err, &conservation), errors.As(err, &fetchErr):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
