package llm

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// TransportError represents a network, auth or provider failure calling the model
type TransportError struct {
	Message string
	Cause   error
}

func (e *TransportError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("llm transport error: %s: %v", e.Message, e.Cause)
	}
	return fmt.Sprintf("llm transport error: %s", e.Message)
}

func (e *TransportError) Unwrap() error {
	return e.Cause
}

// TimeoutError is returned when a model call exceeds its deadline
type TimeoutError struct {
	Timeout time.Duration
	Cause   error
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("llm call timed out after %s", e.Timeout)
}

func (e *TimeoutError) Unwrap() error {
	return e.Cause
}

// classify converts a raw provider error into a TimeoutError or TransportError.
// A call canceled by its caller keeps context.Canceled in its chain and is neither.
func classify(ctx context.Context, err error, timeout time.Duration, message string) error {
	if err == nil {
		return nil
	}
	var te *TimeoutError
	var tr *TransportError
	if errors.As(err, &te) || errors.As(err, &tr) {
		return err
	}
	if errors.Is(err, context.Canceled) {
		return err
	}
	if errors.Is(ctx.Err(), context.Canceled) {
		return fmt.Errorf("llm call canceled: %w: %w", context.Canceled, err)
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return &TimeoutError{Timeout: timeout, Cause: err}
	}
	return &TransportError{Message: message, Cause: err}
}

// IsUpstreamFailure reports whether err came from the model gateway.
// Cancellation by the caller is never an upstream failure.
func IsUpstreamFailure(err error) bool {
	if errors.Is(err, context.Canceled) {
		return false
	}
	var te *TimeoutError
	var tr *TransportError
	return errors.As(err, &te) || errors.As(err, &tr)
}
