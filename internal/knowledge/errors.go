// Package knowledge implements the merge, conservation and validation rules of a user's knowledge graph.
package knowledge

import (
	"fmt"
	"strings"
)

// ValidationError represents a schema validation failure with field paths
type ValidationError struct {
	Errors []FieldError
	Cause  error
}

// FieldError represents a single validation error at a specific field
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

func (e *ValidationError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("knowledge graph validation failed: %v", e.Cause)
	}
	var sb strings.Builder
	sb.WriteString("knowledge graph validation failed:")
	for i, fe := range e.Errors {
		sb.WriteString(fmt.Sprintf(" %d. %s: %s;", i+1, fe.Field, fe.Message))
	}
	return strings.TrimSuffix(sb.String(), ";")
}

func (e *ValidationError) Unwrap() error {
	return e.Cause
}

// ConservationError reports facts present before a restructuring that cannot be found after it
type ConservationError struct {
	Missing []string
}

func (e *ConservationError) Error() string {
	const limit = 5
	shown := e.Missing
	if len(shown) > limit {
		shown = shown[:limit]
	}
	msg := fmt.Sprintf("restructured knowledge graph lost %d value(s): %s", len(e.Missing), strings.Join(shown, ", "))
	if len(e.Missing) > limit {
		msg += ", ..."
	}
	return msg
}
