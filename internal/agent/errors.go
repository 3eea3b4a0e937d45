package agent

import (
	"errors"
	"fmt"
)

// ValidationError reports caller input rejected before any run exists:
// an empty message, a blank agent id, malformed options. Nothing is
// persisted when one is returned.
type ValidationError struct {
	// Field names the offending input.
	Field string

	// Message explains what was wrong with it.
	Message string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("invalid input: %s", e.Message)
	}
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Message)
}

// NewValidationError creates a ValidationError for one input field.
func NewValidationError(field, message string) *ValidationError {
	return &ValidationError{Field: field, Message: message}
}

// IsValidation reports whether err is or wraps a ValidationError.
func IsValidation(err error) bool {
	var verr *ValidationError
	return errors.As(err, &verr)
}

// NotFoundError reports a referenced entity that does not exist: an
// unknown agent id, a model absent from the registry, a provider with no
// configured client, or a run id with no trace.
type NotFoundError struct {
	// Kind is the entity class: "agent", "model", "provider" or "run".
	Kind string

	// ID is the identifier that failed to resolve.
	ID string
}

// Error implements the error interface.
func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %q not found", e.Kind, e.ID)
}

// NewNotFoundError creates a NotFoundError for one entity reference.
func NewNotFoundError(kind, id string) *NotFoundError {
	return &NotFoundError{Kind: kind, ID: id}
}

// IsNotFound reports whether err is or wraps a NotFoundError.
func IsNotFound(err error) bool {
	var nferr *NotFoundError
	return errors.As(err, &nferr)
}

// UnauthorizedToolError reports a model request for a tool outside the
// agent's allowlist. It is always fatal to the run: the loop stops, the
// run transitions to error and no further model calls are made.
type UnauthorizedToolError struct {
	// AgentID is the agent whose allowlist rejected the call.
	AgentID string

	// Tool is the tool the model asked for.
	Tool string
}

// Error implements the error interface.
func (e *UnauthorizedToolError) Error() string {
	return fmt.Sprintf("tool %q is not allowed for agent %q", e.Tool, e.AgentID)
}

// IsUnauthorizedTool reports whether err is or wraps an UnauthorizedToolError.
func IsUnauthorizedTool(err error) bool {
	var uerr *UnauthorizedToolError
	return errors.As(err, &uerr)
}
