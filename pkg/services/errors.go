// Package services implements the workflow definition operations behind the HTTP API.
package services

import (
	"errors"
	"fmt"
)

// Validation errors, rendered as 400 responses.
var (
	ErrInvalidRequest       = errors.New("invalid request")
	ErrWorkflowNil          = errors.New("workflow cannot be nil")
	ErrUnknownNodeType      = errors.New("unknown node type")
	ErrInvalidNodeConfig    = errors.New("invalid node configuration")
	ErrUnknownTriggerType   = errors.New("unknown workflow type")
	ErrInvalidTriggerConfig = errors.New("invalid trigger configuration")
	ErrDuplicateNodeKey     = errors.New("duplicate node key")
)

// ServiceError wraps service-level errors with additional context.
type ServiceError struct {
	Op      string // Operation name
	Code    string // Error code for API responses
	Message string // Human-readable message
	Err     error  // Underlying error
}

func (e *ServiceError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s: %s", e.Op, e.Message)
	}

	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *ServiceError) Unwrap() error {
	return e.Err
}

func (e *ServiceError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

// IsValidationError checks if an error is a validation error that should return HTTP 400.
func IsValidationError(err error) bool {
	return errors.Is(err, ErrInvalidRequest) ||
		errors.Is(err, ErrWorkflowNil) ||
		errors.Is(err, ErrUnknownNodeType) ||
		errors.Is(err, ErrInvalidNodeConfig) ||
		errors.Is(err, ErrUnknownTriggerType) ||
		errors.Is(err, ErrInvalidTriggerConfig) ||
		errors.Is(err, ErrDuplicateNodeKey)
}

// NewValidationError creates a new validation error with context.
func NewValidationError(op, code, message string, err error) *ServiceError {
	return &ServiceError{
		Op:      op,
		Code:    code,
		Message: message,
		Err:     err,
	}
}
