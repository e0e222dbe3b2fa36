// Package services implements the workflow lifecycle and execution administration used by the API.
package services

import (
	"errors"
	"fmt"

	"github.com/dukex/drip/pkg/persistence"
)

// Business Logic Errors - These indicate client errors (4xx responses).
var (
	// Validation Errors (400 Bad Request).
	ErrInvalidRequest       = errors.New("invalid request")
	ErrInvalidStatus        = errors.New("invalid status")
	ErrWorkflowNil          = errors.New("workflow cannot be nil")
	ErrWorkflowNameRequired = errors.New("workflow name is required")
	ErrStepsRequired        = errors.New("workflow must have at least one step")
	ErrInvalidTrigger       = errors.New("invalid workflow trigger")
	ErrInvalidStep          = errors.New("invalid workflow step")
	ErrInvalidGraph         = errors.New("invalid workflow graph")

	// Business Logic Conflicts (409 Conflict).
	ErrInvalidTransition   = errors.New("invalid workflow status transition")
	ErrWorkflowArchived    = errors.New("archived workflows cannot be modified")
	ErrExecutionTerminal   = errors.New("execution already finished")
	ErrExecutionNotWaiting = errors.New("execution is not waiting")
	ErrExecutionNotDue     = errors.New("execution delay has not elapsed")
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
		errors.Is(err, ErrInvalidStatus) ||
		errors.Is(err, ErrWorkflowNil) ||
		errors.Is(err, ErrWorkflowNameRequired) ||
		errors.Is(err, ErrStepsRequired) ||
		errors.Is(err, ErrInvalidTrigger) ||
		errors.Is(err, ErrInvalidStep) ||
		errors.Is(err, ErrInvalidGraph)
}

// IsConflictError checks if an error is a business logic conflict that should return HTTP 409.
func IsConflictError(err error) bool {
	return errors.Is(err, ErrInvalidTransition) ||
		errors.Is(err, ErrWorkflowArchived) ||
		errors.Is(err, ErrExecutionTerminal) ||
		errors.Is(err, ErrExecutionNotWaiting) ||
		errors.Is(err, ErrExecutionNotDue) ||
		persistence.IsVersionConflict(err)
}

// IsNotFoundError checks if an error should return HTTP 404.
func IsNotFoundError(err error) bool {
	return persistence.IsWorkflowNotFound(err) ||
		persistence.IsExecutionNotFound(err) ||
		persistence.IsContactNotFound(err)
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
