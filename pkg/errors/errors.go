package errors

import (
	"errors"
	"fmt"
)

// Domain error types for business logic

var (
	// ErrNotFound indicates a resource was not found
	ErrNotFound = errors.New("resource not found")

	// ErrInvalidInput indicates invalid input parameters
	ErrInvalidInput = errors.New("invalid input")

	// ErrInternal indicates an internal error
	ErrInternal = errors.New("internal error")

	// ErrTimeout indicates an operation timeout
	ErrTimeout = errors.New("operation timeout")

	// ErrUnavailable indicates a service is unavailable
	ErrUnavailable = errors.New("service unavailable")
)

// Task lifecycle errors

var (
	// ErrTaskNotFound indicates the task id is unknown
	ErrTaskNotFound = errors.New("task not found")

	// ErrTaskTerminal indicates the task already reached a terminal state
	ErrTaskTerminal = errors.New("task is in a terminal state")

	// ErrQueueFull indicates the submission queue cannot accept more tasks
	ErrQueueFull = errors.New("task queue is full")

	// ErrUnknownMarket indicates the submitted market is not configured
	ErrUnknownMarket = errors.New("unknown market")

	// ErrCancelled signals cooperative cancellation. It is not a failure:
	// callers translate it into the Cancelled terminal state, never Failed.
	ErrCancelled = errors.New("cancelled by request")
)

// Deliberation step errors

var (
	// ErrAgentPermanent indicates an agent reported a non-retryable failure
	ErrAgentPermanent = errors.New("agent permanent failure")

	// ErrRetryExhausted indicates the per-step retry budget ran out
	ErrRetryExhausted = errors.New("retry budget exhausted")

	// ErrMemoryUnavailable indicates the memory store could not be queried
	ErrMemoryUnavailable = errors.New("memory store unavailable")
)

// DomainError wraps an error with additional context
type DomainError struct {
	Code    string
	Message string
	Err     error
}

// Error implements the error interface
func (e *DomainError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the wrapped error
func (e *DomainError) Unwrap() error {
	return e.Err
}

// NewDomainError creates a new domain error
func NewDomainError(code, message string, err error) *DomainError {
	return &DomainError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// ValidationError represents a validation error with field-specific details
type ValidationError struct {
	Field   string
	Message string
	Value   interface{}
}

// Error implements the error interface
func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error: field '%s': %s (value: %v)", e.Field, e.Message, e.Value)
}

// NewValidationError creates a new validation error
func NewValidationError(field, message string, value interface{}) *ValidationError {
	return &ValidationError{
		Field:   field,
		Message: message,
		Value:   value,
	}
}

// Helper functions

// Is checks if err is or wraps target
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As finds the first error in err's chain that matches target type
func As(err error, target interface{}) bool {
	return errors.As(err, target)
}

// Wrap wraps an error with context
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}

// Wrapf wraps an error with formatted context
func Wrapf(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), err)
}

func New(message string) error {
	return errors.New(message)
}

func Newf(format string, args ...interface{}) error {
	return fmt.Errorf(format, args...)
}

// IsPermanent reports whether a step error must not be retried.
// Context cancellation is deliberately excluded: it is a cancellation
// signal, not a failure.
func IsPermanent(err error) bool {
	return errors.Is(err, ErrAgentPermanent) ||
		errors.Is(err, ErrInvalidInput) ||
		errors.Is(err, ErrRetryExhausted)
}
