// Package shared contains common domain types, errors and events
// that are used across all domain packages. This package has zero external dependencies.
package shared

import (
	"errors"
	"fmt"
)

// Base domain errors that can be used for error checking with errors.Is().
var (
	// Entity errors
	ErrNotFound      = errors.New("entity not found")
	ErrAlreadyExists = errors.New("entity already exists")

	// Validation errors
	ErrValidation      = errors.New("validation error")
	ErrInvalidID       = errors.New("invalid ID")
	ErrInvalidInput    = errors.New("invalid input")
	ErrEmptyValue      = errors.New("value cannot be empty")
	ErrValueOutOfRange = errors.New("value out of range")

	// State errors
	ErrInvalidState    = errors.New("invalid state")
	ErrStateTransition = errors.New("invalid state transition")

	// Authorization errors
	ErrUnauthorized = errors.New("unauthorized")
	ErrForbidden    = errors.New("forbidden")

	// External service errors
	ErrExternalService    = errors.New("external service error")
	ErrServiceUnavailable = errors.New("service unavailable")
	ErrTimeout            = errors.New("operation timeout")

	// Pipeline failure taxonomy.
	ErrRateLimited         = errors.New("rate limited")
	ErrTransientGeneration = errors.New("transient generation failure")
	ErrExhaustedRetries    = errors.New("generation retries exhausted")
	ErrDataLoad            = errors.New("student data unavailable")
	ErrUnexpected          = errors.New("unexpected failure")
)

// DomainError represents a domain-specific error with context.
type DomainError struct {
	Domain  string // e.g., "job", "suggestion", "planner"
	Op      string // Operation that failed, e.g., "Enqueue", "Accept"
	Kind    error  // Base error type for errors.Is() checking
	Message string // Human-readable message
	Err     error  // Underlying error (optional)
}

// Error implements the error interface.
func (e *DomainError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s.%s: %s: %v", e.Domain, e.Op, e.Message, e.Err)
	}
	return fmt.Sprintf("%s.%s: %s", e.Domain, e.Op, e.Message)
}

// Unwrap returns the underlying error for errors.Unwrap().
func (e *DomainError) Unwrap() error {
	if e.Err != nil {
		return e.Err
	}
	return e.Kind
}

// Is implements errors.Is() matching.
func (e *DomainError) Is(target error) bool {
	if e.Kind != nil && errors.Is(e.Kind, target) {
		return true
	}
	if e.Err != nil && errors.Is(e.Err, target) {
		return true
	}
	return false
}

// NewDomainError creates a new domain error.
func NewDomainError(domain, op string, kind error, message string) *DomainError {
	return &DomainError{
		Domain:  domain,
		Op:      op,
		Kind:    kind,
		Message: message,
	}
}

// WrapError wraps an existing error with domain context.
func WrapError(domain, op string, kind error, message string, err error) *DomainError {
	return &DomainError{
		Domain:  domain,
		Op:      op,
		Kind:    kind,
		Message: message,
		Err:     err,
	}
}

// Job domain errors
var (
	ErrJobNotFound         = NewDomainError("job", "Find", ErrNotFound, "job not found")
	ErrJobRateLimited      = NewDomainError("job", "Enqueue", ErrRateLimited, "a recent job exists for this user within the duplicate window")
	ErrJobAttemptsExceeded = NewDomainError("job", "Retry", ErrInvalidState, "max retry attempts reached")
	ErrNoJobAvailable      = NewDomainError("job", "Lease", ErrNotFound, "no job available")
)

// Suggestion domain errors
var (
	ErrSuggestionNotFound  = NewDomainError("suggestion", "Find", ErrNotFound, "suggestion not found")
	ErrSuggestionDismissed = NewDomainError("suggestion", "Accept", ErrInvalidState, "suggestion was dismissed")
	ErrTaskNotFound        = NewDomainError("suggestion", "CompleteTask", ErrNotFound, "task not found in plan")
	ErrNotSuggestionOwner  = NewDomainError("suggestion", "Authorize", ErrForbidden, "suggestion belongs to another user")
)

// Student domain errors
var (
	ErrStudentNotFound = NewDomainError("student", "Find", ErrNotFound, "student not found")
)

// IsNotFound checks if the error is a "not found" error.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsAlreadyExists checks if the error is an "already exists" error.
func IsAlreadyExists(err error) bool {
	return errors.Is(err, ErrAlreadyExists)
}

// IsValidation checks if the error is a validation error.
func IsValidation(err error) bool {
	return errors.Is(err, ErrValidation) ||
		errors.Is(err, ErrInvalidID) ||
		errors.Is(err, ErrInvalidInput) ||
		errors.Is(err, ErrEmptyValue) ||
		errors.Is(err, ErrValueOutOfRange)
}

// IsRateLimited checks if the error is a duplicate-window rejection.
func IsRateLimited(err error) bool {
	return errors.Is(err, ErrRateLimited)
}

// IsExternalService checks if the error is from an external service.
func IsExternalService(err error) bool {
	return errors.Is(err, ErrExternalService) ||
		errors.Is(err, ErrServiceUnavailable) ||
		errors.Is(err, ErrTimeout)
}

// RequiresOperatorAlert reports whether a pipeline failure must be escalated.
// Generation-quality failures are absorbed by the fallback path and never alert.
func RequiresOperatorAlert(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrTransientGeneration) || errors.Is(err, ErrExhaustedRetries) || errors.Is(err, ErrRateLimited) {
		return false
	}
	return true
}
