// Package common provides shared utilities and types used across the application.
package common

import (
	"context"
	"errors"
	"fmt"
)

// Common application errors.
var (
	// Storage errors.
	ErrNotFound          = errors.New("not found")
	ErrDuplicateMatch    = errors.New("duplicate enrichment source")
	ErrDatabaseCorrupted = errors.New("database corrupted")

	// ErrCacheMiss signals that a fingerprint has no cached categorization.
	// It drives control flow and is never reported as a failure.
	ErrCacheMiss = errors.New("cache miss")

	// ErrJobConflict is returned when a job of the same kind already holds the resource.
	ErrJobConflict = errors.New("job already active for resource")

	// Configuration errors.
	ErrMissingConfig = errors.New("missing configuration")
	ErrInvalidConfig = errors.New("invalid configuration")
)

// ValidationError reports a malformed request.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "invalid request: " + e.Reason
	}
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// NewValidationError creates a validation error for field.
func NewValidationError(field, reason string) error {
	return &ValidationError{Field: field, Reason: reason}
}

// NotFoundError reports an unknown entity id.
type NotFoundError struct {
	Entity string
	ID     string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %q not found", e.Entity, e.ID)
}

// Is lets errors.Is(err, ErrNotFound) match any NotFoundError.
func (e *NotFoundError) Is(target error) bool {
	return target == ErrNotFound
}

// NewNotFoundError creates a not-found error.
func NewNotFoundError(entity, id string) error {
	return &NotFoundError{Entity: entity, ID: id}
}

// ProviderErrorKind classifies AI provider failures.
type ProviderErrorKind string

// Provider failure kinds.
const (
	ProviderTimeout   ProviderErrorKind = "timeout"
	ProviderRateLimit ProviderErrorKind = "rate_limit"
	ProviderMalformed ProviderErrorKind = "malformed_response"
	ProviderAPI       ProviderErrorKind = "api_error"
	ProviderTransport ProviderErrorKind = "transport"
)

// ProviderError wraps a failed call to an AI categorization provider.
type ProviderError struct {
	Err      error
	Provider string
	Kind     ProviderErrorKind
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Provider, e.Kind, e.Err)
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}

// NewProviderError creates a provider error.
func NewProviderError(provider string, kind ProviderErrorKind, err error) error {
	return &ProviderError{Provider: provider, Kind: kind, Err: err}
}

// ProviderErrorKindOf returns the provider error kind carried by err.
// Deadline errors without a ProviderError wrapper count as timeouts.
func ProviderErrorKindOf(err error) ProviderErrorKind {
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe.Kind
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return ProviderTimeout
	}
	return ProviderAPI
}

// UserError represents an error that should be shown to the user.
type UserError struct {
	Err         error
	UserMessage string
}

func (e *UserError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.UserMessage, e.Err)
	}
	return e.UserMessage
}

func (e *UserError) Unwrap() error {
	return e.Err
}

// NewUserError creates a new user-friendly error.
func NewUserError(userMessage string, err error) error {
	return &UserError{
		UserMessage: userMessage,
		Err:         err,
	}
}

// IsRetryable determines if an error should trigger a retry.
func IsRetryable(err error) bool {
	if errors.Is(err, ErrRateLimit) ||
		errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe.Kind == ProviderRateLimit || pe.Kind == ProviderTimeout || pe.Kind == ProviderTransport
	}

	var retryableErr *RetryableError
	if errors.As(err, &retryableErr) {
		return retryableErr.Retryable
	}

	return false
}
