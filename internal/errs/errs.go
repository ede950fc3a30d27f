// Package errs defines the error taxonomy shared across the service.
//
// Each error type pairs a sentinel (for errors.Is checks at the transport
// boundary) with a struct carrying details and an optional cause. The HTTP
// layer maps the sentinels to status codes; everything below wraps with
// fmt.Errorf("%w") as usual.
package errs

import (
	"errors"
	"fmt"
)

var (
	ErrValidation = errors.New("validation failed")
	ErrNotFound   = errors.New("not found")
	ErrAuth       = errors.New("unauthorized")
	ErrStorage    = errors.New("storage failure")
	ErrGateway    = errors.New("gateway failure")
)

// ValidationError reports malformed or missing client input.
type ValidationError struct {
	Field  string
	Reason string
}

func NewValidationError(field, reason string) *ValidationError {
	return &ValidationError{Field: field, Reason: reason}
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("validation failed: %s", e.Reason)
	}
	return fmt.Sprintf("validation failed: %s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

// NotFoundError reports that no matching record exists. The message is kept
// generic on purpose: public lookups must not reveal which lookup field was
// wrong.
type NotFoundError struct {
	Entity string
	ID     string
}

func NewNotFoundError(entity, id string) *NotFoundError {
	return &NotFoundError{Entity: entity, ID: id}
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found", e.Entity)
}

func (e *NotFoundError) Unwrap() error { return ErrNotFound }

// AuthError reports a missing or invalid credential.
type AuthError struct {
	Reason string
	Cause  error
}

func NewAuthError(reason string) *AuthError {
	return &AuthError{Reason: reason}
}

func NewAuthErrorWithCause(reason string, cause error) *AuthError {
	return &AuthError{Reason: reason, Cause: cause}
}

func (e *AuthError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("unauthorized: %s: %v", e.Reason, e.Cause)
	}
	return fmt.Sprintf("unauthorized: %s", e.Reason)
}

func (e *AuthError) Unwrap() error { return ErrAuth }

// StorageError reports that the record store was unavailable or a write
// failed. It is not retried by the orchestrator.
type StorageError struct {
	Op    string
	Cause error
}

func NewStorageError(op string, cause error) *StorageError {
	return &StorageError{Op: op, Cause: cause}
}

func (e *StorageError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("storage failure: %s: %v", e.Op, e.Cause)
	}
	return fmt.Sprintf("storage failure: %s", e.Op)
}

func (e *StorageError) Unwrap() error { return ErrStorage }

// GatewayError reports that an external provider (payment or notification)
// was unavailable or rejected a request.
type GatewayError struct {
	Provider string
	Cause    error
}

func NewGatewayError(provider string, cause error) *GatewayError {
	return &GatewayError{Provider: provider, Cause: cause}
}

func (e *GatewayError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("gateway failure: %s: %v", e.Provider, e.Cause)
	}
	return fmt.Sprintf("gateway failure: %s", e.Provider)
}

func (e *GatewayError) Unwrap() error { return ErrGateway }
