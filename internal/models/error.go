package models

import (
	"errors"
	"fmt"
)

// Sentinel errors for common failure conditions
var (
	ErrNotFound       = errors.New("resource not found")
	ErrConflict       = errors.New("resource already exists")
	ErrUnauthorized   = errors.New("unauthorized")
	ErrForbidden      = errors.New("forbidden")
	ErrBadRequest     = errors.New("bad request")
	ErrInternalServer = errors.New("internal server error")

	// Account state errors
	ErrAccountDisabled   = errors.New("account is deactivated")
	ErrAccountDeleted    = errors.New("account is deleted")
	ErrTwoFactorRequired = errors.New("two factor authentication code required")

	// ErrInvalidOrExpired is returned for any secret that cannot be consumed.
	// Wrong, used and expired secrets are reported identically.
	ErrInvalidOrExpired = fmt.Errorf("%w: invalid or expired code", ErrUnauthorized)
)

// ValidationError reports malformed client input. Field is optional.
type ValidationError struct {
	Field   string
	Message string
	Err     error
}

func (e *ValidationError) Error() string {
	msg := e.Message
	if msg == "" {
		msg = "invalid input"
	}
	if e.Err != nil {
		msg = msg + ": " + e.Err.Error()
	}
	if e.Field != "" {
		return e.Field + ": " + msg
	}
	return msg
}

func (e *ValidationError) Unwrap() error { return e.Err }

func (e *ValidationError) Is(target error) bool { return target == ErrBadRequest }

// NewValidationError builds a ValidationError for field.
func NewValidationError(field, message string) *ValidationError {
	return &ValidationError{Field: field, Message: message}
}

// ConflictError reports a state conflict tied to one request field,
// e.g. an email that is already verified.
type ConflictError struct {
	Field   string
	Message string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func (e *ConflictError) Is(target error) bool { return target == ErrConflict }

// NewConflictError builds a ConflictError for field.
func NewConflictError(field, message string) *ConflictError {
	return &ConflictError{Field: field, Message: message}
}

// InfraError wraps a persistence or network failure.
type InfraError struct {
	Op  string
	Err error
}

func (e *InfraError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *InfraError) Unwrap() error { return e.Err }

func (e *InfraError) Is(target error) bool { return target == ErrInternalServer }

// Infra wraps err as an InfraError unless it is nil or already a domain error.
func Infra(op string, err error) error {
	if err == nil {
		return nil
	}
	if IsDomainError(err) {
		return err
	}
	return &InfraError{Op: op, Err: err}
}

// IsDomainError reports whether err is one of the client facing errors above.
func IsDomainError(err error) bool {
	for _, target := range []error{ErrNotFound, ErrConflict, ErrUnauthorized, ErrForbidden, ErrBadRequest, ErrAccountDisabled, ErrAccountDeleted, ErrTwoFactorRequired} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
