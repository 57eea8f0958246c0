package app

import (
	"errors"
	"fmt"

	"modeld/internal/access"
	"modeld/internal/validate"
)

var (
	// ErrEmailAndPasswordRequired indicates missing signup/login input.
	ErrEmailAndPasswordRequired = errors.New("email and password are required")
	// ErrEmailTaken indicates a signup with an already registered email.
	ErrEmailTaken = errors.New("email already registered")
	// ErrInvalidCredentials indicates a failed login.
	ErrInvalidCredentials = errors.New("invalid email or password")
)

// DeniedError carries the guard decision for a refused operation.
type DeniedError struct {
	Decision access.Decision
}

func (e *DeniedError) Error() string {
	return fmt.Sprintf("access denied: %s", e.Decision.Reason)
}

// ValidationError carries the complete ordered violation list for a rejected
// record payload.
type ValidationError struct {
	Violations []validate.Violation
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("record validation failed with %d violation(s)", len(e.Violations))
}
