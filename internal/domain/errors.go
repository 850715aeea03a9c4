package domain

import (
	"errors"
	"fmt"
)

// Sentinel errors for the service-wide error taxonomy. Services and
// repositories wrap these with context; handlers map them to HTTP status
// codes with errors.Is.
var (
	// ErrValidation marks malformed or semantically invalid input
	ErrValidation = errors.New("validation error")

	// ErrConflict marks a state conflict: duplicate keys, stale versions,
	// or transitions out of a terminal status
	ErrConflict = errors.New("conflict")

	// ErrNotFound marks a missing record
	ErrNotFound = errors.New("not found")

	// ErrReconciliationMismatch marks a divergence between a stored
	// position and its full ledger replay
	ErrReconciliationMismatch = errors.New("reconciliation mismatch")
)

// Validationf builds a validation error with a formatted message
func Validationf(format string, args ...interface{}) error {
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), ErrValidation)
}

// Conflictf builds a conflict error with a formatted message
func Conflictf(format string, args ...interface{}) error {
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), ErrConflict)
}

// NotFoundf builds a not-found error with a formatted message
func NotFoundf(format string, args ...interface{}) error {
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), ErrNotFound)
}
