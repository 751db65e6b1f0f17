/*
errors.go - Centralized error types for the billing engine

PURPOSE:
  All error types in one place. Business logic returns these values up to the
  request boundary, which turns them into an Outcome with Classify instead of
  unwinding through handlers.

ERROR CATEGORIES:
  1. Transient infrastructure - ErrConnectionLost
  2. Validation - ValidationError (malformed input, rejected before mutation)
  3. Conflict - ConflictError (unique key violations, names the field)
  4. Logic invariants - PreconditionError
  5. Not found - ErrContractNotFound, ErrTemplateNotFound, ErrPaymentNotFound

SEE ALSO:
  - ledger.go: wraps storage failures from a batch
  - store/sqlite/sqlite.go: maps driver errors onto these values
  - api/handlers.go: Outcome to HTTP status mapping
*/
package billing

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrConnectionLost is returned when storage stays unreachable after one
	// reconnect attempt.
	ErrConnectionLost = errors.New("storage connection lost")

	ErrValidation   = errors.New("validation failed")
	ErrConflict     = errors.New("conflict")
	ErrPrecondition = errors.New("precondition failed")

	ErrContractNotFound = errors.New("contract not found")
	ErrTemplateNotFound = errors.New("pricing template not found")
	ErrPaymentNotFound  = errors.New("payment record not found")
	ErrResidentNotFound = errors.New("resident not found")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// ValidationError rejects input before any mutation happens.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Reason
	}
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

// ConflictError reports a duplicate value for a unique field.
type ConflictError struct {
	Field string
	Value string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("%s %q already exists", e.Field, e.Value)
}

func (e *ConflictError) Unwrap() error { return ErrConflict }

// PreconditionError reports an operation that is not allowed in the current state.
type PreconditionError struct {
	Reason string
}

func (e *PreconditionError) Error() string { return e.Reason }

func (e *PreconditionError) Unwrap() error { return ErrPrecondition }

// =============================================================================
// OUTCOME - Explicit result kind at the request boundary
// =============================================================================

type Outcome int

const (
	OutcomeOK Outcome = iota
	OutcomeConnectionLost
	OutcomeValidation
	OutcomeConflict
	OutcomePrecondition
	OutcomeNotFound
	OutcomeInternal
)

func (o Outcome) String() string {
	switch o {
	case OutcomeOK:
		return "ok"
	case OutcomeConnectionLost:
		return "connection_lost"
	case OutcomeValidation:
		return "validation"
	case OutcomeConflict:
		return "conflict"
	case OutcomePrecondition:
		return "precondition"
	case OutcomeNotFound:
		return "not_found"
	default:
		return "internal"
	}
}

// Classify maps an error returned by this package (or wrapped by it) to its Outcome.
func Classify(err error) Outcome {
	switch {
	case err == nil:
		return OutcomeOK
	case errors.Is(err, ErrConnectionLost):
		return OutcomeConnectionLost
	case errors.Is(err, ErrValidation):
		return OutcomeValidation
	case errors.Is(err, ErrConflict):
		return OutcomeConflict
	case errors.Is(err, ErrPrecondition):
		return OutcomePrecondition
	case IsNotFound(err):
		return OutcomeNotFound
	default:
		return OutcomeInternal
	}
}

// IsNotFound returns true if the error indicates a missing record.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrContractNotFound) ||
		errors.Is(err, ErrTemplateNotFound) ||
		errors.Is(err, ErrPaymentNotFound) ||
		errors.Is(err, ErrResidentNotFound)
}

func invalid(field, format string, args ...any) error {
	return &ValidationError{Field: field, Reason: fmt.Sprintf(format, args...)}
}
