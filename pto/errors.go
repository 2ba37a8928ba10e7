/*
errors.go - Centralized error types for the PTO engine

PURPOSE:
  All error types in one place for consistency and discoverability.
  Callers match with errors.Is / errors.As; the HTTP layer maps these
  onto status codes.

ERROR CATEGORIES:
  1. Validation errors - collected lists of human-readable messages
  2. Domain errors - insufficient balance, invalid state transitions
  3. Storage errors - conditional-write conflicts, missing rows

SEE ALSO:
  - store.go: ApplyBalanceChange contract that produces conflict errors
  - request.go: Lifecycle transitions producing state errors
*/
package pto

import (
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrInsufficientBalance is returned when a deduction would drive a
	// balance negative.
	ErrInsufficientBalance = errors.New("insufficient balance")

	// ErrInvalidStateTransition is returned when a request is asked to leave
	// a state that does not allow the transition.
	ErrInvalidStateTransition = errors.New("invalid state transition")

	// ErrConcurrentModification is returned when a conditional write loses a
	// race: the balance version or request status no longer matches what the
	// writer read.
	ErrConcurrentModification = errors.New("concurrent modification detected")

	// ErrPolicyNotFound is returned when no active policy resolves for an
	// employee's company.
	ErrPolicyNotFound = errors.New("no active policy found")

	// ErrEmployeeNotFound is returned when a referenced employee doesn't exist.
	ErrEmployeeNotFound = errors.New("employee not found")

	// ErrRequestNotFound is returned when a referenced request doesn't exist.
	ErrRequestNotFound = errors.New("request not found")

	// ErrRunInProgress is returned when a batch accrual run is refused
	// because another run holds the guard or the durable run lock.
	ErrRunInProgress = errors.New("accrual run already in progress")

	// ErrNegativeBalance guards the storage layer: no balance write may
	// produce a negative value. Reaching it indicates a bug in a caller.
	ErrNegativeBalance = errors.New("balance would become negative")
)

// =============================================================================
// VALIDATION ERRORS - Collected, not fail-fast
// =============================================================================

// ValidationErrors is a list of human-readable validation messages. All
// problems with an input are collected and returned together so the caller
// can display every issue at once.
type ValidationErrors []string

func (v ValidationErrors) Error() string {
	return "validation failed: " + strings.Join(v, "; ")
}

// OrNil returns the list as an error, or nil when it is empty.
func (v ValidationErrors) OrNil() error {
	if len(v) == 0 {
		return nil
	}
	return v
}

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// InsufficientBalanceError reports how far short a balance falls.
type InsufficientBalanceError struct {
	EmployeeID string
	Category   CategoryCode
	Available  decimal.Decimal
	Requested  decimal.Decimal
}

func (e *InsufficientBalanceError) Error() string {
	return fmt.Sprintf("insufficient %s balance: available %s, requested %s, short %s hours",
		e.Category, e.Available, e.Requested, e.Shortfall())
}

func (e *InsufficientBalanceError) Unwrap() error { return ErrInsufficientBalance }

// Shortfall returns requested minus available.
func (e *InsufficientBalanceError) Shortfall() decimal.Decimal {
	return e.Requested.Sub(e.Available)
}

// InvalidStateTransitionError reports a rejected lifecycle transition.
type InvalidStateTransitionError struct {
	RequestID string
	From      RequestStatus
	Attempted RequestStatus
}

func (e *InvalidStateTransitionError) Error() string {
	return fmt.Sprintf("request %s: cannot transition %s -> %s", e.RequestID, e.From, e.Attempted)
}

func (e *InvalidStateTransitionError) Unwrap() error { return ErrInvalidStateTransition }

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsRetryable returns true if the error might succeed on retry.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrConcurrentModification)
}

// IsClientError returns true if the error is due to invalid client input
// rather than a system failure.
func IsClientError(err error) bool {
	var v ValidationErrors
	return errors.As(err, &v) ||
		errors.Is(err, ErrInsufficientBalance) ||
		errors.Is(err, ErrInvalidStateTransition) ||
		errors.Is(err, ErrRunInProgress)
}

// IsNotFound returns true if the error indicates a missing record.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrPolicyNotFound) ||
		errors.Is(err, ErrEmployeeNotFound) ||
		errors.Is(err, ErrRequestNotFound)
}
