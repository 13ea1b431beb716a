/*
errors.go - Centralized error types for the ledger engine

PURPOSE:
  All error types in one place for consistency and discoverability.
  Service packages wrap these errors with employee and operation context.

ERROR CATEGORIES:
  1. Validation errors - Numeric rule violations, fail before any write
  2. Business-rule errors - Eligibility, authorization
  3. Store errors - Conflicts and availability

USAGE:
  Callers branch with errors.Is():

    if errors.Is(err, ledger.ErrCapExceeded) {
        // surface a user-actionable message; nothing was written
    }

SEE ALSO:
  - validator.go: Produces the validation errors
  - store.go: Produces the store errors
*/
package ledger

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrInvalidGranularity is returned when a delta is not a multiple of
	// the half-day unit.
	ErrInvalidGranularity = errors.New("delta must be a multiple of 0.5")

	// ErrInvalidMagnitude is returned for zero deltas, wrong-signed deltas,
	// and three-digit entries.
	ErrInvalidMagnitude = errors.New("invalid delta magnitude")

	// ErrCapExceeded is returned when a credit would push casual or sick
	// past the at-rest cap.
	ErrCapExceeded = errors.New("balance cap exceeded")

	// ErrNegativeBalance is returned when a debit would push casual or
	// sick below zero. LOP is exempt.
	ErrNegativeBalance = errors.New("negative balance disallowed")

	// ErrEmployeeNotEligible is returned when targeting an inactive or
	// terminated employee.
	ErrEmployeeNotEligible = errors.New("employee not eligible")

	// ErrEmployeeNotFound is returned when the directory has no record of
	// the employee at all.
	ErrEmployeeNotFound = errors.New("employee not found")

	// ErrForbidden is returned when the acting identity may not perform
	// the operation. Deliberately carries no internal state.
	ErrForbidden = errors.New("forbidden")

	// ErrStoreConflict is returned when the optimistic version check
	// fails. Retried a bounded number of times before surfacing.
	ErrStoreConflict = errors.New("concurrent modification detected")

	// ErrStoreUnavailable is returned when the store cannot be reached at
	// all. Fatal for the current operation; fatal for a whole accrual run.
	ErrStoreUnavailable = errors.New("store unavailable")

	// ErrAccrualAlreadyRun is returned when an accrual run marker already
	// exists for (employee, year, month). Expected on re-runs.
	ErrAccrualAlreadyRun = errors.New("accrual already run for this month")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// CapExceededError reports how far over the cap a credit would land.
type CapExceededError struct {
	EmployeeID string
	Field      LeaveType
	Current    decimal.Decimal
	Delta      decimal.Decimal
	Cap        decimal.Decimal
}

func (e *CapExceededError) Error() string {
	return fmt.Sprintf("cap exceeded: %s %s + %s > %s",
		e.Field, e.Current, e.Delta, e.Cap)
}

func (e *CapExceededError) Unwrap() error { return ErrCapExceeded }

// NegativeBalanceError reports a debit that would undercut zero on a
// capped field.
type NegativeBalanceError struct {
	EmployeeID string
	Field      LeaveType
	Current    decimal.Decimal
	Delta      decimal.Decimal
}

func (e *NegativeBalanceError) Error() string {
	return fmt.Sprintf("negative balance disallowed: %s %s %s",
		e.Field, e.Current, e.Delta)
}

func (e *NegativeBalanceError) Unwrap() error { return ErrNegativeBalance }

// ValidationError is the generic wrapper for granularity and magnitude
// failures, keeping the offending delta for diagnostics.
type ValidationError struct {
	Field LeaveType
	Delta decimal.Decimal
	Cause error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%v: %s delta %s", e.Cause, e.Field, e.Delta)
}

func (e *ValidationError) Unwrap() error { return e.Cause }

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsClientError returns true if the error is due to invalid input or a
// rule the caller can correct. No state was mutated.
func IsClientError(err error) bool {
	return errors.Is(err, ErrInvalidGranularity) ||
		errors.Is(err, ErrInvalidMagnitude) ||
		errors.Is(err, ErrCapExceeded) ||
		errors.Is(err, ErrNegativeBalance)
}

// IsRetryable returns true if the error might succeed on retry.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrStoreConflict)
}

// IsNotFound returns true if the error indicates a missing record.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrEmployeeNotFound)
}
