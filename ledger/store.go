/*
store.go - Persistence interfaces for balances, audit, and accrual runs

PURPOSE:
  Defines the interface between the domain services and the database.
  Services receive a store handle explicitly (no package-level pool), so
  tests can substitute the in-memory implementation.

KEY INTERFACES:
  BalanceStore:      Transactional read-validate-write of one balance row
  EmployeeDirectory: Roster and eligibility, owned by user management

ATOMICITY CONTRACT:
  Mutate runs the whole read-apply-write-audit sequence inside a single
  database transaction per employee. The audit rows are written in the
  same transaction; if the audit write fails, the balance write rolls
  back. Audit completeness is a hard guarantee, not best-effort.

CONCURRENCY CONTRACT:
  The balance row carries a version. Mutate persists with a
  compare-and-set on that version and returns ErrStoreConflict when it
  detects a concurrent writer. Callers retry a bounded number of times.
  Two concurrent writers touching different fields of the same employee
  therefore serialize instead of losing an update.

IMPLEMENTATIONS:
  - store/sqlite:  Production SQLite (same patterns apply to PostgreSQL)
  - ledger/store:  In-memory for testing

SEE ALSO:
  - store/sqlite/sqlite.go: Concrete implementation
  - leave/service.go: The retry loop around Mutate
*/
package ledger

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// MUTATIONS
// =============================================================================

// FieldChange is one validated delta the apply function wants persisted.
// The store trusts NewValue: validation has already happened.
type FieldChange struct {
	Field       LeaveType
	Delta       decimal.Decimal
	NewValue    decimal.Decimal
	Reason      AdjustmentReason
	ReferenceID string
	Note        string
}

// ApplyFunc inspects the current balance and returns the changes to
// persist. Returning an error aborts the transaction with no mutation.
// Returning no changes commits only the run marker, if any.
type ApplyFunc func(current Balance) ([]FieldChange, error)

// MutationRequest bundles everything one transactional mutation needs.
type MutationRequest struct {
	EmployeeID string
	ActorID    string
	Apply      ApplyFunc

	// RunMarker, when set, is recorded in the same transaction as the
	// balance write. A marker that already exists aborts the whole
	// mutation with ErrAccrualAlreadyRun.
	RunMarker *RunKey
}

// =============================================================================
// BALANCE STORE
// =============================================================================

// BalanceStore is the single source of truth for leave balances.
type BalanceStore interface {
	// Get returns the employee's balance. An employee without a row gets
	// a zero balance with Version 0; the row itself is created lazily on
	// first mutation.
	Get(ctx context.Context, employeeID string) (Balance, error)

	// Mutate executes one atomic read-apply-write-audit sequence. See
	// the package comment for the atomicity and concurrency contracts.
	Mutate(ctx context.Context, req MutationRequest) (Balance, []AuditEntry, error)

	// AuditTrail returns audit entries matching the filter, oldest first.
	AuditTrail(ctx context.Context, f AuditFilter) ([]AuditEntry, error)

	// AccrualRuns returns the run markers for a month, for reporting.
	AccrualRuns(ctx context.Context, year int, month time.Month) ([]AccrualRun, error)
}

// =============================================================================
// EMPLOYEE DIRECTORY - External collaborator
// =============================================================================

// EmployeeDirectory answers who exists and who is eligible. It is owned
// by the user-management subsystem; the ledger only reads from it.
type EmployeeDirectory interface {
	// Employee returns the record, or nil when unknown.
	Employee(ctx context.Context, id string) (*Employee, error)

	// ActiveEmployees returns the accrual roster.
	ActiveEmployees(ctx context.Context) ([]Employee, error)
}
