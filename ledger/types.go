/*
Package ledger provides the core leave-balance engine.

PURPOSE:
  This package contains the types and rules for tracking employee leave
  balances. Casual, sick, and loss-of-pay (LOP) balances are held in a
  single record per employee, mutated only through validated, audited,
  transactional operations.

KEY CONCEPTS IN THIS FILE (types.go):
  - LeaveType: Which balance field an operation touches (casual|sick|lop)
  - Balance: The per-employee balance record (single source of truth)
  - AuditEntry: An immutable record of one field mutation
  - OperationKind: Why a delta is being applied (accrual, debit, ...)

DESIGN PRINCIPLES:
  1. Precision: Uses decimal.Decimal to avoid floating-point errors
  2. Auditability: Every mutation produces audit rows in the same transaction
  3. Validation first: No delta reaches storage without passing the validator
  4. Optimistic concurrency: Balance rows carry a version for CAS updates

SEE ALSO:
  - validator.go: Numeric invariants (caps, granularity, negatives)
  - store.go: Persistence interfaces
  - errors.go: Error taxonomy
*/
package ledger

import (
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// LEAVE TYPES
// =============================================================================

// LeaveType identifies one of the three balance fields.
type LeaveType string

const (
	LeaveCasual LeaveType = "casual"
	LeaveSick   LeaveType = "sick"
	LeaveLOP    LeaveType = "lop"
)

// Valid reports whether t is one of the known leave types.
func (t LeaveType) Valid() bool {
	switch t {
	case LeaveCasual, LeaveSick, LeaveLOP:
		return true
	}
	return false
}

// Capped reports whether the balance field is subject to the 99-unit cap
// and the non-negative floor. LOP is the only uncapped field: it may grow
// without bound and may go negative (leave taken without pay, or a
// conversion that overdrew it).
func (t LeaveType) Capped() bool {
	return t == LeaveCasual || t == LeaveSick
}

// LeaveTypes lists all balance fields in display order.
func LeaveTypes() []LeaveType {
	return []LeaveType{LeaveCasual, LeaveSick, LeaveLOP}
}

// =============================================================================
// OPERATION KINDS
// =============================================================================

// OperationKind classifies why a delta is applied. The validator applies
// different sign and floor rules per kind.
type OperationKind string

const (
	OpAccrual     OperationKind = "accrual"     // monthly batch credit
	OpCredit      OperationKind = "credit"      // manual HR credit ("Add Leaves")
	OpDebit       OperationKind = "debit"       // manual correction of an over-credit
	OpConversion  OperationKind = "conversion"  // LOP -> casual transfer
	OpConsumption OperationKind = "consumption" // approval workflow debiting a balance
)

// =============================================================================
// BALANCE - One record per employee, upserted in place
// =============================================================================

// Balance is the per-employee balance record. It is created lazily on
// first touch (all fields zero) and lives for the employee's tenure.
type Balance struct {
	EmployeeID string
	Casual     decimal.Decimal
	Sick       decimal.Decimal
	Lop        decimal.Decimal

	// Version guards against lost updates: writers persist with a
	// compare-and-set on this value and retry on conflict.
	Version int64

	LastUpdated time.Time
	CreatedBy   string
	UpdatedBy   string
}

// Field returns the value of one balance field.
func (b Balance) Field(t LeaveType) decimal.Decimal {
	switch t {
	case LeaveCasual:
		return b.Casual
	case LeaveSick:
		return b.Sick
	case LeaveLOP:
		return b.Lop
	}
	return decimal.Zero
}

// SetField overwrites one balance field.
func (b *Balance) SetField(t LeaveType, v decimal.Decimal) {
	switch t {
	case LeaveCasual:
		b.Casual = v
	case LeaveSick:
		b.Sick = v
	case LeaveLOP:
		b.Lop = v
	}
}

// =============================================================================
// AUDIT ENTRIES - Append-only, written with the mutation they describe
// =============================================================================

// AdjustmentReason is the audit classification of a mutation.
type AdjustmentReason string

const (
	ReasonAccrual          AdjustmentReason = "accrual"
	ReasonManualAdjustment AdjustmentReason = "manual_adjustment"
	ReasonConversion       AdjustmentReason = "conversion"
	ReasonConsumption      AdjustmentReason = "consumption"
)

// AuditEntry records one field mutation: who changed what, when, and the
// balance that resulted. Entries are immutable and retained indefinitely.
type AuditEntry struct {
	ID               string
	EmployeeID       string
	Field            LeaveType
	Delta            decimal.Decimal
	ResultingBalance decimal.Decimal
	ActorID          string
	Reason           AdjustmentReason

	// ReferenceID links the entry to an external record, e.g. the leave
	// request that triggered a consumption.
	ReferenceID string

	// Note is free-form operator text ("correcting double credit").
	Note string

	OccurredAt time.Time
}

// AuditFilter narrows audit-trail queries.
type AuditFilter struct {
	EmployeeID string
	Field      LeaveType // zero value = all fields
	Reasons    []AdjustmentReason
	From       time.Time // zero value = unbounded
	To         time.Time // zero value = unbounded
	Limit      int       // 0 = no limit
}

// =============================================================================
// ACCRUAL RUNS - Idempotence markers for the monthly batch
// =============================================================================

// RunKey identifies one logical accrual run for one employee. The store
// enforces uniqueness on (employee, year, month) so re-invoking a month
// never double-credits.
type RunKey struct {
	Year  int
	Month time.Month
}

// AccrualRun is the persisted marker for a completed per-employee credit.
type AccrualRun struct {
	ID             string
	EmployeeID     string
	Year           int
	Month          time.Month
	CreditedCasual decimal.Decimal
	CreditedSick   decimal.Decimal
	CreatedAt      time.Time
}

// =============================================================================
// EMPLOYEES - External entity, referenced but never owned by the ledger
// =============================================================================

// Employee mirrors the fields the ledger needs from the user-management
// subsystem: identity and eligibility. The ledger never mutates employees.
type Employee struct {
	ID       string
	Name     string
	Email    string
	HireDate time.Time
	Active   bool
}

// MustParseDecimal parses s, returning zero on malformed input. Used when
// scanning values the store itself wrote.
func MustParseDecimal(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}
