/*
service.go - Single-employee ledger operations

PURPOSE:
  The Service is what the controller layer (and the approval workflow)
  calls for everything except the monthly batch:

    GetBalance         read-only snapshot
    ManualAdjust       HR "Add Leaves" credit, or a debit correction
    ConvertLopToCasual atomic two-field transfer
    Consume            approved-request debit (collaborator contract)

REQUEST FLOW:
  1. Eligibility: the employee must exist and be active (reads only
     tolerate missing rows - GetBalance of an unknown employee is zero)
  2. Authorization: the actor's role must allow the field and operation
  3. Validation: ledger.Validate accepts or rejects the delta
  4. Mutation: one store transaction writes balance + audit together
  5. Conflict retry: ErrStoreConflict is retried 3 times with backoff

GUARANTEES:
  - Validator failures never reach the store (no partial writes)
  - Conversion updates both fields or neither
  - Every successful mutation leaves one audit row per touched field

SEE ALSO:
  - accrual.go: The monthly batch built on the same store contract
  - ledger/validator.go: The numeric rules consulted here
*/
package leave

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/hrstack/leave-ledger/ledger"
)

// maxConflictRetries bounds the optimistic-concurrency retry loop.
const maxConflictRetries = 3

// conflictBackoff is the initial delay between retries; doubled each try.
const conflictBackoff = 25 * time.Millisecond

// Service exposes the single-employee ledger operations.
type Service struct {
	Store     ledger.BalanceStore
	Directory ledger.EmployeeDirectory
}

// NewService creates a service around the given store and directory.
func NewService(store ledger.BalanceStore, directory ledger.EmployeeDirectory) *Service {
	return &Service{Store: store, Directory: directory}
}

// =============================================================================
// READS
// =============================================================================

// GetBalance returns the employee's current balances. Read-only: an
// employee with no ledger row gets zeros, and no row is created.
func (s *Service) GetBalance(ctx context.Context, employeeID string) (ledger.Balance, error) {
	return s.Store.Get(ctx, employeeID)
}

// AuditTrail returns the employee's audit history, oldest first.
func (s *Service) AuditTrail(ctx context.Context, f ledger.AuditFilter) ([]ledger.AuditEntry, error) {
	return s.Store.AuditTrail(ctx, f)
}

// =============================================================================
// MANUAL ADJUSTMENT - The "Add Leaves" action (and debit corrections)
// =============================================================================

// ManualAdjust applies an ad-hoc signed delta to one leave type. Positive
// deltas are credits, negative deltas corrections. Role rules: HR may
// adjust casual and sick; LOP is Super Admin only.
func (s *Service) ManualAdjust(ctx context.Context, employeeID string, leaveType ledger.LeaveType, delta decimal.Decimal, actor Actor, note string) (ledger.Balance, error) {
	if !leaveType.Valid() {
		return ledger.Balance{}, &ledger.ValidationError{Field: leaveType, Delta: delta, Cause: ledger.ErrInvalidMagnitude}
	}
	if !actor.Role.CanAdjust(leaveType) {
		return ledger.Balance{}, fmt.Errorf("manual adjust %s/%s: %w", employeeID, leaveType, ledger.ErrForbidden)
	}
	if err := s.requireEligible(ctx, employeeID); err != nil {
		return ledger.Balance{}, err
	}

	kind := ledger.OpCredit
	if delta.IsNegative() {
		kind = ledger.OpDebit
	}

	bal, _, err := s.mutateWithRetry(ctx, ledger.MutationRequest{
		EmployeeID: employeeID,
		ActorID:    actor.ID,
		Apply: func(current ledger.Balance) ([]ledger.FieldChange, error) {
			newValue, err := ledger.Validate(current.Field(leaveType), leaveType, delta, kind)
			if err != nil {
				return nil, err
			}
			return []ledger.FieldChange{{
				Field:    leaveType,
				Delta:    delta,
				NewValue: newValue,
				Reason:   ledger.ReasonManualAdjustment,
				Note:     note,
			}}, nil
		},
	})
	return bal, err
}

// =============================================================================
// CONVERSION - LOP -> casual, atomically
// =============================================================================

// ConvertLopToCasual moves amount from the LOP balance to the casual
// balance. The amount may exceed the current LOP balance: the debit is
// allowed to drive LOP negative (or further negative). The only hard
// constraint is the casual cap; on any failure neither field changes.
func (s *Service) ConvertLopToCasual(ctx context.Context, employeeID string, amount decimal.Decimal, actor Actor) (ledger.Balance, error) {
	if !actor.Role.CanConvert() {
		return ledger.Balance{}, fmt.Errorf("convert lop for %s: %w", employeeID, ledger.ErrForbidden)
	}
	if err := s.requireEligible(ctx, employeeID); err != nil {
		return ledger.Balance{}, err
	}

	bal, _, err := s.mutateWithRetry(ctx, ledger.MutationRequest{
		EmployeeID: employeeID,
		ActorID:    actor.ID,
		Apply: func(current ledger.Balance) ([]ledger.FieldChange, error) {
			// Cap check on the credited side first: a rejection here
			// aborts before the LOP side is even computed.
			newCasual, err := ledger.Validate(current.Casual, ledger.LeaveCasual, amount, ledger.OpConversion)
			if err != nil {
				return nil, err
			}
			return []ledger.FieldChange{
				{
					Field:    ledger.LeaveCasual,
					Delta:    amount,
					NewValue: newCasual,
					Reason:   ledger.ReasonConversion,
				},
				{
					Field:    ledger.LeaveLOP,
					Delta:    amount.Neg(),
					NewValue: current.Lop.Sub(amount),
					Reason:   ledger.ReasonConversion,
				},
			}, nil
		},
	})
	return bal, err
}

// =============================================================================
// CONSUMPTION - Approval-workflow collaborator contract
// =============================================================================

// Consume debits a balance on behalf of an approved leave request. The
// requestID is recorded as the audit reference. Casual and sick may not
// go negative; LOP may (that is what loss-of-pay means).
func (s *Service) Consume(ctx context.Context, employeeID string, leaveType ledger.LeaveType, amount decimal.Decimal, actor Actor, requestID string) (ledger.Balance, error) {
	if !leaveType.Valid() {
		return ledger.Balance{}, &ledger.ValidationError{Field: leaveType, Delta: amount, Cause: ledger.ErrInvalidMagnitude}
	}
	if !actor.Role.CanConsume() {
		return ledger.Balance{}, fmt.Errorf("consume %s/%s: %w", employeeID, leaveType, ledger.ErrForbidden)
	}
	if err := s.requireEligible(ctx, employeeID); err != nil {
		return ledger.Balance{}, err
	}

	delta := amount.Neg()
	bal, _, err := s.mutateWithRetry(ctx, ledger.MutationRequest{
		EmployeeID: employeeID,
		ActorID:    actor.ID,
		Apply: func(current ledger.Balance) ([]ledger.FieldChange, error) {
			newValue, err := ledger.Validate(current.Field(leaveType), leaveType, delta, ledger.OpConsumption)
			if err != nil {
				return nil, err
			}
			return []ledger.FieldChange{{
				Field:       leaveType,
				Delta:       delta,
				NewValue:    newValue,
				Reason:      ledger.ReasonConsumption,
				ReferenceID: requestID,
			}}, nil
		},
	})
	return bal, err
}

// =============================================================================
// HELPERS
// =============================================================================

// requireEligible rejects mutations targeting unknown or inactive
// employees.
func (s *Service) requireEligible(ctx context.Context, employeeID string) error {
	emp, err := s.Directory.Employee(ctx, employeeID)
	if err != nil {
		return fmt.Errorf("lookup employee %s: %w", employeeID, err)
	}
	if emp == nil {
		return fmt.Errorf("employee %s: %w", employeeID, ledger.ErrEmployeeNotFound)
	}
	if !emp.Active {
		return fmt.Errorf("employee %s: %w", employeeID, ledger.ErrEmployeeNotEligible)
	}
	return nil
}

// mutateWithRetry wraps Store.Mutate with the bounded conflict-retry
// loop. Validation and business-rule errors surface immediately; only
// ErrStoreConflict is retried.
func (s *Service) mutateWithRetry(ctx context.Context, req ledger.MutationRequest) (ledger.Balance, []ledger.AuditEntry, error) {
	backoff := conflictBackoff
	var lastErr error

	for attempt := 0; attempt < maxConflictRetries; attempt++ {
		bal, entries, err := s.Store.Mutate(ctx, req)
		if err == nil || !errors.Is(err, ledger.ErrStoreConflict) {
			return bal, entries, err
		}
		lastErr = err

		select {
		case <-ctx.Done():
			return ledger.Balance{}, nil, ctx.Err()
		case <-time.After(backoff):
		}
		backoff *= 2
	}
	return ledger.Balance{}, nil, lastErr
}
