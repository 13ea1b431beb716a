/*
validator.go - Pure numeric rule checker for balance mutations

PURPOSE:
  Every mutating path consults Validate before any write reaches the
  store, so the rule set has ONE authoritative definition instead of
  being scattered across form handlers and route bodies.

RULES:
  1. Granularity: deltas are half-day multiples (0.5)
  2. Magnitude: |delta| < 100, and delta is never zero
  3. Sign: credits are positive, debits and consumption negative
  4. Cap: casual/sick never exceed 99 at rest
  5. Floor: casual/sick never go negative; LOP may (conversion overdraw,
     unpaid leave)

PURITY:
  Validate is side-effect free: given the current field value and a
  delta, it returns the accepted new value or an error. It never touches
  storage, which makes the whole rule set unit-testable in isolation.

SEE ALSO:
  - policy.go: The constants these rules are built from
  - errors.go: The errors Validate returns
*/
package ledger

import "github.com/shopspring/decimal"

// Validate checks delta against the numeric invariants for the given
// field and operation kind, returning the resulting field value.
// On error the returned value is the unchanged current value.
func Validate(current decimal.Decimal, field LeaveType, delta decimal.Decimal, kind OperationKind) (decimal.Decimal, error) {
	if delta.IsZero() {
		return current, &ValidationError{Field: field, Delta: delta, Cause: ErrInvalidMagnitude}
	}
	if delta.Abs().GreaterThanOrEqual(MaxAdjustmentMagnitude) {
		return current, &ValidationError{Field: field, Delta: delta, Cause: ErrInvalidMagnitude}
	}
	if !delta.Mod(Granularity).IsZero() {
		return current, &ValidationError{Field: field, Delta: delta, Cause: ErrInvalidGranularity}
	}

	switch kind {
	case OpAccrual, OpCredit, OpConversion:
		if delta.IsNegative() {
			return current, &ValidationError{Field: field, Delta: delta, Cause: ErrInvalidMagnitude}
		}
	case OpDebit, OpConsumption:
		if delta.IsPositive() {
			return current, &ValidationError{Field: field, Delta: delta, Cause: ErrInvalidMagnitude}
		}
	}

	result := current.Add(delta)

	if field.Capped() {
		if result.GreaterThan(MaxCappedBalance) {
			return current, &CapExceededError{
				Field:   field,
				Current: current,
				Delta:   delta,
				Cap:     MaxCappedBalance,
			}
		}
		if result.IsNegative() {
			return current, &NegativeBalanceError{
				Field:   field,
				Current: current,
				Delta:   delta,
			}
		}
	}

	return result, nil
}

// ClampCredit returns the largest credit <= delta that keeps a capped
// field at or under the cap. Used by the accrual engine so long-tenured
// employees at the cap are topped up to it instead of failing the month.
// For uncapped fields the delta is returned unchanged.
func ClampCredit(current decimal.Decimal, field LeaveType, delta decimal.Decimal) decimal.Decimal {
	if !field.Capped() {
		return delta
	}
	headroom := MaxCappedBalance.Sub(current)
	if headroom.IsNegative() {
		return decimal.Zero
	}
	if delta.GreaterThan(headroom) {
		return headroom
	}
	return delta
}
