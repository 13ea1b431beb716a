package ledger_test

import (
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hrstack/leave-ledger/ledger"
)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

// =============================================================================
// GRANULARITY & MAGNITUDE
// =============================================================================

func TestValidate_Granularity(t *testing.T) {
	// GIVEN: A casual balance of 5
	// WHEN: Applying deltas of varying granularity
	// THEN: Only multiples of 0.5 pass

	cases := []struct {
		name  string
		delta string
		ok    bool
	}{
		{"whole day", "2", true},
		{"half day", "0.5", true},
		{"negative half day", "-1.5", true},
		{"third of a day", "0.3", false},
		{"quarter day", "0.25", false},
		{"almost half", "0.49", false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			kind := ledger.OpCredit
			if dec(tc.delta).IsNegative() {
				kind = ledger.OpDebit
			}
			_, err := ledger.Validate(dec("5"), ledger.LeaveCasual, dec(tc.delta), kind)
			if tc.ok {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, ledger.ErrInvalidGranularity)
			}
		})
	}
}

func TestValidate_Magnitude(t *testing.T) {
	// GIVEN: Any balance
	// WHEN: Applying a zero delta or one with |delta| >= 100
	// THEN: The operation is rejected before any other check runs

	_, err := ledger.Validate(dec("0"), ledger.LeaveLOP, dec("0"), ledger.OpCredit)
	assert.ErrorIs(t, err, ledger.ErrInvalidMagnitude, "zero delta is a no-op, reject it")

	_, err = ledger.Validate(dec("0"), ledger.LeaveLOP, dec("100"), ledger.OpCredit)
	assert.ErrorIs(t, err, ledger.ErrInvalidMagnitude)

	_, err = ledger.Validate(dec("0"), ledger.LeaveLOP, dec("-250"), ledger.OpDebit)
	assert.ErrorIs(t, err, ledger.ErrInvalidMagnitude)

	// Magnitude wins over granularity for out-of-range non-multiples
	_, err = ledger.Validate(dec("0"), ledger.LeaveLOP, dec("100.3"), ledger.OpCredit)
	assert.ErrorIs(t, err, ledger.ErrInvalidMagnitude)

	newValue, err := ledger.Validate(dec("0"), ledger.LeaveLOP, dec("99.5"), ledger.OpCredit)
	require.NoError(t, err)
	assert.True(t, newValue.Equal(dec("99.5")))
}

// =============================================================================
// SIGN PER OPERATION KIND
// =============================================================================

func TestValidate_SignPerKind(t *testing.T) {
	// GIVEN: A credit-kind operation with a negative delta (and vice versa)
	// WHEN: Validated
	// THEN: Rejected as a magnitude/sign violation

	_, err := ledger.Validate(dec("5"), ledger.LeaveCasual, dec("-1"), ledger.OpAccrual)
	assert.Error(t, err, "accrual must credit")

	_, err = ledger.Validate(dec("5"), ledger.LeaveCasual, dec("1"), ledger.OpConsumption)
	assert.Error(t, err, "consumption must debit")

	_, err = ledger.Validate(dec("5"), ledger.LeaveCasual, dec("1"), ledger.OpConversion)
	assert.NoError(t, err, "conversion credits the casual side")
}

// =============================================================================
// CAP & FLOOR
// =============================================================================

func TestValidate_CapOnCasualAndSick(t *testing.T) {
	// GIVEN: A casual balance of 98.5
	// WHEN: Crediting 1.0
	// THEN: Rejected with CapExceededError carrying the would-be value

	_, err := ledger.Validate(dec("98.5"), ledger.LeaveCasual, dec("1"), ledger.OpCredit)
	require.Error(t, err)

	var capErr *ledger.CapExceededError
	require.ErrorAs(t, err, &capErr)
	assert.True(t, capErr.Current.Add(capErr.Delta).Equal(dec("99.5")))
	assert.ErrorIs(t, err, ledger.ErrCapExceeded)

	// Landing exactly on the cap is allowed
	newValue, err := ledger.Validate(dec("98.5"), ledger.LeaveSick, dec("0.5"), ledger.OpCredit)
	require.NoError(t, err)
	assert.True(t, newValue.Equal(dec("99")))
}

func TestValidate_NegativeFloorOnCasualAndSick(t *testing.T) {
	// GIVEN: A sick balance of 1
	// WHEN: Debiting 1.5
	// THEN: Rejected with NegativeBalanceError; debiting to exactly 0 is fine

	_, err := ledger.Validate(dec("1"), ledger.LeaveSick, dec("-1.5"), ledger.OpDebit)
	require.Error(t, err)

	var negErr *ledger.NegativeBalanceError
	require.ErrorAs(t, err, &negErr)
	assert.ErrorIs(t, err, ledger.ErrNegativeBalance)

	newValue, err := ledger.Validate(dec("1"), ledger.LeaveSick, dec("-1"), ledger.OpDebit)
	require.NoError(t, err)
	assert.True(t, newValue.IsZero())
}

func TestValidate_LopUnbounded(t *testing.T) {
	// GIVEN: LOP balances near and past the capped range
	// WHEN: Credited above 99 or debited below zero
	// THEN: Both succeed; LOP has no cap and no floor

	newValue, err := ledger.Validate(dec("99"), ledger.LeaveLOP, dec("0.5"), ledger.OpCredit)
	require.NoError(t, err)
	assert.True(t, newValue.Equal(dec("99.5")))

	newValue, err = ledger.Validate(dec("0.5"), ledger.LeaveLOP, dec("-2"), ledger.OpDebit)
	require.NoError(t, err)
	assert.True(t, newValue.Equal(dec("-1.5")))
}

func TestValidate_IsClientError(t *testing.T) {
	// All validator rejections are client errors, not retryable
	for _, err := range []error{
		func() error { _, e := ledger.Validate(dec("0"), ledger.LeaveCasual, dec("0.3"), ledger.OpCredit); return e }(),
		func() error { _, e := ledger.Validate(dec("99"), ledger.LeaveCasual, dec("1"), ledger.OpCredit); return e }(),
		func() error { _, e := ledger.Validate(dec("0"), ledger.LeaveSick, dec("-1"), ledger.OpDebit); return e }(),
	} {
		require.Error(t, err)
		assert.True(t, ledger.IsClientError(err), "%v should be a client error", err)
		assert.False(t, ledger.IsRetryable(err))
	}

	assert.True(t, ledger.IsRetryable(ledger.ErrStoreConflict))
	assert.False(t, errors.Is(ledger.ErrStoreConflict, ledger.ErrStoreUnavailable))
}

// =============================================================================
// CLAMPING
// =============================================================================

func TestClampCredit(t *testing.T) {
	// GIVEN: A capped field near its cap
	// WHEN: Clamping the monthly credit
	// THEN: The delta shrinks to the headroom, down to zero

	full := ledger.ClampCredit(dec("50"), ledger.LeaveCasual, dec("1"))
	assert.True(t, full.Equal(dec("1")), "plenty of headroom keeps the full credit")

	partial := ledger.ClampCredit(dec("98.5"), ledger.LeaveCasual, dec("1"))
	assert.True(t, partial.Equal(dec("0.5")), "clamped to remaining headroom")

	none := ledger.ClampCredit(dec("99"), ledger.LeaveSick, dec("0.5"))
	assert.True(t, none.IsZero(), "no headroom, no credit")

	lop := ledger.ClampCredit(dec("200"), ledger.LeaveLOP, dec("1"))
	assert.True(t, lop.Equal(dec("1")), "lop is never clamped")
}
