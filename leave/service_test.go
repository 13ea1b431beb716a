package leave_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hrstack/leave-ledger/leave"
	"github.com/hrstack/leave-ledger/ledger"
	"github.com/hrstack/leave-ledger/store/sqlite"
)

// =============================================================================
// TEST SETUP
// =============================================================================

var (
	hrActor     = leave.Actor{ID: "hr-1", Role: leave.RoleHR}
	adminActor  = leave.Actor{ID: "admin-1", Role: leave.RoleSuperAdmin}
	systemActor = leave.Actor{ID: "system", Role: leave.RoleSystem}
)

func newTestService(t *testing.T) (*leave.Service, *sqlite.Store) {
	store, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	svc := leave.NewService(store, store)
	return svc, store
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func seedEmployee(t *testing.T, store *sqlite.Store, id string, active bool) {
	t.Helper()
	hire := time.Date(2024, time.March, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, store.SaveEmployee(context.Background(),
		ledger.Employee{ID: id, Name: "Employee " + id, HireDate: hire, Active: active}))
}

// seedBalance pushes the employee's fields to the given values through
// manual adjustments.
func seedBalance(t *testing.T, svc *leave.Service, employeeID, casual, sick, lop string) {
	t.Helper()
	ctx := context.Background()
	for _, seed := range []struct {
		field ledger.LeaveType
		value string
	}{
		{ledger.LeaveCasual, casual},
		{ledger.LeaveSick, sick},
		{ledger.LeaveLOP, lop},
	} {
		delta := dec(seed.value)
		if delta.IsZero() {
			continue
		}
		_, err := svc.ManualAdjust(ctx, employeeID, seed.field, delta, adminActor, "seed")
		require.NoError(t, err)
	}
}

// =============================================================================
// MANUAL ADJUSTMENT
// =============================================================================

func TestManualAdjust_CreditAndDebit(t *testing.T) {
	// GIVEN: An active employee
	// WHEN: HR credits 2 casual, then corrects with -0.5
	// THEN: Balance lands at 1.5 with two audit rows

	svc, store := newTestService(t)
	ctx := context.Background()
	seedEmployee(t, store, "emp-1", true)

	bal, err := svc.ManualAdjust(ctx, "emp-1", ledger.LeaveCasual, dec("2"), hrActor, "joining grant")
	require.NoError(t, err)
	assert.True(t, bal.Casual.Equal(dec("2")))

	bal, err = svc.ManualAdjust(ctx, "emp-1", ledger.LeaveCasual, dec("-0.5"), hrActor, "correction")
	require.NoError(t, err)
	assert.True(t, bal.Casual.Equal(dec("1.5")))

	trail, err := svc.AuditTrail(ctx, ledger.AuditFilter{EmployeeID: "emp-1"})
	require.NoError(t, err)
	require.Len(t, trail, 2)
	assert.Equal(t, ledger.ReasonManualAdjustment, trail[0].Reason)
	assert.Equal(t, "hr-1", trail[0].ActorID)
	assert.Equal(t, "joining grant", trail[0].Note)
}

func TestManualAdjust_GranularityRejected_NoStateChange(t *testing.T) {
	// GIVEN: An active employee with casual 4
	// WHEN: Adjusting by 0.3 (not a half-day multiple)
	// THEN: InvalidGranularity; balance and audit unchanged

	svc, store := newTestService(t)
	ctx := context.Background()
	seedEmployee(t, store, "emp-1", true)
	seedBalance(t, svc, "emp-1", "4", "0", "0")

	_, err := svc.ManualAdjust(ctx, "emp-1", ledger.LeaveCasual, dec("0.3"), hrActor, "")
	assert.ErrorIs(t, err, ledger.ErrInvalidGranularity)

	bal, err := svc.GetBalance(ctx, "emp-1")
	require.NoError(t, err)
	assert.True(t, bal.Casual.Equal(dec("4")))

	trail, err := svc.AuditTrail(ctx, ledger.AuditFilter{EmployeeID: "emp-1"})
	require.NoError(t, err)
	assert.Len(t, trail, 1, "only the seed is on record")
}

func TestManualAdjust_CapRejected_BalanceRemains(t *testing.T) {
	// GIVEN: An employee with casual 98
	// WHEN: Credited +2 casual
	// THEN: CapExceeded; balance remains 98

	svc, store := newTestService(t)
	ctx := context.Background()
	seedEmployee(t, store, "emp-1", true)
	seedBalance(t, svc, "emp-1", "98", "0", "0")

	_, err := svc.ManualAdjust(ctx, "emp-1", ledger.LeaveCasual, dec("2"), hrActor, "")
	assert.ErrorIs(t, err, ledger.ErrCapExceeded)

	bal, err := svc.GetBalance(ctx, "emp-1")
	require.NoError(t, err)
	assert.True(t, bal.Casual.Equal(dec("98")))
}

func TestManualAdjust_RoleRules(t *testing.T) {
	// HR may not touch LOP; employees may not adjust anything

	svc, store := newTestService(t)
	ctx := context.Background()
	seedEmployee(t, store, "emp-1", true)

	_, err := svc.ManualAdjust(ctx, "emp-1", ledger.LeaveLOP, dec("1"), hrActor, "")
	assert.ErrorIs(t, err, ledger.ErrForbidden)

	selfActor := leave.Actor{ID: "emp-1", Role: leave.RoleEmployee}
	_, err = svc.ManualAdjust(ctx, "emp-1", ledger.LeaveCasual, dec("1"), selfActor, "")
	assert.ErrorIs(t, err, ledger.ErrForbidden)

	// Super Admin may adjust LOP
	bal, err := svc.ManualAdjust(ctx, "emp-1", ledger.LeaveLOP, dec("1"), adminActor, "")
	require.NoError(t, err)
	assert.True(t, bal.Lop.Equal(dec("1")))
}

func TestManualAdjust_Eligibility(t *testing.T) {
	// Unknown employees are 404s; inactive employees are rejected but
	// their balances stay readable

	svc, store := newTestService(t)
	ctx := context.Background()

	_, err := svc.ManualAdjust(ctx, "emp-404", ledger.LeaveCasual, dec("1"), hrActor, "")
	assert.ErrorIs(t, err, ledger.ErrEmployeeNotFound)

	seedEmployee(t, store, "emp-gone", false)
	_, err = svc.ManualAdjust(ctx, "emp-gone", ledger.LeaveCasual, dec("1"), hrActor, "")
	assert.ErrorIs(t, err, ledger.ErrEmployeeNotEligible)

	bal, err := svc.GetBalance(ctx, "emp-gone")
	require.NoError(t, err)
	assert.True(t, bal.Casual.IsZero(), "terminated employees stay readable")
}

// =============================================================================
// CONVERSION
// =============================================================================

func TestConvertLopToCasual_WidensNegativeLop(t *testing.T) {
	// GIVEN: {lop: -5, casual: 10}
	// WHEN: Converting amount=5
	// THEN: {lop: -10, casual: 15}; negative LOP widens further, allowed

	svc, store := newTestService(t)
	ctx := context.Background()
	seedEmployee(t, store, "emp-1", true)
	seedBalance(t, svc, "emp-1", "10", "0", "-5")

	bal, err := svc.ConvertLopToCasual(ctx, "emp-1", dec("5"), hrActor)
	require.NoError(t, err)
	assert.True(t, bal.Lop.Equal(dec("-10")))
	assert.True(t, bal.Casual.Equal(dec("15")))

	// Both sides audited under the conversion reason
	trail, err := svc.AuditTrail(ctx, ledger.AuditFilter{
		EmployeeID: "emp-1",
		Reasons:    []ledger.AdjustmentReason{ledger.ReasonConversion},
	})
	require.NoError(t, err)
	assert.Len(t, trail, 2)
}

func TestConvertLopToCasual_CapViolation_NeitherFieldChanges(t *testing.T) {
	// GIVEN: {casual: 98, lop: 10}
	// WHEN: Converting amount=5 (casual would land at 103)
	// THEN: CapExceeded and BOTH fields are untouched

	svc, store := newTestService(t)
	ctx := context.Background()
	seedEmployee(t, store, "emp-1", true)
	seedBalance(t, svc, "emp-1", "98", "0", "10")

	_, err := svc.ConvertLopToCasual(ctx, "emp-1", dec("5"), hrActor)
	assert.ErrorIs(t, err, ledger.ErrCapExceeded)

	bal, err := svc.GetBalance(ctx, "emp-1")
	require.NoError(t, err)
	assert.True(t, bal.Casual.Equal(dec("98")), "casual untouched")
	assert.True(t, bal.Lop.Equal(dec("10")), "lop untouched")
}

func TestConvertLopToCasual_RequiresRole(t *testing.T) {
	svc, store := newTestService(t)
	ctx := context.Background()
	seedEmployee(t, store, "emp-1", true)

	selfActor := leave.Actor{ID: "emp-1", Role: leave.RoleEmployee}
	_, err := svc.ConvertLopToCasual(ctx, "emp-1", dec("1"), selfActor)
	assert.ErrorIs(t, err, ledger.ErrForbidden)
}

// =============================================================================
// CONSUMPTION
// =============================================================================

func TestConsume_DebitsWithReference(t *testing.T) {
	// GIVEN: An employee with sick 3
	// WHEN: The approval workflow consumes 1.5 sick for request req-42
	// THEN: Balance drops and the audit row carries the request ID

	svc, store := newTestService(t)
	ctx := context.Background()
	seedEmployee(t, store, "emp-1", true)
	seedBalance(t, svc, "emp-1", "0", "3", "0")

	bal, err := svc.Consume(ctx, "emp-1", ledger.LeaveSick, dec("1.5"), systemActor, "req-42")
	require.NoError(t, err)
	assert.True(t, bal.Sick.Equal(dec("1.5")))

	trail, err := svc.AuditTrail(ctx, ledger.AuditFilter{
		EmployeeID: "emp-1",
		Reasons:    []ledger.AdjustmentReason{ledger.ReasonConsumption},
	})
	require.NoError(t, err)
	require.Len(t, trail, 1)
	assert.Equal(t, "req-42", trail[0].ReferenceID)
	assert.True(t, trail[0].Delta.Equal(dec("-1.5")))
}

func TestConsume_CasualFloorHolds_LopDoesNot(t *testing.T) {
	// Casual cannot go negative through consumption; LOP can

	svc, store := newTestService(t)
	ctx := context.Background()
	seedEmployee(t, store, "emp-1", true)
	seedBalance(t, svc, "emp-1", "1", "0", "0")

	_, err := svc.Consume(ctx, "emp-1", ledger.LeaveCasual, dec("2"), systemActor, "req-1")
	assert.ErrorIs(t, err, ledger.ErrNegativeBalance)

	bal, err := svc.Consume(ctx, "emp-1", ledger.LeaveLOP, dec("2"), systemActor, "req-2")
	require.NoError(t, err)
	assert.True(t, bal.Lop.Equal(dec("-2")), "loss of pay accumulates below zero")
}

// =============================================================================
// CONCURRENCY
// =============================================================================

func TestManualAdjust_ConcurrentDifferentFields_BothLand(t *testing.T) {
	// GIVEN: Two concurrent adjustments for the same employee, one
	//        casual +1 and one sick +0.5
	// WHEN: Both run to completion
	// THEN: Both deltas are reflected; no lost update

	svc, store := newTestService(t)
	ctx := context.Background()
	seedEmployee(t, store, "emp-1", true)

	var wg sync.WaitGroup
	wg.Add(2)
	errs := make(chan error, 2)

	go func() {
		defer wg.Done()
		_, err := svc.ManualAdjust(ctx, "emp-1", ledger.LeaveCasual, dec("1"), hrActor, "")
		errs <- err
	}()
	go func() {
		defer wg.Done()
		_, err := svc.ManualAdjust(ctx, "emp-1", ledger.LeaveSick, dec("0.5"), hrActor, "")
		errs <- err
	}()
	wg.Wait()
	close(errs)

	for err := range errs {
		require.NoError(t, err)
	}

	bal, err := svc.GetBalance(ctx, "emp-1")
	require.NoError(t, err)
	assert.True(t, bal.Casual.Equal(dec("1")))
	assert.True(t, bal.Sick.Equal(dec("0.5")))
	assert.Equal(t, int64(2), bal.Version)
}

// =============================================================================
// RETRY BEHAVIOR
// =============================================================================

// conflictOnceStore fails the first Mutate with a conflict, then
// delegates. Exercises the retry loop without racing real writers.
type conflictOnceStore struct {
	ledger.BalanceStore
	mu        sync.Mutex
	conflicts int
}

func (c *conflictOnceStore) Mutate(ctx context.Context, req ledger.MutationRequest) (ledger.Balance, []ledger.AuditEntry, error) {
	c.mu.Lock()
	first := c.conflicts == 0
	c.conflicts++
	c.mu.Unlock()
	if first {
		return ledger.Balance{}, nil, ledger.ErrStoreConflict
	}
	return c.BalanceStore.Mutate(ctx, req)
}

func TestManualAdjust_RetriesConflictThenSucceeds(t *testing.T) {
	// GIVEN: A store that reports one version conflict before accepting
	// WHEN: HR adjusts a balance
	// THEN: The retry absorbs the conflict; the caller sees success

	base, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { base.Close() })

	wrapped := &conflictOnceStore{BalanceStore: base}
	svc := leave.NewService(wrapped, base)

	ctx := context.Background()
	hire := time.Date(2024, time.March, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, base.SaveEmployee(ctx, ledger.Employee{ID: "emp-1", Name: "A", HireDate: hire, Active: true}))

	bal, err := svc.ManualAdjust(ctx, "emp-1", ledger.LeaveCasual, dec("1"), hrActor, "")
	require.NoError(t, err)
	assert.True(t, bal.Casual.Equal(dec("1")))
	assert.Equal(t, 2, wrapped.conflicts, "one conflict, one success")
}
