package store_test

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hrstack/leave-ledger/ledger"
	"github.com/hrstack/leave-ledger/ledger/store"
)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func credit(employeeID string, field ledger.LeaveType, amount string) ledger.MutationRequest {
	return ledger.MutationRequest{
		EmployeeID: employeeID,
		ActorID:    "hr-1",
		Apply: func(current ledger.Balance) ([]ledger.FieldChange, error) {
			delta := dec(amount)
			return []ledger.FieldChange{{
				Field:    field,
				Delta:    delta,
				NewValue: current.Field(field).Add(delta),
				Reason:   ledger.ReasonManualAdjustment,
			}}, nil
		},
	}
}

func TestMemory_MutateAndGet(t *testing.T) {
	// The in-memory store mirrors the SQLite semantics: lazy row
	// creation, version bumps, audit rows per field change

	m := store.NewMemory()
	ctx := context.Background()

	bal, err := m.Get(ctx, "emp-1")
	require.NoError(t, err)
	assert.Equal(t, int64(0), bal.Version)

	bal, entries, err := m.Mutate(ctx, credit("emp-1", ledger.LeaveCasual, "2"))
	require.NoError(t, err)
	assert.True(t, bal.Casual.Equal(dec("2")))
	assert.Equal(t, int64(1), bal.Version)
	require.Len(t, entries, 1)
	assert.NotEmpty(t, entries[0].ID)

	bal, _, err = m.Mutate(ctx, credit("emp-1", ledger.LeaveSick, "0.5"))
	require.NoError(t, err)
	assert.Equal(t, int64(2), bal.Version)
}

func TestMemory_RunMarkerIdempotence(t *testing.T) {
	m := store.NewMemory()
	ctx := context.Background()

	marker := &ledger.RunKey{Year: 2026, Month: time.September}

	req := credit("emp-1", ledger.LeaveCasual, "1")
	req.RunMarker = marker
	_, _, err := m.Mutate(ctx, req)
	require.NoError(t, err)

	req2 := credit("emp-1", ledger.LeaveCasual, "1")
	req2.RunMarker = marker
	_, _, err = m.Mutate(ctx, req2)
	assert.ErrorIs(t, err, ledger.ErrAccrualAlreadyRun)

	bal, err := m.Get(ctx, "emp-1")
	require.NoError(t, err)
	assert.True(t, bal.Casual.Equal(dec("1")))

	runs, err := m.AccrualRuns(ctx, 2026, time.September)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.True(t, runs[0].CreditedCasual.Equal(dec("1")))
}

func TestMemory_SetClock(t *testing.T) {
	m := store.NewMemory()
	ctx := context.Background()

	frozen := time.Date(2026, time.September, 1, 9, 0, 0, 0, time.UTC)
	m.SetClock(func() time.Time { return frozen })

	_, entries, err := m.Mutate(ctx, credit("emp-1", ledger.LeaveCasual, "1"))
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, frozen, entries[0].OccurredAt)

	// Time filters cut on the frozen timestamp
	trail, err := m.AuditTrail(ctx, ledger.AuditFilter{From: frozen.Add(time.Second)})
	require.NoError(t, err)
	assert.Empty(t, trail)
}

func TestMemory_EmployeeDirectory(t *testing.T) {
	m := store.NewMemory()
	ctx := context.Background()

	m.SaveEmployee(ledger.Employee{ID: "emp-1", Name: "Asha", Active: true})
	m.SaveEmployee(ledger.Employee{ID: "emp-2", Name: "Ravi", Active: false})

	emp, err := m.Employee(ctx, "emp-1")
	require.NoError(t, err)
	require.NotNil(t, emp)
	assert.Equal(t, "Asha", emp.Name)

	missing, err := m.Employee(ctx, "emp-404")
	require.NoError(t, err)
	assert.Nil(t, missing)

	active, err := m.ActiveEmployees(ctx)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, "emp-1", active[0].ID)
}
