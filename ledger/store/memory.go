// Package store provides in-memory BalanceStore and EmployeeDirectory
// implementations for testing and development.
package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hrstack/leave-ledger/ledger"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

type Memory struct {
	mu        sync.RWMutex
	balances  map[string]ledger.Balance
	audit     []ledger.AuditEntry
	runs      map[runKey]ledger.AccrualRun
	employees map[string]ledger.Employee
	now       func() time.Time
}

type runKey struct {
	EmployeeID string
	Year       int
	Month      time.Month
}

func NewMemory() *Memory {
	return &Memory{
		balances:  make(map[string]ledger.Balance),
		runs:      make(map[runKey]ledger.AccrualRun),
		employees: make(map[string]ledger.Employee),
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// SetClock overrides the time source (for deterministic tests).
func (m *Memory) SetClock(now func() time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = now
}

// =============================================================================
// BALANCE STORE
// =============================================================================

func (m *Memory) Get(_ context.Context, employeeID string) (ledger.Balance, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if b, ok := m.balances[employeeID]; ok {
		return b, nil
	}
	return ledger.Balance{EmployeeID: employeeID}, nil
}

func (m *Memory) Mutate(_ context.Context, req ledger.MutationRequest) (ledger.Balance, []ledger.AuditEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()

	current, ok := m.balances[req.EmployeeID]
	if !ok {
		current = ledger.Balance{EmployeeID: req.EmployeeID, CreatedBy: req.ActorID}
	}

	// Run marker check happens before the apply function, mirroring the
	// database implementation: a duplicate marker aborts with no mutation.
	var rk runKey
	if req.RunMarker != nil {
		rk = runKey{EmployeeID: req.EmployeeID, Year: req.RunMarker.Year, Month: req.RunMarker.Month}
		if _, exists := m.runs[rk]; exists {
			return ledger.Balance{}, nil, ledger.ErrAccrualAlreadyRun
		}
	}

	changes, err := req.Apply(current)
	if err != nil {
		return ledger.Balance{}, nil, err
	}

	updated := current
	var entries []ledger.AuditEntry
	for _, c := range changes {
		updated.SetField(c.Field, c.NewValue)
		entries = append(entries, ledger.AuditEntry{
			ID:               uuid.NewString(),
			EmployeeID:       req.EmployeeID,
			Field:            c.Field,
			Delta:            c.Delta,
			ResultingBalance: c.NewValue,
			ActorID:          req.ActorID,
			Reason:           c.Reason,
			ReferenceID:      c.ReferenceID,
			Note:             c.Note,
			OccurredAt:       now,
		})
	}

	updated.Version = current.Version + 1
	updated.LastUpdated = now
	updated.UpdatedBy = req.ActorID

	// Commit point: everything below must succeed together.
	m.balances[req.EmployeeID] = updated
	m.audit = append(m.audit, entries...)
	if req.RunMarker != nil {
		run := ledger.AccrualRun{
			ID:         uuid.NewString(),
			EmployeeID: req.EmployeeID,
			Year:       req.RunMarker.Year,
			Month:      req.RunMarker.Month,
			CreatedAt:  now,
		}
		for _, c := range changes {
			switch c.Field {
			case ledger.LeaveCasual:
				run.CreditedCasual = c.Delta
			case ledger.LeaveSick:
				run.CreditedSick = c.Delta
			}
		}
		m.runs[rk] = run
	}

	return updated, entries, nil
}

func (m *Memory) AuditTrail(_ context.Context, f ledger.AuditFilter) ([]ledger.AuditEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []ledger.AuditEntry
	for _, e := range m.audit {
		if !matches(e, f) {
			continue
		}
		result = append(result, e)
		if f.Limit > 0 && len(result) == f.Limit {
			break
		}
	}
	return result, nil
}

func matches(e ledger.AuditEntry, f ledger.AuditFilter) bool {
	if f.EmployeeID != "" && e.EmployeeID != f.EmployeeID {
		return false
	}
	if f.Field != "" && e.Field != f.Field {
		return false
	}
	if len(f.Reasons) > 0 {
		found := false
		for _, r := range f.Reasons {
			if e.Reason == r {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if !f.From.IsZero() && e.OccurredAt.Before(f.From) {
		return false
	}
	if !f.To.IsZero() && e.OccurredAt.After(f.To) {
		return false
	}
	return true
}

func (m *Memory) AccrualRuns(_ context.Context, year int, month time.Month) ([]ledger.AccrualRun, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var runs []ledger.AccrualRun
	for _, r := range m.runs {
		if r.Year == year && r.Month == month {
			runs = append(runs, r)
		}
	}
	sort.Slice(runs, func(i, j int) bool { return runs[i].EmployeeID < runs[j].EmployeeID })
	return runs, nil
}

// =============================================================================
// EMPLOYEE DIRECTORY
// =============================================================================

func (m *Memory) Employee(_ context.Context, id string) (*ledger.Employee, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if e, ok := m.employees[id]; ok {
		return &e, nil
	}
	return nil, nil
}

func (m *Memory) ActiveEmployees(_ context.Context) ([]ledger.Employee, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var active []ledger.Employee
	for _, e := range m.employees {
		if e.Active {
			active = append(active, e)
		}
	}
	sort.Slice(active, func(i, j int) bool { return active[i].ID < active[j].ID })
	return active, nil
}

// SaveEmployee seeds an employee record (test/dev helper).
func (m *Memory) SaveEmployee(e ledger.Employee) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.employees[e.ID] = e
}
