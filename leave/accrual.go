/*
accrual.go - The monthly accrual batch

PURPOSE:
  Once per calendar month, credit every active employee +1.0 casual and
  +0.5 sick leave. The engine is the only multi-employee writer in the
  subsystem.

IDEMPOTENCE:
  Each per-employee credit records a run marker (employee, year, month)
  in the same transaction as the balance write. The marker table has a
  uniqueness constraint, so re-invoking the engine for a month it already
  processed skips every employee instead of double-crediting.

FAILURE ISOLATION:
  One transaction per employee, never one for the whole batch. An
  employee-level failure is logged, counted, and processing continues;
  partial progress stays committed. Only a store-unavailable error
  aborts the run as fatal (with the partial counts reported).

CAP BEHAVIOR:
  A credit that would push casual or sick past 99 is clamped to the cap:
  the employee receives the remaining headroom and the audit row records
  the actual delta. An employee with no headroom on either field counts
  as skipped.

CONCURRENCY:
  No invariant spans employees, so the roster fans out over a bounded
  worker pool. Cancellation is cooperative: workers stop picking up
  employees once ctx is done, and already-credited employees are not
  rolled back.

SEE ALSO:
  - ledger/store.go: MutationRequest.RunMarker
  - api/scheduler.go: The background trigger
*/
package leave

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/hrstack/leave-ledger/ledger"
)

// defaultAccrualWorkers bounds the batch fan-out.
const defaultAccrualWorkers = 4

// AccrualActorID is the actor recorded on batch-credited audit rows.
const AccrualActorID = "system:accrual"

// Engine runs the monthly accrual batch.
type Engine struct {
	Store     ledger.BalanceStore
	Directory ledger.EmployeeDirectory

	// Workers bounds concurrent per-employee transactions. Zero means
	// defaultAccrualWorkers.
	Workers int
}

// NewEngine creates an accrual engine.
func NewEngine(store ledger.BalanceStore, directory ledger.EmployeeDirectory) *Engine {
	return &Engine{Store: store, Directory: directory}
}

// Report summarizes one batch run.
type Report struct {
	Year     int
	Month    time.Month
	Credited int
	Skipped  int
	Errors   int
}

func (r Report) String() string {
	return fmt.Sprintf("%d-%02d: %d credited, %d skipped, %d errors",
		r.Year, int(r.Month), r.Credited, r.Skipped, r.Errors)
}

// AccrueMonthly credits the active roster for (year, month). Safe to
// re-invoke for the same month. Returns the partial report alongside the
// error when the run is aborted (roster unavailable, store down, or
// context cancelled).
func (e *Engine) AccrueMonthly(ctx context.Context, year int, month time.Month) (Report, error) {
	report := Report{Year: year, Month: month}

	roster, err := e.Directory.ActiveEmployees(ctx)
	if err != nil {
		return report, fmt.Errorf("accrual %d-%02d: load roster: %w", year, int(month), err)
	}

	workers := e.Workers
	if workers <= 0 {
		workers = defaultAccrualWorkers
	}
	if workers > len(roster) && len(roster) > 0 {
		workers = len(roster)
	}

	// runCtx lets a fatal store error stop the remaining workers without
	// affecting the caller's context.
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var (
		mu       sync.Mutex
		fatalErr error
	)
	jobs := make(chan ledger.Employee)
	var wg sync.WaitGroup

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for emp := range jobs {
				if runCtx.Err() != nil {
					continue
				}
				err := e.creditEmployee(runCtx, emp, year, month)
				mu.Lock()
				switch {
				case err == nil:
					report.Credited++
				case errors.Is(err, ledger.ErrAccrualAlreadyRun), errors.Is(err, errNoHeadroom):
					report.Skipped++
				case errors.Is(err, ledger.ErrStoreUnavailable):
					report.Errors++
					if fatalErr == nil {
						fatalErr = fmt.Errorf("accrual %d-%02d aborted: %w", year, int(month), err)
					}
					cancel()
				case errors.Is(err, context.Canceled):
					// Not counted: the employee was neither credited nor
					// failed, just never processed.
				default:
					report.Errors++
					log.Printf("[Accrual] employee %s: %v", emp.ID, err)
				}
				mu.Unlock()
			}
		}()
	}

dispatch:
	for _, emp := range roster {
		select {
		case <-runCtx.Done():
			break dispatch
		case jobs <- emp:
		}
	}
	close(jobs)
	wg.Wait()

	if fatalErr != nil {
		return report, fatalErr
	}
	if err := ctx.Err(); err != nil {
		return report, err
	}

	log.Printf("[Accrual] %s", report)
	return report, nil
}

// errNoHeadroom marks an employee whose capped fields were both already
// at the cap; counted as skipped. The run marker rolls back with the
// rest of the transaction, so the employee is re-evaluated if headroom
// opens up before the month's run is re-triggered.
var errNoHeadroom = errors.New("no headroom on capped balances")

// creditEmployee runs one per-employee transaction: marker + credits +
// audit rows together.
func (e *Engine) creditEmployee(ctx context.Context, emp ledger.Employee, year int, month time.Month) error {
	note := fmt.Sprintf("monthly accrual %d-%02d", year, int(month))

	_, _, err := e.Store.Mutate(ctx, ledger.MutationRequest{
		EmployeeID: emp.ID,
		ActorID:    AccrualActorID,
		RunMarker:  &ledger.RunKey{Year: year, Month: month},
		Apply: func(current ledger.Balance) ([]ledger.FieldChange, error) {
			var changes []ledger.FieldChange

			for _, credit := range []struct {
				field  ledger.LeaveType
				amount decimal.Decimal
			}{
				{ledger.LeaveCasual, ledger.MonthlyCasualAccrual},
				{ledger.LeaveSick, ledger.MonthlySickAccrual},
			} {
				delta := ledger.ClampCredit(current.Field(credit.field), credit.field, credit.amount)
				if delta.IsZero() {
					continue
				}
				newValue, err := ledger.Validate(current.Field(credit.field), credit.field, delta, ledger.OpAccrual)
				if err != nil {
					return nil, err
				}
				changes = append(changes, ledger.FieldChange{
					Field:    credit.field,
					Delta:    delta,
					NewValue: newValue,
					Reason:   ledger.ReasonAccrual,
					Note:     note,
				})
			}

			if len(changes) == 0 {
				return nil, errNoHeadroom
			}
			return changes, nil
		},
	})
	return err
}
