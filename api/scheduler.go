/*
scheduler.go - Automated monthly accrual scheduler

PURPOSE:
  Periodically triggers the accrual engine for the current calendar
  month. The per-employee run markers make the trigger idempotent, so
  the scheduler can fire every hour without double-crediting: the first
  run of a month credits everyone, the rest skip.

DESIGN:
  - Runs a background goroutine with configurable check interval
  - Each tick runs AccrueMonthly for the wall-clock month
  - A restart mid-month is harmless; employees hired mid-month are
    picked up by the next tick

CONFIGURATION:
  - CheckInterval: How often to check (default: 1 hour)
  - Enabled: Whether scheduler is active (default: true)

USAGE:
  scheduler := NewAccrualScheduler(engine)
  scheduler.Start()
  // ... later
  scheduler.Stop()

SEE ALSO:
  - leave/accrual.go: The engine this triggers
  - handlers.go: RunAccrual endpoint (manual trigger)
*/
package api

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/hrstack/leave-ledger/leave"
)

// AccrualScheduler triggers the monthly accrual batch in the background.
type AccrualScheduler struct {
	Engine        *leave.Engine
	CheckInterval time.Duration
	Enabled       bool

	// now is swappable for tests.
	now func() time.Time

	ticker *time.Ticker
	stop   chan bool
	wg     sync.WaitGroup
	mu     sync.Mutex
}

// NewAccrualScheduler creates a new scheduler.
func NewAccrualScheduler(engine *leave.Engine) *AccrualScheduler {
	return &AccrualScheduler{
		Engine:        engine,
		CheckInterval: 1 * time.Hour,
		Enabled:       true,
		now:           time.Now,
		stop:          make(chan bool),
	}
}

// Start begins the scheduler.
func (as *AccrualScheduler) Start() {
	as.mu.Lock()
	defer as.mu.Unlock()

	if !as.Enabled {
		log.Println("[Scheduler] Disabled, not starting")
		return
	}

	as.ticker = time.NewTicker(as.CheckInterval)
	as.wg.Add(1)

	go as.run()

	log.Printf("[Scheduler] Started with check interval: %v", as.CheckInterval)
}

// Stop stops the scheduler.
func (as *AccrualScheduler) Stop() {
	as.mu.Lock()
	defer as.mu.Unlock()

	if as.ticker != nil {
		as.ticker.Stop()
		close(as.stop)
		as.wg.Wait()
		log.Println("[Scheduler] Stopped")
	}
}

func (as *AccrualScheduler) run() {
	defer as.wg.Done()

	// Run immediately on start
	as.checkAndAccrue()

	for {
		select {
		case <-as.ticker.C:
			as.checkAndAccrue()
		case <-as.stop:
			return
		}
	}
}

func (as *AccrualScheduler) checkAndAccrue() {
	now := as.now()
	report, err := as.Engine.AccrueMonthly(context.Background(), now.Year(), now.Month())
	if err != nil {
		log.Printf("[Scheduler] Accrual check failed: %v (partial: %s)", err, report)
		return
	}
	if report.Credited > 0 || report.Errors > 0 {
		log.Printf("[Scheduler] Accrual check: %s", report)
	}
}

// RunNow triggers an immediate check (for testing/admin).
func (as *AccrualScheduler) RunNow() {
	as.checkAndAccrue()
}

// GetNextRunTime returns when the next scheduled check will occur.
func (as *AccrualScheduler) GetNextRunTime() time.Time {
	return as.now().Add(as.CheckInterval)
}
