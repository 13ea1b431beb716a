/*
Package sqlite provides the SQLite-backed implementation of the storage
interfaces.

PURPOSE:
  Implements ledger.BalanceStore and ledger.EmployeeDirectory using
  SQLite. In production, the same patterns apply to PostgreSQL - only
  minor SQL dialect differences.

KEY TABLES:
  leave_balances:      One row per employee, upserted in place
  leave_balance_audit: Append-only mutation log
  accrual_runs:        Idempotence markers for the monthly batch
  employees:           Roster mirror (eligibility source)

ATOMICITY:
  Mutate wraps the whole read-apply-write-audit sequence in one SQL
  transaction. The audit rows and the accrual-run marker commit with the
  balance write or not at all.

CONCURRENCY:
  Two layers, mirroring each other:
  - sync.Mutex serializes writers in-process (SQLite is single-writer)
  - the version column is compared on UPDATE, so a second process (or a
    bypassing writer) surfaces as ledger.ErrStoreConflict instead of a
    lost update
  The accrual_runs uniqueness constraint is the last line of defense
  against double-crediting even if the pre-check is raced.

WAL MODE:
  SQLite is opened with WAL (Write-Ahead Logging): readers don't block,
  single writer at a time, better crash recovery.

USAGE:
  store, err := sqlite.New("./data/leave.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

SEE ALSO:
  - ledger/store.go: Interface definitions and contracts
  - ledger/store/memory.go: In-memory implementation for testing
*/
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"github.com/hrstack/leave-ledger/ledger"
)

// Store implements ledger.BalanceStore and ledger.EmployeeDirectory.
type Store struct {
	db *sql.DB
	mu sync.Mutex
}

// New creates a SQLite store at the given path. Use ":memory:" for an
// in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite is single-writer, and a second pooled connection to
	// ":memory:" would see a separate empty database.
	db.SetMaxOpenConns(1)

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	schema := `
	-- Balances (one row per employee, upserted in place)
	CREATE TABLE IF NOT EXISTS leave_balances (
		employee_id TEXT PRIMARY KEY,
		casual_balance TEXT NOT NULL,
		sick_balance TEXT NOT NULL,
		lop_balance TEXT NOT NULL,
		version INTEGER NOT NULL,
		last_updated TEXT NOT NULL,
		created_by TEXT NOT NULL,
		updated_by TEXT NOT NULL
	);

	-- Audit trail (append-only; no UPDATE, no DELETE)
	CREATE TABLE IF NOT EXISTS leave_balance_audit (
		id TEXT PRIMARY KEY,
		employee_id TEXT NOT NULL,
		field TEXT NOT NULL,
		delta TEXT NOT NULL,
		resulting_balance TEXT NOT NULL,
		actor_id TEXT NOT NULL,
		reason TEXT NOT NULL,
		reference_id TEXT,
		note TEXT,
		occurred_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_audit_employee_time
		ON leave_balance_audit(employee_id, occurred_at);
	CREATE INDEX IF NOT EXISTS idx_audit_reason
		ON leave_balance_audit(reason);

	-- CRITICAL: one accrual credit per employee per month. This is what
	-- makes AccrueMonthly safe to re-invoke.
	CREATE TABLE IF NOT EXISTS accrual_runs (
		id TEXT PRIMARY KEY,
		employee_id TEXT NOT NULL,
		year INTEGER NOT NULL,
		month INTEGER NOT NULL,
		credited_casual TEXT NOT NULL DEFAULT '0',
		credited_sick TEXT NOT NULL DEFAULT '0',
		created_at TEXT NOT NULL
	);

	CREATE UNIQUE INDEX IF NOT EXISTS idx_accrual_runs_unique
		ON accrual_runs(employee_id, year, month);
	CREATE INDEX IF NOT EXISTS idx_accrual_runs_period
		ON accrual_runs(year, month);

	-- Employees (roster mirror; owned by user management)
	CREATE TABLE IF NOT EXISTS employees (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		email TEXT,
		hire_date TEXT NOT NULL,
		active BOOLEAN NOT NULL DEFAULT TRUE,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_employees_active
		ON employees(active);
	`

	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// BALANCE STORE (ledger.BalanceStore interface)
// =============================================================================

// Get returns the current balance, or a zero balance with Version 0 when
// no row exists yet.
func (s *Store) Get(ctx context.Context, employeeID string) (ledger.Balance, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT employee_id, casual_balance, sick_balance, lop_balance,
		       version, last_updated, created_by, updated_by
		FROM leave_balances WHERE employee_id = ?`, employeeID)

	bal, err := scanBalance(row)
	if errors.Is(err, sql.ErrNoRows) {
		return ledger.Balance{EmployeeID: employeeID}, nil
	}
	if err != nil {
		return ledger.Balance{}, wrapStoreErr(fmt.Errorf("get balance for %s: %w", employeeID, err))
	}
	return bal, nil
}

// Mutate executes one atomic read-apply-write-audit sequence.
func (s *Store) Mutate(ctx context.Context, req ledger.MutationRequest) (ledger.Balance, []ledger.AuditEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return ledger.Balance{}, nil, wrapStoreErr(fmt.Errorf("begin mutation for %s: %w", req.EmployeeID, err))
	}
	defer tx.Rollback()

	now := time.Now().UTC()

	current, err := s.loadOrCreate(ctx, tx, req.EmployeeID, req.ActorID, now)
	if err != nil {
		return ledger.Balance{}, nil, err
	}

	// The run marker is inserted before anything else: the uniqueness
	// constraint turns a re-run into ErrAccrualAlreadyRun with the whole
	// transaction rolled back.
	var runID string
	if req.RunMarker != nil {
		runID = uuid.NewString()
		_, err := tx.ExecContext(ctx, `
			INSERT INTO accrual_runs (id, employee_id, year, month, created_at)
			VALUES (?, ?, ?, ?, ?)`,
			runID, req.EmployeeID, req.RunMarker.Year, int(req.RunMarker.Month),
			now.Format(time.RFC3339))
		if err != nil {
			if isUniqueConstraintError(err) {
				return ledger.Balance{}, nil, ledger.ErrAccrualAlreadyRun
			}
			return ledger.Balance{}, nil, wrapStoreErr(fmt.Errorf("mark accrual run for %s: %w", req.EmployeeID, err))
		}
	}

	changes, err := req.Apply(current)
	if err != nil {
		return ledger.Balance{}, nil, err
	}

	updated := current
	for _, c := range changes {
		updated.SetField(c.Field, c.NewValue)
	}
	updated.Version = current.Version + 1
	updated.LastUpdated = now
	updated.UpdatedBy = req.ActorID

	res, err := tx.ExecContext(ctx, `
		UPDATE leave_balances
		SET casual_balance = ?, sick_balance = ?, lop_balance = ?,
		    version = ?, last_updated = ?, updated_by = ?
		WHERE employee_id = ? AND version = ?`,
		updated.Casual.String(), updated.Sick.String(), updated.Lop.String(),
		updated.Version, now.Format(time.RFC3339), req.ActorID,
		req.EmployeeID, current.Version)
	if err != nil {
		return ledger.Balance{}, nil, wrapStoreErr(fmt.Errorf("write balance for %s: %w", req.EmployeeID, err))
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return ledger.Balance{}, nil, wrapStoreErr(err)
	}
	if affected == 0 {
		return ledger.Balance{}, nil, fmt.Errorf("mutate %s: %w", req.EmployeeID, ledger.ErrStoreConflict)
	}

	var entries []ledger.AuditEntry
	for _, c := range changes {
		entry := ledger.AuditEntry{
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
		}
		_, err := tx.ExecContext(ctx, `
			INSERT INTO leave_balance_audit
			(id, employee_id, field, delta, resulting_balance, actor_id,
			 reason, reference_id, note, occurred_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			entry.ID, entry.EmployeeID, string(entry.Field),
			entry.Delta.String(), entry.ResultingBalance.String(),
			entry.ActorID, string(entry.Reason),
			nullString(entry.ReferenceID), nullString(entry.Note),
			now.Format(time.RFC3339))
		if err != nil {
			// Audit completeness is a hard guarantee: the rollback in the
			// deferred call undoes the balance write too.
			return ledger.Balance{}, nil, wrapStoreErr(fmt.Errorf("write audit for %s: %w", req.EmployeeID, err))
		}
		entries = append(entries, entry)
	}

	if req.RunMarker != nil {
		creditedCasual, creditedSick := "0", "0"
		for _, c := range changes {
			switch c.Field {
			case ledger.LeaveCasual:
				creditedCasual = c.Delta.String()
			case ledger.LeaveSick:
				creditedSick = c.Delta.String()
			}
		}
		if _, err := tx.ExecContext(ctx, `
			UPDATE accrual_runs SET credited_casual = ?, credited_sick = ?
			WHERE id = ?`, creditedCasual, creditedSick, runID); err != nil {
			return ledger.Balance{}, nil, wrapStoreErr(err)
		}
	}

	if err := tx.Commit(); err != nil {
		return ledger.Balance{}, nil, wrapStoreErr(fmt.Errorf("commit mutation for %s: %w", req.EmployeeID, err))
	}

	return updated, entries, nil
}

// loadOrCreate reads the row inside the transaction, inserting a zero
// balance on first touch.
func (s *Store) loadOrCreate(ctx context.Context, tx *sql.Tx, employeeID, actorID string, now time.Time) (ledger.Balance, error) {
	row := tx.QueryRowContext(ctx, `
		SELECT employee_id, casual_balance, sick_balance, lop_balance,
		       version, last_updated, created_by, updated_by
		FROM leave_balances WHERE employee_id = ?`, employeeID)

	bal, err := scanBalance(row)
	if err == nil {
		return bal, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return ledger.Balance{}, wrapStoreErr(fmt.Errorf("load balance for %s: %w", employeeID, err))
	}

	// Seeded at version 0 so the first real mutation lands at version 1,
	// matching the in-memory store.
	bal = ledger.Balance{
		EmployeeID:  employeeID,
		LastUpdated: now,
		CreatedBy:   actorID,
		UpdatedBy:   actorID,
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO leave_balances
		(employee_id, casual_balance, sick_balance, lop_balance,
		 version, last_updated, created_by, updated_by)
		VALUES (?, '0', '0', '0', 0, ?, ?, ?)`,
		employeeID, now.Format(time.RFC3339), actorID, actorID)
	if err != nil {
		return ledger.Balance{}, wrapStoreErr(fmt.Errorf("create balance for %s: %w", employeeID, err))
	}
	return bal, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanBalance(row rowScanner) (ledger.Balance, error) {
	var (
		bal               ledger.Balance
		casual, sick, lop string
		lastUpdated       string
	)
	err := row.Scan(&bal.EmployeeID, &casual, &sick, &lop,
		&bal.Version, &lastUpdated, &bal.CreatedBy, &bal.UpdatedBy)
	if err != nil {
		return bal, err
	}
	bal.Casual = ledger.MustParseDecimal(casual)
	bal.Sick = ledger.MustParseDecimal(sick)
	bal.Lop = ledger.MustParseDecimal(lop)
	bal.LastUpdated, _ = time.Parse(time.RFC3339, lastUpdated)
	return bal, nil
}

// =============================================================================
// AUDIT TRAIL
// =============================================================================

// AuditTrail returns matching audit entries, oldest first.
func (s *Store) AuditTrail(ctx context.Context, f ledger.AuditFilter) ([]ledger.AuditEntry, error) {
	query := `
		SELECT id, employee_id, field, delta, resulting_balance, actor_id,
		       reason, reference_id, note, occurred_at
		FROM leave_balance_audit
		WHERE 1=1`
	var args []any

	if f.EmployeeID != "" {
		query += " AND employee_id = ?"
		args = append(args, f.EmployeeID)
	}
	if f.Field != "" {
		query += " AND field = ?"
		args = append(args, string(f.Field))
	}
	if len(f.Reasons) > 0 {
		query += " AND reason IN (?" + strings.Repeat(", ?", len(f.Reasons)-1) + ")"
		for _, r := range f.Reasons {
			args = append(args, string(r))
		}
	}
	if !f.From.IsZero() {
		query += " AND occurred_at >= ?"
		args = append(args, f.From.Format(time.RFC3339))
	}
	if !f.To.IsZero() {
		query += " AND occurred_at <= ?"
		args = append(args, f.To.Format(time.RFC3339))
	}
	query += " ORDER BY occurred_at ASC, id ASC"
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, wrapStoreErr(fmt.Errorf("query audit trail: %w", err))
	}
	defer rows.Close()

	var entries []ledger.AuditEntry
	for rows.Next() {
		var (
			e                ledger.AuditEntry
			field, reason    string
			delta, resulting string
			refID, note      sql.NullString
			occurredAt       string
		)
		if err := rows.Scan(&e.ID, &e.EmployeeID, &field, &delta, &resulting,
			&e.ActorID, &reason, &refID, &note, &occurredAt); err != nil {
			return nil, fmt.Errorf("scan audit entry: %w", err)
		}
		e.Field = ledger.LeaveType(field)
		e.Reason = ledger.AdjustmentReason(reason)
		e.Delta = ledger.MustParseDecimal(delta)
		e.ResultingBalance = ledger.MustParseDecimal(resulting)
		e.ReferenceID = refID.String
		e.Note = note.String
		e.OccurredAt, _ = time.Parse(time.RFC3339, occurredAt)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// =============================================================================
// ACCRUAL RUNS
// =============================================================================

// AccrualRuns returns run markers for a month, for reporting.
func (s *Store) AccrualRuns(ctx context.Context, year int, month time.Month) ([]ledger.AccrualRun, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, employee_id, year, month, credited_casual, credited_sick, created_at
		FROM accrual_runs
		WHERE year = ? AND month = ?
		ORDER BY employee_id`, year, int(month))
	if err != nil {
		return nil, wrapStoreErr(fmt.Errorf("query accrual runs: %w", err))
	}
	defer rows.Close()

	var runs []ledger.AccrualRun
	for rows.Next() {
		var (
			r                       ledger.AccrualRun
			month                   int
			casual, sick, createdAt string
		)
		if err := rows.Scan(&r.ID, &r.EmployeeID, &r.Year, &month, &casual, &sick, &createdAt); err != nil {
			return nil, fmt.Errorf("scan accrual run: %w", err)
		}
		r.Month = time.Month(month)
		r.CreditedCasual = ledger.MustParseDecimal(casual)
		r.CreditedSick = ledger.MustParseDecimal(sick)
		r.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// =============================================================================
// EMPLOYEE DIRECTORY (ledger.EmployeeDirectory interface)
// =============================================================================

// SaveEmployee upserts a roster record.
func (s *Store) SaveEmployee(ctx context.Context, e ledger.Employee) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO employees (id, name, email, hire_date, active, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			email = excluded.email,
			hire_date = excluded.hire_date,
			active = excluded.active`,
		e.ID, e.Name, e.Email, e.HireDate.Format(time.RFC3339), e.Active,
		time.Now().UTC().Format(time.RFC3339))
	return err
}

// Employee returns the roster record, or nil when unknown.
func (s *Store) Employee(ctx context.Context, id string) (*ledger.Employee, error) {
	var (
		e        ledger.Employee
		hireDate string
	)
	err := s.db.QueryRowContext(ctx,
		"SELECT id, name, email, hire_date, active FROM employees WHERE id = ?", id,
	).Scan(&e.ID, &e.Name, &e.Email, &hireDate, &e.Active)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, wrapStoreErr(err)
	}
	e.HireDate, _ = time.Parse(time.RFC3339, hireDate)
	return &e, nil
}

// ActiveEmployees returns the accrual roster.
func (s *Store) ActiveEmployees(ctx context.Context) ([]ledger.Employee, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT id, name, email, hire_date, active FROM employees WHERE active = TRUE ORDER BY id")
	if err != nil {
		return nil, wrapStoreErr(fmt.Errorf("list active employees: %w", err))
	}
	defer rows.Close()

	var employees []ledger.Employee
	for rows.Next() {
		var (
			e        ledger.Employee
			hireDate string
		)
		if err := rows.Scan(&e.ID, &e.Name, &e.Email, &hireDate, &e.Active); err != nil {
			return nil, err
		}
		e.HireDate, _ = time.Parse(time.RFC3339, hireDate)
		employees = append(employees, e)
	}
	return employees, rows.Err()
}

// ListEmployees returns the full roster (admin view).
func (s *Store) ListEmployees(ctx context.Context) ([]ledger.Employee, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT id, name, email, hire_date, active FROM employees ORDER BY name")
	if err != nil {
		return nil, wrapStoreErr(err)
	}
	defer rows.Close()

	var employees []ledger.Employee
	for rows.Next() {
		var (
			e        ledger.Employee
			hireDate string
		)
		if err := rows.Scan(&e.ID, &e.Name, &e.Email, &hireDate, &e.Active); err != nil {
			return nil, err
		}
		e.HireDate, _ = time.Parse(time.RFC3339, hireDate)
		employees = append(employees, e)
	}
	return employees, rows.Err()
}

// =============================================================================
// UTILITIES
// =============================================================================

// Reset clears all data (for testing/demo).
func (s *Store) Reset(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tables := []string{"leave_balance_audit", "accrual_runs", "leave_balances", "employees"}
	for _, table := range tables {
		if _, err := s.db.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return err
		}
	}
	return nil
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func isUniqueConstraintError(err error) bool {
	return err != nil && (strings.Contains(err.Error(), "UNIQUE constraint failed") ||
		strings.Contains(err.Error(), "duplicate key"))
}

// wrapStoreErr ties low-level database failures to the sentinel so the
// batch engine can classify a run as fatally aborted.
func wrapStoreErr(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %v", ledger.ErrStoreUnavailable, err)
}
