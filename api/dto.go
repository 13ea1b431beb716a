/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the internal domain model from the external API contract: balances cross
  the wire as decimal strings, never floats.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients

TYPES:
  Balance:
    BalanceDTO

  Audit:
    AuditEntryDTO

  Mutations:
    AdjustmentRequest, ConversionRequest, ConsumeRequest

  Accrual:
    RunAccrualRequest, AccrualReportDTO, AccrualRunDTO

  Employees:
    EmployeeDTO, CreateEmployeeRequest

VALIDATION:
  Validation is done in handlers and the domain layer, not in DTOs.
  DTOs are pure data carriers.

SEE ALSO:
  - handlers.go: Uses these types
  - ledger/types.go: The domain model these map from
*/
package api

import (
	"time"

	"github.com/hrstack/leave-ledger/ledger"
)

// =============================================================================
// BALANCE
// =============================================================================

// BalanceDTO represents an employee's leave balances in API responses.
// Amounts are decimal strings (e.g. "11.5").
type BalanceDTO struct {
	EmployeeID  string `json:"employee_id"`
	Casual      string `json:"casual"`
	Sick        string `json:"sick"`
	Lop         string `json:"lop"`
	Version     int64  `json:"version"`
	LastUpdated string `json:"last_updated"`
	UpdatedBy   string `json:"updated_by,omitempty"`
}

func toBalanceDTO(b ledger.Balance) BalanceDTO {
	return BalanceDTO{
		EmployeeID:  b.EmployeeID,
		Casual:      b.Casual.String(),
		Sick:        b.Sick.String(),
		Lop:         b.Lop.String(),
		Version:     b.Version,
		LastUpdated: b.LastUpdated.Format(time.RFC3339),
		UpdatedBy:   b.UpdatedBy,
	}
}

// =============================================================================
// AUDIT
// =============================================================================

// AuditEntryDTO represents one append-only audit row.
type AuditEntryDTO struct {
	ID               string `json:"id"`
	EmployeeID       string `json:"employee_id"`
	Field            string `json:"field"`
	Delta            string `json:"delta"`
	ResultingBalance string `json:"resulting_balance"`
	ActorID          string `json:"actor_id"`
	Reason           string `json:"reason"`
	ReferenceID      string `json:"reference_id,omitempty"`
	Note             string `json:"note,omitempty"`
	OccurredAt       string `json:"occurred_at"`
}

func toAuditEntryDTO(e ledger.AuditEntry) AuditEntryDTO {
	return AuditEntryDTO{
		ID:               e.ID,
		EmployeeID:       e.EmployeeID,
		Field:            string(e.Field),
		Delta:            e.Delta.String(),
		ResultingBalance: e.ResultingBalance.String(),
		ActorID:          e.ActorID,
		Reason:           string(e.Reason),
		ReferenceID:      e.ReferenceID,
		Note:             e.Note,
		OccurredAt:       e.OccurredAt.Format(time.RFC3339),
	}
}

func toAuditEntryDTOs(entries []ledger.AuditEntry) []AuditEntryDTO {
	dtos := make([]AuditEntryDTO, len(entries))
	for i, e := range entries {
		dtos[i] = toAuditEntryDTO(e)
	}
	return dtos
}

// =============================================================================
// MUTATIONS
// =============================================================================

// AdjustmentRequest is a manual HR balance adjustment. Delta is a signed
// decimal string in half-day granularity.
type AdjustmentRequest struct {
	EmployeeID string `json:"employee_id"`
	LeaveType  string `json:"leave_type"`
	Delta      string `json:"delta"`
	Note       string `json:"note,omitempty"`
}

// ConversionRequest converts accumulated LOP into casual leave.
type ConversionRequest struct {
	EmployeeID string `json:"employee_id"`
	Amount     string `json:"amount"`
}

// ConsumeRequest debits a balance for an approved leave request.
type ConsumeRequest struct {
	EmployeeID string `json:"employee_id"`
	LeaveType  string `json:"leave_type"`
	Amount     string `json:"amount"`
	RequestID  string `json:"request_id"`
}

// =============================================================================
// ACCRUAL
// =============================================================================

// RunAccrualRequest triggers a monthly accrual batch. Zero values mean
// the current month.
type RunAccrualRequest struct {
	Year  int `json:"year,omitempty"`
	Month int `json:"month,omitempty"`
}

// AccrualReportDTO summarizes a completed batch run.
type AccrualReportDTO struct {
	Year     int `json:"year"`
	Month    int `json:"month"`
	Credited int `json:"credited"`
	Skipped  int `json:"skipped"`
	Errors   int `json:"errors"`
}

// AccrualRunDTO is one per-employee run marker.
type AccrualRunDTO struct {
	ID             string `json:"id"`
	EmployeeID     string `json:"employee_id"`
	Year           int    `json:"year"`
	Month          int    `json:"month"`
	CreditedCasual string `json:"credited_casual"`
	CreditedSick   string `json:"credited_sick"`
	CreatedAt      string `json:"created_at"`
}

// =============================================================================
// EMPLOYEES
// =============================================================================

// EmployeeDTO represents an employee in API responses.
type EmployeeDTO struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Email    string `json:"email"`
	HireDate string `json:"hire_date"`
	Active   bool   `json:"active"`
}

// CreateEmployeeRequest is the request to create an employee.
type CreateEmployeeRequest struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Email    string `json:"email"`
	HireDate string `json:"hire_date"`
}

// ErrorResponse is the standard error body.
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}
