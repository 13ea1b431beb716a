/*
handlers.go - HTTP API handlers for the leave balance ledger

PURPOSE:
  Exposes the leave ledger via REST API. Handles HTTP request/response,
  JSON serialization, and delegates to the leave service and accrual
  engine.

ENDPOINTS:
  Employees:
    GET    /api/employees                List all employees
    POST   /api/employees                Create employee
    GET    /api/employees/{id}           Get employee details
    GET    /api/employees/{id}/balance   Current leave balances
    GET    /api/employees/{id}/audit     Audit trail (filterable)

  Admin:
    POST   /api/admin/adjustments        Manual balance adjustment
    POST   /api/admin/conversions        LOP -> casual conversion
    POST   /api/admin/accrual/run        Trigger a monthly accrual batch
    GET    /api/admin/accrual/runs       Run markers for a month
    POST   /api/admin/reset              Clear all data (dev/demo only)

  Requests:
    POST   /api/requests/consume         Debit for an approved leave request

ACTOR IDENTITY:
  Authentication lives in the gateway upstream. Mutating endpoints read
  the already-authenticated caller from two headers:
    X-Actor-ID    opaque actor identifier
    X-Actor-Role  employee | hr | super_admin | system
  Requests without both headers are rejected with 401. Role enforcement
  itself happens in the leave service, not here.

ERROR HANDLING:
  Errors are returned as JSON with appropriate HTTP status:
  - 400: Validation errors, invalid input
  - 401: Missing actor headers
  - 403: Role not permitted
  - 404: Employee not found
  - 409: Conflict (accrual already run, concurrent write exhausted retries)
  - 422: Employee exists but is inactive
  - 500: Internal errors

SEE ALSO:
  - dto.go: Request/response data structures
  - server.go: Router setup and middleware
  - leave/service.go: The domain logic handlers delegate to
*/
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/hrstack/leave-ledger/leave"
	"github.com/hrstack/leave-ledger/ledger"
	"github.com/hrstack/leave-ledger/store/sqlite"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Service *leave.Service
	Engine  *leave.Engine
	Store   *sqlite.Store
}

// NewHandler creates a new handler backed by the given store.
func NewHandler(store *sqlite.Store) *Handler {
	return &Handler{
		Service: leave.NewService(store, store),
		Engine:  leave.NewEngine(store, store),
		Store:   store,
	}
}

// actorFromRequest reads the authenticated caller from request headers.
func actorFromRequest(r *http.Request) (leave.Actor, bool) {
	id := r.Header.Get("X-Actor-ID")
	role := r.Header.Get("X-Actor-Role")
	if id == "" || role == "" {
		return leave.Actor{}, false
	}
	return leave.Actor{ID: id, Role: leave.Role(role)}, true
}

// =============================================================================
// BALANCE & AUDIT HANDLERS
// =============================================================================

// GetBalance returns the current leave balances for an employee.
// Employees with no history get the zero balance.
func (h *Handler) GetBalance(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	balance, err := h.Service.GetBalance(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to load balance", err)
		return
	}

	writeJSON(w, http.StatusOK, toBalanceDTO(balance))
}

// GetAuditTrail returns the audit trail for an employee, oldest first.
// Query params: field, reason (repeatable), from, to (RFC3339), limit.
func (h *Handler) GetAuditTrail(w http.ResponseWriter, r *http.Request) {
	filter := ledger.AuditFilter{
		EmployeeID: chi.URLParam(r, "id"),
	}

	q := r.URL.Query()
	if field := q.Get("field"); field != "" {
		lt := ledger.LeaveType(field)
		if !lt.Valid() {
			writeError(w, http.StatusBadRequest, "Unknown leave type: "+field, nil)
			return
		}
		filter.Field = lt
	}
	for _, reason := range q["reason"] {
		filter.Reasons = append(filter.Reasons, ledger.AdjustmentReason(reason))
	}
	if from := q.Get("from"); from != "" {
		t, err := time.Parse(time.RFC3339, from)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid 'from' timestamp (use RFC3339)", err)
			return
		}
		filter.From = t
	}
	if to := q.Get("to"); to != "" {
		t, err := time.Parse(time.RFC3339, to)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid 'to' timestamp (use RFC3339)", err)
			return
		}
		filter.To = t
	}
	if limit := q.Get("limit"); limit != "" {
		n, err := strconv.Atoi(limit)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "Invalid limit", err)
			return
		}
		filter.Limit = n
	}

	entries, err := h.Service.AuditTrail(r.Context(), filter)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to load audit trail", err)
		return
	}

	writeJSON(w, http.StatusOK, toAuditEntryDTOs(entries))
}

// =============================================================================
// MUTATION HANDLERS
// =============================================================================

// CreateAdjustment applies a manual HR adjustment to one balance field.
// POST /api/admin/adjustments
func (h *Handler) CreateAdjustment(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFromRequest(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, "Missing X-Actor-ID / X-Actor-Role headers", nil)
		return
	}

	var req AdjustmentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if req.EmployeeID == "" {
		writeError(w, http.StatusBadRequest, "employee_id is required", nil)
		return
	}
	delta, err := decimal.NewFromString(req.Delta)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid delta: must be a decimal string", err)
		return
	}

	balance, err := h.Service.ManualAdjust(r.Context(), req.EmployeeID, ledger.LeaveType(req.LeaveType), delta, actor, req.Note)
	if err != nil {
		writeDomainError(w, "Adjustment rejected", err)
		return
	}

	writeJSON(w, http.StatusOK, toBalanceDTO(balance))
}

// CreateConversion converts accumulated LOP into casual leave.
// POST /api/admin/conversions
func (h *Handler) CreateConversion(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFromRequest(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, "Missing X-Actor-ID / X-Actor-Role headers", nil)
		return
	}

	var req ConversionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if req.EmployeeID == "" {
		writeError(w, http.StatusBadRequest, "employee_id is required", nil)
		return
	}
	amount, err := decimal.NewFromString(req.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid amount: must be a decimal string", err)
		return
	}

	balance, err := h.Service.ConvertLopToCasual(r.Context(), req.EmployeeID, amount, actor)
	if err != nil {
		writeDomainError(w, "Conversion rejected", err)
		return
	}

	writeJSON(w, http.StatusOK, toBalanceDTO(balance))
}

// Consume debits a balance for an approved leave request.
// POST /api/requests/consume
func (h *Handler) Consume(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFromRequest(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, "Missing X-Actor-ID / X-Actor-Role headers", nil)
		return
	}

	var req ConsumeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if req.EmployeeID == "" || req.RequestID == "" {
		writeError(w, http.StatusBadRequest, "employee_id and request_id are required", nil)
		return
	}
	amount, err := decimal.NewFromString(req.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid amount: must be a decimal string", err)
		return
	}

	balance, err := h.Service.Consume(r.Context(), req.EmployeeID, ledger.LeaveType(req.LeaveType), amount, actor, req.RequestID)
	if err != nil {
		writeDomainError(w, "Consumption rejected", err)
		return
	}

	writeJSON(w, http.StatusOK, toBalanceDTO(balance))
}

// =============================================================================
// ACCRUAL HANDLERS
// =============================================================================

// RunAccrual triggers a monthly accrual batch. Defaults to the current
// month; safe to call twice for the same month.
// POST /api/admin/accrual/run
func (h *Handler) RunAccrual(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFromRequest(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, "Missing X-Actor-ID / X-Actor-Role headers", nil)
		return
	}
	if actor.Role != leave.RoleHR && actor.Role != leave.RoleSuperAdmin && actor.Role != leave.RoleSystem {
		writeError(w, http.StatusForbidden, "Role not permitted to run accrual", nil)
		return
	}

	var req RunAccrualRequest
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "Invalid request body", err)
			return
		}
	}

	now := time.Now()
	year, month := req.Year, time.Month(req.Month)
	if year == 0 {
		year = now.Year()
	}
	if month == 0 {
		month = now.Month()
	}
	if month < time.January || month > time.December {
		writeError(w, http.StatusBadRequest, "Invalid month", nil)
		return
	}

	report, err := h.Engine.AccrueMonthly(r.Context(), year, month)
	dto := AccrualReportDTO{
		Year:     report.Year,
		Month:    int(report.Month),
		Credited: report.Credited,
		Skipped:  report.Skipped,
		Errors:   report.Errors,
	}
	if err != nil {
		// Partial progress is committed; surface it with the failure.
		writeJSON(w, http.StatusInternalServerError, struct {
			Error  string           `json:"error"`
			Report AccrualReportDTO `json:"report"`
		}{Error: err.Error(), Report: dto})
		return
	}

	writeJSON(w, http.StatusOK, dto)
}

// ListAccrualRuns returns the per-employee run markers for a month.
// GET /api/admin/accrual/runs?year=2026&month=9
func (h *Handler) ListAccrualRuns(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	year, err := strconv.Atoi(q.Get("year"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "year query param is required", err)
		return
	}
	monthNum, err := strconv.Atoi(q.Get("month"))
	if err != nil || monthNum < 1 || monthNum > 12 {
		writeError(w, http.StatusBadRequest, "month query param is required (1-12)", err)
		return
	}

	runs, err := h.Store.AccrualRuns(r.Context(), year, time.Month(monthNum))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to load accrual runs", err)
		return
	}

	dtos := make([]AccrualRunDTO, len(runs))
	for i, run := range runs {
		dtos[i] = AccrualRunDTO{
			ID:             run.ID,
			EmployeeID:     run.EmployeeID,
			Year:           run.Year,
			Month:          int(run.Month),
			CreditedCasual: run.CreditedCasual.String(),
			CreditedSick:   run.CreditedSick.String(),
			CreatedAt:      run.CreatedAt.Format(time.RFC3339),
		}
	}

	writeJSON(w, http.StatusOK, dtos)
}

// =============================================================================
// EMPLOYEE HANDLERS
// =============================================================================

// ListEmployees returns all employees, active and inactive.
func (h *Handler) ListEmployees(w http.ResponseWriter, r *http.Request) {
	employees, err := h.Store.ListEmployees(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list employees", err)
		return
	}

	dtos := make([]EmployeeDTO, len(employees))
	for i, e := range employees {
		dtos[i] = toEmployeeDTO(e)
	}

	writeJSON(w, http.StatusOK, dtos)
}

// GetEmployee returns a single employee.
func (h *Handler) GetEmployee(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	emp, err := h.Store.Employee(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to get employee", err)
		return
	}
	if emp == nil {
		writeError(w, http.StatusNotFound, "Employee not found", nil)
		return
	}

	writeJSON(w, http.StatusOK, toEmployeeDTO(*emp))
}

// CreateEmployee registers a new active employee.
func (h *Handler) CreateEmployee(w http.ResponseWriter, r *http.Request) {
	var req CreateEmployeeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if req.ID == "" || req.Name == "" {
		writeError(w, http.StatusBadRequest, "id and name are required", nil)
		return
	}

	hireDate, err := time.Parse("2006-01-02", req.HireDate)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid hire_date format (use YYYY-MM-DD)", err)
		return
	}

	emp := ledger.Employee{
		ID:       req.ID,
		Name:     req.Name,
		Email:    req.Email,
		HireDate: hireDate,
		Active:   true,
	}

	if err := h.Store.SaveEmployee(r.Context(), emp); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to create employee", err)
		return
	}

	writeJSON(w, http.StatusCreated, toEmployeeDTO(emp))
}

// ResetDatabase clears all data (dev/demo only).
// POST /api/admin/reset
func (h *Handler) ResetDatabase(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFromRequest(r)
	if !ok || actor.Role != leave.RoleSuperAdmin {
		writeError(w, http.StatusForbidden, "Reset requires a super_admin actor", nil)
		return
	}

	if err := h.Store.Reset(r.Context()); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to reset database", err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "reset"})
}

func toEmployeeDTO(e ledger.Employee) EmployeeDTO {
	return EmployeeDTO{
		ID:       e.ID,
		Name:     e.Name,
		Email:    e.Email,
		HireDate: e.HireDate.Format("2006-01-02"),
		Active:   e.Active,
	}
}

// =============================================================================
// RESPONSE HELPERS
// =============================================================================

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}

// writeDomainError maps domain errors onto HTTP statuses.
func writeDomainError(w http.ResponseWriter, message string, err error) {
	writeError(w, statusFor(err), message, err)
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, ledger.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, ledger.ErrEmployeeNotFound):
		return http.StatusNotFound
	case errors.Is(err, ledger.ErrEmployeeNotEligible):
		return http.StatusUnprocessableEntity
	case errors.Is(err, ledger.ErrAccrualAlreadyRun), errors.Is(err, ledger.ErrStoreConflict):
		return http.StatusConflict
	case ledger.IsClientError(err):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}
