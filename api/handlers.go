/*
handlers.go - HTTP API handlers for the PTO engine

PURPOSE:
  Exposes the PTO engine via REST API. Handles HTTP request/response, JSON
  serialization, and delegates to domain logic.

ENDPOINTS:
  Policies:
    GET    /api/pto/policies                     List active policies
    POST   /api/pto/policies                     Create policy
    PUT    /api/pto/policies/{id}                Update policy
    DELETE /api/pto/policies/{id}                Deactivate policy

  Employees:
    GET    /api/pto/employees?company_id=        List active employees
    POST   /api/pto/employees                    Create employee
    GET    /api/pto/employees/{id}               Get employee

  Balances + ledger:
    GET    /api/pto/balance?company_id=          Company-wide balances
    GET    /api/pto/balance/{employeeId}         Current balances
    POST   /api/pto/balance/{employeeId}/adjust  Manual adjustment
    GET    /api/pto/ledger/{employeeId}          Transaction history
    POST   /api/pto/ledger/{employeeId}/reconcile Repair cached balance

  Requests:
    POST   /api/pto/requests                     Submit request
    GET    /api/pto/requests                     List requests (filtered)
    GET    /api/pto/requests/{id}                Get request
    POST   /api/pto/requests/{id}/approve        Approve (deducts balance)
    POST   /api/pto/requests/{id}/deny           Deny (requires reason)
    POST   /api/pto/requests/{id}/cancel         Cancel pending request

  Accruals:
    POST   /api/pto/accruals/process             Batch accrual run
    POST   /api/pto/accruals/process/{employeeId} Single-employee accrual
    POST   /api/pto/carryover/process            Year-boundary carryover

  Reports:
    GET    /api/pto/reports/company/{companyId}
    GET    /api/pto/reports/employee/{employeeId}

ERROR HANDLING:
  Domain errors map onto HTTP status codes in writeDomainError:
  - 400: Validation failures (full message list in details)
  - 404: Missing policy/employee/request
  - 409: Insufficient balance, invalid transitions, lost races, run in
         progress
  - 500: Storage failures (generic message, detail stays in logs)

SECURITY NOTE:
  Currently NO authentication or authorization. All endpoints are public.
  Actor identity arrives in request bodies (approved_by etc.) and is
  recorded for audit, not enforced.

SEE ALSO:
  - dto.go: Request/response data structures
  - server.go: Router setup and middleware
*/
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/fieldserve/pto-engine/pto"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Store    pto.TxStore
	Policies *pto.PolicyService
	Balances *pto.BalanceService
	Ledger   *pto.LedgerService
	Requests *pto.RequestService
	Reports  *pto.ReportService
	Engine   *pto.AccrualEngine

	validate *validator.Validate
	log      zerolog.Logger
}

// NewHandler creates a handler wired to a store and run-lock provider.
func NewHandler(store pto.TxStore, locks pto.RunLockStore, log zerolog.Logger) *Handler {
	return &Handler{
		Store:    store,
		Policies: pto.NewPolicyService(store),
		Balances: pto.NewBalanceService(store),
		Ledger:   pto.NewLedgerService(store),
		Requests: pto.NewRequestService(store),
		Reports:  pto.NewReportService(store),
		Engine:   pto.NewAccrualEngine(store, locks, log),
		validate: validator.New(),
		log:      log.With().Str("component", "api").Logger(),
	}
}

// decodeAndValidate parses the JSON body into v and runs struct validation.
// Decode failures are client errors, so they surface as ValidationErrors and
// map to 400 rather than the generic 500 branch.
func (h *Handler) decodeAndValidate(r *http.Request, v any) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return pto.ValidationErrors{fmt.Sprintf("invalid request body: %v", err)}
	}
	if err := h.validate.Struct(v); err != nil {
		var invalid validator.ValidationErrors
		if errors.As(err, &invalid) {
			var msgs pto.ValidationErrors
			for _, f := range invalid {
				msgs = append(msgs, fmt.Sprintf("field %s failed rule %q", f.Field(), f.Tag()))
			}
			return msgs
		}
		return err
	}
	return nil
}

// =============================================================================
// POLICY HANDLERS
// =============================================================================

// ListPolicies returns active policies, optionally filtered by company.
func (h *Handler) ListPolicies(w http.ResponseWriter, r *http.Request) {
	policies, err := h.Policies.GetActivePolicies(r.Context(), r.URL.Query().Get("company_id"))
	if err != nil {
		h.writeDomainError(w, err, "Failed to list policies")
		return
	}

	dtos := make([]PolicyDTO, 0, len(policies))
	for _, p := range policies {
		dtos = append(dtos, toPolicyDTO(p))
	}
	writeJSON(w, http.StatusOK, dtos)
}

// CreatePolicy creates a new active policy.
func (h *Handler) CreatePolicy(w http.ResponseWriter, r *http.Request) {
	var req SavePolicyRequest
	if err := h.decodeAndValidate(r, &req); err != nil {
		h.writeDomainError(w, err, "Invalid policy")
		return
	}

	p, err := h.Policies.CreatePolicy(r.Context(), policyInput(req))
	if err != nil {
		h.writeDomainError(w, err, "Failed to create policy")
		return
	}
	writeJSON(w, http.StatusCreated, toPolicyDTO(*p))
}

// UpdatePolicy applies administrative edits to a policy.
func (h *Handler) UpdatePolicy(w http.ResponseWriter, r *http.Request) {
	var req SavePolicyRequest
	if err := h.decodeAndValidate(r, &req); err != nil {
		h.writeDomainError(w, err, "Invalid policy")
		return
	}

	p, err := h.Policies.UpdatePolicy(r.Context(), chi.URLParam(r, "id"), policyInput(req))
	if err != nil {
		h.writeDomainError(w, err, "Failed to update policy")
		return
	}
	writeJSON(w, http.StatusOK, toPolicyDTO(*p))
}

// DeactivatePolicy marks a policy inactive.
func (h *Handler) DeactivatePolicy(w http.ResponseWriter, r *http.Request) {
	if err := h.Policies.DeactivatePolicy(r.Context(), chi.URLParam(r, "id")); err != nil {
		h.writeDomainError(w, err, "Failed to deactivate policy")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func policyInput(req SavePolicyRequest) pto.PolicyInput {
	return pto.PolicyInput{
		CompanyID:              req.CompanyID,
		Name:                   req.Name,
		AccrualPeriod:          pto.AccrualPeriod(req.AccrualPeriod),
		VacationHoursPerPeriod: decimal.NewFromFloat(req.VacationHoursPerPeriod),
		SickHoursPerPeriod:     decimal.NewFromFloat(req.SickHoursPerPeriod),
		MaxVacationHours:       decimalFromPtr(req.MaxVacationHours),
		MaxSickHours:           decimalFromPtr(req.MaxSickHours),
		CarryoverLimit:         decimalFromPtr(req.CarryoverLimit),
	}
}

// =============================================================================
// EMPLOYEE HANDLERS
// =============================================================================

// CreateEmployee registers an employee.
func (h *Handler) CreateEmployee(w http.ResponseWriter, r *http.Request) {
	var req CreateEmployeeRequest
	if err := h.decodeAndValidate(r, &req); err != nil {
		h.writeDomainError(w, err, "Invalid employee")
		return
	}

	e := pto.Employee{
		ID:        req.ID,
		CompanyID: req.CompanyID,
		Name:      req.Name,
		Email:     req.Email,
		IsActive:  true,
		CreatedAt: time.Now().UTC(),
	}
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if req.HireDate != "" {
		hire, err := time.Parse("2006-01-02", req.HireDate)
		if err != nil {
			h.writeDomainError(w, pto.ValidationErrors{"hire_date must be YYYY-MM-DD"}, "Invalid employee")
			return
		}
		e.HireDate = hire
	}

	if err := h.Store.SaveEmployee(r.Context(), e); err != nil {
		h.writeDomainError(w, err, "Failed to create employee")
		return
	}
	writeJSON(w, http.StatusCreated, toEmployeeDTO(e))
}

// ListEmployees returns active employees for a company.
func (h *Handler) ListEmployees(w http.ResponseWriter, r *http.Request) {
	companyID := r.URL.Query().Get("company_id")
	if companyID == "" {
		h.writeDomainError(w, pto.ValidationErrors{"company_id query parameter is required"}, "Invalid employee query")
		return
	}

	employees, err := h.Store.ListActiveEmployees(r.Context(), companyID)
	if err != nil {
		h.writeDomainError(w, err, "Failed to list employees")
		return
	}

	dtos := make([]EmployeeDTO, 0, len(employees))
	for _, e := range employees {
		dtos = append(dtos, toEmployeeDTO(e))
	}
	writeJSON(w, http.StatusOK, dtos)
}

// GetEmployee returns an employee by ID.
func (h *Handler) GetEmployee(w http.ResponseWriter, r *http.Request) {
	e, err := h.Store.GetEmployee(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeDomainError(w, err, "Failed to get employee")
		return
	}
	if e == nil {
		writeError(w, http.StatusNotFound, "Employee not found", nil)
		return
	}
	writeJSON(w, http.StatusOK, toEmployeeDTO(*e))
}

// =============================================================================
// BALANCE + LEDGER HANDLERS
// =============================================================================

// GetBalances returns all current balances for an employee.
func (h *Handler) GetBalances(w http.ResponseWriter, r *http.Request) {
	balances, err := h.Balances.Balances(r.Context(), chi.URLParam(r, "employeeId"))
	if err != nil {
		h.writeDomainError(w, err, "Failed to get balances")
		return
	}

	dtos := make([]BalanceDTO, 0, len(balances))
	for _, b := range balances {
		dtos = append(dtos, toBalanceDTO(b))
	}
	writeJSON(w, http.StatusOK, dtos)
}

// ListCompanyBalances returns every balance row for a company.
func (h *Handler) ListCompanyBalances(w http.ResponseWriter, r *http.Request) {
	companyID := r.URL.Query().Get("company_id")
	if companyID == "" {
		h.writeDomainError(w, pto.ValidationErrors{"company_id query parameter is required"}, "Invalid balance query")
		return
	}

	balances, err := h.Balances.CompanyBalances(r.Context(), companyID)
	if err != nil {
		h.writeDomainError(w, err, "Failed to list balances")
		return
	}

	dtos := make([]BalanceDTO, 0, len(balances))
	for _, b := range balances {
		dtos = append(dtos, toBalanceDTO(b))
	}
	writeJSON(w, http.StatusOK, dtos)
}

// AdjustBalance applies a manual signed correction.
func (h *Handler) AdjustBalance(w http.ResponseWriter, r *http.Request) {
	var req AdjustBalanceRequest
	if err := h.decodeAndValidate(r, &req); err != nil {
		h.writeDomainError(w, err, "Invalid adjustment")
		return
	}

	bal, err := h.Balances.AdjustBalance(r.Context(),
		chi.URLParam(r, "employeeId"), "",
		pto.CategoryCode(req.Category),
		decimal.NewFromFloat(req.Hours), req.Reason, req.AdjustedBy)
	if err != nil {
		h.writeDomainError(w, err, "Failed to adjust balance")
		return
	}
	writeJSON(w, http.StatusOK, toBalanceDTO(*bal))
}

// GetLedger returns an employee's full transaction history.
func (h *Handler) GetLedger(w http.ResponseWriter, r *http.Request) {
	entries, err := h.Ledger.History(r.Context(), chi.URLParam(r, "employeeId"))
	if err != nil {
		h.writeDomainError(w, err, "Failed to get ledger")
		return
	}

	dtos := make([]LedgerEntryDTO, 0, len(entries))
	for _, e := range entries {
		dtos = append(dtos, toLedgerEntryDTO(e))
	}
	writeJSON(w, http.StatusOK, dtos)
}

// ReconcileBalance recomputes one cached balance from its ledger and
// repairs drift. The category arrives as a query parameter.
func (h *Handler) ReconcileBalance(w http.ResponseWriter, r *http.Request) {
	category := pto.CategoryCode(r.URL.Query().Get("category"))
	if category == "" {
		h.writeDomainError(w, pto.ValidationErrors{"category query parameter is required"}, "Invalid reconciliation")
		return
	}

	result, err := h.Ledger.ReconcileBalance(r.Context(),
		chi.URLParam(r, "employeeId"), category, "api")
	if err != nil {
		h.writeDomainError(w, err, "Failed to reconcile balance")
		return
	}
	writeJSON(w, http.StatusOK, ReconcileDTO{
		EmployeeID:    result.EmployeeID,
		Category:      string(result.Category),
		LedgerBalance: result.LedgerBalance.InexactFloat64(),
		CachedBalance: result.CachedBalance.InexactFloat64(),
		Drift:         result.Drift.InexactFloat64(),
		Repaired:      result.Repaired,
	})
}

// =============================================================================
// REQUEST LIFECYCLE HANDLERS
// =============================================================================

// SubmitRequest creates a PENDING time-off request. The response carries an
// advisory warning when the current balance would not cover the hours; the
// request is still accepted because the authoritative check happens at
// approval.
func (h *Handler) SubmitRequest(w http.ResponseWriter, r *http.Request) {
	var req SubmitRequest
	if err := h.decodeAndValidate(r, &req); err != nil {
		h.writeDomainError(w, err, "Invalid request")
		return
	}

	starts, err := time.Parse("2006-01-02", req.StartsAt)
	if err != nil {
		h.writeDomainError(w, pto.ValidationErrors{"starts_at must be YYYY-MM-DD"}, "Invalid request")
		return
	}
	ends, err := time.Parse("2006-01-02", req.EndsAt)
	if err != nil {
		h.writeDomainError(w, pto.ValidationErrors{"ends_at must be YYYY-MM-DD"}, "Invalid request")
		return
	}

	created, err := h.Requests.CreateRequest(r.Context(), pto.RequestInput{
		EmployeeID:     req.EmployeeID,
		CompanyID:      req.CompanyID,
		AccrualType:    pto.AccrualType(req.AccrualType),
		StartsAt:       starts,
		EndsAt:         ends,
		HoursRequested: decimal.NewFromFloat(req.HoursRequested),
		Note:           req.Note,
		CreatedBy:      req.CreatedBy,
	})
	if err != nil {
		h.writeDomainError(w, err, "Failed to create request")
		return
	}

	resp := SubmitRequestResponse{Request: toRequestDTO(*created)}
	if category, ok := created.AccrualType.Category(); ok {
		available, err := h.Balances.Balance(r.Context(), created.EmployeeID, category)
		if err == nil && available.LessThan(created.HoursRequested) {
			resp.Warning = fmt.Sprintf(
				"current %s balance is %s hours, below the %s requested; approval will fail unless more accrues",
				category, available, created.HoursRequested)
		}
	}
	writeJSON(w, http.StatusCreated, resp)
}

// ListRequests returns requests filtered by company, employee, and status.
func (h *Handler) ListRequests(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	requests, err := h.Requests.ListRequests(r.Context(), pto.RequestFilter{
		CompanyID:  q.Get("company_id"),
		EmployeeID: q.Get("employee_id"),
		Status:     pto.RequestStatus(q.Get("status")),
	})
	if err != nil {
		h.writeDomainError(w, err, "Failed to list requests")
		return
	}

	dtos := make([]RequestDTO, 0, len(requests))
	for _, req := range requests {
		dtos = append(dtos, toRequestDTO(req))
	}
	writeJSON(w, http.StatusOK, dtos)
}

// GetRequest returns a request by ID.
func (h *Handler) GetRequest(w http.ResponseWriter, r *http.Request) {
	req, err := h.Requests.GetRequest(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeDomainError(w, err, "Failed to get request")
		return
	}
	writeJSON(w, http.StatusOK, toRequestDTO(*req))
}

// ApproveRequest approves a pending request and deducts the balance.
func (h *Handler) ApproveRequest(w http.ResponseWriter, r *http.Request) {
	var req ApproveRequest
	if err := h.decodeAndValidate(r, &req); err != nil {
		h.writeDomainError(w, err, "Invalid approval")
		return
	}

	approved, err := h.Requests.ApproveRequest(r.Context(),
		chi.URLParam(r, "id"), decimal.NewFromFloat(req.HoursApproved), req.ApprovedBy)
	if err != nil {
		h.writeDomainError(w, err, "Failed to approve request")
		return
	}
	writeJSON(w, http.StatusOK, toRequestDTO(*approved))
}

// DenyRequest denies a pending request.
func (h *Handler) DenyRequest(w http.ResponseWriter, r *http.Request) {
	var req DenyRequest
	if err := h.decodeAndValidate(r, &req); err != nil {
		h.writeDomainError(w, err, "Invalid denial")
		return
	}

	denied, err := h.Requests.DenyRequest(r.Context(), chi.URLParam(r, "id"), req.Reason, req.DeniedBy)
	if err != nil {
		h.writeDomainError(w, err, "Failed to deny request")
		return
	}
	writeJSON(w, http.StatusOK, toRequestDTO(*denied))
}

// CancelRequest cancels a pending request.
func (h *Handler) CancelRequest(w http.ResponseWriter, r *http.Request) {
	cancelled, err := h.Requests.CancelRequest(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeDomainError(w, err, "Failed to cancel request")
		return
	}
	writeJSON(w, http.StatusOK, toRequestDTO(*cancelled))
}

// =============================================================================
// ACCRUAL HANDLERS
// =============================================================================

// ProcessAccruals triggers a batch accrual run.
func (h *Handler) ProcessAccruals(w http.ResponseWriter, r *http.Request) {
	var req ProcessAccrualsRequest
	if r.ContentLength > 0 {
		if err := h.decodeAndValidate(r, &req); err != nil {
			h.writeDomainError(w, err, "Invalid accrual trigger")
			return
		}
	}

	run, err := h.Engine.ProcessAllAccruals(r.Context(), req.CompanyID)
	if err != nil {
		h.writeDomainError(w, err, "Failed to process accruals")
		return
	}
	writeJSON(w, http.StatusOK, toAccrualRunDTO(*run))
}

// ProcessEmployeeAccrual runs one accrual period for a single employee.
func (h *Handler) ProcessEmployeeAccrual(w http.ResponseWriter, r *http.Request) {
	result, err := h.Engine.ProcessEmployeeAccrual(r.Context(), chi.URLParam(r, "employeeId"))
	if err != nil {
		h.writeDomainError(w, err, "Failed to process accrual")
		return
	}
	writeJSON(w, http.StatusOK, toEmployeeAccrualDTO(*result))
}

// ProcessCarryover triggers year-boundary carryover enforcement.
func (h *Handler) ProcessCarryover(w http.ResponseWriter, r *http.Request) {
	var req ProcessCarryoverRequest
	if err := h.decodeAndValidate(r, &req); err != nil {
		h.writeDomainError(w, err, "Invalid carryover trigger")
		return
	}

	results, err := h.Engine.ProcessCarryover(r.Context(), req.CompanyID, req.Year)
	if err != nil {
		h.writeDomainError(w, err, "Failed to process carryover")
		return
	}

	dtos := make([]CarryoverResultDTO, 0, len(results))
	for _, c := range results {
		dtos = append(dtos, CarryoverResultDTO{
			EmployeeID:     c.EmployeeID,
			Category:       string(c.Category),
			ForfeitedHours: c.ForfeitedHours.InexactFloat64(),
			NewBalance:     c.NewBalance.InexactFloat64(),
		})
	}
	writeJSON(w, http.StatusOK, dtos)
}

// =============================================================================
// REPORT HANDLERS
// =============================================================================

// CompanyReport returns accrued/used/balance per employee and category.
func (h *Handler) CompanyReport(w http.ResponseWriter, r *http.Request) {
	summary, err := h.Reports.CompanyReport(r.Context(), chi.URLParam(r, "companyId"))
	if err != nil {
		h.writeDomainError(w, err, "Failed to build report")
		return
	}

	dto := CompanySummaryDTO{
		CompanyID: summary.CompanyID,
		Employees: make([]EmployeeSummaryDTO, 0, len(summary.Employees)),
	}
	for _, e := range summary.Employees {
		dto.Employees = append(dto.Employees, toEmployeeSummaryDTO(e))
	}
	writeJSON(w, http.StatusOK, dto)
}

// EmployeeReport returns accrued/used/balance per category for one employee.
func (h *Handler) EmployeeReport(w http.ResponseWriter, r *http.Request) {
	summary, err := h.Reports.EmployeeReport(r.Context(), chi.URLParam(r, "employeeId"))
	if err != nil {
		h.writeDomainError(w, err, "Failed to build report")
		return
	}
	writeJSON(w, http.StatusOK, toEmployeeSummaryDTO(*summary))
}

// Health reports liveness.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// =============================================================================
// RESPONSE HELPERS
// =============================================================================

// writeDomainError maps domain errors onto HTTP status codes.
func (h *Handler) writeDomainError(w http.ResponseWriter, err error, message string) {
	var validation pto.ValidationErrors
	switch {
	case errors.As(err, &validation):
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: message, Details: validation})
	case pto.IsNotFound(err):
		writeError(w, http.StatusNotFound, message, err)
	case pto.IsClientError(err) || pto.IsRetryable(err):
		writeError(w, http.StatusConflict, message, err)
	default:
		h.log.Error().Err(err).Msg(message)
		writeError(w, http.StatusInternalServerError, message, nil)
	}
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = []string{err.Error()}
	}
	writeJSON(w, status, resp)
}
