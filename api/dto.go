/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the internal domain model from the external API contract, allowing:
  - Field renaming without breaking clients
  - API-specific validation
  - Version evolution

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients

HOURS ON THE WIRE:
  Internally all hours are decimal.Decimal. On the wire they are JSON
  numbers; conversion happens at this boundary and nowhere else.

VALIDATION:
  Request bodies carry validator/v10 struct tags; handlers run them before
  touching domain logic. Domain-level validation (collected message lists)
  still applies after.

SEE ALSO:
  - handlers.go: Uses these types
*/
package api

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/fieldserve/pto-engine/pto"
)

// =============================================================================
// POLICY TYPES
// =============================================================================

// PolicyDTO represents an accrual policy in API responses.
type PolicyDTO struct {
	ID                     string   `json:"id"`
	CompanyID              string   `json:"company_id"`
	Name                   string   `json:"name"`
	AccrualPeriod          string   `json:"accrual_period"`
	VacationHoursPerPeriod float64  `json:"vacation_hours_per_period"`
	SickHoursPerPeriod     float64  `json:"sick_hours_per_period"`
	MaxVacationHours       *float64 `json:"max_vacation_hours,omitempty"`
	MaxSickHours           *float64 `json:"max_sick_hours,omitempty"`
	CarryoverLimit         *float64 `json:"carryover_limit,omitempty"`
	IsActive               bool     `json:"is_active"`
	CreatedAt              string   `json:"created_at,omitempty"`
	UpdatedAt              string   `json:"updated_at,omitempty"`
}

// SavePolicyRequest is the body for creating or updating a policy.
type SavePolicyRequest struct {
	CompanyID              string   `json:"company_id" validate:"required"`
	Name                   string   `json:"name" validate:"required"`
	AccrualPeriod          string   `json:"accrual_period" validate:"required,oneof=weekly biweekly monthly"`
	VacationHoursPerPeriod float64  `json:"vacation_hours_per_period" validate:"gte=0"`
	SickHoursPerPeriod     float64  `json:"sick_hours_per_period" validate:"gte=0"`
	MaxVacationHours       *float64 `json:"max_vacation_hours" validate:"omitempty,gte=0"`
	MaxSickHours           *float64 `json:"max_sick_hours" validate:"omitempty,gte=0"`
	CarryoverLimit         *float64 `json:"carryover_limit" validate:"omitempty,gte=0"`
}

// =============================================================================
// EMPLOYEE TYPES
// =============================================================================

// EmployeeDTO represents an employee in API responses.
type EmployeeDTO struct {
	ID        string `json:"id"`
	CompanyID string `json:"company_id"`
	Name      string `json:"name"`
	Email     string `json:"email,omitempty"`
	HireDate  string `json:"hire_date,omitempty"`
	IsActive  bool   `json:"is_active"`
	CreatedAt string `json:"created_at,omitempty"`
}

// CreateEmployeeRequest is the body for creating an employee.
type CreateEmployeeRequest struct {
	ID        string `json:"id"`
	CompanyID string `json:"company_id" validate:"required"`
	Name      string `json:"name" validate:"required"`
	Email     string `json:"email" validate:"omitempty,email"`
	HireDate  string `json:"hire_date" validate:"omitempty,datetime=2006-01-02"`
}

// =============================================================================
// BALANCE + LEDGER TYPES
// =============================================================================

// BalanceDTO represents a current balance in API responses.
type BalanceDTO struct {
	EmployeeID          string  `json:"employee_id"`
	CompanyID           string  `json:"company_id"`
	Category            string  `json:"category_code"`
	CurrentBalance      float64 `json:"current_balance"`
	LastTransactionDate string  `json:"last_transaction_date,omitempty"`
	AccrualCount        int     `json:"accrual_count"`
	UsageCount          int     `json:"usage_count"`
}

// AdjustBalanceRequest is the body for a manual balance adjustment.
type AdjustBalanceRequest struct {
	Category   string  `json:"category_code" validate:"required,oneof=VAC SICK PERS OTHER"`
	Hours      float64 `json:"hours" validate:"required"`
	Reason     string  `json:"reason" validate:"required"`
	AdjustedBy string  `json:"adjusted_by"`
}

// LedgerEntryDTO represents one ledger entry in API responses.
type LedgerEntryDTO struct {
	ID               string  `json:"id"`
	EmployeeID       string  `json:"employee_id"`
	PolicyID         string  `json:"policy_id,omitempty"`
	EntryType        string  `json:"entry_type"`
	Category         string  `json:"category_code"`
	Hours            float64 `json:"hours"`
	EffectiveDate    string  `json:"effective_date"`
	BalanceAfter     float64 `json:"balance_after"`
	RelatedRequestID string  `json:"related_request_id,omitempty"`
	Description      string  `json:"description,omitempty"`
	ProcessedBy      string  `json:"processed_by,omitempty"`
	CreatedAt        string  `json:"created_at"`
}

// ReconcileDTO reports a reconciliation pass on one balance.
type ReconcileDTO struct {
	EmployeeID    string  `json:"employee_id"`
	Category      string  `json:"category_code"`
	LedgerBalance float64 `json:"ledger_balance"`
	CachedBalance float64 `json:"cached_balance"`
	Drift         float64 `json:"drift"`
	Repaired      bool    `json:"repaired"`
}

// =============================================================================
// REQUEST LIFECYCLE TYPES
// =============================================================================

// RequestDTO represents a time-off request in API responses.
type RequestDTO struct {
	ID             string   `json:"id"`
	EmployeeID     string   `json:"employee_id"`
	CompanyID      string   `json:"company_id"`
	AccrualType    string   `json:"accrual_type"`
	StartsAt       string   `json:"starts_at"`
	EndsAt         string   `json:"ends_at"`
	HoursRequested float64  `json:"hours_requested"`
	HoursApproved  *float64 `json:"hours_approved,omitempty"`
	Status         string   `json:"status"`
	Note           string   `json:"note,omitempty"`
	DenialReason   string   `json:"denial_reason,omitempty"`
	ApprovedBy     string   `json:"approved_by,omitempty"`
	ApprovedAt     string   `json:"approved_at,omitempty"`
	DeniedBy       string   `json:"denied_by,omitempty"`
	DeniedAt       string   `json:"denied_at,omitempty"`
	CreatedAt      string   `json:"created_at"`
}

// SubmitRequestResponse wraps a created request with an advisory balance
// check. The warning is informational; sufficiency is decided at approval.
type SubmitRequestResponse struct {
	Request RequestDTO `json:"request"`
	Warning string     `json:"warning,omitempty"`
}

// SubmitRequest is the body for creating a time-off request.
type SubmitRequest struct {
	EmployeeID     string  `json:"employee_id" validate:"required"`
	CompanyID      string  `json:"company_id"`
	AccrualType    string  `json:"accrual_type" validate:"required,oneof=vacation sick personal other"`
	StartsAt       string  `json:"starts_at" validate:"required,datetime=2006-01-02"`
	EndsAt         string  `json:"ends_at" validate:"required,datetime=2006-01-02"`
	HoursRequested float64 `json:"hours_requested" validate:"gte=0"`
	Note           string  `json:"note"`
	CreatedBy      string  `json:"created_by"`
}

// ApproveRequest is the body for approving a time-off request.
type ApproveRequest struct {
	HoursApproved float64 `json:"hours_approved" validate:"gte=0"`
	ApprovedBy    string  `json:"approved_by"`
}

// DenyRequest is the body for denying a time-off request.
type DenyRequest struct {
	Reason   string `json:"reason" validate:"required"`
	DeniedBy string `json:"denied_by"`
}

// =============================================================================
// ACCRUAL RUN TYPES
// =============================================================================

// CategoryAccrualDTO reports one category accrual outcome.
type CategoryAccrualDTO struct {
	Category     string  `json:"category_code"`
	HoursAccrued float64 `json:"hours_accrued"`
	NewBalance   float64 `json:"new_balance"`
	WasCapped    bool    `json:"was_capped"`
}

// EmployeeAccrualDTO reports one employee's accrual outcome.
type EmployeeAccrualDTO struct {
	EmployeeID string               `json:"employee_id"`
	Categories []CategoryAccrualDTO `json:"categories,omitempty"`
	Error      string               `json:"error,omitempty"`
}

// AccrualRunDTO summarizes a batch accrual run.
type AccrualRunDTO struct {
	CompanyID  string               `json:"company_id,omitempty"`
	StartedAt  string               `json:"started_at"`
	FinishedAt string               `json:"finished_at"`
	Processed  int                  `json:"processed"`
	Succeeded  int                  `json:"succeeded"`
	Failed     int                  `json:"failed"`
	Employees  []EmployeeAccrualDTO `json:"employees"`
}

// ProcessAccrualsRequest is the body for triggering a batch accrual run.
type ProcessAccrualsRequest struct {
	CompanyID string `json:"company_id"`
}

// ProcessCarryoverRequest is the body for triggering year-boundary carryover.
type ProcessCarryoverRequest struct {
	CompanyID string `json:"company_id"`
	Year      int    `json:"year" validate:"required"`
}

// CarryoverResultDTO reports one trimmed vacation balance.
type CarryoverResultDTO struct {
	EmployeeID     string  `json:"employee_id"`
	Category       string  `json:"category_code"`
	ForfeitedHours float64 `json:"forfeited_hours"`
	NewBalance     float64 `json:"new_balance"`
}

// =============================================================================
// REPORT TYPES
// =============================================================================

// CategorySummaryDTO aggregates one category.
type CategorySummaryDTO struct {
	Category     string  `json:"category_code"`
	TotalAccrued float64 `json:"total_accrued"`
	TotalUsed    float64 `json:"total_used"`
	Balance      float64 `json:"balance"`
}

// EmployeeSummaryDTO aggregates one employee.
type EmployeeSummaryDTO struct {
	EmployeeID string               `json:"employee_id"`
	Categories []CategorySummaryDTO `json:"categories"`
}

// CompanySummaryDTO aggregates a company.
type CompanySummaryDTO struct {
	CompanyID string               `json:"company_id"`
	Employees []EmployeeSummaryDTO `json:"employees"`
}

// ErrorResponse is the JSON error envelope.
type ErrorResponse struct {
	Error   string   `json:"error"`
	Details []string `json:"details,omitempty"`
}

// =============================================================================
// CONVERSIONS
// =============================================================================

func floatPtr(d *decimal.Decimal) *float64 {
	if d == nil {
		return nil
	}
	f := d.InexactFloat64()
	return &f
}

func decimalFromPtr(f *float64) *decimal.Decimal {
	if f == nil {
		return nil
	}
	d := decimal.NewFromFloat(*f)
	return &d
}

func timeString(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

func timePtrString(t *time.Time) string {
	if t == nil {
		return ""
	}
	return timeString(*t)
}

func toPolicyDTO(p pto.Policy) PolicyDTO {
	return PolicyDTO{
		ID:                     p.ID,
		CompanyID:              p.CompanyID,
		Name:                   p.Name,
		AccrualPeriod:          string(p.AccrualPeriod),
		VacationHoursPerPeriod: p.VacationHoursPerPeriod.InexactFloat64(),
		SickHoursPerPeriod:     p.SickHoursPerPeriod.InexactFloat64(),
		MaxVacationHours:       floatPtr(p.MaxVacationHours),
		MaxSickHours:           floatPtr(p.MaxSickHours),
		CarryoverLimit:         floatPtr(p.CarryoverLimit),
		IsActive:               p.IsActive,
		CreatedAt:              timeString(p.CreatedAt),
		UpdatedAt:              timeString(p.UpdatedAt),
	}
}

func toEmployeeDTO(e pto.Employee) EmployeeDTO {
	dto := EmployeeDTO{
		ID:        e.ID,
		CompanyID: e.CompanyID,
		Name:      e.Name,
		Email:     e.Email,
		IsActive:  e.IsActive,
		CreatedAt: timeString(e.CreatedAt),
	}
	if !e.HireDate.IsZero() {
		dto.HireDate = e.HireDate.UTC().Format("2006-01-02")
	}
	return dto
}

func toBalanceDTO(b pto.Balance) BalanceDTO {
	return BalanceDTO{
		EmployeeID:          b.EmployeeID,
		CompanyID:           b.CompanyID,
		Category:            string(b.Category),
		CurrentBalance:      b.CurrentBalance.InexactFloat64(),
		LastTransactionDate: timeString(b.LastTransactionDate),
		AccrualCount:        b.AccrualCount,
		UsageCount:          b.UsageCount,
	}
}

func toLedgerEntryDTO(e pto.LedgerEntry) LedgerEntryDTO {
	return LedgerEntryDTO{
		ID:               e.ID,
		EmployeeID:       e.EmployeeID,
		PolicyID:         e.PolicyID,
		EntryType:        string(e.Type),
		Category:         string(e.Category),
		Hours:            e.Hours.InexactFloat64(),
		EffectiveDate:    e.EffectiveDate.UTC().Format("2006-01-02"),
		BalanceAfter:     e.BalanceAfter.InexactFloat64(),
		RelatedRequestID: e.RelatedRequestID,
		Description:      e.Description,
		ProcessedBy:      e.ProcessedBy,
		CreatedAt:        timeString(e.CreatedAt),
	}
}

func toRequestDTO(r pto.Request) RequestDTO {
	return RequestDTO{
		ID:             r.ID,
		EmployeeID:     r.EmployeeID,
		CompanyID:      r.CompanyID,
		AccrualType:    string(r.AccrualType),
		StartsAt:       r.StartsAt.UTC().Format("2006-01-02"),
		EndsAt:         r.EndsAt.UTC().Format("2006-01-02"),
		HoursRequested: r.HoursRequested.InexactFloat64(),
		HoursApproved:  floatPtr(r.HoursApproved),
		Status:         string(r.Status),
		Note:           r.Note,
		DenialReason:   r.DenialReason,
		ApprovedBy:     r.ApprovedBy,
		ApprovedAt:     timePtrString(r.ApprovedAt),
		DeniedBy:       r.DeniedBy,
		DeniedAt:       timePtrString(r.DeniedAt),
		CreatedAt:      timeString(r.CreatedAt),
	}
}

func toAccrualRunDTO(run pto.AccrualRun) AccrualRunDTO {
	dto := AccrualRunDTO{
		CompanyID:  run.CompanyID,
		StartedAt:  timeString(run.StartedAt),
		FinishedAt: timeString(run.FinishedAt),
		Processed:  run.Processed,
		Succeeded:  run.Succeeded,
		Failed:     run.Failed,
		Employees:  make([]EmployeeAccrualDTO, 0, len(run.Employees)),
	}
	for _, e := range run.Employees {
		dto.Employees = append(dto.Employees, toEmployeeAccrualDTO(e))
	}
	return dto
}

func toEmployeeAccrualDTO(e pto.EmployeeAccrual) EmployeeAccrualDTO {
	dto := EmployeeAccrualDTO{EmployeeID: e.EmployeeID}
	if e.Err != nil {
		dto.Error = e.Err.Error()
	}
	for _, c := range e.Categories {
		dto.Categories = append(dto.Categories, CategoryAccrualDTO{
			Category:     string(c.Category),
			HoursAccrued: c.HoursAccrued.InexactFloat64(),
			NewBalance:   c.NewBalance.InexactFloat64(),
			WasCapped:    c.WasCapped,
		})
	}
	return dto
}

func toEmployeeSummaryDTO(s pto.EmployeeSummary) EmployeeSummaryDTO {
	dto := EmployeeSummaryDTO{
		EmployeeID: s.EmployeeID,
		Categories: make([]CategorySummaryDTO, 0, len(s.Categories)),
	}
	for _, c := range s.Categories {
		dto.Categories = append(dto.Categories, CategorySummaryDTO{
			Category:     string(c.Category),
			TotalAccrued: c.TotalAccrued.InexactFloat64(),
			TotalUsed:    c.TotalUsed.InexactFloat64(),
			Balance:      c.Balance.InexactFloat64(),
		})
	}
	return dto
}
