/*
policy.go - Accrual policy management

PURPOSE:
  Policies are the rulesets that drive accrual: hours granted per pay
  period, per-category maximum balances, and the carryover limit applied at
  year boundaries. One active policy per company; the engine resolves an
  employee's policy through their company.

LIFECYCLE:
  Policies are created and edited by administrators and never deleted, only
  deactivated. Edits do not rewrite history: ledger entries keep the policy
  ID they were written under.

SEE ALSO:
  - accrual.go: Consumes policies to apply period accruals
  - request.go: Resolves the policy when validating approvals
*/
package pto

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// =============================================================================
// POLICY SERVICE
// =============================================================================

// PolicyService manages accrual policies.
type PolicyService struct {
	store Store
	now   func() time.Time
}

// NewPolicyService creates a policy service.
func NewPolicyService(store Store) *PolicyService {
	return &PolicyService{store: store, now: time.Now}
}

// PolicyInput carries the administrator-editable policy fields.
type PolicyInput struct {
	CompanyID string
	Name      string

	AccrualPeriod AccrualPeriod

	VacationHoursPerPeriod decimal.Decimal
	SickHoursPerPeriod     decimal.Decimal

	MaxVacationHours *decimal.Decimal
	MaxSickHours     *decimal.Decimal
	CarryoverLimit   *decimal.Decimal
}

func (in PolicyInput) validate() ValidationErrors {
	var errs ValidationErrors
	if in.CompanyID == "" {
		errs = append(errs, "company_id is required")
	}
	if in.Name == "" {
		errs = append(errs, "policy name is required")
	}
	if !ValidAccrualPeriod(in.AccrualPeriod) {
		errs = append(errs, fmt.Sprintf("accrual_period must be one of weekly, biweekly, monthly (got %q)", in.AccrualPeriod))
	}
	if in.VacationHoursPerPeriod.IsNegative() {
		errs = append(errs, "vacation_hours_per_period cannot be negative")
	}
	if in.SickHoursPerPeriod.IsNegative() {
		errs = append(errs, "sick_hours_per_period cannot be negative")
	}
	if in.MaxVacationHours != nil && in.MaxVacationHours.IsNegative() {
		errs = append(errs, "max_vacation_hours cannot be negative")
	}
	if in.MaxSickHours != nil && in.MaxSickHours.IsNegative() {
		errs = append(errs, "max_sick_hours cannot be negative")
	}
	if in.CarryoverLimit != nil && in.CarryoverLimit.IsNegative() {
		errs = append(errs, "carryover_limit cannot be negative")
	}
	return errs
}

// CreatePolicy validates and stores a new active policy.
func (ps *PolicyService) CreatePolicy(ctx context.Context, in PolicyInput) (*Policy, error) {
	if errs := in.validate(); len(errs) > 0 {
		return nil, errs
	}

	now := ps.now().UTC()
	p := Policy{
		ID:                     uuid.NewString(),
		CompanyID:              in.CompanyID,
		Name:                   in.Name,
		AccrualPeriod:          in.AccrualPeriod,
		VacationHoursPerPeriod: in.VacationHoursPerPeriod,
		SickHoursPerPeriod:     in.SickHoursPerPeriod,
		MaxVacationHours:       in.MaxVacationHours,
		MaxSickHours:           in.MaxSickHours,
		CarryoverLimit:         in.CarryoverLimit,
		IsActive:               true,
		CreatedAt:              now,
		UpdatedAt:              now,
	}

	if err := ps.store.SavePolicy(ctx, p); err != nil {
		return nil, fmt.Errorf("failed to save policy: %w", err)
	}
	return &p, nil
}

// UpdatePolicy applies administrative edits to an existing policy. Edits do
// not retroactively alter ledger history.
func (ps *PolicyService) UpdatePolicy(ctx context.Context, id string, in PolicyInput) (*Policy, error) {
	existing, err := ps.store.GetPolicy(ctx, id)
	if err != nil {
		return nil, err
	}
	if existing == nil {
		return nil, ErrPolicyNotFound
	}
	if errs := in.validate(); len(errs) > 0 {
		return nil, errs
	}

	p := *existing
	p.Name = in.Name
	p.AccrualPeriod = in.AccrualPeriod
	p.VacationHoursPerPeriod = in.VacationHoursPerPeriod
	p.SickHoursPerPeriod = in.SickHoursPerPeriod
	p.MaxVacationHours = in.MaxVacationHours
	p.MaxSickHours = in.MaxSickHours
	p.CarryoverLimit = in.CarryoverLimit
	p.UpdatedAt = ps.now().UTC()

	if err := ps.store.SavePolicy(ctx, p); err != nil {
		return nil, fmt.Errorf("failed to update policy: %w", err)
	}
	return &p, nil
}

// DeactivatePolicy marks a policy inactive. Policies are never deleted.
func (ps *PolicyService) DeactivatePolicy(ctx context.Context, id string) error {
	existing, err := ps.store.GetPolicy(ctx, id)
	if err != nil {
		return err
	}
	if existing == nil {
		return ErrPolicyNotFound
	}

	p := *existing
	p.IsActive = false
	p.UpdatedAt = ps.now().UTC()
	return ps.store.SavePolicy(ctx, p)
}

// GetActivePolicies returns active policies, optionally scoped to a company.
func (ps *PolicyService) GetActivePolicies(ctx context.Context, companyID string) ([]Policy, error) {
	return ps.store.ListActivePolicies(ctx, companyID)
}

// GetPolicyForEmployee resolves the policy covering an employee: the single
// active policy of the employee's company. Returns ErrPolicyNotFound when
// none resolves, and ErrEmployeeNotFound when companyID is empty and the
// employee is unknown.
func (ps *PolicyService) GetPolicyForEmployee(ctx context.Context, employeeID, companyID string) (*Policy, error) {
	if companyID == "" {
		emp, err := ps.store.GetEmployee(ctx, employeeID)
		if err != nil {
			return nil, err
		}
		if emp == nil {
			return nil, ErrEmployeeNotFound
		}
		companyID = emp.CompanyID
	}

	p, err := ps.store.ActivePolicyForCompany(ctx, companyID)
	if err != nil {
		return nil, err
	}
	if p == nil {
		return nil, ErrPolicyNotFound
	}
	return p, nil
}
