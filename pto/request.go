/*
request.go - Time-off request lifecycle

PURPOSE:
  Implements the request state machine:

      PENDING --> APPROVED   (deducts balance, writes ledger entry)
      PENDING --> DENIED     (requires a reason, no balance effect)
      PENDING --> CANCELLED  (no balance effect)

  APPROVED, DENIED, and CANCELLED are terminal.

KEY DECISIONS:
  - Submission does NOT check the balance. The balance at submission time
    says nothing about the balance at approval time, so the authoritative
    sufficiency check happens exactly once, inside the approval
    transaction.
  - Approval is atomic: sufficiency check, balance deduction, ledger
    append, and status transition commit together or not at all. The
    status transition is conditional on the request still being PENDING,
    so two racing approvals cannot both deduct.
  - Hours approved defaults to hours requested and may be reduced but
    never increased.

SEE ALSO:
  - store.go: WithTx and TransitionRequest contracts
  - calendar.go: Business-day default for requested hours
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
// REQUEST SERVICE
// =============================================================================

// RequestService manages the time-off request lifecycle.
type RequestService struct {
	store TxStore
	now   func() time.Time
}

// NewRequestService creates a request service.
func NewRequestService(store TxStore) *RequestService {
	return &RequestService{store: store, now: time.Now}
}

// RequestInput carries the fields of a new time-off request.
type RequestInput struct {
	EmployeeID  string
	CompanyID   string
	AccrualType AccrualType
	StartsAt    time.Time
	EndsAt      time.Time

	// Zero means "compute from business days at the standard day length".
	HoursRequested decimal.Decimal

	Note      string
	CreatedBy string
}

// CreateRequest validates and stores a new PENDING request.
//
// All validation problems are collected and returned together. The balance
// is deliberately not checked here; sufficiency is decided at approval.
func (rs *RequestService) CreateRequest(ctx context.Context, in RequestInput) (*Request, error) {
	var errs ValidationErrors
	if in.EmployeeID == "" {
		errs = append(errs, "employee_id is required")
	}
	if _, ok := in.AccrualType.Category(); !ok {
		errs = append(errs, fmt.Sprintf("unrecognized accrual type %q", in.AccrualType))
	}
	if in.StartsAt.IsZero() || in.EndsAt.IsZero() {
		errs = append(errs, "start and end dates are required")
	} else {
		if DateOnly(in.EndsAt).Before(DateOnly(in.StartsAt)) {
			errs = append(errs, "end date cannot be before start date")
		}
		if DateOnly(in.StartsAt).Before(DateOnly(rs.now())) {
			errs = append(errs, "start date cannot be in the past")
		}
	}
	if in.HoursRequested.IsNegative() {
		errs = append(errs, "hours_requested cannot be negative")
	}
	if len(errs) > 0 {
		return nil, errs
	}

	companyID := in.CompanyID
	if companyID == "" {
		emp, err := rs.store.GetEmployee(ctx, in.EmployeeID)
		if err != nil {
			return nil, err
		}
		if emp == nil {
			return nil, ErrEmployeeNotFound
		}
		companyID = emp.CompanyID
	}

	hours := in.HoursRequested
	if hours.IsZero() {
		hours = RequestedHours(in.StartsAt, in.EndsAt)
	}
	if !hours.IsPositive() {
		return nil, ValidationErrors{"request must cover at least one business day or specify hours"}
	}

	r := Request{
		ID:             uuid.NewString(),
		EmployeeID:     in.EmployeeID,
		CompanyID:      companyID,
		AccrualType:    in.AccrualType,
		StartsAt:       DateOnly(in.StartsAt),
		EndsAt:         DateOnly(in.EndsAt),
		HoursRequested: hours,
		Status:         StatusPending,
		Note:           in.Note,
		CreatedBy:      in.CreatedBy,
		CreatedAt:      rs.now().UTC(),
	}

	if err := rs.store.SaveRequest(ctx, r); err != nil {
		return nil, fmt.Errorf("failed to save request: %w", err)
	}
	return &r, nil
}

// GetRequest returns a request by ID.
func (rs *RequestService) GetRequest(ctx context.Context, id string) (*Request, error) {
	r, err := rs.store.GetRequest(ctx, id)
	if err != nil {
		return nil, err
	}
	if r == nil {
		return nil, ErrRequestNotFound
	}
	return r, nil
}

// ListRequests returns requests matching the filter, newest first.
func (rs *RequestService) ListRequests(ctx context.Context, f RequestFilter) ([]Request, error) {
	return rs.store.ListRequests(ctx, f)
}

// ApproveRequest transitions a PENDING request to APPROVED and deducts the
// approved hours from the employee's balance.
//
// hoursApproved zero defaults to the requested hours; it may be reduced
// but never exceed them. The sufficiency check, deduction, ledger entry,
// and status transition commit in one transaction. Returns
// InsufficientBalanceError when the balance cannot cover the hours and
// InvalidStateTransitionError when the request is not PENDING.
func (rs *RequestService) ApproveRequest(ctx context.Context, id string, hoursApproved decimal.Decimal, approvedBy string) (*Request, error) {
	var approved Request

	err := rs.store.WithTx(ctx, func(tx Store) error {
		r, err := tx.GetRequest(ctx, id)
		if err != nil {
			return err
		}
		if r == nil {
			return ErrRequestNotFound
		}
		if r.Status != StatusPending {
			return &InvalidStateTransitionError{RequestID: r.ID, From: r.Status, Attempted: StatusApproved}
		}

		hours := hoursApproved
		if hours.IsZero() {
			hours = r.HoursRequested
		}
		if hours.IsNegative() || hours.GreaterThan(r.HoursRequested) {
			return ValidationErrors{fmt.Sprintf(
				"hours_approved must be between 0 and the %s hours requested", r.HoursRequested)}
		}

		category, ok := r.AccrualType.Category()
		if !ok {
			return ValidationErrors{fmt.Sprintf("unrecognized accrual type %q", r.AccrualType)}
		}

		current := decimal.Zero
		var version int64
		bal, err := tx.GetBalance(ctx, r.EmployeeID, category)
		if err != nil {
			return err
		}
		if bal != nil {
			current = bal.CurrentBalance
			version = bal.Version
		}
		if current.LessThan(hours) {
			return &InsufficientBalanceError{
				EmployeeID: r.EmployeeID,
				Category:   category,
				Available:  current,
				Requested:  hours,
			}
		}

		now := rs.now().UTC()
		newBalance := current.Sub(hours)
		change := BalanceChange{
			EmployeeID:      r.EmployeeID,
			CompanyID:       r.CompanyID,
			Category:        category,
			ExpectedVersion: version,
			NewBalance:      newBalance,
			CountUsage:      true,
			TransactionAt:   now,
			Entry: LedgerEntry{
				ID:               uuid.NewString(),
				EmployeeID:       r.EmployeeID,
				CompanyID:        r.CompanyID,
				Type:             EntryDeduction,
				Category:         category,
				Hours:            hours.Neg(),
				EffectiveDate:    DateOnly(r.StartsAt),
				BalanceAfter:     newBalance,
				RelatedRequestID: r.ID,
				Description:      fmt.Sprintf("approved %s request %s", r.AccrualType, r.ID),
				ProcessedBy:      approvedBy,
			},
		}
		if err := tx.ApplyBalanceChange(ctx, change); err != nil {
			return err
		}

		updated := *r
		updated.Status = StatusApproved
		updated.HoursApproved = &hours
		updated.ApprovedBy = approvedBy
		updated.ApprovedAt = &now
		if err := tx.TransitionRequest(ctx, updated, StatusPending); err != nil {
			return err
		}
		approved = updated
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &approved, nil
}

// DenyRequest transitions a PENDING request to DENIED. A non-empty reason
// is required; the balance is untouched.
func (rs *RequestService) DenyRequest(ctx context.Context, id, reason, deniedBy string) (*Request, error) {
	if reason == "" {
		return nil, ValidationErrors{"denial reason is required"}
	}

	r, err := rs.store.GetRequest(ctx, id)
	if err != nil {
		return nil, err
	}
	if r == nil {
		return nil, ErrRequestNotFound
	}
	if r.Status != StatusPending {
		return nil, &InvalidStateTransitionError{RequestID: r.ID, From: r.Status, Attempted: StatusDenied}
	}

	now := rs.now().UTC()
	updated := *r
	updated.Status = StatusDenied
	updated.DenialReason = reason
	updated.DeniedBy = deniedBy
	updated.DeniedAt = &now
	if err := rs.store.TransitionRequest(ctx, updated, StatusPending); err != nil {
		return nil, err
	}
	return &updated, nil
}

// CancelRequest transitions a PENDING request to CANCELLED. Approved
// requests cannot be cancelled through this path; reversing an approval is
// a manual balance adjustment.
func (rs *RequestService) CancelRequest(ctx context.Context, id string) (*Request, error) {
	r, err := rs.store.GetRequest(ctx, id)
	if err != nil {
		return nil, err
	}
	if r == nil {
		return nil, ErrRequestNotFound
	}
	if r.Status != StatusPending {
		return nil, &InvalidStateTransitionError{RequestID: r.ID, From: r.Status, Attempted: StatusCancelled}
	}

	updated := *r
	updated.Status = StatusCancelled
	if err := rs.store.TransitionRequest(ctx, updated, StatusPending); err != nil {
		return nil, err
	}
	return &updated, nil
}
