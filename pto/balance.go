/*
balance.go - Balance reads and manual adjustments

PURPOSE:
  Read access to the current-balance cache plus the administrative
  adjustment operation. Adjustments are the only way an operator can move a
  balance by hand, and they flow through the same atomic write path as
  every other change, so the ledger stays complete.

INVARIANTS:
  1. Adjustments require a reason; anonymous balance edits are rejected
  2. An adjustment may not drive a balance negative
  3. Every adjustment appends a ledger entry (ApplyBalanceChange pairing)

SEE ALSO:
  - ledger.go: Replay and reconciliation over the entries written here
  - store.go: ApplyBalanceChange contract
*/
package pto

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// adjustRetries bounds the CAS retry loop for manual adjustments.
const adjustRetries = 3

// =============================================================================
// BALANCE SERVICE
// =============================================================================

// BalanceService reads balances and applies manual adjustments.
type BalanceService struct {
	store Store
	now   func() time.Time
}

// NewBalanceService creates a balance service.
func NewBalanceService(store Store) *BalanceService {
	return &BalanceService{store: store, now: time.Now}
}

// Balances returns all balance rows for an employee.
func (bs *BalanceService) Balances(ctx context.Context, employeeID string) ([]Balance, error) {
	return bs.store.ListBalances(ctx, employeeID)
}

// Balance returns the current balance for one (employee, category) pair.
// A missing row reads as zero.
func (bs *BalanceService) Balance(ctx context.Context, employeeID string, category CategoryCode) (decimal.Decimal, error) {
	bal, err := bs.store.GetBalance(ctx, employeeID, category)
	if err != nil {
		return decimal.Zero, err
	}
	if bal == nil {
		return decimal.Zero, nil
	}
	return bal.CurrentBalance, nil
}

// CompanyBalances returns all balance rows for a company.
func (bs *BalanceService) CompanyBalances(ctx context.Context, companyID string) ([]Balance, error) {
	return bs.store.ListCompanyBalances(ctx, companyID)
}

// AdjustBalance applies a signed manual correction to a balance.
//
// hours may be positive (credit) or negative (debit). The reason is
// mandatory and lands in the ledger entry; the actor is recorded as
// ProcessedBy. Returns InsufficientBalanceError when a debit would drive
// the balance negative. Retries a bounded number of times on version
// conflicts.
func (bs *BalanceService) AdjustBalance(ctx context.Context, employeeID, companyID string, category CategoryCode, hours decimal.Decimal, reason, adjustedBy string) (*Balance, error) {
	var errs ValidationErrors
	if employeeID == "" {
		errs = append(errs, "employee_id is required")
	}
	if reason == "" {
		errs = append(errs, "adjustment reason is required")
	}
	if hours.IsZero() {
		errs = append(errs, "adjustment hours cannot be zero")
	}
	if len(errs) > 0 {
		return nil, errs
	}

	if companyID == "" {
		emp, err := bs.store.GetEmployee(ctx, employeeID)
		if err != nil {
			return nil, err
		}
		if emp == nil {
			return nil, ErrEmployeeNotFound
		}
		companyID = emp.CompanyID
	}

	var lastErr error
	for attempt := 0; attempt < adjustRetries; attempt++ {
		current := decimal.Zero
		var version int64
		bal, err := bs.store.GetBalance(ctx, employeeID, category)
		if err != nil {
			return nil, err
		}
		if bal != nil {
			current = bal.CurrentBalance
			version = bal.Version
		}

		newBalance := current.Add(hours)
		if newBalance.IsNegative() {
			return nil, &InsufficientBalanceError{
				EmployeeID: employeeID,
				Category:   category,
				Available:  current,
				Requested:  hours.Neg(),
			}
		}

		now := bs.now().UTC()
		change := BalanceChange{
			EmployeeID:      employeeID,
			CompanyID:       companyID,
			Category:        category,
			ExpectedVersion: version,
			NewBalance:      newBalance,
			TransactionAt:   now,
			Entry: LedgerEntry{
				ID:            uuid.NewString(),
				EmployeeID:    employeeID,
				CompanyID:     companyID,
				Type:          EntryAdjust,
				Category:      category,
				Hours:         hours,
				EffectiveDate: DateOnly(now),
				BalanceAfter:  newBalance,
				Description:   reason,
				ProcessedBy:   adjustedBy,
			},
		}

		err = bs.store.ApplyBalanceChange(ctx, change)
		if err == nil {
			return bs.store.GetBalance(ctx, employeeID, category)
		}
		if !errors.Is(err, ErrConcurrentModification) {
			return nil, err
		}
		lastErr = err
	}
	return nil, lastErr
}
