/*
ledger.go - Ledger replay, verification, and reconciliation

PURPOSE:
  The ledger is the immutable source of truth for balance history. The
  current-balance cache is derived state: replaying all entries for an
  (employee, category) pair in creation order and summing Hours must
  reproduce BalanceAfter at every step and match the cached balance at the
  latest entry.

CRITICAL INVARIANTS:
  1. APPEND-ONLY: Entries are never updated or deleted
  2. PAIRED: Every entry was written together with its balance update
     (enforced by Store.ApplyBalanceChange)
  3. REPLAYABLE: sum(entries.Hours) == Balance.CurrentBalance, always

CORRECTIONS:
  Mistakes are never edited away. An offsetting entry is appended; both the
  original and the correction remain in history.

RECONCILIATION:
  ReconcileBalance recomputes a cached balance from its ledger. When the
  cache has drifted it is repaired with a zero-hours adjustment entry that
  resets the snapshot without changing the ledger sum, so the repair itself
  stays auditable.

SEE ALSO:
  - store.go: ApplyBalanceChange pairing contract
  - balance.go: Manual adjustments through the same write path
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
// PURE REPLAY
// =============================================================================

// ReconstructBalance replays entries in the order given and returns the
// running sum of signed hours. With entries in creation order this is the
// authoritative current balance.
func ReconstructBalance(entries []LedgerEntry) decimal.Decimal {
	sum := decimal.Zero
	for _, e := range entries {
		sum = sum.Add(e.Hours)
	}
	return sum
}

// VerifyLedger checks the replay invariant: each entry's BalanceAfter must
// equal the cumulative sum up to and including it, and the final sum must
// equal current. Returns nil when the ledger is consistent, or an error
// describing the first divergence.
func VerifyLedger(entries []LedgerEntry, current decimal.Decimal) error {
	sum := decimal.Zero
	for i, e := range entries {
		sum = sum.Add(e.Hours)
		if !e.BalanceAfter.Equal(sum) {
			return fmt.Errorf("ledger entry %d (%s): balance_after %s, replay says %s",
				i, e.ID, e.BalanceAfter, sum)
		}
	}
	if !sum.Equal(current) {
		return fmt.Errorf("ledger sums to %s but cached balance is %s", sum, current)
	}
	return nil
}

// =============================================================================
// RECONCILIATION - Operational repair tool
// =============================================================================

// ReconcileResult reports the outcome of a reconciliation pass.
type ReconcileResult struct {
	EmployeeID string
	Category   CategoryCode

	LedgerBalance decimal.Decimal
	CachedBalance decimal.Decimal

	// Drift is ledger minus cache; zero when consistent.
	Drift decimal.Decimal

	Repaired bool
}

// LedgerService provides read and repair operations over the ledger.
type LedgerService struct {
	store Store
	now   func() time.Time
}

// NewLedgerService creates a ledger service.
func NewLedgerService(store Store) *LedgerService {
	return &LedgerService{store: store, now: time.Now}
}

// History returns an employee's ledger entries in chronological order.
func (ls *LedgerService) History(ctx context.Context, employeeID string) ([]LedgerEntry, error) {
	return ls.store.EmployeeHistory(ctx, employeeID)
}

// Verify checks the replay invariant for one (employee, category) pair.
func (ls *LedgerService) Verify(ctx context.Context, employeeID string, category CategoryCode) error {
	entries, err := ls.store.Entries(ctx, employeeID, category)
	if err != nil {
		return err
	}
	current := decimal.Zero
	bal, err := ls.store.GetBalance(ctx, employeeID, category)
	if err != nil {
		return err
	}
	if bal != nil {
		current = bal.CurrentBalance
	}
	return VerifyLedger(entries, current)
}

// ReconcileBalance recomputes the cached balance from the ledger and, when
// drifted, repairs the cache with a zero-hours adjustment entry whose
// BalanceAfter is the recomputed value. The ledger remains the source of
// truth; the repair is recorded rather than silent.
func (ls *LedgerService) ReconcileBalance(ctx context.Context, employeeID string, category CategoryCode, processedBy string) (*ReconcileResult, error) {
	entries, err := ls.store.Entries(ctx, employeeID, category)
	if err != nil {
		return nil, err
	}

	expected := ReconstructBalance(entries)

	bal, err := ls.store.GetBalance(ctx, employeeID, category)
	if err != nil {
		return nil, err
	}

	result := &ReconcileResult{
		EmployeeID:    employeeID,
		Category:      category,
		LedgerBalance: expected,
	}

	var version int64
	companyID := ""
	if bal != nil {
		result.CachedBalance = bal.CurrentBalance
		version = bal.Version
		companyID = bal.CompanyID
	}
	result.Drift = expected.Sub(result.CachedBalance)

	if result.Drift.IsZero() {
		return result, nil
	}
	if len(entries) > 0 {
		companyID = entries[len(entries)-1].CompanyID
	}

	now := ls.now().UTC()
	change := BalanceChange{
		EmployeeID:      employeeID,
		CompanyID:       companyID,
		Category:        category,
		ExpectedVersion: version,
		NewBalance:      expected,
		TransactionAt:   now,
		Entry: LedgerEntry{
			ID:            uuid.NewString(),
			EmployeeID:    employeeID,
			CompanyID:     companyID,
			Type:          EntryAdjust,
			Category:      category,
			Hours:         decimal.Zero,
			EffectiveDate: DateOnly(now),
			BalanceAfter:  expected,
			Description:   fmt.Sprintf("balance reconciled from ledger (drift %s hours)", result.Drift),
			ProcessedBy:   processedBy,
		},
	}

	if err := ls.store.ApplyBalanceChange(ctx, change); err != nil {
		return nil, err
	}
	result.Repaired = true
	return result, nil
}
