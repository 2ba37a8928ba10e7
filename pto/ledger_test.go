package pto_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fieldserve/pto-engine/pto"
	"github.com/fieldserve/pto-engine/store/memory"
)

// =============================================================================
// TEST SETUP
// =============================================================================

func dec(f float64) decimal.Decimal { return decimal.NewFromFloat(f) }

// credit applies one accrual-style change through the store's atomic write,
// reading the current version first.
func credit(t *testing.T, store pto.Store, employeeID string, category pto.CategoryCode, hours decimal.Decimal) {
	t.Helper()
	ctx := context.Background()

	current := decimal.Zero
	var version int64
	bal, err := store.GetBalance(ctx, employeeID, category)
	require.NoError(t, err)
	if bal != nil {
		current = bal.CurrentBalance
		version = bal.Version
	}

	newBalance := current.Add(hours)
	now := time.Now().UTC()
	require.NoError(t, store.ApplyBalanceChange(ctx, pto.BalanceChange{
		EmployeeID:      employeeID,
		CompanyID:       "co-1",
		Category:        category,
		ExpectedVersion: version,
		NewBalance:      newBalance,
		CountAccrual:    hours.IsPositive(),
		CountUsage:      hours.IsNegative(),
		TransactionAt:   now,
		Entry: pto.LedgerEntry{
			ID:            uuid.NewString(),
			EmployeeID:    employeeID,
			CompanyID:     "co-1",
			Type:          pto.EntryAccrual,
			Category:      category,
			Hours:         hours,
			EffectiveDate: pto.DateOnly(now),
			BalanceAfter:  newBalance,
		},
	}))
}

// =============================================================================
// LEDGER CONSISTENCY
// =============================================================================

func TestLedger_ReplayMatchesCachedBalance(t *testing.T) {
	// GIVEN: A sequence of credits and debits applied through the store
	// WHEN: Replaying the ledger
	// THEN: The sum equals the cached balance at every point

	store := memory.New()
	ctx := context.Background()

	credit(t, store, "emp-1", pto.CategoryVacation, dec(4))
	credit(t, store, "emp-1", pto.CategoryVacation, dec(4))
	credit(t, store, "emp-1", pto.CategoryVacation, dec(-3))
	credit(t, store, "emp-1", pto.CategoryVacation, dec(4))

	entries, err := store.Entries(ctx, "emp-1", pto.CategoryVacation)
	require.NoError(t, err)
	require.Len(t, entries, 4)

	bal, err := store.GetBalance(ctx, "emp-1", pto.CategoryVacation)
	require.NoError(t, err)
	require.NotNil(t, bal)

	assert.True(t, pto.ReconstructBalance(entries).Equal(bal.CurrentBalance))
	assert.NoError(t, pto.VerifyLedger(entries, bal.CurrentBalance))
}

func TestVerifyLedger_DetectsBadRunningBalance(t *testing.T) {
	entries := []pto.LedgerEntry{
		{ID: "a", Hours: dec(8), BalanceAfter: dec(8)},
		{ID: "b", Hours: dec(-3), BalanceAfter: dec(6)}, // should be 5
	}
	assert.Error(t, pto.VerifyLedger(entries, dec(5)))
}

func TestVerifyLedger_DetectsCacheDrift(t *testing.T) {
	entries := []pto.LedgerEntry{
		{ID: "a", Hours: dec(8), BalanceAfter: dec(8)},
	}
	assert.Error(t, pto.VerifyLedger(entries, dec(10)))
	assert.NoError(t, pto.VerifyLedger(entries, dec(8)))
}

// =============================================================================
// RECONCILIATION
// =============================================================================

func TestReconcileBalance_ConsistentReportsNoDrift(t *testing.T) {
	store := memory.New()
	ls := pto.NewLedgerService(store)

	credit(t, store, "emp-1", pto.CategorySick, dec(2))
	credit(t, store, "emp-1", pto.CategorySick, dec(2))

	result, err := ls.ReconcileBalance(context.Background(), "emp-1", pto.CategorySick, "test")
	require.NoError(t, err)

	assert.True(t, result.Drift.IsZero())
	assert.False(t, result.Repaired)
	assert.True(t, result.LedgerBalance.Equal(dec(4)))
}

func TestReconcileBalance_RepairsDriftedCache(t *testing.T) {
	// GIVEN: A cache that drifted from its ledger (the paired entry under-
	//        reports the hours of one write)
	// WHEN: Reconciling
	// THEN: The cache is reset to the ledger sum via a zero-hours
	//       adjustment entry, not a silent edit

	store := memory.New()
	ctx := context.Background()

	credit(t, store, "emp-1", pto.CategoryVacation, dec(10))

	// Drift the cache: balance jumps to 20 while the entry only records +5.
	bal, err := store.GetBalance(ctx, "emp-1", pto.CategoryVacation)
	require.NoError(t, err)
	require.NoError(t, store.ApplyBalanceChange(ctx, pto.BalanceChange{
		EmployeeID:      "emp-1",
		CompanyID:       "co-1",
		Category:        pto.CategoryVacation,
		ExpectedVersion: bal.Version,
		NewBalance:      dec(20),
		TransactionAt:   time.Now().UTC(),
		Entry: pto.LedgerEntry{
			ID:           uuid.NewString(),
			EmployeeID:   "emp-1",
			CompanyID:    "co-1",
			Type:         pto.EntryAdjust,
			Category:     pto.CategoryVacation,
			Hours:        dec(5),
			BalanceAfter: dec(20),
		},
	}))

	ls := pto.NewLedgerService(store)
	result, err := ls.ReconcileBalance(ctx, "emp-1", pto.CategoryVacation, "test")
	require.NoError(t, err)

	assert.True(t, result.Repaired)
	assert.True(t, result.LedgerBalance.Equal(dec(15)), "ledger sums to %s", result.LedgerBalance)
	assert.True(t, result.CachedBalance.Equal(dec(20)))
	assert.True(t, result.Drift.Equal(dec(-5)))

	// Cache now matches the ledger and the repair left an audit entry.
	bal, err = store.GetBalance(ctx, "emp-1", pto.CategoryVacation)
	require.NoError(t, err)
	assert.True(t, bal.CurrentBalance.Equal(dec(15)))

	entries, err := store.Entries(ctx, "emp-1", pto.CategoryVacation)
	require.NoError(t, err)
	require.Len(t, entries, 3)
	last := entries[len(entries)-1]
	assert.Equal(t, pto.EntryAdjust, last.Type)
	assert.True(t, last.Hours.IsZero())
	assert.True(t, last.BalanceAfter.Equal(dec(15)))
}

// =============================================================================
// ATOMIC WRITE PRIMITIVE
// =============================================================================

func TestApplyBalanceChange_VersionConflict(t *testing.T) {
	// GIVEN: Two writers that both read version 1
	// WHEN: Both apply a change expecting version 1
	// THEN: The second write loses with ErrConcurrentModification and
	//       neither its balance nor its entry lands

	store := memory.New()
	ctx := context.Background()

	credit(t, store, "emp-1", pto.CategoryVacation, dec(10))

	change := func(newBalance decimal.Decimal) pto.BalanceChange {
		return pto.BalanceChange{
			EmployeeID:      "emp-1",
			CompanyID:       "co-1",
			Category:        pto.CategoryVacation,
			ExpectedVersion: 1,
			NewBalance:      newBalance,
			TransactionAt:   time.Now().UTC(),
			Entry: pto.LedgerEntry{
				ID:           uuid.NewString(),
				EmployeeID:   "emp-1",
				CompanyID:    "co-1",
				Type:         pto.EntryAdjust,
				Category:     pto.CategoryVacation,
				Hours:        newBalance.Sub(dec(10)),
				BalanceAfter: newBalance,
			},
		}
	}

	require.NoError(t, store.ApplyBalanceChange(ctx, change(dec(12))))

	err := store.ApplyBalanceChange(ctx, change(dec(14)))
	assert.ErrorIs(t, err, pto.ErrConcurrentModification)

	bal, err := store.GetBalance(ctx, "emp-1", pto.CategoryVacation)
	require.NoError(t, err)
	assert.True(t, bal.CurrentBalance.Equal(dec(12)))

	entries, err := store.Entries(ctx, "emp-1", pto.CategoryVacation)
	require.NoError(t, err)
	assert.Len(t, entries, 2)
}

func TestApplyBalanceChange_RejectsNegativeBalance(t *testing.T) {
	store := memory.New()

	err := store.ApplyBalanceChange(context.Background(), pto.BalanceChange{
		EmployeeID: "emp-1",
		CompanyID:  "co-1",
		Category:   pto.CategoryVacation,
		NewBalance: dec(-1),
		Entry: pto.LedgerEntry{
			EmployeeID:   "emp-1",
			Category:     pto.CategoryVacation,
			BalanceAfter: dec(-1),
		},
	})
	assert.ErrorIs(t, err, pto.ErrNegativeBalance)
}
