package sqlite

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fieldserve/pto-engine/pto"
)

// =============================================================================
// TEST SETUP
// =============================================================================

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func dec(f float64) decimal.Decimal { return decimal.NewFromFloat(f) }

func vacChange(employeeID string, expectedVersion int64, newBalance, hours decimal.Decimal, entryID string) pto.BalanceChange {
	now := time.Now().UTC()
	return pto.BalanceChange{
		EmployeeID:      employeeID,
		CompanyID:       "co-1",
		Category:        pto.CategoryVacation,
		ExpectedVersion: expectedVersion,
		NewBalance:      newBalance,
		CountAccrual:    hours.IsPositive(),
		TransactionAt:   now,
		Entry: pto.LedgerEntry{
			ID:            entryID,
			EmployeeID:    employeeID,
			CompanyID:     "co-1",
			Type:          pto.EntryAccrual,
			Category:      pto.CategoryVacation,
			Hours:         hours,
			EffectiveDate: pto.DateOnly(now),
			BalanceAfter:  newBalance,
		},
	}
}

// =============================================================================
// BALANCE + LEDGER WRITES
// =============================================================================

func TestApplyBalanceChange_InsertThenUpdate(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.ApplyBalanceChange(ctx, vacChange("emp-1", 0, dec(4), dec(4), "e-1")))

	bal, err := store.GetBalance(ctx, "emp-1", pto.CategoryVacation)
	require.NoError(t, err)
	require.NotNil(t, bal)
	assert.True(t, bal.CurrentBalance.Equal(dec(4)))
	assert.Equal(t, int64(1), bal.Version)
	assert.Equal(t, 1, bal.AccrualCount)

	require.NoError(t, store.ApplyBalanceChange(ctx, vacChange("emp-1", 1, dec(8), dec(4), "e-2")))

	bal, err = store.GetBalance(ctx, "emp-1", pto.CategoryVacation)
	require.NoError(t, err)
	assert.True(t, bal.CurrentBalance.Equal(dec(8)))
	assert.Equal(t, int64(2), bal.Version)

	entries, err := store.Entries(ctx, "emp-1", pto.CategoryVacation)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "e-1", entries[0].ID)
	assert.Equal(t, "e-2", entries[1].ID)
	assert.NoError(t, pto.VerifyLedger(entries, bal.CurrentBalance))
}

func TestApplyBalanceChange_StaleVersionRejected(t *testing.T) {
	// GIVEN: A balance at version 1
	// WHEN: Writing with the stale version 0 or a stale version 1 twice
	// THEN: The losing write gets ErrConcurrentModification and appends no
	//       ledger entry

	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.ApplyBalanceChange(ctx, vacChange("emp-1", 0, dec(4), dec(4), "e-1")))

	err := store.ApplyBalanceChange(ctx, vacChange("emp-1", 0, dec(9), dec(9), "e-dup"))
	assert.ErrorIs(t, err, pto.ErrConcurrentModification)

	require.NoError(t, store.ApplyBalanceChange(ctx, vacChange("emp-1", 1, dec(8), dec(4), "e-2")))
	err = store.ApplyBalanceChange(ctx, vacChange("emp-1", 1, dec(12), dec(8), "e-stale"))
	assert.ErrorIs(t, err, pto.ErrConcurrentModification)

	entries, err := store.Entries(ctx, "emp-1", pto.CategoryVacation)
	require.NoError(t, err)
	assert.Len(t, entries, 2)
}

// =============================================================================
// REQUEST TRANSITIONS
// =============================================================================

func TestTransitionRequest_ConditionalOnStatus(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	r := pto.Request{
		ID:             "req-1",
		EmployeeID:     "emp-1",
		CompanyID:      "co-1",
		AccrualType:    pto.AccrualVacation,
		StartsAt:       pto.DateOnly(time.Now()),
		EndsAt:         pto.DateOnly(time.Now()),
		HoursRequested: dec(8),
		Status:         pto.StatusPending,
		CreatedAt:      time.Now().UTC(),
	}
	require.NoError(t, store.SaveRequest(ctx, r))

	hours := dec(8)
	now := time.Now().UTC()
	approved := r
	approved.Status = pto.StatusApproved
	approved.HoursApproved = &hours
	approved.ApprovedBy = "manager"
	approved.ApprovedAt = &now

	require.NoError(t, store.TransitionRequest(ctx, approved, pto.StatusPending))

	got, err := store.GetRequest(ctx, "req-1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, pto.StatusApproved, got.Status)
	require.NotNil(t, got.HoursApproved)
	assert.True(t, got.HoursApproved.Equal(hours))

	// The request is no longer PENDING, so the same transition loses.
	err = store.TransitionRequest(ctx, approved, pto.StatusPending)
	assert.ErrorIs(t, err, pto.ErrConcurrentModification)

	err = store.TransitionRequest(ctx, pto.Request{ID: "missing", Status: pto.StatusDenied}, pto.StatusPending)
	assert.ErrorIs(t, err, pto.ErrRequestNotFound)
}

func TestTransitionRequest_DenialPersistsDecider(t *testing.T) {
	// GIVEN: A pending request
	// WHEN: Denying it
	// THEN: The denier round-trips in denied_by, not approved_by

	store := newTestStore(t)
	ctx := context.Background()

	r := pto.Request{
		ID:             "req-1",
		EmployeeID:     "emp-1",
		CompanyID:      "co-1",
		AccrualType:    pto.AccrualVacation,
		StartsAt:       pto.DateOnly(time.Now()),
		EndsAt:         pto.DateOnly(time.Now()),
		HoursRequested: dec(8),
		Status:         pto.StatusPending,
		CreatedAt:      time.Now().UTC(),
	}
	require.NoError(t, store.SaveRequest(ctx, r))

	now := time.Now().UTC()
	denied := r
	denied.Status = pto.StatusDenied
	denied.DenialReason = "coverage"
	denied.DeniedBy = "manager"
	denied.DeniedAt = &now

	require.NoError(t, store.TransitionRequest(ctx, denied, pto.StatusPending))

	got, err := store.GetRequest(ctx, "req-1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, pto.StatusDenied, got.Status)
	assert.Equal(t, "manager", got.DeniedBy)
	assert.Empty(t, got.ApprovedBy)
	require.NotNil(t, got.DeniedAt)
}

// =============================================================================
// TRANSACTIONS
// =============================================================================

func TestWithTx_RollsBackOnError(t *testing.T) {
	// GIVEN: A transaction that writes a balance then fails
	// WHEN: WithTx returns the error
	// THEN: Neither the balance nor its ledger entry persists

	store := newTestStore(t)
	ctx := context.Background()

	sentinel := pto.ErrInsufficientBalance
	err := store.WithTx(ctx, func(tx pto.Store) error {
		if err := tx.ApplyBalanceChange(ctx, vacChange("emp-1", 0, dec(4), dec(4), "e-1")); err != nil {
			return err
		}
		return sentinel
	})
	require.ErrorIs(t, err, sentinel)

	bal, err := store.GetBalance(ctx, "emp-1", pto.CategoryVacation)
	require.NoError(t, err)
	assert.Nil(t, bal)

	entries, err := store.Entries(ctx, "emp-1", pto.CategoryVacation)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestWithTx_CommitsOnSuccess(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	err := store.WithTx(ctx, func(tx pto.Store) error {
		return tx.ApplyBalanceChange(ctx, vacChange("emp-1", 0, dec(4), dec(4), "e-1"))
	})
	require.NoError(t, err)

	bal, err := store.GetBalance(ctx, "emp-1", pto.CategoryVacation)
	require.NoError(t, err)
	require.NotNil(t, bal)
	assert.True(t, bal.CurrentBalance.Equal(dec(4)))
}

// =============================================================================
// RUN LOCKS
// =============================================================================

func TestRunLock_LeaseSemantics(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	acquired, err := store.AcquireRunLock(ctx, "accrual:all", "owner-1", time.Minute)
	require.NoError(t, err)
	assert.True(t, acquired)

	// Another owner cannot take an unexpired lease.
	acquired, err = store.AcquireRunLock(ctx, "accrual:all", "owner-2", time.Minute)
	require.NoError(t, err)
	assert.False(t, acquired)

	// The holder can re-acquire (extends the lease).
	acquired, err = store.AcquireRunLock(ctx, "accrual:all", "owner-1", time.Minute)
	require.NoError(t, err)
	assert.True(t, acquired)

	// Release frees it for everyone.
	require.NoError(t, store.ReleaseRunLock(ctx, "accrual:all", "owner-1"))
	acquired, err = store.AcquireRunLock(ctx, "accrual:all", "owner-2", time.Minute)
	require.NoError(t, err)
	assert.True(t, acquired)
}

func TestRunLock_ExpiredLeaseReclaimable(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	acquired, err := store.AcquireRunLock(ctx, "accrual:all", "crashed", -time.Second)
	require.NoError(t, err)
	require.True(t, acquired)

	acquired, err = store.AcquireRunLock(ctx, "accrual:all", "successor", time.Minute)
	require.NoError(t, err)
	assert.True(t, acquired)
}

// =============================================================================
// POLICIES + EMPLOYEES ROUND TRIP
// =============================================================================

func TestPolicyRoundTrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	max := dec(80)
	carry := dec(40)
	now := time.Now().UTC()
	p := pto.Policy{
		ID:                     "policy-1",
		CompanyID:              "co-1",
		Name:                   "Standard",
		AccrualPeriod:          pto.PeriodBiweekly,
		VacationHoursPerPeriod: dec(4),
		SickHoursPerPeriod:     dec(2),
		MaxVacationHours:       &max,
		CarryoverLimit:         &carry,
		IsActive:               true,
		CreatedAt:              now,
		UpdatedAt:              now,
	}
	require.NoError(t, store.SavePolicy(ctx, p))

	got, err := store.GetPolicy(ctx, "policy-1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, pto.PeriodBiweekly, got.AccrualPeriod)
	require.NotNil(t, got.MaxVacationHours)
	assert.True(t, got.MaxVacationHours.Equal(max))
	assert.Nil(t, got.MaxSickHours)
	require.NotNil(t, got.CarryoverLimit)
	assert.True(t, got.CarryoverLimit.Equal(carry))

	// Upsert flips the active flag in place.
	p.IsActive = false
	require.NoError(t, store.SavePolicy(ctx, p))
	active, err := store.ListActivePolicies(ctx, "co-1")
	require.NoError(t, err)
	assert.Empty(t, active)

	resolved, err := store.ActivePolicyForCompany(ctx, "co-1")
	require.NoError(t, err)
	assert.Nil(t, resolved)
}

func TestEmployeeRoundTrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	e := pto.Employee{
		ID:        "emp-1",
		CompanyID: "co-1",
		Name:      "Test User",
		Email:     "test@example.com",
		HireDate:  time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
		IsActive:  true,
		CreatedAt: time.Now().UTC(),
	}
	require.NoError(t, store.SaveEmployee(ctx, e))

	got, err := store.GetEmployee(ctx, "emp-1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "test@example.com", got.Email)
	assert.True(t, got.IsActive)

	missing, err := store.GetEmployee(ctx, "nobody")
	require.NoError(t, err)
	assert.Nil(t, missing)

	active, err := store.ListActiveEmployees(ctx, "co-1")
	require.NoError(t, err)
	assert.Len(t, active, 1)
}
