package pto_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fieldserve/pto-engine/pto"
	"github.com/fieldserve/pto-engine/store/memory"
)

func TestAdjustBalance_RequiresReason(t *testing.T) {
	store := memory.New()
	bs := pto.NewBalanceService(store)
	seedEmployee(t, store, "emp-1", "co-1")

	_, err := bs.AdjustBalance(context.Background(), "emp-1", "co-1",
		pto.CategoryVacation, dec(8), "", "admin")

	var validation pto.ValidationErrors
	require.ErrorAs(t, err, &validation)
}

func TestAdjustBalance_CreditAndDebit(t *testing.T) {
	// GIVEN: An empty vacation balance
	// WHEN: Crediting 10 then debiting 4 with reasons
	// THEN: The balance is 6 and both adjustments are in the ledger

	store := memory.New()
	bs := pto.NewBalanceService(store)
	ctx := context.Background()
	seedEmployee(t, store, "emp-1", "co-1")

	bal, err := bs.AdjustBalance(ctx, "emp-1", "co-1",
		pto.CategoryVacation, dec(10), "signing bonus", "admin")
	require.NoError(t, err)
	assert.True(t, bal.CurrentBalance.Equal(dec(10)))

	bal, err = bs.AdjustBalance(ctx, "emp-1", "co-1",
		pto.CategoryVacation, dec(-4), "clerical correction", "admin")
	require.NoError(t, err)
	assert.True(t, bal.CurrentBalance.Equal(dec(6)))

	entries, err := store.Entries(ctx, "emp-1", pto.CategoryVacation)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, pto.EntryAdjust, entries[0].Type)
	assert.Equal(t, "signing bonus", entries[0].Description)
	assert.Equal(t, "admin", entries[1].ProcessedBy)
	assert.NoError(t, pto.VerifyLedger(entries, bal.CurrentBalance))
}

func TestAdjustBalance_CannotGoNegative(t *testing.T) {
	store := memory.New()
	bs := pto.NewBalanceService(store)
	ctx := context.Background()
	seedEmployee(t, store, "emp-1", "co-1")

	credit(t, store, "emp-1", pto.CategoryVacation, dec(3))

	_, err := bs.AdjustBalance(ctx, "emp-1", "co-1",
		pto.CategoryVacation, dec(-8), "overcorrection", "admin")

	var insufficient *pto.InsufficientBalanceError
	require.ErrorAs(t, err, &insufficient)
	assert.True(t, insufficient.Available.Equal(dec(3)))

	bal, err := store.GetBalance(ctx, "emp-1", pto.CategoryVacation)
	require.NoError(t, err)
	assert.True(t, bal.CurrentBalance.Equal(dec(3)))
}

func TestAdjustBalance_ResolvesCompanyFromEmployee(t *testing.T) {
	store := memory.New()
	bs := pto.NewBalanceService(store)
	seedEmployee(t, store, "emp-1", "co-9")

	bal, err := bs.AdjustBalance(context.Background(), "emp-1", "",
		pto.CategorySick, dec(5), "import", "admin")
	require.NoError(t, err)
	assert.Equal(t, "co-9", bal.CompanyID)
}

func TestAdjustBalance_UnknownEmployee(t *testing.T) {
	store := memory.New()
	bs := pto.NewBalanceService(store)

	_, err := bs.AdjustBalance(context.Background(), "nobody", "",
		pto.CategorySick, dec(5), "import", "admin")
	assert.ErrorIs(t, err, pto.ErrEmployeeNotFound)
}
