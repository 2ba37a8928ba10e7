package pto_test

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fieldserve/pto-engine/pto"
	"github.com/fieldserve/pto-engine/store/memory"
)

func TestCreatePolicy_CollectsValidationErrors(t *testing.T) {
	ps := pto.NewPolicyService(memory.New())

	_, err := ps.CreatePolicy(context.Background(), pto.PolicyInput{
		AccrualPeriod:          "quarterly",
		VacationHoursPerPeriod: dec(-1),
	})
	require.Error(t, err)

	var validation pto.ValidationErrors
	require.ErrorAs(t, err, &validation)
	// company, name, cadence, negative rate
	assert.Len(t, validation, 4)
}

func TestCreatePolicy_RoundTrip(t *testing.T) {
	store := memory.New()
	ps := pto.NewPolicyService(store)
	ctx := context.Background()

	max := decimal.NewFromInt(80)
	created, err := ps.CreatePolicy(ctx, pto.PolicyInput{
		CompanyID:              "co-1",
		Name:                   "Standard",
		AccrualPeriod:          pto.PeriodBiweekly,
		VacationHoursPerPeriod: dec(4),
		SickHoursPerPeriod:     dec(2),
		MaxVacationHours:       &max,
	})
	require.NoError(t, err)
	assert.True(t, created.IsActive)
	assert.NotEmpty(t, created.ID)

	got, err := store.GetPolicy(ctx, created.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, pto.PeriodBiweekly, got.AccrualPeriod)
	require.NotNil(t, got.MaxVacationHours)
	assert.True(t, got.MaxVacationHours.Equal(max))
}

func TestDeactivatePolicy_KeepsRecord(t *testing.T) {
	// Policies are deactivated, never deleted; history must stay
	// explainable.
	store := memory.New()
	ps := pto.NewPolicyService(store)
	ctx := context.Background()

	created, err := ps.CreatePolicy(ctx, pto.PolicyInput{
		CompanyID:     "co-1",
		Name:          "Standard",
		AccrualPeriod: pto.PeriodWeekly,
	})
	require.NoError(t, err)

	require.NoError(t, ps.DeactivatePolicy(ctx, created.ID))

	got, err := store.GetPolicy(ctx, created.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.False(t, got.IsActive)

	active, err := ps.GetActivePolicies(ctx, "co-1")
	require.NoError(t, err)
	assert.Empty(t, active)
}

func TestGetPolicyForEmployee_ResolvesThroughCompany(t *testing.T) {
	store := memory.New()
	ps := pto.NewPolicyService(store)
	ctx := context.Background()

	seedPolicy(t, store, "co-1", 4, 2, nil, nil)
	seedEmployee(t, store, "emp-1", "co-1")

	p, err := ps.GetPolicyForEmployee(ctx, "emp-1", "")
	require.NoError(t, err)
	assert.Equal(t, "co-1", p.CompanyID)

	_, err = ps.GetPolicyForEmployee(ctx, "emp-1", "co-without-policy")
	assert.ErrorIs(t, err, pto.ErrPolicyNotFound)

	_, err = ps.GetPolicyForEmployee(ctx, "nobody", "")
	assert.ErrorIs(t, err, pto.ErrEmployeeNotFound)
}
