/*
handlers_test.go - Unit tests for API handlers

Tests exercise the full router over the in-memory store: JSON in, JSON
out, domain errors mapped to status codes.
*/
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fieldserve/pto-engine/pto"
	"github.com/fieldserve/pto-engine/store/memory"
)

// =============================================================================
// TEST SETUP
// =============================================================================

func newTestAPI(t *testing.T) (http.Handler, *memory.Store) {
	t.Helper()
	store := memory.New()
	handler := NewHandler(store, store, zerolog.Nop())
	return NewRouter(handler, []string{"*"}), store
}

func doJSON(t *testing.T, router http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&v))
	return v
}

func seedEmployeeWithBalance(t *testing.T, store *memory.Store, employeeID string, hours float64) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, store.SaveEmployee(ctx, pto.Employee{
		ID:        employeeID,
		CompanyID: "co-1",
		Name:      "Test User",
		IsActive:  true,
		CreatedAt: time.Now().UTC(),
	}))
	if hours > 0 {
		amount := decimal.NewFromFloat(hours)
		require.NoError(t, store.ApplyBalanceChange(ctx, pto.BalanceChange{
			EmployeeID:    employeeID,
			CompanyID:     "co-1",
			Category:      pto.CategoryVacation,
			NewBalance:    amount,
			CountAccrual:  true,
			TransactionAt: time.Now().UTC(),
			Entry: pto.LedgerEntry{
				ID:           employeeID + "-seed",
				EmployeeID:   employeeID,
				CompanyID:    "co-1",
				Type:         pto.EntryAccrual,
				Category:     pto.CategoryVacation,
				Hours:        amount,
				BalanceAfter: amount,
			},
		}))
	}
}

func futureMonday() string {
	d := time.Now().UTC().AddDate(0, 0, 7)
	for d.Weekday() != time.Monday {
		d = d.AddDate(0, 0, 1)
	}
	return d.Format("2006-01-02")
}

// =============================================================================
// POLICIES
// =============================================================================

func TestAPI_CreateAndListPolicies(t *testing.T) {
	router, _ := newTestAPI(t)

	rec := doJSON(t, router, http.MethodPost, "/api/pto/policies", SavePolicyRequest{
		CompanyID:              "co-1",
		Name:                   "Standard",
		AccrualPeriod:          "weekly",
		VacationHoursPerPeriod: 4,
		SickHoursPerPeriod:     2,
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	created := decodeBody[PolicyDTO](t, rec)
	assert.NotEmpty(t, created.ID)
	assert.True(t, created.IsActive)

	rec = doJSON(t, router, http.MethodGet, "/api/pto/policies?company_id=co-1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	policies := decodeBody[[]PolicyDTO](t, rec)
	assert.Len(t, policies, 1)
}

func TestAPI_CreatePolicy_ValidationDetails(t *testing.T) {
	router, _ := newTestAPI(t)

	rec := doJSON(t, router, http.MethodPost, "/api/pto/policies", SavePolicyRequest{
		Name:          "Broken",
		AccrualPeriod: "quarterly",
	})
	require.Equal(t, http.StatusBadRequest, rec.Code)

	resp := decodeBody[ErrorResponse](t, rec)
	assert.NotEmpty(t, resp.Details)
}

func TestAPI_MalformedJSONIsBadRequest(t *testing.T) {
	// GIVEN: A body that is not valid JSON
	// WHEN: Posting it to a mutating endpoint
	// THEN: The response is 400 with the parse problem in details, not 500

	router, _ := newTestAPI(t)

	req := httptest.NewRequest(http.MethodPost, "/api/pto/requests", bytes.NewBufferString("{not json"))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code, rec.Body.String())
	resp := decodeBody[ErrorResponse](t, rec)
	require.NotEmpty(t, resp.Details)
	assert.Contains(t, resp.Details[0], "invalid request body")
}

// =============================================================================
// BALANCES
// =============================================================================

func TestAPI_AdjustAndReadBalance(t *testing.T) {
	router, store := newTestAPI(t)
	seedEmployeeWithBalance(t, store, "emp-1", 0)

	rec := doJSON(t, router, http.MethodPost, "/api/pto/balance/emp-1/adjust", AdjustBalanceRequest{
		Category:   "VAC",
		Hours:      12,
		Reason:     "migration import",
		AdjustedBy: "admin",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = doJSON(t, router, http.MethodGet, "/api/pto/balance/emp-1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	balances := decodeBody[[]BalanceDTO](t, rec)
	require.Len(t, balances, 1)
	assert.InDelta(t, 12, balances[0].CurrentBalance, 0.001)

	rec = doJSON(t, router, http.MethodGet, "/api/pto/ledger/emp-1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	entries := decodeBody[[]LedgerEntryDTO](t, rec)
	require.Len(t, entries, 1)
	assert.Equal(t, "adjustment", entries[0].EntryType)
}

func TestAPI_AdjustBalance_MissingReason(t *testing.T) {
	router, store := newTestAPI(t)
	seedEmployeeWithBalance(t, store, "emp-1", 0)

	rec := doJSON(t, router, http.MethodPost, "/api/pto/balance/emp-1/adjust", AdjustBalanceRequest{
		Category: "VAC",
		Hours:    12,
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

// =============================================================================
// REQUEST LIFECYCLE
// =============================================================================

func TestAPI_SubmitWarnsOnLowBalance(t *testing.T) {
	// GIVEN: An employee with no vacation balance
	// WHEN: Submitting an 8-hour request
	// THEN: The request is accepted (201) with an advisory warning

	router, store := newTestAPI(t)
	seedEmployeeWithBalance(t, store, "emp-1", 0)

	day := futureMonday()
	rec := doJSON(t, router, http.MethodPost, "/api/pto/requests", SubmitRequest{
		EmployeeID:     "emp-1",
		AccrualType:    "vacation",
		StartsAt:       day,
		EndsAt:         day,
		HoursRequested: 8,
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	resp := decodeBody[SubmitRequestResponse](t, rec)
	assert.Equal(t, "PENDING", resp.Request.Status)
	assert.NotEmpty(t, resp.Warning)
}

func TestAPI_ApproveFlow(t *testing.T) {
	router, store := newTestAPI(t)
	seedEmployeeWithBalance(t, store, "emp-1", 40)

	day := futureMonday()
	rec := doJSON(t, router, http.MethodPost, "/api/pto/requests", SubmitRequest{
		EmployeeID:     "emp-1",
		AccrualType:    "vacation",
		StartsAt:       day,
		EndsAt:         day,
		HoursRequested: 8,
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	created := decodeBody[SubmitRequestResponse](t, rec)
	assert.Empty(t, created.Warning)

	approveURL := fmt.Sprintf("/api/pto/requests/%s/approve", created.Request.ID)
	rec = doJSON(t, router, http.MethodPost, approveURL, ApproveRequest{ApprovedBy: "manager"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	approved := decodeBody[RequestDTO](t, rec)
	assert.Equal(t, "APPROVED", approved.Status)
	require.NotNil(t, approved.HoursApproved)
	assert.InDelta(t, 8, *approved.HoursApproved, 0.001)

	// Approving a second time hits a terminal state.
	rec = doJSON(t, router, http.MethodPost, approveURL, ApproveRequest{ApprovedBy: "manager"})
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = doJSON(t, router, http.MethodGet, "/api/pto/balance/emp-1", nil)
	balances := decodeBody[[]BalanceDTO](t, rec)
	require.Len(t, balances, 1)
	assert.InDelta(t, 32, balances[0].CurrentBalance, 0.001)
}

func TestAPI_ApproveInsufficientBalanceConflict(t *testing.T) {
	router, store := newTestAPI(t)
	seedEmployeeWithBalance(t, store, "emp-1", 4)

	day := futureMonday()
	rec := doJSON(t, router, http.MethodPost, "/api/pto/requests", SubmitRequest{
		EmployeeID:     "emp-1",
		AccrualType:    "vacation",
		StartsAt:       day,
		EndsAt:         day,
		HoursRequested: 8,
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	created := decodeBody[SubmitRequestResponse](t, rec)

	rec = doJSON(t, router, http.MethodPost,
		fmt.Sprintf("/api/pto/requests/%s/approve", created.Request.ID),
		ApproveRequest{ApprovedBy: "manager"})
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestAPI_DenyRequiresReason(t *testing.T) {
	router, store := newTestAPI(t)
	seedEmployeeWithBalance(t, store, "emp-1", 40)

	day := futureMonday()
	rec := doJSON(t, router, http.MethodPost, "/api/pto/requests", SubmitRequest{
		EmployeeID:     "emp-1",
		AccrualType:    "vacation",
		StartsAt:       day,
		EndsAt:         day,
		HoursRequested: 8,
	})
	created := decodeBody[SubmitRequestResponse](t, rec)

	denyURL := fmt.Sprintf("/api/pto/requests/%s/deny", created.Request.ID)
	rec = doJSON(t, router, http.MethodPost, denyURL, DenyRequest{DeniedBy: "manager"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doJSON(t, router, http.MethodPost, denyURL, DenyRequest{Reason: "coverage", DeniedBy: "manager"})
	require.Equal(t, http.StatusOK, rec.Code)
	denied := decodeBody[RequestDTO](t, rec)
	assert.Equal(t, "DENIED", denied.Status)
	assert.Equal(t, "coverage", denied.DenialReason)
}

func TestAPI_GetRequest_NotFound(t *testing.T) {
	router, _ := newTestAPI(t)

	rec := doJSON(t, router, http.MethodGet, "/api/pto/requests/missing", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

// =============================================================================
// ACCRUALS + REPORTS
// =============================================================================

func TestAPI_ProcessAccrualsAndReport(t *testing.T) {
	router, store := newTestAPI(t)
	ctx := context.Background()

	now := time.Now().UTC()
	require.NoError(t, store.SavePolicy(ctx, pto.Policy{
		ID:                     "policy-1",
		CompanyID:              "co-1",
		Name:                   "Standard",
		AccrualPeriod:          pto.PeriodWeekly,
		VacationHoursPerPeriod: decimal.NewFromInt(4),
		SickHoursPerPeriod:     decimal.NewFromInt(2),
		IsActive:               true,
		CreatedAt:              now,
		UpdatedAt:              now,
	}))
	seedEmployeeWithBalance(t, store, "emp-1", 0)

	rec := doJSON(t, router, http.MethodPost, "/api/pto/accruals/process",
		ProcessAccrualsRequest{CompanyID: "co-1"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	run := decodeBody[AccrualRunDTO](t, rec)
	assert.Equal(t, 1, run.Processed)
	assert.Equal(t, 1, run.Succeeded)

	rec = doJSON(t, router, http.MethodGet, "/api/pto/reports/employee/emp-1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	summary := decodeBody[EmployeeSummaryDTO](t, rec)
	require.NotEmpty(t, summary.Categories)

	rec = doJSON(t, router, http.MethodGet, "/api/pto/reports/company/co-1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	company := decodeBody[CompanySummaryDTO](t, rec)
	assert.Len(t, company.Employees, 1)
}

func TestAPI_Health(t *testing.T) {
	router, _ := newTestAPI(t)
	rec := doJSON(t, router, http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}
