package pto

import (
	"context"

	"github.com/shopspring/decimal"
)

// =============================================================================
// REPORTING - Read-only aggregations over balances and the ledger
// =============================================================================

// CategorySummary aggregates one category for one employee.
type CategorySummary struct {
	Category CategoryCode

	TotalAccrued decimal.Decimal
	TotalUsed    decimal.Decimal
	Balance      decimal.Decimal
}

// EmployeeSummary aggregates all categories for one employee.
type EmployeeSummary struct {
	EmployeeID string
	Categories []CategorySummary
}

// CompanySummary aggregates every employee of a company.
type CompanySummary struct {
	CompanyID string
	Employees []EmployeeSummary
}

// ReportService builds read-only summaries from balances and the ledger.
type ReportService struct {
	store Store
}

// NewReportService creates a report service.
func NewReportService(store Store) *ReportService {
	return &ReportService{store: store}
}

// EmployeeReport summarizes accrued, used, and current hours per category
// for one employee. Accrued sums the positive ledger hours, used sums the
// magnitude of the negative ones, so adjustments land on whichever side
// their sign indicates.
func (rs *ReportService) EmployeeReport(ctx context.Context, employeeID string) (*EmployeeSummary, error) {
	entries, err := rs.store.EmployeeHistory(ctx, employeeID)
	if err != nil {
		return nil, err
	}
	balances, err := rs.store.ListBalances(ctx, employeeID)
	if err != nil {
		return nil, err
	}
	return summarizeEmployee(employeeID, entries, balances), nil
}

// CompanyReport summarizes every employee of a company.
func (rs *ReportService) CompanyReport(ctx context.Context, companyID string) (*CompanySummary, error) {
	entries, err := rs.store.CompanyEntries(ctx, companyID)
	if err != nil {
		return nil, err
	}
	balances, err := rs.store.ListCompanyBalances(ctx, companyID)
	if err != nil {
		return nil, err
	}

	byEmployee := make(map[string][]LedgerEntry)
	var order []string
	seen := make(map[string]bool)
	note := func(id string) {
		if !seen[id] {
			seen[id] = true
			order = append(order, id)
		}
	}
	for _, e := range entries {
		byEmployee[e.EmployeeID] = append(byEmployee[e.EmployeeID], e)
		note(e.EmployeeID)
	}
	balsByEmployee := make(map[string][]Balance)
	for _, b := range balances {
		balsByEmployee[b.EmployeeID] = append(balsByEmployee[b.EmployeeID], b)
		note(b.EmployeeID)
	}

	summary := &CompanySummary{CompanyID: companyID}
	for _, id := range order {
		summary.Employees = append(summary.Employees,
			*summarizeEmployee(id, byEmployee[id], balsByEmployee[id]))
	}
	return summary, nil
}

func summarizeEmployee(employeeID string, entries []LedgerEntry, balances []Balance) *EmployeeSummary {
	type agg struct {
		accrued decimal.Decimal
		used    decimal.Decimal
		balance decimal.Decimal
	}
	byCategory := make(map[CategoryCode]*agg)
	var order []CategoryCode
	get := func(c CategoryCode) *agg {
		a, ok := byCategory[c]
		if !ok {
			a = &agg{}
			byCategory[c] = a
			order = append(order, c)
		}
		return a
	}

	for _, e := range entries {
		a := get(e.Category)
		if e.Hours.IsPositive() {
			a.accrued = a.accrued.Add(e.Hours)
		} else {
			a.used = a.used.Add(e.Hours.Neg())
		}
	}
	for _, b := range balances {
		get(b.Category).balance = b.CurrentBalance
	}

	summary := &EmployeeSummary{EmployeeID: employeeID}
	for _, c := range order {
		a := byCategory[c]
		summary.Categories = append(summary.Categories, CategorySummary{
			Category:     c,
			TotalAccrued: a.accrued,
			TotalUsed:    a.used,
			Balance:      a.balance,
		})
	}
	return summary
}
