/*
accrual.go - Scheduled accrual engine

PURPOSE:
  Applies period accruals to employee balances: for every active policy,
  every active employee of that policy's company earns the policy's
  per-period hours in each category, capped at the category maximum.

BATCH SEMANTICS:
  - One failed employee never aborts the batch; failures are collected in
    the run report and the batch continues.
  - A category already at its cap produces NO write: no balance update and
    no ledger entry. Partial accrual up to the cap writes the partial
    amount and flags the result as capped.
  - Batch runs are mutually exclusive. An in-process guard rejects
    re-entrant runs, and a durable run-lock lease excludes other engine
    instances. The lease expires, so a crashed run does not wedge the
    scope forever.

CARRYOVER:
  ProcessCarryover enforces the policy carryover limit at a year boundary:
  vacation balances above the limit are trimmed down to it with a
  carryover ledger entry recording the forfeited hours.

SEE ALSO:
  - store.go: ApplyBalanceChange and run-lock contracts
  - policy.go: The rulesets consumed here
*/
package pto

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

const (
	// accrualRetries bounds the CAS retry loop per category.
	accrualRetries = 3

	// runLockTTL is the lease duration for a batch run. Long enough for any
	// realistic batch, short enough that a crashed instance frees the scope
	// within the same scheduling window.
	runLockTTL = 15 * time.Minute
)

// =============================================================================
// RUN REPORTS
// =============================================================================

// CategoryAccrual reports the outcome of one category accrual for one
// employee.
type CategoryAccrual struct {
	Category     CategoryCode
	HoursAccrued decimal.Decimal
	NewBalance   decimal.Decimal

	// WasCapped is true when the category maximum prevented part or all of
	// the period amount from accruing.
	WasCapped bool
}

// EmployeeAccrual reports the outcome for one employee in a batch run.
type EmployeeAccrual struct {
	EmployeeID string
	Categories []CategoryAccrual

	// Err is non-nil when this employee failed; the batch continued past it.
	Err error
}

// AccrualRun summarizes a batch run.
type AccrualRun struct {
	CompanyID string // empty = all companies

	StartedAt  time.Time
	FinishedAt time.Time

	Processed int
	Succeeded int
	Failed    int

	Employees []EmployeeAccrual
}

// =============================================================================
// ACCRUAL ENGINE
// =============================================================================

// AccrualEngine applies scheduled accruals and year-boundary carryover.
type AccrualEngine struct {
	store TxStore
	locks RunLockStore
	log   zerolog.Logger

	// owner identifies this engine instance on run-lock leases.
	owner string

	// running guards against re-entrant runs within this process.
	running atomic.Bool

	now func() time.Time
}

// NewAccrualEngine creates an accrual engine.
func NewAccrualEngine(store TxStore, locks RunLockStore, log zerolog.Logger) *AccrualEngine {
	return &AccrualEngine{
		store: store,
		locks: locks,
		log:   log.With().Str("component", "accrual_engine").Logger(),
		owner: uuid.NewString(),
		now:   time.Now,
	}
}

// ProcessAllAccruals runs one accrual period for every active employee
// covered by an active policy. Empty companyID processes all companies.
//
// Returns ErrRunInProgress when another run holds the in-process guard or
// the durable run lock. Individual employee failures do not fail the run;
// they are reported in the result.
func (e *AccrualEngine) ProcessAllAccruals(ctx context.Context, companyID string) (*AccrualRun, error) {
	if !e.running.CompareAndSwap(false, true) {
		return nil, ErrRunInProgress
	}
	defer e.running.Store(false)

	scope := "accrual:all"
	if companyID != "" {
		scope = "accrual:" + companyID
	}
	acquired, err := e.locks.AcquireRunLock(ctx, scope, e.owner, runLockTTL)
	if err != nil {
		return nil, fmt.Errorf("failed to acquire run lock: %w", err)
	}
	if !acquired {
		return nil, ErrRunInProgress
	}
	defer func() {
		if err := e.locks.ReleaseRunLock(context.WithoutCancel(ctx), scope, e.owner); err != nil {
			e.log.Warn().Err(err).Str("scope", scope).Msg("failed to release run lock")
		}
	}()

	run := &AccrualRun{CompanyID: companyID, StartedAt: e.now().UTC()}
	e.log.Info().Str("scope", scope).Msg("accrual run started")

	policies, err := e.store.ListActivePolicies(ctx, companyID)
	if err != nil {
		return nil, fmt.Errorf("failed to list active policies: %w", err)
	}

	for _, policy := range policies {
		employees, err := e.store.ListActiveEmployees(ctx, policy.CompanyID)
		if err != nil {
			// A company whose employees cannot be listed fails as a unit but
			// does not abort other companies.
			e.log.Error().Err(err).Str("company_id", policy.CompanyID).Msg("failed to list employees")
			run.Failed++
			run.Employees = append(run.Employees, EmployeeAccrual{Err: err})
			continue
		}

		for _, emp := range employees {
			run.Processed++
			result := e.accrueEmployee(ctx, emp, policy)
			if result.Err != nil {
				run.Failed++
				e.log.Error().Err(result.Err).Str("employee_id", emp.ID).Msg("employee accrual failed")
			} else {
				run.Succeeded++
			}
			run.Employees = append(run.Employees, result)
		}
	}

	run.FinishedAt = e.now().UTC()
	e.log.Info().
		Str("scope", scope).
		Int("processed", run.Processed).
		Int("succeeded", run.Succeeded).
		Int("failed", run.Failed).
		Dur("took", run.FinishedAt.Sub(run.StartedAt)).
		Msg("accrual run finished")
	return run, nil
}

// ProcessEmployeeAccrual applies one accrual period to a single employee.
// Unlike the batch path, a missing policy is a loud error here.
func (e *AccrualEngine) ProcessEmployeeAccrual(ctx context.Context, employeeID string) (*EmployeeAccrual, error) {
	emp, err := e.store.GetEmployee(ctx, employeeID)
	if err != nil {
		return nil, err
	}
	if emp == nil {
		return nil, ErrEmployeeNotFound
	}

	policy, err := e.store.ActivePolicyForCompany(ctx, emp.CompanyID)
	if err != nil {
		return nil, err
	}
	if policy == nil {
		return nil, ErrPolicyNotFound
	}

	result := e.accrueEmployee(ctx, *emp, *policy)
	if result.Err != nil {
		return nil, result.Err
	}
	return &result, nil
}

// accrueEmployee applies the policy's per-period amounts to every accruing
// category for one employee.
func (e *AccrualEngine) accrueEmployee(ctx context.Context, emp Employee, policy Policy) EmployeeAccrual {
	result := EmployeeAccrual{EmployeeID: emp.ID}

	type grant struct {
		category CategoryCode
		hours    decimal.Decimal
		max      *decimal.Decimal
	}
	grants := []grant{
		{CategoryVacation, policy.VacationHoursPerPeriod, policy.MaxVacationHours},
		{CategorySick, policy.SickHoursPerPeriod, policy.MaxSickHours},
	}

	for _, g := range grants {
		if !g.hours.IsPositive() {
			continue
		}
		ca, err := e.ProcessAccrualForCategory(ctx, emp, policy, g.category, g.hours, g.max)
		if err != nil {
			result.Err = fmt.Errorf("category %s: %w", g.category, err)
			return result
		}
		result.Categories = append(result.Categories, *ca)
	}
	return result
}

// ProcessAccrualForCategory credits one period's hours to one category,
// capped at max (nil = uncapped).
//
// The credit is computed against the balance actually read:
//
//	newBalance    = min(current + perPeriod, max)
//	actualAccrued = newBalance - current
//
// When actualAccrued is zero (already at cap) nothing is written at all.
// Retries on version conflicts with a fresh read each attempt.
func (e *AccrualEngine) ProcessAccrualForCategory(ctx context.Context, emp Employee, policy Policy, category CategoryCode, perPeriod decimal.Decimal, max *decimal.Decimal) (*CategoryAccrual, error) {
	var lastErr error
	for attempt := 0; attempt < accrualRetries; attempt++ {
		current := decimal.Zero
		var version int64
		bal, err := e.store.GetBalance(ctx, emp.ID, category)
		if err != nil {
			return nil, err
		}
		if bal != nil {
			current = bal.CurrentBalance
			version = bal.Version
		}

		newBalance := current.Add(perPeriod)
		if max != nil && newBalance.GreaterThan(*max) {
			newBalance = *max
		}
		// A balance already above the cap is never trimmed by accrual.
		if newBalance.LessThan(current) {
			newBalance = current
		}

		actualAccrued := newBalance.Sub(current)
		capped := actualAccrued.LessThan(perPeriod)

		if !actualAccrued.IsPositive() {
			e.log.Debug().
				Str("employee_id", emp.ID).
				Str("category", string(category)).
				Str("balance", current.String()).
				Msg("at cap, skipping accrual")
			return &CategoryAccrual{
				Category:     category,
				HoursAccrued: decimal.Zero,
				NewBalance:   current,
				WasCapped:    true,
			}, nil
		}

		now := e.now().UTC()
		change := BalanceChange{
			EmployeeID:      emp.ID,
			CompanyID:       emp.CompanyID,
			Category:        category,
			ExpectedVersion: version,
			NewBalance:      newBalance,
			CountAccrual:    true,
			TransactionAt:   now,
			Entry: LedgerEntry{
				ID:            uuid.NewString(),
				EmployeeID:    emp.ID,
				CompanyID:     emp.CompanyID,
				PolicyID:      policy.ID,
				Type:          EntryAccrual,
				Category:      category,
				Hours:         actualAccrued,
				EffectiveDate: DateOnly(now),
				BalanceAfter:  newBalance,
				Description:   fmt.Sprintf("%s accrual (%s)", category, policy.AccrualPeriod),
				ProcessedBy:   "accrual_engine",
			},
		}

		err = e.store.ApplyBalanceChange(ctx, change)
		if err == nil {
			return &CategoryAccrual{
				Category:     category,
				HoursAccrued: actualAccrued,
				NewBalance:   newBalance,
				WasCapped:    capped,
			}, nil
		}
		if !errors.Is(err, ErrConcurrentModification) {
			return nil, err
		}
		lastErr = err
	}
	return nil, lastErr
}

// =============================================================================
// YEAR-BOUNDARY CARRYOVER
// =============================================================================

// CarryoverResult reports one trimmed balance.
type CarryoverResult struct {
	EmployeeID     string
	Category       CategoryCode
	ForfeitedHours decimal.Decimal
	NewBalance     decimal.Decimal
}

// ProcessCarryover enforces the carryover limit of each active policy at a
// year boundary: vacation balances above the limit are trimmed down to it.
// Policies without a limit carry everything over. Empty companyID processes
// all companies.
func (e *AccrualEngine) ProcessCarryover(ctx context.Context, companyID string, year int) ([]CarryoverResult, error) {
	if !e.running.CompareAndSwap(false, true) {
		return nil, ErrRunInProgress
	}
	defer e.running.Store(false)

	policies, err := e.store.ListActivePolicies(ctx, companyID)
	if err != nil {
		return nil, fmt.Errorf("failed to list active policies: %w", err)
	}

	var results []CarryoverResult
	for _, policy := range policies {
		if policy.CarryoverLimit == nil {
			continue
		}
		limit := *policy.CarryoverLimit

		employees, err := e.store.ListActiveEmployees(ctx, policy.CompanyID)
		if err != nil {
			return results, fmt.Errorf("company %s: %w", policy.CompanyID, err)
		}

		for _, emp := range employees {
			bal, err := e.store.GetBalance(ctx, emp.ID, CategoryVacation)
			if err != nil {
				return results, err
			}
			if bal == nil || !bal.CurrentBalance.GreaterThan(limit) {
				continue
			}

			forfeited := bal.CurrentBalance.Sub(limit)
			now := e.now().UTC()
			change := BalanceChange{
				EmployeeID:      emp.ID,
				CompanyID:       emp.CompanyID,
				Category:        CategoryVacation,
				ExpectedVersion: bal.Version,
				NewBalance:      limit,
				TransactionAt:   now,
				Entry: LedgerEntry{
					ID:            uuid.NewString(),
					EmployeeID:    emp.ID,
					CompanyID:     emp.CompanyID,
					PolicyID:      policy.ID,
					Type:          EntryCarryover,
					Category:      CategoryVacation,
					Hours:         forfeited.Neg(),
					EffectiveDate: DateOnly(now),
					BalanceAfter:  limit,
					Description:   fmt.Sprintf("carryover limit applied for %d (%s hours forfeited)", year, forfeited),
					ProcessedBy:   "accrual_engine",
				},
			}

			if err := e.store.ApplyBalanceChange(ctx, change); err != nil {
				e.log.Error().Err(err).Str("employee_id", emp.ID).Msg("carryover trim failed")
				continue
			}
			results = append(results, CarryoverResult{
				EmployeeID:     emp.ID,
				Category:       CategoryVacation,
				ForfeitedHours: forfeited,
				NewBalance:     limit,
			})
		}
	}
	return results, nil
}
