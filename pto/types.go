/*
Package pto implements a PTO accrual and balance-ledger engine.

PURPOSE:
  This package contains the domain model and services for paid-time-off
  tracking: accrual policies, per-employee running balances, an immutable
  transaction ledger, and the time-off request lifecycle.

KEY CONCEPTS IN THIS FILE (types.go):
  - Policy: Accrual ruleset (rate per period, caps, carryover limit)
  - Balance: Derived per-(employee, category) running total
  - LedgerEntry: An immutable record of a single balance change
  - Request: An employee time-off request moving through a state machine
  - CategoryCode: Short code for a leave type (VAC, SICK, PERS, OTHER)

DESIGN PRINCIPLES:
  1. Immutability: Ledger entries are never modified, only offset
  2. Precision: Uses decimal.Decimal to avoid floating-point errors
  3. Derivation: A balance must always equal the sum of its ledger entries
  4. Auditability: Every entry carries its balance-after snapshot and actor

SEE ALSO:
  - store.go: Persistence interfaces and the atomic BalanceChange primitive
  - accrual.go: Period accrual application
  - request.go: Request lifecycle state machine
  - ledger.go: Replay, verification, and reconciliation
*/
package pto

import (
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// LEAVE CATEGORIES
// =============================================================================

// CategoryCode identifies a leave category on balances and ledger entries.
type CategoryCode string

const (
	CategoryVacation CategoryCode = "VAC"
	CategorySick     CategoryCode = "SICK"
	CategoryPersonal CategoryCode = "PERS"
	CategoryOther    CategoryCode = "OTHER"
)

// AccrualType is the request-facing leave type name. It maps 1:1 onto a
// CategoryCode; requests use the long form, balances and ledger entries the
// short code.
type AccrualType string

const (
	AccrualVacation AccrualType = "vacation"
	AccrualSick     AccrualType = "sick"
	AccrualPersonal AccrualType = "personal"
	AccrualOther    AccrualType = "other"
)

// Category returns the category code for an accrual type.
// The second return is false for unrecognized types.
func (a AccrualType) Category() (CategoryCode, bool) {
	switch a {
	case AccrualVacation:
		return CategoryVacation, true
	case AccrualSick:
		return CategorySick, true
	case AccrualPersonal:
		return CategoryPersonal, true
	case AccrualOther:
		return CategoryOther, true
	default:
		return "", false
	}
}

// =============================================================================
// POLICY - Accrual ruleset owned by a company
// =============================================================================

// AccrualPeriod is the cadence at which a policy grants hours.
type AccrualPeriod string

const (
	PeriodWeekly   AccrualPeriod = "weekly"
	PeriodBiweekly AccrualPeriod = "biweekly"
	PeriodMonthly  AccrualPeriod = "monthly"
)

// ValidAccrualPeriod reports whether p is a recognized cadence.
func ValidAccrualPeriod(p AccrualPeriod) bool {
	switch p {
	case PeriodWeekly, PeriodBiweekly, PeriodMonthly:
		return true
	}
	return false
}

// Policy defines how employees of a company accrue leave.
//
// Policies are never deleted, only deactivated: ledger entries reference
// them by ID and history must stay explainable. Administrative edits do not
// retroactively alter history.
type Policy struct {
	ID        string
	CompanyID string
	Name      string

	AccrualPeriod AccrualPeriod

	VacationHoursPerPeriod decimal.Decimal
	SickHoursPerPeriod     decimal.Decimal

	// nil means uncapped.
	MaxVacationHours *decimal.Decimal
	MaxSickHours     *decimal.Decimal

	// Maximum vacation hours retained across a year boundary. nil = unlimited.
	CarryoverLimit *decimal.Decimal

	IsActive  bool
	CreatedAt time.Time
	UpdatedAt time.Time
}

// =============================================================================
// EMPLOYEE
// =============================================================================

// Employee is the entity balances and requests belong to.
type Employee struct {
	ID        string
	CompanyID string
	Name      string
	Email     string
	HireDate  time.Time
	IsActive  bool
	CreatedAt time.Time
}

// =============================================================================
// BALANCE - Derived running total per (employee, category)
// =============================================================================

// Balance is the current-balance cache row for one employee and category.
//
// It is derived state: CurrentBalance must always equal the running sum of
// all ledger entries for the same (employee, category) pair, and is mutated
// only through Store.ApplyBalanceChange, never directly.
type Balance struct {
	EmployeeID string
	CompanyID  string
	Category   CategoryCode

	// Non-negative decimal hours.
	CurrentBalance decimal.Decimal

	LastTransactionDate time.Time
	AccrualCount        int
	UsageCount          int

	// Version is the optimistic-concurrency counter. Every ApplyBalanceChange
	// increments it; writers must present the version they read.
	Version int64

	UpdatedAt time.Time
}

// =============================================================================
// LEDGER ENTRY - Immutable record of a single balance change
// =============================================================================

// EntryType classifies a ledger entry.
type EntryType string

const (
	EntryAccrual   EntryType = "accrual"    // Scheduled period accrual
	EntryDeduction EntryType = "deduction"  // Approved request consumption
	EntryAdjust    EntryType = "adjustment" // Manual admin correction
	EntryCarryover EntryType = "carryover"  // Year-boundary cap enforcement
)

// LedgerEntry records one balance-affecting event.
//
// Entries are append-only and never updated or deleted; corrections are made
// by appending offsetting entries. Hours is signed: positive for credits,
// negative for debits. BalanceAfter snapshots the running balance immediately
// after the entry was applied.
type LedgerEntry struct {
	ID         string
	EmployeeID string
	CompanyID  string

	// Empty for adjustments not tied to a policy.
	PolicyID string

	Type     EntryType
	Category CategoryCode
	Hours    decimal.Decimal

	EffectiveDate time.Time
	BalanceAfter  decimal.Decimal

	// Set on deduction entries produced by request approval.
	RelatedRequestID string

	Description string
	Notes       string
	ProcessedBy string
	CreatedAt   time.Time
}

// =============================================================================
// TIME-OFF REQUEST
// =============================================================================

// RequestStatus is a state in the request lifecycle.
// PENDING may transition to APPROVED, DENIED, or CANCELLED; all three are
// terminal.
type RequestStatus string

const (
	StatusPending   RequestStatus = "PENDING"
	StatusApproved  RequestStatus = "APPROVED"
	StatusDenied    RequestStatus = "DENIED"
	StatusCancelled RequestStatus = "CANCELLED"
)

// Terminal reports whether no further transitions are allowed from s.
func (s RequestStatus) Terminal() bool {
	return s == StatusApproved || s == StatusDenied || s == StatusCancelled
}

// Request is an employee time-off request.
type Request struct {
	ID         string
	EmployeeID string
	CompanyID  string

	AccrualType AccrualType

	StartsAt time.Time
	EndsAt   time.Time

	HoursRequested decimal.Decimal

	// Set only on approval; never exceeds HoursRequested.
	HoursApproved *decimal.Decimal

	Status RequestStatus

	Note         string
	DenialReason string

	ApprovedBy string
	ApprovedAt *time.Time
	DeniedBy   string
	DeniedAt   *time.Time

	CreatedBy string
	CreatedAt time.Time
}

// DateOnly truncates t to UTC midnight. Effective dates and request
// start/end comparisons are date-granular.
func DateOnly(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
