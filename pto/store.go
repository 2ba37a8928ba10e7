/*
store.go - Persistence interfaces for the PTO engine

PURPOSE:
  Defines the interface between domain logic and the database. Different
  implementations can use SQLite or in-memory storage.

THE ONE WRITE PATH:
  The current-balance cache and the ledger must never diverge. The store
  therefore exposes exactly ONE balance mutation primitive:

      ApplyBalanceChange(ctx, change)

  A BalanceChange carries the new balance value, the version the writer
  read (compare-and-swap), and exactly one paired LedgerEntry. The store
  applies both in a single transaction or rejects both. There is no way to
  update a balance without appending an entry, or vice versa - the pairing
  invariant holds by construction.

CONCURRENCY:
  Every balance row carries a Version counter. ApplyBalanceChange is
  conditional on Version matching change.ExpectedVersion (0 = the row must
  not exist yet). A mismatch returns ErrConcurrentModification; racing
  writers can never both apply deltas computed from the same read.

  Request transitions are equally conditional: TransitionRequest only
  succeeds when the stored status still matches the expected one, so two
  administrators racing to approve the same request cannot both win.

RUN LOCKS:
  Batch accrual takes a durable lease (AcquireRunLock) so two engine
  instances cannot run the same scope concurrently. Leases expire, making
  locks reclaimable after a crash.

IMPLEMENTATIONS:
  - store/sqlite:  Production SQLite (WAL mode)
  - store/memory:  In-memory for tests

SEE ALSO:
  - accrual.go: Engine using ApplyBalanceChange and run locks
  - request.go: Lifecycle using WithTx + TransitionRequest
*/
package pto

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// BALANCE CHANGE - The atomic balance + ledger write
// =============================================================================

// BalanceChange describes one atomic mutation of a balance row paired with
// exactly one new ledger entry.
type BalanceChange struct {
	EmployeeID string
	CompanyID  string
	Category   CategoryCode

	// Version the writer read. 0 means the row must not exist yet and will
	// be inserted.
	ExpectedVersion int64

	// The balance value after the change. Must be non-negative and must
	// equal Entry.BalanceAfter.
	NewBalance decimal.Decimal

	// Counter bumps for reporting.
	CountAccrual bool
	CountUsage   bool

	TransactionAt time.Time

	// The paired ledger entry. Exactly one per change.
	Entry LedgerEntry
}

// Validate checks the internal consistency of a change. Store
// implementations call this before writing.
func (c BalanceChange) Validate() error {
	if c.NewBalance.IsNegative() {
		return ErrNegativeBalance
	}
	if !c.Entry.BalanceAfter.Equal(c.NewBalance) {
		return fmt.Errorf("balance change for %s/%s: entry balance_after %s does not match new balance %s",
			c.EmployeeID, c.Category, c.Entry.BalanceAfter, c.NewBalance)
	}
	if c.Entry.EmployeeID != c.EmployeeID || c.Entry.Category != c.Category {
		return fmt.Errorf("balance change for %s/%s: entry addressed to %s/%s",
			c.EmployeeID, c.Category, c.Entry.EmployeeID, c.Entry.Category)
	}
	return nil
}

// =============================================================================
// STORE INTERFACES
// =============================================================================

// PolicyStore persists accrual policies.
type PolicyStore interface {
	// SavePolicy inserts or updates a policy.
	SavePolicy(ctx context.Context, p Policy) error

	// GetPolicy returns a policy by ID, or nil if it doesn't exist.
	GetPolicy(ctx context.Context, id string) (*Policy, error)

	// ListPolicies returns policies, newest first. Empty companyID = all.
	ListPolicies(ctx context.Context, companyID string) ([]Policy, error)

	// ListActivePolicies returns active policies. Empty companyID = all.
	ListActivePolicies(ctx context.Context, companyID string) ([]Policy, error)

	// ActivePolicyForCompany resolves the single active policy for a
	// company, or nil when none exists.
	ActivePolicyForCompany(ctx context.Context, companyID string) (*Policy, error)
}

// EmployeeStore persists employee records.
type EmployeeStore interface {
	SaveEmployee(ctx context.Context, e Employee) error

	// GetEmployee returns an employee by ID, or nil if it doesn't exist.
	GetEmployee(ctx context.Context, id string) (*Employee, error)

	// ListActiveEmployees returns active employees for a company.
	ListActiveEmployees(ctx context.Context, companyID string) ([]Employee, error)
}

// BalanceStore reads the current-balance cache. Writes go through
// ApplyBalanceChange only.
type BalanceStore interface {
	// GetBalance returns the balance row, or nil when none exists yet
	// (a missing row reads as zero balance).
	GetBalance(ctx context.Context, employeeID string, category CategoryCode) (*Balance, error)

	// ListBalances returns all balance rows for an employee.
	ListBalances(ctx context.Context, employeeID string) ([]Balance, error)

	// ListCompanyBalances returns all balance rows for a company.
	ListCompanyBalances(ctx context.Context, companyID string) ([]Balance, error)
}

// LedgerStore reads the append-only ledger. Entries are written only as the
// paired half of an ApplyBalanceChange.
type LedgerStore interface {
	// Entries returns all entries for (employee, category) in creation order.
	Entries(ctx context.Context, employeeID string, category CategoryCode) ([]LedgerEntry, error)

	// EmployeeHistory returns all entries for an employee across categories,
	// in creation order.
	EmployeeHistory(ctx context.Context, employeeID string) ([]LedgerEntry, error)

	// CompanyEntries returns all entries for a company in creation order.
	CompanyEntries(ctx context.Context, companyID string) ([]LedgerEntry, error)
}

// RequestStore persists time-off requests.
type RequestStore interface {
	// SaveRequest inserts a new request.
	SaveRequest(ctx context.Context, r Request) error

	// GetRequest returns a request by ID, or nil if it doesn't exist.
	GetRequest(ctx context.Context, id string) (*Request, error)

	// ListRequests returns requests matching the filter, newest first.
	ListRequests(ctx context.Context, f RequestFilter) ([]Request, error)

	// TransitionRequest replaces the stored request with updated, but only
	// if the stored status still equals expect. Returns
	// ErrConcurrentModification when the condition fails and
	// ErrRequestNotFound when the row is missing.
	TransitionRequest(ctx context.Context, updated Request, expect RequestStatus) error
}

// RequestFilter narrows ListRequests. Zero values match everything.
type RequestFilter struct {
	CompanyID  string
	EmployeeID string
	Status     RequestStatus
}

// Store bundles all persistence concerns plus the atomic balance write.
type Store interface {
	PolicyStore
	EmployeeStore
	BalanceStore
	LedgerStore
	RequestStore

	// ApplyBalanceChange atomically updates (or inserts) the balance row and
	// appends the paired ledger entry. Conditional on ExpectedVersion; see
	// BalanceChange.
	ApplyBalanceChange(ctx context.Context, change BalanceChange) error
}

// TxStore wraps Store with transaction support. Use WithTx when multiple
// writes must commit or roll back together (e.g. request approval =
// status transition + balance deduction).
type TxStore interface {
	Store

	// WithTx executes fn within a transaction. If fn returns an error the
	// transaction is rolled back, otherwise committed.
	WithTx(ctx context.Context, fn func(Store) error) error
}

// RunLockStore provides durable mutual exclusion for batch runs across
// engine instances. Locks are leases: they expire after ttl and can then be
// reclaimed by another owner.
type RunLockStore interface {
	// AcquireRunLock takes the lease for scope. Returns false when another
	// owner holds an unexpired lease.
	AcquireRunLock(ctx context.Context, scope, owner string, ttl time.Duration) (bool, error)

	// ReleaseRunLock releases the lease if owner still holds it.
	ReleaseRunLock(ctx context.Context, scope, owner string) error
}
