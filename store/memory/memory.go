// Package memory provides an in-memory Store implementation (for testing/dev).
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/fieldserve/pto-engine/pto"
)

// =============================================================================
// MEMORY STORE
// =============================================================================

type balKey struct {
	EmployeeID string
	Category   pto.CategoryCode
}

type lease struct {
	owner   string
	expires time.Time
}

// Store is an in-memory pto.TxStore and pto.RunLockStore.
type Store struct {
	mu sync.RWMutex

	policies  map[string]pto.Policy
	employees map[string]pto.Employee
	balances  map[balKey]pto.Balance
	ledger    []pto.LedgerEntry
	requests  map[string]pto.Request
	locks     map[string]lease

	now func() time.Time
}

// New creates an empty in-memory store.
func New() *Store {
	return &Store{
		policies:  make(map[string]pto.Policy),
		employees: make(map[string]pto.Employee),
		balances:  make(map[balKey]pto.Balance),
		requests:  make(map[string]pto.Request),
		locks:     make(map[string]lease),
		now:       time.Now,
	}
}

// =============================================================================
// POLICIES
// =============================================================================

func (m *Store) SavePolicy(_ context.Context, p pto.Policy) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.policies[p.ID] = p
	return nil
}

func (m *Store) GetPolicy(_ context.Context, id string) (*pto.Policy, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if p, ok := m.policies[id]; ok {
		return &p, nil
	}
	return nil, nil
}

func (m *Store) ListPolicies(_ context.Context, companyID string) ([]pto.Policy, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.listPoliciesLocked(companyID, false), nil
}

func (m *Store) ListActivePolicies(_ context.Context, companyID string) ([]pto.Policy, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.listPoliciesLocked(companyID, true), nil
}

func (m *Store) listPoliciesLocked(companyID string, activeOnly bool) []pto.Policy {
	var result []pto.Policy
	for _, p := range m.policies {
		if companyID != "" && p.CompanyID != companyID {
			continue
		}
		if activeOnly && !p.IsActive {
			continue
		}
		result = append(result, p)
	}
	sort.Slice(result, func(i, j int) bool {
		if !result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].CreatedAt.After(result[j].CreatedAt)
		}
		return result[i].ID < result[j].ID
	})
	return result
}

func (m *Store) ActivePolicyForCompany(_ context.Context, companyID string) (*pto.Policy, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	active := m.listPoliciesLocked(companyID, true)
	if len(active) == 0 {
		return nil, nil
	}
	p := active[0]
	return &p, nil
}

// =============================================================================
// EMPLOYEES
// =============================================================================

func (m *Store) SaveEmployee(_ context.Context, e pto.Employee) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.employees[e.ID] = e
	return nil
}

func (m *Store) GetEmployee(_ context.Context, id string) (*pto.Employee, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if e, ok := m.employees[id]; ok {
		return &e, nil
	}
	return nil, nil
}

func (m *Store) ListActiveEmployees(_ context.Context, companyID string) ([]pto.Employee, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var result []pto.Employee
	for _, e := range m.employees {
		if e.IsActive && e.CompanyID == companyID {
			result = append(result, e)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result, nil
}

// =============================================================================
// BALANCES + LEDGER - written only through ApplyBalanceChange
// =============================================================================

func (m *Store) GetBalance(_ context.Context, employeeID string, category pto.CategoryCode) (*pto.Balance, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if b, ok := m.balances[balKey{employeeID, category}]; ok {
		return &b, nil
	}
	return nil, nil
}

func (m *Store) ListBalances(_ context.Context, employeeID string) ([]pto.Balance, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var result []pto.Balance
	for _, b := range m.balances {
		if b.EmployeeID == employeeID {
			result = append(result, b)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Category < result[j].Category })
	return result, nil
}

func (m *Store) ListCompanyBalances(_ context.Context, companyID string) ([]pto.Balance, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var result []pto.Balance
	for _, b := range m.balances {
		if b.CompanyID == companyID {
			result = append(result, b)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].EmployeeID != result[j].EmployeeID {
			return result[i].EmployeeID < result[j].EmployeeID
		}
		return result[i].Category < result[j].Category
	})
	return result, nil
}

func (m *Store) Entries(_ context.Context, employeeID string, category pto.CategoryCode) ([]pto.LedgerEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var result []pto.LedgerEntry
	for _, e := range m.ledger {
		if e.EmployeeID == employeeID && e.Category == category {
			result = append(result, e)
		}
	}
	return result, nil
}

func (m *Store) EmployeeHistory(_ context.Context, employeeID string) ([]pto.LedgerEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var result []pto.LedgerEntry
	for _, e := range m.ledger {
		if e.EmployeeID == employeeID {
			result = append(result, e)
		}
	}
	return result, nil
}

func (m *Store) CompanyEntries(_ context.Context, companyID string) ([]pto.LedgerEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var result []pto.LedgerEntry
	for _, e := range m.ledger {
		if e.CompanyID == companyID {
			result = append(result, e)
		}
	}
	return result, nil
}

func (m *Store) ApplyBalanceChange(_ context.Context, change pto.BalanceChange) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.applyLocked(change)
}

func (m *Store) applyLocked(change pto.BalanceChange) error {
	if err := change.Validate(); err != nil {
		return err
	}

	k := balKey{change.EmployeeID, change.Category}
	existing, exists := m.balances[k]

	// Compare-and-swap on the version counter. ExpectedVersion 0 means the
	// row must not exist yet.
	if change.ExpectedVersion == 0 {
		if exists {
			return pto.ErrConcurrentModification
		}
	} else if !exists || existing.Version != change.ExpectedVersion {
		return pto.ErrConcurrentModification
	}

	now := m.now().UTC()
	b := pto.Balance{
		EmployeeID:          change.EmployeeID,
		CompanyID:           change.CompanyID,
		Category:            change.Category,
		CurrentBalance:      change.NewBalance,
		LastTransactionDate: change.TransactionAt,
		AccrualCount:        existing.AccrualCount,
		UsageCount:          existing.UsageCount,
		Version:             existing.Version + 1,
		UpdatedAt:           now,
	}
	if change.CountAccrual {
		b.AccrualCount++
	}
	if change.CountUsage {
		b.UsageCount++
	}
	m.balances[k] = b

	entry := change.Entry
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = now
	}
	m.ledger = append(m.ledger, entry)
	return nil
}

// =============================================================================
// REQUESTS
// =============================================================================

func (m *Store) SaveRequest(_ context.Context, r pto.Request) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requests[r.ID] = r
	return nil
}

func (m *Store) GetRequest(_ context.Context, id string) (*pto.Request, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if r, ok := m.requests[id]; ok {
		return &r, nil
	}
	return nil, nil
}

func (m *Store) ListRequests(_ context.Context, f pto.RequestFilter) ([]pto.Request, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var result []pto.Request
	for _, r := range m.requests {
		if f.CompanyID != "" && r.CompanyID != f.CompanyID {
			continue
		}
		if f.EmployeeID != "" && r.EmployeeID != f.EmployeeID {
			continue
		}
		if f.Status != "" && r.Status != f.Status {
			continue
		}
		result = append(result, r)
	}
	sort.Slice(result, func(i, j int) bool {
		if !result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].CreatedAt.After(result[j].CreatedAt)
		}
		return result[i].ID < result[j].ID
	})
	return result, nil
}

func (m *Store) TransitionRequest(_ context.Context, updated pto.Request, expect pto.RequestStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.transitionLocked(updated, expect)
}

func (m *Store) transitionLocked(updated pto.Request, expect pto.RequestStatus) error {
	existing, ok := m.requests[updated.ID]
	if !ok {
		return pto.ErrRequestNotFound
	}
	if existing.Status != expect {
		return pto.ErrConcurrentModification
	}
	m.requests[updated.ID] = updated
	return nil
}

// =============================================================================
// RUN LOCKS
// =============================================================================

func (m *Store) AcquireRunLock(_ context.Context, scope, owner string, ttl time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	if l, ok := m.locks[scope]; ok && l.owner != owner && now.Before(l.expires) {
		return false, nil
	}
	m.locks[scope] = lease{owner: owner, expires: now.Add(ttl)}
	return true, nil
}

func (m *Store) ReleaseRunLock(_ context.Context, scope, owner string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if l, ok := m.locks[scope]; ok && l.owner == owner {
		delete(m.locks, scope)
	}
	return nil
}

// =============================================================================
// TRANSACTIONS - snapshot + rollback on error
// =============================================================================

// WithTx executes fn within a transaction. For the memory store this is
// simulated with a snapshot that is restored when fn fails.
func (m *Store) WithTx(_ context.Context, fn func(pto.Store) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	snap := m.snapshotLocked()
	view := &txView{parent: m}

	if err := fn(view); err != nil {
		m.restoreLocked(snap)
		return err
	}
	return nil
}

type snapshot struct {
	policies  map[string]pto.Policy
	employees map[string]pto.Employee
	balances  map[balKey]pto.Balance
	ledger    []pto.LedgerEntry
	requests  map[string]pto.Request
}

func (m *Store) snapshotLocked() snapshot {
	s := snapshot{
		policies:  make(map[string]pto.Policy, len(m.policies)),
		employees: make(map[string]pto.Employee, len(m.employees)),
		balances:  make(map[balKey]pto.Balance, len(m.balances)),
		ledger:    append([]pto.LedgerEntry{}, m.ledger...),
		requests:  make(map[string]pto.Request, len(m.requests)),
	}
	for k, v := range m.policies {
		s.policies[k] = v
	}
	for k, v := range m.employees {
		s.employees[k] = v
	}
	for k, v := range m.balances {
		s.balances[k] = v
	}
	for k, v := range m.requests {
		s.requests[k] = v
	}
	return s
}

func (m *Store) restoreLocked(s snapshot) {
	m.policies = s.policies
	m.employees = s.employees
	m.balances = s.balances
	m.ledger = s.ledger
	m.requests = s.requests
}

// txView routes store calls to the parent without re-locking; the parent's
// mutex is held for the whole transaction.
type txView struct {
	parent *Store
}

func (tv *txView) SavePolicy(_ context.Context, p pto.Policy) error {
	tv.parent.policies[p.ID] = p
	return nil
}

func (tv *txView) GetPolicy(_ context.Context, id string) (*pto.Policy, error) {
	if p, ok := tv.parent.policies[id]; ok {
		return &p, nil
	}
	return nil, nil
}

func (tv *txView) ListPolicies(_ context.Context, companyID string) ([]pto.Policy, error) {
	return tv.parent.listPoliciesLocked(companyID, false), nil
}

func (tv *txView) ListActivePolicies(_ context.Context, companyID string) ([]pto.Policy, error) {
	return tv.parent.listPoliciesLocked(companyID, true), nil
}

func (tv *txView) ActivePolicyForCompany(_ context.Context, companyID string) (*pto.Policy, error) {
	active := tv.parent.listPoliciesLocked(companyID, true)
	if len(active) == 0 {
		return nil, nil
	}
	p := active[0]
	return &p, nil
}

func (tv *txView) SaveEmployee(_ context.Context, e pto.Employee) error {
	tv.parent.employees[e.ID] = e
	return nil
}

func (tv *txView) GetEmployee(_ context.Context, id string) (*pto.Employee, error) {
	if e, ok := tv.parent.employees[id]; ok {
		return &e, nil
	}
	return nil, nil
}

func (tv *txView) ListActiveEmployees(_ context.Context, companyID string) ([]pto.Employee, error) {
	var result []pto.Employee
	for _, e := range tv.parent.employees {
		if e.IsActive && e.CompanyID == companyID {
			result = append(result, e)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result, nil
}

func (tv *txView) GetBalance(_ context.Context, employeeID string, category pto.CategoryCode) (*pto.Balance, error) {
	if b, ok := tv.parent.balances[balKey{employeeID, category}]; ok {
		return &b, nil
	}
	return nil, nil
}

func (tv *txView) ListBalances(ctx context.Context, employeeID string) ([]pto.Balance, error) {
	var result []pto.Balance
	for _, b := range tv.parent.balances {
		if b.EmployeeID == employeeID {
			result = append(result, b)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Category < result[j].Category })
	return result, nil
}

func (tv *txView) ListCompanyBalances(ctx context.Context, companyID string) ([]pto.Balance, error) {
	var result []pto.Balance
	for _, b := range tv.parent.balances {
		if b.CompanyID == companyID {
			result = append(result, b)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].EmployeeID != result[j].EmployeeID {
			return result[i].EmployeeID < result[j].EmployeeID
		}
		return result[i].Category < result[j].Category
	})
	return result, nil
}

func (tv *txView) Entries(_ context.Context, employeeID string, category pto.CategoryCode) ([]pto.LedgerEntry, error) {
	var result []pto.LedgerEntry
	for _, e := range tv.parent.ledger {
		if e.EmployeeID == employeeID && e.Category == category {
			result = append(result, e)
		}
	}
	return result, nil
}

func (tv *txView) EmployeeHistory(_ context.Context, employeeID string) ([]pto.LedgerEntry, error) {
	var result []pto.LedgerEntry
	for _, e := range tv.parent.ledger {
		if e.EmployeeID == employeeID {
			result = append(result, e)
		}
	}
	return result, nil
}

func (tv *txView) CompanyEntries(_ context.Context, companyID string) ([]pto.LedgerEntry, error) {
	var result []pto.LedgerEntry
	for _, e := range tv.parent.ledger {
		if e.CompanyID == companyID {
			result = append(result, e)
		}
	}
	return result, nil
}

func (tv *txView) ApplyBalanceChange(_ context.Context, change pto.BalanceChange) error {
	return tv.parent.applyLocked(change)
}

func (tv *txView) SaveRequest(_ context.Context, r pto.Request) error {
	tv.parent.requests[r.ID] = r
	return nil
}

func (tv *txView) GetRequest(_ context.Context, id string) (*pto.Request, error) {
	if r, ok := tv.parent.requests[id]; ok {
		return &r, nil
	}
	return nil, nil
}

func (tv *txView) ListRequests(ctx context.Context, f pto.RequestFilter) ([]pto.Request, error) {
	var result []pto.Request
	for _, r := range tv.parent.requests {
		if f.CompanyID != "" && r.CompanyID != f.CompanyID {
			continue
		}
		if f.EmployeeID != "" && r.EmployeeID != f.EmployeeID {
			continue
		}
		if f.Status != "" && r.Status != f.Status {
			continue
		}
		result = append(result, r)
	}
	sort.Slice(result, func(i, j int) bool {
		if !result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].CreatedAt.After(result[j].CreatedAt)
		}
		return result[i].ID < result[j].ID
	})
	return result, nil
}

func (tv *txView) TransitionRequest(_ context.Context, updated pto.Request, expect pto.RequestStatus) error {
	return tv.parent.transitionLocked(updated, expect)
}
